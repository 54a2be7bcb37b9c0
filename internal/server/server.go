package server

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/apparentlymart/registry-browser/internal/auth"
	"github.com/apparentlymart/registry-browser/internal/config"
	"github.com/apparentlymart/registry-browser/internal/enrich"
	"github.com/apparentlymart/registry-browser/internal/logging"
	"github.com/apparentlymart/registry-browser/internal/ocidist"
	"github.com/apparentlymart/registry-browser/internal/summarycache"
)

const shutdownTimeout = 10 * time.Second

// Run serves the application described by the given configuration until
// ctx is cancelled, at which point it waits briefly for active requests
// to complete before returning.
func Run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	client := RegistryClient(cfg.Registry)
	if err := client.CheckAPISupport(ctx); err != nil {
		// The registry might just not be running yet, so we'll start anyway
		// and let individual requests fail until it is.
		logger.Warn("registry does not seem to support the distribution API", "url", cfg.Registry.URL, "err", err)
	}

	enricher := enrich.New(client, summarycache.New[enrich.RepositorySummary](), cfg.Registry.MaxConcurrentRequests)
	authn := auth.New(cfg.Auth.Username, cfg.Auth.PasswordHash, cfg.Auth.TokenSecret, cfg.Auth.TokenTTL)

	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: NewHandler(enricher, authn, cfg.Server.StaticDir),
		BaseContext: func(l net.Listener) context.Context {
			return logging.ContextWithLogger(ctx, logger)
		},
		ConnContext: func(ctx context.Context, c net.Conn) context.Context {
			connLogger := logging.ContextLogger(ctx).With("remote", c.RemoteAddr().String())
			return logging.ContextWithLogger(ctx, connLogger)
		},
	}

	errCh := make(chan error, 1)
	if cfg.Server.TLS != nil {
		httpServer.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cfg.Server.TLS.Certificate},
		}
		logger.Info("HTTPS server listening", "addr", cfg.Server.ListenAddr)
		go func() {
			errCh <- httpServer.ListenAndServeTLS("", "")
		}()
	} else {
		logger.Info("HTTP server listening", "addr", cfg.Server.ListenAddr)
		go func() {
			errCh <- httpServer.ListenAndServe()
		}()
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// RegistryClient returns a client for the registry described in the given
// configuration.
func RegistryClient(cfg *config.Registry) *ocidist.Client {
	client := ocidist.NewClient(cfg.URL)
	if cfg.Authorization != "" {
		client.SetAuthorization(cfg.Authorization)
	}
	if cfg.RequestTimeout > 0 {
		client.SetTimeout(cfg.RequestTimeout)
	}
	return client
}
