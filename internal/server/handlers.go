package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/apparentlymart/registry-browser/internal/auth"
	"github.com/apparentlymart/registry-browser/internal/enrich"
	"github.com/apparentlymart/registry-browser/internal/logging"
	"github.com/apparentlymart/registry-browser/internal/ocidist"
)

// Browser is the registry functionality that the API exposes.
type Browser interface {
	ListRepositories(ctx context.Context) ([]enrich.RepositorySummary, error)
	ListTagDetails(ctx context.Context, repo string) ([]enrich.TagDetail, error)
	DeleteTag(ctx context.Context, repo, tag string) (digest.Digest, error)
}

var _ Browser = (*enrich.Enricher)(nil)

const tokenCookieName = "token"

type handler struct {
	browser   Browser
	auth      *auth.Authenticator
	staticDir string
}

// NewHandler returns the HTTP handler for the whole application: the API
// under /api/v1 and the static user interface everywhere else.
func NewHandler(browser Browser, authn *auth.Authenticator, staticDir string) http.Handler {
	h := &handler{
		browser:   browser,
		auth:      authn,
		staticDir: staticDir,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", h.health)
	mux.HandleFunc("POST /api/v1/auth/login", h.login)
	mux.HandleFunc("GET /api/v1/auth/logout", h.logout)
	mux.Handle("GET /api/v1/registry", h.requireAuth(h.listRepositories))
	mux.Handle("GET /api/v1/registry/tags", h.requireAuth(h.listTags))
	mux.Handle("DELETE /api/v1/registry/tags", h.requireAuth(h.deleteTag))
	mux.HandleFunc("/api/v1/", func(resp http.ResponseWriter, req *http.Request) {
		writeError(resp, http.StatusNotFound, "Not found")
	})
	mux.Handle("/", h.static())

	return http.HandlerFunc(func(resp http.ResponseWriter, req *http.Request) {
		_, done := logging.ContextLoggerRequest(req.Context(), "%s %s", req.Method, req.URL.Path)
		defer done()
		mux.ServeHTTP(resp, req)
	})
}

func (h *handler) health(resp http.ResponseWriter, req *http.Request) {
	writeSuccess(resp, "Up and running", nil)
}

func (h *handler) login(resp http.ResponseWriter, req *http.Request) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	dec := json.NewDecoder(http.MaxBytesReader(resp, req.Body, 1<<16))
	if err := dec.Decode(&creds); err != nil {
		writeError(resp, http.StatusBadRequest, fmt.Sprintf("Invalid login request: %s", err))
		return
	}

	log := logging.ContextLogger(req.Context())
	token, err := h.auth.Login(creds.Username, creds.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		log.Warn("failed login attempt", "username", creds.Username)
		writeError(resp, http.StatusForbidden, "Invalid name or password")
		return
	}
	if err != nil {
		log.Error("failed to issue token", "err", err)
		writeError(resp, http.StatusInternalServerError, err.Error())
		return
	}

	http.SetCookie(resp, &http.Cookie{
		Name:     tokenCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeSuccess(resp, "Ok", map[string]string{"token": token})
}

func (h *handler) logout(resp http.ResponseWriter, req *http.Request) {
	http.SetCookie(resp, &http.Cookie{
		Name:     tokenCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(resp, req, "/", http.StatusSeeOther)
}

// requireAuth wraps a handler so that it only runs for requests carrying a
// valid token, either as a bearer token or in the token cookie.
func (h *handler) requireAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(resp http.ResponseWriter, req *http.Request) {
		token := ""
		if raw := req.Header.Get("Authorization"); raw != "" {
			scheme, value, ok := strings.Cut(raw, " ")
			if ok && strings.EqualFold(scheme, "Bearer") {
				token = strings.TrimSpace(value)
			}
		} else if cookie, err := req.Cookie(tokenCookieName); err == nil {
			token = cookie.Value
		}
		if token == "" {
			writeError(resp, http.StatusUnauthorized, "Authentication required")
			return
		}
		subject, err := h.auth.Validate(token)
		if err != nil {
			logging.ContextLogger(req.Context()).Debug("rejected token", "err", err)
			writeError(resp, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
		next(resp, req.WithContext(contextWithSubject(req.Context(), subject)))
	})
}

func (h *handler) listRepositories(resp http.ResponseWriter, req *http.Request) {
	page, limit, paged, err := pageParams(req)
	if err != nil {
		writeError(resp, http.StatusBadRequest, err.Error())
		return
	}

	repos, err := h.browser.ListRepositories(req.Context())
	if err != nil {
		h.upstreamError(resp, req, err)
		return
	}
	if !paged {
		writeSuccess(resp, "Repositories retrieved", repos)
		return
	}

	items, pageInfo := paginate(repos, page, limit, req.URL.Path)
	writeJSON(resp, envelope{
		Status:     http.StatusOK,
		Message:    "Repositories retrieved",
		Data:       items,
		Pagination: pageInfo,
	})
}

func (h *handler) listTags(resp http.ResponseWriter, req *http.Request) {
	repo := req.URL.Query().Get("repository")
	if err := ocidist.ValidateRepositoryName(repo); err != nil {
		writeError(resp, http.StatusBadRequest, fmt.Sprintf("Invalid repository name: %s", err))
		return
	}

	tags, err := h.browser.ListTagDetails(req.Context(), repo)
	if err != nil {
		h.upstreamError(resp, req, err)
		return
	}
	writeSuccess(resp, fmt.Sprintf("Tags of %s retrieved", repo), tags)
}

func (h *handler) deleteTag(resp http.ResponseWriter, req *http.Request) {
	query := req.URL.Query()
	repo, tag := query.Get("repository"), query.Get("tag")
	if err := ocidist.ValidateRepositoryName(repo); err != nil {
		writeError(resp, http.StatusBadRequest, fmt.Sprintf("Invalid repository name: %s", err))
		return
	}
	if err := ocidist.ValidateTag(tag); err != nil {
		writeError(resp, http.StatusBadRequest, fmt.Sprintf("Invalid tag: %s", err))
		return
	}

	logging.ContextLogger(req.Context()).Info("deleting tag", "repository", repo, "tag", tag, "user", contextSubject(req.Context()))
	dgst, err := h.browser.DeleteTag(req.Context(), repo, tag)
	if err != nil {
		h.upstreamError(resp, req, err)
		return
	}
	writeSuccess(resp, "Tag deleted", map[string]string{"digest": dgst.String()})
}

func (h *handler) upstreamError(resp http.ResponseWriter, req *http.Request, err error) {
	status := ocidist.HTTPStatus(err)
	logging.ContextLogger(req.Context()).Error("registry request failed", "status", status, "err", err)
	writeError(resp, status, err.Error())
}

// static serves the user interface from the static directory. Paths that
// don't name an existing file get index.html, so that the interface can
// handle its own client-side routes.
func (h *handler) static() http.Handler {
	fileServer := http.FileServer(http.Dir(h.staticDir))
	return http.HandlerFunc(func(resp http.ResponseWriter, req *http.Request) {
		name := filepath.Join(h.staticDir, filepath.FromSlash(path.Clean("/"+req.URL.Path)))
		if _, err := os.Stat(name); errors.Is(err, fs.ErrNotExist) {
			http.ServeFile(resp, req, filepath.Join(h.staticDir, "index.html"))
			return
		}
		fileServer.ServeHTTP(resp, req)
	})
}
