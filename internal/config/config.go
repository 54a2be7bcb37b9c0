package config

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	hcl "github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"golang.org/x/crypto/bcrypt"

	"github.com/apparentlymart/registry-browser/internal/ocidist"
)

const (
	DefaultListenAddr     = ":3000"
	DefaultStaticDir      = "static"
	DefaultRequestTimeout = 30 * time.Second
)

type Config struct {
	Registry *Registry
	Server   *Server
	Auth     *Auth

	Filename string
}

type Registry struct {
	URL           *url.URL
	Authorization string

	// MaxConcurrentRequests is zero if not set, selecting the enrichment
	// default.
	MaxConcurrentRequests int
	RequestTimeout        time.Duration

	DeclRange hcl.Range
}

type Server struct {
	ListenAddr string
	StaticDir  string
	TLS        *TLSConfig

	DeclRange hcl.Range
}

type TLSConfig struct {
	Certificate tls.Certificate
}

type Auth struct {
	Username     string
	PasswordHash string
	TokenSecret  []byte
	TokenTTL     time.Duration

	DeclRange hcl.Range
}

func LoadConfigFile(filename string) (*Config, hcl.Diagnostics) {
	src, err := os.ReadFile(filename)
	if err != nil {
		return nil, hcl.Diagnostics{
			{
				Severity: hcl.DiagError,
				Summary:  "Cannot read configuration file",
				Detail:   fmt.Sprintf("Failed to read %s: %s.", filename, err),
			},
		}
	}
	return LoadConfig(src, filename)
}

// LoadConfig parses the given configuration source, making the current
// process environment available to expressions as the object "env".
func LoadConfig(src []byte, filename string) (*Config, hcl.Diagnostics) {
	return LoadConfigEnv(src, filename, os.Environ())
}

// LoadConfigEnv is like [LoadConfig] but takes the environment to expose
// as a list of "KEY=value" strings, in the format of [os.Environ].
func LoadConfigEnv(src []byte, filename string, environ []string) (*Config, hcl.Diagnostics) {
	f, diags := hclsyntax.ParseConfig(src, filename, hcl.InitialPos)
	if diags.HasErrors() {
		return nil, diags
	}

	content, moreDiags := f.Body.Content(rootSchema)
	diags = append(diags, moreDiags...)
	if moreDiags.HasErrors() {
		return nil, diags
	}

	evalCtx := evalContext(environ)
	ret := &Config{
		Filename: filename,
	}

	for _, block := range content.Blocks {
		if prev := ret.blockRange(block.Type); prev != nil {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  fmt.Sprintf("Duplicate %s configuration", block.Type),
				Detail:   fmt.Sprintf("The %s block was already declared at %s.", block.Type, *prev),
				Subject:  block.DefRange.Ptr(),
			})
			continue
		}

		switch block.Type {
		case "registry":
			registryConfig, moreDiags := decodeRegistryConfig(block, evalCtx)
			diags = append(diags, moreDiags...)
			ret.Registry = registryConfig

		case "server":
			serverConfig, moreDiags := decodeServerConfig(block, evalCtx)
			diags = append(diags, moreDiags...)
			ret.Server = serverConfig

		case "auth":
			authConfig, moreDiags := decodeAuthConfig(block, evalCtx)
			diags = append(diags, moreDiags...)
			ret.Auth = authConfig

		default:
			// Should not get here because only the cases above are in our schema.
			panic(fmt.Sprintf("unexpected block type %q", block.Type))
		}
	}

	for _, required := range []string{"registry", "auth"} {
		if ret.blockRange(required) == nil {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  fmt.Sprintf("Missing %s configuration", required),
				Detail:   fmt.Sprintf("The configuration must include a %s block.", required),
				Subject:  f.Body.MissingItemRange().Ptr(),
			})
		}
	}
	if ret.Server == nil {
		ret.Server = &Server{
			ListenAddr: DefaultListenAddr,
			StaticDir:  DefaultStaticDir,
		}
	}

	return ret, diags
}

func (c *Config) blockRange(blockType string) *hcl.Range {
	switch {
	case blockType == "registry" && c.Registry != nil:
		return &c.Registry.DeclRange
	case blockType == "server" && c.Server != nil:
		return &c.Server.DeclRange
	case blockType == "auth" && c.Auth != nil:
		return &c.Auth.DeclRange
	default:
		return nil
	}
}

func evalContext(environ []string) *hcl.EvalContext {
	vars := make(map[string]cty.Value, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		vars[k] = cty.StringVal(v)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": cty.ObjectVal(vars),
		},
	}
}

func decodeRegistryConfig(block *hcl.Block, evalCtx *hcl.EvalContext) (*Registry, hcl.Diagnostics) {
	ret := &Registry{
		RequestTimeout: DefaultRequestTimeout,
		DeclRange:      block.DefRange,
	}

	type Config struct {
		URL                   gohcl.WithRange[string]  `hcl:"url"`
		Authorization         gohcl.WithRange[string]  `hcl:"authorization"`
		MaxConcurrentRequests gohcl.WithRange[*int]    `hcl:"max_concurrent_requests"`
		RequestTimeout        gohcl.WithRange[*string] `hcl:"request_timeout"`
	}
	var config Config
	diags := gohcl.DecodeBody(block.Body, evalCtx, &config)
	if diags.HasErrors() {
		return ret, diags
	}

	var err error
	ret.URL, err = url.Parse(config.URL.Value)
	if err != nil {
		diags = diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid registry URL",
			Detail:   fmt.Sprintf("Invalid URL syntax: %s.", err),
			Subject:  config.URL.Range.Ptr(),
		})
	} else if err := ocidist.AssertValidRegistryURL(ret.URL); err != nil {
		diags = diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid registry URL",
			Detail:   fmt.Sprintf("The registry URL %s.", err),
			Subject:  config.URL.Range.Ptr(),
		})
	}

	ret.Authorization = config.Authorization.Value
	if strings.TrimSpace(ret.Authorization) == "" {
		diags = diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid registry authorization",
			Detail:   "The authorization value must be the complete Authorization header value to send, such as \"Basic\" followed by base64-encoded credentials.",
			Subject:  config.Authorization.Range.Ptr(),
		})
	}

	if config.MaxConcurrentRequests.Value != nil {
		if n := *config.MaxConcurrentRequests.Value; n < 1 {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid concurrency limit",
				Detail:   "The maximum number of concurrent requests must be at least 1.",
				Subject:  config.MaxConcurrentRequests.Range.Ptr(),
			})
		} else {
			ret.MaxConcurrentRequests = n
		}
	}

	if config.RequestTimeout.Value != nil {
		timeout, moreDiags := decodeDuration(*config.RequestTimeout.Value, config.RequestTimeout.Range)
		diags = append(diags, moreDiags...)
		if !moreDiags.HasErrors() {
			ret.RequestTimeout = timeout
		}
	}

	return ret, diags
}

func decodeServerConfig(block *hcl.Block, evalCtx *hcl.EvalContext) (*Server, hcl.Diagnostics) {
	ret := &Server{
		ListenAddr: DefaultListenAddr,
		StaticDir:  DefaultStaticDir,
		DeclRange:  block.DefRange,
	}

	type TLSConfigHCL struct {
		CertificateFile gohcl.WithRange[string] `hcl:"certificate_file"`
		PrivateKeyFile  gohcl.WithRange[string] `hcl:"private_key_file"`
	}
	type Config struct {
		ListenAddr gohcl.WithRange[*string] `hcl:"listen_addr"`
		StaticDir  gohcl.WithRange[*string] `hcl:"static_dir"`
		TLS        *TLSConfigHCL            `hcl:"tls,block"`
	}
	var config Config
	diags := gohcl.DecodeBody(block.Body, evalCtx, &config)
	if diags.HasErrors() {
		return ret, diags
	}

	if config.ListenAddr.Value != nil {
		_, _, err := net.SplitHostPort(*config.ListenAddr.Value)
		if err != nil {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid listen address",
				Detail:   "Listen address must be an IP address followed by a colon and then a port number.",
				Subject:  config.ListenAddr.Range.Ptr(),
			})
		} else {
			ret.ListenAddr = *config.ListenAddr.Value
		}
	}

	basePath := filepath.Dir(block.DefRange.Filename)
	if config.StaticDir.Value != nil {
		dir := *config.StaticDir.Value
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(basePath, dir)
		}
		ret.StaticDir = dir
	}

	if config.TLS != nil {
		certFilename := config.TLS.CertificateFile.Value
		keyFilename := config.TLS.PrivateKeyFile.Value
		if !filepath.IsAbs(certFilename) {
			certFilename = filepath.Join(basePath, certFilename)
		}
		if !filepath.IsAbs(keyFilename) {
			keyFilename = filepath.Join(basePath, keyFilename)
		}

		cert, err := tls.LoadX509KeyPair(certFilename, keyFilename)
		if err != nil {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Failed to parse TLS keypair",
				Detail:   fmt.Sprintf("Cannot build a valid TLS configuration from the specified certificate and private key: %s.", err),
				Subject:  config.TLS.CertificateFile.Range.Ptr(),
			})
		} else {
			ret.TLS = &TLSConfig{
				Certificate: cert,
			}
		}
	}

	return ret, diags
}

func decodeAuthConfig(block *hcl.Block, evalCtx *hcl.EvalContext) (*Auth, hcl.Diagnostics) {
	ret := &Auth{
		DeclRange: block.DefRange,
	}

	type Config struct {
		Username     gohcl.WithRange[string]  `hcl:"username"`
		PasswordHash gohcl.WithRange[string]  `hcl:"password_hash"`
		TokenSecret  gohcl.WithRange[string]  `hcl:"token_secret"`
		TokenTTL     gohcl.WithRange[*string] `hcl:"token_ttl"`
	}
	var config Config
	diags := gohcl.DecodeBody(block.Body, evalCtx, &config)
	if diags.HasErrors() {
		return ret, diags
	}

	ret.Username = config.Username.Value
	if ret.Username == "" {
		diags = diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid username",
			Detail:   "The username must not be empty.",
			Subject:  config.Username.Range.Ptr(),
		})
	}

	ret.PasswordHash = config.PasswordHash.Value
	if _, err := bcrypt.Cost([]byte(ret.PasswordHash)); err != nil {
		diags = diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid password hash",
			Detail:   fmt.Sprintf("The password hash must be a bcrypt hash: %s.", err),
			Subject:  config.PasswordHash.Range.Ptr(),
		})
	}

	if config.TokenSecret.Value == "" {
		diags = diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid token secret",
			Detail:   "The token signing secret must not be empty.",
			Subject:  config.TokenSecret.Range.Ptr(),
		})
	}
	ret.TokenSecret = []byte(config.TokenSecret.Value)

	if config.TokenTTL.Value != nil {
		ttl, moreDiags := decodeDuration(*config.TokenTTL.Value, config.TokenTTL.Range)
		diags = append(diags, moreDiags...)
		if !moreDiags.HasErrors() {
			ret.TokenTTL = ttl
		}
	}

	return ret, diags
}

func decodeDuration(raw string, rng hcl.Range) (time.Duration, hcl.Diagnostics) {
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, hcl.Diagnostics{
			{
				Severity: hcl.DiagError,
				Summary:  "Invalid duration",
				Detail:   fmt.Sprintf("Must be a non-negative duration such as \"30s\" or \"1h\", not %q.", raw),
				Subject:  rng.Ptr(),
			},
		}
	}
	return d, nil
}

var rootSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "registry"},
		{Type: "server"},
		{Type: "auth"},
	},
}
