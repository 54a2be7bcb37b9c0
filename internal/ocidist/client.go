package ocidist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-containerregistry/pkg/v1/types"
	"github.com/opencontainers/go-digest"
)

// ManifestMediaType is the only manifest format we ask the registry for.
//
// Without this Accept header a Docker registry falls back to the legacy
// schema 1 format, whose digest and sizes don't describe the image that a
// client would actually pull.
const ManifestMediaType = string(types.DockerManifestSchema2)

// Client is a client for the subset of the distribution protocol that this
// application uses to browse a registry.
//
// Every method makes exactly one attempt at each HTTP request it needs and
// reports failures as [*NetworkError], [*UpstreamError] or [*DecodeError].
type Client struct {
	baseURL    *url.URL
	prepareReq []func(req *http.Request) error
	rawClient  *http.Client
}

// NewClient constructs and returns a new [Client] that will talk to a
// registry at the given base URL.
//
// The given URL must use either the "http" or "https" scheme, or this function
// will panic. The URL must not include a user info portion, because we handle
// authentication separately; this function will panic if the given URL has
// user information. Use [AssertValidRegistryURL] to test whether a
// user-provided URL would be accepted by this function without panicking.
func NewClient(baseURL *url.URL) *Client {
	if err := AssertValidRegistryURL(baseURL); err != nil {
		panic(err.Error())
	}
	return &Client{
		baseURL:   baseURL,
		rawClient: &http.Client{},
	}
}

// NewClientWithRoundTripper constructs and returns a new [Client], with the
// same rules as [NewClient] but with a custom HTTP round-tripper
// implementation.
func NewClientWithRoundTripper(baseURL *url.URL, rt http.RoundTripper) *Client {
	client := NewClient(baseURL)
	client.rawClient.Transport = rt
	return client
}

// AssertValidRegistryURL checks whether the given URL is acceptable to pass
// to [NewClient], return an error describing a problem if not.
func AssertValidRegistryURL(baseURL *url.URL) error {
	if baseURL.Scheme != "http" && baseURL.Scheme != "https" {
		return fmt.Errorf("must use scheme \"https\" or \"http\", not %q", baseURL.Scheme)
	}
	if baseURL.User != nil {
		return fmt.Errorf("must not include a user information portion")
	}
	return nil
}

// AddPrepareRequest provides a function that the client will call just before
// making any HTTP request, giving an opportunity to add authentication
// credentials or other context.
//
// The request-preparation function must not modify the request in any way that
// would change the meaning of what is being requested or what format the
// response would be in. Setting the Authorization header is fine; setting
// the Accept header is not.
//
// This must not be called concurrently with any other method of the same
// client object. Typically it would be called only during the initial setup of
// the client.
func (c *Client) AddPrepareRequest(cb func(req *http.Request) error) {
	c.prepareReq = append(c.prepareReq, cb)
}

// SetAuthorization arranges for every request to carry the given
// Authorization header value, exactly as given.
func (c *Client) SetAuthorization(value string) {
	c.AddPrepareRequest(func(req *http.Request) error {
		req.Header.Set("Authorization", value)
		return nil
	})
}

// SetTimeout limits how long any single request may take, including
// reading the response body. Zero means no limit.
//
// Like [Client.AddPrepareRequest], this is for initial setup only.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.rawClient.Timeout = timeout
}

// CheckAPISupport attempts to detect whether the client's configured base
// URL is an implementation of the distribution API and whether our
// credentials are accepted.
//
// A nil result means only that the base endpoint answered successfully;
// we can't be sure the registry is usable until we request real data.
func (c *Client) CheckAPISupport(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "v2/")
	if err != nil {
		return fmt.Errorf("failed to prepare request: %w", err)
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// GetCatalog returns the names of all repositories in the registry, in the
// order the registry lists them.
//
// Registries may split the catalog into pages announced by a Link header,
// in which case GetCatalog requests each page in turn.
func (c *Client) GetCatalog(ctx context.Context) (*Catalog, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "v2", "_catalog")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare request: %w", err)
	}

	ret := &Catalog{}
	for req != nil {
		page, next, err := getJSON[Catalog](c, req)
		if err != nil {
			return nil, err
		}
		ret.Repositories = append(ret.Repositories, page.Repositories...)
		if next == nil {
			break
		}
		req, err = c.newRequestURL(ctx, http.MethodGet, next)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare request: %w", err)
		}
	}
	return ret, nil
}

// GetTagList returns the tag list for the given repository.
func (c *Client) GetTagList(ctx context.Context, repo string) (*TagList, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "v2", repo, "tags", "list")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare request: %w", err)
	}
	ret, _, err := getJSON[TagList](c, req)
	if err != nil {
		return nil, err
	}
	return &ret, nil
}

// GetManifest returns the schema 2 manifest that the given tag refers to.
func (c *Client) GetManifest(ctx context.Context, repo, tag string) (*Manifest, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "v2", repo, "manifests", tag)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare request: %w", err)
	}
	req.Header.Set("Accept", ManifestMediaType)

	ret, _, err := getJSON[Manifest](c, req)
	if err != nil {
		return nil, err
	}
	if ret.SchemaVersion != 2 {
		return nil, &DecodeError{Wrapped: fmt.Errorf("unsupported manifest schema version %d", ret.SchemaVersion)}
	}
	if err := ret.Config.Digest.Validate(); err != nil {
		return nil, &DecodeError{Wrapped: fmt.Errorf("invalid config digest %q: %w", ret.Config.Digest, err)}
	}
	return &ret, nil
}

// GetConfigBlob returns the image configuration blob with the given digest.
// The body must be a JSON object, but is otherwise not interpreted here.
func (c *Client) GetConfigBlob(ctx context.Context, repo string, dgst digest.Digest) (ConfigBlob, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "v2", repo, "blobs", dgst.String())
	if err != nil {
		return nil, fmt.Errorf("failed to prepare request: %w", err)
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Wrapped: err}
	}
	trimmed := bytes.TrimSpace(body)
	if !json.Valid(trimmed) || len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, newDecodeError(fmt.Errorf("config blob is not a JSON object"), body)
	}
	return ConfigBlob(trimmed), nil
}

// GetCreationDate returns the "created" timestamp recorded in the config
// blob of the image that the given tag refers to.
//
// If both requests succeed but the blob has no creation timestamp, the
// result is [ErrMetadataMissing].
func (c *Client) GetCreationDate(ctx context.Context, repo, tag string) (string, error) {
	manifest, err := c.GetManifest(ctx, repo, tag)
	if err != nil {
		return "", err
	}
	blob, err := c.GetConfigBlob(ctx, repo, manifest.Config.Digest)
	if err != nil {
		return "", err
	}
	created, ok := blob.Created()
	if !ok {
		return "", fmt.Errorf("%s:%s has no creation date: %w", repo, tag, ErrMetadataMissing)
	}
	return created, nil
}

// HeadManifestDigest returns the content digest of the schema 2 manifest
// that the given tag refers to, without downloading the manifest.
func (c *Client) HeadManifestDigest(ctx context.Context, repo, tag string) (digest.Digest, error) {
	req, err := c.newRequest(ctx, http.MethodHead, "v2", repo, "manifests", tag)
	if err != nil {
		return "", fmt.Errorf("failed to prepare request: %w", err)
	}
	req.Header.Set("Accept", ManifestMediaType)

	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	resp.Body.Close()

	raw := resp.Header.Get("Docker-Content-Digest")
	if raw == "" {
		return "", ErrDigestHeaderMissing
	}
	dgst, err := digest.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrDigestHeaderMissing, err)
	}
	return dgst, nil
}

// DeleteManifest deletes the manifest with the given digest, which also
// removes every tag that refers to it.
//
// Registries that don't have deletion enabled respond with
// 405 Method Not Allowed, which is returned as an [*UpstreamError].
func (c *Client) DeleteManifest(ctx context.Context, repo string, dgst digest.Digest) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "v2", repo, "manifests", dgst.String())
	if err != nil {
		return fmt.Errorf("failed to prepare request: %w", err)
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) newRequest(ctx context.Context, method string, urlParts ...string) (*http.Request, error) {
	return c.newRequestURL(ctx, method, c.baseURL.JoinPath(urlParts...))
}

func (c *Client) newRequestURL(ctx context.Context, method string, u *url.URL) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, err
	}
	for _, cb := range c.prepareReq {
		err := cb(req)
		if err != nil {
			return nil, err
		}
	}
	return req, nil
}

// do performs the request and returns the response only if it has a 2xx
// status. The caller must close the response body.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.rawClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Wrapped: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &UpstreamError{
			StatusCode: resp.StatusCode,
			Method:     req.Method,
			Path:       req.URL.Path,
		}
	}
	return resp, nil
}

// getJSON performs the request and decodes a JSON response body into a
// value of type T. It also returns the URL of the next page if the
// response carries a Link header with rel="next".
func getJSON[T any](c *Client, req *http.Request) (T, *url.URL, error) {
	var ret T
	resp, err := c.do(req)
	if err != nil {
		return ret, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ret, nil, &NetworkError{Wrapped: err}
	}
	if err := json.Unmarshal(body, &ret); err != nil {
		return ret, nil, newDecodeError(err, body)
	}
	return ret, nextPageURL(req.URL, resp.Header.Get("Link")), nil
}

// nextPageURL extracts the target of a Link header of the form
//
//	</v2/_catalog?last=b&n=100>; rel="next"
//
// resolved against the URL of the request that returned it.
func nextPageURL(base *url.URL, link string) *url.URL {
	for _, entry := range strings.Split(link, ",") {
		target, params, ok := strings.Cut(strings.TrimSpace(entry), ";")
		if !ok || !strings.Contains(strings.ReplaceAll(params, " ", ""), `rel="next"`) {
			continue
		}
		target = strings.TrimSpace(target)
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		ref, err := url.Parse(target[1 : len(target)-1])
		if err != nil {
			return nil
		}
		return base.ResolveReference(ref)
	}
	return nil
}
