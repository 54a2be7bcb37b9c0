package enrich

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/opencontainers/go-digest"

	"github.com/apparentlymart/registry-browser/internal/ocidist"
	"github.com/apparentlymart/registry-browser/internal/summarycache"
)

// fakeRegistry is an in-memory [Registry] whose responses and failures are
// set up per test.
type fakeRegistry struct {
	catalog    []string
	catalogErr error

	// tags maps repository name to tag list; a nil slice means "tags": null.
	tags    map[string][]string
	tagsErr map[string]error

	// manifests maps "repo:tag" to manifest.
	manifests    map[string]*ocidist.Manifest
	manifestErr  map[string]error
	blobs        map[digest.Digest]ocidist.ConfigBlob
	blobErr      map[digest.Digest]error
	headDigests  map[string]digest.Digest
	deleteErr    error
	deleted      []digest.Digest
	requestDelay time.Duration

	mu       sync.Mutex
	requests map[string]int
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (r *fakeRegistry) record(kind string) func() {
	r.mu.Lock()
	if r.requests == nil {
		r.requests = make(map[string]int)
	}
	r.requests[kind]++
	r.mu.Unlock()

	n := r.inFlight.Add(1)
	for {
		seen := r.maxSeen.Load()
		if n <= seen || r.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if r.requestDelay > 0 {
		time.Sleep(r.requestDelay)
	}
	return func() { r.inFlight.Add(-1) }
}

func (r *fakeRegistry) count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests[kind]
}

func (r *fakeRegistry) GetCatalog(ctx context.Context) (*ocidist.Catalog, error) {
	defer r.record("catalog")()
	if r.catalogErr != nil {
		return nil, r.catalogErr
	}
	return &ocidist.Catalog{Repositories: r.catalog}, nil
}

func (r *fakeRegistry) GetTagList(ctx context.Context, repo string) (*ocidist.TagList, error) {
	defer r.record("tags")()
	if err := ctx.Err(); err != nil {
		return nil, &ocidist.NetworkError{Wrapped: err}
	}
	if err := r.tagsErr[repo]; err != nil {
		return nil, err
	}
	return &ocidist.TagList{Name: repo, Tags: r.tags[repo]}, nil
}

func (r *fakeRegistry) GetManifest(ctx context.Context, repo, tag string) (*ocidist.Manifest, error) {
	defer r.record("manifest")()
	key := repo + ":" + tag
	if err := r.manifestErr[key]; err != nil {
		return nil, err
	}
	m, ok := r.manifests[key]
	if !ok {
		return nil, &ocidist.UpstreamError{StatusCode: http.StatusNotFound}
	}
	return m, nil
}

func (r *fakeRegistry) GetConfigBlob(ctx context.Context, repo string, dgst digest.Digest) (ocidist.ConfigBlob, error) {
	defer r.record("blob")()
	if err := r.blobErr[dgst]; err != nil {
		return nil, err
	}
	b, ok := r.blobs[dgst]
	if !ok {
		return nil, &ocidist.UpstreamError{StatusCode: http.StatusNotFound}
	}
	return b, nil
}

func (r *fakeRegistry) GetCreationDate(ctx context.Context, repo, tag string) (string, error) {
	m, err := r.GetManifest(ctx, repo, tag)
	if err != nil {
		return "", err
	}
	b, err := r.GetConfigBlob(ctx, repo, m.Config.Digest)
	if err != nil {
		return "", err
	}
	created, ok := b.Created()
	if !ok {
		return "", ocidist.ErrMetadataMissing
	}
	return created, nil
}

func (r *fakeRegistry) HeadManifestDigest(ctx context.Context, repo, tag string) (digest.Digest, error) {
	defer r.record("head")()
	d, ok := r.headDigests[repo+":"+tag]
	if !ok {
		return "", &ocidist.UpstreamError{StatusCode: http.StatusNotFound}
	}
	return d, nil
}

func (r *fakeRegistry) DeleteManifest(ctx context.Context, repo string, dgst digest.Digest) error {
	defer r.record("delete")()
	if r.deleteErr != nil {
		return r.deleteErr
	}
	r.mu.Lock()
	r.deleted = append(r.deleted, dgst)
	r.mu.Unlock()
	return nil
}

func testDigest(s string) digest.Digest {
	return digest.FromString(s)
}

func ptr(s string) *string {
	return &s
}

func manifestWithConfig(configDigest digest.Digest, configSize uint64, layerSizes ...uint64) *ocidist.Manifest {
	m := &ocidist.Manifest{
		SchemaVersion: 2,
		MediaType:     ocidist.ManifestMediaType,
		Config: ocidist.Descriptor{
			MediaType: "application/vnd.docker.container.image.v1+json",
			Size:      configSize,
			Digest:    configDigest,
		},
	}
	for i, size := range layerSizes {
		m.Layers = append(m.Layers, ocidist.Descriptor{
			MediaType: "application/vnd.docker.image.rootfs.diff.tar.gzip",
			Size:      size,
			Digest:    testDigest(string(configDigest) + string(rune('a'+i))),
		})
	}
	return m
}

func newTestEnricher(reg *fakeRegistry, maxConcurrency int) *Enricher {
	return New(reg, summarycache.New[RepositorySummary](), maxConcurrency)
}

func TestListRepositories(t *testing.T) {
	cfgApp := testDigest("app-config")
	reg := &fakeRegistry{
		catalog: []string{"team/app", "broken", "empty", "nulltags", "nodate"},
		tags: map[string][]string{
			"team/app": {"v1", "v2"},
			"empty":    {},
			"nulltags": nil,
			"nodate":   {"latest"},
		},
		tagsErr: map[string]error{
			"broken": &ocidist.UpstreamError{StatusCode: http.StatusTooManyRequests},
		},
		manifests: map[string]*ocidist.Manifest{
			"team/app:v2": manifestWithConfig(cfgApp, 5, 10, 20),
		},
		blobs: map[digest.Digest]ocidist.ConfigBlob{
			cfgApp: ocidist.ConfigBlob(`{"created":"2024-03-01T10:00:00Z"}`),
		},
	}
	e := newTestEnricher(reg, 2)

	got, err := e.ListRepositories(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := []RepositorySummary{
		{Name: "team/app", TagCount: 2, LastPush: ptr("2024-03-01T10:00:00Z")},
		{Name: "broken"},
		{Name: "empty"},
		{Name: "nulltags"},
		{Name: "nodate", TagCount: 1},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("wrong summaries\n%s", diff)
	}

	// Only the last tag is inspected.
	if got := reg.count("manifest"); got != 2 {
		t.Errorf("made %d manifest requests; want 2", got)
	}
}

func TestListRepositoriesWarmCache(t *testing.T) {
	cfg := testDigest("config")
	reg := &fakeRegistry{
		catalog: []string{"a", "b"},
		tags: map[string][]string{
			"a": {"latest"},
			"b": {"1.0", "2.0"},
		},
		manifests: map[string]*ocidist.Manifest{
			"a:latest": manifestWithConfig(cfg, 1),
			"b:2.0":    manifestWithConfig(cfg, 1),
		},
		blobs: map[digest.Digest]ocidist.ConfigBlob{
			cfg: ocidist.ConfigBlob(`{"created":"2023-01-01T00:00:00Z"}`),
		},
	}
	e := newTestEnricher(reg, 0)
	ctx := context.Background()

	first, err := e.ListRepositories(ctx)
	if err != nil {
		t.Fatal(err)
	}
	tagReqs, manifestReqs, blobReqs := reg.count("tags"), reg.count("manifest"), reg.count("blob")

	second, err := e.ListRepositories(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("second call returned different summaries\n%s", diff)
	}
	if reg.count("tags") != tagReqs || reg.count("manifest") != manifestReqs || reg.count("blob") != blobReqs {
		t.Errorf("warm cache still made upstream requests: %v", reg.requests)
	}
	if got := reg.count("catalog"); got != 2 {
		t.Errorf("made %d catalog requests; want 2", got)
	}
}

func TestListRepositoriesCatalogFailure(t *testing.T) {
	reg := &fakeRegistry{
		catalogErr: &ocidist.UpstreamError{StatusCode: http.StatusUnauthorized},
		catalog:    []string{"a"},
	}
	e := newTestEnricher(reg, 0)

	_, err := e.ListRepositories(context.Background())
	if err == nil {
		t.Fatal("succeeded; want error")
	}
	if got := ocidist.HTTPStatus(err); got != http.StatusUnauthorized {
		t.Errorf("wrong status %d; want 401", got)
	}
	if got := reg.count("tags"); got != 0 {
		t.Errorf("made %d tag list requests after catalog failure", got)
	}
}

func TestListRepositoriesCallerCancelled(t *testing.T) {
	reg := &fakeRegistry{
		catalog: []string{"app"},
		tags: map[string][]string{
			"app": {"v1", "v2", "v3"},
		},
	}
	e := newTestEnricher(reg, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err := e.ListRepositories(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []RepositorySummary{{Name: "app", TagCount: 3}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("wrong summaries for cancelled caller\n%s", diff)
	}

	got, err = e.ListRepositories(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("wrong summaries after cancelled caller\n%s", diff)
	}
}

func TestListRepositoriesConcurrencyLimit(t *testing.T) {
	reg := &fakeRegistry{
		tags:         map[string][]string{},
		requestDelay: 5 * time.Millisecond,
	}
	for i := range 30 {
		reg.catalog = append(reg.catalog, string(rune('a'+i%26))+string(rune('a'+i/26)))
	}
	e := newTestEnricher(reg, 4)

	got, err := e.ListRepositories(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(reg.catalog) {
		t.Fatalf("got %d summaries; want %d", len(got), len(reg.catalog))
	}
	for i, summary := range got {
		if summary.Name != reg.catalog[i] {
			t.Errorf("summary %d is for %q; want %q", i, summary.Name, reg.catalog[i])
		}
	}
	if peak := reg.maxSeen.Load(); peak > 4 {
		t.Errorf("saw %d concurrent requests; limit is 4", peak)
	}
}

func TestListTagDetails(t *testing.T) {
	cfgFull := testDigest("full")
	cfgBasic := testDigest("basic")
	cfgPartial := testDigest("partial")
	reg := &fakeRegistry{
		tags: map[string][]string{
			"app": {"full", "basic", "empty", "partial"},
		},
		manifests: map[string]*ocidist.Manifest{
			"app:full":    manifestWithConfig(cfgFull, 5, 10, 20),
			"app:basic":   manifestWithConfig(cfgBasic, 7, 100),
			"app:partial": manifestWithConfig(cfgPartial, 1),
		},
		manifestErr: map[string]error{
			"app:empty": &ocidist.NetworkError{Wrapped: errors.New("connection reset")},
		},
		blobs: map[digest.Digest]ocidist.ConfigBlob{
			cfgFull:    ocidist.ConfigBlob(`{"created":"2024-03-01T10:00:00Z","architecture":"amd64","os":"linux"}`),
			cfgPartial: ocidist.ConfigBlob(`{"os":"windows"}`),
		},
		blobErr: map[digest.Digest]error{
			cfgBasic: &ocidist.UpstreamError{StatusCode: http.StatusInternalServerError},
		},
	}
	e := newTestEnricher(reg, 0)

	got, err := e.ListTagDetails(context.Background(), "app")
	if err != nil {
		t.Fatal(err)
	}
	want := []TagDetail{
		{
			Name:         "full",
			Digest:       cfgFull.String(),
			SizeBytes:    35,
			CreatedAt:    ptr("2024-03-01T10:00:00Z"),
			Architecture: ptr("amd64"),
			OS:           ptr("linux"),
		},
		{Name: "basic", Digest: cfgBasic.String(), SizeBytes: 107},
		{Name: "empty", Digest: "n/a"},
		{Name: "partial", Digest: cfgPartial.String(), SizeBytes: 1, OS: ptr("windows")},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("wrong tag details\n%s", diff)
	}

	// The tag pipeline doesn't use the summary cache.
	if n := e.cache.Len(); n != 0 {
		t.Errorf("cache has %d entries; want 0", n)
	}
}

func TestListTagDetailsNullTags(t *testing.T) {
	reg := &fakeRegistry{
		tags: map[string][]string{"app": nil},
	}
	e := newTestEnricher(reg, 0)

	got, err := e.ListTagDetails(context.Background(), "app")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("got %d tag details; want 0", len(got))
	}
}

func TestListTagDetailsTagListFailure(t *testing.T) {
	reg := &fakeRegistry{
		tagsErr: map[string]error{"app": &ocidist.UpstreamError{StatusCode: http.StatusNotFound}},
	}
	e := newTestEnricher(reg, 0)

	_, err := e.ListTagDetails(context.Background(), "app")
	if got := ocidist.HTTPStatus(err); got != http.StatusNotFound {
		t.Errorf("wrong status %d for error %v", got, err)
	}
}

func TestDeleteTag(t *testing.T) {
	dgst := testDigest("manifest")
	reg := &fakeRegistry{
		catalog:     []string{"app"},
		tags:        map[string][]string{"app": {"v1"}},
		headDigests: map[string]digest.Digest{"app:v1": dgst},
	}
	e := newTestEnricher(reg, 0)
	ctx := context.Background()

	if _, err := e.ListRepositories(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok := e.cache.Get("app"); !ok {
		t.Fatal("summary was not cached")
	}

	got, err := e.DeleteTag(ctx, "app", "v1")
	if err != nil {
		t.Fatal(err)
	}
	if got != dgst {
		t.Errorf("wrong digest %s", got)
	}
	if diff := cmp.Diff([]digest.Digest{dgst}, reg.deleted); diff != "" {
		t.Errorf("wrong deletions\n%s", diff)
	}
	if _, ok := e.cache.Get("app"); ok {
		t.Error("summary still cached after delete")
	}
}

func TestDeleteTagNotAllowed(t *testing.T) {
	reg := &fakeRegistry{
		headDigests: map[string]digest.Digest{"app:v1": testDigest("m")},
		deleteErr:   &ocidist.UpstreamError{StatusCode: http.StatusMethodNotAllowed},
	}
	e := newTestEnricher(reg, 0)
	e.cache.Put("app", RepositorySummary{Name: "app", TagCount: 1})

	_, err := e.DeleteTag(context.Background(), "app", "v1")
	if got := ocidist.HTTPStatus(err); got != http.StatusMethodNotAllowed {
		t.Errorf("wrong status %d for error %v", got, err)
	}
	if _, ok := e.cache.Get("app"); !ok {
		t.Error("summary discarded even though delete failed")
	}
}
