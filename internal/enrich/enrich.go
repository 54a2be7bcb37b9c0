// Package enrich builds the enriched views of a registry that the API
// serves: repository summaries and per-tag details.
//
// Each operation starts with one request whose failure is fatal (the
// catalog, or a repository's tag list) and then fans out into many
// requests whose failures are absorbed into partial results, so that a
// partial upstream outage still yields a complete, same-shaped response.
package enrich

import (
	"context"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"

	"github.com/apparentlymart/registry-browser/internal/ocidist"
	"github.com/apparentlymart/registry-browser/internal/summarycache"
)

// DefaultMaxConcurrency is the fan-out limit used when none is configured.
const DefaultMaxConcurrency = 16

// Registry is the subset of [ocidist.Client] that the enrichment
// operations rely on.
type Registry interface {
	GetCatalog(ctx context.Context) (*ocidist.Catalog, error)
	GetTagList(ctx context.Context, repo string) (*ocidist.TagList, error)
	GetManifest(ctx context.Context, repo, tag string) (*ocidist.Manifest, error)
	GetConfigBlob(ctx context.Context, repo string, dgst digest.Digest) (ocidist.ConfigBlob, error)
	GetCreationDate(ctx context.Context, repo, tag string) (string, error)
	HeadManifestDigest(ctx context.Context, repo, tag string) (digest.Digest, error)
	DeleteManifest(ctx context.Context, repo string, dgst digest.Digest) error
}

var _ Registry = (*ocidist.Client)(nil)

// SummaryCache is the cache type that holds repository summaries.
type SummaryCache = summarycache.Cache[RepositorySummary]

// Enricher implements the enrichment operations against one registry.
type Enricher struct {
	registry       Registry
	cache          *SummaryCache
	maxConcurrency int
}

// New returns an [Enricher] that reads from the given registry and keeps
// repository summaries in the given cache.
//
// maxConcurrency limits how many per-repository or per-tag tasks a single
// operation runs at once. Zero or less selects [DefaultMaxConcurrency].
func New(registry Registry, cache *SummaryCache, maxConcurrency int) *Enricher {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	return &Enricher{
		registry:       registry,
		cache:          cache,
		maxConcurrency: maxConcurrency,
	}
}

// fanOut calls f for each of the given items, running at most limit calls
// at once, and returns the results in the same order as the items.
//
// f has no way to fail: every call runs to completion and none of them can
// cancel the others.
func fanOut[In, Out any](ctx context.Context, limit int, items []In, f func(context.Context, In) Out) []Out {
	results := make([]Out, len(items))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, item := range items {
		g.Go(func() error {
			results[i] = f(ctx, item)
			return nil
		})
	}
	g.Wait()
	return results
}
