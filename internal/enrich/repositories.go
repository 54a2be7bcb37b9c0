package enrich

import (
	"context"
	"fmt"

	"github.com/apparentlymart/registry-browser/internal/logging"
)

// ListRepositories returns a summary of every repository in the registry's
// catalog, in catalog order.
//
// Only a failure to fetch the catalog itself is returned as an error. A
// repository whose tag list can't be fetched is reported with no tags, and
// one whose latest tag has no retrievable creation date is reported with a
// nil LastPush.
func (e *Enricher) ListRepositories(ctx context.Context) ([]RepositorySummary, error) {
	catalog, err := e.registry.GetCatalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch repository catalog: %w", err)
	}

	// Summaries outlive this request in the cache, so the caller going away
	// must not cut them short. Each registry request still has its own
	// timeout.
	summaryCtx := context.WithoutCancel(ctx)
	return fanOut(summaryCtx, e.maxConcurrency, catalog.Repositories, func(ctx context.Context, name string) RepositorySummary {
		return e.cache.GetOrCompute(name, func() RepositorySummary {
			return e.summarize(ctx, name)
		})
	}), nil
}

// Forget discards any cached summary for the given repository.
func (e *Enricher) Forget(repo string) {
	e.cache.Invalidate(repo)
}

func (e *Enricher) summarize(ctx context.Context, name string) RepositorySummary {
	log := logging.ContextLogger(ctx).With("repository", name)
	ret := RepositorySummary{Name: name}

	tagList, err := e.registry.GetTagList(ctx, name)
	if err != nil {
		log.Debug("tag list unavailable; reporting no tags", "err", err)
		return ret
	}
	ret.TagCount = len(tagList.Tags)
	if ret.TagCount == 0 {
		return ret
	}

	// The tag list order is whatever the registry chose, so "last" is only
	// a rough proxy for "most recently pushed".
	lastTag := tagList.Tags[len(tagList.Tags)-1]
	created, err := e.registry.GetCreationDate(ctx, name, lastTag)
	if err != nil {
		log.Debug("creation date unavailable", "tag", lastTag, "err", err)
		return ret
	}
	ret.LastPush = &created
	return ret
}
