package enrich

import (
	"context"
	"fmt"

	"github.com/opencontainers/go-digest"

	"github.com/apparentlymart/registry-browser/internal/logging"
)

// ListTagDetails returns details of every tag in the given repository, in
// the order the registry lists them.
//
// Only a failure to fetch the tag list is returned as an error. Every tag
// in the list produces exactly one result, degraded to
// [BasicTagDetail] or [EmptyTagDetail] if its config blob or manifest can't
// be retrieved.
func (e *Enricher) ListTagDetails(ctx context.Context, repo string) ([]TagDetail, error) {
	tagList, err := e.registry.GetTagList(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tags of %s: %w", repo, err)
	}

	return fanOut(ctx, e.maxConcurrency, tagList.Tags, func(ctx context.Context, tag string) TagDetail {
		return e.tagDetail(ctx, repo, tag)
	}), nil
}

func (e *Enricher) tagDetail(ctx context.Context, repo, tag string) TagDetail {
	log := logging.ContextLogger(ctx).With("repository", repo, "tag", tag)

	manifest, err := e.registry.GetManifest(ctx, repo, tag)
	if err != nil {
		log.Debug("manifest unavailable", "err", err)
		return EmptyTagDetail(tag)
	}
	dgst := manifest.Config.Digest.String()
	size := manifest.TotalSize()

	blob, err := e.registry.GetConfigBlob(ctx, repo, manifest.Config.Digest)
	if err != nil {
		log.Debug("config blob unavailable", "err", err)
		return BasicTagDetail(tag, dgst, size)
	}

	return FullTagDetail(
		tag, dgst, size,
		optional(blob.Created()),
		optional(blob.Architecture()),
		optional(blob.OS()),
	)
}

// DeleteTag deletes the manifest that the given tag refers to and returns
// its digest. Any other tags referring to the same manifest disappear too.
//
// The repository's cached summary is discarded on success, since its tag
// count is now out of date.
func (e *Enricher) DeleteTag(ctx context.Context, repo, tag string) (digest.Digest, error) {
	dgst, err := e.registry.HeadManifestDigest(ctx, repo, tag)
	if err != nil {
		return "", fmt.Errorf("failed to resolve digest of %s:%s: %w", repo, tag, err)
	}
	if err := e.registry.DeleteManifest(ctx, repo, dgst); err != nil {
		return "", fmt.Errorf("failed to delete %s@%s: %w", repo, dgst, err)
	}
	e.Forget(repo)
	logging.ContextLogger(ctx).Info("deleted tag", "repository", repo, "tag", tag, "digest", dgst)
	return dgst, nil
}

func optional(v string, ok bool) *string {
	if !ok {
		return nil
	}
	return &v
}
