package enrich

// RepositorySummary is what we report for each repository in the catalog.
//
// TagCount and LastPush reflect the registry at the time the summary was
// computed; summaries are cached and not refreshed until invalidated.
type RepositorySummary struct {
	Name     string  `json:"name"`
	LastPush *string `json:"last_push"`
	TagCount int     `json:"tag_count"`
}

// NoDigest is the digest reported for a tag whose manifest could not be
// retrieved.
const NoDigest = "n/a"

// TagDetail is what we report for each tag of a repository.
//
// A TagDetail comes in one of three forms depending on how much of the
// upstream data we could retrieve; see [EmptyTagDetail], [BasicTagDetail]
// and [FullTagDetail]. All three are successful results.
type TagDetail struct {
	Name         string  `json:"name"`
	Digest       string  `json:"digest"`
	SizeBytes    uint64  `json:"size_bytes"`
	CreatedAt    *string `json:"created_at"`
	Architecture *string `json:"architecture"`
	OS           *string `json:"os"`
}

// EmptyTagDetail describes a tag whose manifest could not be retrieved.
func EmptyTagDetail(name string) TagDetail {
	return TagDetail{
		Name:   name,
		Digest: NoDigest,
	}
}

// BasicTagDetail describes a tag whose manifest was retrieved but whose
// config blob was not.
func BasicTagDetail(name, digest string, sizeBytes uint64) TagDetail {
	return TagDetail{
		Name:      name,
		Digest:    digest,
		SizeBytes: sizeBytes,
	}
}

// FullTagDetail describes a tag whose manifest and config blob were both
// retrieved. Any of the metadata arguments may be nil if the config blob
// didn't include that field.
func FullTagDetail(name, digest string, sizeBytes uint64, createdAt, architecture, os *string) TagDetail {
	return TagDetail{
		Name:         name,
		Digest:       digest,
		SizeBytes:    sizeBytes,
		CreatedAt:    createdAt,
		Architecture: architecture,
		OS:           os,
	}
}
