package ocidist

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidateRepositoryName checks that the given string is a repository name
// as defined by the OCI distribution protocol: one or more slash-separated
// components, each matching
//
//	[a-z0-9]+([._-][a-z0-9]+)*
//
// Names that come from the registry's own catalog don't need checking, but
// anything supplied by an API client does before we splice it into a URL
// path.
func ValidateRepositoryName(s string) error {
	if len(s) == 0 {
		return fmt.Errorf("must include at least one name component")
	}
	for i, part := range strings.Split(s, "/") {
		if !repositoryComponentRe.MatchString(part) {
			return fmt.Errorf("component %d is invalid: must consist of one or more sequences of lowercase latin letters and digits separated by individual periods, underscores, or dashes", i+1)
		}
	}
	return nil
}

// ValidateTag checks that the given string is a valid tag, matching
//
//	[a-zA-Z0-9_][a-zA-Z0-9._-]{0,127}
func ValidateTag(s string) error {
	if !tagRe.MatchString(s) {
		return fmt.Errorf("must consist of a latin letter, digit, or underscore, followed by up to 127 more latin letters, digits, underscores, dashes, or dots")
	}
	return nil
}

var repositoryComponentRe = regexp.MustCompile(`^[a-z0-9]+([._-][a-z0-9]+)*$`)
var tagRe = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9._-]{0,127}$`)
