package docparse

import (
	"regexp"
	"strings"
)

var (
	slugDisallowed = regexp.MustCompile(`[^a-z0-9\s-]`)
	slugWhitespace = regexp.MustCompile(`\s+`)
	slugHyphens    = regexp.MustCompile(`-+`)
)

// Slug normalizes a section title into its upsert key. Titles that differ only
// in case, punctuation or spacing map to the same slug.
func Slug(title string) string {
	slug := strings.ToLower(title)
	slug = slugDisallowed.ReplaceAllString(slug, "")
	slug = slugWhitespace.ReplaceAllString(slug, "-")
	slug = slugHyphens.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}

// ParentLabel extracts "Parent" from a "Parent > Child" title. The label is
// descriptive grouping only.
func ParentLabel(title string) string {
	parent, _, found := strings.Cut(title, " > ")
	if !found {
		return ""
	}
	return strings.TrimSpace(parent)
}
