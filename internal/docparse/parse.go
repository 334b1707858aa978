// Package docparse turns the architecture document into ordered sections and
// derives the identity and change-detection values the graph sync relies on.
package docparse

import (
	"regexp"
	"strings"
)

// Section is one second-level heading and the text under it.
type Section struct {
	Title   string
	Content string
	Order   int
}

var headingPattern = regexp.MustCompile(`^##[ \t]+(.+?)[ \t]*$`)

// Parse splits text into sections at every "## " heading. Text before the
// first heading is dropped. Malformed input yields fewer sections, never an
// error.
func Parse(text string) []Section {
	sections := make([]Section, 0)
	if strings.TrimSpace(text) == "" {
		return sections
	}

	var (
		current *Section
		body    []string
	)
	flush := func() {
		if current == nil {
			return
		}
		current.Content = strings.TrimSpace(strings.Join(body, "\n"))
		sections = append(sections, *current)
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if match := headingPattern.FindStringSubmatch(line); match != nil {
			flush()
			current = &Section{Title: strings.TrimSpace(match[1]), Order: len(sections)}
			body = body[:0]
			continue
		}
		if current == nil {
			continue
		}
		body = append(body, line)
	}
	flush()

	return sections
}
