package search

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

// ErrUnavailable is reported when neither Meilisearch nor the graph answered.
var ErrUnavailable = errors.New("search backend unavailable")

// Source names the backend that answered a query.
type Source string

const (
	SourceMeili Source = "meilisearch"
	SourceGraph Source = "graph"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Slug       string  `json:"slug"`
	Title      string  `json:"title"`
	Snippet    string  `json:"snippet"`
	DocumentID string  `json:"documentId"`
	Score      float64 `json:"score"`
}

// Query describes a search request.
type Query struct {
	Text       string
	DocumentID string
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint. Error is set when
// no backend could answer; Results is then empty.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Source  Source   `json:"source"`
	Error   string   `json:"error,omitempty"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// SectionRecord is the data we index for a section.
type SectionRecord struct {
	ID         string `json:"id"`
	Slug       string `json:"slug"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	DocumentID string `json:"documentId"`
	Revision   string `json:"revision"`
	Order      int    `json:"order"`
}

var recordIDInvalid = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// RecordID builds the index primary key for a section of a document.
// Meilisearch ids only allow alphanumerics, '-' and '_'.
func RecordID(documentID, slug string) string {
	return recordIDInvalid.ReplaceAllString(strings.TrimSpace(documentID), "-") + "__" + slug
}
