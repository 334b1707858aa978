package search

import (
	"context"
	"strings"

	"archsync/internal/graph"
)

// GraphFTS searches the graph's own section full-text index.
type GraphFTS struct {
	store      graph.SectionStore
	documentID string
}

func NewGraphFTS(store graph.SectionStore, documentID string) *GraphFTS {
	return &GraphFTS{store: store, documentID: documentID}
}

// Healthy always returns true; a graph outage surfaces as a Search error.
func (g *GraphFTS) Healthy() bool {
	return true
}

func (g *GraphFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	hits, err := g.store.SearchSections(ctx, q.Text, limit+offset)
	if err != nil {
		return nil, 0, err
	}
	total := len(hits)
	if offset >= len(hits) {
		return nil, total, nil
	}
	hits = hits[offset:]

	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		results = append(results, Result{
			Slug:       hit.Slug,
			Title:      hit.Title,
			Snippet:    hit.Snippet,
			DocumentID: g.documentID,
			Score:      hit.Score,
		})
	}
	return results, total, nil
}
