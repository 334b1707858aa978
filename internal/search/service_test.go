package search

import (
	"context"
	"errors"
	"testing"

	"archsync/internal/graph"
)

type failingSearcher struct{}

func (failingSearcher) Search(ctx context.Context, q Query) ([]Result, int, error) {
	return nil, 0, errors.New("graph down")
}

func (failingSearcher) Healthy() bool { return true }

func seededStore(t *testing.T) *graph.MemoryStore {
	t.Helper()
	store := graph.NewMemoryStore()
	ctx := context.Background()
	for i, s := range []graph.Section{
		{Slug: "overview", Title: "Overview", Content: "This system does X."},
		{Slug: "caching", Title: "Caching", Content: "Reads go through the cache."},
		{Slug: "storage", Title: "Storage", Content: "The cache is warmed from storage."},
	} {
		s.Order = i
		if _, err := store.UpsertSection(ctx, s, "seed"); err != nil {
			t.Fatal(err)
		}
	}
	return store
}

func TestServiceFallsBackToGraph(t *testing.T) {
	svc := NewService(nil, NewGraphFTS(seededStore(t), "architecture"), nil)

	resp := svc.Search(context.Background(), Query{Text: "cache"})
	if resp.Source != SourceGraph {
		t.Fatalf("expected graph source, got %q", resp.Source)
	}
	if resp.Total != 2 || len(resp.Results) != 2 {
		t.Fatalf("expected 2 results, got total=%d len=%d", resp.Total, len(resp.Results))
	}
	if resp.Results[0].Slug != "caching" {
		t.Errorf("equal scores keep document order, got %q first", resp.Results[0].Slug)
	}
	if resp.Results[0].DocumentID != "architecture" {
		t.Errorf("DocumentID = %q", resp.Results[0].DocumentID)
	}
}

func TestServiceOffsetAndEmptyQuery(t *testing.T) {
	svc := NewService(nil, NewGraphFTS(seededStore(t), "architecture"), nil)
	ctx := context.Background()

	resp := svc.Search(ctx, Query{Text: "cache", Limit: 1, Offset: 1})
	if len(resp.Results) != 1 || resp.Results[0].Slug != "storage" {
		t.Fatalf("unexpected page: %+v", resp.Results)
	}

	resp = svc.Search(ctx, Query{Text: "  "})
	if resp.Results == nil || len(resp.Results) != 0 {
		t.Fatalf("blank query should return an empty, non-nil slice: %+v", resp.Results)
	}
}

func TestServiceReportsFallbackErrors(t *testing.T) {
	svc := NewService(nil, failingSearcher{}, nil)
	resp := svc.Search(context.Background(), Query{Text: "foo("})
	if len(resp.Results) != 0 || resp.Results == nil {
		t.Fatalf("expected empty results, got %+v", resp.Results)
	}
	if resp.Error != ErrUnavailable.Error() {
		t.Fatalf("Error = %q, want %q", resp.Error, ErrUnavailable.Error())
	}

	ok := NewService(nil, NewGraphFTS(seededStore(t), "architecture"), nil).Search(context.Background(), Query{Text: "cache"})
	if ok.Error != "" {
		t.Fatalf("successful search should carry no error, got %q", ok.Error)
	}
}

func TestRecordID(t *testing.T) {
	cases := map[string][2]string{
		"architecture__data-model": {"architecture", "data-model"},
		"docs-ARCH-md__overview":   {"docs/ARCH.md", "overview"},
	}
	for want, in := range cases {
		if got := RecordID(in[0], in[1]); got != want {
			t.Errorf("RecordID(%q, %q) = %q, want %q", in[0], in[1], got, want)
		}
	}
}
