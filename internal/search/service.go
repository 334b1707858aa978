package search

import (
	"context"
	"sync"

	"archsync/internal/graph"
	"archsync/internal/logger"
)

// Service is the facade that tries Meilisearch first and falls back to the
// graph full-text index.
type Service struct {
	meili    *Meili
	fallback Searcher
	log      *logger.Logger
	pending  sync.WaitGroup
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, fallback Searcher, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{meili: meili, fallback: fallback, log: log.With("component", "search")}
}

// Search tries Meilisearch if healthy, otherwise falls back to the graph.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: SourceMeili}
		}
		s.log.Warn("meilisearch error, falling back to graph", "error", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text, Source: SourceGraph}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.Error("graph search error", "error", err)
		return Response{Results: []Result{}, Query: q.Text, Source: SourceGraph, Error: ErrUnavailable.Error()}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: SourceGraph}
}

// MirrorSections pushes the sections of a completed pass into Meilisearch and
// drops the deleted ones in the background. Wait drains pending mirrors.
func (s *Service) MirrorSections(documentID string, sections []graph.Section, deletedSlugs []string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	records := make([]SectionRecord, 0, len(sections))
	for _, section := range sections {
		records = append(records, SectionRecord{
			ID:         RecordID(documentID, section.Slug),
			Slug:       section.Slug,
			Title:      section.Title,
			Content:    section.Content,
			DocumentID: documentID,
			Revision:   section.SourceRevision,
			Order:      section.Order,
		})
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.meili.IndexSections(records); err != nil {
			s.log.Warn("index sections", "document_id", documentID, "error", err)
		}
		for _, slug := range deletedSlugs {
			if err := s.meili.DeleteSection(RecordID(documentID, slug)); err != nil {
				s.log.Warn("delete section", "slug", slug, "error", err)
			}
		}
	}()
}

// Wait blocks until every background mirror has finished or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
