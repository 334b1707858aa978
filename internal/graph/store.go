package graph

import (
	"context"
	"time"
)

// SectionStore is what a sync pass needs from the backing graph.
type SectionStore interface {
	Ping(ctx context.Context) error
	MarkStale(ctx context.Context, passID string) (int, error)
	UpsertSection(ctx context.Context, section Section, passID string) (UpsertOutcome, error)
	// SweepStale deletes sections still stale after passID, except those in
	// keep. Kept sections are un-marked instead.
	SweepStale(ctx context.Context, passID string, keep []string) ([]string, error)
	EnsureFullTextIndex(ctx context.Context) error
	UpsertDocument(ctx context.Context, doc ArchitectureDocument) error
	ListSections(ctx context.Context) ([]Section, error)
	SearchSections(ctx context.Context, query string, limit int) ([]SectionHit, error)
}

// WorkflowStore persists the governance records. Every transition method
// checks the current state and writes inside one atomic operation.
type WorkflowStore interface {
	CreateOpportunity(ctx context.Context, opportunity Opportunity) error
	GetOpportunity(ctx context.Context, id string) (Opportunity, error)
	EvolveOpportunity(ctx context.Context, opportunityID string, proposal Proposal) error
	GetProposal(ctx context.Context, id string) (Proposal, error)
	AttachVetting(ctx context.Context, vetting Vetting) error
	AttachImplementation(ctx context.Context, implementation Implementation) error
	AttachValidation(ctx context.Context, validation Validation) (Proposal, error)
	RejectProposal(ctx context.Context, proposalID, reason string, at time.Time) error
	MarkSynced(ctx context.Context, proposalID string, at time.Time) (SyncRelationship, error)
	GetSyncRelationship(ctx context.Context, proposalID string) (SyncRelationship, error)
}

// Store is implemented by both the Neo4j and in-memory backends.
type Store interface {
	SectionStore
	WorkflowStore
}
