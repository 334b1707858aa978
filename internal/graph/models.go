package graph

import "time"

// Section is the persisted form of one heading-delimited unit of the
// architecture document. Slug is the upsert key.
type Section struct {
	Slug               string
	Title              string
	Content            string
	Order              int
	Checksum           string
	SourceRevision     string
	ParentSectionLabel string
	Stale              bool
	LastTouchedPassID  string
	UpdatedAt          time.Time
}

// SameContent reports whether two sections carry the same document-derived
// values. Revision and pass bookkeeping are ignored.
func (s Section) SameContent(other Section) bool {
	return s.Title == other.Title &&
		s.Checksum == other.Checksum &&
		s.Order == other.Order &&
		s.ParentSectionLabel == other.ParentSectionLabel
}

// ArchitectureDocument is the whole-document snapshot upserted once per pass.
type ArchitectureDocument struct {
	ID          string
	FullContent string
	Version     string
	UpdatedAt   time.Time
}

type SectionHit struct {
	Slug    string
	Title   string
	Snippet string
	Score   float64
}

type UpsertOutcome string

const (
	UpsertCreated   UpsertOutcome = "created"
	UpsertUpdated   UpsertOutcome = "updated"
	UpsertUnchanged UpsertOutcome = "unchanged"
)

type OpportunityStatus string

const (
	OpportunityOpen    OpportunityStatus = "open"
	OpportunityEvolved OpportunityStatus = "evolved"
)

type Opportunity struct {
	ID          string
	Title       string
	Description string
	Status      OpportunityStatus
	CreatedAt   time.Time
}

type ProposalStatus string

const (
	ProposalDraft     ProposalStatus = "draft"
	ProposalVetted    ProposalStatus = "vetted"
	ProposalValidated ProposalStatus = "validated"
	ProposalRejected  ProposalStatus = "rejected"
	ProposalSynced    ProposalStatus = "synced"
)

// IsValid returns true if the status is a known proposal status.
func (s ProposalStatus) IsValid() bool {
	switch s {
	case ProposalDraft, ProposalVetted, ProposalValidated, ProposalRejected, ProposalSynced:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks the proposal state machine. Rejection is reachable
// from every state before synced; synced and rejected are terminal.
func (s ProposalStatus) CanTransitionTo(target ProposalStatus) bool {
	switch s {
	case ProposalDraft:
		return target == ProposalVetted || target == ProposalRejected
	case ProposalVetted:
		return target == ProposalValidated || target == ProposalRejected
	case ProposalValidated:
		return target == ProposalSynced || target == ProposalRejected
	default:
		return false
	}
}

type ImplementationStatus string

const (
	ImplementationPending   ImplementationStatus = "pending"
	ImplementationValidated ImplementationStatus = "validated"
)

type Proposal struct {
	ID                   string
	OpportunityID        string
	Title                string
	TargetSection        string
	Description          string
	Status               ProposalStatus
	ImplementationStatus ImplementationStatus
	RejectionReason      string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// SyncAllowed is the dual-flag guardrail. Both fields are written by
// independent statements and both must read validated.
func (p Proposal) SyncAllowed() bool {
	return p.Status == ProposalValidated && p.ImplementationStatus == ImplementationValidated
}

type Vetting struct {
	ID         string
	ProposalID string
	Assessment string
	VettedBy   string
	CreatedAt  time.Time
}

type Implementation struct {
	ID            string
	ProposalID    string
	Summary       string
	ImplementedBy string
	CreatedAt     time.Time
}

type ValidationOutcome string

const (
	ValidationPassed ValidationOutcome = "passed"
	ValidationFailed ValidationOutcome = "failed"
)

type Validation struct {
	ID               string
	ImplementationID string
	Outcome          ValidationOutcome
	Notes            string
	ValidatedBy      string
	CreatedAt        time.Time
}

// SyncRelationship is the SYNCED_TO edge from a proposal to the section it
// updated. At most one exists per proposal.
type SyncRelationship struct {
	ProposalID  string
	SectionSlug string
	SyncedAt    time.Time
}
