// Package governance drives opportunities and proposals through the review
// workflow that gates writes into the document graph.
package governance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"archsync/internal/docparse"
	"archsync/internal/graph"
	"archsync/internal/logger"
)

var ErrValidation = errors.New("governance: invalid input")

// Event is one entry of the governance audit trail.
type Event struct {
	ID         string
	EntityType string
	EntityID   string
	Action     string
	Outcome    string
	Actor      string
	Detail     string
	At         time.Time
}

// Recorder persists Events. Recording is best-effort.
type Recorder interface {
	RecordGovernanceEvent(ctx context.Context, event Event) error
}

// Metrics receives one observation per attempted action.
type Metrics interface {
	ObserveGovernance(action, outcome string)
}

type Options struct {
	Recorder Recorder
	Metrics  Metrics
	Log      *logger.Logger
	Now      func() time.Time
	NewID    func() string
}

type Service struct {
	store    graph.WorkflowStore
	recorder Recorder
	metrics  Metrics
	log      *logger.Logger
	now      func() time.Time
	newID    func() string
}

func NewService(store graph.WorkflowStore, opts Options) *Service {
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Service{
		store:    store,
		recorder: opts.Recorder,
		metrics:  opts.Metrics,
		log:      opts.Log.With("component", "governance"),
		now:      opts.Now,
		newID:    opts.NewID,
	}
}

const (
	ActionCreateOpportunity = "create_opportunity"
	ActionEvolve            = "evolve"
	ActionVet               = "vet"
	ActionImplement         = "implement"
	ActionValidate          = "validate"
	ActionReject            = "reject"
	ActionMarkSynced        = "mark_synced"
)

const (
	OutcomeOK                 = "ok"
	OutcomeGuardrailViolation = "guardrail_violation"
	OutcomeAlreadySynced      = "already_synced"
	OutcomeInvalidTransition  = "invalid_transition"
	OutcomeNotFound           = "not_found"
	OutcomeSectionNotFound    = "section_not_found"
	OutcomeInvalidInput       = "invalid_input"
	OutcomeError              = "error"
)

const (
	entityOpportunity    = "opportunity"
	entityProposal       = "proposal"
	entityImplementation = "implementation"

	titleMaxLength = 300
	textMaxLength  = 2000
)

// Outcome classifies an action error for metrics and the audit trail.
func Outcome(err error) string {
	var violation *graph.GuardrailViolation
	switch {
	case err == nil:
		return OutcomeOK
	case errors.As(err, &violation):
		return OutcomeGuardrailViolation
	case errors.Is(err, graph.ErrAlreadySynced):
		return OutcomeAlreadySynced
	case errors.Is(err, graph.ErrInvalidTransition):
		return OutcomeInvalidTransition
	case errors.Is(err, graph.ErrSectionNotFound):
		return OutcomeSectionNotFound
	case errors.Is(err, graph.ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, ErrValidation):
		return OutcomeInvalidInput
	default:
		return OutcomeError
	}
}

func (s *Service) finish(ctx context.Context, action, entityType, entityID, actor, detail string, err error) {
	outcome := Outcome(err)
	if s.metrics != nil {
		s.metrics.ObserveGovernance(action, outcome)
	}
	if err != nil {
		if outcome == OutcomeError {
			s.log.Error("governance action failed", "action", action, "entity_id", entityID, "error", err)
		} else {
			s.log.Warn("governance action rejected", "action", action, "entity_id", entityID, "outcome", outcome, "error", err)
		}
		detail = err.Error()
	} else {
		s.log.Info("governance action", "action", action, "entity_id", entityID, "actor", actor)
	}
	if s.recorder == nil || outcome == OutcomeInvalidInput {
		return
	}
	event := Event{
		ID:         s.newID(),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Outcome:    outcome,
		Actor:      actor,
		Detail:     detail,
		At:         s.now(),
	}
	if recErr := s.recorder.RecordGovernanceEvent(context.WithoutCancel(ctx), event); recErr != nil {
		s.log.Warn("record governance event", "action", action, "entity_id", entityID, "error", recErr)
	}
}

func required(field, value string, max int) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%w: %s is required", ErrValidation, field)
	}
	if len(value) > max {
		return "", fmt.Errorf("%w: %s exceeds %d characters", ErrValidation, field, max)
	}
	return value, nil
}

type OpportunityInput struct {
	Title       string
	Description string
	Actor       string
}

func (s *Service) CreateOpportunity(ctx context.Context, in OpportunityInput) (opportunity graph.Opportunity, err error) {
	defer func() { s.finish(ctx, ActionCreateOpportunity, entityOpportunity, opportunity.ID, in.Actor, opportunity.Title, err) }()

	title, err := required("title", in.Title, titleMaxLength)
	if err != nil {
		return graph.Opportunity{}, err
	}
	opportunity = graph.Opportunity{
		ID:          s.newID(),
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		Status:      graph.OpportunityOpen,
		CreatedAt:   s.now(),
	}
	if err := s.store.CreateOpportunity(ctx, opportunity); err != nil {
		return graph.Opportunity{}, fmt.Errorf("create opportunity: %w", err)
	}
	return opportunity, nil
}

func (s *Service) GetOpportunity(ctx context.Context, id string) (graph.Opportunity, error) {
	return s.store.GetOpportunity(ctx, id)
}

type ProposalInput struct {
	Title string
	// TargetSection is a section slug or heading; it is normalized to a slug.
	TargetSection string
	Description   string
	Actor         string
}

// Evolve derives a draft proposal from an open opportunity.
func (s *Service) Evolve(ctx context.Context, opportunityID string, in ProposalInput) (proposal graph.Proposal, err error) {
	defer func() { s.finish(ctx, ActionEvolve, entityOpportunity, opportunityID, in.Actor, proposal.ID, err) }()

	title, err := required("title", in.Title, titleMaxLength)
	if err != nil {
		return graph.Proposal{}, err
	}
	target := docparse.Slug(in.TargetSection)
	if target == "" {
		return graph.Proposal{}, fmt.Errorf("%w: targetSection is required", ErrValidation)
	}
	now := s.now()
	proposal = graph.Proposal{
		ID:                   s.newID(),
		OpportunityID:        opportunityID,
		Title:                title,
		TargetSection:        target,
		Description:          strings.TrimSpace(in.Description),
		Status:               graph.ProposalDraft,
		ImplementationStatus: graph.ImplementationPending,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.store.EvolveOpportunity(ctx, opportunityID, proposal); err != nil {
		return graph.Proposal{}, fmt.Errorf("evolve opportunity: %w", err)
	}
	return proposal, nil
}

func (s *Service) GetProposal(ctx context.Context, id string) (graph.Proposal, error) {
	return s.store.GetProposal(ctx, id)
}

type VettingInput struct {
	Assessment string
	Actor      string
}

// Vet attaches an assessment and moves a draft proposal to vetted. Vetting
// alone never authorizes a sync.
func (s *Service) Vet(ctx context.Context, proposalID string, in VettingInput) (proposal graph.Proposal, err error) {
	defer func() { s.finish(ctx, ActionVet, entityProposal, proposalID, in.Actor, "", err) }()

	assessment, err := required("assessment", in.Assessment, textMaxLength)
	if err != nil {
		return graph.Proposal{}, err
	}
	vetting := graph.Vetting{
		ID:         s.newID(),
		ProposalID: proposalID,
		Assessment: assessment,
		VettedBy:   in.Actor,
		CreatedAt:  s.now(),
	}
	if err := s.store.AttachVetting(ctx, vetting); err != nil {
		return graph.Proposal{}, fmt.Errorf("vet proposal: %w", err)
	}
	return s.store.GetProposal(ctx, proposalID)
}

type ImplementationInput struct {
	Summary string
	Actor   string
}

// RecordImplementation attaches an implementation to a vetted proposal and
// resets its implementation status to pending.
func (s *Service) RecordImplementation(ctx context.Context, proposalID string, in ImplementationInput) (implementation graph.Implementation, err error) {
	defer func() { s.finish(ctx, ActionImplement, entityProposal, proposalID, in.Actor, implementation.ID, err) }()

	summary, err := required("summary", in.Summary, textMaxLength)
	if err != nil {
		return graph.Implementation{}, err
	}
	implementation = graph.Implementation{
		ID:            s.newID(),
		ProposalID:    proposalID,
		Summary:       summary,
		ImplementedBy: in.Actor,
		CreatedAt:     s.now(),
	}
	if err := s.store.AttachImplementation(ctx, implementation); err != nil {
		return graph.Implementation{}, fmt.Errorf("record implementation: %w", err)
	}
	return implementation, nil
}

type ValidationInput struct {
	Outcome graph.ValidationOutcome
	Notes   string
	Actor   string
}

// Validate records a validation against an implementation. A passed
// validation sets both guardrail fields to validated; a failed one is kept on
// record and leaves the proposal vetted.
func (s *Service) Validate(ctx context.Context, implementationID string, in ValidationInput) (proposal graph.Proposal, err error) {
	defer func() { s.finish(ctx, ActionValidate, entityImplementation, implementationID, in.Actor, string(in.Outcome), err) }()

	if in.Outcome != graph.ValidationPassed && in.Outcome != graph.ValidationFailed {
		return graph.Proposal{}, fmt.Errorf("%w: outcome must be %q or %q", ErrValidation, graph.ValidationPassed, graph.ValidationFailed)
	}
	validation := graph.Validation{
		ID:               s.newID(),
		ImplementationID: implementationID,
		Outcome:          in.Outcome,
		Notes:            strings.TrimSpace(in.Notes),
		ValidatedBy:      in.Actor,
		CreatedAt:        s.now(),
	}
	proposal, err = s.store.AttachValidation(ctx, validation)
	if err != nil {
		return graph.Proposal{}, fmt.Errorf("validate implementation: %w", err)
	}
	return proposal, nil
}

// Reject moves any pre-synced proposal to rejected. Rejected proposals can
// never be synced.
func (s *Service) Reject(ctx context.Context, proposalID, reason, actor string) (proposal graph.Proposal, err error) {
	defer func() { s.finish(ctx, ActionReject, entityProposal, proposalID, actor, reason, err) }()

	reason, err = required("reason", reason, textMaxLength)
	if err != nil {
		return graph.Proposal{}, err
	}
	if err := s.store.RejectProposal(ctx, proposalID, reason, s.now()); err != nil {
		return graph.Proposal{}, fmt.Errorf("reject proposal: %w", err)
	}
	return s.store.GetProposal(ctx, proposalID)
}

// MarkSynced creates the proposal's single SYNCED_TO edge. The store checks
// both guardrail fields in the same atomic write; a *graph.GuardrailViolation
// means nothing was written.
func (s *Service) MarkSynced(ctx context.Context, proposalID, actor string) (rel graph.SyncRelationship, err error) {
	defer func() { s.finish(ctx, ActionMarkSynced, entityProposal, proposalID, actor, rel.SectionSlug, err) }()

	rel, err = s.store.MarkSynced(ctx, proposalID, s.now())
	if err != nil {
		return graph.SyncRelationship{}, err
	}
	return rel, nil
}

func (s *Service) GetSyncRelationship(ctx context.Context, proposalID string) (graph.SyncRelationship, error) {
	return s.store.GetSyncRelationship(ctx, proposalID)
}
