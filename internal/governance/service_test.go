package governance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"archsync/internal/graph"
)

type fakeRecorder struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (f *fakeRecorder) RecordGovernanceEvent(ctx context.Context, event Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return f.err
}

func (f *fakeRecorder) outcomes(action string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		if e.Action == action {
			out = append(out, e.Outcome)
		}
	}
	return out
}

type fakeMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func (f *fakeMetrics) ObserveGovernance(action, outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts == nil {
		f.counts = make(map[string]int)
	}
	f.counts[action+"/"+outcome]++
}

type fixture struct {
	store    *graph.MemoryStore
	svc      *Service
	recorder *fakeRecorder
	metrics  *fakeMetrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := graph.NewMemoryStore()
	_, err := store.UpsertSection(context.Background(), graph.Section{Slug: "caching", Title: "Caching"}, "seed")
	require.NoError(t, err)

	var n atomic.Int64
	recorder := &fakeRecorder{}
	metrics := &fakeMetrics{}
	svc := NewService(store, Options{
		Recorder: recorder,
		Metrics:  metrics,
		Now:      func() time.Time { return time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC) },
		NewID: func() string {
			return fmt.Sprintf("id-%d", n.Add(1))
		},
	})
	return &fixture{store: store, svc: svc, recorder: recorder, metrics: metrics}
}

// draft returns a fresh draft proposal targeting the caching section.
func (f *fixture) draft(t *testing.T) graph.Proposal {
	t.Helper()
	ctx := context.Background()
	opp, err := f.svc.CreateOpportunity(ctx, OpportunityInput{Title: "Reads are slow", Actor: "ana"})
	require.NoError(t, err)
	proposal, err := f.svc.Evolve(ctx, opp.ID, ProposalInput{Title: "Add read cache", TargetSection: "Caching", Actor: "ana"})
	require.NoError(t, err)
	return proposal
}

// validated walks a proposal to validated and returns it with its implementation.
func (f *fixture) validated(t *testing.T) (graph.Proposal, graph.Implementation) {
	t.Helper()
	ctx := context.Background()
	proposal := f.draft(t)
	_, err := f.svc.Vet(ctx, proposal.ID, VettingInput{Assessment: "worth it", Actor: "rev"})
	require.NoError(t, err)
	impl, err := f.svc.RecordImplementation(ctx, proposal.ID, ImplementationInput{Summary: "PR 42", Actor: "dev"})
	require.NoError(t, err)
	proposal, err = f.svc.Validate(ctx, impl.ID, ValidationInput{Outcome: graph.ValidationPassed, Actor: "qa"})
	require.NoError(t, err)
	return proposal, impl
}

func TestEvolveCreatesDraftAndClosesOpportunity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	opp, err := f.svc.CreateOpportunity(ctx, OpportunityInput{Title: "Reads are slow"})
	require.NoError(t, err)
	assert.Equal(t, graph.OpportunityOpen, opp.Status)

	proposal, err := f.svc.Evolve(ctx, opp.ID, ProposalInput{Title: "Add cache", TargetSection: "Caching"})
	require.NoError(t, err)
	assert.Equal(t, graph.ProposalDraft, proposal.Status)
	assert.Equal(t, graph.ImplementationPending, proposal.ImplementationStatus)
	assert.Equal(t, "caching", proposal.TargetSection)
	assert.Equal(t, opp.ID, proposal.OpportunityID)

	persisted, err := f.svc.GetProposal(ctx, proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, graph.ImplementationPending, persisted.ImplementationStatus)

	stored, err := f.svc.GetOpportunity(ctx, opp.ID)
	require.NoError(t, err)
	assert.Equal(t, graph.OpportunityEvolved, stored.Status)

	_, err = f.svc.Evolve(ctx, opp.ID, ProposalInput{Title: "Another", TargetSection: "Caching"})
	assert.ErrorIs(t, err, graph.ErrInvalidTransition)
}

func TestInputValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateOpportunity(ctx, OpportunityInput{Title: "   "})
	assert.ErrorIs(t, err, ErrValidation)

	opp, err := f.svc.CreateOpportunity(ctx, OpportunityInput{Title: "x"})
	require.NoError(t, err)
	_, err = f.svc.Evolve(ctx, opp.ID, ProposalInput{Title: "y", TargetSection: "!!!"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Validate(ctx, "impl", ValidationInput{Outcome: "maybe"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestGuardrailRejectsDraftProposal(t *testing.T) {
	f := newFixture(t)
	proposal := f.draft(t)

	_, err := f.svc.MarkSynced(context.Background(), proposal.ID, "op")
	var violation *graph.GuardrailViolation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, graph.ProposalDraft, violation.Status)
	assert.Equal(t, 0, f.store.SyncRelationshipCount())
	assert.Equal(t, []string{OutcomeGuardrailViolation}, f.recorder.outcomes(ActionMarkSynced))
	assert.Equal(t, 1, f.metrics.counts[ActionMarkSynced+"/"+OutcomeGuardrailViolation])
}

func TestGuardrailRequiresBothFields(t *testing.T) {
	cases := []struct {
		name   string
		status graph.ProposalStatus
		impl   graph.ImplementationStatus
	}{
		{"status only", graph.ProposalValidated, graph.ImplementationPending},
		{"implementation only", graph.ProposalVetted, graph.ImplementationValidated},
		{"implementation missing", graph.ProposalValidated, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			proposal, _ := f.validated(t)
			f.store.SetProposalFields(proposal.ID, tc.status, tc.impl)

			_, err := f.svc.MarkSynced(context.Background(), proposal.ID, "op")
			var violation *graph.GuardrailViolation
			require.ErrorAs(t, err, &violation)
			assert.Equal(t, 0, f.store.SyncRelationshipCount())
		})
	}
}

func TestMarkSyncedSucceedsExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	proposal, _ := f.validated(t)
	assert.True(t, proposal.SyncAllowed())

	rel, err := f.svc.MarkSynced(ctx, proposal.ID, "op")
	require.NoError(t, err)
	assert.Equal(t, "caching", rel.SectionSlug)

	_, err = f.svc.MarkSynced(ctx, proposal.ID, "op")
	assert.ErrorIs(t, err, graph.ErrAlreadySynced)
	assert.Equal(t, 1, f.store.SyncRelationshipCount())

	stored, err := f.svc.GetProposal(ctx, proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, graph.ProposalSynced, stored.Status)

	got, err := f.svc.GetSyncRelationship(ctx, proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, rel, got)
}

func TestConcurrentMarkSyncedCreatesOneEdge(t *testing.T) {
	f := newFixture(t)
	proposal, _ := f.validated(t)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.MarkSynced(context.Background(), proposal.ID, "op")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, errors.Is(err, graph.ErrAlreadySynced), err.Error())
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, f.store.SyncRelationshipCount())
}

func TestRejectedProposalNeverSyncs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	proposal, _ := f.validated(t)

	rejected, err := f.svc.Reject(ctx, proposal.ID, "superseded", "rev")
	require.NoError(t, err)
	assert.Equal(t, graph.ProposalRejected, rejected.Status)
	assert.Equal(t, "superseded", rejected.RejectionReason)

	_, err = f.svc.MarkSynced(ctx, proposal.ID, "op")
	var violation *graph.GuardrailViolation
	require.ErrorAs(t, err, &violation)

	_, err = f.svc.Vet(ctx, proposal.ID, VettingInput{Assessment: "again"})
	assert.ErrorIs(t, err, graph.ErrInvalidTransition)
	_, err = f.svc.Reject(ctx, proposal.ID, "twice", "rev")
	assert.ErrorIs(t, err, graph.ErrInvalidTransition)
}

func TestSyncedProposalCannotBeRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	proposal, _ := f.validated(t)
	_, err := f.svc.MarkSynced(ctx, proposal.ID, "op")
	require.NoError(t, err)

	_, err = f.svc.Reject(ctx, proposal.ID, "too late", "rev")
	assert.ErrorIs(t, err, graph.ErrInvalidTransition)
}

func TestFailedValidationKeepsProposalVetted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	proposal := f.draft(t)
	_, err := f.svc.Vet(ctx, proposal.ID, VettingInput{Assessment: "ok"})
	require.NoError(t, err)
	impl, err := f.svc.RecordImplementation(ctx, proposal.ID, ImplementationInput{Summary: "first try"})
	require.NoError(t, err)

	after, err := f.svc.Validate(ctx, impl.ID, ValidationInput{Outcome: graph.ValidationFailed, Notes: "tests red"})
	require.NoError(t, err)
	assert.Equal(t, graph.ProposalVetted, after.Status)
	assert.Equal(t, graph.ImplementationPending, after.ImplementationStatus)

	_, err = f.svc.MarkSynced(ctx, proposal.ID, "op")
	var violation *graph.GuardrailViolation
	require.ErrorAs(t, err, &violation)

	impl, err = f.svc.RecordImplementation(ctx, proposal.ID, ImplementationInput{Summary: "second try"})
	require.NoError(t, err)
	after, err = f.svc.Validate(ctx, impl.ID, ValidationInput{Outcome: graph.ValidationPassed})
	require.NoError(t, err)
	assert.True(t, after.SyncAllowed())
}

func TestImplementationRequiresVettedProposal(t *testing.T) {
	f := newFixture(t)
	proposal := f.draft(t)
	_, err := f.svc.RecordImplementation(context.Background(), proposal.ID, ImplementationInput{Summary: "early"})
	assert.ErrorIs(t, err, graph.ErrInvalidTransition)
}

func TestMarkSyncedMissingTargetSection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	opp, err := f.svc.CreateOpportunity(ctx, OpportunityInput{Title: "x"})
	require.NoError(t, err)
	proposal, err := f.svc.Evolve(ctx, opp.ID, ProposalInput{Title: "y", TargetSection: "Nowhere"})
	require.NoError(t, err)
	f.store.SetProposalFields(proposal.ID, graph.ProposalValidated, graph.ImplementationValidated)

	_, err = f.svc.MarkSynced(ctx, proposal.ID, "op")
	assert.ErrorIs(t, err, graph.ErrSectionNotFound)
	assert.Equal(t, OutcomeSectionNotFound, Outcome(err))
}

func TestRecorderFailureDoesNotFailAction(t *testing.T) {
	f := newFixture(t)
	f.recorder.err = errors.New("ledger down")
	_, err := f.svc.CreateOpportunity(context.Background(), OpportunityInput{Title: "still works"})
	assert.NoError(t, err)
}

func TestOutcomeClassification(t *testing.T) {
	cases := map[string]error{
		OutcomeOK:                 nil,
		OutcomeGuardrailViolation: fmt.Errorf("wrap: %w", &graph.GuardrailViolation{ProposalID: "p"}),
		OutcomeAlreadySynced:      graph.ErrAlreadySynced,
		OutcomeInvalidTransition:  &graph.TransitionError{Entity: "proposal"},
		OutcomeNotFound:           graph.ErrNotFound,
		OutcomeInvalidInput:       fmt.Errorf("%w: x", ErrValidation),
		OutcomeError:              errors.New("boom"),
	}
	for want, err := range cases {
		assert.Equal(t, want, Outcome(err))
	}
}
