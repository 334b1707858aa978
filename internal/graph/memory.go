package graph

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. A single mutex makes every method
// atomic, which gives the same check-and-write guarantees as the Neo4j
// transactions.
type MemoryStore struct {
	mu              sync.Mutex
	sections        map[string]Section
	document        *ArchitectureDocument
	indexed         bool
	opportunities   map[string]Opportunity
	evolvesInto     map[string]string
	proposals       map[string]Proposal
	vettings        map[string]Vetting
	implementations map[string]Implementation
	validations     map[string]Validation
	synced          map[string]SyncRelationship
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sections:        make(map[string]Section),
		opportunities:   make(map[string]Opportunity),
		evolvesInto:     make(map[string]string),
		proposals:       make(map[string]Proposal),
		vettings:        make(map[string]Vetting),
		implementations: make(map[string]Implementation),
		validations:     make(map[string]Validation),
		synced:          make(map[string]SyncRelationship),
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *MemoryStore) MarkStale(ctx context.Context, passID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for slug, section := range m.sections {
		section.Stale = true
		m.sections[slug] = section
	}
	return len(m.sections), nil
}

func (m *MemoryStore) UpsertSection(ctx context.Context, section Section, passID string) (UpsertOutcome, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	outcome := UpsertCreated
	if existing, ok := m.sections[section.Slug]; ok {
		outcome = UpsertUpdated
		if existing.SameContent(section) {
			outcome = UpsertUnchanged
		}
	}
	section.Stale = false
	section.LastTouchedPassID = passID
	m.sections[section.Slug] = section
	return outcome, nil
}

func (m *MemoryStore) SweepStale(ctx context.Context, passID string, keep []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := make(map[string]struct{}, len(keep))
	for _, slug := range keep {
		kept[slug] = struct{}{}
	}
	deleted := make([]string, 0)
	for slug, section := range m.sections {
		if !section.Stale || section.LastTouchedPassID == passID {
			continue
		}
		if _, ok := kept[slug]; ok {
			section.Stale = false
			m.sections[slug] = section
			continue
		}
		delete(m.sections, slug)
		deleted = append(deleted, slug)
	}
	for proposalID, rel := range m.synced {
		for _, slug := range deleted {
			if rel.SectionSlug == slug {
				delete(m.synced, proposalID)
			}
		}
	}
	sort.Strings(deleted)
	return deleted, nil
}

func (m *MemoryStore) EnsureFullTextIndex(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexed = true
	return nil
}

// HasFullTextIndex reports whether EnsureFullTextIndex has run.
func (m *MemoryStore) HasFullTextIndex() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.indexed
}

func (m *MemoryStore) UpsertDocument(ctx context.Context, doc ArchitectureDocument) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.document = &doc
	return nil
}

func (m *MemoryStore) GetDocument(ctx context.Context) (ArchitectureDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.document == nil {
		return ArchitectureDocument{}, ErrNotFound
	}
	return *m.document, nil
}

func (m *MemoryStore) ListSections(ctx context.Context) ([]Section, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]Section, 0, len(m.sections))
	for _, section := range m.sections {
		items = append(items, section)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Order != items[j].Order {
			return items[i].Order < items[j].Order
		}
		return items[i].Slug < items[j].Slug
	})
	return items, nil
}

// SearchSections does a case-insensitive substring match. Score counts the
// matching fields, title first.
func (m *MemoryStore) SearchSections(ctx context.Context, query string, limit int) ([]SectionHit, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return []SectionHit{}, nil
	}
	sections, err := m.ListSections(ctx)
	if err != nil {
		return nil, err
	}
	hits := make([]SectionHit, 0)
	for _, section := range sections {
		score := 0.0
		if strings.Contains(strings.ToLower(section.Title), query) {
			score += 2
		}
		if strings.Contains(strings.ToLower(section.Content), query) {
			score++
		}
		if score == 0 {
			continue
		}
		hits = append(hits, SectionHit{Slug: section.Slug, Title: section.Title, Snippet: snippet(section.Content, 160), Score: score})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// snippet keeps the first max characters, matching Cypher's left().
func snippet(content string, max int) string {
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	return string(runes[:max])
}

func (m *MemoryStore) CreateOpportunity(ctx context.Context, opportunity Opportunity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if opportunity.Status == "" {
		opportunity.Status = OpportunityOpen
	}
	m.opportunities[opportunity.ID] = opportunity
	return nil
}

func (m *MemoryStore) GetOpportunity(ctx context.Context, id string) (Opportunity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	opportunity, ok := m.opportunities[id]
	if !ok {
		return Opportunity{}, ErrNotFound
	}
	return opportunity, nil
}

func (m *MemoryStore) EvolveOpportunity(ctx context.Context, opportunityID string, proposal Proposal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	opportunity, ok := m.opportunities[opportunityID]
	if !ok {
		return ErrNotFound
	}
	if opportunity.Status != OpportunityOpen {
		return &TransitionError{Entity: "opportunity", ID: opportunityID, From: string(opportunity.Status), To: string(OpportunityEvolved)}
	}
	opportunity.Status = OpportunityEvolved
	m.opportunities[opportunityID] = opportunity
	proposal.OpportunityID = opportunityID
	if proposal.ImplementationStatus == "" {
		proposal.ImplementationStatus = ImplementationPending
	}
	m.proposals[proposal.ID] = proposal
	m.evolvesInto[opportunityID] = proposal.ID
	return nil
}

func (m *MemoryStore) GetProposal(ctx context.Context, id string) (Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	proposal, ok := m.proposals[id]
	if !ok {
		return Proposal{}, ErrNotFound
	}
	return proposal, nil
}

func (m *MemoryStore) transition(proposalID string, to ProposalStatus) (Proposal, error) {
	proposal, ok := m.proposals[proposalID]
	if !ok {
		return Proposal{}, ErrNotFound
	}
	if !proposal.Status.CanTransitionTo(to) {
		return Proposal{}, &TransitionError{Entity: "proposal", ID: proposalID, From: string(proposal.Status), To: string(to)}
	}
	return proposal, nil
}

func (m *MemoryStore) AttachVetting(ctx context.Context, vetting Vetting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	proposal, err := m.transition(vetting.ProposalID, ProposalVetted)
	if err != nil {
		return err
	}
	m.vettings[vetting.ID] = vetting
	proposal.Status = ProposalVetted
	proposal.UpdatedAt = vetting.CreatedAt
	m.proposals[proposal.ID] = proposal
	return nil
}

func (m *MemoryStore) AttachImplementation(ctx context.Context, implementation Implementation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	proposal, ok := m.proposals[implementation.ProposalID]
	if !ok {
		return ErrNotFound
	}
	if proposal.Status != ProposalVetted {
		return &TransitionError{Entity: "proposal", ID: proposal.ID, From: string(proposal.Status), To: "implemented"}
	}
	m.implementations[implementation.ID] = implementation
	proposal.ImplementationStatus = ImplementationPending
	proposal.UpdatedAt = implementation.CreatedAt
	m.proposals[proposal.ID] = proposal
	return nil
}

func (m *MemoryStore) AttachValidation(ctx context.Context, validation Validation) (Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	implementation, ok := m.implementations[validation.ImplementationID]
	if !ok {
		return Proposal{}, ErrNotFound
	}
	proposal, err := m.transition(implementation.ProposalID, ProposalValidated)
	if err != nil {
		return Proposal{}, err
	}
	m.validations[validation.ID] = validation
	if validation.Outcome == ValidationPassed {
		proposal.Status = ProposalValidated
		proposal.ImplementationStatus = ImplementationValidated
	}
	proposal.UpdatedAt = validation.CreatedAt
	m.proposals[proposal.ID] = proposal
	return proposal, nil
}

func (m *MemoryStore) RejectProposal(ctx context.Context, proposalID, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	proposal, err := m.transition(proposalID, ProposalRejected)
	if err != nil {
		return err
	}
	proposal.Status = ProposalRejected
	proposal.RejectionReason = reason
	proposal.UpdatedAt = at
	m.proposals[proposalID] = proposal
	return nil
}

func (m *MemoryStore) MarkSynced(ctx context.Context, proposalID string, at time.Time) (SyncRelationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	proposal, ok := m.proposals[proposalID]
	if !ok {
		return SyncRelationship{}, ErrNotFound
	}
	if _, exists := m.synced[proposalID]; exists || proposal.Status == ProposalSynced {
		return SyncRelationship{}, ErrAlreadySynced
	}
	if !proposal.SyncAllowed() {
		return SyncRelationship{}, &GuardrailViolation{
			ProposalID:           proposalID,
			Status:               proposal.Status,
			ImplementationStatus: proposal.ImplementationStatus,
		}
	}
	if _, ok := m.sections[proposal.TargetSection]; !ok {
		return SyncRelationship{}, ErrSectionNotFound
	}
	rel := SyncRelationship{ProposalID: proposalID, SectionSlug: proposal.TargetSection, SyncedAt: at}
	m.synced[proposalID] = rel
	proposal.Status = ProposalSynced
	proposal.UpdatedAt = at
	m.proposals[proposalID] = proposal
	return rel, nil
}

func (m *MemoryStore) GetSyncRelationship(ctx context.Context, proposalID string) (SyncRelationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rel, ok := m.synced[proposalID]
	if !ok {
		return SyncRelationship{}, ErrNotFound
	}
	return rel, nil
}

// SyncRelationshipCount returns the number of SYNCED_TO edges.
func (m *MemoryStore) SyncRelationshipCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.synced)
}

// SetProposalFields overwrites the two guardrail fields directly. It models
// an out-of-band write to a single field and exists for tests.
func (m *MemoryStore) SetProposalFields(proposalID string, status ProposalStatus, implementationStatus ImplementationStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	proposal := m.proposals[proposalID]
	proposal.Status = status
	proposal.ImplementationStatus = implementationStatus
	m.proposals[proposalID] = proposal
}
