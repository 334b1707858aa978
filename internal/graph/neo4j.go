package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"archsync/internal/logger"
	"archsync/internal/neo4jdb"
)

const sectionFullTextIndex = "section_fulltext"

// Neo4jStore persists sections and governance records as labelled nodes.
type Neo4jStore struct {
	client *neo4jdb.Client
	log    *logger.Logger
}

func NewNeo4jStore(client *neo4jdb.Client, log *logger.Logger) *Neo4jStore {
	if log == nil {
		log = logger.Nop()
	}
	return &Neo4jStore{client: client, log: log.With("store", "neo4j")}
}

// EnsureConstraints creates the uniqueness constraints MERGE relies on.
func (s *Neo4jStore) EnsureConstraints(ctx context.Context) error {
	stmts := []string{
		`CREATE CONSTRAINT section_slug_unique IF NOT EXISTS FOR (s:Section) REQUIRE s.slug IS UNIQUE`,
		`CREATE CONSTRAINT architecture_document_id_unique IF NOT EXISTS FOR (d:ArchitectureDocument) REQUIRE d.id IS UNIQUE`,
		`CREATE CONSTRAINT opportunity_id_unique IF NOT EXISTS FOR (o:Opportunity) REQUIRE o.id IS UNIQUE`,
		`CREATE CONSTRAINT proposal_id_unique IF NOT EXISTS FOR (p:Proposal) REQUIRE p.id IS UNIQUE`,
		`CREATE CONSTRAINT vetting_id_unique IF NOT EXISTS FOR (v:Vetting) REQUIRE v.id IS UNIQUE`,
		`CREATE CONSTRAINT implementation_id_unique IF NOT EXISTS FOR (i:Implementation) REQUIRE i.id IS UNIQUE`,
		`CREATE CONSTRAINT validation_id_unique IF NOT EXISTS FOR (v:Validation) REQUIRE v.id IS UNIQUE`,
	}
	session := s.client.WriteSession(ctx)
	defer session.Close(ctx)
	for _, q := range stmts {
		res, err := session.Run(ctx, q, nil)
		if err != nil {
			return fmt.Errorf("ensure constraint: %w", err)
		}
		if _, err := res.Consume(ctx); err != nil {
			return fmt.Errorf("ensure constraint: %w", err)
		}
	}
	return nil
}

func (s *Neo4jStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

func (s *Neo4jStore) write(ctx context.Context, work func(tx neo4j.ManagedTransaction) (any, error)) (any, error) {
	session := s.client.WriteSession(ctx)
	defer session.Close(ctx)
	return session.ExecuteWrite(ctx, work)
}

func (s *Neo4jStore) read(ctx context.Context, work func(tx neo4j.ManagedTransaction) (any, error)) (any, error) {
	session := s.client.ReadSession(ctx)
	defer session.Close(ctx)
	return session.ExecuteRead(ctx, work)
}

func (s *Neo4jStore) MarkStale(ctx context.Context, passID string) (int, error) {
	out, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (s:Section)
SET s.stale = true
RETURN count(s) AS marked
`, nil)
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		marked, _ := record.Get("marked")
		return marked, nil
	})
	if err != nil {
		return 0, fmt.Errorf("mark sections stale: %w", err)
	}
	count, _ := out.(int64)
	return int(count), nil
}

func (s *Neo4jStore) UpsertSection(ctx context.Context, section Section, passID string) (UpsertOutcome, error) {
	props := sectionProperties(section, passID)
	out, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
OPTIONAL MATCH (old:Section {slug: $slug})
WITH old IS NULL AS created, properties(old) AS previous
MERGE (s:Section {slug: $slug})
SET s += $props
RETURN created, previous
`, map[string]any{"slug": section.Slug, "props": props.Map()})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		created, _ := record.Get("created")
		if isCreated, _ := created.(bool); isCreated {
			return UpsertCreated, nil
		}
		previous, _ := record.Get("previous")
		prevProps, _ := previous.(map[string]any)
		if sectionFromProps(prevProps).SameContent(section) {
			return UpsertUnchanged, nil
		}
		return UpsertUpdated, nil
	})
	if err != nil {
		return "", fmt.Errorf("upsert section %s: %w", section.Slug, err)
	}
	return out.(UpsertOutcome), nil
}

func (s *Neo4jStore) SweepStale(ctx context.Context, passID string, keep []string) ([]string, error) {
	if keep == nil {
		keep = []string{}
	}
	params := map[string]any{"passId": passID, "keep": keep}
	out, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
MATCH (s:Section)
WHERE s.stale = true AND s.slug IN $keep
SET s.stale = false
`, params); err != nil {
			return nil, err
		}
		res, err := tx.Run(ctx, `
MATCH (s:Section)
WHERE s.stale = true AND coalesce(s.lastTouchedPassId, '') <> $passId AND NOT s.slug IN $keep
WITH s, s.slug AS slug
DETACH DELETE s
RETURN slug
ORDER BY slug
`, params)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		slugs := make([]string, 0, len(records))
		for _, record := range records {
			slug, _ := record.Get("slug")
			if value, ok := slug.(string); ok {
				slugs = append(slugs, value)
			}
		}
		return slugs, nil
	})
	if err != nil {
		return nil, fmt.Errorf("sweep stale sections: %w", err)
	}
	slugs := out.([]string)
	if len(slugs) > 0 {
		s.log.Debug("swept stale sections", "pass_id", passID, "count", len(slugs))
	}
	return slugs, nil
}

func (s *Neo4jStore) EnsureFullTextIndex(ctx context.Context) error {
	session := s.client.WriteSession(ctx)
	defer session.Close(ctx)
	res, err := session.Run(ctx, `CREATE FULLTEXT INDEX `+sectionFullTextIndex+` IF NOT EXISTS FOR (s:Section) ON EACH [s.title, s.content]`, nil)
	if err != nil {
		return fmt.Errorf("ensure fulltext index: %w", err)
	}
	if _, err := res.Consume(ctx); err != nil {
		return fmt.Errorf("ensure fulltext index: %w", err)
	}
	return nil
}

func (s *Neo4jStore) UpsertDocument(ctx context.Context, doc ArchitectureDocument) error {
	props := documentProperties(doc)
	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MERGE (d:ArchitectureDocument {id: $id})
SET d += $props
`, map[string]any{"id": doc.ID, "props": props.Map()})
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	if err != nil {
		return fmt.Errorf("upsert architecture document: %w", err)
	}
	return nil
}

func (s *Neo4jStore) ListSections(ctx context.Context) ([]Section, error) {
	out, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (s:Section)
RETURN properties(s) AS props
ORDER BY s.order, s.slug
`, nil)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		items := make([]Section, 0, len(records))
		for _, record := range records {
			raw, _ := record.Get("props")
			props, _ := raw.(map[string]any)
			items = append(items, sectionFromProps(props))
		}
		return items, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	return out.([]Section), nil
}

func (s *Neo4jStore) SearchSections(ctx context.Context, query string, limit int) ([]SectionHit, error) {
	if limit <= 0 {
		limit = 20
	}
	out, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
CALL db.index.fulltext.queryNodes($index, $query) YIELD node, score
RETURN node.slug AS slug, node.title AS title, left(coalesce(node.content, ''), 160) AS snippet, score
ORDER BY score DESC
LIMIT $limit
`, map[string]any{"index": sectionFullTextIndex, "query": escapeLucene(query), "limit": int64(limit)})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		hits := make([]SectionHit, 0, len(records))
		for _, record := range records {
			props := record.AsMap()
			score, _ := props["score"].(float64)
			hits = append(hits, SectionHit{
				Slug:    stringProp(props, "slug"),
				Title:   stringProp(props, "title"),
				Snippet: stringProp(props, "snippet"),
				Score:   score,
			})
		}
		return hits, nil
	})
	if err != nil {
		return nil, fmt.Errorf("search sections: %w", err)
	}
	return out.([]SectionHit), nil
}

func (s *Neo4jStore) CreateOpportunity(ctx context.Context, opportunity Opportunity) error {
	if opportunity.Status == "" {
		opportunity.Status = OpportunityOpen
	}
	props := opportunityProperties(opportunity)
	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `CREATE (o:Opportunity $props)`, map[string]any{"props": props.Map()})
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	if err != nil {
		return fmt.Errorf("create opportunity: %w", err)
	}
	return nil
}

func (s *Neo4jStore) GetOpportunity(ctx context.Context, id string) (Opportunity, error) {
	props, err := s.readProps(ctx, `MATCH (o:Opportunity {id: $id}) RETURN properties(o) AS props`, id)
	if err != nil {
		return Opportunity{}, fmt.Errorf("get opportunity: %w", err)
	}
	return opportunityFromProps(props), nil
}

func (s *Neo4jStore) GetProposal(ctx context.Context, id string) (Proposal, error) {
	props, err := s.readProps(ctx, `MATCH (p:Proposal {id: $id}) RETURN properties(p) AS props`, id)
	if err != nil {
		return Proposal{}, fmt.Errorf("get proposal: %w", err)
	}
	return proposalFromProps(props), nil
}

func (s *Neo4jStore) readProps(ctx context.Context, cypher, id string) (map[string]any, error) {
	out, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, ErrNotFound
		}
		raw, _ := records[0].Get("props")
		props, _ := raw.(map[string]any)
		return props, nil
	})
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

// lockProposal takes the proposal's write lock for the rest of tx and returns
// its current state. Reads after the lock see the latest committed values.
func lockProposal(ctx context.Context, tx neo4j.ManagedTransaction, proposalID string, at time.Time) (Proposal, error) {
	res, err := tx.Run(ctx, `
MATCH (p:Proposal {id: $id})
SET p.lockedAt = $at
RETURN properties(p) AS props
`, map[string]any{"id": proposalID, "at": formatTime(at)})
	if err != nil {
		return Proposal{}, err
	}
	records, err := res.Collect(ctx)
	if err != nil {
		return Proposal{}, err
	}
	if len(records) == 0 {
		return Proposal{}, ErrNotFound
	}
	raw, _ := records[0].Get("props")
	props, _ := raw.(map[string]any)
	return proposalFromProps(props), nil
}

func (s *Neo4jStore) EvolveOpportunity(ctx context.Context, opportunityID string, proposal Proposal) error {
	proposal.OpportunityID = opportunityID
	props := proposalProperties(proposal)
	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (o:Opportunity {id: $opportunityId})
SET o.lockedAt = $at
RETURN o.status AS status
`, map[string]any{"opportunityId": opportunityID, "at": formatTime(proposal.CreatedAt)})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, ErrNotFound
		}
		status := stringProp(records[0].AsMap(), "status")
		if OpportunityStatus(status) != OpportunityOpen {
			return nil, &TransitionError{Entity: "opportunity", ID: opportunityID, From: status, To: string(OpportunityEvolved)}
		}
		res, err = tx.Run(ctx, `
MATCH (o:Opportunity {id: $opportunityId})
SET o.status = $evolved
CREATE (o)-[:EVOLVES_INTO {createdAt: $at}]->(p:Proposal $props)
`, map[string]any{
			"opportunityId": opportunityID,
			"evolved":       string(OpportunityEvolved),
			"at":            formatTime(proposal.CreatedAt),
			"props":         props.Map(),
		})
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	if err != nil {
		return fmt.Errorf("evolve opportunity %s: %w", opportunityID, err)
	}
	return nil
}

func (s *Neo4jStore) AttachVetting(ctx context.Context, vetting Vetting) error {
	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		proposal, err := lockProposal(ctx, tx, vetting.ProposalID, vetting.CreatedAt)
		if err != nil {
			return nil, err
		}
		if !proposal.Status.CanTransitionTo(ProposalVetted) {
			return nil, &TransitionError{Entity: "proposal", ID: proposal.ID, From: string(proposal.Status), To: string(ProposalVetted)}
		}
		update := newPropertySet("upd").
			Set("status", string(ProposalVetted)).
			Set("updatedAt", formatTime(vetting.CreatedAt))
		res, err := tx.Run(ctx, `
MATCH (p:Proposal {id: $proposalId})
CREATE (p)-[:HAS_VETTING]->(:Vetting $vetting)
SET `+update.Clause("p"), mergeParams(update.Params(), map[string]any{
			"proposalId": vetting.ProposalID,
			"vetting":    vettingProperties(vetting).Map(),
		}))
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	if err != nil {
		return fmt.Errorf("attach vetting: %w", err)
	}
	return nil
}

func (s *Neo4jStore) AttachImplementation(ctx context.Context, implementation Implementation) error {
	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		proposal, err := lockProposal(ctx, tx, implementation.ProposalID, implementation.CreatedAt)
		if err != nil {
			return nil, err
		}
		if proposal.Status != ProposalVetted {
			return nil, &TransitionError{Entity: "proposal", ID: proposal.ID, From: string(proposal.Status), To: "implemented"}
		}
		update := newPropertySet("upd").
			Set("implementationStatus", string(ImplementationPending)).
			Set("updatedAt", formatTime(implementation.CreatedAt))
		res, err := tx.Run(ctx, `
MATCH (p:Proposal {id: $proposalId})
CREATE (p)-[:IMPLEMENTED_BY]->(:Implementation $implementation)
SET `+update.Clause("p"), mergeParams(update.Params(), map[string]any{
			"proposalId":     implementation.ProposalID,
			"implementation": implementationProperties(implementation).Map(),
		}))
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	if err != nil {
		return fmt.Errorf("attach implementation: %w", err)
	}
	return nil
}

func (s *Neo4jStore) AttachValidation(ctx context.Context, validation Validation) (Proposal, error) {
	out, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (p:Proposal)-[:IMPLEMENTED_BY]->(i:Implementation {id: $implementationId})
RETURN p.id AS proposalId
`, map[string]any{"implementationId": validation.ImplementationID})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, ErrNotFound
		}
		proposalID := stringProp(records[0].AsMap(), "proposalId")
		proposal, err := lockProposal(ctx, tx, proposalID, validation.CreatedAt)
		if err != nil {
			return nil, err
		}
		if !proposal.Status.CanTransitionTo(ProposalValidated) {
			return nil, &TransitionError{Entity: "proposal", ID: proposal.ID, From: string(proposal.Status), To: string(ProposalValidated)}
		}
		update := newPropertySet("upd").Set("updatedAt", formatTime(validation.CreatedAt))
		if validation.Outcome == ValidationPassed {
			update.Set("status", string(ProposalValidated))
			update.Set("implementationStatus", string(ImplementationValidated))
			proposal.Status = ProposalValidated
			proposal.ImplementationStatus = ImplementationValidated
		}
		res, err = tx.Run(ctx, `
MATCH (p:Proposal {id: $proposalId})-[:IMPLEMENTED_BY]->(i:Implementation {id: $implementationId})
CREATE (i)-[:VALIDATED_BY]->(:Validation $validation)
SET `+update.Clause("p"), mergeParams(update.Params(), map[string]any{
			"proposalId":       proposalID,
			"implementationId": validation.ImplementationID,
			"validation":       validationProperties(validation).Map(),
		}))
		if err != nil {
			return nil, err
		}
		if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}
		proposal.UpdatedAt = validation.CreatedAt
		return proposal, nil
	})
	if err != nil {
		return Proposal{}, fmt.Errorf("attach validation: %w", err)
	}
	return out.(Proposal), nil
}

func (s *Neo4jStore) RejectProposal(ctx context.Context, proposalID, reason string, at time.Time) error {
	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		proposal, err := lockProposal(ctx, tx, proposalID, at)
		if err != nil {
			return nil, err
		}
		if !proposal.Status.CanTransitionTo(ProposalRejected) {
			return nil, &TransitionError{Entity: "proposal", ID: proposal.ID, From: string(proposal.Status), To: string(ProposalRejected)}
		}
		update := newPropertySet("upd").
			Set("status", string(ProposalRejected)).
			Set("rejectionReason", reason).
			Set("updatedAt", formatTime(at))
		res, err := tx.Run(ctx, `
MATCH (p:Proposal {id: $proposalId})
SET `+update.Clause("p"), mergeParams(update.Params(), map[string]any{"proposalId": proposalID}))
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	if err != nil {
		return fmt.Errorf("reject proposal: %w", err)
	}
	return nil
}

// MarkSynced creates the SYNCED_TO edge in a single statement. The guardrail
// is part of the statement's own condition, so no value read by a previous
// statement can authorize the write.
func (s *Neo4jStore) MarkSynced(ctx context.Context, proposalID string, at time.Time) (SyncRelationship, error) {
	syncedAt := formatTime(at)
	out, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (p:Proposal {id: $proposalId})
SET p.lockedAt = $syncedAt
WITH p
OPTIONAL MATCH (p)-[existing:SYNCED_TO]->()
WITH p, count(existing) AS existingEdges
OPTIONAL MATCH (s:Section {slug: p.targetSection})
WITH p, s, existingEdges,
     p.status AS status,
     p.implementationStatus AS implementationStatus,
     (existingEdges = 0
        AND p.status = $validated
        AND p.implementationStatus = $implValidated
        AND s IS NOT NULL) AS allowed
FOREACH (_ IN CASE WHEN allowed THEN [1] ELSE [] END |
  CREATE (p)-[:SYNCED_TO {proposalId: p.id, sectionSlug: s.slug, syncedAt: $syncedAt}]->(s)
  SET p.status = $synced, p.updatedAt = $syncedAt
)
RETURN status, implementationStatus, existingEdges, s IS NOT NULL AS sectionFound, allowed, p.targetSection AS targetSection
`, map[string]any{
			"proposalId":    proposalID,
			"syncedAt":      syncedAt,
			"validated":     string(ProposalValidated),
			"implValidated": string(ImplementationValidated),
			"synced":        string(ProposalSynced),
		})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, ErrNotFound
		}
		row := records[0].AsMap()
		allowed, _ := row["allowed"].(bool)
		if allowed {
			return SyncRelationship{ProposalID: proposalID, SectionSlug: stringProp(row, "targetSection"), SyncedAt: at}, nil
		}
		status := ProposalStatus(stringProp(row, "status"))
		existing, _ := row["existingEdges"].(int64)
		if existing > 0 || status == ProposalSynced {
			return nil, ErrAlreadySynced
		}
		implStatus := ImplementationStatus(stringProp(row, "implementationStatus"))
		if status != ProposalValidated || implStatus != ImplementationValidated {
			return nil, &GuardrailViolation{ProposalID: proposalID, Status: status, ImplementationStatus: implStatus}
		}
		return nil, ErrSectionNotFound
	})
	if err != nil {
		return SyncRelationship{}, fmt.Errorf("mark proposal %s synced: %w", proposalID, err)
	}
	return out.(SyncRelationship), nil
}

func (s *Neo4jStore) GetSyncRelationship(ctx context.Context, proposalID string) (SyncRelationship, error) {
	out, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (p:Proposal {id: $proposalId})-[r:SYNCED_TO]->(s:Section)
RETURN s.slug AS slug, r.syncedAt AS syncedAt
`, map[string]any{"proposalId": proposalID})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, ErrNotFound
		}
		row := records[0].AsMap()
		return SyncRelationship{
			ProposalID:  proposalID,
			SectionSlug: stringProp(row, "slug"),
			SyncedAt:    parseTime(row["syncedAt"]),
		}, nil
	})
	if err != nil {
		return SyncRelationship{}, fmt.Errorf("get sync relationship: %w", err)
	}
	return out.(SyncRelationship), nil
}

var _ Store = (*Neo4jStore)(nil)
var _ Store = (*MemoryStore)(nil)
