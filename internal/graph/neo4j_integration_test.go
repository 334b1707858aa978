package graph

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"archsync/internal/logger"
	"archsync/internal/neo4jdb"
)

func openTestNeo4j(t *testing.T) *Neo4jStore {
	t.Helper()
	uri := os.Getenv("TEST_NEO4J_URI")
	if uri == "" || testing.Short() {
		t.Skip("TEST_NEO4J_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	client, err := neo4jdb.New(ctx, neo4jdb.Options{
		URI:      uri,
		User:     os.Getenv("TEST_NEO4J_USER"),
		Password: os.Getenv("TEST_NEO4J_PASSWORD"),
		Timeout:  10 * time.Second,
	}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close(context.Background()) })

	session := client.WriteSession(ctx)
	res, err := session.Run(ctx, `MATCH (n) WHERE n:Section OR n:ArchitectureDocument OR n:Opportunity OR n:Proposal OR n:Vetting OR n:Implementation OR n:Validation DETACH DELETE n`, nil)
	require.NoError(t, err)
	_, err = res.Consume(ctx)
	require.NoError(t, err)
	require.NoError(t, session.Close(ctx))

	store := NewNeo4jStore(client, logger.Nop())
	require.NoError(t, store.EnsureConstraints(ctx))
	return store
}

func TestNeo4jStoreSyncPassAndGuardrail(t *testing.T) {
	store := openTestNeo4j(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := store.UpsertSection(ctx, Section{Slug: "overview", Title: "Overview", Content: "X"}, "p1")
	require.NoError(t, err)
	_, err = store.UpsertSection(ctx, Section{Slug: "legacy", Title: "Legacy", Content: "old"}, "p1")
	require.NoError(t, err)

	_, err = store.MarkStale(ctx, "p2")
	require.NoError(t, err)
	outcome, err := store.UpsertSection(ctx, Section{Slug: "overview", Title: "Overview", Content: "X"}, "p2")
	require.NoError(t, err)
	assert.Equal(t, UpsertUnchanged, outcome)
	deleted, err := store.SweepStale(ctx, "p2", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"legacy"}, deleted)
	require.NoError(t, store.EnsureFullTextIndex(ctx))

	require.NoError(t, store.CreateOpportunity(ctx, Opportunity{ID: "o1", Title: "t", CreatedAt: now}))
	require.NoError(t, store.EvolveOpportunity(ctx, "o1", Proposal{ID: "pr1", TargetSection: "overview", Status: ProposalDraft, CreatedAt: now}))

	_, err = store.MarkSynced(ctx, "pr1", now)
	var violation *GuardrailViolation
	require.ErrorAs(t, err, &violation)

	require.NoError(t, store.AttachVetting(ctx, Vetting{ID: "v1", ProposalID: "pr1", CreatedAt: now}))
	require.NoError(t, store.AttachImplementation(ctx, Implementation{ID: "i1", ProposalID: "pr1", CreatedAt: now}))
	_, err = store.AttachValidation(ctx, Validation{ID: "val1", ImplementationID: "i1", Outcome: ValidationPassed, CreatedAt: now})
	require.NoError(t, err)

	rel, err := store.MarkSynced(ctx, "pr1", now)
	require.NoError(t, err)
	assert.Equal(t, "overview", rel.SectionSlug)

	_, err = store.MarkSynced(ctx, "pr1", now)
	assert.ErrorIs(t, err, ErrAlreadySynced)

	proposal, err := store.GetProposal(ctx, "pr1")
	require.NoError(t, err)
	assert.Equal(t, ProposalSynced, proposal.Status)
}
