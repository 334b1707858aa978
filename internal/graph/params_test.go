package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPropertySetClauseAndParams(t *testing.T) {
	set := newPropertySet("p").
		Set("status", "vetted").
		Set("updatedAt", "2026-01-01T00:00:00Z").
		Set("status", "rejected")

	assert.Equal(t, "n.status = $p_status, n.updatedAt = $p_updatedAt", set.Clause("n"))
	assert.Equal(t, map[string]any{"p_status": "rejected", "p_updatedAt": "2026-01-01T00:00:00Z"}, set.Params())
	assert.Equal(t, map[string]any{"status": "rejected", "updatedAt": "2026-01-01T00:00:00Z"}, set.Map())
	assert.Equal(t, []string{"status", "updatedAt"}, set.Names())
}

func TestPropertySetRejectsInjectedNames(t *testing.T) {
	for _, name := range []string{"", "status = 'synced'", "a.b", "1abc", "x}) DETACH DELETE (n"} {
		assert.Panics(t, func() { newPropertySet("p").Set(name, "x") }, name)
	}
}

func TestValuesNeverReachClause(t *testing.T) {
	set := newPropertySet("s").Set("title", "'); MATCH (n) DETACH DELETE n //")
	assert.NotContains(t, set.Clause("s"), "DETACH")
}

func TestSectionPropsRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 8, time.UTC)
	section := Section{
		Slug:               "data-model",
		Title:              "Data Model",
		Content:            "Entities are Y and Z.",
		Order:              1,
		Checksum:           "abc",
		SourceRevision:     "rev-1",
		ParentSectionLabel: "Core",
		UpdatedAt:          at,
	}

	got := sectionFromProps(sectionProperties(section, "pass-1").Map())

	want := section
	want.LastTouchedPassID = "pass-1"
	require.Equal(t, want, got)
}

func TestProposalStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to ProposalStatus
		want     bool
	}{
		{ProposalDraft, ProposalVetted, true},
		{ProposalDraft, ProposalValidated, false},
		{ProposalDraft, ProposalSynced, false},
		{ProposalDraft, ProposalRejected, true},
		{ProposalVetted, ProposalValidated, true},
		{ProposalVetted, ProposalSynced, false},
		{ProposalVetted, ProposalRejected, true},
		{ProposalValidated, ProposalSynced, true},
		{ProposalValidated, ProposalRejected, true},
		{ProposalSynced, ProposalRejected, false},
		{ProposalRejected, ProposalSynced, false},
		{ProposalRejected, ProposalDraft, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.from)+"_to_"+string(tc.to), func(t *testing.T) {
			assert.Equal(t, tc.want, tc.from.CanTransitionTo(tc.to))
		})
	}
}

func TestEscapeLucene(t *testing.T) {
	cases := map[string]string{
		"cache layer":   "cache layer",
		"foo(":          `foo\(`,
		"a && b || !c":  `a \&\& b \|\| \!c`,
		`path/to:"x"~2`: `path\/to\:\"x\"\~2`,
		`back\slash*`:   `back\\slash\*`,
		"größe [v1]^2":  `größe \[v1\]\^2`,
	}
	for in, want := range cases {
		assert.Equal(t, want, escapeLucene(in), in)
	}
}
