package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"archsync/internal/governance"
	"archsync/internal/graphsync"
)

var _ governance.Metrics = (*Collectors)(nil)

func TestObserveSync(t *testing.T) {
	c := New()
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	c.ObserveSync("completed", graphsync.Result{
		Created:    2,
		Deleted:    1,
		Failed:     1,
		StartedAt:  start,
		FinishedAt: start.Add(2 * time.Second),
	})
	c.ObserveSync("unavailable", graphsync.Result{})

	if got := testutil.ToFloat64(c.syncPasses.WithLabelValues("completed")); got != 1 {
		t.Errorf("completed passes = %v", got)
	}
	if got := testutil.ToFloat64(c.syncPasses.WithLabelValues("unavailable")); got != 1 {
		t.Errorf("unavailable passes = %v", got)
	}
	if got := testutil.ToFloat64(c.syncSections.WithLabelValues("created")); got != 2 {
		t.Errorf("created sections = %v", got)
	}
	if got := testutil.ToFloat64(c.lastSuccess); got != float64(start.Add(2*time.Second).Unix()) {
		t.Errorf("last success = %v", got)
	}
}

func TestHandlerExposesGovernanceCounters(t *testing.T) {
	c := New()
	c.ObserveGovernance(governance.ActionMarkSynced, governance.OutcomeGuardrailViolation)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	want := `archsync_governance_actions_total{action="mark_synced",outcome="guardrail_violation"} 1`
	if !strings.Contains(body, want) {
		t.Errorf("metrics output missing %q", want)
	}
}
