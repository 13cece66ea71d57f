package telemetry

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCounts(t *testing.T) {
	c := NewCollector()
	r := NewRecorder(c)

	r.Event("proposal_created")
	r.Event("proposal_created")
	r.Failure("req", "fetching", "timeout", "uri=ipfs://x", errors.New("deadline"))
	r.Drop("no_voting_space")
	r.Retry("req", "writing", 1, errors.New("conn reset"))
	r.ProposalWritten("ADD_EDIT")
	r.VersionsWritten(3)
	r.InvariantViolation("req", "e1", errors.New("no triples"))
	r.BlockDone(42, 150*time.Millisecond)

	if got := testutil.ToFloat64(c.events.WithLabelValues("proposal_created")); got != 2 {
		t.Errorf("events_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.failures.WithLabelValues("fetching", "timeout")); got != 1 {
		t.Errorf("failures_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.drops.WithLabelValues("no_voting_space")); got != 1 {
		t.Errorf("drops_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.retries.WithLabelValues("writing")); got != 1 {
		t.Errorf("retries_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.versionsWritten); got != 3 {
		t.Errorf("versions_written_total = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.invariantViolations); got != 1 {
		t.Errorf("invariant_violations_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.lastBlock); got != 42 {
		t.Errorf("last_block = %v, want 42", got)
	}
}

func TestCollectorRegisters(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	c := NewCollector()
	if err := reg.Register(c); err != nil {
		t.Fatalf("register: %v", err)
	}
	NewRecorder(c).ProposalWritten("ADD_MEMBER")

	expected := `
# HELP kgsink_proposals_written_total The number of proposals persisted, by type.
# TYPE kgsink_proposals_written_total counter
kgsink_proposals_written_total{type="ADD_MEMBER"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "kgsink_proposals_written_total"); err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}
