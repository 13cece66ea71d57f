package telemetry

import (
	"log"
	"time"
)

// Recorder logs and counts pipeline outcomes. It is safe for concurrent use.
type Recorder struct {
	c *Collector
}

func NewRecorder(c *Collector) *Recorder {
	if c == nil {
		c = NewCollector()
	}
	return &Recorder{c: c}
}

func (r *Recorder) Collector() *Collector {
	return r.c
}

func (r *Recorder) Event(kind string) {
	r.c.events.WithLabelValues(kind).Inc()
}

// Failure records an event that left the pipeline at stage. detail carries
// identifying context such as proposal id, plugin and uri.
func (r *Recorder) Failure(requestID, stage, reason, detail string, err error) {
	log.Printf("pipeline: failed request_id=%s stage=%s reason=%s %s err=%v", requestID, stage, reason, detail, err)
	r.c.failures.WithLabelValues(stage, reason).Inc()
}

func (r *Recorder) Drop(reason string) {
	r.c.drops.WithLabelValues(reason).Inc()
}

func (r *Recorder) Retry(requestID, stage string, attempt int, err error) {
	log.Printf("pipeline: retry request_id=%s stage=%s attempt=%d err=%v", requestID, stage, attempt, err)
	r.c.retries.WithLabelValues(stage).Inc()
}

func (r *Recorder) ProposalWritten(proposalType string) {
	r.c.proposalsWritten.WithLabelValues(proposalType).Inc()
}

func (r *Recorder) VersionsWritten(n int) {
	r.c.versionsWritten.Add(float64(n))
}

func (r *Recorder) InvariantViolation(requestID, entityID string, err error) {
	log.Printf("pipeline: CRITICAL invariant violation request_id=%s entity=%s err=%v", requestID, entityID, err)
	r.c.invariantViolations.Inc()
}

func (r *Recorder) BlockDone(number int64, elapsed time.Duration) {
	r.c.blockDuration.Observe(elapsed.Seconds())
	r.c.lastBlock.Set(float64(number))
}
