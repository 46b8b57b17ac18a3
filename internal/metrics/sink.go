package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// Probe metrics
	ProbeCompleted(check string, ok bool, duration time.Duration)

	// Orchestrator metrics
	RunsInFlightIncr()
	RunsInFlightDecr()
	RunCompleted(outcome string, duration time.Duration)
	CandidateSkipped(reason string)

	// Pool metrics
	AccountClaimed()
	AccountDiscarded()
	PoolSizeUpdate(size int)

	// Stream registry metrics
	SubscribersUpdate(count int)
	PublishDropped()

	// Sweeper metrics
	SweepCompleted(checked, discarded int, duration time.Duration)

	// Leader election metrics
	LeaderStatusChanged(isLeader bool)
}

// Probe result labels.
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
)

// ProbeResult maps a boolean probe outcome to its metrics label.
func ProbeResult(ok bool) string {
	if ok {
		return ResultOK
	}
	return ResultFailed
}
