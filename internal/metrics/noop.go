package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) ProbeCompleted(check string, ok bool, duration time.Duration) {}

func (n *NoopSink) RunsInFlightIncr() {}

func (n *NoopSink) RunsInFlightDecr() {}

func (n *NoopSink) RunCompleted(outcome string, duration time.Duration) {}

func (n *NoopSink) CandidateSkipped(reason string) {}

func (n *NoopSink) AccountClaimed() {}

func (n *NoopSink) AccountDiscarded() {}

func (n *NoopSink) PoolSizeUpdate(size int) {}

func (n *NoopSink) SubscribersUpdate(count int) {}

func (n *NoopSink) PublishDropped() {}

func (n *NoopSink) SweepCompleted(checked, discarded int, duration time.Duration) {}

func (n *NoopSink) LeaderStatusChanged(isLeader bool) {}

// Verify NoopSink implements Sink interface.
var _ Sink = (*NoopSink)(nil)
