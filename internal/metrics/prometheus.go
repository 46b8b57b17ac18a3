package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Probe metrics
	probesTotal   *prometheus.CounterVec
	probeDuration prometheus.Histogram

	// Orchestrator metrics
	runsTotal              *prometheus.CounterVec
	runDuration            prometheus.Histogram
	runsInFlight           prometheus.Gauge
	candidatesSkippedTotal *prometheus.CounterVec

	// Pool metrics
	accountsClaimedTotal   prometheus.Counter
	accountsDiscardedTotal prometheus.Counter
	poolAvailable          prometheus.Gauge

	// Stream registry metrics
	streamSubscribers        prometheus.Gauge
	streamEventsDroppedTotal prometheus.Counter

	// Sweeper metrics
	sweepCheckedTotal   prometheus.Counter
	sweepDiscardedTotal prometheus.Counter
	sweepDuration       prometheus.Histogram

	// Leader election metrics
	leaderStatus prometheus.Gauge
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initProbeMetrics(reg)
	s.initRunMetrics(reg)
	s.initPoolMetrics(reg)
	s.initStreamMetrics(reg)
	s.initSweepMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initProbeMetrics(reg prometheus.Registerer) {
	s.probesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warrantyd_probes_total",
		Help: "Total number of account liveness probes.",
	}, []string{"check", "result"})
	s.probeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "warrantyd_probe_duration_seconds",
		Help:    "Duration of each liveness probe in seconds.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60},
	})

	s.register(reg, s.probesTotal, "warrantyd_probes_total")
	s.register(reg, s.probeDuration, "warrantyd_probe_duration_seconds")
}

func (s *PrometheusSink) initRunMetrics(reg prometheus.Registerer) {
	s.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warrantyd_runs_total",
		Help: "Total number of completed warranty runs per outcome.",
	}, []string{"outcome"})
	s.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "warrantyd_run_duration_seconds",
		Help:    "End-to-end duration of warranty runs in seconds.",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})
	s.runsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "warrantyd_runs_in_flight",
		Help: "Number of warranty runs currently executing.",
	})
	s.candidatesSkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warrantyd_candidates_skipped_total",
		Help: "Total number of replacement candidates discarded per reason.",
	}, []string{"reason"})

	s.register(reg, s.runsTotal, "warrantyd_runs_total")
	s.register(reg, s.runDuration, "warrantyd_run_duration_seconds")
	s.register(reg, s.runsInFlight, "warrantyd_runs_in_flight")
	s.register(reg, s.candidatesSkippedTotal, "warrantyd_candidates_skipped_total")
}

func (s *PrometheusSink) initPoolMetrics(reg prometheus.Registerer) {
	s.accountsClaimedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warrantyd_pool_accounts_claimed_total",
		Help: "Total number of accounts claimed from the pool.",
	})
	s.accountsDiscardedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warrantyd_pool_accounts_discarded_total",
		Help: "Total number of accounts discarded from the pool.",
	})
	s.poolAvailable = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "warrantyd_pool_available_accounts",
		Help: "Number of available accounts remaining in the pool.",
	})

	s.register(reg, s.accountsClaimedTotal, "warrantyd_pool_accounts_claimed_total")
	s.register(reg, s.accountsDiscardedTotal, "warrantyd_pool_accounts_discarded_total")
	s.register(reg, s.poolAvailable, "warrantyd_pool_available_accounts")
}

func (s *PrometheusSink) initStreamMetrics(reg prometheus.Registerer) {
	s.streamSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "warrantyd_stream_subscribers",
		Help: "Number of active progress stream subscriptions.",
	})
	s.streamEventsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warrantyd_stream_events_dropped_total",
		Help: "Total number of progress events dropped on full subscriber buffers.",
	})

	s.register(reg, s.streamSubscribers, "warrantyd_stream_subscribers")
	s.register(reg, s.streamEventsDroppedTotal, "warrantyd_stream_events_dropped_total")
}

func (s *PrometheusSink) initSweepMetrics(reg prometheus.Registerer) {
	s.sweepCheckedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warrantyd_sweep_accounts_checked_total",
		Help: "Total number of pooled accounts probed by the sweeper.",
	})
	s.sweepDiscardedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warrantyd_sweep_accounts_discarded_total",
		Help: "Total number of dead pooled accounts discarded by the sweeper.",
	})
	s.sweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "warrantyd_sweep_duration_seconds",
		Help:    "Duration of each pool sweep cycle in seconds.",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
	})

	s.register(reg, s.sweepCheckedTotal, "warrantyd_sweep_accounts_checked_total")
	s.register(reg, s.sweepDiscardedTotal, "warrantyd_sweep_accounts_discarded_total")
	s.register(reg, s.sweepDuration, "warrantyd_sweep_duration_seconds")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.leaderStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "warrantyd_leader_status",
		Help: "Whether this instance currently holds the sweep leader lock (1 = leader).",
	})

	s.register(reg, s.leaderStatus, "warrantyd_leader_status")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Probe metrics implementation

func (s *PrometheusSink) ProbeCompleted(check string, ok bool, duration time.Duration) {
	s.probesTotal.WithLabelValues(check, ProbeResult(ok)).Inc()
	s.probeDuration.Observe(duration.Seconds())
}

// Orchestrator metrics implementation

func (s *PrometheusSink) RunsInFlightIncr() {
	s.runsInFlight.Inc()
}

func (s *PrometheusSink) RunsInFlightDecr() {
	s.runsInFlight.Dec()
}

func (s *PrometheusSink) RunCompleted(outcome string, duration time.Duration) {
	s.runsTotal.WithLabelValues(outcome).Inc()
	s.runDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) CandidateSkipped(reason string) {
	s.candidatesSkippedTotal.WithLabelValues(reason).Inc()
}

// Pool metrics implementation

func (s *PrometheusSink) AccountClaimed() {
	s.accountsClaimedTotal.Inc()
	s.poolAvailable.Dec()
}

func (s *PrometheusSink) AccountDiscarded() {
	s.accountsDiscardedTotal.Inc()
	s.poolAvailable.Dec()
}

func (s *PrometheusSink) PoolSizeUpdate(size int) {
	s.poolAvailable.Set(float64(size))
}

// Stream registry metrics implementation

func (s *PrometheusSink) SubscribersUpdate(count int) {
	s.streamSubscribers.Set(float64(count))
}

func (s *PrometheusSink) PublishDropped() {
	s.streamEventsDroppedTotal.Inc()
}

// Sweeper metrics implementation

func (s *PrometheusSink) SweepCompleted(checked, discarded int, duration time.Duration) {
	s.sweepCheckedTotal.Add(float64(checked))
	s.sweepDiscardedTotal.Add(float64(discarded))
	s.sweepDuration.Observe(duration.Seconds())
}

// Leader election metrics implementation

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.leaderStatus.Set(1)
		return
	}
	s.leaderStatus.Set(0)
}

// Verify PrometheusSink implements Sink interface.
var _ Sink = (*PrometheusSink)(nil)
