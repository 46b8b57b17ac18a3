// Package sweeper keeps the replacement pool honest.
//
// Pooled sessions rot on their own: the upstream provider expires them,
// or the seller changes the password out from under us. The sweeper
// periodically probes every available account and discards the dead
// ones, so warranty runs spend less time skipping corpses.
//
// Discarding a live account by mistake only costs a spare; handing a
// dead account to a customer costs a support ticket. The sweeper
// inherits the probe's conservative bias accordingly.
package sweeper

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/slotshare/warranty/internal/cron"
	"github.com/slotshare/warranty/internal/domain"
)

// Pool defines the pool operations the sweeper needs.
type Pool interface {
	ListAvailable(ctx context.Context, limit int) ([]domain.PooledAccount, error)
	Discard(ctx context.Context, id uuid.UUID) error
}

// Prober checks whether a stored session still works.
type Prober interface {
	CheckSession(ctx context.Context, session string) bool
}

// LeaderGate reports whether this instance currently holds the sweep
// lease. With multiple instances running, only the leader sweeps.
type LeaderGate interface {
	IsLeader() bool
}

// MetricsSink records sweep activity. Methods must be non-blocking.
type MetricsSink interface {
	SweepCompleted(checked, discarded int, duration time.Duration)
}

// Config holds sweeper configuration.
type Config struct {
	// BatchSize is the maximum number of accounts probed per cycle.
	// Default: 50.
	BatchSize int
}

// DefaultConfig returns the default sweeper configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize: 50,
	}
}

// Sweeper probes pooled accounts on a cron schedule and discards dead ones.
type Sweeper struct {
	config  Config
	sched   cron.Schedule
	pool    Pool
	prober  Prober
	leader  LeaderGate  // optional, nil = always sweep
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time
}

// New creates a new Sweeper firing per sched.
func New(config Config, sched cron.Schedule, pool Pool, prober Prober) *Sweeper {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	return &Sweeper{
		config: config,
		sched:  sched,
		pool:   pool,
		prober: prober,
		clock:  time.Now,
	}
}

// WithLeaderGate restricts sweeping to the lease holder.
func (s *Sweeper) WithLeaderGate(gate LeaderGate) *Sweeper {
	s.leader = gate
	return s
}

// WithMetrics attaches a metrics sink.
func (s *Sweeper) WithMetrics(sink MetricsSink) *Sweeper {
	s.metrics = sink
	return s
}

// Run executes the sweep loop. It blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	log.Printf("sweeper: started (batch=%d)", s.config.BatchSize)

	for {
		now := s.clock()
		next := s.sched.Next(now)
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			log.Println("sweeper: stopped")
			return
		case <-timer.C:
			if s.leader != nil && !s.leader.IsLeader() {
				log.Println("sweeper: not leader, skipping cycle")
				continue
			}
			s.runCycle(ctx)
		}
	}
}

// runCycle executes one sweep cycle.
func (s *Sweeper) runCycle(ctx context.Context) {
	start := s.clock()

	accounts, err := s.pool.ListAvailable(ctx, s.config.BatchSize)
	if err != nil {
		// DB error: log and abort cycle. Will retry next fire.
		log.Printf("sweeper: failed to list pool: %v", err)
		return
	}

	if len(accounts) == 0 {
		// Empty pool. Silent success.
		return
	}

	checked := 0
	discarded := 0

	for _, acct := range accounts {
		// Check context before each probe to allow graceful shutdown
		if ctx.Err() != nil {
			log.Printf("sweeper: cycle interrupted, probed %d/%d accounts", checked, len(accounts))
			break
		}

		checked++
		if s.prober.CheckSession(ctx, acct.Session) {
			continue
		}

		if err := s.pool.Discard(ctx, acct.ID); err != nil {
			// Discard failed. Log and continue - will retry next cycle.
			log.Printf("sweeper: failed to discard account=%s: %v", acct.ID, err)
			continue
		}

		log.Printf("sweeper: discarded dead account=%s (age=%s)",
			acct.ID, start.Sub(acct.CreatedAt).Round(time.Second))
		discarded++
	}

	duration := s.clock().Sub(start)
	if s.metrics != nil {
		s.metrics.SweepCompleted(checked, discarded, duration)
	}
	log.Printf("sweeper: cycle complete, checked=%d, discarded=%d, took=%s",
		checked, discarded, duration.Round(time.Millisecond))
}
