// Package warranty runs the account-replacement state machine: verify the
// order's current account, and if it is dead walk the spare-account pool
// until a working replacement is found, migrating the order to it.
//
// A run is one sequential control flow per customer request. Runs for
// different orders are independent; the only shared resource is the account
// pool, whose claim operation is atomic at the store level.
package warranty

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/slotshare/warranty/internal/domain"
	"github.com/slotshare/warranty/internal/pool"
)

// historyMessage is the audit trail entry appended on every migration.
const historyMessage = "account replaced under warranty"

// defaultSafetyCap bounds the search loop. Termination is already guaranteed
// by the pool strictly shrinking on every claim; the cap only protects
// against a pool store that fails to shrink.
const defaultSafetyCap = 1000

// OrderStore is the order persistence contract.
type OrderStore interface {
	GetOrderByID(ctx context.Context, id uuid.UUID) (domain.Order, error)

	// RebindOrderAccount atomically rewrites the order's bound credentials
	// to acct's and appends one history entry. Implementations MUST make
	// this all-or-nothing: credentials without history (or the reverse) is
	// not an acceptable outcome.
	RebindOrderAccount(ctx context.Context, orderID uuid.UUID, acct domain.PooledAccount, message string) error
}

// AccountPool yields replacement candidates. Next claims and removes one
// available account, returning pool.ErrPoolEmpty when none remain.
type AccountPool interface {
	Next(ctx context.Context) (domain.PooledAccount, error)
}

// Prober runs the two liveness checks. Probes report plain booleans; all
// probe-internal errors count as failure.
type Prober interface {
	CheckSession(ctx context.Context, session string) bool
	ConfirmCredentials(ctx context.Context, session, secret string) bool
}

// Publisher fans progress events out to stream subscribers. Publish must
// not block the run indefinitely.
type Publisher interface {
	Publish(ctx context.Context, topic string, event domain.ProgressEvent) error
}

// MetricsSink records orchestrator metrics. All methods must be
// non-blocking and fire-and-forget.
type MetricsSink interface {
	RunsInFlightIncr()
	RunsInFlightDecr()
	RunCompleted(outcome string, duration time.Duration)
	CandidateSkipped(reason string)
}

// AnalyticsSink records run outcomes for reporting. Failures only cost
// dashboard data, never the run.
type AnalyticsSink interface {
	Record(ctx context.Context, planID string, outcome domain.RunOutcome) error
}

// Skip reasons for CandidateSkipped.
const (
	SkipReasonSessionDead  = "session_dead"
	SkipReasonPasswordFail = "password_check_failed"
)

// Orchestrator executes warranty runs.
type Orchestrator struct {
	orders    OrderStore
	pool      AccountPool
	prober    Prober
	publisher Publisher
	metrics   MetricsSink   // optional, nil = disabled
	analytics AnalyticsSink // optional, nil = disabled
	safetyCap int
}

func New(orders OrderStore, accounts AccountPool, prober Prober, publisher Publisher) *Orchestrator {
	return &Orchestrator{
		orders:    orders,
		pool:      accounts,
		prober:    prober,
		publisher: publisher,
		safetyCap: defaultSafetyCap,
	}
}

// WithMetrics attaches a metrics sink to the orchestrator.
func (o *Orchestrator) WithMetrics(sink MetricsSink) *Orchestrator {
	o.metrics = sink
	return o
}

// WithAnalytics attaches an analytics sink to the orchestrator.
func (o *Orchestrator) WithAnalytics(sink AnalyticsSink) *Orchestrator {
	o.analytics = sink
	return o
}

// Topic returns the pub/sub topic carrying a given order's run events.
func Topic(orderID uuid.UUID) string {
	return "warranty:" + orderID.String()
}

// run tracks the terminal-event invariant for one orchestration run.
type run struct {
	id       uuid.UUID
	orderID  uuid.UUID
	planID   string
	started  time.Time
	terminal bool
}

// Run executes one warranty run for the order and returns its outcome.
// Exactly one terminal event is published on every path, including panics
// and store failures; Run itself never returns an error because every
// internal failure is absorbed into the failed outcome.
func (o *Orchestrator) Run(ctx context.Context, orderID uuid.UUID) (outcome domain.RunOutcome) {
	r := &run{
		id:      uuid.New(),
		orderID: orderID,
		started: time.Now().UTC(),
	}

	if o.metrics != nil {
		o.metrics.RunsInFlightIncr()
	}

	defer func() {
		if p := recover(); p != nil {
			log.Printf("orchestrator: run=%s panic: %v", r.id, p)
			outcome = domain.OutcomeFailed
		}
		if !r.terminal {
			o.finish(ctx, r, domain.OutcomeFailed, "warranty check failed, please contact support")
		}
		if o.metrics != nil {
			o.metrics.RunCompleted(string(outcome), time.Since(r.started))
			o.metrics.RunsInFlightDecr()
		}
		if o.analytics != nil {
			if err := o.analytics.Record(ctx, r.planID, outcome); err != nil {
				log.Printf("orchestrator: run=%s record outcome: %v", r.id, err)
			}
		}
	}()

	order, err := o.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		log.Printf("orchestrator: run=%s get order: %v", r.id, err)
		return domain.OutcomeFailed
	}
	r.planID = order.PlanID

	// CHECKING_CURRENT
	o.progress(ctx, r, "checking your current account")
	if o.prober.CheckSession(ctx, order.Session) {
		o.finish(ctx, r, domain.OutcomeStillAlive, "your account is still working, no replacement needed")
		return domain.OutcomeStillAlive
	}

	// SEARCHING
	o.progress(ctx, r, "current account is dead, searching for a replacement")

	for tried := 0; ; tried++ {
		if tried >= o.safetyCap {
			log.Printf("orchestrator: run=%s safety cap reached after %d candidates", r.id, tried)
			return domain.OutcomeFailed
		}

		acct, err := o.pool.Next(ctx)
		if errors.Is(err, pool.ErrPoolEmpty) {
			// EXHAUSTED
			o.finish(ctx, r, domain.OutcomeExhausted, "no replacement account available, please contact support")
			return domain.OutcomeExhausted
		}
		if err != nil {
			log.Printf("orchestrator: run=%s claim candidate: %v", r.id, err)
			return domain.OutcomeFailed
		}

		o.progress(ctx, r, fmt.Sprintf("trying replacement account %s", maskLogin(acct.Login)))

		// Claimed accounts are never returned to the pool: a failing probe
		// is treated as conclusive, and a dead candidate is simply dropped.
		if !o.prober.CheckSession(ctx, acct.Session) {
			o.skip(ctx, r, SkipReasonSessionDead, "candidate skipped, its session is dead")
			continue
		}
		if !o.prober.ConfirmCredentials(ctx, acct.Session, acct.Secret) {
			o.skip(ctx, r, SkipReasonPasswordFail, "candidate skipped, password check failed")
			continue
		}

		// FOUND -> MIGRATING
		o.progress(ctx, r, "replacement verified, updating your order")
		if err := o.orders.RebindOrderAccount(ctx, order.ID, acct, historyMessage); err != nil {
			// The claimed account is already gone from the pool and is not
			// restored: losing one spare beats risking double-assignment.
			log.Printf("orchestrator: run=%s migrate order: %v", r.id, err)
			return domain.OutcomeFailed
		}

		o.finish(ctx, r, domain.OutcomeReplaced, "replacement installed, your account is working again")
		return domain.OutcomeReplaced
	}
}

func (o *Orchestrator) progress(ctx context.Context, r *run, message string) {
	o.publish(ctx, r, domain.ProgressEvent{
		RunID:     r.id,
		OrderID:   r.orderID,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	})
}

func (o *Orchestrator) skip(ctx context.Context, r *run, reason, message string) {
	if o.metrics != nil {
		o.metrics.CandidateSkipped(reason)
	}
	o.progress(ctx, r, message)
}

func (o *Orchestrator) finish(ctx context.Context, r *run, outcome domain.RunOutcome, message string) {
	r.terminal = true
	o.publish(ctx, r, domain.ProgressEvent{
		RunID:     r.id,
		OrderID:   r.orderID,
		Message:   message,
		Terminal:  true,
		Outcome:   outcome,
		CreatedAt: time.Now().UTC(),
	})
}

// publish forwards an event to subscribers. Publish failures (full buffers,
// no subscribers left) never affect the run itself.
func (o *Orchestrator) publish(ctx context.Context, r *run, event domain.ProgressEvent) {
	if err := o.publisher.Publish(ctx, Topic(r.orderID), event); err != nil {
		log.Printf("orchestrator: run=%s publish: %v", r.id, err)
	}
}

// maskLogin hides most of a login identifier in user-facing messages.
func maskLogin(login string) string {
	at := strings.IndexByte(login, '@')
	if at <= 2 {
		return "***"
	}
	return login[:2] + "***" + login[at:]
}
