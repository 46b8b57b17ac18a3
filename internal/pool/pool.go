// Package pool manages the inventory of spare accounts available for
// warranty replacement. Claiming an account removes it from the pool in the
// same store operation, so no two runs can ever receive the same account and
// the pool only shrinks.
package pool

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/slotshare/warranty/internal/domain"
)

// ErrPoolEmpty signals that no available account remains. It is a terminal
// "no candidate" outcome for the caller, not a fault.
var ErrPoolEmpty = errors.New("account pool is empty")

// Store is the persistence contract the pool needs. ClaimAvailableAccount
// MUST find and delete in a single atomic step (not read then delete) and
// return ErrPoolEmpty when nothing is left.
type Store interface {
	ClaimAvailableAccount(ctx context.Context) (domain.PooledAccount, error)
	DeleteAccount(ctx context.Context, id uuid.UUID) error
	CountAvailableAccounts(ctx context.Context) (int, error)
	ListAvailableAccounts(ctx context.Context, limit int) ([]domain.PooledAccount, error)
}

// MetricsSink records pool activity. Methods must be non-blocking.
type MetricsSink interface {
	AccountClaimed()
	AccountDiscarded()
}

// Pool hands out available accounts one at a time.
type Pool struct {
	store   Store
	metrics MetricsSink // optional, nil = disabled
}

func New(store Store) *Pool {
	return &Pool{store: store}
}

// WithMetrics attaches a metrics sink to the pool.
func (p *Pool) WithMetrics(sink MetricsSink) *Pool {
	p.metrics = sink
	return p
}

// Next claims one available account and removes it from the pool. Returns
// ErrPoolEmpty when none remain. A claimed account is never handed out
// again, even if the caller later decides it is unusable.
func (p *Pool) Next(ctx context.Context) (domain.PooledAccount, error) {
	acct, err := p.store.ClaimAvailableAccount(ctx)
	if err != nil {
		return domain.PooledAccount{}, err
	}
	if p.metrics != nil {
		p.metrics.AccountClaimed()
	}
	return acct, nil
}

// Discard permanently removes an account from the pool. It is idempotent:
// discarding an account that was already claimed or removed is a no-op.
// Used by the sweeper for confirmed-dead accounts and by admin paths.
func (p *Pool) Discard(ctx context.Context, id uuid.UUID) error {
	if err := p.store.DeleteAccount(ctx, id); err != nil {
		return err
	}
	if p.metrics != nil {
		p.metrics.AccountDiscarded()
	}
	return nil
}

// Size returns the number of available accounts remaining.
func (p *Pool) Size(ctx context.Context) (int, error) {
	return p.store.CountAvailableAccounts(ctx)
}

// ListAvailable returns up to limit available accounts without claiming
// them. Only the sweeper uses this; the warranty loop always goes through
// Next.
func (p *Pool) ListAvailable(ctx context.Context, limit int) ([]domain.PooledAccount, error) {
	return p.store.ListAvailableAccounts(ctx, limit)
}
