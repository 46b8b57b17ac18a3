package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/slotshare/warranty/internal/domain"
	"github.com/slotshare/warranty/internal/pool"
	"github.com/slotshare/warranty/internal/warranty"
)

// Store implements the order, pool and token persistence contracts using
// PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL store with the given database connection.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Ping reports database reachability, used by the verbose health check.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetOrderByID returns an order by its ID.
func (s *Store) GetOrderByID(ctx context.Context, id uuid.UUID) (domain.Order, error) {
	var order domain.Order
	err := s.db.QueryRowContext(ctx, queryGetOrderByID, id).Scan(
		&order.ID,
		&order.CustomerID,
		&order.PlanID,
		&order.Login,
		&order.Secret,
		&order.Session,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// GetOrderOwner returns the customer owning an order.
func (s *Store) GetOrderOwner(ctx context.Context, orderID uuid.UUID) (uuid.UUID, error) {
	var customerID uuid.UUID
	err := s.db.QueryRowContext(ctx, queryGetOrderOwner, orderID).Scan(&customerID)
	if err != nil {
		return uuid.Nil, err
	}
	return customerID, nil
}

// RebindOrderAccount rewrites the order's bound credentials to acct's and
// appends one history entry, in a single transaction. Either both writes
// land or neither does. Returns sql.ErrNoRows if the order does not exist.
func (s *Store) RebindOrderAccount(ctx context.Context, orderID uuid.UUID, acct domain.PooledAccount, message string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	result, err := tx.ExecContext(ctx, queryUpdateOrderAccount,
		orderID,
		acct.Login,
		acct.Secret,
		acct.Session,
		now,
	)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return sql.ErrNoRows
	}

	_, err = tx.ExecContext(ctx, queryInsertHistoryEntry,
		uuid.New(),
		orderID,
		message,
		now,
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// ClaimAvailableAccount finds the oldest available account and removes it
// from the pool in a single statement. Concurrent claimers skip each
// other's locked rows, so no account is ever handed out twice. Returns
// pool.ErrPoolEmpty when nothing is left.
func (s *Store) ClaimAvailableAccount(ctx context.Context) (domain.PooledAccount, error) {
	var acct domain.PooledAccount
	var status string

	err := s.db.QueryRowContext(ctx, queryClaimAvailableAccount).Scan(
		&acct.ID,
		&acct.Login,
		&acct.Secret,
		&acct.Session,
		&status,
		&acct.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return domain.PooledAccount{}, pool.ErrPoolEmpty
	}
	if err != nil {
		return domain.PooledAccount{}, err
	}
	acct.Status = domain.AccountStatus(status)
	return acct, nil
}

// DeleteAccount removes an account from the pool. Deleting an account that
// is already gone is not an error.
func (s *Store) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, queryDeleteAccount, id)
	return err
}

// CountAvailableAccounts returns the number of available accounts.
func (s *Store) CountAvailableAccounts(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, queryCountAvailableAccounts).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ListAvailableAccounts returns up to limit available accounts, oldest first.
func (s *Store) ListAvailableAccounts(ctx context.Context, limit int) ([]domain.PooledAccount, error) {
	rows, err := s.db.QueryContext(ctx, queryListAvailableAccounts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.PooledAccount
	for rows.Next() {
		var acct domain.PooledAccount
		var status string

		err := rows.Scan(
			&acct.ID,
			&acct.Login,
			&acct.Secret,
			&acct.Session,
			&status,
			&acct.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		acct.Status = domain.AccountStatus(status)
		result = append(result, acct)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// UpdateCredentialsByLogin propagates a changed secret and session to every
// order and pooled account bound to login, in one transaction. Returns how
// many orders and how many pooled accounts were touched.
func (s *Store) UpdateCredentialsByLogin(ctx context.Context, login, secret, session string) (orders, accounts int64, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	result, err := tx.ExecContext(ctx, queryUpdateOrderCredentialsByLogin, login, secret, session, now)
	if err != nil {
		return 0, 0, err
	}
	orders, err = result.RowsAffected()
	if err != nil {
		return 0, 0, err
	}

	result, err = tx.ExecContext(ctx, queryUpdateAccountCredentialsByLogin, login, secret, session)
	if err != nil {
		return 0, 0, err
	}
	accounts, err = result.RowsAffected()
	if err != nil {
		return 0, 0, err
	}

	return orders, accounts, tx.Commit()
}

// GetToken returns an API token by its value.
// Returns sql.ErrNoRows for unknown tokens.
func (s *Store) GetToken(ctx context.Context, token string) (domain.APIToken, error) {
	var tok domain.APIToken
	err := s.db.QueryRowContext(ctx, queryGetToken, token).Scan(
		&tok.Token,
		&tok.CustomerID,
		&tok.Admin,
		&tok.CreatedAt,
	)
	if err != nil {
		return domain.APIToken{}, err
	}
	return tok, nil
}

// Compile-time interface assertions
var (
	_ pool.Store          = (*Store)(nil)
	_ warranty.OrderStore = (*Store)(nil)
)
