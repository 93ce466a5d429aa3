package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DB is the querier shared by all repositories. Both *pgxpool.Pool and
// pgx.Tx satisfy it, so the same repository code runs inside and outside a
// transaction.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repositories bundles the per-entity repositories bound to one executor.
type Repositories struct {
	Tickets     TicketRepository
	Comments    CommentRepository
	Timeline    TimelineRepository
	Idempotency IdempotencyRepository
	Users       UserRepository
}

// NewRepositories builds the bundle over the given querier.
func NewRepositories(db DB) Repositories {
	return Repositories{
		Tickets:     NewTicketRepository(db),
		Comments:    NewCommentRepository(db),
		Timeline:    NewTimelineRepository(db),
		Idempotency: NewIdempotencyRepository(db),
		Users:       NewUserRepository(db),
	}
}

// TxManager scopes repository work to the store. WithinTx runs the closure
// inside one transaction: every write the closure performs commits
// atomically or not at all.
type TxManager interface {
	// Repos returns pool-bound repositories for non-transactional reads.
	Repos() Repositories
	// WithinTx begins a transaction, hands transaction-bound repositories
	// to fn, and commits on nil error. Any error triggers an explicit
	// rollback before it is surfaced; rollback failures are logged but do
	// not mask the original error.
	WithinTx(ctx context.Context, fn func(r Repositories) error) error
}

type pgxTxManager struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewTxManager builds a TxManager over a pgx pool.
func NewTxManager(pool *pgxpool.Pool, logger *zap.Logger) TxManager {
	return &pgxTxManager{pool: pool, logger: logger}
}

func (m *pgxTxManager) Repos() Repositories {
	return NewRepositories(m.pool)
}

func (m *pgxTxManager) WithinTx(ctx context.Context, fn func(r Repositories) error) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(NewRepositories(tx)); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			m.logger.Error("transaction rollback failed", zap.Error(rbErr))
		}
		return err
	}
	return tx.Commit(ctx)
}
