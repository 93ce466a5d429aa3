package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// IdempotencyRepository persists first responses under client keys.
type IdempotencyRepository interface {
	Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error)
	// Put stores the record unless the key already exists; collisions are
	// a no-op so the first writer always wins.
	Put(ctx context.Context, record *domain.IdempotencyRecord) error
}

type idempotencyRepository struct {
	db DB
}

// NewIdempotencyRepository builds repository.
func NewIdempotencyRepository(db DB) IdempotencyRepository {
	return &idempotencyRepository{db: db}
}

func (r *idempotencyRepository) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	const query = `
        SELECT key, user_id, response, status_code, created_at
        FROM idempotency_keys WHERE key=$1`
	var record domain.IdempotencyRecord
	if err := r.db.QueryRow(ctx, query, key).Scan(
		&record.Key,
		&record.UserID,
		&record.Response,
		&record.StatusCode,
		&record.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *idempotencyRepository) Put(ctx context.Context, record *domain.IdempotencyRecord) error {
	const query = `
        INSERT INTO idempotency_keys (key, user_id, response, status_code)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (key) DO NOTHING`
	_, err := r.db.Exec(ctx, query,
		record.Key,
		record.UserID,
		record.Response,
		record.StatusCode,
	)
	return err
}
