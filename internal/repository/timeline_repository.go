package repository

import (
	"context"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// TimelineRepository stores the append-only audit trail. Entries are never
// updated or deleted.
type TimelineRepository interface {
	Append(ctx context.Context, entry *domain.TimelineEntry) error
	ListByTicket(ctx context.Context, ticketID string) ([]domain.TimelineEntry, error)
}

type timelineRepository struct {
	db DB
}

// NewTimelineRepository builds repository.
func NewTimelineRepository(db DB) TimelineRepository {
	return &timelineRepository{db: db}
}

func (r *timelineRepository) Append(ctx context.Context, entry *domain.TimelineEntry) error {
	const query = `
        INSERT INTO timeline_entries (ticket_id, actor_id, action, meta)
        VALUES ($1,$2,$3,$4)
        RETURNING id, created_at`
	meta := entry.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	return r.db.QueryRow(ctx, query,
		entry.TicketID,
		entry.ActorID,
		entry.Action,
		meta,
	).Scan(&entry.ID, &entry.CreatedAt)
}

func (r *timelineRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.TimelineEntry, error) {
	const query = `
        SELECT id, ticket_id, actor_id, action, meta, created_at
        FROM timeline_entries WHERE ticket_id=$1 ORDER BY created_at ASC`
	rows, err := r.db.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TimelineEntry
	for rows.Next() {
		var entry domain.TimelineEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.TicketID,
			&entry.ActorID,
			&entry.Action,
			&entry.Meta,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}
