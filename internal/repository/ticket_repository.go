package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// TicketFilter captures list/search parameters.
type TicketFilter struct {
	Text         *string
	Status       *domain.TicketStatus
	AssigneeID   *string
	BreachedOnly bool
	// OrderByDueAt sorts most overdue first instead of the default
	// updated_at descending; used by the breached listing.
	OrderByDueAt bool
	Limit        int
	Offset       int
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	// GetByIDForUpdate locks the ticket row for the duration of the
	// enclosing transaction, serializing concurrent patches.
	GetByIDForUpdate(ctx context.Context, id string) (*domain.Ticket, error)
	// Update persists the mutable columns, increments version by one and
	// refreshes updated_at; the new version and timestamp are written back
	// into the ticket.
	Update(ctx context.Context, ticket *domain.Ticket) error
	// Touch refreshes updated_at without bumping version. Comments are not
	// optimistic-locked against the ticket.
	Touch(ctx context.Context, id string) error
	List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	// ListBreachedWithoutEntry selects unclosed tickets past their deadline
	// that do not yet carry a timeline entry with the given action.
	ListBreachedWithoutEntry(ctx context.Context, action domain.TimelineAction, now time.Time, limit int) ([]domain.Ticket, error)
}

type ticketRepository struct {
	db DB
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(db DB) TicketRepository {
	return &ticketRepository{db: db}
}

const ticketColumns = `id, title, description, status, priority, requester_id, assignee_id,
               sla_minutes, due_at, version, created_at, updated_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (title, description, status, priority, requester_id, assignee_id, sla_minutes, due_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        RETURNING id, version, created_at, updated_at`
	return r.db.QueryRow(ctx, query,
		ticket.Title,
		ticket.Description,
		ticket.Status,
		ticket.Priority,
		ticket.RequesterID,
		ticket.AssigneeID,
		ticket.SLAMinutes,
		ticket.DueAt,
	).Scan(&ticket.ID, &ticket.Version, &ticket.CreatedAt, &ticket.UpdatedAt)
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE id=$1`, ticketColumns)
	return r.fetchSingle(ctx, query, id)
}

func (r *ticketRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.Ticket, error) {
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE id=$1 FOR UPDATE`, ticketColumns)
	return r.fetchSingle(ctx, query, id)
}

func (r *ticketRepository) fetchSingle(ctx context.Context, query, id string) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := r.db.QueryRow(ctx, query, id).Scan(
		&ticket.ID,
		&ticket.Title,
		&ticket.Description,
		&ticket.Status,
		&ticket.Priority,
		&ticket.RequesterID,
		&ticket.AssigneeID,
		&ticket.SLAMinutes,
		&ticket.DueAt,
		&ticket.Version,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        UPDATE tickets SET title=$1, description=$2, status=$3, priority=$4, assignee_id=$5,
            sla_minutes=$6, due_at=$7, version = version + 1, updated_at = NOW()
        WHERE id=$8
        RETURNING version, updated_at`
	return r.db.QueryRow(ctx, query,
		ticket.Title,
		ticket.Description,
		ticket.Status,
		ticket.Priority,
		ticket.AssigneeID,
		ticket.SLAMinutes,
		ticket.DueAt,
		ticket.ID,
	).Scan(&ticket.Version, &ticket.UpdatedAt)
}

func (r *ticketRepository) Touch(ctx context.Context, id string) error {
	cmd, err := r.db.Exec(ctx, `UPDATE tickets SET updated_at = NOW() WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.Status != nil {
		args = append(args, *filter.Status)
		clauses = append(clauses, fmt.Sprintf("t.status = $%d", len(args)))
	}
	if filter.AssigneeID != nil {
		args = append(args, *filter.AssigneeID)
		clauses = append(clauses, fmt.Sprintf("t.assignee_id = $%d", len(args)))
	}
	if filter.BreachedOnly {
		clauses = append(clauses, "t.status <> 'closed' AND t.due_at IS NOT NULL AND t.due_at <= NOW()")
	}
	if filter.Text != nil && strings.TrimSpace(*filter.Text) != "" {
		args = append(args, "%"+strings.TrimSpace(*filter.Text)+"%")
		placeholder := fmt.Sprintf("$%d", len(args))
		clauses = append(clauses, fmt.Sprintf(
			"(t.title ILIKE %s OR t.description ILIKE %s OR COALESCE(lc.body,'') ILIKE %s)",
			placeholder, placeholder, placeholder))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 25
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit)
	limitPos := len(args)
	args = append(args, offset)
	offsetPos := len(args)

	orderBy := "t.updated_at DESC"
	if filter.OrderByDueAt {
		orderBy = "t.due_at ASC"
	}

	// Lateral join exposes each ticket's most recent comment so text search
	// covers it without joining every comment.
	query := fmt.Sprintf(`
        SELECT %s, lc.body AS latest_comment
        FROM tickets t
        LEFT JOIN LATERAL (
            SELECT body FROM comments c WHERE c.ticket_id = t.id ORDER BY created_at DESC LIMIT 1
        ) lc ON true
        WHERE %s
        ORDER BY %s
        LIMIT $%d OFFSET $%d`,
		prefixColumns("t"), strings.Join(clauses, " AND "), orderBy, limitPos, offsetPos)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTicketsWithLatest(rows)
}

func (r *ticketRepository) ListBreachedWithoutEntry(ctx context.Context, action domain.TimelineAction, now time.Time, limit int) ([]domain.Ticket, error) {
	query := fmt.Sprintf(`
        SELECT %s
        FROM tickets t
        WHERE t.status <> 'closed' AND t.due_at IS NOT NULL AND t.due_at <= $1
        AND NOT EXISTS (
            SELECT 1 FROM timeline_entries tl WHERE tl.ticket_id = t.id AND tl.action = $2
        )
        ORDER BY t.due_at ASC
        LIMIT $3`, prefixColumns("t"))

	rows, err := r.db.Query(ctx, query, now, action, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

func prefixColumns(alias string) string {
	cols := strings.Split(ticketColumns, ",")
	for i, col := range cols {
		cols[i] = alias + "." + strings.TrimSpace(col)
	}
	return strings.Join(cols, ", ")
}

func scanTicket(rows pgx.Rows) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := rows.Scan(
		&ticket.ID,
		&ticket.Title,
		&ticket.Description,
		&ticket.Status,
		&ticket.Priority,
		&ticket.RequesterID,
		&ticket.AssigneeID,
		&ticket.SLAMinutes,
		&ticket.DueAt,
		&ticket.Version,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func scanTicketsWithLatest(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		var ticket domain.Ticket
		if err := rows.Scan(
			&ticket.ID,
			&ticket.Title,
			&ticket.Description,
			&ticket.Status,
			&ticket.Priority,
			&ticket.RequesterID,
			&ticket.AssigneeID,
			&ticket.SLAMinutes,
			&ticket.DueAt,
			&ticket.Version,
			&ticket.CreatedAt,
			&ticket.UpdatedAt,
			&ticket.LatestComment,
		); err != nil {
			return nil, err
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}
