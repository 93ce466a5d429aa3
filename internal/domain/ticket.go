package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets. The set is
// extensible; only "closed" carries special meaning for SLA evaluation.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "open"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusClosed     TicketStatus = "closed"
)

// TicketPriority enumerates urgency. Stored as free text; these are the
// conventional values.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "low"
	TicketPriorityMedium TicketPriority = "medium"
	TicketPriorityHigh   TicketPriority = "high"
)

// Ticket is the aggregate for helpdesk requests. Version increases by
// exactly one on every successful mutation and backs optimistic locking.
type Ticket struct {
	ID          string
	Title       string
	Description *string
	Status      TicketStatus
	Priority    *TicketPriority
	RequesterID string
	AssigneeID  *string
	SLAMinutes  *int
	DueAt       *time.Time
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// LatestComment is populated by list queries that search across the
	// most recent comment body. Not a stored column.
	LatestComment *string
}

// Breached reports whether the ticket has passed its response deadline.
func (t *Ticket) Breached(now time.Time) bool {
	return t.Status != TicketStatusClosed && t.DueAt != nil && !t.DueAt.After(now)
}
