package domain

import "time"

// TimelineAction tags an audit entry.
type TimelineAction string

const (
	ActionTicketCreated TimelineAction = "ticket_created"
	ActionTicketUpdated TimelineAction = "ticket_updated"
	ActionCommentAdded  TimelineAction = "comment_added"
	ActionSLABreached   TimelineAction = "SLA_BREACHED"
)

// TimelineEntry is an append-only audit record for a ticket. A nil ActorID
// denotes a system-originated entry. Entries are never updated or deleted;
// the existence of an SLA_BREACHED entry suppresses re-firing by the
// breach monitor.
type TimelineEntry struct {
	ID        string
	TicketID  string
	ActorID   *string
	Action    TimelineAction
	Meta      map[string]any
	CreatedAt time.Time
}
