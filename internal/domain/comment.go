package domain

import "time"

// Comment belongs to exactly one ticket. ParentID allows best-effort
// threading; it is persisted unvalidated.
type Comment struct {
	ID        string
	TicketID  string
	ParentID  *string
	AuthorID  string
	Body      string
	CreatedAt time.Time
}
