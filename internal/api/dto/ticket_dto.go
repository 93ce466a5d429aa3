package dto

import (
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// TicketCreateRequest payload for new tickets.
type TicketCreateRequest struct {
	Title       string  `json:"title"`
	Description *string `json:"description"`
	Priority    *string `json:"priority"`
	AssigneeID  *string `json:"assignee_id"`
	SLAMinutes  *int    `json:"sla_minutes"`
}

// TicketPatchRequest carries a partial update. Absent fields stay untouched;
// pointers distinguish "not submitted" from an explicit value.
type TicketPatchRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
	AssigneeID  *string `json:"assignee_id"`
	Priority    *string `json:"priority"`
	SLAMinutes  *int    `json:"sla_minutes"`
}

// CommentCreateRequest payload for new comments.
type CommentCreateRequest struct {
	Body     string  `json:"body"`
	ParentID *string `json:"parent_id"`
}

// TicketResponse is the wire representation of a ticket.
type TicketResponse struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Description   *string    `json:"description"`
	Status        string     `json:"status"`
	Priority      *string    `json:"priority"`
	RequesterID   string     `json:"requester_id"`
	AssigneeID    *string    `json:"assignee_id"`
	SLAMinutes    *int       `json:"sla_minutes"`
	DueAt         *time.Time `json:"due_at"`
	Version       int64      `json:"version"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	LatestComment *string    `json:"latest_comment,omitempty"`
}

// CommentResponse is the wire representation of a comment.
type CommentResponse struct {
	ID        string    `json:"id"`
	TicketID  string    `json:"ticket_id"`
	ParentID  *string   `json:"parent_id"`
	AuthorID  string    `json:"author_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// TimelineEntryResponse is the wire representation of an audit entry.
type TimelineEntryResponse struct {
	ID        string         `json:"id"`
	TicketID  string         `json:"ticket_id"`
	ActorID   *string        `json:"actor_id"`
	Action    string         `json:"action"`
	Meta      map[string]any `json:"meta"`
	CreatedAt time.Time      `json:"created_at"`
}

// TicketDetailResponse bundles a ticket with its comments and timeline.
type TicketDetailResponse struct {
	Ticket   TicketResponse          `json:"ticket"`
	Comments []CommentResponse       `json:"comments"`
	Timeline []TimelineEntryResponse `json:"timeline"`
}

// TicketListResponse is one page of tickets. NextOffset is null on the last
// known page.
type TicketListResponse struct {
	Items      []TicketResponse `json:"items"`
	NextOffset *int             `json:"next_offset"`
}

// NewTicketResponse maps a domain ticket to its wire shape.
func NewTicketResponse(t *domain.Ticket) TicketResponse {
	resp := TicketResponse{
		ID:            t.ID,
		Title:         t.Title,
		Description:   t.Description,
		Status:        string(t.Status),
		RequesterID:   t.RequesterID,
		AssigneeID:    t.AssigneeID,
		SLAMinutes:    t.SLAMinutes,
		DueAt:         t.DueAt,
		Version:       t.Version,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
		LatestComment: t.LatestComment,
	}
	if t.Priority != nil {
		p := string(*t.Priority)
		resp.Priority = &p
	}
	return resp
}

// NewTicketListResponse maps a slice of tickets, never serializing null for
// an empty page.
func NewTicketListResponse(tickets []domain.Ticket, nextOffset *int) TicketListResponse {
	items := make([]TicketResponse, 0, len(tickets))
	for i := range tickets {
		items = append(items, NewTicketResponse(&tickets[i]))
	}
	return TicketListResponse{Items: items, NextOffset: nextOffset}
}

// NewCommentResponse maps a domain comment.
func NewCommentResponse(c *domain.Comment) CommentResponse {
	return CommentResponse{
		ID:        c.ID,
		TicketID:  c.TicketID,
		ParentID:  c.ParentID,
		AuthorID:  c.AuthorID,
		Body:      c.Body,
		CreatedAt: c.CreatedAt,
	}
}

// NewTicketDetailResponse maps a ticket with its related records.
func NewTicketDetailResponse(t *domain.Ticket, comments []domain.Comment, timeline []domain.TimelineEntry) TicketDetailResponse {
	resp := TicketDetailResponse{
		Ticket:   NewTicketResponse(t),
		Comments: make([]CommentResponse, 0, len(comments)),
		Timeline: make([]TimelineEntryResponse, 0, len(timeline)),
	}
	for i := range comments {
		resp.Comments = append(resp.Comments, NewCommentResponse(&comments[i]))
	}
	for _, entry := range timeline {
		resp.Timeline = append(resp.Timeline, TimelineEntryResponse{
			ID:        entry.ID,
			TicketID:  entry.TicketID,
			ActorID:   entry.ActorID,
			Action:    string(entry.Action),
			Meta:      entry.Meta,
			CreatedAt: entry.CreatedAt,
		})
	}
	return resp
}
