package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util"
)

// TicketService is the ticket consistency core: every mutation runs inside
// one store transaction together with its timeline append, and ticket
// updates are serialized per row under optimistic locking.
type TicketService struct {
	tx         repository.TxManager
	dispatcher events.Dispatcher
	logger     *zap.Logger
	clock      func() time.Time
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	Tx         repository.TxManager
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	// Clock defaults to time.Now; injectable for deterministic tests.
	Clock func() time.Time
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TicketService{
		tx:         deps.Tx,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
		clock:      clock,
	}
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Title       string
	Description *string
	Priority    *domain.TicketPriority
	AssigneeID  *string
	SLAMinutes  *int
}

// TicketPatchInput carries the submitted patch fields; nil means the field
// was not submitted. Explicit nulls are not a clearing mechanism.
type TicketPatchInput struct {
	Title       *string
	Description *string
	Status      *domain.TicketStatus
	AssigneeID  *string
	Priority    *domain.TicketPriority
	SLAMinutes  *int
}

// SubmittedFields lists the wire names of every field present in the patch,
// writable or not. The audit meta records these.
func (in TicketPatchInput) SubmittedFields() []string {
	var fields []string
	if in.Title != nil {
		fields = append(fields, domain.FieldTitle)
	}
	if in.Description != nil {
		fields = append(fields, domain.FieldDescription)
	}
	if in.Status != nil {
		fields = append(fields, domain.FieldStatus)
	}
	if in.AssigneeID != nil {
		fields = append(fields, domain.FieldAssigneeID)
	}
	if in.Priority != nil {
		fields = append(fields, domain.FieldPriority)
	}
	if in.SLAMinutes != nil {
		fields = append(fields, domain.FieldSLAMinutes)
	}
	return fields
}

// TicketListFilter captures list parameters after HTTP parsing.
type TicketListFilter struct {
	Text         *string
	Status       *domain.TicketStatus
	AssigneeID   *string
	BreachedOnly bool
	Limit        int
	Offset       int
}

// TicketPage is one page of list results. NextOffset is set iff the page
// came back full, approximating "more data may exist".
type TicketPage struct {
	Items      []domain.Ticket
	NextOffset *int
}

const (
	defaultPageSize = 25
	maxPageSize     = 100
)

// CreateTicket inserts a ticket at version 1 together with its
// ticket_created timeline entry; the two commit atomically.
func (s *TicketService) CreateTicket(ctx context.Context, requesterID string, input TicketCreateInput) (*domain.Ticket, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, apperrors.NewFieldRequired("title", "Title is required")
	}

	now := s.clock()
	ticket := &domain.Ticket{
		Title:       title,
		Description: input.Description,
		Status:      domain.TicketStatusOpen,
		Priority:    input.Priority,
		RequesterID: requesterID,
		AssigneeID:  input.AssigneeID,
		SLAMinutes:  input.SLAMinutes,
	}
	if input.SLAMinutes != nil {
		due := now.Add(time.Duration(*input.SLAMinutes) * time.Minute)
		ticket.DueAt = &due
	}

	err := s.tx.WithinTx(ctx, func(r repository.Repositories) error {
		if err := r.Tickets.Create(ctx, ticket); err != nil {
			return err
		}
		return r.Timeline.Append(ctx, &domain.TimelineEntry{
			TicketID: ticket.ID,
			ActorID:  &requesterID,
			Action:   domain.ActionTicketCreated,
			Meta:     map[string]any{"title": ticket.Title},
		})
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	s.publish(ctx, events.EventTicketCreated, ticket.ID, &requesterID, map[string]any{
		"title": ticket.Title,
	})
	return ticket, nil
}

// ListTickets returns a page ordered by updated_at descending. The ordering
// is a contract: it surfaces recently active tickets first.
func (s *TicketService) ListTickets(ctx context.Context, filter TicketListFilter) (*TicketPage, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	items, err := s.tx.Repos().Tickets.List(ctx, repository.TicketFilter{
		Text:         filter.Text,
		Status:       filter.Status,
		AssigneeID:   filter.AssigneeID,
		BreachedOnly: filter.BreachedOnly,
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	page := &TicketPage{Items: items}
	if len(items) == limit {
		next := offset + limit
		page.NextOffset = &next
	}
	return page, nil
}

// ListBreached returns unclosed tickets past their deadline, most overdue
// first.
func (s *TicketService) ListBreached(ctx context.Context) ([]domain.Ticket, error) {
	items, err := s.tx.Repos().Tickets.List(ctx, repository.TicketFilter{
		BreachedOnly: true,
		OrderByDueAt: true,
		Limit:        maxPageSize,
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return items, nil
}

// GetTicket returns the ticket with its comments and timeline, both in
// ascending creation order.
func (s *TicketService) GetTicket(ctx context.Context, id string) (*domain.Ticket, []domain.Comment, []domain.TimelineEntry, error) {
	repos := s.tx.Repos()

	ticket, err := repos.Tickets.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, nil, apperrors.NewNotFound("Ticket")
		}
		return nil, nil, nil, apperrors.MapError(err)
	}

	comments, err := repos.Comments.ListByTicket(ctx, id)
	if err != nil {
		return nil, nil, nil, apperrors.MapError(err)
	}
	timeline, err := repos.Timeline.ListByTicket(ctx, id)
	if err != nil {
		return nil, nil, nil, apperrors.MapError(err)
	}
	return ticket, comments, timeline, nil
}

// PatchTicket applies a conditional update under a row-level lock. The
// caller's If-Match version must equal the stored version; the writable
// field set derives from the actor's role and relationship to the ticket.
func (s *TicketService) PatchTicket(ctx context.Context, actorID string, role domain.Role, ticketID string, ifMatchVersion *int64, input TicketPatchInput) (*domain.Ticket, error) {
	if ifMatchVersion == nil {
		return nil, apperrors.NewFieldRequired("If-Match", "If-Match header with version required")
	}

	var updated *domain.Ticket
	err := s.tx.WithinTx(ctx, func(r repository.Repositories) error {
		ticket, err := r.Tickets.GetByIDForUpdate(ctx, ticketID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperrors.NewNotFound("Ticket")
			}
			return err
		}

		if ticket.Version != *ifMatchVersion {
			return apperrors.NewOptimisticLockConflict()
		}

		isRequester := ticket.RequesterID == actorID
		isAssignee := ticket.AssigneeID != nil && *ticket.AssigneeID == actorID
		writable := domain.WritableTicketFields(role, isRequester, isAssignee)
		if writable == nil {
			return apperrors.NewForbidden("Insufficient permissions")
		}

		applied := applyPatch(ticket, input, writable, s.clock())
		if len(applied) == 0 {
			return apperrors.NewNoUpdatableFields()
		}

		if err := r.Tickets.Update(ctx, ticket); err != nil {
			return err
		}

		if err := r.Timeline.Append(ctx, &domain.TimelineEntry{
			TicketID: ticket.ID,
			ActorID:  &actorID,
			Action:   domain.ActionTicketUpdated,
			Meta:     map[string]any{"changed": input.SubmittedFields()},
		}); err != nil {
			return err
		}

		updated = ticket
		return nil
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	s.publish(ctx, events.EventTicketUpdated, updated.ID, &actorID, map[string]any{
		"changed": input.SubmittedFields(),
		"version": updated.Version,
	})
	return updated, nil
}

// PostComment inserts a comment, bumps the parent ticket's updated_at (not
// its version) and appends a comment_added timeline entry; all three commit
// atomically or not at all. ParentID is accepted as-is.
func (s *TicketService) PostComment(ctx context.Context, ticketID, authorID, body string, parentID *string) (*domain.Comment, error) {
	if strings.TrimSpace(body) == "" {
		return nil, apperrors.NewFieldRequired("body", "Comment body required")
	}

	comment := &domain.Comment{
		TicketID: ticketID,
		ParentID: parentID,
		AuthorID: authorID,
		Body:     body,
	}

	err := s.tx.WithinTx(ctx, func(r repository.Repositories) error {
		// Existence check runs inside the transaction so the insert cannot
		// race against a concurrent delete of the ticket.
		if _, err := r.Tickets.GetByID(ctx, ticketID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperrors.NewNotFound("Ticket")
			}
			return err
		}
		if err := r.Comments.Create(ctx, comment); err != nil {
			return err
		}
		if err := r.Tickets.Touch(ctx, ticketID); err != nil {
			return err
		}
		return r.Timeline.Append(ctx, &domain.TimelineEntry{
			TicketID: ticketID,
			ActorID:  &authorID,
			Action:   domain.ActionCommentAdded,
			Meta:     map[string]any{"comment_id": comment.ID},
		})
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	s.publish(ctx, events.EventCommentAdded, ticketID, &authorID, map[string]any{
		"comment_id": comment.ID,
	})
	return comment, nil
}

func applyPatch(ticket *domain.Ticket, input TicketPatchInput, writable map[string]bool, now time.Time) []string {
	var applied []string
	if input.Title != nil && writable[domain.FieldTitle] {
		ticket.Title = *input.Title
		applied = append(applied, domain.FieldTitle)
	}
	if input.Description != nil && writable[domain.FieldDescription] {
		ticket.Description = input.Description
		applied = append(applied, domain.FieldDescription)
	}
	if input.Status != nil && writable[domain.FieldStatus] {
		ticket.Status = *input.Status
		applied = append(applied, domain.FieldStatus)
	}
	if input.AssigneeID != nil && writable[domain.FieldAssigneeID] {
		ticket.AssigneeID = input.AssigneeID
		applied = append(applied, domain.FieldAssigneeID)
	}
	if input.Priority != nil && writable[domain.FieldPriority] {
		ticket.Priority = input.Priority
		applied = append(applied, domain.FieldPriority)
	}
	if input.SLAMinutes != nil && writable[domain.FieldSLAMinutes] {
		ticket.SLAMinutes = input.SLAMinutes
		// due_at resets relative to the update time, never the original
		// creation time, and only when sla_minutes itself changes.
		due := now.Add(time.Duration(*input.SLAMinutes) * time.Minute)
		ticket.DueAt = &due
		applied = append(applied, domain.FieldSLAMinutes)
	}
	return applied
}

func (s *TicketService) publish(ctx context.Context, eventType events.EventType, ticketID string, actorID *string, payload map[string]any) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  ticketID,
		ActorID:   actorID,
		Timestamp: s.clock(),
		Payload:   payload,
	})
}
