// Package testhelpers provides an in-memory implementation of the
// repository layer so service and handler tests run without postgres.
// Transactions are serialized by a single mutex, which makes concurrent
// optimistic-lock outcomes deterministic, and writes are rolled back on
// error via snapshot restore.
package testhelpers

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/repository"
)

// MemStore holds all entities and implements repository.TxManager.
type MemStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	tickets     map[string]domain.Ticket
	comments    map[string][]domain.Comment
	timeline    map[string][]domain.TimelineEntry
	idempotency map[string]domain.IdempotencyRecord
	users       map[string]domain.User

	clock func() time.Time

	// TimelineAppendErr, when set, fails the next timeline append. Used to
	// exercise mid-transaction and mid-sweep failure paths.
	TimelineAppendErr error
}

// NewMemStore builds an empty store with a real clock.
func NewMemStore() *MemStore {
	return &MemStore{
		tickets:     make(map[string]domain.Ticket),
		comments:    make(map[string][]domain.Comment),
		timeline:    make(map[string][]domain.TimelineEntry),
		idempotency: make(map[string]domain.IdempotencyRecord),
		users:       make(map[string]domain.User),
		clock:       time.Now,
	}
}

// SetClock pins the store's notion of now.
func (s *MemStore) SetClock(clock func() time.Time) {
	s.clock = clock
}

// Repos returns repositories bound to the store.
func (s *MemStore) Repos() repository.Repositories {
	return repository.Repositories{
		Tickets:     &memTicketRepo{s: s},
		Comments:    &memCommentRepo{s: s},
		Timeline:    &memTimelineRepo{s: s},
		Idempotency: &memIdempotencyRepo{s: s},
		Users:       &memUserRepo{s: s},
	}
}

// WithinTx serializes transactions and restores the pre-transaction state
// when fn fails, so partial writes are never observable.
func (s *MemStore) WithinTx(_ context.Context, fn func(r repository.Repositories) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snapshot := s.snapshot()
	if err := fn(s.Repos()); err != nil {
		s.restore(snapshot)
		return err
	}
	return nil
}

type memSnapshot struct {
	tickets     map[string]domain.Ticket
	comments    map[string][]domain.Comment
	timeline    map[string][]domain.TimelineEntry
	idempotency map[string]domain.IdempotencyRecord
	users       map[string]domain.User
}

func (s *MemStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := memSnapshot{
		tickets:     make(map[string]domain.Ticket, len(s.tickets)),
		comments:    make(map[string][]domain.Comment, len(s.comments)),
		timeline:    make(map[string][]domain.TimelineEntry, len(s.timeline)),
		idempotency: make(map[string]domain.IdempotencyRecord, len(s.idempotency)),
		users:       make(map[string]domain.User, len(s.users)),
	}
	for k, v := range s.tickets {
		snap.tickets[k] = v
	}
	for k, v := range s.comments {
		snap.comments[k] = append([]domain.Comment(nil), v...)
	}
	for k, v := range s.timeline {
		snap.timeline[k] = append([]domain.TimelineEntry(nil), v...)
	}
	for k, v := range s.idempotency {
		snap.idempotency[k] = v
	}
	for k, v := range s.users {
		snap.users[k] = v
	}
	return snap
}

func (s *MemStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets = snap.tickets
	s.comments = snap.comments
	s.timeline = snap.timeline
	s.idempotency = snap.idempotency
	s.users = snap.users
}

// SeedUser inserts a user directly and returns its id.
func (s *MemStore) SeedUser(role domain.Role) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	now := s.clock()
	s.users[id] = domain.User{
		ID:        id,
		Email:     id + "@example.com",
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return id
}

// TicketByID returns a stored ticket for direct inspection.
func (s *MemStore) TicketByID(id string) (domain.Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket, ok := s.tickets[id]
	return ticket, ok
}

// TimelineFor returns all timeline entries for a ticket in append order.
func (s *MemStore) TimelineFor(ticketID string) []domain.TimelineEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.TimelineEntry(nil), s.timeline[ticketID]...)
}

// CommentsFor returns all comments for a ticket in append order.
func (s *MemStore) CommentsFor(ticketID string) []domain.Comment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Comment(nil), s.comments[ticketID]...)
}

type memTicketRepo struct {
	s *MemStore
}

func (r *memTicketRepo) Create(_ context.Context, ticket *domain.Ticket) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.clock()
	ticket.ID = uuid.NewString()
	ticket.Version = 1
	ticket.CreatedAt = now
	ticket.UpdatedAt = now
	r.s.tickets[ticket.ID] = *ticket
	return nil
}

func (r *memTicketRepo) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ticket, ok := r.s.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := ticket
	return &copied, nil
}

func (r *memTicketRepo) GetByIDForUpdate(ctx context.Context, id string) (*domain.Ticket, error) {
	// Row locking is modeled by WithinTx holding the store-wide tx mutex.
	return r.GetByID(ctx, id)
}

func (r *memTicketRepo) Update(_ context.Context, ticket *domain.Ticket) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.tickets[ticket.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	ticket.Version = stored.Version + 1
	ticket.UpdatedAt = r.s.clock()
	r.s.tickets[ticket.ID] = *ticket
	return nil
}

func (r *memTicketRepo) Touch(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ticket, ok := r.s.tickets[id]
	if !ok {
		return pgx.ErrNoRows
	}
	ticket.UpdatedAt = r.s.clock()
	r.s.tickets[id] = ticket
	return nil
}

func (r *memTicketRepo) List(_ context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.clock()

	var matched []domain.Ticket
	for _, ticket := range r.s.tickets {
		if filter.Status != nil && ticket.Status != *filter.Status {
			continue
		}
		if filter.AssigneeID != nil && (ticket.AssigneeID == nil || *ticket.AssigneeID != *filter.AssigneeID) {
			continue
		}
		if filter.BreachedOnly && !ticket.Breached(now) {
			continue
		}
		latest := r.s.latestCommentBody(ticket.ID)
		if filter.Text != nil && strings.TrimSpace(*filter.Text) != "" {
			needle := strings.ToLower(strings.TrimSpace(*filter.Text))
			desc := ""
			if ticket.Description != nil {
				desc = *ticket.Description
			}
			if !strings.Contains(strings.ToLower(ticket.Title), needle) &&
				!strings.Contains(strings.ToLower(desc), needle) &&
				!strings.Contains(strings.ToLower(latest), needle) {
				continue
			}
		}
		if latest != "" {
			body := latest
			ticket.LatestComment = &body
		}
		matched = append(matched, ticket)
	}

	if filter.OrderByDueAt {
		sort.Slice(matched, func(i, j int) bool {
			di, dj := matched[i].DueAt, matched[j].DueAt
			if di == nil || dj == nil {
				return dj == nil && di != nil
			}
			return di.Before(*dj)
		})
	} else {
		sort.Slice(matched, func(i, j int) bool {
			return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
		})
	}

	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (r *memTicketRepo) ListBreachedWithoutEntry(_ context.Context, action domain.TimelineAction, now time.Time, limit int) ([]domain.Ticket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var matched []domain.Ticket
	for _, ticket := range r.s.tickets {
		if !ticket.Breached(now) {
			continue
		}
		flagged := false
		for _, entry := range r.s.timeline[ticket.ID] {
			if entry.Action == action {
				flagged = true
				break
			}
		}
		if !flagged {
			matched = append(matched, ticket)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].DueAt.Before(*matched[j].DueAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *MemStore) latestCommentBody(ticketID string) string {
	comments := s.comments[ticketID]
	if len(comments) == 0 {
		return ""
	}
	return comments[len(comments)-1].Body
}

type memCommentRepo struct {
	s *MemStore
}

func (r *memCommentRepo) Create(_ context.Context, comment *domain.Comment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	comment.ID = uuid.NewString()
	comment.CreatedAt = r.s.clock()
	r.s.comments[comment.TicketID] = append(r.s.comments[comment.TicketID], *comment)
	return nil
}

func (r *memCommentRepo) ListByTicket(_ context.Context, ticketID string) ([]domain.Comment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]domain.Comment(nil), r.s.comments[ticketID]...), nil
}

type memTimelineRepo struct {
	s *MemStore
}

func (r *memTimelineRepo) Append(_ context.Context, entry *domain.TimelineEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.TimelineAppendErr; err != nil {
		r.s.TimelineAppendErr = nil
		return err
	}
	entry.ID = uuid.NewString()
	entry.CreatedAt = r.s.clock()
	if entry.Meta == nil {
		entry.Meta = map[string]any{}
	}
	r.s.timeline[entry.TicketID] = append(r.s.timeline[entry.TicketID], *entry)
	return nil
}

func (r *memTimelineRepo) ListByTicket(_ context.Context, ticketID string) ([]domain.TimelineEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]domain.TimelineEntry(nil), r.s.timeline[ticketID]...), nil
}

type memIdempotencyRepo struct {
	s *MemStore
}

func (r *memIdempotencyRepo) Get(_ context.Context, key string) (*domain.IdempotencyRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	record, ok := r.s.idempotency[key]
	if !ok {
		return nil, nil
	}
	copied := record
	return &copied, nil
}

func (r *memIdempotencyRepo) Put(_ context.Context, record *domain.IdempotencyRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	// First writer wins, matching ON CONFLICT DO NOTHING.
	if _, exists := r.s.idempotency[record.Key]; exists {
		return nil
	}
	stored := *record
	stored.CreatedAt = r.s.clock()
	r.s.idempotency[record.Key] = stored
	return nil
}

type memUserRepo struct {
	s *MemStore
}

func (r *memUserRepo) Create(_ context.Context, user *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.clock()
	user.ID = uuid.NewString()
	user.CreatedAt = now
	user.UpdatedAt = now
	r.s.users[user.ID] = *user
	return nil
}

func (r *memUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	user, ok := r.s.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := user
	return &copied, nil
}

func (r *memUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, user := range r.s.users {
		if user.Email == email {
			copied := user
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}
