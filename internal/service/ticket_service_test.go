package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/service"
	"github.com/spec-kit/helpdesk-service/internal/testhelpers"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTicketService(t *testing.T) (*testhelpers.MemStore, *service.TicketService, *fakeClock) {
	t.Helper()
	store := testhelpers.NewMemStore()
	clock := newFakeClock()
	store.SetClock(clock.Now)
	svc := service.NewTicketService(service.TicketDependencies{
		Tx:     store,
		Logger: zap.NewNop(),
		Clock:  clock.Now,
	})
	return store, svc, clock
}

func domainCode(t *testing.T, err error) string {
	t.Helper()
	var de *apperrors.DomainError
	require.ErrorAs(t, err, &de)
	return de.Code
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func statusPtr(v domain.TicketStatus) *domain.TicketStatus { return &v }

func TestCreateTicketSetsDueAtAndTimeline(t *testing.T) {
	store, svc, clock := newTicketService(t)
	requester := store.SeedUser(domain.RoleUser)

	ticket, err := svc.CreateTicket(context.Background(), requester, service.TicketCreateInput{
		Title:      "printer on fire",
		SLAMinutes: intPtr(30),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), ticket.Version)
	assert.Equal(t, domain.TicketStatusOpen, ticket.Status)
	require.NotNil(t, ticket.DueAt)
	assert.Equal(t, clock.Now().Add(30*time.Minute), *ticket.DueAt)

	timeline := store.TimelineFor(ticket.ID)
	require.Len(t, timeline, 1)
	assert.Equal(t, domain.ActionTicketCreated, timeline[0].Action)
	require.NotNil(t, timeline[0].ActorID)
	assert.Equal(t, requester, *timeline[0].ActorID)
}

func TestCreateTicketRequiresTitle(t *testing.T) {
	store, svc, _ := newTicketService(t)
	requester := store.SeedUser(domain.RoleUser)

	_, err := svc.CreateTicket(context.Background(), requester, service.TicketCreateInput{Title: "   "})
	require.Error(t, err)
	assert.Equal(t, "FIELD_REQUIRED", domainCode(t, err))
}

func TestCreateTicketWithoutSLAHasNoDueAt(t *testing.T) {
	store, svc, _ := newTicketService(t)
	requester := store.SeedUser(domain.RoleUser)

	ticket, err := svc.CreateTicket(context.Background(), requester, service.TicketCreateInput{Title: "no deadline"})
	require.NoError(t, err)
	assert.Nil(t, ticket.DueAt)
}

func TestPatchTicketIncrementsVersionByOne(t *testing.T) {
	store, svc, _ := newTicketService(t)
	requester := store.SeedUser(domain.RoleUser)

	ticket, err := svc.CreateTicket(context.Background(), requester, service.TicketCreateInput{Title: "v1"})
	require.NoError(t, err)

	version := int64(1)
	updated, err := svc.PatchTicket(context.Background(), requester, domain.RoleUser, ticket.ID, &version, service.TicketPatchInput{
		Title: strPtr("v2"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, "v2", updated.Title)

	timeline := store.TimelineFor(ticket.ID)
	require.Len(t, timeline, 2)
	assert.Equal(t, domain.ActionTicketUpdated, timeline[1].Action)
}

func TestPatchTicketStaleVersionConflictLeavesRowUntouched(t *testing.T) {
	store, svc, _ := newTicketService(t)
	requester := store.SeedUser(domain.RoleUser)

	ticket, err := svc.CreateTicket(context.Background(), requester, service.TicketCreateInput{Title: "original"})
	require.NoError(t, err)

	stale := int64(99)
	_, err = svc.PatchTicket(context.Background(), requester, domain.RoleUser, ticket.ID, &stale, service.TicketPatchInput{
		Title: strPtr("hijack"),
	})
	require.Error(t, err)
	assert.Equal(t, "OPTIMISTIC_LOCK", domainCode(t, err))

	stored, ok := store.TicketByID(ticket.ID)
	require.True(t, ok)
	assert.Equal(t, "original", stored.Title)
	assert.Equal(t, int64(1), stored.Version)
	assert.Len(t, store.TimelineFor(ticket.ID), 1)
}

func TestPatchTicketRequiresIfMatch(t *testing.T) {
	store, svc, _ := newTicketService(t)
	requester := store.SeedUser(domain.RoleUser)

	ticket, err := svc.CreateTicket(context.Background(), requester, service.TicketCreateInput{Title: "x"})
	require.NoError(t, err)

	_, err = svc.PatchTicket(context.Background(), requester, domain.RoleUser, ticket.ID, nil, service.TicketPatchInput{
		Title: strPtr("y"),
	})
	require.Error(t, err)
	assert.Equal(t, "FIELD_REQUIRED", domainCode(t, err))
}

func TestPatchTicketMissingTicket(t *testing.T) {
	store, svc, _ := newTicketService(t)
	actor := store.SeedUser(domain.RoleAdmin)

	version := int64(1)
	_, err := svc.PatchTicket(context.Background(), actor, domain.RoleAdmin, "does-not-exist", &version, service.TicketPatchInput{
		Title: strPtr("y"),
	})
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND", domainCode(t, err))
}

func TestPatchTicketFieldAuthorization(t *testing.T) {
	tests := []struct {
		name       string
		role       domain.Role
		asAssignee bool
		asStranger bool
		patch      service.TicketPatchInput
		wantCode   string
		wantTitle  string
		wantStatus domain.TicketStatus
	}{
		{
			name:       "requester edits title",
			role:       domain.RoleUser,
			patch:      service.TicketPatchInput{Title: strPtr("renamed")},
			wantTitle:  "renamed",
			wantStatus: domain.TicketStatusOpen,
		},
		{
			name:     "requester cannot edit status alone",
			role:     domain.RoleUser,
			patch:    service.TicketPatchInput{Status: statusPtr(domain.TicketStatusClosed)},
			wantCode: "NO_FIELDS",
		},
		{
			name:       "assigned agent closes ticket",
			role:       domain.RoleAgent,
			asAssignee: true,
			patch:      service.TicketPatchInput{Status: statusPtr(domain.TicketStatusClosed)},
			wantTitle:  "seed",
			wantStatus: domain.TicketStatusClosed,
		},
		{
			name:       "unassigned agent is forbidden",
			role:       domain.RoleAgent,
			asStranger: true,
			patch:      service.TicketPatchInput{Status: statusPtr(domain.TicketStatusClosed)},
			wantCode:   "FORBIDDEN",
		},
		{
			name:       "stranger user is forbidden",
			role:       domain.RoleUser,
			asStranger: true,
			patch:      service.TicketPatchInput{Title: strPtr("nope")},
			wantCode:   "FORBIDDEN",
		},
		{
			name:       "admin edits everything",
			role:       domain.RoleAdmin,
			asStranger: true,
			patch: service.TicketPatchInput{
				Title:  strPtr("admin"),
				Status: statusPtr(domain.TicketStatusInProgress),
			},
			wantTitle:  "admin",
			wantStatus: domain.TicketStatusInProgress,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, svc, _ := newTicketService(t)
			requester := store.SeedUser(domain.RoleUser)
			agent := store.SeedUser(domain.RoleAgent)

			ticket, err := svc.CreateTicket(context.Background(), requester, service.TicketCreateInput{
				Title:      "seed",
				AssigneeID: &agent,
			})
			require.NoError(t, err)

			actor := requester
			switch {
			case tt.asAssignee:
				actor = agent
			case tt.asStranger:
				actor = store.SeedUser(tt.role)
			}

			version := int64(1)
			updated, err := svc.PatchTicket(context.Background(), actor, tt.role, ticket.ID, &version, tt.patch)
			if tt.wantCode != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, domainCode(t, err))
				stored, ok := store.TicketByID(ticket.ID)
				require.True(t, ok)
				assert.Equal(t, int64(1), stored.Version)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTitle, updated.Title)
			assert.Equal(t, tt.wantStatus, updated.Status)
			assert.Equal(t, int64(2), updated.Version)
		})
	}
}

func TestPatchTicketAppliesWritableSubset(t *testing.T) {
	store, svc, _ := newTicketService(t)
	requester := store.SeedUser(domain.RoleUser)

	ticket, err := svc.CreateTicket(context.Background(), requester, service.TicketCreateInput{Title: "seed"})
	require.NoError(t, err)

	// Requester submits title plus status; only title is writable, the rest
	// is silently dropped while the audit records everything submitted.
	version := int64(1)
	updated, err := svc.PatchTicket(context.Background(), requester, domain.RoleUser, ticket.ID, &version, service.TicketPatchInput{
		Title:  strPtr("renamed"),
		Status: statusPtr(domain.TicketStatusClosed),
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Title)
	assert.Equal(t, domain.TicketStatusOpen, updated.Status)

	timeline := store.TimelineFor(ticket.ID)
	require.Len(t, timeline, 2)
	changed, ok := timeline[1].Meta["changed"].([]string)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"title", "status"}, changed)
}

func TestPatchTicketSLAMinutesRecomputesDueAt(t *testing.T) {
	store, svc, clock := newTicketService(t)
	requester := store.SeedUser(domain.RoleUser)
	admin := store.SeedUser(domain.RoleAdmin)

	ticket, err := svc.CreateTicket(context.Background(), requester, service.TicketCreateInput{
		Title:      "seed",
		SLAMinutes: intPtr(60),
	})
	require.NoError(t, err)

	clock.Advance(45 * time.Minute)
	patchedAt := clock.Now()

	version := int64(1)
	updated, err := svc.PatchTicket(context.Background(), admin, domain.RoleAdmin, ticket.ID, &version, service.TicketPatchInput{
		SLAMinutes: intPtr(15),
	})
	require.NoError(t, err)
	require.NotNil(t, updated.DueAt)
	assert.Equal(t, patchedAt.Add(15*time.Minute), *updated.DueAt)
}

func TestPatchTicketConcurrentExactlyOneWinner(t *testing.T) {
	store, svc, _ := newTicketService(t)
	requester := store.SeedUser(domain.RoleUser)
	admin := store.SeedUser(domain.RoleAdmin)

	ticket, err := svc.CreateTicket(context.Background(), requester, service.TicketCreateInput{Title: "contested"})
	require.NoError(t, err)

	start := make(chan struct{})
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		title := []string{"first", "second"}[i]
		go func(title string) {
			<-start
			version := int64(1)
			_, err := svc.PatchTicket(context.Background(), admin, domain.RoleAdmin, ticket.ID, &version, service.TicketPatchInput{
				Title: &title,
			})
			results <- err
		}(title)
	}
	close(start)

	var failures []error
	successes := 0
	for i := 0; i < 2; i++ {
		if err := <-results; err != nil {
			failures = append(failures, err)
		} else {
			successes++
		}
	}

	require.Equal(t, 1, successes)
	require.Len(t, failures, 1)
	assert.Equal(t, "OPTIMISTIC_LOCK", domainCode(t, failures[0]))

	stored, ok := store.TicketByID(ticket.ID)
	require.True(t, ok)
	assert.Equal(t, int64(2), stored.Version)
	assert.Len(t, store.TimelineFor(ticket.ID), 2)
}

func TestPostCommentTouchesTicketWithoutVersionBump(t *testing.T) {
	store, svc, clock := newTicketService(t)
	requester := store.SeedUser(domain.RoleUser)

	ticket, err := svc.CreateTicket(context.Background(), requester, service.TicketCreateInput{Title: "seed"})
	require.NoError(t, err)
	createdAt := clock.Now()

	clock.Advance(10 * time.Minute)
	comment, err := svc.PostComment(context.Background(), ticket.ID, requester, "any updates?", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, comment.ID)

	stored, ok := store.TicketByID(ticket.ID)
	require.True(t, ok)
	assert.Equal(t, int64(1), stored.Version)
	assert.True(t, stored.UpdatedAt.After(createdAt))

	timeline := store.TimelineFor(ticket.ID)
	require.Len(t, timeline, 2)
	assert.Equal(t, domain.ActionCommentAdded, timeline[1].Action)
}

func TestPostCommentMissingTicketWritesNothing(t *testing.T) {
	store, svc, _ := newTicketService(t)
	author := store.SeedUser(domain.RoleUser)

	_, err := svc.PostComment(context.Background(), "does-not-exist", author, "hello", nil)
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND", domainCode(t, err))
	assert.Empty(t, store.CommentsFor("does-not-exist"))
	assert.Empty(t, store.TimelineFor("does-not-exist"))
}

func TestPostCommentEmptyBody(t *testing.T) {
	store, svc, _ := newTicketService(t)
	requester := store.SeedUser(domain.RoleUser)

	ticket, err := svc.CreateTicket(context.Background(), requester, service.TicketCreateInput{Title: "seed"})
	require.NoError(t, err)

	_, err = svc.PostComment(context.Background(), ticket.ID, requester, "  ", nil)
	require.Error(t, err)
	assert.Equal(t, "FIELD_REQUIRED", domainCode(t, err))
}

func TestPostCommentTimelineFailureRollsBack(t *testing.T) {
	store, svc, _ := newTicketService(t)
	requester := store.SeedUser(domain.RoleUser)

	ticket, err := svc.CreateTicket(context.Background(), requester, service.TicketCreateInput{Title: "seed"})
	require.NoError(t, err)

	store.TimelineAppendErr = assert.AnError
	_, err = svc.PostComment(context.Background(), ticket.ID, requester, "lost", nil)
	require.Error(t, err)

	assert.Empty(t, store.CommentsFor(ticket.ID))
	assert.Len(t, store.TimelineFor(ticket.ID), 1)
}

func TestListTicketsPagination(t *testing.T) {
	store, svc, clock := newTicketService(t)
	requester := store.SeedUser(domain.RoleUser)

	for _, title := range []string{"a", "b", "c"} {
		_, err := svc.CreateTicket(context.Background(), requester, service.TicketCreateInput{Title: title})
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	page, err := svc.ListTickets(context.Background(), service.TicketListFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.NotNil(t, page.NextOffset)
	assert.Equal(t, 2, *page.NextOffset)
	// updated_at descending: the most recently created ticket leads.
	assert.Equal(t, "c", page.Items[0].Title)

	page, err = svc.ListTickets(context.Background(), service.TicketListFilter{Limit: 2, Offset: *page.NextOffset})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Nil(t, page.NextOffset)
	assert.Equal(t, "a", page.Items[0].Title)
}

func TestListTicketsBreachedFilter(t *testing.T) {
	store, svc, clock := newTicketService(t)
	requester := store.SeedUser(domain.RoleUser)

	breached, err := svc.CreateTicket(context.Background(), requester, service.TicketCreateInput{
		Title:      "late",
		SLAMinutes: intPtr(1),
	})
	require.NoError(t, err)
	_, err = svc.CreateTicket(context.Background(), requester, service.TicketCreateInput{Title: "no sla"})
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)

	page, err := svc.ListTickets(context.Background(), service.TicketListFilter{BreachedOnly: true})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, breached.ID, page.Items[0].ID)
}
