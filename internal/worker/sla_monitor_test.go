package worker_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/observability"
	"github.com/spec-kit/helpdesk-service/internal/service"
	"github.com/spec-kit/helpdesk-service/internal/testhelpers"
	"github.com/spec-kit/helpdesk-service/internal/worker"
)

type monitorClock struct {
	mu  sync.Mutex
	now time.Time
}

func newMonitorClock() *monitorClock {
	return &monitorClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *monitorClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *monitorClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type monitorFixture struct {
	store   *testhelpers.MemStore
	svc     *service.TicketService
	clock   *monitorClock
	metrics *observability.Metrics
}

func newMonitorFixture(t *testing.T) *monitorFixture {
	t.Helper()
	store := testhelpers.NewMemStore()
	clock := newMonitorClock()
	store.SetClock(clock.Now)
	svc := service.NewTicketService(service.TicketDependencies{
		Tx:     store,
		Logger: zap.NewNop(),
		Clock:  clock.Now,
	})
	return &monitorFixture{store: store, svc: svc, clock: clock, metrics: observability.NewMetrics()}
}

func (f *monitorFixture) newMonitor(batchSize int) *worker.SLAMonitor {
	return worker.NewSLAMonitor(worker.SLAMonitorOptions{
		Tx:        f.store,
		Logger:    zap.NewNop(),
		Metrics:   f.metrics,
		Interval:  time.Hour,
		BatchSize: batchSize,
		Clock:     f.clock.Now,
	})
}

func (f *monitorFixture) createTicket(t *testing.T, title string, slaMinutes int) *domain.Ticket {
	t.Helper()
	requester := f.store.SeedUser(domain.RoleUser)
	sla := slaMinutes
	ticket, err := f.svc.CreateTicket(context.Background(), requester, service.TicketCreateInput{
		Title:      title,
		SLAMinutes: &sla,
	})
	require.NoError(t, err)
	return ticket
}

func TestSweepFlagsBreachedTicketOnce(t *testing.T) {
	f := newMonitorFixture(t)
	ticket := f.createTicket(t, "late", 1)
	f.clock.Advance(10 * time.Minute)

	monitor := f.newMonitor(100)

	flagged, err := monitor.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, flagged)

	timeline := f.store.TimelineFor(ticket.ID)
	require.Len(t, timeline, 2)
	entry := timeline[1]
	assert.Equal(t, domain.ActionSLABreached, entry.Action)
	assert.Nil(t, entry.ActorID)
	assert.Equal(t, f.clock.Now().UTC().Format(time.RFC3339), entry.Meta["breached_at"])

	// Re-processing the same ticket must not duplicate the entry.
	flagged, err = monitor.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, flagged)
	assert.Len(t, f.store.TimelineFor(ticket.ID), 2)
}

func TestSweepIgnoresUnbreachedAndClosed(t *testing.T) {
	f := newMonitorFixture(t)
	f.createTicket(t, "on time", 60)

	closed := f.createTicket(t, "closed late", 1)
	admin := f.store.SeedUser(domain.RoleAdmin)
	version := int64(1)
	status := domain.TicketStatusClosed
	_, err := f.svc.PatchTicket(context.Background(), admin, domain.RoleAdmin, closed.ID, &version, service.TicketPatchInput{
		Status: &status,
	})
	require.NoError(t, err)

	f.clock.Advance(10 * time.Minute)

	monitor := f.newMonitor(100)
	flagged, err := monitor.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, flagged)
}

func TestSweepHonorsBatchCap(t *testing.T) {
	f := newMonitorFixture(t)
	for i := 0; i < 5; i++ {
		f.createTicket(t, "late", 1)
	}
	f.clock.Advance(10 * time.Minute)

	monitor := f.newMonitor(2)

	counts := []int{}
	for {
		flagged, err := monitor.Sweep(context.Background())
		require.NoError(t, err)
		if flagged == 0 {
			break
		}
		counts = append(counts, flagged)
	}
	assert.Equal(t, []int{2, 2, 1}, counts)
}

func TestSweepResumesAfterAppendFailure(t *testing.T) {
	f := newMonitorFixture(t)
	f.createTicket(t, "late one", 1)
	f.createTicket(t, "late two", 1)
	f.clock.Advance(10 * time.Minute)

	monitor := f.newMonitor(100)

	f.store.TimelineAppendErr = assert.AnError
	flagged, err := monitor.Sweep(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, flagged)

	// Next tick picks both tickets back up.
	flagged, err = monitor.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, flagged)
}

func TestStartRunsImmediateSweepAndStops(t *testing.T) {
	f := newMonitorFixture(t)
	ticket := f.createTicket(t, "late", 1)
	f.clock.Advance(10 * time.Minute)

	monitor := f.newMonitor(100)
	monitor.Start(context.Background())
	defer monitor.Stop()

	require.Eventually(t, func() bool {
		return len(f.store.TimelineFor(ticket.ID)) == 2
	}, 2*time.Second, 10*time.Millisecond)

	monitor.Stop()
	sweeps, breaches := f.metrics.SweepTotals()
	assert.GreaterOrEqual(t, sweeps, int64(1))
	assert.Equal(t, int64(1), breaches)
}
