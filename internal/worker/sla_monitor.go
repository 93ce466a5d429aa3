package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/observability"
	"github.com/spec-kit/helpdesk-service/internal/repository"
)

// SLAMonitor periodically flags tickets that passed their response deadline
// by appending an SLA_BREACHED timeline entry, at most once per ticket. It
// runs outside any request transaction; each ticket's insert is independent
// and the existence guard makes re-processing across ticks idempotent.
type SLAMonitor struct {
	tx         repository.TxManager
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
	interval   time.Duration
	batchSize  int
	clock      func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// SLAMonitorOptions configures the monitor.
type SLAMonitorOptions struct {
	Tx         repository.TxManager
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	Metrics    *observability.Metrics
	Interval   time.Duration
	// BatchSize caps tickets flagged per sweep; overflow is picked up on
	// the next tick.
	BatchSize int
	// Clock defaults to time.Now; injectable for deterministic tests.
	Clock func() time.Time
}

// NewSLAMonitor constructs the monitor.
func NewSLAMonitor(opts SLAMonitorOptions) *SLAMonitor {
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = 100
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SLAMonitor{
		tx:         opts.Tx,
		dispatcher: opts.Dispatcher,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		interval:   interval,
		batchSize:  batch,
		clock:      clock,
	}
}

// Start launches the sweep loop: one sweep immediately, then one per
// interval, until Stop is called or ctx is cancelled. Sweep failures are
// logged and the schedule continues; background work never surfaces errors
// to clients.
func (m *SLAMonitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)

		m.runSweep(ctx)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.runSweep(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for any in-flight sweep to finish.
func (m *SLAMonitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

func (m *SLAMonitor) runSweep(ctx context.Context) {
	flagged, err := m.Sweep(ctx)
	if err != nil {
		m.logger.Error("sla sweep failed", zap.Error(err))
		return
	}
	m.metrics.RecordSweep(flagged)
	if flagged > 0 {
		m.logger.Info("sla sweep flagged breaches", zap.Int("count", flagged))
	}
}

// Sweep performs one pass synchronously and returns how many tickets were
// flagged. Exposed so tests can drive the monitor without the ticker.
func (m *SLAMonitor) Sweep(ctx context.Context) (int, error) {
	now := m.clock()
	repos := m.tx.Repos()

	tickets, err := repos.Tickets.ListBreachedWithoutEntry(ctx, domain.ActionSLABreached, now, m.batchSize)
	if err != nil {
		return 0, err
	}

	flagged := 0
	for _, ticket := range tickets {
		entry := &domain.TimelineEntry{
			TicketID: ticket.ID,
			ActorID:  nil,
			Action:   domain.ActionSLABreached,
			Meta:     map[string]any{"breached_at": now.UTC().Format(time.RFC3339)},
		}
		if err := repos.Timeline.Append(ctx, entry); err != nil {
			// Remaining tickets are retried next tick; the existence guard
			// keeps this ticket from double-reporting once the append lands.
			return flagged, err
		}
		flagged++
		m.publishBreach(ctx, ticket.ID, now)
	}
	return flagged, nil
}

func (m *SLAMonitor) publishBreach(ctx context.Context, ticketID string, at time.Time) {
	if m.dispatcher == nil {
		return
	}
	_ = m.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventSLABreached,
		TicketID:  ticketID,
		Timestamp: at,
		Payload:   map[string]any{"breached_at": at.UTC().Format(time.RFC3339)},
	})
}
