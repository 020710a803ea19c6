package authz

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// AuditEvent is the immutable record of one resolved decision. Written once,
// never read back by this service.
type AuditEvent struct {
	ID          string       `json:"id"`
	At          time.Time    `json:"at"`
	PrincipalID string       `json:"principal_id"`
	TenantID    string       `json:"tenant_id"`
	Action      Action       `json:"action"`
	Resource    ResourceType `json:"resource"`
	ResourceID  string       `json:"resource_id,omitempty"`
	Allowed     bool         `json:"allowed"`
	Reason      Reason       `json:"reason"`
	FromCache   bool         `json:"from_cache"`
}

// AuditSink receives audit events. Implementations must tolerate being called
// from the dispatcher goroutine only.
type AuditSink interface {
	Record(ctx context.Context, event AuditEvent) error
}

// AuditDispatcher decouples audit emission from the check path: events go
// into a bounded queue drained by a single background goroutine. When the
// queue is full the newest event is dropped and counted; emission problems
// never surface on the decision path.
type AuditDispatcher struct {
	sink    AuditSink
	events  chan AuditEvent
	logger  *slog.Logger
	dropped atomic.Uint64

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewAuditDispatcher starts the drain goroutine. buffer bounds the queue.
func NewAuditDispatcher(sink AuditSink, buffer int, logger *slog.Logger) *AuditDispatcher {
	if buffer <= 0 {
		buffer = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &AuditDispatcher{
		sink:   sink,
		events: make(chan AuditEvent, buffer),
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go d.drain()
	return d
}

// Dispatch enqueues an event without blocking. Overflow drops the event
// (drop-newest) and increments the dropped counter.
func (d *AuditDispatcher) Dispatch(event AuditEvent) {
	if d == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	select {
	case <-d.stop:
		return
	default:
	}
	select {
	case d.events <- event:
	default:
		if d.dropped.Add(1)%100 == 1 {
			d.logger.Warn("audit queue full, dropping event",
				slog.Uint64("dropped_total", d.dropped.Load()))
		}
	}
}

// Dropped returns the number of events lost to overflow.
func (d *AuditDispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Close stops accepting events and drains what is already queued, bounded by
// ctx.
func (d *AuditDispatcher) Close(ctx context.Context) error {
	d.stopOnce.Do(func() {
		close(d.stop)
	})
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *AuditDispatcher) drain() {
	defer close(d.done)
	for {
		select {
		case event := <-d.events:
			d.record(event)
		case <-d.stop:
			for {
				select {
				case event := <-d.events:
					d.record(event)
				default:
					return
				}
			}
		}
	}
}

func (d *AuditDispatcher) record(event AuditEvent) {
	if d.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.sink.Record(ctx, event); err != nil {
		d.logger.Warn("audit sink record failed",
			slog.String("event_id", event.ID), slog.Any("error", err))
	}
}
