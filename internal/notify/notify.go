package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Event types emitted by the workflow engine.
const (
	EventWorkClaimed       = "work.claimed"
	EventWorkApproved      = "work.approved"
	EventWorkRejected      = "work.rejected"
	EventWorkAssigned      = "work.assigned"
	EventWorkReassigned    = "work.reassigned"
	EventWorkStarted       = "work.started"
	EventWorkCompleted     = "work.completed"
	EventWorkReady         = "work.ready"
	EventQueueUpdated      = "queue.updated"
	EventEmergencyInserted = "emergency.inserted"
)

const (
	RoleSupervisor = "supervisor"
	RoleOperator   = "operator"
)

// Event is the inbound contract of the notification transport. Exactly one of
// TargetUserID / TargetRole is set.
type Event struct {
	Type         string         `json:"type"`
	TargetUserID string         `json:"target_user_id,omitempty"`
	TargetRole   string         `json:"target_role,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	At           time.Time      `json:"at"`
}

// Deliverer hands an event to the actual transport (push, SMS, whatever the
// deployment wires in). The engine never sees delivery failures.
type Deliverer interface {
	Deliver(ctx context.Context, e Event) error
}

// LogDeliverer is the default transport: it only logs the event.
type LogDeliverer struct {
	Log *slog.Logger
}

func (d *LogDeliverer) Deliver(_ context.Context, e Event) error {
	d.Log.Info("notification",
		slog.String("type", e.Type),
		slog.String("target_user", e.TargetUserID),
		slog.String("target_role", e.TargetRole),
	)
	return nil
}

// Dispatcher decouples state transitions from notification delivery: Publish
// enqueues and returns immediately, a single consumer goroutine delivers.
// A full queue drops the event with a warning rather than blocking the
// transition that produced it.
type Dispatcher struct {
	log       *slog.Logger
	deliverer Deliverer

	mu     sync.Mutex
	closed bool
	events chan Event
	done   chan struct{}
}

func NewDispatcher(log *slog.Logger, d Deliverer, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	return &Dispatcher{
		log:       log,
		deliverer: d,
		events:    make(chan Event, buffer),
		done:      make(chan struct{}),
	}
}

// Start launches the consumer goroutine.
func (d *Dispatcher) Start() {
	go func() {
		defer close(d.done)
		for e := range d.events {
			if err := d.deliverer.Deliver(context.Background(), e); err != nil {
				d.log.Error("notification delivery failed",
					slog.String("type", e.Type),
					slog.String("error", err.Error()),
				)
			}
		}
	}()
}

// Publish never blocks and never fails the caller.
func (d *Dispatcher) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.log.Warn("notification dropped, dispatcher closed", slog.String("type", e.Type))
		return
	}

	select {
	case d.events <- e:
	default:
		d.log.Warn("notification dropped, queue full", slog.String("type", e.Type))
	}
}

// Close stops accepting events and waits for the consumer to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.events)
	d.mu.Unlock()

	<-d.done
}
