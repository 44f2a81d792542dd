package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDeliverer struct {
	mu        sync.Mutex
	delivered []Event
	gate      chan struct{}
	fail      bool
}

func (d *recordingDeliverer) Deliver(_ context.Context, e Event) error {
	if d.gate != nil {
		<-d.gate
	}

	d.mu.Lock()
	d.delivered = append(d.delivered, e)
	d.mu.Unlock()

	if d.fail {
		return errors.New("transport down")
	}
	return nil
}

func (d *recordingDeliverer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.delivered)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatcher_DeliversPublishedEvents(t *testing.T) {
	deliverer := &recordingDeliverer{}
	dispatcher := NewDispatcher(discardLogger(), deliverer, 8)
	dispatcher.Start()

	dispatcher.Publish(Event{Type: EventWorkClaimed, TargetRole: RoleSupervisor})
	dispatcher.Publish(Event{Type: EventWorkCompleted, TargetUserID: "op1"})

	dispatcher.Close()

	require.Equal(t, 2, deliverer.count())
	assert.Equal(t, EventWorkClaimed, deliverer.delivered[0].Type)
	assert.False(t, deliverer.delivered[0].At.IsZero())
}

func TestDispatcher_PublishNeverBlocks(t *testing.T) {
	deliverer := &recordingDeliverer{gate: make(chan struct{})}
	dispatcher := NewDispatcher(discardLogger(), deliverer, 1)
	dispatcher.Start()

	// The consumer is stuck behind the gate and the buffer holds one event;
	// further publishes must drop, not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			dispatcher.Publish(Event{Type: EventQueueUpdated})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full queue")
	}

	close(deliverer.gate)
	dispatcher.Close()
}

func TestDispatcher_DeliveryFailureDoesNotStopConsumer(t *testing.T) {
	deliverer := &recordingDeliverer{fail: true}
	dispatcher := NewDispatcher(discardLogger(), deliverer, 8)
	dispatcher.Start()

	dispatcher.Publish(Event{Type: EventWorkClaimed})
	dispatcher.Publish(Event{Type: EventWorkRejected})

	dispatcher.Close()

	assert.Equal(t, 2, deliverer.count())
}

func TestDispatcher_PublishAfterCloseIsSafe(t *testing.T) {
	dispatcher := NewDispatcher(discardLogger(), &recordingDeliverer{}, 8)
	dispatcher.Start()
	dispatcher.Close()

	assert.NotPanics(t, func() {
		dispatcher.Publish(Event{Type: EventWorkClaimed})
	})
}
