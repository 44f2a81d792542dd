package assign

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sewline/internal/notify"
	"sewline/internal/storage"
)

// memStore reproduces the store's compare-and-swap semantics under a mutex so
// the state machine and its races can be exercised without a database.
type memStore struct {
	mu        sync.Mutex
	items     map[string]*storage.WorkItem
	operators map[string]*storage.Operator
}

func newMemStore() *memStore {
	return &memStore{
		items:     make(map[string]*storage.WorkItem),
		operators: make(map[string]*storage.Operator),
	}
}

func (s *memStore) put(item *storage.WorkItem) { s.items[item.ID] = item }

func copyItem(item *storage.WorkItem) *storage.WorkItem {
	clone := *item
	return &clone
}

func (s *memStore) GetWorkItem(_ context.Context, id string) (*storage.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("work item %s: %w", id, storage.ErrNotFound)
	}
	return copyItem(item), nil
}

func (s *memStore) GetOperator(_ context.Context, operatorID string) (*storage.Operator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oper, ok := s.operators[operatorID]
	if !ok {
		return nil, fmt.Errorf("operator %s: %w", operatorID, storage.ErrNotFound)
	}
	return oper, nil
}

func (s *memStore) CountIncompleteDependencies(_ context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range ids {
		if item, ok := s.items[id]; ok && item.Status != storage.StatusCompleted {
			n++
		}
	}
	return n, nil
}

func (s *memStore) ClaimWorkItem(_ context.Context, id, operatorID string, at time.Time) (*storage.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("work item %s: %w", id, storage.ErrNotFound)
	}
	if !item.Status.Assignable() || item.AssignedOperator != "" {
		return nil, fmt.Errorf("work item %s in status %s: %w", id, item.Status, storage.ErrWorkUnavailable)
	}
	item.Status = storage.StatusSelfAssigned
	item.AssignedOperator = operatorID
	item.RequestedBy = operatorID
	item.AssignedAt = &at
	return copyItem(item), nil
}

func (s *memStore) ApproveWorkItem(_ context.Context, id, supervisorID string) (*storage.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("work item %s: %w", id, storage.ErrNotFound)
	}
	if item.Status != storage.StatusSelfAssigned {
		return nil, fmt.Errorf("work item %s in status %s: %w", id, item.Status, storage.ErrWorkUnavailable)
	}
	item.Status = storage.StatusAssigned
	item.AssignedBy = supervisorID
	return copyItem(item), nil
}

func (s *memStore) RejectWorkItem(_ context.Context, id, reason string) (*storage.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("work item %s: %w", id, storage.ErrNotFound)
	}
	if item.Status != storage.StatusSelfAssigned {
		return nil, fmt.Errorf("work item %s in status %s: %w", id, item.Status, storage.ErrWorkUnavailable)
	}
	item.Status = storage.StatusReady
	item.AssignedOperator = ""
	item.RequestedBy = ""
	item.AssignedAt = nil
	item.RejectionReason = reason
	return copyItem(item), nil
}

func (s *memStore) AssignWorkItem(_ context.Context, id, operatorID, supervisorID string, at time.Time) (*storage.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("work item %s: %w", id, storage.ErrNotFound)
	}
	if !item.Status.Assignable() {
		return nil, fmt.Errorf("work item %s in status %s: %w", id, item.Status, storage.ErrWorkUnavailable)
	}
	item.Status = storage.StatusAssigned
	item.AssignedOperator = operatorID
	item.AssignedBy = supervisorID
	item.AssignedAt = &at
	return copyItem(item), nil
}

func (s *memStore) ReassignWorkItem(_ context.Context, id, newOperatorID, supervisorID string, at time.Time) (*storage.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("work item %s: %w", id, storage.ErrNotFound)
	}
	if !item.Status.AssignedLike() {
		return nil, fmt.Errorf("work item %s in status %s: %w", id, item.Status, storage.ErrWorkUnavailable)
	}
	item.ReassignedFrom = item.AssignedOperator
	item.AssignedOperator = newOperatorID
	item.AssignedBy = supervisorID
	item.Status = storage.StatusAssigned
	item.AssignedAt = &at
	return copyItem(item), nil
}

func (s *memStore) StartWorkItem(_ context.Context, id, operatorID string, at time.Time) (*storage.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("work item %s: %w", id, storage.ErrNotFound)
	}
	if item.AssignedOperator != operatorID ||
		(item.Status != storage.StatusAssigned && item.Status != storage.StatusSelfAssigned) {
		return nil, fmt.Errorf("work item %s in status %s: %w", id, item.Status, storage.ErrWorkUnavailable)
	}
	item.Status = storage.StatusInProgress
	item.StartedAt = &at
	return copyItem(item), nil
}

func (s *memStore) CompleteWorkItem(_ context.Context, id, operatorID string, data storage.CompletionData, at time.Time) (*storage.WorkItem, []*storage.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, nil, fmt.Errorf("work item %s: %w", id, storage.ErrNotFound)
	}
	if item.Status != storage.StatusInProgress || item.AssignedOperator != operatorID {
		return nil, nil, fmt.Errorf("work item %s in status %s: %w", id, item.Status, storage.ErrWorkUnavailable)
	}
	item.Status = storage.StatusCompleted
	item.CompletedAt = &at
	item.ActualMinutes = data.ActualMinutes
	item.CompletionNotes = data.Notes

	// Promote dependents in the same critical section, mirroring the
	// store's single-transaction semantics.
	var promoted []*storage.WorkItem
	for _, dep := range s.items {
		if dep.LotNumber != item.LotNumber || dep.Status != storage.StatusPending {
			continue
		}
		satisfied := false
		for _, d := range dep.Dependencies {
			if d == item.ID {
				satisfied = true
			}
		}
		if !satisfied {
			continue
		}
		allDone := true
		for _, d := range dep.Dependencies {
			if other, ok := s.items[d]; ok && other.Status != storage.StatusCompleted {
				allDone = false
				break
			}
		}
		if allDone {
			dep.Status = storage.StatusReady
			promoted = append(promoted, copyItem(dep))
		}
	}

	return copyItem(item), promoted, nil
}

type stubNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *stubNotifier) Publish(e notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *stubNotifier) byType(eventType string) []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Event
	for _, e := range n.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func readyItem(id string) *storage.WorkItem {
	return &storage.WorkItem{
		ID:          id,
		LotNumber:   "LOT-1",
		Operation:   "hem",
		MachineType: "overlock",
		Status:      storage.StatusReady,
	}
}

func TestSelfAssign_ConcurrentClaimsExactlyOneWins(t *testing.T) {
	store := newMemStore()
	store.put(readyItem("w1"))

	coordinator := NewCoordinator(store, &stubNotifier{})

	const claimers = 16
	var wg sync.WaitGroup
	results := make([]error, claimers)

	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := coordinator.SelfAssign(context.Background(), "w1", fmt.Sprintf("op%d", n))
			results[n] = err
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, storage.ErrWorkUnavailable)
		}
	}
	assert.Equal(t, 1, wins)
}

func TestSelfAssign_RejectReturnsToReady(t *testing.T) {
	store := newMemStore()
	store.put(readyItem("w1"))
	notifier := &stubNotifier{}

	coordinator := NewCoordinator(store, notifier)
	ctx := context.Background()

	item, err := coordinator.SelfAssign(ctx, "w1", "op1")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusSelfAssigned, item.Status)
	assert.Equal(t, "op1", item.AssignedOperator)

	item, err = coordinator.Reject(ctx, "w1", "sup1", "wrong skill")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusReady, item.Status)
	assert.Empty(t, item.AssignedOperator)
	assert.Equal(t, "wrong skill", item.RejectionReason)

	// The original requester hears about the rejection.
	rejected := notifier.byType(notify.EventWorkRejected)
	require.Equal(t, 1, len(rejected))
	assert.Equal(t, "op1", rejected[0].TargetUserID)

	// The item is claimable again.
	_, err = coordinator.SelfAssign(ctx, "w1", "op2")
	assert.NoError(t, err)
}

func TestApprove_OnlyFromSelfAssigned(t *testing.T) {
	store := newMemStore()
	store.put(readyItem("w1"))

	coordinator := NewCoordinator(store, &stubNotifier{})
	ctx := context.Background()

	_, err := coordinator.Approve(ctx, "w1", "sup1")
	assert.ErrorIs(t, err, storage.ErrWorkUnavailable)

	_, err = coordinator.SelfAssign(ctx, "w1", "op1")
	require.NoError(t, err)

	item, err := coordinator.Approve(ctx, "w1", "sup1")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusAssigned, item.Status)
	assert.Equal(t, "sup1", item.AssignedBy)
}

func TestStart_RequiresAssignedOperator(t *testing.T) {
	store := newMemStore()
	item := readyItem("w1")
	item.Status = storage.StatusAssigned
	item.AssignedOperator = "op1"
	store.put(item)

	coordinator := NewCoordinator(store, &stubNotifier{})
	ctx := context.Background()

	_, err := coordinator.Start(ctx, "w1", "op2")
	assert.ErrorIs(t, err, storage.ErrWorkUnavailable)

	started, err := coordinator.Start(ctx, "w1", "op1")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusInProgress, started.Status)
	assert.NotNil(t, started.StartedAt)
}

func TestComplete_IsTerminal(t *testing.T) {
	store := newMemStore()
	item := readyItem("w1")
	item.Status = storage.StatusInProgress
	item.AssignedOperator = "op1"
	store.put(item)

	coordinator := NewCoordinator(store, &stubNotifier{})
	ctx := context.Background()

	done, err := coordinator.Complete(ctx, "w1", "op1", storage.CompletionData{ActualMinutes: 12})
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCompleted, done.Status)

	// No transition touches a completed item.
	_, err = coordinator.SelfAssign(ctx, "w1", "op2")
	assert.ErrorIs(t, err, storage.ErrWorkUnavailable)
	_, err = coordinator.Start(ctx, "w1", "op1")
	assert.ErrorIs(t, err, storage.ErrWorkUnavailable)
	_, err = coordinator.Reassign(ctx, "w1", "op2", "sup1")
	assert.ErrorIs(t, err, storage.ErrWorkUnavailable)
	_, err = coordinator.Complete(ctx, "w1", "op1", storage.CompletionData{})
	assert.ErrorIs(t, err, storage.ErrWorkUnavailable)
}

func TestComplete_PromotesDependentInSameStep(t *testing.T) {
	store := newMemStore()

	a := readyItem("a")
	a.Status = storage.StatusInProgress
	a.AssignedOperator = "op1"
	store.put(a)

	b := readyItem("b")
	b.ID = "b"
	b.Status = storage.StatusPending
	b.Dependencies = []string{"a"}
	store.put(b)

	notifier := &stubNotifier{}
	coordinator := NewCoordinator(store, notifier)

	_, err := coordinator.Complete(context.Background(), "a", "op1", storage.CompletionData{})
	require.NoError(t, err)

	promoted, err := store.GetWorkItem(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusReady, promoted.Status)

	ready := notifier.byType(notify.EventWorkReady)
	require.Equal(t, 1, len(ready))
	assert.Equal(t, "b", ready[0].Payload["work_item_id"])
}

func TestAssign_MachineMismatchNeverMutates(t *testing.T) {
	store := newMemStore()
	item := readyItem("w1")
	item.MachineType = "bartack"
	store.put(item)
	store.operators["op1"] = &storage.Operator{ID: "op1", Machines: []string{"overlock", "flatlock"}}

	coordinator := NewCoordinator(store, &stubNotifier{})

	_, err := coordinator.Assign(context.Background(), "w1", "op1", "sup1")
	require.Error(t, err)

	var mismatch *storage.MachineMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "bartack", mismatch.Required)
	assert.Equal(t, []string{"overlock", "flatlock"}, mismatch.OperatorMachines)

	// The failed assign left the item untouched.
	unchanged, err := store.GetWorkItem(context.Background(), "w1")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusReady, unchanged.Status)
	assert.Empty(t, unchanged.AssignedOperator)
}

func TestAssign_SynonymAndMultiMachine(t *testing.T) {
	store := newMemStore()
	item := readyItem("w1")
	item.MachineType = "overlock"
	store.put(item)
	second := readyItem("w2")
	second.ID = "w2"
	second.MachineType = "bartack"
	store.put(second)

	store.operators["op1"] = &storage.Operator{ID: "op1", Machines: []string{"serger"}}
	store.operators["op2"] = &storage.Operator{ID: "op2", Machines: []string{"multi"}}

	coordinator := NewCoordinator(store, &stubNotifier{})
	ctx := context.Background()

	// Serger is a recognized synonym for overlock.
	item1, err := coordinator.Assign(ctx, "w1", "op1", "sup1")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusAssigned, item1.Status)

	// Multi-machine operators take anything.
	item2, err := coordinator.Assign(ctx, "w2", "op2", "sup1")
	require.NoError(t, err)
	assert.Equal(t, "op2", item2.AssignedOperator)
}

func TestSelfAssign_PendingWithUnsatisfiedDependencies(t *testing.T) {
	store := newMemStore()

	dep := readyItem("a")
	dep.Status = storage.StatusInProgress
	dep.AssignedOperator = "op9"
	store.put(dep)

	item := readyItem("b")
	item.ID = "b"
	item.Status = storage.StatusPending
	item.Dependencies = []string{"a"}
	store.put(item)

	coordinator := NewCoordinator(store, &stubNotifier{})

	_, err := coordinator.SelfAssign(context.Background(), "b", "op1")
	assert.ErrorIs(t, err, storage.ErrDependencyUnsatisfied)
}

func TestReassign_NotifiesBothOperators(t *testing.T) {
	store := newMemStore()
	item := readyItem("w1")
	item.Status = storage.StatusAssigned
	item.AssignedOperator = "op1"
	store.put(item)

	notifier := &stubNotifier{}
	coordinator := NewCoordinator(store, notifier)

	moved, err := coordinator.Reassign(context.Background(), "w1", "op2", "sup1")
	require.NoError(t, err)
	assert.Equal(t, "op2", moved.AssignedOperator)
	assert.Equal(t, "op1", moved.ReassignedFrom)

	events := notifier.byType(notify.EventWorkReassigned)
	require.Equal(t, 2, len(events))
	targets := []string{events[0].TargetUserID, events[1].TargetUserID}
	assert.ElementsMatch(t, []string{"op1", "op2"}, targets)
}
