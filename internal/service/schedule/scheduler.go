package schedule

import (
	"context"
	"fmt"
	"sort"

	"sewline/internal/storage"
)

type Store interface {
	ListLotWorkItems(ctx context.Context, lotNumber string) ([]*storage.WorkItem, error)
	ListOperatorWorkItems(ctx context.Context, operatorID string) ([]*storage.WorkItem, error)
	MarkReady(ctx context.Context, ids []string) error
}

// Service answers "what work is available" and "what is queued for operator X".
// Promotion on completion happens inside the completion transaction; this
// service additionally promotes on read so a lot never shows stale pending
// items whose dependencies have long since completed.
type Service struct {
	storage Store
}

func NewService(store Store) *Service {
	return &Service{storage: store}
}

// ReadyWork returns the lot's ready set: items whose dependencies are all
// completed, promoting satisfied pending items first. Items sharing a
// parallel group become ready together once their shared predecessors
// complete; they carry no ordering constraint against each other.
func (s *Service) ReadyWork(ctx context.Context, lotNumber string) ([]*storage.WorkItem, error) {
	const op = "service.schedule.ReadyWork"

	items, err := s.storage.ListLotWorkItems(ctx, lotNumber)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	completed := make(map[string]bool)
	for _, item := range items {
		if item.Status == storage.StatusCompleted {
			completed[item.ID] = true
		}
	}

	var promote []string
	for _, item := range items {
		if item.Status != storage.StatusPending {
			continue
		}
		if allCompleted(item.Dependencies, completed) {
			promote = append(promote, item.ID)
		}
	}

	if len(promote) > 0 {
		if err := s.storage.MarkReady(ctx, promote); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		promoteSet := make(map[string]bool, len(promote))
		for _, id := range promote {
			promoteSet[id] = true
		}
		for _, item := range items {
			if promoteSet[item.ID] {
				item.Status = storage.StatusReady
			}
		}
	}

	var ready []*storage.WorkItem
	for _, item := range items {
		if item.Status == storage.StatusReady {
			ready = append(ready, item)
		}
	}

	sort.Slice(ready, func(i, j int) bool {
		return ready[i].SequencePosition < ready[j].SequencePosition
	})

	return ready, nil
}

// OperatorQueue is always a projection over work item state, recomputed on
// every read. Nothing stores it, so nothing can hold a stale copy.
func (s *Service) OperatorQueue(ctx context.Context, operatorID string) ([]*storage.WorkItem, error) {
	const op = "service.schedule.OperatorQueue"

	items, err := s.storage.ListOperatorWorkItems(ctx, operatorID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	queue := items[:0]
	for _, item := range items {
		if item.Status.AssignedLike() {
			queue = append(queue, item)
		}
	}

	sort.Slice(queue, func(i, j int) bool {
		return queue[i].SequencePosition < queue[j].SequencePosition
	})

	return queue, nil
}

func allCompleted(deps []string, completed map[string]bool) bool {
	for _, dep := range deps {
		if !completed[dep] {
			return false
		}
	}
	return true
}
