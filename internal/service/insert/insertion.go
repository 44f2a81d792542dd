package insert

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"sewline/internal/notify"
	"sewline/internal/storage"
)

// InsertionPoint tells the engine where the new work lands relative to the
// lot's running sequence.
type InsertionPoint string

const (
	AfterCurrent InsertionPoint = "after_current"
	BeforeNext   InsertionPoint = "before_next"
	Parallel     InsertionPoint = "parallel"
)

func ParseInsertionPoint(s string) (InsertionPoint, error) {
	switch InsertionPoint(s) {
	case AfterCurrent, BeforeNext, Parallel:
		return InsertionPoint(s), nil
	}
	return "", fmt.Errorf("unknown insertion point %q", s)
}

// Parallel work carries a display position far past any sequential chain.
const parallelSentinel = 10000

type NewItemSpec struct {
	Operation        string  `json:"operation"`
	MachineType      string  `json:"machine_type"`
	EstimatedMinutes float64 `json:"estimated_minutes"`
	BundleID         string  `json:"bundle_id,omitempty"`
}

type Store interface {
	GetWipLot(ctx context.Context, lotNumber string) (*storage.WipLot, error)
	ListLotWorkItems(ctx context.Context, lotNumber string) ([]*storage.WorkItem, error)
	SaveWorkItems(ctx context.Context, items []*storage.WorkItem) error
	PauseForInsertion(ctx context.Context, lotNumber, pausedBy string) ([]*storage.WorkItem, error)
	RewriteSequence(ctx context.Context, updates []storage.SequenceUpdate) error
	ResumePaused(ctx context.Context, lotNumber, pausedBy string) error
	ListOperatorWorkItems(ctx context.Context, operatorID string) ([]*storage.WorkItem, error)
}

type Notifier interface {
	Publish(e notify.Event)
}

// Engine injects unplanned work into a lot that already has items in flight.
//
// Resume policy: paused items are restored to their saved status as soon as
// the sequence rewrite commits, for every insertion point. If any step after
// the pause fails, paused items stay paused and the error is surfaced for a
// supervisor to act on.
type Engine struct {
	storage  Store
	notifier Notifier
}

func NewEngine(store Store, notifier Notifier) *Engine {
	return &Engine{storage: store, notifier: notifier}
}

func (e *Engine) Insert(ctx context.Context, lotNumber string, spec NewItemSpec, point InsertionPoint) (*storage.WorkItem, error) {
	const op = "service.insert.Insert"

	lot, err := e.storage.GetWipLot(ctx, lotNumber)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if lot.Status == storage.LotClosed {
		return nil, fmt.Errorf("%s: lot %s is closed: %w", op, lotNumber, storage.ErrWorkUnavailable)
	}

	items, err := e.storage.ListLotWorkItems(ctx, lotNumber)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	item := buildItem(lotNumber, spec, point, items)
	item.SequencePosition = computePosition(items, point)

	if point == Parallel {
		// No ordering constraint: nothing pauses, no position changes.
		if err := e.storage.SaveWorkItems(ctx, []*storage.WorkItem{item}); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		e.notifyInserted(item, nil)
		return item, nil
	}

	paused, err := e.storage.PauseForInsertion(ctx, lotNumber, item.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// From here on a failure leaves the paused items paused.
	if err := e.storage.SaveWorkItems(ctx, []*storage.WorkItem{item}); err != nil {
		return nil, fmt.Errorf("%s: insert while lot paused: %w", op, err)
	}

	updates := recalculateSequence(items, item)
	if err := e.storage.RewriteSequence(ctx, updates); err != nil {
		return nil, fmt.Errorf("%s: recalculate while lot paused: %w", op, err)
	}

	if err := e.storage.ResumePaused(ctx, lotNumber, item.ID); err != nil {
		return nil, fmt.Errorf("%s: resume after recalculation: %w", op, err)
	}

	if err := e.refreshOperatorQueues(ctx, paused); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	e.notifyInserted(item, paused)
	return item, nil
}

func buildItem(lotNumber string, spec NewItemSpec, point InsertionPoint, existing []*storage.WorkItem) *storage.WorkItem {
	workflowID := uuid.NewString()
	if len(existing) > 0 {
		workflowID = existing[0].WorkflowID
	}

	bundleID := spec.BundleID
	if bundleID == "" {
		bundleID = "emergency"
	}

	kind := storage.WorkflowSequential
	if point == Parallel {
		kind = storage.WorkflowParallel
	}

	return &storage.WorkItem{
		ID:                   uuid.NewString(),
		LotNumber:            lotNumber,
		BundleID:             bundleID,
		WorkflowID:           workflowID,
		Operation:            spec.Operation,
		MachineType:          spec.MachineType,
		EstimatedMinutes:     spec.EstimatedMinutes,
		WorkflowKind:         kind,
		Status:               storage.StatusReady,
		IsEmergencyInsertion: true,
		CreatedAt:            time.Now(),
	}
}

// computePosition picks a fractional slot so no existing item needs
// renumbering before the recalculation pass.
func computePosition(items []*storage.WorkItem, point InsertionPoint) float64 {
	sorted := make([]*storage.WorkItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].SequencePosition < sorted[j].SequencePosition
	})

	switch point {
	case Parallel:
		n := 0
		for _, item := range sorted {
			if item.SequencePosition >= parallelSentinel {
				n++
			}
		}
		return parallelSentinel + float64(n)

	case AfterCurrent:
		for _, item := range sorted {
			if item.Status == storage.StatusInProgress {
				return item.SequencePosition + 0.5
			}
		}
		// Nothing in progress: degrade to before the next workable item.
		fallthrough

	default: // BeforeNext
		for _, item := range sorted {
			if item.Status == storage.StatusReady || item.Status == storage.StatusAssigned {
				return item.SequencePosition - 0.5
			}
		}
		if len(sorted) == 0 {
			return 1
		}
		last := sorted[len(sorted)-1]
		return last.SequencePosition + 1
	}
}

// recalculateSequence is a full re-derivation, not an incremental patch:
// the ordered list of non-completed, non-emergency items is rebuilt, the new
// item spliced in at its fractional position, and every item in the rebuilt
// list gets an integer position and a fresh predecessor/successor chain.
func recalculateSequence(existing []*storage.WorkItem, inserted *storage.WorkItem) []storage.SequenceUpdate {
	var rebuilt []*storage.WorkItem
	for _, item := range existing {
		if item.Status == storage.StatusCompleted || item.IsEmergencyInsertion {
			continue
		}
		rebuilt = append(rebuilt, item)
	}
	rebuilt = append(rebuilt, inserted)

	sort.SliceStable(rebuilt, func(i, j int) bool {
		return rebuilt[i].SequencePosition < rebuilt[j].SequencePosition
	})

	updates := make([]storage.SequenceUpdate, len(rebuilt))
	for i, item := range rebuilt {
		u := storage.SequenceUpdate{
			ID:               item.ID,
			SequencePosition: float64(i + 1),
		}
		if i > 0 {
			u.Predecessors = []string{rebuilt[i-1].ID}
		}
		if i < len(rebuilt)-1 {
			u.Successors = []string{rebuilt[i+1].ID}
		}
		updates[i] = u
	}
	return updates
}

// refreshOperatorQueues recomputes the queue of every operator holding an
// affected item and tells them their schedule changed.
func (e *Engine) refreshOperatorQueues(ctx context.Context, affected []*storage.WorkItem) error {
	operators := make(map[string]bool)
	for _, item := range affected {
		if item.AssignedOperator != "" {
			operators[item.AssignedOperator] = true
		}
	}

	g, gCtx := errgroup.WithContext(ctx)
	for operatorID := range operators {
		g.Go(func() error {
			queue, err := e.storage.ListOperatorWorkItems(gCtx, operatorID)
			if err != nil {
				return fmt.Errorf("queue for %s: %w", operatorID, err)
			}

			e.notifier.Publish(notify.Event{
				Type:         notify.EventQueueUpdated,
				TargetUserID: operatorID,
				Payload: map[string]any{
					"queue_length": len(queue),
				},
			})
			return nil
		})
	}
	return g.Wait()
}

func (e *Engine) notifyInserted(item *storage.WorkItem, paused []*storage.WorkItem) {
	e.notifier.Publish(notify.Event{
		Type:       notify.EventEmergencyInserted,
		TargetRole: notify.RoleSupervisor,
		Payload: map[string]any{
			"work_item_id": item.ID,
			"lot_number":   item.LotNumber,
			"operation":    item.Operation,
			"paused_count": len(paused),
		},
	})
}
