package assign

import (
	"context"
	"fmt"
	"time"

	"sewline/internal/notify"
	"sewline/internal/storage"
)

type Store interface {
	GetWorkItem(ctx context.Context, id string) (*storage.WorkItem, error)
	GetOperator(ctx context.Context, operatorID string) (*storage.Operator, error)
	CountIncompleteDependencies(ctx context.Context, ids []string) (int, error)

	ClaimWorkItem(ctx context.Context, id, operatorID string, at time.Time) (*storage.WorkItem, error)
	ApproveWorkItem(ctx context.Context, id, supervisorID string) (*storage.WorkItem, error)
	RejectWorkItem(ctx context.Context, id, reason string) (*storage.WorkItem, error)
	AssignWorkItem(ctx context.Context, id, operatorID, supervisorID string, at time.Time) (*storage.WorkItem, error)
	ReassignWorkItem(ctx context.Context, id, newOperatorID, supervisorID string, at time.Time) (*storage.WorkItem, error)
	StartWorkItem(ctx context.Context, id, operatorID string, at time.Time) (*storage.WorkItem, error)
	CompleteWorkItem(ctx context.Context, id, operatorID string, data storage.CompletionData, at time.Time) (*storage.WorkItem, []*storage.WorkItem, error)
}

type Notifier interface {
	Publish(e notify.Event)
}

// Coordinator runs the assignment state machine. Every transition is a single
// compare-and-swap in the store; the coordinator adds the checks that cannot
// race: machine compatibility, and dependency completeness (completion is
// terminal, so a satisfied dependency set stays satisfied between the check
// and the swap).
type Coordinator struct {
	storage  Store
	notifier Notifier
}

func NewCoordinator(store Store, notifier Notifier) *Coordinator {
	return &Coordinator{storage: store, notifier: notifier}
}

// SelfAssign lets an operator claim ready work directly, pending supervisor
// approval. Exactly one of any set of racing claimers wins.
func (c *Coordinator) SelfAssign(ctx context.Context, workItemID, operatorID string) (*storage.WorkItem, error) {
	const op = "service.assign.SelfAssign"

	if err := c.checkDependencies(ctx, workItemID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	item, err := c.storage.ClaimWorkItem(ctx, workItemID, operatorID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	c.notifier.Publish(notify.Event{
		Type:       notify.EventWorkClaimed,
		TargetRole: notify.RoleSupervisor,
		Payload: map[string]any{
			"work_item_id": item.ID,
			"operation":    item.Operation,
			"operator_id":  operatorID,
		},
	})

	return item, nil
}

func (c *Coordinator) Approve(ctx context.Context, workItemID, supervisorID string) (*storage.WorkItem, error) {
	const op = "service.assign.Approve"

	item, err := c.storage.ApproveWorkItem(ctx, workItemID, supervisorID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	c.notifier.Publish(notify.Event{
		Type:         notify.EventWorkApproved,
		TargetUserID: item.AssignedOperator,
		Payload: map[string]any{
			"work_item_id":  item.ID,
			"operation":     item.Operation,
			"supervisor_id": supervisorID,
		},
	})

	return item, nil
}

// Reject returns a self-assigned item to the ready pool and tells the
// original requester why.
func (c *Coordinator) Reject(ctx context.Context, workItemID, supervisorID, reason string) (*storage.WorkItem, error) {
	const op = "service.assign.Reject"

	// The requester is cleared by the rejection; capture it for the
	// notification first. The transition itself is still guarded by the CAS.
	before, err := c.storage.GetWorkItem(ctx, workItemID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	requester := before.RequestedBy

	item, err := c.storage.RejectWorkItem(ctx, workItemID, reason)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	c.notifier.Publish(notify.Event{
		Type:         notify.EventWorkRejected,
		TargetUserID: requester,
		Payload: map[string]any{
			"work_item_id":  item.ID,
			"operation":     item.Operation,
			"supervisor_id": supervisorID,
			"reason":        reason,
		},
	})

	return item, nil
}

// Assign is the supervisor-initiated path and the only one that checks
// machine-type compatibility. A mismatch never mutates the work item.
func (c *Coordinator) Assign(ctx context.Context, workItemID, operatorID, supervisorID string) (*storage.WorkItem, error) {
	const op = "service.assign.Assign"

	item, err := c.storage.GetWorkItem(ctx, workItemID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	operator, err := c.storage.GetOperator(ctx, operatorID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !machinesCompatible(item.MachineType, operator.Machines) {
		return nil, fmt.Errorf("%s: %w", op, &storage.MachineMismatchError{
			Required:         item.MachineType,
			OperatorID:       operatorID,
			OperatorMachines: operator.Machines,
		})
	}

	if err := c.checkDependencies(ctx, workItemID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	assigned, err := c.storage.AssignWorkItem(ctx, workItemID, operatorID, supervisorID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	c.notifier.Publish(notify.Event{
		Type:         notify.EventWorkAssigned,
		TargetUserID: operatorID,
		Payload: map[string]any{
			"work_item_id":  assigned.ID,
			"operation":     assigned.Operation,
			"supervisor_id": supervisorID,
		},
	})

	return assigned, nil
}

// Reassign moves a held item to another operator. Both the displaced and the
// new operator are notified.
func (c *Coordinator) Reassign(ctx context.Context, workItemID, newOperatorID, supervisorID string) (*storage.WorkItem, error) {
	const op = "service.assign.Reassign"

	item, err := c.storage.ReassignWorkItem(ctx, workItemID, newOperatorID, supervisorID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	payload := map[string]any{
		"work_item_id":  item.ID,
		"operation":     item.Operation,
		"supervisor_id": supervisorID,
	}
	if item.ReassignedFrom != "" {
		c.notifier.Publish(notify.Event{
			Type:         notify.EventWorkReassigned,
			TargetUserID: item.ReassignedFrom,
			Payload:      payload,
		})
	}
	c.notifier.Publish(notify.Event{
		Type:         notify.EventWorkReassigned,
		TargetUserID: newOperatorID,
		Payload:      payload,
	})

	return item, nil
}

// Start requires the caller to be the assigned operator.
func (c *Coordinator) Start(ctx context.Context, workItemID, operatorID string) (*storage.WorkItem, error) {
	const op = "service.assign.Start"

	item, err := c.storage.StartWorkItem(ctx, workItemID, operatorID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	c.notifier.Publish(notify.Event{
		Type:       notify.EventWorkStarted,
		TargetRole: notify.RoleSupervisor,
		Payload: map[string]any{
			"work_item_id": item.ID,
			"operation":    item.Operation,
			"operator_id":  operatorID,
		},
	})

	return item, nil
}

// Complete moves the item to its terminal state and promotes newly-unblocked
// dependents in the same transaction.
func (c *Coordinator) Complete(ctx context.Context, workItemID, operatorID string, data storage.CompletionData) (*storage.WorkItem, error) {
	const op = "service.assign.Complete"

	item, promoted, err := c.storage.CompleteWorkItem(ctx, workItemID, operatorID, data, time.Now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	c.notifier.Publish(notify.Event{
		Type:       notify.EventWorkCompleted,
		TargetRole: notify.RoleSupervisor,
		Payload: map[string]any{
			"work_item_id": item.ID,
			"operation":    item.Operation,
			"operator_id":  operatorID,
		},
	})

	for _, next := range promoted {
		c.notifier.Publish(notify.Event{
			Type:       notify.EventWorkReady,
			TargetRole: notify.RoleOperator,
			Payload: map[string]any{
				"work_item_id": next.ID,
				"operation":    next.Operation,
				"lot_number":   next.LotNumber,
			},
		})
	}

	return item, nil
}

func (c *Coordinator) checkDependencies(ctx context.Context, workItemID string) error {
	item, err := c.storage.GetWorkItem(ctx, workItemID)
	if err != nil {
		return err
	}

	if item.Status != storage.StatusPending || len(item.Dependencies) == 0 {
		return nil
	}

	incomplete, err := c.storage.CountIncompleteDependencies(ctx, item.Dependencies)
	if err != nil {
		return err
	}
	if incomplete > 0 {
		return fmt.Errorf("work item %s has %d incomplete dependencies: %w",
			workItemID, incomplete, storage.ErrDependencyUnsatisfied)
	}
	return nil
}
