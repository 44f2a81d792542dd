package storage

import (
	"fmt"
	"time"
)

// Status is the closed set of work item lifecycle states. Unknown values
// are rejected at the boundary by ParseStatus.
type Status string

const (
	StatusPending            Status = "pending"
	StatusReady              Status = "ready"
	StatusSelfAssigned       Status = "self_assigned"
	StatusAssigned           Status = "assigned"
	StatusInProgress         Status = "in_progress"
	StatusCompleted          Status = "completed"
	StatusPausedForInsertion Status = "paused_for_insertion"
)

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusReady, StatusSelfAssigned, StatusAssigned,
		StatusInProgress, StatusCompleted, StatusPausedForInsertion:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown work item status %q", s)
}

// Assignable reports whether an operator may still claim the item.
func (s Status) Assignable() bool {
	return s == StatusPending || s == StatusReady
}

// AssignedLike reports whether the item is held by an operator but not yet done.
func (s Status) AssignedLike() bool {
	return s == StatusSelfAssigned || s == StatusAssigned || s == StatusInProgress
}

// Terminal reports whether the item is immutable.
func (s Status) Terminal() bool { return s == StatusCompleted }

type WorkflowKind string

const (
	WorkflowSequential WorkflowKind = "sequential"
	WorkflowParallel   WorkflowKind = "parallel"
)

// WorkItem is one sewing operation on one bundle, assignable to exactly one
// operator at a time.
type WorkItem struct {
	ID               string       `json:"id"`
	LotNumber        string       `json:"lot_number"`
	BundleID         string       `json:"bundle_id"`
	WorkflowID       string       `json:"workflow_id"`
	Article          string       `json:"article"`
	Size             string       `json:"size"`
	Color            string       `json:"color"`
	RollNumber       string       `json:"roll_number"`
	PieceCount       int          `json:"piece_count"`
	Operation        string       `json:"operation"`
	MachineType      string       `json:"machine_type"`
	EstimatedMinutes float64      `json:"estimated_minutes"`
	WorkflowKind     WorkflowKind `json:"workflow_kind"`
	ParallelGroup    string       `json:"parallel_group,omitempty"`

	// Dependencies are work item ids that must reach completed before this
	// item can become ready. All ids belong to the same lot.
	Dependencies []string `json:"dependencies"`
	Predecessors []string `json:"predecessors"`
	Successors   []string `json:"successors"`

	// SequencePosition is a sortable workflow-order key. Fractional values
	// appear transiently during emergency insertion; the recalculation pass
	// restores integers.
	SequencePosition float64 `json:"sequence_position"`

	Status           Status `json:"status"`
	AssignedOperator string `json:"assigned_operator,omitempty"`
	AssignedBy       string `json:"assigned_by,omitempty"`
	RequestedBy      string `json:"requested_by,omitempty"`
	ReassignedFrom   string `json:"reassigned_from,omitempty"`
	RejectionReason  string `json:"rejection_reason,omitempty"`

	IsEmergencyInsertion bool   `json:"is_emergency_insertion"`
	PausedBy             string `json:"paused_by,omitempty"`
	OriginalStatus       Status `json:"original_status,omitempty"`

	ActualMinutes   float64 `json:"actual_minutes,omitempty"`
	CompletionNotes string  `json:"completion_notes,omitempty"`

	AssignedAt  *time.Time `json:"assigned_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// CompletionData is reported by the operator when finishing an item.
type CompletionData struct {
	ActualMinutes float64 `json:"actual_minutes"`
	Notes         string  `json:"notes"`
}

// SequenceUpdate rewrites the ordering fields of one work item during the
// post-insertion recalculation pass.
type SequenceUpdate struct {
	ID               string
	SequencePosition float64
	Predecessors     []string
	Successors       []string
}

// Operator is a machine operator as the engine sees them: an id plus the set
// of machine types they are configured for. Full operator records live
// outside the core.
type Operator struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Role     string   `json:"role"`
	Machines []string `json:"machines"`
}
