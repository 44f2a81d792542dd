package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"sewline/internal/storage"
)

const workItemColumns = `id, lot_number, bundle_id, workflow_id, article, size, color, roll_number,
	piece_count, operation, machine_type, estimated_minutes, workflow_kind, parallel_group,
	dependencies, predecessors, successors, sequence_position, status,
	assigned_operator, assigned_by, requested_by, reassigned_from, rejection_reason,
	is_emergency, paused_by, original_status, actual_minutes, completion_notes,
	assigned_at, started_at, completed_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkItem(sc rowScanner) (*storage.WorkItem, error) {
	var (
		item          storage.WorkItem
		parallelGroup sql.NullString
		deps          []byte
		preds         []byte
		succs         []byte
		statusRaw     string
		assignedOp    sql.NullString
		assignedBy    sql.NullString
		requestedBy   sql.NullString
		reassigned    sql.NullString
		rejection     sql.NullString
		pausedBy      sql.NullString
		origStatus    sql.NullString
		actualMin     sql.NullFloat64
		notes         sql.NullString
		assignedAt    sql.NullTime
		startedAt     sql.NullTime
		completedAt   sql.NullTime
	)

	err := sc.Scan(
		&item.ID, &item.LotNumber, &item.BundleID, &item.WorkflowID,
		&item.Article, &item.Size, &item.Color, &item.RollNumber,
		&item.PieceCount, &item.Operation, &item.MachineType, &item.EstimatedMinutes,
		&item.WorkflowKind, &parallelGroup,
		&deps, &preds, &succs, &item.SequencePosition, &statusRaw,
		&assignedOp, &assignedBy, &requestedBy, &reassigned, &rejection,
		&item.IsEmergencyInsertion, &pausedBy, &origStatus, &actualMin, &notes,
		&assignedAt, &startedAt, &completedAt, &item.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	status, err := storage.ParseStatus(statusRaw)
	if err != nil {
		return nil, err
	}
	item.Status = status

	item.ParallelGroup = parallelGroup.String
	item.Dependencies = unmarshalList(deps)
	item.Predecessors = unmarshalList(preds)
	item.Successors = unmarshalList(succs)
	item.AssignedOperator = assignedOp.String
	item.AssignedBy = assignedBy.String
	item.RequestedBy = requestedBy.String
	item.ReassignedFrom = reassigned.String
	item.RejectionReason = rejection.String
	item.PausedBy = pausedBy.String
	if origStatus.Valid {
		item.OriginalStatus = storage.Status(origStatus.String)
	}
	item.ActualMinutes = actualMin.Float64
	item.CompletionNotes = notes.String
	if assignedAt.Valid {
		item.AssignedAt = &assignedAt.Time
	}
	if startedAt.Valid {
		item.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		item.CompletedAt = &completedAt.Time
	}

	return &item, nil
}

func (s *Storage) GetWorkItem(ctx context.Context, id string) (*storage.WorkItem, error) {
	const op = "storage.mysql.GetWorkItem"

	stmt := `SELECT ` + workItemColumns + ` FROM work_items WHERE id = ?`

	item, err := scanWorkItem(s.db.QueryRowContext(ctx, stmt, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: work item %s: %w", op, id, storage.ErrNotFound)
		}
		return nil, persistErr(op, err)
	}

	return item, nil
}

func (s *Storage) ListLotWorkItems(ctx context.Context, lotNumber string) ([]*storage.WorkItem, error) {
	const op = "storage.mysql.ListLotWorkItems"

	stmt := `SELECT ` + workItemColumns + ` FROM work_items WHERE lot_number = ? ORDER BY sequence_position ASC`

	rows, err := s.db.QueryContext(ctx, stmt, lotNumber)
	if err != nil {
		return nil, persistErr(op, err)
	}
	defer rows.Close()

	var items []*storage.WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, persistErr(op, err)
		}
		items = append(items, item)
	}

	if err = rows.Err(); err != nil {
		return nil, persistErr(op, err)
	}

	return items, nil
}

// ListOperatorWorkItems returns the operator's non-completed held items in
// workflow order. The queue is always this projection, never a stored copy.
func (s *Storage) ListOperatorWorkItems(ctx context.Context, operatorID string) ([]*storage.WorkItem, error) {
	const op = "storage.mysql.ListOperatorWorkItems"

	stmt := `SELECT ` + workItemColumns + ` FROM work_items
		WHERE assigned_operator = ? AND status IN ('self_assigned', 'assigned', 'in_progress')
		ORDER BY sequence_position ASC`

	rows, err := s.db.QueryContext(ctx, stmt, operatorID)
	if err != nil {
		return nil, persistErr(op, err)
	}
	defer rows.Close()

	var items []*storage.WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, persistErr(op, err)
		}
		items = append(items, item)
	}

	if err = rows.Err(); err != nil {
		return nil, persistErr(op, err)
	}

	return items, nil
}

func (s *Storage) SaveWorkItems(ctx context.Context, items []*storage.WorkItem) error {
	const op = "storage.mysql.SaveWorkItems"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr(op, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO work_items
			(id, lot_number, bundle_id, workflow_id, article, size, color, roll_number,
			 piece_count, operation, machine_type, estimated_minutes, workflow_kind, parallel_group,
			 dependencies, predecessors, successors, sequence_position, status, is_emergency, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return persistErr(op, err)
	}
	defer stmt.Close()

	for _, item := range items {
		var parallelGroup any
		if item.ParallelGroup != "" {
			parallelGroup = item.ParallelGroup
		}

		_, err := stmt.ExecContext(ctx,
			item.ID, item.LotNumber, item.BundleID, item.WorkflowID,
			item.Article, item.Size, item.Color, item.RollNumber,
			item.PieceCount, item.Operation, item.MachineType, item.EstimatedMinutes,
			string(item.WorkflowKind), parallelGroup,
			marshalList(item.Dependencies), marshalList(item.Predecessors), marshalList(item.Successors),
			item.SequencePosition, string(item.Status), item.IsEmergencyInsertion, item.CreatedAt,
		)
		if err != nil {
			return persistErr(op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return persistErr(op, err)
	}
	return nil
}

// MarkReady flips pending items to ready. The status condition makes each
// update a no-op when someone got there first.
func (s *Storage) MarkReady(ctx context.Context, ids []string) error {
	const op = "storage.mysql.MarkReady"

	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr(op, err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		_, err := tx.ExecContext(ctx,
			`UPDATE work_items SET status = 'ready' WHERE id = ? AND status = 'pending'`, id)
		if err != nil {
			return persistErr(op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return persistErr(op, err)
	}
	return nil
}
