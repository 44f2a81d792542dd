package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"sewline/internal/storage"
)

// Each transition below is one conditional UPDATE keyed on the current status
// (and owner where the state machine demands it). Zero rows affected means the
// precondition failed; casFailure then tells NotFound apart from a lost race.

func casFailure(ctx context.Context, tx *sql.Tx, op, id string) error {
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM work_items WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: work item %s: %w", op, id, storage.ErrNotFound)
	}
	if err != nil {
		return persistErr(op, err)
	}
	return fmt.Errorf("%s: work item %s in status %s: %w", op, id, status, storage.ErrWorkUnavailable)
}

func getWorkItemTx(ctx context.Context, tx *sql.Tx, id string) (*storage.WorkItem, error) {
	stmt := `SELECT ` + workItemColumns + ` FROM work_items WHERE id = ?`
	return scanWorkItem(tx.QueryRowContext(ctx, stmt, id))
}

func (s *Storage) transition(ctx context.Context, op, id, update string, args ...any) (*storage.WorkItem, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistErr(op, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, update, args...)
	if err != nil {
		return nil, persistErr(op, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, persistErr(op, err)
	}
	if affected == 0 {
		return nil, casFailure(ctx, tx, op, id)
	}

	item, err := getWorkItemTx(ctx, tx, id)
	if err != nil {
		return nil, persistErr(op, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, persistErr(op, err)
	}
	return item, nil
}

// ClaimWorkItem is the self-assignment compare-and-swap: exactly one of any
// number of racing operators wins, the rest fail the status precondition.
func (s *Storage) ClaimWorkItem(ctx context.Context, id, operatorID string, at time.Time) (*storage.WorkItem, error) {
	const op = "storage.mysql.ClaimWorkItem"

	return s.transition(ctx, op, id, `
		UPDATE work_items
		SET status = 'self_assigned', assigned_operator = ?, requested_by = ?, assigned_at = ?
		WHERE id = ? AND status IN ('pending', 'ready') AND assigned_operator IS NULL`,
		operatorID, operatorID, at, id)
}

func (s *Storage) ApproveWorkItem(ctx context.Context, id, supervisorID string) (*storage.WorkItem, error) {
	const op = "storage.mysql.ApproveWorkItem"

	return s.transition(ctx, op, id, `
		UPDATE work_items
		SET status = 'assigned', assigned_by = ?
		WHERE id = ? AND status = 'self_assigned'`,
		supervisorID, id)
}

func (s *Storage) RejectWorkItem(ctx context.Context, id, reason string) (*storage.WorkItem, error) {
	const op = "storage.mysql.RejectWorkItem"

	return s.transition(ctx, op, id, `
		UPDATE work_items
		SET status = 'ready', assigned_operator = NULL, requested_by = NULL,
		    assigned_at = NULL, rejection_reason = ?
		WHERE id = ? AND status = 'self_assigned'`,
		reason, id)
}

func (s *Storage) AssignWorkItem(ctx context.Context, id, operatorID, supervisorID string, at time.Time) (*storage.WorkItem, error) {
	const op = "storage.mysql.AssignWorkItem"

	return s.transition(ctx, op, id, `
		UPDATE work_items
		SET status = 'assigned', assigned_operator = ?, assigned_by = ?, assigned_at = ?
		WHERE id = ? AND status IN ('pending', 'ready')`,
		operatorID, supervisorID, at, id)
}

// ReassignWorkItem records the displaced operator in reassigned_from; MySQL
// evaluates SET clauses left to right, so the old value is captured before
// the overwrite.
func (s *Storage) ReassignWorkItem(ctx context.Context, id, newOperatorID, supervisorID string, at time.Time) (*storage.WorkItem, error) {
	const op = "storage.mysql.ReassignWorkItem"

	return s.transition(ctx, op, id, `
		UPDATE work_items
		SET reassigned_from = assigned_operator, assigned_operator = ?,
		    assigned_by = ?, status = 'assigned', assigned_at = ?
		WHERE id = ? AND status IN ('self_assigned', 'assigned', 'in_progress')`,
		newOperatorID, supervisorID, at, id)
}

func (s *Storage) StartWorkItem(ctx context.Context, id, operatorID string, at time.Time) (*storage.WorkItem, error) {
	const op = "storage.mysql.StartWorkItem"

	return s.transition(ctx, op, id, `
		UPDATE work_items
		SET status = 'in_progress', started_at = ?
		WHERE id = ? AND assigned_operator = ? AND status IN ('assigned', 'self_assigned')`,
		at, id, operatorID)
}

// CompleteWorkItem marks the item completed and promotes newly-unblocked
// dependents inside the same transaction, so the completion is visible to the
// promotion logic before any dependent can be observed ready.
func (s *Storage) CompleteWorkItem(ctx context.Context, id, operatorID string, data storage.CompletionData, at time.Time) (*storage.WorkItem, []*storage.WorkItem, error) {
	const op = "storage.mysql.CompleteWorkItem"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, persistErr(op, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE work_items
		SET status = 'completed', completed_at = ?, actual_minutes = ?, completion_notes = ?
		WHERE id = ? AND status = 'in_progress' AND assigned_operator = ?`,
		at, data.ActualMinutes, data.Notes, id, operatorID)
	if err != nil {
		return nil, nil, persistErr(op, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, nil, persistErr(op, err)
	}
	if affected == 0 {
		return nil, nil, casFailure(ctx, tx, op, id)
	}

	completed, err := getWorkItemTx(ctx, tx, id)
	if err != nil {
		return nil, nil, persistErr(op, err)
	}

	promoted, err := promoteDependents(ctx, tx, completed)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, persistErr(op, err)
	}
	return completed, promoted, nil
}

func promoteDependents(ctx context.Context, tx *sql.Tx, completed *storage.WorkItem) ([]*storage.WorkItem, error) {
	const op = "storage.mysql.promoteDependents"

	stmt := `SELECT ` + workItemColumns + ` FROM work_items
		WHERE lot_number = ? AND status = 'pending' AND JSON_CONTAINS(dependencies, JSON_QUOTE(?))`

	rows, err := tx.QueryContext(ctx, stmt, completed.LotNumber, completed.ID)
	if err != nil {
		return nil, persistErr(op, err)
	}

	var dependents []*storage.WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			rows.Close()
			return nil, persistErr(op, err)
		}
		dependents = append(dependents, item)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, persistErr(op, err)
	}
	rows.Close()

	var promoted []*storage.WorkItem
	for _, dep := range dependents {
		incomplete, err := countIncompleteTx(ctx, tx, dep.Dependencies)
		if err != nil {
			return nil, err
		}
		if incomplete > 0 {
			continue
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE work_items SET status = 'ready' WHERE id = ? AND status = 'pending'`, dep.ID); err != nil {
			return nil, persistErr(op, err)
		}
		dep.Status = storage.StatusReady
		promoted = append(promoted, dep)
	}

	return promoted, nil
}

func countIncompleteTx(ctx context.Context, tx *sql.Tx, ids []string) (int, error) {
	const op = "storage.mysql.countIncompleteTx"

	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM work_items WHERE id IN (`+placeholders+`) AND status <> 'completed'`,
		args...).Scan(&n)
	if err != nil {
		return 0, persistErr(op, err)
	}
	return n, nil
}

// CountIncompleteDependencies answers whether a pending item could become
// ready. Completion is terminal, so a zero result cannot be invalidated by a
// concurrent writer.
func (s *Storage) CountIncompleteDependencies(ctx context.Context, ids []string) (int, error) {
	const op = "storage.mysql.CountIncompleteDependencies"

	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, persistErr(op, err)
	}
	defer tx.Rollback()

	n, err := countIncompleteTx(ctx, tx, ids)
	if err != nil {
		return 0, err
	}

	return n, tx.Commit()
}

// PauseForInsertion parks every ready/assigned item of the lot while the
// sequence is rebuilt, saving the prior status for the resume step.
func (s *Storage) PauseForInsertion(ctx context.Context, lotNumber, pausedBy string) ([]*storage.WorkItem, error) {
	const op = "storage.mysql.PauseForInsertion"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistErr(op, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE work_items
		SET original_status = status, status = 'paused_for_insertion', paused_by = ?
		WHERE lot_number = ? AND status IN ('ready', 'assigned')`,
		pausedBy, lotNumber)
	if err != nil {
		return nil, persistErr(op, err)
	}

	stmt := `SELECT ` + workItemColumns + ` FROM work_items
		WHERE lot_number = ? AND paused_by = ? AND status = 'paused_for_insertion'`

	rows, err := tx.QueryContext(ctx, stmt, lotNumber, pausedBy)
	if err != nil {
		return nil, persistErr(op, err)
	}
	defer rows.Close()

	var paused []*storage.WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, persistErr(op, err)
		}
		paused = append(paused, item)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr(op, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, persistErr(op, err)
	}
	return paused, nil
}

// ResumePaused restores items paused by the given insertion to their saved
// status. Only called after the sequence rewrite has committed.
func (s *Storage) ResumePaused(ctx context.Context, lotNumber, pausedBy string) error {
	const op = "storage.mysql.ResumePaused"

	_, err := s.db.ExecContext(ctx, `
		UPDATE work_items
		SET status = original_status, original_status = NULL, paused_by = NULL
		WHERE lot_number = ? AND paused_by = ? AND status = 'paused_for_insertion'`,
		lotNumber, pausedBy)
	if err != nil {
		return persistErr(op, err)
	}
	return nil
}

// RewriteSequence applies the recalculated ordering in one transaction.
// Completed items are immutable and excluded from the rewrite.
func (s *Storage) RewriteSequence(ctx context.Context, updates []storage.SequenceUpdate) error {
	const op = "storage.mysql.RewriteSequence"

	if len(updates) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr(op, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE work_items
		SET sequence_position = ?, predecessors = ?, successors = ?
		WHERE id = ? AND status <> 'completed'`)
	if err != nil {
		return persistErr(op, err)
	}
	defer stmt.Close()

	for _, u := range updates {
		_, err := stmt.ExecContext(ctx, u.SequencePosition,
			marshalList(u.Predecessors), marshalList(u.Successors), u.ID)
		if err != nil {
			return persistErr(op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return persistErr(op, err)
	}
	return nil
}
