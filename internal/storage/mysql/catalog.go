package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"sewline/internal/storage"
)

// GetOperationTemplate loads the garment type's ordered operation steps.
// The catalog lives in its own tables but reaches the engine only through
// this narrow accessor.
func (s *Storage) GetOperationTemplate(ctx context.Context, garmentTypeID string) (*storage.OperationTemplate, error) {
	const op = "storage.mysql.GetOperationTemplate"

	rows, err := s.db.QueryContext(ctx, `
		SELECT operation, machine_type, estimated_minutes, workflow_kind, depends_on, parallel_group
		FROM operation_templates
		WHERE garment_type_id = ?
		ORDER BY step_order ASC`, garmentTypeID)
	if err != nil {
		return nil, persistErr(op, err)
	}
	defer rows.Close()

	tmpl := &storage.OperationTemplate{GarmentTypeID: garmentTypeID}
	for rows.Next() {
		var (
			step          storage.TemplateStep
			kind          string
			dependsOn     []byte
			parallelGroup sql.NullString
		)
		if err := rows.Scan(&step.Operation, &step.MachineType, &step.EstimatedMinutes,
			&kind, &dependsOn, &parallelGroup); err != nil {
			return nil, persistErr(op, err)
		}
		step.WorkflowKind = storage.WorkflowKind(kind)
		step.DependsOn = unmarshalList(dependsOn)
		step.ParallelGroup = parallelGroup.String
		tmpl.Steps = append(tmpl.Steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr(op, err)
	}

	if len(tmpl.Steps) == 0 {
		return nil, fmt.Errorf("%s: garment type %s: %w", op, garmentTypeID, storage.ErrNotFound)
	}

	return tmpl, nil
}

func (s *Storage) GetOperator(ctx context.Context, operatorID string) (*storage.Operator, error) {
	const op = "storage.mysql.GetOperator"

	var (
		oper     storage.Operator
		machines []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, role, machines FROM operators WHERE id = ?`, operatorID).Scan(
		&oper.ID, &oper.Name, &oper.Role, &machines)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: operator %s: %w", op, operatorID, storage.ErrNotFound)
		}
		return nil, persistErr(op, err)
	}
	oper.Machines = unmarshalList(machines)

	return &oper, nil
}

func (s *Storage) SaveOperator(ctx context.Context, oper *storage.Operator) error {
	const op = "storage.mysql.SaveOperator"

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO operators (id, name, role, machines)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			name = VALUES(name),
			role = VALUES(role),
			machines = VALUES(machines)`,
		oper.ID, oper.Name, oper.Role, marshalList(oper.Machines))
	if err != nil {
		return persistErr(op, err)
	}
	return nil
}

func (s *Storage) ListOperators(ctx context.Context) ([]*storage.Operator, error) {
	const op = "storage.mysql.ListOperators"

	rows, err := s.db.QueryContext(ctx, `SELECT id, name, role, machines FROM operators ORDER BY name ASC`)
	if err != nil {
		return nil, persistErr(op, err)
	}
	defer rows.Close()

	var operators []*storage.Operator
	for rows.Next() {
		var (
			oper     storage.Operator
			machines []byte
		)
		if err := rows.Scan(&oper.ID, &oper.Name, &oper.Role, &machines); err != nil {
			return nil, persistErr(op, err)
		}
		oper.Machines = unmarshalList(machines)
		operators = append(operators, &oper)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr(op, err)
	}

	return operators, nil
}
