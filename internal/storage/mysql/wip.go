package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"sewline/internal/storage"
)

func (s *Storage) SaveWipLot(ctx context.Context, lot *storage.WipLot) error {
	const op = "storage.mysql.SaveWipLot"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr(op, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO wip_lots (lot_number, fabric_type, fabric_color, received_from, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		lot.LotNumber, lot.FabricType, lot.FabricColor, lot.ReceivedFrom, string(lot.Status), lot.CreatedAt)
	if err != nil {
		return persistErr(op, err)
	}

	rollStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO wip_rolls (lot_number, roll_number, color, layer_count, weight_kg, piece_count)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return persistErr(op, err)
	}
	defer rollStmt.Close()

	for _, roll := range lot.Rolls {
		_, err := rollStmt.ExecContext(ctx, lot.LotNumber, roll.RollNumber, roll.Color,
			roll.LayerCount, roll.WeightKg, roll.PieceCount)
		if err != nil {
			return persistErr(op, err)
		}
	}

	artStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO wip_articles (lot_number, article, garment_type_id, sizes, ratios)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return persistErr(op, err)
	}
	defer artStmt.Close()

	for _, art := range lot.Articles {
		_, err := artStmt.ExecContext(ctx, lot.LotNumber, art.Article, art.GarmentTypeID,
			art.Sizes, art.Ratios)
		if err != nil {
			return persistErr(op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return persistErr(op, err)
	}
	return nil
}

func (s *Storage) GetWipLot(ctx context.Context, lotNumber string) (*storage.WipLot, error) {
	const op = "storage.mysql.GetWipLot"

	lot := &storage.WipLot{}
	var status string

	err := s.db.QueryRowContext(ctx, `
		SELECT lot_number, fabric_type, fabric_color, received_from, status, created_at
		FROM wip_lots WHERE lot_number = ?`, lotNumber).Scan(
		&lot.LotNumber, &lot.FabricType, &lot.FabricColor, &lot.ReceivedFrom, &status, &lot.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: lot %s: %w", op, lotNumber, storage.ErrNotFound)
		}
		return nil, persistErr(op, err)
	}
	lot.Status = storage.LotStatus(status)

	rows, err := s.db.QueryContext(ctx, `
		SELECT roll_number, color, layer_count, weight_kg, piece_count
		FROM wip_rolls WHERE lot_number = ?`, lotNumber)
	if err != nil {
		return nil, persistErr(op, err)
	}
	defer rows.Close()

	for rows.Next() {
		var roll storage.Roll
		if err := rows.Scan(&roll.RollNumber, &roll.Color, &roll.LayerCount, &roll.WeightKg, &roll.PieceCount); err != nil {
			return nil, persistErr(op, err)
		}
		lot.Rolls = append(lot.Rolls, roll)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr(op, err)
	}

	artRows, err := s.db.QueryContext(ctx, `
		SELECT article, garment_type_id, sizes, ratios
		FROM wip_articles WHERE lot_number = ?`, lotNumber)
	if err != nil {
		return nil, persistErr(op, err)
	}
	defer artRows.Close()

	for artRows.Next() {
		var art storage.ArticleConfig
		if err := artRows.Scan(&art.Article, &art.GarmentTypeID, &art.Sizes, &art.Ratios); err != nil {
			return nil, persistErr(op, err)
		}
		lot.Articles = append(lot.Articles, art)
	}
	if err := artRows.Err(); err != nil {
		return nil, persistErr(op, err)
	}

	return lot, nil
}

func (s *Storage) CloseWipLot(ctx context.Context, lotNumber string) error {
	const op = "storage.mysql.CloseWipLot"

	res, err := s.db.ExecContext(ctx,
		`UPDATE wip_lots SET status = 'closed' WHERE lot_number = ? AND status = 'active'`, lotNumber)
	if err != nil {
		return persistErr(op, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return persistErr(op, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: lot %s: %w", op, lotNumber, storage.ErrNotFound)
	}
	return nil
}

// DeleteWipLot removes the lot and cascades to its work items. The only path
// that ever deletes a work item.
func (s *Storage) DeleteWipLot(ctx context.Context, lotNumber string) error {
	const op = "storage.mysql.DeleteWipLot"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr(op, err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM work_items WHERE lot_number = ?`,
		`DELETE FROM wip_rolls WHERE lot_number = ?`,
		`DELETE FROM wip_articles WHERE lot_number = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, lotNumber); err != nil {
			return persistErr(op, err)
		}
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM wip_lots WHERE lot_number = ?`, lotNumber)
	if err != nil {
		return persistErr(op, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return persistErr(op, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: lot %s: %w", op, lotNumber, storage.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return persistErr(op, err)
	}
	return nil
}
