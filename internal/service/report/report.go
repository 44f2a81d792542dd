package report

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"sewline/internal/storage"
)

type Store interface {
	GetWipLot(ctx context.Context, lotNumber string) (*storage.WipLot, error)
	ListLotWorkItems(ctx context.Context, lotNumber string) ([]*storage.WorkItem, error)
}

// Service renders a lot's work item progress as an Excel workbook for the
// floor supervisors.
type Service struct {
	storage Store
}

func NewService(store Store) *Service {
	return &Service{storage: store}
}

func (s *Service) LotProgress(ctx context.Context, lotNumber string) ([]byte, error) {
	const op = "service.report.LotProgress"

	lot, err := s.storage.GetWipLot(ctx, lotNumber)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	items, err := s.storage.ListLotWorkItems(ctx, lotNumber)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := "Lot Progress"
	f.SetSheetName("Sheet1", sheet)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:   &excelize.Font{Bold: true},
		Fill:   excelize.Fill{Type: "pattern", Color: []string{"E0E0E0"}, Pattern: 1},
		Border: []excelize.Border{{Type: "bottom", Color: "000000", Style: 2}},
	})

	headers := []string{"Bundle", "Operation", "Machine", "Pieces", "Status", "Operator",
		"Position", "Est. Minutes", "Actual Minutes", "Started", "Completed"}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, h)
		f.SetCellStyle(sheet, cell, cell, headerStyle)
	}

	byStatus := make(map[storage.Status]int)
	for row, item := range items {
		byStatus[item.Status]++

		started := ""
		if item.StartedAt != nil {
			started = item.StartedAt.Format("2006-01-02 15:04")
		}
		completed := ""
		if item.CompletedAt != nil {
			completed = item.CompletedAt.Format("2006-01-02 15:04")
		}

		values := []any{item.BundleID, item.Operation, item.MachineType, item.PieceCount,
			string(item.Status), item.AssignedOperator, item.SequencePosition,
			item.EstimatedMinutes, item.ActualMinutes, started, completed}

		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			f.SetCellValue(sheet, cell, v)
		}
	}

	summaryRow := len(items) + 3
	cell, _ := excelize.CoordinatesToCellName(1, summaryRow)
	f.SetCellValue(sheet, cell, fmt.Sprintf("Lot %s (%s): %d items, %d completed, %d in progress",
		lot.LotNumber, lot.Status, len(items),
		byStatus[storage.StatusCompleted], byStatus[storage.StatusInProgress]))

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return buf.Bytes(), nil
}
