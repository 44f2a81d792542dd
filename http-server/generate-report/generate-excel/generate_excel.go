package generate_excel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"sewline/internal/storage"
)

type ReportService interface {
	LotProgress(ctx context.Context, lotNumber string) ([]byte, error)
}

// GenerateLotReport streams the lot progress workbook.
func GenerateLotReport(log *slog.Logger, svc ReportService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.generate-report.GenerateLotReport"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		lotNumber := r.URL.Query().Get("lot")
		if lotNumber == "" {
			log.Error("missing lot in query parameters")
			http.Error(w, "missing lot", http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()

		data, err := svc.LotProgress(ctx, lotNumber)
		if err != nil {
			log.Error("failed to generate report",
				slog.String("lot_number", lotNumber),
				slog.String("error", err.Error()),
			)
			if errors.Is(err, storage.ErrNotFound) {
				http.Error(w, "lot not found", http.StatusNotFound)
				return
			}
			http.Error(w, "failed to generate report", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=lot_%s.xlsx", lotNumber))
		w.Write(data)
	}
}
