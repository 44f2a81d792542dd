package insert

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	emergency "sewline/internal/service/insert"
	"sewline/internal/storage"
)

type Inserter interface {
	Insert(ctx context.Context, lotNumber string, spec emergency.NewItemSpec, point emergency.InsertionPoint) (*storage.WorkItem, error)
}

type Request struct {
	Operation        string  `json:"operation"`
	MachineType      string  `json:"machine_type"`
	EstimatedMinutes float64 `json:"estimated_minutes"`
	BundleID         string  `json:"bundle_id,omitempty"`
	InsertionPoint   string  `json:"insertion_point"`
}

type Response struct {
	Item   *storage.WorkItem `json:"item,omitempty"`
	Status string            `json:"status"`
	Error  string            `json:"error,omitempty"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrWorkUnavailable):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// InsertEmergencyWork splices unplanned work into a running lot. A failure
// after the pause step deliberately leaves downstream items paused; the 500
// tells the supervisor the lot needs attention.
func InsertEmergencyWork(log *slog.Logger, inserter Inserter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.emergency.insert.InsertEmergencyWork"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		lotNumber := chi.URLParam(r, "lotNumber")

		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			log.Error("invalid request body", slog.String("error", err.Error()))
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Operation == "" || req.MachineType == "" {
			http.Error(w, "operation and machine_type are required", http.StatusBadRequest)
			return
		}

		point, err := emergency.ParseInsertionPoint(req.InsertionPoint)
		if err != nil {
			log.Error("invalid insertion point", slog.String("value", req.InsertionPoint))
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
		defer cancel()

		item, err := inserter.Insert(ctx, lotNumber, emergency.NewItemSpec{
			Operation:        req.Operation,
			MachineType:      req.MachineType,
			EstimatedMinutes: req.EstimatedMinutes,
			BundleID:         req.BundleID,
		}, point)
		if err != nil {
			log.Error("emergency insertion failed",
				slog.String("lot_number", lotNumber),
				slog.String("insertion_point", string(point)),
				slog.String("error", err.Error()),
			)
			w.WriteHeader(statusFor(err))
			render.JSON(w, r, Response{Error: "emergency insertion failed"})
			return
		}

		log.Info("emergency work inserted",
			slog.String("lot_number", lotNumber),
			slog.String("work_item_id", item.ID),
			slog.String("insertion_point", string(point)),
		)

		render.JSON(w, r, Response{
			Item:   item,
			Status: strconv.Itoa(http.StatusOK),
		})
	}
}
