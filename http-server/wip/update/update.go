package update

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"sewline/internal/storage"
)

type LotStore interface {
	CloseWipLot(ctx context.Context, lotNumber string) error
	DeleteWipLot(ctx context.Context, lotNumber string) error
}

type Response struct {
	LotNumber string `json:"lot_number"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

func CloseLot(log *slog.Logger, store LotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.wip.update.CloseLot"
		handleLotAction(log, op, w, r, store.CloseWipLot)
	}
}

// DeleteLot removes the lot and cascades to its work items.
func DeleteLot(log *slog.Logger, store LotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.wip.update.DeleteLot"
		handleLotAction(log, op, w, r, store.DeleteWipLot)
	}
}

func handleLotAction(log *slog.Logger, op string, w http.ResponseWriter, r *http.Request,
	action func(ctx context.Context, lotNumber string) error) {

	log = log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	lotNumber := chi.URLParam(r, "lotNumber")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := action(ctx, lotNumber); err != nil {
		log.Error("lot action failed",
			slog.String("lot_number", lotNumber),
			slog.String("error", err.Error()),
		)

		status := http.StatusInternalServerError
		if errors.Is(err, storage.ErrNotFound) {
			status = http.StatusNotFound
		}
		w.WriteHeader(status)
		render.JSON(w, r, Response{LotNumber: lotNumber, Error: "lot action failed"})
		return
	}

	render.JSON(w, r, Response{
		LotNumber: lotNumber,
		Status:    strconv.Itoa(http.StatusOK),
	})
}
