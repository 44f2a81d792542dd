package save

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"sewline/internal/service/generate"
	"sewline/internal/storage"
)

type LotGenerator interface {
	Generate(ctx context.Context, lot storage.WipLot) (*generate.Result, error)
}

type Response struct {
	LotNumber string                   `json:"lot_number"`
	Created   int                      `json:"created"`
	Skipped   []generate.SkippedBundle `json:"skipped,omitempty"`
	Status    string                   `json:"status"`
	Error     string                   `json:"error,omitempty"`
}

// SaveWipLot takes a fabric intake and expands it into the lot's work items.
func SaveWipLot(log *slog.Logger, gen LotGenerator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.wip.save.SaveWipLot"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var lot storage.WipLot
		if err := json.NewDecoder(r.Body).Decode(&lot); err != nil {
			log.Error("invalid request body", slog.String("error", err.Error()))
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		if lot.LotNumber == "" {
			log.Error("missing lot number")
			http.Error(w, "lot_number is required", http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
		defer cancel()

		result, err := gen.Generate(ctx, lot)
		if err != nil {
			log.Error("failed to generate work items", slog.String("error", err.Error()))

			status := http.StatusInternalServerError
			if errors.Is(err, storage.ErrCycleDetected) {
				status = http.StatusUnprocessableEntity
			}
			w.WriteHeader(status)
			render.JSON(w, r, Response{LotNumber: lot.LotNumber, Error: "failed to generate work items"})
			return
		}

		log.Info("lot generated",
			slog.String("lot_number", lot.LotNumber),
			slog.Int("created", len(result.Items)),
			slog.Int("skipped", len(result.Skipped)),
		)

		render.JSON(w, r, Response{
			LotNumber: lot.LotNumber,
			Created:   len(result.Items),
			Skipped:   result.Skipped,
			Status:    strconv.Itoa(http.StatusOK),
		})
	}
}
