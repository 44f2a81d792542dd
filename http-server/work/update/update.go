package update

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

	"sewline/internal/storage"
)

type Coordinator interface {
	SelfAssign(ctx context.Context, workItemID, operatorID string) (*storage.WorkItem, error)
	Start(ctx context.Context, workItemID, operatorID string) (*storage.WorkItem, error)
	Complete(ctx context.Context, workItemID, operatorID string, data storage.CompletionData) (*storage.WorkItem, error)
}

type Request struct {
	OperatorID    string  `json:"operator_id"`
	ActualMinutes float64 `json:"actual_minutes,omitempty"`
	Notes         string  `json:"notes,omitempty"`
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
	case errors.Is(err, storage.ErrWorkUnavailable), errors.Is(err, storage.ErrDependencyUnsatisfied):
		return http.StatusConflict
	case storage.IsMachineMismatch(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// ClaimWork is the operator self-assignment endpoint. A lost race comes back
// as 409, never as a partial assignment.
func ClaimWork(log *slog.Logger, coordinator Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.work.update.ClaimWork"
		handleTransition(log, op, w, r, coordinator.SelfAssign)
	}
}

func StartWork(log *slog.Logger, coordinator Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.work.update.StartWork"
		handleTransition(log, op, w, r, coordinator.Start)
	}
}

func CompleteWork(log *slog.Logger, coordinator Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.work.update.CompleteWork"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		workItemID := chi.URLParam(r, "id")

		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			log.Error("invalid request body", slog.String("error", err.Error()))
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.OperatorID == "" {
			http.Error(w, "operator_id is required", http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		item, err := coordinator.Complete(ctx, workItemID, req.OperatorID, storage.CompletionData{
			ActualMinutes: req.ActualMinutes,
			Notes:         req.Notes,
		})
		if err != nil {
			log.Error("complete failed",
				slog.String("work_item_id", workItemID),
				slog.String("error", err.Error()),
			)
			w.WriteHeader(statusFor(err))
			render.JSON(w, r, Response{Error: "complete failed"})
			return
		}

		render.JSON(w, r, Response{
			Item:   item,
			Status: strconv.Itoa(http.StatusOK),
		})
	}
}

func handleTransition(log *slog.Logger, op string, w http.ResponseWriter, r *http.Request,
	transition func(ctx context.Context, workItemID, operatorID string) (*storage.WorkItem, error)) {

	log = log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	workItemID := chi.URLParam(r, "id")

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("invalid request body", slog.String("error", err.Error()))
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.OperatorID == "" {
		http.Error(w, "operator_id is required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	item, err := transition(ctx, workItemID, req.OperatorID)
	if err != nil {
		log.Error("transition failed",
			slog.String("work_item_id", workItemID),
			slog.String("operator_id", req.OperatorID),
			slog.String("error", err.Error()),
		)
		w.WriteHeader(statusFor(err))
		render.JSON(w, r, Response{Error: "transition failed"})
		return
	}

	render.JSON(w, r, Response{
		Item:   item,
		Status: strconv.Itoa(http.StatusOK),
	})
}
