package get

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"sewline/internal/storage"
)

type Scheduler interface {
	ReadyWork(ctx context.Context, lotNumber string) ([]*storage.WorkItem, error)
	OperatorQueue(ctx context.Context, operatorID string) ([]*storage.WorkItem, error)
}

type Response struct {
	Items  []*storage.WorkItem `json:"items"`
	Status string              `json:"status"`
	Error  string              `json:"error,omitempty"`
}

// ReadyWork returns the lot's available work, promoting any pending items
// whose dependencies have completed.
func ReadyWork(log *slog.Logger, scheduler Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.work.get.ReadyWork"

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

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		items, err := scheduler.ReadyWork(ctx, lotNumber)
		if err != nil {
			log.Error("failed to compute ready set", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, Response{Error: "failed to load ready work"})
			return
		}

		render.JSON(w, r, Response{
			Items:  items,
			Status: strconv.Itoa(http.StatusOK),
		})
	}
}

// OperatorQueue returns the operator's held work in workflow order.
func OperatorQueue(log *slog.Logger, scheduler Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.work.get.OperatorQueue"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		operatorID := r.URL.Query().Get("operator")
		if operatorID == "" {
			log.Error("missing operator in query parameters")
			http.Error(w, "missing operator", http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		items, err := scheduler.OperatorQueue(ctx, operatorID)
		if err != nil {
			log.Error("failed to compute operator queue", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, Response{Error: "failed to load operator queue"})
			return
		}

		render.JSON(w, r, Response{
			Items:  items,
			Status: strconv.Itoa(http.StatusOK),
		})
	}
}
