package save

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"sewline/internal/storage"
)

type OperatorStore interface {
	SaveOperator(ctx context.Context, oper *storage.Operator) error
}

type Response struct {
	OperatorID string `json:"operator_id"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

func SaveOperator(log *slog.Logger, store OperatorStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.operators.save.SaveOperator"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var oper storage.Operator
		if err := json.NewDecoder(r.Body).Decode(&oper); err != nil {
			log.Error("invalid request body", slog.String("error", err.Error()))
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if oper.ID == "" {
			http.Error(w, "id is required", http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := store.SaveOperator(ctx, &oper); err != nil {
			log.Error("failed to save operator", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, Response{Error: "failed to save operator"})
			return
		}

		render.JSON(w, r, Response{
			OperatorID: oper.ID,
			Status:     strconv.Itoa(http.StatusOK),
		})
	}
}
