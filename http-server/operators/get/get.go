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

type OperatorStore interface {
	ListOperators(ctx context.Context) ([]*storage.Operator, error)
}

type Response struct {
	Operators []*storage.Operator `json:"operators"`
	Status    string              `json:"status"`
	Error     string              `json:"error,omitempty"`
}

func GetOperators(log *slog.Logger, store OperatorStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.operators.get.GetOperators"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		operators, err := store.ListOperators(ctx)
		if err != nil {
			log.Error("failed to list operators", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, Response{Error: "failed to list operators"})
			return
		}

		render.JSON(w, r, Response{
			Operators: operators,
			Status:    strconv.Itoa(http.StatusOK),
		})
	}
}
