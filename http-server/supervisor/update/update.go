package update

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"sewline/internal/storage"
)

type Coordinator interface {
	Approve(ctx context.Context, workItemID, supervisorID string) (*storage.WorkItem, error)
	Reject(ctx context.Context, workItemID, supervisorID, reason string) (*storage.WorkItem, error)
	Assign(ctx context.Context, workItemID, operatorID, supervisorID string) (*storage.WorkItem, error)
	Reassign(ctx context.Context, workItemID, newOperatorID, supervisorID string) (*storage.WorkItem, error)
}

type Request struct {
	SupervisorID string `json:"supervisor_id"`
	OperatorID   string `json:"operator_id,omitempty"`
	Reason       string `json:"reason,omitempty"`
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

func decode(w http.ResponseWriter, r *http.Request, log *slog.Logger) (Request, bool) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("invalid request body", slog.String("error", err.Error()))
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return req, false
	}
	if req.SupervisorID == "" {
		http.Error(w, "supervisor_id is required", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

func respond(w http.ResponseWriter, r *http.Request, log *slog.Logger, item *storage.WorkItem, err error, action string) {
	if err != nil {
		log.Error(action+" failed", slog.String("error", err.Error()))

		msg := action + " failed"
		var mismatch *storage.MachineMismatchError
		if errors.As(err, &mismatch) {
			// The mismatch names both sides so it can be diagnosed from the response.
			msg = "machine type mismatch: item requires " + mismatch.Required +
				", operator has [" + strings.Join(mismatch.OperatorMachines, ", ") + "]"
		}

		w.WriteHeader(statusFor(err))
		render.JSON(w, r, Response{Error: msg})
		return
	}

	render.JSON(w, r, Response{
		Item:   item,
		Status: strconv.Itoa(http.StatusOK),
	})
}

func ApproveWork(log *slog.Logger, coordinator Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.supervisor.update.ApproveWork"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		req, ok := decode(w, r, log)
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		item, err := coordinator.Approve(ctx, chi.URLParam(r, "id"), req.SupervisorID)
		respond(w, r, log, item, err, "approve")
	}
}

func RejectWork(log *slog.Logger, coordinator Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.supervisor.update.RejectWork"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		req, ok := decode(w, r, log)
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		item, err := coordinator.Reject(ctx, chi.URLParam(r, "id"), req.SupervisorID, req.Reason)
		respond(w, r, log, item, err, "reject")
	}
}

// AssignWork is the supervisor-initiated assignment; it fails with 422 when
// the operator's machine set excludes the item's required machine type.
func AssignWork(log *slog.Logger, coordinator Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.supervisor.update.AssignWork"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		req, ok := decode(w, r, log)
		if !ok {
			return
		}
		if req.OperatorID == "" {
			http.Error(w, "operator_id is required", http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		item, err := coordinator.Assign(ctx, chi.URLParam(r, "id"), req.OperatorID, req.SupervisorID)
		respond(w, r, log, item, err, "assign")
	}
}

func ReassignWork(log *slog.Logger, coordinator Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.supervisor.update.ReassignWork"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		req, ok := decode(w, r, log)
		if !ok {
			return
		}
		if req.OperatorID == "" {
			http.Error(w, "operator_id is required", http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		item, err := coordinator.Reassign(ctx, chi.URLParam(r, "id"), req.OperatorID, req.SupervisorID)
		respond(w, r, log, item, err, "reassign")
	}
}
