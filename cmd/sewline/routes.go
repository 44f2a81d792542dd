package main

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	emergencyinsert "sewline/http-server/emergency/insert"
	generate_excel "sewline/http-server/generate-report/generate-excel"
	getoperators "sewline/http-server/operators/get"
	saveoperators "sewline/http-server/operators/save"
	supervisorupdate "sewline/http-server/supervisor/update"
	savewip "sewline/http-server/wip/save"
	updatewip "sewline/http-server/wip/update"
	getwork "sewline/http-server/work/get"
	updatework "sewline/http-server/work/update"
	"sewline/internal/config"
	"sewline/internal/middleware/auth"
	"sewline/internal/service/assign"
	"sewline/internal/service/generate"
	"sewline/internal/service/insert"
	"sewline/internal/service/report"
	"sewline/internal/service/schedule"
	"sewline/internal/storage/mysql"
)

func routes(cfg config.Config, log *slog.Logger, storage *mysql.Storage,
	generator *generate.Service, scheduler *schedule.Service,
	coordinator *assign.Coordinator, insertion *insert.Engine,
	reporter *report.Service) *chi.Mux {

	router := chi.NewRouter()

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:8081", "http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	router.Use(corsHandler.Handler)

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	// WIP intake: a saved lot is immediately expanded into work items.
	router.Post("/api/wip", savewip.SaveWipLot(log, generator))

	// Operator-facing workflow endpoints.
	router.Get("/api/work/ready", getwork.ReadyWork(log, scheduler))
	router.Get("/api/work/queue", getwork.OperatorQueue(log, scheduler))
	router.Post("/api/work/{id}/claim", updatework.ClaimWork(log, coordinator))
	router.Post("/api/work/{id}/start", updatework.StartWork(log, coordinator))
	router.Post("/api/work/{id}/complete", updatework.CompleteWork(log, coordinator))

	router.Get("/api/operators", getoperators.GetOperators(log, storage))

	// Supervisor actions live behind basic auth.
	supervisorRouter := chi.NewRouter()
	supervisorRouter.Use(auth.BasicAuth(cfg.SupervisorLogin, cfg.SupervisorPass))

	supervisorRouter.Post("/work/{id}/approve", supervisorupdate.ApproveWork(log, coordinator))
	supervisorRouter.Post("/work/{id}/reject", supervisorupdate.RejectWork(log, coordinator))
	supervisorRouter.Post("/work/{id}/assign", supervisorupdate.AssignWork(log, coordinator))
	supervisorRouter.Post("/work/{id}/reassign", supervisorupdate.ReassignWork(log, coordinator))

	supervisorRouter.Post("/lots/{lotNumber}/emergency", emergencyinsert.InsertEmergencyWork(log, insertion))
	supervisorRouter.Put("/lots/{lotNumber}/close", updatewip.CloseLot(log, storage))
	supervisorRouter.Delete("/lots/{lotNumber}", updatewip.DeleteLot(log, storage))

	supervisorRouter.Post("/operators", saveoperators.SaveOperator(log, storage))
	supervisorRouter.Get("/report/excel", generate_excel.GenerateLotReport(log, reporter))

	router.Mount("/api/supervisor", supervisorRouter)

	return router
}
