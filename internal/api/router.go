package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinic-scheduling/internal/appointment"
	"github.com/clinicdesk/clinic-scheduling/internal/treatment"
)

type RouterConfig struct {
	Allocator *appointment.Allocator
	Guard     *treatment.Guard
	PgPool    *pgxpool.Pool
	Redis     *redis.Client
	Logger    zerolog.Logger
	Env       string
	Version   string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Appointment endpoints
	r.Post("/appointments", createAppointmentHandler(cfg.Allocator))
	r.Get("/appointments", listAppointmentsHandler(cfg.Allocator))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Allocator))
	r.Patch("/appointments/{id}", updateAppointmentHandler(cfg.Allocator))
	r.Post("/appointments/{id}/status", setStatusHandler(cfg.Allocator))

	// Treatment endpoints
	r.Post("/treatments", createTreatmentHandler(cfg.Guard))
	r.Patch("/treatments/{id}", updateTreatmentHandler(cfg.Guard))
	r.Get("/patients/{id}/treatments", listPatientTreatmentsHandler(cfg.Guard))

	// Continuity audit
	r.Get("/admin/treatment-violations", detectViolationsHandler(cfg.Guard))
	r.Post("/admin/treatment-violations/fix", fixViolationsHandler(cfg.Guard))

	return r
}
