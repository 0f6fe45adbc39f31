package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/medisched/appointment-consolidation/internal/consolidation"
)

type RouterConfig struct {
	Service *consolidation.Service
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Logger  *zap.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Consolidation endpoints
	r.Post("/appointments", upsertAppointmentHandler(cfg.Service))
	r.Get("/duplicates", listDuplicateGroupsHandler(cfg.Service))
	r.Post("/duplicates/merge", mergeDuplicatesHandler(cfg.Service))
	r.Post("/duplicates/reconcile", reconcileHandler(cfg.Service))

	return r
}
