// Package httpapi exposes the submission and status HTTP surface.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"vidforge/internal/httpapi/handlers"
	"vidforge/internal/httpkit"
	"vidforge/internal/pkg/logger"
	"vidforge/internal/pkg/middleware"
	"vidforge/internal/ports"
)

type Deps struct {
	Store ports.JobStore
	Queue ports.Queue
	Pool  *pgxpool.Pool
	RDB   *redis.Client
	Log   *logger.Logger

	CORSOrigins    []string
	RequestTimeout time.Duration
}

func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Logging(log))
	r.Use(middleware.Timeout(d.RequestTimeout))
	r.Use(httpkit.CORS(httpkit.CORSOptions{
		AllowedOrigins: d.CORSOrigins,
	}))

	h := handlers.New(handlers.Deps{
		Store: d.Store,
		Queue: d.Queue,
		Pool:  d.Pool,
		RDB:   d.RDB,
		Log:   log,
	})

	r.Get("/health", h.Health)

	r.Post("/jobs", h.PostJob)
	r.Get("/jobs", h.ListJobs)
	r.Get("/jobs/{jobId}", h.GetJob)

	return r
}
