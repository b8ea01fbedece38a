package handlers

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"vidforge/internal/pkg/logger"
	"vidforge/internal/ports"
)

type Deps struct {
	Store ports.JobStore
	Queue ports.Queue

	// Pool and RDB are only used by the deep health check and may be nil
	// (e.g. under test with in-memory implementations).
	Pool *pgxpool.Pool
	RDB  *redis.Client

	Log *logger.Logger
}

type Handler struct {
	store ports.JobStore
	queue ports.Queue
	pool  *pgxpool.Pool
	rdb   *redis.Client
	log   *logger.Logger
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	return &Handler{
		store: d.Store,
		queue: d.Queue,
		pool:  d.Pool,
		rdb:   d.RDB,
		log:   log.WithComponent("httpapi"),
	}
}
