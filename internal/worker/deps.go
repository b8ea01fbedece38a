package worker

import (
	"vidforge/internal/config"
	"vidforge/internal/notifier"
	"vidforge/internal/pkg/logger"
	"vidforge/internal/ports"
	"vidforge/internal/worker/renderer"
)

// Deps wires the worker binary's collaborators.
type Deps struct {
	Store       ports.JobStore
	Queue       ports.Queue
	Renderer    renderer.Client
	Notifier    *notifier.Notifier
	Storage     ports.StorageProvider
	ScratchRoot string
	Cfg         config.WorkerConfig
	Log         *logger.Logger
}
