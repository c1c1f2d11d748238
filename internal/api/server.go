// Package api implements the Operator API described in spec.md §6: a
// loopback-only HTTP surface the host app (or a local debug tool) uses to
// trigger syncs, inspect queue/network state, and resolve manual conflicts.
//
// It is a thin adapter over internal/orchestrator and internal/queue; it
// holds no business logic of its own, keeping that separation from the
// usecase layer underneath it.
package api

import (
	"github.com/fitloop/syncd/internal/orchestrator"
	"github.com/fitloop/syncd/internal/queue"
)

// Server aggregates the handlers' dependencies.
type Server struct {
	orch  *orchestrator.Orchestrator
	queue *queue.Manager
}

// NewServer builds a Server over the given orchestrator and queue manager.
func NewServer(orch *orchestrator.Orchestrator, qm *queue.Manager) *Server {
	return &Server{orch: orch, queue: qm}
}
