package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/fitloop/syncd/internal/domain"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() { validate = validator.New() })
	return validate
}

// SyncNowHandler triggers an immediate drain and reports the resulting
// status once it completes.
func (s *Server) SyncNowHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.orch.SyncNow(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		s.writeStatus(w, r)
	}
}

// RetryFailedHandler resets every failed item's retry state and drains.
func (s *Server) RetryFailedHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := s.orch.RetryFailed(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"reset": n})
	}
}

// ClearFailedHandler deletes every failed item without retrying it.
func (s *Server) ClearFailedHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := s.orch.ClearFailed(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cleared": n})
	}
}

type resolveConflictRequest struct {
	ItemID int64  `json:"item_id" validate:"required"`
	Action string `json:"action" validate:"required,oneof=accept retry skip"`
}

// ResolveConflictHandler applies an operator decision for a manually-surfaced
// conflict: accept (client_wins), retry (re-attempt upload), or skip
// (discard the queued change).
func (s *Server) ResolveConflictHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req resolveConflictRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, fmt.Errorf("op=api.resolve_conflict.decode: %w", domain.ErrPrecondition))
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, fmt.Errorf("op=api.resolve_conflict.validate: %w: %s", domain.ErrPrecondition, err.Error()))
			return
		}
		if err := s.orch.ResolveConflict(r.Context(), req.ItemID, domain.ResolveAction(req.Action)); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"item_id": req.ItemID, "action": req.Action})
	}
}

// GetStatusHandler reports the orchestrator's current snapshot.
func (s *Server) GetStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeStatus(w, r)
	}
}

func (s *Server) writeStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.orch.GetStatus(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// SubscribeHandler streams orchestrator events as Server-Sent Events, the
// long-lived-connection analogue of spec.md §6's subscribe(listener). Each
// event is a JSON-encoded domain.Event on its own "data:" line.
func (s *Server) SubscribeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, fmt.Errorf("op=api.subscribe: streaming unsupported"))
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		events := make(chan domain.Event, 32)
		unsubscribe := s.orch.Subscribe(func(evt domain.Event) {
			select {
			case events <- evt:
			default: // slow subscriber; drop rather than block the drain loop
			}
		})
		defer unsubscribe()

		ctx := r.Context()
		ping := time.NewTicker(15 * time.Second)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-events:
				b, err := json.Marshal(evt)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "data: %s\n\n", b)
				flusher.Flush()
			case <-ping.C:
				fmt.Fprint(w, ": ping\n\n")
				flusher.Flush()
			}
		}
	}
}

