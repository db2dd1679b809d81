package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/flowscope/flowscope/internal/eventstore"
	"github.com/flowscope/flowscope/internal/filter"
	"github.com/flowscope/flowscope/internal/replay"
	"github.com/flowscope/flowscope/internal/tailer"
)

// Handlers bundles the observer API endpoints over the injected core
// components.
type Handlers struct {
	store  *eventstore.Store
	tailer *tailer.Tailer
	logger *slog.Logger
}

// NewHandlers wires the core components into the API.
func NewHandlers(store *eventstore.Store, t *tailer.Tailer, logger *slog.Logger) *Handlers {
	return &Handlers{store: store, tailer: t, logger: logger}
}

// Register mounts all observer routes.
func (h *Handlers) Register(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/flows", h.listFlows)
		r.Route("/flows/{flowID}", func(r chi.Router) {
			r.Get("/events", h.flowEvents)
			r.Get("/graph", h.flowGraph)
			r.Route("/replay", func(r chi.Router) {
				r.Get("/timeline", h.replayTimeline)
				r.Get("/context", h.replayContext)
				r.Get("/export", h.replayExport)
			})
		})
		r.Get("/conversations/summary", h.conversationSummary)
		r.Get("/conversations/agents", h.activeAgents)
	})
}

func (h *Handlers) listFlows(w http.ResponseWriter, r *http.Request) {
	flows, err := h.store.ListActiveFlows(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if flows == nil {
		flows = []eventstore.FlowSummary{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"flows": flows})
}

func (h *Handlers) flowEvents(w http.ResponseWriter, r *http.Request) {
	flowID := chi.URLParam(r, "flowID")
	events, err := h.store.FlowEvents(r.Context(), flowID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if events == nil {
		events = []*eventstore.Event{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"flow_id": flowID, "events": events})
}

func (h *Handlers) flowGraph(w http.ResponseWriter, r *http.Request) {
	flowID := chi.URLParam(r, "flowID")
	graph, err := h.store.FlowGraph(r.Context(), flowID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, graph)
}

func (h *Handlers) replayTimeline(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"flow_id":  chi.URLParam(r, "flowID"),
		"timeline": ctrl.Timeline(),
	})
}

func (h *Handlers) replayContext(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	position, err := strconv.Atoi(r.URL.Query().Get("position"))
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid position"})
		return
	}
	dc, ok := ctrl.DecisionContext(position)
	if !ok {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "position out of range"})
		return
	}
	h.writeJSON(w, http.StatusOK, dc)
}

func (h *Handlers) replayExport(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, ctrl.Export())
}

// controller builds a per-request replay controller. Empty flows 404: a
// replay over nothing is always a caller mistake.
func (h *Handlers) controller(w http.ResponseWriter, r *http.Request) (*replay.Controller, bool) {
	flowID := chi.URLParam(r, "flowID")
	ctrl, err := replay.NewController(r.Context(), h.store, flowID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return nil, false
	}
	if ctrl.Len() == 0 {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "flow not found"})
		return nil, false
	}
	return ctrl, true
}

func (h *Handlers) conversationSummary(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.tailer.Summarize())
}

func (h *Handlers) activeAgents(w http.ResponseWriter, r *http.Request) {
	agents := filter.ActiveAgents(h.tailer.History())
	h.writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, err error) {
	h.logger.Error("request failed", slog.String("error", err.Error()))
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}
