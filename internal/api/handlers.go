package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/amaydixit11/causalchat/internal/config"
	"github.com/amaydixit11/causalchat/internal/core"
	"github.com/amaydixit11/causalchat/internal/metrics"
	"github.com/amaydixit11/causalchat/internal/network"
	"github.com/amaydixit11/causalchat/internal/search"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	sim    *network.Simulator
	index  *search.Index
	logger zerolog.Logger
}

// NewHandler creates a new handler.
func NewHandler(sim *network.Simulator, idx *search.Index, logger zerolog.Logger) *Handler {
	return &Handler{sim: sim, index: idx, logger: logger}
}

// SendRequest is the body of POST /processes/{id}/messages
type SendRequest struct {
	Payload string `json:"payload"`
}

// ResetRequest is the body of POST /session/reset
type ResetRequest struct {
	Processes int `json:"processes"`
}

// SessionResponse describes the current session
type SessionResponse struct {
	ID        string `json:"id"`
	Processes int    `json:"processes"`
	InFlight  int    `json:"in_flight"`
}

// ClockResponse is a read-only clock snapshot
type ClockResponse struct {
	Process int          `json:"process"`
	Clock   core.Entries `json:"clock"`
	Display string       `json:"display"`
}

// PendingResponse lists a process's buffered messages
type PendingResponse struct {
	Process  int            `json:"process"`
	Count    int            `json:"count"`
	Messages []core.Message `json:"messages"`
}

// Health reports liveness and the current session
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"session": h.sim.Engine().SessionID().String(),
	})
}

// Session handles GET /session
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, h.session())
}

func (h *Handler) session() SessionResponse {
	e := h.sim.Engine()
	return SessionResponse{
		ID:        e.SessionID().String(),
		Processes: e.NumProcesses(),
		InFlight:  h.sim.InFlight(),
	}
}

// Reset handles POST /session/reset. An empty body keeps the group size.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	req := ResetRequest{Processes: h.sim.Engine().NumProcesses()}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := config.ValidateProcesses(req.Processes); err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.sim.Reset(req.Processes); err != nil {
		h.logger.Error().Err(err).Msg("reset failed")
		h.Error(w, http.StatusInternalServerError, "reset failed")
		return
	}
	h.JSON(w, http.StatusOK, h.session())
}

// Send handles POST /processes/{id}/messages
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	id, ok := h.processID(w, r)
	if !ok {
		return
	}

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Payload) == "" {
		h.Error(w, http.StatusBadRequest, "payload is required")
		return
	}

	msg, err := h.sim.Send(id, req.Payload)
	if err != nil {
		h.engineError(w, err)
		return
	}
	h.JSON(w, http.StatusCreated, msg)
}

// Delivered handles GET /processes/{id}/messages
func (h *Handler) Delivered(w http.ResponseWriter, r *http.Request) {
	id, ok := h.processID(w, r)
	if !ok {
		return
	}
	msgs, err := h.sim.Engine().Delivered(id)
	if err != nil {
		h.engineError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, msgs)
}

// Clock handles GET /processes/{id}/clock
func (h *Handler) Clock(w http.ResponseWriter, r *http.Request) {
	id, ok := h.processID(w, r)
	if !ok {
		return
	}
	clock, err := h.sim.Engine().CurrentClock(id)
	if err != nil {
		h.engineError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, ClockResponse{Process: id, Clock: clock, Display: clock.String()})
}

// Pending handles GET /processes/{id}/pending
func (h *Handler) Pending(w http.ResponseWriter, r *http.Request) {
	id, ok := h.processID(w, r)
	if !ok {
		return
	}
	msgs, err := h.sim.Engine().Pending(id)
	if err != nil {
		h.engineError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, PendingResponse{Process: id, Count: len(msgs), Messages: msgs})
}

// Search handles GET /search?q=...&receiver=N within the current session
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		h.Error(w, http.StatusBadRequest, "q is required")
		return
	}

	opts := search.SearchOptions{Session: h.sim.Engine().SessionID().String()}
	if v := r.URL.Query().Get("receiver"); v != "" {
		receiver, err := strconv.Atoi(v)
		if err != nil {
			h.Error(w, http.StatusBadRequest, "receiver must be an integer")
			return
		}
		opts.Receiver = &receiver
	}

	metrics.SearchQueries.Inc()
	results, err := h.index.Search(q, opts)
	if err != nil {
		h.logger.Error().Err(err).Str("query", q).Msg("search failed")
		h.Error(w, http.StatusInternalServerError, "search failed")
		return
	}
	h.JSON(w, http.StatusOK, results)
}

func (h *Handler) processID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "process id must be an integer")
		return 0, false
	}
	return id, true
}

// engineError maps engine errors to status codes
func (h *Handler) engineError(w http.ResponseWriter, err error) {
	var invalid core.ErrInvalidProcessID
	if errors.As(err, &invalid) {
		h.Error(w, http.StatusNotFound, err.Error())
		return
	}
	h.logger.Error().Err(err).Msg("engine error")
	h.Error(w, http.StatusInternalServerError, "internal error")
}

// JSON writes a JSON response.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error writes an error response.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}
