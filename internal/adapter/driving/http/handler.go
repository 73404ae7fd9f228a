package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/Wyydra/vetcall/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/vetcall/internal/core/domain"
	"github.com/Wyydra/vetcall/internal/core/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

type Handler struct {
	CallService *service.CallService
	Hub         *ws.Hub
}

func NewHandler(callService *service.CallService, hub *ws.Hub) *Handler {
	return &Handler{
		CallService: callService,
		Hub:         hub,
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Healthz)

	r.Route("/api/call", func(r chi.Router) {
		r.Get("/", h.GetCall)
		r.Post("/accept", h.Accept)
		r.Post("/reject", h.Reject)
		r.Post("/end", h.End)
		r.Get("/events", h.ServeWS)
	})

	return r
}

// Healthz fails once the signaling channel is gone for good: no call can
// reach this operator anymore.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if !h.CallService.Serving() {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: domain.ErrChannelDisconnected.Error()})
		return
	}
	w.Write([]byte("ok"))
}

func (h *Handler) GetCall(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.CallService.Current()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) Accept(w http.ResponseWriter, r *http.Request) {
	if err := h.CallService.Accept(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	h.writeCurrent(w)
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	if err := h.CallService.Reject(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// End hangs up with the optional billing body. Zero fields fall back to
// the configured defaults.
func (h *Handler) End(w http.ResponseWriter, r *http.Request) {
	var billing *domain.Billing
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if len(body) > 0 {
		billing = &domain.Billing{}
		if err := json.Unmarshal(body, billing); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid billing: " + err.Error()})
			return
		}
	}

	if err := h.CallService.End(r.Context(), billing); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeCurrent(w http.ResponseWriter) {
	snap, ok := h.CallService.Current()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		log.Error().Err(err).Msg("Error encoding response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	var te *domain.TransitionError
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNoActiveCall):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrSessionClosed):
		status = http.StatusGone
	case errors.As(err, &te):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("Call intent failed")
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}
