package oracle

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"kairos-intake/internal/platform/httpx"
	"kairos-intake/internal/quota"
)

// Handler exposes oracle quota and usage. calls may be nil.
type Handler struct {
	guard  *quota.Guard
	calls  *CallLog
	logger zerolog.Logger
	now    func() time.Time
}

func NewHandler(guard *quota.Guard, calls *CallLog, logger zerolog.Logger) *Handler {
	return &Handler{
		guard:  guard,
		calls:  calls,
		logger: logger.With().Str("component", "oracle_http").Logger(),
		now:    time.Now,
	}
}

func (h *Handler) Quota(w http.ResponseWriter, r *http.Request) {
	st, err := h.guard.Status(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("read oracle quota")
		h.unavailable(w)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, st)
}

// Usage aggregates the call log over ?window= (default 24h).
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	if h.calls == nil {
		h.unavailable(w)
		return
	}
	window := 24 * time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			httpx.WriteError(w, http.StatusBadRequest, httpx.ErrorBody{Error: "Ventana inválida.", Kind: "validation"})
			return
		}
		window = d
	}
	st, err := h.calls.Stats(r.Context(), h.now().UTC().Add(-window))
	if err != nil {
		h.logger.Error().Err(err).Msg("read oracle usage")
		h.unavailable(w)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, st)
}

func (h *Handler) unavailable(w http.ResponseWriter) {
	httpx.WriteError(w, http.StatusServiceUnavailable, httpx.ErrorBody{
		Error: "No se pudo consultar el uso del oráculo.",
		Kind:  "oracle_stats_unavailable",
	})
}

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Get("/oracle/quota", h.Quota)
	r.Get("/oracle/usage", h.Usage)
}
