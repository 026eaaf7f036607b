package learning

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"kairos-intake/internal/consultation"
	"kairos-intake/internal/platform/httpx"
)

type Handler struct {
	sched  *Scheduler
	store  Store
	logger zerolog.Logger
}

func NewHandler(sched *Scheduler, store Store, logger zerolog.Logger) *Handler {
	return &Handler{sched: sched, store: store, logger: logger.With().Str("component", "learning_http").Logger()}
}

// Run executes a learning pass synchronously. A declined retrain still
// returns the report.
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	rep, err := h.sched.Trigger(r.Context())
	switch {
	case err == nil, errors.Is(err, ErrInsufficientTrainingData) && rep != nil:
		httpx.WriteJSON(w, http.StatusOK, rep)
	case errors.Is(err, ErrRunInProgress):
		httpx.WriteError(w, http.StatusConflict, httpx.ErrorBody{Error: "Ya hay un aprendizaje en curso.", Kind: "run_in_progress"})
	default:
		h.logger.Error().Err(err).Msg("manual learning pass failed")
		httpx.WriteError(w, http.StatusInternalServerError, httpx.ErrorBody{
			Error: consultation.GenericMessage,
			Kind:  consultation.KindInternal,
		})
	}
}

func (h *Handler) Runs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.store.RecentRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("list retrain runs")
		httpx.WriteError(w, http.StatusInternalServerError, httpx.ErrorBody{
			Error: consultation.GenericMessage,
			Kind:  consultation.KindInternal,
		})
		return
	}
	if runs == nil {
		runs = []Run{}
	}
	httpx.WriteJSON(w, http.StatusOK, runs)
}

func (h *Handler) Patterns(w http.ResponseWriter, r *http.Request) {
	ps, err := h.store.ActivePatterns(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("list learned patterns")
		httpx.WriteError(w, http.StatusInternalServerError, httpx.ErrorBody{
			Error: consultation.GenericMessage,
			Kind:  consultation.KindInternal,
		})
		return
	}
	if ps == nil {
		ps = []Pattern{}
	}
	httpx.WriteJSON(w, http.StatusOK, ps)
}

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Route("/learning", func(r chi.Router) {
		r.Post("/run", h.Run)
		r.Get("/runs", h.Runs)
		r.Get("/patterns", h.Patterns)
	})
}
