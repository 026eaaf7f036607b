package consultation

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"kairos-intake/internal/platform/httpx"
)

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger.With().Str("component", "consultation_http").Logger()}
}

type messageRequest struct {
	Text string `json:"text"`
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req SessionConfig
	if err := httpx.Decode(r, &req); err != nil {
		h.badRequest(w)
		return
	}
	v, err := h.svc.CreateSession(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, v)
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, v)
}

func (h *Handler) CapturePatient(w http.ResponseWriter, r *http.Request) {
	var req Identity
	if err := httpx.Decode(r, &req); err != nil {
		h.badRequest(w)
		return
	}
	res, err := h.svc.CapturePatient(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := httpx.Decode(r, &req); err != nil {
		h.badRequest(w)
		return
	}
	reply, err := h.svc.SendMessage(r.Context(), chi.URLParam(r, "id"), req.Text)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, reply)
}

func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.Resolve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, b)
}

func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	sum, err := h.svc.Finalize(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sum)
}

func (h *Handler) badRequest(w http.ResponseWriter) {
	httpx.WriteError(w, http.StatusBadRequest, httpx.ErrorBody{
		Error: "La solicitud no es válida.",
		Kind:  KindValidation,
	})
}

// fail answers with the generic message for err's kind. The cause is
// logged, never sent.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := Kind(err)
	body := httpx.ErrorBody{Error: Message(err), Kind: kind}
	var ve *ValidationError
	if errors.As(err, &ve) {
		body.Details = ve.Fields()
	}
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", r.URL.Path).Str("kind", kind).Msg("request failed")
	}
	httpx.WriteError(w, status, body)
}

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.CreateSession)
		r.Get("/{id}", h.GetSession)
		r.Post("/{id}/patient", h.CapturePatient)
		r.Post("/{id}/messages", h.SendMessage)
		r.Post("/{id}/resolve", h.Resolve)
		r.Post("/{id}/finalize", h.Finalize)
	})
}
