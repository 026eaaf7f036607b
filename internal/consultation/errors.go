package consultation

import (
	"errors"
	"net/http"

	"github.com/hashicorp/go-multierror"

	"kairos-intake/internal/intent"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidState    = errors.New("operation not allowed in current state")
	ErrPersistence     = errors.New("persistence failure")
)

// Error kinds exposed to callers.
const (
	KindValidation      = "validation"
	KindSessionNotFound = "session_not_found"
	KindInvalidState    = "invalid_state"
	KindModelNotTrained = "model_not_trained"
	KindPersistence     = "persistence"
	KindInternal        = "internal"
)

// GenericMessage is what end users see for any failure that is not theirs
// to fix.
const GenericMessage = "Lo siento, algo salió mal. Por favor intenta de nuevo."

var kindMessages = map[string]string{
	KindValidation:      "Revisa los datos ingresados.",
	KindSessionNotFound: "La sesión no existe o ya terminó.",
	KindInvalidState:    "Esta acción no está disponible en este momento de la consulta.",
	KindModelNotTrained: GenericMessage,
	KindPersistence:     GenericMessage,
	KindInternal:        GenericMessage,
}

var kindStatus = map[string]int{
	KindValidation:      http.StatusUnprocessableEntity,
	KindSessionNotFound: http.StatusNotFound,
	KindInvalidState:    http.StatusConflict,
	KindModelNotTrained: http.StatusServiceUnavailable,
	KindPersistence:     http.StatusInternalServerError,
	KindInternal:        http.StatusInternalServerError,
}

// FieldError is one rejected input field.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string { return e.Field + ": " + e.Message }

// ValidationError collects every problem with one input.
type ValidationError struct {
	errs *multierror.Error
}

func (v *ValidationError) add(field, msg string) {
	v.errs = multierror.Append(v.errs, FieldError{Field: field, Message: msg})
}

// orNil returns nil when nothing was added.
func (v *ValidationError) orNil() error {
	if v.errs == nil || len(v.errs.Errors) == 0 {
		return nil
	}
	return v
}

func (v *ValidationError) Error() string {
	if v.errs == nil {
		return "validation failed"
	}
	return v.errs.Error()
}

func (v *ValidationError) Unwrap() error { return v.errs.ErrorOrNil() }

// Fields maps each rejected field to its first message.
func (v *ValidationError) Fields() map[string]string {
	out := make(map[string]string)
	if v.errs == nil {
		return out
	}
	for _, err := range v.errs.Errors {
		var fe FieldError
		if errors.As(err, &fe) {
			if _, ok := out[fe.Field]; !ok {
				out[fe.Field] = fe.Message
			}
		}
	}
	return out
}

func invalid(field, msg string) error {
	v := &ValidationError{}
	v.add(field, msg)
	return v
}

// Kind maps an error to its stable machine-readable kind.
func Kind(err error) string {
	var ve *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return KindValidation
	case errors.Is(err, ErrSessionNotFound):
		return KindSessionNotFound
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, intent.ErrModelNotTrained):
		return KindModelNotTrained
	case errors.Is(err, ErrPersistence):
		return KindPersistence
	default:
		return KindInternal
	}
}

// Message returns the user-facing text for err.
func Message(err error) string {
	if m, ok := kindMessages[Kind(err)]; ok {
		return m
	}
	return GenericMessage
}

func statusFor(kind string) int {
	if s, ok := kindStatus[kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}
