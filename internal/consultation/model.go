package consultation

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"kairos-intake/internal/intake"
	"kairos-intake/internal/resolver"
)

// State is the lifecycle position of a consultation session.
type State int

const (
	StateIdle State = iota
	StateCapturingData
	StateConversing
	StateResolving
	StatePrescriptionReady
	StateFinalized
	StateError
	StateAbandoned
)

var stateNames = [...]string{
	StateIdle:              "idle",
	StateCapturingData:     "capturing_data",
	StateConversing:        "conversing",
	StateResolving:         "resolving",
	StatePrescriptionReady: "prescription_ready",
	StateFinalized:         "finalized",
	StateError:             "error",
	StateAbandoned:         "abandoned",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Terminal states are never held by the registry.
func (s State) Terminal() bool {
	return s == StateFinalized || s == StateAbandoned
}

// transitions lists the legal moves. Error is reachable from every
// non-terminal state and handled separately.
var transitions = map[State][]State{
	StateIdle:              {StateCapturingData},
	StateCapturingData:     {StateConversing, StateAbandoned},
	StateConversing:        {StateResolving, StateAbandoned},
	StateResolving:         {StatePrescriptionReady, StateAbandoned},
	StatePrescriptionReady: {StateFinalized, StateAbandoned},
	StateError:             {StateFinalized, StateAbandoned},
}

func canTransition(from, to State) bool {
	if to == StateError {
		return !from.Terminal() && from != StateError
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Patient struct {
	ID            uuid.UUID  `json:"id"`
	FullName      string     `json:"full_name"`
	NationalID    string     `json:"national_id"`
	Age           *int       `json:"age,omitempty"`
	VisitCount    int        `json:"visit_count"`
	LastContactAt *time.Time `json:"last_contact_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func (p *Patient) FirstName() string {
	if p == nil {
		return ""
	}
	if f := strings.Fields(p.FullName); len(f) > 0 {
		return f[0]
	}
	return ""
}

type Role string

const (
	RolePatient Role = "patient"
	RoleSystem  Role = "system"
)

// Turn is one utterance. Turns are append-only.
type Turn struct {
	Seq        int       `json:"seq"`
	Role       Role      `json:"role"`
	Text       string    `json:"text"`
	Intent     string    `json:"intent,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	At         time.Time `json:"at"`
}

type SessionConfig struct {
	Event    string `json:"event"`
	Location string `json:"location"`
	Device   string `json:"device"`
}

// ErrorRecord is kept on a session that failed.
type ErrorRecord struct {
	Kind        string    `json:"kind"`
	Message     string    `json:"-"`
	FailedState State     `json:"failed_state"`
	At          time.Time `json:"at"`
}

// CaptureResult is returned by CapturePatient.
type CaptureResult struct {
	Patient   Patient `json:"patient"`
	Returning bool    `json:"returning"`
	Greeting  string  `json:"greeting"`
	State     State   `json:"state"`
}

// Reply is the engine's answer to one patient message.
type Reply struct {
	Text         string       `json:"text"`
	Intent       string       `json:"intent"`
	Confidence   float64      `json:"confidence"`
	Sufficient   bool         `json:"sufficient"`
	State        State        `json:"state"`
	Completeness float64      `json:"completeness"`
	NextField    intake.Field `json:"next_field,omitempty"`
}

// Summary describes a finished session.
type Summary struct {
	SessionID       string           `json:"session_id"`
	State           State            `json:"state"`
	Patient         *Patient         `json:"patient,omitempty"`
	Event           string           `json:"event"`
	Location        string           `json:"location"`
	Device          string           `json:"device"`
	StartedAt       time.Time        `json:"started_at"`
	EndedAt         time.Time        `json:"ended_at"`
	Duration        time.Duration    `json:"-"`
	DurationSeconds float64          `json:"duration_seconds"`
	TurnCount       int              `json:"turn_count"`
	Context         intake.Snapshot  `json:"context"`
	ContextSummary  string           `json:"-"`
	Bundle          *resolver.Bundle `json:"bundle,omitempty"`
	ErrorKind       string           `json:"error_kind,omitempty"`
	FailedState     string           `json:"failed_state,omitempty"`
}

// View is the inspectable state of a live session.
type View struct {
	ID             string           `json:"id"`
	State          State            `json:"state"`
	Event          string           `json:"event"`
	Location       string           `json:"location"`
	Device         string           `json:"device"`
	Patient        *Patient         `json:"patient,omitempty"`
	Context        intake.Snapshot  `json:"context"`
	Turns          []Turn           `json:"turns"`
	Bundle         *resolver.Bundle `json:"bundle,omitempty"`
	Error          *ErrorRecord     `json:"error,omitempty"`
	StartedAt      time.Time        `json:"started_at"`
	LastActivityAt time.Time        `json:"last_activity_at"`
}
