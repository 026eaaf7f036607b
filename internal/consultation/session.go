package consultation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"kairos-intake/internal/intake"
	"kairos-intake/internal/resolver"
)

// NewSessionID returns a sortable, human-quotable session id.
func NewSessionID() string {
	return "KIO-" + ulid.Make().String()
}

func defaultDevice() string {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		return "Device-000000"
	}
	return "Device-" + hex.EncodeToString(b)
}

// Session is one intake episode. All fields except lastActivity are
// guarded by the semaphore: callers hold it through lock/unlock for the
// whole of one operation, so turns are processed one at a time.
type Session struct {
	sem chan struct{}

	id       string
	event    string
	location string
	device   string

	state     State
	patient   *Patient
	context   *intake.MedicalContext
	turns     []Turn
	bundle    *resolver.Bundle
	lastError *ErrorRecord

	startedAt time.Time
	endedAt   time.Time

	// unix nanos, read by the registry without the semaphore
	lastActivity atomic.Int64
}

func newSession(id string, cfg SessionConfig, policy intake.Policy, now time.Time) *Session {
	s := &Session{
		sem:       make(chan struct{}, 1),
		id:        id,
		event:     cfg.Event,
		location:  cfg.Location,
		device:    cfg.Device,
		state:     StateIdle,
		context:   intake.New(policy),
		startedAt: now,
	}
	s.lastActivity.Store(now.UnixNano())
	return s
}

func (s *Session) ID() string { return s.id }

// lock waits for exclusive use of the session or for ctx to end.
func (s *Session) lock(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) unlock() { <-s.sem }

func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

func (s *Session) touch(at time.Time) {
	s.lastActivity.Store(at.UnixNano())
}

func (s *Session) setState(to State) error {
	if !canTransition(s.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, s.state, to)
	}
	s.state = to
	return nil
}

func (s *Session) patientTexts() []string {
	var out []string
	for _, t := range s.turns {
		if t.Role == RolePatient {
			out = append(out, t.Text)
		}
	}
	return out
}

func (s *Session) nextSeq() int {
	return len(s.turns) + 1
}

// record is the persisted form of the session with state st and context mc.
func (s *Session) record(st State, mc *intake.MedicalContext, at time.Time) SessionRecord {
	rec := SessionRecord{
		ID:             s.id,
		State:          st.String(),
		Event:          s.event,
		Location:       s.location,
		Device:         s.device,
		Bundle:         s.bundle,
		StartedAt:      s.startedAt,
		LastActivityAt: at,
	}
	if s.patient != nil {
		id := s.patient.ID
		rec.PatientID = &id
	}
	if mc != nil {
		snap := mc.Snapshot()
		rec.Context = &snap
	}
	if !s.endedAt.IsZero() {
		end := s.endedAt
		rec.EndedAt = &end
	}
	if s.lastError != nil {
		rec.Error = s.lastError.Message
		rec.FailedState = s.lastError.FailedState.String()
	}
	return rec
}

func (s *Session) view() View {
	v := View{
		ID:             s.id,
		State:          s.state,
		Event:          s.event,
		Location:       s.location,
		Device:         s.device,
		Context:        s.context.Snapshot(),
		Turns:          slices.Clone(s.turns),
		Bundle:         s.bundle,
		StartedAt:      s.startedAt,
		LastActivityAt: s.LastActivity(),
	}
	if s.patient != nil {
		p := *s.patient
		v.Patient = &p
	}
	if s.lastError != nil {
		e := *s.lastError
		v.Error = &e
	}
	if v.Turns == nil {
		v.Turns = []Turn{}
	}
	return v
}

func (s *Session) summary(end time.Time) Summary {
	sum := Summary{
		SessionID:      s.id,
		State:          s.state,
		Event:          s.event,
		Location:       s.location,
		Device:         s.device,
		StartedAt:      s.startedAt,
		EndedAt:        end,
		Duration:       end.Sub(s.startedAt),
		TurnCount:      len(s.turns),
		Context:        s.context.Snapshot(),
		ContextSummary: s.context.Summary(),
		Bundle:         s.bundle,
	}
	sum.DurationSeconds = sum.Duration.Seconds()
	if s.patient != nil {
		p := *s.patient
		sum.Patient = &p
	}
	if s.lastError != nil {
		sum.ErrorKind = s.lastError.Kind
		sum.FailedState = s.lastError.FailedState.String()
	}
	return sum
}
