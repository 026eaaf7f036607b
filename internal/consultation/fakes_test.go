package consultation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"kairos-intake/internal/intake"
	"kairos-intake/internal/resolver"
)

var errDiskFull = errors.New("disk full")

type memRepo struct {
	mu       sync.Mutex
	patients map[string]Patient
	sessions map[string]SessionRecord
	turns    map[string][]Turn

	failSave     atomic.Bool
	failPatients atomic.Bool
	saves        atomic.Int32
}

func newMemRepo() *memRepo {
	return &memRepo{
		patients: make(map[string]Patient),
		sessions: make(map[string]SessionRecord),
		turns:    make(map[string][]Turn),
	}
}

func (m *memRepo) EnsurePatient(_ context.Context, p Patient) (Patient, bool, error) {
	if m.failPatients.Load() {
		return Patient{}, false, errDiskFull
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.patients[p.NationalID]; ok {
		return existing, true, nil
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	m.patients[p.NationalID] = p
	return p, false, nil
}

func (m *memRepo) SaveSession(_ context.Context, rec SessionRecord, turns []Turn) error {
	if m.failSave.Load() {
		return errDiskFull
	}
	m.saves.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[rec.ID] = rec
	m.turns[rec.ID] = append(m.turns[rec.ID], turns...)
	return nil
}

func (m *memRepo) FinalizeSession(ctx context.Context, rec SessionRecord, turns []Turn, countVisit bool) error {
	if err := m.SaveSession(ctx, rec, turns); err != nil {
		return err
	}
	if !countVisit || rec.PatientID == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, p := range m.patients {
		if p.ID == *rec.PatientID {
			p.VisitCount++
			at := *rec.EndedAt
			p.LastContactAt = &at
			m.patients[k] = p
		}
	}
	return nil
}

func (m *memRepo) PatientTurnsSince(_ context.Context, since time.Time) ([]Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Turn
	for _, ts := range m.turns {
		for _, t := range ts {
			if t.Role == RolePatient && !t.At.Before(since) {
				out = append(out, t)
			}
		}
	}
	return out, nil
}

func (m *memRepo) session(id string) SessionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

func (m *memRepo) sessionTurns(id string) []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Turn(nil), m.turns[id]...)
}

type fakeResolver struct {
	calls atomic.Int32
	err   error
}

func (f *fakeResolver) Resolve(_ context.Context, req resolver.Request) (*resolver.Bundle, error) {
	f.calls.Add(1)
	b := &resolver.Bundle{
		Condition:         "Molestia: " + req.Context.Complaint(),
		Confidence:        resolver.FallbackConfidence,
		ImprovementWindow: resolver.DefaultWindow,
		Warnings:          []string{"Consulta a un profesional de la salud."},
		Tier:              resolver.TierFallback,
	}
	return b, f.err
}

type fakeReporter struct {
	mu   sync.Mutex
	sent []Summary
}

func (f *fakeReporter) SendSessionReport(_ context.Context, s Summary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, s)
	return nil
}

func (f *fakeReporter) reports() []Summary {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Summary(nil), f.sent...)
}

// inlinePool runs submitted work on the caller's goroutine.
type inlinePool struct{}

func (inlinePool) Submit(fn func()) error {
	fn()
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	svc      *Service
	repo     *memRepo
	resolver *fakeResolver
	reporter *fakeReporter
	clock    *clock
}

func newHarness(repo Repository) *harness {
	h := &harness{
		resolver: &fakeResolver{},
		reporter: &fakeReporter{},
		clock:    newClock(),
	}
	if repo == nil {
		h.repo = newMemRepo()
		repo = h.repo
	}
	h.svc = NewService(Options{
		Policy:           intake.DefaultPolicy(),
		NationalIDLength: 8,
	}, Deps{
		Repo:     repo,
		Resolver: h.resolver,
		Reporter: h.reporter,
		Pool:     inlinePool{},
		Logger:   zerolog.Nop(),
		Now:      h.clock.Now,
	})
	return h
}

func intPtr(v int) *int { return &v }

func anaRuiz() Identity {
	return Identity{FullName: "Ana Ruiz", NationalID: "12345678", Age: intPtr(29)}
}
