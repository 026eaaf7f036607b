package consultation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"kairos-intake/internal/intake"
	"kairos-intake/internal/intent"
	"kairos-intake/internal/platform/metrics"
	"kairos-intake/internal/resolver"
)

// IntentClassifier labels one utterance. It returns
// intent.ErrModelNotTrained while no model is loaded.
type IntentClassifier interface {
	ClassifyWithThreshold(text string, min float64) (string, float64, error)
}

type BundleResolver interface {
	Resolve(ctx context.Context, req resolver.Request) (*resolver.Bundle, error)
}

// Reporter delivers the summary of a finalized session to the doctor.
type Reporter interface {
	SendSessionReport(ctx context.Context, s Summary) error
}

// Submitter runs background work.
type Submitter interface {
	Submit(fn func()) error
}

type Options struct {
	Event            string
	Location         string
	Policy           intake.Policy
	Strategy         intake.QuestionStrategy
	MinConfidence    float64
	NationalIDLength int
	ReportTimeout    time.Duration
}

type Deps struct {
	Repo       Repository
	Registry   *Registry
	Classifier IntentClassifier
	Resolver   BundleResolver
	// Reporter and Pool are optional. Without a pool reports are sent on
	// their own goroutine.
	Reporter Reporter
	Pool     Submitter
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
	Now      func() time.Time
}

type Service struct {
	opts      Options
	repo      Repository
	registry  *Registry
	classify  IntentClassifier
	resolver  BundleResolver
	reporter  Reporter
	pool      Submitter
	validator *IdentityValidator
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(opts Options, deps Deps) *Service {
	if opts.Event == "" {
		opts.Event = "Evento Kairos"
	}
	if opts.Location == "" {
		opts.Location = "Stand Principal"
	}
	if opts.Strategy == "" {
		opts.Strategy = intake.Static
	}
	if opts.MinConfidence <= 0 {
		opts.MinConfidence = intent.DefaultMinConfidence
	}
	if opts.ReportTimeout <= 0 {
		opts.ReportTimeout = time.Minute
	}
	if deps.Registry == nil {
		deps.Registry = NewRegistry(deps.Metrics)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Service{
		opts:      opts,
		repo:      deps.Repo,
		registry:  deps.Registry,
		classify:  deps.Classifier,
		resolver:  deps.Resolver,
		reporter:  deps.Reporter,
		pool:      deps.Pool,
		validator: NewIdentityValidator(opts.NationalIDLength),
		metrics:   deps.Metrics,
		logger:    deps.Logger.With().Str("component", "consultation").Logger(),
		now:       func() time.Time { return deps.Now().UTC() },
	}
}

func (svc *Service) Registry() *Registry { return svc.registry }

// CreateSession opens a session ready to capture the patient.
func (svc *Service) CreateSession(ctx context.Context, cfg SessionConfig) (View, error) {
	cfg.Event = strings.TrimSpace(cfg.Event)
	cfg.Location = strings.TrimSpace(cfg.Location)
	cfg.Device = strings.TrimSpace(cfg.Device)
	if cfg.Event == "" {
		cfg.Event = svc.opts.Event
	}
	if cfg.Location == "" {
		cfg.Location = svc.opts.Location
	}
	if cfg.Device == "" {
		cfg.Device = defaultDevice()
	}

	now := svc.now()
	s := newSession(NewSessionID(), cfg, svc.opts.Policy, now)
	if err := s.setState(StateCapturingData); err != nil {
		return View{}, err
	}
	if err := svc.repo.SaveSession(ctx, s.record(s.state, s.context, now), nil); err != nil {
		svc.logger.Error().Err(err).Str("session_id", s.id).Msg("persist new session")
		return View{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := svc.registry.Create(s); err != nil {
		return View{}, err
	}
	svc.metrics.ObserveTransition(s.state.String())

	svc.logger.Info().
		Str("session_id", s.id).
		Str("event", cfg.Event).
		Str("location", cfg.Location).
		Str("device", cfg.Device).
		Msg("session created")
	return s.view(), nil
}

// Get returns the current state of a live session.
func (svc *Service) Get(ctx context.Context, id string) (View, error) {
	var v View
	err := svc.withSession(ctx, id, func(s *Session) error {
		v = s.view()
		return nil
	})
	return v, err
}

// CapturePatient validates the identity, links the patient and starts the
// conversation.
func (svc *Service) CapturePatient(ctx context.Context, id string, in Identity) (*CaptureResult, error) {
	var res *CaptureResult
	err := svc.withSession(ctx, id, func(s *Session) error {
		if s.state != StateCapturingData {
			return fmt.Errorf("%w: capture patient in %s", ErrInvalidState, s.state)
		}
		identity, err := svc.validator.Validate(in)
		if err != nil {
			return err
		}

		now := svc.now()
		patient, returning, err := svc.repo.EnsurePatient(ctx, Patient{
			FullName:   identity.FullName,
			NationalID: identity.NationalID,
			Age:        identity.Age,
			CreatedAt:  now,
		})
		if err != nil {
			return svc.fail(ctx, s, err)
		}

		greeting := captureGreeting(patient, returning)
		turn := Turn{Seq: s.nextSeq(), Role: RoleSystem, Text: greeting, At: now}

		prev := s.patient
		s.patient = &patient
		if err := svc.persist(ctx, s, StateConversing, s.context, []Turn{turn}, now); err != nil {
			s.patient = prev
			return err
		}
		s.turns = append(s.turns, turn)
		if err := svc.transition(s, StateConversing, now); err != nil {
			return err
		}

		svc.logger.Info().
			Str("session_id", s.id).
			Str("patient_id", patient.ID.String()).
			Bool("returning", returning).
			Int("visits", patient.VisitCount).
			Msg("patient captured")

		res = &CaptureResult{Patient: patient, Returning: returning, Greeting: greeting, State: s.state}
		return nil
	})
	return res, err
}

// SendMessage folds one patient utterance into the session and answers it.
func (svc *Service) SendMessage(ctx context.Context, id, text string) (*Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, invalid("text", "El mensaje no puede estar vacío.")
	}

	var reply *Reply
	err := svc.withSession(ctx, id, func(s *Session) error {
		if s.state != StateConversing {
			return fmt.Errorf("%w: message in %s", ErrInvalidState, s.state)
		}
		label, confidence := svc.intentOf(s.id, text)

		mc := s.context.Clone()
		hint, _ := mc.NextMissingField()
		had := mc.Has(intake.FieldComplaint)
		changed := mc.Apply(intake.Extract(text, hint))
		if had {
			mc.RecordTurn()
		}
		next, _ := mc.NextMissingField()

		firstName := s.patient.FirstName()
		ask := func(f intake.Field) string {
			return intake.Question(svc.opts.Strategy, f, firstName, mc.Complaint())
		}
		answer := composeReply(label, changed, next, mc.Sufficient(), ask, firstName)

		now := svc.now()
		seq := s.nextSeq()
		turns := []Turn{
			{Seq: seq, Role: RolePatient, Text: text, Intent: label, Confidence: confidence, At: now},
			{Seq: seq + 1, Role: RoleSystem, Text: answer, At: now},
		}
		target := StateConversing
		if mc.Sufficient() {
			target = StateResolving
		}

		if err := svc.persist(ctx, s, target, mc, turns, now); err != nil {
			return err
		}
		s.context = mc
		s.turns = append(s.turns, turns...)
		if target != s.state {
			if err := svc.transition(s, target, now); err != nil {
				return err
			}
			svc.logger.Info().
				Str("session_id", s.id).
				Float64("completeness", mc.Completeness()).
				Int("turns", mc.Turns()).
				Msg("context sufficient, resolving")
		} else {
			s.touch(now)
		}

		reply = &Reply{
			Text:         answer,
			Intent:       label,
			Confidence:   confidence,
			Sufficient:   mc.Sufficient(),
			State:        s.state,
			Completeness: mc.Completeness(),
			NextField:    next,
		}
		return nil
	})
	return reply, err
}

// intentOf classifies text, falling back to keyword rules while the model
// is not trained.
func (svc *Service) intentOf(sessionID, text string) (string, float64) {
	if svc.classify != nil {
		label, conf, err := svc.classify.ClassifyWithThreshold(text, svc.opts.MinConfidence)
		if err == nil {
			svc.metrics.ObserveClassification("model")
			return label, conf
		}
		if !errors.Is(err, intent.ErrModelNotTrained) {
			svc.logger.Warn().Err(err).Str("session_id", sessionID).Msg("classifier failed, using rules")
		}
	}
	svc.metrics.ObserveClassification("rules")
	return intent.DetectRules(text)
}

// Resolve attaches the recommendation bundle. Calling it again once the
// bundle is attached returns the same bundle.
func (svc *Service) Resolve(ctx context.Context, id string) (*resolver.Bundle, error) {
	var bundle *resolver.Bundle
	err := svc.withSession(ctx, id, func(s *Session) error {
		switch s.state {
		case StatePrescriptionReady:
			bundle = s.bundle
			return nil
		case StateResolving:
		default:
			return fmt.Errorf("%w: resolve in %s", ErrInvalidState, s.state)
		}

		b, err := svc.resolver.Resolve(ctx, resolver.Request{
			SessionID: s.id,
			Context:   s.context.Clone(),
			Turns:     s.patientTexts(),
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return svc.fail(ctx, s, err)
		}

		now := svc.now()
		s.bundle = b
		if err := svc.persist(ctx, s, StatePrescriptionReady, s.context, nil, now); err != nil {
			s.bundle = nil
			return err
		}
		if err := svc.transition(s, StatePrescriptionReady, now); err != nil {
			return err
		}

		svc.logger.Info().
			Str("session_id", s.id).
			Str("tier", string(b.Tier)).
			Str("condition", b.Condition).
			Float64("confidence", b.Confidence).
			Int("items", len(b.Items)).
			Msg("bundle attached")
		bundle = b
		return nil
	})
	return bundle, err
}

// Finalize closes a session that has its bundle or that failed, and
// releases it from the registry.
func (svc *Service) Finalize(ctx context.Context, id string) (*Summary, error) {
	var sum *Summary
	err := svc.withSession(ctx, id, func(s *Session) error {
		fromError := s.state == StateError
		if s.state != StatePrescriptionReady && !fromError {
			return fmt.Errorf("%w: finalize in %s", ErrInvalidState, s.state)
		}

		now := svc.now()
		rec := s.record(StateFinalized, s.context, now)
		rec.EndedAt = &now
		if err := svc.repo.FinalizeSession(ctx, rec, nil, !fromError); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !fromError {
				return svc.fail(ctx, s, err)
			}
			svc.logger.Warn().Err(err).Str("session_id", s.id).Msg("persist finalized error session")
		}

		s.endedAt = now
		if err := svc.transition(s, StateFinalized, now); err != nil {
			return err
		}
		if s.patient != nil && !fromError {
			s.patient.VisitCount++
			s.patient.LastContactAt = &now
		}
		svc.registry.Remove(s.id)

		out := s.summary(now)
		svc.logger.Info().
			Str("session_id", s.id).
			Dur("duration", out.Duration).
			Int("turns", out.TurnCount).
			Str("error_kind", out.ErrorKind).
			Msg("session finalized")

		if !fromError {
			svc.sendReport(out)
		}
		sum = &out
		return nil
	})
	return sum, err
}

func (svc *Service) sendReport(sum Summary) {
	if svc.reporter == nil {
		return
	}
	task := func() {
		ctx, cancel := context.WithTimeout(context.Background(), svc.opts.ReportTimeout)
		defer cancel()
		if err := svc.reporter.SendSessionReport(ctx, sum); err != nil {
			svc.logger.Error().Err(err).Str("session_id", sum.SessionID).Msg("send doctor report")
		}
	}
	if svc.pool == nil {
		go task()
		return
	}
	if err := svc.pool.Submit(task); err != nil {
		svc.logger.Error().Err(err).Str("session_id", sum.SessionID).Msg("queue doctor report")
	}
}

// Abandon closes a session that will see no more input.
func (svc *Service) Abandon(ctx context.Context, id string) error {
	return svc.withSession(ctx, id, func(s *Session) error {
		return svc.abandon(ctx, s)
	})
}

func (svc *Service) abandon(ctx context.Context, s *Session) error {
	now := svc.now()
	rec := s.record(StateAbandoned, s.context, now)
	rec.EndedAt = &now
	if err := svc.repo.SaveSession(ctx, rec, nil); err != nil {
		svc.logger.Warn().Err(err).Str("session_id", s.id).Msg("persist abandoned session")
	}
	s.endedAt = now
	if err := svc.transition(s, StateAbandoned, now); err != nil {
		return err
	}
	svc.registry.Remove(s.id)
	svc.logger.Info().Str("session_id", s.id).Msg("session abandoned")
	return nil
}

// AbandonIdle abandons every session idle for longer than maxIdle and
// returns how many were closed.
func (svc *Service) AbandonIdle(ctx context.Context, maxIdle time.Duration) int {
	cutoff := svc.now().Add(-maxIdle)
	closed := 0
	for _, id := range svc.registry.IdleSince(cutoff) {
		err := svc.withSession(ctx, id, func(s *Session) error {
			// touched while we waited for it
			if !s.LastActivity().Before(cutoff) {
				return nil
			}
			if err := svc.abandon(ctx, s); err != nil {
				return err
			}
			closed++
			return nil
		})
		if err != nil && !errors.Is(err, ErrSessionNotFound) {
			svc.logger.Warn().Err(err).Str("session_id", id).Msg("abandon idle session")
		}
		if ctx.Err() != nil {
			break
		}
	}
	return closed
}

// withSession runs fn holding the session exclusively.
func (svc *Service) withSession(ctx context.Context, id string, fn func(*Session) error) error {
	s, ok := svc.registry.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()
	// finished by the caller we queued behind
	if s.state.Terminal() {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return fn(s)
}

// persist writes the session as it will look in state st. Nothing in
// memory changes, so callers commit only after it succeeds.
func (svc *Service) persist(ctx context.Context, s *Session, st State, mc *intake.MedicalContext, turns []Turn, now time.Time) error {
	if err := svc.repo.SaveSession(ctx, s.record(st, mc, now), turns); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return svc.fail(ctx, s, err)
	}
	return nil
}

func (svc *Service) transition(s *Session, to State, now time.Time) error {
	from := s.state
	if err := s.setState(to); err != nil {
		return err
	}
	s.touch(now)
	svc.metrics.ObserveTransition(to.String())
	svc.logger.Debug().Str("session_id", s.id).Str("from", from.String()).Str("to", to.String()).Msg("state changed")
	return nil
}

// fail moves s to Error after an internal failure. Callers get
// ErrPersistence; the cause is only logged and recorded.
func (svc *Service) fail(ctx context.Context, s *Session, cause error) error {
	now := svc.now()
	s.lastError = &ErrorRecord{
		Kind:        KindPersistence,
		Message:     cause.Error(),
		FailedState: s.state,
		At:          now,
	}
	svc.logger.Error().
		Err(cause).
		Str("session_id", s.id).
		Str("state", s.state.String()).
		Msg("session failed")

	if err := svc.transition(s, StateError, now); err != nil {
		return err
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := svc.repo.SaveSession(saveCtx, s.record(StateError, s.context, now), nil); err != nil {
		svc.logger.Warn().Err(err).Str("session_id", s.id).Msg("persist error state")
	}
	return fmt.Errorf("%w: %v", ErrPersistence, cause)
}
