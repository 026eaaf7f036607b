package learning

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"kairos-intake/internal/consultation"
	"kairos-intake/internal/intent"
	"kairos-intake/internal/knowledge"
)

// TurnSource yields the patient utterances the loop learns from.
type TurnSource interface {
	PatientTurnsSince(ctx context.Context, since time.Time) ([]consultation.Turn, error)
}

type Trainer interface {
	Train(texts, labels []string) (intent.TrainingMetrics, error)
}

// Runner executes long CPU work off the caller's goroutine.
type Runner interface {
	SubmitWait(ctx context.Context, fn func() error) error
}

// KnowledgeSource summarizes the knowledge cache; knowledge.Store satisfies it.
type KnowledgeSource interface {
	Stats(ctx context.Context, since time.Time) (*knowledge.Stats, error)
}

// RetrainObserver is satisfied by *metrics.Metrics.
type RetrainObserver interface {
	ObserveRetrain(outcome string)
}

type Config struct {
	Window           time.Duration
	MinRepeats       int
	RetrainThreshold int
	MinExamples      int
	MaxDuplicates    int
}

func DefaultConfig() Config {
	return Config{
		Window:           7 * 24 * time.Hour,
		MinRepeats:       5,
		RetrainThreshold: 10,
		MinExamples:      20,
		MaxDuplicates:    5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.MinRepeats <= 0 {
		c.MinRepeats = d.MinRepeats
	}
	if c.RetrainThreshold <= 0 {
		c.RetrainThreshold = d.RetrainThreshold
	}
	if c.MinExamples <= 0 {
		c.MinExamples = d.MinExamples
	}
	if c.MaxDuplicates <= 0 {
		c.MaxDuplicates = d.MaxDuplicates
	}
	return c
}

const (
	lowConfidence   = 0.6
	misclassified   = 0.4
	maxReviewSample = 20
)

type Deps struct {
	Turns     TurnSource
	Store     Store
	Trainer   Trainer
	Pool      Runner
	Metrics   RetrainObserver
	Knowledge KnowledgeSource
	// Seed examples are trained alongside the learned patterns so that
	// intents nobody used this week are not forgotten.
	SeedTexts  []string
	SeedLabels []string
	Logger     zerolog.Logger
	Now        func() time.Time
}

type Loop struct {
	cfg        Config
	turns      TurnSource
	store      Store
	trainer    Trainer
	pool       Runner
	metrics    RetrainObserver
	knowledge  KnowledgeSource
	seedTexts  []string
	seedLabels []string
	logger     zerolog.Logger
	now        func() time.Time
}

func NewLoop(cfg Config, deps Deps) *Loop {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Loop{
		cfg:        cfg.withDefaults(),
		turns:      deps.Turns,
		store:      deps.Store,
		trainer:    deps.Trainer,
		pool:       deps.Pool,
		metrics:    deps.Metrics,
		knowledge:  deps.Knowledge,
		seedTexts:  deps.SeedTexts,
		seedLabels: deps.SeedLabels,
		logger:     deps.Logger.With().Str("component", "learning").Logger(),
		now:        func() time.Time { return now().UTC() },
	}
}

// RunOnce analyzes the trailing window, records recurring patterns and
// retrains when enough new ones showed up. A declined retrain returns the
// report together with ErrInsufficientTrainingData.
func (l *Loop) RunOnce(ctx context.Context) (*Report, error) {
	start := l.now()
	rep := &Report{
		StartedAt:          start,
		Window:             l.cfg.Window,
		IntentDistribution: map[string]int{},
		Patterns:           []Group{},
	}

	turns, err := l.turns.PatientTurnsSince(ctx, start.Add(-l.cfg.Window))
	if err != nil {
		return nil, fmt.Errorf("load turns: %w", err)
	}
	rep.UtterancesAnalyzed = len(turns)
	review(rep, turns)

	groups := groupTurns(turns)
	rep.Groups = len(groups)
	for _, g := range groups {
		if g.Frequency < l.cfg.MinRepeats {
			continue
		}
		inserted, err := l.store.UpsertPattern(ctx, g, start)
		if err != nil {
			return nil, err
		}
		if inserted {
			rep.NewPatterns++
		} else {
			rep.UpdatedPatterns++
		}
		rep.Patterns = append(rep.Patterns, g)
	}

	rep.Knowledge = l.knowledgeStats(ctx, start.Add(-l.cfg.Window))

	l.logger.Info().
		Int("utterances", rep.UtterancesAnalyzed).
		Int("groups", rep.Groups).
		Int("new_patterns", rep.NewPatterns).
		Int("updated_patterns", rep.UpdatedPatterns).
		Msg("learning pass analyzed")

	if rep.NewPatterns >= l.cfg.RetrainThreshold {
		run, err := l.Retrain(ctx)
		rep.Retrain = run
		if err != nil {
			rep.finish(l.now())
			return rep, err
		}
	}
	rep.finish(l.now())
	return rep, nil
}

// knowledgeStats is informational; a failing read leaves the section out.
func (l *Loop) knowledgeStats(ctx context.Context, since time.Time) *knowledge.Stats {
	if l.knowledge == nil {
		return nil
	}
	st, err := l.knowledge.Stats(ctx, since)
	if err != nil {
		l.logger.Warn().Err(err).Msg("knowledge stats unavailable")
		return nil
	}
	return st
}

func (r *Report) finish(at time.Time) {
	r.Took = at.Sub(r.StartedAt)
	r.TookSeconds = r.Took.Seconds()
}

// Retrain fits the classifier on every active pattern, each repeated up to
// MaxDuplicates times by how often it was seen.
func (l *Loop) Retrain(ctx context.Context) (*Run, error) {
	patterns, err := l.store.ActivePatterns(ctx)
	if err != nil {
		return nil, err
	}

	texts, labels, used := weightedExamples(patterns, l.cfg.MaxDuplicates)
	run := &Run{RanAt: l.now(), PatternsUsed: used, ExampleCount: len(texts)}

	if len(texts) < l.cfg.MinExamples {
		run.Outcome = OutcomeInsufficient
		l.record(ctx, run)
		l.logger.Warn().
			Int("examples", len(texts)).
			Int("required", l.cfg.MinExamples).
			Msg("not enough learned examples, retrain skipped")
		return run, fmt.Errorf("%w: %d weighted examples, need %d", ErrInsufficientTrainingData, len(texts), l.cfg.MinExamples)
	}

	texts = append(append([]string{}, l.seedTexts...), texts...)
	labels = append(append([]string{}, l.seedLabels...), labels...)

	var m intent.TrainingMetrics
	train := func() error {
		var err error
		m, err = l.trainer.Train(texts, labels)
		return err
	}
	if l.pool != nil {
		err = l.pool.SubmitWait(ctx, train)
	} else {
		err = train()
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		run.Outcome = OutcomeFailed
		l.record(ctx, run)
		return run, fmt.Errorf("retrain classifier: %w", err)
	}

	run.Outcome = OutcomeRetrained
	run.ExampleCount = m.ExampleCount
	run.LabelCount = m.LabelCount
	run.VocabularySize = m.VocabularySize
	run.Accuracy = m.Accuracy
	run.ModelVersion = m.Version
	l.record(ctx, run)
	l.logger.Info().
		Str("version", m.Version).
		Int("patterns", used).
		Int("examples", m.ExampleCount).
		Float64("accuracy", m.Accuracy).
		Msg("classifier retrained from learned patterns")
	return run, nil
}

func (l *Loop) record(ctx context.Context, run *Run) {
	if l.metrics != nil {
		l.metrics.ObserveRetrain(run.Outcome)
	}
	id, err := l.store.RecordRun(context.WithoutCancel(ctx), *run)
	if err != nil {
		l.logger.Error().Err(err).Str("outcome", run.Outcome).Msg("retrain run not recorded")
		return
	}
	run.ID = id
}

// weightedExamples skips unknown-intent patterns: training on them would
// teach the model to answer "unknown".
func weightedExamples(patterns []Pattern, maxDup int) (texts, labels []string, used int) {
	for _, p := range patterns {
		if p.Intent == "" || p.Intent == intent.Unknown || p.Count <= 0 {
			continue
		}
		used++
		for i := 0; i < min(p.Count, maxDup); i++ {
			texts = append(texts, p.Sample)
			labels = append(labels, p.Intent)
		}
	}
	return texts, labels, used
}

var stopwords = map[string]bool{
	"el": true, "la": true, "de": true, "que": true, "y": true, "a": true,
	"en": true, "un": true, "una": true, "por": true, "para": true,
}

// Signature is the grouping key for an utterance: normalized words minus
// the most common Spanish function words.
func Signature(text string) string {
	words := strings.Fields(intent.Normalize(text))
	kept := words[:0]
	for _, w := range words {
		if !stopwords[w] {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}

type accumulator struct {
	sample    string
	total     int
	confSum   float64
	intents   map[string]int
	originals map[string]struct{}
}

// groupTurns returns groups ordered by frequency, then signature.
func groupTurns(turns []consultation.Turn) []Group {
	acc := make(map[string]*accumulator)
	for _, t := range turns {
		sig := Signature(t.Text)
		if sig == "" {
			continue
		}
		a, ok := acc[sig]
		if !ok {
			a = &accumulator{sample: strings.TrimSpace(t.Text), intents: map[string]int{}, originals: map[string]struct{}{}}
			acc[sig] = a
		}
		a.total++
		a.confSum += t.Confidence
		a.intents[intentOf(t)]++
		a.originals[strings.TrimSpace(t.Text)] = struct{}{}
	}

	out := make([]Group, 0, len(acc))
	for sig, a := range acc {
		out = append(out, Group{
			Signature:      sig,
			Sample:         a.sample,
			Frequency:      a.total,
			DominantIntent: dominant(a.intents),
			MeanConfidence: a.confSum / float64(a.total),
			Variations:     len(a.originals),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		return out[i].Signature < out[j].Signature
	})
	return out
}

func dominant(counts map[string]int) string {
	best, n := "", -1
	for name, c := range counts {
		if c > n || (c == n && name < best) {
			best, n = name, c
		}
	}
	return best
}

func intentOf(t consultation.Turn) string {
	if t.Intent == "" {
		return intent.Unknown
	}
	return t.Intent
}

func review(rep *Report, turns []consultation.Turn) {
	for _, t := range turns {
		name := intentOf(t)
		rep.IntentDistribution[name]++
		s := Sample{Text: t.Text, Intent: name, Confidence: t.Confidence, At: t.At}
		if t.Confidence < lowConfidence && len(rep.LowConfidence) < maxReviewSample {
			rep.LowConfidence = append(rep.LowConfidence, s)
		}
		if name == intent.Unknown && len(rep.Unknown) < maxReviewSample {
			rep.Unknown = append(rep.Unknown, s)
		}
		if t.Confidence < misclassified && name != intent.Unknown && len(rep.Misclassified) < maxReviewSample {
			rep.Misclassified = append(rep.Misclassified, s)
		}
	}
}
