package intent

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrModelNotTrained     = errors.New("intent classifier is not trained")
	ErrInvalidTrainingData = errors.New("invalid training data")
)

// LowExampleCount is the corpus size under which training warns.
const LowExampleCount = 10

// Prediction is the result of classifying one utterance.
type Prediction struct {
	Intent       string
	Confidence   float64
	Distribution map[string]float64
}

type TrainingMetrics struct {
	Accuracy       float64   `json:"accuracy"`
	ExampleCount   int       `json:"example_count"`
	LabelCount     int       `json:"label_count"`
	VocabularySize int       `json:"vocabulary_size"`
	Version        string    `json:"version"`
	TrainedAt      time.Time `json:"trained_at"`
	Warnings       []string  `json:"warnings,omitempty"`
}

// Classifier serves the active Model. Readers load it through an atomic
// pointer, so a retrain never exposes a half-built model.
type Classifier struct {
	active atomic.Pointer[Model]
	store  ModelStore
	opts   TrainOptions
	logger zerolog.Logger

	// serializes Train and Load
	writeMu sync.Mutex
}

// NewClassifier returns an untrained classifier. store may be nil, in which
// case models live only in memory.
func NewClassifier(store ModelStore, opts TrainOptions, logger zerolog.Logger) *Classifier {
	return &Classifier{
		store:  store,
		opts:   opts,
		logger: logger.With().Str("component", "intent_classifier").Logger(),
	}
}

// Ready reports whether a model is loaded.
func (c *Classifier) Ready() bool { return c.active.Load() != nil }

// Active returns the model currently serving, or nil.
func (c *Classifier) Active() *Model { return c.active.Load() }

func (c *Classifier) Classify(text string) (Prediction, error) {
	m := c.active.Load()
	if m == nil {
		return Prediction{}, ErrModelNotTrained
	}

	probs := m.predict(text)
	best := argmax(probs)
	dist := make(map[string]float64, len(probs))
	for i, p := range probs {
		dist[m.Labels[i]] = p
	}
	return Prediction{
		Intent:       m.Labels[best],
		Confidence:   probs[best],
		Distribution: dist,
	}, nil
}

// ClassifyWithThreshold returns Unknown when the best confidence is below min.
func (c *Classifier) ClassifyWithThreshold(text string, min float64) (string, float64, error) {
	p, err := c.Classify(text)
	if err != nil {
		return "", 0, err
	}
	if p.Confidence < min {
		return Unknown, p.Confidence, nil
	}
	return p.Intent, p.Confidence, nil
}

// Train fits a new model and, once it is persisted, makes it the active one.
// If persisting fails the previous model keeps serving.
func (c *Classifier) Train(texts, labels []string) (TrainingMetrics, error) {
	if len(texts) != len(labels) {
		return TrainingMetrics{}, fmt.Errorf("%w: %d texts but %d labels", ErrInvalidTrainingData, len(texts), len(labels))
	}
	if len(texts) == 0 {
		return TrainingMetrics{}, fmt.Errorf("%w: no examples", ErrInvalidTrainingData)
	}
	for i, l := range labels {
		if l == "" {
			return TrainingMetrics{}, fmt.Errorf("%w: example %d has an empty label", ErrInvalidTrainingData, i)
		}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	start := time.Now()
	m := fit(texts, labels, c.opts)
	metrics := TrainingMetrics{
		Accuracy:       m.Accuracy,
		ExampleCount:   m.ExampleCount,
		LabelCount:     len(m.Labels),
		VocabularySize: m.Vectorizer.size(),
		Version:        m.Version,
		TrainedAt:      m.TrainedAt,
	}
	if len(texts) < LowExampleCount {
		metrics.Warnings = append(metrics.Warnings,
			fmt.Sprintf("only %d training examples; at least %d are recommended", len(texts), LowExampleCount))
	}

	if c.store != nil {
		if err := c.store.Save(m); err != nil {
			return metrics, fmt.Errorf("persist model: %w", err)
		}
	}
	c.active.Store(m)

	c.logger.Info().
		Str("version", m.Version).
		Int("examples", metrics.ExampleCount).
		Int("labels", metrics.LabelCount).
		Int("vocabulary", metrics.VocabularySize).
		Float64("accuracy", metrics.Accuracy).
		Dur("took", time.Since(start)).
		Msg("classifier trained")
	for _, w := range metrics.Warnings {
		c.logger.Warn().Msg(w)
	}
	return metrics, nil
}

// Save persists the active model.
func (c *Classifier) Save() error {
	m := c.active.Load()
	if m == nil {
		return ErrModelNotTrained
	}
	if c.store == nil {
		return ErrNoModelStore
	}
	return c.store.Save(m)
}

// Load replaces the active model with the stored one. On any error the
// current model stays active.
func (c *Classifier) Load() error {
	if c.store == nil {
		return ErrNoModelStore
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	m, err := c.store.Load()
	if err != nil {
		c.logger.Warn().Err(err).Msg("model load failed, keeping current model")
		return err
	}
	c.active.Store(m)
	c.logger.Info().Str("version", m.Version).Int("labels", len(m.Labels)).Msg("classifier loaded")
	return nil
}
