// Package learning mines recent patient utterances for recurring phrasings
// and retrains the intent classifier from them.
package learning

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"kairos-intake/internal/knowledge"
)

// ErrInsufficientTrainingData means the active patterns weigh in under the
// minimum example count, so no retrain happened.
var ErrInsufficientTrainingData = errors.New("insufficient training data")

// Pattern is a recurring utterance shape and the intent it usually gets.
type Pattern struct {
	ID            uuid.UUID `json:"id"`
	Signature     string    `json:"signature"`
	Intent        string    `json:"intent"`
	Sample        string    `json:"sample"`
	Count         int       `json:"count"`
	AvgConfidence float64   `json:"avg_confidence"`
	Active        bool      `json:"active"`
	FirstSeen     time.Time `json:"first_seen"`
	LastSeen      time.Time `json:"last_seen"`
}

// Group is every utterance in the window that shares a signature.
type Group struct {
	Signature      string  `json:"signature"`
	Sample         string  `json:"sample"`
	Frequency      int     `json:"frequency"`
	DominantIntent string  `json:"dominant_intent"`
	MeanConfidence float64 `json:"mean_confidence"`
	Variations     int     `json:"variations"`
}

// Outcome of one retrain attempt.
const (
	OutcomeRetrained    = "retrained"
	OutcomeInsufficient = "insufficient_data"
	OutcomeFailed       = "failed"
)

// Run is one retrain attempt as stored in retrain_runs.
type Run struct {
	ID             int64     `json:"id"`
	RanAt          time.Time `json:"ran_at"`
	Outcome        string    `json:"outcome"`
	PatternsUsed   int       `json:"patterns_used"`
	ExampleCount   int       `json:"example_count"`
	LabelCount     int       `json:"label_count"`
	VocabularySize int       `json:"vocabulary_size"`
	Accuracy       float64   `json:"accuracy"`
	ModelVersion   string    `json:"model_version,omitempty"`
}

// Sample is one utterance surfaced for review.
type Sample struct {
	Text       string    `json:"text"`
	Intent     string    `json:"intent"`
	Confidence float64   `json:"confidence"`
	At         time.Time `json:"at"`
}

// Report describes one pass of the loop.
type Report struct {
	StartedAt          time.Time      `json:"started_at"`
	Took               time.Duration  `json:"-"`
	TookSeconds        float64        `json:"took_seconds"`
	Window             time.Duration  `json:"-"`
	UtterancesAnalyzed int            `json:"utterances_analyzed"`
	Groups             int            `json:"groups"`
	Patterns           []Group        `json:"patterns"`
	NewPatterns        int            `json:"new_patterns"`
	UpdatedPatterns    int            `json:"updated_patterns"`
	IntentDistribution map[string]int `json:"intent_distribution"`
	LowConfidence      []Sample       `json:"low_confidence"`
	Unknown            []Sample       `json:"unknown"`
	Misclassified      []Sample       `json:"possible_misclassifications"`
	Retrain            *Run           `json:"retrain,omitempty"`
	// Knowledge is what the oracle taught the cache over the same window.
	Knowledge *knowledge.Stats `json:"knowledge,omitempty"`
}
