package knowledge

import (
	"time"

	"github.com/google/uuid"

	"kairos-intake/internal/intent"
)

// Origin records where a cached resolution came from.
type Origin string

const (
	OriginOracle Origin = "oracle"
	OriginManual Origin = "manual"
)

// Entry is a cached resolution for a condition.
type Entry struct {
	ID            uuid.UUID `json:"id"`
	Condition     string    `json:"condition"`
	Keywords      string    `json:"keywords"`
	Confidence    float64   `json:"confidence"`
	Causes        []string  `json:"causes"`
	Treatment     []string  `json:"treatment"`
	FoodsIncrease []string  `json:"foods_increase"`
	FoodsAvoid    []string  `json:"foods_avoid"`
	Habits        []string  `json:"habits"`
	Items         []int     `json:"items"`
	Warnings      []string  `json:"warnings"`
	Origin        Origin    `json:"origin"`
	UsageCount    int       `json:"usage_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TopUsed caps Stats.MostUsed.
const TopUsed = 5

// Stats describes what the cache learned over a window.
type Stats struct {
	Total          int            `json:"total"`
	ByOrigin       map[Origin]int `json:"by_origin"`
	MostUsed       []Usage        `json:"most_used"`
	MeanConfidence float64        `json:"mean_confidence"`
	// NewConditions were stored once and never served from the cache since.
	NewConditions []string `json:"new_conditions"`
}

type Usage struct {
	Condition  string `json:"condition"`
	UsageCount int    `json:"usage_count"`
}

// Fingerprint is the normalized lookup key for a complaint.
func Fingerprint(complaint string) string {
	return intent.Normalize(complaint)
}

// conditionKey identifies an entry for upserts.
func conditionKey(condition string) string {
	return intent.Normalize(condition)
}
