// Package oracle asks an external language model for a diagnosis draft when
// the knowledge cache has no answer.
package oracle

import (
	"context"
	"errors"
)

var (
	ErrTimeout           = errors.New("oracle timed out")
	ErrUnavailable       = errors.New("oracle unavailable")
	ErrMalformedResponse = errors.New("oracle returned a malformed response")
)

// Client is what the resolver needs from an oracle.
type Client interface {
	// Enabled reports whether a call would currently be attempted.
	Enabled(ctx context.Context) bool
	Resolve(ctx context.Context, p Prompt) (*Draft, error)
}

// Draft is the structured answer of one oracle call. A low confidence is a
// valid answer.
type Draft struct {
	Condition        string   `json:"condition"`
	Confidence       float64  `json:"confidence"`
	Causes           []string `json:"causes"`
	Treatment        []string `json:"treatment"`
	FoodsToIncrease  []string `json:"foods_to_increase"`
	FoodsToAvoid     []string `json:"foods_to_avoid"`
	Habits           []string `json:"habits"`
	Warnings         []string `json:"warnings"`
	RecommendedItems []string `json:"recommended_items,omitempty"`
	WhenToSeeDoctor  string   `json:"when_to_see_doctor,omitempty"`

	Model string `json:"-"`
	Usage Usage  `json:"-"`
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
}

// Outcome labels for call logs and metrics.
const (
	OutcomeOK          = "ok"
	OutcomeTimeout     = "timeout"
	OutcomeUnavailable = "unavailable"
	OutcomeMalformed   = "malformed"
	OutcomeRefused     = "refused"
)

// OutcomeOf maps a Resolve error to its outcome label.
func OutcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrTimeout):
		return OutcomeTimeout
	case errors.Is(err, ErrMalformedResponse):
		return OutcomeMalformed
	default:
		return OutcomeUnavailable
	}
}

// Disabled is the client used when no provider is configured.
type Disabled struct{}

func (Disabled) Enabled(context.Context) bool { return false }

func (Disabled) Resolve(context.Context, Prompt) (*Draft, error) {
	return nil, ErrUnavailable
}
