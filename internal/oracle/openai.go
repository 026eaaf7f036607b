package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"kairos-intake/internal/platform/metrics"
	"kairos-intake/internal/quota"
)

type Config struct {
	Enabled     bool
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	Temperature float32
	MaxTokens   int
	// RPS caps outbound requests per second; 0 disables the limiter.
	RPS float64
}

func DefaultConfig() Config {
	return Config{
		BaseURL:     "https://api.openai.com/v1",
		Model:       defaultModel,
		Timeout:     30 * time.Second,
		Temperature: 0.3,
		MaxTokens:   1000,
		RPS:         2,
	}
}

// OpenAIClient talks to any OpenAI compatible chat completion API.
// DeepSeek works through BaseURL.
type OpenAIClient struct {
	cfg     Config
	client  *openai.Client
	limiter *rate.Limiter
	guard   *quota.Guard
	calls   CallRecorder
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

// NewOpenAIClient builds a client. guard, calls and m may be nil.
func NewOpenAIClient(cfg Config, guard *quota.Guard, calls CallRecorder, m *metrics.Metrics, logger zerolog.Logger) *OpenAIClient {
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	}

	return &OpenAIClient{
		cfg:     cfg,
		client:  openai.NewClientWithConfig(clientConfig),
		limiter: limiter,
		guard:   guard,
		calls:   calls,
		metrics: m,
		logger:  logger.With().Str("component", "oracle").Str("model", cfg.Model).Logger(),
		now:     time.Now,
	}
}

func (c *OpenAIClient) Enabled(ctx context.Context) bool {
	if !c.cfg.Enabled || c.cfg.APIKey == "" {
		return false
	}
	if c.guard == nil {
		return true
	}
	d, err := c.guard.Allow(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("quota check failed")
		return false
	}
	return d.Allowed
}

// Resolve makes exactly one provider call. There is no retry; the caller
// falls through to its next tier on any error.
func (c *OpenAIClient) Resolve(ctx context.Context, p Prompt) (*Draft, error) {
	if !c.cfg.Enabled || c.cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: not configured", ErrUnavailable)
	}
	if c.guard != nil {
		d, err := c.guard.Reserve(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Msg("quota check failed")
			return nil, fmt.Errorf("%w: quota check: %v", ErrUnavailable, err)
		}
		if !d.Allowed {
			c.record(ctx, p.SessionID, OutcomeRefused, 0, openai.Usage{}, 0)
			return nil, fmt.Errorf("%w: quota %s reached", ErrUnavailable, d.Reason)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		// the provider was never contacted
		if c.guard != nil {
			if rerr := c.guard.Release(context.WithoutCancel(ctx)); rerr != nil {
				c.logger.Warn().Err(rerr).Msg("quota release failed")
			}
		}
		return nil, c.mapError(ctx, err)
	}

	start := c.now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: p.System()},
			{Role: openai.ChatMessageRoleUser, Content: p.User()},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	took := c.now().Sub(start)
	if err != nil {
		mapped := c.mapError(ctx, err)
		c.logger.Warn().Err(err).Str("session_id", p.SessionID).Dur("took", took).Msg("oracle call failed")
		c.record(ctx, p.SessionID, OutcomeOf(mapped), took, openai.Usage{}, 0)
		return nil, mapped
	}

	cost := Cost(c.cfg.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	if c.guard != nil {
		if err := c.guard.AddSpend(context.WithoutCancel(ctx), cost); err != nil {
			c.logger.Warn().Err(err).Msg("quota spend failed")
		}
	}

	if len(resp.Choices) == 0 {
		c.record(ctx, p.SessionID, OutcomeMalformed, took, resp.Usage, cost)
		return nil, fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}
	draft, err := ParseDraft(resp.Choices[0].Message.Content)
	if err != nil {
		c.logger.Warn().Err(err).Str("session_id", p.SessionID).Msg("oracle reply rejected")
		c.record(ctx, p.SessionID, OutcomeMalformed, took, resp.Usage, cost)
		return nil, err
	}

	draft.Model = c.cfg.Model
	draft.Usage = Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		CostUSD:          cost,
	}
	c.record(ctx, p.SessionID, OutcomeOK, took, resp.Usage, cost)
	c.logger.Info().
		Str("session_id", p.SessionID).
		Str("condition", draft.Condition).
		Float64("confidence", draft.Confidence).
		Int("tokens", resp.Usage.TotalTokens).
		Dur("took", took).
		Msg("oracle resolved")
	return draft, nil
}

func (c *OpenAIClient) mapError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrTimeout, c.cfg.Timeout)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: provider status %d", ErrUnavailable, apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("%w: provider status %d", ErrUnavailable, reqErr.HTTPStatusCode)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// record logs the attempt with a detached context so a timed out call is
// still written.
func (c *OpenAIClient) record(ctx context.Context, sessionID, outcome string, took time.Duration, usage openai.Usage, cost float64) {
	c.metrics.ObserveOracle(outcome, took)
	if c.calls == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	err := c.calls.RecordCall(ctx, Call{
		SessionID:        sessionID,
		Model:            c.cfg.Model,
		Outcome:          outcome,
		Latency:          took,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		CostUSD:          cost,
		At:               c.now().UTC(),
	})
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to log oracle call")
	}
}
