package oracle

import (
	"context"
	"fmt"
	"time"

	"kairos-intake/internal/platform/database"
)

// Call is one logged oracle attempt.
type Call struct {
	SessionID        string
	Model            string
	Outcome          string
	Latency          time.Duration
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
	At               time.Time
}

// CallRecorder stores oracle attempts.
type CallRecorder interface {
	RecordCall(ctx context.Context, c Call) error
}

// Stats aggregates the call log over a window.
type Stats struct {
	Since            time.Time `json:"since"`
	Calls            int64     `json:"calls"`
	Succeeded        int64     `json:"succeeded"`
	SuccessRate      float64   `json:"success_rate"`
	MeanLatencyMS    float64   `json:"mean_latency_ms"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	CostUSD          float64   `json:"cost_usd"`
}

type CallLog struct {
	db *database.DB
}

func NewCallLog(db *database.DB) *CallLog {
	return &CallLog{db: db}
}

func (l *CallLog) RecordCall(ctx context.Context, c Call) error {
	if c.At.IsZero() {
		c.At = time.Now().UTC()
	}
	query := l.db.Rebind(`INSERT INTO oracle_calls
		(session_id, model, outcome, latency_ms, prompt_tokens, completion_tokens, cost_usd, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := l.db.ExecContext(ctx, query, c.SessionID, c.Model, c.Outcome, c.Latency.Milliseconds(),
		c.PromptTokens, c.CompletionTokens, c.CostUSD, c.At)
	if err != nil {
		return fmt.Errorf("record oracle call: %w", err)
	}
	return nil
}

func (l *CallLog) Stats(ctx context.Context, since time.Time) (Stats, error) {
	st := Stats{Since: since}
	query := l.db.Rebind(`SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN outcome = 'ok' THEN 1 ELSE 0 END), 0),
		COALESCE(AVG(latency_ms), 0),
		COALESCE(SUM(prompt_tokens), 0),
		COALESCE(SUM(completion_tokens), 0),
		COALESCE(SUM(cost_usd), 0)
		FROM oracle_calls WHERE created_at >= ?`)
	err := l.db.QueryRowContext(ctx, query, since.UTC()).Scan(&st.Calls, &st.Succeeded, &st.MeanLatencyMS,
		&st.PromptTokens, &st.CompletionTokens, &st.CostUSD)
	if err != nil {
		return Stats{}, fmt.Errorf("oracle call stats: %w", err)
	}
	if st.Calls > 0 {
		st.SuccessRate = float64(st.Succeeded) / float64(st.Calls)
	}
	return st, nil
}
