// Package quota caps oracle usage by calls per day and spend per month.
package quota

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Counter stores the usage totals. Implementations must be safe for
// concurrent use.
type Counter interface {
	// AddCall counts one call for day and returns the new total.
	AddCall(ctx context.Context, day string) (int64, error)
	// ReleaseCall takes back one call counted by AddCall.
	ReleaseCall(ctx context.Context, day string) error
	// AddSpend adds cost to month and returns the new total.
	AddSpend(ctx context.Context, month string, cost float64) (float64, error)
	Calls(ctx context.Context, day string) (int64, error)
	Spend(ctx context.Context, month string) (float64, error)
}

// Decision is the outcome of Allow or Reserve.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

const (
	ReasonDailyLimit = "daily_limit"
	ReasonBudget     = "monthly_budget"
)

// Status is a usage snapshot.
type Status struct {
	CallsToday      int64   `json:"calls_today"`
	DailyLimit      int64   `json:"daily_limit"`
	RemainingCalls  int64   `json:"remaining_calls"`
	SpendThisMonth  float64 `json:"spend_this_month_usd"`
	MonthlyBudget   float64 `json:"monthly_budget_usd"`
	RemainingBudget float64 `json:"remaining_budget_usd"`
	BudgetExceeded  bool    `json:"budget_exceeded"`
}

// Guard refuses oracle calls once a limit is reached. A zero limit or
// budget means unlimited.
type Guard struct {
	DailyLimit    int64
	MonthlyBudget float64
	Counter       Counter

	now func() time.Time
}

func NewGuard(dailyLimit int64, monthlyBudget float64, counter Counter) *Guard {
	if counter == nil {
		counter = NewMemoryCounter()
	}
	return &Guard{
		DailyLimit:    dailyLimit,
		MonthlyBudget: monthlyBudget,
		Counter:       counter,
		now:           time.Now,
	}
}

func (g *Guard) keys() (day, month string) {
	now := time.Now
	if g.now != nil {
		now = g.now
	}
	t := now().UTC()
	return t.Format("20060102"), t.Format("200601")
}

func (g *Guard) Allow(ctx context.Context) (Decision, error) {
	day, month := g.keys()
	if g.DailyLimit > 0 {
		calls, err := g.Counter.Calls(ctx, day)
		if err != nil {
			return Decision{}, fmt.Errorf("read daily calls: %w", err)
		}
		if calls >= g.DailyLimit {
			return Decision{Reason: ReasonDailyLimit}, nil
		}
	}
	if g.MonthlyBudget > 0 {
		spend, err := g.Counter.Spend(ctx, month)
		if err != nil {
			return Decision{}, fmt.Errorf("read monthly spend: %w", err)
		}
		if spend >= g.MonthlyBudget {
			return Decision{Reason: ReasonBudget}, nil
		}
	}
	return Decision{Allowed: true}, nil
}

// Reserve claims one call against the daily limit before the provider is
// contacted. A refused reservation is handed back.
func (g *Guard) Reserve(ctx context.Context) (Decision, error) {
	day, month := g.keys()
	if g.MonthlyBudget > 0 {
		spend, err := g.Counter.Spend(ctx, month)
		if err != nil {
			return Decision{}, fmt.Errorf("read monthly spend: %w", err)
		}
		if spend >= g.MonthlyBudget {
			return Decision{Reason: ReasonBudget}, nil
		}
	}

	calls, err := g.Counter.AddCall(ctx, day)
	if err != nil {
		return Decision{}, fmt.Errorf("count oracle call: %w", err)
	}
	if g.DailyLimit > 0 && calls > g.DailyLimit {
		if err := g.Counter.ReleaseCall(ctx, day); err != nil {
			return Decision{}, fmt.Errorf("release oracle call: %w", err)
		}
		return Decision{Reason: ReasonDailyLimit}, nil
	}
	return Decision{Allowed: true}, nil
}

// Release hands back a reservation whose call never reached the provider.
func (g *Guard) Release(ctx context.Context) error {
	day, _ := g.keys()
	if err := g.Counter.ReleaseCall(ctx, day); err != nil {
		return fmt.Errorf("release oracle call: %w", err)
	}
	return nil
}

// AddSpend charges cost USD to the current month.
func (g *Guard) AddSpend(ctx context.Context, cost float64) error {
	if cost <= 0 {
		return nil
	}
	_, month := g.keys()
	if _, err := g.Counter.AddSpend(ctx, month, cost); err != nil {
		return fmt.Errorf("add oracle spend: %w", err)
	}
	return nil
}

func (g *Guard) Status(ctx context.Context) (Status, error) {
	day, month := g.keys()
	calls, err := g.Counter.Calls(ctx, day)
	if err != nil {
		return Status{}, fmt.Errorf("read daily calls: %w", err)
	}
	spend, err := g.Counter.Spend(ctx, month)
	if err != nil {
		return Status{}, fmt.Errorf("read monthly spend: %w", err)
	}

	st := Status{
		CallsToday:     calls,
		DailyLimit:     g.DailyLimit,
		SpendThisMonth: round4(spend),
		MonthlyBudget:  g.MonthlyBudget,
	}
	if g.DailyLimit > 0 {
		st.RemainingCalls = max(g.DailyLimit-calls, 0)
	}
	if g.MonthlyBudget > 0 {
		st.RemainingBudget = round4(math.Max(g.MonthlyBudget-spend, 0))
		st.BudgetExceeded = spend >= g.MonthlyBudget
	}
	return st, nil
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
