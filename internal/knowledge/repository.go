package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"kairos-intake/internal/platform/database"
)

// Store is the persistent knowledge cache.
type Store interface {
	// Find returns the most used entry matching fingerprint and bumps its
	// usage counter, or nil when nothing matches.
	Find(ctx context.Context, fingerprint string) (*Entry, error)
	// Upsert inserts e with usage 1, or bumps the usage of the entry that
	// already has the same condition. Either way e.Keywords becomes a
	// fingerprint that finds the entry.
	Upsert(ctx context.Context, e *Entry) (*Entry, error)
	// Stats summarizes the entries learned since the given time.
	Stats(ctx context.Context, since time.Time) (*Stats, error)
}

type sqlRepo struct {
	db  *database.DB
	now func() time.Time
}

func NewRepository(db *database.DB) Store {
	return &sqlRepo{db: db, now: func() time.Time { return time.Now().UTC() }}
}

const entryColumns = `id, condition, keywords, confidence, causes, treatment, foods_increase, foods_avoid,
	habits, items, warnings, origin, usage_count, created_at, updated_at`

func (r *sqlRepo) Find(ctx context.Context, fingerprint string) (*Entry, error) {
	if fingerprint == "" {
		return nil, nil
	}
	like := "%" + fingerprint + "%"
	query := r.db.Rebind(`SELECT ` + entryColumns + ` FROM knowledge_entries
		WHERE condition_key LIKE ? OR id IN (
			SELECT entry_id FROM knowledge_fingerprints
			WHERE fingerprint LIKE ? OR ? LIKE '%' || fingerprint || '%')
		ORDER BY usage_count DESC, updated_at DESC
		LIMIT 1`)

	e, err := scanEntry(r.db.QueryRowContext(ctx, query, like, like, fingerprint))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find knowledge entry: %w", err)
	}

	update := r.db.Rebind(`UPDATE knowledge_entries SET usage_count = usage_count + 1, updated_at = ?
		WHERE id = ? RETURNING usage_count`)
	now := r.now()
	if err := r.db.QueryRowContext(ctx, update, now, e.ID).Scan(&e.UsageCount); err != nil {
		return nil, fmt.Errorf("bump knowledge usage: %w", err)
	}
	e.UpdatedAt = now
	return e, nil
}

func (r *sqlRepo) Upsert(ctx context.Context, e *Entry) (*Entry, error) {
	key := conditionKey(e.Condition)
	if key == "" {
		return nil, fmt.Errorf("knowledge entry needs a condition")
	}
	out := *e
	if out.Keywords == "" {
		out.Keywords = key
	}
	if out.Origin == "" {
		out.Origin = OriginOracle
	}
	if out.ID == uuid.Nil {
		out.ID = uuid.New()
	}
	now := r.now()
	out.CreatedAt, out.UpdatedAt = now, now

	lists, err := encodeLists(&out)
	if err != nil {
		return nil, err
	}

	query := r.db.Rebind(`INSERT INTO knowledge_entries (id, condition, condition_key, keywords, confidence,
		causes, treatment, foods_increase, foods_avoid, habits, items, warnings, origin, usage_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT (condition_key) DO UPDATE
		SET usage_count = knowledge_entries.usage_count + 1, updated_at = excluded.updated_at
		RETURNING id, usage_count`)

	args := []any{out.ID, out.Condition, key, out.Keywords, out.Confidence}
	args = append(args, lists...)
	args = append(args, string(out.Origin), now, now)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin knowledge upsert: %w", err)
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(ctx, query, args...).Scan(&out.ID, &out.UsageCount); err != nil {
		return nil, fmt.Errorf("upsert knowledge entry: %w", err)
	}

	link := r.db.Rebind(`INSERT INTO knowledge_fingerprints (fingerprint, entry_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (fingerprint, entry_id) DO NOTHING`)
	if _, err := tx.ExecContext(ctx, link, out.Keywords, out.ID, now); err != nil {
		return nil, fmt.Errorf("link knowledge fingerprint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit knowledge upsert: %w", err)
	}
	return &out, nil
}

func (r *sqlRepo) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	query := r.db.Rebind(`SELECT condition, origin, confidence, usage_count FROM knowledge_entries
		WHERE created_at >= ?
		ORDER BY usage_count DESC, condition`)
	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("query knowledge stats: %w", err)
	}
	defer rows.Close()

	st := &Stats{ByOrigin: map[Origin]int{}, MostUsed: []Usage{}, NewConditions: []string{}}
	var confSum float64
	for rows.Next() {
		var (
			u      Usage
			origin string
			conf   float64
		)
		if err := rows.Scan(&u.Condition, &origin, &conf, &u.UsageCount); err != nil {
			return nil, fmt.Errorf("scan knowledge stats: %w", err)
		}
		st.Total++
		st.ByOrigin[Origin(origin)]++
		confSum += conf
		if len(st.MostUsed) < TopUsed {
			st.MostUsed = append(st.MostUsed, u)
		}
		if u.UsageCount == 1 {
			st.NewConditions = append(st.NewConditions, u.Condition)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate knowledge stats: %w", err)
	}
	if st.Total > 0 {
		st.MeanConfidence = confSum / float64(st.Total)
	}
	return st, nil
}

func encodeLists(e *Entry) ([]any, error) {
	values := []any{e.Causes, e.Treatment, e.FoodsIncrease, e.FoodsAvoid, e.Habits, e.Items, e.Warnings}
	out := make([]any, len(values))
	for i, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode knowledge list: %w", err)
		}
		// nil slices are stored as empty arrays
		if string(raw) == "null" {
			raw = []byte("[]")
		}
		out[i] = string(raw)
	}
	return out, nil
}

func scanEntry(row *sql.Row) (*Entry, error) {
	var (
		e                                                        Entry
		origin                                                   string
		causes, treatment, foodsUp, foodsDown, habits, items, wa []byte
	)
	err := row.Scan(&e.ID, &e.Condition, &e.Keywords, &e.Confidence,
		&causes, &treatment, &foodsUp, &foodsDown, &habits, &items, &wa,
		&origin, &e.UsageCount, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Origin = Origin(origin)

	for _, f := range []struct {
		raw []byte
		dst any
	}{
		{causes, &e.Causes}, {treatment, &e.Treatment}, {foodsUp, &e.FoodsIncrease},
		{foodsDown, &e.FoodsAvoid}, {habits, &e.Habits}, {items, &e.Items}, {wa, &e.Warnings},
	} {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return nil, fmt.Errorf("failed to unmarshal knowledge list: %w", err)
		}
	}
	return &e, nil
}
