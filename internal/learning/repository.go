package learning

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"kairos-intake/internal/platform/database"
)

// Store persists learned patterns and retrain history.
type Store interface {
	// UpsertPattern records g under its (signature, intent) pair and reports
	// whether a new pattern row was created.
	UpsertPattern(ctx context.Context, g Group, now time.Time) (inserted bool, err error)
	ActivePatterns(ctx context.Context) ([]Pattern, error)
	RecordRun(ctx context.Context, run Run) (int64, error)
	RecentRuns(ctx context.Context, limit int) ([]Run, error)
}

type sqlRepo struct {
	db *database.DB
}

func NewRepository(db *database.DB) Store {
	return &sqlRepo{db: db}
}

func (r *sqlRepo) UpsertPattern(ctx context.Context, g Group, now time.Time) (bool, error) {
	id := uuid.New()
	// count and avg_confidence on the right-hand side are the old values
	query := r.db.Rebind(`INSERT INTO learned_patterns (id, signature, intent, sample, count, avg_confidence, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (signature, intent) DO UPDATE SET
			avg_confidence = (learned_patterns.avg_confidence * learned_patterns.count + excluded.avg_confidence * excluded.count)
				/ (learned_patterns.count + excluded.count),
			count = learned_patterns.count + excluded.count,
			last_seen = excluded.last_seen
		RETURNING id`)

	var got uuid.UUID
	err := r.db.QueryRowContext(ctx, query, id.String(), g.Signature, g.DominantIntent, g.Sample,
		g.Frequency, g.MeanConfidence, now, now).Scan(&got)
	if err != nil {
		return false, fmt.Errorf("upsert pattern %q: %w", g.Signature, err)
	}
	return got == id, nil
}

func (r *sqlRepo) ActivePatterns(ctx context.Context) ([]Pattern, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, signature, intent, sample, count, avg_confidence, active, first_seen, last_seen
		FROM learned_patterns
		WHERE active
		ORDER BY count DESC, signature, intent`)
	if err != nil {
		return nil, fmt.Errorf("list active patterns: %w", err)
	}
	defer rows.Close()

	var out []Pattern
	for rows.Next() {
		var p Pattern
		if err := rows.Scan(&p.ID, &p.Signature, &p.Intent, &p.Sample, &p.Count, &p.AvgConfidence,
			&p.Active, &p.FirstSeen, &p.LastSeen); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *sqlRepo) RecordRun(ctx context.Context, run Run) (int64, error) {
	query := r.db.Rebind(`INSERT INTO retrain_runs (ran_at, outcome, patterns_used, example_count, label_count,
		vocabulary_size, accuracy, model_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)
	var id int64
	err := r.db.QueryRowContext(ctx, query, run.RanAt, run.Outcome, run.PatternsUsed, run.ExampleCount,
		run.LabelCount, run.VocabularySize, run.Accuracy, run.ModelVersion).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("record retrain run: %w", err)
	}
	return id, nil
}

func (r *sqlRepo) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	query := r.db.Rebind(`SELECT id, ran_at, outcome, patterns_used, example_count, label_count, vocabulary_size,
		accuracy, model_version
		FROM retrain_runs
		ORDER BY ran_at DESC, id DESC
		LIMIT ?`)
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list retrain runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.RanAt, &run.Outcome, &run.PatternsUsed, &run.ExampleCount,
			&run.LabelCount, &run.VocabularySize, &run.Accuracy, &run.ModelVersion); err != nil {
			return nil, fmt.Errorf("scan retrain run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}
