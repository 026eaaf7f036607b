package consultation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"kairos-intake/internal/intake"
	"kairos-intake/internal/platform/database"
	"kairos-intake/internal/resolver"
)

// SessionRecord is the persisted row of a session.
type SessionRecord struct {
	ID             string
	PatientID      *uuid.UUID
	State          string
	Event          string
	Location       string
	Device         string
	Context        *intake.Snapshot
	Bundle         *resolver.Bundle
	Error          string
	FailedState    string
	StartedAt      time.Time
	EndedAt        *time.Time
	LastActivityAt time.Time
}

type Repository interface {
	// EnsurePatient stores p unless a patient with the same national ID
	// exists, and returns the stored row. returning is true for an
	// existing patient.
	EnsurePatient(ctx context.Context, p Patient) (stored Patient, returning bool, err error)
	// SaveSession upserts the session row and appends turns in one
	// transaction.
	SaveSession(ctx context.Context, rec SessionRecord, turns []Turn) error
	// FinalizeSession is SaveSession plus, when countVisit is set, one more
	// visit on the session's patient.
	FinalizeSession(ctx context.Context, rec SessionRecord, turns []Turn, countVisit bool) error
	// PatientTurnsSince lists patient utterances recorded at or after since.
	PatientTurnsSince(ctx context.Context, since time.Time) ([]Turn, error)
}

type sqlRepo struct {
	db *database.DB
}

func NewRepository(db *database.DB) Repository {
	return &sqlRepo{db: db}
}

func (r *sqlRepo) EnsurePatient(ctx context.Context, p Patient) (Patient, bool, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	var age any
	if p.Age != nil {
		age = *p.Age
	}

	insert := r.db.Rebind(`INSERT INTO patients (id, full_name, national_id, age, visit_count, created_at)
		VALUES (?, ?, ?, ?, 0, ?)
		ON CONFLICT (national_id) DO NOTHING`)
	if _, err := r.db.ExecContext(ctx, insert, p.ID.String(), p.FullName, p.NationalID, age, p.CreatedAt); err != nil {
		return Patient{}, false, fmt.Errorf("insert patient: %w", err)
	}

	query := r.db.Rebind(`SELECT id, full_name, national_id, age, visit_count, last_contact_at, created_at
		FROM patients WHERE national_id = ?`)
	var (
		stored      Patient
		storedAge   sql.NullInt64
		lastContact sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, p.NationalID).Scan(&stored.ID, &stored.FullName, &stored.NationalID,
		&storedAge, &stored.VisitCount, &lastContact, &stored.CreatedAt)
	if err != nil {
		return Patient{}, false, fmt.Errorf("load patient: %w", err)
	}
	if storedAge.Valid {
		v := int(storedAge.Int64)
		stored.Age = &v
	}
	if lastContact.Valid {
		t := lastContact.Time
		stored.LastContactAt = &t
	}
	return stored, stored.ID != p.ID, nil
}

func (r *sqlRepo) SaveSession(ctx context.Context, rec SessionRecord, turns []Turn) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		return r.saveSession(ctx, tx, rec, turns)
	})
}

func (r *sqlRepo) FinalizeSession(ctx context.Context, rec SessionRecord, turns []Turn, countVisit bool) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if err := r.saveSession(ctx, tx, rec, turns); err != nil {
			return err
		}
		if !countVisit || rec.PatientID == nil {
			return nil
		}
		at := rec.LastActivityAt
		if rec.EndedAt != nil {
			at = *rec.EndedAt
		}
		bump := r.db.Rebind(`UPDATE patients SET visit_count = visit_count + 1, last_contact_at = ? WHERE id = ?`)
		res, err := tx.ExecContext(ctx, bump, at, rec.PatientID.String())
		if err != nil {
			return fmt.Errorf("count visit: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("count visit: patient %s not found", rec.PatientID)
		}
		return nil
	})
}

func (r *sqlRepo) saveSession(ctx context.Context, tx *sql.Tx, rec SessionRecord, turns []Turn) error {
	contextJSON, err := nullJSON(rec.Context)
	if err != nil {
		return fmt.Errorf("encode session context: %w", err)
	}
	bundleJSON, err := nullJSON(rec.Bundle)
	if err != nil {
		return fmt.Errorf("encode session bundle: %w", err)
	}
	var patientID, endedAt any
	if rec.PatientID != nil {
		patientID = rec.PatientID.String()
	}
	if rec.EndedAt != nil {
		endedAt = *rec.EndedAt
	}

	upsert := r.db.Rebind(`INSERT INTO sessions (id, patient_id, state, event, location, device, context, bundle,
		error, failed_state, started_at, ended_at, last_activity_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			patient_id = excluded.patient_id,
			state = excluded.state,
			context = excluded.context,
			bundle = excluded.bundle,
			error = excluded.error,
			failed_state = excluded.failed_state,
			ended_at = excluded.ended_at,
			last_activity_at = excluded.last_activity_at`)
	_, err = tx.ExecContext(ctx, upsert, rec.ID, patientID, rec.State, rec.Event, rec.Location, rec.Device,
		contextJSON, bundleJSON, nullString(rec.Error), nullString(rec.FailedState),
		rec.StartedAt, endedAt, rec.LastActivityAt)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	if len(turns) == 0 {
		return nil
	}
	insert := r.db.Rebind(`INSERT INTO conversation_turns (session_id, seq, role, text, intent, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, seq) DO NOTHING`)
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("prepare turn insert: %w", err)
	}
	defer stmt.Close()
	for _, t := range turns {
		if _, err := stmt.ExecContext(ctx, rec.ID, t.Seq, string(t.Role), t.Text, t.Intent, t.Confidence, t.At); err != nil {
			return fmt.Errorf("save turn %d: %w", t.Seq, err)
		}
	}
	return nil
}

func (r *sqlRepo) PatientTurnsSince(ctx context.Context, since time.Time) ([]Turn, error) {
	query := r.db.Rebind(`SELECT seq, role, text, intent, confidence, created_at
		FROM conversation_turns
		WHERE role = ? AND created_at >= ?
		ORDER BY created_at, id`)
	rows, err := r.db.QueryContext(ctx, query, string(RolePatient), since)
	if err != nil {
		return nil, fmt.Errorf("list patient turns: %w", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var (
			t    Turn
			role string
		)
		if err := rows.Scan(&t.Seq, &role, &t.Text, &t.Intent, &t.Confidence, &t.At); err != nil {
			return nil, fmt.Errorf("scan patient turn: %w", err)
		}
		t.Role = Role(role)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *sqlRepo) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func nullJSON[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
