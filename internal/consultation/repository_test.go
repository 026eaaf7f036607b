package consultation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kairos-intake/internal/intake"
	"kairos-intake/internal/platform/database"
	"kairos-intake/internal/platform/database/dbtest"
	"kairos-intake/internal/resolver"
)

func TestEnsurePatientInsertsOnceByNationalID(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(dbtest.SQLite(t))
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	first, returning, err := repo.EnsurePatient(ctx, Patient{FullName: "Ana Ruiz", NationalID: "12345678", Age: intPtr(29), CreatedAt: now})
	require.NoError(t, err)
	assert.False(t, returning)
	assert.Equal(t, 0, first.VisitCount)
	require.NotNil(t, first.Age)
	assert.Equal(t, 29, *first.Age)

	again, returning, err := repo.EnsurePatient(ctx, Patient{FullName: "Otra Persona", NationalID: "12345678", CreatedAt: now})
	require.NoError(t, err)
	assert.True(t, returning)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "Ana Ruiz", again.FullName)
}

func TestSaveAndFinalizeSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := dbtest.SQLite(t)
	repo := NewRepository(db)
	start := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	p, _, err := repo.EnsurePatient(ctx, Patient{FullName: "Ana Ruiz", NationalID: "12345678", CreatedAt: start})
	require.NoError(t, err)

	mc := intake.New(intake.DefaultPolicy())
	mc.Apply(intake.Entities{Symptoms: []string{"dolor de cabeza"}})
	snap := mc.Snapshot()
	rec := SessionRecord{
		ID:             "KIO-01",
		PatientID:      &p.ID,
		State:          StateConversing.String(),
		Event:          "Evento Kairos",
		Location:       "Stand Principal",
		Device:         "Device-abc123",
		Context:        &snap,
		StartedAt:      start,
		LastActivityAt: start,
	}
	turns := []Turn{
		{Seq: 1, Role: RoleSystem, Text: "¡Hola Ana!", At: start},
		{Seq: 2, Role: RolePatient, Text: "me duele la cabeza", Intent: "symptom", Confidence: 0.9, At: start.Add(time.Minute)},
		{Seq: 3, Role: RoleSystem, Text: "Entiendo.", At: start.Add(time.Minute)},
	}
	require.NoError(t, repo.SaveSession(ctx, rec, turns))
	// replays are harmless
	require.NoError(t, repo.SaveSession(ctx, rec, turns[1:]))

	end := start.Add(5 * time.Minute)
	rec.State = StateFinalized.String()
	rec.Bundle = &resolver.Bundle{Condition: "Cefalea", Confidence: 0.5, Tier: resolver.TierFallback}
	rec.EndedAt = &end
	rec.LastActivityAt = end
	require.NoError(t, repo.FinalizeSession(ctx, rec, nil, true))

	var (
		state     string
		bundle    string
		turnCount int
		visits    int
	)
	require.NoError(t, db.QueryRowContext(ctx, `SELECT state, bundle FROM sessions WHERE id = ?`, "KIO-01").Scan(&state, &bundle))
	assert.Equal(t, "finalized", state)
	assert.Contains(t, bundle, `"condition":"Cefalea"`)
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversation_turns WHERE session_id = ?`, "KIO-01").Scan(&turnCount))
	assert.Equal(t, 3, turnCount)
	require.NoError(t, db.QueryRowContext(ctx, `SELECT visit_count FROM patients WHERE id = ?`, p.ID.String()).Scan(&visits))
	assert.Equal(t, 1, visits)

	back, returning, err := repo.EnsurePatient(ctx, Patient{FullName: "Ana Ruiz", NationalID: "12345678", CreatedAt: end})
	require.NoError(t, err)
	assert.True(t, returning)
	assert.Equal(t, 1, back.VisitCount)
	require.NotNil(t, back.LastContactAt)
	assert.True(t, back.LastContactAt.Equal(end))

	since, err := repo.PatientTurnsSince(ctx, start)
	require.NoError(t, err)
	require.Len(t, since, 1)
	assert.Equal(t, "me duele la cabeza", since[0].Text)
	assert.Equal(t, "symptom", since[0].Intent)
	assert.InDelta(t, 0.9, since[0].Confidence, 1e-9)

	none, err := repo.PatientTurnsSince(ctx, end)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFinalizeWithoutVisitLeavesPatientAlone(t *testing.T) {
	ctx := context.Background()
	db := dbtest.SQLite(t)
	repo := NewRepository(db)
	now := time.Now().UTC()

	p, _, err := repo.EnsurePatient(ctx, Patient{FullName: "Ana Ruiz", NationalID: "12345678", CreatedAt: now})
	require.NoError(t, err)
	rec := SessionRecord{ID: "KIO-02", PatientID: &p.ID, State: "finalized", Event: "e", Location: "l", Device: "d",
		Error: "disk full", FailedState: "conversing", StartedAt: now, EndedAt: &now, LastActivityAt: now}
	require.NoError(t, repo.FinalizeSession(ctx, rec, nil, false))

	var visits int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT visit_count FROM patients WHERE id = ?`, p.ID.String()).Scan(&visits))
	assert.Equal(t, 0, visits)
}

func TestSaveSessionRollsBackOnTurnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRepository(database.Wrap(db, database.Postgres))
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO sessions .* VALUES \(\$1, \$2, .*\$13\)\s+ON CONFLICT \(id\) DO UPDATE`).
		WithArgs("KIO-03", nil, "conversing", "e", "l", "d", nil, nil, nil, nil, now, nil, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectPrepare(`INSERT INTO conversation_turns`)
	mock.ExpectExec(`INSERT INTO conversation_turns`).
		WithArgs("KIO-03", 1, "patient", "hola", "greeting", 0.75, now).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	rec := SessionRecord{ID: "KIO-03", State: "conversing", Event: "e", Location: "l", Device: "d", StartedAt: now, LastActivityAt: now}
	err = repo.SaveSession(context.Background(), rec, []Turn{{Seq: 1, Role: RolePatient, Text: "hola", Intent: "greeting", Confidence: 0.75, At: now}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save turn 1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinalizeSessionBumpsVisitInSameTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRepository(database.Wrap(db, database.Postgres))
	now := time.Now().UTC()

	p, _, err := newMemRepo().EnsurePatient(context.Background(), Patient{FullName: "Ana Ruiz", NationalID: "12345678"})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO sessions`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE patients SET visit_count = visit_count \+ 1, last_contact_at = \$1 WHERE id = \$2`).
		WithArgs(now, p.ID.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec := SessionRecord{ID: "KIO-04", PatientID: &p.ID, State: "finalized", Event: "e", Location: "l", Device: "d",
		StartedAt: now, EndedAt: &now, LastActivityAt: now}
	require.NoError(t, repo.FinalizeSession(context.Background(), rec, nil, true))
	assert.NoError(t, mock.ExpectationsWereMet())
}
