package knowledge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kairos-intake/internal/platform/database"
	"kairos-intake/internal/platform/database/dbtest"
)

func headacheEntry() *Entry {
	return &Entry{
		Condition:     "Cefalea tensional",
		Keywords:      Fingerprint("dolor de cabeza"),
		Confidence:    0.85,
		Causes:        []string{"estrés", "falta de sueño"},
		Treatment:     []string{"descanso", "hidratación"},
		FoodsIncrease: []string{"agua", "frutas"},
		FoodsAvoid:    []string{"cafeína"},
		Habits:        []string{"pausas activas"},
		Items:         []int{1, 2},
		Warnings:      []string{"Si el dolor persiste consulta a un médico"},
	}
}

func TestUpsertThenFindRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewRepository(dbtest.SQLite(t))

	in := headacheEntry()
	saved, err := store.Upsert(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, 1, saved.UsageCount)
	assert.NotEqual(t, uuid.Nil, saved.ID)

	got, err := store.Find(ctx, in.Keywords)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.GreaterOrEqual(t, got.UsageCount, 1)
	assert.Equal(t, saved.ID, got.ID)
	assert.Equal(t, in.Condition, got.Condition)
	assert.Equal(t, in.Confidence, got.Confidence)
	assert.Equal(t, in.Causes, got.Causes)
	assert.Equal(t, in.Treatment, got.Treatment)
	assert.Equal(t, in.FoodsIncrease, got.FoodsIncrease)
	assert.Equal(t, in.FoodsAvoid, got.FoodsAvoid)
	assert.Equal(t, in.Habits, got.Habits)
	assert.Equal(t, in.Items, got.Items)
	assert.Equal(t, in.Warnings, got.Warnings)
	assert.Equal(t, OriginOracle, got.Origin)
}

func TestFindMatchesEitherDirectionAndBumpsUsage(t *testing.T) {
	ctx := context.Background()
	store := NewRepository(dbtest.SQLite(t))
	_, err := store.Upsert(ctx, headacheEntry())
	require.NoError(t, err)

	// longer complaint containing the stored keywords
	got, err := store.Find(ctx, Fingerprint("dolor de cabeza muy fuerte"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.UsageCount)

	// fragment of the condition name
	got, err = store.Find(ctx, "cefalea")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 3, got.UsageCount)

	miss, err := store.Find(ctx, "dolor de rodilla")
	require.NoError(t, err)
	assert.Nil(t, miss)

	empty, err := store.Find(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestFindPrefersMostUsed(t *testing.T) {
	ctx := context.Background()
	store := NewRepository(dbtest.SQLite(t))

	_, err := store.Upsert(ctx, &Entry{Condition: "Gastritis leve", Keywords: "gastritis", Confidence: 0.8})
	require.NoError(t, err)
	_, err = store.Upsert(ctx, &Entry{Condition: "Gastritis crónica", Keywords: "gastritis", Confidence: 0.9})
	require.NoError(t, err)
	_, err = store.Upsert(ctx, &Entry{Condition: "gastritis crónica"})
	require.NoError(t, err)

	got, err := store.Find(ctx, "gastritis")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Gastritis crónica", got.Condition)
	assert.Equal(t, 3, got.UsageCount)
}

func TestConcurrentUpsertsDoNotLoseUpdates(t *testing.T) {
	ctx := context.Background()
	store := NewRepository(dbtest.SQLite(t))

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Upsert(ctx, headacheEntry())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := store.Find(ctx, "cefalea tensional")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, workers+1, got.UsageCount)
}

func TestUpsertLinksEveryFingerprintToTheCondition(t *testing.T) {
	ctx := context.Background()
	store := NewRepository(dbtest.SQLite(t))

	first, err := store.Upsert(ctx, headacheEntry())
	require.NoError(t, err)

	other := headacheEntry()
	other.Keywords = Fingerprint("presion en las sienes")
	second, err := store.Upsert(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.UsageCount)

	for _, fp := range []string{"presion en las sienes", "dolor de cabeza"} {
		got, err := store.Find(ctx, fp)
		require.NoError(t, err)
		require.NotNil(t, got, fp)
		assert.Equal(t, first.ID, got.ID)
	}

	// repeating a known fingerprint links nothing new
	_, err = store.Upsert(ctx, other)
	require.NoError(t, err)
	got, err := store.Find(ctx, "presion en las sienes")
	require.NoError(t, err)
	assert.Equal(t, 6, got.UsageCount)
}

func TestStatsSummarizesTheWindow(t *testing.T) {
	ctx := context.Background()
	db := dbtest.SQLite(t)
	repo := &sqlRepo{db: db}
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	put := func(e *Entry, created time.Time) {
		repo.now = func() time.Time { return created }
		_, err := repo.Upsert(ctx, e)
		require.NoError(t, err)
	}
	put(&Entry{Condition: "Gastritis leve", Keywords: "ardor de estomago", Confidence: 0.9}, at.Add(-30*24*time.Hour))
	put(headacheEntry(), at.Add(-2*time.Hour))
	put(headacheEntry(), at.Add(-time.Hour))
	put(&Entry{Condition: "Insomnio", Keywords: "no puedo dormir", Confidence: 0.75, Origin: OriginManual}, at.Add(-time.Hour))

	st, err := repo.Stats(ctx, at.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, map[Origin]int{OriginOracle: 1, OriginManual: 1}, st.ByOrigin)
	assert.Equal(t, []Usage{{"Cefalea tensional", 2}, {"Insomnio", 1}}, st.MostUsed)
	assert.InDelta(t, 0.8, st.MeanConfidence, 1e-9)
	assert.Equal(t, []string{"Insomnio"}, st.NewConditions)

	empty, err := repo.Stats(ctx, at)
	require.NoError(t, err)
	assert.Zero(t, empty.Total)
	assert.Empty(t, empty.MostUsed)
}

func TestUpsertRequiresCondition(t *testing.T) {
	store := NewRepository(dbtest.SQLite(t))
	_, err := store.Upsert(context.Background(), &Entry{Condition: "  "})
	assert.Error(t, err)
}

func TestPostgresQueriesAndErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewRepository(database.Wrap(db, database.Postgres))
	ctx := context.Background()

	id := uuid.New()
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO knowledge_entries .* VALUES \(\$1, \$2, \$3, \$4, \$5, .* ON CONFLICT \(condition_key\) DO UPDATE`).
		WithArgs(sqlmock.AnyArg(), "Cefalea tensional", "cefalea tensional", "dolor de cabeza", 0.85,
			`["estrés","falta de sueño"]`, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			"[1,2]", sqlmock.AnyArg(), "oracle", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "usage_count"}).AddRow(id.String(), 4))
	mock.ExpectExec(`INSERT INTO knowledge_fingerprints .* VALUES \(\$1, \$2, \$3\)\s+ON CONFLICT \(fingerprint, entry_id\) DO NOTHING`).
		WithArgs("dolor de cabeza", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	saved, err := store.Upsert(ctx, headacheEntry())
	require.NoError(t, err)
	assert.Equal(t, id, saved.ID)
	assert.Equal(t, 4, saved.UsageCount)

	mock.ExpectQuery(`SELECT .* FROM knowledge_entries\s+WHERE condition_key LIKE \$1 OR id IN \(\s+SELECT entry_id FROM knowledge_fingerprints\s+WHERE fingerprint LIKE \$2 OR \$3 LIKE`).
		WithArgs("%tos%", "%tos%", "tos").
		WillReturnError(errors.New("connection reset"))

	_, err = store.Find(ctx, "tos")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "find knowledge entry")

	assert.NoError(t, mock.ExpectationsWereMet())
}
