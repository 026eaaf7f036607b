package resolver

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kairos-intake/internal/catalog"
	"kairos-intake/internal/intake"
	"kairos-intake/internal/knowledge"
	"kairos-intake/internal/oracle"
	"kairos-intake/internal/platform/database/dbtest"
	"kairos-intake/internal/platform/metrics"
)

type fakeOracle struct {
	enabled    bool
	confidence float64
	err        error
	gate       chan struct{}
	calls      atomic.Int32
}

func (f *fakeOracle) Enabled(context.Context) bool { return f.enabled }

func (f *fakeOracle) Resolve(ctx context.Context, p oracle.Prompt) (*oracle.Draft, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	return &oracle.Draft{
		Condition:        "Cefalea tensional",
		Confidence:       f.confidence,
		Causes:           []string{"estrés"},
		Treatment:        []string{"descanso"},
		FoodsToIncrease:  []string{"agua"},
		FoodsToAvoid:     []string{"cafeína"},
		Habits:           []string{"pausas activas"},
		Warnings:         []string{},
		RecommendedItems: []string{"reishi"},
		WhenToSeeDoctor:  "si el dolor dura más de una semana",
	}, nil
}

type fakeStore struct {
	mu        sync.Mutex
	entries   map[string]*knowledge.Entry
	findErr   error
	upsertErr error
	upserts   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]*knowledge.Entry)}
}

func (s *fakeStore) Find(_ context.Context, fp string) (*knowledge.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	e, ok := s.entries[fp]
	if !ok {
		return nil, nil
	}
	e.UsageCount++
	cp := *e
	return &cp, nil
}

func (s *fakeStore) Upsert(_ context.Context, e *knowledge.Entry) (*knowledge.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return nil, s.upsertErr
	}
	s.upserts++
	cp := *e
	cp.UsageCount = 1
	s.entries[e.Keywords] = &cp
	return &cp, nil
}

func (s *fakeStore) Stats(context.Context, time.Time) (*knowledge.Stats, error) {
	return &knowledge.Stats{}, nil
}

func complaint(text string) *intake.MedicalContext {
	mc := intake.New(intake.DefaultPolicy())
	mc.Apply(intake.Extract(text, intake.FieldComplaint))
	return mc
}

func headache() *intake.MedicalContext { return complaint("me duele la cabeza") }

func newResolver(store knowledge.Store, oc oracle.Client) *Resolver {
	return New(store, oc, catalog.Default(), Options{}, nil, zerolog.Nop())
}

func TestCacheHitNeverCallsOracle(t *testing.T) {
	store := newFakeStore()
	store.entries["dolor de cabeza"] = &knowledge.Entry{
		Condition: "Cefalea tensional", Confidence: 0.9, Items: []int{1},
		Causes: []string{"estrés"}, Warnings: []string{"evita automedicarte"},
	}
	oc := &fakeOracle{enabled: true, confidence: 0.9}

	b, err := newResolver(store, oc).Resolve(context.Background(), Request{Context: headache()})
	require.NoError(t, err)
	assert.Equal(t, TierCache, b.Tier)
	assert.Equal(t, "Cefalea tensional", b.Condition)
	require.Len(t, b.Items, 1)
	assert.Equal(t, "Moringa", b.Items[0].Name)
	assert.Equal(t, "3-4 semanas", b.ImprovementWindow)
	assert.Contains(t, b.Warnings, "evita automedicarte")
	assert.Equal(t, int32(0), oc.calls.Load())
}

func TestHighConfidenceAnswerIsCachedInStore(t *testing.T) {
	store := knowledge.NewRepository(dbtest.SQLite(t))
	oc := &fakeOracle{enabled: true, confidence: 0.85}
	r := newResolver(store, oc)
	ctx := context.Background()

	first, err := r.Resolve(ctx, Request{SessionID: "s1", Context: headache()})
	require.NoError(t, err)
	assert.Equal(t, TierOracle, first.Tier)
	assert.Equal(t, 0.85, first.Confidence)
	require.Len(t, first.Items, 1)
	assert.Equal(t, "Ganoderma Reishi", first.Items[0].Name)
	assert.Equal(t, "4 semanas", first.ImprovementWindow)
	assert.Contains(t, first.Warnings, "Cuándo ver a un médico: si el dolor dura más de una semana")
	assert.Contains(t, first.Warnings, dosageNote)
	assert.NotContains(t, first.Warnings, lowConfidenceNote)

	second, err := r.Resolve(ctx, Request{SessionID: "s2", Context: headache()})
	require.NoError(t, err)
	assert.Equal(t, TierCache, second.Tier)
	assert.Equal(t, first.Condition, second.Condition)
	assert.Equal(t, first.Items, second.Items)
	assert.Equal(t, first.Warnings, second.Warnings)
	assert.Equal(t, int32(1), oc.calls.Load())
}

func TestSecondComplaintForCachedConditionIsCachedToo(t *testing.T) {
	store := knowledge.NewRepository(dbtest.SQLite(t))
	oc := &fakeOracle{enabled: true, confidence: 0.85}
	r := newResolver(store, oc)
	ctx := context.Background()

	_, err := r.Resolve(ctx, Request{Context: headache()})
	require.NoError(t, err)

	// the oracle maps a different complaint onto the condition already stored
	knee, err := r.Resolve(ctx, Request{Context: complaint("me duele la rodilla")})
	require.NoError(t, err)
	assert.Equal(t, TierOracle, knee.Tier)
	assert.Equal(t, int32(2), oc.calls.Load())

	again, err := r.Resolve(ctx, Request{Context: complaint("me duele la rodilla")})
	require.NoError(t, err)
	assert.Equal(t, TierCache, again.Tier)
	assert.Equal(t, "Cefalea tensional", again.Condition)

	first, err := r.Resolve(ctx, Request{Context: headache()})
	require.NoError(t, err)
	assert.Equal(t, TierCache, first.Tier)
	assert.Equal(t, int32(2), oc.calls.Load())
}

func TestLowConfidenceAnswerIsNotCached(t *testing.T) {
	store := newFakeStore()
	oc := &fakeOracle{enabled: true, confidence: 0.50}
	r := newResolver(store, oc)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		b, err := r.Resolve(ctx, Request{Context: headache()})
		require.NoError(t, err)
		assert.Equal(t, TierOracle, b.Tier)
		assert.Equal(t, 0.50, b.Confidence)
		assert.Contains(t, b.Warnings, lowConfidenceNote)
	}
	assert.Equal(t, int32(2), oc.calls.Load())
	assert.Zero(t, store.upserts)
}

func TestDisabledOracleFallsBack(t *testing.T) {
	for name, oc := range map[string]oracle.Client{
		"disabled client": oracle.Disabled{},
		"not enabled":     &fakeOracle{enabled: false, confidence: 0.9},
	} {
		t.Run(name, func(t *testing.T) {
			b, err := newResolver(newFakeStore(), oc).Resolve(context.Background(), Request{Context: headache()})
			require.NoError(t, err)
			assert.Equal(t, TierFallback, b.Tier)
			assert.Equal(t, 0.5, b.Confidence)
			assert.Equal(t, "Molestia: dolor de cabeza", b.Condition)
			assert.Equal(t, []string{professionalWarning}, b.Warnings)
			assert.NotEmpty(t, b.Treatment)
		})
	}
}

func TestFallbackWithoutComplaint(t *testing.T) {
	b, err := newResolver(newFakeStore(), oracle.Disabled{}).Resolve(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "Molestia: no especificada", b.Condition)
	assert.Equal(t, DefaultWindow, b.ImprovementWindow)
	assert.Len(t, b.Warnings, 1)
}

func TestOracleErrorsFallThrough(t *testing.T) {
	for _, cause := range []error{oracle.ErrTimeout, oracle.ErrUnavailable, oracle.ErrMalformedResponse} {
		t.Run(cause.Error(), func(t *testing.T) {
			oc := &fakeOracle{enabled: true, err: cause}
			b, err := newResolver(newFakeStore(), oc).Resolve(context.Background(), Request{Context: headache()})
			require.NoError(t, err)
			assert.Equal(t, TierFallback, b.Tier)
			assert.Equal(t, int32(1), oc.calls.Load())
		})
	}
}

func TestStoreReadFailureIsAMiss(t *testing.T) {
	store := newFakeStore()
	store.findErr = errors.New("connection reset")
	oc := &fakeOracle{enabled: true, confidence: 0.9}

	b, err := newResolver(store, oc).Resolve(context.Background(), Request{Context: headache()})
	require.NoError(t, err)
	assert.Equal(t, TierOracle, b.Tier)
	assert.Equal(t, int32(1), oc.calls.Load())
}

func TestStoreWriteFailureReturnsBundleAndError(t *testing.T) {
	store := newFakeStore()
	store.upsertErr = errors.New("disk full")
	oc := &fakeOracle{enabled: true, confidence: 0.9}

	b, err := newResolver(store, oc).Resolve(context.Background(), Request{Context: headache()})
	require.ErrorIs(t, err, ErrCacheWrite)
	require.NotNil(t, b)
	assert.Equal(t, TierOracle, b.Tier)
}

func TestConcurrentMissesShareOneOracleCall(t *testing.T) {
	oc := &fakeOracle{enabled: true, confidence: 0.9, gate: make(chan struct{})}
	r := newResolver(newFakeStore(), oc)

	const callers = 8
	var wg sync.WaitGroup
	bundles := make([]*Bundle, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := r.Resolve(context.Background(), Request{Context: headache()})
			assert.NoError(t, err)
			bundles[i] = b
		}(i)
	}
	time.Sleep(100 * time.Millisecond)
	close(oc.gate)
	wg.Wait()

	assert.Equal(t, int32(1), oc.calls.Load())
	for _, b := range bundles {
		require.NotNil(t, b)
		assert.Equal(t, "Cefalea tensional", b.Condition)
	}
}

func TestCancelledCallerDoesNotSpoilSharedAnswer(t *testing.T) {
	oc := &fakeOracle{enabled: true, confidence: 0.9, gate: make(chan struct{})}
	r := newResolver(newFakeStore(), oc)

	ctxA, cancelA := context.WithCancel(context.Background())
	doneA := make(chan *Bundle, 1)
	go func() {
		b, _ := r.Resolve(ctxA, Request{SessionID: "a", Context: headache()})
		doneA <- b
	}()
	require.Eventually(t, func() bool { return oc.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	cancelA()
	select {
	case b := <-doneA:
		assert.Equal(t, TierFallback, b.Tier)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting on the oracle")
	}

	doneB := make(chan *Bundle, 1)
	go func() {
		b, err := r.Resolve(context.Background(), Request{SessionID: "b", Context: headache()})
		assert.NoError(t, err)
		doneB <- b
	}()
	time.Sleep(100 * time.Millisecond)
	close(oc.gate)

	b := <-doneB
	require.NotNil(t, b)
	assert.Equal(t, TierOracle, b.Tier)
	assert.Equal(t, "Cefalea tensional", b.Condition)
	assert.Equal(t, int32(1), oc.calls.Load())
}

func TestTierMetrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	r := New(newFakeStore(), oracle.Disabled{}, catalog.Default(), Options{}, m, zerolog.Nop())

	_, err := r.Resolve(context.Background(), Request{Context: headache()})
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResolverTier.WithLabelValues("fallback")))
}

func TestImprovementWindow(t *testing.T) {
	item := func(w string) catalog.Item { return catalog.Item{EffectWeeks: w} }
	assert.Equal(t, DefaultWindow, ImprovementWindow(nil))
	assert.Equal(t, "1-2 semanas", ImprovementWindow([]catalog.Item{item("1 semana")}))
	assert.Equal(t, "2-3 semanas", ImprovementWindow([]catalog.Item{item("1-2 semanas")}))
	assert.Equal(t, "3-4 semanas", ImprovementWindow([]catalog.Item{item("1-2 semanas"), item("2-3 semanas")}))
	assert.Equal(t, "6 semanas", ImprovementWindow([]catalog.Item{item("4-6 semanas")}))
}
