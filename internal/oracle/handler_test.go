package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kairos-intake/internal/platform/database/dbtest"
	"kairos-intake/internal/quota"
)

func serve(t *testing.T, h *Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	RegisterRoutes(r, h)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHandlerQuota(t *testing.T) {
	g := quota.NewGuard(10, 5, quota.NewMemoryCounter())
	_, err := g.Reserve(context.Background())
	require.NoError(t, err)
	require.NoError(t, g.AddSpend(context.Background(), 1.25))

	rec := serve(t, NewHandler(g, nil, zerolog.Nop()), "/oracle/quota")
	require.Equal(t, http.StatusOK, rec.Code)
	var st quota.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.EqualValues(t, 1, st.CallsToday)
	assert.EqualValues(t, 9, st.RemainingCalls)
	assert.InDelta(t, 3.75, st.RemainingBudget, 1e-9)
}

func TestHandlerQuotaCounterDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	rec := serve(t, NewHandler(quota.NewGuard(10, 5, quota.NewRedisCounter(rdb)), nil, zerolog.Nop()), "/oracle/quota")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "oracle_stats_unavailable")
}

func TestHandlerUsage(t *testing.T) {
	calls := NewCallLog(dbtest.SQLite(t))
	now := time.Now().UTC()
	require.NoError(t, calls.RecordCall(context.Background(), Call{SessionID: "s1", Model: "gpt-4o-mini",
		Outcome: OutcomeOK, Latency: time.Second, PromptTokens: 10, At: now.Add(-2 * time.Hour)}))
	h := NewHandler(quota.NewGuard(0, 0, nil), calls, zerolog.Nop())

	rec := serve(t, h, "/oracle/usage")
	require.Equal(t, http.StatusOK, rec.Code)
	var st Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.EqualValues(t, 1, st.Calls)

	rec = serve(t, h, "/oracle/usage?window=1h")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Zero(t, st.Calls)

	assert.Equal(t, http.StatusBadRequest, serve(t, h, "/oracle/usage?window=ayer").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, NewHandler(h.guard, nil, zerolog.Nop()), "/oracle/usage").Code)
}
