package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamilit/ranks-engine/config"
	"github.com/gamilit/ranks-engine/internal/application/ranks"
	"github.com/gamilit/ranks-engine/internal/domain/progression"
	"github.com/gamilit/ranks-engine/internal/domain/shared"
	"github.com/gamilit/ranks-engine/pkg/logger"
	"github.com/gamilit/ranks-engine/pkg/timeutil"
)

type failingSource struct{ msg string }

func (f failingSource) CurrentRank(context.Context, string) (ranks.RemoteProgress, error) {
	return ranks.RemoteProgress{}, errors.New(f.msg)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
	Meta    *ResponseMeta   `json:"meta"`
}

func newTestServer(t *testing.T, mutate func(*Config, *Dependencies), sessOpts ...ranks.SessionsOption) http.Handler {
	t.Helper()

	var seq int
	engine, err := progression.NewEngine(
		progression.WithClock(timeutil.NewFixedClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))),
		progression.WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("id-%04d", seq)
		}),
	)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.RateLimitPerMinute = 0
	deps := Dependencies{
		Sessions: ranks.NewSessions(engine, sessOpts...),
		Logger:   logger.Nop(),
		Version:  "test",
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}

	srv := NewServer(cfg, deps)
	t.Cleanup(func() {
		if srv.rateLimiter != nil {
			srv.rateLimiter.Stop()
		}
	})
	return srv.Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func decodeView(t *testing.T, raw json.RawMessage) ProgressView {
	t.Helper()
	var v ProgressView
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

// ══════════════════════════════════════════════════════════════════════════════
// TESTS
// ══════════════════════════════════════════════════════════════════════════════

func TestListRanks(t *testing.T) {
	h := newTestServer(t, nil)

	rec, env := do(t, h, http.MethodGet, "/api/v1/ranks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	assert.Equal(t, 5, env.Meta.TotalCount)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestGetProgress_NewUser(t *testing.T) {
	h := newTestServer(t, nil)

	rec, env := do(t, h, http.MethodGet, "/api/v1/users/alice/progress", "")
	require.Equal(t, http.StatusOK, rec.Code)

	v := decodeView(t, env.Data)
	assert.Equal(t, "alice", v.UserID)
	assert.Equal(t, "Nacom", v.Progress.CurrentRank.String())
	assert.Equal(t, 1, v.Progress.CurrentLevel)
	assert.False(t, v.CanPrestige)
	assert.False(t, v.IsLoading)
}

func TestAddXP(t *testing.T) {
	h := newTestServer(t, nil)

	rec, env := do(t, h, http.MethodPost, "/api/v1/users/alice/xp",
		`{"amount":150,"source":"exercise_completion","description":"quiz"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	v := decodeView(t, env.Data)
	assert.Positive(t, v.Progress.TotalXP)
	require.Len(t, v.XPEvents, 1)
	assert.Equal(t, progression.SourceExerciseCompletion, v.XPEvents[0].Source)

	rec, env = do(t, h, http.MethodPost, "/api/v1/users/alice/xp", `{"amount":10,"source":"cheating"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_source", env.Error.Code)

	rec, _ = do(t, h, http.MethodPost, "/api/v1/users/alice/xp", `{"amount":10,"source":"perfect_score","bogus":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAddCoins_AutoRankUpAndValidation(t *testing.T) {
	h := newTestServer(t, nil)

	rec, env := do(t, h, http.MethodPost, "/api/v1/users/bob/coins", `{"amount":250,"reason":"quiz"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	v := decodeView(t, env.Data)
	assert.Equal(t, "Ajaw", v.Progress.CurrentRank.String())
	assert.True(t, v.UI.ShowRankUpModal)

	rec, env = do(t, h, http.MethodPost, "/api/v1/users/bob/coins", `{"amount":-5,"reason":"refund"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, env.Success)

	rec, env = do(t, h, http.MethodPost, "/api/v1/users/bob/ui/close-rank-up", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var ui progression.UISignals
	require.NoError(t, json.Unmarshal(env.Data, &ui))
	assert.False(t, ui.ShowRankUpModal)
}

func TestRankUp_NothingToDo(t *testing.T) {
	h := newTestServer(t, nil)

	rec, env := do(t, h, http.MethodPost, "/api/v1/users/carol/rank-up", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Promoted bool `json:"promoted"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.False(t, body.Promoted)
}

func TestPrestige_FeatureDisabled(t *testing.T) {
	h := newTestServer(t, func(_ *Config, d *Dependencies) {
		d.Flags = config.NewFeatureFlags(config.FeatureConfig{Prestige: false, RemoteSync: true})
	})

	rec, env := do(t, h, http.MethodPost, "/api/v1/users/dave/prestige", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "feature_disabled", env.Error.Code)
}

func TestPrestige_NotEligible(t *testing.T) {
	h := newTestServer(t, nil)

	rec, env := do(t, h, http.MethodPost, "/api/v1/users/dave/prestige", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Prestiged bool `json:"prestiged"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.False(t, body.Prestiged)
}

func TestMultipliers(t *testing.T) {
	h := newTestServer(t, nil)

	rec, _ := do(t, h, http.MethodPost, "/api/v1/users/erin/multipliers",
		`{"type":"event","name":"Weekend","value":1.5,"isPermanent":true}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, env := do(t, h, http.MethodGet, "/api/v1/users/erin/multipliers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Breakdown progression.MultiplierBreakdown `json:"breakdown"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.InDelta(t, 1.5, body.Breakdown.Total, 1e-9)

	rec, _ = do(t, h, http.MethodPost, "/api/v1/users/erin/multipliers", `{"type":"rank","name":"x","value":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = do(t, h, http.MethodDelete, "/api/v1/users/erin/multipliers/event", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var after progression.MultiplierBreakdown
	require.NoError(t, json.Unmarshal(env.Data, &after))
	assert.InDelta(t, 1.0, after.Total, 1e-9)

	rec, _ = do(t, h, http.MethodDelete, "/api/v1/users/erin/multipliers/bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistory_Limit(t *testing.T) {
	h := newTestServer(t, func(c *Config, _ *Dependencies) { c.HistoryLimit = 2 })

	rec, _ := do(t, h, http.MethodPost, "/api/v1/users/fay/coins", `{"amount":2000,"reason":"grant"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env := do(t, h, http.MethodGet, "/api/v1/users/fay/history?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []progression.HistoryEntry
	require.NoError(t, json.Unmarshal(env.Data, &entries))
	assert.Len(t, entries, 2)
	assert.Equal(t, 2, env.Meta.Limit)
	assert.True(t, env.Meta.HasMore)
}

type fakeEventLog struct {
	events   []shared.EventEnvelope
	gotUser  string
	gotLimit int
}

func (f *fakeEventLog) ListEvents(_ context.Context, userID string, limit int) ([]shared.EventEnvelope, error) {
	f.gotUser, f.gotLimit = userID, limit
	return f.events[:min(limit, len(f.events))], nil
}

func TestListEvents(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		h := newTestServer(t, nil)
		rec, env := do(t, h, http.MethodGet, "/api/v1/users/ida/events", "")
		assert.Equal(t, http.StatusNotImplemented, rec.Code)
		assert.Equal(t, "not_configured", env.Error.Code)
	})

	t.Run("clamps limit", func(t *testing.T) {
		log := &fakeEventLog{events: []shared.EventEnvelope{
			{ID: "e2", Type: shared.EventLevelUp, AggregateID: "ida"},
			{ID: "e1", Type: shared.EventXPGained, AggregateID: "ida"},
		}}
		h := newTestServer(t, func(c *Config, d *Dependencies) {
			c.HistoryLimit = 1
			d.Events = log
		})
		rec, env := do(t, h, http.MethodGet, "/api/v1/users/ida/events?limit=50", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var got []shared.EventEnvelope
		require.NoError(t, json.Unmarshal(env.Data, &got))
		require.Len(t, got, 1)
		assert.Equal(t, "e2", got[0].ID)
		assert.Equal(t, "ida", log.gotUser)
		assert.Equal(t, 1, log.gotLimit)
		assert.True(t, env.Meta.HasMore)
	})
}

func TestRefresh(t *testing.T) {
	t.Run("no source", func(t *testing.T) {
		h := newTestServer(t, nil)
		rec, _ := do(t, h, http.MethodPost, "/api/v1/users/gus/refresh", "")
		assert.Equal(t, http.StatusNotImplemented, rec.Code)
	})

	t.Run("upstream error is verbatim", func(t *testing.T) {
		h := newTestServer(t, nil, ranks.WithRemoteHydration(failingSource{msg: "Network error"}))
		rec, env := do(t, h, http.MethodPost, "/api/v1/users/gus/refresh", "")
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "Network error", env.Error.Message)

		rec, env = do(t, h, http.MethodGet, "/api/v1/users/gus/progress", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Network error", decodeView(t, env.Data).Error)
	})

	t.Run("feature disabled", func(t *testing.T) {
		h := newTestServer(t, func(_ *Config, d *Dependencies) {
			d.Flags = config.NewFeatureFlags(config.FeatureConfig{Prestige: true, PrestigeRollout: 100})
		})
		rec, _ := do(t, h, http.MethodPost, "/api/v1/users/gus/refresh", "")
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestAPIKeyGuardsWrites(t *testing.T) {
	h := newTestServer(t, func(c *Config, _ *Dependencies) { c.APIKeys = []string{"k1"} })

	rec, _ := do(t, h, http.MethodGet, "/api/v1/users/hal/progress", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env := do(t, h, http.MethodPost, "/api/v1/users/hal/coins", `{"amount":5}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing_api_key", env.Error.Code)

	rec, _ = do(t, h, http.MethodPost, "/api/v1/users/hal/coins", `{"amount":5}`, "X-API-Key", "k1")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	h := newTestServer(t, func(c *Config, _ *Dependencies) { c.RateLimitPerMinute = 2 })

	for range 2 {
		rec, _ := do(t, h, http.MethodGet, "/live", "", "X-Forwarded-For", "10.0.0.1")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec, env := do(t, h, http.MethodGet, "/live", "", "X-Forwarded-For", "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limit_exceeded", env.Error.Code)

	rec, _ = do(t, h, http.MethodGet, "/live", "", "X-Forwarded-For", "10.0.0.2")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClassifyError(t *testing.T) {
	status, _ := classifyError(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, status)
}
