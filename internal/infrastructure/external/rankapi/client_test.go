package rankapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamilit/ranks-engine/internal/domain/shared"
	"github.com/gamilit/ranks-engine/pkg/circuitbreaker"
	"github.com/gamilit/ranks-engine/pkg/retry"
)

func noSleep(context.Context, time.Duration) error { return nil }

func newTestClient(t *testing.T, h http.HandlerFunc, mutate ...func(*ClientConfig)) (*Client, *int32) {
	t.Helper()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)

	cfg := DefaultClientConfig(srv.URL + "/")
	cfg.APIKey = "secret"
	cfg.RetryOptions = []retry.Option{retry.WithSleep(noSleep)}
	for _, m := range mutate {
		m(&cfg)
	}

	c, err := NewClient(cfg)
	require.NoError(t, err)
	return c, &calls
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient(ClientConfig{BaseURL: "  "})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestCurrentRank_Success(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/ranks/users/user%201/current", r.URL.EscapedPath())
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))

		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data": map[string]any{
				"currentRank":      "Ajaw",
				"currentLevel":     7,
				"currentXP":        120,
				"xpToNextLevel":    700,
				"totalXP":          2220,
				"mlCoinsEarned":    350,
				"prestigeLevel":    1,
				"multiplier":       1.35,
				"lastRankUp":       "2024-05-01T08:00:00Z",
				"activityStreak":   4,
				"lastActivityDate": "2024-05-31T10:00:00Z",
				"nextRank":         "",
			},
		})
	})

	p, err := c.CurrentRank(context.Background(), "user 1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), *calls)
	assert.Equal(t, "Ajaw", p.CurrentRank)
	assert.Equal(t, 7, p.CurrentLevel)
	assert.Equal(t, 2220, p.TotalXP)
	assert.InDelta(t, 1.35, p.Multiplier, 1e-9)
	require.NotNil(t, p.LastRankUp)
	assert.Equal(t, "2024-05-01T08:00:00Z", *p.LastRankUp)
	assert.Nil(t, p.NextRank)
}

func TestCurrentRank_ErrorMessageIsVerbatim(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "Network error"})
	})

	_, err := c.CurrentRank(context.Background(), "alice")
	require.Error(t, err)
	assert.Equal(t, "Network error", err.Error())
	assert.ErrorIs(t, err, shared.ErrRankAPIUnavailable)
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
	assert.Equal(t, int32(1), *calls, "no retry by default")
}

func TestCurrentRank_UnsuccessfulEnvelope(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "User has no rank"})
	})

	_, err := c.CurrentRank(context.Background(), "alice")
	require.Error(t, err)
	assert.Equal(t, "User has no rank", err.Error())
}

func TestCurrentRank_MissingData(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	})

	_, err := c.CurrentRank(context.Background(), "alice")
	assert.ErrorIs(t, err, shared.ErrRankAPIInvalidResponse)
}

func TestCurrentRank_RetriesTemporaryFailures(t *testing.T) {
	var n int32
	c, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&n, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data":    map[string]any{"currentRank": "Nacom", "currentLevel": 1},
		})
	}, func(cfg *ClientConfig) { cfg.MaxRetries = 2 })

	p, err := c.CurrentRank(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "Nacom", p.CurrentRank)
	assert.Equal(t, int32(3), *calls)
}

func TestCurrentRank_NotFoundIsNotRetried(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "User not found"})
	}, func(cfg *ClientConfig) { cfg.MaxRetries = 2 })

	_, err := c.CurrentRank(context.Background(), "ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrNotFound)
	assert.Equal(t, int32(1), *calls)
	assert.Equal(t, circuitbreaker.StateClosed, c.BreakerState())
}

func TestCurrentRank_StatusWithoutBody(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.CurrentRank(context.Background(), "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrRateLimited)
	assert.Contains(t, err.Error(), "429")
}

func TestCurrentRank_BreakerOpens(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}, func(cfg *ClientConfig) { cfg.BreakerThreshold = 2 })

	ctx := context.Background()
	for range 2 {
		_, err := c.CurrentRank(ctx, "alice")
		require.Error(t, err)
	}
	assert.Equal(t, circuitbreaker.StateOpen, c.BreakerState())

	_, err := c.CurrentRank(ctx, "alice")
	assert.True(t, circuitbreaker.IsRejection(err))
	assert.Equal(t, int32(2), *calls)
}

func TestConfirmPrestige(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/ranks/users/alice/prestige", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req PrestigeRequestDTO
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data":    map[string]any{"accepted": req.NextLevel == 1, "prestigeLevel": req.NextLevel, "reason": "tier locked"},
		})
	})

	ctx := context.Background()
	require.NoError(t, c.ConfirmPrestige(ctx, "alice", 1))

	err := c.ConfirmPrestige(ctx, "alice", 2)
	require.Error(t, err)
	assert.Equal(t, "tier locked", err.Error())
	assert.ErrorIs(t, err, shared.ErrStateTransition)
}

func TestCurrentRank_ContextCancelled(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.CurrentRank(ctx, "alice")
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, circuitbreaker.StateClosed, c.BreakerState())
}

func TestToRemoteProgress_RejectsEmptyRank(t *testing.T) {
	_, err := ToRemoteProgress(&UserRankProgressDTO{CurrentLevel: 3})
	assert.ErrorIs(t, err, shared.ErrRankAPIInvalidResponse)

	_, err = ToRemoteProgress(nil)
	assert.ErrorIs(t, err, shared.ErrRankAPIInvalidResponse)
}

func TestRateLimiter_Burst(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerSecond: 0, BurstSize: 2, WaitTimeout: 10 * time.Millisecond})

	assert.True(t, rl.TryAllow())
	assert.True(t, rl.TryAllow())
	assert.False(t, rl.TryAllow())
	assert.ErrorIs(t, rl.Wait(context.Background()), ErrLocalRateLimit)
}

func TestRateLimiter_ThrottleDrainsBucket(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerSecond: 1, BurstSize: 3, WaitTimeout: 10 * time.Millisecond})

	require.True(t, rl.TryAllow())
	rl.RecordRateLimitHit()
	assert.False(t, rl.TryAllow())
	assert.ErrorIs(t, rl.Wait(context.Background()), ErrLocalRateLimit)
}
