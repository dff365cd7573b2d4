package httpmiddleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func limitedRequest(t *testing.T, h http.Handler, addr string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = addr
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_AllowsBurstUpToMax(t *testing.T) {
	h := RateLimit(RateLimitConfig{Max: 5, Window: time.Minute})(okHandler())

	for i := 0; i < 5; i++ {
		w := limitedRequest(t, h, "192.168.1.1:12345")
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
	}

	w := limitedRequest(t, h, "192.168.1.1:12345")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "rate limit exceeded", body["message"])
}

func TestRateLimit_KeysAreIndependent(t *testing.T) {
	h := RateLimit(RateLimitConfig{Max: 1, Window: time.Minute})(okHandler())

	require.Equal(t, http.StatusOK, limitedRequest(t, h, "10.0.0.1:1000").Code)
	assert.Equal(t, http.StatusTooManyRequests, limitedRequest(t, h, "10.0.0.1:1000").Code)

	// A different client still has its full bucket.
	assert.Equal(t, http.StatusOK, limitedRequest(t, h, "10.0.0.2:1000").Code)
}

func TestRateLimit_RemainingHeaderCountsDown(t *testing.T) {
	h := RateLimit(RateLimitConfig{Max: 3, Window: time.Minute})(okHandler())

	w := limitedRequest(t, h, "10.0.0.9:1000")
	assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Remaining"))

	w = limitedRequest(t, h, "10.0.0.9:1000")
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))
}

func TestLimiter_TokensRefillOverTime(t *testing.T) {
	l := newLimiter(RateLimitConfig{Max: 2, Window: time.Second})
	now := time.Now()

	_, _, ok := l.take("k", now)
	require.True(t, ok)
	_, _, ok = l.take("k", now)
	require.True(t, ok)

	_, wait, ok := l.take("k", now)
	require.False(t, ok)
	assert.Greater(t, wait, time.Duration(0))

	// Half a window refills one token at Max=2.
	_, _, ok = l.take("k", now.Add(600*time.Millisecond))
	assert.True(t, ok)
}

func TestLimiter_RefillNeverExceedsCapacity(t *testing.T) {
	l := newLimiter(RateLimitConfig{Max: 2, Window: time.Second})
	now := time.Now()

	// Long idle: the bucket refills to capacity, not beyond.
	_, _, ok := l.take("k", now)
	require.True(t, ok)

	later := now.Add(time.Minute)
	for i := 0; i < 2; i++ {
		_, _, ok = l.take("k", later)
		require.True(t, ok, "token %d", i+1)
	}
	_, _, ok = l.take("k", later)
	assert.False(t, ok)
}

func TestLimiter_SweepDropsIdleBuckets(t *testing.T) {
	l := newLimiter(RateLimitConfig{Max: 1, Window: time.Second})
	now := time.Now()

	l.take("idle", now)
	l.take("fresh", now)
	l.sweep(now.Add(time.Second))

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(t, l.buckets)
}

func TestClientIP_PrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "127.0.0.1:9999"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", clientIP(req))

	req.Header.Del("X-Forwarded-For")
	req.Header.Set("X-Real-IP", "203.0.113.8")
	assert.Equal(t, "203.0.113.8", clientIP(req))

	req.Header.Del("X-Real-IP")
	assert.Equal(t, "127.0.0.1", clientIP(req))
}
