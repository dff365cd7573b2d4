package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeProbe(t *testing.T, w *httptest.ResponseRecorder) probeResponse {
	t.Helper()
	var resp probeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestReadyEndpoint_GateClosedByDefault(t *testing.T) {
	s := New()

	w := httptest.NewRecorder()
	s.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp := decodeProbe(t, w)
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Contains(t, resp.Checks, "service")
}

func TestReadyEndpoint_OpenGateWithPassingProbe(t *testing.T) {
	s := New()
	s.AddReadinessCheck("postgres", time.Second, func(context.Context) error {
		return nil
	})
	s.SetReady(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx, time.Hour)
	defer s.Stop()

	require.Eventually(t, s.IsReady, time.Second, 10*time.Millisecond)

	w := httptest.NewRecorder()
	s.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeProbe(t, w).Status)
}

func TestProbe_FlipsAfterConsecutiveFailures(t *testing.T) {
	p := newProbe("flaky", time.Second, func(context.Context) error {
		return errors.New("connection refused")
	})

	ctx := context.Background()
	for i := 0; i < failAfter-1; i++ {
		p.tick(ctx)
		ok, _ := p.state()
		assert.True(t, ok, "still healthy after %d failures", i+1)
	}

	p.tick(ctx)
	ok, msg := p.state()
	assert.False(t, ok)
	assert.Equal(t, "connection refused", msg)
}

func TestProbe_SingleSuccessRecovers(t *testing.T) {
	healthy := false
	p := newProbe("db", time.Second, func(context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("down")
	})

	ctx := context.Background()
	for i := 0; i < failAfter; i++ {
		p.tick(ctx)
	}
	ok, _ := p.state()
	require.False(t, ok)

	healthy = true
	p.tick(ctx)
	ok, _ = p.state()
	assert.True(t, ok)
}

func TestProbe_HonorsTimeout(t *testing.T) {
	p := newProbe("slow", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	done := make(chan struct{})
	go func() {
		for i := 0; i < failAfter; i++ {
			p.tick(context.Background())
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("probe did not respect its timeout")
	}
	ok, _ := p.state()
	assert.False(t, ok)
}

func TestLiveEndpoint_ReportsFailingProbe(t *testing.T) {
	s := New()
	s.AddLivenessCheck("goroutines", time.Second, func(context.Context) error {
		return errors.New("too many goroutines")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// A short interval lets the scheduler accumulate failures quickly.
	s.Start(ctx, time.Millisecond)
	defer s.Stop()

	require.Eventually(t, func() bool {
		w := httptest.NewRecorder()
		s.LiveEndpoint(w, httptest.NewRequest(http.MethodGet, "/livez", nil))
		return w.Code == http.StatusServiceUnavailable
	}, time.Second, 5*time.Millisecond)

	w := httptest.NewRecorder()
	s.LiveEndpoint(w, httptest.NewRequest(http.MethodGet, "/livez", nil))
	resp := decodeProbe(t, w)
	assert.Equal(t, "too many goroutines", resp.Checks["goroutines"])
}

func TestGoroutineCountCheck(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(1_000_000)(context.Background()))
	assert.Error(t, GoroutineCountCheck(0)(context.Background()))
}
