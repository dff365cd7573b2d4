// Package health implements liveness and readiness probes for the promotion
// service.
//
// Probes are evaluated on a shared ticker rather than per request, so a slow
// dependency check can never stall the probe endpoints themselves. A probe
// must fail several consecutive rounds before it flips unhealthy, which keeps
// one transient Postgres or Redis hiccup from bouncing the pod.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc probes one dependency. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

// failAfter is how many consecutive failures flip a probe unhealthy. A single
// success flips it back.
const failAfter = 3

// probe couples a check function with its sliding pass/fail state. All state
// is guarded by mu; the scheduler writes it, the endpoints read it.
type probe struct {
	name    string
	timeout time.Duration
	check   CheckFunc

	mu      sync.Mutex
	healthy bool
	fails   int
	lastErr error
}

func newProbe(name string, timeout time.Duration, check CheckFunc) *probe {
	// Probes start healthy so registration order cannot make a service
	// report unready before the first round has run.
	return &probe{name: name, timeout: timeout, check: check, healthy: true}
}

// tick runs the check once and folds the result into the probe state.
func (p *probe) tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	err := p.check(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastErr = err
	if err == nil {
		p.fails = 0
		p.healthy = true
		return
	}
	p.fails++
	if p.fails >= failAfter {
		p.healthy = false
	}
}

// state reports the probe's health and, when unhealthy, its last error text.
func (p *probe) state() (bool, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.healthy {
		return true, ""
	}
	if p.lastErr != nil {
		return false, p.lastErr.Error()
	}
	return false, "check failing"
}

// Service aggregates liveness and readiness probes and serves them over HTTP.
type Service struct {
	ready atomic.Bool

	mu        sync.Mutex
	liveness  []*probe
	readiness []*probe
	cancel    context.CancelFunc
}

// New returns a Service with no probes registered. The service reports
// not-ready until SetReady(true) is called after startup completes.
func New() *Service {
	return &Service{}
}

// AddLivenessCheck registers a process-level probe (goroutine count, GC
// pauses). A failing liveness probe means the process should be restarted.
func (s *Service) AddLivenessCheck(name string, timeout time.Duration, check CheckFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liveness = append(s.liveness, newProbe(name, timeout, check))
}

// AddReadinessCheck registers a dependency probe (Postgres, Redis). A failing
// readiness probe takes the instance out of the load balancer without
// restarting it.
func (s *Service) AddReadinessCheck(name string, timeout time.Duration, check CheckFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readiness = append(s.readiness, newProbe(name, timeout, check))
}

// Start launches the probe scheduler. All probes run once immediately and
// then every interval, sequentially on one goroutine. Register every probe
// before calling Start.
func (s *Service) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.cancel = cancel
	probes := make([]*probe, 0, len(s.liveness)+len(s.readiness))
	probes = append(probes, s.liveness...)
	probes = append(probes, s.readiness...)
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			for _, p := range probes {
				p.tick(ctx)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop halts the probe scheduler. Safe to call more than once.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// SetReady flips the manual readiness gate. Graceful shutdown sets it false
// first so the load balancer drains the instance before the listener closes.
func (s *Service) SetReady(ready bool) {
	s.ready.Store(ready)
}

// IsReady reports whether the manual gate is open and every readiness probe
// is passing.
func (s *Service) IsReady() bool {
	if !s.ready.Load() {
		return false
	}
	return len(s.failures(s.snapshot(&s.readiness))) == 0
}

func (s *Service) snapshot(group *[]*probe) []*probe {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*probe, len(*group))
	copy(out, *group)
	return out
}

func (s *Service) failures(probes []*probe) map[string]string {
	var failed map[string]string
	for _, p := range probes {
		if ok, msg := p.state(); !ok {
			if failed == nil {
				failed = make(map[string]string)
			}
			failed[p.name] = msg
		}
	}
	return failed
}

// probeResponse is the JSON body served by both endpoints.
type probeResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LiveEndpoint serves /livez: 200 while every liveness probe passes, 503 with
// the failing probes otherwise.
func (s *Service) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeProbe(w, s.failures(s.snapshot(&s.liveness)))
}

// ReadyEndpoint serves /readyz: 200 only when the manual gate is open and
// every readiness probe passes.
func (s *Service) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failed := s.failures(s.snapshot(&s.readiness))
	if !s.ready.Load() {
		if failed == nil {
			failed = make(map[string]string)
		}
		failed["service"] = "not ready"
	}
	writeProbe(w, failed)
}

func writeProbe(w http.ResponseWriter, failed map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	resp := probeResponse{Status: "ok"}
	code := http.StatusOK
	if len(failed) > 0 {
		resp = probeResponse{Status: "unhealthy", Checks: failed}
		code = http.StatusServiceUnavailable
	}
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
