package middleware

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"

	checkTimeout = 2 * time.Second
)

type HealthChecker interface {
	Check(ctx context.Context) error
}

// CheckFunc adapts a function to HealthChecker
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

type DatabaseHealthChecker struct {
	DB *sql.DB
}

func (d *DatabaseHealthChecker) Check(ctx context.Context) error {
	return d.DB.PingContext(ctx)
}

// RedisHealthChecker pings the lock / event redis
type RedisHealthChecker struct {
	Client redis.UniversalClient
}

func (c *RedisHealthChecker) Check(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckStatus `json:"checks"`
}

type CheckStatus struct {
	Status    string `json:"status"`
	Required  bool   `json:"required"`
	LatencyMS int64  `json:"latency_ms"`
	Message   string `json:"message,omitempty"`
}

// RunChecks runs every checker concurrently, each with its own timeout. A failing required check
// makes the result unhealthy, a failing optional one only degraded.
func RunChecks(ctx context.Context, checkers map[string]HealthChecker, required ...string) HealthStatus {
	must := make(map[string]bool, len(required))
	for _, name := range required {
		must[name] = true
	}

	var mu sync.Mutex
	result := HealthStatus{Status: StatusHealthy, Timestamp: time.Now().UTC(), Checks: make(map[string]CheckStatus, len(checkers))}
	var g errgroup.Group
	for name, checker := range checkers {
		name, checker := name, checker
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			start := time.Now()
			err := checker.Check(cctx)

			cs := CheckStatus{Status: StatusHealthy, Required: must[name], LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				cs.Status = StatusUnhealthy
				cs.Message = err.Error()
			}
			mu.Lock()
			defer mu.Unlock()
			result.Checks[name] = cs
			switch {
			case err == nil:
			case cs.Required:
				result.Status = StatusUnhealthy
			case result.Status == StatusHealthy:
				result.Status = StatusDegraded
			}
			return nil
		})
	}
	_ = g.Wait()
	return result
}

// HealthHandler reports every dependency. Only required failures turn the response into 503.
func HealthHandler(checkers map[string]HealthChecker, required ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := RunChecks(r.Context(), checkers, required...)
		writeHealth(w, health)
	}
}

// ReadinessHandler only runs the required checks: the orchestrator cannot serve without them.
func ReadinessHandler(checkers map[string]HealthChecker, required ...string) http.HandlerFunc {
	subset := make(map[string]HealthChecker, len(required))
	for _, name := range required {
		if c, ok := checkers[name]; ok {
			subset[name] = c
		}
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ready := RunChecks(r.Context(), subset, required...)
		if ready.Status == StatusHealthy {
			ready.Status = "ready"
		}
		writeHealth(w, ready)
	}
}

func writeHealth(w http.ResponseWriter, s HealthStatus) {
	code := http.StatusOK
	if s.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(s)
}

func LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
