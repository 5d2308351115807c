// Package health serves liveness and readiness probes.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	StatusUp   Status = "up"
	StatusDown Status = "down"
)

// DefaultCheckTimeout bounds a single readiness check.
const DefaultCheckTimeout = 2 * time.Second

// ComponentCheck represents the health of a single component.
type ComponentCheck struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the JSON body returned by health endpoints.
type Response struct {
	Status     Status                    `json:"status"`
	Components map[string]ComponentCheck `json:"components,omitempty"`
	Timestamp  string                    `json:"timestamp"`
}

// CheckFunc returns nil if the component is healthy, or an error describing the issue.
type CheckFunc func(ctx context.Context) error

// Checker provides liveness and readiness probes.
type Checker struct {
	mu              sync.RWMutex
	readinessChecks map[string]CheckFunc
	shuttingDown    atomic.Bool
	timeout         time.Duration
	now             func() time.Time
}

// New creates a new health Checker.
func New() *Checker {
	return &Checker{
		readinessChecks: make(map[string]CheckFunc),
		timeout:         DefaultCheckTimeout,
		now:             time.Now,
	}
}

// RegisterReadiness registers a named readiness check run on each /ready request.
func (c *Checker) RegisterReadiness(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readinessChecks[name] = check
}

// SetShuttingDown marks the instance as shutting down.
// After this, both /live and /ready return 503.
func (c *Checker) SetShuttingDown() {
	c.shuttingDown.Store(true)
}

func (c *Checker) timestamp() string {
	return c.now().UTC().Format(time.RFC3339)
}

func (c *Checker) writeShuttingDown(w http.ResponseWriter) {
	writeJSON(w, http.StatusServiceUnavailable, Response{
		Status:    StatusDown,
		Timestamp: c.timestamp(),
		Components: map[string]ComponentCheck{
			"process": {Status: StatusDown, Message: "shutting down"},
		},
	})
}

// LiveHandler returns the /live handler: up unless shutting down.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c.shuttingDown.Load() {
			c.writeShuttingDown(w)
			return
		}
		writeJSON(w, http.StatusOK, Response{Status: StatusUp, Timestamp: c.timestamp()})
	}
}

// ReadyHandler returns the /ready handler. Checks run concurrently, each
// bounded by the check timeout; any failure turns the response into 503.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c.shuttingDown.Load() {
			c.writeShuttingDown(w)
			return
		}

		c.mu.RLock()
		checks := make(map[string]CheckFunc, len(c.readinessChecks))
		for k, v := range c.readinessChecks {
			checks[k] = v
		}
		c.mu.RUnlock()

		ctx, cancel := context.WithTimeout(r.Context(), c.timeout)
		defer cancel()

		var (
			wg         sync.WaitGroup
			mu         sync.Mutex
			overall    = StatusUp
			components = make(map[string]ComponentCheck, len(checks))
		)
		for name, check := range checks {
			wg.Add(1)
			go func(name string, check CheckFunc) {
				defer wg.Done()
				result := ComponentCheck{Status: StatusUp}
				if err := check(ctx); err != nil {
					result = ComponentCheck{Status: StatusDown, Message: err.Error()}
				}
				mu.Lock()
				defer mu.Unlock()
				components[name] = result
				if result.Status == StatusDown {
					overall = StatusDown
				}
			}(name, check)
		}
		wg.Wait()

		code := http.StatusOK
		if overall == StatusDown {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, Response{Status: overall, Components: components, Timestamp: c.timestamp()})
	}
}

// BacklogCheck fails once current() reaches limit.
func BacklogCheck(what string, current func() int, limit int) CheckFunc {
	return func(context.Context) error {
		if n := current(); n >= limit {
			return fmt.Errorf("%s backlog %d reached limit %d", what, n, limit)
		}
		return nil
	}
}

// Cached reuses the result of check for ttl.
func Cached(check CheckFunc, ttl time.Duration) CheckFunc {
	var (
		mu      sync.Mutex
		lastRun time.Time
		lastErr error
	)
	return func(ctx context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		if !lastRun.IsZero() && time.Since(lastRun) < ttl {
			return lastErr
		}
		lastErr = check(ctx)
		lastRun = time.Now()
		return lastErr
	}
}

func writeJSON(w http.ResponseWriter, code int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
