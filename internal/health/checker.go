// Package health serves liveness and readiness for the simtracker service.
package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

// CheckFunc reports whether one dependency can serve traffic.
type CheckFunc func(ctx context.Context) error

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// CheckResult contains the result of a health check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the health check response.
type Response struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

type check struct {
	fn       CheckFunc
	optional bool
}

// Checker runs named readiness checks. A failing required check makes the
// service unhealthy; a failing optional check only degrades it.
type Checker struct {
	timeout  time.Duration
	cacheTTL time.Duration

	mu           sync.RWMutex
	checks       map[string]check
	lastCheck    time.Time
	cachedReady  *Response
	shuttingDown bool
}

// NewChecker creates a checker with no checks registered.
func NewChecker() *Checker {
	return &Checker{
		timeout:  5 * time.Second,
		cacheTTL: time.Second,
		checks:   make(map[string]check),
	}
}

// Register adds a required check under name, replacing any previous one.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.add(name, check{fn: fn})
}

// RegisterOptional adds a check whose failure degrades but does not fail readiness.
func (c *Checker) RegisterOptional(name string, fn CheckFunc) {
	c.add(name, check{fn: fn, optional: true})
}

func (c *Checker) add(name string, ch check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = ch
	c.cachedReady = nil
}

// Liveness reports the process is up. It never consults dependencies.
func (c *Checker) Liveness(context.Context) *Response {
	return &Response{Status: StatusHealthy}
}

// Readiness runs every registered check concurrently. Results are cached
// briefly so probes do not hammer the store or the Docker daemon.
func (c *Checker) Readiness(ctx context.Context) *Response {
	c.mu.RLock()
	if c.shuttingDown {
		c.mu.RUnlock()
		return &Response{
			Status: StatusUnhealthy,
			Checks: map[string]CheckResult{
				"shutdown": {Status: StatusUnhealthy, Message: "service is shutting down"},
			},
		}
	}
	if c.cachedReady != nil && time.Since(c.lastCheck) < c.cacheTTL {
		cached := c.cachedReady
		c.mu.RUnlock()
		return cached
	}
	checks := make(map[string]check, len(c.checks))
	for name, ch := range c.checks {
		checks[name] = ch
	}
	c.mu.RUnlock()

	response := c.run(ctx, checks)

	c.mu.Lock()
	if !c.shuttingDown {
		c.cachedReady = response
		c.lastCheck = time.Now()
	}
	c.mu.Unlock()
	return response
}

func (c *Checker) run(ctx context.Context, checks map[string]check) *Response {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]CheckResult, len(checks))
	)
	for name, ch := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := CheckResult{Status: StatusHealthy}
			if err := ch.fn(ctx); err != nil {
				result = CheckResult{Status: StatusUnhealthy, Message: err.Error()}
				if ch.optional {
					result.Status = StatusDegraded
				}
			}
			mu.Lock()
			results[name] = result
			mu.Unlock()
		}()
	}
	wg.Wait()

	overall := StatusHealthy
	for _, name := range sortedNames(results) {
		switch results[name].Status {
		case StatusUnhealthy:
			overall = StatusUnhealthy
		case StatusDegraded:
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		}
	}
	return &Response{Status: overall, Checks: results}
}

func sortedNames(results map[string]CheckResult) []string {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsHealthy reports whether the service can take traffic. Degraded counts.
func (r *Response) IsHealthy() bool {
	return r.Status != StatusUnhealthy
}

// SetShuttingDown makes readiness fail immediately so load balancers drain
// traffic before the server stops.
func (c *Checker) SetShuttingDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shuttingDown = true
	c.cachedReady = nil
}
