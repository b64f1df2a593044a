// Package health runs component checks for the /healthz endpoint.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "HEALTHY"
	StatusDegraded  Status = "DEGRADED"
	StatusUnhealthy Status = "UNHEALTHY"
)

// Component is the result of a single check.
type Component struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ns"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Check inspects one component.
type Check func(ctx context.Context) Component

// Report is the aggregated result of all checks.
type Report struct {
	Status     Status        `json:"status"`
	Uptime     time.Duration `json:"uptime_ns"`
	Components []Component   `json:"components"`
}

// Healthy reports whether the system can keep serving. Degraded counts as
// healthy.
func (r Report) Healthy() bool {
	return r.Status != StatusUnhealthy
}

// Monitor holds registered checks.
type Monitor struct {
	mu      sync.RWMutex
	checks  map[string]Check
	timeout time.Duration
	started time.Time
	now     func() time.Time
}

// NewMonitor creates a monitor whose checks share the given timeout.
func NewMonitor(timeout time.Duration) *Monitor {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Monitor{
		checks:  make(map[string]Check),
		timeout: timeout,
		started: time.Now(),
		now:     time.Now,
	}
}

// Register adds or replaces the check for name.
func (m *Monitor) Register(name string, check Check) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// Run executes every check concurrently and aggregates the results.
func (m *Monitor) Run(ctx context.Context) Report {
	m.mu.RLock()
	checks := make(map[string]Check, len(m.checks))
	for k, v := range m.checks {
		checks[k] = v
	}
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var wg sync.WaitGroup
	results := make(chan Component, len(checks))
	for name, check := range checks {
		wg.Add(1)
		go func(n string, c Check) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results <- Component{Name: n, Status: StatusUnhealthy, Message: fmt.Sprintf("check panicked: %v", r), CheckedAt: m.now()}
				}
			}()
			start := m.now()
			comp := c(ctx)
			comp.Name = n
			comp.CheckedAt = m.now()
			if comp.Latency == 0 {
				comp.Latency = comp.CheckedAt.Sub(start)
			}
			results <- comp
		}(name, check)
	}
	wg.Wait()
	close(results)

	report := Report{Status: StatusHealthy, Uptime: time.Since(m.started)}
	for comp := range results {
		report.Components = append(report.Components, comp)
		switch comp.Status {
		case StatusUnhealthy:
			report.Status = StatusUnhealthy
		case StatusDegraded:
			if report.Status == StatusHealthy {
				report.Status = StatusDegraded
			}
		}
	}
	sort.Slice(report.Components, func(i, j int) bool {
		return report.Components[i].Name < report.Components[j].Name
	})
	return report
}

// DatabaseCheck pings the ledger database. Pings slower than slow degrade.
func DatabaseCheck(ping func(ctx context.Context) error, slow time.Duration) Check {
	return func(ctx context.Context) Component {
		start := time.Now()
		err := ping(ctx)
		c := Component{Latency: time.Since(start)}
		switch {
		case err != nil:
			c.Status = StatusUnhealthy
			c.Message = fmt.Sprintf("ping failed: %v", err)
		case slow > 0 && c.Latency > slow:
			c.Status = StatusDegraded
			c.Message = fmt.Sprintf("slow: %v", c.Latency)
		default:
			c.Status = StatusHealthy
		}
		return c
	}
}

// SessionCheck reports the broker session. A logged-out session is
// degraded, since the scheduler logs in again on its own.
func SessionCheck(loggedIn func() bool) Check {
	return func(ctx context.Context) Component {
		if loggedIn() {
			return Component{Status: StatusHealthy, Message: "logged in"}
		}
		return Component{Status: StatusDegraded, Message: "logged out"}
	}
}
