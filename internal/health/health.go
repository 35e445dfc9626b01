// Package health runs the diagnostics behind "smartctl doctor": is the
// configuration valid, can the switch backend be reached, is the daemon up.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status represents the outcome of a check.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusSkipped   Status = "skipped"
)

// DefaultTimeout bounds a check that sets none.
const DefaultTimeout = 3 * time.Second

// Result represents the result of one check.
type Result struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Hint     string        `json:"hint,omitempty"`
	Critical bool          `json:"critical"`
	Duration time.Duration `json:"duration_ns"`
}

// Check performs a single diagnostic. Name and Duration are filled in by
// the Checker.
type Check func(ctx context.Context) Result

// Component is a registered check.
type Component struct {
	Name     string
	Critical bool // an unhealthy critical component makes the report unhealthy
	Check    Check
	Timeout  time.Duration
}

// Checker holds the registered components.
type Checker struct {
	mu         sync.Mutex
	components []*Component
}

// NewChecker creates an empty checker.
func NewChecker() *Checker {
	return &Checker{}
}

// Register adds a component. Components run in registration order when
// reported.
func (c *Checker) Register(comp *Component) {
	if comp.Timeout <= 0 {
		comp.Timeout = DefaultTimeout
	}
	c.mu.Lock()
	c.components = append(c.components, comp)
	c.mu.Unlock()
}

// RegisterFunc registers a check with the default timeout.
func (c *Checker) RegisterFunc(name string, critical bool, check Check) {
	c.Register(&Component{Name: name, Critical: critical, Check: check})
}

// Run executes every check concurrently and returns the results in
// registration order.
func (c *Checker) Run(ctx context.Context) []Result {
	c.mu.Lock()
	components := append([]*Component(nil), c.components...)
	c.mu.Unlock()

	results := make([]Result, len(components))
	var wg sync.WaitGroup
	for i, comp := range components {
		i, comp := i, comp
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = run(ctx, comp)
		}()
	}
	wg.Wait()
	return results
}

func run(ctx context.Context, comp *Component) Result {
	checkCtx, cancel := context.WithTimeout(ctx, comp.Timeout)
	defer cancel()

	start := time.Now()
	done := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Result{Status: StatusUnhealthy, Message: fmt.Sprintf("check panicked: %v", r)}
			}
		}()
		done <- comp.Check(checkCtx)
	}()

	var result Result
	select {
	case result = <-done:
	case <-checkCtx.Done():
		result = Result{Status: StatusUnhealthy, Message: "check timed out"}
	}
	result.Name = comp.Name
	result.Critical = comp.Critical
	result.Duration = time.Since(start)
	return result
}

// Overall aggregates results. A failing non-critical check only degrades.
func Overall(results []Result) Status {
	overall := StatusHealthy
	for _, r := range results {
		switch r.Status {
		case StatusUnhealthy:
			if r.Critical {
				return StatusUnhealthy
			}
			overall = StatusDegraded
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}

// Healthy is a passing result.
func Healthy(format string, args ...any) Result {
	return Result{Status: StatusHealthy, Message: fmt.Sprintf(format, args...)}
}

// Degraded is a result that works but deserves attention.
func Degraded(hint, format string, args ...any) Result {
	return Result{Status: StatusDegraded, Message: fmt.Sprintf(format, args...), Hint: hint}
}

// Unhealthy is a failing result with an optional hint for the user.
func Unhealthy(hint string, err error) Result {
	return Result{Status: StatusUnhealthy, Message: err.Error(), Hint: hint}
}

// Skipped marks a check that does not apply.
func Skipped(reason string) Result {
	return Result{Status: StatusSkipped, Message: reason}
}

// Failing returns the names of the unhealthy or degraded results, sorted.
func Failing(results []Result) []string {
	var names []string
	for _, r := range results {
		if r.Status == StatusUnhealthy || r.Status == StatusDegraded {
			names = append(names, r.Name)
		}
	}
	sort.Strings(names)
	return names
}
