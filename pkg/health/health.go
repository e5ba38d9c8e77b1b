// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-eseaccess.
//
// go-eseaccess is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package health implements the daemon's liveness and readiness probes.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusHealthy indicates the component is operating normally.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates the component is not functioning.
	StatusUnhealthy Status = "unhealthy"
	// StatusDegraded indicates the component works but something recently
	// went wrong, such as a handshake that had to be timed out.
	StatusDegraded Status = "degraded"
)

// CheckResult represents the result of a single health check.
type CheckResult struct {
	Name    string        `json:"name"`
	Status  Status        `json:"status"`
	Message string        `json:"message,omitempty"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// CheckFunc performs a health check. It must not block on a handshake.
type CheckFunc func(ctx context.Context) CheckResult

// Checker runs registered checks.
//
// Liveness only reports that the process answers. Readiness runs every
// registered check and fails until MarkStarted has been called.
type Checker struct {
	clock clock.Clock

	mu        sync.RWMutex
	started   bool
	startTime time.Time
	checks    map[string]CheckFunc
}

// NewChecker creates a checker. A nil clock selects the wall clock.
func NewChecker(clk clock.Clock) *Checker {
	if clk == nil {
		clk = clock.New()
	}
	return &Checker{
		clock:     clk,
		checks:    make(map[string]CheckFunc),
		startTime: clk.Now(),
	}
}

// RegisterCheck adds or replaces the named check. A nil check is ignored.
func (c *Checker) RegisterCheck(name string, check CheckFunc) {
	if check == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// UnregisterCheck removes a health check.
func (c *Checker) UnregisterCheck(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checks, name)
}

// MarkStarted marks initialization complete.
func (c *Checker) MarkStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
}

// MarkNotStarted is called when shutdown begins so readiness fails first.
func (c *Checker) MarkNotStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = false
}

// Live reports that the process is running.
func (c *Checker) Live(ctx context.Context) CheckResult {
	return CheckResult{
		Name:    "liveness",
		Status:  StatusHealthy,
		Message: fmt.Sprintf("alive (uptime: %s)", c.Uptime().Round(time.Second)),
	}
}

// Ready runs the startup gate and every registered check, sorted by name.
func (c *Checker) Ready(ctx context.Context) []CheckResult {
	c.mu.RLock()
	started := c.started
	names := make([]string, 0, len(c.checks))
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, check := range c.checks {
		names = append(names, name)
		checks[name] = check
	}
	c.mu.RUnlock()
	sort.Strings(names)

	results := make([]CheckResult, 0, len(names)+1)
	startup := CheckResult{Name: "startup", Status: StatusHealthy, Message: "initialized"}
	if !started {
		startup.Status = StatusUnhealthy
		startup.Message = "initialization not complete"
	}
	results = append(results, startup)

	for _, name := range names {
		start := c.clock.Now()
		result := checks[name](ctx)
		result.Latency = c.clock.Since(start)
		if result.Name == "" {
			result.Name = name
		}
		results = append(results, result)
	}
	return results
}

// IsReady reports whether no readiness check is unhealthy. Degraded
// components still accept requests.
func (c *Checker) IsReady(ctx context.Context) bool {
	return AggregateStatus(c.Ready(ctx)) != StatusUnhealthy
}

// IsStarted returns true if the service has been marked as started.
func (c *Checker) IsStarted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.started
}

// Uptime returns how long the checker has existed.
func (c *Checker) Uptime() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clock.Since(c.startTime)
}

// AggregateStatus returns unhealthy if any result is unhealthy, degraded
// if any is degraded, healthy otherwise.
func AggregateStatus(results []CheckResult) Status {
	status := StatusHealthy
	for _, result := range results {
		switch result.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}
