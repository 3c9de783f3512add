// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-biokey.
//
// go-biokey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package health runs liveness, readiness and startup checks for a biokey
// process and provides the stock checks for its keystore and biometric
// platform.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jeremyhahn/go-biokey/pkg/biometric"
)

// Status is the health of one component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// CheckResult is the result of a single check.
type CheckResult struct {
	Name    string        `json:"name"`
	Status  Status        `json:"status"`
	Message string        `json:"message,omitempty"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// CheckFunc performs one check. It should return quickly.
type CheckFunc func(ctx context.Context) CheckResult

// Checker holds the registered readiness checks and the startup flag.
type Checker struct {
	mu        sync.RWMutex
	started   bool
	startTime time.Time
	checks    map[string]CheckFunc
}

// NewChecker returns a Checker with no checks.
func NewChecker() *Checker {
	return &Checker{
		checks:    make(map[string]CheckFunc),
		startTime: time.Now(),
	}
}

// RegisterCheck adds or replaces the named check.
func (c *Checker) RegisterCheck(name string, check CheckFunc) {
	if check == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// MarkStarted marks initialization complete.
func (c *Checker) MarkStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
}

// Live reports that the process is running.
func (c *Checker) Live(context.Context) CheckResult {
	return CheckResult{Name: "liveness", Status: StatusHealthy, Message: "Service is alive"}
}

// Ready runs every registered check and returns the results sorted by name.
func (c *Checker) Ready(ctx context.Context) []CheckResult {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	if len(checks) == 0 {
		return []CheckResult{{Name: "default", Status: StatusHealthy, Message: "No readiness checks configured"}}
	}

	results := make([]CheckResult, 0, len(checks))
	for name, check := range checks {
		start := time.Now()
		result := check(ctx)
		result.Latency = time.Since(start)
		if result.Name == "" {
			result.Name = name
		}
		results = append(results, result)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return results
}

// Startup fails until MarkStarted is called.
func (c *Checker) Startup(context.Context) CheckResult {
	c.mu.RLock()
	started, startTime := c.started, c.startTime
	c.mu.RUnlock()

	if !started {
		return CheckResult{Name: "startup", Status: StatusUnhealthy, Message: "Service initialization not complete"}
	}
	return CheckResult{
		Name:    "startup",
		Status:  StatusHealthy,
		Message: fmt.Sprintf("Service fully initialized (uptime: %s)", time.Since(startTime).Round(time.Second)),
	}
}

// AggregateStatus is unhealthy if any result is, else degraded if any
// result is, else healthy.
func AggregateStatus(results []CheckResult) Status {
	status := StatusHealthy
	for _, r := range results {
		switch r.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}

// Pinger is implemented by keystore.SecretStore.
type Pinger interface {
	Backend() string
	Check() error
}

// KeystoreCheck reports whether the keystore can be opened.
func KeystoreCheck(store Pinger) CheckFunc {
	return func(context.Context) CheckResult {
		err := store.Check()
		name := "keystore"
		if backend := store.Backend(); backend != "" {
			name += ":" + backend
		}
		if err != nil {
			return CheckResult{Name: name, Status: StatusUnhealthy, Message: "Keystore unavailable", Error: err.Error()}
		}
		return CheckResult{Name: name, Status: StatusHealthy, Message: "Keystore available"}
	}
}

// AvailabilityChecker is implemented by biometric.Gate.
type AvailabilityChecker interface {
	CheckAvailability(ctx context.Context) (biometric.Availability, error)
}

// BiometricCheck maps the gate's availability to a status. A device that
// can still be enrolled, or whose sensor is temporarily busy, is degraded.
func BiometricCheck(gate AvailabilityChecker) CheckFunc {
	return func(ctx context.Context) CheckResult {
		a, err := gate.CheckAvailability(ctx)
		if err != nil {
			return CheckResult{Name: "biometric", Status: StatusUnhealthy, Message: "Unknown biometric state", Error: err.Error()}
		}
		result := CheckResult{Name: "biometric", Message: a.Message()}
		switch a {
		case biometric.Ready:
			result.Status = StatusHealthy
		case biometric.NotEnrolled, biometric.HardwareUnavailable:
			result.Status = StatusDegraded
		default:
			result.Status = StatusUnhealthy
		}
		return result
	}
}
