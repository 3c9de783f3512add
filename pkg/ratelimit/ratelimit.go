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

// Package ratelimit limits failed authentication attempts per subject with
// a token bucket. Every failure spends one token. A subject without tokens
// is locked out until the bucket refills at one token per Cooldown.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultMaxAttempts = 5
	DefaultCooldown    = 30 * time.Second
)

// Limiter tracks failed attempts. It is safe for concurrent use.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	enabled  bool
	now      func() time.Time
}

// Config holds attempt limiter configuration.
type Config struct {
	// Enabled controls whether failures lead to lockout.
	Enabled bool

	// MaxAttempts is the number of consecutive failures allowed before
	// lockout. Defaults to DefaultMaxAttempts.
	MaxAttempts int

	// Cooldown is the time it takes to regain one attempt. Defaults to
	// DefaultCooldown.
	Cooldown time.Duration
}

// New creates an attempt limiter. A nil config disables limiting.
func New(config *Config) *Limiter {
	if config == nil {
		config = &Config{Enabled: false}
	}
	burst := config.MaxAttempts
	if burst <= 0 {
		burst = DefaultMaxAttempts
	}
	cooldown := config.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Every(cooldown),
		burst:    burst,
		enabled:  config.Enabled,
		now:      time.Now,
	}
}

// getLimiter returns the bucket for subject, creating a full one. Called
// with l.mu held.
func (l *Limiter) getLimiter(subject string) *rate.Limiter {
	limiter, exists := l.limiters[subject]
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[subject] = limiter
	}
	return limiter
}

// Locked reports whether subject has no attempts left.
func (l *Limiter) Locked(subject string) bool {
	return l.RetryAfter(subject) > 0
}

// Remaining returns the whole attempts subject has left.
func (l *Limiter) Remaining(subject string) int {
	if !l.enabled {
		return l.burst
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, exists := l.limiters[subject]
	if !exists {
		return l.burst
	}
	return int(math.Floor(limiter.TokensAt(l.now())))
}

// RetryAfter returns how long until subject regains an attempt, or zero
// when it is not locked out.
func (l *Limiter) RetryAfter(subject string) time.Duration {
	if !l.enabled {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, exists := l.limiters[subject]
	if !exists {
		return 0
	}
	tokens := limiter.TokensAt(l.now())
	if tokens >= 1 {
		return 0
	}
	seconds := (1 - tokens) / float64(l.rate)
	return time.Duration(math.Ceil(seconds * float64(time.Second)))
}

// Failure spends one attempt and reports whether subject is now locked out.
func (l *Limiter) Failure(subject string) bool {
	if !l.enabled {
		return false
	}
	l.mu.Lock()
	l.getLimiter(subject).AllowN(l.now(), 1)
	l.mu.Unlock()
	return l.Locked(subject)
}

// Success restores every attempt for subject.
func (l *Limiter) Success(subject string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, subject)
}

// Enabled reports whether limiting is active.
func (l *Limiter) Enabled() bool {
	return l.enabled
}
