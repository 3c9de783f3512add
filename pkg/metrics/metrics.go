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

// Package metrics provides Prometheus instrumentation for the keystore,
// cipher and biometric challenge paths.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all biokey metrics
	Namespace = "biokey"

	// Label names
	LabelOperation = "operation"
	LabelBackend   = "backend"
	LabelStatus    = "status"
	LabelErrorType = "error_type"
	LabelOutcome   = "outcome"
	LabelResult    = "result"
	LabelIntent    = "intent"
	LabelMethod    = "method"
	LabelCode      = "status_code"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"

	// Key operations
	OpGetKey      = "get_key"
	OpGenerateKey = "generate_key"
	OpOpen        = "open"

	// Cipher operations
	OpEncrypt = "encrypt"
	OpDecrypt = "decrypt"

	// Challenge outcomes
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
)

var (
	// KeyOperationsTotal counts keystore lookups and generations.
	KeyOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "keystore",
			Name:      "operations_total",
			Help:      "Total number of keystore operations by type, backend, and status",
		},
		[]string{LabelOperation, LabelBackend, LabelStatus},
	)

	// KeyOperationDuration tracks keystore latency. TPM and HSM round trips
	// dominate, hence the wider upper buckets.
	KeyOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "keystore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of keystore operations in seconds",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{LabelOperation, LabelBackend},
	)

	// CipherOperationsTotal counts executed encrypt/decrypt operations.
	CipherOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "cipher",
			Name:      "operations_total",
			Help:      "Total number of authorized cipher operations by mode and status",
		},
		[]string{LabelOperation, LabelStatus},
	)

	// CipherOperationDuration tracks cipher execution latency.
	CipherOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "cipher",
			Name:      "operation_duration_seconds",
			Help:      "Duration of authorized cipher operations in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
		[]string{LabelOperation},
	)

	// ChallengesTotal counts resolved biometric challenges by outcome.
	ChallengesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "biometric",
			Name:      "challenges_total",
			Help:      "Total number of biometric challenges by intent and outcome",
		},
		[]string{LabelIntent, LabelOutcome},
	)

	// ChallengeDuration tracks the time between issuing and resolving a challenge.
	ChallengeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "biometric",
			Name:      "challenge_duration_seconds",
			Help:      "Time from challenge issue to resolution in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2, 5, 10, 30, 60},
		},
		[]string{LabelOutcome},
	)

	// AvailabilityChecksTotal counts capability queries by result.
	AvailabilityChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "biometric",
			Name:      "availability_checks_total",
			Help:      "Total number of biometric availability checks by result",
		},
		[]string{LabelResult},
	)

	// ErrorsTotal counts errors by operation and type.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Total number of errors by operation and error type",
		},
		[]string{LabelOperation, LabelErrorType},
	)

	// HTTPRequestsTotal counts requests to the health and metrics listener.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method and status code",
		},
		[]string{LabelMethod, LabelCode},
	)

	// KeystoreHealthy is 1 when the keystore could be opened on the last check.
	KeystoreHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "keystore",
			Name:      "healthy",
			Help:      "Indicates whether the keystore backend is healthy (1) or unhealthy (0)",
		},
		[]string{LabelBackend},
	)

	enabled atomic.Bool
)

func init() {
	enabled.Store(true)
}

// RecordKeyOperation records a keystore operation.
//
// Example:
//
//	start := time.Now()
//	key, err := ks.GenerateKey(name, params)
//	metrics.RecordKeyOperation(metrics.OpGenerateKey, ks.Backend(), metrics.Status(err), time.Since(start).Seconds())
func RecordKeyOperation(operation, backend, status string, duration float64) {
	if !enabled.Load() {
		return
	}
	KeyOperationsTotal.WithLabelValues(operation, backend, status).Inc()
	KeyOperationDuration.WithLabelValues(operation, backend).Observe(duration)
}

// RecordCipherOperation records an executed cipher operation.
func RecordCipherOperation(operation, status string, duration float64) {
	if !enabled.Load() {
		return
	}
	CipherOperationsTotal.WithLabelValues(operation, status).Inc()
	CipherOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordChallenge records a resolved or cancelled challenge.
func RecordChallenge(intent, outcome string, duration float64) {
	if !enabled.Load() {
		return
	}
	ChallengesTotal.WithLabelValues(intent, outcome).Inc()
	ChallengeDuration.WithLabelValues(outcome).Observe(duration)
}

// RecordAvailability records the result of a capability query.
func RecordAvailability(result string) {
	if !enabled.Load() {
		return
	}
	AvailabilityChecksTotal.WithLabelValues(result).Inc()
}

// RecordError records an error event.
func RecordError(operation, errorType string) {
	if !enabled.Load() {
		return
	}
	ErrorsTotal.WithLabelValues(operation, errorType).Inc()
}

// RecordHTTPRequest records a request to the ops listener.
func RecordHTTPRequest(method, statusCode string) {
	if !enabled.Load() {
		return
	}
	HTTPRequestsTotal.WithLabelValues(method, statusCode).Inc()
}

// SetKeystoreHealth sets the health gauge for a backend.
func SetKeystoreHealth(backend string, healthy bool) {
	if !enabled.Load() {
		return
	}
	value := 0.0
	if healthy {
		value = 1.0
	}
	KeystoreHealthy.WithLabelValues(backend).Set(value)
}

// Status maps an error to StatusSuccess or StatusError.
func Status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}
