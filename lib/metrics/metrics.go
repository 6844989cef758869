// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics defines the Prometheus collectors for the bridge.
//
// The collectors double as leak bookkeeping: live_references must
// return to its pre-request value once a request has been released,
// and to zero after shutdown. Every method is safe on a nil
// *Collectors so components can run without metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hostbridge"

// Collectors groups every metric the bridge exports.
type Collectors struct {
	LiveReferences   *prometheus.GaugeVec
	MintedReferences *prometheus.CounterVec
	ReleasedRefs     *prometheus.CounterVec
	SkippedValues    prometheus.Counter
	DecodeFailures   *prometheus.CounterVec
	TeardownFailures prometheus.Counter
	BoundaryCalls    *prometheus.CounterVec
	CallDuration     *prometheus.HistogramVec
	RegistryEntries  prometheus.Gauge
	Requests         *prometheus.CounterVec
	Forwarded        prometheus.Counter
	OpenForwards     prometheus.Gauge
}

// New creates the collectors and registers them with registerer. A nil
// registerer leaves them unregistered, which is what tests want when
// they read values directly.
func New(registerer prometheus.Registerer) *Collectors {
	c := &Collectors{
		LiveReferences: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "handles",
			Name:      "live_references",
			Help:      "Cross-boundary references currently minted and not yet released.",
		}, []string{"scope"}),
		MintedReferences: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "handles",
			Name:      "minted_total",
			Help:      "Cross-boundary references minted.",
		}, []string{"scope"}),
		ReleasedRefs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "handles",
			Name:      "released_total",
			Help:      "Cross-boundary references released.",
		}, []string{"scope"}),
		SkippedValues: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "skipped_values_total",
			Help:      "Pushed values dropped because their type cannot cross the boundary.",
		}),
		DecodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "decode_failures_total",
			Help:      "Tokens that could not be decoded.",
		}, []string{"mode"}),
		TeardownFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "teardown_failures_total",
			Help:      "Failures swallowed while releasing request references.",
		}),
		BoundaryCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "endpoint",
			Name:      "calls_total",
			Help:      "Boundary calls served, by action and result code.",
		}, []string{"action", "code"}),
		CallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "endpoint",
			Name:      "call_duration_seconds",
			Help:      "Boundary call handling time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
		RegistryEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "entries",
			Help:      "Shared references currently published in the registry.",
		}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "requests_total",
			Help:      "Requests seen by the lifecycle adapter, by outcome.",
		}, []string{"outcome"}),
		Forwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "forwarder",
			Name:      "connections_total",
			Help:      "TCP connections forwarded to the endpoint socket.",
		}),
		OpenForwards: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "forwarder",
			Name:      "open_connections",
			Help:      "Forwarded TCP connections currently open.",
		}),
	}

	if registerer != nil {
		registerer.MustRegister(
			c.LiveReferences,
			c.MintedReferences,
			c.ReleasedRefs,
			c.SkippedValues,
			c.DecodeFailures,
			c.TeardownFailures,
			c.BoundaryCalls,
			c.CallDuration,
			c.RegistryEntries,
			c.Requests,
			c.Forwarded,
			c.OpenForwards,
		)
	}
	return c
}

// ReferenceMinted records a new live reference of the given scope.
func (c *Collectors) ReferenceMinted(scope string) {
	if c == nil {
		return
	}
	c.MintedReferences.WithLabelValues(scope).Inc()
	c.LiveReferences.WithLabelValues(scope).Inc()
}

// ReferenceReleased records the final release of a reference.
func (c *Collectors) ReferenceReleased(scope string) {
	if c == nil {
		return
	}
	c.ReleasedRefs.WithLabelValues(scope).Inc()
	c.LiveReferences.WithLabelValues(scope).Dec()
}

// ValueSkipped records one value dropped from a push.
func (c *Collectors) ValueSkipped() {
	if c == nil {
		return
	}
	c.SkippedValues.Inc()
}

// DecodeFailed records a token that failed to decode.
func (c *Collectors) DecodeFailed(mode string) {
	if c == nil {
		return
	}
	c.DecodeFailures.WithLabelValues(mode).Inc()
}

// TeardownFailed records a swallowed teardown failure.
func (c *Collectors) TeardownFailed() {
	if c == nil {
		return
	}
	c.TeardownFailures.Inc()
}

// CallServed records one boundary call.
func (c *Collectors) CallServed(action, code string, duration time.Duration) {
	if c == nil {
		return
	}
	c.BoundaryCalls.WithLabelValues(action, code).Inc()
	c.CallDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// RegistrySize sets the number of published shared references.
func (c *Collectors) RegistrySize(entries int) {
	if c == nil {
		return
	}
	c.RegistryEntries.Set(float64(entries))
}

// RequestSeen records a lifecycle outcome: "idle", "bridged" or
// "failed".
func (c *Collectors) RequestSeen(outcome string) {
	if c == nil {
		return
	}
	c.Requests.WithLabelValues(outcome).Inc()
}

// ForwardOpened records a forwarded connection.
func (c *Collectors) ForwardOpened() {
	if c == nil {
		return
	}
	c.Forwarded.Inc()
	c.OpenForwards.Inc()
}

// ForwardClosed records the end of a forwarded connection.
func (c *Collectors) ForwardClosed() {
	if c == nil {
		return
	}
	c.OpenForwards.Dec()
}
