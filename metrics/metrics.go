// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package metrics exports Prometheus metrics describing the calls made
// by an httpcall.Client and the state of its connection pool.
//
// A Metrics value is an event handler. Install it in the client's
// handler group and register it with a Prometheus registry:
//
//	m := metrics.New("myapp")
//	m.Install(client.Handlers)
//	err := m.Register(prometheus.DefaultRegisterer)
package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gogama/httpcall"
	"github.com/gogama/httpcall/request"
)

// DefaultNamespace is the metric namespace used when New is given an
// empty one.
const DefaultNamespace = "httpcall"

// Outcome label values of the calls counter.
const (
	OutcomeResponse = "response"
	OutcomeCanceled = "canceled"
	OutcomeTimeout  = "timeout"
	OutcomeError    = "error"
)

// Metrics collects call metrics from client events.
type Metrics struct {
	calls     *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	attempts  *prometheus.CounterVec
	timeouts  prometheus.Counter
	followUps prometheus.Counter
	lookups   *prometheus.CounterVec
}

// New creates unregistered call metrics in the given namespace.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Metrics{
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "calls_total",
				Help:      "Total number of calls ended, by request method and outcome",
			},
			[]string{"method", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "call_duration_seconds",
				Help:      "Call duration in seconds, from start until response headers or failure",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"method"},
		),
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_total",
				Help:      "Total number of attempts, by response status code or \"error\"",
			},
			[]string{"status"},
		),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempt_timeouts_total",
			Help:      "Total number of attempts which timed out",
		}),
		followUps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "follow_ups_total",
			Help:      "Total number of follow-up requests such as redirects",
		}),
		lookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Total number of cache lookups, by decision",
			},
			[]string{"status"},
		),
	}
}

// Collectors returns the collectors making up m.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.calls, m.duration, m.attempts, m.timeouts, m.followUps, m.lookups}
}

// Register registers every collector of m with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	var errs []error
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Install adds m to the handler chains of the events it observes.
func (m *Metrics) Install(g *httpcall.HandlerGroup) {
	for _, evt := range []httpcall.Event{
		httpcall.AfterCacheLookup,
		httpcall.AfterAttemptTimeout,
		httpcall.AfterAttempt,
		httpcall.BeforeFollowUp,
		httpcall.AfterCallEnd,
	} {
		g.PushBack(evt, m)
	}
}

// Handle updates the metrics for one event.
func (m *Metrics) Handle(evt httpcall.Event, e *request.Execution) {
	switch evt {
	case httpcall.AfterCacheLookup:
		m.lookups.WithLabelValues(e.CacheStatus.String()).Inc()
	case httpcall.AfterAttemptTimeout:
		m.timeouts.Inc()
	case httpcall.AfterAttempt:
		status := "error"
		if e.Response != nil {
			status = strconv.Itoa(e.Response.StatusCode)
		}
		m.attempts.WithLabelValues(status).Inc()
	case httpcall.BeforeFollowUp:
		m.followUps.Inc()
	case httpcall.AfterCallEnd:
		method := e.Plan.Method()
		m.calls.WithLabelValues(method, Outcome(e.Err)).Inc()
		if !e.End.IsZero() {
			m.duration.WithLabelValues(method).Observe(e.End.Sub(e.Start).Seconds())
		}
	}
}

// Outcome returns the outcome label value for a call which ended with
// err.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeResponse
	case errors.Is(err, httpcall.ErrCanceled):
		return OutcomeCanceled
	case errors.Is(err, httpcall.ErrCallTimeout):
		return OutcomeTimeout
	default:
		return OutcomeError
	}
}
