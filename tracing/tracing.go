// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package tracing provides an httpcall.Interceptor which records an
// OpenTelemetry client span for every call and propagates the trace
// context to the server in the request headers.
//
// Install it as an application interceptor so that one span covers
// every attempt and follow-up of a call:
//
//	client.Interceptors = append(client.Interceptors, tracing.New(tp, tracing.W3CPropagator()))
//
// The parent span is taken from the context of the call's plan.
package tracing

import (
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/gogama/httpcall"
	"github.com/gogama/httpcall/request"
)

// ScopeName is the instrumentation scope of the tracer used when New
// is given a nil TracerProvider.
const ScopeName = "github.com/gogama/httpcall/tracing"

// W3CPropagator returns a propagator for W3C Trace Context and
// Baggage headers.
func W3CPropagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
}

// An Interceptor wraps each call in a client span.
type Interceptor struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// New returns an Interceptor creating spans with tp and injecting
// headers with prop. A nil tp or prop means the global one.
func New(tp trace.TracerProvider, prop propagation.TextMapPropagator) *Interceptor {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if prop == nil {
		prop = otel.GetTextMapPropagator()
	}
	return &Interceptor{
		tracer:     tp.Tracer(ScopeName),
		propagator: prop,
	}
}

// Intercept starts a span, injects its context into the plan headers,
// and ends the span once the response headers or an error arrive.
func (i *Interceptor) Intercept(ch httpcall.Chain) (*request.Response, error) {
	p := ch.Plan()
	ctx, span := i.tracer.Start(p.Context(), "HTTP "+p.Method(),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", p.Method()),
			attribute.String("url.full", p.URLString()),
			attribute.String("server.address", p.Hostname()),
			attribute.String("httpcall.call_id", ch.Call().ID()),
		))
	defer span.End()

	h := make(http.Header)
	i.propagator.Inject(ctx, propagation.HeaderCarrier(h))
	for name, values := range h {
		if len(values) > 0 {
			p = p.WithHeader(name, values[0])
		}
	}

	resp, err := ch.Proceed(p)

	e := ch.Execution()
	span.SetAttributes(
		attribute.Int("httpcall.retries", e.Retries),
		attribute.Int("httpcall.follow_ups", e.FollowUps),
		attribute.Int("httpcall.attempt_timeouts", e.AttemptTimeouts),
		attribute.String("httpcall.cache_status", e.CacheStatus.String()),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= 500 {
		span.SetStatus(codes.Error, strconv.Itoa(resp.StatusCode))
	}
	return resp, nil
}
