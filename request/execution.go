// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"context"
	"net/http"
	"time"

	"github.com/gogama/httpcall/transient"
)

// An Execution represents the state of a single call executing a Plan.
//
// When a call starts, an Execution is created for it. The Execution is
// updated as the call progresses through the interceptor pipeline (for
// example when a connection is acquired, when the HTTP response headers
// become available, or when a retry or redirect is needed) and is
// finally discarded when the call ends.
//
// Retry and timeout policies, interceptors and event handlers may set
// values on an Execution using its SetValue method and read them back
// using the Value method. However, they should treat the structure's
// exported field values as immutable and leave them unmodified, as the
// execution state is vital to the correct functioning of the call.
//
// All stages of one call run sequentially, so an Execution is never
// accessed concurrently by the call machinery itself.
type Execution struct {
	// Plan specifies the request plan the call was created with. It is
	// never nil.
	Plan *Plan

	// Current is the request plan of the current attempt, or of the
	// last attempt once the call has ended. It starts out equal to
	// Plan and changes when a follow-up request is made, for example
	// on a redirect.
	Current *Plan

	// Start is the start time of the call. It is assigned a non-zero
	// value when the call starts, and this value remains constant
	// thereafter.
	Start time.Time

	// End is the end time of the call. It contains the zero value
	// until the call ends, when it is set to the current time.
	End time.Time

	// Attempt is the zero-based number of the current network attempt
	// during the call. It is set to zero on the initial attempt, and
	// incremented by one on every retry and every follow-up.
	Attempt int

	// Retries is the number of times a failed attempt was retried with
	// the same plan.
	Retries int

	// FollowUps is the number of follow-up requests made so far, for
	// example redirects followed or authentication challenges
	// answered.
	FollowUps int

	// AttemptTimeouts is the count of the number of times an attempt
	// timed out during the call.
	AttemptTimeouts int

	// PreviousTimeout indicates whether the attempt before the current
	// one ended in a timeout. It is false on the initial attempt and on
	// the first attempt of a follow-up. Err is cleared when an attempt
	// starts, so timeout policies read this field instead.
	PreviousTimeout bool

	// Request is the wire-level HTTP request written in the current
	// attempt, or already written in the last attempt. It is nil
	// until the transfer stage builds it.
	Request *http.Request

	// RequestSent indicates whether any part of the request of the
	// current attempt has been written to the network. The default
	// retry policy uses it to decide whether a failed request using a
	// non-idempotent method may be replayed.
	RequestSent bool

	// Response is the response received in the most recent attempt. It
	// is nil if the most recent attempt ended in an error, or if a
	// current attempt is underway, or before the call starts.
	Response *Response

	// Err indicates the error received in the most recent attempt. It
	// is nil if the most recent attempt ended without an error, or if a
	// current attempt is underway, or before the call starts.
	//
	// Once the call has ended, Err has the same value as the error
	// returned to the caller.
	Err error

	// CacheStatus records how the cache stage handled the most recent
	// attempt.
	CacheStatus CacheStatus

	data context.Context
}

// A CacheStatus describes the decision the cache stage made for an
// attempt.
type CacheStatus int

const (
	// CacheNone means the cache stage did not run, for example because
	// no cache store is configured.
	CacheNone CacheStatus = iota
	// CacheMiss means no usable entry was found and the request went
	// to the network.
	CacheMiss
	// CacheHit means the response was served from the cache without
	// contacting the network.
	CacheHit
	// CacheConditionalHit means a stored entry was revalidated with
	// the origin server, which answered 304 Not Modified.
	CacheConditionalHit
	// CacheConditionalMiss means a stored entry was revalidated with
	// the origin server, which sent a full replacement response.
	CacheConditionalMiss
	// CacheUnsatisfiable means the request demanded only-if-cached and
	// no usable entry existed.
	CacheUnsatisfiable
)

var cacheStatusNames = []string{
	CacheNone:            "none",
	CacheMiss:            "miss",
	CacheHit:             "hit",
	CacheConditionalHit:  "conditional_hit",
	CacheConditionalMiss: "conditional_miss",
	CacheUnsatisfiable:   "unsatisfiable",
}

// String returns a lower-case name of the cache status, suitable for
// use as a metric label.
func (s CacheStatus) String() string {
	if s < 0 || int(s) >= len(cacheStatusNames) {
		return "unknown"
	}
	return cacheStatusNames[s]
}

// StatusCode returns the status code of the response from the most
// recent attempt. If there is no response, 0 is returned.
func (e *Execution) StatusCode() int {
	if e.Response == nil {
		return 0
	}

	return e.Response.StatusCode
}

// Header returns the response headers from the most recent attempt. If
// there is no response, the nil header is returned.
//
// Note that a nil return value is always safe for read-only operations,
// since http.Header is a map type.
func (e *Execution) Header() http.Header {
	if e.Response == nil {
		var nilHeader http.Header
		return nilHeader
	}

	return e.Response.Header
}

// Duration returns the duration of the call.
//
// If the call has not yet started, the duration is zero. If the call
// has Ended, the duration returned is equal to End minus Start.
// Otherwise, it is equal to the current time minus Start.
func (e *Execution) Duration() time.Duration {
	if !e.Started() {
		return time.Duration(0)
	} else if !e.Ended() {
		return time.Since(e.Start)
	}

	return e.End.Sub(e.Start)
}

// Started indicates whether the call has started.
func (e *Execution) Started() bool {
	return e.Start != (time.Time{})
}

// Ended indicates whether the call has ended. Once it returns true,
// there will be no further changes to the execution.
func (e *Execution) Ended() bool {
	return e.End != (time.Time{})
}

// Timeout indicates whether Err currently contains a non-nil value
// which indicates a timeout, either of a single attempt or of the
// whole call.
func (e *Execution) Timeout() bool {
	cat := transient.Categorize(e.Err)
	return cat == transient.Timeout
}

// SetValue allows policies, interceptors and event handlers to store
// arbitrary data in the execution.
//
// The key must follow the same rules as the key parameter in
// context.WithValue, namely it:
//
// • it may not be nil;
//
// • it must be comparable;
//
// • it should not be of type string or any other built-in type to avoid
// collisions between different plug-ins putting data into the same
// execution.
func (e *Execution) SetValue(key, value interface{}) {
	ctx := e.data
	if ctx == nil {
		ctx = context.Background()
	}

	e.data = context.WithValue(ctx, key, value)
}

// Value returns the data value associated with this execution for key,
// or nil if there is no value associated with key.
func (e *Execution) Value(key interface{}) interface{} {
	ctx := e.data
	if ctx == nil {
		return nil
	}

	return ctx.Value(key)
}
