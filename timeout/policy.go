// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package timeout

import (
	"context"
	"time"

	"github.com/gogama/httpcall/request"
)

// A Policy decides the attempt timeout for each network attempt of a
// call. The client (httpcall.Client) consults it once per attempt,
// after a connection has been acquired and before the request is
// written, so the Execution it sees describes the attempt about to be
// made: Attempt, Retries and FollowUps are already advanced, and
// PreviousTimeout tells whether the attempt before it timed out.
//
// The attempt timeout bounds writing the request and reading the
// response headers on one connection. When it fires, the attempt fails
// with an error whose Timeout method reports true, and the retry policy
// decides whether to try again. It is separate from the call timeout,
// which spans every attempt of the call and is never retried.
//
// Implementations of Policy must be safe for concurrent use by multiple
// goroutines.
type Policy interface {
	// Timeout returns the timeout to set on the next attempt within
	// the call. A zero or negative return value means the attempt has
	// no timeout.
	Timeout(e *request.Execution) time.Duration
}

// The PolicyFunc type is an adapter to allow the use of ordinary
// functions as timeout policies.
type PolicyFunc func(e *request.Execution) time.Duration

// Timeout calls f(e).
func (f PolicyFunc) Timeout(e *request.Execution) time.Duration {
	return f(e)
}

// DefaultPolicy is the default timeout policy. It sets a fixed timeout
// of 5 seconds on each attempt.
var DefaultPolicy Policy = Fixed(5 * time.Second)

// Infinite is a built-in timeout policy which never times out.
var Infinite Policy = Fixed(1<<63 - 1)

// Fixed constructs a timeout policy that uses the same value to set
// every attempt timeout, whether the attempt is the initial one, a
// retry or a follow-up.
//
// Use Fixed to create the typical timeout behavior supported by most
// retrying HTTP client software.
func Fixed(d time.Duration) Policy {
	return fixed(d)
}

type fixed time.Duration

func (f fixed) Timeout(_ *request.Execution) time.Duration {
	return time.Duration(f)
}

// Adaptive constructs a timeout policy that lengthens the attempt
// timeout when the previous attempt of the call timed out.
//
// Use Adaptive if the remote service often exhibits one-off slow
// responses that are cured by quickly timing out and retrying, but the
// application must also survive a burst of slowness in which most
// responses are slower than the usual quick timeout.
//
// Parameter usual is returned for the initial attempt and for every
// attempt whose predecessor did not time out. This includes the first
// attempt of a follow-up, since a redirect or an answered challenge
// means the previous attempt got a response.
//
// Parameter after holds the timeouts returned when the previous attempt
// timed out. After the first attempt timeout of the call, after[0] is
// returned; after the second, after[1], and so on. Once the call has
// seen more attempt timeouts than after has elements, the last element
// is reused.
//
// Consider the following timeout policy:
//
// 	p := Adaptive(200*time.Millisecond, time.Second, 10*time.Second)
//
// The policy p uses 200 milliseconds usually. A retry following the
// first attempt timeout of the call gets 1 second, and any retry
// following a later attempt timeout gets 10 seconds.
func Adaptive(usual time.Duration, after ...time.Duration) Policy {
	if len(after) == 0 {
		return fixed(usual)
	}
	return &adaptive{
		usual: usual,
		after: append([]time.Duration(nil), after...),
	}
}

type adaptive struct {
	usual time.Duration
	after []time.Duration
}

func (a *adaptive) Timeout(e *request.Execution) time.Duration {
	if !e.PreviousTimeout || e.AttemptTimeouts < 1 {
		return a.usual
	}

	i := e.AttemptTimeouts - 1
	if i >= len(a.after) {
		i = len(a.after) - 1
	}

	return a.after[i]
}

// FollowUp constructs a timeout policy that uses d for the attempts of
// follow-up requests, such as a redirect to another host, and defers
// to p for the initial request and for any retry after an attempt
// timeout.
//
// A follow-up request usually goes to a different resource, often on a
// different server, whose latency has nothing in common with the
// original request's.
func FollowUp(p Policy, d time.Duration) Policy {
	if p == nil {
		panic("httpcall/timeout: nil policy")
	}
	return &followUp{p: p, d: d}
}

type followUp struct {
	p Policy
	d time.Duration
}

func (f *followUp) Timeout(e *request.Execution) time.Duration {
	if e.FollowUps > 0 && !e.PreviousTimeout {
		return f.d
	}
	return f.p.Timeout(e)
}

type contextKey struct{}

// NewContext returns a copy of ctx carrying an attempt timeout of d. A
// request plan whose context carries an attempt timeout overrides the
// client's policy when the policy is wrapped with Planned.
func NewContext(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, contextKey{}, d)
}

// FromContext returns the attempt timeout carried by ctx, if any.
func FromContext(ctx context.Context) (time.Duration, bool) {
	if ctx == nil {
		return 0, false
	}
	d, ok := ctx.Value(contextKey{}).(time.Duration)
	return d, ok
}

// Planned constructs a timeout policy that lets each request plan
// choose its own attempt timeout. If the context of the current plan
// carries an attempt timeout set with NewContext, that value is used
// for every attempt of the plan. Otherwise the decision is left to p.
//
// Follow-up plans inherit the context of the plan they follow, so the
// override applies to the whole call.
func Planned(p Policy) Policy {
	if p == nil {
		panic("httpcall/timeout: nil policy")
	}
	return planned{p}
}

type planned struct {
	p Policy
}

func (pl planned) Timeout(e *request.Execution) time.Duration {
	if e.Current != nil {
		if d, ok := FromContext(e.Current.Context()); ok {
			return d
		}
	}
	return pl.p.Timeout(e)
}
