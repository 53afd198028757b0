// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package retry

import (
	"time"

	"github.com/gogama/httpcall/request"
)

// A Policy controls if and how attempts are retried during a call.
//
// The client (httpcall.Client) consults Decide after every attempt that
// failed with a retryable error, and after every attempt that produced
// a final response, that is one which is neither a redirect nor an
// authentication challenge the client will answer. Only if Decide
// returns true is Wait consulted, with the same Execution, to obtain
// the pause before the retry. The call is canceled promptly if it is
// canceled or times out during the pause.
//
// Implementations of Policy must be safe for concurrent use by multiple
// goroutines.
//
// A Policy is composed of the Decider and Waiter interfaces. While you
// can implement Policy yourself, it may be more efficient to use one
// of the built-in retry policies, DefaultPolicy or Never, or to construct
// your policy using the NewPolicy constructor using existing Decider
// and Waiter implementations.
type Policy interface {
	Decider
	Waiter
}

// DefaultPolicy is a general-purpose retry policy suitable for common
// use cases. It is a composition of DefaultDecider for retry decisions
// and DefaultWaiter for wait time calculations.
var DefaultPolicy = NewPolicy(DefaultDecider, DefaultWaiter)

// Never is a policy that never retries. It is useful if you want to use
// the other features of httpcall.Client but do not want retries.
var Never = NewPolicy(Times(0), DefaultWaiter)

// NewPolicy composes a Decider and a Waiter into a retry Policy.
//
// The returned policy picks the wait when it decides to retry, and
// declines the retry if the wait would end after the deadline of the
// current plan's context. The call then ends with the outcome of the
// attempt just made rather than with a context error after a pointless
// pause. Wait returns the duration picked by Decide for the same
// attempt, so a jittered Waiter is consulted once per retry.
func NewPolicy(d Decider, w Waiter) Policy {
	if d == nil {
		panic("httpcall/retry: nil decider")
	}
	if w == nil {
		panic("httpcall/retry: nil waiter")
	}
	return &policy{decider: d, waiter: w, now: time.Now}
}

type policy struct {
	decider Decider
	waiter  Waiter
	now     func() time.Time
}

type waitKey struct{}

// pickedWait is the wait Decide chose for one attempt.
type pickedWait struct {
	attempt int
	d       time.Duration
}

func (p *policy) Decide(e *request.Execution) bool {
	if !p.decider.Decide(e) {
		return false
	}

	w := p.waiter.Wait(e)
	if deadline, ok := planDeadline(e); ok && p.now().Add(w).After(deadline) {
		return false
	}

	e.SetValue(waitKey{}, pickedWait{attempt: e.Attempt, d: w})
	return true
}

func (p *policy) Wait(e *request.Execution) time.Duration {
	if pw, ok := e.Value(waitKey{}).(pickedWait); ok && pw.attempt == e.Attempt {
		return pw.d
	}
	return p.waiter.Wait(e)
}

func planDeadline(e *request.Execution) (time.Time, bool) {
	plan := e.Current
	if plan == nil {
		plan = e.Plan
	}
	if plan == nil {
		return time.Time{}, false
	}
	return plan.Context().Deadline()
}
