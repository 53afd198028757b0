// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package retry provides flexible policies for retrying failed attempts
// during a call, and how long to wait before retrying.
//
// The interface Policy defines a retry Policy. A Policy instance can be
// constructed using NewPolicy by providing a decision-maker, Decider,
// and a wait time calculator, Waiter. Both Decider and Waiter have
// constructors for common use cases, so that a useful policy can be
// quickly assembled:
//
//	budget := retry.NewBudget(10, 20)
//	decider := retry.Times(3).
//	               And(retry.Replayable).
//	               And(retry.StatusCode(500).Or(retry.TransientErr)).
//	               And(budget.Decider())
//	waiter := retry.NewExpWaiter(100*time.Millisecond, 2*time.Second, time.Now())
//	policy := retry.NewPolicy(decider, waiter)
//
// A policy built by NewPolicy picks the wait when it approves a retry,
// and declines any retry whose wait would end after the deadline of the
// plan's context.
//
// The boundary between retryable and non-retryable failures is drawn
// by the deciders: Replayable refuses to replay a request using a
// non-idempotent method once any of it was written to the network, and
// ConnFailure only accepts failures where the server cannot have seen
// the request.
//
// If the built-in functionality is insufficient, fully custom retry
// policies can be created by via custom implementations of Decider,
// Waiter, or Policy.
package retry
