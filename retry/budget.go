// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package retry

import (
	"golang.org/x/time/rate"

	"github.com/gogama/httpcall/request"
)

// A Budget caps the rate of retries across every call sharing it, so
// that a struggling server is not hammered by a retry storm. Each retry
// spends one token; tokens refill at a fixed rate up to a burst size.
//
// A Budget is safe for concurrent use by multiple goroutines.
type Budget struct {
	limiter *rate.Limiter
}

// NewBudget returns a retry budget which allows retriesPerSecond
// retries per second on average, with bursts of up to burst retries.
func NewBudget(retriesPerSecond float64, burst int) *Budget {
	if retriesPerSecond <= 0 {
		panic("httpcall/retry: retriesPerSecond must be positive")
	}
	if burst < 1 {
		panic("httpcall/retry: burst must be positive")
	}
	return &Budget{limiter: rate.NewLimiter(rate.Limit(retriesPerSecond), burst)}
}

// Decider returns a decider which spends one token from the budget and
// returns true if a token was available.
//
// Put the budget last in a composition so tokens are only spent on
// retries the other deciders approved:
//
//	d := retry.DefaultDecider.And(budget.Decider())
func (b *Budget) Decider() DeciderFunc {
	return func(_ *request.Execution) bool {
		return b.limiter.Allow()
	}
}

// Tokens returns the number of retries currently available.
func (b *Budget) Tokens() float64 {
	return b.limiter.Tokens()
}
