// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package timeout

import (
	"context"
	"math"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogama/httpcall/request"
)

func TestDefault(t *testing.T) {
	a := DefaultPolicy.Timeout(&request.Execution{})
	assert.Equal(t, 5*time.Second, a)
	b := DefaultPolicy.Timeout(&request.Execution{AttemptTimeouts: 3, PreviousTimeout: true})
	assert.Equal(t, 5*time.Second, b)
}

func TestInfinite(t *testing.T) {
	a := Infinite.Timeout(&request.Execution{})
	assert.Equal(t, time.Duration(math.MaxInt64), a)
	b := Infinite.Timeout(&request.Execution{AttemptTimeouts: 10, PreviousTimeout: true, FollowUps: 2})
	assert.Equal(t, time.Duration(math.MaxInt64), b)
}

func TestPolicyFunc(t *testing.T) {
	p := PolicyFunc(func(e *request.Execution) time.Duration {
		return time.Duration(e.Attempt+1) * time.Second
	})
	assert.Equal(t, time.Second, p.Timeout(&request.Execution{}))
	assert.Equal(t, 3*time.Second, p.Timeout(&request.Execution{Attempt: 2}))
}

func TestFixed(t *testing.T) {
	p := Fixed(33 * time.Hour)
	testCases := []struct {
		name string
		e    request.Execution
	}{
		{"initial", request.Execution{}},
		{"retry after timeout", request.Execution{Attempt: 1, Retries: 1, AttemptTimeouts: 1, PreviousTimeout: true}},
		{"follow-up", request.Execution{Attempt: 2, FollowUps: 1}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			assert.Equal(t, 33*time.Hour, p.Timeout(&testCase.e))
		})
	}
}

func TestAdaptive(t *testing.T) {
	t.Run("no after values", func(t *testing.T) {
		p := Adaptive(time.Second)
		assert.Equal(t, Fixed(time.Second), p)
		assert.Equal(t, time.Second, p.Timeout(&request.Execution{AttemptTimeouts: 1, PreviousTimeout: true}))
	})
	t.Run("after values copied", func(t *testing.T) {
		after := []time.Duration{time.Minute}
		p := Adaptive(time.Second, after...)
		after[0] = time.Hour
		assert.Equal(t, time.Minute, p.Timeout(&request.Execution{AttemptTimeouts: 1, PreviousTimeout: true}))
	})
	t.Run("sequence", func(t *testing.T) {
		p := Adaptive(5*time.Millisecond, 10*time.Millisecond, 100*time.Millisecond)
		x := &request.Execution{}
		assert.Equal(t, 5*time.Millisecond, p.Timeout(x))
		x.Attempt, x.Retries = 1, 1
		x.AttemptTimeouts = 1
		x.PreviousTimeout = true
		assert.Equal(t, 10*time.Millisecond, p.Timeout(x))
		x.Attempt, x.Retries = 2, 2
		x.PreviousTimeout = false
		assert.Equal(t, 5*time.Millisecond, p.Timeout(x))
		x.Attempt, x.Retries = 3, 3
		x.AttemptTimeouts = 2
		x.PreviousTimeout = true
		assert.Equal(t, 100*time.Millisecond, p.Timeout(x))
		x.Attempt, x.Retries = 4, 4
		x.AttemptTimeouts = 3
		assert.Equal(t, 100*time.Millisecond, p.Timeout(x))
	})
	t.Run("follow-up after response", func(t *testing.T) {
		p := Adaptive(time.Second, time.Minute)
		x := &request.Execution{Attempt: 2, Retries: 1, FollowUps: 1, AttemptTimeouts: 1}
		assert.Equal(t, time.Second, p.Timeout(x))
	})
	t.Run("inconsistent counters", func(t *testing.T) {
		p := Adaptive(time.Second, time.Minute)
		assert.Equal(t, time.Second, p.Timeout(&request.Execution{PreviousTimeout: true}))
	})
}

func TestFollowUp(t *testing.T) {
	t.Run("nil policy", func(t *testing.T) {
		assert.PanicsWithValue(t, "httpcall/timeout: nil policy", func() {
			FollowUp(nil, time.Second)
		})
	})
	p := FollowUp(Adaptive(time.Second, time.Minute), 3*time.Second)
	testCases := []struct {
		name string
		e    request.Execution
		want time.Duration
	}{
		{"initial", request.Execution{}, time.Second},
		{"retry of initial", request.Execution{Attempt: 1, Retries: 1, AttemptTimeouts: 1, PreviousTimeout: true}, time.Minute},
		{"first follow-up", request.Execution{Attempt: 1, FollowUps: 1}, 3 * time.Second},
		{"retry of follow-up after timeout", request.Execution{Attempt: 2, Retries: 1, FollowUps: 1, AttemptTimeouts: 1, PreviousTimeout: true}, time.Minute},
		{"retry of follow-up after error", request.Execution{Attempt: 2, Retries: 1, FollowUps: 1}, 3 * time.Second},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			assert.Equal(t, testCase.want, p.Timeout(&testCase.e))
		})
	}
}

func TestContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := NewContext(context.Background(), 250*time.Millisecond)
	d, ok := FromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, 250*time.Millisecond, d)
}

func TestPlanned(t *testing.T) {
	t.Run("nil policy", func(t *testing.T) {
		assert.PanicsWithValue(t, "httpcall/timeout: nil policy", func() {
			Planned(nil)
		})
	})
	p := Planned(Fixed(time.Second))
	t.Run("no current plan", func(t *testing.T) {
		assert.Equal(t, time.Second, p.Timeout(&request.Execution{}))
	})
	t.Run("plan without override", func(t *testing.T) {
		plan, err := request.NewPlan("GET", "http://example.com/", nil)
		require.NoError(t, err)
		assert.Equal(t, time.Second, p.Timeout(&request.Execution{Plan: plan, Current: plan}))
	})
	t.Run("plan with override", func(t *testing.T) {
		ctx := NewContext(context.Background(), 20*time.Second)
		plan, err := request.NewPlanWithContext(ctx, "GET", "http://example.com/", nil)
		require.NoError(t, err)
		next := plan.WithURL(plan.URL().ResolveReference(&url.URL{Path: "/moved"}))
		e := &request.Execution{Plan: plan, Current: next, FollowUps: 1, Attempt: 1}
		assert.Equal(t, 20*time.Second, p.Timeout(e))
	})
}
