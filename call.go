// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpcall

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gogama/httpcall/request"
)

// A Callback receives the outcome of an enqueued call. Exactly one of
// its methods is invoked, exactly once, on a worker goroutine.
//
// The receiver of OnResponse owns the response and must close its
// body. A panic in either method is recovered and logged.
type Callback interface {
	OnResponse(c *Call, resp *request.Response)
	OnFailure(c *Call, err error)
}

// CallbackFuncs adapts a pair of functions to the Callback interface.
// A nil function ignores its outcome, except that a response passed to
// a nil OnResponse has its body closed.
type CallbackFuncs struct {
	Response func(c *Call, resp *request.Response)
	Failure  func(c *Call, err error)
}

// OnResponse calls f.Response(c, resp).
func (f CallbackFuncs) OnResponse(c *Call, resp *request.Response) {
	if f.Response == nil {
		_ = resp.Body.Close()
		return
	}
	f.Response(c, resp)
}

// OnFailure calls f.Failure(c, err).
func (f CallbackFuncs) OnFailure(c *Call, err error) {
	if f.Failure != nil {
		f.Failure(c, err)
	}
}

// A Call is a request plan prepared for execution. A Call can be
// executed only once, either synchronously with Execute or
// asynchronously with Enqueue. Use Clone to execute the same plan
// again.
//
// Cancel may be called at any time from any goroutine.
type Call struct {
	client *Client
	plan   *request.Plan
	id     uuid.UUID

	executed atomic.Bool
	canceled atomic.Bool

	mu   sync.Mutex
	co   *coordinator
	exec *request.Execution
}

func newCall(client *Client, p *request.Plan) *Call {
	if p == nil {
		panic("httpcall: nil plan")
	}
	return &Call{
		client: client,
		plan:   p,
		id:     uuid.New(),
	}
}

// ID returns a random identifier for the call, used in log messages.
func (c *Call) ID() string {
	return c.id.String()
}

// Plan returns the plan the call was created with.
func (c *Call) Plan() *request.Plan {
	return c.plan
}

// IsExecuted reports whether Execute or Enqueue was called.
func (c *Call) IsExecuted() bool {
	return c.executed.Load()
}

// IsCanceled reports whether Cancel was called.
func (c *Call) IsCanceled() bool {
	return c.canceled.Load()
}

// Execution returns the execution state of the call, or nil if it has
// not started running yet. The returned value must not be read while
// the call is still running.
func (c *Call) Execution() *request.Execution {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exec
}

// Clone returns a new, unexecuted call for the same plan and client.
func (c *Call) Clone() *Call {
	return newCall(c.client, c.plan)
}

// Cancel cancels the call. A call canceled before it starts fails with
// ErrCanceled as soon as it is executed. A running call stops at its
// next blocking step and any I/O in progress is interrupted. Canceling
// a call which already ended has no effect.
func (c *Call) Cancel() {
	if c.canceled.Swap(true) {
		return
	}
	c.mu.Lock()
	co := c.co
	c.mu.Unlock()
	if co != nil {
		co.cancel(ErrCanceled)
	}
}

// Execute runs the call on the calling goroutine and returns the final
// response. The caller must close the response body.
//
// Any returned error is a *url.Error wrapping one of the errors
// documented in this package, or an error returned by an interceptor.
// Execute fails with ErrAlreadyExecuted if the call was already
// executed or enqueued.
func (c *Call) Execute() (*request.Response, error) {
	if !c.executed.CompareAndSwap(false, true) {
		return nil, urlErrorWrap(c.plan, ErrAlreadyExecuted)
	}
	d := c.client.dispatcher()
	d.executed(c)
	defer d.finishedSync(c)
	return c.run()
}

// Enqueue schedules the call to run on the client's dispatcher and
// returns immediately. The outcome is delivered to cb. If the call was
// already executed or enqueued, cb.OnFailure receives
// ErrAlreadyExecuted on the calling goroutine.
func (c *Call) Enqueue(cb Callback) {
	if cb == nil {
		panic("httpcall: nil callback")
	}
	d := c.client.dispatcher()
	ac := &asyncCall{call: c, cb: cb, host: c.plan.Hostname()}
	if !c.executed.CompareAndSwap(false, true) {
		d.fail(ac, urlErrorWrap(c.plan, ErrAlreadyExecuted))
		return
	}
	d.enqueue(ac)
}

// run executes the pipeline once.
func (c *Call) run() (*request.Response, error) {
	cl := c.client
	logger := cl.logger().With(
		zap.String("call_id", c.ID()),
		zap.String("method", c.plan.Method()),
		zap.String("url", c.plan.URLString()))

	e := &request.Execution{Plan: c.plan, Current: c.plan}
	co := newCoordinator(c.plan.Context(), cl.connProvider(), logger)
	c.mu.Lock()
	c.co = co
	c.exec = e
	c.mu.Unlock()
	if c.canceled.Load() {
		co.cancel(ErrCanceled)
	}

	handlers := cl.handlers()
	handlers.run(BeforeCallStart, e)
	e.Start = time.Now()
	co.enter(cl.CallTimeout)
	logger.Debug("call started")

	ch := &chain{
		interceptors: cl.interceptors(),
		plan:         c.plan,
		call:         c,
		co:           co,
		exec:         e,
	}
	resp, err := ch.Proceed(c.plan)
	if err == nil && c.canceled.Load() {
		_ = resp.Body.Close()
		resp, err = nil, ErrCanceled
	}
	if err != nil {
		err = urlErrorWrap(c.plan, err)
	}

	e.Response = resp
	e.Err = err
	e.End = time.Now()
	co.finish()
	handlers.run(AfterCallEnd, e)
	if err != nil {
		logger.Debug("call failed", zap.Duration("duration", e.Duration()), zap.Error(err))
	} else {
		logger.Debug("call succeeded", zap.Duration("duration", e.Duration()), zap.Int("status", resp.StatusCode))
	}
	return resp, err
}
