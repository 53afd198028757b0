// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpcall

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/gogama/httpcall/conn"
	"github.com/gogama/httpcall/request"
)

// An Interceptor is a stage of the pipeline a call runs through.
//
// Intercept must do exactly one of the following: return a response
// without delegating (for example a cache hit), call ch.Proceed once
// and return its result, optionally transformed, or return an error.
// Calling Proceed more than once on the same Chain fails with
// ErrChainReused.
//
// Interceptors installed in Client.NetworkInterceptors run once per
// network exchange, after a connection was acquired. They must call
// Proceed exactly once and must not change the plan's scheme, host or
// port.
type Interceptor interface {
	Intercept(ch Chain) (*request.Response, error)
}

// The InterceptorFunc type is an adapter to allow the use of ordinary
// functions as interceptors.
type InterceptorFunc func(ch Chain) (*request.Response, error)

// Intercept calls f(ch).
func (f InterceptorFunc) Intercept(ch Chain) (*request.Response, error) {
	return f(ch)
}

// A Chain is the view an Interceptor has of the rest of the pipeline.
type Chain interface {
	// Proceed passes p to the next stage and returns its result. It
	// may be called at most once.
	Proceed(p *request.Plan) (*request.Response, error)
	// Plan returns the plan this stage was invoked with.
	Plan() *request.Plan
	// Context returns the call's context. It is done when the call is
	// canceled or times out.
	Context() context.Context
	// Call returns the call being executed.
	Call() *Call
	// Execution returns the execution state of the call.
	Execution() *request.Execution
	// Conn returns the connection of the current exchange, or nil
	// above the connect stage.
	Conn() *conn.Conn
}

var (
	errNilPlan     = errors.New("httpcall: nil plan")
	errChainEnd    = errors.New("httpcall: proceed called past the last interceptor")
	errNoProceed   = errors.New("httpcall: network interceptor did not call Proceed")
	errDestChanged = errors.New("httpcall: network interceptor changed the destination")
)

// chain is an index continuation into a fixed interceptor slice.
// Proceed on the chain at index i invokes interceptors[i] with the
// chain at index i+1.
type chain struct {
	interceptors []Interceptor
	index        int
	plan         *request.Plan
	call         *Call
	co           *coordinator
	exec         *request.Execution
	ex           *exchange
	used         atomic.Bool
}

func (c *chain) Plan() *request.Plan           { return c.plan }
func (c *chain) Context() context.Context      { return c.co.ctx }
func (c *chain) Call() *Call                   { return c.call }
func (c *chain) Execution() *request.Execution { return c.exec }

func (c *chain) Conn() *conn.Conn {
	if c.ex == nil {
		return nil
	}
	return c.ex.conn
}

func (c *chain) Proceed(p *request.Plan) (*request.Response, error) {
	if p == nil {
		return nil, errNilPlan
	}
	if c.index >= len(c.interceptors) {
		return nil, errChainEnd
	}
	if !c.used.CompareAndSwap(false, true) {
		return nil, ErrChainReused
	}
	if c.ex != nil {
		if dest, err := conn.DestinationOf(p.URL()); err != nil || dest != c.ex.conn.Destination() {
			return nil, errDestChanged
		}
	}

	next := c.at(c.index+1, p)
	i := c.interceptors[c.index]
	resp, err := i.Intercept(next)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("httpcall: interceptor %T returned a nil response", i)
	}
	if c.network() && !next.used.Load() {
		_ = resp.Body.Close()
		return nil, errNoProceed
	}
	return resp, nil
}

// network reports whether the interceptor this chain invokes is a
// network interceptor.
func (c *chain) network() bool {
	return c.ex != nil && c.index < len(c.interceptors)-1
}

func (c *chain) at(index int, p *request.Plan) *chain {
	return &chain{
		interceptors: c.interceptors,
		index:        index,
		plan:         p,
		call:         c.call,
		co:           c.co,
		exec:         c.exec,
		ex:           c.ex,
	}
}

// fresh returns an unused copy of c for p. The follow-up stage uses it
// to run the rest of the pipeline once per attempt.
func (c *chain) fresh(p *request.Plan) *chain {
	return c.at(c.index, p)
}
