// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpcall

import (
	"go.uber.org/zap"

	"github.com/gogama/httpcall/conn"
	"github.com/gogama/httpcall/request"
)

// connectInterceptor acquires a connection for the plan's destination
// and opens an exchange over it. The connection is released, as not
// reusable, on every error path. On success the response body owns the
// exchange.
type connectInterceptor struct{}

func (connectInterceptor) Intercept(ch Chain) (*request.Response, error) {
	c := ch.(*chain)
	co := c.co
	p := c.plan

	dest, err := conn.DestinationOf(p.URL())
	if err != nil {
		return nil, &TransportError{Stage: "resolve destination", Err: err}
	}
	if err = co.interrupted(); err != nil {
		return nil, err
	}

	cn, err := co.provider.Acquire(co.ctx, dest)
	if err != nil {
		if cause := co.interrupted(); cause != nil {
			return nil, cause
		}
		return nil, &ConnectionError{Dest: dest, Err: err}
	}
	ex, err := co.openExchange(cn)
	if err != nil {
		co.provider.Release(cn, false)
		return nil, err
	}
	co.logger.Debug("connection acquired",
		zap.Int64("conn_id", cn.ID()),
		zap.Stringer("destination", dest),
		zap.Bool("reused", cn.Reused()))
	c.call.client.handlers().run(AfterConnect, c.exec)

	c.ex = ex
	resp, err := c.Proceed(p)
	if err != nil {
		ex.release(false)
		return nil, err
	}
	return resp, nil
}
