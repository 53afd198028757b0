// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpcall

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gogama/httpcall/conn"
)

// aLongTimeAgo is a deadline in the past. Setting it on a connection
// makes blocked reads and writes fail at once.
var aLongTimeAgo = time.Unix(1, 0)

var errCallEnded = errors.New("httpcall: exchange opened after the call ended")

// A coordinator tracks the network usage of one call: the call timeout
// window, the cancellation token, and the exchanges in progress.
//
// The window opens when the call starts and closes exactly once, when
// the call has returned and no exchange remains open. An exchange stays
// open until the response body bound to it is read to the end or
// closed, so the window covers reading the body too.
type coordinator struct {
	ctx      context.Context
	cancel   context.CancelCauseFunc
	provider conn.Provider
	logger   *zap.Logger

	mu     sync.Mutex
	timer  *time.Timer
	open   int
	noMore bool
	exited bool
}

func newCoordinator(parent context.Context, provider conn.Provider, logger *zap.Logger) *coordinator {
	ctx, cancel := context.WithCancelCause(parent)
	return &coordinator{
		ctx:      ctx,
		cancel:   cancel,
		provider: provider,
		logger:   logger,
	}
}

// enter opens the call timeout window. A non-positive d means the call
// has no timeout.
func (co *coordinator) enter(d time.Duration) {
	if d <= 0 {
		return
	}
	co.mu.Lock()
	defer co.mu.Unlock()
	co.timer = time.AfterFunc(d, func() {
		co.cancel(ErrCallTimeout)
	})
}

// interrupted returns the reason the call can no longer proceed, or nil
// if it can.
func (co *coordinator) interrupted() error {
	if co.ctx.Err() == nil {
		return nil
	}
	return context.Cause(co.ctx)
}

// sleep waits for d, returning early with the interruption cause if the
// call is canceled or times out.
func (co *coordinator) sleep(d time.Duration) error {
	if d <= 0 {
		return co.interrupted()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return co.interrupted()
	case <-co.ctx.Done():
		return co.interrupted()
	}
}

// openExchange registers an exchange over c. While the exchange is
// open, canceling the call forces the connection deadline into the past
// so blocked I/O returns promptly.
func (co *coordinator) openExchange(c *conn.Conn) (*exchange, error) {
	co.mu.Lock()
	defer co.mu.Unlock()
	if co.noMore {
		return nil, errCallEnded
	}
	if err := co.interrupted(); err != nil {
		return nil, err
	}
	ex := &exchange{co: co, conn: c}
	ex.stop = context.AfterFunc(co.ctx, func() {
		_ = c.SetDeadline(aLongTimeAgo)
	})
	co.open++
	return ex, nil
}

// finish records that the call will start no more exchanges.
func (co *coordinator) finish() {
	co.mu.Lock()
	co.noMore = true
	exit := co.exitable()
	co.mu.Unlock()
	if exit {
		co.exit()
	}
}

func (co *coordinator) exchangeDone() {
	co.mu.Lock()
	co.open--
	exit := co.exitable()
	co.mu.Unlock()
	if exit {
		co.exit()
	}
}

// exitable must be called with mu held.
func (co *coordinator) exitable() bool {
	if co.exited || !co.noMore || co.open > 0 {
		return false
	}
	co.exited = true
	return true
}

func (co *coordinator) exit() {
	co.mu.Lock()
	timer := co.timer
	co.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
	co.cancel(errCallDone)
}

// An exchange is one request write and response read over a single
// connection.
type exchange struct {
	co   *coordinator
	conn *conn.Conn
	stop func() bool
	once sync.Once
}

// release returns the connection to the provider. Only the first call
// has any effect. A connection whose I/O was interrupted by
// cancellation is never reused.
func (ex *exchange) release(reusable bool) {
	ex.once.Do(func() {
		if !ex.stop() {
			reusable = false
		}
		ex.co.provider.Release(ex.conn, reusable)
		ex.co.logger.Debug("exchange released",
			zap.Int64("conn_id", ex.conn.ID()),
			zap.Bool("reusable", reusable))
		ex.co.exchangeDone()
	})
}
