// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpcall

import (
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gogama/httpcall/request"
)

var (
	errNoExchange = errors.New("httpcall: transfer stage reached without a connection")
	errBodyClosed = errors.New("httpcall: read on closed response body")
)

// transferInterceptor is the terminal stage. It writes the request to
// the exchange's connection and reads the response headers. The
// response body is read lazily from the connection by the caller.
type transferInterceptor struct{}

func (transferInterceptor) Intercept(ch Chain) (*request.Response, error) {
	c := ch.(*chain)
	ex := c.ex
	if ex == nil {
		return nil, errNoExchange
	}
	co := c.co
	e := c.exec
	p := c.plan
	cn := ex.conn

	if err := cn.SetDeadline(deadline(c.call.client.timeoutPolicy().Timeout(e))); err != nil {
		return nil, c.transportError("set deadline", err)
	}

	req := p.ToRequest(co.ctx)
	e.Request = req
	sentAt := time.Now()
	e.RequestSent = true
	err := req.Write(cn.Writer())
	if err == nil {
		err = cn.Writer().Flush()
	}
	if err != nil {
		return nil, c.transportError("write request", err)
	}

	var resp *http.Response
	for {
		resp, err = http.ReadResponse(cn.Reader(), req)
		if err != nil {
			return nil, c.transportError("read response", err)
		}
		// Skip informational responses other than 101.
		if resp.StatusCode < 100 || resp.StatusCode >= 200 || resp.StatusCode == 101 {
			break
		}
	}
	receivedAt := time.Now()

	r := request.NewResponse(p, resp, sentAt, receivedAt)
	reusable := !resp.Close && !p.Close()
	if !r.HasBody() {
		_ = resp.Body.Close()
		r.Body = http.NoBody
		ex.release(reusable)
	} else {
		r.Body = &exchangeBody{rc: resp.Body, ex: ex, reusable: reusable}
	}
	c.call.client.handlers().run(AfterResponseHeaders, e)
	return r, nil
}

// transportError classifies an I/O failure of the current exchange.
func (c *chain) transportError(stage string, err error) error {
	if cause := c.co.interrupted(); cause != nil {
		return cause
	}
	cn := c.ex.conn
	if cn.Reused() && staleConn(err) {
		return &ConnectionError{Dest: cn.Destination(), Stale: true, Err: err}
	}
	return &TransportError{Stage: stage, Dest: cn.Destination(), Err: err}
}

// staleConn reports whether err is how a pooled connection the server
// already closed typically fails.
func staleConn(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

// deadline converts an attempt timeout into a connection deadline. Non
// positive and very large timeouts mean no deadline.
func deadline(d time.Duration) time.Time {
	if d <= 0 || d >= 1<<62 {
		return time.Time{}
	}
	return time.Now().Add(d)
}

// exchangeBody is a response body read straight from the connection.
// Reading it to the end releases the connection for reuse. Closing it
// early, or a read error, releases the connection as not reusable.
type exchangeBody struct {
	rc       io.ReadCloser
	ex       *exchange
	reusable bool
	done     atomic.Bool
	eof      atomic.Bool
}

func (b *exchangeBody) Read(p []byte) (int, error) {
	if b.done.Load() {
		if b.eof.Load() {
			return 0, io.EOF
		}
		return 0, errBodyClosed
	}
	n, err := b.rc.Read(p)
	if err == io.EOF {
		b.eof.Store(true)
		b.finish(true)
	} else if err != nil {
		if cause := b.ex.co.interrupted(); cause != nil {
			err = cause
		}
		b.finish(false)
	}
	return n, err
}

func (b *exchangeBody) Close() error {
	b.finish(false)
	return nil
}

func (b *exchangeBody) finish(eof bool) {
	if !b.done.CompareAndSwap(false, true) {
		return
	}
	if eof {
		_ = b.rc.Close()
		b.ex.release(b.reusable)
		return
	}
	// Release first so the connection is closed and closing the body
	// does not try to drain it.
	b.ex.release(false)
	_ = b.rc.Close()
}
