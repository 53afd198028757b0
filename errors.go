// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpcall

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/gogama/httpcall/conn"
	"github.com/gogama/httpcall/request"
)

var (
	// ErrAlreadyExecuted is returned when Execute or Enqueue is called
	// on a Call which was already executed or enqueued.
	ErrAlreadyExecuted = errors.New("httpcall: call already executed")

	// ErrCanceled is returned when a call ends because Call.Cancel was
	// called, even if a response arrived concurrently.
	ErrCanceled = errors.New("httpcall: call canceled")

	// ErrCallTimeout is returned when a call exceeds the client's
	// CallTimeout. Its Timeout method returns true.
	ErrCallTimeout error = &timeoutError{"httpcall: call timeout exceeded"}

	// ErrTooManyRedirects is matched, using errors.Is, by every
	// *TooManyRedirectsError.
	ErrTooManyRedirects = errors.New("httpcall: too many redirects")

	// ErrRejectedExecution is returned, through Callback.OnFailure, when
	// the dispatcher's worker pool refuses to run an enqueued call.
	ErrRejectedExecution = errors.New("httpcall: execution rejected")

	// ErrChainReused is returned when an interceptor calls Proceed more
	// than once on the same Chain.
	ErrChainReused = errors.New("httpcall: chain proceeded more than once")

	// errCallDone is the cancellation cause recorded once a call no
	// longer has any network usage outstanding.
	errCallDone = errors.New("httpcall: call done")
)

type timeoutError struct {
	msg string
}

func (err *timeoutError) Error() string   { return err.msg }
func (err *timeoutError) Timeout() bool   { return true }
func (err *timeoutError) Temporary() bool { return false }

// A ConnectionError reports that a connection to a destination could
// not be established, or that a pooled connection proved to be dead
// when it was reused. Connection errors are retryable: package
// transient categorizes them as transient.ConnFailure.
type ConnectionError struct {
	// Dest is the destination the connection was for.
	Dest conn.Destination
	// Stale is true if the failure happened on a reused pooled
	// connection rather than while establishing a new one.
	Stale bool
	// Err is the underlying error.
	Err error
}

func (err *ConnectionError) Error() string {
	if err.Stale {
		return fmt.Sprintf("httpcall: pooled connection to %s failed: %v", err.Dest, err.Err)
	}
	return fmt.Sprintf("httpcall: connect to %s: %v", err.Dest, err.Err)
}

// Unwrap returns the underlying error.
func (err *ConnectionError) Unwrap() error { return err.Err }

// ConnectionFailure always returns true.
func (err *ConnectionError) ConnectionFailure() bool { return true }

// Timeout reports whether the underlying error is a timeout, such as a
// dial timeout.
func (err *ConnectionError) Timeout() bool { return timedOut(err.Err) }

// A TooManyRedirectsError is returned when a call needs more follow-up
// requests than the client's redirect cap allows.
type TooManyRedirectsError struct {
	// Max is the cap which was exceeded.
	Max int
	// Last is the response which asked for the follow-up that exceeded
	// the cap. It has no body.
	Last *request.Response
}

func (err *TooManyRedirectsError) Error() string {
	return "httpcall: stopped after " + strconv.Itoa(err.Max) + " redirects"
}

// Is reports whether target is ErrTooManyRedirects.
func (err *TooManyRedirectsError) Is(target error) bool {
	return target == ErrTooManyRedirects
}

// A TransportError reports an I/O failure while a request was written
// or a response was read, other than a connection failure.
type TransportError struct {
	// Stage names the step which failed, for example "write request"
	// or "read response".
	Stage string
	// Dest is the destination of the connection in use.
	Dest conn.Destination
	// Err is the underlying error.
	Err error
}

func (err *TransportError) Error() string {
	return fmt.Sprintf("httpcall: %s %s: %v", err.Stage, err.Dest, err.Err)
}

// Unwrap returns the underlying error.
func (err *TransportError) Unwrap() error { return err.Err }

// Timeout reports whether the underlying error is a timeout. An
// attempt timeout surfaces as a TransportError whose Timeout method
// returns true, so the *url.Error returned by the client reports it
// too.
func (err *TransportError) Timeout() bool { return timedOut(err.Err) }

func timedOut(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

func urlErrorWrap(p *request.Plan, err error) error {
	if _, ok := err.(*url.Error); ok {
		return err
	}

	return &url.Error{
		Op:  urlErrorOp(p.Method()),
		URL: p.URLString(),
		Err: err,
	}
}

// urlErrorOp is lifted verbatim from net/http/client.go
func urlErrorOp(method string) string {
	if method == "" {
		return "Get"
	}
	return method[:1] + strings.ToLower(method[1:])
}
