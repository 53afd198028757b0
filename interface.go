// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpcall

import (
	"context"
	"net/http"
	"net/url"

	"github.com/gogama/httpcall/request"
)

// Doer is the interface that wraps the basic Do method.
//
// Do executes an HTTP request plan and returns the final response
// (and error, if any). Client implements the Doer interface,
// and any other Doer implementation must behave substantially the same
// as Client.Do.
//
// Any Doer can be converted into an Executor via the Inflate function.
type Doer interface {
	Do(p *request.Plan) (*request.Response, error)
}

// Getter is the interface that wraps the basic Get method.
//
// Get creates an HTTP request plan to issue a GET to the specified URL,
// executes the plan, and returns the final response (and error, if
// any). Client implements the Getter interface, and any other
// Getter implementation must behave substantially the same as Client.Get.
//
// Any Doer can be used to emulate a Getter via the Get function.
type Getter interface {
	Get(url string) (*request.Response, error)
}

// Header is the interface that wraps the basic Head method.
//
// Head creates an HTTP request plan to issue a HEAD to the specified
// URL, executes the plan, and returns the final response (and error,
// if any). Client implements the Header interface, and any other
// Header implementation must behave substantially the same as
// Client.Head.
//
// Any Doer can be used to emulate a Header via the Head function.
type Header interface {
	Head(url string) (*request.Response, error)
}

// Poster is the interface that wraps the basic Post method.
//
// Post creates an HTTP request plan to issue a POST to the specified
// URL, executes the plan, and returns the final response (and error,
// if any). Client implements the Poster interface, and any other
// Poster implementation must behave substantially the same as
// Client.Post.
//
// The body parameter may be nil for an empty body, or may be any of the
// types supported by request.NewPlan, request.BodyBytes, and httpcall.Post,
// namely: string; []byte; io.Reader; and io.ReadCloser.
//
// Any Doer can be used to emulate a Poster via the Post function.
type Poster interface {
	Post(url, contentType string, body interface{}) (*request.Response, error)
}

// FormPoster is the interface that wraps the basic PostForm method.
//
// PostForm creates an HTTP request plan to issue a form POST to the
// specified URL, executes the plan, and returns the final response
// (and error, if any). Client implements the FormPoster interface,
// and any other FormPoster implementation must behave substantially the
// same as Client.PostForm.
//
// The request plan body is set to the URL-encoded keys and values from
// data, and the content type is set to application/x-www-form-urlencoded.
//
// Any Doer can be used to emulate a FormPoster via the PostForm
// function.
type FormPoster interface {
	PostForm(url string, data url.Values) (*request.Response, error)
}

// IdleCloser is the interface that wraps the basic CloseIdleConnections
// method.
//
// If the underlying implementation supports it, CloseIdleConnections
// closes any idle which were previously connected from previous
// requests but are now sitting idle in a "keep-alive" state. It does
// not interrupt any connections currently in use.
//
// If the underlying implementation does not support this ability,
// CloseIdleConnections does nothing.
type IdleCloser interface {
	CloseIdleConnections()
}

// Caller is the interface that wraps the basic NewCall method.
//
// NewCall prepares a single-use Call for a plan without starting it.
// The call may then be run synchronously with Execute, asynchronously
// with Enqueue, or canceled before or during either.
type Caller interface {
	NewCall(p *request.Plan) *Call
}

// Enqueuer is the interface that wraps the basic Enqueue method.
//
// Enqueue prepares a call for a plan, schedules it on a dispatcher and
// returns it immediately. Exactly one method of cb is invoked when the
// call finishes. The returned Call may be used to cancel it.
//
// Any Caller can be used to emulate an Enqueuer via the Enqueue
// function.
type Enqueuer interface {
	Enqueue(p *request.Plan, cb Callback) *Call
}

// Executor is the interface that groups the basic Do, NewCall,
// Enqueue, Get, Head, Post, PostForm, and CloseIdleConnections methods.
//
// Any Doer can be converted into an Executor via the Inflate function.
type Executor interface {
	Doer
	Caller
	Enqueuer
	Getter
	Header
	Poster
	FormPoster
	IdleCloser
}

// Enqueue uses the specified Caller to prepare a call for p and
// schedules it asynchronously. It returns the call so the caller can
// cancel it or inspect its execution after the callback has run.
func Enqueue(c Caller, p *request.Plan, cb Callback) *Call {
	call := c.NewCall(p)
	call.Enqueue(cb)
	return call
}

// Get uses the specified Doer to issue a GET to the specified URL,
// using the same policies as d.Do.
//
// To make a request plan with custom headers, use request.NewPlan and
// d.Do.
func Get(d Doer, url string) (*request.Response, error) {
	p, err := request.NewPlan("GET", url, nil)
	if err != nil {
		return nil, err
	}
	return d.Do(p)
}

// Head uses the specified Doer to issue a HEAD to the specified URL,
// using the same policies as d.Do.
//
// To make a request plan with custom headers, use request.NewPlan and
// d.Do.
func Head(d Doer, url string) (*request.Response, error) {
	p, err := request.NewPlan("HEAD", url, nil)
	if err != nil {
		return nil, err
	}
	return d.Do(p)
}

// Post uses the specified Doer to issue a POST to the specified URL,
// using the same policies as d.Do.
//
// The body parameter may be nil for an empty body, or may be any of the
// types supported by Client.Post, request.NewPlan, and request.BodyBytes,
// namely: string; []byte; io.Reader; and io.ReadCloser.
//
// To make a request plan with custom headers, use request.NewPlan and
// d.Do.
func Post(d Doer, url, contentType string, body interface{}) (*request.Response, error) {
	b, err := request.BodyBytes(body)
	if err != nil {
		return nil, err
	}
	p, err := request.NewPlan("POST", url, b)
	if err != nil {
		return nil, err
	}
	return d.Do(p.WithHeader("Content-Type", contentType))
}

// PostForm uses the specified Doer to issue a POST to the specified URL,
// with data's keys and values URL-encoded as the request body.
//
// The Content-Type header is set to application/x-www-form-urlencoded.
// To set other headers, use request.NewPlan and d.Do.
func PostForm(d Doer, url string, data url.Values) (*request.Response, error) {
	return Post(d, url, "application/x-www-form-urlencoded", data.Encode())
}

// Inflate converts any non-nil Doer into an Executor. This may be
// helpful for interop across library boundaries, i.e. if code that only
// has access to a Doer needs to call a function that requires an
// Executor.
//
// A Doer which is not already an Executor is wrapped in a Client whose
// only stage hands the plan to d. Calls made through the result are
// therefore single-use, run on the default dispatcher when enqueued,
// raise the BeforeCallStart and AfterCallEnd events, and pass d a plan
// whose context is done when the call is canceled or times out.
func Inflate(d Doer) Executor {
	if d == nil {
		panic("httpcall: nil doer")
	}

	if e, ok := d.(Executor); ok {
		return e
	}

	return &inflated{
		Client: &Client{
			Interceptors: []Interceptor{doerInterceptor{d}},
		},
		doer: d,
	}
}

type inflated struct {
	*Client
	doer Doer
}

// CloseIdleConnections is forwarded to the wrapped Doer, which owns the
// connections.
func (i *inflated) CloseIdleConnections() {
	if ic, ok := i.doer.(IdleCloser); ok {
		ic.CloseIdleConnections()
	}
}

// doerInterceptor ends the pipeline by delegating to a Doer. It never
// calls Proceed.
type doerInterceptor struct {
	doer Doer
}

func (i doerInterceptor) Intercept(ch Chain) (*request.Response, error) {
	ctx := ch.Context()
	resp, err := i.doer.Do(ch.Plan().WithContext(ctx))
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		// A cancel or call timeout is reported by its cause rather than
		// as whatever context error the doer wrapped.
		if cause := context.Cause(ctx); cause != nil && cause != ctx.Err() {
			return nil, cause
		}
		return nil, err
	}
	if resp != nil && resp.Body == nil {
		resp.Body = http.NoBody
	}
	return resp, nil
}
