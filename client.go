// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpcall

import (
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/gogama/httpcall/cache"
	"github.com/gogama/httpcall/conn"
	"github.com/gogama/httpcall/request"
	"github.com/gogama/httpcall/retry"
	"github.com/gogama/httpcall/timeout"
)

// Version is reported in the default User-Agent header.
const Version = "1.0.0"

// DefaultMaxRedirects is the number of follow-up requests a call may
// make when Client.MaxRedirects is zero.
const DefaultMaxRedirects = 20

var (
	emptyHandlers = HandlerGroup{}
	nopLogger     = zap.NewNop()
)

// An Authenticator answers an authentication challenge, a 401 or 407
// response, with a new plan carrying credentials. Returning a nil plan
// and a nil error gives up, and the challenge response becomes the
// final response.
type Authenticator interface {
	Authenticate(resp *request.Response) (*request.Plan, error)
}

// The AuthenticatorFunc type is an adapter to allow the use of ordinary
// functions as an Authenticator.
type AuthenticatorFunc func(resp *request.Response) (*request.Plan, error)

// Authenticate calls f(resp).
func (f AuthenticatorFunc) Authenticate(resp *request.Response) (*request.Plan, error) {
	return f(resp)
}

// A Client executes HTTP calls through a pipeline of interceptors. Its
// zero value is a valid configuration.
//
// The zero value client uses DefaultDispatcher for asynchronous calls,
// conn.DefaultPool for connections, retry.DefaultPolicy as the retry
// policy, timeout.DefaultPolicy as the attempt timeout policy, follows
// up to DefaultMaxRedirects redirects, and has no cache, cookie jar,
// call timeout or event handlers.
//
// Every call runs the same pipeline, in this order:
//
// • the interceptors in Interceptors;
//
// • the follow-up stage, which retries failed attempts under
// RetryPolicy and follows redirects and authentication challenges;
//
// • the bridge stage, which adds default headers and cookies and
// transparently decompresses responses;
//
// • the cache stage, which answers from and fills Cache;
//
// • the connect stage, which acquires a connection from ConnProvider;
//
// • the interceptors in NetworkInterceptors; and
//
// • the transfer stage, which writes the request and reads the
// response.
//
// A Client is safe for concurrent use by multiple goroutines. Its
// fields must not be changed once calls are made.
type Client struct {
	// Dispatcher schedules asynchronous calls. If nil,
	// DefaultDispatcher is used.
	Dispatcher *Dispatcher

	// ConnProvider supplies connections. If nil, conn.DefaultPool is
	// used.
	ConnProvider conn.Provider

	// Interceptors run first, once per call.
	Interceptors []Interceptor

	// NetworkInterceptors run once per network exchange, after a
	// connection was acquired.
	NetworkInterceptors []Interceptor

	// RetryPolicy decides when to retry failed attempts and how long
	// to sleep after a failed attempt before retrying.
	//
	// If RetryPolicy is nil, retry.DefaultPolicy is used.
	RetryPolicy retry.Policy

	// TimeoutPolicy specifies the timeout of each attempt, applied as
	// the connection deadline of the exchange.
	//
	// If TimeoutPolicy is nil, timeout.DefaultPolicy is used.
	TimeoutPolicy timeout.Policy

	// CallTimeout bounds the whole call, including every retry and
	// follow-up and the reading of the final response body. Zero means
	// no bound.
	CallTimeout time.Duration

	// Cache stores responses. If nil, nothing is cached.
	Cache cache.Store

	// CacheStrategy holds the caching rules used with Cache.
	CacheStrategy cache.Strategy

	// Jar supplies cookies to requests and stores cookies from
	// responses. If nil, cookies are neither sent nor stored.
	Jar http.CookieJar

	// Authenticator answers authentication challenges. If nil, 401
	// and 407 responses are returned as they are.
	Authenticator Authenticator

	// MaxRedirects caps the number of follow-up requests one call may
	// make. If zero, DefaultMaxRedirects is used. If negative, no
	// follow-up is made: the first redirect or authentication challenge
	// ends the call with a *TooManyRedirectsError whose Max is zero. To
	// receive redirect responses as they are, use DisableRedirects.
	MaxRedirects int

	// DisableRedirects returns redirect responses as they are instead
	// of following them.
	DisableRedirects bool

	// DisableSSLRedirects refuses to follow redirects which switch
	// between https and http.
	DisableSSLRedirects bool

	// DisableCompression stops the bridge stage from asking for
	// compressed responses.
	DisableCompression bool

	// UserAgent is sent when a plan has no User-Agent header. If
	// empty, "httpcall/" followed by Version is sent.
	UserAgent string

	// Handlers allows custom handler chains to be invoked when
	// designated events occur during a call.
	//
	// If Handlers is nil, no custom handlers will be run.
	Handlers *HandlerGroup

	// Logger receives debug messages about calls. If nil, nothing is
	// logged.
	Logger *zap.Logger
}

// NewCall prepares a call for p.
func (c *Client) NewCall(p *request.Plan) *Call {
	return newCall(c, p)
}

// Enqueue prepares a call for p and schedules it on the client's
// dispatcher. It is shorthand for c.NewCall(p).Enqueue(cb), returning
// the call.
func (c *Client) Enqueue(p *request.Plan, cb Callback) *Call {
	return Enqueue(c, p, cb)
}

// Do executes p synchronously and returns the final response. It is
// shorthand for c.NewCall(p).Execute(). The caller must close the
// response body.
//
// A non-2XX status code does not result in an error. Any returned
// error is a *url.Error; use errors.Is and errors.As to find the
// underlying cause.
//
// For simple use cases, the Get, Head, Post, and PostForm methods may
// prove easier to use than Do.
func (c *Client) Do(p *request.Plan) (*request.Response, error) {
	return c.NewCall(p).Execute()
}

// Get issues a GET to the specified URL, using the same policies
// followed by Do.
//
// To make a request plan with custom headers, use request.NewPlan and
// Client.Do.
func (c *Client) Get(url string) (*request.Response, error) {
	return Get(c, url)
}

// Head issues a HEAD to the specified URL, using the same policies
// followed by Do.
//
// To make a request plan with custom headers, use request.NewPlan and
// Client.Do.
func (c *Client) Head(url string) (*request.Response, error) {
	return Head(c, url)
}

// Post issues a POST to the specified URL, using the same policies
// followed by Do.
//
// The body parameter may be nil for an empty body, or may be any of the
// types supported by request.NewPlan, request.BodyBytes, and httpcall.Post,
// namely: string; []byte; io.Reader; and io.ReadCloser.
//
// To make a request plan with custom headers, use request.NewPlan and
// Client.Do.
func (c *Client) Post(url, contentType string, body interface{}) (*request.Response, error) {
	return Post(c, url, contentType, body)
}

// PostForm issues a POST to the specified URL, with data's keys and
// values URL-encoded as the request body.
//
// The Content-Type header is set to application/x-www-form-urlencoded.
// To set other headers, use request.NewPlan and Client.Do.
func (c *Client) PostForm(url string, data url.Values) (*request.Response, error) {
	return PostForm(c, url, data)
}

// CloseIdleConnections closes the idle connections of the client's
// connection provider, if the provider supports it.
func (c *Client) CloseIdleConnections() {
	if ic, ok := c.connProvider().(interface{ CloseIdle() int }); ok {
		ic.CloseIdle()
	}
}

// interceptors builds the pipeline for one call.
func (c *Client) interceptors() []Interceptor {
	list := make([]Interceptor, 0, len(c.Interceptors)+len(c.NetworkInterceptors)+5)
	list = append(list, c.Interceptors...)
	list = append(list, followUpInterceptor{}, bridgeInterceptor{}, cacheInterceptor{}, connectInterceptor{})
	list = append(list, c.NetworkInterceptors...)
	return append(list, transferInterceptor{})
}

func (c *Client) dispatcher() *Dispatcher {
	if c.Dispatcher == nil {
		return DefaultDispatcher
	}
	return c.Dispatcher
}

func (c *Client) connProvider() conn.Provider {
	if c.ConnProvider == nil {
		return conn.DefaultPool
	}
	return c.ConnProvider
}

func (c *Client) retryPolicy() retry.Policy {
	if c.RetryPolicy == nil {
		return retry.DefaultPolicy
	}
	return c.RetryPolicy
}

func (c *Client) timeoutPolicy() timeout.Policy {
	if c.TimeoutPolicy == nil {
		return timeout.DefaultPolicy
	}
	return c.TimeoutPolicy
}

func (c *Client) maxRedirects() int {
	switch {
	case c.MaxRedirects == 0:
		return DefaultMaxRedirects
	case c.MaxRedirects < 0:
		return 0
	}
	return c.MaxRedirects
}

func (c *Client) userAgent() string {
	if c.UserAgent == "" {
		return "httpcall/" + Version
	}
	return c.UserAgent
}

func (c *Client) handlers() *HandlerGroup {
	if c.Handlers == nil {
		return &emptyHandlers
	}
	return c.Handlers
}

func (c *Client) logger() *zap.Logger {
	if c.Logger == nil {
		return nopLogger
	}
	return c.Logger
}
