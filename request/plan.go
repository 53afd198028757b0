// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	urlpkg "net/url"
	"strings"

	"golang.org/x/net/http/httpguts"
)

var (
	template, _ = http.NewRequest("GET", "", nil)
)

const (
	nilCtxMsg = "httpcall/request: nil context"
	nilURLMsg = "httpcall/request: nil URL"
)

// A Plan is an immutable logical HTTP request.
//
// A Plan describes how to make a logical HTTP request. Executing it may
// result in several lower-level exchanges over the network, for example
// when a failed attempt is retried or a redirect is followed. Each of
// those exchanges is described by a Plan derived from the original
// using one of the With methods: a Plan is never modified in place.
//
// The accessors of Plan return copies of reference-typed state (the URL
// and the header), so callers cannot change a Plan behind the back of
// the call executing it.
//
// Like http.Request, a Plan has a context which controls the overall
// execution and can be used to cancel an in-flight call at any time.
type Plan struct {
	method string
	url    *urlpkg.URL
	header http.Header
	body   []byte
	host   string
	close  bool
	ctx    context.Context
}

// NewPlan wraps NewPlanWithContext using the background context.
//
// Parameter body may be nil (empty body), or it may be a string,
// []byte, io.Reader, or io.ReadCloser. If body is an io.Reader, it is
// read to the end and buffered into a []byte. If body is an
// io.ReadCloser, it is closed after buffering.
func NewPlan(method, url string, body interface{}) (*Plan, error) {
	return NewPlanWithContext(context.Background(), method, url, body)
}

// NewPlanWithContext returns a new Plan given a method, URL, and
// optional body.
//
// Parameter body may be nil (empty body), or it may be a string,
// []byte, io.Reader, or io.ReadCloser. If body is an io.Reader, it is
// read to the end and buffered into a []byte. If body is an
// io.ReadCloser, it is closed after buffering.
func NewPlanWithContext(ctx context.Context, method, url string, body interface{}) (*Plan, error) {
	if ctx == nil {
		return nil, errors.New(nilCtxMsg)
	}
	if method == "" {
		method = "GET"
	}
	if !validMethod(method) {
		return nil, fmt.Errorf("httpcall/request: invalid method %q", method)
	}
	u, err := urlpkg.Parse(url)
	if err != nil {
		return nil, err
	}
	u.Host = removeEmptyPort(u.Host)
	b, err := BodyBytes(body)
	if err != nil {
		return nil, err
	}
	return &Plan{
		ctx:    ctx,
		method: method,
		url:    u,
		header: make(http.Header),
		body:   b,
		host:   u.Host,
	}, nil
}

// Method returns the HTTP method. It is never empty for a Plan built by
// NewPlan or NewPlanWithContext.
func (p *Plan) Method() string {
	return p.method
}

// URL returns a copy of the URL to access.
func (p *Plan) URL() *urlpkg.URL {
	if p.url == nil {
		return nil
	}
	u := *p.url
	if p.url.User != nil {
		user := *p.url.User
		u.User = &user
	}
	return &u
}

// URLString returns the string form of the URL to access.
func (p *Plan) URLString() string {
	if p.url == nil {
		return ""
	}
	return p.url.String()
}

// Hostname returns the host name of the URL without any port number.
func (p *Plan) Hostname() string {
	if p.url == nil {
		return ""
	}
	return p.url.Hostname()
}

// Header returns a copy of the request header fields.
func (p *Plan) Header() http.Header {
	return p.header.Clone()
}

// HeaderValue returns the first value associated with the given header
// key, as http.Header.Get does.
func (p *Plan) HeaderValue(key string) string {
	return p.header.Get(key)
}

// HeaderValues returns a copy of all values associated with the given
// header key.
func (p *Plan) HeaderValues(key string) []string {
	vs := p.header.Values(key)
	if vs == nil {
		return nil
	}
	return append([]string(nil), vs...)
}

// Body returns a copy of the pre-buffered request body. A nil or empty
// body means no request body is sent.
func (p *Plan) Body() []byte {
	if p.body == nil {
		return nil
	}
	return append([]byte(nil), p.body...)
}

// ContentLength returns the length of the request body.
func (p *Plan) ContentLength() int64 {
	return int64(len(p.body))
}

// HasBody reports whether the plan has a non-empty request body.
func (p *Plan) HasBody() bool {
	return len(p.body) > 0
}

// Host returns the Host header value to send. If empty, the host of the
// URL is used.
func (p *Plan) Host() string {
	return p.host
}

// Close reports whether the connection should be closed after the
// exchange instead of being returned to the pool.
func (p *Plan) Close() bool {
	return p.close
}

// Context returns the request plan's context. The context controls
// cancellation of the overall call. To change the context, use
// WithContext.
//
// The returned context is always non-nil; it defaults to the
// background context.
func (p *Plan) Context() context.Context {
	if p.ctx != nil {
		return p.ctx
	}
	return context.Background()
}

// WithContext returns a copy of p with its context changed to ctx,
// which must be non-nil.
//
// The context controls the entire lifetime of a call: acquiring
// connections, sending the request, reading the response headers and
// body, running event handlers, and waiting between retries.
func (p *Plan) WithContext(ctx context.Context) *Plan {
	if ctx == nil {
		panic(nilCtxMsg)
	}
	p2 := p.clone()
	p2.ctx = ctx
	return p2
}

// WithHeader returns a copy of p with the header key set to value,
// replacing any existing values.
func (p *Plan) WithHeader(key, value string) *Plan {
	p2 := p.clone()
	p2.header.Set(key, value)
	return p2
}

// WithAddedHeader returns a copy of p with value appended to the values
// of the header key.
func (p *Plan) WithAddedHeader(key, value string) *Plan {
	p2 := p.clone()
	p2.header.Add(key, value)
	return p2
}

// WithoutHeader returns a copy of p with all values of the header key
// removed.
func (p *Plan) WithoutHeader(keys ...string) *Plan {
	p2 := p.clone()
	for _, key := range keys {
		p2.header.Del(key)
	}
	return p2
}

// WithHeaders returns a copy of p whose header is replaced by a copy
// of h.
func (p *Plan) WithHeaders(h http.Header) *Plan {
	p2 := p.clone()
	p2.header = h.Clone()
	if p2.header == nil {
		p2.header = make(http.Header)
	}
	return p2
}

// WithMethod returns a copy of p using the given method and body. The
// body parameter accepts the same types as NewPlan.
func (p *Plan) WithMethod(method string, body interface{}) (*Plan, error) {
	if method == "" {
		method = "GET"
	}
	if !validMethod(method) {
		return nil, fmt.Errorf("httpcall/request: invalid method %q", method)
	}
	b, err := BodyBytes(body)
	if err != nil {
		return nil, err
	}
	p2 := p.clone()
	p2.method = method
	p2.body = b
	return p2, nil
}

// WithBody returns a copy of p with its body replaced. The body
// parameter accepts the same types as NewPlan.
func (p *Plan) WithBody(body interface{}) (*Plan, error) {
	b, err := BodyBytes(body)
	if err != nil {
		return nil, err
	}
	p2 := p.clone()
	p2.body = b
	return p2, nil
}

// WithURL returns a copy of p targeting u. The Host override is reset to
// the host of u.
func (p *Plan) WithURL(u *urlpkg.URL) *Plan {
	if u == nil {
		panic(nilURLMsg)
	}
	p2 := p.clone()
	u2 := *u
	u2.Host = removeEmptyPort(u2.Host)
	p2.url = &u2
	p2.host = u2.Host
	return p2
}

// WithHost returns a copy of p which sends host in the Host header
// instead of the host of the URL.
func (p *Plan) WithHost(host string) *Plan {
	p2 := p.clone()
	p2.host = host
	return p2
}

// WithClose returns a copy of p which asks for the connection to be
// closed after the exchange.
func (p *Plan) WithClose(close bool) *Plan {
	p2 := p.clone()
	p2.close = close
	return p2
}

// WithCookie returns a copy of p with the cookie added. Per RFC 6265
// section 5.4, WithCookie does not attach more than one Cookie header
// field. That means all cookies, if any, are written into the same
// line, separated by semicolons.
//
// WithCookie only sanitizes c's name and value, and does not sanitize
// a Cookie header already present in the request.
func (p *Plan) WithCookie(c *http.Cookie) *Plan {
	c2 := &http.Cookie{Name: c.Name, Value: c.Value}
	s := c2.String()
	if h := p.header.Get("Cookie"); h != "" {
		return p.WithHeader("Cookie", h+"; "+s)
	}
	return p.WithHeader("Cookie", s)
}

// WithBasicAuth returns a copy of p whose Authorization header uses
// HTTP Basic Authentication with the provided username and password.
//
// With HTTP Basic Authentication the provided username and password
// are not encrypted.
func (p *Plan) WithBasicAuth(username, password string) *Plan {
	return p.WithHeader("Authorization", "Basic "+basicAuth(username, password))
}

// Validate checks that the method, URL and header fields of p may be
// written to the wire.
func (p *Plan) Validate() error {
	if !validMethod(p.method) {
		return fmt.Errorf("httpcall/request: invalid method %q", p.method)
	}
	if p.url == nil {
		return errors.New(nilURLMsg)
	}
	for k, vv := range p.header {
		if !httpguts.ValidHeaderFieldName(k) {
			return fmt.Errorf("httpcall/request: invalid header field name %q", k)
		}
		for _, v := range vv {
			if !httpguts.ValidHeaderFieldValue(v) {
				return fmt.Errorf("httpcall/request: invalid header field value for %q", k)
			}
		}
	}
	return nil
}

// ToRequest creates an HTTP request corresponding to the given request
// plan. The context of the new request is set to ctx, which may not be
// nil. The returned request owns a private copy of the header.
func (p *Plan) ToRequest(ctx context.Context) *http.Request {
	r := template.WithContext(ctx)
	r.Method = p.method
	r.URL = p.URL()
	r.Header = p.header.Clone()
	if len(p.body) > 0 {
		body := p.body
		r.Body = io.NopCloser(bytes.NewReader(body))
		r.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
		r.ContentLength = int64(len(body))
	}
	r.Close = p.close
	r.Host = p.host
	return r
}

func (p *Plan) clone() *Plan {
	p2 := new(Plan)
	*p2 = *p
	p2.header = p.header.Clone()
	if p2.header == nil {
		p2.header = make(http.Header)
	}
	return p2
}

// basicAuth is lifted verbatim from net/http/client.go.
//
// See 2 (end of page 4) https://www.ietf.org/rfc/rfc2617.txt
// "To receive authorization, the client sends the userid and password,
// separated by a single colon (":") character, within a base64
// encoded string in the credentials."
// It is not meant to be urlencoded.
func basicAuth(username, password string) string {
	auth := username + ":" + password
	return base64.StdEncoding.EncodeToString([]byte(auth))
}

func validMethod(method string) bool {
	/*
	     Method         = "OPTIONS"                ; Section 9.2
	                    | "GET"                    ; Section 9.3
	                    | "HEAD"                   ; Section 9.4
	                    | "POST"                   ; Section 9.5
	                    | "PUT"                    ; Section 9.6
	                    | "DELETE"                 ; Section 9.7
	                    | "TRACE"                  ; Section 9.8
	                    | "CONNECT"                ; Section 9.9
	                    | extension-method
	   extension-method = token
	     token          = 1*<any CHAR except CTLs or separators>
	*/
	return len(method) > 0 && strings.IndexFunc(method, isNotToken) == -1
}

func isNotToken(r rune) bool {
	return !httpguts.IsTokenRune(r)
}

// hasPort is lifted verbatim from net/http/http.go
//
// Given a string of the form "host", "host:port", or "[ipv6::address]:port",
// return true if the string includes a port.
func hasPort(s string) bool { return strings.LastIndex(s, ":") > strings.LastIndex(s, "]") }

// removeEmptyPort is lifted verbatim from net/http/http.go
//
// removeEmptyPort strips the empty port in ":port" to ""
// as mandated by RFC 3986 Section 6.2.3.
func removeEmptyPort(host string) string {
	if hasPort(host) {
		return strings.TrimSuffix(host, ":")
	}
	return host
}
