// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"io"
	"net/http"
	"strings"
	"time"
)

// A Response is the HTTP response to a Plan.
//
// Responses are treated as immutable once they leave the stage which
// produced them. A stage wishing to change a response on its way back
// to the caller makes a Clone and changes the clone.
//
// The Body of a Response is a single-consumption stream. It is never
// nil, and the consumer must close it. When the response came from the
// network, the underlying connection is only returned to the pool when
// the body is read to the end or closed.
type Response struct {
	// StatusCode is the HTTP status code, for example 200.
	StatusCode int

	// Status is the status line text, for example "200 OK".
	Status string

	// Proto is the protocol version, for example "HTTP/1.1".
	Proto      string
	ProtoMajor int
	ProtoMinor int

	// Header contains the response header fields.
	Header http.Header

	// Body is the response body. It is never nil. Responses which have
	// no body, and the body-less Prior, Network and Cached responses,
	// use http.NoBody.
	Body io.ReadCloser

	// ContentLength records the length of the body, or -1 if unknown.
	ContentLength int64

	// Plan is the request plan which produced this response. This may
	// differ from the plan given to the call, for example after a
	// redirect, or after the request headers were bridged.
	Plan *Plan

	// Prior is the response which triggered the follow-up producing
	// this response, if any. It has no body.
	Prior *Response

	// Network is the raw response received from the network, if any.
	// It has no body. Network is nil if the response was served
	// entirely from the cache.
	Network *Response

	// Cached is the cached response used to produce this response, if
	// any. It has no body. When both Network and Cached are set, the
	// response is the result of a conditional revalidation.
	Cached *Response

	// SentAt is the time the request headers were written to the
	// network. For cached responses this is the time of the original
	// exchange.
	SentAt time.Time

	// ReceivedAt is the time the response headers were read from the
	// network.
	ReceivedAt time.Time
}

// NewResponse converts an http.Response, as read off the wire, into a
// Response for the given plan. The Body of r becomes the Body of the
// returned response.
func NewResponse(p *Plan, r *http.Response, sentAt, receivedAt time.Time) *Response {
	body := r.Body
	if body == nil {
		body = http.NoBody
	}
	header := r.Header
	if header == nil {
		header = make(http.Header)
	}
	return &Response{
		StatusCode:    r.StatusCode,
		Status:        r.Status,
		Proto:         r.Proto,
		ProtoMajor:    r.ProtoMajor,
		ProtoMinor:    r.ProtoMinor,
		Header:        header,
		Body:          body,
		ContentLength: r.ContentLength,
		Plan:          p,
		SentAt:        sentAt,
		ReceivedAt:    receivedAt,
	}
}

// Clone returns a shallow copy of r with its own copy of the header.
// The body is shared with r; only one of the two should be consumed.
func (r *Response) Clone() *Response {
	r2 := new(Response)
	*r2 = *r
	r2.Header = r.Header.Clone()
	if r2.Header == nil {
		r2.Header = make(http.Header)
	}
	return r2
}

// StripBody returns a clone of r whose body is http.NoBody. It is used
// to build the Prior, Network and Cached references, which must not
// hold on to a live body.
func (r *Response) StripBody() *Response {
	if r == nil {
		return nil
	}
	r2 := r.Clone()
	r2.Body = http.NoBody
	return r2
}

// Successful reports whether the status code is in the 2XX range.
func (r *Response) Successful() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Redirect reports whether the status code is one which may be
// followed to another location.
func (r *Response) Redirect() bool {
	switch r.StatusCode {
	case 300, 301, 302, 303, 307, 308:
		return true
	default:
		return false
	}
}

// HasBody reports whether the response, according to its status code
// and headers, carries a body. Responses to HEAD requests, 1XX, 204
// and 304 never do.
func (r *Response) HasBody() bool {
	if r.Plan != nil && r.Plan.Method() == "HEAD" {
		return false
	}
	if (r.StatusCode >= 100 && r.StatusCode < 200) || r.StatusCode == 204 || r.StatusCode == 304 {
		return r.ContentLength > 0 || strings.EqualFold(r.Header.Get("Transfer-Encoding"), "chunked")
	}
	return true
}

// ToHTTP converts r into an http.Response. The Body of r becomes the
// Body of the returned response.
func (r *Response) ToHTTP() *http.Response {
	h := &http.Response{
		Status:        r.Status,
		StatusCode:    r.StatusCode,
		Proto:         r.Proto,
		ProtoMajor:    r.ProtoMajor,
		ProtoMinor:    r.ProtoMinor,
		Header:        r.Header,
		Body:          r.Body,
		ContentLength: r.ContentLength,
	}
	if r.Plan != nil {
		h.Request = r.Plan.ToRequest(r.Plan.Context())
	}
	return h
}
