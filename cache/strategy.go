// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gogama/httpcall/request"
)

// A Decision is the outcome of evaluating a request against a stored
// entry.
//
// If Network is nil the request must not use the network: Cached, if
// non-nil, answers the request, and if Cached is also nil the request
// is unsatisfiable (it demanded only-if-cached). If Network is non-nil
// it is the plan to send; when Cached is also non-nil, Network is a
// conditional request revalidating Cached.
type Decision struct {
	Network *request.Plan
	Cached  *Entry
	// Warnings holds Warning header values to add to a response served
	// from Cached without revalidation.
	Warnings []string
}

// A Strategy applies HTTP caching rules (RFC 7234) to decide how a
// request is answered.
type Strategy struct {
	// Shared makes the strategy behave as a shared cache: s-maxage
	// takes precedence over max-age, and private responses are not
	// stored.
	Shared bool
}

// Decide evaluates p against e, a stored entry for the same URL or nil,
// at time now.
func (s Strategy) Decide(now time.Time, p *request.Plan, e *Entry) Decision {
	d := s.decide(now, p, e)
	if d.Network != nil && ParseControl(p.Header()).OnlyIfCached {
		return Decision{}
	}
	return d
}

func (s Strategy) decide(now time.Time, p *request.Plan, e *Entry) Decision {
	if e == nil || !e.Matches(p) {
		return Decision{Network: p}
	}
	resp := e.BodilessResponse(p)
	if !s.Storable(resp, p) {
		return Decision{Network: p}
	}
	reqCC := ParseControl(p.Header())
	if reqCC.NoCache || hasConditions(p) {
		return Decision{Network: p}
	}
	respCC := ParseControl(e.Header)
	if respCC.Immutable {
		return Decision{Cached: e}
	}

	age := s.age(now, e)
	fresh := s.freshness(e, respCC, p)
	if reqCC.MaxAge >= 0 && reqCC.MaxAge < fresh {
		fresh = reqCC.MaxAge
	}
	var minFresh time.Duration
	if reqCC.MinFresh >= 0 {
		minFresh = reqCC.MinFresh
	}
	var maxStale time.Duration
	if !respCC.MustRevalidate && reqCC.MaxStale >= 0 {
		maxStale = reqCC.MaxStale
	}

	if !respCC.NoCache && saturatingAdd(age, minFresh) < saturatingAdd(fresh, maxStale) {
		var warnings []string
		if saturatingAdd(age, minFresh) >= fresh {
			warnings = append(warnings, `110 - "Response is stale"`)
		}
		const oneDay = 24 * time.Hour
		if age > oneDay && s.heuristic(e, respCC) {
			warnings = append(warnings, `113 - "Heuristic expiration"`)
		}
		return Decision{Cached: e, Warnings: warnings}
	}

	// Find a validator to revalidate the entry with.
	var name, value string
	if etag := e.Header.Get("ETag"); etag != "" {
		name, value = "If-None-Match", etag
	} else if lm := e.Header.Get("Last-Modified"); lm != "" {
		name, value = "If-Modified-Since", lm
	} else if date := e.Header.Get("Date"); date != "" {
		name, value = "If-Modified-Since", date
	} else {
		return Decision{Network: p}
	}
	return Decision{Network: p.WithHeader(name, value), Cached: e}
}

// Storable reports whether resp, a response to p, may be stored.
func (s Strategy) Storable(resp *request.Response, p *request.Plan) bool {
	respCC := ParseControl(resp.Header)
	switch resp.StatusCode {
	case 200, 203, 204, 300, 301, 308, 404, 405, 410, 414, 501:
	case 302, 307:
		if resp.Header.Get("Expires") == "" && respCC.MaxAge < 0 &&
			!respCC.Public && !respCC.Private && (!s.Shared || respCC.SMaxAge < 0) {
			return false
		}
	default:
		return false
	}
	if s.Shared && respCC.Private {
		return false
	}
	if s.Shared && p.HeaderValue("Authorization") != "" && !respCC.Public && !respCC.MustRevalidate && respCC.SMaxAge < 0 {
		return false
	}
	return !respCC.NoStore && !ParseControl(p.Header()).NoStore
}

// Invalidates reports whether a successful request using method
// invalidates the stored entry for its URL.
func Invalidates(method string) bool {
	switch method {
	case "POST", "PUT", "PATCH", "DELETE", "MOVE":
		return true
	default:
		return false
	}
}

// age returns the current age of e per RFC 7234 section 4.2.3.
func (s Strategy) age(now time.Time, e *Entry) time.Duration {
	var apparent time.Duration
	if served, ok := httpDate(e.Header, "Date"); ok {
		apparent = e.ReceivedAt.Sub(served)
		if apparent < 0 {
			apparent = 0
		}
	}
	received := apparent
	if v := e.Header.Get("Age"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			if a := time.Duration(n) * time.Second; a > received {
				received = a
			}
		}
	}
	responseDuration := e.ReceivedAt.Sub(e.SentAt)
	if responseDuration < 0 {
		responseDuration = 0
	}
	resident := now.Sub(e.ReceivedAt)
	if resident < 0 {
		resident = 0
	}
	return received + responseDuration + resident
}

// freshness returns the freshness lifetime of e per RFC 7234 section
// 4.2.1: explicit directives first, then a heuristic of 10% of the
// time since Last-Modified.
func (s Strategy) freshness(e *Entry, cc Control, p *request.Plan) time.Duration {
	if s.Shared && cc.SMaxAge >= 0 {
		return cc.SMaxAge
	}
	if cc.MaxAge >= 0 {
		return cc.MaxAge
	}
	served, hasServed := httpDate(e.Header, "Date")
	if expires, ok := httpDate(e.Header, "Expires"); ok {
		base := e.ReceivedAt
		if hasServed {
			base = served
		}
		if d := expires.Sub(base); d > 0 {
			return d
		}
		return 0
	}
	if lm, ok := httpDate(e.Header, "Last-Modified"); ok && p.URL().RawQuery == "" {
		base := e.SentAt
		if hasServed {
			base = served
		}
		if d := base.Sub(lm); d > 0 {
			return d / 10
		}
	}
	return 0
}

func (s Strategy) heuristic(e *Entry, cc Control) bool {
	return cc.MaxAge < 0 && e.Header.Get("Expires") == ""
}

// CombineHeaders merges the headers of a stored response with those of
// a 304 Not Modified response revalidating it, per RFC 7234 section
// 4.3.4. End-to-end fields of the 304 replace the stored ones, except
// for fields describing the stored content. Stored 1XX warnings are
// dropped.
func CombineHeaders(cached, network http.Header) http.Header {
	result := make(http.Header, len(cached)+len(network))
	for name, values := range cached {
		if name == "Warning" {
			for _, v := range values {
				if !strings.HasPrefix(v, "1") {
					result.Add(name, v)
				}
			}
			continue
		}
		if contentSpecific(name) || !endToEnd(name) || network[name] == nil {
			result[name] = append([]string(nil), values...)
		}
	}
	for name, values := range network {
		if !contentSpecific(name) && endToEnd(name) {
			result[name] = append([]string(nil), values...)
		}
	}
	return result
}

func contentSpecific(name string) bool {
	switch name {
	case "Content-Length", "Content-Encoding", "Content-Type":
		return true
	default:
		return false
	}
}

func endToEnd(name string) bool {
	switch name {
	case "Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
		"Te", "Trailers", "Transfer-Encoding", "Upgrade":
		return false
	default:
		return true
	}
}

func hasConditions(p *request.Plan) bool {
	return p.HeaderValue("If-Modified-Since") != "" || p.HeaderValue("If-None-Match") != ""
}

func httpDate(h http.Header, name string) (time.Time, bool) {
	v := h.Get(name)
	if v == "" {
		return time.Time{}, false
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func saturatingAdd(a, b time.Duration) time.Duration {
	if c := a + b; c >= a {
		return c
	}
	return MaxStaleAny
}
