// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Control holds the directives of the Cache-Control header fields of a
// request or response, per RFC 7234 section 5.2. Durations are -1 when
// the directive is absent.
type Control struct {
	NoCache        bool
	NoStore        bool
	MaxAge         time.Duration
	SMaxAge        time.Duration
	Private        bool
	Public         bool
	MustRevalidate bool
	MaxStale       time.Duration
	MinFresh       time.Duration
	OnlyIfCached   bool
	NoTransform    bool
	Immutable      bool
}

// MaxStaleAny is the MaxStale value of a bare max-stale directive,
// which accepts a stale response of any age.
const MaxStaleAny = time.Duration(math.MaxInt64)

// ParseControl parses the Cache-Control fields of h. A "Pragma:
// no-cache" field is honoured when no Cache-Control field is present.
func ParseControl(h http.Header) Control {
	c := Control{MaxAge: -1, SMaxAge: -1, MaxStale: -1, MinFresh: -1}
	values := h.Values("Cache-Control")
	if len(values) == 0 {
		for _, v := range h.Values("Pragma") {
			for _, d := range strings.Split(v, ",") {
				if strings.EqualFold(strings.TrimSpace(d), "no-cache") {
					c.NoCache = true
				}
			}
		}
		return c
	}
	for _, v := range values {
		for _, d := range strings.Split(v, ",") {
			name, arg := splitDirective(d)
			switch name {
			case "no-cache":
				c.NoCache = true
			case "no-store":
				c.NoStore = true
			case "max-age":
				c.MaxAge = seconds(arg, -1)
			case "s-maxage":
				c.SMaxAge = seconds(arg, -1)
			case "private":
				c.Private = true
			case "public":
				c.Public = true
			case "must-revalidate", "proxy-revalidate":
				c.MustRevalidate = true
			case "max-stale":
				c.MaxStale = seconds(arg, MaxStaleAny)
			case "min-fresh":
				c.MinFresh = seconds(arg, -1)
			case "only-if-cached":
				c.OnlyIfCached = true
			case "no-transform":
				c.NoTransform = true
			case "immutable":
				c.Immutable = true
			}
		}
	}
	return c
}

func splitDirective(d string) (name, arg string) {
	d = strings.TrimSpace(d)
	if i := strings.IndexByte(d, '='); i >= 0 {
		name = d[:i]
		arg = strings.Trim(strings.TrimSpace(d[i+1:]), `"`)
	} else {
		name = d
	}
	return strings.ToLower(strings.TrimSpace(name)), arg
}

// seconds parses a delta-seconds argument. An empty argument yields
// def; an unparseable one yields -1. Overflowing values saturate.
func seconds(arg string, def time.Duration) time.Duration {
	if arg == "" {
		return def
	}
	n, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange && !strings.HasPrefix(arg, "-") {
			return MaxStaleAny
		}
		return -1
	}
	if n < 0 {
		return -1
	}
	if n > math.MaxInt64/int64(time.Second) {
		return MaxStaleAny
	}
	return time.Duration(n) * time.Second
}
