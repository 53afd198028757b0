// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang/snappy"

	"github.com/gogama/httpcall/request"
)

// MaxEntryBytes bounds the decoded size of a stored entry. Entries
// claiming to be larger are rejected when decoded.
const MaxEntryBytes = 64 << 20

// An Entry is a stored response together with the parts of the request
// needed to decide whether it can satisfy a later request.
type Entry struct {
	URL    string `json:"url"`
	Method string `json:"method"`

	// VaryHeader holds the values the original request had for each
	// header field named by the response Vary field.
	VaryHeader http.Header `json:"vary,omitempty"`

	StatusCode int         `json:"status_code"`
	Status     string      `json:"status"`
	Proto      string      `json:"proto"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"body,omitempty"`

	SentAt     time.Time `json:"sent_at"`
	ReceivedAt time.Time `json:"received_at"`
}

// NewEntry builds an entry from a response received from the network
// and its complete body.
func NewEntry(resp *request.Response, body []byte) *Entry {
	e := &Entry{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Proto:      resp.Proto,
		Header:     resp.Header.Clone(),
		Body:       body,
		SentAt:     resp.SentAt,
		ReceivedAt: resp.ReceivedAt,
	}
	if resp.Plan != nil {
		e.URL = resp.Plan.URLString()
		e.Method = resp.Plan.Method()
		for _, name := range varyFields(resp.Header) {
			if e.VaryHeader == nil {
				e.VaryHeader = make(http.Header)
			}
			e.VaryHeader[name] = resp.Plan.HeaderValues(name)
		}
	}
	return e
}

// Matches reports whether e may be used to answer p: the URL and
// method must be equal and every header field named by Vary must have
// the same values in p as in the request which produced e. A Vary
// field of "*" never matches.
func (e *Entry) Matches(p *request.Plan) bool {
	if e.URL != p.URLString() || e.Method != p.Method() {
		return false
	}
	for _, name := range varyFields(e.Header) {
		if name == "*" {
			return false
		}
		if !equalValues(e.VaryHeader[name], p.HeaderValues(name)) {
			return false
		}
	}
	return true
}

// Response builds a response to p from e. The body is served from
// memory.
func (e *Entry) Response(p *request.Plan) *request.Response {
	r := e.header(p)
	r.Body = io.NopCloser(bytes.NewReader(e.Body))
	r.ContentLength = int64(len(e.Body))
	return r
}

// BodilessResponse builds a response to p from e with no body, for use
// as the Cached link of another response.
func (e *Entry) BodilessResponse(p *request.Plan) *request.Response {
	r := e.header(p)
	r.Body = http.NoBody
	r.ContentLength = int64(len(e.Body))
	return r
}

func (e *Entry) header(p *request.Plan) *request.Response {
	return &request.Response{
		StatusCode: e.StatusCode,
		Status:     e.Status,
		Proto:      e.Proto,
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     e.Header.Clone(),
		Plan:       p,
		SentAt:     e.SentAt,
		ReceivedAt: e.ReceivedAt,
	}
}

// MarshalBinary encodes e as snappy-compressed JSON.
func (e *Entry) MarshalBinary() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, b), nil
}

// UnmarshalBinary decodes data produced by MarshalBinary into e.
func (e *Entry) UnmarshalBinary(data []byte) error {
	n, err := snappy.DecodedLen(data)
	if err != nil {
		return err
	}
	if n > MaxEntryBytes {
		return errors.New("httpcall/cache: entry too large")
	}
	b, err := snappy.Decode(nil, data)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, e)
}

func varyFields(h http.Header) []string {
	var names []string
	for _, v := range h.Values("Vary") {
		for _, name := range strings.Split(v, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if name != "*" {
				name = http.CanonicalHeaderKey(name)
			}
			names = append(names, name)
		}
	}
	return names
}

func equalValues(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
