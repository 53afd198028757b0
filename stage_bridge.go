// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpcall

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/net/http/httpguts"

	"github.com/gogama/httpcall/request"
)

// acceptEncoding is the Accept-Encoding value the bridge stage sends
// when the plan does not name one.
const acceptEncoding = "gzip, deflate, zstd"

// bridgeInterceptor turns the caller's plan into one ready for the
// network and the network response back into the one the caller sees.
// It never overwrites a header the caller set.
type bridgeInterceptor struct{}

func (bridgeInterceptor) Intercept(ch Chain) (*request.Response, error) {
	cl := ch.Call().client
	user := ch.Plan()
	p := user

	if p.HasBody() {
		if p.HeaderValue("Content-Type") == "" {
			p = p.WithHeader("Content-Type", http.DetectContentType(p.Body()))
		}
		if p.HeaderValue("Content-Length") == "" {
			p = p.WithHeader("Content-Length", strconv.FormatInt(p.ContentLength(), 10))
		}
	}
	host := p.Host()
	if host == "" {
		host = p.URL().Host
	}
	if host != "" {
		if ascii, err := httpguts.PunycodeHostPort(host); err == nil && ascii != host {
			p = p.WithHost(ascii)
		}
	}
	if p.HeaderValue("User-Agent") == "" {
		p = p.WithHeader("User-Agent", cl.userAgent())
	}
	transparent := false
	if p.HeaderValue("Accept-Encoding") == "" && p.HeaderValue("Range") == "" && !cl.DisableCompression {
		p = p.WithHeader("Accept-Encoding", acceptEncoding)
		transparent = true
	}
	if cl.Jar != nil && p.HeaderValue("Cookie") == "" {
		if cookies := cl.Jar.Cookies(p.URL()); len(cookies) > 0 {
			pairs := make([]string, len(cookies))
			for i, c := range cookies {
				pairs[i] = c.Name + "=" + c.Value
			}
			p = p.WithHeader("Cookie", strings.Join(pairs, "; "))
		}
	}

	resp, err := ch.Proceed(p)
	if err != nil {
		return nil, err
	}

	if cl.Jar != nil {
		if cookies := (&http.Response{Header: resp.Header}).Cookies(); len(cookies) > 0 {
			cl.Jar.SetCookies(user.URL(), cookies)
		}
	}

	r := resp.Clone()
	r.Plan = user
	if transparent && r.HasBody() {
		if enc := strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Encoding"))); decodable(enc) {
			r.Body = &decodingBody{rc: resp.Body, encoding: enc}
			r.Header.Del("Content-Encoding")
			r.Header.Del("Content-Length")
			r.ContentLength = -1
		}
	}
	return r, nil
}

func decodable(encoding string) bool {
	switch encoding {
	case "gzip", "x-gzip", "deflate", "zstd":
		return true
	default:
		return false
	}
}

// decodingBody decompresses a response body. The decoder is created on
// the first Read so that the stage never blocks on the body.
type decodingBody struct {
	rc       io.ReadCloser
	encoding string
	r        io.Reader
	close    func()
	err      error
}

func (b *decodingBody) Read(p []byte) (int, error) {
	if b.r == nil && b.err == nil {
		b.init()
	}
	if b.err != nil {
		return 0, b.err
	}
	return b.r.Read(p)
}

func (b *decodingBody) init() {
	switch b.encoding {
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(b.rc)
		if err != nil {
			b.err = err
			return
		}
		b.r, b.close = zr, func() { _ = zr.Close() }
	case "deflate":
		zr, err := zlib.NewReader(b.rc)
		if err != nil {
			b.err = err
			return
		}
		b.r, b.close = zr, func() { _ = zr.Close() }
	case "zstd":
		zr, err := zstd.NewReader(b.rc, zstd.WithDecoderConcurrency(1))
		if err != nil {
			b.err = err
			return
		}
		b.r, b.close = zr, zr.Close
	}
}

func (b *decodingBody) Close() error {
	if b.close != nil {
		b.close()
	}
	return b.rc.Close()
}
