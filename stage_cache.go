// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpcall

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/gogama/httpcall/cache"
	"github.com/gogama/httpcall/request"
)

// maxCacheBody is the largest response body the cache stage stores.
const maxCacheBody = 8 << 20

// cacheInterceptor answers requests from the client's cache store when
// the caching rules allow, revalidates stale entries, and stores
// cacheable network responses.
type cacheInterceptor struct{}

func (cacheInterceptor) Intercept(ch Chain) (*request.Response, error) {
	cl := ch.Call().client
	store := cl.Cache
	p := ch.Plan()
	if store == nil {
		return ch.Proceed(p)
	}

	e := ch.Execution()
	logger := ch.(*chain).co.logger
	// Store writes may happen after the call ended.
	ctx := context.WithoutCancel(ch.Context())
	key := cache.Key(p.URL())

	if p.Method() != "GET" {
		resp, err := ch.Proceed(p)
		if err == nil && cache.Invalidates(p.Method()) && resp.StatusCode < 400 {
			if rerr := store.Remove(ctx, key); rerr != nil {
				logger.Warn("cache remove failed", zap.Error(rerr))
			}
		}
		return resp, err
	}

	entry, err := store.Get(ctx, key)
	if err != nil {
		logger.Warn("cache get failed", zap.Error(err))
		entry = nil
	}
	now := time.Now()
	strategy := cl.CacheStrategy
	d := strategy.Decide(now, p, entry)

	switch {
	case d.Network == nil && d.Cached == nil:
		e.CacheStatus = request.CacheUnsatisfiable
		cl.handlers().run(AfterCacheLookup, e)
		return &request.Response{
			StatusCode:    http.StatusGatewayTimeout,
			Status:        "504 Unsatisfiable Request (only-if-cached)",
			Proto:         "HTTP/1.1",
			ProtoMajor:    1,
			ProtoMinor:    1,
			Header:        make(http.Header),
			Body:          http.NoBody,
			ContentLength: 0,
			Plan:          p,
			SentAt:        now,
			ReceivedAt:    now,
		}, nil
	case d.Network == nil:
		e.CacheStatus = request.CacheHit
		cl.handlers().run(AfterCacheLookup, e)
		r := d.Cached.Response(p)
		for _, w := range d.Warnings {
			r.Header.Add("Warning", w)
		}
		r.Cached = d.Cached.BodilessResponse(p)
		return r, nil
	case d.Cached == nil:
		e.CacheStatus = request.CacheMiss
	default:
		e.CacheStatus = request.CacheConditionalMiss
	}
	cl.handlers().run(AfterCacheLookup, e)

	resp, err := ch.Proceed(d.Network)
	if err != nil {
		return nil, err
	}

	if d.Cached != nil && resp.StatusCode == http.StatusNotModified {
		e.CacheStatus = request.CacheConditionalHit
		discard(resp.Body)
		merged := d.Cached.Response(p)
		merged.Header = cache.CombineHeaders(d.Cached.Header, resp.Header)
		merged.SentAt = resp.SentAt
		merged.ReceivedAt = resp.ReceivedAt
		merged.Network = resp.StripBody()
		merged.Cached = d.Cached.BodilessResponse(p)
		merged.Prior = resp.Prior

		refreshed := *d.Cached
		refreshed.Header = merged.Header.Clone()
		refreshed.SentAt = resp.SentAt
		refreshed.ReceivedAt = resp.ReceivedAt
		if err = store.Put(ctx, key, &refreshed); err != nil {
			logger.Warn("cache update failed", zap.Error(err))
		}
		return merged, nil
	}

	r := resp.Clone()
	r.Plan = p
	r.Network = resp.StripBody()
	if d.Cached != nil {
		r.Cached = d.Cached.BodilessResponse(p)
	}
	if !strategy.Storable(r, p) {
		return r, nil
	}
	put := func(body []byte) {
		if perr := store.Put(ctx, key, cache.NewEntry(r, body)); perr != nil {
			logger.Warn("cache put failed", zap.Error(perr))
		}
	}
	if !r.HasBody() {
		put(nil)
		return r, nil
	}
	r.Body = &storingBody{rc: resp.Body, put: put, limit: maxCacheBody}
	return r, nil
}

// storingBody copies a response body as the caller reads it, and
// stores the copy once the body has been read to the end. Nothing is
// stored if the body is closed early, fails, or exceeds the limit.
type storingBody struct {
	rc       io.ReadCloser
	put      func(body []byte)
	limit    int
	buf      bytes.Buffer
	overflow bool
	done     bool
}

func (b *storingBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if n > 0 && !b.overflow && !b.done {
		if b.buf.Len()+n > b.limit {
			b.overflow = true
			b.buf = bytes.Buffer{}
		} else {
			b.buf.Write(p[:n])
		}
	}
	if err != nil && !b.done {
		b.done = true
		if err == io.EOF && !b.overflow {
			b.put(b.buf.Bytes())
		}
	}
	return n, err
}

func (b *storingBody) Close() error {
	b.done = true
	return b.rc.Close()
}
