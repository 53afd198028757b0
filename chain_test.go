// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpcall

import (
	"errors"
	"net/http"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogama/httpcall/request"
)

func TestChain_Proceed(t *testing.T) {
	t.Run("twice", func(t *testing.T) {
		var hits atomic.Int32
		server := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
			hits.Add(1)
			_, _ = w.Write([]byte("x"))
		})
		cl, prov := newTestClient(t, server)
		var second error
		cl.Interceptors = []Interceptor{InterceptorFunc(func(ch Chain) (*request.Response, error) {
			resp, err := ch.Proceed(ch.Plan())
			require.NoError(t, err)
			_ = resp.Body.Close()
			_, second = ch.Proceed(ch.Plan())
			return nil, second
		})}

		resp, err := cl.Get(server.URL)

		assert.Nil(t, resp)
		assert.Same(t, ErrChainReused, second)
		assert.ErrorIs(t, err, ErrChainReused)
		assert.Equal(t, int32(1), hits.Load())
		assert.Equal(t, int64(1), prov.released.Load())
	})
	t.Run("nil plan", func(t *testing.T) {
		cl, _ := newTestClient(t, httpServer)
		cl.Interceptors = []Interceptor{InterceptorFunc(func(ch Chain) (*request.Response, error) {
			return ch.Proceed(nil)
		})}

		_, err := cl.Get(httpServer.URL)

		assert.ErrorIs(t, err, errNilPlan)
	})
	t.Run("past the end", func(t *testing.T) {
		c := &chain{}
		_, err := c.Proceed(mustPlan(t, "GET", "http://example.com"))
		assert.Same(t, errChainEnd, err)
	})
	t.Run("nil response", func(t *testing.T) {
		cl, _ := newTestClient(t, httpServer)
		cl.Interceptors = []Interceptor{InterceptorFunc(func(Chain) (*request.Response, error) {
			return nil, nil
		})}

		_, err := cl.Get(httpServer.URL)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "returned a nil response")
	})
	t.Run("short circuit", func(t *testing.T) {
		cl, prov := newTestClient(t, httpServer)
		cl.Interceptors = []Interceptor{InterceptorFunc(func(ch Chain) (*request.Response, error) {
			assert.Nil(t, ch.Conn())
			assert.NotNil(t, ch.Context())
			assert.NotNil(t, ch.Execution())
			return &request.Response{
				StatusCode: 299,
				Header:     make(http.Header),
				Body:       http.NoBody,
				Plan:       ch.Plan(),
			}, nil
		})}

		resp, err := cl.Get(httpServer.URL)

		require.NoError(t, err)
		assert.Equal(t, 299, resp.StatusCode)
		assert.Equal(t, int64(0), prov.acquired.Load())
	})
	t.Run("interceptor error", func(t *testing.T) {
		boom := errors.New("boom")
		cl, _ := newTestClient(t, httpServer)
		cl.Interceptors = []Interceptor{InterceptorFunc(func(Chain) (*request.Response, error) {
			return nil, boom
		})}

		_, err := cl.Get(httpServer.URL)

		assert.ErrorIs(t, err, boom)
		var urlErr *url.Error
		require.ErrorAs(t, err, &urlErr)
		assert.Equal(t, "Get", urlErr.Op)
		assert.Equal(t, httpServer.URL, urlErr.URL)
	})
}

func TestChain_network(t *testing.T) {
	t.Run("must proceed", func(t *testing.T) {
		cl, prov := newTestClient(t, httpServer)
		cl.NetworkInterceptors = []Interceptor{InterceptorFunc(func(ch Chain) (*request.Response, error) {
			require.NotNil(t, ch.Conn())
			return &request.Response{StatusCode: 200, Header: make(http.Header), Body: http.NoBody}, nil
		})}

		resp, err := cl.Get(httpServer.URL)

		assert.Nil(t, resp)
		assert.ErrorIs(t, err, errNoProceed)
		assert.Equal(t, int64(1), prov.acquired.Load())
		assert.Equal(t, int64(1), prov.released.Load())
		assert.Equal(t, int64(0), prov.reusable.Load())
	})
	t.Run("must keep destination", func(t *testing.T) {
		cl, prov := newTestClient(t, httpServer)
		cl.NetworkInterceptors = []Interceptor{InterceptorFunc(func(ch Chain) (*request.Response, error) {
			u := ch.Plan().URL()
			u.Host = "example.com"
			return ch.Proceed(ch.Plan().WithURL(u))
		})}

		_, err := cl.Get(httpServer.URL)

		assert.ErrorIs(t, err, errDestChanged)
		assert.Equal(t, int64(1), prov.released.Load())
	})
	t.Run("may change headers", func(t *testing.T) {
		server := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(r.Header.Get("X-Conn")))
		})
		cl, _ := newTestClient(t, server)
		cl.NetworkInterceptors = []Interceptor{InterceptorFunc(func(ch Chain) (*request.Response, error) {
			return ch.Proceed(ch.Plan().WithHeader("X-Conn", "seen"))
		})}

		resp, err := cl.Get(server.URL)

		require.NoError(t, err)
		assert.Equal(t, "seen", readAll(t, resp))
	})
	t.Run("runs per exchange", func(t *testing.T) {
		server := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/from" {
				http.Redirect(w, r, "/to", http.StatusFound)
				return
			}
			_, _ = w.Write([]byte("arrived"))
		})
		cl, _ := newTestClient(t, server)
		var app, network int
		cl.Interceptors = []Interceptor{InterceptorFunc(func(ch Chain) (*request.Response, error) {
			app++
			return ch.Proceed(ch.Plan())
		})}
		cl.NetworkInterceptors = []Interceptor{InterceptorFunc(func(ch Chain) (*request.Response, error) {
			network++
			return ch.Proceed(ch.Plan())
		})}

		resp, err := cl.Get(server.URL + "/from")

		require.NoError(t, err)
		assert.Equal(t, "arrived", readAll(t, resp))
		assert.Equal(t, 1, app)
		assert.Equal(t, 2, network)
	})
}
