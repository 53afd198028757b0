// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpcall

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gogama/httpcall/retry"
	"github.com/gogama/httpcall/timeout"
)

// newRawServer serves each connection with handle, which reads and
// writes HTTP/1.1 by hand. The returned URL points at the server.
func newRawServer(t *testing.T, handle func(c net.Conn, r *bufio.Reader)) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				handle(c, bufio.NewReader(c))
			}()
		}
	}()
	return "http://" + l.Addr().String()
}

func TestTransfer_informational(t *testing.T) {
	u := newRawServer(t, func(c net.Conn, r *bufio.Reader) {
		if _, err := http.ReadRequest(r); err != nil {
			return
		}
		_, _ = io.WriteString(c, "HTTP/1.1 103 Early Hints\r\nLink: </style.css>; rel=preload\r\n\r\n"+
			"HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nfinal")
	})
	cl, _ := newTestClient(t, nil)

	resp, err := cl.Get(u)

	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "", resp.Header.Get("Link"))
	assert.Equal(t, "final", readAll(t, resp))
}

func TestTransfer_staleConnection(t *testing.T) {
	var served atomic.Int32
	u := newRawServer(t, func(c net.Conn, r *bufio.Reader) {
		if _, err := http.ReadRequest(r); err != nil {
			return
		}
		n := served.Add(1)
		_, _ = fmt.Fprintf(c, "HTTP/1.1 200 OK\r\nContent-Length: 1\r\n\r\n%d", n)
	})

	t.Run("not retried", func(t *testing.T) {
		served.Store(0)
		cl, prov := newTestClient(t, nil)
		resp, err := cl.Get(u)
		require.NoError(t, err)
		assert.Equal(t, "1", readAll(t, resp))
		require.Equal(t, int64(1), prov.reusable.Load())

		_, err = cl.Get(u)

		var connErr *ConnectionError
		require.ErrorAs(t, err, &connErr)
		assert.True(t, connErr.Stale)
		assert.Contains(t, connErr.Error(), "pooled connection")
		assert.Equal(t, prov.acquired.Load(), prov.released.Load())
	})
	t.Run("retried", func(t *testing.T) {
		served.Store(0)
		cl, prov := newTestClient(t, nil)
		cl.RetryPolicy = retry.NewPolicy(retry.Times(1).And(retry.ConnFailure), retry.NewFixedWaiter(time.Millisecond))
		resp, err := cl.Get(u)
		require.NoError(t, err)
		readAll(t, resp)

		call := cl.NewCall(mustPlan(t, "GET", u))
		resp, err = call.Execute()

		require.NoError(t, err)
		assert.Equal(t, "2", readAll(t, resp))
		assert.Equal(t, 1, call.Execution().Retries)
		assert.Equal(t, int64(2), prov.pool.Stats().Dialed)
		assert.Equal(t, prov.acquired.Load(), prov.released.Load())
	})
}

func TestTransfer_connectionClose(t *testing.T) {
	server := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/close" {
			w.Header().Set("Connection", "close")
		}
		_, _ = w.Write([]byte("body"))
	})

	t.Run("server asks", func(t *testing.T) {
		cl, prov := newTestClient(t, server)
		resp, err := cl.Get(server.URL + "/close")
		require.NoError(t, err)
		assert.Equal(t, "body", readAll(t, resp))
		assert.Equal(t, int64(1), prov.released.Load())
		assert.Equal(t, int64(0), prov.reusable.Load())
		assert.Equal(t, 0, prov.pool.Stats().Idle)
	})
	t.Run("plan asks", func(t *testing.T) {
		cl, prov := newTestClient(t, server)
		resp, err := cl.Do(mustPlan(t, "GET", server.URL).WithClose(true))
		require.NoError(t, err)
		assert.Equal(t, "body", readAll(t, resp))
		assert.Equal(t, int64(0), prov.reusable.Load())
	})
	t.Run("keep alive", func(t *testing.T) {
		cl, prov := newTestClient(t, server)
		resp, err := cl.Get(server.URL)
		require.NoError(t, err)
		assert.Equal(t, "body", readAll(t, resp))
		assert.Equal(t, int64(1), prov.reusable.Load())
		assert.Equal(t, 1, prov.pool.Stats().Idle)
	})
}

func TestTransfer_attemptTimeoutInBody(t *testing.T) {
	for _, server := range servers {
		t.Run(serverName(server), func(t *testing.T) {
			cl, prov := newTestClient(t, server)
			cl.TimeoutPolicy = timeout.Fixed(200 * time.Millisecond)
			cl.Interceptors = []Interceptor{instruct(&serverInstruction{
				StatusCode: 200,
				Body:       []bodyChunk{{Data: []byte("start")}},
				Hold:       true,
			})}

			resp, err := cl.Get(server.URL)
			require.NoError(t, err)
			_, err = io.ReadFull(resp.Body, make([]byte, 5))
			require.NoError(t, err)
			_, err = io.ReadAll(resp.Body)

			assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
			assert.NoError(t, resp.Body.Close())
			assert.Equal(t, int64(1), prov.released.Load())
			assert.Equal(t, int64(0), prov.reusable.Load())
		})
	}
}

func TestExchangeBody(t *testing.T) {
	open := func(t *testing.T, rc io.ReadCloser, reusable bool) (*exchangeBody, *coordinator, *mockProvider) {
		c, prov := newPipeConn(t)
		prov.On("Release", c, reusable).Return().Once()
		co := newCoordinator(context.Background(), prov, zap.NewNop())
		ex, err := co.openExchange(c)
		require.NoError(t, err)
		return &exchangeBody{rc: rc, ex: ex, reusable: true}, co, prov
	}

	t.Run("read to end", func(t *testing.T) {
		b, _, prov := open(t, io.NopCloser(strings.NewReader("ab")), true)

		data, err := io.ReadAll(b)

		require.NoError(t, err)
		assert.Equal(t, "ab", string(data))
		n, err := b.Read(make([]byte, 1))
		assert.Equal(t, 0, n)
		assert.Same(t, io.EOF, err)
		assert.NoError(t, b.Close())
		prov.AssertExpectations(t)
	})
	t.Run("closed early", func(t *testing.T) {
		b, _, prov := open(t, io.NopCloser(strings.NewReader("ab")), false)

		require.NoError(t, b.Close())
		_, err := b.Read(make([]byte, 1))

		assert.Same(t, errBodyClosed, err)
		assert.NoError(t, b.Close())
		prov.AssertExpectations(t)
	})
	t.Run("read error", func(t *testing.T) {
		boom := errors.New("boom")
		b, _, prov := open(t, io.NopCloser(iotest.ErrReader(boom)), false)

		_, err := b.Read(make([]byte, 1))

		assert.Same(t, boom, err)
		prov.AssertExpectations(t)
	})
	t.Run("read error after cancel", func(t *testing.T) {
		b, co, prov := open(t, io.NopCloser(iotest.ErrReader(os.ErrDeadlineExceeded)), false)
		co.cancel(ErrCanceled)

		_, err := b.Read(make([]byte, 1))

		assert.Same(t, ErrCanceled, err)
		prov.AssertExpectations(t)
	})
}

func TestDeadline(t *testing.T) {
	assert.True(t, deadline(0).IsZero())
	assert.True(t, deadline(-time.Second).IsZero())
	assert.True(t, deadline(1<<62).IsZero())
	d := deadline(time.Minute)
	assert.WithinDuration(t, time.Now().Add(time.Minute), d, time.Second)
}

func TestStaleConn(t *testing.T) {
	assert.True(t, staleConn(io.EOF))
	assert.True(t, staleConn(fmt.Errorf("read: %w", io.ErrUnexpectedEOF)))
	assert.True(t, staleConn(&net.OpError{Op: "read", Err: os.NewSyscallError("read", syscall.ECONNRESET)}))
	assert.True(t, staleConn(&net.OpError{Op: "write", Err: os.NewSyscallError("write", syscall.EPIPE)}))
	assert.False(t, staleConn(errors.New("other")))
	assert.False(t, staleConn(os.ErrDeadlineExceeded))
}

func TestTransfer_noExchange(t *testing.T) {
	_, err := transferInterceptor{}.Intercept(&chain{})
	assert.Same(t, errNoExchange, err)
}
