// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpcall

import (
	"errors"
	"io"
	"net"
	"net/url"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gogama/httpcall/conn"
	"github.com/gogama/httpcall/request"
	"github.com/gogama/httpcall/transient"
)

func TestTransportError_Timeout(t *testing.T) {
	dest := conn.Destination{Scheme: "http", Host: "example.com", Port: "80"}
	readTimeout := &net.OpError{Op: "read", Net: "tcp", Err: os.ErrDeadlineExceeded}
	testCases := []struct {
		name    string
		err     error
		timeout bool
		cat     transient.Category
	}{
		{"read deadline", readTimeout, true, transient.Timeout},
		{"eof", io.EOF, false, transient.Not},
		{"reset", &net.OpError{Op: "read", Net: "tcp", Err: os.NewSyscallError("read", syscall.ECONNRESET)}, false, transient.ConnReset},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			err := &TransportError{Stage: "read response", Dest: dest, Err: testCase.err}
			wrapped := urlErrorWrap(mustPlan(t, "GET", "http://example.com/"), err)

			assert.Equal(t, testCase.timeout, err.Timeout())
			var netErr net.Error
			if assert.ErrorAs(t, wrapped, &netErr) {
				assert.Equal(t, testCase.timeout, netErr.Timeout())
			}
			assert.Equal(t, testCase.cat, transient.Categorize(wrapped))
			assert.Equal(t, testCase.timeout, (&request.Execution{Err: wrapped}).Timeout())
		})
	}
}

func TestConnectionError_Timeout(t *testing.T) {
	dest := conn.Destination{Scheme: "http", Host: "example.com", Port: "80"}
	t.Run("dial timeout", func(t *testing.T) {
		err := &ConnectionError{Dest: dest, Err: &net.OpError{Op: "dial", Net: "tcp", Err: os.ErrDeadlineExceeded}}
		wrapped := &url.Error{Op: "Get", URL: "http://example.com/", Err: err}

		assert.True(t, err.Timeout())
		assert.True(t, wrapped.Timeout())
		assert.Equal(t, transient.Timeout, transient.Categorize(wrapped))
		assert.True(t, err.ConnectionFailure())
	})
	t.Run("refused", func(t *testing.T) {
		err := &ConnectionError{Dest: dest, Err: &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}}
		wrapped := &url.Error{Op: "Get", URL: "http://example.com/", Err: err}

		assert.False(t, err.Timeout())
		assert.False(t, wrapped.Timeout())
		assert.Equal(t, transient.ConnFailure, transient.Categorize(wrapped))
	})
	t.Run("no cause", func(t *testing.T) {
		assert.False(t, (&ConnectionError{Dest: dest, Err: errors.New("closed")}).Timeout())
	})
}
