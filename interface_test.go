// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpcall

import (
	"bytes"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/gogama/httpcall/request"
)

func TestGet(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		expected := &request.Response{}
		m := newMockDoer(t)
		m.On("Do", mock.MatchedBy(func(p *request.Plan) bool {
			return p.Method() == "GET" && p.URLString() == "foo"
		})).Return(expected, nil).Once()
		e, err := Get(m, "foo")
		assert.Same(t, expected, e)
		assert.NoError(t, err)
		m.AssertExpectations(t)
	})
	t.Run("error invalid URL", func(t *testing.T) {
		m := newMockDoer(t)
		e, err := Get(m, ":::")
		assert.Nil(t, e)
		assert.Error(t, err)
		m.AssertNotCalled(t, "Do", mock.Anything)
	})
}

func TestHead(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		expected := &request.Response{}
		m := newMockDoer(t)
		m.On("Do", mock.MatchedBy(func(p *request.Plan) bool {
			return p.Method() == "HEAD" && p.URLString() == "bar"
		})).Return(expected, nil).Once()
		e, err := Head(m, "bar")
		assert.Same(t, expected, e)
		assert.NoError(t, err)
		m.AssertExpectations(t)
	})
	t.Run("error invalid URL", func(t *testing.T) {
		m := newMockDoer(t)
		e, err := Head(m, ":::")
		assert.Nil(t, e)
		assert.Error(t, err)
		m.AssertNotCalled(t, "Do", mock.Anything)
	})
}

func TestPost(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		expected := &request.Response{}
		m := newMockDoer(t)
		m.On("Do", mock.MatchedBy(func(p *request.Plan) bool {
			return p.Method() == "POST" && p.URLString() == "baz" &&
				p.HeaderValue("Content-Type") == "ham" &&
				bytes.Equal(p.Body(), []byte("eggs"))
		})).Return(expected, nil).Once()
		e, err := Post(m, "baz", "ham", "eggs")
		assert.Same(t, expected, e)
		assert.NoError(t, err)
		m.AssertExpectations(t)
	})
	t.Run("error invalid URL", func(t *testing.T) {
		m := newMockDoer(t)
		e, err := Post(m, ":::", "text/plain", []byte{'a', 'b', 'c'})
		assert.Nil(t, e)
		assert.Error(t, err)
		m.AssertNotCalled(t, "Do", mock.Anything)
	})
	t.Run("error invalid body", func(t *testing.T) {
		m := newMockDoer(t)
		e, err := Post(m, ":::", "text/plain", 123)
		assert.Nil(t, e)
		assert.EqualError(t, err, "httpcall/request: invalid type (for body use nil, string, []byte, io.Reader or io.ReadCloser)")
		m.AssertNotCalled(t, "Do", mock.Anything)
	})
}

func TestPostForm(t *testing.T) {
	expected := &request.Response{}
	m := newMockDoer(t)
	m.On("Do", mock.MatchedBy(func(p *request.Plan) bool {
		return p.Method() == "POST" && p.URLString() == "poster%20boy" &&
			p.HeaderValue("Content-Type") == "application/x-www-form-urlencoded" &&
			!p.HasBody()
	})).Return(expected, nil).Once()
	e, err := PostForm(m, "poster boy", url.Values{})
	assert.Same(t, expected, e)
	assert.NoError(t, err)
	m.AssertExpectations(t)
}

func TestEnqueue(t *testing.T) {
	expected := &request.Response{Body: http.NoBody}
	m := newMockDoer(t)
	m.On("Do", mock.MatchedBy(func(p *request.Plan) bool {
		return p.Method() == "GET" && p.URLString() == "queued"
	})).Return(expected, nil).Once()
	x := Inflate(m)
	done := make(chan *request.Response, 1)

	call := Enqueue(x, mustPlan(t, "GET", "queued"), CallbackFuncs{
		Response: func(_ *Call, resp *request.Response) { done <- resp },
		Failure:  func(_ *Call, err error) { t.Errorf("unexpected failure: %v", err) },
	})

	require.NotNil(t, call)
	select {
	case resp := <-done:
		assert.Same(t, expected, resp)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "callback not invoked")
	}
	assert.True(t, call.IsExecuted())
	m.AssertExpectations(t)
}

func TestInflate(t *testing.T) {
	t.Run("Inflate", func(t *testing.T) {
		t.Run("nil doer", func(t *testing.T) {
			assert.PanicsWithValue(t, "httpcall: nil doer", func() {
				Inflate(nil)
			})
		})
		t.Run("already an Executor", func(t *testing.T) {
			cl := &Client{}
			x := Inflate(cl)
			assert.Same(t, cl, x)
		})
		t.Run("not yet an Executor", func(t *testing.T) {
			m := newMockDoer(t)
			x := Inflate(m)
			require.IsType(t, &inflated{}, x)
			assert.Same(t, m, x.(*inflated).doer)
		})
	})
	expected := &request.Response{Body: http.NoBody}
	t.Run("Do", func(t *testing.T) {
		p, err := request.NewPlan("PUT", "http://www.randomcollections.com/widgets/1", "foo")
		require.NotNil(t, p)
		require.NoError(t, err)
		m := newMockDoer(t)
		m.On("Do", mock.MatchedBy(func(q *request.Plan) bool {
			return q.Method() == "PUT" && q.URLString() == p.URLString() &&
				bytes.Equal(q.Body(), []byte("foo")) && q.Context() != p.Context()
		})).Return(expected, nil).Once()
		x := Inflate(m)
		e, err := x.Do(p)
		assert.Same(t, expected, e)
		assert.NoError(t, err)
		m.AssertExpectations(t)
	})
	t.Run("Do nil body", func(t *testing.T) {
		resp := &request.Response{StatusCode: 204}
		m := newMockDoer(t)
		m.On("Do", mock.Anything).Return(resp, nil).Once()
		x := Inflate(m)
		e, err := x.Do(mustPlan(t, "GET", "http://example.com/"))
		require.NoError(t, err)
		assert.Same(t, resp, e)
		assert.Equal(t, http.NoBody, e.Body)
	})
	t.Run("Do error", func(t *testing.T) {
		t.Run("url.Error", func(t *testing.T) {
			urlErr := &url.Error{Op: "Get", URL: "http://example.com/", Err: errors.New("boom")}
			m := newMockDoer(t)
			m.On("Do", mock.Anything).Return(nil, urlErr).Once()
			x := Inflate(m)
			e, err := x.Do(mustPlan(t, "GET", "http://example.com/"))
			assert.Nil(t, e)
			assert.Same(t, urlErr, err)
		})
		t.Run("other", func(t *testing.T) {
			cause := errors.New("bang")
			m := newMockDoer(t)
			m.On("Do", mock.Anything).Return(nil, cause).Once()
			x := Inflate(m)
			e, err := x.Do(mustPlan(t, "POST", "http://example.com/"))
			assert.Nil(t, e)
			var urlErr *url.Error
			require.ErrorAs(t, err, &urlErr)
			assert.Equal(t, "Post", urlErr.Op)
			assert.ErrorIs(t, err, cause)
		})
	})
	t.Run("NewCall", func(t *testing.T) {
		m := newMockDoer(t)
		m.On("Do", mock.Anything).Return(expected, nil).Once()
		x := Inflate(m)
		call := x.NewCall(mustPlan(t, "GET", "http://example.com/"))

		e, err := call.Execute()
		assert.Same(t, expected, e)
		assert.NoError(t, err)
		require.NotNil(t, call.Execution())
		assert.Same(t, expected, call.Execution().Response)

		e, err = call.Execute()
		assert.Nil(t, e)
		assert.ErrorIs(t, err, ErrAlreadyExecuted)
		m.AssertExpectations(t)
	})
	t.Run("Enqueue", func(t *testing.T) {
		cause := errors.New("refused")
		m := newMockDoer(t)
		m.On("Do", mock.Anything).Return(nil, cause).Once()
		x := Inflate(m)
		done := make(chan error, 1)
		call := x.Enqueue(mustPlan(t, "GET", "http://example.com/"), CallbackFuncs{
			Response: func(_ *Call, resp *request.Response) {
				_ = resp.Body.Close()
				done <- nil
			},
			Failure: func(_ *Call, err error) { done <- err },
		})
		select {
		case err := <-done:
			assert.ErrorIs(t, err, cause)
		case <-time.After(5 * time.Second):
			require.FailNow(t, "callback not invoked")
		}
		assert.True(t, call.IsExecuted())
		m.AssertExpectations(t)
	})
	t.Run("Cancel", func(t *testing.T) {
		started := make(chan struct{})
		x := Inflate(doerFunc(func(p *request.Plan) (*request.Response, error) {
			close(started)
			<-p.Context().Done()
			return nil, &url.Error{Op: "Get", URL: p.URLString(), Err: p.Context().Err()}
		}))
		call := x.NewCall(mustPlan(t, "GET", "http://example.com/"))
		go func() {
			<-started
			call.Cancel()
		}()

		e, err := call.Execute()

		assert.Nil(t, e)
		assert.ErrorIs(t, err, ErrCanceled)
		assert.True(t, call.IsCanceled())
	})
	t.Run("Get", func(t *testing.T) {
		m := newMockDoer(t)
		m.On("Do", mock.MatchedBy(func(p *request.Plan) bool {
			return p.Method() == "GET" && p.URLString() == "bar"
		})).Return(expected, nil).Once()
		x := Inflate(m)
		e, err := x.Get("bar")
		assert.Same(t, expected, e)
		assert.NoError(t, err)
		m.AssertExpectations(t)
	})
	t.Run("Head", func(t *testing.T) {
		m := newMockDoer(t)
		m.On("Do", mock.MatchedBy(func(p *request.Plan) bool {
			return p.Method() == "HEAD" && p.URLString() == "baz"
		})).Return(expected, nil).Once()
		x := Inflate(m)
		e, err := x.Head("baz")
		assert.Same(t, expected, e)
		assert.NoError(t, err)
		m.AssertExpectations(t)
	})
	t.Run("Post", func(t *testing.T) {
		m := newMockDoer(t)
		m.On("Do", mock.MatchedBy(func(p *request.Plan) bool {
			return p.Method() == "POST" && p.URLString() == "ham" &&
				p.HeaderValue("Content-Type") == "eggs" &&
				!p.HasBody()
		})).Return(expected, nil).Once()
		x := Inflate(m)
		e, err := x.Post("ham", "eggs", nil)
		assert.Same(t, expected, e)
		assert.NoError(t, err)
		m.AssertExpectations(t)
	})
	t.Run("PostForm", func(t *testing.T) {
		m := newMockDoer(t)
		m.On("Do", mock.MatchedBy(func(p *request.Plan) bool {
			return p.Method() == "POST" && p.URLString() == "form" &&
				p.HeaderValue("Content-Type") == "application/x-www-form-urlencoded" &&
				bytes.Equal(p.Body(), []byte("x=y"))
		})).Return(expected, nil).Once()
		x := Inflate(m)
		e, err := x.PostForm("form", url.Values{"x": []string{"y"}})
		assert.Same(t, expected, e)
		assert.NoError(t, err)
		m.AssertExpectations(t)
	})
	t.Run("CloseIdleConnections", func(t *testing.T) {
		t.Run("Doer does not implement IdleCloser", func(t *testing.T) {
			m := newMockDoer(t)
			x := Inflate(m)
			x.CloseIdleConnections()
			m.AssertNotCalled(t, "CloseIdleConnections")
		})
		t.Run("Doer implements IdleCloser", func(t *testing.T) {
			m := newMockDoerWithCloseIdleConnections(t)
			m.On("CloseIdleConnections").Once()
			x := Inflate(m)
			x.CloseIdleConnections()
			m.AssertExpectations(t)
		})
	})
}

type doerFunc func(p *request.Plan) (*request.Response, error)

func (f doerFunc) Do(p *request.Plan) (*request.Response, error) {
	return f(p)
}

type mockDoer struct {
	mock.Mock
}

func newMockDoer(t *testing.T) *mockDoer {
	m := &mockDoer{}
	m.Test(t)
	return m
}

func (m *mockDoer) Do(p *request.Plan) (*request.Response, error) {
	args := m.Called(p)
	resp := args.Get(0)
	err := args.Error(1)
	if resp == nil {
		return nil, err
	}
	return resp.(*request.Response), err
}

type mockDoerWithCloseIdleConnections struct {
	mockDoer
}

func newMockDoerWithCloseIdleConnections(t *testing.T) *mockDoerWithCloseIdleConnections {
	m := &mockDoerWithCloseIdleConnections{}
	m.Test(t)
	return m
}

func (m *mockDoerWithCloseIdleConnections) CloseIdleConnections() {
	m.Called()
}
