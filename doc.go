// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package httpcall provides an HTTP client which runs every call through a
pipeline of interceptors, with retries, redirects, caching, connection
pooling and an asynchronous dispatcher, within a simple and familiar
interface.

Create a Client to begin making requests.

	client := &httpcall.Client{}
	resp, err := client.Get("https://www.example.com")
	...
	resp, err := client.Post("https://www.example.com/upload",
		"application/json", &buf)
	...
	resp, err := client.PostForm("http://example.com/form",
		url.Values{"key": {"Value"}, "id": {"123"}})

The caller must close the body of every response returned.

A Call is a plan prepared for execution. Run it synchronously with
Execute, or hand it to the client's Dispatcher with Enqueue:

	p, _ := request.NewPlan("GET", "https://www.example.com", nil)
	call := client.NewCall(p)
	call.Enqueue(httpcall.CallbackFuncs{
		Response: func(c *httpcall.Call, resp *request.Response) {
			defer resp.Body.Close()
			...
		},
		Failure: func(c *httpcall.Call, err error) {
			...
		},
	})

Call.Cancel stops a call at any point, including while its response body
is being read.

For control over the client's retry decisions and timing, create a
custom retry policy using components from package retry:

	retryWaiter := retry.NewExpWaiter(250*time.Millisecond, 5*time.Second, time.Now())
	retryPolicy := retry.NewPolicy(retry.DefaultDecider, retryWaiter)
	client := &httpcall.Client{
		RetryPolicy: retryPolicy,
	}

For control over the client's individual attempt timeouts, set a custom
timeout policy using package timeout. CallTimeout bounds the whole call:

	client := &httpcall.Client{
		TimeoutPolicy: timeout.Fixed(10*time.Second),
		CallTimeout:   time.Minute,
	}

To change requests and responses, install an Interceptor. Interceptors
in Client.Interceptors run once per call; those in
Client.NetworkInterceptors run once per network exchange:

	client := &httpcall.Client{
		Interceptors: []httpcall.Interceptor{
			httpcall.InterceptorFunc(func(ch httpcall.Chain) (*request.Response, error) {
				return ch.Proceed(ch.Plan().WithHeader("X-Trace", "1"))
			}),
		},
	}

To observe the fine-grained details of a call, install a handler into
the appropriate handler chain:

	handlers := &httpcall.HandlerGroup{}
	handlers.PushBack(httpcall.BeforeAttempt, httpcall.HandlerFunc(
		func(_ httpcall.Event, e *request.Execution) {
			log.Printf("Attempt %d to %s", e.Attempt, e.Current.URLString())
		}),
	)
	client := &httpcall.Client{
		Handlers: handlers,
	}

Package httpcall provides basic interfaces for each method of the
client (Doer, Caller, Enqueuer, Getter, Header, Poster, FormPoster, and
IdleCloser); a combined interface that composes all the basic methods
(Executor); and utility functions for working with a Doer or Caller
(Inflate, Enqueue, Get, Head, Post, and PostForm). Inflate runs a plain
Doer through the call model, so the result supports cancellation and
asynchronous calls like a Client does.
*/
package httpcall
