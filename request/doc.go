// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package request contains the core value types Plan (an immutable HTTP
request), Response (the response to a Plan) and Execution (the state of
a call executing a Plan).

The first core type is Plan, which represents a logical HTTP request.

A Plan describes how to make a logical HTTP request, potentially
involving several network exchanges if a retry is needed after a
failure or a redirect is followed. For those familiar with the Go
standard HTTP library, net/http, a Plan looks like a stripped-down
http.Request with all server-side fields removed and a pre-buffered
[]byte body. Unlike http.Request, a Plan cannot be changed once built:
every transformation returns a new Plan.

Create a plan and execute it:

	p, err := request.NewPlan("GET", "https://example.com", nil)
	...
	resp, err := client.NewCall(p).Execute()
	...

A plan may be assigned a context to allow the whole call to be
cancelled, or to set a deadline on it:

	p, err := request.NewPlanWithContext(ctx, "POST", "https://example.com/upload", body)
	...

The second core type is Response. Its Body is a single-consumption
stream which the caller must close. A Response also links to the
responses that produced it: the Prior response in a redirect chain,
and the Network and Cached responses a cache stage combined.

The third core type is Execution, which is shared by the stages of one
call and handed to retry and timeout policies and to event handlers.
You will typically not allocate Execution instances yourself.
*/
package request
