// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpcall

// An Event identifies the event type when installing or running a
// Handler. Install event handlers in a Client to extend it with custom
// functionality.
//
// All events of one call fire on the goroutine running the call, in
// the order the call reaches them.
type Event int

const (
	// BeforeCallStart identifies the event that occurs before the call
	// starts.
	//
	// When Client fires BeforeCallStart, the execution is non-nil but
	// the only fields that have been set are the plan and the current
	// plan.
	BeforeCallStart Event = iota
	// BeforeAttempt identifies the event that occurs before each
	// attempt, that is before every retry and every follow-up request
	// enters the lower stages of the pipeline.
	//
	// When Client fires BeforeAttempt, the execution's current plan is
	// the plan the attempt will use, and the response, error and
	// request fields are nil.
	BeforeAttempt
	// AfterCacheLookup identifies the event that occurs once the cache
	// stage has decided how to answer an attempt. It only fires when
	// the client has a cache.
	//
	// When Client fires AfterCacheLookup, the execution's cache status
	// records the decision.
	AfterCacheLookup
	// AfterConnect identifies the event that occurs after a connection
	// was acquired for an attempt.
	AfterConnect
	// AfterResponseHeaders identifies the event that occurs after the
	// status line and headers of a network response were read, before
	// the body is read.
	//
	// When Client fires AfterResponseHeaders, the execution's request
	// field holds the wire request which was written.
	AfterResponseHeaders
	// AfterAttemptTimeout identifies the event that occurs after an
	// attempt failed because of a timeout error.
	//
	// When Client fires AfterAttemptTimeout, the execution's error
	// field is set to the timeout error, and its attempt timeout
	// counter has been incremented.
	AfterAttemptTimeout
	// AfterAttempt identifies the event that occurs after an attempt
	// is concluded, regardless of whether it concluded successfully or
	// not.
	//
	// When Client fires AfterAttempt, exactly one of the execution's
	// response and error fields is non-nil. AfterAttempt runs before
	// the retry policy is consulted for a retry decision.
	AfterAttempt
	// BeforeFollowUp identifies the event that occurs before a
	// follow-up request, such as a redirect, is made.
	//
	// When Client fires BeforeFollowUp, the execution's response is
	// the response asking for the follow-up and its current plan is
	// the follow-up plan.
	BeforeFollowUp
	// AfterCallEnd identifies the event that occurs after the call
	// ends.
	//
	// When Client fires AfterCallEnd, the execution's response and
	// error fields hold the outcome returned to the caller, and the
	// end time is set.
	AfterCallEnd
	// eventSentinel provides the total number of events typed as an
	// Event.
	eventSentinel

	// numEvents provides the total number of events types as an int.
	numEvents = int(eventSentinel)
)

var eventNames = []string{
	"BeforeCallStart",
	"BeforeAttempt",
	"AfterCacheLookup",
	"AfterConnect",
	"AfterResponseHeaders",
	"AfterAttemptTimeout",
	"AfterAttempt",
	"BeforeFollowUp",
	"AfterCallEnd",
}

// Events returns a slice containing all events which can occur during
// a call, in the order in which they would occur.
func Events() []Event {
	return []Event{
		BeforeCallStart,
		BeforeAttempt,
		AfterCacheLookup,
		AfterConnect,
		AfterResponseHeaders,
		AfterAttemptTimeout,
		AfterAttempt,
		BeforeFollowUp,
		AfterCallEnd,
	}
}

// Name returns the name of the event.
func (evt Event) Name() string {
	return eventNames[int(evt)]
}

// String returns the name of the event.
func (evt Event) String() string {
	return evt.Name()
}
