// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpcall

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gogama/httpcall/request"
)

// A HandlerGroup is a group of event handler chains which can be
// installed in a Client.
//
// Handlers may be added while calls are running, for example from
// another goroutine or from inside a handler. A call already raising
// an event sees the chain as it was when the event started. A
// HandlerGroup must not be copied after first use.
type HandlerGroup struct {
	mu       sync.Mutex
	handlers atomic.Pointer[handlerChains]
}

type handlerChains [numEvents][]Handler

// PushBack adds an event handler to the back of the event handler chain
// for a specific event type.
func (g *HandlerGroup) PushBack(evt Event, h Handler) {
	g.push(evt, h, func(chain []Handler) []Handler {
		return append(chain, h)
	})
}

// PushFront adds an event handler to the front of the event handler
// chain for a specific event type.
func (g *HandlerGroup) PushFront(evt Event, h Handler) {
	g.push(evt, h, func(chain []Handler) []Handler {
		return append([]Handler{h}, chain...)
	})
}

// Len returns the number of handlers in the chain for evt.
func (g *HandlerGroup) Len(evt Event) int {
	if chains := g.handlers.Load(); chains != nil && evt >= 0 && int(evt) < numEvents {
		return len(chains[evt])
	}
	return 0
}

func (g *HandlerGroup) push(evt Event, h Handler, edit func([]Handler) []Handler) {
	if h == nil {
		panic("httpcall: nil handler")
	}
	if evt < 0 || int(evt) >= numEvents {
		panic("httpcall: unknown event " + strconv.Itoa(int(evt)))
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	var next handlerChains
	if cur := g.handlers.Load(); cur != nil {
		next = *cur
	}
	chain := make([]Handler, len(next[evt]), len(next[evt])+1)
	copy(chain, next[evt])
	next[evt] = edit(chain)
	g.handlers.Store(&next)
}

func (g *HandlerGroup) run(evt Event, e *request.Execution) {
	chains := g.handlers.Load()
	if chains == nil || evt < 0 || int(evt) >= numEvents {
		return
	}
	for _, h := range chains[evt] {
		h.Handle(evt, e)
	}
}

// A Handler handles the occurrence of an event during a call.
type Handler interface {
	Handle(Event, *request.Execution)
}

// The HandlerFunc type is an adapter to allow the use of ordinary
// functions as event handlers. If f is a function with appropriate
// signature, then HandlerFunc(f) is a Handler that calls f.
type HandlerFunc func(Event, *request.Execution)

// Handle calls f(evt, e).
func (f HandlerFunc) Handle(evt Event, e *request.Execution) {
	f(evt, e)
}
