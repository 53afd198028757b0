// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpcall

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/gogama/httpcall/request"
)

const (
	// DefaultMaxRequests is the default cap on asynchronous calls
	// running at once.
	DefaultMaxRequests = 64
	// DefaultMaxRequestsPerHost is the default cap on asynchronous
	// calls running at once to one host.
	DefaultMaxRequestsPerHost = 5
)

// DefaultDispatcher is the dispatcher used by a Client with no
// Dispatcher.
var DefaultDispatcher = &Dispatcher{}

// A WorkerPool runs tasks on other goroutines. Submit returns an error,
// and does not run the task, if the pool refuses it.
type WorkerPool interface {
	Submit(task func()) error
}

// ErrPoolShutdown is returned by GoroutinePool.Submit after Shutdown.
var ErrPoolShutdown = errors.New("httpcall: worker pool shut down")

// A GoroutinePool is a WorkerPool which runs every task on a new
// goroutine. It has no bound of its own: the dispatcher's caps are what
// limit concurrency.
type GoroutinePool struct {
	mu       sync.RWMutex
	shutdown bool
	wg       sync.WaitGroup
}

// NewWorkerPool returns a new GoroutinePool.
func NewWorkerPool() *GoroutinePool {
	return &GoroutinePool{}
}

// Submit runs task on a new goroutine.
func (p *GoroutinePool) Submit(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.shutdown {
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		task()
	}()
	return nil
}

// Shutdown makes the pool refuse further tasks. Tasks already running
// are not affected.
func (p *GoroutinePool) Shutdown() {
	p.mu.Lock()
	p.shutdown = true
	p.mu.Unlock()
}

// Wait blocks until every submitted task has returned.
func (p *GoroutinePool) Wait() {
	p.wg.Wait()
}

// A Dispatcher decides when enqueued calls run. It runs at most
// MaxRequests asynchronous calls at once, and at most
// MaxRequestsPerHost to any one host; further calls wait in a FIFO
// queue. When a call finishes, queued calls are promoted in order,
// skipping those whose host is still at its cap.
//
// Synchronous calls are tracked but never queued or capped.
//
// The zero value is ready to use. A Dispatcher must not be copied
// after first use.
type Dispatcher struct {
	// WorkerPool runs promoted calls. If nil, a GoroutinePool is
	// created on first use.
	WorkerPool WorkerPool

	// Logger receives rejected executions and recovered callback
	// panics. If nil, nothing is logged.
	Logger *zap.Logger

	mu           sync.Mutex
	maxRequests  int
	maxPerHost   int
	idleCallback func()
	pool         WorkerPool
	ready        []*asyncCall
	running      []*asyncCall
	runningSync  []*Call
	hosts        map[string]int
}

type asyncCall struct {
	call *Call
	cb   Callback
	host string
}

// MaxRequests returns the cap on asynchronous calls running at once.
func (d *Dispatcher) MaxRequests() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxReq()
}

// SetMaxRequests changes the cap on asynchronous calls running at
// once. Calls already running are not affected; queued calls are
// promoted if the new cap allows.
func (d *Dispatcher) SetMaxRequests(n int) {
	if n < 1 {
		panic(fmt.Sprintf("httpcall: max requests < 1: %d", n))
	}
	d.mu.Lock()
	d.maxRequests = n
	d.mu.Unlock()
	d.promoteAndExecute()
}

// MaxRequestsPerHost returns the cap on asynchronous calls running at
// once to one host.
func (d *Dispatcher) MaxRequestsPerHost() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxHost()
}

// SetMaxRequestsPerHost changes the cap on asynchronous calls running
// at once to one host. Calls already running are not affected; queued
// calls are promoted if the new cap allows.
func (d *Dispatcher) SetMaxRequestsPerHost(n int) {
	if n < 1 {
		panic(fmt.Sprintf("httpcall: max requests per host < 1: %d", n))
	}
	d.mu.Lock()
	d.maxPerHost = n
	d.mu.Unlock()
	d.promoteAndExecute()
}

// SetIdleCallback sets a function run each time the dispatcher becomes
// idle, that is when the number of running calls drops to zero.
func (d *Dispatcher) SetIdleCallback(f func()) {
	d.mu.Lock()
	d.idleCallback = f
	d.mu.Unlock()
}

// QueuedCalls returns the calls waiting to run.
func (d *Dispatcher) QueuedCalls() []*Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	calls := make([]*Call, 0, len(d.ready))
	for _, ac := range d.ready {
		calls = append(calls, ac.call)
	}
	return calls
}

// RunningCalls returns the calls running now, both synchronous and
// asynchronous.
func (d *Dispatcher) RunningCalls() []*Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	calls := make([]*Call, 0, len(d.running)+len(d.runningSync))
	for _, ac := range d.running {
		calls = append(calls, ac.call)
	}
	return append(calls, d.runningSync...)
}

// QueuedCallsCount returns the number of calls waiting to run.
func (d *Dispatcher) QueuedCallsCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ready)
}

// RunningCallsCount returns the number of calls running now.
func (d *Dispatcher) RunningCallsCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.running) + len(d.runningSync)
}

// CancelAll cancels every queued and running call.
func (d *Dispatcher) CancelAll() {
	d.mu.Lock()
	calls := make([]*Call, 0, len(d.ready)+len(d.running)+len(d.runningSync))
	for _, ac := range d.ready {
		calls = append(calls, ac.call)
	}
	for _, ac := range d.running {
		calls = append(calls, ac.call)
	}
	calls = append(calls, d.runningSync...)
	d.mu.Unlock()

	for _, c := range calls {
		c.Cancel()
	}
}

func (d *Dispatcher) enqueue(ac *asyncCall) {
	d.mu.Lock()
	d.ready = append(d.ready, ac)
	d.mu.Unlock()
	d.promoteAndExecute()
}

func (d *Dispatcher) executed(c *Call) {
	d.mu.Lock()
	d.runningSync = append(d.runningSync, c)
	d.mu.Unlock()
}

func (d *Dispatcher) finishedSync(c *Call) {
	d.mu.Lock()
	for i, rc := range d.runningSync {
		if rc == c {
			d.runningSync = append(d.runningSync[:i], d.runningSync[i+1:]...)
			break
		}
	}
	d.mu.Unlock()
	d.idleCheck()
}

func (d *Dispatcher) finished(ac *asyncCall) {
	d.mu.Lock()
	for i, r := range d.running {
		if r == ac {
			d.running = append(d.running[:i], d.running[i+1:]...)
			d.hosts[ac.host]--
			if d.hosts[ac.host] <= 0 {
				delete(d.hosts, ac.host)
			}
			break
		}
	}
	d.mu.Unlock()
	d.idleCheck()
}

func (d *Dispatcher) idleCheck() {
	if d.promoteAndExecute() {
		return
	}
	d.mu.Lock()
	f := d.idleCallback
	d.mu.Unlock()
	if f != nil {
		f()
	}
}

// promoteAndExecute moves eligible calls from the ready queue to the
// running set and submits them. It reports whether any call is running.
func (d *Dispatcher) promoteAndExecute() bool {
	var executable []*asyncCall
	d.mu.Lock()
	maxReq, maxHost := d.maxReq(), d.maxHost()
	for i := 0; i < len(d.ready); {
		if len(d.running) >= maxReq {
			break
		}
		ac := d.ready[i]
		if d.hosts[ac.host] >= maxHost {
			i++
			continue
		}
		d.ready = append(d.ready[:i], d.ready[i+1:]...)
		if d.hosts == nil {
			d.hosts = make(map[string]int)
		}
		d.hosts[ac.host]++
		d.running = append(d.running, ac)
		executable = append(executable, ac)
	}
	isRunning := len(d.running)+len(d.runningSync) > 0
	pool := d.workerPool()
	d.mu.Unlock()

	for _, ac := range executable {
		d.submit(pool, ac)
	}
	return isRunning
}

func (d *Dispatcher) submit(pool WorkerPool, ac *asyncCall) {
	err := pool.Submit(func() {
		defer d.finished(ac)
		resp, err := ac.call.run()
		if err != nil {
			d.fail(ac, err)
		} else {
			d.respond(ac, resp)
		}
	})
	if err != nil {
		d.logger().Error("worker pool rejected call",
			zap.String("call_id", ac.call.ID()),
			zap.Error(err))
		d.fail(ac, urlErrorWrap(ac.call.plan, fmt.Errorf("%w: %v", ErrRejectedExecution, err)))
		d.finished(ac)
	}
}

func (d *Dispatcher) respond(ac *asyncCall, resp *request.Response) {
	defer func() {
		if r := recover(); r != nil {
			_ = resp.Body.Close()
			d.logger().Error("callback panicked",
				zap.String("call_id", ac.call.ID()),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()
	ac.cb.OnResponse(ac.call, resp)
}

func (d *Dispatcher) fail(ac *asyncCall, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger().Error("callback panicked",
				zap.String("call_id", ac.call.ID()),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()
	ac.cb.OnFailure(ac.call, err)
}

// maxReq must be called with mu held.
func (d *Dispatcher) maxReq() int {
	if d.maxRequests == 0 {
		return DefaultMaxRequests
	}
	return d.maxRequests
}

// maxHost must be called with mu held.
func (d *Dispatcher) maxHost() int {
	if d.maxPerHost == 0 {
		return DefaultMaxRequestsPerHost
	}
	return d.maxPerHost
}

// workerPool must be called with mu held.
func (d *Dispatcher) workerPool() WorkerPool {
	if d.WorkerPool != nil {
		return d.WorkerPool
	}
	if d.pool == nil {
		d.pool = NewWorkerPool()
	}
	return d.pool
}

func (d *Dispatcher) logger() *zap.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return nopLogger
}
