// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package conn

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// A Provider hands out connections usable for exactly one exchange and
// takes them back afterwards.
//
// Acquire returns a connection to dest, either a pooled one which is
// still healthy or a newly established one. It must return promptly
// with an error when ctx is done, even while dialing.
//
// Release returns a connection acquired from the provider. If reusable
// is false the connection must not be handed out again. Releasing a
// connection which is not currently acquired is a no-op.
//
// Implementations of Provider must be safe for concurrent use by
// multiple goroutines.
type Provider interface {
	Acquire(ctx context.Context, dest Destination) (*Conn, error)
	Release(c *Conn, reusable bool)
}

// A Dialer establishes network connections. *net.Dialer implements
// Dialer.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// The DialerFunc type is an adapter to allow the use of ordinary
// functions as a Dialer.
type DialerFunc func(ctx context.Context, network, address string) (net.Conn, error)

// DialContext calls f(ctx, network, address).
func (f DialerFunc) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return f(ctx, network, address)
}

const (
	// DefaultDialTimeout is the dial timeout of the Dialer a Pool uses
	// when none is set.
	DefaultDialTimeout = 30 * time.Second
	// DefaultIdleTimeout is how long a Pool keeps an idle connection
	// when IdleTimeout is zero.
	DefaultIdleTimeout = 90 * time.Second
	// DefaultMaxIdlePerDestination is the number of idle connections a
	// Pool keeps per destination when MaxIdlePerDestination is zero.
	DefaultMaxIdlePerDestination = 5
)

// DefaultPool is the Provider used by a Client with no ConnProvider.
var DefaultPool = &Pool{}

// A Pool is a Provider which keeps idle connections per Destination
// for reuse, and dials new ones when none is available.
//
// The zero value is ready to use. A Pool must not be copied after
// first use.
type Pool struct {
	// Dialer establishes TCP connections. If nil, a net.Dialer with
	// DefaultDialTimeout is used.
	Dialer Dialer

	// TLSConfig is the base TLS configuration for https destinations.
	// The server name is set per destination. If nil, the zero
	// configuration is used.
	TLSConfig *tls.Config

	// IdleTimeout is how long an idle connection is kept before it is
	// discarded. If zero, DefaultIdleTimeout is used.
	IdleTimeout time.Duration

	// MaxIdlePerDestination caps the number of idle connections kept
	// for one destination. If zero, DefaultMaxIdlePerDestination is
	// used. If negative, no connection is kept.
	MaxIdlePerDestination int

	// Logger receives debug messages about dialing and reuse. If nil,
	// nothing is logged.
	Logger *zap.Logger

	mu     sync.Mutex
	idle   map[Destination]*connList
	closed bool

	nextID   atomic.Int64
	dialed   atomic.Int64
	reused   atomic.Int64
	released atomic.Int64
	discards atomic.Int64
}

// connList is a FIFO list of idle connections.
type connList struct {
	head *Conn
	tail *Conn
	qnty int
}

// Stats is a snapshot of Pool counters.
type Stats struct {
	Dialed    int64
	Reused    int64
	Released  int64
	Discarded int64
	Idle      int
}

// Acquire returns a healthy idle connection to dest if the pool has
// one, and otherwise dials a new one.
func (p *Pool) Acquire(ctx context.Context, dest Destination) (*Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := time.Now()
	for {
		c := p.pullConn(dest)
		if c == nil {
			break
		}
		if c.isAlive(now) {
			c.Begin()
			p.reused.Add(1)
			p.logger().Debug("reusing connection",
				zap.Int64("conn_id", c.id),
				zap.Stringer("destination", dest))
			return c, nil
		}
		p.discard(c, "expired")
	}
	return p.dial(ctx, dest)
}

// Release returns c to the pool if reusable is true and the pool has
// room for it, and closes it otherwise. Releasing a connection which
// is not currently acquired is a no-op.
func (p *Pool) Release(c *Conn, reusable bool) {
	if c == nil || !c.inUse.CompareAndSwap(true, false) {
		return
	}
	p.released.Add(1)
	if !reusable || c.Closed() {
		p.discard(c, "not reusable")
		return
	}
	if err := c.SetDeadline(time.Time{}); err != nil {
		p.discard(c, "deadline reset failed")
		return
	}
	c.expire = time.Now().Add(p.idleTimeout())
	if !p.pushConn(c) {
		p.discard(c, "pool full")
		return
	}
	p.logger().Debug("released connection",
		zap.Int64("conn_id", c.id),
		zap.Stringer("destination", c.dest))
}

// CloseIdle closes all idle connections and returns how many were
// closed. Acquired connections are not affected.
func (p *Pool) CloseIdle() int {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	n := 0
	for _, list := range idle {
		c := list.head
		for c != nil {
			next := c.next
			c.next = nil
			_ = c.Close()
			n++
			c = next
		}
	}
	return n
}

// Close closes all idle connections and stops the pool from keeping
// connections released later.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.CloseIdle()
	return nil
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	idle := 0
	for _, list := range p.idle {
		idle += list.qnty
	}
	p.mu.Unlock()
	return Stats{
		Dialed:    p.dialed.Load(),
		Reused:    p.reused.Load(),
		Released:  p.released.Load(),
		Discarded: p.discards.Load(),
		Idle:      idle,
	}
}

func (p *Pool) dial(ctx context.Context, dest Destination) (*Conn, error) {
	netConn, err := p.dialer().DialContext(ctx, "tcp", dest.Address())
	if err != nil {
		return nil, err
	}
	if dest.TLS() {
		var cfg *tls.Config
		if p.TLSConfig != nil {
			cfg = p.TLSConfig.Clone()
		} else {
			cfg = &tls.Config{}
		}
		if cfg.ServerName == "" {
			cfg.ServerName = dest.Host
		}
		tlsConn := tls.Client(netConn, cfg)
		if err = tlsConn.HandshakeContext(ctx); err != nil {
			_ = tlsConn.Close()
			return nil, err
		}
		netConn = tlsConn
	}
	c := NewConn(p.nextID.Add(1), dest, netConn)
	p.dialed.Add(1)
	p.logger().Debug("dialed connection",
		zap.Int64("conn_id", c.id),
		zap.Stringer("destination", dest))
	return c, nil
}

func (p *Pool) discard(c *Conn, reason string) {
	_ = c.Close()
	p.discards.Add(1)
	p.logger().Debug("discarded connection",
		zap.Int64("conn_id", c.id),
		zap.Stringer("destination", c.dest),
		zap.String("reason", reason))
}

func (p *Pool) pullConn(dest Destination) *Conn {
	p.mu.Lock()
	defer p.mu.Unlock()

	list := p.idle[dest]
	if list == nil || list.qnty == 0 {
		return nil
	}
	c := list.head
	list.head = c.next
	c.next = nil
	list.qnty--
	if list.qnty == 0 {
		list.tail = nil
		delete(p.idle, dest)
	}
	return c
}

func (p *Pool) pushConn(c *Conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	max := p.maxIdle()
	if p.closed || max <= 0 {
		return false
	}
	if p.idle == nil {
		p.idle = make(map[Destination]*connList)
	}
	list := p.idle[c.dest]
	if list == nil {
		list = &connList{}
		p.idle[c.dest] = list
	}
	if list.qnty >= max {
		return false
	}
	if list.qnty == 0 {
		list.head = c
		list.tail = c
	} else {
		list.tail.next = c
		list.tail = c
	}
	list.qnty++
	return true
}

func (p *Pool) dialer() Dialer {
	if p.Dialer != nil {
		return p.Dialer
	}
	return defaultDialer
}

func (p *Pool) idleTimeout() time.Duration {
	if p.IdleTimeout > 0 {
		return p.IdleTimeout
	}
	return DefaultIdleTimeout
}

func (p *Pool) maxIdle() int {
	if p.MaxIdlePerDestination == 0 {
		return DefaultMaxIdlePerDestination
	}
	return p.MaxIdlePerDestination
}

func (p *Pool) logger() *zap.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return nopLogger
}

var (
	defaultDialer = &net.Dialer{Timeout: DefaultDialTimeout, KeepAlive: 30 * time.Second}
	nopLogger     = zap.NewNop()
)
