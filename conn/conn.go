// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package conn

import (
	"bufio"
	"net"
	"sync/atomic"
	"time"
)

// A Conn is a connection to a Destination, usable for one exchange at
// a time. It owns buffered reader and writer wrappers around the
// network connection; all reads and writes of an exchange must go
// through them so that buffered bytes are not lost between exchanges.
type Conn struct {
	id      int64
	dest    Destination
	netConn net.Conn
	br      *bufio.Reader
	bw      *bufio.Writer
	created time.Time

	// Guarded by the Pool idle list lock while idle.
	next   *Conn
	expire time.Time

	exchanges atomic.Int64
	inUse     atomic.Bool
	closed    atomic.Bool
}

// NewConn wraps an established network connection to dest. Custom
// Provider implementations use NewConn to hand out connections they
// dialed themselves.
func NewConn(id int64, dest Destination, netConn net.Conn) *Conn {
	c := &Conn{
		id:      id,
		dest:    dest,
		netConn: netConn,
		br:      bufio.NewReaderSize(netConn, 4096),
		bw:      bufio.NewWriterSize(netConn, 4096),
		created: time.Now(),
	}
	c.inUse.Store(true)
	c.exchanges.Store(1)
	return c
}

// ID returns the identifier the provider assigned to c.
func (c *Conn) ID() int64 { return c.id }

// Destination returns the destination c is connected to.
func (c *Conn) Destination() Destination { return c.dest }

// NetConn returns the underlying network connection.
func (c *Conn) NetConn() net.Conn { return c.netConn }

// Reader returns the buffered reader for c.
func (c *Conn) Reader() *bufio.Reader { return c.br }

// Writer returns the buffered writer for c.
func (c *Conn) Writer() *bufio.Writer { return c.bw }

// Created returns the time the connection was established.
func (c *Conn) Created() time.Time { return c.created }

// Reused reports whether c carried an exchange before the current one.
func (c *Conn) Reused() bool { return c.exchanges.Load() > 1 }

// Exchanges returns the number of exchanges started on c, including
// the current one.
func (c *Conn) Exchanges() int64 { return c.exchanges.Load() }

// SetDeadline sets the read and write deadline of the underlying
// network connection. A deadline in the past interrupts any blocked
// read or write.
func (c *Conn) SetDeadline(t time.Time) error {
	return c.netConn.SetDeadline(t)
}

// Close closes the underlying network connection. It is safe to call
// more than once.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.netConn.Close()
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool { return c.closed.Load() }

// Begin marks the start of another exchange on a connection handed out
// again by a Provider. NewConn already counts the first exchange.
func (c *Conn) Begin() {
	c.inUse.Store(true)
	c.exchanges.Add(1)
}

// isAlive reports whether an idle connection may still be handed out.
func (c *Conn) isAlive(now time.Time) bool {
	return !c.closed.Load() && now.Before(c.expire) && c.br.Buffered() == 0
}
