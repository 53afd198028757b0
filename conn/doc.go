// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package conn defines the connection provider contract used by the
// connect and transfer stages of httpcall.Client, and a default pooled
// implementation.
//
// A Provider hands out a *Conn for exactly one exchange and is told,
// when the exchange is over, whether the connection may be reused:
//
//	c, err := provider.Acquire(ctx, dest)
//	...
//	provider.Release(c, reusable)
//
// Pool keeps idle connections per Destination in FIFO order, expires
// them after an idle timeout, and dials new ones (with TLS for https
// destinations) when none is available.
package conn
