// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package cache holds the HTTP caching rules used by the cache stage of
// httpcall.Client, and the stores it keeps responses in.
//
// Strategy decides, for a request and a stored Entry, whether the entry
// is fresh enough to serve, must be revalidated with a conditional
// request, or cannot be used. Control parses Cache-Control directives.
// CombineHeaders merges a stored response with a 304 Not Modified.
//
// A Store persists entries under keys computed by Key. MemoryStore
// keeps them in process memory using bigcache, and RedisStore shares
// them between processes through Redis. Entries are encoded as
// snappy-compressed JSON.
package cache
