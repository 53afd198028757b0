// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"context"
	"net/url"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// A Store persists cache entries.
//
// Get returns a nil entry and a nil error when no entry is stored under
// key. Put replaces any existing entry. Remove of an absent key is not
// an error.
//
// Implementations of Store must be safe for concurrent use by multiple
// goroutines.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, key string, e *Entry) error
	Remove(ctx context.Context, key string) error
}

// Key returns the store key for a URL: the xxhash digest of the URL
// without its fragment, in hexadecimal.
func Key(u *url.URL) string {
	u2 := *u
	u2.Fragment = ""
	u2.RawFragment = ""
	return strconv.FormatUint(xxhash.Sum64String(u2.String()), 16)
}
