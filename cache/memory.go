// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"context"
	"errors"
	"time"

	"github.com/allegro/bigcache/v3"
)

// MemoryConfig configures a MemoryStore.
type MemoryConfig struct {
	// LifeWindow is how long an entry is kept, regardless of its HTTP
	// freshness. Zero means 10 minutes.
	LifeWindow time.Duration
	// CleanWindow is the interval between removals of expired entries.
	// Zero means 1 minute.
	CleanWindow time.Duration
	// MaxSizeMB caps the memory used by the store, in megabytes. Zero
	// means no cap.
	MaxSizeMB int
	// Shards is the number of cache shards. It must be a power of two.
	// Zero means 64.
	Shards int
}

// A MemoryStore is an in-process Store backed by bigcache.
type MemoryStore struct {
	cache *bigcache.BigCache
}

// NewMemoryStore creates a MemoryStore. The store runs a cleanup
// goroutine until ctx is done or Close is called.
func NewMemoryStore(ctx context.Context, cfg MemoryConfig) (*MemoryStore, error) {
	life := cfg.LifeWindow
	if life <= 0 {
		life = 10 * time.Minute
	}
	bc := bigcache.DefaultConfig(life)
	bc.CleanWindow = time.Minute
	if cfg.CleanWindow > 0 {
		bc.CleanWindow = cfg.CleanWindow
	}
	bc.Shards = 64
	if cfg.Shards > 0 {
		bc.Shards = cfg.Shards
	}
	bc.HardMaxCacheSize = cfg.MaxSizeMB
	bc.Verbose = false
	c, err := bigcache.New(ctx, bc)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{cache: c}, nil
}

// Get returns the entry stored under key, or nil if there is none.
func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	b, err := s.cache.Get(key)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	e := new(Entry)
	if err = e.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return e, nil
}

// Put stores e under key.
func (s *MemoryStore) Put(_ context.Context, key string, e *Entry) error {
	b, err := e.MarshalBinary()
	if err != nil {
		return err
	}
	return s.cache.Set(key, b)
}

// Remove deletes the entry stored under key, if any.
func (s *MemoryStore) Remove(_ context.Context, key string) error {
	err := s.cache.Delete(key)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return nil
	}
	return err
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}

// Close stops the cleanup goroutine and releases the memory.
func (s *MemoryStore) Close() error {
	return s.cache.Close()
}
