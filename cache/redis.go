// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix is the key prefix a RedisStore uses when Prefix is
// empty.
const DefaultRedisPrefix = "httpcall:cache:"

// A RedisStore is a Store shared between processes through Redis.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore returns a store saving entries in client under keys
// starting with prefix. Entries expire from Redis after ttl; zero
// means they never do.
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if client == nil {
		panic("httpcall/cache: nil redis client")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// Get returns the entry stored under key, or nil if there is none.
func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	b, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
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
func (s *RedisStore) Put(ctx context.Context, key string, e *Entry) error {
	b, err := e.MarshalBinary()
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.prefix+key, b, s.ttl).Err()
}

// Remove deletes the entry stored under key, if any.
func (s *RedisStore) Remove(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

// Ping checks that Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
