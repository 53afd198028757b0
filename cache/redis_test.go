// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisStore(t *testing.T) {
	assert.PanicsWithValue(t, "httpcall/cache: nil redis client", func() {
		NewRedisStore(nil, "", 0)
	})
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer func() { _ = client.Close() }()
	s := NewRedisStore(client, "", time.Minute)
	assert.Equal(t, DefaultRedisPrefix, s.prefix)
	assert.Equal(t, time.Minute, s.ttl)
}

// TestRedisStore runs against a real server named by HTTPCALL_REDIS_ADDR.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("HTTPCALL_REDIS_ADDR")
	if addr == "" {
		t.Skip("HTTPCALL_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer func() { _ = client.Close() }()
	s := NewRedisStore(client, "httpcall:test:", time.Minute)
	require.NoError(t, s.Ping(context.Background()))
	testStore(t, s)
}
