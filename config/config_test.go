// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/gogama/httpcall/cache"
	"github.com/gogama/httpcall/request"
	"github.com/gogama/httpcall/retry"
	"github.com/gogama/httpcall/timeout"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 64, cfg.Dispatcher.MaxRequests)
	assert.Equal(t, 5, cfg.Dispatcher.MaxRequestsPerHost)
	assert.Equal(t, 20, cfg.Redirects.Max)
	assert.Equal(t, CacheNone, cfg.Cache.Type)
}

func TestParse(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		cfg, err := Parse(nil)
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})
	t.Run("overrides", func(t *testing.T) {
		cfg, err := Parse([]byte(`
dispatcher:
  max_requests_per_host: 10
retry:
  max_retries: 2
  status_codes: [503]
  base_wait: 10ms
  max_wait: 2s
timeout:
  attempt: 3s
  after_timeout: [5s, 10s]
  call: 1m
cache:
  type: memory
  memory:
    shards: 8
user_agent: tester/1
cookies: true
`))
		require.NoError(t, err)
		assert.Equal(t, 64, cfg.Dispatcher.MaxRequests)
		assert.Equal(t, 10, cfg.Dispatcher.MaxRequestsPerHost)
		assert.Equal(t, 2, cfg.Retry.MaxRetries)
		assert.Equal(t, []int{503}, cfg.Retry.StatusCodes)
		assert.Equal(t, 10*time.Millisecond, cfg.Retry.BaseWait)
		assert.Equal(t, 2*time.Second, cfg.Retry.MaxWait)
		assert.Equal(t, 3*time.Second, cfg.Timeout.Attempt)
		assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, cfg.Timeout.AfterTimeout)
		assert.Equal(t, time.Minute, cfg.Timeout.Call)
		assert.Equal(t, CacheMemory, cfg.Cache.Type)
		assert.Equal(t, 8, cfg.Cache.Memory.Shards)
		assert.Equal(t, 10*time.Minute, cfg.Cache.Memory.LifeWindow)
		assert.Equal(t, "tester/1", cfg.UserAgent)
		assert.True(t, cfg.Cookies)
		assert.NoError(t, cfg.Validate())
	})
	t.Run("unknown key", func(t *testing.T) {
		_, err := Parse([]byte("dispatcher:\n  max_request: 3\n"))
		assert.ErrorContains(t, err, "max_request")
	})
	t.Run("bad duration", func(t *testing.T) {
		_, err := Parse([]byte("timeout:\n  attempt: soon\n"))
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		modify func(c *Config)
		want   string
	}{
		{"max requests", func(c *Config) { c.Dispatcher.MaxRequests = 0 }, "dispatcher.max_requests"},
		{"max per host", func(c *Config) { c.Dispatcher.MaxRequestsPerHost = -1 }, "dispatcher.max_requests_per_host"},
		{"negative retries", func(c *Config) { c.Retry.MaxRetries = -1 }, "retry.max_retries"},
		{"status code", func(c *Config) { c.Retry.StatusCodes = []int{42} }, "invalid status code 42"},
		{"base wait", func(c *Config) { c.Retry.BaseWait = 0 }, "retry.base_wait"},
		{"max wait", func(c *Config) { c.Retry.MaxWait = time.Millisecond }, "retry.max_wait"},
		{"budget burst", func(c *Config) { c.Retry.BudgetPerSecond = 1 }, "retry.budget_burst"},
		{"after timeout", func(c *Config) { c.Timeout.AfterTimeout = []time.Duration{0} }, "timeout.after_timeout"},
		{"follow-up timeout", func(c *Config) { c.Timeout.FollowUp = -time.Second }, "timeouts must not be negative"},
		{"redirects", func(c *Config) { c.Redirects.Max = -1 }, "redirects.max"},
		{"cache type", func(c *Config) { c.Cache.Type = "disk" }, "cache.type"},
		{"shards", func(c *Config) { c.Cache.Type = CacheMemory; c.Cache.Memory.Shards = 3 }, "power of two"},
		{"redis addrs", func(c *Config) { c.Cache.Type = CacheRedis }, "cache.redis.addrs"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			cfg := Default()
			testCase.modify(cfg)

			err := cfg.Validate()

			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.ErrorContains(t, err, testCase.want)
		})
	}
	t.Run("all problems at once", func(t *testing.T) {
		cfg := Default()
		cfg.Dispatcher.MaxRequests = 0
		cfg.Log.Level = "loud"
		err := cfg.Validate()
		assert.ErrorContains(t, err, "dispatcher.max_requests")
		assert.ErrorContains(t, err, "log.level")
	})
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "httpcall.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retry:\n  max_retries: 1\nlog:\n  level: debug\n"), 0o600))

	t.Run("file", func(t *testing.T) {
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 1, cfg.Retry.MaxRetries)
		assert.Equal(t, "debug", cfg.Log.Level)
	})
	t.Run("environment wins", func(t *testing.T) {
		t.Setenv("HTTPCALL_MAX_RETRIES", "4")
		t.Setenv("HTTPCALL_CALL_TIMEOUT", "15s")
		t.Setenv("HTTPCALL_LOG_LEVEL", "warn")
		t.Setenv("HTTPCALL_REDIS_ADDRS", "a:6379,b:6379")

		cfg, err := Load(path)

		require.NoError(t, err)
		assert.Equal(t, 4, cfg.Retry.MaxRetries)
		assert.Equal(t, 15*time.Second, cfg.Timeout.Call)
		assert.Equal(t, "warn", cfg.Log.Level)
		assert.Equal(t, []string{"a:6379", "b:6379"}, cfg.Cache.Redis.Addrs)
	})
	t.Run("bad environment", func(t *testing.T) {
		t.Setenv("HTTPCALL_CALL_TIMEOUT", "later")
		_, err := Load(path)
		assert.ErrorContains(t, err, "HTTPCALL_CALL_TIMEOUT")
	})
	t.Run("no file", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, retry.DefaultTimes, cfg.Retry.MaxRetries)
	})
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "absent.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
	t.Run("invalid", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(bad, []byte("cache:\n  type: disk\n"), 0o600))
		_, err := Load(bad)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestBuild(t *testing.T) {
	t.Run("client", func(t *testing.T) {
		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.Header().Set("Cache-Control", "max-age=60")
			_ = json.NewEncoder(w).Encode(r.Header.Get("User-Agent"))
		}))
		defer server.Close()
		cfg := Default()
		cfg.Cache.Type = CacheMemory
		cfg.Cache.Memory.Shards = 4
		cfg.UserAgent = "built/1"
		cfg.Cookies = true
		cfg.Dispatcher.MaxRequestsPerHost = 7
		cfg.Retry.BudgetPerSecond = 10
		cfg.Retry.BudgetBurst = 5

		r, err := cfg.Build(context.Background(), nil)

		require.NoError(t, err)
		defer func() { assert.NoError(t, r.Close()) }()
		cl := r.Client
		assert.Same(t, r.Pool, cl.ConnProvider)
		assert.NotNil(t, cl.Jar)
		assert.NotNil(t, r.Budget)
		assert.Equal(t, 7, cl.Dispatcher.MaxRequestsPerHost())
		require.IsType(t, &cache.MemoryStore{}, r.Store)

		for i := 0; i < 2; i++ {
			resp, err := cl.Get(server.URL)
			require.NoError(t, err)
			b, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			require.NoError(t, resp.Body.Close())
			var ua string
			require.NoError(t, json.Unmarshal(b, &ua))
			assert.Equal(t, "built/1", ua)
		}
		assert.Equal(t, int32(1), hits.Load())
	})
	t.Run("no cache", func(t *testing.T) {
		r, err := Default().Build(context.Background(), nil)
		require.NoError(t, err)
		assert.Nil(t, r.Store)
		assert.Nil(t, r.Client.Cache)
		assert.Nil(t, r.Client.Jar)
		assert.NoError(t, r.Close())
		assert.NoError(t, r.Close())
	})
	t.Run("invalid", func(t *testing.T) {
		cfg := Default()
		cfg.Dispatcher.MaxRequests = 0
		_, err := cfg.Build(context.Background(), nil)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
	t.Run("unreachable redis", func(t *testing.T) {
		cfg := Default()
		cfg.Cache.Type = CacheRedis
		cfg.Cache.Redis.Addrs = []string{"127.0.0.1:1"}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_, err := cfg.Build(ctx, nil)

		assert.ErrorContains(t, err, "redis cache")
	})
}

func TestRetryPolicy(t *testing.T) {
	cfg := Default()
	cfg.Retry.MaxRetries = 0
	p, b := cfg.RetryPolicy()
	assert.False(t, p.Decide(&request.Execution{}))
	assert.Nil(t, b)

	cfg = Default()
	cfg.Retry.MaxRetries = 1
	cfg.Retry.StatusCodes = []int{503}
	p, _ = cfg.RetryPolicy()
	plan, err := request.NewPlan("GET", "http://example.com", nil)
	require.NoError(t, err)
	e := &request.Execution{Plan: plan, Current: plan, Response: &request.Response{StatusCode: 503, Header: http.Header{"Retry-After": {"1"}}}}
	assert.True(t, p.Decide(e))
	assert.Equal(t, time.Second, p.Wait(e))
	e.Response.StatusCode = 500
	assert.False(t, p.Decide(e))
	e.Response.StatusCode = 503
	e.Retries = 1
	assert.False(t, p.Decide(e))
}

func TestTimeoutPolicy(t *testing.T) {
	cfg := Default()
	cfg.Timeout.Attempt = time.Second
	e := &request.Execution{}
	assert.Equal(t, time.Second, cfg.TimeoutPolicy().Timeout(e))

	cfg.Timeout.AfterTimeout = []time.Duration{5 * time.Second}
	e.AttemptTimeouts = 1
	e.PreviousTimeout = true
	assert.Equal(t, 5*time.Second, cfg.TimeoutPolicy().Timeout(e))

	cfg.Timeout.FollowUp = 2 * time.Second
	e.PreviousTimeout = false
	e.FollowUps = 1
	assert.Equal(t, 2*time.Second, cfg.TimeoutPolicy().Timeout(e))

	p, err := request.NewPlanWithContext(timeout.NewContext(context.Background(), 7*time.Second), "GET", "http://example.com/", nil)
	require.NoError(t, err)
	e.Current = p
	assert.Equal(t, 7*time.Second, cfg.TimeoutPolicy().Timeout(e))
}

func TestNewLogger(t *testing.T) {
	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "httpcall.log")
		logger, err := NewLogger(LogConfig{Level: "info", Format: "json", File: path, MaxSizeMB: 1})
		require.NoError(t, err)
		logger.Debug("hidden")
		logger.Info("shown")
		_ = logger.Sync()

		b, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(b), `"msg":"shown"`)
		assert.NotContains(t, string(b), "hidden")
	})
	t.Run("console", func(t *testing.T) {
		logger, err := NewLogger(LogConfig{Level: "debug", Format: "console"})
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
	})
	t.Run("bad level", func(t *testing.T) {
		_, err := NewLogger(LogConfig{Level: "loud", Format: "json"})
		assert.Error(t, err)
	})
	t.Run("bad format", func(t *testing.T) {
		_, err := NewLogger(LogConfig{Level: "info", Format: "xml"})
		assert.Error(t, err)
	})
}
