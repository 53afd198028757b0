// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package config loads an httpcall.Client setup from YAML and builds
// the client, its connection pool, its cache store and its logger from
// it.
//
// A minimal file only needs the settings which differ from Default:
//
//	dispatcher:
//	  max_requests_per_host: 10
//	retry:
//	  max_retries: 3
//	cache:
//	  type: memory
//
// Environment variables named HTTPCALL_* override some file settings;
// see Load.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gogama/httpcall"
	"github.com/gogama/httpcall/conn"
	"github.com/gogama/httpcall/retry"
)

// ErrInvalidConfig is matched by every validation error.
var ErrInvalidConfig = errors.New("httpcall/config: invalid configuration")

// Cache store types.
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config is the complete client configuration.
type Config struct {
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Pool       PoolConfig       `yaml:"pool"`
	Retry      RetryConfig      `yaml:"retry"`
	Timeout    TimeoutConfig    `yaml:"timeout"`
	Redirects  RedirectConfig   `yaml:"redirects"`
	Cache      CacheConfig      `yaml:"cache"`
	Log        LogConfig        `yaml:"log"`

	// UserAgent replaces the default User-Agent header value.
	UserAgent string `yaml:"user_agent,omitempty"`
	// DisableCompression stops transparent response decompression.
	DisableCompression bool `yaml:"disable_compression"`
	// Cookies enables an in-memory cookie jar.
	Cookies bool `yaml:"cookies"`
}

// DispatcherConfig caps asynchronous calls.
type DispatcherConfig struct {
	MaxRequests        int `yaml:"max_requests"`
	MaxRequestsPerHost int `yaml:"max_requests_per_host"`
}

// PoolConfig configures the connection pool.
type PoolConfig struct {
	DialTimeout           time.Duration `yaml:"dial_timeout"`
	IdleTimeout           time.Duration `yaml:"idle_timeout"`
	MaxIdlePerDestination int           `yaml:"max_idle_per_destination"`
	// InsecureSkipVerify disables TLS certificate verification. Only
	// meant for testing.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// RetryConfig configures the retry policy.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	// Zero disables retries.
	MaxRetries int `yaml:"max_retries"`
	// StatusCodes are the response status codes which are retried.
	StatusCodes []int `yaml:"status_codes,omitempty"`
	// BaseWait and MaxWait bound the exponential backoff.
	BaseWait time.Duration `yaml:"base_wait"`
	MaxWait  time.Duration `yaml:"max_wait"`
	// RespectRetryAfter lets a Retry-After header of up to MaxWait
	// decide the wait.
	RespectRetryAfter bool `yaml:"respect_retry_after"`
	// BudgetPerSecond, when positive, caps the rate of retries across
	// every call of the client, with bursts of up to BudgetBurst.
	BudgetPerSecond float64 `yaml:"budget_per_second,omitempty"`
	BudgetBurst     int     `yaml:"budget_burst,omitempty"`
}

// TimeoutConfig configures attempt and call timeouts.
type TimeoutConfig struct {
	// Attempt is the usual attempt timeout.
	Attempt time.Duration `yaml:"attempt"`
	// AfterTimeout holds the attempt timeouts used after attempts
	// timed out, in order. See timeout.Adaptive.
	AfterTimeout []time.Duration `yaml:"after_timeout,omitempty"`
	// FollowUp, if positive, is the attempt timeout of follow-up
	// requests such as redirects. See timeout.FollowUp.
	FollowUp time.Duration `yaml:"follow_up,omitempty"`
	// Call bounds whole calls. Zero means no bound.
	Call time.Duration `yaml:"call"`
}

// RedirectConfig configures follow-ups.
type RedirectConfig struct {
	Max        int  `yaml:"max"`
	Disable    bool `yaml:"disable"`
	DisableSSL bool `yaml:"disable_ssl"`
}

// CacheConfig selects and configures the cache store.
type CacheConfig struct {
	Type   string      `yaml:"type"`
	Shared bool        `yaml:"shared"`
	Memory MemoryCache `yaml:"memory"`
	Redis  RedisCache  `yaml:"redis"`
}

// MemoryCache configures the in-process store.
type MemoryCache struct {
	LifeWindow time.Duration `yaml:"life_window"`
	MaxSizeMB  int           `yaml:"max_size_mb"`
	Shards     int           `yaml:"shards"`
}

// RedisCache configures the Redis store.
type RedisCache struct {
	Addrs    []string      `yaml:"addrs"`
	Password string        `yaml:"password,omitempty"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix,omitempty"`
	TTL      time.Duration `yaml:"ttl"`
}

// LogConfig configures the logger built by NewLogger.
type LogConfig struct {
	// Level is one of debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is json or console.
	Format string `yaml:"format"`
	// File, if set, receives the log through a rotating writer
	// instead of standard error.
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Default returns the configuration used for settings a file leaves
// out. It matches the behavior of a zero httpcall.Client.
func Default() *Config {
	return &Config{
		Dispatcher: DispatcherConfig{
			MaxRequests:        httpcall.DefaultMaxRequests,
			MaxRequestsPerHost: httpcall.DefaultMaxRequestsPerHost,
		},
		Pool: PoolConfig{
			DialTimeout:           conn.DefaultDialTimeout,
			IdleTimeout:           conn.DefaultIdleTimeout,
			MaxIdlePerDestination: conn.DefaultMaxIdlePerDestination,
		},
		Retry: RetryConfig{
			MaxRetries:        retry.DefaultTimes,
			StatusCodes:       []int{429, 502, 503, 504},
			BaseWait:          50 * time.Millisecond,
			MaxWait:           time.Second,
			RespectRetryAfter: true,
		},
		Timeout: TimeoutConfig{
			Attempt: 30 * time.Second,
		},
		Redirects: RedirectConfig{
			Max: httpcall.DefaultMaxRedirects,
		},
		Cache: CacheConfig{
			Type: CacheNone,
			Memory: MemoryCache{
				LifeWindow: 10 * time.Minute,
				Shards:     64,
			},
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Parse decodes YAML over Default. Unknown keys are errors.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("httpcall/config: failed to parse YAML: %w", err)
		}
	}
	return cfg, nil
}

// Load reads the YAML file at path, if path is not empty, applies
// environment overrides and validates the result.
//
// The overrides are HTTPCALL_LOG_LEVEL, HTTPCALL_CALL_TIMEOUT (a Go
// duration), HTTPCALL_MAX_RETRIES and HTTPCALL_REDIS_ADDRS (comma
// separated).
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		if strings.HasPrefix(path, "~/") {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("httpcall/config: failed to get home directory: %w", err)
			}
			path = filepath.Join(home, path[2:])
		}
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("httpcall/config: failed to read config file: %w", err)
		}
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err = cfg.loadFromEnv(); err != nil {
		return nil, err
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFromEnv() error {
	if val := os.Getenv("HTTPCALL_LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv("HTTPCALL_CALL_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("httpcall/config: HTTPCALL_CALL_TIMEOUT: %w", err)
		}
		c.Timeout.Call = d
	}
	if val := os.Getenv("HTTPCALL_MAX_RETRIES"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("httpcall/config: HTTPCALL_MAX_RETRIES: %w", err)
		}
		c.Retry.MaxRetries = n
	}
	if val := os.Getenv("HTTPCALL_REDIS_ADDRS"); val != "" {
		c.Cache.Redis.Addrs = strings.Split(val, ",")
	}
	return nil
}

// Validate checks every setting and reports all problems at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Dispatcher.MaxRequests < 1 {
		errs = append(errs, fmt.Sprintf("dispatcher.max_requests must be positive, got %d", c.Dispatcher.MaxRequests))
	}
	if c.Dispatcher.MaxRequestsPerHost < 1 {
		errs = append(errs, fmt.Sprintf("dispatcher.max_requests_per_host must be positive, got %d", c.Dispatcher.MaxRequestsPerHost))
	}
	if c.Pool.DialTimeout < 0 || c.Pool.IdleTimeout < 0 {
		errs = append(errs, "pool timeouts must not be negative")
	}

	if c.Retry.MaxRetries < 0 {
		errs = append(errs, fmt.Sprintf("retry.max_retries must not be negative, got %d", c.Retry.MaxRetries))
	}
	for _, code := range c.Retry.StatusCodes {
		if code < 100 || code > 599 {
			errs = append(errs, fmt.Sprintf("retry.status_codes holds invalid status code %d", code))
		}
	}
	if c.Retry.MaxRetries > 0 {
		if c.Retry.BaseWait <= 0 {
			errs = append(errs, fmt.Sprintf("retry.base_wait must be positive, got %v", c.Retry.BaseWait))
		}
		if c.Retry.MaxWait < c.Retry.BaseWait {
			errs = append(errs, fmt.Sprintf("retry.max_wait must be at least retry.base_wait, got %v", c.Retry.MaxWait))
		}
	}
	if c.Retry.BudgetPerSecond < 0 {
		errs = append(errs, fmt.Sprintf("retry.budget_per_second must not be negative, got %v", c.Retry.BudgetPerSecond))
	}
	if c.Retry.BudgetPerSecond > 0 && c.Retry.BudgetBurst < 1 {
		errs = append(errs, fmt.Sprintf("retry.budget_burst must be positive when a budget is set, got %d", c.Retry.BudgetBurst))
	}

	if c.Timeout.Attempt < 0 || c.Timeout.Call < 0 || c.Timeout.FollowUp < 0 {
		errs = append(errs, "timeouts must not be negative")
	}
	for _, d := range c.Timeout.AfterTimeout {
		if d <= 0 {
			errs = append(errs, fmt.Sprintf("timeout.after_timeout values must be positive, got %v", d))
		}
	}
	if c.Redirects.Max < 0 {
		errs = append(errs, fmt.Sprintf("redirects.max must not be negative, got %d", c.Redirects.Max))
	}

	switch c.Cache.Type {
	case CacheNone, "":
	case CacheMemory:
		if s := c.Cache.Memory.Shards; s < 1 || s&(s-1) != 0 {
			errs = append(errs, fmt.Sprintf("cache.memory.shards must be a power of two, got %d", s))
		}
	case CacheRedis:
		if len(c.Cache.Redis.Addrs) == 0 {
			errs = append(errs, "cache.redis.addrs must name at least one address")
		}
	default:
		errs = append(errs, fmt.Sprintf("cache.type must be one of [none, memory, redis], got %q", c.Cache.Type))
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [debug, info, warn, error], got %q", c.Log.Level))
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, console], got %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}
