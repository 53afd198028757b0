// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http/cookiejar"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/gogama/httpcall"
	"github.com/gogama/httpcall/cache"
	"github.com/gogama/httpcall/conn"
	"github.com/gogama/httpcall/retry"
	"github.com/gogama/httpcall/timeout"
)

// Resources holds a client built from a Config together with the
// resources it owns.
type Resources struct {
	Client *httpcall.Client
	Pool   *conn.Pool
	// Store is nil when caching is off.
	Store cache.Store
	// Budget is nil when retries are not budgeted.
	Budget *retry.Budget

	closers []func() error
}

// Close releases the pool and the cache store.
func (r *Resources) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// Build creates the client described by c. A Redis store is pinged
// with ctx before Build returns. The logger may be nil.
func (c *Config) Build(ctx context.Context, logger *zap.Logger) (*Resources, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resources{}

	r.Pool = c.newPool(logger)
	r.closers = append(r.closers, r.Pool.Close)

	store, closeStore, err := c.newStore(ctx)
	if err != nil {
		_ = r.Close()
		return nil, err
	}
	if store != nil {
		r.Store = store
		r.closers = append(r.closers, closeStore)
	}

	d := &httpcall.Dispatcher{Logger: logger}
	d.SetMaxRequests(c.Dispatcher.MaxRequests)
	d.SetMaxRequestsPerHost(c.Dispatcher.MaxRequestsPerHost)

	var policy retry.Policy
	policy, r.Budget = c.RetryPolicy()

	cl := &httpcall.Client{
		Dispatcher:          d,
		ConnProvider:        r.Pool,
		RetryPolicy:         policy,
		TimeoutPolicy:       c.TimeoutPolicy(),
		CallTimeout:         c.Timeout.Call,
		CacheStrategy:       cache.Strategy{Shared: c.Cache.Shared},
		MaxRedirects:        c.Redirects.Max,
		DisableRedirects:    c.Redirects.Disable,
		DisableSSLRedirects: c.Redirects.DisableSSL,
		DisableCompression:  c.DisableCompression,
		UserAgent:           c.UserAgent,
		Handlers:            &httpcall.HandlerGroup{},
		Logger:              logger,
	}
	if r.Store != nil {
		cl.Cache = r.Store
	}
	if c.Cookies {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			_ = r.Close()
			return nil, err
		}
		cl.Jar = jar
	}
	r.Client = cl

	logger.Debug("client built",
		zap.Int("max_requests", c.Dispatcher.MaxRequests),
		zap.Int("max_requests_per_host", c.Dispatcher.MaxRequestsPerHost),
		zap.Int("max_retries", c.Retry.MaxRetries),
		zap.String("cache", c.Cache.Type))
	return r, nil
}

func (c *Config) newPool(logger *zap.Logger) *conn.Pool {
	p := &conn.Pool{
		Dialer: &net.Dialer{
			Timeout:   c.Pool.DialTimeout,
			KeepAlive: 30 * time.Second,
		},
		IdleTimeout:           c.Pool.IdleTimeout,
		MaxIdlePerDestination: c.Pool.MaxIdlePerDestination,
		Logger:                logger,
	}
	if c.Pool.InsecureSkipVerify {
		p.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return p
}

func (c *Config) newStore(ctx context.Context) (cache.Store, func() error, error) {
	switch c.Cache.Type {
	case CacheMemory:
		s, err := cache.NewMemoryStore(context.Background(), cache.MemoryConfig{
			LifeWindow: c.Cache.Memory.LifeWindow,
			MaxSizeMB:  c.Cache.Memory.MaxSizeMB,
			Shards:     c.Cache.Memory.Shards,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("httpcall/config: memory cache: %w", err)
		}
		return s, s.Close, nil
	case CacheRedis:
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    c.Cache.Redis.Addrs,
			Password: c.Cache.Redis.Password,
			DB:       c.Cache.Redis.DB,
		})
		s := cache.NewRedisStore(client, c.Cache.Redis.Prefix, c.Cache.Redis.TTL)
		if err := s.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("httpcall/config: redis cache: %w", err)
		}
		return s, client.Close, nil
	default:
		return nil, nil, nil
	}
}

// RetryPolicy returns the retry policy c describes, and the budget it
// spends from, if any.
func (c *Config) RetryPolicy() (retry.Policy, *retry.Budget) {
	if c.Retry.MaxRetries == 0 {
		return retry.Never, nil
	}
	d := retry.Times(c.Retry.MaxRetries).
		And(retry.Replayable).
		And(retry.StatusCode(c.Retry.StatusCodes...).Or(retry.TransientErr))
	var budget *retry.Budget
	if c.Retry.BudgetPerSecond > 0 {
		budget = retry.NewBudget(c.Retry.BudgetPerSecond, c.Retry.BudgetBurst)
		d = d.And(budget.Decider())
	}
	w := retry.NewExpWaiter(c.Retry.BaseWait, c.Retry.MaxWait, time.Now())
	if c.Retry.RespectRetryAfter {
		w = retry.RetryAfter(w, c.Retry.MaxWait)
	}
	return retry.NewPolicy(d, w), budget
}

// TimeoutPolicy returns the attempt timeout policy c describes. A plan
// whose context carries a timeout from timeout.NewContext overrides it.
func (c *Config) TimeoutPolicy() timeout.Policy {
	p := timeout.Adaptive(c.Timeout.Attempt, c.Timeout.AfterTimeout...)
	if c.Timeout.FollowUp > 0 {
		p = timeout.FollowUp(p, c.Timeout.FollowUp)
	}
	return timeout.Planned(p)
}
