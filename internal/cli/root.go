// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package cli implements the httpcall command line tool.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/itchyny/gojq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gogama/httpcall"
	"github.com/gogama/httpcall/config"
	"github.com/gogama/httpcall/metrics"
	"github.com/gogama/httpcall/request"
	"github.com/gogama/httpcall/tracing"
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

type options struct {
	configPath  string
	method      string
	data        string
	headers     *headerValue
	include     bool
	fail        bool
	verbose     bool
	callTimeout time.Duration
	jq          string
	raw         bool
	count       int
	metricsAddr string
	propagate   bool
}

// NewRootCommand creates the httpcall command.
func NewRootCommand() *cobra.Command {
	opts := &options{headers: newHeaderValue()}
	cmd := &cobra.Command{
		Use:   "httpcall [flags] URL",
		Short: "Execute HTTP calls with retries, redirects and caching",
		Long: `httpcall executes an HTTP call through the httpcall client, applying
the retry, redirect, cache and connection settings of an optional YAML
config file.

With --count greater than one the call is cloned and enqueued that many
times, and one summary line is printed per call instead of the body.`,
		Version:       httpcall.Version,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("timeout") {
				opts.callTimeout = -1
			}
			return run(cmd.Context(), opts, args[0], cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "Path to a YAML config file")
	f.StringVarP(&opts.method, "request", "X", "", "Request method (default GET, or POST with --data)")
	f.StringVarP(&opts.data, "data", "d", "", "Request body")
	f.VarP(opts.headers, "header", "H", "Request header as \"Name: value\" (repeatable)")
	f.BoolVarP(&opts.include, "include", "i", false, "Print the status line and response headers")
	f.BoolVarP(&opts.fail, "fail", "f", false, "Exit with status 22 when the response status is 400 or above")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "Log at debug level")
	f.DurationVar(&opts.callTimeout, "timeout", 0, "Timeout for the whole call, overriding the config file")
	f.StringVar(&opts.jq, "jq", "", "jq expression applied to a JSON response body")
	f.BoolVarP(&opts.raw, "raw-output", "r", false, "With --jq, print string results without quotes")
	f.IntVarP(&opts.count, "count", "n", 1, "Number of times to execute the call")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
	f.BoolVar(&opts.propagate, "propagate", false, "Send W3C trace context headers")

	return cmd
}

func run(ctx context.Context, opts *options, url string, stdout io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.count < 1 {
		return &ExitError{Code: 2, Err: fmt.Errorf("--count must be at least 1, got %d", opts.count)}
	}
	var code *gojq.Code
	if opts.jq != "" {
		var err error
		if code, err = compileFilter(opts.jq); err != nil {
			return &ExitError{Code: 2, Err: err}
		}
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}
	if opts.verbose {
		cfg.Log.Level = "debug"
	}
	if opts.callTimeout >= 0 {
		cfg.Timeout.Call = opts.callTimeout
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}
	defer func() { _ = logger.Sync() }()

	res, err := cfg.Build(ctx, logger)
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}
	defer func() {
		if err := res.Close(); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}()
	cl := res.Client

	reg := prometheus.NewRegistry()
	m := metrics.New("")
	if err = m.Register(reg); err != nil {
		return err
	}
	m.Install(cl.Handlers)
	if err = reg.Register(metrics.NewPoolCollector("", "default", res.Pool)); err != nil {
		return err
	}
	if opts.metricsAddr != "" {
		stop, err := serveMetrics(opts.metricsAddr, reg, logger)
		if err != nil {
			return &ExitError{Code: 2, Err: err}
		}
		defer stop()
	}
	if opts.propagate {
		cl.Interceptors = append(cl.Interceptors, tracing.New(nil, tracing.W3CPropagator()))
	}

	p, err := newPlan(ctx, opts, url)
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}

	if opts.count == 1 {
		return single(ctx, cl, p, opts, code, stdout)
	}
	return repeat(cl, p, opts.count, stdout)
}

func newPlan(ctx context.Context, opts *options, url string) (*request.Plan, error) {
	method := opts.method
	var body interface{}
	if opts.data != "" {
		body = []byte(opts.data)
		if method == "" {
			method = http.MethodPost
		}
	}
	if method == "" {
		method = http.MethodGet
	}
	if !strings.Contains(url, "://") {
		url = "http://" + url
	}
	p, err := request.NewPlanWithContext(ctx, strings.ToUpper(method), url, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range opts.headers.h {
		for _, v := range vs {
			p = p.WithAddedHeader(k, v)
		}
	}
	return p, nil
}

func single(ctx context.Context, cl *httpcall.Client, p *request.Plan, opts *options, code *gojq.Code, stdout io.Writer) error {
	resp, err := cl.Do(p)
	if err != nil {
		return &ExitError{Code: 1, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if opts.include {
		if err = writeHead(stdout, resp); err != nil {
			return err
		}
	}
	if code != nil && p.Method() != http.MethodHead {
		err = filter(ctx, code, resp.Body, stdout, opts.raw)
	} else {
		_, err = io.Copy(stdout, resp.Body)
	}
	if err != nil {
		return &ExitError{Code: 1, Err: err}
	}
	if opts.fail && resp.StatusCode >= 400 {
		return &ExitError{Code: 22, Err: fmt.Errorf("server returned %s", resp.Status)}
	}
	return nil
}

func writeHead(w io.Writer, resp *request.Response) error {
	if _, err := fmt.Fprintf(w, "%s %s\n", resp.Proto, resp.Status); err != nil {
		return err
	}
	keys := make([]string, 0, len(resp.Header))
	for k := range resp.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range resp.Header[k] {
			if _, err := fmt.Fprintf(w, "%s: %s\n", k, v); err != nil {
				return err
			}
		}
	}
	_, err := fmt.Fprintln(w)
	return err
}

// repeat enqueues n copies of p and prints one line per finished call.
func repeat(cl *httpcall.Client, p *request.Plan, n int, stdout io.Writer) error {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		failed int
	)
	report := func(c *httpcall.Call, outcome string) {
		e := c.Execution()
		mu.Lock()
		defer mu.Unlock()
		_, _ = fmt.Fprintf(stdout, "%s\t%s\t%d\t%d\t%s\n",
			c.ID(), outcome, e.Retries, e.FollowUps, e.Duration().Round(time.Millisecond))
	}
	cb := httpcall.CallbackFuncs{
		Response: func(c *httpcall.Call, resp *request.Response) {
			defer wg.Done()
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			report(c, resp.Status)
		},
		Failure: func(c *httpcall.Call, err error) {
			defer wg.Done()
			mu.Lock()
			failed++
			mu.Unlock()
			report(c, err.Error())
		},
	}

	proto := cl.NewCall(p)
	wg.Add(n)
	for i := 0; i < n; i++ {
		proto.Clone().Enqueue(cb)
	}
	wg.Wait()

	if failed > 0 {
		return &ExitError{Code: 1, Err: fmt.Errorf("%d of %d calls failed", failed, n)}
	}
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
