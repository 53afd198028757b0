// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpcall

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/gogama/httpcall/request"
)

// maxDiscard is how much of an unwanted response body is read so that
// its connection can be reused.
const maxDiscard = 4 << 10

// followUpInterceptor runs the rest of the pipeline once per attempt.
// It retries failed attempts as the retry policy allows, and follows
// redirects, authentication challenges and server requests to retry.
type followUpInterceptor struct{}

func (followUpInterceptor) Intercept(ch Chain) (*request.Response, error) {
	c := ch.(*chain)
	cl := c.call.client
	e := c.exec
	co := c.co
	handlers := cl.handlers()
	policy := cl.retryPolicy()

	p := c.plan
	var prior *request.Response
	for {
		if c.call.IsCanceled() {
			return nil, ErrCanceled
		}
		if err := co.interrupted(); err != nil {
			return nil, err
		}

		e.PreviousTimeout = e.Err != nil && e.Timeout()
		e.Current = p
		e.Request = nil
		e.RequestSent = false
		e.Response = nil
		e.Err = nil
		e.CacheStatus = request.CacheNone
		handlers.run(BeforeAttempt, e)
		co.logger.Debug("attempt started",
			zap.Int("attempt", e.Attempt),
			zap.String("current_url", p.URLString()))

		resp, err := c.fresh(p).Proceed(p)
		if err == nil && prior != nil {
			resp = resp.Clone()
			resp.Prior = prior
		}
		e.Response = resp
		e.Err = err
		if err != nil && e.Timeout() {
			e.AttemptTimeouts++
			handlers.run(AfterAttemptTimeout, e)
		}
		handlers.run(AfterAttempt, e)

		if err != nil {
			if cause := co.interrupted(); cause != nil {
				return nil, cause
			}
			if fatal(err) || !policy.Decide(e) {
				return nil, err
			}
			if err = retryWait(co, e, policy.Wait(e)); err != nil {
				return nil, err
			}
			continue
		}

		next, err := followUp(cl, p, resp, prior)
		if err != nil {
			_ = resp.Body.Close()
			return nil, err
		}
		if next == nil {
			if !policy.Decide(e) {
				return resp, nil
			}
			discard(resp.Body)
			if err = retryWait(co, e, policy.Wait(e)); err != nil {
				return nil, err
			}
			continue
		}

		if e.FollowUps >= cl.maxRedirects() {
			_ = resp.Body.Close()
			return nil, &TooManyRedirectsError{Max: cl.maxRedirects(), Last: resp.StripBody()}
		}
		discard(resp.Body)
		prior = resp.StripBody()
		e.FollowUps++
		e.Attempt++
		e.Current = next
		handlers.run(BeforeFollowUp, e)
		co.logger.Debug("following up",
			zap.Int("status", resp.StatusCode),
			zap.String("location", next.URLString()))
		p = next
	}
}

// retryWait sleeps before a retry and advances the retry counters. It
// returns an error if the call is interrupted during the wait.
func retryWait(co *coordinator, e *request.Execution, wait time.Duration) error {
	co.logger.Warn("retrying attempt",
		zap.Int("attempt", e.Attempt),
		zap.Int("status", e.StatusCode()),
		zap.Duration("wait", wait),
		zap.NamedError("cause", e.Err))
	if err := co.sleep(wait); err != nil {
		return err
	}
	e.Retries++
	e.Attempt++
	return nil
}

// fatal reports whether err must end the call regardless of the retry
// policy.
func fatal(err error) bool {
	return errors.Is(err, ErrCanceled) ||
		errors.Is(err, ErrCallTimeout) ||
		errors.Is(err, ErrAlreadyExecuted) ||
		errors.Is(err, ErrChainReused) ||
		errors.Is(err, ErrTooManyRedirects) ||
		errors.Is(err, errNoProceed) ||
		errors.Is(err, errDestChanged) ||
		errors.Is(err, errChainEnd) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// followUp returns the plan answering resp, or nil if resp is final.
func followUp(cl *Client, p *request.Plan, resp *request.Response, prior *request.Response) (*request.Plan, error) {
	switch resp.StatusCode {
	case 401, 407:
		if cl.Authenticator == nil {
			return nil, nil
		}
		return cl.Authenticator.Authenticate(resp)
	case 300, 301, 302, 303, 307, 308:
		return redirect(cl, p, resp), nil
	case 408:
		if prior != nil && prior.StatusCode == 408 {
			return nil, nil
		}
		if v := resp.Header.Get("Retry-After"); v != "" && v != "0" {
			return nil, nil
		}
		return p, nil
	case 503:
		if prior != nil && prior.StatusCode == 503 {
			return nil, nil
		}
		if resp.Header.Get("Retry-After") == "0" {
			return p, nil
		}
		return nil, nil
	default:
		return nil, nil
	}
}

// redirect builds the plan following a redirect response, or returns
// nil if the redirect should not be followed.
func redirect(cl *Client, p *request.Plan, resp *request.Response) *request.Plan {
	if cl.DisableRedirects {
		return nil
	}
	loc := resp.Header.Get("Location")
	if loc == "" {
		return nil
	}
	from := p.URL()
	to, err := from.Parse(loc)
	if err != nil {
		return nil
	}
	if to.Scheme != "http" && to.Scheme != "https" {
		return nil
	}
	if to.Scheme != from.Scheme && cl.DisableSSLRedirects {
		return nil
	}

	next := p.WithURL(to)
	if request.RedirectsToGet(p.Method(), resp.StatusCode) {
		next, _ = next.WithMethod("GET", nil)
		next = next.WithoutHeader("Content-Type", "Content-Length", "Content-Encoding", "Transfer-Encoding")
	}
	if !sameOrigin(from.Scheme, from.Host, to.Scheme, to.Host) {
		next = next.WithoutHeader("Authorization")
	}
	return next
}

func sameOrigin(scheme1, host1, scheme2, host2 string) bool {
	return scheme1 == scheme2 && host1 == host2
}

// discard reads a little of body, so a short unwanted body can be
// consumed and its connection reused, then closes it.
func discard(body io.ReadCloser) {
	_, _ = io.CopyN(io.Discard, body, maxDiscard)
	_ = body.Close()
}
