// Package backoff computes the delay before the next poll of a long-running
// task. The policy is a pure function of (attempt, transient failure) with no
// hidden state, so it is independently testable and deterministic.
// No external dependencies - uses only standard library.
package backoff

import (
	"math"
	"time"
)

// Policy holds the backoff configuration for one poller run.
//
// The success path uses a fixed or mildly increasing delay; the failure path
// uses exponential backoff from a larger base so an unavailable backend is
// not hammered. Both curves share a single cap.
type Policy struct {
	// SuccessBase is the delay after a successful probe that returned a
	// non-terminal status. Default: 2s.
	SuccessBase time.Duration

	// SuccessMultiplier grows the success delay per attempt.
	// 1.0 means a constant interval. Default: 1.0.
	SuccessMultiplier float64

	// FailureBase is the starting delay after a transient transport failure.
	// Default: 2s.
	FailureBase time.Duration

	// FailureMultiplier grows the failure delay per consecutive transient
	// failure. Default: 2.0.
	FailureMultiplier float64

	// Cap bounds both curves. Default: 10s.
	Cap time.Duration
}

// Default returns the policy used when the caller configures nothing.
func Default() *Policy {
	return &Policy{
		SuccessBase:       2 * time.Second,
		SuccessMultiplier: 1.0,
		FailureBase:       2 * time.Second,
		FailureMultiplier: 2.0,
		Cap:               10 * time.Second,
	}
}

// Option is a functional option for configuring a Policy.
type Option func(*Policy)

// WithSuccessBase sets the success-path base delay.
func WithSuccessBase(d time.Duration) Option {
	return func(p *Policy) {
		if d > 0 {
			p.SuccessBase = d
		}
	}
}

// WithSuccessMultiplier sets the success-path growth factor.
func WithSuccessMultiplier(m float64) Option {
	return func(p *Policy) {
		if m >= 1.0 {
			p.SuccessMultiplier = m
		}
	}
}

// WithFailureBase sets the failure-path base delay.
func WithFailureBase(d time.Duration) Option {
	return func(p *Policy) {
		if d > 0 {
			p.FailureBase = d
		}
	}
}

// WithFailureMultiplier sets the failure-path growth factor.
func WithFailureMultiplier(m float64) Option {
	return func(p *Policy) {
		if m >= 1.0 {
			p.FailureMultiplier = m
		}
	}
}

// WithCap sets the maximum delay for both curves.
func WithCap(d time.Duration) Option {
	return func(p *Policy) {
		if d > 0 {
			p.Cap = d
		}
	}
}

// New creates a Policy from Default() plus the given options.
func New(opts ...Option) *Policy {
	p := Default()
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Delay computes the wait before probe number attempt+1.
//
// attempt counts from 1. For transient failures attempt is the consecutive
// failure count, and the returned delay is never shorter than the
// success-path delay for the same attempt number.
func (p *Policy) Delay(attempt int, transientFailure bool) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	success := p.curve(p.SuccessBase, p.SuccessMultiplier, attempt)
	if !transientFailure {
		return success
	}

	failure := p.curve(p.FailureBase, p.FailureMultiplier, attempt)
	if failure < success {
		return success
	}
	return failure
}

// curve computes base * mult^(attempt-1), capped.
func (p *Policy) curve(base time.Duration, mult float64, attempt int) time.Duration {
	if mult <= 1.0 || attempt == 1 {
		return p.capped(base)
	}

	d := float64(base) * math.Pow(mult, float64(attempt-1))
	if d > float64(p.Cap) || math.IsInf(d, 1) {
		return p.Cap
	}
	return p.capped(time.Duration(d))
}

func (p *Policy) capped(d time.Duration) time.Duration {
	if d > p.Cap {
		return p.Cap
	}
	return d
}
