package llm

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

type retryingProvider struct {
	inner Provider
	cfg   RetryConfig
}

// WithRetry repeats Retryable failures up to cfg.MaxAttempts times. Waits
// grow by cfg.Multiplier from cfg.InitialWait and never exceed cfg.MaxWait,
// including a server's Retry-After hint. A wait that would outlast the
// caller's deadline is not taken: the last error is returned at once so the
// executor can answer with its fallback while there is still time.
func WithRetry(p Provider, cfg RetryConfig) Provider {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	return &retryingProvider{inner: p, cfg: cfg}
}

func (r *retryingProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	wait := r.cfg.InitialWait
	repeatedInvalid := false

	for attempt := 1; ; attempt++ {
		resp, err := r.inner.Generate(ctx, req)
		if err == nil {
			return resp, nil
		}
		if attempt >= r.cfg.MaxAttempts || !Retryable(err) {
			return nil, err
		}

		var invalid *ErrInvalidResponse
		if errors.As(err, &invalid) {
			if repeatedInvalid {
				return nil, err
			}
			repeatedInvalid = true
		}

		pause := r.pause(wait, err)
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= pause {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pause):
		}
		wait = time.Duration(float64(wait) * r.cfg.Multiplier)
	}
}

func (r *retryingProvider) ModelID() string {
	return r.inner.ModelID()
}

// pause picks the next wait: the Retry-After hint when given, otherwise a
// random point in the upper half of wait. Both are capped at MaxWait.
func (r *retryingProvider) pause(wait time.Duration, err error) time.Duration {
	var throttled *ErrRateLimit
	if errors.As(err, &throttled) && throttled.RetryAfter > 0 {
		wait = throttled.RetryAfter
	} else if wait > 0 {
		wait = wait/2 + rand.N(wait/2+1)
	}
	if r.cfg.MaxWait > 0 && wait > r.cfg.MaxWait {
		wait = r.cfg.MaxWait
	}
	return wait
}
