package exchange

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"bitkub-grid-bot-go/internal/metrics"
	"bitkub-grid-bot-go/internal/models"

	"go.uber.org/zap"
)

// RetryPolicy is the backoff policy every exchange call goes through,
// independent of call site. Transient failures are retried with exponential
// backoff plus jitter up to MaxAttempts. Rate-limit responses are a separate
// class: they sleep out the venue's retry-after hint (or MaxDelay when none
// is given) up to MaxCooldowns times without consuming the retry budget.
// Everything else surfaces immediately.
type RetryPolicy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	MaxCooldowns int

	// Jitter returns a random additive delay; defaults to up to 20% of the
	// computed backoff. Overridable in tests.
	Jitter func(d time.Duration) time.Duration

	logger *zap.SugaredLogger
}

// NewRetryPolicy builds a policy from config, filling unset fields with
// conservative defaults.
func NewRetryPolicy(cfg models.RetryConfig, logger *zap.SugaredLogger) RetryPolicy {
	p := RetryPolicy{
		MaxAttempts:  cfg.MaxAttempts,
		BaseDelay:    time.Duration(cfg.BaseDelayMs) * time.Millisecond,
		Multiplier:   cfg.Multiplier,
		MaxDelay:     time.Duration(cfg.MaxDelayMs) * time.Millisecond,
		MaxCooldowns: 3,
		logger:       logger,
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 4
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 600 * time.Millisecond
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 15 * time.Second
	}
	p.Jitter = func(d time.Duration) time.Duration {
		return time.Duration(rand.Int63n(int64(d)/5 + 1))
	}
	return p
}

// Do runs fn until it succeeds, exhausts the budget, or hits a
// non-retryable error. op names the call for logging.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func() error) error {
	attempt := 0
	cooldowns := 0

	for {
		err := fn()
		if err == nil {
			return nil
		}

		switch {
		case models.IsRateLimited(err):
			metrics.RateLimitCooldowns.WithLabelValues(op).Inc()
			cooldowns++
			if cooldowns > p.MaxCooldowns {
				return err
			}
			wait := p.MaxDelay
			var rl *models.RateLimitError
			if errors.As(err, &rl) && rl.RetryAfter > 0 {
				wait = rl.RetryAfter
			}
			p.logger.Warnw("rate limited, cooling down", "op", op, "wait", wait)
			if err := sleepCtx(ctx, wait); err != nil {
				return err
			}

		case models.IsTransient(err):
			metrics.RequestRetries.WithLabelValues(op).Inc()
			attempt++
			if attempt >= p.MaxAttempts {
				return err
			}
			delay := p.backoff(attempt)
			p.logger.Warnw("transient failure, retrying",
				"op", op, "attempt", attempt, "delay", delay, "err", err)
			if err := sleepCtx(ctx, delay); err != nil {
				return err
			}

		default:
			return err
		}
	}
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1)))
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter != nil {
		d += p.Jitter(d)
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
