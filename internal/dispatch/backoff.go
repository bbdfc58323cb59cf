package dispatch

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/unclebandit/mailcast-backend/internal/config"
	appErrors "github.com/unclebandit/mailcast-backend/internal/errors"
	"github.com/unclebandit/mailcast-backend/internal/model"
)

// Backoff is an exponential retry schedule with additive jitter.
type Backoff struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
	Jitter float64
}

func BackoffFrom(cfg config.DispatchConfig) Backoff {
	return Backoff{Base: cfg.BackoffBase, Factor: cfg.BackoffFactor, Max: cfg.BackoffMax, Jitter: cfg.BackoffJitter}
}

// Delay returns the wait after the given failed attempt (1-based):
// Base*Factor^(attempt-1), capped at Max, plus up to Jitter*delay drawn from rnd.
func (b Backoff) Delay(attempt int, rnd func() float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(b.Base) * math.Pow(b.Factor, float64(attempt-1))
	if d > float64(b.Max) || math.IsInf(d, 0) {
		d = float64(b.Max)
	}
	if b.Jitter > 0 && rnd != nil {
		d += rnd() * b.Jitter * d
	}
	return time.Duration(d)
}

// Classifier decides the next state of a job from the result of one attempt.
type Classifier struct {
	MaxAttempts int
	Backoff     Backoff
	Rand        func() float64
}

// Classify builds the outcome of an attempt on a job that had made
// priorAttempts attempts before this one.
func (c Classifier) Classify(err error, priorAttempts int, now time.Time) model.Outcome {
	if err == nil {
		return model.Outcome{State: model.JobSent, CountAttempt: true}
	}

	attempts := priorAttempts + 1
	switch {
	case appErrors.IsPermanent(err):
		return model.Outcome{State: model.JobFailedPermanent, Error: err.Error(), CountAttempt: true}
	case attempts >= c.MaxAttempts:
		return model.Outcome{
			State:        model.JobFailedPermanent,
			Error:        fmt.Sprintf("giving up after %d attempts: %v", attempts, err),
			CountAttempt: true,
		}
	default:
		return model.Outcome{
			State:         model.JobFailedRetryable,
			Error:         err.Error(),
			NextAttemptAt: now.Add(c.Backoff.Delay(attempts, c.Rand)),
			CountAttempt:  true,
		}
	}
}

// isRateLimitTimeout reports whether the acquire failed only because the
// bucket stayed empty.
func isRateLimitTimeout(err error) bool {
	return errors.Is(err, appErrors.ErrRateLimitTimeout)
}
