// Package retry holds the bounded exponential backoff shared by adapter recovery and
// database reconnection.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes an exponential backoff: Initial, doubled per attempt, capped at Max.
// MaxAttempts of zero retries forever.
type Policy struct {
	Initial     time.Duration `yaml:"initial" default:"1s"`
	Max         time.Duration `yaml:"max" default:"30s"`
	MaxAttempts int           `yaml:"max_attempts" default:"0"`
}

// DefaultPolicy returns 1s, 2s, 4s ... capped at 30s, without an attempt ceiling.
func DefaultPolicy() Policy {
	return Policy{Initial: time.Second, Max: 30 * time.Second}
}

// NewBackOff builds a deterministic (unjittered) backoff for p. NextBackOff returns
// backoff.Stop once MaxAttempts delays have been handed out.
func (p Policy) NewBackOff() backoff.BackOff {
	initial, maxInterval := p.Initial, p.Max
	if initial <= 0 {
		initial = time.Second
	}
	if maxInterval < initial {
		maxInterval = initial
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initial
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = maxInterval
	exp.MaxElapsedTime = 0
	exp.Reset()

	if p.MaxAttempts > 0 {
		return backoff.WithMaxRetries(exp, uint64(p.MaxAttempts))
	}
	return exp
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
