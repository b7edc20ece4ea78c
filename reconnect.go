package signalr

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ReconnectPolicy describes the delays between reconnect attempts after an unexpected connection loss.
// The delay starts with BaseDelay and is multiplied by Multiplier after each attempt, capped by MaxDelay.
// Jitter randomizes each delay by the given factor, e.g. 0.5 gives delays in [0.5*d, 1.5*d].
// The client gives up after MaxAttempts attempts or when MaxElapsedTime is over. A zero value disables the limit.
type ReconnectPolicy struct {
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	Jitter         float64
	MaxAttempts    int
	MaxElapsedTime time.Duration
}

// DefaultReconnectPolicy returns the policy used by WithAutoReconnect
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		BaseDelay:   time.Second,
		MaxDelay:    time.Second * 30,
		Multiplier:  2,
		Jitter:      0.5,
		MaxAttempts: 10,
	}
}

func (p ReconnectPolicy) validate() error {
	switch {
	case p.BaseDelay < 0:
		return errors.New("BaseDelay must not be negative")
	case p.MaxDelay < p.BaseDelay:
		return errors.New("MaxDelay must not be less than BaseDelay")
	case p.Multiplier < 1:
		return errors.New("Multiplier must be at least 1")
	case p.Jitter < 0 || p.Jitter > 1:
		return errors.New("Jitter must be between 0 and 1")
	case p.MaxAttempts < 0:
		return errors.New("MaxAttempts must not be negative")
	case p.MaxElapsedTime < 0:
		return errors.New("MaxElapsedTime must not be negative")
	}
	return nil
}

// NewBackOff builds a backoff.BackOff which follows the policy
func (p ReconnectPolicy) NewBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.BaseDelay
	eb.MaxInterval = p.MaxDelay
	eb.Multiplier = p.Multiplier
	eb.RandomizationFactor = p.Jitter
	eb.MaxElapsedTime = p.MaxElapsedTime
	eb.Reset()
	if p.MaxAttempts > 0 {
		return backoff.WithMaxRetries(eb, uint64(p.MaxAttempts))
	}
	return eb
}

func (c *client) newBackOff() backoff.BackOff {
	if c.config.BackoffFactory != nil {
		return c.config.BackoffFactory()
	}
	return c.config.Reconnect.NewBackOff()
}

// reconnect runs connection attempts until one succeeds, the backoff gives up or ctx is canceled.
func (c *client) reconnect(ctx context.Context, cause error) (Connection, *frameReader, error) {
	bo := c.newBackOff()
	bo.Reset()
	start := time.Now()
	lastErr := cause
	attempts := 0
	for {
		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			return nil, nil, &ReconnectError{Attempts: attempts, Elapsed: time.Since(start), Err: lastErr}
		}
		_ = c.dbg.Log(evt, "reconnect", "attempt", attempts+1, "delay", delay)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, nil, ctx.Err()
		case <-timer.C:
		}
		attempts++
		conn, frames, err := c.connect(ctx)
		if err == nil {
			_ = c.info.Log(evt, "reconnect", "attempts", attempts, "elapsed", time.Since(start))
			return conn, frames, nil
		}
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		lastErr = err
		_ = c.info.Log(evt, "reconnect", "attempt", attempts, "error", err, react, "retry")
	}
}
