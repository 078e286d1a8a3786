// Package retry runs network calls with a per-attempt timeout and bounded
// exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy bounds a retried call. MaxRetries counts retries after the first attempt.
type Policy struct {
	MaxRetries int
	Timeout    time.Duration
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do calls fn until it succeeds, returns a permanent error, the attempts are
// exhausted or ctx is done. The returned error is the last one observed, with
// any Permanent wrapper removed.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		err = call(ctx, p.Timeout, fn)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt == p.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(p.delay(attempt)):
		}
	}
	return err
}

func call(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(cctx)
}

// delay is exponential from BaseDelay, capped at MaxDelay.
func (p Policy) delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	ceiling := p.MaxDelay
	if ceiling <= 0 {
		ceiling = 5 * time.Second
	}
	if attempt > 20 {
		return ceiling
	}
	d := base << attempt
	if d > ceiling {
		d = ceiling
	}
	return d
}
