// Package retry provides bounded retry with exponential backoff for
// transient failures against external systems.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy controls retry behavior. Attempts is the total number of tries,
// Delay is the initial wait between tries, and Backoff is the multiplier
// applied to the delay after each failure.
type Policy struct {
	Attempts int
	Delay    time.Duration
	Backoff  float64
}

// Default is a conservative policy suitable for blob storage and
// notification calls.
var Default = Policy{
	Attempts: 3,
	Delay:    250 * time.Millisecond,
	Backoff:  2.0,
}

func (p Policy) normalize() Policy {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.Delay <= 0 {
		p.Delay = 250 * time.Millisecond
	}
	if p.Backoff < 1 {
		p.Backoff = 1
	}
	return p
}

// Do runs fn up to p.Attempts times, waiting between tries. It stops early
// when fn succeeds or the context is canceled, returning the last error
// otherwise.
func Do(ctx context.Context, p Policy, fn func(context.Context) error) error {
	p = p.normalize()

	var err error
	delay := p.Delay

	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}

		if attempt == p.Attempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry aborted after attempt %d: %w", attempt, ctx.Err())
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * p.Backoff)
	}

	return fmt.Errorf("exhausted %d attempts: %w", p.Attempts, err)
}
