package statemachine

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BackoffPolicy exponential tanpa jitter: Initial * 2^retryCount, dibatasi Max
type BackoffPolicy struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns the wait before the next attempt after retryCount previous retries.
func (p BackoffPolicy) Delay(retryCount int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.Initial,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         p.Max,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	d := b.NextBackOff()
	for i := 0; i < retryCount && d < p.Max; i++ {
		d = b.NextBackOff()
	}
	return d
}
