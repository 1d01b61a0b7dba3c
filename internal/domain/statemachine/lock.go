package statemachine

import (
	"context"
	"time"
)

// WithLock runs fn while holding key. The lock is released on every exit path of fn.
func WithLock(ctx context.Context, locker Locker, key string, wait, hold time.Duration, fn func(context.Context) error) (err error) {
	l, err := locker.Acquire(ctx, key, wait, hold)
	if err != nil {
		return err
	}
	defer func() {
		// release pakai context baru, ctx caller bisa saja sudah cancel
		if rerr := l.Release(context.Background()); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn(ctx)
}
