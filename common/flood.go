package common

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gotd/td/tgerr"
	"github.com/sirupsen/logrus"
)

// FloodWait reports the pause demanded by a FLOOD_WAIT_X rpc error.
func FloodWait(err error) (time.Duration, bool) {
	var rpcErr *tgerr.Error
	if errors.As(err, &rpcErr) && rpcErr.Code == 420 {
		return time.Duration(rpcErr.Argument) * time.Second, true
	}
	return 0, false
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FloodRetry repeats a call for as long as Telegram answers with FLOOD_WAIT,
// sleeping exactly the demanded duration in between.
type FloodRetry struct {
	Max    int // 0 means no bound
	Sleep  Sleeper
	Logger logrus.FieldLogger
	OnWait func(d time.Duration)
}

// Do returns fn's first non flood-wait result. Other errors are not retried.
func (r FloodRetry) Do(ctx context.Context, what string, fn func(ctx context.Context) error) error {
	sleep := r.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	for waits := 0; ; waits++ {
		err := fn(ctx)
		d, ok := FloodWait(err)
		if !ok {
			return err
		}
		if r.Max > 0 && waits >= r.Max {
			return fmt.Errorf("%s: still rate limited after %d waits: %w", what, waits, err)
		}
		if r.Logger != nil {
			r.Logger.Warnf("%s|rate limit hit, waiting %v...", what, d)
		}
		if r.OnWait != nil {
			r.OnWait(d)
		}
		if err := sleep(ctx, d); err != nil {
			return err
		}
	}
}
