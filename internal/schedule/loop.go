package schedule

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// Run calls fn immediately and then again each time sched fires or trigger
// receives, until ctx is done. The next fire time is computed after fn
// returns, so runs never overlap. A nil trigger is allowed.
func Run(ctx context.Context, sched cron.Schedule, trigger <-chan struct{}, fn func(context.Context)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(ctx)

		now := time.Now()
		wait := sched.Next(now).Sub(now)
		if wait < 0 {
			wait = 0
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-trigger:
			t.Stop()
		case <-t.C:
		}
	}
}
