package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "plankabot/pkg/logx"
)

// sdNotifier reports lifecycle state to systemd when the unit is
// Type=notify. Outside systemd every call is a no-op.
type sdNotifier struct {
	log logx.Logger
}

func (n sdNotifier) notify(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		n.log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Debug("systemd notified", logx.String("state", state))
	}
}

func (n sdNotifier) Ready()    { n.notify(daemon.SdNotifyReady) }
func (n sdNotifier) Stopping() { n.notify(daemon.SdNotifyStopping) }

// Watchdog pings systemd at half of WatchdogSec while healthy returns nil.
// It returns at once when the unit has no watchdog configured.
func (n sdNotifier) Watchdog(ctx context.Context, healthy func() error) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.log.Warn("systemd watchdog check failed", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	tick := time.NewTicker(interval / 2)
	defer tick.Stop()
	n.log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if err := healthy(); err != nil {
				n.log.Warn("skipping watchdog ping", logx.Err(err))
				continue
			}
			n.notify(daemon.SdNotifyWatchdog)
		}
	}
}
