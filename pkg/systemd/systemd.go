// Package systemd reports service state to systemd via sd_notify.
// Every call is a no-op outside a systemd unit (NOTIFY_SOCKET unset).
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// notify is swapped in tests.
var notify = daemon.SdNotify

func Ready() (bool, error)    { return notify(false, daemon.SdNotifyReady) }
func Stopping() (bool, error) { return notify(false, daemon.SdNotifyStopping) }
func Reloading() (bool, error) {
	return notify(false, daemon.SdNotifyReloading)
}

// Status sets the one-line status shown by `systemctl status`.
func Status(msg string) (bool, error) { return notify(false, "STATUS="+msg) }

// Watchdog pings the systemd watchdog at half the configured interval until
// ctx is done. It returns at once when the unit has no WatchdogSec.
func Watchdog(ctx context.Context) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return err
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := notify(false, daemon.SdNotifyWatchdog); err != nil {
				return err
			}
		}
	}
}
