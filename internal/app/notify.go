package app

import (
	"github.com/coreos/go-systemd/v22/daemon"

	logx "motorsched/pkg/logx"
)

// notifySystemd sends state to the service manager. Outside systemd
// (NOTIFY_SOCKET unset) it does nothing.
func notifySystemd(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Debug("sd_notify sent", logx.String("state", state))
	}
}

// NotifyReady tells systemd the headless scheduler is up.
func (a *App) NotifyReady() { notifySystemd(a.log, daemon.SdNotifyReady) }

// NotifyStopping tells systemd shutdown has begun.
func (a *App) NotifyStopping() { notifySystemd(a.log, daemon.SdNotifyStopping) }
