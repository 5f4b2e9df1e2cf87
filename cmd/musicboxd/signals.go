package main

import (
	"log/slog"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// StartSignals turns OS signals into commands on their own feed. SIGHUP
// reloads the library, the termination signals shut the box down cleanly,
// and SIGUSR1/SIGUSR2 run whatever the config assigns them (handy for cron
// jobs and remote triggers over ssh).
func StartSignals(cfg SignalsConfig, commands *Mux[Command], logger *slog.Logger) {
	var usr1, usr2 Command
	if cfg.USR1 != nil {
		usr1, _ = cfg.USR1.Command()
	}
	if cfg.USR2 != nil {
		usr2, _ = cfg.USR2.Command()
	}

	ch := make(chan os.Signal, 4)
	signal.Notify(ch, unix.SIGHUP, unix.SIGINT, unix.SIGTERM, unix.SIGQUIT, unix.SIGUSR1, unix.SIGUSR2)

	feed := commands.NewFeed()
	go func() {
		defer feed.Close()
		for sig := range ch {
			var cmd Command
			switch sig {
			case unix.SIGHUP:
				cmd = Reload{}
			case unix.SIGINT, unix.SIGTERM, unix.SIGQUIT:
				cmd = Shutdown{}
			case unix.SIGUSR1:
				cmd = usr1
			case unix.SIGUSR2:
				cmd = usr2
			}
			if cmd == nil {
				logger.Debug("ignoring signal", "signal", sig.String())
				continue
			}
			logger.Info("signal", "signal", sig.String(), "command", commandName(cmd))
			feed.Send(cmd)
		}
	}()
}
