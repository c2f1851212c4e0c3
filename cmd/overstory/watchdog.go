package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/overstory/overstory/internal/tmux"
	"github.com/overstory/overstory/internal/watchdog"
)

var watchdogFlags struct {
	once bool
}

var watchdogCmd = &cobra.Command{
	Use:   "watchdog",
	Short: "Run the health watchdog loop (ctrl-c to stop)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}

		sessions, err := a.openSessions()
		if err != nil {
			return err
		}
		defer sessions.Close()

		mailbox, err := a.openMail()
		if err != nil {
			return err
		}
		defer mailbox.Close()

		eventlog, live, err := a.openEvents()
		if err != nil {
			return err
		}
		defer eventlog.Close()
		defer live.Close()

		met, err := a.openMetrics()
		if err != nil {
			return err
		}
		defer met.Close()

		w := watchdog.New(a.cfg, sessions, tmux.NewManager(a.log), mailbox, eventlog, met, a.log)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if watchdogFlags.once {
			w.Tick(ctx)
			return emit("watchdog", map[string]any{"ticks": 1}, nil)
		}
		return w.Run(ctx)
	},
}

func init() {
	watchdogCmd.Flags().BoolVar(&watchdogFlags.once, "once", false, "run a single tick and exit")
	rootCmd.AddCommand(watchdogCmd)
}
