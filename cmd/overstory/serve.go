package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/overstory/overstory/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local status/feed API server (ctrl-c to stop)",
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

		queue, err := a.openQueue()
		if err != nil {
			return err
		}
		defer queue.Close()

		eventlog, live, err := a.openEvents()
		if err != nil {
			return err
		}
		defer eventlog.Close()
		defer live.Close()

		srv := server.NewServer(a.cfg, sessions, mailbox, queue, eventlog, live, a.log)
		info("serving on http://%s", srv.Addr())

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return srv.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
