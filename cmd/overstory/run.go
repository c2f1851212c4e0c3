package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/overstory/overstory/internal/events"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Group spawns under an orchestrator run",
}

var runStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Open a run; subsequent spawns inherit its id",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		eventlog, live, err := a.openEvents()
		if err != nil {
			return err
		}
		defer eventlog.Close()
		defer live.Close()

		runID := "run-" + uuid.New().String()[:8]
		if err := eventlog.OpenRun(cmd.Context(), runID); err != nil {
			return err
		}
		if err := os.WriteFile(a.cfg.StorePath("current-run.txt"), []byte(runID+"\n"), 0o644); err != nil {
			return err
		}
		info("started %s", runID)
		return emit("run start", map[string]string{"runId": runID}, nil)
	},
}

var runEndFlags struct {
	status string
}

var runEndCmd = &cobra.Command{
	Use:   "end",
	Short: "Close the current run",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		runID := a.currentRunID()
		if runID == "" {
			return fmt.Errorf("no current run; start one with `overstory run start`")
		}

		eventlog, live, err := a.openEvents()
		if err != nil {
			return err
		}
		defer eventlog.Close()
		defer live.Close()

		if err := eventlog.CloseRun(cmd.Context(), runID, runEndFlags.status); err != nil {
			return err
		}
		if err := os.Remove(a.cfg.StorePath("current-run.txt")); err != nil && !os.IsNotExist(err) {
			return err
		}
		info("closed %s as %s", runID, runEndFlags.status)
		return emit("run end", map[string]string{"runId": runID, "status": runEndFlags.status}, nil)
	},
}

func init() {
	runEndCmd.Flags().StringVar(&runEndFlags.status, "status", events.RunCompleted, "final status (completed, aborted)")
	runCmd.AddCommand(runStartCmd, runEndCmd)
	rootCmd.AddCommand(runCmd)
}
