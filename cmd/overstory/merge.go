package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/overstory/overstory/internal/merge"
	"github.com/overstory/overstory/internal/runtime"
	"github.com/overstory/overstory/internal/runtime/oneshot"
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Manage the merge queue",
}

var mergeEnqueueFlags struct {
	branch string
	agent  string
}

var mergeEnqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Queue a branch for merging into the canonical branch",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		queue, err := a.openQueue()
		if err != nil {
			return err
		}
		defer queue.Close()

		entry, err := queue.Enqueue(cmd.Context(), mergeEnqueueFlags.branch, mergeEnqueueFlags.agent)
		if err != nil {
			return err
		}
		info("queued %s (entry %d)", entry.BranchName, entry.ID)
		return emit("merge enqueue", entry, nil)
	},
}

var mergeDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Serially merge all pending branches",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		queue, err := a.openQueue()
		if err != nil {
			return err
		}
		defer queue.Close()

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

		var resolver merge.Resolver
		if a.cfg.Merge.AIResolution {
			adapter, err := runtime.Lookup(a.cfg.Runtime.Default)
			if err != nil {
				return fmt.Errorf("ai resolution enabled but runtime unavailable: %w", err)
			}
			timeout := time.Duration(a.cfg.Merge.ResolveTimeoutMs) * time.Millisecond
			resolver = oneshot.NewRunner(adapter, timeout, a.log)
		}

		merger := merge.NewMerger(a.cfg, queue, eventlog, mailbox, resolver, a.log)
		merged, err := merger.Drain(cmd.Context())
		if err != nil {
			return err
		}
		info("merged %d branch(es)", merged)
		return emit("merge drain", map[string]any{"merged": merged}, nil)
	},
}

var mergeListFlags struct {
	status string
	limit  int
}

var mergeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queue entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		queue, err := a.openQueue()
		if err != nil {
			return err
		}
		defer queue.Close()

		f := merge.Filter{Limit: mergeListFlags.limit}
		if mergeListFlags.status != "" {
			status, err := merge.ParseStatus(mergeListFlags.status)
			if err != nil {
				return err
			}
			f.Status = status
		}
		list, err := queue.List(cmd.Context(), f)
		if err != nil {
			return err
		}
		return emit("merge list", list, func() {
			if len(list) == 0 {
				fmt.Println("queue is empty")
				return
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tBRANCH\tAGENT\tSTATUS\tENQUEUED")
			for _, e := range list {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
					e.ID, e.BranchName, e.AgentName, e.Status,
					e.EnqueuedAt.UTC().Format(time.RFC3339))
			}
			_ = w.Flush()
		})
	},
}

func init() {
	ef := mergeEnqueueCmd.Flags()
	ef.StringVar(&mergeEnqueueFlags.branch, "branch", "", "branch to merge (required)")
	ef.StringVar(&mergeEnqueueFlags.agent, "agent", "", "agent that produced the branch (required)")
	_ = mergeEnqueueCmd.MarkFlagRequired("branch")
	_ = mergeEnqueueCmd.MarkFlagRequired("agent")

	lf := mergeListCmd.Flags()
	lf.StringVar(&mergeListFlags.status, "status", "", "filter by status")
	lf.IntVar(&mergeListFlags.limit, "limit", 0, "limit results")

	mergeCmd.AddCommand(mergeEnqueueCmd, mergeDrainCmd, mergeListCmd)
	rootCmd.AddCommand(mergeCmd)
}
