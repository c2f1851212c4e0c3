package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/overstory/overstory/internal/events"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect the event timeline",
}

var eventsTraceFlags struct {
	agent string
	run   string
	since string
	limit int
}

var eventsTraceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Print the durable timeline",
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

		q := events.Query{
			Agent: eventsTraceFlags.agent,
			RunID: eventsTraceFlags.run,
			Limit: eventsTraceFlags.limit,
		}
		if eventsTraceFlags.since != "" {
			since, err := time.Parse(time.RFC3339, eventsTraceFlags.since)
			if err != nil {
				return fmt.Errorf("--since must be RFC3339: %w", err)
			}
			q.Since = since
		}

		list, err := eventlog.GetTimeline(cmd.Context(), q)
		if err != nil {
			return err
		}
		return emit("events trace", list, func() { renderEvents(list) })
	},
}

var eventsFeedFlags struct {
	interval time.Duration
}

var eventsFeedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Follow new events as they land (ctrl-c to stop)",
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

		ctx := cmd.Context()

		// Start the cursor at the current tail; the feed shows what happens
		// from now on.
		var afterID int64
		if tail, err := eventlog.GetTimeline(ctx, events.Query{}); err == nil && len(tail) > 0 {
			afterID = tail[len(tail)-1].ID
		}

		ticker := time.NewTicker(eventsFeedFlags.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				batch, err := eventlog.Poll(ctx, afterID, 200)
				if err != nil {
					return err
				}
				for _, ev := range batch {
					printEvent(ev)
					afterID = ev.ID
				}
			}
		}
	},
}

func renderEvents(list []*events.Event) {
	if len(list) == 0 {
		fmt.Println("no events")
		return
	}
	for _, ev := range list {
		printEvent(ev)
	}
}

func printEvent(ev *events.Event) {
	line := fmt.Sprintf("%s  %-12s %-14s %s",
		ev.CreatedAt.UTC().Format(time.RFC3339), ev.Type, ev.AgentName, ev.Payload)
	fmt.Println(line)
}

func init() {
	tf := eventsTraceCmd.Flags()
	tf.StringVar(&eventsTraceFlags.agent, "agent", "", "filter by agent")
	tf.StringVar(&eventsTraceFlags.run, "run", "", "filter by run id")
	tf.StringVar(&eventsTraceFlags.since, "since", "", "only events after this RFC3339 time")
	tf.IntVar(&eventsTraceFlags.limit, "limit", 0, "limit results")

	eventsFeedCmd.Flags().DurationVar(&eventsFeedFlags.interval, "interval", time.Second, "poll interval")

	eventsCmd.AddCommand(eventsTraceCmd, eventsFeedCmd)
	rootCmd.AddCommand(eventsCmd)
}
