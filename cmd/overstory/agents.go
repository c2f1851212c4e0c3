package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/overstory/overstory/internal/session"
)

var agentsFlags struct {
	state  string
	run    string
	active bool
}

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List agent sessions",
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

		f := session.Filter{RunID: agentsFlags.run, Active: agentsFlags.active}
		if agentsFlags.state != "" {
			f.States = []session.State{session.State(agentsFlags.state)}
		}
		list, err := sessions.List(cmd.Context(), f)
		if err != nil {
			return err
		}

		return emit("agents", list, func() {
			if len(list) == 0 {
				fmt.Println("no agents")
				return
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "AGENT\tCAPABILITY\tSTATE\tTASK\tIDLE\tBRANCH")
			now := time.Now().UTC()
			for _, s := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					s.AgentName, s.Capability, s.State, s.TaskID,
					now.Sub(s.LastActivity).Round(time.Second), s.BranchName)
			}
			_ = w.Flush()
		})
	},
}

func init() {
	f := agentsCmd.Flags()
	f.StringVar(&agentsFlags.state, "state", "", "filter by state")
	f.StringVar(&agentsFlags.run, "run", "", "filter by run id")
	f.BoolVar(&agentsFlags.active, "active", false, "exclude completed agents")
	rootCmd.AddCommand(agentsCmd)
}
