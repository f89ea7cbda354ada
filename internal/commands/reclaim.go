package commands

import (
	"github.com/spf13/cobra"

	"github.com/lprior-repo/zjj/internal/output"
)

// NewReclaimCmd creates the reclaim command: one pass over expired session
// locks, stale agents, and stuck queue entries (SPEC_FULL.md §13 "Reclaim
// sweep wiring").
func NewReclaimCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reclaim",
		Short: "Reclaim expired locks, stale agents, and stuck queue entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			var locksReclaimed, agentsReclaimed, queueEntriesReclaimed int
			if err := withComponents(func(c *components) error {
				var sweepErr error
				locksReclaimed, agentsReclaimed, queueEntriesReclaimed, sweepErr = c.Coord.ReclaimSweep(
					cmd.Context(), c.Settings.HeartbeatTTL, c.Settings.ReclaimThreshold)
				return sweepErr
			}); err != nil {
				return err
			}

			type resp struct {
				LocksReclaimed        int `json:"locks_reclaimed"`
				AgentsReclaimed       int `json:"agents_reclaimed"`
				QueueEntriesReclaimed int `json:"queue_entries_reclaimed"`
			}
			return output.PrintSuccess(resp{
				LocksReclaimed:        locksReclaimed,
				AgentsReclaimed:       agentsReclaimed,
				QueueEntriesReclaimed: queueEntriesReclaimed,
			})
		},
	}
	return cmd
}
