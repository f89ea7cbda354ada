package commands

import (
	"github.com/spf13/cobra"

	"github.com/lprior-repo/zjj/internal/models"
	"github.com/lprior-repo/zjj/internal/output"
)

// statusResponse summarizes the repository's session, agent, and queue state
// in one call, for a dashboard-style overview (spec §2 "data flow").
type statusResponse struct {
	Sessions []*models.Session    `json:"sessions"`
	Agents   []*models.Agent      `json:"agents"`
	Queue    []*models.QueueEntry `json:"queue"`
}

// NewStatusCmd creates the top-level status command.
func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sessions, agents, and the merge queue in one call",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result statusResponse
			if err := withComponents(func(c *components) error {
				sessions, err := c.Sessions.List(cmd.Context())
				if err != nil {
					return err
				}
				agents, err := c.Agents.List(cmd.Context(), true, c.Settings.HeartbeatTTL, "")
				if err != nil {
					return err
				}
				queue := make([]*models.QueueEntry, 0, len(sessions))
				for _, s := range sessions {
					entry, getErr := c.Queue.GetActiveByWorkspace(cmd.Context(), s.Name)
					if getErr != nil {
						return getErr
					}
					if entry != nil {
						queue = append(queue, entry)
					}
				}
				result = statusResponse{Sessions: sessions, Agents: agents, Queue: queue}
				return nil
			}); err != nil {
				return err
			}
			return output.PrintSuccess(result)
		},
	}
	return cmd
}
