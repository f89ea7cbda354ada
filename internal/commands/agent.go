package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/lprior-repo/zjj/internal/output"
)

// NewAgentCmd creates the agent parent command (spec §4.2).
func NewAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Agent registry commands",
	}

	cmd.AddCommand(newAgentRegisterCmd())
	cmd.AddCommand(newAgentHeartbeatCmd())
	cmd.AddCommand(newAgentGetCmd())
	cmd.AddCommand(newAgentListCmd())
	cmd.AddCommand(newAgentUnregisterCmd())

	return cmd
}

func newAgentRegisterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register [id]",
		Short: "Register an agent, generating an id if omitted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) > 0 {
				id = args[0]
			}

			var result any
			if err := withComponents(func(c *components) error {
				agent, regErr := c.Agents.Register(cmd.Context(), id)
				if regErr != nil {
					return regErr
				}
				result = agent
				return nil
			}); err != nil {
				return err
			}
			return output.PrintSuccess(result)
		},
	}
	return cmd
}

func newAgentHeartbeatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "heartbeat [id]",
		Short: "Record a liveness heartbeat for an agent",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := resolveAgentArg(cmd, args)
			if id == "" {
				return cmdErr(errors.New("agent id is required"))
			}
			command, _ := cmd.Flags().GetString("command")

			if err := withComponents(func(c *components) error {
				return c.Agents.Heartbeat(cmd.Context(), id, command)
			}); err != nil {
				return err
			}

			type resp struct {
				ID string `json:"id"`
			}
			return output.PrintSuccess(resp{ID: id})
		},
	}
	cmd.Flags().String("command", "", "current command the agent is executing")
	return cmd
}

func newAgentGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get [id]",
		Short: "Show one agent and its liveness status",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := resolveAgentArg(cmd, args)
			if id == "" {
				return cmdErr(errors.New("agent id is required"))
			}

			type resp struct {
				Agent  any    `json:"agent"`
				Status string `json:"status"`
			}
			var result resp
			if err := withComponents(func(c *components) error {
				agent, getErr := c.Agents.Get(cmd.Context(), id)
				if getErr != nil {
					return getErr
				}
				status, statusErr := c.Agents.Status(cmd.Context(), id, c.Settings.HeartbeatTTL)
				if statusErr != nil {
					return statusErr
				}
				result = resp{Agent: agent, Status: string(status)}
				return nil
			}); err != nil {
				return err
			}
			return output.PrintSuccess(result)
		},
	}
	return cmd
}

func newAgentListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			includeStale, _ := cmd.Flags().GetBool("include-stale")
			session, _ := cmd.Flags().GetString("session")

			var result any
			if err := withComponents(func(c *components) error {
				agents, listErr := c.Agents.List(cmd.Context(), includeStale, c.Settings.HeartbeatTTL, session)
				if listErr != nil {
					return listErr
				}
				result = agents
				return nil
			}); err != nil {
				return err
			}
			return output.PrintSuccess(result)
		},
	}
	cmd.Flags().Bool("include-stale", false, "include agents past the heartbeat TTL")
	cmd.Flags().String("session", "", "filter to agents currently on this session")
	return cmd
}

func newAgentUnregisterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unregister [id]",
		Short: "Remove an agent and release any locks it holds",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := resolveAgentArg(cmd, args)
			if id == "" {
				return cmdErr(errors.New("agent id is required"))
			}

			var existed bool
			if err := withComponents(func(c *components) error {
				var unregErr error
				existed, unregErr = c.Agents.Unregister(cmd.Context(), id)
				return unregErr
			}); err != nil {
				return err
			}

			type resp struct {
				ID      string `json:"id"`
				Existed bool   `json:"existed"`
			}
			return output.PrintSuccess(resp{ID: id, Existed: existed})
		},
	}
	return cmd
}

// resolveAgentArg prefers the positional id argument, falling back to
// --agent/ZJJ_AGENT_ID for an agent self-identifying without repeating it.
func resolveAgentArg(cmd *cobra.Command, args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return resolveAgentID(cmd)
}
