package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/lprior-repo/zjj/internal/output"
)

// NewLockCmd creates the lock parent command (spec §4.5).
func NewLockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Session lock commands",
	}

	cmd.AddCommand(newLockAcquireCmd())
	cmd.AddCommand(newLockExtendCmd())
	cmd.AddCommand(newLockReleaseCmd())
	cmd.AddCommand(newLockGetCmd())
	cmd.AddCommand(newLockListCmd())
	cmd.AddCommand(newLockReclaimAgentCmd())

	return cmd
}

func newLockAcquireCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "acquire [session]",
		Short: "Acquire a session's lock for the calling agent",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session := resolveSessionName(args)
			if session == "" {
				return cmdErr(errors.New("session name is required"))
			}
			agent, err := requireAgentID(cmd)
			if err != nil {
				return cmdErr(err)
			}

			var result any
			if withErr := withComponents(func(c *components) error {
				lock, acqErr := c.Locks.Acquire(cmd.Context(), session, agent, c.Settings.SessionLockTTL)
				if acqErr != nil {
					return acqErr
				}
				result = lock
				return nil
			}); withErr != nil {
				return withErr
			}
			return output.PrintSuccess(result)
		},
	}
	return cmd
}

func newLockExtendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extend [session]",
		Short: "Extend the calling agent's lock on a session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session := resolveSessionName(args)
			if session == "" {
				return cmdErr(errors.New("session name is required"))
			}
			agent, err := requireAgentID(cmd)
			if err != nil {
				return cmdErr(err)
			}

			var result any
			if withErr := withComponents(func(c *components) error {
				lock, extErr := c.Locks.Extend(cmd.Context(), session, agent, c.Settings.SessionLockTTL)
				if extErr != nil {
					return extErr
				}
				result = lock
				return nil
			}); withErr != nil {
				return withErr
			}
			return output.PrintSuccess(result)
		},
	}
	return cmd
}

func newLockReleaseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "release [session]",
		Short: "Release the calling agent's lock on a session (idempotent)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session := resolveSessionName(args)
			if session == "" {
				return cmdErr(errors.New("session name is required"))
			}
			agent, err := requireAgentID(cmd)
			if err != nil {
				return cmdErr(err)
			}

			if withErr := withComponents(func(c *components) error {
				return c.Locks.Release(cmd.Context(), session, agent)
			}); withErr != nil {
				return withErr
			}

			type resp struct {
				Session string `json:"session"`
				Released bool  `json:"released"`
			}
			return output.PrintSuccess(resp{Session: session, Released: true})
		},
	}
	return cmd
}

func newLockGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get [session]",
		Short: "Show the lock held on a session, if any",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session := resolveSessionName(args)
			if session == "" {
				return cmdErr(errors.New("session name is required"))
			}

			var result any
			if withErr := withComponents(func(c *components) error {
				lock, getErr := c.Locks.Get(cmd.Context(), session)
				if getErr != nil {
					return getErr
				}
				result = lock
				return nil
			}); withErr != nil {
				return withErr
			}
			return output.PrintSuccess(result)
		},
	}
	return cmd
}

func newLockListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every session lock row, expired or not",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result any
			if err := withComponents(func(c *components) error {
				locks, listErr := c.Locks.ListAll(cmd.Context())
				if listErr != nil {
					return listErr
				}
				result = locks
				return nil
			}); err != nil {
				return err
			}
			return output.PrintSuccess(result)
		},
	}
	return cmd
}

func newLockReclaimAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reclaim-agent <agent-id>",
		Short: "Force-release every session lock held by an agent, without unregistering it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var removed int
			if err := withComponents(func(c *components) error {
				var reclaimErr error
				removed, reclaimErr = c.Locks.ReclaimForAgent(cmd.Context(), args[0])
				return reclaimErr
			}); err != nil {
				return err
			}

			type resp struct {
				Agent   string `json:"agent"`
				Removed int    `json:"removed"`
			}
			return output.PrintSuccess(resp{Agent: args[0], Removed: removed})
		},
	}
	return cmd
}
