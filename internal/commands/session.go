package commands

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/lprior-repo/zjj/internal/app"
	"github.com/lprior-repo/zjj/internal/output"
)

// NewSessionCmd creates the session parent command (spec §4.3, §4.6).
func NewSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Session lifecycle commands",
	}

	cmd.AddCommand(newSessionCreateCmd())
	cmd.AddCommand(newSessionGetCmd())
	cmd.AddCommand(newSessionListCmd())
	cmd.AddCommand(newSessionStartWorkCmd())
	cmd.AddCommand(newSessionSubmitCmd())
	cmd.AddCommand(newSessionAbortCmd())
	cmd.AddCommand(newSessionDeleteCmd())

	return cmd
}

func newSessionCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <name> <workspace-path>",
		Short: "Create a session in status Creating",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result any
			if err := withComponents(func(c *components) error {
				wd, wdErr := os.Getwd()
				if wdErr != nil {
					return wdErr
				}
				repoRoot, repoErr := app.FindRepoRoot(wd)
				if repoErr != nil {
					return repoErr
				}
				root, rootErr := app.ResolveWorkspacesRoot(repoRoot, c.Settings)
				if rootErr != nil {
					return rootErr
				}
				if valErr := app.ValidateWorkspacePath(root, args[1]); valErr != nil {
					return valErr
				}
				sess, err := c.Sessions.Create(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				result = sess
				return nil
			}); err != nil {
				return err
			}
			return output.PrintSuccess(result)
		},
	}
	return cmd
}

func newSessionGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get [name]",
		Short: "Show one session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := resolveSessionName(args)
			if name == "" {
				return cmdErr(errors.New("session name is required"))
			}

			var result any
			if err := withComponents(func(c *components) error {
				sess, err := c.Sessions.Get(cmd.Context(), name)
				if err != nil {
					return err
				}
				result = sess
				return nil
			}); err != nil {
				return err
			}
			return output.PrintSuccess(result)
		},
	}
	return cmd
}

func newSessionListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result any
			if err := withComponents(func(c *components) error {
				sessions, err := c.Sessions.List(cmd.Context())
				if err != nil {
					return err
				}
				result = sessions
				return nil
			}); err != nil {
				return err
			}
			return output.PrintSuccess(result)
		},
	}
	return cmd
}

func newSessionStartWorkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start-work [name]",
		Short: "Acquire a session's lock and transition it to Active",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := resolveSessionName(args)
			if name == "" {
				return cmdErr(errors.New("session name is required"))
			}
			agent, err := requireAgentID(cmd)
			if err != nil {
				return cmdErr(err)
			}
			beadID, _ := cmd.Flags().GetString("bead")

			var result any
			if withErr := withComponents(func(c *components) error {
				sess, startErr := c.Coord.StartWork(cmd.Context(), name, agent, beadID)
				if startErr != nil {
					return startErr
				}
				result = sess
				return nil
			}); withErr != nil {
				return withErr
			}
			return output.PrintSuccess(result)
		},
	}
	cmd.Flags().String("bead", "", "Bead id to associate with this session")
	return cmd
}

func newSessionSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit [name]",
		Short: "Submit a session's current head to the merge queue",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := resolveSessionName(args)
			if name == "" {
				return cmdErr(errors.New("session name is required"))
			}
			agent, err := requireAgentID(cmd)
			if err != nil {
				return cmdErr(err)
			}

			var result any
			if withErr := withComponents(func(c *components) error {
				entry, submitErr := c.Coord.Submit(cmd.Context(), name, agent)
				if submitErr != nil {
					return submitErr
				}
				result = entry
				return nil
			}); withErr != nil {
				return withErr
			}
			return output.PrintSuccess(result)
		},
	}
	return cmd
}

func newSessionAbortCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "abort [name]",
		Short: "Cancel a session's active queue entry and abandon it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := resolveSessionName(args)
			if name == "" {
				return cmdErr(errors.New("session name is required"))
			}
			agent, err := requireAgentID(cmd)
			if err != nil {
				return cmdErr(err)
			}

			if withErr := withComponents(func(c *components) error {
				return c.Coord.Abort(cmd.Context(), name, agent)
			}); withErr != nil {
				return withErr
			}

			type resp struct {
				Session string `json:"session"`
				Aborted bool   `json:"aborted"`
			}
			return output.PrintSuccess(resp{Session: name, Aborted: true})
		},
	}
	return cmd
}

func newSessionDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete [name]",
		Short: "Delete a session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := resolveSessionName(args)
			if name == "" {
				return cmdErr(errors.New("session name is required"))
			}
			force, _ := cmd.Flags().GetBool("force")

			if withErr := withComponents(func(c *components) error {
				return c.Sessions.Delete(cmd.Context(), name, force)
			}); withErr != nil {
				return withErr
			}

			type resp struct {
				Session string `json:"session"`
				Deleted bool   `json:"deleted"`
			}
			return output.PrintSuccess(resp{Session: name, Deleted: true})
		},
	}
	cmd.Flags().Bool("force", false, "delete even if non-terminal or in use")
	return cmd
}
