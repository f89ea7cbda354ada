package commands

import (
	"errors"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/lprior-repo/zjj/internal/output"
)

// NewQueueCmd creates the queue parent command (spec §4.4).
func NewQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Merge queue commands",
	}

	cmd.AddCommand(newQueueAddCmd())
	cmd.AddCommand(newQueueNextCmd())
	cmd.AddCommand(newQueueGetCmd())
	cmd.AddCommand(newQueueActiveCmd())
	cmd.AddCommand(newQueueRetryCmd())
	cmd.AddCommand(newQueueCancelCmd())
	cmd.AddCommand(newQueueEventsCmd())
	cmd.AddCommand(newQueueCleanupCmd())

	return cmd
}

func newQueueAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add [workspace]",
		Short: "Add a workspace to the merge queue",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := resolveSessionName(args)
			if workspace == "" {
				return cmdErr(errors.New("workspace is required"))
			}
			agent, err := requireAgentID(cmd)
			if err != nil {
				return cmdErr(err)
			}
			beadID, _ := cmd.Flags().GetString("bead")
			priority, _ := cmd.Flags().GetInt("priority")
			dedupeKey, _ := cmd.Flags().GetString("dedupe-key")
			parentWorkspace, _ := cmd.Flags().GetString("parent")

			var result any
			if withErr := withComponents(func(c *components) error {
				resp, addErr := c.Queue.Add(cmd.Context(), workspace, beadID, priority, agent, dedupeKey, parentWorkspace)
				if addErr != nil {
					return addErr
				}
				result = resp
				return nil
			}); withErr != nil {
				return withErr
			}
			return output.PrintSuccess(result)
		},
	}
	cmd.Flags().String("bead", "", "bead id to associate with the entry")
	cmd.Flags().Int("priority", 0, "entry priority; lower claims first")
	cmd.Flags().String("dedupe-key", "", "idempotency key; repeating it is a no-op")
	cmd.Flags().String("parent", "", "parent workspace for a stacked entry")
	return cmd
}

func newQueueNextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Show the entry next() would claim, without claiming it",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result any
			if err := withComponents(func(c *components) error {
				entry, nextErr := c.Queue.Next(cmd.Context())
				if nextErr != nil {
					return nextErr
				}
				result = entry
				return nil
			}); err != nil {
				return err
			}
			return output.PrintSuccess(result)
		},
	}
	return cmd
}

func newQueueGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one queue entry by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return cmdErr(errors.New("id must be an integer"))
			}

			var result any
			if withErr := withComponents(func(c *components) error {
				entry, getErr := c.Queue.Get(cmd.Context(), id)
				if getErr != nil {
					return getErr
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

func newQueueActiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "active [workspace]",
		Short: "Show a workspace's active (non-terminal) queue entry, if any",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := resolveSessionName(args)
			if workspace == "" {
				return cmdErr(errors.New("workspace is required"))
			}

			var result any
			if withErr := withComponents(func(c *components) error {
				entry, getErr := c.Queue.GetActiveByWorkspace(cmd.Context(), workspace)
				if getErr != nil {
					return getErr
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

func newQueueRetryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry <id>",
		Short: "Retry a FailedRetryable entry under its attempt budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return cmdErr(errors.New("id must be an integer"))
			}

			var result any
			if withErr := withComponents(func(c *components) error {
				entry, retryErr := c.Queue.Retry(cmd.Context(), id)
				if retryErr != nil {
					return retryErr
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

func newQueueCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a non-terminal queue entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return cmdErr(errors.New("id must be an integer"))
			}

			var result any
			if withErr := withComponents(func(c *components) error {
				entry, cancelErr := c.Queue.Cancel(cmd.Context(), id)
				if cancelErr != nil {
					return cancelErr
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

func newQueueEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events <id>",
		Short: "Show a queue entry's append-only event log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return cmdErr(errors.New("id must be an integer"))
			}
			limit, _ := cmd.Flags().GetInt("limit")

			var result any
			if withErr := withComponents(func(c *components) error {
				if limit > 0 {
					events, fetchErr := c.Queue.FetchRecentEvents(cmd.Context(), id, limit)
					if fetchErr != nil {
						return fetchErr
					}
					result = events
					return nil
				}
				events, fetchErr := c.Queue.FetchEvents(cmd.Context(), id)
				if fetchErr != nil {
					return fetchErr
				}
				result = events
				return nil
			}); withErr != nil {
				return withErr
			}
			return output.PrintSuccess(result)
		},
	}
	cmd.Flags().Int("limit", 0, "limit to the N most recent events (0 = all)")
	return cmd
}

func newQueueCleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete terminal queue entries older than max-age",
		RunE: func(cmd *cobra.Command, args []string) error {
			maxAge, _ := cmd.Flags().GetDuration("max-age")

			var removed int
			if err := withComponents(func(c *components) error {
				var cleanupErr error
				removed, cleanupErr = c.Queue.Cleanup(cmd.Context(), maxAge)
				return cleanupErr
			}); err != nil {
				return err
			}

			type resp struct {
				Removed int `json:"removed"`
			}
			return output.PrintSuccess(resp{Removed: removed})
		},
	}
	cmd.Flags().Duration("max-age", 7*24*time.Hour, "age beyond which Merged/FailedFatal/Cancelled entries are deleted")
	return cmd
}
