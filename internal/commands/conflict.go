package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/lprior-repo/zjj/internal/models"
	"github.com/lprior-repo/zjj/internal/output"
)

// NewConflictCmd creates the conflict parent command: the ConflictResolution
// audit trail (spec §3 "ConflictResolution" — "written but not consulted by
// the core state machines; exposed for external review").
func NewConflictCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflict",
		Short: "Conflict-resolution audit trail",
	}

	cmd.AddCommand(newConflictRecordCmd())
	cmd.AddCommand(newConflictListCmd())

	return cmd
}

func newConflictRecordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record <session> <file> <strategy>",
		Short: "Append one conflict-resolution record",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason, _ := cmd.Flags().GetString("reason")
			deciderFlag, _ := cmd.Flags().GetString("decider")
			decider := models.ConflictDecider(deciderFlag)
			if decider != models.ConflictDeciderAI && decider != models.ConflictDeciderHuman {
				return cmdErr(errors.New("--decider must be \"ai\" or \"human\""))
			}

			var confidence *float64
			if cmd.Flags().Changed("confidence") {
				c, getErr := cmd.Flags().GetFloat64("confidence")
				if getErr != nil {
					return cmdErr(getErr)
				}
				confidence = &c
			}

			var result any
			if withErr := withComponents(func(c *components) error {
				rec, recErr := c.Conflicts.Record(cmd.Context(), args[0], args[1], args[2], reason, confidence, decider)
				if recErr != nil {
					return recErr
				}
				result = rec
				return nil
			}); withErr != nil {
				return withErr
			}
			return output.PrintSuccess(result)
		},
	}
	cmd.Flags().String("reason", "", "free-text rationale for the resolution")
	cmd.Flags().Float64("confidence", 0, "confidence score in [0,1], when decider=ai")
	cmd.Flags().String("decider", string(models.ConflictDeciderHuman), `"ai" or "human"`)
	return cmd
}

func newConflictListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [session]",
		Short: "List conflict-resolution records, optionally filtered by session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session := resolveSessionName(args)
			limit, _ := cmd.Flags().GetInt("limit")

			var result any
			if err := withComponents(func(c *components) error {
				if session != "" {
					list, listErr := c.Conflicts.ListBySession(cmd.Context(), session)
					if listErr != nil {
						return listErr
					}
					result = list
					return nil
				}
				list, listErr := c.Conflicts.ListRecent(cmd.Context(), limit)
				if listErr != nil {
					return listErr
				}
				result = list
				return nil
			}); err != nil {
				return err
			}
			return output.PrintSuccess(result)
		},
	}
	cmd.Flags().Int("limit", 50, "max records to return when no session is given")
	return cmd
}
