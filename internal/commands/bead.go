package commands

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/lprior-repo/zjj/internal/app"
	"github.com/lprior-repo/zjj/internal/beads"
	"github.com/lprior-repo/zjj/internal/output"
)

// NewBeadCmd creates the bead parent command: a read-only view over the
// repository's .beads/issues.jsonl file (spec §6 "Bead store"). The core
// never mutates this file; these subcommands exist so an operator or agent
// can inspect the bead a Session or Agent is linked to without leaving zjj.
func NewBeadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bead",
		Short: "Read-only view of the repository bead store",
	}

	cmd.AddCommand(newBeadShowCmd())
	cmd.AddCommand(newBeadListCmd())

	return cmd
}

func openBeadStore() (*beads.Store, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	repoRoot, err := app.FindRepoRoot(wd)
	if err != nil {
		return nil, err
	}
	return beads.New(repoRoot), nil
}

func newBeadShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <bead-id>",
		Short: "Show one bead by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openBeadStore()
			if err != nil {
				return cmdErr(err)
			}
			bead, found, err := store.Get(args[0])
			if err != nil {
				return cmdErr(err)
			}
			if !found {
				return cmdErr(errors.New("bead not found: " + args[0]))
			}
			return output.PrintSuccess(bead)
		},
	}
	return cmd
}

func newBeadListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every bead in the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openBeadStore()
			if err != nil {
				return cmdErr(err)
			}
			all, err := store.Load()
			if err != nil {
				return cmdErr(err)
			}
			return output.PrintSuccess(all)
		},
	}
	return cmd
}
