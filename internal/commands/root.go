package commands

import (
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/lprior-repo/zjj/internal/app"
	"github.com/lprior-repo/zjj/internal/output"
)

// Execute runs the zjj CLI (spec §6 "CLI surface (thin collaborator)").
func Execute(version string) error {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	root := &cobra.Command{
		Use:           "zjj",
		Short:         "Per-repository multi-agent coordination control plane",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			showVersion, _ := cmd.Flags().GetBool("version")
			if showVersion {
				type resp struct {
					Version string `json:"version"`
				}
				return output.PrintSuccess(resp{Version: version})
			}
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if dbPath, err := cmd.Flags().GetString("db-path"); err == nil && dbPath != "" {
				app.SetDBPathOverride(dbPath)
			}
			jsonMode, _ := cmd.Flags().GetBool("json")
			output.SetHumanMode(!jsonMode)
			return nil
		},
	}

	root.PersistentFlags().String("db-path", "", "Override database path (default: "+app.RepoMarker+"/state.db)")
	root.PersistentFlags().StringP("agent", "a", "", "Agent id (default: $"+app.EnvAgentID+")")
	root.PersistentFlags().Bool("json", true, "emit a JSON envelope instead of one-line human output (spec: --json=false for human mode)")
	root.Flags().BoolP("version", "v", false, "print the zjj version")

	root.AddCommand(NewSessionCmd())
	root.AddCommand(NewAgentCmd())
	root.AddCommand(NewLockCmd())
	root.AddCommand(NewQueueCmd())
	root.AddCommand(NewWorkerCmd())
	root.AddCommand(NewReclaimCmd())
	root.AddCommand(NewStatusCmd())
	root.AddCommand(NewDBCmd())
	root.AddCommand(NewConflictCmd())
	root.AddCommand(NewBeadCmd())

	err := root.Execute()
	if err != nil {
		var pe printedError
		if !errors.As(err, &pe) {
			// cobra itself failed before a RunE's cmdErr could render it
			// (bad flags, unknown subcommand) — render it now so every exit
			// path still honors spec §7's JSON/human output contract.
			_ = output.PrintError(err)
		}
	}
	return err
}
