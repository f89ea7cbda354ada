package commands

import (
	"github.com/spf13/cobra"

	"github.com/lprior-repo/zjj/internal/app"
	"github.com/lprior-repo/zjj/internal/output"
	"github.com/lprior-repo/zjj/internal/store"
)

// NewDBCmd creates the db parent command: schema status and WAL maintenance
// for the repository's SQLite file (spec §4.1, §6 "<repo>/.zjj/state.db").
func NewDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database status and maintenance",
	}

	cmd.AddCommand(newDBStatusCmd())
	cmd.AddCommand(newDBCheckpointCmd())

	return cmd
}

func newDBStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the resolved database path and schema migration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, source, err := app.ResolveDBPathDetailed()
			if err != nil {
				return cmdErr(err)
			}

			type resp struct {
				Path          string `json:"path"`
				Source        string `json:"source"`
				SchemaCurrent int64  `json:"schema_current"`
				SchemaLatest  int64  `json:"schema_latest"`
			}
			result := resp{Path: path, Source: source}
			if withErr := withDB(func(db *DB) error {
				current, latest, verErr := store.SchemaVersion(db)
				if verErr != nil {
					return verErr
				}
				result.SchemaCurrent = current
				result.SchemaLatest = latest
				return nil
			}); withErr != nil {
				return withErr
			}
			return output.PrintSuccess(result)
		},
	}
	return cmd
}

func newDBCheckpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Trigger a WAL checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, _ := cmd.Flags().GetString("mode")

			if withErr := withDB(func(db *DB) error {
				return store.CheckpointWAL(cmd.Context(), db, mode)
			}); withErr != nil {
				return withErr
			}

			type resp struct {
				Mode string `json:"mode"`
			}
			return output.PrintSuccess(resp{Mode: mode})
		},
	}
	cmd.Flags().String("mode", "PASSIVE", "checkpoint mode: PASSIVE, FULL, TRUNCATE, RESTART")
	return cmd
}
