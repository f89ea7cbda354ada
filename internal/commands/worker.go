package commands

import (
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lprior-repo/zjj/internal/output"
	"github.com/lprior-repo/zjj/internal/shutdown"
)

// NewWorkerCmd creates the worker parent command (spec §4.6 "worker_step").
func NewWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Merge worker commands",
	}

	cmd.AddCommand(newWorkerStepCmd())
	cmd.AddCommand(newWorkerRunCmd())

	return cmd
}

func newWorkerStepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "step",
		Short: "Run one worker_step: claim, rebase, freshness-check, merge",
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := requireAgentID(cmd)
			if err != nil {
				return cmdErr(err)
			}

			var result any
			if withErr := withComponents(func(c *components) error {
				entry, stepErr := c.Coord.WorkerStep(cmd.Context(), agent)
				if stepErr != nil {
					return stepErr
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

// newWorkerRunCmd runs worker_step in a loop until a SIGINT/SIGTERM or the
// shutdown coordinator's drain budget forces it to stop (spec §4.6 "the
// worker loop is long-running and cancellable", §4.7 "the worker loop ...
// must check between worker_step iterations"). Each iteration opens and
// closes its own DB handle via withComponents so a long-idle worker never
// holds the single-connection pool open across poll ticks.
func newWorkerRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run worker_step in a loop until signalled to stop",
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := requireAgentID(cmd)
			if err != nil {
				return cmdErr(err)
			}
			pollInterval, _ := cmd.Flags().GetDuration("poll-interval")
			drainBudget, _ := cmd.Flags().GetDuration("drain-budget")

			sc := shutdown.New(drainBudget)
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				slog.Default().Info("worker received shutdown signal")
				sc.Shutdown()
			}()

			signals := sc.Subscribe()
			ticker := time.NewTicker(pollInterval)
			defer ticker.Stop()

			type resp struct {
				StepsRun int `json:"steps_run"`
			}
			stepsRun := 0
			for {
				select {
				case sig := <-signals:
					if sig == shutdown.Force {
						return cmdErr(errors.New("worker forced to stop after drain budget elapsed"))
					}
					return output.PrintSuccess(resp{StepsRun: stepsRun})
				case <-sc.Context().Done():
					return output.PrintSuccess(resp{StepsRun: stepsRun})
				case <-ticker.C:
					claimed := false
					if withErr := withComponents(func(c *components) error {
						entry, stepErr := c.Coord.WorkerStep(cmd.Context(), agent)
						if stepErr != nil {
							return stepErr
						}
						claimed = entry != nil
						return nil
					}); withErr != nil {
						slog.Default().Error("worker_step failed", "error", withErr.Error())
						continue
					}
					if claimed {
						stepsRun++
					}
				}
			}
		},
	}
	cmd.Flags().Duration("poll-interval", 2*time.Second, "delay between worker_step attempts when the queue is empty")
	cmd.Flags().Duration("drain-budget", 30*time.Second, "how long a graceful shutdown waits before forcing stop")
	return cmd
}
