package commands

import (
	"errors"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lprior-repo/zjj/internal/app"
)

// resolveAgentID resolves the calling agent's identity for lock/queue
// attribution. Precedence: --agent flag, then ZJJ_AGENT_ID (spec §6 agent
// self-identification env var), mirroring vybe's --agent/VYBE_AGENT
// resolution order.
func resolveAgentID(cmd *cobra.Command) string {
	if v, err := cmd.Flags().GetString("agent"); err == nil && v != "" {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(os.Getenv(app.EnvAgentID))
}

func requireAgentID(cmd *cobra.Command) (string, error) {
	agent := resolveAgentID(cmd)
	if agent == "" {
		return "", errors.New("agent id is required (set --agent or " + app.EnvAgentID + ")")
	}
	return agent, nil
}

// resolveSessionName falls back to ZJJ_SESSION when the positional argument
// is omitted, letting an agent process identify its own session implicitly.
func resolveSessionName(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return strings.TrimSpace(os.Getenv(app.EnvSession))
}
