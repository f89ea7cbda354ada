package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnvAgentID, EnvBeadID, EnvSession, and EnvWorkspace are the agent
// self-identification environment variables read by the core (spec §6).
// All are optional.
const (
	EnvAgentID   = "ZJJ_AGENT_ID"
	EnvBeadID    = "ZJJ_BEAD_ID"
	EnvSession   = "ZJJ_SESSION"
	EnvWorkspace = "ZJJ_WORKSPACE"
)

// AgentIdentity captures the optional self-identification an agent process
// carries in its environment.
type AgentIdentity struct {
	AgentID   string
	BeadID    string
	Session   string
	Workspace string
}

// IdentityFromEnv reads the agent self-identification environment variables.
// Every field may be empty; callers fall back to explicit flags/arguments.
func IdentityFromEnv() AgentIdentity {
	return AgentIdentity{
		AgentID:   os.Getenv(EnvAgentID),
		BeadID:    os.Getenv(EnvBeadID),
		Session:   os.Getenv(EnvSession),
		Workspace: os.Getenv(EnvWorkspace),
	}
}

// ResolveWorkspacesRoot expands a configured workspaces-root template (which
// may contain a "{repo}" placeholder) against repoRoot, and validates the
// result per spec §6: must not escape repoRoot's parent, must not be a
// symlink, must be writable.
func ResolveWorkspacesRoot(repoRoot string, settings EffectiveSettings) (string, error) {
	template := settings.WorkspacesRoot
	if template == "" {
		template = filepath.Join(repoRoot, RepoMarker, "workspaces")
	} else {
		template = strings.ReplaceAll(template, "{repo}", filepath.Base(repoRoot))
	}

	abs, err := filepath.Abs(template)
	if err != nil {
		return "", fmt.Errorf("resolving workspaces root: %w", err)
	}

	repoParent := filepath.Dir(repoRoot)
	rel, err := filepath.Rel(repoParent, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("workspaces root %q escapes repository parent %q", abs, repoParent)
	}

	if info, statErr := os.Lstat(abs); statErr == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			return "", fmt.Errorf("workspaces root %q must not be a symlink", abs)
		}
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", fmt.Errorf("workspaces root %q is not writable: %w", abs, err)
	}

	return abs, nil
}

// ValidateWorkspacePath checks a session's workspace path against the rules
// in spec §3: absolute, under workspacesRoot, no traversal, not a symlink.
func ValidateWorkspacePath(workspacesRoot, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving workspace path: %w", err)
	}
	if abs != path {
		return fmt.Errorf("workspace path %q must be absolute", path)
	}

	rel, err := filepath.Rel(workspacesRoot, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("workspace path %q escapes workspaces root %q", path, workspacesRoot)
	}

	if info, statErr := os.Lstat(abs); statErr == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("workspace path %q must not be a symlink", path)
		}
	}

	return nil
}
