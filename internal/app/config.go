// Package app resolves ambient configuration: where the repository's state
// database and workspaces root live, and the tunables (heartbeat TTL, lock
// TTLs, retry limits) the core components need but spec.md leaves to the
// implementation. Full TOML config loading and CLI flag binding are the
// external collaborator's job (spec §1); this package only resolves already-
// layered settings (env var > config.yaml > default) for the core to consume.
package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// RepoMarker is the directory that identifies a repository root for ZJJ.
const RepoMarker = ".zjj"

// FindRepoRoot walks up from startDir looking for a ".zjj" or ".git"
// directory, the same upward-search idiom used to locate a bead store root.
// Returns the directory containing the marker.
func FindRepoRoot(startDir string) (string, error) {
	dir := startDir
	for {
		if info, err := os.Stat(filepath.Join(dir, RepoMarker)); err == nil && info.IsDir() {
			return dir, nil
		}
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("could not find repository root (.zjj or .git) from %s", startDir)
		}
		dir = parent
	}
}

// ConfigDir returns ~/.config/zjj/ on all platforms, for the ambient settings
// file (per-user tunables, not per-repo state).
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "zjj"), nil
}

// EnsureConfigDir creates the config directory and default config.yaml if missing.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	configFile := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return os.WriteFile(configFile, []byte(defaultConfig), 0o600)
	}
	return nil
}

const defaultConfig = `# zjj configuration
# See spec §6 for the environment variables that override these values.

# Optional: override the SQLite database location.
# Can also be set via ZJJ_DB_PATH.
# db_path: <repo>/.zjj/state.db

# Optional: override the workspaces root. May contain a {repo} placeholder.
# Can also be set via ZJJ_WORKSPACES_ROOT.
# workspaces_root: <repo>/.zjj/workspaces

# Optional: the trunk/main branch name.
# trunk: main
`
