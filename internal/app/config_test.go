package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFindRepoRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, RepoMarker), 0o755))

	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	found, err := FindRepoRoot(nested)
	require.NoError(t, err)
	require.Equal(t, root, found)
}

func TestFindRepoRoot_NotFound(t *testing.T) {
	_, err := FindRepoRoot(t.TempDir())
	require.Error(t, err)
}

func TestResolveWorkspacesRoot_Default(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, RepoMarker), 0o755))

	got, err := ResolveWorkspacesRoot(root, EffectiveSettings{})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, RepoMarker, "workspaces"), got)
}

func TestResolveWorkspacesRoot_RejectsEscape(t *testing.T) {
	root := t.TempDir()
	_, err := ResolveWorkspacesRoot(root, EffectiveSettings{WorkspacesRoot: "/../../etc"})
	require.Error(t, err)
}

func TestValidateWorkspacePath(t *testing.T) {
	wsRoot := t.TempDir()

	require.NoError(t, ValidateWorkspacePath(wsRoot, filepath.Join(wsRoot, "s1")))
	require.Error(t, ValidateWorkspacePath(wsRoot, filepath.Join(wsRoot, "..", "s1")))
	require.Error(t, ValidateWorkspacePath(wsRoot, "relative/path"))
}
