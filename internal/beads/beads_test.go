package beads

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsEmpty(t *testing.T) {
	s := New(t.TempDir())
	beads, err := s.Load()
	require.NoError(t, err)
	require.Empty(t, beads)
}

func TestLoad_ParsesJSONLLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "issues.jsonl")
	content := `{"id":"bd-1","title":"first","status":"open","created_at":"2026-01-01T00:00:00Z","updated_at":"2026-01-01T00:00:00Z"}
{"id":"bd-2","title":"second","status":"closed","created_at":"2026-01-01T00:00:00Z","updated_at":"2026-01-02T00:00:00Z"}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s := NewFromPath(path)
	beads, err := s.Load()
	require.NoError(t, err)
	require.Len(t, beads, 2)
	require.Equal(t, "bd-1", beads[0].ID)

	bead, ok, err := s.Get("bd-2")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "closed", bead.Status)

	_, ok, err = s.Get("bd-missing")
	require.NoError(t, err)
	require.False(t, ok)
}
