package workspacebridge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lprior-repo/zjj/internal/models"
)

func TestFake_RebaseFastForwardsWorkspaceHead(t *testing.T) {
	f := NewFake("main-0")
	ctx := context.Background()

	require.NoError(t, f.CreateWorkspace(ctx, "ws1", "main-0"))
	res, err := f.Rebase(ctx, "ws1", "main-1")
	require.NoError(t, err)
	require.Equal(t, "main-1", res.NewHeadSHA)

	head, err := f.WorkspaceHead(ctx, "ws1")
	require.NoError(t, err)
	require.Equal(t, "main-1", head)
}

func TestFake_InjectedConflictClassifies(t *testing.T) {
	f := NewFake("main-0")
	ctx := context.Background()
	f.InjectRebaseConflict["ws1"] = true

	_, err := f.Rebase(ctx, "ws1", "main-1")
	require.Error(t, err)
	var conflict *models.WorkspaceConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestFake_MergeAdvancesTrunk(t *testing.T) {
	f := NewFake("main-0")
	ctx := context.Background()

	res, err := f.Merge(ctx, "ws1", "main")
	require.NoError(t, err)
	require.NotEmpty(t, res.MergeSHA)

	head, err := f.TrunkHead(ctx, "main")
	require.NoError(t, err)
	require.Equal(t, res.MergeSHA, head)
}

func TestParseDiffStat_CountsFilesAndPaths(t *testing.T) {
	out := "a.go | 3 ++-\nb.go | 1 +\n2 files changed"
	summary := parseDiffStat(out)
	require.Equal(t, 2, summary.FilesChanged)
	require.Contains(t, summary.Paths, "a.go")
	require.Contains(t, summary.Paths, "b.go")
}
