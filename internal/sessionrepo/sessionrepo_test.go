package sessionrepo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lprior-repo/zjj/internal/clock"
	"github.com/lprior-repo/zjj/internal/models"
	"github.com/lprior-repo/zjj/internal/store"
)

func newTestRepo(t *testing.T) (*Repo, *clock.FakeClock) {
	t.Helper()
	db, err := store.InitDBWithPath(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	fc := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(db, fc), fc
}

func TestCreate_RejectsInvalidName(t *testing.T) {
	repo, _ := newTestRepo(t)
	_, err := repo.Create(context.Background(), "9bad", "/ws/9bad")
	require.Error(t, err)
	var inv *models.SessionNameInvalidError
	require.ErrorAs(t, err, &inv)
}

func TestCreate_RejectsDuplicate(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	_, err := repo.Create(ctx, "alpha", "/ws/alpha")
	require.NoError(t, err)

	_, err = repo.Create(ctx, "alpha", "/ws/alpha")
	require.Error(t, err)
	var exists *models.SessionAlreadyExistsError
	require.ErrorAs(t, err, &exists)
}

func TestLifecycleTransitions(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	_, err := repo.Create(ctx, "alpha", "/ws/alpha")
	require.NoError(t, err)

	sess, err := repo.UpdateStatus(ctx, "alpha", models.SessionStatusReady)
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusReady, sess.Status)

	sess, err = repo.UpdateStatus(ctx, "alpha", models.SessionStatusActive)
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusActive, sess.Status)

	sess, err = repo.UpdateStatus(ctx, "alpha", models.SessionStatusQueued)
	require.NoError(t, err)

	sess, err = repo.UpdateStatus(ctx, "alpha", models.SessionStatusMerging)
	require.NoError(t, err)

	sess, err = repo.UpdateStatus(ctx, "alpha", models.SessionStatusMerged)
	require.NoError(t, err)
	require.True(t, sess.Status.IsTerminal())

	_, err = repo.UpdateStatus(ctx, "alpha", models.SessionStatusActive)
	require.Error(t, err)
	var invalid *models.InvalidStateTransitionError
	require.ErrorAs(t, err, &invalid)
}

func TestMergeMetadataPatch_NullDeletesKey(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	_, err := repo.Create(ctx, "alpha", "/ws/alpha")
	require.NoError(t, err)

	v1 := "agent-1"
	sess, err := repo.MergeMetadataPatch(ctx, "alpha", map[string]*string{"agent_id": &v1})
	require.NoError(t, err)
	require.Equal(t, "agent-1", sess.Metadata["agent_id"])

	sess, err = repo.MergeMetadataPatch(ctx, "alpha", map[string]*string{"agent_id": nil})
	require.NoError(t, err)
	_, exists := sess.Metadata["agent_id"]
	require.False(t, exists)
}

func TestDelete_RequiresTerminalUnlessForced(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	_, err := repo.Create(ctx, "alpha", "/ws/alpha")
	require.NoError(t, err)

	err = repo.Delete(ctx, "alpha", false)
	require.Error(t, err)
	var inUse *models.SessionInUseError
	require.ErrorAs(t, err, &inUse)

	require.NoError(t, repo.Delete(ctx, "alpha", true))
	_, err = repo.Get(ctx, "alpha")
	require.Error(t, err)
	var notFound *models.SessionNotFoundError
	require.ErrorAs(t, err, &notFound)
}
