package lockmanager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lprior-repo/zjj/internal/clock"
	"github.com/lprior-repo/zjj/internal/models"
	"github.com/lprior-repo/zjj/internal/sessionrepo"
	"github.com/lprior-repo/zjj/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *clock.FakeClock) {
	t.Helper()
	db, err := store.InitDBWithPath(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	fc := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	repo := sessionrepo.New(db, fc)
	_, err = repo.Create(context.Background(), "s1", "/ws/s1")
	require.NoError(t, err)

	return New(db, fc), fc
}

func TestAcquire_SucceedsWhenFree(t *testing.T) {
	mgr, _ := newTestManager(t)
	lock, err := mgr.Acquire(context.Background(), "s1", "a1", 5*time.Minute)
	require.NoError(t, err)
	require.Equal(t, "a1", lock.HolderID)
}

func TestAcquire_IsIdempotentForSameHolder(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()
	_, err := mgr.Acquire(ctx, "s1", "a1", 5*time.Minute)
	require.NoError(t, err)

	lock, err := mgr.Acquire(ctx, "s1", "a1", 5*time.Minute)
	require.NoError(t, err)
	require.Equal(t, "a1", lock.HolderID)
}

func TestAcquire_FailsForCompetingHolder(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()
	_, err := mgr.Acquire(ctx, "s1", "a1", 5*time.Minute)
	require.NoError(t, err)

	_, err = mgr.Acquire(ctx, "s1", "a2", 5*time.Minute)
	require.Error(t, err)
	var held *models.LockHeldByOtherError
	require.ErrorAs(t, err, &held)
}

func TestAcquire_SucceedsAfterExpiry(t *testing.T) {
	mgr, fc := newTestManager(t)
	ctx := context.Background()
	_, err := mgr.Acquire(ctx, "s1", "a1", 5*time.Minute)
	require.NoError(t, err)

	fc.Advance(6 * time.Minute)
	lock, err := mgr.Acquire(ctx, "s1", "a2", 5*time.Minute)
	require.NoError(t, err)
	require.Equal(t, "a2", lock.HolderID)
}

func TestExtend_OnlyHolderMayExtend(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()
	_, err := mgr.Acquire(ctx, "s1", "a1", 5*time.Minute)
	require.NoError(t, err)

	_, err = mgr.Extend(ctx, "s1", "a2", time.Minute)
	require.Error(t, err)

	lock, err := mgr.Extend(ctx, "s1", "a1", time.Minute)
	require.NoError(t, err)
	require.True(t, lock.ExpiresAt.After(lock.AcquiredAt.Add(5*time.Minute)))
}

func TestRelease_IsIdempotentNoOp(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, mgr.Release(ctx, "s1", "a1"))

	_, err := mgr.Acquire(ctx, "s1", "a1", 5*time.Minute)
	require.NoError(t, err)
	require.NoError(t, mgr.Release(ctx, "s1", "a1"))
	require.NoError(t, mgr.Release(ctx, "s1", "a1"))

	lock, err := mgr.Get(ctx, "s1")
	require.NoError(t, err)
	require.Nil(t, lock)
}

func TestReclaimExpired_RemovesLapsedLocks(t *testing.T) {
	mgr, fc := newTestManager(t)
	ctx := context.Background()
	_, err := mgr.Acquire(ctx, "s1", "a1", time.Minute)
	require.NoError(t, err)

	fc.Advance(2 * time.Minute)
	n, err := mgr.ReclaimExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestReclaimForAgent_RemovesAllLocksHeld(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()
	_, err := mgr.Acquire(ctx, "s1", "a1", 5*time.Minute)
	require.NoError(t, err)

	n, err := mgr.ReclaimForAgent(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
