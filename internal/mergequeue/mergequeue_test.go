package mergequeue

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

func newTestQueue(t *testing.T, workspaces ...string) (*Queue, *clock.FakeClock) {
	t.Helper()
	db, err := store.InitDBWithPath(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	fc := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	repo := sessionrepo.New(db, fc)
	for _, ws := range workspaces {
		_, err := repo.Create(context.Background(), ws, "/ws/"+ws)
		require.NoError(t, err)
	}
	return New(db, fc, 3, 10), fc
}

func TestAdd_IsIdempotentOnDedupeKey(t *testing.T) {
	q, _ := newTestQueue(t, "s1")
	ctx := context.Background()

	resp1, err := q.Add(ctx, "s1", "", 0, "a1", "k1", "")
	require.NoError(t, err)
	require.True(t, resp1.Created)

	resp2, err := q.Add(ctx, "s1", "", 0, "a1", "k1", "")
	require.NoError(t, err)
	require.False(t, resp2.Created)
	require.Equal(t, resp1.Entry.ID, resp2.Entry.ID)
}

func TestClaim_TransitionsPendingToClaimed(t *testing.T) {
	q, _ := newTestQueue(t, "s1")
	ctx := context.Background()

	_, err := q.Add(ctx, "s1", "", 0, "a1", "", "")
	require.NoError(t, err)

	entry, err := q.Claim(ctx, "a1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, models.QueueStatusClaimed, entry.Status)

	events, err := q.FetchEvents(ctx, entry.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, models.EventAdded, events[0].EventType)
	require.Equal(t, models.EventClaimed, events[1].EventType)
}

func TestClaim_ReturnsNilWhenProcessingLockHeldByOther(t *testing.T) {
	q, _ := newTestQueue(t, "s1", "s2")
	ctx := context.Background()

	_, err := q.Add(ctx, "s1", "", 0, "a1", "", "")
	require.NoError(t, err)
	_, err = q.Add(ctx, "s2", "", 0, "a2", "", "")
	require.NoError(t, err)

	entry, err := q.Claim(ctx, "a1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, entry)

	second, err := q.Claim(ctx, "a2", time.Minute)
	require.NoError(t, err)
	require.Nil(t, second)
}

func TestFullHappyPath_ClaimRebaseMergeFreshness(t *testing.T) {
	q, _ := newTestQueue(t, "s1")
	ctx := context.Background()

	_, err := q.Add(ctx, "s1", "", 0, "a1", "k1", "")
	require.NoError(t, err)

	entry, err := q.Claim(ctx, "a1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, q.UpdateRebaseMetadata(ctx, "s1", "sha1", "main-sha1"))
	require.NoError(t, q.UpdateRebaseMetadata(ctx, "s1", "sha1", "main-sha1"))

	fresh, err := q.IsFresh(ctx, "s1", "main-sha1")
	require.NoError(t, err)
	require.True(t, fresh)

	require.NoError(t, q.BeginMerge(ctx, "s1"))
	require.NoError(t, q.CompleteMerge(ctx, "s1", "merge-sha1"))

	final, err := q.Get(ctx, entry.ID)
	require.NoError(t, err)
	require.Equal(t, models.QueueStatusMerged, final.Status)

	events, err := q.FetchEvents(ctx, entry.ID)
	require.NoError(t, err)
	var types []models.QueueEventType
	for _, e := range events {
		types = append(types, e.EventType)
	}
	require.Equal(t, []models.QueueEventType{
		models.EventAdded, models.EventClaimed, models.EventRebaseStarted,
		models.EventRebaseCompleted, models.EventFreshnessChecked,
		models.EventMergeStarted, models.EventMergeCompleted,
	}, types)
}

func TestReturnToRebasing_OnFreshnessFailure(t *testing.T) {
	q, _ := newTestQueue(t, "s1")
	ctx := context.Background()

	_, err := q.Add(ctx, "s1", "", 0, "a1", "", "")
	require.NoError(t, err)
	_, err = q.Claim(ctx, "a1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, q.UpdateRebaseMetadata(ctx, "s1", "sha1", "main-sha1"))
	require.NoError(t, q.UpdateRebaseMetadata(ctx, "s1", "sha1", "main-sha1"))

	fresh, err := q.IsFresh(ctx, "s1", "main-sha2")
	require.NoError(t, err)
	require.False(t, fresh)

	require.NoError(t, q.ReturnToRebasing(ctx, "s1", "main-sha2"))

	entry, err := q.GetActiveByWorkspace(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, models.QueueStatusRebasing, entry.Status)
	require.Equal(t, 1, entry.RebaseCount)
}

func TestFailMerge_RetryableVsFatal(t *testing.T) {
	q, _ := newTestQueue(t, "s1")
	ctx := context.Background()

	_, err := q.Add(ctx, "s1", "", 0, "a1", "", "")
	require.NoError(t, err)
	_, err = q.Claim(ctx, "a1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, q.UpdateRebaseMetadata(ctx, "s1", "sha1", "m1"))
	require.NoError(t, q.UpdateRebaseMetadata(ctx, "s1", "sha1", "m1"))
	require.NoError(t, q.BeginMerge(ctx, "s1"))

	require.NoError(t, q.FailMerge(ctx, "s1", "conflict", true))
	entry, err := q.GetActiveByWorkspace(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, models.QueueStatusFailedRetryable, entry.Status)

	retried, err := q.Retry(ctx, entry.ID)
	require.NoError(t, err)
	require.Equal(t, models.QueueStatusPending, retried.Status)
	require.Equal(t, 1, retried.AttemptCount)

	_, err = q.Retry(ctx, entry.ID)
	require.Error(t, err)
	var notRetryable *models.QueueNotRetryableError
	require.ErrorAs(t, err, &notRetryable)

	_, err = q.Claim(ctx, "a1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, q.UpdateRebaseMetadata(ctx, "s1", "sha2", "m2"))
	require.NoError(t, q.UpdateRebaseMetadata(ctx, "s1", "sha2", "m2"))
	require.NoError(t, q.BeginMerge(ctx, "s1"))

	require.NoError(t, q.FailMerge(ctx, "s1", "no common ancestor", false))
	fatal, err := q.Get(ctx, entry.ID)
	require.NoError(t, err)
	require.Equal(t, models.QueueStatusFailedFatal, fatal.Status)
}

func TestFailActive_FailsEntryStillInRebasingStage(t *testing.T) {
	q, _ := newTestQueue(t, "s1")
	ctx := context.Background()

	_, err := q.Add(ctx, "s1", "", 0, "a1", "", "")
	require.NoError(t, err)
	_, err = q.Claim(ctx, "a1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, q.FailActive(ctx, "s1", "rebase conflict", true))
	entry, err := q.GetActiveByWorkspace(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, models.QueueStatusFailedRetryable, entry.Status)

	events, err := q.FetchEvents(ctx, entry.ID)
	require.NoError(t, err)
	require.Equal(t, models.EventMergeFailed, events[len(events)-1].EventType)
}

func TestFailActive_NoActiveEntryIsNotFound(t *testing.T) {
	q, _ := newTestQueue(t, "s1")
	ctx := context.Background()

	resp, err := q.Add(ctx, "s1", "", 0, "a1", "", "")
	require.NoError(t, err)
	_, err = q.Cancel(ctx, resp.Entry.ID)
	require.NoError(t, err)

	err = q.FailActive(ctx, "s1", "too late", true)
	require.Error(t, err)
	var notFound *models.QueueEntryNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestCancel_RejectsTerminalEntry(t *testing.T) {
	q, _ := newTestQueue(t, "s1")
	ctx := context.Background()

	resp, err := q.Add(ctx, "s1", "", 0, "a1", "", "")
	require.NoError(t, err)
	cancelled, err := q.Cancel(ctx, resp.Entry.ID)
	require.NoError(t, err)
	require.Equal(t, models.QueueStatusCancelled, cancelled.Status)

	_, err = q.Cancel(ctx, resp.Entry.ID)
	require.Error(t, err)
	var terminal *models.QueueAlreadyTerminalError
	require.ErrorAs(t, err, &terminal)
}

func TestReclaimStale_ReturnsClaimedEntryToPending(t *testing.T) {
	q, fc := newTestQueue(t, "s1")
	ctx := context.Background()

	_, err := q.Add(ctx, "s1", "", 0, "a1", "", "")
	require.NoError(t, err)
	_, err = q.Claim(ctx, "a1", time.Minute)
	require.NoError(t, err)

	fc.Advance(2 * time.Minute)
	n, err := q.ReclaimStale(ctx, time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	entry, err := q.GetActiveByWorkspace(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, models.QueueStatusPending, entry.Status)

	claimed, err := q.Claim(ctx, "a2", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)
}

func TestDependentCannotMergeBeforeParent(t *testing.T) {
	q, _ := newTestQueue(t, "parent", "child")
	ctx := context.Background()

	_, err := q.Add(ctx, "parent", "", 5, "a1", "", "")
	require.NoError(t, err)
	_, err = q.Add(ctx, "child", "", 0, "a1", "", "parent")
	require.NoError(t, err)

	next, err := q.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	require.Equal(t, "parent", next.Workspace)
}

func TestAdd_RejectsCyclicStackRelation(t *testing.T) {
	q, _ := newTestQueue(t, "a", "b")
	ctx := context.Background()

	_, err := q.Add(ctx, "a", "", 0, "a1", "", "b")
	require.NoError(t, err)
	_, err = q.Add(ctx, "b", "", 0, "a1", "", "a")
	require.Error(t, err)
}

func TestAdd_RejectsStackDeeperThanMaxDepth(t *testing.T) {
	workspaces := []string{"w0", "w1", "w2"}
	q, _ := newTestQueue(t, workspaces...)
	q.maxStackDepth = 2
	ctx := context.Background()

	resp, err := q.Add(ctx, "w0", "", 0, "a1", "", "")
	require.NoError(t, err)
	require.Equal(t, 0, resp.Entry.StackDepth)

	resp, err = q.Add(ctx, "w1", "", 0, "a1", "", "w0")
	require.NoError(t, err)
	require.Equal(t, 1, resp.Entry.StackDepth)

	resp, err = q.Add(ctx, "w2", "", 0, "a1", "", "w1")
	require.NoError(t, err)
	require.Equal(t, 2, resp.Entry.StackDepth)

	_, err = q.Add(ctx, "w3", "", 0, "a1", "", "w2")
	require.Error(t, err)
}
