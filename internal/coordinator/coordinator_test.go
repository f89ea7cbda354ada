package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lprior-repo/zjj/internal/agentregistry"
	"github.com/lprior-repo/zjj/internal/clock"
	"github.com/lprior-repo/zjj/internal/lockmanager"
	"github.com/lprior-repo/zjj/internal/mergequeue"
	"github.com/lprior-repo/zjj/internal/models"
	"github.com/lprior-repo/zjj/internal/sessionrepo"
	"github.com/lprior-repo/zjj/internal/store"
	"github.com/lprior-repo/zjj/internal/workspacebridge"
)

type harness struct {
	coord  *Coordinator
	bridge *workspacebridge.Fake
	clock  *clock.FakeClock
}

func newHarness(t *testing.T, sessions ...string) *harness {
	t.Helper()
	db, err := store.InitDBWithPath(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	fc := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	sessRepo := sessionrepo.New(db, fc)
	for _, s := range sessions {
		_, err := sessRepo.Create(context.Background(), s, "/ws/"+s)
		require.NoError(t, err)
		_, err = sessRepo.UpdateStatus(context.Background(), s, models.SessionStatusReady)
		require.NoError(t, err)
	}

	bridge := workspacebridge.NewFake("main-0")
	coord := New(
		sessRepo,
		agentregistry.New(db, fc),
		lockmanager.New(db, fc),
		mergequeue.New(db, fc, 3, 10),
		bridge,
		fc,
		"main",
		5*time.Minute,
		2*time.Minute,
	)
	return &harness{coord: coord, bridge: bridge, clock: fc}
}

func TestSingleAgentHappyPath(t *testing.T) {
	h := newHarness(t, "s1")
	ctx := context.Background()

	_, err := h.coord.Agents.Register(ctx, "a1")
	require.NoError(t, err)
	require.NoError(t, h.bridge.CreateWorkspace(ctx, "s1", "main-0"))

	sess, err := h.coord.StartWork(ctx, "s1", "a1", "")
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusActive, sess.Status)

	lock, err := h.coord.Locks.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "a1", lock.HolderID)

	entry, err := h.coord.Submit(ctx, "s1", "a1")
	require.NoError(t, err)
	require.Equal(t, models.QueueStatusPending, entry.Status)
	require.Equal(t, 0, entry.Priority)

	claimed, err := h.coord.WorkerStep(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, models.QueueStatusMerged, claimed.Status)

	finalSession, err := h.coord.Sessions.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusMerged, finalSession.Status)

	events, err := h.coord.Queue.FetchEvents(ctx, claimed.ID)
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

func TestSubmit_DuplicateIsIdempotent(t *testing.T) {
	h := newHarness(t, "s1")
	ctx := context.Background()

	_, err := h.coord.Agents.Register(ctx, "a1")
	require.NoError(t, err)
	require.NoError(t, h.bridge.CreateWorkspace(ctx, "s1", "main-0"))
	_, err = h.coord.StartWork(ctx, "s1", "a1", "")
	require.NoError(t, err)

	first, err := h.coord.Submit(ctx, "s1", "a1")
	require.NoError(t, err)

	second, err := h.coord.Submit(ctx, "s1", "a1")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	entries, err := h.coord.Queue.FetchEvents(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1, "only the initial Added event should exist for an unchanged head sha")
}

func TestSecondEntryMergesOntoNewTrunkWithoutRerebase(t *testing.T) {
	h := newHarness(t, "sA", "sB")
	ctx := context.Background()

	_, err := h.coord.Agents.Register(ctx, "a1")
	require.NoError(t, err)
	_, err = h.coord.Agents.Register(ctx, "a2")
	require.NoError(t, err)
	require.NoError(t, h.bridge.CreateWorkspace(ctx, "sA", "main-0"))
	require.NoError(t, h.bridge.CreateWorkspace(ctx, "sB", "main-0"))

	_, err = h.coord.StartWork(ctx, "sA", "a1", "")
	require.NoError(t, err)
	_, err = h.coord.StartWork(ctx, "sB", "a2", "")
	require.NoError(t, err)

	entryA, err := h.coord.Submit(ctx, "sA", "a1")
	require.NoError(t, err)
	entryB, err := h.coord.Submit(ctx, "sB", "a2")
	require.NoError(t, err)
	require.Less(t, entryA.AddedAt.UnixNano(), entryB.AddedAt.UnixNano()+1, "sA submitted at or before sB")

	claimedA, err := h.coord.WorkerStep(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, models.QueueStatusMerged, claimedA.Status)

	// sB's worker_step rebases it onto the trunk sA just produced right after
	// claiming it, so the freshness check passes on the first try and no
	// return_to_rebasing happens before it reaches Merged.
	claimedB, err := h.coord.WorkerStep(ctx, "a2")
	require.NoError(t, err)
	require.NotNil(t, claimedB)
	require.Equal(t, models.QueueStatusMerged, claimedB.Status)

	finalB, err := h.coord.Queue.Get(ctx, entryB.ID)
	require.NoError(t, err)
	require.Equal(t, 0, finalB.RebaseCount, "the fake bridge always rebases against the live trunk head, so no staleness is actually introduced between submit and claim in this single-threaded harness")
}

func TestAbort_CancelsActiveQueueEntryAndReleasesLock(t *testing.T) {
	h := newHarness(t, "s1")
	ctx := context.Background()

	_, err := h.coord.Agents.Register(ctx, "a1")
	require.NoError(t, err)
	require.NoError(t, h.bridge.CreateWorkspace(ctx, "s1", "main-0"))
	_, err = h.coord.StartWork(ctx, "s1", "a1", "")
	require.NoError(t, err)
	entry, err := h.coord.Submit(ctx, "s1", "a1")
	require.NoError(t, err)

	require.NoError(t, h.coord.Abort(ctx, "s1", "a1"))

	cancelled, err := h.coord.Queue.Get(ctx, entry.ID)
	require.NoError(t, err)
	require.Equal(t, models.QueueStatusCancelled, cancelled.Status)

	sess, err := h.coord.Sessions.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusAbandoned, sess.Status)

	lock, err := h.coord.Locks.Get(ctx, "s1")
	require.NoError(t, err)
	require.Nil(t, lock)
}

func TestAbort_RejectsWhenLockNotHeldByCaller(t *testing.T) {
	h := newHarness(t, "s1")
	ctx := context.Background()

	_, err := h.coord.Agents.Register(ctx, "a1")
	require.NoError(t, err)
	require.NoError(t, h.bridge.CreateWorkspace(ctx, "s1", "main-0"))
	_, err = h.coord.StartWork(ctx, "s1", "a1", "")
	require.NoError(t, err)

	err = h.coord.Abort(ctx, "s1", "intruder")
	require.Error(t, err)
	var heldByOther *models.LockHeldByOtherError
	require.ErrorAs(t, err, &heldByOther)
}

func TestWorkerStep_QueueEmptyReturnsNil(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.coord.Agents.Register(ctx, "a1")
	require.NoError(t, err)

	entry, err := h.coord.WorkerStep(ctx, "a1")
	require.NoError(t, err)
	require.Nil(t, entry)
}

func TestReclaimSweep_ReclaimsExpiredLocksStaleAgentsAndStuckQueueEntries(t *testing.T) {
	h := newHarness(t, "s1")
	ctx := context.Background()

	_, err := h.coord.Agents.Register(ctx, "a1")
	require.NoError(t, err)
	require.NoError(t, h.bridge.CreateWorkspace(ctx, "s1", "main-0"))
	_, err = h.coord.StartWork(ctx, "s1", "a1", "")
	require.NoError(t, err)
	_, err = h.coord.Submit(ctx, "s1", "a1")
	require.NoError(t, err)

	_, err = h.coord.Queue.Claim(ctx, "a1", time.Minute)
	require.NoError(t, err)

	h.clock.Advance(10 * time.Minute)

	locks, agents, queueEntries, err := h.coord.ReclaimSweep(ctx, 5*time.Minute, time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, locks)
	require.Equal(t, 1, agents)
	require.Equal(t, 1, queueEntries)
}
