// Package coordinator implements the Coordinator facade (spec §4.6): the
// only component that mutates across SessionRepo, AgentRegistry, LockManager
// and MergeQueue within a single logical operation, and the driver of the
// merge worker loop over the Workspace Bridge. Grounded on
// dotcommander-vybe's internal/orchestrator (task_start/task_claim_next
// compose-the-lower-layers pattern: load, validate cross-component
// invariants, call into one store-layer component at a time, log at the
// boundary) generalized from a single task-claim facade to the three-lock
// session/queue/lock composition spec §4.6 requires.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/lprior-repo/zjj/internal/agentregistry"
	"github.com/lprior-repo/zjj/internal/clock"
	"github.com/lprior-repo/zjj/internal/lockmanager"
	"github.com/lprior-repo/zjj/internal/mergequeue"
	"github.com/lprior-repo/zjj/internal/models"
	"github.com/lprior-repo/zjj/internal/sessionrepo"
	"github.com/lprior-repo/zjj/internal/workspacebridge"
)

// maxFreshnessRetries bounds worker_step's internal rebase/freshness loop
// (spec §4.6 "if not fresh, return_to_rebasing(new_main) and loop"); without
// a bound a trunk that never stops moving would spin the single worker
// forever.
const maxFreshnessRetries = 10

// Coordinator composes the lower-layer components into the high-level
// operations used by commands (spec §4.6).
type Coordinator struct {
	Sessions *sessionrepo.Repo
	Agents   *agentregistry.Registry
	Locks    *lockmanager.Manager
	Queue    *mergequeue.Queue
	Bridge   workspacebridge.Bridge
	Clock    clock.Clock

	Trunk             string
	SessionLockTTL    time.Duration
	ProcessingLockTTL time.Duration
}

// New constructs a Coordinator over its component dependencies.
func New(sessions *sessionrepo.Repo, agents *agentregistry.Registry, locks *lockmanager.Manager, queue *mergequeue.Queue, bridge workspacebridge.Bridge, clk clock.Clock, trunk string, sessionLockTTL, processingLockTTL time.Duration) *Coordinator {
	return &Coordinator{
		Sessions: sessions, Agents: agents, Locks: locks, Queue: queue, Bridge: bridge, Clock: clk,
		Trunk: trunk, SessionLockTTL: sessionLockTTL, ProcessingLockTTL: processingLockTTL,
	}
}

// StartWork asserts session is Ready|Active, acquires its lock for agent,
// records {agent_id, bead_id?} in metadata, and transitions to Active
// (spec §4.6 "start_work"). Re-invoking for the same agent once already
// Active is idempotent.
func (c *Coordinator) StartWork(ctx context.Context, session, agent, beadID string) (*models.Session, error) {
	sess, err := c.Sessions.Get(ctx, session)
	if err != nil {
		return nil, err
	}
	if sess.Status != models.SessionStatusReady && sess.Status != models.SessionStatusActive {
		return nil, models.NewInvalidStateTransitionError("session", string(sess.Status), string(models.SessionStatusActive))
	}

	if _, err := c.Locks.Acquire(ctx, session, agent, c.SessionLockTTL); err != nil {
		return nil, err
	}

	patch := map[string]*string{"agent_id": &agent}
	if beadID != "" {
		patch["bead_id"] = &beadID
	}
	if _, err := c.Sessions.MergeMetadataPatch(ctx, session, patch); err != nil {
		return nil, err
	}

	if sess.Status == models.SessionStatusActive {
		return c.Sessions.Get(ctx, session)
	}
	return c.Sessions.UpdateStatus(ctx, session, models.SessionStatusActive)
}

// Submit requires agent hold session's lock and session be Active, computes
// the session's current head sha and trunk head sha via the Workspace
// Bridge, upserts a queue entry keyed on a dedupe key derived from
// (session, head_sha), and transitions the session to Queued
// (spec §4.6 "submit"). Repeating with the same head sha is idempotent.
func (c *Coordinator) Submit(ctx context.Context, session, agent string) (*models.QueueEntry, error) {
	sess, err := c.Sessions.Get(ctx, session)
	if err != nil {
		return nil, err
	}
	if err := c.requireLockHeldBy(ctx, session, agent); err != nil {
		return nil, err
	}
	if sess.Status != models.SessionStatusActive && sess.Status != models.SessionStatusQueued {
		return nil, models.NewInvalidStateTransitionError("session", string(sess.Status), string(models.SessionStatusQueued))
	}

	headSHA, err := c.Bridge.WorkspaceHead(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace head for %q: %w", session, err)
	}

	dedupeKey := fmt.Sprintf("%s:%s", session, headSHA)
	entry, err := c.Queue.UpsertForSubmit(ctx, session, sess.BeadID, 0, agent, dedupeKey, headSHA)
	if err != nil {
		return nil, err
	}

	if sess.Status != models.SessionStatusQueued {
		if _, err := c.Sessions.UpdateStatus(ctx, session, models.SessionStatusQueued); err != nil {
			return nil, err
		}
	}
	return entry, nil
}

// requireLockHeldBy returns LockNotHeldError/LockHeldByOtherError/
// LockExpiredError unless session's lock is live and held by agent.
func (c *Coordinator) requireLockHeldBy(ctx context.Context, session, agent string) error {
	lock, err := c.Locks.Get(ctx, session)
	if err != nil {
		return err
	}
	if lock == nil {
		return models.NewLockNotHeldError(session)
	}
	if lock.IsExpired(c.Clock.Now()) {
		return models.NewLockExpiredError(session)
	}
	if lock.HolderID != agent {
		return models.NewLockHeldByOtherError(session, lock.HolderID, lock.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

// WorkerStep is the merge worker loop body (spec §4.6 "worker_step"): claim
// the highest-priority pending entry, rebase it via the Workspace Bridge,
// loop on return_to_rebasing while freshness keeps failing, then merge.
// Releases the processing lock at the end of the step regardless of
// outcome. Returns (nil, nil) if nothing was claimed (queue empty or the
// processing lease is held by a different live agent).
func (c *Coordinator) WorkerStep(ctx context.Context, agent string) (*models.QueueEntry, error) {
	entry, claimErr := c.Queue.Claim(ctx, agent, c.ProcessingLockTTL)
	defer func() { _ = c.Queue.ReleaseProcessingLock(ctx, agent) }()
	if claimErr != nil {
		return nil, claimErr
	}
	if entry == nil {
		return nil, nil
	}

	if err := c.driveToMergeReady(ctx, entry.Workspace); err != nil {
		failErr := c.Queue.FailActive(ctx, entry.Workspace, err.Error(), models.IsRetryable(err))
		if failErr != nil {
			return nil, failErr
		}
		return nil, err
	}

	if err := c.Queue.BeginMerge(ctx, entry.Workspace); err != nil {
		return nil, err
	}
	if sess, err := c.Sessions.Get(ctx, entry.Workspace); err != nil {
		return nil, err
	} else if sess.Status != models.SessionStatusMerging {
		if _, err := c.Sessions.UpdateStatus(ctx, entry.Workspace, models.SessionStatusMerging); err != nil {
			return nil, err
		}
	}

	mergeResult, err := c.Bridge.Merge(ctx, entry.Workspace, c.Trunk)
	if err != nil {
		if failErr := c.Queue.FailMerge(ctx, entry.Workspace, err.Error(), models.IsRetryable(err)); failErr != nil {
			return nil, failErr
		}
		if retryable := models.IsRetryable(err); !retryable {
			if _, sessErr := c.Sessions.UpdateStatus(ctx, entry.Workspace, models.SessionStatusFailed); sessErr != nil {
				return nil, sessErr
			}
		}
		return nil, err
	}

	if err := c.Queue.CompleteMerge(ctx, entry.Workspace, mergeResult.MergeSHA); err != nil {
		return nil, err
	}
	if _, err := c.Sessions.UpdateStatus(ctx, entry.Workspace, models.SessionStatusMerged); err != nil {
		return nil, err
	}

	return c.Queue.Get(ctx, entry.ID)
}

// driveToMergeReady rebases workspace against trunk, advances it through
// Testing to MergeReady, and loops via return_to_rebasing whenever the
// trunk moved again before freshness could be confirmed (spec §4.6: "if not
// fresh, return_to_rebasing(new_main) and loop").
func (c *Coordinator) driveToMergeReady(ctx context.Context, workspace string) error {
	for attempt := 0; attempt < maxFreshnessRetries; attempt++ {
		mainBeforeRebase, err := c.Bridge.TrunkHead(ctx, c.Trunk)
		if err != nil {
			return fmt.Errorf("resolve trunk head: %w", err)
		}

		rebaseResult, err := c.Bridge.Rebase(ctx, workspace, mainBeforeRebase)
		if err != nil {
			return err
		}

		if err := c.Queue.UpdateRebaseMetadata(ctx, workspace, rebaseResult.NewHeadSHA, mainBeforeRebase); err != nil {
			return err
		}
		if err := c.Queue.UpdateRebaseMetadata(ctx, workspace, rebaseResult.NewHeadSHA, mainBeforeRebase); err != nil {
			return err
		}

		mainAfterRebase, err := c.Bridge.TrunkHead(ctx, c.Trunk)
		if err != nil {
			return fmt.Errorf("resolve trunk head: %w", err)
		}

		fresh, err := c.Queue.IsFresh(ctx, workspace, mainAfterRebase)
		if err != nil {
			return err
		}
		if fresh {
			return nil
		}
		if err := c.Queue.ReturnToRebasing(ctx, workspace, mainAfterRebase); err != nil {
			return err
		}
	}
	return fmt.Errorf("workspace %q did not reach a fresh rebase after %d attempts", workspace, maxFreshnessRetries)
}

// Abort requires agent hold session's lock, cancels any active queue entry
// for the session, and transitions the session to Abandoned
// (spec §4.6 "abort").
func (c *Coordinator) Abort(ctx context.Context, session, agent string) error {
	if err := c.requireLockHeldBy(ctx, session, agent); err != nil {
		return err
	}

	active, err := c.Queue.GetActiveByWorkspace(ctx, session)
	if err != nil {
		return err
	}
	if active != nil {
		if _, err := c.Queue.Cancel(ctx, active.ID); err != nil {
			return err
		}
	}

	sess, err := c.Sessions.Get(ctx, session)
	if err != nil {
		return err
	}
	if sess.Status.IsTerminal() {
		return nil
	}
	if sess.Status == models.SessionStatusActive || sess.Status == models.SessionStatusQueued {
		if _, err := c.Sessions.UpdateStatus(ctx, session, models.SessionStatusAbandoned); err != nil {
			return err
		}
	}
	return c.Locks.Release(ctx, session, agent)
}

// ReclaimSweep runs the reclaim operation of every lower-layer component in
// one pass (SPEC_FULL.md §13 supplement to spec §4.2/§4.4/§4.5's
// independently-specified reclaim_stale/reclaim_expired operations):
// expired session locks, then stale agents (which also release any locks
// they hold), then stale/stuck queue entries. Agent reclaim does not touch
// the processing lease: a queue entry is freed only once that lease has
// expired and the entry has sat past queueStaleThreshold.
func (c *Coordinator) ReclaimSweep(ctx context.Context, agentStaleThreshold, queueStaleThreshold time.Duration) (lockssReclaimed, agentsReclaimed, queueEntriesReclaimed int, err error) {
	lockssReclaimed, err = c.Locks.ReclaimExpired(ctx)
	if err != nil {
		return 0, 0, 0, err
	}
	agentsReclaimed, err = c.Agents.ReclaimStale(ctx, agentStaleThreshold)
	if err != nil {
		return lockssReclaimed, 0, 0, err
	}
	queueEntriesReclaimed, err = c.Queue.ReclaimStale(ctx, queueStaleThreshold)
	if err != nil {
		return lockssReclaimed, agentsReclaimed, 0, err
	}
	return lockssReclaimed, agentsReclaimed, queueEntriesReclaimed, nil
}
