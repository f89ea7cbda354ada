// Package mergequeue implements the MergeQueue component (spec §4.4): the
// ordered queue of workspaces awaiting merge, the single-writer processing
// lease, the entry status state machine, the freshness guard, and the
// append-only event audit trail. Grounded on steveyegge-gastown's
// internal/mrqueue/mrqueue.go (MR struct shape: branch/priority/convoy/
// retry_count/claimed_by/blocked_by map directly onto QueueEntry's
// priority/dedupe/claim/stack fields) and steveyegge-gastown's
// internal/mrqueue/events.go (append-only event log shape), ported from
// one-JSON-file-per-MR storage to SQL rows + transactions per
// dotcommander-vybe's internal/store/task_claim_next.go claim idiom.
package mergequeue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lprior-repo/zjj/internal/clock"
	"github.com/lprior-repo/zjj/internal/models"
	"github.com/lprior-repo/zjj/internal/store"
)

const maxStackDepthWalk = 64

// Queue is the MergeQueue component.
type Queue struct {
	db                 *sql.DB
	clock              clock.Clock
	defaultMaxAttempts int
	maxStackDepth      int
}

// New constructs a Queue over db using clk as its time source.
// defaultMaxAttempts seeds QueueEntry.MaxAttempts for newly added entries.
// maxStackDepth bounds how deep a parent_workspace chain may grow before
// Add rejects it (SPEC_FULL.md §13 "Stack depth limit"); UpsertForSubmit
// always inserts unstacked entries and does not check it.
func New(db *sql.DB, clk clock.Clock, defaultMaxAttempts, maxStackDepth int) *Queue {
	if defaultMaxAttempts <= 0 {
		defaultMaxAttempts = 3
	}
	if maxStackDepth <= 0 {
		maxStackDepth = 10
	}
	return &Queue{db: db, clock: clk, defaultMaxAttempts: defaultMaxAttempts, maxStackDepth: maxStackDepth}
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const entryColumns = `
	id, workspace, bead_id, priority, status, previous_status, dedupe_key, agent_id,
	attempt_count, max_attempts, rebase_count, added_at, started_at, completed_at,
	last_rebase_at, state_changed_at, head_sha, tested_against_sha, error_message,
	parent_workspace, stack_depth, dependents, stack_root, stack_merge_state, version
`

func scanEntry(row interface{ Scan(...any) error }) (*models.QueueEntry, error) {
	var e models.QueueEntry
	var beadID, previousStatus, dedupeKey, agentID, headSHA, testedSHA, errMsg, parentWS, stackRoot sql.NullString
	var startedAt, completedAt, lastRebaseAt sql.NullTime
	var status, dependentsJSON, stackMergeState string

	err := row.Scan(
		&e.ID, &e.Workspace, &beadID, &e.Priority, &status, &previousStatus, &dedupeKey, &agentID,
		&e.AttemptCount, &e.MaxAttempts, &e.RebaseCount, &e.AddedAt, &startedAt, &completedAt,
		&lastRebaseAt, &e.StateChangedAt, &headSHA, &testedSHA, &errMsg,
		&parentWS, &e.StackDepth, &dependentsJSON, &stackRoot, &stackMergeState, &e.Version,
	)
	if err != nil {
		return nil, err
	}

	e.Status = models.QueueStatus(status)
	e.StackMergeState = models.StackMergeState(stackMergeState)
	if beadID.Valid {
		e.BeadID = beadID.String
	}
	if previousStatus.Valid {
		e.PreviousStatus = models.QueueStatus(previousStatus.String)
	}
	if dedupeKey.Valid {
		e.DedupeKey = dedupeKey.String
	}
	if agentID.Valid {
		e.AgentID = agentID.String
	}
	if headSHA.Valid {
		e.HeadSHA = headSHA.String
	}
	if testedSHA.Valid {
		e.TestedAgainstSHA = testedSHA.String
	}
	if errMsg.Valid {
		e.ErrorMessage = errMsg.String
	}
	if parentWS.Valid {
		e.ParentWorkspace = parentWS.String
	}
	if stackRoot.Valid {
		e.StackRoot = stackRoot.String
	}
	if startedAt.Valid {
		t := startedAt.Time
		e.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		e.CompletedAt = &t
	}
	if lastRebaseAt.Valid {
		t := lastRebaseAt.Time
		e.LastRebaseAt = &t
	}

	e.Dependents = []string{}
	if dependentsJSON != "" {
		if jsonErr := json.Unmarshal([]byte(dependentsJSON), &e.Dependents); jsonErr != nil {
			return nil, fmt.Errorf("decode dependents: %w", jsonErr)
		}
	}
	return &e, nil
}

func getByIDTx(ctx context.Context, q querier, id int64) (*models.QueueEntry, error) {
	row := q.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM merge_queue WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, models.NewQueueEntryNotFoundError(fmt.Sprintf("%d", id))
	}
	if err != nil {
		return nil, fmt.Errorf("load queue entry %d: %w", id, err)
	}
	return e, nil
}

// activeStatusList is the set of statuses the workspace partial-unique index
// excludes terminals from (spec §3 "QueueEntry" uniqueness key, §6 index).
var activeStatusList = []string{
	string(models.QueueStatusPending), string(models.QueueStatusClaimed),
	string(models.QueueStatusRebasing), string(models.QueueStatusTesting),
	string(models.QueueStatusMergeReady), string(models.QueueStatusMerging),
	string(models.QueueStatusFailedRetryable),
}

func getActiveByWorkspaceTx(ctx context.Context, q querier, workspace string) (*models.QueueEntry, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM merge_queue
		WHERE workspace = ? AND status NOT IN ('Merged', 'FailedFatal', 'Cancelled')
		ORDER BY id DESC LIMIT 1
	`, workspace)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load active queue entry for %q: %w", workspace, err)
	}
	return e, nil
}

func latestByWorkspaceTx(ctx context.Context, q querier, workspace string) (*models.QueueEntry, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM merge_queue WHERE workspace = ? ORDER BY id DESC LIMIT 1
	`, workspace)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest queue entry for %q: %w", workspace, err)
	}
	return e, nil
}

// validateNoCycle walks the stack-parent chain starting at parentWorkspace
// looking for workspace, bounded to maxStackDepthWalk hops (spec §9 "Cyclic
// structures": the stack forest must be acyclic; SPEC_FULL.md §13 names this
// as a plain internal validation, not a taxonomy error).
func validateNoCycle(ctx context.Context, q querier, workspace, parentWorkspace string) error {
	cur := parentWorkspace
	for depth := 0; depth < maxStackDepthWalk; depth++ {
		if cur == "" {
			return nil
		}
		if cur == workspace {
			return fmt.Errorf("stack relation for %q would introduce a cycle via %q", workspace, parentWorkspace)
		}
		entry, err := latestByWorkspaceTx(ctx, q, cur)
		if err != nil {
			return err
		}
		if entry == nil {
			return nil
		}
		cur = entry.ParentWorkspace
	}
	return fmt.Errorf("stack relation for %q exceeds max depth %d", workspace, maxStackDepthWalk)
}

// resolveStackDepth returns the stack_depth a new entry parented under
// parentWorkspace would receive: one more than the parent's own recorded
// depth. It rejects the insert once that would exceed maxDepth
// (SPEC_FULL.md §13 "Stack depth limit", grounded on original_source's
// coordination/stack_error.rs StackError::DepthExceeded{current_depth,
// max_depth} — a configurable business limit distinct from the
// maxStackDepthWalk hard traversal bound above).
func resolveStackDepth(ctx context.Context, q querier, parentWorkspace string, maxDepth int) (int, error) {
	parent, err := latestByWorkspaceTx(ctx, q, parentWorkspace)
	if err != nil {
		return 0, err
	}
	depth := 1
	if parent != nil {
		depth = parent.StackDepth + 1
	}
	if depth > maxDepth {
		return 0, fmt.Errorf("stack depth %d for parent %q exceeds maximum allowed depth %d", depth, parentWorkspace, maxDepth)
	}
	return depth, nil
}

// Add atomically inserts a queue entry. If dedupeKey matches an existing
// non-terminal entry for the same workspace, returns that entry with
// Created=false (spec §4.4 "add").
func (q *Queue) Add(ctx context.Context, workspace, beadID string, priority int, agent, dedupeKey, parentWorkspace string) (*models.QueueAddResponse, error) {
	var resp models.QueueAddResponse
	err := store.Transact(ctx, q.db, func(tx *sql.Tx) error {
		if dedupeKey != "" {
			existing, getErr := findByDedupeTx(ctx, tx, workspace, dedupeKey)
			if getErr != nil {
				return getErr
			}
			if existing != nil {
				resp = models.QueueAddResponse{Entry: *existing, Created: false}
				return nil
			}
		}

		stackDepth := 0
		if parentWorkspace != "" {
			if cycErr := validateNoCycle(ctx, tx, workspace, parentWorkspace); cycErr != nil {
				return cycErr
			}
			depth, depthErr := resolveStackDepth(ctx, tx, parentWorkspace, q.maxStackDepth)
			if depthErr != nil {
				return depthErr
			}
			stackDepth = depth
		}

		entry, insErr := insertEntryTx(ctx, tx, q.clock.Now(), workspace, beadID, priority, agent, dedupeKey, parentWorkspace, stackDepth, q.defaultMaxAttempts)
		if insErr != nil {
			return insErr
		}
		if evErr := appendEventTx(ctx, tx, q.clock.Now(), entry.ID, models.EventAdded, map[string]string{"actor_agent_id": agent}); evErr != nil {
			return evErr
		}
		resp = models.QueueAddResponse{Entry: *entry, Created: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func findByDedupeTx(ctx context.Context, q querier, workspace, dedupeKey string) (*models.QueueEntry, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM merge_queue
		WHERE workspace = ? AND dedupe_key = ? AND status NOT IN ('Merged', 'FailedFatal', 'Cancelled')
		ORDER BY id DESC LIMIT 1
	`, workspace, dedupeKey)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find queue entry by dedupe key: %w", err)
	}
	return e, nil
}

func insertEntryTx(ctx context.Context, tx *sql.Tx, now time.Time, workspace, beadID string, priority int, agent, dedupeKey, parentWorkspace string, stackDepth, maxAttempts int) (*models.QueueEntry, error) {
	var beadArg, dedupeArg, parentArg sql.NullString
	if beadID != "" {
		beadArg = sql.NullString{String: beadID, Valid: true}
	}
	if dedupeKey != "" {
		dedupeArg = sql.NullString{String: dedupeKey, Valid: true}
	}
	if parentWorkspace != "" {
		parentArg = sql.NullString{String: parentWorkspace, Valid: true}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO merge_queue (
			workspace, bead_id, priority, status, dedupe_key, agent_id,
			attempt_count, max_attempts, rebase_count, added_at, state_changed_at,
			parent_workspace, stack_depth, dependents, stack_merge_state, version
		) VALUES (?, ?, ?, ?, ?, ?, 0, ?, 0, ?, ?, ?, ?, '[]', ?, 1)
	`, workspace, beadArg, priority, string(models.QueueStatusPending), dedupeArg, agent,
		maxAttempts, now, now, parentArg, stackDepth, string(models.StackMergeStateIndependent))
	if err != nil {
		if store.IsUniqueConstraintErr(err) {
			return nil, models.NewQueueDuplicateError(workspace)
		}
		return nil, fmt.Errorf("insert queue entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return getByIDTx(ctx, tx, id)
}

// UpsertForSubmit provides the stronger idempotency the completion command
// needs: if an active entry exists for (workspace, dedupeKey), it is updated
// in place; otherwise a fresh entry is created (spec §4.4
// "upsert_for_submit").
func (q *Queue) UpsertForSubmit(ctx context.Context, workspace, beadID string, priority int, agent, dedupeKey, headSHA string) (*models.QueueEntry, error) {
	var out *models.QueueEntry
	err := store.Transact(ctx, q.db, func(tx *sql.Tx) error {
		existing, getErr := getActiveByWorkspaceTx(ctx, tx, workspace)
		if getErr != nil {
			return getErr
		}
		now := q.clock.Now()
		if existing != nil {
			if _, execErr := tx.ExecContext(ctx, `
				UPDATE merge_queue SET priority = ?, agent_id = ?, head_sha = ?, dedupe_key = ?, state_changed_at = ?
				WHERE id = ?
			`, priority, agent, headSHA, dedupeKey, now, existing.ID); execErr != nil {
				return fmt.Errorf("update queue entry for submit: %w", execErr)
			}
			out, getErr = getByIDTx(ctx, tx, existing.ID)
			return getErr
		}

		entry, insErr := insertEntryTx(ctx, tx, now, workspace, beadID, priority, agent, dedupeKey, "", 0, q.defaultMaxAttempts)
		if insErr != nil {
			return insErr
		}
		if _, execErr := tx.ExecContext(ctx, `UPDATE merge_queue SET head_sha = ? WHERE id = ?`, headSHA, entry.ID); execErr != nil {
			return fmt.Errorf("set head_sha on new queue entry: %w", execErr)
		}
		if evErr := appendEventTx(ctx, tx, now, entry.ID, models.EventAdded, map[string]string{"actor_agent_id": agent}); evErr != nil {
			return evErr
		}
		out, getErr = getByIDTx(ctx, tx, entry.ID)
		return getErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Next is a pure read of the highest-priority Pending entry: smallest
// priority first, tie-broken by oldest added_at (spec §4.4 "next"), skipping
// any entry whose parent_workspace has not yet reached Merged (spec §4.4
// "Stack semantics").
func (q *Queue) Next(ctx context.Context) (*models.QueueEntry, error) {
	return nextTx(ctx, q.db)
}

func nextTx(ctx context.Context, qq querier) (*models.QueueEntry, error) {
	rows, err := qq.QueryContext(ctx, `
		SELECT `+entryColumns+` FROM merge_queue
		WHERE status = ?
		ORDER BY priority ASC, added_at ASC
	`, string(models.QueueStatusPending))
	if err != nil {
		return nil, fmt.Errorf("query pending queue entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		e, scanErr := scanEntry(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		if e.ParentWorkspace == "" {
			return e, nil
		}
		parentEntry, parentErr := latestByWorkspaceTx(ctx, qq, e.ParentWorkspace)
		if parentErr != nil {
			return nil, parentErr
		}
		if parentEntry == nil || parentEntry.Status == models.QueueStatusMerged {
			return e, nil
		}
		// parent still active: this dependent cannot jump ahead, keep scanning.
	}
	return nil, rows.Err()
}

// Claim atomically acquires the processing lock (if free or expired),
// selects Next(), transitions it Pending -> Claimed, stamps started_at and
// agent_id, and appends a Claimed event. Returns (nil, nil) if the
// processing lock is held by a different live agent (spec §4.4 "claim").
func (q *Queue) Claim(ctx context.Context, agent string, processingLockTTL time.Duration) (*models.QueueEntry, error) {
	var claimed *models.QueueEntry
	err := store.Transact(ctx, q.db, func(tx *sql.Tx) error {
		now := q.clock.Now()
		acquired, lockErr := acquireProcessingLockTx(ctx, tx, now, agent, processingLockTTL)
		if lockErr != nil {
			return lockErr
		}
		if !acquired {
			return nil
		}

		entry, nextErr := nextTx(ctx, tx)
		if nextErr != nil {
			return nextErr
		}
		if entry == nil {
			return nil
		}

		if _, execErr := tx.ExecContext(ctx, `
			UPDATE merge_queue
			SET status = ?, previous_status = ?, started_at = ?, agent_id = ?, state_changed_at = ?, version = version + 1
			WHERE id = ? AND status = ?
		`, string(models.QueueStatusClaimed), string(entry.Status), now, agent, now, entry.ID, string(entry.Status)); execErr != nil {
			return fmt.Errorf("claim queue entry: %w", execErr)
		}
		if evErr := appendEventTx(ctx, tx, now, entry.ID, models.EventClaimed, map[string]string{"actor_agent_id": agent}); evErr != nil {
			return evErr
		}

		result, getErr := getByIDTx(ctx, tx, entry.ID)
		if getErr != nil {
			return getErr
		}
		claimed = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// acquireProcessingLockTx acquires the single processing lease if it is free
// or expired, or already held by agent (idempotent re-claim within the same
// worker_step's retry path). Returns false (no error) if held live by
// another agent — callers surface this as the benign QUEUE_PROCESSING_BUSY
// condition (spec §7).
func acquireProcessingLockTx(ctx context.Context, tx *sql.Tx, now time.Time, agent string, ttl time.Duration) (bool, error) {
	var holder string
	var expiresAt time.Time
	err := tx.QueryRowContext(ctx, `SELECT holder_id, expires_at FROM processing_lock WHERE id = 1`).Scan(&holder, &expiresAt)
	if err == sql.ErrNoRows {
		if _, execErr := tx.ExecContext(ctx, `
			INSERT INTO processing_lock (id, holder_id, acquired_at, expires_at) VALUES (1, ?, ?, ?)
		`, agent, now, now.Add(ttl)); execErr != nil {
			return false, fmt.Errorf("acquire processing lock: %w", execErr)
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("load processing lock: %w", err)
	}

	if expiresAt.After(now) && holder != agent {
		return false, nil
	}

	if _, execErr := tx.ExecContext(ctx, `
		UPDATE processing_lock SET holder_id = ?, acquired_at = ?, expires_at = ? WHERE id = 1
	`, agent, now, now.Add(ttl)); execErr != nil {
		return false, fmt.Errorf("reacquire processing lock: %w", execErr)
	}
	return true, nil
}

// ReleaseProcessingLock clears the processing lease if held by agent. The
// Coordinator calls this at the end of every worker_step regardless of
// outcome (spec §4.6 "worker_step").
func (q *Queue) ReleaseProcessingLock(ctx context.Context, agent string) error {
	return store.Transact(ctx, q.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM processing_lock WHERE id = 1 AND holder_id = ?`, agent)
		return err
	})
}

// UpdateRebaseMetadata records a successful rebase and advances the entry
// to Testing (from Claimed, or from Rebasing on a freshness-failure retry
// loop), or Testing -> MergeReady, matching the "two-call" worker_step
// convention of spec §4.4: one call drives a freshly claimed entry through
// its rebase to Testing, a second call promotes it to MergeReady, after
// which the caller checks IsFresh and either begins the merge or calls
// ReturnToRebasing.
func (q *Queue) UpdateRebaseMetadata(ctx context.Context, workspace, newHeadSHA, testedAgainstSHA string) error {
	return store.Transact(ctx, q.db, func(tx *sql.Tx) error {
		entry, getErr := getActiveByWorkspaceTx(ctx, tx, workspace)
		if getErr != nil {
			return getErr
		}
		if entry == nil {
			return models.NewQueueEntryNotFoundError(workspace)
		}

		now := q.clock.Now()
		var next models.QueueStatus
		switch entry.Status {
		case models.QueueStatusClaimed, models.QueueStatusRebasing:
			next = models.QueueStatusTesting
		case models.QueueStatusTesting:
			next = models.QueueStatusMergeReady
		default:
			return models.NewInvalidStateTransitionError("queue_entry", string(entry.Status), "rebase-metadata-update")
		}

		if _, execErr := tx.ExecContext(ctx, `
			UPDATE merge_queue
			SET status = ?, previous_status = ?, head_sha = ?, tested_against_sha = ?,
			    last_rebase_at = ?, state_changed_at = ?, version = version + 1
			WHERE id = ? AND status = ?
		`, string(next), string(entry.Status), newHeadSHA, testedAgainstSHA, now, now, entry.ID, string(entry.Status)); execErr != nil {
			return fmt.Errorf("update rebase metadata: %w", execErr)
		}

		if entry.Status == models.QueueStatusClaimed {
			if evErr := appendEventTx(ctx, tx, now, entry.ID, models.EventRebaseStarted, nil); evErr != nil {
				return evErr
			}
		}
		if next == models.QueueStatusTesting {
			if evErr := appendEventTx(ctx, tx, now, entry.ID, models.EventRebaseCompleted, map[string]string{"tested_against_sha": testedAgainstSHA}); evErr != nil {
				return evErr
			}
		}
		if next == models.QueueStatusMergeReady {
			if evErr := appendEventTx(ctx, tx, now, entry.ID, models.EventFreshnessChecked, map[string]string{"tested_against_sha": testedAgainstSHA}); evErr != nil {
				return evErr
			}
		}
		return nil
	})
}

// IsFresh reports whether the entry's tested_against_sha equals
// currentMainSHA (spec §4.4 "is_fresh").
func (q *Queue) IsFresh(ctx context.Context, workspace, currentMainSHA string) (bool, error) {
	entry, err := getActiveByWorkspaceTx(ctx, q.db, workspace)
	if err != nil {
		return false, err
	}
	if entry == nil {
		return false, models.NewQueueEntryNotFoundError(workspace)
	}
	return entry.IsFresh(currentMainSHA), nil
}

// ReturnToRebasing transitions MergeReady -> Rebasing, increments
// rebase_count, and appends FreshnessFailed then RebaseStarted
// (spec §4.4 "return_to_rebasing").
func (q *Queue) ReturnToRebasing(ctx context.Context, workspace, newMainSHA string) error {
	return store.Transact(ctx, q.db, func(tx *sql.Tx) error {
		entry, getErr := getActiveByWorkspaceTx(ctx, tx, workspace)
		if getErr != nil {
			return getErr
		}
		if entry == nil {
			return models.NewQueueEntryNotFoundError(workspace)
		}
		if entry.Status != models.QueueStatusMergeReady {
			return models.NewInvalidStateTransitionError("queue_entry", string(entry.Status), string(models.QueueStatusRebasing))
		}

		now := q.clock.Now()
		if _, execErr := tx.ExecContext(ctx, `
			UPDATE merge_queue
			SET status = ?, previous_status = ?, rebase_count = rebase_count + 1, state_changed_at = ?, version = version + 1
			WHERE id = ? AND status = ?
		`, string(models.QueueStatusRebasing), string(entry.Status), now, entry.ID, string(entry.Status)); execErr != nil {
			return fmt.Errorf("return to rebasing: %w", execErr)
		}

		if evErr := appendEventTx(ctx, tx, now, entry.ID, models.EventFreshnessFailed, map[string]string{"current_main_sha": newMainSHA}); evErr != nil {
			return evErr
		}
		return appendEventTx(ctx, tx, now, entry.ID, models.EventRebaseStarted, nil)
	})
}

// BeginMerge transitions MergeReady -> Merging (spec §4.4 "begin_merge").
func (q *Queue) BeginMerge(ctx context.Context, workspace string) error {
	return store.Transact(ctx, q.db, func(tx *sql.Tx) error {
		entry, getErr := getActiveByWorkspaceTx(ctx, tx, workspace)
		if getErr != nil {
			return getErr
		}
		if entry == nil {
			return models.NewQueueEntryNotFoundError(workspace)
		}
		if entry.Status != models.QueueStatusMergeReady {
			return models.NewInvalidStateTransitionError("queue_entry", string(entry.Status), string(models.QueueStatusMerging))
		}

		now := q.clock.Now()
		if _, execErr := tx.ExecContext(ctx, `
			UPDATE merge_queue SET status = ?, previous_status = ?, state_changed_at = ?, version = version + 1
			WHERE id = ? AND status = ?
		`, string(models.QueueStatusMerging), string(entry.Status), now, entry.ID, string(entry.Status)); execErr != nil {
			return fmt.Errorf("begin merge: %w", execErr)
		}
		return appendEventTx(ctx, tx, now, entry.ID, models.EventMergeStarted, nil)
	})
}

// CompleteMerge transitions Merging -> Merged, stamps completed_at, and
// appends MergeCompleted (spec §4.4 "complete_merge").
func (q *Queue) CompleteMerge(ctx context.Context, workspace, mergeSHA string) error {
	return store.Transact(ctx, q.db, func(tx *sql.Tx) error {
		entry, getErr := getActiveByWorkspaceTx(ctx, tx, workspace)
		if getErr != nil {
			return getErr
		}
		if entry == nil {
			return models.NewQueueEntryNotFoundError(workspace)
		}
		if entry.Status != models.QueueStatusMerging {
			return models.NewInvalidStateTransitionError("queue_entry", string(entry.Status), string(models.QueueStatusMerged))
		}

		now := q.clock.Now()
		if _, execErr := tx.ExecContext(ctx, `
			UPDATE merge_queue
			SET status = ?, previous_status = ?, completed_at = ?, state_changed_at = ?, version = version + 1
			WHERE id = ? AND status = ?
		`, string(models.QueueStatusMerged), string(entry.Status), now, now, entry.ID, string(entry.Status)); execErr != nil {
			return fmt.Errorf("complete merge: %w", execErr)
		}
		return appendEventTx(ctx, tx, now, entry.ID, models.EventMergeCompleted, map[string]string{"merge_sha": mergeSHA})
	})
}

// FailMerge transitions Merging -> FailedRetryable (if retryable and
// attempt_count < max_attempts) else FailedFatal, and appends MergeFailed
// with error (spec §4.4 "fail_merge").
func (q *Queue) FailMerge(ctx context.Context, workspace, errMsg string, retryable bool) error {
	return store.Transact(ctx, q.db, func(tx *sql.Tx) error {
		entry, getErr := getActiveByWorkspaceTx(ctx, tx, workspace)
		if getErr != nil {
			return getErr
		}
		if entry == nil {
			return models.NewQueueEntryNotFoundError(workspace)
		}
		if entry.Status != models.QueueStatusMerging {
			return models.NewInvalidStateTransitionError("queue_entry", string(entry.Status), string(models.QueueStatusFailedRetryable))
		}

		next := models.QueueStatusFailedFatal
		if retryable && entry.AttemptCount < entry.MaxAttempts {
			next = models.QueueStatusFailedRetryable
		}

		now := q.clock.Now()
		if _, execErr := tx.ExecContext(ctx, `
			UPDATE merge_queue
			SET status = ?, previous_status = ?, error_message = ?, state_changed_at = ?, version = version + 1
			WHERE id = ? AND status = ?
		`, string(next), string(entry.Status), errMsg, now, entry.ID, string(entry.Status)); execErr != nil {
			return fmt.Errorf("fail merge: %w", execErr)
		}
		return appendEventTx(ctx, tx, now, entry.ID, models.EventMergeFailed, map[string]string{"error": errMsg, "next_status": string(next)})
	})
}

// FailActive transitions the workspace's active, non-terminal entry straight
// to FailedRetryable (if retryable and attempt_count < max_attempts) or
// FailedFatal, appending MergeFailed with error. Unlike FailMerge it accepts
// any non-terminal starting status, covering pipeline failures the worker
// loop can hit before begin_merge (e.g. a rebase conflict or a Workspace
// Bridge I/O error while still Claimed/Rebasing/Testing).
func (q *Queue) FailActive(ctx context.Context, workspace, errMsg string, retryable bool) error {
	return store.Transact(ctx, q.db, func(tx *sql.Tx) error {
		entry, getErr := getActiveByWorkspaceTx(ctx, tx, workspace)
		if getErr != nil {
			return getErr
		}
		if entry == nil {
			return models.NewQueueEntryNotFoundError(workspace)
		}
		if entry.Status.IsTerminal() {
			return models.NewQueueAlreadyTerminalError(fmt.Sprintf("%d", entry.ID), string(entry.Status))
		}

		next := models.QueueStatusFailedFatal
		if retryable && entry.AttemptCount < entry.MaxAttempts {
			next = models.QueueStatusFailedRetryable
		}

		now := q.clock.Now()
		if _, execErr := tx.ExecContext(ctx, `
			UPDATE merge_queue
			SET status = ?, previous_status = ?, error_message = ?, state_changed_at = ?, version = version + 1
			WHERE id = ? AND status = ?
		`, string(next), string(entry.Status), errMsg, now, entry.ID, string(entry.Status)); execErr != nil {
			return fmt.Errorf("fail active queue entry: %w", execErr)
		}
		return appendEventTx(ctx, tx, now, entry.ID, models.EventMergeFailed, map[string]string{"error": errMsg, "next_status": string(next)})
	})
}

// Retry transitions a FailedRetryable entry back to Pending, increments
// attempt_count, clears error_message, and appends Retried (spec §4.4
// "retry"). Any other current status returns QueueNotRetryableError.
func (q *Queue) Retry(ctx context.Context, id int64) (*models.QueueEntry, error) {
	var out *models.QueueEntry
	err := store.Transact(ctx, q.db, func(tx *sql.Tx) error {
		entry, getErr := getByIDTx(ctx, tx, id)
		if getErr != nil {
			return getErr
		}
		if entry.Status != models.QueueStatusFailedRetryable {
			return models.NewQueueNotRetryableError(fmt.Sprintf("%d", id), fmt.Sprintf("status is %s", entry.Status))
		}

		now := q.clock.Now()
		if _, execErr := tx.ExecContext(ctx, `
			UPDATE merge_queue
			SET status = ?, previous_status = ?, attempt_count = attempt_count + 1,
			    error_message = NULL, state_changed_at = ?, version = version + 1
			WHERE id = ? AND status = ?
		`, string(models.QueueStatusPending), string(entry.Status), now, id, string(entry.Status)); execErr != nil {
			return fmt.Errorf("retry queue entry: %w", execErr)
		}
		if evErr := appendEventTx(ctx, tx, now, id, models.EventRetried, map[string]string{"source": "human"}); evErr != nil {
			return evErr
		}
		out, getErr = getByIDTx(ctx, tx, id)
		return getErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Cancel transitions a non-terminal entry to Cancelled and appends Cancelled
// (spec §4.4 "cancel"). A terminal entry returns QueueAlreadyTerminalError.
func (q *Queue) Cancel(ctx context.Context, id int64) (*models.QueueEntry, error) {
	var out *models.QueueEntry
	err := store.Transact(ctx, q.db, func(tx *sql.Tx) error {
		entry, getErr := getByIDTx(ctx, tx, id)
		if getErr != nil {
			return getErr
		}
		if entry.Status.IsTerminal() {
			return models.NewQueueAlreadyTerminalError(fmt.Sprintf("%d", id), string(entry.Status))
		}

		now := q.clock.Now()
		if _, execErr := tx.ExecContext(ctx, `
			UPDATE merge_queue SET status = ?, previous_status = ?, state_changed_at = ?, version = version + 1
			WHERE id = ? AND status = ?
		`, string(models.QueueStatusCancelled), string(entry.Status), now, id, string(entry.Status)); execErr != nil {
			return fmt.Errorf("cancel queue entry: %w", execErr)
		}
		if evErr := appendEventTx(ctx, tx, now, id, models.EventCancelled, nil); evErr != nil {
			return evErr
		}
		out, getErr = getByIDTx(ctx, tx, id)
		return getErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get loads a queue entry by id.
func (q *Queue) Get(ctx context.Context, id int64) (*models.QueueEntry, error) {
	return getByIDTx(ctx, q.db, id)
}

// GetActiveByWorkspace returns the current non-terminal entry for workspace,
// or nil if none exists.
func (q *Queue) GetActiveByWorkspace(ctx context.Context, workspace string) (*models.QueueEntry, error) {
	return getActiveByWorkspaceTx(ctx, q.db, workspace)
}

// ReclaimStale returns any entry in Claimed/Rebasing/Testing/MergeReady/
// Merging whose state_changed_at is older than threshold and whose
// processing lock is expired, back to Pending, clearing the processing
// lock (spec §4.4 "reclaim_stale").
func (q *Queue) ReclaimStale(ctx context.Context, threshold time.Duration) (int, error) {
	var n int
	err := store.Transact(ctx, q.db, func(tx *sql.Tx) error {
		now := q.clock.Now()

		var lockExpired bool
		var expiresAt time.Time
		lockErr := tx.QueryRowContext(ctx, `SELECT expires_at FROM processing_lock WHERE id = 1`).Scan(&expiresAt)
		switch {
		case lockErr == sql.ErrNoRows:
			lockExpired = true
		case lockErr != nil:
			return fmt.Errorf("load processing lock: %w", lockErr)
		default:
			lockExpired = !expiresAt.After(now)
		}
		if !lockExpired {
			return nil
		}

		cutoff := now.Add(-threshold)
		rows, queryErr := tx.QueryContext(ctx, `
			SELECT id FROM merge_queue
			WHERE status IN ('Claimed', 'Rebasing', 'Testing', 'MergeReady', 'Merging')
			AND state_changed_at < ?
		`, cutoff)
		if queryErr != nil {
			return fmt.Errorf("select stale queue entries: %w", queryErr)
		}
		var ids []int64
		for rows.Next() {
			var id int64
			if scanErr := rows.Scan(&id); scanErr != nil {
				_ = rows.Close()
				return scanErr
			}
			ids = append(ids, id)
		}
		if closeErr := rows.Close(); closeErr != nil {
			return closeErr
		}
		if rowsErr := rows.Err(); rowsErr != nil {
			return rowsErr
		}

		for _, id := range ids {
			entry, getErr := getByIDTx(ctx, tx, id)
			if getErr != nil {
				return getErr
			}
			if _, execErr := tx.ExecContext(ctx, `
				UPDATE merge_queue SET status = ?, previous_status = ?, state_changed_at = ?, version = version + 1
				WHERE id = ? AND status = ?
			`, string(models.QueueStatusPending), string(entry.Status), now, id, string(entry.Status)); execErr != nil {
				return fmt.Errorf("reclaim stale queue entry %d: %w", id, execErr)
			}
			if evErr := appendEventTx(ctx, tx, now, id, models.EventReleased, map[string]string{"source": "reclaim"}); evErr != nil {
				return evErr
			}
		}
		n = len(ids)

		if _, execErr := tx.ExecContext(ctx, `DELETE FROM processing_lock WHERE id = 1`); execErr != nil {
			return fmt.Errorf("clear processing lock on reclaim: %w", execErr)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Cleanup deletes terminal entries older than maxAge, returning the count
// removed (spec §4.4 "cleanup").
func (q *Queue) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	var n int
	err := store.Transact(ctx, q.db, func(tx *sql.Tx) error {
		cutoff := q.clock.Now().Add(-maxAge)
		res, execErr := tx.ExecContext(ctx, `
			DELETE FROM merge_queue
			WHERE status IN ('Merged', 'FailedFatal', 'Cancelled') AND state_changed_at < ?
		`, cutoff)
		if execErr != nil {
			return fmt.Errorf("cleanup terminal queue entries: %w", execErr)
		}
		ra, raErr := res.RowsAffected()
		if raErr != nil {
			return raErr
		}
		n = int(ra)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// AppendEvent records a QueueEvent row for id (spec §4.4 "append_event").
func (q *Queue) AppendEvent(ctx context.Context, id int64, eventType models.QueueEventType, details map[string]string) error {
	return store.Transact(ctx, q.db, func(tx *sql.Tx) error {
		return appendEventTx(ctx, tx, q.clock.Now(), id, eventType, details)
	})
}

func appendEventTx(ctx context.Context, tx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}, now time.Time, id int64, eventType models.QueueEventType, details map[string]string) error {
	var detailsJSON sql.NullString
	if len(details) > 0 {
		b, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("encode event details: %w", err)
		}
		detailsJSON = sql.NullString{String: string(b), Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO queue_events (queue_id, event_type, details, created_at) VALUES (?, ?, ?, ?)
	`, id, string(eventType), detailsJSON, now)
	if err != nil {
		return fmt.Errorf("append queue event: %w", err)
	}
	return nil
}

// FetchEvents returns every event for id, in insertion (rowid) order
// (spec §4.4 "fetch_events", §5 "Event ordering").
func (q *Queue) FetchEvents(ctx context.Context, id int64) ([]*models.QueueEvent, error) {
	return q.fetchEvents(ctx, id, 0)
}

// FetchRecentEvents returns at most limit of the most recent events for id,
// newest last (spec §4.4 "fetch_recent_events").
func (q *Queue) FetchRecentEvents(ctx context.Context, id int64, limit int) ([]*models.QueueEvent, error) {
	return q.fetchEvents(ctx, id, limit)
}

func (q *Queue) fetchEvents(ctx context.Context, id int64, limit int) ([]*models.QueueEvent, error) {
	query := `SELECT id, queue_id, event_type, details, created_at FROM queue_events WHERE queue_id = ? ORDER BY id ASC`
	args := []any{id}
	if limit > 0 {
		query = `
			SELECT id, queue_id, event_type, details, created_at FROM (
				SELECT id, queue_id, event_type, details, created_at FROM queue_events
				WHERE queue_id = ? ORDER BY id DESC LIMIT ?
			) sub ORDER BY id ASC
		`
		args = append(args, limit)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch queue events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.QueueEvent
	for rows.Next() {
		var ev models.QueueEvent
		var details sql.NullString
		var eventType string
		if scanErr := rows.Scan(&ev.ID, &ev.QueueID, &eventType, &details, &ev.CreatedAt); scanErr != nil {
			return nil, scanErr
		}
		ev.EventType = models.QueueEventType(eventType)
		if details.Valid {
			ev.Details = json.RawMessage(details.String)
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}
