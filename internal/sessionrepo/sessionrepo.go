// Package sessionrepo implements the SessionRepo component (spec §4.3): CRUD
// and validated state transitions for Sessions. Grounded on
// dotcommander-vybe's internal/store/task_start.go and agent_state.go
// load-validate-CAS-update pattern, adapted from task claim/version-conflict
// semantics to session-name-keyed status transitions.
package sessionrepo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/lprior-repo/zjj/internal/clock"
	"github.com/lprior-repo/zjj/internal/models"
	"github.com/lprior-repo/zjj/internal/store"
)

// nameFormat enforces spec §3: "unique name (1-64 chars, [A-Za-z][A-Za-z0-9_-]*)".
var nameFormat = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]{0,63}$`)

// Repo is the SessionRepo component. It is the exclusive mutator of the
// sessions table; every other component observes sessions through this API.
type Repo struct {
	db    *sql.DB
	clock clock.Clock
}

// New constructs a Repo over db using clk as its time source.
func New(db *sql.DB, clk clock.Clock) *Repo {
	return &Repo{db: db, clock: clk}
}

func validateName(name string) error {
	if !nameFormat.MatchString(name) {
		return models.NewSessionNameInvalidError(name, "must match [A-Za-z][A-Za-z0-9_-]{0,63}")
	}
	return nil
}

// Create inserts a new session in status Creating. Fails with
// SessionAlreadyExistsError on a name collision and SessionNameInvalidError
// for a name violating the character/length rule (spec §4.3 "create").
func (r *Repo) Create(ctx context.Context, name, workspacePath string) (*models.Session, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	now := r.clock.Now()
	sess := &models.Session{
		Name:          name,
		WorkspacePath: workspacePath,
		Status:        models.SessionStatusCreating,
		Metadata:      map[string]string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := store.Transact(ctx, r.db, func(tx *sql.Tx) error {
		_, execErr := tx.ExecContext(ctx, `
			INSERT INTO sessions (name, workspace_path, status, metadata, created_at, updated_at)
			VALUES (?, ?, ?, '{}', ?, ?)
		`, name, workspacePath, string(models.SessionStatusCreating), now, now)
		if execErr != nil {
			if store.IsUniqueConstraintErr(execErr) {
				return models.NewSessionAlreadyExistsError(name)
			}
			return fmt.Errorf("insert session: %w", execErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Get loads a session by name. Returns SessionNotFoundError if absent.
func (r *Repo) Get(ctx context.Context, name string) (*models.Session, error) {
	return r.getTx(ctx, r.db, name)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *Repo) getTx(ctx context.Context, q querier, name string) (*models.Session, error) {
	var sess models.Session
	var beadID, parentSession sql.NullString
	var metadataJSON string
	var status string

	err := q.QueryRowContext(ctx, `
		SELECT name, workspace_path, status, bead_id, parent_session, metadata, created_at, updated_at
		FROM sessions WHERE name = ?
	`, name).Scan(&sess.Name, &sess.WorkspacePath, &status, &beadID, &parentSession, &metadataJSON, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, models.NewSessionNotFoundError(name)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %q: %w", name, err)
	}

	sess.Status = models.SessionStatus(status)
	if beadID.Valid {
		sess.BeadID = beadID.String
	}
	if parentSession.Valid {
		sess.ParentSession = parentSession.String
	}
	sess.Metadata = map[string]string{}
	if metadataJSON != "" {
		if jsonErr := json.Unmarshal([]byte(metadataJSON), &sess.Metadata); jsonErr != nil {
			return nil, fmt.Errorf("decode session metadata: %w", jsonErr)
		}
	}
	return &sess, nil
}

// List returns all sessions ordered by name.
func (r *Repo) List(ctx context.Context) ([]*models.Session, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name FROM sessions ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var n string
		if scanErr := rows.Scan(&n); scanErr != nil {
			return nil, scanErr
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*models.Session, 0, len(names))
	for _, n := range names {
		sess, getErr := r.Get(ctx, n)
		if getErr != nil {
			return nil, getErr
		}
		out = append(out, sess)
	}
	return out, nil
}

// UpdateStatus validates from→to against the sessionTransitions table (spec
// §4.3) and applies it in one transaction. Returns InvalidStateTransitionError
// for an illegal move.
func (r *Repo) UpdateStatus(ctx context.Context, name string, to models.SessionStatus) (*models.Session, error) {
	var updated *models.Session
	err := store.Transact(ctx, r.db, func(tx *sql.Tx) error {
		sess, getErr := r.getTx(ctx, tx, name)
		if getErr != nil {
			return getErr
		}
		if !sess.Status.CanTransition(to) {
			return models.NewInvalidStateTransitionError("session", string(sess.Status), string(to))
		}

		now := r.clock.Now()
		res, execErr := tx.ExecContext(ctx, `
			UPDATE sessions SET status = ?, updated_at = ? WHERE name = ? AND status = ?
		`, string(to), now, name, string(sess.Status))
		if execErr != nil {
			return fmt.Errorf("update session status: %w", execErr)
		}
		ra, raErr := res.RowsAffected()
		if raErr != nil {
			return raErr
		}
		if ra == 0 {
			return models.NewInvalidStateTransitionError("session", string(sess.Status), string(to))
		}

		sess.Status = to
		sess.UpdatedAt = now
		updated = sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// MergeMetadataPatch shallow-merges patch over the session's metadata; a nil
// value for a key deletes it (spec §4.3 "Metadata merge semantics").
func (r *Repo) MergeMetadataPatch(ctx context.Context, name string, patch map[string]*string) (*models.Session, error) {
	var updated *models.Session
	err := store.Transact(ctx, r.db, func(tx *sql.Tx) error {
		sess, getErr := r.getTx(ctx, tx, name)
		if getErr != nil {
			return getErr
		}

		merged := make(map[string]string, len(sess.Metadata))
		for k, v := range sess.Metadata {
			merged[k] = v
		}
		for k, v := range patch {
			if v == nil {
				delete(merged, k)
				continue
			}
			merged[k] = *v
		}

		metadataJSON, jsonErr := json.Marshal(merged)
		if jsonErr != nil {
			return fmt.Errorf("encode session metadata: %w", jsonErr)
		}

		now := r.clock.Now()
		if _, execErr := tx.ExecContext(ctx, `
			UPDATE sessions SET metadata = ?, updated_at = ? WHERE name = ?
		`, string(metadataJSON), now, name); execErr != nil {
			return fmt.Errorf("update session metadata: %w", execErr)
		}

		sess.Metadata = merged
		sess.UpdatedAt = now
		updated = sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SetBeadAndParent sets the session's bead id and stack-parent relation.
// Both columns are always overwritten: an empty string stores NULL, clearing
// that column.
func (r *Repo) SetBeadAndParent(ctx context.Context, name, beadID, parentSession string) error {
	return store.Transact(ctx, r.db, func(tx *sql.Tx) error {
		if _, getErr := r.getTx(ctx, tx, name); getErr != nil {
			return getErr
		}
		var beadArg, parentArg sql.NullString
		if beadID != "" {
			beadArg = sql.NullString{String: beadID, Valid: true}
		}
		if parentSession != "" {
			parentArg = sql.NullString{String: parentSession, Valid: true}
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE sessions SET bead_id = ?, parent_session = ?, updated_at = ? WHERE name = ?
		`, beadArg, parentArg, r.clock.Now(), name)
		return err
	})
}

// Delete removes a session. Requires terminal status unless force is true;
// otherwise returns SessionInUseError (spec §4.3 "delete").
func (r *Repo) Delete(ctx context.Context, name string, force bool) error {
	return store.Transact(ctx, r.db, func(tx *sql.Tx) error {
		sess, getErr := r.getTx(ctx, tx, name)
		if getErr != nil {
			return getErr
		}
		if !force && !sess.Status.IsTerminal() {
			return models.NewSessionInUseError(name, "non-terminal session status")
		}

		var activeQueueCount int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM merge_queue
			WHERE workspace = ? AND status NOT IN ('Merged', 'FailedFatal', 'Cancelled')
		`, name).Scan(&activeQueueCount); err != nil {
			return fmt.Errorf("check active queue entries: %w", err)
		}
		if !force && activeQueueCount > 0 {
			return models.NewSessionInUseError(name, "active merge queue entry exists")
		}

		var lockCount int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM session_locks WHERE session = ?
		`, name).Scan(&lockCount); err != nil {
			return fmt.Errorf("check session lock: %w", err)
		}
		if !force && lockCount > 0 {
			return models.NewSessionInUseError(name, "session lock is held")
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM session_locks WHERE session = ?`, name); err != nil {
			return fmt.Errorf("delete session lock: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE name = ?`, name); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		return nil
	})
}
