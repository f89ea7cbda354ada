// Package lockmanager implements the LockManager component (spec §4.5):
// time-leased exclusive ownership of a session by one agent, distinct from
// the merge queue's single processing lease. Grounded on
// dotcommander-vybe's internal/store/task_claim_next.go CAS-claim pattern
// (load, compare expiry, conditional UPDATE) and
// steveyegge-gastown's internal/lock/flock_unix.go "acquire returns success
// or the competing holder" idiom, adapted from an OS file lock to a
// SQLite-row lease.
package lockmanager

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lprior-repo/zjj/internal/clock"
	"github.com/lprior-repo/zjj/internal/models"
	"github.com/lprior-repo/zjj/internal/store"
)

// Manager is the LockManager component.
type Manager struct {
	db    *sql.DB
	clock clock.Clock
}

// New constructs a Manager over db using clk as its time source.
func New(db *sql.DB, clk clock.Clock) *Manager {
	return &Manager{db: db, clock: clk}
}

// Acquire succeeds iff no non-expired lock exists on session, or the
// existing lock is already held by agent (idempotent acquire). On failure
// the returned error is a *models.LockHeldByOtherError carrying the
// competing holder and its expiry (spec §4.5 "acquire").
func (m *Manager) Acquire(ctx context.Context, session, agent string, ttl time.Duration) (*models.SessionLock, error) {
	var lock *models.SessionLock
	err := store.Transact(ctx, m.db, func(tx *sql.Tx) error {
		now := m.clock.Now()
		existing, getErr := getTx(ctx, tx, session)
		if getErr != nil && !isNotFound(getErr) {
			return getErr
		}

		if existing != nil && !existing.IsExpired(now) && existing.HolderID != agent {
			return models.NewLockHeldByOtherError(session, existing.HolderID, existing.ExpiresAt.Format(time.RFC3339))
		}

		expiresAt := now.Add(ttl)
		if existing != nil {
			if _, execErr := tx.ExecContext(ctx, `
				UPDATE session_locks SET holder_id = ?, acquired_at = ?, expires_at = ? WHERE session = ?
			`, agent, now, expiresAt, session); execErr != nil {
				return fmt.Errorf("update session lock: %w", execErr)
			}
		} else {
			if _, execErr := tx.ExecContext(ctx, `
				INSERT INTO session_locks (session, holder_id, acquired_at, expires_at) VALUES (?, ?, ?, ?)
			`, session, agent, now, expiresAt); execErr != nil {
				return fmt.Errorf("insert session lock: %w", execErr)
			}
		}

		lock = &models.SessionLock{Session: session, HolderID: agent, AcquiredAt: now, ExpiresAt: expiresAt}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lock, nil
}

// Extend adds extra to the lock's expiry. Only the current holder may
// extend: a missing lock returns LockNotHeldError, an expired one
// LockExpiredError, and one held by another agent LockHeldByOtherError
// (spec §4.5 "extend").
func (m *Manager) Extend(ctx context.Context, session, agent string, extra time.Duration) (*models.SessionLock, error) {
	var lock *models.SessionLock
	err := store.Transact(ctx, m.db, func(tx *sql.Tx) error {
		now := m.clock.Now()
		existing, getErr := getTx(ctx, tx, session)
		if getErr != nil {
			if isNotFound(getErr) {
				return models.NewLockNotHeldError(session)
			}
			return getErr
		}
		if existing.IsExpired(now) {
			return models.NewLockExpiredError(session)
		}
		if existing.HolderID != agent {
			return models.NewLockHeldByOtherError(session, existing.HolderID, existing.ExpiresAt.Format(time.RFC3339))
		}

		newExpiry := existing.ExpiresAt.Add(extra)
		if _, execErr := tx.ExecContext(ctx, `
			UPDATE session_locks SET expires_at = ? WHERE session = ? AND holder_id = ?
		`, newExpiry, session, agent); execErr != nil {
			return fmt.Errorf("extend session lock: %w", execErr)
		}

		existing.ExpiresAt = newExpiry
		lock = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lock, nil
}

// Release is idempotent: releasing a non-held or already-expired lock is a
// no-op success (spec §4.5 "release", §8 round-trip laws). Only the current
// holder of a live lock may actually remove the row.
func (m *Manager) Release(ctx context.Context, session, agent string) error {
	return store.Transact(ctx, m.db, func(tx *sql.Tx) error {
		now := m.clock.Now()
		existing, getErr := getTx(ctx, tx, session)
		if getErr != nil {
			if isNotFound(getErr) {
				return nil
			}
			return getErr
		}
		if existing.IsExpired(now) {
			return nil
		}
		if existing.HolderID != agent {
			return nil
		}
		if _, execErr := tx.ExecContext(ctx, `
			DELETE FROM session_locks WHERE session = ? AND holder_id = ?
		`, session, agent); execErr != nil {
			return fmt.Errorf("release session lock: %w", execErr)
		}
		return nil
	})
}

// Get loads the lock on session, if any. Returns (nil, nil) if no row
// exists; an expired row is still returned so callers can distinguish
// "never locked" from "lock lapsed" for observability.
func (m *Manager) Get(ctx context.Context, session string) (*models.SessionLock, error) {
	lock, err := getTx(ctx, m.db, session)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return lock, nil
}

// ListAll returns every session-lock row, expired or not (spec §4.5 "list_all").
func (m *Manager) ListAll(ctx context.Context) ([]*models.SessionLock, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT session, holder_id, acquired_at, expires_at FROM session_locks ORDER BY session
	`)
	if err != nil {
		return nil, fmt.Errorf("list session locks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.SessionLock
	for rows.Next() {
		var l models.SessionLock
		if scanErr := rows.Scan(&l.Session, &l.HolderID, &l.AcquiredAt, &l.ExpiresAt); scanErr != nil {
			return nil, scanErr
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

// ReclaimExpired deletes every lock row whose lease has lapsed, returning
// the number removed (spec §4.5 "reclaim_expired").
func (m *Manager) ReclaimExpired(ctx context.Context) (int, error) {
	var removed int
	err := store.Transact(ctx, m.db, func(tx *sql.Tx) error {
		res, execErr := tx.ExecContext(ctx, `DELETE FROM session_locks WHERE expires_at <= ?`, m.clock.Now())
		if execErr != nil {
			return fmt.Errorf("reclaim expired session locks: %w", execErr)
		}
		ra, raErr := res.RowsAffected()
		if raErr != nil {
			return raErr
		}
		removed = int(ra)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// ReclaimForAgent removes every lock held by agent, regardless of expiry
// (spec §4.5 "Integration with agents"). It backs `zjj lock reclaim-agent`;
// AgentRegistry's Unregister and ReclaimStale delete the same rows inside
// their own transactions rather than calling this.
func (m *Manager) ReclaimForAgent(ctx context.Context, agent string) (int, error) {
	var removed int
	err := store.Transact(ctx, m.db, func(tx *sql.Tx) error {
		res, execErr := tx.ExecContext(ctx, `DELETE FROM session_locks WHERE holder_id = ?`, agent)
		if execErr != nil {
			return fmt.Errorf("reclaim session locks for agent: %w", execErr)
		}
		ra, raErr := res.RowsAffected()
		if raErr != nil {
			return raErr
		}
		removed = int(ra)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getTx(ctx context.Context, q querier, session string) (*models.SessionLock, error) {
	var l models.SessionLock
	err := q.QueryRowContext(ctx, `
		SELECT session, holder_id, acquired_at, expires_at FROM session_locks WHERE session = ?
	`, session).Scan(&l.Session, &l.HolderID, &l.AcquiredAt, &l.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, models.NewLockNotHeldError(session)
	}
	if err != nil {
		return nil, fmt.Errorf("load session lock %q: %w", session, err)
	}
	return &l, nil
}

func isNotFound(err error) bool {
	var notHeld *models.LockNotHeldError
	return err != nil && (err == sql.ErrNoRows || asLockNotHeld(err, &notHeld))
}

func asLockNotHeld(err error, target **models.LockNotHeldError) bool {
	if e, ok := err.(*models.LockNotHeldError); ok {
		*target = e
		return true
	}
	return false
}
