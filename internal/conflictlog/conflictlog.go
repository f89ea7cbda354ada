// Package conflictlog implements the ConflictResolution audit trail
// (spec §3 "ConflictResolution"): a record of one manual or AI-assisted
// conflict resolution, written by external tooling and exposed for review
// but never consulted by the core state machines. Grounded on
// dotcommander-vybe's internal/store/events.go append-only row pattern,
// adapted from vybe's generic task-event log to ZJJ's closed
// session/file/strategy/decider field set.
package conflictlog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lprior-repo/zjj/internal/clock"
	"github.com/lprior-repo/zjj/internal/models"
	"github.com/lprior-repo/zjj/internal/store"
)

// Log is the ConflictResolution component.
type Log struct {
	db    *sql.DB
	clock clock.Clock
}

// New constructs a Log over db using clk as its time source.
func New(db *sql.DB, clk clock.Clock) *Log {
	return &Log{db: db, clock: clk}
}

// Record appends one conflict-resolution audit row (spec §3
// "ConflictResolution"). confidence may be nil ("optional confidence").
func (l *Log) Record(ctx context.Context, session, file, strategy, reason string, confidence *float64, decider models.ConflictDecider) (*models.ConflictResolution, error) {
	if decider != models.ConflictDeciderAI && decider != models.ConflictDeciderHuman {
		return nil, fmt.Errorf("conflictlog: decider must be %q or %q, got %q",
			models.ConflictDeciderAI, models.ConflictDeciderHuman, decider)
	}

	var rec *models.ConflictResolution
	err := store.Transact(ctx, l.db, func(tx *sql.Tx) error {
		now := l.clock.Now()
		res, execErr := tx.ExecContext(ctx, `
			INSERT INTO conflict_resolutions (session, file, strategy, reason, confidence, decider, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, session, file, strategy, nullIfEmpty(reason), confidence, string(decider), now)
		if execErr != nil {
			return fmt.Errorf("insert conflict resolution: %w", execErr)
		}
		id, idErr := res.LastInsertId()
		if idErr != nil {
			return idErr
		}
		rec = &models.ConflictResolution{
			ID: id, Session: session, File: file, Strategy: strategy,
			Reason: reason, Confidence: confidence, Decider: decider, CreatedAt: now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListBySession returns every conflict-resolution row for session, oldest
// first.
func (l *Log) ListBySession(ctx context.Context, session string) ([]*models.ConflictResolution, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, session, file, strategy, reason, confidence, decider, created_at
		FROM conflict_resolutions WHERE session = ? ORDER BY id
	`, session)
	if err != nil {
		return nil, fmt.Errorf("list conflict resolutions for %q: %w", session, err)
	}
	defer func() { _ = rows.Close() }()
	return scanRows(rows)
}

// ListRecent returns the limit most recent conflict-resolution rows across
// all sessions, newest first.
func (l *Log) ListRecent(ctx context.Context, limit int) ([]*models.ConflictResolution, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, session, file, strategy, reason, confidence, decider, created_at
		FROM conflict_resolutions ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent conflict resolutions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanRows(rows)
}

func scanRows(rows *sql.Rows) ([]*models.ConflictResolution, error) {
	var out []*models.ConflictResolution
	for rows.Next() {
		var rec models.ConflictResolution
		var reason sql.NullString
		var decider string
		if scanErr := rows.Scan(&rec.ID, &rec.Session, &rec.File, &rec.Strategy,
			&reason, &rec.Confidence, &decider, &rec.CreatedAt); scanErr != nil {
			return nil, scanErr
		}
		rec.Reason = reason.String
		rec.Decider = models.ConflictDecider(decider)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
