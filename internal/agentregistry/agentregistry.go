// Package agentregistry implements the AgentRegistry component (spec §4.2):
// register/heartbeat/unregister agents and classify active vs stale agents
// by heartbeat age. Grounded on dotcommander-vybe's
// internal/store/agent_state.go (load-or-create, monotonic-advance,
// saturating-counter idioms) and steveyegge-gastown's internal/registry/
// registry.go (list/classify-by-liveness API shape).
package agentregistry

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/lprior-repo/zjj/internal/clock"
	"github.com/lprior-repo/zjj/internal/models"
	"github.com/lprior-repo/zjj/internal/store"
)

// Registry is the AgentRegistry component.
type Registry struct {
	db    *sql.DB
	clock clock.Clock
}

// New constructs a Registry over db using clk as its time source.
func New(db *sql.DB, clk clock.Clock) *Registry {
	return &Registry{db: db, clock: clk}
}

// GenerateID produces the default "agent-<ms_timestamp>-<pid>" identity used
// when register() is called without an explicit id (spec §3 "Agent").
func GenerateID(now time.Time) string {
	return fmt.Sprintf("agent-%d-%d", now.UnixMilli(), os.Getpid())
}

// Register creates a row with now for both timestamps. If id is empty, one
// is generated. A duplicate id is an error (spec §4.2 "register").
func (r *Registry) Register(ctx context.Context, id string) (*models.Agent, error) {
	now := r.clock.Now()
	if id == "" {
		id = GenerateID(now)
	}

	agent := &models.Agent{
		ID:            id,
		RegisteredAt:  now,
		LastHeartbeat: now,
	}

	err := store.Transact(ctx, r.db, func(tx *sql.Tx) error {
		_, execErr := tx.ExecContext(ctx, `
			INSERT INTO agents (id, registered_at, last_heartbeat, actions_count)
			VALUES (?, ?, ?, 0)
		`, id, now, now)
		if execErr != nil {
			if store.IsUniqueConstraintErr(execErr) {
				return models.NewAgentAlreadyRegisteredError(id)
			}
			return fmt.Errorf("insert agent: %w", execErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return agent, nil
}

// Heartbeat updates last_heartbeat = now, optionally sets current_command,
// and increments actions_count (saturating at math.MaxInt64). Unknown id
// returns AgentNotFoundError (spec §4.2 "heartbeat").
func (r *Registry) Heartbeat(ctx context.Context, id string, command string) error {
	return store.Transact(ctx, r.db, func(tx *sql.Tx) error {
		var actionsCount int64
		err := tx.QueryRowContext(ctx, `SELECT actions_count FROM agents WHERE id = ?`, id).Scan(&actionsCount)
		if err == sql.ErrNoRows {
			return models.NewAgentNotFoundError(id)
		}
		if err != nil {
			return fmt.Errorf("load agent: %w", err)
		}

		nextCount := actionsCount
		if nextCount < math.MaxInt64 {
			nextCount++
		}

		now := r.clock.Now()
		var execErr error
		if command != "" {
			_, execErr = tx.ExecContext(ctx, `
				UPDATE agents SET last_heartbeat = ?, current_command = ?, actions_count = ? WHERE id = ?
			`, now, command, nextCount, id)
		} else {
			_, execErr = tx.ExecContext(ctx, `
				UPDATE agents SET last_heartbeat = ?, actions_count = ? WHERE id = ?
			`, now, nextCount, id)
		}
		if execErr != nil {
			return fmt.Errorf("update agent heartbeat: %w", execErr)
		}
		return nil
	})
}

// Status is a pure function of now - last_heartbeat and heartbeatTTL
// (spec §4.2 "status").
func (r *Registry) Status(ctx context.Context, id string, heartbeatTTL time.Duration) (models.AgentStatus, error) {
	agent, err := r.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return agent.StatusAt(r.clock.Now(), heartbeatTTL), nil
}

// Get loads an agent by id. Returns AgentNotFoundError if absent.
func (r *Registry) Get(ctx context.Context, id string) (*models.Agent, error) {
	var a models.Agent
	var currentSession, currentCommand sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, registered_at, last_heartbeat, current_session, current_command, actions_count
		FROM agents WHERE id = ?
	`, id).Scan(&a.ID, &a.RegisteredAt, &a.LastHeartbeat, &currentSession, &currentCommand, &a.ActionsCount)
	if err == sql.ErrNoRows {
		return nil, models.NewAgentNotFoundError(id)
	}
	if err != nil {
		return nil, fmt.Errorf("load agent %q: %w", id, err)
	}
	if currentSession.Valid {
		a.CurrentSession = currentSession.String
	}
	if currentCommand.Valid {
		a.CurrentCommand = currentCommand.String
	}
	return &a, nil
}

// List returns agents, optionally including stale ones and/or filtered by
// current session (spec §4.2 "list").
func (r *Registry) List(ctx context.Context, includeStale bool, heartbeatTTL time.Duration, filterBySession string) ([]*models.Agent, error) {
	query := `SELECT id FROM agents`
	var args []any
	if filterBySession != "" {
		query += ` WHERE current_session = ?`
		args = append(args, filterBySession)
	}
	query += ` ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if scanErr := rows.Scan(&id); scanErr != nil {
			return nil, scanErr
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	now := r.clock.Now()
	out := make([]*models.Agent, 0, len(ids))
	for _, id := range ids {
		a, getErr := r.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if !includeStale && a.StatusAt(now, heartbeatTTL) == models.AgentStatusStale {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// Unregister deletes the agent row and returns whether it existed
// (spec §4.2 "unregister"). Also releases any session lock the agent held
// (spec §4.5 "Integration with agents").
func (r *Registry) Unregister(ctx context.Context, id string) (bool, error) {
	var existed bool
	err := store.Transact(ctx, r.db, func(tx *sql.Tx) error {
		if _, execErr := tx.ExecContext(ctx, `DELETE FROM session_locks WHERE holder_id = ?`, id); execErr != nil {
			return fmt.Errorf("release locks for agent: %w", execErr)
		}
		res, execErr := tx.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
		if execErr != nil {
			return fmt.Errorf("delete agent: %w", execErr)
		}
		ra, raErr := res.RowsAffected()
		if raErr != nil {
			return raErr
		}
		existed = ra > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return existed, nil
}

// ReclaimStale deletes agents whose last_heartbeat is older than threshold
// and releases any session locks they held. Returns the number removed
// (spec §4.2 "reclaim_stale").
func (r *Registry) ReclaimStale(ctx context.Context, threshold time.Duration) (int, error) {
	cutoff := r.clock.Now().Add(-threshold)
	var removed int
	err := store.Transact(ctx, r.db, func(tx *sql.Tx) error {
		rows, queryErr := tx.QueryContext(ctx, `SELECT id FROM agents WHERE last_heartbeat < ?`, cutoff)
		if queryErr != nil {
			return fmt.Errorf("select stale agents: %w", queryErr)
		}
		var staleIDs []string
		for rows.Next() {
			var id string
			if scanErr := rows.Scan(&id); scanErr != nil {
				_ = rows.Close()
				return scanErr
			}
			staleIDs = append(staleIDs, id)
		}
		if closeErr := rows.Close(); closeErr != nil {
			return closeErr
		}
		if err := rows.Err(); err != nil {
			return err
		}

		for _, id := range staleIDs {
			if _, execErr := tx.ExecContext(ctx, `DELETE FROM session_locks WHERE holder_id = ?`, id); execErr != nil {
				return fmt.Errorf("release locks for stale agent %q: %w", id, execErr)
			}
			if _, execErr := tx.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id); execErr != nil {
				return fmt.Errorf("delete stale agent %q: %w", id, execErr)
			}
		}
		removed = len(staleIDs)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}
