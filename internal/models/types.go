package models

import (
	"encoding/json"
	"time"
)

// SessionStatus is the lifecycle state of a Session (spec §4.3).
type SessionStatus string

const (
	SessionStatusCreating  SessionStatus = "Creating"
	SessionStatusReady     SessionStatus = "Ready"
	SessionStatusActive    SessionStatus = "Active"
	SessionStatusQueued    SessionStatus = "Queued"
	SessionStatusMerging   SessionStatus = "Merging"
	SessionStatusMerged    SessionStatus = "Merged"
	SessionStatusFailed    SessionStatus = "Failed"
	SessionStatusAbandoned SessionStatus = "Abandoned"
)

// IsTerminal returns true for statuses a session can never leave.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionStatusMerged, SessionStatusFailed, SessionStatusAbandoned:
		return true
	default:
		return false
	}
}

// sessionTransitions is the legal-transition table from spec §4.3. A status
// not present here has no legal outbound transitions (it is terminal).
var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionStatusCreating: {SessionStatusReady, SessionStatusFailed},
	SessionStatusReady:    {SessionStatusActive},
	SessionStatusActive:   {SessionStatusQueued, SessionStatusAbandoned},
	SessionStatusQueued:   {SessionStatusMerging, SessionStatusAbandoned},
	SessionStatusMerging:  {SessionStatusMerged, SessionStatusFailed},
}

// CanTransition reports whether from → to is a legal Session transition.
func (s SessionStatus) CanTransition(to SessionStatus) bool {
	for _, allowed := range sessionTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Session is the unit of isolated work (spec §3 "Session").
type Session struct {
	Name            string            `json:"name"`
	WorkspacePath   string            `json:"workspace_path"`
	Status          SessionStatus     `json:"status"`
	BeadID          string            `json:"bead_id,omitempty"`
	ParentSession   string            `json:"parent_session,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// AgentStatus classifies an Agent by heartbeat recency (spec §4.2 "status").
type AgentStatus string

const (
	AgentStatusActive AgentStatus = "Active"
	AgentStatusStale  AgentStatus = "Stale"
)

// Agent is an active worker process or human CLI instance (spec §3 "Agent").
type Agent struct {
	ID             string    `json:"id"`
	RegisteredAt   time.Time `json:"registered_at"`
	LastHeartbeat  time.Time `json:"last_heartbeat"`
	CurrentSession string    `json:"current_session,omitempty"`
	CurrentCommand string    `json:"current_command,omitempty"`
	ActionsCount   int64     `json:"actions_count"`
}

// StatusAt computes whether the agent is Active or Stale at instant now,
// given ttl (spec §4.2: "pure function of now - last_heartbeat and a
// configured TTL").
func (a *Agent) StatusAt(now time.Time, ttl time.Duration) AgentStatus {
	if now.Sub(a.LastHeartbeat) <= ttl {
		return AgentStatusActive
	}
	return AgentStatusStale
}

// SessionLock is time-leased exclusive ownership of a session by one agent
// (spec §3 "SessionLock"), distinct from the queue's ProcessingLock.
type SessionLock struct {
	Session    string    `json:"session"`
	HolderID   string    `json:"holder_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// IsExpired returns true if the lock's lease has lapsed at instant now; an
// expired lock is treated as if it did not exist (spec §3 invariant).
func (l *SessionLock) IsExpired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

// QueueStatus is the lifecycle state of a QueueEntry (spec §4.4).
type QueueStatus string

const (
	QueueStatusPending         QueueStatus = "Pending"
	QueueStatusClaimed         QueueStatus = "Claimed"
	QueueStatusRebasing        QueueStatus = "Rebasing"
	QueueStatusTesting         QueueStatus = "Testing"
	QueueStatusMergeReady      QueueStatus = "MergeReady"
	QueueStatusMerging         QueueStatus = "Merging"
	QueueStatusMerged          QueueStatus = "Merged"
	QueueStatusFailedRetryable QueueStatus = "FailedRetryable"
	QueueStatusFailedFatal     QueueStatus = "FailedFatal"
	QueueStatusCancelled       QueueStatus = "Cancelled"
)

// IsTerminal returns true for queue statuses with no further transitions.
func (s QueueStatus) IsTerminal() bool {
	switch s {
	case QueueStatusMerged, QueueStatusFailedFatal, QueueStatusCancelled:
		return true
	default:
		return false
	}
}

// IsActive returns true for the non-terminal, in-flight queue statuses,
// i.e. every non-terminal status except FailedRetryable. The partial-unique
// index on merge_queue.workspace (spec §6) also covers FailedRetryable.
func (s QueueStatus) IsActive() bool {
	return !s.IsTerminal() && s != QueueStatusFailedRetryable
}

// StackMergeState records whether a dependent entry merges individually or
// as part of a stacked group (spec §3 "stack_merge_state").
type StackMergeState string

const (
	StackMergeStateIndependent StackMergeState = "Independent"
	StackMergeStateStacked     StackMergeState = "Stacked"
)

// QueueEntry is one workspace's pending or in-progress path through merge
// (spec §3 "QueueEntry").
type QueueEntry struct {
	ID                int64           `json:"id"`
	Workspace         string          `json:"workspace"`
	BeadID            string          `json:"bead_id,omitempty"`
	Priority          int             `json:"priority"`
	Status            QueueStatus     `json:"status"`
	PreviousStatus    QueueStatus     `json:"previous_status,omitempty"`
	DedupeKey         string          `json:"dedupe_key,omitempty"`
	AgentID           string          `json:"agent_id"`
	AttemptCount      int             `json:"attempt_count"`
	MaxAttempts       int             `json:"max_attempts"`
	RebaseCount       int             `json:"rebase_count"`
	AddedAt           time.Time       `json:"added_at"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	LastRebaseAt      *time.Time      `json:"last_rebase_at,omitempty"`
	StateChangedAt    time.Time       `json:"state_changed_at"`
	HeadSHA           string          `json:"head_sha,omitempty"`
	TestedAgainstSHA  string          `json:"tested_against_sha,omitempty"`
	ErrorMessage      string          `json:"error_message,omitempty"`
	ParentWorkspace   string          `json:"parent_workspace,omitempty"`
	StackDepth        int             `json:"stack_depth"`
	Dependents        []string        `json:"dependents"`
	StackRoot         string          `json:"stack_root,omitempty"`
	StackMergeState   StackMergeState `json:"stack_merge_state"`
	Version           int             `json:"version"`
}

// IsFresh reports whether the entry's tested_against_sha matches the current
// trunk head (spec §4.4 "is_fresh").
func (q *QueueEntry) IsFresh(currentTrunkSHA string) bool {
	return q.TestedAgainstSHA == currentTrunkSHA
}

// DependentsJSON marshals Dependents for storage; nil becomes "[]" per the
// spec §3 invariant ("dependents is valid JSON... default []").
func (q *QueueEntry) DependentsJSON() (string, error) {
	deps := q.Dependents
	if deps == nil {
		deps = []string{}
	}
	b, err := json.Marshal(deps)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// QueueAddResponse is the result of MergeQueue.add (spec §4.4).
type QueueAddResponse struct {
	Entry   QueueEntry `json:"entry"`
	Created bool       `json:"created"`
}

// ProcessingLock is the single-writer lease on the entire merge queue
// (spec §3 "ProcessingLock"). There is at most one row.
type ProcessingLock struct {
	HolderID   string    `json:"holder_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// IsExpired returns true if the processing lease has lapsed at instant now.
func (p *ProcessingLock) IsExpired(now time.Time) bool {
	return !p.ExpiresAt.After(now)
}

// QueueEventType enumerates the append-only audit events for a QueueEntry
// (spec §3 "QueueEvent"). See event_kinds.go for the string constants.
type QueueEventType string

// QueueEvent is an append-only audit entry for one QueueEntry (spec §3).
type QueueEvent struct {
	ID        int64           `json:"id"`
	QueueID   int64           `json:"queue_id"`
	EventType QueueEventType  `json:"event_type"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// ConflictDecider identifies who made a ConflictResolution decision.
type ConflictDecider string

const (
	ConflictDeciderAI    ConflictDecider = "ai"
	ConflictDeciderHuman ConflictDecider = "human"
)

// ConflictResolution is an audit record of one manual or AI-assisted
// resolution (spec §3 "ConflictResolution"). Written but not consulted by
// the core state machines; exposed for external review.
type ConflictResolution struct {
	ID         int64           `json:"id"`
	Session    string          `json:"session"`
	File       string          `json:"file"`
	Strategy   string          `json:"strategy"`
	Reason     string          `json:"reason,omitempty"`
	Confidence *float64        `json:"confidence,omitempty"`
	Decider    ConflictDecider `json:"decider"`
	CreatedAt  time.Time       `json:"created_at"`
}
