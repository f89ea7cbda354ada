package models

import (
	"errors"
	"fmt"
)

// RecoverableError is implemented by enriched errors that carry structured
// context and remediation hints. Both the store and output packages use this
// interface to avoid an import cycle.
type RecoverableError interface {
	error
	ErrorCode() string
	Context() map[string]string
	SuggestedAction() string
}

// Sentinel errors for the closed taxonomy in spec §7. Each has a matching
// concrete *Error struct below that implements RecoverableError and Is(target)
// against the sentinel, so callers can use either errors.Is or errors.As.
var (
	ErrSessionNotFound        = fmt.Errorf("session not found")
	ErrSessionAlreadyExists   = fmt.Errorf("session already exists")
	ErrSessionNameInvalid     = fmt.Errorf("session name invalid")
	ErrSessionInUse           = fmt.Errorf("session in use")
	ErrInvalidStateTransition = fmt.Errorf("invalid state transition")

	ErrAgentNotFound         = fmt.Errorf("agent not found")
	ErrAgentAlreadyRegistered = fmt.Errorf("agent already registered")

	ErrLockHeldByOther = fmt.Errorf("lock held by another holder")
	ErrLockNotHeld     = fmt.Errorf("lock not held")
	ErrLockExpired     = fmt.Errorf("lock expired")

	ErrQueueEntryNotFound  = fmt.Errorf("queue entry not found")
	ErrQueueDuplicate      = fmt.Errorf("queue entry duplicate")
	ErrQueueNotRetryable   = fmt.Errorf("queue entry not retryable")
	ErrQueueAlreadyTerminal = fmt.Errorf("queue entry already terminal")
	ErrQueueProcessingBusy = fmt.Errorf("queue processing busy")

	ErrWorkspaceConflict        = fmt.Errorf("workspace conflict")
	ErrWorkspaceNoCommonAncestor = fmt.Errorf("workspace has no common ancestor")
	ErrWorkspaceIO              = fmt.Errorf("workspace io error")

	ErrStateDBCorrupted = fmt.Errorf("state database corrupted")
	ErrStateDBLocked    = fmt.Errorf("state database locked")
	ErrIOError          = fmt.Errorf("io error")
	ErrInvalidConfig    = fmt.Errorf("invalid config")
)

// baseError is the shared implementation backing every taxonomy error below:
// a fixed error code, a context map rendered from named fields, a suggested
// remediation string, and Is() against one sentinel.
type baseError struct {
	code      string
	message   string
	context   map[string]string
	suggested string
	sentinel  error
}

func (e *baseError) Error() string                    { return e.message }
func (e *baseError) ErrorCode() string                { return e.code }
func (e *baseError) Context() map[string]string       { return e.context }
func (e *baseError) SuggestedAction() string          { return e.suggested }
func (e *baseError) Is(target error) bool             { return target == e.sentinel }

// SessionNotFoundError: SESSION_NOT_FOUND.
type SessionNotFoundError struct{ baseError }

func NewSessionNotFoundError(name string) *SessionNotFoundError {
	return &SessionNotFoundError{baseError{
		code:      "SESSION_NOT_FOUND",
		message:   fmt.Sprintf("session %q not found", name),
		context:   map[string]string{"name": name},
		suggested: "check the session name with 'zjj session list'",
		sentinel:  ErrSessionNotFound,
	}}
}

// SessionAlreadyExistsError: SESSION_ALREADY_EXISTS.
type SessionAlreadyExistsError struct{ baseError }

func NewSessionAlreadyExistsError(name string) *SessionAlreadyExistsError {
	return &SessionAlreadyExistsError{baseError{
		code:      "SESSION_ALREADY_EXISTS",
		message:   fmt.Sprintf("session %q already exists", name),
		context:   map[string]string{"name": name},
		suggested: "choose a different session name or reuse the existing one",
		sentinel:  ErrSessionAlreadyExists,
	}}
}

// SessionNameInvalidError: SESSION_NAME_INVALID.
type SessionNameInvalidError struct{ baseError }

func NewSessionNameInvalidError(name, reason string) *SessionNameInvalidError {
	return &SessionNameInvalidError{baseError{
		code:      "SESSION_NAME_INVALID",
		message:   fmt.Sprintf("session name %q invalid: %s", name, reason),
		context:   map[string]string{"name": name, "reason": reason},
		suggested: "use a name matching the allowed session name pattern",
		sentinel:  ErrSessionNameInvalid,
	}}
}

// SessionInUseError: SESSION_IN_USE.
type SessionInUseError struct{ baseError }

func NewSessionInUseError(name, holder string) *SessionInUseError {
	return &SessionInUseError{baseError{
		code:      "SESSION_IN_USE",
		message:   fmt.Sprintf("session %q is in use by %q", name, holder),
		context:   map[string]string{"name": name, "holder": holder},
		suggested: "wait for the current holder to release the session lock",
		sentinel:  ErrSessionInUse,
	}}
}

// InvalidStateTransitionError: INVALID_STATE_TRANSITION.
type InvalidStateTransitionError struct{ baseError }

func NewInvalidStateTransitionError(entity, from, to string) *InvalidStateTransitionError {
	return &InvalidStateTransitionError{baseError{
		code:    "INVALID_STATE_TRANSITION",
		message: fmt.Sprintf("%s: invalid transition from %q to %q", entity, from, to),
		context: map[string]string{
			"entity": entity,
			"from":   from,
			"to":     to,
		},
		suggested: "reload current state and retry from a valid transition",
		sentinel:  ErrInvalidStateTransition,
	}}
}

// AgentNotFoundError: AGENT_NOT_FOUND.
type AgentNotFoundError struct{ baseError }

func NewAgentNotFoundError(agentID string) *AgentNotFoundError {
	return &AgentNotFoundError{baseError{
		code:      "AGENT_NOT_FOUND",
		message:   fmt.Sprintf("agent %q not found", agentID),
		context:   map[string]string{"agent_id": agentID},
		suggested: "register the agent before using it",
		sentinel:  ErrAgentNotFound,
	}}
}

// AgentAlreadyRegisteredError: AGENT_ALREADY_REGISTERED.
type AgentAlreadyRegisteredError struct{ baseError }

func NewAgentAlreadyRegisteredError(agentID string) *AgentAlreadyRegisteredError {
	return &AgentAlreadyRegisteredError{baseError{
		code:      "AGENT_ALREADY_REGISTERED",
		message:   fmt.Sprintf("agent %q already registered", agentID),
		context:   map[string]string{"agent_id": agentID},
		suggested: "reuse the existing registration or deregister it first",
		sentinel:  ErrAgentAlreadyRegistered,
	}}
}

// LockHeldByOtherError: LOCK_HELD_BY_OTHER{holder, expires_at}.
type LockHeldByOtherError struct{ baseError }

func NewLockHeldByOtherError(resource, holder, expiresAt string) *LockHeldByOtherError {
	return &LockHeldByOtherError{baseError{
		code:    "LOCK_HELD_BY_OTHER",
		message: fmt.Sprintf("lock on %q held by %q until %s", resource, holder, expiresAt),
		context: map[string]string{
			"resource":   resource,
			"holder":     holder,
			"expires_at": expiresAt,
		},
		suggested: "wait for the lock to expire or be released",
		sentinel:  ErrLockHeldByOther,
	}}
}

// LockNotHeldError: LOCK_NOT_HELD.
type LockNotHeldError struct{ baseError }

func NewLockNotHeldError(resource string) *LockNotHeldError {
	return &LockNotHeldError{baseError{
		code:      "LOCK_NOT_HELD",
		message:   fmt.Sprintf("lock on %q is not held", resource),
		context:   map[string]string{"resource": resource},
		suggested: "acquire the lock before performing this operation",
		sentinel:  ErrLockNotHeld,
	}}
}

// LockExpiredError: LOCK_EXPIRED.
type LockExpiredError struct{ baseError }

func NewLockExpiredError(resource string) *LockExpiredError {
	return &LockExpiredError{baseError{
		code:      "LOCK_EXPIRED",
		message:   fmt.Sprintf("lock on %q expired", resource),
		context:   map[string]string{"resource": resource},
		suggested: "reacquire the lock before retrying",
		sentinel:  ErrLockExpired,
	}}
}

// QueueEntryNotFoundError: QUEUE_ENTRY_NOT_FOUND.
type QueueEntryNotFoundError struct{ baseError }

func NewQueueEntryNotFoundError(id string) *QueueEntryNotFoundError {
	return &QueueEntryNotFoundError{baseError{
		code:      "QUEUE_ENTRY_NOT_FOUND",
		message:   fmt.Sprintf("queue entry %q not found", id),
		context:   map[string]string{"id": id},
		suggested: "check the queue entry id with 'zjj queue get <id>'",
		sentinel:  ErrQueueEntryNotFound,
	}}
}

// QueueDuplicateError: QUEUE_DUPLICATE.
type QueueDuplicateError struct{ baseError }

func NewQueueDuplicateError(workspace string) *QueueDuplicateError {
	return &QueueDuplicateError{baseError{
		code:      "QUEUE_DUPLICATE",
		message:   fmt.Sprintf("workspace %q already has an active queue entry", workspace),
		context:   map[string]string{"workspace": workspace},
		suggested: "cancel or resolve the existing entry before re-submitting",
		sentinel:  ErrQueueDuplicate,
	}}
}

// QueueNotRetryableError: QUEUE_NOT_RETRYABLE.
type QueueNotRetryableError struct{ baseError }

func NewQueueNotRetryableError(id, reason string) *QueueNotRetryableError {
	return &QueueNotRetryableError{baseError{
		code:      "QUEUE_NOT_RETRYABLE",
		message:   fmt.Sprintf("queue entry %q is not retryable: %s", id, reason),
		context:   map[string]string{"id": id, "reason": reason},
		suggested: "resolve the underlying failure before retrying",
		sentinel:  ErrQueueNotRetryable,
	}}
}

// QueueAlreadyTerminalError: QUEUE_ALREADY_TERMINAL.
type QueueAlreadyTerminalError struct{ baseError }

func NewQueueAlreadyTerminalError(id, status string) *QueueAlreadyTerminalError {
	return &QueueAlreadyTerminalError{baseError{
		code:      "QUEUE_ALREADY_TERMINAL",
		message:   fmt.Sprintf("queue entry %q is already terminal (%s)", id, status),
		context:   map[string]string{"id": id, "status": status},
		suggested: "submit a new queue entry instead",
		sentinel:  ErrQueueAlreadyTerminal,
	}}
}

// QueueProcessingBusyError: QUEUE_PROCESSING_BUSY.
type QueueProcessingBusyError struct{ baseError }

func NewQueueProcessingBusyError() *QueueProcessingBusyError {
	return &QueueProcessingBusyError{baseError{
		code:      "QUEUE_PROCESSING_BUSY",
		message:   "the merge queue processing lease is currently held",
		context:   map[string]string{},
		suggested: "yield and retry; this condition is benign",
		sentinel:  ErrQueueProcessingBusy,
	}}
}

// WorkspaceConflictError: WORKSPACE_CONFLICT.
type WorkspaceConflictError struct{ baseError }

func NewWorkspaceConflictError(workspace string) *WorkspaceConflictError {
	return &WorkspaceConflictError{baseError{
		code:      "WORKSPACE_CONFLICT",
		message:   fmt.Sprintf("rebase conflict in workspace %q", workspace),
		context:   map[string]string{"workspace": workspace},
		suggested: "resolve the conflict manually in the workspace checkout",
		sentinel:  ErrWorkspaceConflict,
	}}
}

// WorkspaceNoCommonAncestorError: WORKSPACE_NO_COMMON_ANCESTOR.
type WorkspaceNoCommonAncestorError struct{ baseError }

func NewWorkspaceNoCommonAncestorError(workspace, target string) *WorkspaceNoCommonAncestorError {
	return &WorkspaceNoCommonAncestorError{baseError{
		code:    "WORKSPACE_NO_COMMON_ANCESTOR",
		message: fmt.Sprintf("workspace %q has no common ancestor with %q", workspace, target),
		context: map[string]string{
			"workspace": workspace,
			"target":    target,
		},
		suggested: "rebuild the workspace from a current trunk checkout",
		sentinel:  ErrWorkspaceNoCommonAncestor,
	}}
}

// WorkspaceIOError: WORKSPACE_IO.
type WorkspaceIOError struct{ baseError }

func NewWorkspaceIOError(workspace, detail string) *WorkspaceIOError {
	return &WorkspaceIOError{baseError{
		code:    "WORKSPACE_IO",
		message: fmt.Sprintf("workspace %q io error: %s", workspace, detail),
		context: map[string]string{
			"workspace": workspace,
			"detail":    detail,
		},
		suggested: "retry; this is a transient I/O condition",
		sentinel:  ErrWorkspaceIO,
	}}
}

// StateDBCorruptedError: STATE_DB_CORRUPTED.
type StateDBCorruptedError struct{ baseError }

func NewStateDBCorruptedError(detail string) *StateDBCorruptedError {
	return &StateDBCorruptedError{baseError{
		code:      "STATE_DB_CORRUPTED",
		message:   fmt.Sprintf("state database corrupted: %s", detail),
		context:   map[string]string{"detail": detail},
		suggested: "restore the state database from a known-good backup",
		sentinel:  ErrStateDBCorrupted,
	}}
}

// StateDBLockedError: STATE_DB_LOCKED.
type StateDBLockedError struct{ baseError }

func NewStateDBLockedError() *StateDBLockedError {
	return &StateDBLockedError{baseError{
		code:      "STATE_DB_LOCKED",
		message:   "state database is locked",
		context:   map[string]string{},
		suggested: "retry; this is a transient condition",
		sentinel:  ErrStateDBLocked,
	}}
}

// IOError: IO_ERROR.
type IOError struct{ baseError }

func NewIOError(detail string) *IOError {
	return &IOError{baseError{
		code:      "IO_ERROR",
		message:   fmt.Sprintf("io error: %s", detail),
		context:   map[string]string{"detail": detail},
		suggested: "retry; this may be a transient condition",
		sentinel:  ErrIOError,
	}}
}

// InvalidConfigError: INVALID_CONFIG.
type InvalidConfigError struct{ baseError }

func NewInvalidConfigError(field, detail string) *InvalidConfigError {
	return &InvalidConfigError{baseError{
		code:    "INVALID_CONFIG",
		message: fmt.Sprintf("invalid config %q: %s", field, detail),
		context: map[string]string{
			"field":  field,
			"detail": detail,
		},
		suggested: "fix the config value and reload",
		sentinel:  ErrInvalidConfig,
	}}
}

// ExitCodeForError maps a taxonomy error to the CLI exit code from spec §6:
// 0 success, 1 user error, 2 system error, 3 not-found, 4 invalid state.
func ExitCodeForError(err error) int {
	switch {
	case err == nil:
		return 0
	case isSentinel(err, ErrSessionNotFound, ErrAgentNotFound, ErrQueueEntryNotFound):
		return 3
	case isSentinel(err, ErrInvalidStateTransition, ErrSessionInUse, ErrLockHeldByOther,
		ErrLockNotHeld, ErrLockExpired, ErrQueueNotRetryable, ErrQueueAlreadyTerminal,
		ErrQueueProcessingBusy, ErrWorkspaceConflict, ErrWorkspaceNoCommonAncestor):
		return 4
	case isSentinel(err, ErrStateDBCorrupted, ErrStateDBLocked, ErrIOError, ErrWorkspaceIO):
		return 2
	default:
		return 1
	}
}

func isSentinel(err error, sentinels ...error) bool {
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}

// IsRetryable reports whether the error taxonomy classifies err as a
// transient condition the worker should retry (spec §7 propagation rules).
func IsRetryable(err error) bool {
	return isSentinel(err, ErrWorkspaceIO, ErrStateDBLocked, ErrQueueProcessingBusy, ErrWorkspaceConflict)
}
