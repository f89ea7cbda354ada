package store

import "github.com/lprior-repo/zjj/internal/models"

// RecoverableError is an alias for models.RecoverableError, kept here so
// callers that only import store still see the interface they assert
// against with errors.As. The closed taxonomy (SessionNotFoundError,
// LockHeldByOtherError, QueueProcessingBusyError, ...) lives in
// internal/models/errors.go — store only needs the interface plus the
// storage-layer-specific error below.
type RecoverableError = models.RecoverableError

// IdempotencyInProgressError is returned when a concurrent request with the
// same (agent_name, request_id) pair is still mid-flight: the row exists but
// its result_json has not yet been completed. Callers should back off and
// retry rather than treat this as a failure.
type IdempotencyInProgressError struct {
	AgentName string
	RequestID string
	Command   string
}

func (e *IdempotencyInProgressError) Error() string { return "idempotency in progress" }

func (e *IdempotencyInProgressError) ErrorCode() string { return "IDEMPOTENCY_IN_PROGRESS" }

func (e *IdempotencyInProgressError) Context() map[string]string {
	return map[string]string{
		"agent_name": e.AgentName,
		"request_id": e.RequestID,
		"command":    e.Command,
	}
}

func (e *IdempotencyInProgressError) SuggestedAction() string {
	return "wait and retry, or use a new --request-id"
}

func (e *IdempotencyInProgressError) Is(target error) bool {
	return target == ErrIdempotencyInProgress
}
