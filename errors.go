package engram

import (
	"errors"
	"fmt"
)

// ConfigurationError indicates an invalid configuration value.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + e.Message
}

// ValidationError indicates that input to a public operation failed
// validation. Validation errors are raised before any state is touched.
type ValidationError struct {
	Message string
	Field   string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %q: %s", e.Field, e.Message)
	}
	return "validation failed: " + e.Message
}

// StorageError indicates a failed storage operation.
type StorageError struct {
	Operation string
	Cause     error
}

func (e *StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("storage operation %q failed: %v", e.Operation, e.Cause)
	}
	return fmt.Sprintf("storage operation %q failed", e.Operation)
}

func (e *StorageError) Unwrap() error { return e.Cause }

// NewStorageError wraps an underlying error with the operation name.
func NewStorageError(operation string, cause error) *StorageError {
	return &StorageError{Operation: operation, Cause: cause}
}

// ProviderError indicates a failed embedder or reflector call. Retryable
// errors (connection failures, timeouts, 429/5xx-equivalents) may be retried
// under the configured retry policy; non-retryable errors abort immediately.
type ProviderError struct {
	Provider  string
	Message   string
	Retryable bool
	Cause     error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("provider %q error: %s", e.Provider, e.Message)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// IsRetryable reports whether err is a retryable provider error.
func IsRetryable(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable
}

// TokenBudgetExceededError indicates that the minimum required context does
// not fit the requested token budget.
type TokenBudgetExceededError struct {
	Budget   int
	Required int
}

func (e *TokenBudgetExceededError) Error() string {
	return fmt.Sprintf("token budget %d exceeded: %d tokens required", e.Budget, e.Required)
}

// SessionNotFoundError indicates a lookup for a session that does not exist.
type SessionNotFoundError struct {
	SessionID string
}

func (e *SessionNotFoundError) Error() string {
	return "session not found: " + e.SessionID
}

// EpisodeNotFoundError indicates a lookup for an episode that does not exist.
type EpisodeNotFoundError struct {
	EpisodeID string
}

func (e *EpisodeNotFoundError) Error() string {
	return "episode not found: " + e.EpisodeID
}

// TurnNotFoundError indicates a lookup for a turn that does not exist.
type TurnNotFoundError struct {
	TurnID string
}

func (e *TurnNotFoundError) Error() string {
	return "turn not found: " + e.TurnID
}

// IsNotFound reports whether err is any of the not-found error types.
func IsNotFound(err error) bool {
	var (
		se *SessionNotFoundError
		ee *EpisodeNotFoundError
		te *TurnNotFoundError
	)
	return errors.As(err, &se) || errors.As(err, &ee) || errors.As(err, &te)
}

// ReflectionError indicates a failed reflection run.
type ReflectionError struct {
	EpisodeID string
	Cause     error
}

func (e *ReflectionError) Error() string {
	return fmt.Sprintf("reflection failed for episode %s: %v", e.EpisodeID, e.Cause)
}

func (e *ReflectionError) Unwrap() error { return e.Cause }

// RetryExhaustedError indicates that an operation failed after all retry
// attempts.
type RetryExhaustedError struct {
	Attempts  int
	LastError error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("all %d retry attempts exhausted: %v", e.Attempts, e.LastError)
}

func (e *RetryExhaustedError) Unwrap() error { return e.LastError }
