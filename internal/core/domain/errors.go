package domain

import (
	"errors"
	"fmt"
	"net"
)

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates an entity already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedType indicates an unknown connector kind.
	ErrUnsupportedType = errors.New("unsupported type")

	// Tenant Errors.

	// ErrMissingTenant indicates an operation was attempted without a tenant.
	// This is a programming error; it is never treated as "all tenants".
	ErrMissingTenant = errors.New("tenant id required")

	// ErrUnscopedQuery indicates a statement reached the store without a
	// tenant predicate.
	ErrUnscopedQuery = errors.New("query is not tenant scoped")

	// Job Errors.

	// ErrConflict indicates another job is already active for the source.
	ErrConflict = errors.New("job already active for source")

	// ErrInvalidTransition indicates an illegal job state change.
	ErrInvalidTransition = errors.New("invalid job state transition")

	// ErrSourceNotFound indicates a write referenced a source, document or
	// version row that was not durably committed.
	ErrSourceNotFound = errors.New("source not found")

	// ErrInUse indicates an entity cannot be deleted while referenced.
	ErrInUse = errors.New("in use")

	// Processing Errors.

	// ErrUnsupportedFormat indicates no processor handles the content type.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrEmbeddingUnavailable indicates the embedding model could not serve a request.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrDimensionMismatch indicates the model's vector size differs from
	// the configured dimension. It is fatal at startup.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// Connector Errors.

	// ErrConnectorValidation indicates the source is unreachable or misconfigured.
	ErrConnectorValidation = errors.New("connector validation failed")

	// ErrCredentialsUnavailable indicates a credentials reference could not be resolved.
	ErrCredentialsUnavailable = errors.New("credentials unavailable")
)

// TransientConnectorError wraps a failure worth retrying:
// timeouts, 5xx and 429 responses, connection resets.
type TransientConnectorError struct {
	Op  string
	Err error
}

func (e *TransientConnectorError) Error() string {
	return fmt.Sprintf("transient %s: %v", e.Op, e.Err)
}

func (e *TransientConnectorError) Unwrap() error {
	return e.Err
}

// TerminalItemError marks one item as permanently failed.
// The job records it and continues.
type TerminalItemError struct {
	ItemKey string
	Err     error
}

func (e *TerminalItemError) Error() string {
	if e.ItemKey == "" {
		return fmt.Sprintf("item failed: %v", e.Err)
	}
	return fmt.Sprintf("item %s failed: %v", e.ItemKey, e.Err)
}

func (e *TerminalItemError) Unwrap() error {
	return e.Err
}

// ExtractionError indicates malformed input for a processor.
type ExtractionError struct {
	Processor string
	Err       error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s extraction: %v", e.Processor, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// FatalJobError aborts the whole job.
type FatalJobError struct {
	Reason string
	Err    error
}

func (e *FatalJobError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *FatalJobError) Unwrap() error {
	return e.Err
}

// ConflictError reports the job that holds the source's active slot.
type ConflictError struct {
	SourceID    string
	ActiveJobID string
}

func (e *ConflictError) Error() string {
	if e.ActiveJobID == "" {
		return fmt.Sprintf("source %s: %v", e.SourceID, ErrConflict)
	}
	return fmt.Sprintf("source %s: %v (%s)", e.SourceID, ErrConflict, e.ActiveJobID)
}

// Is matches ErrConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// SourceNotFoundError reports the uncommitted parent row.
type SourceNotFoundError struct {
	Entity string
	ID     string
}

func (e *SourceNotFoundError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Entity, e.ID, ErrSourceNotFound)
}

// Is matches ErrSourceNotFound.
func (e *SourceNotFoundError) Is(target error) bool {
	return target == ErrSourceNotFound
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var te *TransientConnectorError
	return errors.As(err, &te)
}

// IsUnreachable reports whether err means the origin could not be
// reached at all: retries ran out or the transport failed before any
// response.
func IsUnreachable(err error) bool {
	var (
		op  *net.OpError
		dns *net.DNSError
	)
	return IsTransient(err) || errors.As(err, &op) || errors.As(err, &dns)
}

// IsItemScoped reports whether err should skip only the current item.
func IsItemScoped(err error) bool {
	if err == nil {
		return false
	}
	var (
		te *TerminalItemError
		ee *ExtractionError
	)
	return errors.As(err, &te) || errors.As(err, &ee) ||
		errors.Is(err, ErrUnsupportedFormat) || IsTransient(err)
}

// IsFatal reports whether err must abort the job.
func IsFatal(err error) bool {
	var fe *FatalJobError
	return errors.As(err, &fe) ||
		errors.Is(err, ErrSourceNotFound) ||
		errors.Is(err, ErrDimensionMismatch) ||
		errors.Is(err, ErrMissingTenant)
}
