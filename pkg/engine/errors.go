package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies an error returned by the engine so that callers can
// branch on the failure without parsing messages.
type ErrorKind string

const (
	// KindConfiguration indicates a specification that cannot be resolved or
	// that the remote service rejected as invalid.
	KindConfiguration ErrorKind = "configuration"

	// KindConnection indicates the compute service could not be reached or
	// refused the request at the transport/auth level.
	KindConnection ErrorKind = "connection"

	// KindOperationFailed indicates a remote operation reached the failed state.
	KindOperationFailed ErrorKind = "operation_failed"

	// KindTimeout indicates a wait exceeded its deadline.
	KindTimeout ErrorKind = "timeout"

	// KindReconciliation indicates the observed remote state contradicts the
	// outcome an action was expected to produce.
	KindReconciliation ErrorKind = "reconciliation"
)

// ErrNotFound is returned (possibly wrapped) by ComputeAPI implementations
// when the addressed catlet or operation does not exist.
var ErrNotFound = errors.New("not found")

// Sentinels for errors.Is checks against a kind.
var (
	ErrConfiguration   = &Error{Kind: KindConfiguration}
	ErrConnection      = &Error{Kind: KindConnection}
	ErrOperationFailed = &Error{Kind: KindOperationFailed}
	ErrTimeout         = &Error{Kind: KindTimeout}
	ErrReconciliation  = &Error{Kind: KindReconciliation}
)

// Error is a classified engine error.
// nolint:revive // Error is the package's single error type
type Error struct {
	// Kind is the classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable description.
	Message string `json:"message"`

	// CatletID is the catlet related to the failure, if known.
	CatletID string `json:"catlet_id,omitempty"`

	// OperationID is the remote operation related to the failure, if known.
	OperationID string `json:"operation_id,omitempty"`

	// Operation is the last observed snapshot of the operation for tracker
	// failures and timeouts.
	Operation *Operation `json:"-"`

	// Details carries extra context, such as remote validation messages.
	Details []string `json:"details,omitempty"`

	// Err is the underlying cause.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Kind, e.Message)

	var ids []string
	if e.CatletID != "" {
		ids = append(ids, "catlet="+e.CatletID)
	}
	if e.OperationID != "" {
		ids = append(ids, "operation="+e.OperationID)
	}
	if len(ids) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(ids, ", "))
	}
	if len(e.Details) > 0 {
		fmt.Fprintf(&b, ": %s", strings.Join(e.Details, "; "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %s", e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithCatlet records the related catlet id.
func (e *Error) WithCatlet(id string) *Error {
	e.CatletID = id
	return e
}

// WithOperation records the related operation id.
func (e *Error) WithOperation(id string) *Error {
	e.OperationID = id
	return e
}

// WithSnapshot attaches the last observed operation snapshot.
func (e *Error) WithSnapshot(op *Operation) *Error {
	if op != nil {
		snapshot := op.Clone()
		e.Operation = snapshot
		if e.OperationID == "" {
			e.OperationID = op.ID
		}
	}
	return e
}

// WithDetail appends a detail line.
func (e *Error) WithDetail(detail string) *Error {
	e.Details = append(e.Details, detail)
	return e
}

// NewConfigurationError creates a configuration error.
func NewConfigurationError(message string, err error) *Error {
	return &Error{Kind: KindConfiguration, Message: message, Err: err}
}

// NewConnectionError creates a connection error.
func NewConnectionError(message string, err error) *Error {
	return &Error{Kind: KindConnection, Message: message, Err: err}
}

// NewOperationFailedError creates an error for a remote operation that
// finished in the failed state. The remote status message is kept verbatim.
func NewOperationFailedError(op *Operation) *Error {
	msg := "operation failed"
	if op != nil && op.StatusMessage != "" {
		msg = op.StatusMessage
	}
	return (&Error{Kind: KindOperationFailed, Message: msg}).WithSnapshot(op)
}

// NewTimeoutError creates a timeout error.
func NewTimeoutError(message string, err error) *Error {
	return &Error{Kind: KindTimeout, Message: message, Err: err}
}

// NewReconciliationError creates a reconciliation error.
func NewReconciliationError(message string, err error) *Error {
	return &Error{Kind: KindReconciliation, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsConfiguration returns true if err is a configuration error.
func IsConfiguration(err error) bool {
	return KindOf(err) == KindConfiguration
}

// IsConnection returns true if err is a connection error.
func IsConnection(err error) bool {
	return KindOf(err) == KindConnection
}

// IsOperationFailed returns true if err is a failed remote operation.
func IsOperationFailed(err error) bool {
	return KindOf(err) == KindOperationFailed
}

// IsTimeout returns true if err is a timeout.
func IsTimeout(err error) bool {
	return KindOf(err) == KindTimeout
}

// IsReconciliation returns true if err is a reconciliation error.
func IsReconciliation(err error) bool {
	return KindOf(err) == KindReconciliation
}

// IsNotFound returns true if err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// SnapshotOf returns the operation snapshot carried by err, if any.
func SnapshotOf(err error) *Operation {
	var e *Error
	if errors.As(err, &e) {
		return e.Operation
	}
	return nil
}
