package domain

import (
	"fmt"

	"github.com/go-faster/errors"
)

// ValidationCode classifies a terminal validation failure.
type ValidationCode string

const (
	CodeMissingIdentityColumn   ValidationCode = "MissingIdentityColumn"
	CodeUnknownHeaders          ValidationCode = "UnknownHeaders"
	CodeDuplicateHeaders        ValidationCode = "DuplicateHeaders"
	CodeMissingIdentity         ValidationCode = "MissingIdentity"
	CodeInvalidSpecies          ValidationCode = "InvalidSpecies"
	CodeInvalidProjectID        ValidationCode = "InvalidProjectId"
	CodeInvalidValue            ValidationCode = "InvalidValue"
	CodeDuplicateOrganism       ValidationCode = "DuplicateOrganism"
	CodeIncompleteNewOrganism   ValidationCode = "IncompleteNewOrganism"
	CodeInvalidDeleteParameters ValidationCode = "InvalidDeleteParameters"
	CodeInvalidBatchType        ValidationCode = "InvalidBatchType"
	CodeUnsupportedFormat       ValidationCode = "UnsupportedFormat"
	CodeEmptyFile               ValidationCode = "EmptyFile"
	CodeUnreadableFile          ValidationCode = "UnreadableFile"
)

// ValidationError is a user-facing failure that ends a job without any
// mutation being committed. Line is the 1-based line of the offending record
// in the submitted file, or zero when the failure is not tied to a row.
type ValidationError struct {
	Code        ValidationCode
	Line        int
	OrganismKey string
	Headers     []string
	Message     string
}

func (e *ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return e.Message
}

// Is matches any ValidationError carrying the same code, so sentinel values
// such as ErrMissingIdentityColumn work with errors.Is.
func (e *ValidationError) Is(target error) bool {
	var other *ValidationError
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code && other.Message == ""
}

// Sentinels for errors.Is checks against ValidationError codes.
var (
	ErrMissingIdentityColumn   = &ValidationError{Code: CodeMissingIdentityColumn}
	ErrUnknownHeaders          = &ValidationError{Code: CodeUnknownHeaders}
	ErrInvalidSpecies          = &ValidationError{Code: CodeInvalidSpecies}
	ErrInvalidProjectID        = &ValidationError{Code: CodeInvalidProjectID}
	ErrInvalidValue            = &ValidationError{Code: CodeInvalidValue}
	ErrIncompleteNewOrganism   = &ValidationError{Code: CodeIncompleteNewOrganism}
	ErrInvalidDeleteParameters = &ValidationError{Code: CodeInvalidDeleteParameters}
	ErrDuplicateOrganism       = &ValidationError{Code: CodeDuplicateOrganism}
)

// ApplyError wraps a store failure raised inside the apply transaction.
type ApplyError struct {
	Step string
	Err  error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// NewApplyError tags err with the apply step that raised it. Validation
// errors and invariant violations pass through untouched.
func NewApplyError(step string, err error) error {
	if err == nil {
		return nil
	}
	var validation *ValidationError
	var invariant *InvariantViolation
	if errors.As(err, &validation) || errors.As(err, &invariant) {
		return err
	}
	return &ApplyError{Step: step, Err: err}
}

// InvariantViolation signals a bug in the engine rather than bad input.
type InvariantViolation struct {
	Message string
}

func (e *InvariantViolation) Error() string {
	return "internal error: " + e.Message
}

// NewInvariantViolation formats an InvariantViolation.
func NewInvariantViolation(format string, args ...any) error {
	return &InvariantViolation{Message: fmt.Sprintf(format, args...)}
}

// FailureKind groups job failures for logging and metrics.
type FailureKind string

const (
	FailureValidation FailureKind = "validation"
	FailureApply      FailureKind = "apply"
	FailureInvariant  FailureKind = "invariant"
	FailureInternal   FailureKind = "internal"
)

// ClassifyFailure maps an error onto the failure taxonomy.
func ClassifyFailure(err error) FailureKind {
	var invariant *InvariantViolation
	if errors.As(err, &invariant) {
		return FailureInvariant
	}
	var validation *ValidationError
	if errors.As(err, &validation) {
		return FailureValidation
	}
	var apply *ApplyError
	if errors.As(err, &apply) {
		return FailureApply
	}
	return FailureInternal
}
