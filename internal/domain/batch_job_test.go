package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJobStatusTransitions(t *testing.T) {
	require.True(t, JobStatusSubmitted.CanTransitionTo(JobStatusRunning))
	require.True(t, JobStatusRunning.CanTransitionTo(JobStatusCompleted))
	require.True(t, JobStatusRunning.CanTransitionTo(JobStatusFailed))

	require.False(t, JobStatusSubmitted.CanTransitionTo(JobStatusCompleted))
	require.False(t, JobStatusRunning.CanTransitionTo(JobStatusCancelled))
	require.False(t, JobStatusCompleted.CanTransitionTo(JobStatusFailed))
	require.False(t, JobStatusFailed.CanTransitionTo(JobStatusRunning))
	require.False(t, JobStatusCancelled.CanTransitionTo(JobStatusRunning))

	require.True(t, JobStatusCancelled.IsTerminal())
	require.False(t, JobStatusRunning.IsTerminal())
}

func TestValidationErrorMatchesSentinelByCode(t *testing.T) {
	err := fmt.Errorf("header check: %w", &ValidationError{
		Code:    CodeMissingIdentityColumn,
		Message: "Required column ORGANISM ID not found.",
	})

	require.True(t, errors.Is(err, ErrMissingIdentityColumn))
	require.False(t, errors.Is(err, ErrUnknownHeaders))
}

func TestClassifyFailure(t *testing.T) {
	require.Equal(t, FailureValidation, ClassifyFailure(&ValidationError{Code: CodeInvalidSpecies, Message: "x"}))
	require.Equal(t, FailureApply, ClassifyFailure(NewApplyError("insert property value", errors.New("boom"))))
	require.Equal(t, FailureInvariant, ClassifyFailure(NewInvariantViolation("organism %q unresolved", "A1")))
	require.Equal(t, FailureInternal, ClassifyFailure(errors.New("disk full")))

	wrapped := NewApplyError("resolve identities", NewInvariantViolation("missing id"))
	require.Equal(t, FailureInvariant, ClassifyFailure(wrapped))
}

func TestPropertyAllowedValues(t *testing.T) {
	list := "red/green/blue"
	require.Equal(t, []string{"red", "green", "blue"}, Property{PreDefinedValues: &list}.AllowedValues())
	require.Nil(t, Property{}.AllowedValues())
}
