package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a batch job. The numeric values match the
// codes persisted in batch_upload.status.
type JobStatus int

const (
	JobStatusSubmitted JobStatus = 1
	JobStatusRunning   JobStatus = 2
	JobStatusCompleted JobStatus = 3
	JobStatusCancelled JobStatus = 4
	JobStatusFailed    JobStatus = 5
)

func (s JobStatus) String() string {
	switch s {
	case JobStatusSubmitted:
		return "Submitted"
	case JobStatusRunning:
		return "Running"
	case JobStatusCompleted:
		return "Completed"
	case JobStatusCancelled:
		return "Cancelled"
	case JobStatusFailed:
		return "Failed"
	default:
		return fmt.Sprintf("JobStatus(%d)", int(s))
	}
}

// IsTerminal reports whether no further transition is possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// CanTransitionTo enforces the monotonic job state machine. CANCELLED is only
// reachable through external tooling and is not accepted here.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusSubmitted:
		return next == JobStatusRunning
	case JobStatusRunning:
		return next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// BatchType selects the pipeline a job runs through.
type BatchType int

const (
	BatchTypeUpload BatchType = 1
	BatchTypeDelete BatchType = 2
)

func (t BatchType) String() string {
	switch t {
	case BatchTypeUpload:
		return "upload"
	case BatchTypeDelete:
		return "delete"
	default:
		return fmt.Sprintf("BatchType(%d)", int(t))
	}
}

// Valid reports whether the batch type is one the engine knows how to run.
func (t BatchType) Valid() bool {
	return t == BatchTypeUpload || t == BatchTypeDelete
}

// BatchJob is one submitted request to ingest or delete organism data from a file.
type BatchJob struct {
	ID                  int64           `json:"id"`
	OriginalFileName    string          `json:"file_name"`
	StoredFileName      string          `json:"internal_file_name"`
	Parameters          json.RawMessage `json:"parameters,omitempty"`
	BatchType           BatchType       `json:"batch_type_id"`
	BatchTypeName       string          `json:"batch_type,omitempty"`
	SubmittedByPersonID int64           `json:"uploaded_by_person_id"`
	SubmittedBy         string          `json:"uploaded_by,omitempty"`
	Status              JobStatus       `json:"status_id"`
	BatchName           string          `json:"batch_name"`
	DateSubmitted       time.Time       `json:"date_submitted"`
	DateStarted         *time.Time      `json:"date_started,omitempty"`
	DateCompleted       *time.Time      `json:"date_completed,omitempty"`
	Logs                *string         `json:"logs,omitempty"`
}

// NewBatchJob creates a job in the SUBMITTED state.
func NewBatchJob(originalFileName, storedFileName string, batchType BatchType, personID int64, batchName string, parameters json.RawMessage) BatchJob {
	return BatchJob{
		OriginalFileName:    originalFileName,
		StoredFileName:      storedFileName,
		Parameters:          parameters,
		BatchType:           batchType,
		SubmittedByPersonID: personID,
		Status:              JobStatusSubmitted,
		BatchName:           batchName,
		DateSubmitted:       time.Now(),
	}
}

// StatusName is the display label used by job listings.
func (j BatchJob) StatusName() string {
	return j.Status.String()
}
