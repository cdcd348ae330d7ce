package domain

import "time"

// IngestionLogEntry captures one row level failure of a batch job.
type IngestionLogEntry struct {
	ID           int64          `json:"id"`
	JobID        int64          `json:"batch_upload_id"`
	Line         *int           `json:"line,omitempty"`
	OrganismKey  string         `json:"organism_key,omitempty"`
	Code         ValidationCode `json:"code"`
	ErrorMessage string         `json:"error_message"`
	CreatedAt    time.Time      `json:"created_at"`
}

// NewIngestionLogEntry converts a row validation error into a log entry for job.
func NewIngestionLogEntry(jobID int64, verr *ValidationError) IngestionLogEntry {
	entry := IngestionLogEntry{
		JobID:        jobID,
		OrganismKey:  verr.OrganismKey,
		Code:         verr.Code,
		ErrorMessage: verr.Message,
	}
	if verr.Line > 0 {
		line := verr.Line
		entry.Line = &line
	}
	return entry
}
