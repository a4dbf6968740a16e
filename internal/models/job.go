package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents conversion job lifecycle.
type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further status transitions are permitted.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is one conversion request's tracked lifecycle record. InputPath and
// OutputPath are fixed at creation; OutputFileName is set only on
// completion and Error only on failure. Jobs live in memory for the
// process lifetime and do not survive a restart.
type Job struct {
	ID             string    `json:"id"`
	UserID         uuid.UUID `json:"user_id"`
	Status         JobStatus `json:"status"`
	Progress       int       `json:"progress"` // 0-100
	InputPath      string    `json:"-"`
	OutputPath     string    `json:"-"`
	OutputFileName string    `json:"output_file_name,omitempty"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
