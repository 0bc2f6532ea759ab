package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusIdle      = "idle"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// JobRequest is a normalized submission. It is not modified after it has
// been handed to the executor.
type JobRequest struct {
	Kind      AnalysisKind
	Params    map[string]any
	RequestID string
}

// JobState is the process-wide execution slot.
type JobState struct {
	Status     string
	Kind       AnalysisKind
	JobID      uuid.UUID
	RequestID  string
	StartedAt  time.Time
	FinishedAt time.Time
	Error      string
}

// Running reports whether the slot is taken.
func (s JobState) Running() bool { return s.Status == JobStatusRunning }

// ResultEnvelope is an opaque analysis payload with its provenance.
type ResultEnvelope struct {
	JobID     uuid.UUID       `json:"job_id"`
	RequestID string          `json:"request_id,omitempty"`
	Kind      AnalysisKind    `json:"analysis"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	Source    DataSource      `json:"source"`
}

// AnalysisStatus is the answer of GET /api/v1/analysis/status. State is the
// status of the current or most recent job.
type AnalysisStatus struct {
	Busy            bool          `json:"busy"`
	State           string        `json:"state"`
	CurrentAnalysis *AnalysisKind `json:"current_analysis"`
	JobID           *uuid.UUID    `json:"job_id,omitempty"`
	RequestID       string        `json:"request_id,omitempty"`
	StartedAt       *time.Time    `json:"started_at,omitempty"`
	HasResult       bool          `json:"has_result"`
	LastError       *string       `json:"last_error"`
}

// Job is the durable history record of one execution. Rows are written when
// a job starts and updated once when it finishes.
type Job struct {
	ID           uuid.UUID       `db:"id"            json:"id"`
	Kind         AnalysisKind    `db:"kind"          json:"kind"`
	Status       string          `db:"status"        json:"status"`
	RequestID    *string         `db:"request_id"    json:"request_id,omitempty"`
	Params       json.RawMessage `db:"params"        json:"params"`
	Source       *DataSource     `db:"source"        json:"source,omitempty"`
	Result       json.RawMessage `db:"result"        json:"-"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	StartedAt    *time.Time      `db:"started_at"    json:"started_at,omitempty"`
	CompletedAt  *time.Time      `db:"completed_at"  json:"completed_at,omitempty"`
	CreatedAt    time.Time       `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"    json:"updated_at"`
}

// Envelope rebuilds the result envelope of a completed job, or returns false
// if the job has no stored result.
func (j *Job) Envelope() (ResultEnvelope, bool) {
	if j.Status != JobStatusCompleted || len(j.Result) == 0 || j.CompletedAt == nil {
		return ResultEnvelope{}, false
	}
	env := ResultEnvelope{
		JobID:     j.ID,
		Kind:      j.Kind,
		Data:      j.Result,
		Timestamp: *j.CompletedAt,
	}
	if j.RequestID != nil {
		env.RequestID = *j.RequestID
	}
	if j.Source != nil {
		env.Source = *j.Source
	}
	return env, true
}
