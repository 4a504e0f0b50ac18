package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/careerassist-ai/careerassist/constants"
)

// Job represents one asynchronous analysis job for data transfer between layers.
// InputData is immutable after creation; payload slots are append-only and each
// is written at most once by the orchestrator.
type Job struct {
	ID                 uuid.UUID           `json:"id"`
	UserID             uuid.UUID           `json:"user_id"`
	JobType            constants.JobType   `json:"job_type"`
	Status             constants.JobStatus `json:"status"`
	InputData          json.RawMessage     `json:"input_data,omitempty"`
	ExtractorPayload   json.RawMessage     `json:"extractor_payload,omitempty"`
	AnalyzerPayload    json.RawMessage     `json:"analyzer_payload,omitempty"`
	InterviewerPayload json.RawMessage     `json:"interviewer_payload,omitempty"`
	CharterPayload     json.RawMessage     `json:"charter_payload,omitempty"`
	SummaryPayload     json.RawMessage     `json:"summary_payload,omitempty"`
	ErrorMessage       *string             `json:"error_message,omitempty"`
	ProgressPercentage int                 `json:"progress_percentage"`
	CreatedAt          time.Time           `json:"created_at"`
	StartedAt          *time.Time          `json:"started_at,omitempty"`
	CompletedAt        *time.Time          `json:"completed_at,omitempty"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// StagePayload returns the payload slot for the named stage, or nil when the
// stage has not produced a result yet.
func (j *Job) StagePayload(stage constants.Stage) json.RawMessage {
	switch stage {
	case constants.StageExtract:
		return j.ExtractorPayload
	case constants.StageAnalyze:
		return j.AnalyzerPayload
	case constants.StageInterview:
		return j.InterviewerPayload
	case constants.StageChart:
		return j.CharterPayload
	case constants.StageSummary:
		return j.SummaryPayload
	}
	return nil
}
