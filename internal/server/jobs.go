package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/careerassist-ai/careerassist/constants"
	"github.com/careerassist-ai/careerassist/internal/common"
	"github.com/careerassist-ai/careerassist/internal/entity"
	"github.com/careerassist-ai/careerassist/internal/queue"
	"github.com/careerassist-ai/careerassist/internal/repository"
)

const defaultListLimit = 50

// acceptedMessages is the human-facing line returned with each 202.
var acceptedMessages = map[constants.JobType]string{
	constants.JobTypeCVParse:       "Your CV is being parsed. Poll the job for the structured profile.",
	constants.JobTypeJobParse:      "The job posting is being parsed. Poll the job for the structured profile.",
	constants.JobTypeGapAnalysis:   "Your gap analysis is being prepared. Poll the job for results.",
	constants.JobTypeCVRewrite:     "Your tailored CV rewrite is being prepared. Poll the job for results.",
	constants.JobTypeInterviewPrep: "Your interview preparation pack is being generated. Poll the job for results.",
	constants.JobTypeFullAnalysis:  "Your full analysis is running. Poll the job for progress and results.",
}

type createJobRequest struct {
	JobType string `json:"job_type"`
	CVText  string `json:"cv_text,omitempty"`
	JobText string `json:"job_text,omitempty"`
}

type createJobResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// jobResponse is the client view of a job row. Stage payloads are embedded
// verbatim; absent stages are omitted rather than null.
type jobResponse struct {
	ID                 string          `json:"id"`
	JobType            string          `json:"job_type"`
	Status             string          `json:"status"`
	ProgressPercentage int             `json:"progress_percentage"`
	ErrorMessage       *string         `json:"error_message,omitempty"`
	ExtractorPayload   json.RawMessage `json:"extractor_payload,omitempty"`
	AnalyzerPayload    json.RawMessage `json:"analyzer_payload,omitempty"`
	InterviewerPayload json.RawMessage `json:"interviewer_payload,omitempty"`
	CharterPayload     json.RawMessage `json:"charter_payload,omitempty"`
	SummaryPayload     json.RawMessage `json:"summary_payload,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	StartedAt          *time.Time      `json:"started_at,omitempty"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.principal(w, r)
	if !ok {
		return
	}

	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	jobType := constants.JobType(strings.TrimSpace(req.JobType))
	if !constants.ValidJobType(string(jobType)) {
		writeError(w, http.StatusBadRequest, "unknown job_type")
		return
	}
	if msg := validateInput(jobType, req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	input, err := json.Marshal(map[string]string{
		"cv_text":  req.CVText,
		"job_text": req.JobText,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode input failed")
		return
	}

	job, err := s.store.Create(r.Context(), repository.CreateJobParams{
		UserID:    userID,
		JobType:   jobType,
		InputData: input,
	})
	if err != nil {
		s.log.Error("create job failed", "user_id", userID, "job_type", jobType, "error", err)
		writeError(w, http.StatusInternalServerError, "create job failed")
		return
	}

	err = s.queue.Enqueue(r.Context(), queue.StartMessage{
		JobID:      job.ID,
		UserID:     userID,
		JobType:    jobType,
		EnqueuedAt: time.Now().UTC(),
	}, queue.EnqueueOptions{})
	if err != nil {
		// Row exists but no message: the sweeper will eventually fail it.
		// Surface the enqueue failure to the client now.
		s.log.Error("enqueue failed after create", "job_id", job.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "enqueue job failed")
		return
	}

	s.log.Info("job accepted", "job_id", job.ID, "user_id", userID, "job_type", jobType)
	writeJSON(w, http.StatusAccepted, createJobResponse{
		JobID:   job.ID.String(),
		Status:  string(job.Status),
		Message: acceptedMessages[jobType],
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.principal(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "job id must be a UUID")
		return
	}

	job, err := s.store.Get(r.Context(), id)
	if errors.Is(err, common.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.log.Error("get job failed", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "get job failed")
		return
	}
	if job.UserID != userID {
		// Do not reveal the row's existence to other principals.
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.principal(w, r)
	if !ok {
		return
	}
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	jobs, err := s.store.ListByUser(r.Context(), userID, limit)
	if err != nil {
		s.log.Error("list jobs failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "list jobs failed")
		return
	}
	out := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, toJobResponse(job))
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

// principal resolves the calling user from the X-User-ID header. Upstream
// auth terminates before this service; the header carries the verified id.
func (s *Server) principal(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if raw == "" {
		writeError(w, http.StatusUnauthorized, "X-User-ID header is required")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "X-User-ID must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

// validateInput checks that the texts each plan needs are present at intake,
// so the extractor never starts from an empty request.
func validateInput(jobType constants.JobType, req createJobRequest) string {
	needsCV := jobType != constants.JobTypeJobParse
	needsJob := jobType != constants.JobTypeCVParse
	if needsCV && strings.TrimSpace(req.CVText) == "" {
		return "cv_text is required for this job_type"
	}
	if needsJob && strings.TrimSpace(req.JobText) == "" {
		return "job_text is required for this job_type"
	}
	return ""
}

func toJobResponse(job *entity.Job) jobResponse {
	return jobResponse{
		ID:                 job.ID.String(),
		JobType:            string(job.JobType),
		Status:             string(job.Status),
		ProgressPercentage: job.ProgressPercentage,
		ErrorMessage:       job.ErrorMessage,
		ExtractorPayload:   job.ExtractorPayload,
		AnalyzerPayload:    job.AnalyzerPayload,
		InterviewerPayload: job.InterviewerPayload,
		CharterPayload:     job.CharterPayload,
		SummaryPayload:     job.SummaryPayload,
		CreatedAt:          job.CreatedAt,
		StartedAt:          job.StartedAt,
		CompletedAt:        job.CompletedAt,
	}
}
