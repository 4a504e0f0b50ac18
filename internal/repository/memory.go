package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/careerassist-ai/careerassist/constants"
	"github.com/careerassist-ai/careerassist/internal/common"
	"github.com/careerassist-ai/careerassist/internal/entity"
)

// MemoryJobStore implements JobStore in memory with the same guard semantics
// as the Postgres store. Used by tests and local development.
type MemoryJobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*entity.Job
}

var _ JobStore = (*MemoryJobStore)(nil)

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[uuid.UUID]*entity.Job)}
}

func (s *MemoryJobStore) Create(_ context.Context, params CreateJobParams) (*entity.Job, error) {
	if !constants.ValidJobType(string(params.JobType)) {
		return nil, common.ValidationErrorf("unknown job_type %q", params.JobType)
	}
	if params.UserID == uuid.Nil {
		return nil, common.ValidationErrorf("user_id is required")
	}
	input := params.InputData
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	job := &entity.Job{
		ID:        uuid.New(),
		UserID:    params.UserID,
		JobType:   params.JobType,
		Status:    constants.JobStatusPending,
		InputData: cloneJSON(input),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.jobs[job.ID] = job
	return cloneJob(job), nil
}

func (s *MemoryJobStore) Get(_ context.Context, id uuid.UUID) (*entity.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return cloneJob(job), nil
}

func (s *MemoryJobStore) Transition(_ context.Context, id uuid.UUID, from, to constants.JobStatus) error {
	if !constants.CanTransition(from, to) {
		return fmt.Errorf("%w: illegal transition %s -> %s", common.ErrConflict, from, to)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return common.ErrNotFound
	}
	if job.Status != from {
		return fmt.Errorf("%w: status is not %s", common.ErrConflict, from)
	}
	now := time.Now().UTC()
	job.Status = to
	if to == constants.JobStatusProcessing && job.StartedAt == nil {
		t := now
		job.StartedAt = &t
	}
	if to.IsTerminal() {
		t := now
		job.CompletedAt = &t
	}
	job.UpdatedAt = now
	return nil
}

func (s *MemoryJobStore) WriteStageResult(_ context.Context, id uuid.UUID, stage constants.Stage, payload json.RawMessage) error {
	if !constants.ValidStage(stage) {
		return common.ValidationErrorf("unknown stage %q", stage)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return common.ErrNotFound
	}
	if job.StagePayload(stage) != nil {
		return fmt.Errorf("%w: %s payload already set", common.ErrConflict, stage)
	}
	p := cloneJSON(payload)
	switch stage {
	case constants.StageExtract:
		job.ExtractorPayload = p
	case constants.StageAnalyze:
		job.AnalyzerPayload = p
	case constants.StageInterview:
		job.InterviewerPayload = p
	case constants.StageChart:
		job.CharterPayload = p
	case constants.StageSummary:
		job.SummaryPayload = p
	}
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryJobStore) SetProgress(_ context.Context, id uuid.UUID, percentage int) error {
	if percentage < 0 || percentage > 100 {
		return common.ValidationErrorf("progress out of range: %d", percentage)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return common.ErrNotFound
	}
	if percentage > job.ProgressPercentage {
		job.ProgressPercentage = percentage
		job.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (s *MemoryJobStore) Fail(_ context.Context, id uuid.UUID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return common.ErrNotFound
	}
	if job.Status != constants.JobStatusProcessing {
		return fmt.Errorf("%w: status is not processing", common.ErrConflict)
	}
	now := time.Now().UTC()
	job.Status = constants.JobStatusFailed
	job.ErrorMessage = &message
	job.CompletedAt = &now
	job.UpdatedAt = now
	return nil
}

func (s *MemoryJobStore) ListByUser(_ context.Context, userID uuid.UUID, limit int) ([]*entity.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var jobs []*entity.Job
	for _, j := range s.jobs {
		if j.UserID == userID {
			jobs = append(jobs, cloneJob(j))
		}
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].CreatedAt.After(jobs[k].CreatedAt) })
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *MemoryJobStore) CompletedGapReports(_ context.Context, userID uuid.UUID) ([]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var jobs []*entity.Job
	for _, j := range s.jobs {
		if j.UserID == userID && j.Status == constants.JobStatusCompleted && j.AnalyzerPayload != nil {
			jobs = append(jobs, j)
		}
	}
	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].CompletedAt != nil && jobs[k].CompletedAt != nil && jobs[i].CompletedAt.After(*jobs[k].CompletedAt)
	})
	out := make([]json.RawMessage, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, cloneJSON(j.AnalyzerPayload))
	}
	return out, nil
}

func (s *MemoryJobStore) FindStale(_ context.Context, olderThan time.Duration) ([]*entity.Job, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	s.mu.Lock()
	defer s.mu.Unlock()
	var jobs []*entity.Job
	for _, j := range s.jobs {
		if !j.Status.IsTerminal() && j.UpdatedAt.Before(cutoff) {
			jobs = append(jobs, cloneJob(j))
		}
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].UpdatedAt.Before(jobs[k].UpdatedAt) })
	return jobs, nil
}

func cloneJSON(in json.RawMessage) json.RawMessage {
	if in == nil {
		return nil
	}
	out := make(json.RawMessage, len(in))
	copy(out, in)
	return out
}

func cloneJob(in *entity.Job) *entity.Job {
	out := *in
	out.InputData = cloneJSON(in.InputData)
	out.ExtractorPayload = cloneJSON(in.ExtractorPayload)
	out.AnalyzerPayload = cloneJSON(in.AnalyzerPayload)
	out.InterviewerPayload = cloneJSON(in.InterviewerPayload)
	out.CharterPayload = cloneJSON(in.CharterPayload)
	out.SummaryPayload = cloneJSON(in.SummaryPayload)
	if in.ErrorMessage != nil {
		m := *in.ErrorMessage
		out.ErrorMessage = &m
	}
	return &out
}
