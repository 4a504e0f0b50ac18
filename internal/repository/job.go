package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careerassist-ai/careerassist/constants"
	"github.com/careerassist-ai/careerassist/internal/common"
	"github.com/careerassist-ai/careerassist/internal/entity"
)

// CreateJobParams is the immutable intake snapshot for a new job.
type CreateJobParams struct {
	UserID    uuid.UUID
	JobType   constants.JobType
	InputData json.RawMessage
}

// JobStore is the durable record of a job's identity, stage payloads and
// lifecycle. Every mutation is a single atomically-guarded statement so
// concurrent handlers of a redelivered message cannot corrupt state: the
// loser of a race gets ErrConflict and no rows change.
type JobStore interface {
	Create(ctx context.Context, params CreateJobParams) (*entity.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	// Transition moves status from->to only if the current status equals
	// from. ErrConflict otherwise.
	Transition(ctx context.Context, id uuid.UUID, from, to constants.JobStatus) error
	// WriteStageResult sets the stage's payload slot if and only if it is
	// currently null. ErrConflict on re-write attempts.
	WriteStageResult(ctx context.Context, id uuid.UUID, stage constants.Stage, payload json.RawMessage) error
	// SetProgress is monotonic-only; a non-increasing value is a silent no-op.
	SetProgress(ctx context.Context, id uuid.UUID, percentage int) error
	// Fail records the error message and moves to failed; only legal from
	// processing.
	Fail(ctx context.Context, id uuid.UUID, message string) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*entity.Job, error)
	// CompletedGapReports returns the analyzer payloads of the user's
	// completed jobs, newest first. Feeds the charter stage.
	CompletedGapReports(ctx context.Context, userID uuid.UUID) ([]json.RawMessage, error)
	// FindStale returns non-terminal jobs untouched for longer than
	// olderThan: processing rows whose handler died, and pending rows
	// whose start message never made it to the queue.
	FindStale(ctx context.Context, olderThan time.Duration) ([]*entity.Job, error)
}

// stageColumns maps stage names onto their payload columns. Doubles as the
// allowlist for SQL assembly; unknown stages never reach the database.
var stageColumns = map[constants.Stage]string{
	constants.StageExtract:   "extractor_payload",
	constants.StageAnalyze:   "analyzer_payload",
	constants.StageInterview: "interviewer_payload",
	constants.StageChart:     "charter_payload",
	constants.StageSummary:   "summary_payload",
}

const jobColumns = `id, user_id, job_type, status, input_data,
	extractor_payload, analyzer_payload, interviewer_payload, charter_payload, summary_payload,
	error_message, progress_percentage, created_at, started_at, completed_at, updated_at`

type pgJobStore struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewJobStore returns a Postgres-backed JobStore.
func NewJobStore(pool *pgxpool.Pool, log *slog.Logger) JobStore {
	return &pgJobStore{pool: pool, log: log}
}

func (r *pgJobStore) Create(ctx context.Context, params CreateJobParams) (*entity.Job, error) {
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

	row := r.pool.QueryRow(ctx, `
		INSERT INTO jobs (id, user_id, job_type, status, input_data, progress_percentage)
		VALUES ($1, $2, $3, $4, $5, 0)
		RETURNING `+jobColumns,
		uuid.New(), params.UserID, params.JobType, constants.JobStatusPending, []byte(input))

	job, err := scanJob(row)
	if err != nil {
		r.log.Error("job create failed", "user_id", params.UserID, "job_type", params.JobType, "error", err)
		return nil, fmt.Errorf("%w: insert job: %v", common.ErrDatabase, err)
	}
	r.log.Info("job created", "job_id", job.ID, "user_id", job.UserID, "job_type", job.JobType)
	return job, nil
}

func (r *pgJobStore) Get(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get job: %v", common.ErrDatabase, err)
	}
	return job, nil
}

func (r *pgJobStore) Transition(ctx context.Context, id uuid.UUID, from, to constants.JobStatus) error {
	if !constants.CanTransition(from, to) {
		return fmt.Errorf("%w: illegal transition %s -> %s", common.ErrConflict, from, to)
	}
	ct, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $3,
		    started_at = CASE WHEN $3 = 'processing' AND started_at IS NULL THEN now() ELSE started_at END,
		    completed_at = CASE WHEN $3 IN ('completed', 'failed') THEN now() ELSE completed_at END,
		    updated_at = now()
		WHERE id = $1 AND status = $2`,
		id, from, to)
	if err != nil {
		return fmt.Errorf("%w: transition job: %v", common.ErrDatabase, err)
	}
	if ct.RowsAffected() == 0 {
		return r.guardMiss(ctx, id, fmt.Sprintf("status is not %s", from))
	}
	r.log.Info("job transitioned", "job_id", id, "from", from, "to", to)
	return nil
}

func (r *pgJobStore) WriteStageResult(ctx context.Context, id uuid.UUID, stage constants.Stage, payload json.RawMessage) error {
	col, ok := stageColumns[stage]
	if !ok {
		return common.ValidationErrorf("unknown stage %q", stage)
	}
	ct, err := r.pool.Exec(ctx,
		`UPDATE jobs SET `+col+` = $2, updated_at = now() WHERE id = $1 AND `+col+` IS NULL`,
		id, []byte(payload))
	if err != nil {
		return fmt.Errorf("%w: write stage result: %v", common.ErrDatabase, err)
	}
	if ct.RowsAffected() == 0 {
		return r.guardMiss(ctx, id, fmt.Sprintf("%s already set", col))
	}
	r.log.Info("stage result written", "job_id", id, "stage", stage, "bytes", len(payload))
	return nil
}

func (r *pgJobStore) SetProgress(ctx context.Context, id uuid.UUID, percentage int) error {
	if percentage < 0 || percentage > 100 {
		return common.ValidationErrorf("progress out of range: %d", percentage)
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE jobs SET progress_percentage = $2, updated_at = now()
		 WHERE id = $1 AND progress_percentage < $2`,
		id, percentage)
	if err != nil {
		return fmt.Errorf("%w: set progress: %v", common.ErrDatabase, err)
	}
	return nil
}

func (r *pgJobStore) Fail(ctx context.Context, id uuid.UUID, message string) error {
	ct, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'failed', error_message = $2, completed_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'processing'`,
		id, message)
	if err != nil {
		return fmt.Errorf("%w: fail job: %v", common.ErrDatabase, err)
	}
	if ct.RowsAffected() == 0 {
		return r.guardMiss(ctx, id, "status is not processing")
	}
	r.log.Warn("job failed", "job_id", id, "error", message)
	return nil
}

func (r *pgJobStore) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*entity.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list jobs: %v", common.ErrDatabase, err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (r *pgJobStore) CompletedGapReports(ctx context.Context, userID uuid.UUID) ([]json.RawMessage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT analyzer_payload FROM jobs
		WHERE user_id = $1 AND status = 'completed' AND analyzer_payload IS NOT NULL
		ORDER BY completed_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("%w: list gap reports: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("%w: scan gap report: %v", common.ErrDatabase, err)
		}
		out = append(out, json.RawMessage(payload))
	}
	return out, rows.Err()
}

func (r *pgJobStore) FindStale(ctx context.Context, olderThan time.Duration) ([]*entity.Job, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status IN ('pending', 'processing') AND updated_at < now() - make_interval(secs => $1)
		 ORDER BY updated_at ASC`,
		olderThan.Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: find stale jobs: %v", common.ErrDatabase, err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// guardMiss disambiguates a zero-row guarded update: missing row vs lost race.
func (r *pgJobStore) guardMiss(ctx context.Context, id uuid.UUID, detail string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("%w: guard check: %v", common.ErrDatabase, err)
	}
	if !exists {
		return common.ErrNotFound
	}
	return fmt.Errorf("%w: %s", common.ErrConflict, detail)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*entity.Job, error) {
	var j entity.Job
	var input, ext, ana, intw, chart, summary []byte
	err := row.Scan(
		&j.ID, &j.UserID, &j.JobType, &j.Status, &input,
		&ext, &ana, &intw, &chart, &summary,
		&j.ErrorMessage, &j.ProgressPercentage,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.InputData = json.RawMessage(input)
	j.ExtractorPayload = json.RawMessage(ext)
	j.AnalyzerPayload = json.RawMessage(ana)
	j.InterviewerPayload = json.RawMessage(intw)
	j.CharterPayload = json.RawMessage(chart)
	j.SummaryPayload = json.RawMessage(summary)
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*entity.Job, error) {
	var jobs []*entity.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan job: %v", common.ErrDatabase, err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
