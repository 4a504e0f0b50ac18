// Package orchestrator consumes job-start messages and drives each job
// through its ordered worker plan, persisting every stage result before the
// next stage runs. All recoverable conditions (races, duplicate delivery,
// partial resume) are absorbed here; clients only ever observe completed or
// failed.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/careerassist-ai/careerassist/constants"
	"github.com/careerassist-ai/careerassist/internal/common"
	"github.com/careerassist-ai/careerassist/internal/entity"
	"github.com/careerassist-ai/careerassist/internal/metrics"
	"github.com/careerassist-ai/careerassist/internal/queue"
	"github.com/careerassist-ai/careerassist/internal/repository"
	"github.com/careerassist-ai/careerassist/internal/workers"
)

// Workers holds one implementation per role, resolved at startup.
type Workers struct {
	Extractor   workers.Extractor
	Analyzer    workers.Analyzer
	Interviewer workers.Interviewer
	Charter     workers.Charter
}

type Option func(*Orchestrator)

func WithConsumers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.consumers = n
		}
	}
}

func WithStageTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.stageTimeout = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.m = m }
}

// Orchestrator is the queue consumer. A small fixed pool of consumers pulls
// one message at a time; within one message all stages run synchronously and
// sequentially.
type Orchestrator struct {
	store        repository.JobStore
	queue        queue.Queue
	w            Workers
	log          *slog.Logger
	m            *metrics.Metrics
	consumers    int
	stageTimeout time.Duration
}

func New(store repository.JobStore, q queue.Queue, w Workers, log *slog.Logger, opts ...Option) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	o := &Orchestrator{
		store:        store,
		queue:        q,
		w:            w,
		log:          log,
		consumers:    2,
		stageTimeout: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run blocks until ctx is cancelled, consuming messages with the configured
// pool. Shutdown is safe mid-job: every job store mutation is a single
// guarded write, so an interrupted delivery is simply redelivered and
// resumed later.
func (o *Orchestrator) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < o.consumers; i++ {
		wg.Add(1)
		go func(consumerID int) {
			defer wg.Done()
			o.log.Info("consumer started", "consumer_id", consumerID)
			o.consumeLoop(ctx, consumerID)
			o.log.Info("consumer stopped", "consumer_id", consumerID)
		}(i + 1)
	}
	wg.Wait()
}

func (o *Orchestrator) consumeLoop(ctx context.Context, consumerID int) {
	for {
		if ctx.Err() != nil {
			return
		}
		d, err := o.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			o.log.Error("receive failed", "consumer_id", consumerID, "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		if d == nil {
			continue // long-poll window elapsed with nothing to do
		}
		o.Handle(ctx, d)
	}
}

// Handle processes one delivery end to end. It acknowledges the message only
// once the job row is durably terminal; abandoning (returning without ack)
// leaves the message to expire and be redelivered.
func (o *Orchestrator) Handle(ctx context.Context, d *queue.Delivery) {
	log := o.log.With("job_id", d.Message.JobID, "delivery_count", d.DeliveryCount)

	job, err := o.store.Get(ctx, d.Message.JobID)
	if errors.Is(err, common.ErrNotFound) {
		// The message references a row that never existed or was removed
		// out-of-band. Nothing to resume; park it for inspection.
		log.Error("job row not found for message")
		if dlErr := o.queue.DeadLetter(ctx, d, "job row not found"); dlErr != nil {
			log.Error("dead-letter failed", "error", dlErr)
		}
		return
	}
	if err != nil {
		log.Error("load job failed, abandoning delivery", "error", err)
		return
	}

	// Step 1: duplicate delivery of an already-finished job.
	if job.Status.IsTerminal() {
		log.Info("job already terminal, discarding duplicate", "status", job.Status)
		o.ack(ctx, d, log)
		return
	}

	// Step 2: claim the job. A lost race means another consumer holds it.
	if job.Status == constants.JobStatusPending {
		err := o.store.Transition(ctx, job.ID, constants.JobStatusPending, constants.JobStatusProcessing)
		if errors.Is(err, common.ErrConflict) {
			log.Info("lost claim race, abandoning delivery")
			return
		}
		if err != nil {
			log.Error("claim transition failed, abandoning delivery", "error", err)
			return
		}
		job.Status = constants.JobStatusProcessing
	}

	// Step 3: resolve the plan.
	plan, err := PlanFor(job.JobType)
	if err != nil {
		// Unknown type can only mean a corrupt row; fail it terminally.
		o.failJob(ctx, d, job, "", err.Error(), log)
		return
	}

	// Step 4: run the remaining stages. "Next stage to run" is recomputed
	// purely from which result slots are null, never from in-memory state.
	for idx, stage := range plan {
		if job.StagePayload(stage) != nil {
			log.Info("stage already persisted, skipping", "stage", stage)
			// Progress may predate the persisted slot if the previous
			// handler died between the two writes.
			if err := o.store.SetProgress(ctx, job.ID, progressFor(idx+1, len(plan))); err != nil {
				log.Warn("set progress failed", "stage", stage, "error", err)
			}
			continue
		}

		start := time.Now()
		payload, workerErr := o.runStage(ctx, job, stage)
		o.m.ObserveStage(string(stage), start)
		if workerErr != nil {
			o.failJob(ctx, d, job, stage, workerErr.Error(), log)
			return
		}

		if err := o.persistStage(ctx, job, stage, payload, log); err != nil {
			log.Error("persist stage failed, abandoning delivery", "stage", stage, "error", err)
			return
		}
		if err := o.store.SetProgress(ctx, job.ID, progressFor(idx+1, len(plan))); err != nil {
			log.Warn("set progress failed", "stage", stage, "error", err)
		}
		log.Info("stage completed", "stage", stage, "elapsed_ms", time.Since(start).Milliseconds())
	}

	// Step 5: summary, terminal transition, then ack.
	o.finalize(ctx, d, job, plan, log)
}

// runStage builds the stage's typed input from the job's immutable input and
// the already-persisted earlier results, then invokes the worker. The
// returned error is always a *workers.Error.
func (o *Orchestrator) runStage(ctx context.Context, job *entity.Job, stage constants.Stage) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, o.stageTimeout)
	defer cancel()
	// Model calls made by the worker log under the job's id.
	ctx = common.WithRequestID(ctx, job.ID.String())

	switch stage {
	case constants.StageExtract:
		var in jobInput
		if err := json.Unmarshal(job.InputData, &in); err != nil {
			return nil, &workers.Error{Kind: workers.KindParse, Message: "malformed input_data", Err: err}
		}
		res, err := o.w.Extractor.Extract(ctx, workers.ExtractRequest{CVText: in.CVText, JobText: in.JobText})
		if err != nil {
			return nil, err
		}
		return marshalStage(res)

	case constants.StageAnalyze:
		extract, err := decodeExtract(job, workers.KindComparison)
		if err != nil {
			return nil, err
		}
		req := workers.AnalyzeRequest{}
		if extract.CVProfile != nil {
			req.CVProfile = *extract.CVProfile
		}
		if extract.JobProfile != nil {
			req.JobProfile = *extract.JobProfile
		}
		res, err := o.w.Analyzer.Analyze(ctx, req)
		if err != nil {
			return nil, err
		}
		return marshalStage(res)

	case constants.StageInterview:
		extract, err := decodeExtract(job, workers.KindGeneration)
		if err != nil {
			return nil, err
		}
		req := workers.PrepareRequest{}
		if extract.CVProfile != nil {
			req.CVProfile = *extract.CVProfile
		}
		if extract.JobProfile != nil {
			req.JobProfile = *extract.JobProfile
		}
		if job.AnalyzerPayload != nil {
			var analysis workers.AnalyzeResult
			if err := json.Unmarshal(job.AnalyzerPayload, &analysis); err == nil {
				req.Gap = &analysis.Gap
			}
		}
		res, err := o.w.Interviewer.Prepare(ctx, req)
		if err != nil {
			return nil, err
		}
		return marshalStage(res)

	case constants.StageChart:
		reports, err := o.store.CompletedGapReports(ctx, job.UserID)
		if err != nil {
			return nil, &workers.Error{Kind: workers.KindAggregation, Message: "load prior gap reports", Err: err}
		}
		res, err := o.w.Charter.Chart(ctx, workers.ChartRequest{GapReports: reports})
		if err != nil {
			return nil, err
		}
		return marshalStage(res)
	}

	return nil, &workers.Error{Kind: workers.KindGeneration, Message: fmt.Sprintf("no worker bound for stage %q", stage)}
}

// persistStage writes the slot; a conflict means a racing handler already
// persisted this stage, so its bytes win and ours are discarded.
func (o *Orchestrator) persistStage(ctx context.Context, job *entity.Job, stage constants.Stage, payload json.RawMessage, log *slog.Logger) error {
	err := o.store.WriteStageResult(ctx, job.ID, stage, payload)
	if errors.Is(err, common.ErrConflict) {
		log.Info("stage slot already written by another handler", "stage", stage)
		fresh, getErr := o.store.Get(ctx, job.ID)
		if getErr != nil {
			return getErr
		}
		*job = *fresh
		return nil
	}
	if err != nil {
		return err
	}
	setStagePayload(job, stage, payload)
	return nil
}

func (o *Orchestrator) finalize(ctx context.Context, d *queue.Delivery, job *entity.Job, plan []constants.Stage, log *slog.Logger) {
	summary, err := buildSummary(job, plan)
	if err != nil {
		log.Error("build summary failed, abandoning delivery", "error", err)
		return
	}
	if err := o.store.WriteStageResult(ctx, job.ID, constants.StageSummary, summary); err != nil && !errors.Is(err, common.ErrConflict) {
		log.Error("write summary failed, abandoning delivery", "error", err)
		return
	}

	err = o.store.Transition(ctx, job.ID, constants.JobStatusProcessing, constants.JobStatusCompleted)
	if err != nil && !errors.Is(err, common.ErrConflict) {
		log.Error("complete transition failed, abandoning delivery", "error", err)
		return
	}
	if err == nil {
		o.m.IncCompleted(string(job.JobType))
		log.Info("job completed", "job_type", job.JobType)
	}
	o.ack(ctx, d, log)
}

// failJob records the terminal failure and acknowledges the message: a
// worker failure is not retried by redelivery, it is the job's outcome.
func (o *Orchestrator) failJob(ctx context.Context, d *queue.Delivery, job *entity.Job, stage constants.Stage, detail string, log *slog.Logger) {
	message := detail
	if stage != "" {
		message = fmt.Sprintf("stage=%s: %s", stage, detail)
	}
	err := o.store.Fail(ctx, job.ID, message)
	if err != nil && !errors.Is(err, common.ErrConflict) {
		log.Error("fail transition failed, abandoning delivery", "error", err)
		return
	}
	if err == nil {
		o.m.IncFailed(string(job.JobType), string(stage))
		log.Warn("job failed", "stage", stage, "error", message)
	}
	o.ack(ctx, d, log)
}

func (o *Orchestrator) ack(ctx context.Context, d *queue.Delivery, log *slog.Logger) {
	if err := o.queue.Ack(ctx, d); err != nil {
		// The job row is already terminal; the redelivered message will be
		// recognized as a duplicate and acked again.
		log.Error("ack failed", "error", err)
	}
}

// jobInput is the shape of the immutable intake payload.
type jobInput struct {
	CVText  string `json:"cv_text,omitempty"`
	JobText string `json:"job_text,omitempty"`
}

// decodeExtract reads the persisted extractor slot for a downstream stage.
// A missing or corrupt slot is reported with the failing stage's own kind.
func decodeExtract(job *entity.Job, kind workers.ErrorKind) (workers.ExtractResult, error) {
	var extract workers.ExtractResult
	if job.ExtractorPayload == nil {
		return extract, &workers.Error{Kind: kind, Message: "extractor result missing"}
	}
	if err := json.Unmarshal(job.ExtractorPayload, &extract); err != nil {
		return extract, &workers.Error{Kind: kind, Message: "malformed extractor result", Err: err}
	}
	return extract, nil
}

func marshalStage(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, &workers.Error{Kind: workers.KindGeneration, Message: "marshal stage result", Err: err}
	}
	return b, nil
}

func setStagePayload(job *entity.Job, stage constants.Stage, payload json.RawMessage) {
	switch stage {
	case constants.StageExtract:
		job.ExtractorPayload = payload
	case constants.StageAnalyze:
		job.AnalyzerPayload = payload
	case constants.StageInterview:
		job.InterviewerPayload = payload
	case constants.StageChart:
		job.CharterPayload = payload
	case constants.StageSummary:
		job.SummaryPayload = payload
	}
}

// jobSummary is the orchestrator's own synthesized wrap-up: a light local
// aggregation of the stage outputs, no remote calls.
type jobSummary struct {
	JobType         constants.JobType `json:"job_type"`
	Stages          []constants.Stage `json:"stages"`
	MatchScore      *float32          `json:"match_score,omitempty"`
	MissingSkills   int               `json:"missing_skills,omitempty"`
	QuestionCount   int               `json:"question_count,omitempty"`
	JobsAnalyzed    *int              `json:"jobs_analyzed,omitempty"`
	CompletedStages int               `json:"completed_stages"`
	GeneratedAt     time.Time         `json:"generated_at"`
}

func buildSummary(job *entity.Job, plan []constants.Stage) (json.RawMessage, error) {
	s := jobSummary{
		JobType:         job.JobType,
		Stages:          plan,
		CompletedStages: len(plan),
		GeneratedAt:     time.Now().UTC(),
	}
	if job.AnalyzerPayload != nil {
		var analysis workers.AnalyzeResult
		if err := json.Unmarshal(job.AnalyzerPayload, &analysis); err == nil {
			score := analysis.Gap.MatchScore
			s.MatchScore = &score
			s.MissingSkills = len(analysis.Gap.MissingSkills)
		}
	}
	if job.InterviewerPayload != nil {
		var pack workers.InterviewPack
		if err := json.Unmarshal(job.InterviewerPayload, &pack); err == nil {
			s.QuestionCount = len(pack.Questions)
		}
	}
	if job.CharterPayload != nil {
		var analytics workers.CareerAnalytics
		if err := json.Unmarshal(job.CharterPayload, &analytics); err == nil {
			n := analytics.JobsAnalyzed
			s.JobsAnalyzed = &n
		}
	}
	return json.Marshal(s)
}
