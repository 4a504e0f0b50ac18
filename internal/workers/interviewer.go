package workers

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/careerassist-ai/careerassist/internal/llm"
)

// LLMInterviewer implements Interviewer: profiles (plus an optional gap
// report) into a tailored interview question pack.
type LLMInterviewer struct {
	client *llm.Client
	log    *slog.Logger
}

var _ Interviewer = (*LLMInterviewer)(nil)

func NewLLMInterviewer(client *llm.Client, log *slog.Logger) *LLMInterviewer {
	return &LLMInterviewer{client: client, log: log}
}

func (i *LLMInterviewer) Prepare(ctx context.Context, req PrepareRequest) (InterviewPack, error) {
	if strings.TrimSpace(req.JobProfile.RoleTitle) == "" {
		return InterviewPack{}, newError(KindGeneration, nil, "missing required field: role_title")
	}

	var b strings.Builder
	b.WriteString("Candidate profile:\n")
	b.WriteString(mustMarshal(req.CVProfile))
	b.WriteString("\n\nTarget job profile:\n")
	b.WriteString(mustMarshal(req.JobProfile))
	if req.Gap != nil {
		b.WriteString("\n\nGap analysis:\n")
		b.WriteString(mustMarshal(req.Gap))
	}

	schema := llm.BuildInterviewPackJSONSchema()
	raw, err := i.client.Complete(ctx, interviewerSystemPrompt(), b.String(), schema)
	if err != nil {
		i.log.Error("interviewer.generate_failed", "error", err)
		return InterviewPack{}, newError(KindGeneration, err, "could not generate interview questions")
	}

	var out InterviewPack
	if err := json.Unmarshal(raw, &out); err != nil {
		return InterviewPack{}, newError(KindGeneration, err, "unmarshal interview pack")
	}
	if len(out.Questions) == 0 {
		return InterviewPack{}, newError(KindGeneration, nil, "model returned no questions")
	}
	i.log.Info("interviewer.ok", "questions", len(out.Questions))
	return out, nil
}

func interviewerSystemPrompt() string {
	parts := []string{
		"You are an interview coach. Return ONLY JSON that matches the provided JSON Schema.",
		"Generate 8-12 practice questions tailored to the target role and the candidate's profile.",
		"When a gap analysis is supplied, bias questions toward the missing and partially-matched skills.",
		"Mix behavioral, technical and situational categories.",
		"'guidance' is a one-sentence hint on what a strong answer covers.",
	}
	return strings.Join(parts, " ")
}
