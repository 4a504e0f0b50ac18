package workers

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/careerassist-ai/careerassist/internal/llm"
)

// maxExtractChars bounds how much raw text goes into a single prompt.
const maxExtractChars = 12000

// LLMExtractor implements Extractor with one chat completion per request.
type LLMExtractor struct {
	client *llm.Client
	log    *slog.Logger
}

var _ Extractor = (*LLMExtractor)(nil)

func NewLLMExtractor(client *llm.Client, log *slog.Logger) *LLMExtractor {
	return &LLMExtractor{client: client, log: log}
}

func (e *LLMExtractor) Extract(ctx context.Context, req ExtractRequest) (ExtractResult, error) {
	cvText := strings.TrimSpace(req.CVText)
	jobText := strings.TrimSpace(req.JobText)
	if cvText == "" && jobText == "" {
		return ExtractResult{}, newError(KindParse, nil, "no input text to parse")
	}

	schema := llm.BuildProfileJSONSchema(cvText != "", jobText != "")
	raw, err := e.client.Complete(ctx, extractorSystemPrompt(), extractorUserPrompt(cvText, jobText), schema)
	if err != nil {
		e.log.Error("extractor.parse_failed", "error", err)
		return ExtractResult{}, newError(KindParse, err, "could not parse input into a structured profile")
	}

	var out ExtractResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return ExtractResult{}, newError(KindParse, err, "unmarshal extracted profile")
	}
	e.log.Info("extractor.ok",
		"has_cv_profile", out.CVProfile != nil,
		"has_job_profile", out.JobProfile != nil,
	)
	return out, nil
}

func extractorSystemPrompt() string {
	parts := []string{
		"You are a career document parser. Return ONLY JSON that matches the provided JSON Schema.",
		"When CV text is supplied, extract a 'cv_profile' with the candidate's skills, experience and education.",
		"When job posting text is supplied, extract a 'job_profile' with the role title, hard requirements and nice-to-haves.",
		"Extract skills as short lowercase labels (e.g. 'python', 'kubernetes'), deduplicated.",
		"Never invent facts that are not present in the text.",
		"Never output null. If a field is not present, omit it.",
	}
	return strings.Join(parts, " ")
}

func extractorUserPrompt(cvText, jobText string) string {
	var b strings.Builder
	if cvText != "" {
		b.WriteString("CV text:\n")
		b.WriteString(truncate(cvText, maxExtractChars))
		b.WriteString("\n")
	}
	if jobText != "" {
		b.WriteString("\nJob posting text:\n")
		b.WriteString(truncate(jobText, maxExtractChars))
		b.WriteString("\n")
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
