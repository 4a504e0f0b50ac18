package workers

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/careerassist-ai/careerassist/internal/llm"
)

// LLMAnalyzer implements Analyzer: CV profile vs job profile into a gap
// report and a rewritten CV.
type LLMAnalyzer struct {
	client *llm.Client
	log    *slog.Logger
}

var _ Analyzer = (*LLMAnalyzer)(nil)

func NewLLMAnalyzer(client *llm.Client, log *slog.Logger) *LLMAnalyzer {
	return &LLMAnalyzer{client: client, log: log}
}

func (a *LLMAnalyzer) Analyze(ctx context.Context, req AnalyzeRequest) (AnalyzeResult, error) {
	if err := validateComparable(req); err != nil {
		return AnalyzeResult{}, err
	}

	cvJSON := mustMarshal(req.CVProfile)
	jobJSON := mustMarshal(req.JobProfile)

	schema := llm.BuildGapReportJSONSchema()
	user := "Candidate profile:\n" + cvJSON + "\n\nTarget job profile:\n" + jobJSON
	raw, err := a.client.Complete(ctx, analyzerSystemPrompt(), user, schema)
	if err != nil {
		a.log.Error("analyzer.compare_failed", "error", err)
		return AnalyzeResult{}, newError(KindComparison, err, "could not compare profiles")
	}

	var out AnalyzeResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return AnalyzeResult{}, newError(KindComparison, err, "unmarshal gap report")
	}
	a.log.Info("analyzer.ok",
		"matched", len(out.Gap.MatchedSkills),
		"missing", len(out.Gap.MissingSkills),
		"score", out.Gap.MatchScore,
	)
	return out, nil
}

// validateComparable enforces the analyzer's input contract: both profiles
// must carry their required fields before any model call is made.
func validateComparable(req AnalyzeRequest) error {
	if len(req.CVProfile.Skills) == 0 {
		return newError(KindComparison, nil, "missing required field: skills")
	}
	if strings.TrimSpace(req.JobProfile.RoleTitle) == "" {
		return newError(KindComparison, nil, "missing required field: role_title")
	}
	if len(req.JobProfile.Requirements) == 0 {
		return newError(KindComparison, nil, "missing required field: requirements")
	}
	return nil
}

func analyzerSystemPrompt() string {
	parts := []string{
		"You are a career gap analyst. Return ONLY JSON that matches the provided JSON Schema.",
		"Compare the candidate profile against the target job profile.",
		"'matched_skills' are requirements the candidate clearly satisfies; 'missing_skills' are requirements with no evidence; 'partial_matches' have weak or adjacent evidence.",
		"'match_score' is the fraction of requirements satisfied, between 0 and 1.",
		"Write 'rewritten_cv' as a plain-text CV emphasizing the matched requirements, never inventing experience.",
		"Keep 'recommendations' short and actionable.",
	}
	return strings.Join(parts, " ")
}

func mustMarshal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
