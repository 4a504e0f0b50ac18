package workers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/careerassist-ai/careerassist/internal/llm"
)

// completionServer serves a chat/completions endpoint whose first choice
// content is the given JSON document.
func completionServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func testClient(srv *httptest.Server) *llm.Client {
	return llm.NewClient(llm.Config{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Model:   "test-model",
	}, slog.New(slog.DiscardHandler))
}

func TestExtractBothProfiles(t *testing.T) {
	srv := completionServer(t, `{
		"cv_profile": {"skills": ["go", "postgres"], "name": "Sam"},
		"job_profile": {"role_title": "Backend Engineer", "requirements": ["go"]}
	}`)
	defer srv.Close()

	e := NewLLMExtractor(testClient(srv), slog.New(slog.DiscardHandler))
	out, err := e.Extract(context.Background(), ExtractRequest{
		CVText:  "ten years of Go and Postgres",
		JobText: "Backend Engineer. Go required.",
	})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if out.CVProfile == nil || len(out.CVProfile.Skills) != 2 {
		t.Errorf("cv_profile = %+v", out.CVProfile)
	}
	if out.JobProfile == nil || out.JobProfile.RoleTitle != "Backend Engineer" {
		t.Errorf("job_profile = %+v", out.JobProfile)
	}
}

func TestExtractEmptyInputIsParseError(t *testing.T) {
	e := NewLLMExtractor(nil, slog.New(slog.DiscardHandler))
	_, err := e.Extract(context.Background(), ExtractRequest{CVText: "   ", JobText: ""})
	if err == nil {
		t.Fatal("empty input must error before any model call")
	}
	we, ok := AsWorkerError(err)
	if !ok || we.Kind != KindParse {
		t.Errorf("err = %v, want ParseError", err)
	}
	if err.Error() != "ParseError: no input text to parse" {
		t.Errorf("message = %q", err.Error())
	}
}

func TestExtractSchemaViolationIsParseError(t *testing.T) {
	// cv_profile is required when CV text was supplied; the model omitting
	// it must be rejected by the local schema check.
	srv := completionServer(t, `{"job_profile": {"role_title": "X", "requirements": []}}`)
	defer srv.Close()

	e := NewLLMExtractor(testClient(srv), slog.New(slog.DiscardHandler))
	_, err := e.Extract(context.Background(), ExtractRequest{CVText: "some cv text"})
	if err == nil {
		t.Fatal("schema violation must surface as an error")
	}
	we, ok := AsWorkerError(err)
	if !ok || we.Kind != KindParse {
		t.Errorf("err = %v, want ParseError", err)
	}
}

func TestAnalyzeRejectsIncompleteProfiles(t *testing.T) {
	a := NewLLMAnalyzer(nil, slog.New(slog.DiscardHandler))

	cases := []struct {
		name string
		req  AnalyzeRequest
		want string
	}{
		{
			"no skills",
			AnalyzeRequest{JobProfile: JobProfile{RoleTitle: "X", Requirements: []string{"go"}}},
			"ComparisonError: missing required field: skills",
		},
		{
			"no role title",
			AnalyzeRequest{CVProfile: CVProfile{Skills: []string{"go"}}, JobProfile: JobProfile{Requirements: []string{"go"}}},
			"ComparisonError: missing required field: role_title",
		},
		{
			"no requirements",
			AnalyzeRequest{CVProfile: CVProfile{Skills: []string{"go"}}, JobProfile: JobProfile{RoleTitle: "X"}},
			"ComparisonError: missing required field: requirements",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := a.Analyze(context.Background(), c.req)
			if err == nil {
				t.Fatal("incomplete profile must be rejected before any model call")
			}
			if err.Error() != c.want {
				t.Errorf("error = %q, want %q", err.Error(), c.want)
			}
		})
	}
}

func TestAnalyzeReturnsGapReport(t *testing.T) {
	srv := completionServer(t, `{
		"gap": {
			"matched_skills": ["go"],
			"missing_skills": ["kubernetes"],
			"match_score": 0.7
		},
		"rewritten_cv": "Sam. Go engineer."
	}`)
	defer srv.Close()

	a := NewLLMAnalyzer(testClient(srv), slog.New(slog.DiscardHandler))
	out, err := a.Analyze(context.Background(), AnalyzeRequest{
		CVProfile:  CVProfile{Skills: []string{"go"}},
		JobProfile: JobProfile{RoleTitle: "Backend Engineer", Requirements: []string{"go", "kubernetes"}},
	})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if out.Gap.MatchScore != 0.7 {
		t.Errorf("match_score = %f, want 0.7", out.Gap.MatchScore)
	}
	if out.RewrittenCV == "" {
		t.Errorf("rewritten_cv missing")
	}
}

func TestPrepareRequiresRoleTitle(t *testing.T) {
	i := NewLLMInterviewer(nil, slog.New(slog.DiscardHandler))
	_, err := i.Prepare(context.Background(), PrepareRequest{CVProfile: CVProfile{Skills: []string{"go"}}})
	if err == nil {
		t.Fatal("missing role title must be rejected before any model call")
	}
	we, ok := AsWorkerError(err)
	if !ok || we.Kind != KindGeneration {
		t.Errorf("err = %v, want GenerationError", err)
	}
}

func TestPrepareReturnsQuestionPack(t *testing.T) {
	srv := completionServer(t, `{
		"questions": [
			{"question": "Walk me through a Go service you own.", "category": "technical"},
			{"question": "Tell me about a conflict on your team.", "category": "behavioral"}
		],
		"focus_areas": ["kubernetes"]
	}`)
	defer srv.Close()

	i := NewLLMInterviewer(testClient(srv), slog.New(slog.DiscardHandler))
	out, err := i.Prepare(context.Background(), PrepareRequest{
		CVProfile:  CVProfile{Skills: []string{"go"}},
		JobProfile: JobProfile{RoleTitle: "Backend Engineer", Requirements: []string{"go"}},
	})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if len(out.Questions) != 2 {
		t.Errorf("questions = %d, want 2", len(out.Questions))
	}
}
