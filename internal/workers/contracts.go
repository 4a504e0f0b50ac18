// Package workers defines the specialist worker roles the orchestrator routes
// jobs through. Workers are stateless between invocations, never touch the
// job store, and communicate only through typed requests and results: a
// worker returns a value or a typed *Error, nothing else.
package workers

import (
	"context"
	"encoding/json"
	"time"
)

// CVProfile is the structured form of a candidate's CV.
type CVProfile struct {
	Name       string       `json:"name,omitempty"`
	Headline   string       `json:"headline,omitempty"`
	Summary    string       `json:"summary,omitempty"`
	Skills     []string     `json:"skills"`
	Experience []Experience `json:"experience,omitempty"`
	Education  []string     `json:"education,omitempty"`
}

type Experience struct {
	Title      string   `json:"title"`
	Company    string   `json:"company,omitempty"`
	StartDate  string   `json:"start_date,omitempty"`
	EndDate    string   `json:"end_date,omitempty"`
	Highlights []string `json:"highlights,omitempty"`
}

// JobProfile is the structured form of a job posting.
type JobProfile struct {
	Company      string   `json:"company,omitempty"`
	RoleTitle    string   `json:"role_title"`
	Seniority    string   `json:"seniority,omitempty"`
	Requirements []string `json:"requirements"`
	NiceToHaves  []string `json:"nice_to_haves,omitempty"`
	Skills       []string `json:"skills,omitempty"`
	Location     string   `json:"location,omitempty"`
}

// GapReport compares a CV profile against a job profile.
type GapReport struct {
	MatchedSkills   []string `json:"matched_skills"`
	MissingSkills   []string `json:"missing_skills"`
	PartialMatches  []string `json:"partial_matches,omitempty"`
	MatchScore      float32  `json:"match_score"`
	Recommendations []string `json:"recommendations,omitempty"`
}

type InterviewQuestion struct {
	Question   string `json:"question"`
	Category   string `json:"category"`
	Difficulty string `json:"difficulty,omitempty"`
	Guidance   string `json:"guidance,omitempty"`
}

type InterviewPack struct {
	Questions  []InterviewQuestion `json:"questions"`
	FocusAreas []string            `json:"focus_areas,omitempty"`
}

// SkillCount ranks a skill by how often it appeared across gap reports.
type SkillCount struct {
	Skill string `json:"skill"`
	Count int    `json:"count"`
}

// CareerAnalytics aggregates a user's historical gap reports. An empty
// record set yields a valid zero-value artifact, not an error.
type CareerAnalytics struct {
	JobsAnalyzed     int          `json:"jobs_analyzed"`
	AverageMatch     float32      `json:"average_match_score"`
	TopMissingSkills []SkillCount `json:"top_missing_skills,omitempty"`
	TopMatchedSkills []SkillCount `json:"top_matched_skills,omitempty"`
	GeneratedAt      time.Time    `json:"generated_at"`
}

// ExtractRequest carries the free text to parse. At least one of the two
// texts must be present.
type ExtractRequest struct {
	CVText  string `json:"cv_text,omitempty"`
	JobText string `json:"job_text,omitempty"`
}

// ExtractResult holds whichever profiles the request's texts produced.
type ExtractResult struct {
	CVProfile  *CVProfile  `json:"cv_profile,omitempty"`
	JobProfile *JobProfile `json:"job_profile,omitempty"`
}

type AnalyzeRequest struct {
	CVProfile  CVProfile  `json:"cv_profile"`
	JobProfile JobProfile `json:"job_profile"`
}

// AnalyzeResult is the gap report plus the rewrite artifact derived from it.
type AnalyzeResult struct {
	Gap         GapReport `json:"gap"`
	RewrittenCV string    `json:"rewritten_cv,omitempty"`
}

type PrepareRequest struct {
	CVProfile  CVProfile  `json:"cv_profile"`
	JobProfile JobProfile `json:"job_profile"`
	Gap        *GapReport `json:"gap,omitempty"`
}

// ChartRequest carries the raw analyzer payloads of the user's prior
// completed jobs, newest first.
type ChartRequest struct {
	GapReports []json.RawMessage `json:"gap_reports"`
}

// The four worker roles. One capability each; the orchestrator resolves
// role -> implementation at startup, not at call time.
type (
	Extractor interface {
		Extract(ctx context.Context, req ExtractRequest) (ExtractResult, error)
	}
	Analyzer interface {
		Analyze(ctx context.Context, req AnalyzeRequest) (AnalyzeResult, error)
	}
	Interviewer interface {
		Prepare(ctx context.Context, req PrepareRequest) (InterviewPack, error)
	}
	Charter interface {
		Chart(ctx context.Context, req ChartRequest) (CareerAnalytics, error)
	}
)
