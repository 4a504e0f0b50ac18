package constants

// Stage identifies one worker role within a job's plan. Each stage owns
// exactly one payload column on the jobs row, written at most once.
type Stage string

const (
	StageExtract   Stage = "extract"   // extractor: free text -> structured profile(s)
	StageAnalyze   Stage = "analyze"   // analyzer: profiles -> gap report + rewrite
	StageInterview Stage = "interview" // interviewer: profiles (+gap) -> question pack
	StageChart     Stage = "chart"     // charter: prior gap reports -> career analytics

	// StageSummary is written by the orchestrator itself on completion,
	// never by a worker.
	StageSummary Stage = "summary"
)

// ValidStage reports whether s names a worker stage or the summary slot.
func ValidStage(s Stage) bool {
	switch s {
	case StageExtract, StageAnalyze, StageInterview, StageChart, StageSummary:
		return true
	}
	return false
}
