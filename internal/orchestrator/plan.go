package orchestrator

import (
	"fmt"
	"math"

	"github.com/careerassist-ai/careerassist/constants"
)

// plans is the immutable lookup from job type to its ordered worker plan.
// Constructed once at compile time; never mutated at runtime. Stages run
// strictly in declared order because later stages read the persisted output
// of earlier ones.
var plans = map[constants.JobType][]constants.Stage{
	constants.JobTypeCVParse:       {constants.StageExtract},
	constants.JobTypeJobParse:      {constants.StageExtract},
	constants.JobTypeGapAnalysis:   {constants.StageExtract, constants.StageAnalyze},
	constants.JobTypeCVRewrite:     {constants.StageExtract, constants.StageAnalyze},
	constants.JobTypeInterviewPrep: {constants.StageExtract, constants.StageAnalyze, constants.StageInterview},
	constants.JobTypeFullAnalysis:  {constants.StageExtract, constants.StageAnalyze, constants.StageInterview, constants.StageChart},
}

// PlanFor returns the ordered worker plan for a job type.
func PlanFor(t constants.JobType) ([]constants.Stage, error) {
	plan, ok := plans[t]
	if !ok {
		return nil, fmt.Errorf("no worker plan for job type %q", t)
	}
	return plan, nil
}

// progressFor converts completed-stages-of-total into a 0-100 percentage.
// Deterministic from the slot count alone so a resumed delivery recomputes
// the same values: 1/3 -> 33, 2/3 -> 67, 3/3 -> 100.
func progressFor(done, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(done) / float64(total) * 100))
}
