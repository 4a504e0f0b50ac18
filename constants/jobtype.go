package constants

// JobType selects the ordered worker plan for a job.
type JobType string

const (
	JobTypeCVParse       JobType = "cv_parse"       // parse a CV into a structured profile
	JobTypeJobParse      JobType = "job_parse"      // parse a job posting into a structured profile
	JobTypeGapAnalysis   JobType = "gap_analysis"   // compare CV vs posting
	JobTypeCVRewrite     JobType = "cv_rewrite"     // gap analysis + rewritten CV
	JobTypeInterviewPrep JobType = "interview_prep" // gap analysis + interview question pack
	JobTypeFullAnalysis  JobType = "full_analysis"  // everything, plus career analytics
)

// AllJobTypes lists every known job type, in a stable order.
var AllJobTypes = []JobType{
	JobTypeCVParse,
	JobTypeJobParse,
	JobTypeGapAnalysis,
	JobTypeCVRewrite,
	JobTypeInterviewPrep,
	JobTypeFullAnalysis,
}

// ValidJobType reports whether t is a known job type value.
func ValidJobType(t string) bool {
	for _, jt := range AllJobTypes {
		if JobType(t) == jt {
			return true
		}
	}
	return false
}
