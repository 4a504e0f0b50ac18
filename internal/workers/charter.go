package workers

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// topSkillsLimit caps how many skills appear per analytics bucket.
const topSkillsLimit = 10

// AggregatingCharter implements Charter as a pure local aggregation over the
// user's prior gap reports. No remote calls: an empty record set yields an
// empty-but-valid artifact so the plan keeps advancing.
type AggregatingCharter struct {
	log *slog.Logger
}

var _ Charter = (*AggregatingCharter)(nil)

func NewAggregatingCharter(log *slog.Logger) *AggregatingCharter {
	return &AggregatingCharter{log: log}
}

func (c *AggregatingCharter) Chart(_ context.Context, req ChartRequest) (CareerAnalytics, error) {
	out := CareerAnalytics{GeneratedAt: time.Now().UTC()}
	if len(req.GapReports) == 0 {
		c.log.Info("charter.empty_record_set")
		return out, nil
	}

	missing := map[string]int{}
	matched := map[string]int{}
	var scoreSum float32

	for idx, raw := range req.GapReports {
		var rec AnalyzeResult
		if err := json.Unmarshal(raw, &rec); err != nil {
			return CareerAnalytics{}, newError(KindAggregation, err, "malformed gap report at index %d", idx)
		}
		out.JobsAnalyzed++
		scoreSum += rec.Gap.MatchScore
		countSkills(missing, rec.Gap.MissingSkills)
		countSkills(matched, rec.Gap.MatchedSkills)
	}

	out.AverageMatch = scoreSum / float32(out.JobsAnalyzed)
	out.TopMissingSkills = topSkills(missing, topSkillsLimit)
	out.TopMatchedSkills = topSkills(matched, topSkillsLimit)

	c.log.Info("charter.ok",
		"jobs_analyzed", out.JobsAnalyzed,
		"average_match", out.AverageMatch,
	)
	return out, nil
}

func countSkills(counts map[string]int, skills []string) {
	for _, s := range skills {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			counts[s]++
		}
	}
}

func topSkills(counts map[string]int, limit int) []SkillCount {
	if len(counts) == 0 {
		return nil
	}
	out := make([]SkillCount, 0, len(counts))
	for skill, count := range counts {
		out = append(out, SkillCount{Skill: skill, Count: count})
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].Count != out[k].Count {
			return out[i].Count > out[k].Count
		}
		return out[i].Skill < out[k].Skill
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
