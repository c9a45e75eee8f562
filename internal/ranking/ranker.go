// Package ranking orders included candidates deterministically and produces
// the review lists and summary bookkeeping for a run. The multi-key
// comparator is fully explicit: repeated runs over identical input always
// yield byte-identical order, independent of upstream insertion order.
package ranking

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/stroke-trial-screener/internal/domain"
)

// Ranker assembles the deterministic candidate ordering.
type Ranker struct {
	logger *logrus.Logger
}

// NewRanker creates a new ranker
func NewRanker(logger *logrus.Logger) *Ranker {
	return &Ranker{logger: logger}
}

// Rank filters candidates to included decisions and sorts them by the
// deterministic comparator chain: final score descending, stroke code count
// descending, admission time ascending, then subject and admission
// identifiers ascending as final tie-breaks. Rank numbers are 1-based.
func (r *Ranker) Rank(candidates []domain.Candidate) []domain.RankingEntry {
	entries := make([]domain.RankingEntry, 0, len(candidates))
	for i := range candidates {
		c := &candidates[i]
		if !c.Decision.Included {
			continue
		}
		entries = append(entries, domain.RankingEntry{
			SubjectID:         c.Admission.SubjectID,
			HadmID:            c.Admission.HadmID,
			FinalScore:        c.Decision.FinalScore,
			HeuristicStrength: c.Decision.HeuristicStrength,
			StrokeCodeCount:   c.Facts.StrokeCodeCount,
			AdmitTime:         c.Admission.AdmitTime,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := &entries[i], &entries[j]
		if a.FinalScore != b.FinalScore {
			return a.FinalScore > b.FinalScore
		}
		if a.StrokeCodeCount != b.StrokeCodeCount {
			return a.StrokeCodeCount > b.StrokeCodeCount
		}
		if !a.AdmitTime.Equal(b.AdmitTime) {
			return a.AdmitTime.Before(b.AdmitTime)
		}
		if a.SubjectID != b.SubjectID {
			return a.SubjectID < b.SubjectID
		}
		return a.HadmID < b.HadmID
	})

	for i := range entries {
		entries[i].Rank = i + 1
	}

	r.logger.WithFields(logrus.Fields{
		"candidates": len(candidates),
		"ranked":     len(entries),
	}).Info("Completed candidate ranking")

	return entries
}

// TopK slices the full ranking for each configured screening capacity. K is
// capped at the available candidate count; a capacity exceeding it is not an
// error. Each slice is a prefix of the full ranking.
func (r *Ranker) TopK(ranking []domain.RankingEntry, kValues []int) []domain.TopKList {
	lists := make([]domain.TopKList, 0, len(kValues))
	for _, k := range kValues {
		n := k
		if n > len(ranking) {
			n = len(ranking)
		}
		entries := make([]domain.RankingEntry, n)
		copy(entries, ranking[:n])
		lists = append(lists, domain.TopKList{K: k, Entries: entries})
	}
	return lists
}

// Summarize produces the exclusion bookkeeping for a run. Every defined
// reason code gets a counter, zero or not; an admission excluded for N
// reasons contributes to all N counters. Score statistics cover the final
// scores of included candidates only.
func (r *Ranker) Summarize(decisions []domain.EligibilityDecision, ranking []domain.RankingEntry) domain.RunSummary {
	summary := domain.RunSummary{
		TotalEvaluated: len(decisions),
		TotalIncluded:  len(ranking),
		ReasonCounts:   make(map[domain.ReasonCode]int, len(domain.AllReasonCodes())),
	}
	for _, code := range domain.AllReasonCodes() {
		summary.ReasonCounts[code] = 0
	}

	for i := range decisions {
		for _, reason := range decisions[i].ExclusionReasons {
			summary.ReasonCounts[reason]++
		}
	}

	if len(ranking) > 0 {
		min, max, sum := ranking[0].FinalScore, ranking[0].FinalScore, 0.0
		for _, entry := range ranking {
			if entry.FinalScore < min {
				min = entry.FinalScore
			}
			if entry.FinalScore > max {
				max = entry.FinalScore
			}
			sum += entry.FinalScore
		}
		summary.Scores = domain.ScoreStats{
			Min:  min,
			Max:  max,
			Mean: sum / float64(len(ranking)),
		}
	}

	return summary
}
