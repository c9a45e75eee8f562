package ranking

import (
	"github.com/stroke-trial-screener/internal/domain"
)

// Quality computes diagnostic agreement metrics between orderings. It never
// feeds back into evaluation; reviewers use it to judge how much the model
// score reorders the heuristic list.
type Quality struct{}

// NewQuality creates a new ranking quality analyzer
func NewQuality() *Quality {
	return &Quality{}
}

// OverlapAtK measures, for each screening capacity, the fraction of the
// blended top-K that also appears in the heuristic top-K. A value of 1.0
// means the model score did not change the review list at that capacity.
func (q *Quality) OverlapAtK(blended, heuristic []domain.RankingEntry, kValues []int) map[int]float64 {
	overlap := make(map[int]float64, len(kValues))
	for _, k := range kValues {
		n := k
		if n > len(blended) {
			n = len(blended)
		}
		m := k
		if m > len(heuristic) {
			m = len(heuristic)
		}
		if n == 0 || m == 0 {
			overlap[k] = 0
			continue
		}

		inHeuristic := make(map[string]struct{}, m)
		for _, entry := range heuristic[:m] {
			inHeuristic[entry.HadmID] = struct{}{}
		}

		shared := 0
		for _, entry := range blended[:n] {
			if _, ok := inHeuristic[entry.HadmID]; ok {
				shared++
			}
		}
		overlap[k] = float64(shared) / float64(n)
	}
	return overlap
}

// PrecisionRecallAtK computes precision@K and recall@K against adjudicated
// labels (hadm_id -> truly eligible). Admissions without a label count as
// negative. Returns nil maps when no positive labels exist.
func (q *Quality) PrecisionRecallAtK(ranking []domain.RankingEntry, labels map[string]bool, kValues []int) (precision, recall map[int]float64) {
	totalPositive := 0
	for _, positive := range labels {
		if positive {
			totalPositive++
		}
	}
	if totalPositive == 0 {
		return nil, nil
	}

	precision = make(map[int]float64, len(kValues))
	recall = make(map[int]float64, len(kValues))

	for _, k := range kValues {
		n := k
		if n > len(ranking) {
			n = len(ranking)
		}
		if n == 0 {
			precision[k] = 0
			recall[k] = 0
			continue
		}

		hits := 0
		for _, entry := range ranking[:n] {
			if labels[entry.HadmID] {
				hits++
			}
		}
		precision[k] = float64(hits) / float64(n)
		recall[k] = float64(hits) / float64(totalPositive)
	}

	return precision, recall
}
