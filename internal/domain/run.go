package domain

import (
	"time"
)

// RunResult is everything a completed screening run produces: the full
// ranking, the per-capacity review lists, the exclusion summary, and the
// per-admission audit decisions. A failed run produces no RunResult at all;
// partial results are never surfaced.
type RunResult struct {
	RunID       string                `json:"run_id"`
	Study       StudyInfo             `json:"study"`
	Status      RunStatus             `json:"status"`
	StartedAt   time.Time             `json:"started_at"`
	CompletedAt time.Time             `json:"completed_at"`
	Ranking     []RankingEntry        `json:"ranking"`
	TopK        []TopKList            `json:"top_k"`
	Summary     RunSummary            `json:"summary"`
	Decisions   []EligibilityDecision `json:"decisions"`
	Quality     *RankingQuality       `json:"quality,omitempty"`
	StageTimes  map[string]float64    `json:"stage_times_ms"`
}

// RankingQuality compares the blended ordering against the pure heuristic
// ordering, and optionally against adjudicated labels. It is diagnostic
// output only and never feeds back into evaluation.
type RankingQuality struct {
	OverlapAtK   map[int]float64 `json:"overlap_at_k"`
	PrecisionAtK map[int]float64 `json:"precision_at_k,omitempty"`
	RecallAtK    map[int]float64 `json:"recall_at_k,omitempty"`
}

// ProgressEvent is one stage-transition notification emitted while a run
// executes. Events are advisory; dropping them never affects the run.
type ProgressEvent struct {
	RunID     string    `json:"run_id"`
	Stage     string    `json:"stage"`
	Completed int       `json:"completed"`
	Total     int       `json:"total"`
	Timestamp time.Time `json:"timestamp"`
}
