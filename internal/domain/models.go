package domain

import (
	"strings"
	"time"
)

// Core Data Models

// DiagnosisCode is one diagnosis-code occurrence on an admission. Identity is
// the (System, Value) pair; SeqNum preserves the source ordering, with
// sequence number 1 marking the primary diagnosis.
type DiagnosisCode struct {
	System CodeSystem `json:"code_system"`
	Value  string     `json:"code_value"`
	SeqNum int        `json:"seq_num,omitempty"`
}

// IsPrimary reports whether this occurrence is the admission's primary
// diagnosis.
func (d DiagnosisCode) IsPrimary() bool {
	return d.SeqNum == 1
}

// Admission is one hospital stay for one subject and the unit of eligibility
// evaluation. A subject may have multiple admissions; each is screened
// independently.
type Admission struct {
	SubjectID     string          `json:"subject_id"`
	HadmID        string          `json:"hadm_id"`
	AdmitTime     time.Time       `json:"admit_time"`
	DischargeTime time.Time       `json:"discharge_time,omitempty"`
	AdmissionType string          `json:"admission_type"`
	Age           float64         `json:"age"`
	LengthOfStay  float64         `json:"length_of_stay_days,omitempty"`
	Diagnoses     []DiagnosisCode `json:"diagnoses"`
}

// IsEmergency classifies the admission type. De-identified extracts carry
// free-text types ("EMERGENCY", "EW EMER.", "DIRECT EMER."), so the match is
// a case-insensitive substring test rather than an enum.
func (a *Admission) IsEmergency() bool {
	return strings.Contains(strings.ToUpper(a.AdmissionType), "EMERGENCY") ||
		strings.Contains(strings.ToUpper(a.AdmissionType), "EMER.")
}

// PhenotypeFacts are the per-admission signals derived from diagnosis codes.
// Computed once per run and read-only afterward. Counts include duplicate
// occurrences: repetition across diagnosis lines is taken as evidence
// strength, not noise.
type PhenotypeFacts struct {
	StrokeCodeCount         int     `json:"stroke_code_count"`
	CardiovascularCodeCount int     `json:"cardiovascular_code_count"`
	HasPrimaryStrokeDx      bool    `json:"has_primary_stroke_dx"`
	TotalDiagnosisCount     int     `json:"total_diagnosis_count"`
	StrokeCodeDensity       float64 `json:"stroke_code_density"`
}

// EligibilityDecision is the outcome of evaluating one admission against the
// study criteria. Reasons are additive and ordered; Included is true iff the
// reason list is empty. FinalScore is set by the score blender and equals
// HeuristicStrength unless a model score replaced it.
type EligibilityDecision struct {
	SubjectID         string       `json:"subject_id"`
	HadmID            string       `json:"hadm_id"`
	Included          bool         `json:"included"`
	ExclusionReasons  []ReasonCode `json:"exclusion_reasons"`
	HeuristicStrength float64      `json:"heuristic_strength_score"`
	FinalScore        float64      `json:"final_score"`
	ModelScore        *float64     `json:"model_score,omitempty"`
}

// HasReason reports whether the decision carries the given exclusion reason.
func (d *EligibilityDecision) HasReason(code ReasonCode) bool {
	for _, r := range d.ExclusionReasons {
		if r == code {
			return true
		}
	}
	return false
}

// AddReason appends an exclusion reason and flips Included off. Appending the
// same reason twice is a programming error upstream, so duplicates are kept
// visible rather than silently merged.
func (d *EligibilityDecision) AddReason(code ReasonCode) {
	d.ExclusionReasons = append(d.ExclusionReasons, code)
	d.Included = false
}

// Candidate pairs an admission with its derived facts and decision. The
// ranker consumes candidates so tie-breaking can reach admission fields
// without re-joining tables.
type Candidate struct {
	Admission Admission           `json:"admission"`
	Facts     PhenotypeFacts      `json:"facts"`
	Decision  EligibilityDecision `json:"decision"`
}

// RankingEntry is one row of the ranked candidate list. Rank is 1-based and
// only included admissions receive one.
type RankingEntry struct {
	Rank              int       `json:"rank"`
	SubjectID         string    `json:"subject_id"`
	HadmID            string    `json:"hadm_id"`
	FinalScore        float64   `json:"final_score"`
	HeuristicStrength float64   `json:"heuristic_strength_score"`
	StrokeCodeCount   int       `json:"stroke_code_count"`
	AdmitTime         time.Time `json:"admit_time"`
}

// TopKList is a top-K slice of the full ranking for one configured screening
// capacity. Entries is always a prefix of the full ranking.
type TopKList struct {
	K       int            `json:"k"`
	Entries []RankingEntry `json:"entries"`
}

// ScoreStats are basic distribution statistics over the final scores of
// included candidates.
type ScoreStats struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
}

// RunSummary is the exclusion bookkeeping for one run. ReasonCounts carries a
// counter for every defined reason code, zero or not, so summary tables are
// byte-identical across runs on identical input; an admission excluded for N
// reasons contributes to all N counters.
type RunSummary struct {
	TotalEvaluated int                `json:"total_evaluated"`
	TotalIncluded  int                `json:"total_included"`
	ReasonCounts   map[ReasonCode]int `json:"reason_counts"`
	Scores         ScoreStats         `json:"score_stats"`
}

// StudyInfo is the informational study header carried through to reports and
// the results store; it never affects evaluation.
type StudyInfo struct {
	Name        string `json:"name" mapstructure:"name"`
	Description string `json:"description" mapstructure:"description"`
	Version     string `json:"version" mapstructure:"version"`
	Created     string `json:"created" mapstructure:"created"`
}
