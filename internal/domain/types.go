// Package domain contains core business entities and types for clinical-trial
// admission screening: diagnosis-code phenotyping, rule-based eligibility
// evaluation, and deterministic candidate ranking.
//
// Screening operates on de-identified hospital admission records (MIMIC-style
// warehouse extracts) and is a decision-support aid: every exclusion is
// attributable to an explicit, auditable rule.
package domain

import (
	"errors"
)

// CodeSystem identifies the diagnosis-coding standard a code value belongs to.
// Code values are only comparable within the same system.
type CodeSystem string

const (
	ICD9  CodeSystem = "ICD9"
	ICD10 CodeSystem = "ICD10"
)

// CodeCategory is the semantic category the code catalogue assigns to a
// diagnosis code. UNMAPPED is a first-class outcome, not an error: catalogue
// lookups are total and unknown codes fail open.
type CodeCategory string

const (
	STROKE         CodeCategory = "STROKE"
	CARDIOVASCULAR CodeCategory = "CARDIOVASCULAR"
	UNMAPPED       CodeCategory = "UNMAPPED"
)

// ReasonCode identifies one exclusion rule outcome. Reasons are additive: an
// admission may accumulate several simultaneously, and the ordered reason
// list is the audit artifact reviewers work from.
type ReasonCode string

const (
	AGE_BELOW_MIN             ReasonCode = "AGE_BELOW_MIN"
	AGE_ABOVE_MAX             ReasonCode = "AGE_ABOVE_MAX"
	AGE_HARD_EXCLUDED         ReasonCode = "AGE_HARD_EXCLUDED"
	NO_STROKE_SIGNAL          ReasonCode = "NO_STROKE_SIGNAL"
	NO_CARDIOVASCULAR_CONTEXT ReasonCode = "NO_CARDIOVASCULAR_CONTEXT"
	NOT_EMERGENCY             ReasonCode = "NOT_EMERGENCY"
	NO_STROKE_EVIDENCE        ReasonCode = "NO_STROKE_EVIDENCE"
	ML_SCORE_BELOW_THRESHOLD  ReasonCode = "ML_SCORE_BELOW_THRESHOLD"
)

// RunStatus tracks the lifecycle of a screening run.
type RunStatus string

const (
	RunPending   RunStatus = "PENDING"
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
)

// Validation errors for screening data integrity
var (
	ErrRunNotFound       = errors.New("run not found")
	ErrInvalidCodeSystem = errors.New("invalid code system")
	ErrInvalidReasonCode = errors.New("invalid exclusion reason code")
	ErrInvalidRunStatus  = errors.New("invalid run status")
)

// AllReasonCodes returns every defined reason code in rule-evaluation order.
// Summary tables iterate this slice so repeated runs render counters in an
// identical order.
func AllReasonCodes() []ReasonCode {
	return []ReasonCode{
		AGE_BELOW_MIN,
		AGE_ABOVE_MAX,
		AGE_HARD_EXCLUDED,
		NO_STROKE_SIGNAL,
		NO_CARDIOVASCULAR_CONTEXT,
		NOT_EMERGENCY,
		NO_STROKE_EVIDENCE,
		ML_SCORE_BELOW_THRESHOLD,
	}
}

// IsValid validates the code system tag.
func (cs CodeSystem) IsValid() bool {
	switch cs {
	case ICD9, ICD10:
		return true
	default:
		return false
	}
}

// String returns the string representation of the code system.
func (cs CodeSystem) String() string {
	return string(cs)
}

// IsValid validates the code category.
func (cc CodeCategory) IsValid() bool {
	switch cc {
	case STROKE, CARDIOVASCULAR, UNMAPPED:
		return true
	default:
		return false
	}
}

// String returns the string representation of the category.
func (cc CodeCategory) String() string {
	return string(cc)
}

// IsValid validates that the reason code is one of the defined exclusion
// rules. Only valid reasons may enter the audit trail.
func (rc ReasonCode) IsValid() bool {
	switch rc {
	case AGE_BELOW_MIN, AGE_ABOVE_MAX, AGE_HARD_EXCLUDED,
		NO_STROKE_SIGNAL, NO_CARDIOVASCULAR_CONTEXT, NOT_EMERGENCY,
		NO_STROKE_EVIDENCE, ML_SCORE_BELOW_THRESHOLD:
		return true
	default:
		return false
	}
}

// String returns the string representation of the reason code.
func (rc ReasonCode) String() string {
	return string(rc)
}

// Description returns a human-readable explanation of the exclusion reason
// for review lists and clinical reporting.
func (rc ReasonCode) Description() string {
	switch rc {
	case AGE_BELOW_MIN:
		return "Age below configured study minimum"
	case AGE_ABOVE_MAX:
		return "Age above configured study maximum"
	case AGE_HARD_EXCLUDED:
		return "Age at or above the hard exclusion ceiling"
	case NO_STROKE_SIGNAL:
		return "Stroke code count below the configured minimum"
	case NO_CARDIOVASCULAR_CONTEXT:
		return "Cardiovascular code count below the configured minimum"
	case NOT_EMERGENCY:
		return "Admission type is not classified as emergency"
	case NO_STROKE_EVIDENCE:
		return "No stroke-mapped diagnosis codes at all"
	case ML_SCORE_BELOW_THRESHOLD:
		return "Model probability below the configured score threshold"
	default:
		return "Unknown exclusion reason"
	}
}

// LogFields returns structured logging fields for audit trails.
func (rc ReasonCode) LogFields() map[string]any {
	return map[string]any{
		"reason":      string(rc),
		"description": rc.Description(),
		"is_valid":    rc.IsValid(),
	}
}

// IsValid validates the run status.
func (rs RunStatus) IsValid() bool {
	switch rs {
	case RunPending, RunRunning, RunCompleted, RunFailed:
		return true
	default:
		return false
	}
}

// String returns the string representation of the run status.
func (rs RunStatus) String() string {
	return string(rs)
}

// IsTerminal reports whether the run can no longer change state.
func (rs RunStatus) IsTerminal() bool {
	return rs == RunCompleted || rs == RunFailed
}
