// Package eligibility implements the study-criteria rule engine and the
// score blender. Every rule is checked against every admission and every
// failing reason is recorded: the exclusion-reason list is an audit artifact,
// so rule evaluation never short-circuits and never raises.
package eligibility

import (
	"github.com/sirupsen/logrus"

	"github.com/stroke-trial-screener/internal/domain"
)

// Heuristic strength weights. Any positive weights keep the score monotonic
// in stroke evidence; these values put stroke count first, the primary-dx
// bonus second, and cardiovascular context last.
const (
	strokeCodeWeight     = 2.0
	primaryDxBonus       = 1.0
	cardiovascularWeight = 0.5
)

// rule is one independently evaluable exclusion criterion. applies reports
// whether the exclusion fires for the given admission under the given
// configuration; it must be side-effect free.
type rule struct {
	code    domain.ReasonCode
	name    string
	applies func(cfg *domain.StudyConfig, adm *domain.Admission, facts *domain.PhenotypeFacts) bool
}

// Evaluator applies the configured study criteria to admissions.
type Evaluator struct {
	logger *logrus.Logger
	rules  []rule
}

// NewEvaluator creates a new eligibility evaluator
func NewEvaluator(logger *logrus.Logger) *Evaluator {
	e := &Evaluator{logger: logger}
	e.initializeRules()
	return e
}

// initializeRules sets up the exclusion rules in evaluation order. The order
// is fixed: it determines the order of reasons in the audit trail.
func (e *Evaluator) initializeRules() {
	e.rules = []rule{
		{
			code: domain.AGE_BELOW_MIN,
			name: "Age below configured study minimum",
			applies: func(cfg *domain.StudyConfig, adm *domain.Admission, _ *domain.PhenotypeFacts) bool {
				return adm.Age < cfg.Age.Min
			},
		},
		{
			code: domain.AGE_ABOVE_MAX,
			name: "Age above configured study maximum",
			applies: func(cfg *domain.StudyConfig, adm *domain.Admission, _ *domain.PhenotypeFacts) bool {
				return adm.Age > cfg.Age.Max
			},
		},
		{
			// The hard ceiling is independent of the soft band: an admission
			// just under max but at or above hard_exclude is still excluded.
			code: domain.AGE_HARD_EXCLUDED,
			name: "Age at or above the hard exclusion ceiling",
			applies: func(cfg *domain.StudyConfig, adm *domain.Admission, _ *domain.PhenotypeFacts) bool {
				return cfg.Exclusions.ExcludeIfAgeAboveHardLimit && adm.Age >= cfg.Age.HardExclude
			},
		},
		{
			code: domain.NO_STROKE_SIGNAL,
			name: "Stroke code count below the configured minimum",
			applies: func(cfg *domain.StudyConfig, _ *domain.Admission, facts *domain.PhenotypeFacts) bool {
				return cfg.StrokeSignal.RequireAnySignal && facts.StrokeCodeCount < cfg.StrokeSignal.MinCodeCount
			},
		},
		{
			code: domain.NO_CARDIOVASCULAR_CONTEXT,
			name: "Cardiovascular code count below the configured minimum",
			applies: func(cfg *domain.StudyConfig, _ *domain.Admission, facts *domain.PhenotypeFacts) bool {
				return cfg.Cardiovascular.Required && facts.CardiovascularCodeCount < cfg.Cardiovascular.MinCodeCount
			},
		},
		{
			code: domain.NOT_EMERGENCY,
			name: "Admission type is not classified as emergency",
			applies: func(cfg *domain.StudyConfig, adm *domain.Admission, _ *domain.PhenotypeFacts) bool {
				return cfg.Admission.EmergencyOnly && !adm.IsEmergency()
			},
		},
		{
			// Coarser safety net than NO_STROKE_SIGNAL: fires on zero stroke
			// codes regardless of the configured minimum, and stays additive
			// with it rather than replacing it.
			code: domain.NO_STROKE_EVIDENCE,
			name: "No stroke-mapped diagnosis codes at all",
			applies: func(cfg *domain.StudyConfig, _ *domain.Admission, facts *domain.PhenotypeFacts) bool {
				return cfg.Exclusions.ExcludeWithoutStrokeSignal && facts.StrokeCodeCount == 0
			},
		},
	}
}

// Evaluate produces the eligibility decision for one admission. Every rule is
// checked and every failing reason is appended in rule order; the decision
// always carries a heuristic strength score, included or not. Evaluate has no
// error conditions.
func (e *Evaluator) Evaluate(cfg *domain.StudyConfig, adm *domain.Admission, facts *domain.PhenotypeFacts) domain.EligibilityDecision {
	decision := domain.EligibilityDecision{
		SubjectID: adm.SubjectID,
		HadmID:    adm.HadmID,
		Included:  true,
	}

	for _, r := range e.rules {
		if r.applies(cfg, adm, facts) {
			decision.AddReason(r.code)
		}
	}

	decision.HeuristicStrength = e.strengthScore(cfg, facts)
	decision.FinalScore = decision.HeuristicStrength

	if !decision.Included {
		e.logger.WithFields(logrus.Fields{
			"hadm_id": adm.HadmID,
			"reasons": decision.ExclusionReasons,
		}).Debug("Admission excluded by study criteria")
	}

	return decision
}

// EvaluateAll evaluates a batch of admissions against one configuration.
// facts[i] must belong to admissions[i]; order is preserved.
func (e *Evaluator) EvaluateAll(cfg *domain.StudyConfig, admissions []domain.Admission, facts []domain.PhenotypeFacts) []domain.EligibilityDecision {
	decisions := make([]domain.EligibilityDecision, len(admissions))
	included := 0
	for i := range admissions {
		decisions[i] = e.Evaluate(cfg, &admissions[i], &facts[i])
		if decisions[i].Included {
			included++
		}
	}

	e.logger.WithFields(logrus.Fields{
		"evaluated": len(decisions),
		"included":  included,
	}).Info("Completed eligibility evaluation")

	return decisions
}

// strengthScore is the deterministic, monotonic heuristic combination:
// stroke count carries the primary weight, a bonus applies when the primary
// diagnosis is stroke-mapped and the study prefers that, and cardiovascular
// count contributes secondary weight. Excluded admissions keep their score
// for diagnostic reporting.
func (e *Evaluator) strengthScore(cfg *domain.StudyConfig, facts *domain.PhenotypeFacts) float64 {
	score := float64(facts.StrokeCodeCount) * strokeCodeWeight
	if cfg.StrokeSignal.PreferPrimaryDx && facts.HasPrimaryStrokeDx {
		score += primaryDxBonus
	}
	score += float64(facts.CardiovascularCodeCount) * cardiovascularWeight
	return score
}
