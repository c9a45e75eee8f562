package eligibility

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/stroke-trial-screener/internal/domain"
)

func newTestEvaluator() *Evaluator {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewEvaluator(logger)
}

func TestEvaluateIncludedCandidate(t *testing.T) {
	// Age 70, two stroke codes (one primary), emergency type, defaults:
	// included with a nonzero strength score and no reasons.
	e := newTestEvaluator()
	cfg := domain.DefaultStudyConfig()

	adm := &domain.Admission{
		SubjectID:     "10001",
		HadmID:        "150001",
		Age:           70,
		AdmissionType: "EMERGENCY",
	}
	facts := &domain.PhenotypeFacts{
		StrokeCodeCount:    2,
		HasPrimaryStrokeDx: true,
	}

	decision := e.Evaluate(cfg, adm, facts)

	assert.True(t, decision.Included)
	assert.Empty(t, decision.ExclusionReasons)
	assert.Greater(t, decision.HeuristicStrength, 0.0)
	assert.Equal(t, decision.HeuristicStrength, decision.FinalScore)
}

func TestEvaluateHardAgeExclusion(t *testing.T) {
	// Age 92 with otherwise perfect stroke evidence: AGE_HARD_EXCLUDED fires
	// and dominates.
	e := newTestEvaluator()
	cfg := domain.DefaultStudyConfig()

	adm := &domain.Admission{HadmID: "150002", Age: 92, AdmissionType: "EMERGENCY"}
	facts := &domain.PhenotypeFacts{StrokeCodeCount: 2, HasPrimaryStrokeDx: true}

	decision := e.Evaluate(cfg, adm, facts)

	assert.False(t, decision.Included)
	assert.Contains(t, decision.ExclusionReasons, domain.AGE_HARD_EXCLUDED)
	assert.Contains(t, decision.ExclusionReasons, domain.AGE_ABOVE_MAX)
	assert.Greater(t, decision.HeuristicStrength, 0.0,
		"excluded admissions keep their strength score for diagnostics")
}

func TestEvaluateHardLimitIndependentOfSoftBand(t *testing.T) {
	// With max raised to 95 the soft band admits age 92, but the default
	// hard ceiling of 90 still excludes.
	e := newTestEvaluator()
	cfg := domain.DefaultStudyConfig()
	cfg.Age.Max = 89
	cfg.Age.HardExclude = 90

	adm := &domain.Admission{HadmID: "150003", Age: 89, AdmissionType: "EMERGENCY"}
	facts := &domain.PhenotypeFacts{StrokeCodeCount: 1}

	decision := e.Evaluate(cfg, adm, facts)
	assert.True(t, decision.Included)

	adm.Age = 90 // at the ceiling
	decision = e.Evaluate(cfg, adm, facts)
	assert.False(t, decision.Included)
	assert.Equal(t, []domain.ReasonCode{domain.AGE_HARD_EXCLUDED}, decision.ExclusionReasons)
}

func TestEvaluateNoStrokeSignalCollectsBothReasons(t *testing.T) {
	// Zero stroke codes under defaults fires the configurable rule and the
	// always-on safety net, additively.
	e := newTestEvaluator()
	cfg := domain.DefaultStudyConfig()

	adm := &domain.Admission{HadmID: "150004", Age: 70, AdmissionType: "EMERGENCY"}
	facts := &domain.PhenotypeFacts{StrokeCodeCount: 0}

	decision := e.Evaluate(cfg, adm, facts)

	assert.False(t, decision.Included)
	assert.Contains(t, decision.ExclusionReasons, domain.NO_STROKE_SIGNAL)
	assert.Contains(t, decision.ExclusionReasons, domain.NO_STROKE_EVIDENCE)
}

func TestEvaluateSignalRulesStayIndependent(t *testing.T) {
	// min_code_count=2 with one stroke code fires only the configurable
	// rule; the zero-evidence safety net stays quiet.
	e := newTestEvaluator()
	cfg := domain.DefaultStudyConfig()
	cfg.StrokeSignal.MinCodeCount = 2

	adm := &domain.Admission{HadmID: "150005", Age: 70}
	facts := &domain.PhenotypeFacts{StrokeCodeCount: 1}

	decision := e.Evaluate(cfg, adm, facts)

	assert.Contains(t, decision.ExclusionReasons, domain.NO_STROKE_SIGNAL)
	assert.NotContains(t, decision.ExclusionReasons, domain.NO_STROKE_EVIDENCE)
}

func TestEvaluateReasonCompleteness(t *testing.T) {
	// An admission failing every heuristic rule at once records every
	// reason, in rule order, with no short-circuit.
	e := newTestEvaluator()
	cfg := domain.DefaultStudyConfig()
	cfg.Cardiovascular.Required = true
	cfg.Admission.EmergencyOnly = true

	adm := &domain.Admission{HadmID: "150006", Age: 95, AdmissionType: "ELECTIVE"}
	facts := &domain.PhenotypeFacts{}

	decision := e.Evaluate(cfg, adm, facts)

	expected := []domain.ReasonCode{
		domain.AGE_ABOVE_MAX,
		domain.AGE_HARD_EXCLUDED,
		domain.NO_STROKE_SIGNAL,
		domain.NO_CARDIOVASCULAR_CONTEXT,
		domain.NOT_EMERGENCY,
		domain.NO_STROKE_EVIDENCE,
	}
	assert.Equal(t, expected, decision.ExclusionReasons)
	assert.False(t, decision.Included)
}

func TestEvaluateAgeBoundaries(t *testing.T) {
	e := newTestEvaluator()
	cfg := domain.DefaultStudyConfig()
	facts := &domain.PhenotypeFacts{StrokeCodeCount: 1}

	tests := []struct {
		name    string
		age     float64
		reasons []domain.ReasonCode
	}{
		{"below min", 17, []domain.ReasonCode{domain.AGE_BELOW_MIN}},
		{"at min", 18, nil},
		{"at max", 85, nil},
		{"above max", 86, []domain.ReasonCode{domain.AGE_ABOVE_MAX}},
		{"at hard ceiling", 90, []domain.ReasonCode{domain.AGE_ABOVE_MAX, domain.AGE_HARD_EXCLUDED}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adm := &domain.Admission{HadmID: "h", Age: tt.age}
			decision := e.Evaluate(cfg, adm, facts)
			if tt.reasons == nil {
				assert.True(t, decision.Included)
			} else {
				assert.Equal(t, tt.reasons, decision.ExclusionReasons)
			}
		})
	}
}

func TestEvaluateDisabledTogglesNeverFire(t *testing.T) {
	e := newTestEvaluator()
	cfg := domain.DefaultStudyConfig()
	cfg.StrokeSignal.RequireAnySignal = false
	cfg.Exclusions.ExcludeWithoutStrokeSignal = false
	cfg.Exclusions.ExcludeIfAgeAboveHardLimit = false

	adm := &domain.Admission{HadmID: "150007", Age: 84}
	facts := &domain.PhenotypeFacts{StrokeCodeCount: 0}

	decision := e.Evaluate(cfg, adm, facts)

	assert.True(t, decision.Included)
	assert.Empty(t, decision.ExclusionReasons)
}

func TestStrengthScoreMonotonicInStrokeEvidence(t *testing.T) {
	e := newTestEvaluator()
	cfg := domain.DefaultStudyConfig()
	adm := &domain.Admission{HadmID: "h", Age: 70}

	var previous float64
	for count := 0; count < 5; count++ {
		facts := &domain.PhenotypeFacts{StrokeCodeCount: count}
		decision := e.Evaluate(cfg, adm, facts)
		if count > 0 {
			assert.Greater(t, decision.HeuristicStrength, previous)
		}
		previous = decision.HeuristicStrength
	}
}

func TestStrengthScorePrimaryBonusGatedByPreference(t *testing.T) {
	e := newTestEvaluator()
	adm := &domain.Admission{HadmID: "h", Age: 70}
	facts := &domain.PhenotypeFacts{StrokeCodeCount: 1, HasPrimaryStrokeDx: true}

	withPref := domain.DefaultStudyConfig()
	withoutPref := domain.DefaultStudyConfig()
	withoutPref.StrokeSignal.PreferPrimaryDx = false

	preferred := e.Evaluate(withPref, adm, facts)
	plain := e.Evaluate(withoutPref, adm, facts)

	assert.Greater(t, preferred.HeuristicStrength, plain.HeuristicStrength)
}

func TestEvaluateAllPreservesOrderAndCounts(t *testing.T) {
	e := newTestEvaluator()
	cfg := domain.DefaultStudyConfig()

	admissions := []domain.Admission{
		{SubjectID: "1", HadmID: "a", Age: 70},
		{SubjectID: "2", HadmID: "b", Age: 95},
	}
	facts := []domain.PhenotypeFacts{
		{StrokeCodeCount: 1},
		{StrokeCodeCount: 1},
	}

	decisions := e.EvaluateAll(cfg, admissions, facts)

	assert.Len(t, decisions, 2)
	assert.Equal(t, "a", decisions[0].HadmID)
	assert.True(t, decisions[0].Included)
	assert.False(t, decisions[1].Included)
}
