package domain

// Study criteria defaults. Every field of the criteria document is optional;
// an absent field takes the value documented here, and loading an empty
// document yields exactly DefaultStudyConfig().
const (
	DefaultAgeMin         = 18.0
	DefaultAgeMax         = 85.0
	DefaultAgeHardExclude = 90.0

	DefaultStrokeMinCodeCount = 1
	DefaultCardioMinCodeCount = 1

	DefaultMLMinScore = 0.0
)

// DefaultKValues are the screening capacities used when the criteria document
// does not configure its own.
func DefaultKValues() []int {
	return []int{25, 50, 100, 200}
}

// AgeCriteria is the soft age band plus the hard ceiling. The merged values
// must satisfy Min <= Max < HardExclude.
type AgeCriteria struct {
	Min         float64 `json:"min" mapstructure:"min"`
	Max         float64 `json:"max" mapstructure:"max"`
	HardExclude float64 `json:"hard_exclude" mapstructure:"hard_exclude"`
}

// StrokeSignalCriteria configures the stroke evidence requirement.
// PreferPrimaryDx never excludes; it only feeds the strength score.
type StrokeSignalCriteria struct {
	MinCodeCount     int  `json:"min_code_count" mapstructure:"min_code_count"`
	RequireAnySignal bool `json:"require_any_signal" mapstructure:"require_any_signal"`
	PreferPrimaryDx  bool `json:"prefer_primary_dx" mapstructure:"prefer_primary_dx"`
}

// CardiovascularCriteria configures the cardiovascular context requirement.
type CardiovascularCriteria struct {
	MinCodeCount int  `json:"min_code_count" mapstructure:"min_code_count"`
	Required     bool `json:"required" mapstructure:"required"`
}

// AdmissionCriteria filters on admission metadata.
type AdmissionCriteria struct {
	EmergencyOnly bool `json:"emergency_only" mapstructure:"emergency_only"`
}

// MLScoringCriteria controls blending of the external model probability.
type MLScoringCriteria struct {
	Enabled  bool    `json:"enabled" mapstructure:"enabled"`
	MinScore float64 `json:"min_score" mapstructure:"min_score"`
}

// ExclusionCriteria are the always-on safety nets, independent of the
// configurable soft thresholds.
type ExclusionCriteria struct {
	ExcludeWithoutStrokeSignal bool `json:"exclude_without_stroke_signal" mapstructure:"exclude_without_stroke_signal"`
	ExcludeIfAgeAboveHardLimit bool `json:"exclude_if_age_above_hard_limit" mapstructure:"exclude_if_age_above_hard_limit"`
}

// ScreeningCriteria configures the review-list capacities.
type ScreeningCriteria struct {
	DefaultKValues []int `json:"default_k_values" mapstructure:"default_k_values"`
}

// StudyConfig is the validated, immutable snapshot of one study's criteria.
// It is loaded once per run and never mutated afterward; evaluation reads it
// from every stage without locking.
type StudyConfig struct {
	Study          StudyInfo              `json:"study" mapstructure:"study"`
	Age            AgeCriteria            `json:"age" mapstructure:"age"`
	StrokeSignal   StrokeSignalCriteria   `json:"stroke_signal" mapstructure:"stroke_signal"`
	Cardiovascular CardiovascularCriteria `json:"cardiovascular_context" mapstructure:"cardiovascular_context"`
	Admission      AdmissionCriteria      `json:"admission" mapstructure:"admission"`
	MLScoring      MLScoringCriteria      `json:"ml_scoring" mapstructure:"ml_scoring"`
	Exclusions     ExclusionCriteria      `json:"exclusions" mapstructure:"exclusions"`
	Screening      ScreeningCriteria      `json:"screening" mapstructure:"screening"`
}

// DefaultStudyConfig returns the documented defaults for every criteria field.
func DefaultStudyConfig() *StudyConfig {
	return &StudyConfig{
		Age: AgeCriteria{
			Min:         DefaultAgeMin,
			Max:         DefaultAgeMax,
			HardExclude: DefaultAgeHardExclude,
		},
		StrokeSignal: StrokeSignalCriteria{
			MinCodeCount:     DefaultStrokeMinCodeCount,
			RequireAnySignal: true,
			PreferPrimaryDx:  true,
		},
		Cardiovascular: CardiovascularCriteria{
			MinCodeCount: DefaultCardioMinCodeCount,
			Required:     false,
		},
		Admission: AdmissionCriteria{
			EmergencyOnly: false,
		},
		MLScoring: MLScoringCriteria{
			Enabled:  false,
			MinScore: DefaultMLMinScore,
		},
		Exclusions: ExclusionCriteria{
			ExcludeWithoutStrokeSignal: true,
			ExcludeIfAgeAboveHardLimit: true,
		},
		Screening: ScreeningCriteria{
			DefaultKValues: DefaultKValues(),
		},
	}
}

// Validate checks the numeric invariants of the merged criteria. Validation
// runs after defaulting, so an explicit value that violates an invariant
// against a default (for example min=100 with the default max=85) is rejected
// the same way a fully explicit violation is.
func (c *StudyConfig) Validate() error {
	if c.Age.Min > c.Age.Max {
		return NewConfigurationError("age.min",
			"age.min must not exceed age.max", c.Age.Min)
	}
	if c.Age.Max >= c.Age.HardExclude {
		return NewConfigurationError("age.hard_exclude",
			"age.hard_exclude must be greater than age.max", c.Age.HardExclude)
	}
	if c.Age.Min < 0 {
		return NewConfigurationError("age.min", "age.min must not be negative", c.Age.Min)
	}
	if c.StrokeSignal.MinCodeCount < 0 {
		return NewConfigurationError("stroke_signal.min_code_count",
			"code count threshold must not be negative", c.StrokeSignal.MinCodeCount)
	}
	if c.Cardiovascular.MinCodeCount < 0 {
		return NewConfigurationError("cardiovascular_context.min_code_count",
			"code count threshold must not be negative", c.Cardiovascular.MinCodeCount)
	}
	if c.MLScoring.MinScore < 0.0 || c.MLScoring.MinScore > 1.0 {
		return NewConfigurationError("ml_scoring.min_score",
			"score threshold must be a probability in [0,1]", c.MLScoring.MinScore)
	}
	for _, k := range c.Screening.DefaultKValues {
		if k <= 0 {
			return NewConfigurationError("screening.default_k_values",
				"screening capacities must be positive", k)
		}
	}
	return nil
}
