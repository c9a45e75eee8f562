package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/stroke-trial-screener/internal/domain"
)

// LoadStudy parses a study criteria document into an immutable StudyConfig.
// Every omitted field takes its documented default, so an empty path or an
// empty document yields exactly domain.DefaultStudyConfig(). Only explicitly
// supplied values can fail: a wrong logical type or a violated numeric
// invariant is a ConfigurationError and the run must not proceed.
//
// Each call uses an isolated viper instance so study documents never leak
// state into the process-wide application configuration.
func LoadStudy(path string) (*domain.StudyConfig, error) {
	v := viper.New()
	setStudyDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading study criteria %s: %w", path, err)
		}
	}

	return unmarshalStudy(v)
}

// LoadStudyFromMap builds a StudyConfig from an already-decoded criteria
// document, typically the JSON body of an API run request. Defaulting and
// validation behave exactly as LoadStudy.
func LoadStudyFromMap(doc map[string]interface{}) (*domain.StudyConfig, error) {
	v := viper.New()
	setStudyDefaults(v)

	if doc != nil {
		if err := v.MergeConfigMap(doc); err != nil {
			return nil, fmt.Errorf("merging study criteria: %w", err)
		}
	}

	return unmarshalStudy(v)
}

func unmarshalStudy(v *viper.Viper) (*domain.StudyConfig, error) {
	cfg := &domain.StudyConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		// Unmarshal only fails on explicitly supplied values of the wrong
		// logical type; defaults always decode.
		return nil, domain.NewConfigurationError(
			fieldFromDecodeError(err), "value has the wrong type", err.Error())
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setStudyDefaults registers the documented default for every criteria key.
func setStudyDefaults(v *viper.Viper) {
	v.SetDefault("study.name", "")
	v.SetDefault("study.description", "")
	v.SetDefault("study.version", "")
	v.SetDefault("study.created", "")

	v.SetDefault("age.min", domain.DefaultAgeMin)
	v.SetDefault("age.max", domain.DefaultAgeMax)
	v.SetDefault("age.hard_exclude", domain.DefaultAgeHardExclude)

	v.SetDefault("stroke_signal.min_code_count", domain.DefaultStrokeMinCodeCount)
	v.SetDefault("stroke_signal.require_any_signal", true)
	v.SetDefault("stroke_signal.prefer_primary_dx", true)

	v.SetDefault("cardiovascular_context.min_code_count", domain.DefaultCardioMinCodeCount)
	v.SetDefault("cardiovascular_context.required", false)

	v.SetDefault("admission.emergency_only", false)

	v.SetDefault("ml_scoring.enabled", false)
	v.SetDefault("ml_scoring.min_score", domain.DefaultMLMinScore)

	v.SetDefault("exclusions.exclude_without_stroke_signal", true)
	v.SetDefault("exclusions.exclude_if_age_above_hard_limit", true)

	v.SetDefault("screening.default_k_values", domain.DefaultKValues())
}

// fieldFromDecodeError extracts the offending key from a mapstructure decode
// error so ConfigurationError can name it. Decode messages look like
// "cannot decode 'age.min' ...: best effort only".
func fieldFromDecodeError(err error) string {
	msg := err.Error()
	if start := strings.Index(msg, "'"); start >= 0 {
		if end := strings.Index(msg[start+1:], "'"); end > 0 {
			return strings.ToLower(msg[start+1 : start+1+end])
		}
	}
	return "criteria"
}
