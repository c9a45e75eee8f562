package eligibility

import (
	"github.com/sirupsen/logrus"

	"github.com/stroke-trial-screener/internal/domain"
)

// Blender incorporates an externally supplied model probability into the
// final ranking score. A missing score is "no score available", never an
// error: the decision falls back to its heuristic strength.
type Blender struct {
	logger *logrus.Logger
}

// NewBlender creates a new score blender
func NewBlender(logger *logrus.Logger) *Blender {
	return &Blender{logger: logger}
}

// Blend resolves the final score for one decision. When ml_scoring is enabled
// and a score is present, the model probability replaces the heuristic score
// and a score below the configured threshold appends ML_SCORE_BELOW_THRESHOLD
// to the existing reason list; heuristic and score exclusions accumulate.
func (b *Blender) Blend(cfg *domain.StudyConfig, decision *domain.EligibilityDecision, modelScore *float64) {
	if !cfg.MLScoring.Enabled {
		decision.FinalScore = decision.HeuristicStrength
		return
	}

	if modelScore == nil {
		b.logger.WithField("hadm_id", decision.HadmID).
			Debug("Model score unavailable, falling back to heuristic strength")
		decision.FinalScore = decision.HeuristicStrength
		return
	}

	decision.ModelScore = modelScore
	decision.FinalScore = *modelScore

	if *modelScore < cfg.MLScoring.MinScore {
		decision.AddReason(domain.ML_SCORE_BELOW_THRESHOLD)
		b.logger.WithFields(logrus.Fields{
			"hadm_id":     decision.HadmID,
			"model_score": *modelScore,
			"min_score":   cfg.MLScoring.MinScore,
		}).Debug("Admission excluded by model score threshold")
	}
}

// BlendAll resolves final scores for a batch of decisions. Scores are keyed
// by hadm_id; admissions absent from the map fall back to their heuristic
// strength.
func (b *Blender) BlendAll(cfg *domain.StudyConfig, decisions []domain.EligibilityDecision, scores map[string]float64) {
	withScore := 0
	for i := range decisions {
		var modelScore *float64
		if score, ok := scores[decisions[i].HadmID]; ok {
			s := score
			modelScore = &s
			withScore++
		}
		b.Blend(cfg, &decisions[i], modelScore)
	}

	if cfg.MLScoring.Enabled {
		b.logger.WithFields(logrus.Fields{
			"decisions":   len(decisions),
			"with_score":  withScore,
			"score_floor": cfg.MLScoring.MinScore,
		}).Info("Completed score blending")
	}
}
