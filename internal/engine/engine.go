// Package engine orchestrates a screening run: derive phenotype facts,
// evaluate eligibility, blend model scores, rank, and summarize. A run either
// completes with a full RunResult or fails with an error; partial results are
// never returned.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stroke-trial-screener/internal/catalog"
	"github.com/stroke-trial-screener/internal/domain"
	"github.com/stroke-trial-screener/internal/eligibility"
	"github.com/stroke-trial-screener/internal/phenotype"
	"github.com/stroke-trial-screener/internal/ranking"
)

// Stage names reported in progress events and stage timings.
const (
	StageDerive   = "derive"
	StageEvaluate = "evaluate"
	StageBlend    = "blend"
	StageRank     = "rank"
	StageReport   = "report"
)

// Request is the fully materialized input of one screening run. Scores and
// Labels are optional; when Scores is nil the run is heuristic-only even if
// the study enables ML scoring.
type Request struct {
	Config     *domain.StudyConfig
	Admissions []domain.Admission
	Scores     map[string]float64
	Labels     map[string]bool
}

// ProgressSink receives stage-transition events during a run. Sinks must not
// block; events are advisory and a slow consumer must not stall screening.
type ProgressSink func(domain.ProgressEvent)

// Engine wires the screening stages together.
type Engine struct {
	deriver   *phenotype.Deriver
	evaluator *eligibility.Evaluator
	blender   *eligibility.Blender
	ranker    *ranking.Ranker
	quality   *ranking.Quality
	logger    *logrus.Logger
	progress  ProgressSink
}

// New creates a screening engine with a fresh code catalogue.
func New(logger *logrus.Logger) (*Engine, error) {
	catalogue, err := catalog.NewCatalogue(logger)
	if err != nil {
		return nil, fmt.Errorf("creating code catalogue: %w", err)
	}
	return &Engine{
		deriver:   phenotype.NewDeriver(catalogue, logger),
		evaluator: eligibility.NewEvaluator(logger),
		blender:   eligibility.NewBlender(logger),
		ranker:    ranking.NewRanker(logger),
		quality:   ranking.NewQuality(),
		logger:    logger,
	}, nil
}

// SetProgressSink installs the progress event consumer. Pass nil to disable.
func (e *Engine) SetProgressSink(sink ProgressSink) {
	e.progress = sink
}

func (e *Engine) emit(runID, stage string, completed, total int) {
	if e.progress == nil {
		return
	}
	e.progress(domain.ProgressEvent{
		RunID:     runID,
		Stage:     stage,
		Completed: completed,
		Total:     total,
		Timestamp: time.Now().UTC(),
	})
}

// Run executes one screening run over the materialized request. The study
// criteria must already be validated; a nil Config takes the documented
// defaults.
func (e *Engine) Run(ctx context.Context, req Request) (*domain.RunResult, error) {
	cfg := req.Config
	if cfg == nil {
		cfg = domain.DefaultStudyConfig()
	}

	runID := uuid.New().String()
	total := len(req.Admissions)
	result := &domain.RunResult{
		RunID:      runID,
		Study:      cfg.Study,
		Status:     domain.RunRunning,
		StartedAt:  time.Now().UTC(),
		StageTimes: make(map[string]float64),
	}

	e.logger.WithFields(logrus.Fields{
		"run_id":     runID,
		"admissions": total,
		"ml_scoring": cfg.MLScoring.Enabled && req.Scores != nil,
	}).Info("Starting screening run")

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("run %s canceled before start: %w", runID, err)
	}

	stageStart := time.Now()
	facts := e.deriver.DeriveAll(req.Admissions)
	result.StageTimes[StageDerive] = msSince(stageStart)
	e.emit(runID, StageDerive, total, total)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("run %s canceled: %w", runID, err)
	}

	stageStart = time.Now()
	decisions := e.evaluator.EvaluateAll(cfg, req.Admissions, facts)
	result.StageTimes[StageEvaluate] = msSince(stageStart)
	e.emit(runID, StageEvaluate, total, total)

	// Heuristic ordering is captured before blending so ranking quality can
	// compare the two.
	heuristicRanking := e.ranker.Rank(buildCandidates(req.Admissions, facts, decisions))

	blended := cfg.MLScoring.Enabled && req.Scores != nil
	stageStart = time.Now()
	if blended {
		e.blender.BlendAll(cfg, decisions, req.Scores)
	}
	result.StageTimes[StageBlend] = msSince(stageStart)
	e.emit(runID, StageBlend, total, total)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("run %s canceled: %w", runID, err)
	}

	stageStart = time.Now()
	candidates := buildCandidates(req.Admissions, facts, decisions)
	result.Ranking = e.ranker.Rank(candidates)
	kValues := cfg.Screening.DefaultKValues
	result.TopK = e.ranker.TopK(result.Ranking, kValues)
	result.Summary = e.ranker.Summarize(decisions, result.Ranking)
	result.Decisions = decisions
	result.StageTimes[StageRank] = msSince(stageStart)
	e.emit(runID, StageRank, total, total)

	if blended || req.Labels != nil {
		quality := &domain.RankingQuality{}
		if blended {
			quality.OverlapAtK = e.quality.OverlapAtK(result.Ranking, heuristicRanking, kValues)
		}
		if req.Labels != nil {
			quality.PrecisionAtK, quality.RecallAtK = e.quality.PrecisionRecallAtK(result.Ranking, req.Labels, kValues)
		}
		result.Quality = quality
	}

	result.Status = domain.RunCompleted
	result.CompletedAt = time.Now().UTC()

	e.logger.WithFields(logrus.Fields{
		"run_id":   runID,
		"included": result.Summary.TotalIncluded,
		"excluded": result.Summary.TotalEvaluated - result.Summary.TotalIncluded,
		"duration": result.CompletedAt.Sub(result.StartedAt).String(),
	}).Info("Screening run completed")

	return result, nil
}

func buildCandidates(admissions []domain.Admission, facts []domain.PhenotypeFacts, decisions []domain.EligibilityDecision) []domain.Candidate {
	candidates := make([]domain.Candidate, len(admissions))
	for i := range admissions {
		candidates[i] = domain.Candidate{
			Admission: admissions[i],
			Facts:     facts[i],
			Decision:  decisions[i],
		}
	}
	return candidates
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
