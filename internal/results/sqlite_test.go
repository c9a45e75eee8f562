package results

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stroke-trial-screener/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func completedRun(runID string) *domain.RunResult {
	counts := make(map[domain.ReasonCode]int)
	for _, code := range domain.AllReasonCodes() {
		counts[code] = 0
	}
	counts[domain.NO_STROKE_EVIDENCE] = 1

	return &domain.RunResult{
		RunID:       runID,
		Study:       domain.StudyInfo{Name: "acute-stroke-pilot"},
		Status:      domain.RunCompleted,
		StartedAt:   time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC),
		CompletedAt: time.Date(2026, 8, 1, 9, 0, 5, 0, time.UTC),
		Ranking: []domain.RankingEntry{
			{
				Rank: 1, SubjectID: "10", HadmID: "100",
				FinalScore: 5.5, HeuristicStrength: 5.5, StrokeCodeCount: 2,
				AdmitTime: time.Date(2019, 3, 1, 8, 0, 0, 0, time.UTC),
			},
			{
				Rank: 2, SubjectID: "11", HadmID: "101",
				FinalScore: 3.0, HeuristicStrength: 3.0, StrokeCodeCount: 1,
				AdmitTime: time.Date(2019, 3, 2, 8, 0, 0, 0, time.UTC),
			},
		},
		Summary: domain.RunSummary{
			TotalEvaluated: 3,
			TotalIncluded:  2,
			ReasonCounts:   counts,
			Scores:         domain.ScoreStats{Min: 3.0, Max: 5.5, Mean: 4.25},
		},
		Quality: &domain.RankingQuality{
			OverlapAtK: map[int]float64{25: 1.0},
		},
		StageTimes: map[string]float64{"derive": 1.2, "rank": 0.4},
	}
}

func TestSQLiteStore_SaveAndGetRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := completedRun("run-1")
	cfg := domain.DefaultStudyConfig()
	require.NoError(t, store.SaveRun(ctx, run, cfg))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)

	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, "acute-stroke-pilot", got.Study.Name)
	assert.Equal(t, domain.RunCompleted, got.Status)
	assert.Equal(t, run.Summary.TotalIncluded, got.Summary.TotalIncluded)
	assert.Equal(t, 1, got.Summary.ReasonCounts[domain.NO_STROKE_EVIDENCE])
	require.Len(t, got.Ranking, 2)
	assert.Equal(t, "100", got.Ranking[0].HadmID)
	assert.Equal(t, 5.5, got.Ranking[0].FinalScore)
	require.NotNil(t, got.Quality)
	assert.Equal(t, 1.0, got.Quality.OverlapAtK[25])
	assert.Equal(t, 1.2, got.StageTimes["derive"])
}

func TestSQLiteStore_GetRunNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestSQLiteStore_SaveRunReplaces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := completedRun("run-1")
	require.NoError(t, store.SaveRun(ctx, run, nil))

	// Re-save with a shorter ranking.
	run.Ranking = run.Ranking[:1]
	run.Summary.TotalIncluded = 1
	require.NoError(t, store.SaveRun(ctx, run, nil))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, got.Ranking, 1)
	assert.Equal(t, 1, got.Summary.TotalIncluded)
}

func TestSQLiteStore_GetRankingLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveRun(ctx, completedRun("run-1"), nil))

	entries, err := store.GetRanking(ctx, "run-1", 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].Rank)
}

func TestSQLiteStore_GetConfig(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cfg := domain.DefaultStudyConfig()
	cfg.Age.Max = 80
	require.NoError(t, store.SaveRun(ctx, completedRun("run-1"), cfg))

	got, err := store.GetConfig(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 80.0, got.Age.Max)
	assert.Equal(t, cfg.Age.HardExclude, got.Age.HardExclude)
}

func TestSQLiteStore_ListRuns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"run-a", "run-b", "run-c"} {
		run := completedRun(id)
		run.StartedAt = run.StartedAt.Add(time.Duration(i) * time.Hour)
		require.NoError(t, store.SaveRun(ctx, run, nil))
	}

	records, err := store.ListRuns(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	// Newest first.
	assert.Equal(t, "run-c", records[0].RunID)
	assert.Equal(t, "run-b", records[1].RunID)

	records, err = store.ListRuns(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "run-a", records[0].RunID)
}

func TestSQLiteStore_DeleteRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveRun(ctx, completedRun("run-1"), nil))
	require.NoError(t, store.DeleteRun(ctx, "run-1"))

	_, err := store.GetRun(ctx, "run-1")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)

	assert.ErrorIs(t, store.DeleteRun(ctx, "run-1"), domain.ErrRunNotFound)
}

func TestSQLiteStore_ExportJSON(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveRun(ctx, completedRun("run-1"), domain.DefaultStudyConfig()))

	var buf bytes.Buffer
	require.NoError(t, store.ExportJSON(ctx, "run-1", &buf))

	var export RunExport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &export))
	assert.Equal(t, "1.0", export.Version)
	require.NotNil(t, export.Run)
	assert.Equal(t, "run-1", export.Run.RunID)
	assert.Len(t, export.Run.Ranking, 2)
	require.NotNil(t, export.Config)
	assert.Equal(t, domain.DefaultAgeMax, export.Config.Age.Max)
}
