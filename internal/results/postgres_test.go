package results

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stroke-trial-screener/internal/domain"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	mock.ExpectPing()
	store, err := NewPostgresStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store, mock
}

func TestPostgresStore_RequiresConnection(t *testing.T) {
	_, err := NewPostgresStore(nil)
	assert.Error(t, err)
}

func TestPostgresStore_SaveRun(t *testing.T) {
	store, mock := newMockStore(t)
	run := completedRun("run-1")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO runs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM ranking_entries").
		WithArgs("run-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	for range run.Ranking {
		mock.ExpectExec("INSERT INTO ranking_entries").
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	err := store.SaveRun(context.Background(), run, domain.DefaultStudyConfig())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRunRollsBackOnFailure(t *testing.T) {
	store, mock := newMockStore(t)
	run := completedRun("run-1")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO runs").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := store.SaveRun(context.Background(), run, nil)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRunNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT run_id, study_name, status").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{
			"run_id", "study_name", "status", "summary_json",
			"quality_json", "stage_times_json", "started_at", "completed_at",
		}))

	_, err := store.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRanking(t *testing.T) {
	store, mock := newMockStore(t)
	admit := time.Date(2019, 3, 1, 8, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"rank", "subject_id", "hadm_id", "final_score",
		"heuristic_strength", "stroke_code_count", "admit_time",
	}).
		AddRow(1, "10", "100", 5.5, 5.5, 2, admit).
		AddRow(2, "11", "101", 3.0, 3.0, 1, admit)

	mock.ExpectQuery("SELECT rank, subject_id, hadm_id").
		WithArgs("run-1", 2).
		WillReturnRows(rows)

	entries, err := store.GetRanking(context.Background(), "run-1", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "100", entries[0].HadmID)
	assert.Equal(t, 5.5, entries[0].FinalScore)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns(t *testing.T) {
	store, mock := newMockStore(t)
	started := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"run_id", "study_name", "status", "total_evaluated",
		"total_included", "started_at", "completed_at",
	}).AddRow("run-1", "acute-stroke-pilot", "COMPLETED", 3, 2, started, started.Add(5*time.Second))

	mock.ExpectQuery("SELECT run_id, study_name, status").
		WithArgs(10, 0).
		WillReturnRows(rows)

	records, err := store.ListRuns(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.RunCompleted, records[0].Status)
	assert.Equal(t, 2, records[0].Included)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteRunNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM ranking_entries").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM runs").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.DeleteRun(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
