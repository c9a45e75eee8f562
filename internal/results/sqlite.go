package results

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stroke-trial-screener/internal/domain"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite results store.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode so the API can read while a run is being saved
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// createSchema creates the database tables and indexes.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		study_name TEXT DEFAULT '',
		status TEXT NOT NULL,
		total_evaluated INTEGER NOT NULL DEFAULT 0,
		total_included INTEGER NOT NULL DEFAULT 0,
		config_json TEXT NOT NULL,
		summary_json TEXT NOT NULL,
		quality_json TEXT DEFAULT '',
		stage_times_json TEXT DEFAULT '',
		started_at DATETIME NOT NULL,
		completed_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ranking_entries (
		run_id TEXT NOT NULL,
		rank INTEGER NOT NULL,
		subject_id TEXT NOT NULL,
		hadm_id TEXT NOT NULL,
		final_score REAL NOT NULL,
		heuristic_strength REAL NOT NULL,
		stroke_code_count INTEGER NOT NULL,
		admit_time DATETIME,
		PRIMARY KEY (run_id, rank)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_ranking_hadm ON ranking_entries(run_id, hadm_id);
	`

	_, err := db.Exec(schema)
	return err
}

// SaveRun persists a completed run. Re-saving the same run ID replaces it.
func (s *SQLiteStore) SaveRun(ctx context.Context, result *domain.RunResult, cfg *domain.StudyConfig) error {
	configJSON, summaryJSON, qualityJSON, stageJSON, err := marshalRun(result, cfg)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM runs WHERE run_id = ?", result.RunID); err != nil {
		return fmt.Errorf("failed to clear existing run: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM ranking_entries WHERE run_id = ?", result.RunID); err != nil {
		return fmt.Errorf("failed to clear existing ranking: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			run_id, study_name, status, total_evaluated, total_included,
			config_json, summary_json, quality_json, stage_times_json,
			started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		result.RunID,
		result.Study.Name,
		string(result.Status),
		result.Summary.TotalEvaluated,
		result.Summary.TotalIncluded,
		configJSON,
		summaryJSON,
		qualityJSON,
		stageJSON,
		result.StartedAt,
		result.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, entry := range result.Ranking {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO ranking_entries (
				run_id, rank, subject_id, hadm_id,
				final_score, heuristic_strength, stroke_code_count, admit_time
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			result.RunID,
			entry.Rank,
			entry.SubjectID,
			entry.HadmID,
			entry.FinalScore,
			entry.HeuristicStrength,
			entry.StrokeCodeCount,
			entry.AdmitTime,
		)
		if err != nil {
			return fmt.Errorf("failed to insert ranking entry: %w", err)
		}
	}

	return tx.Commit()
}

// GetRun retrieves a stored run with its full ranking.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*domain.RunResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, study_name, status, summary_json, quality_json,
			stage_times_json, started_at, completed_at
		FROM runs
		WHERE run_id = ?
	`, runID)

	result, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	result.Ranking, err = s.GetRanking(ctx, runID, 0)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetRanking retrieves ranking rows in rank order, capped at limit.
func (s *SQLiteStore) GetRanking(ctx context.Context, runID string, limit int) ([]domain.RankingEntry, error) {
	if limit <= 0 {
		limit = maxExportLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT rank, subject_id, hadm_id, final_score,
			heuristic_strength, stroke_code_count, admit_time
		FROM ranking_entries
		WHERE run_id = ?
		ORDER BY rank
		LIMIT ?
	`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ranking: %w", err)
	}
	defer rows.Close()

	var entries []domain.RankingEntry
	for rows.Next() {
		var entry domain.RankingEntry
		err := rows.Scan(
			&entry.Rank, &entry.SubjectID, &entry.HadmID, &entry.FinalScore,
			&entry.HeuristicStrength, &entry.StrokeCodeCount, &entry.AdmitTime,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ranking row: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// GetConfig retrieves the criteria snapshot stored with a run.
func (s *SQLiteStore) GetConfig(ctx context.Context, runID string) (*domain.StudyConfig, error) {
	var configJSON string
	err := s.db.QueryRowContext(ctx,
		"SELECT config_json FROM runs WHERE run_id = ?", runID,
	).Scan(&configJSON)
	if err == sql.ErrNoRows {
		return nil, domain.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}

	var cfg domain.StudyConfig
	if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config snapshot: %w", err)
	}
	return &cfg, nil
}

// ListRuns returns stored runs newest-first with pagination.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, study_name, status, total_evaluated, total_included,
			started_at, completed_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var rec RunRecord
		var status string
		err := rows.Scan(
			&rec.RunID, &rec.StudyName, &status,
			&rec.Evaluated, &rec.Included, &rec.StartedAt, &rec.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		rec.Status = domain.RunStatus(status)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteRun removes a stored run and its ranking rows.
func (s *SQLiteStore) DeleteRun(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM ranking_entries WHERE run_id = ?", runID); err != nil {
		return fmt.Errorf("failed to delete ranking: %w", err)
	}
	result, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE run_id = ?", runID)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrRunNotFound
	}
	return nil
}

// maxExportLimit is the maximum number of ranking rows read at once.
const maxExportLimit = 1000000

// ExportJSON writes one stored run as indented JSON for audit handoff.
func (s *SQLiteStore) ExportJSON(ctx context.Context, runID string, w io.Writer) error {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	cfg, err := s.GetConfig(ctx, runID)
	if err != nil {
		return err
	}

	export := &RunExport{
		Version:    "1.0",
		ExportedAt: time.Now(),
		Run:        run,
		Config:     cfg,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanRun scans a runs row into a RunResult (without ranking entries).
func scanRun(row scanner) (*domain.RunResult, error) {
	result := &domain.RunResult{}
	var status, summaryJSON, qualityJSON, stageJSON string

	err := row.Scan(
		&result.RunID, &result.Study.Name, &status, &summaryJSON,
		&qualityJSON, &stageJSON, &result.StartedAt, &result.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	result.Status = domain.RunStatus(status)
	if err := json.Unmarshal([]byte(summaryJSON), &result.Summary); err != nil {
		return nil, fmt.Errorf("failed to decode summary: %w", err)
	}
	if qualityJSON != "" {
		result.Quality = &domain.RankingQuality{}
		if err := json.Unmarshal([]byte(qualityJSON), result.Quality); err != nil {
			return nil, fmt.Errorf("failed to decode quality block: %w", err)
		}
	}
	if stageJSON != "" {
		if err := json.Unmarshal([]byte(stageJSON), &result.StageTimes); err != nil {
			return nil, fmt.Errorf("failed to decode stage timings: %w", err)
		}
	}
	return result, nil
}

// marshalRun serializes the JSON columns shared by both backends.
func marshalRun(result *domain.RunResult, cfg *domain.StudyConfig) (configJSON, summaryJSON, qualityJSON, stageJSON string, err error) {
	if cfg == nil {
		cfg = domain.DefaultStudyConfig()
	}
	cfgBytes, err := json.Marshal(cfg)
	if err != nil {
		return "", "", "", "", fmt.Errorf("failed to encode config snapshot: %w", err)
	}
	summaryBytes, err := json.Marshal(result.Summary)
	if err != nil {
		return "", "", "", "", fmt.Errorf("failed to encode summary: %w", err)
	}
	qualityJSON = ""
	if result.Quality != nil {
		qualityBytes, qerr := json.Marshal(result.Quality)
		if qerr != nil {
			return "", "", "", "", fmt.Errorf("failed to encode quality block: %w", qerr)
		}
		qualityJSON = string(qualityBytes)
	}
	stageJSON = ""
	if result.StageTimes != nil {
		stageBytes, serr := json.Marshal(result.StageTimes)
		if serr != nil {
			return "", "", "", "", fmt.Errorf("failed to encode stage timings: %w", serr)
		}
		stageJSON = string(stageBytes)
	}
	return string(cfgBytes), string(summaryBytes), qualityJSON, stageJSON, nil
}
