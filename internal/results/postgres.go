package results

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"

	_ "github.com/lib/pq"

	"github.com/stroke-trial-screener/internal/domain"
)

// PostgresStore implements the Store interface using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL results store.
// It expects the database and schema to already exist (created via migrations).
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromURL creates a new PostgreSQL results store from a connection URL.
func NewPostgresStoreFromURL(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// SaveRun persists a completed run. Re-saving the same run ID replaces it.
func (s *PostgresStore) SaveRun(ctx context.Context, result *domain.RunResult, cfg *domain.StudyConfig) error {
	configJSON, summaryJSON, qualityJSON, stageJSON, err := marshalRun(result, cfg)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			run_id, study_name, status, total_evaluated, total_included,
			config_json, summary_json, quality_json, stage_times_json,
			started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (run_id) DO UPDATE SET
			study_name = EXCLUDED.study_name,
			status = EXCLUDED.status,
			total_evaluated = EXCLUDED.total_evaluated,
			total_included = EXCLUDED.total_included,
			config_json = EXCLUDED.config_json,
			summary_json = EXCLUDED.summary_json,
			quality_json = EXCLUDED.quality_json,
			stage_times_json = EXCLUDED.stage_times_json,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at
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
		return fmt.Errorf("failed to save run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM ranking_entries WHERE run_id = $1", result.RunID); err != nil {
		return fmt.Errorf("failed to clear existing ranking: %w", err)
	}

	for _, entry := range result.Ranking {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO ranking_entries (
				run_id, rank, subject_id, hadm_id,
				final_score, heuristic_strength, stroke_code_count, admit_time
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
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
func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*domain.RunResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, study_name, status, summary_json, quality_json,
			stage_times_json, started_at, completed_at
		FROM runs
		WHERE run_id = $1
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
func (s *PostgresStore) GetRanking(ctx context.Context, runID string, limit int) ([]domain.RankingEntry, error) {
	if limit <= 0 {
		limit = maxExportLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT rank, subject_id, hadm_id, final_score,
			heuristic_strength, stroke_code_count, admit_time
		FROM ranking_entries
		WHERE run_id = $1
		ORDER BY rank
		LIMIT $2
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
func (s *PostgresStore) GetConfig(ctx context.Context, runID string) (*domain.StudyConfig, error) {
	var configJSON string
	err := s.db.QueryRowContext(ctx,
		"SELECT config_json FROM runs WHERE run_id = $1", runID,
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
func (s *PostgresStore) ListRuns(ctx context.Context, limit, offset int) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, study_name, status, total_evaluated, total_included,
			started_at, completed_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT $1 OFFSET $2
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
func (s *PostgresStore) DeleteRun(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM ranking_entries WHERE run_id = $1", runID); err != nil {
		return fmt.Errorf("failed to delete ranking: %w", err)
	}
	result, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE run_id = $1", runID)
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

// ExportJSON writes one stored run as indented JSON for audit handoff.
func (s *PostgresStore) ExportJSON(ctx context.Context, runID string, w io.Writer) error {
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
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
