// Package results persists completed screening runs so reviewers and the API
// can fetch rankings and summaries after the engine has finished. Two
// backends exist: a zero-dependency SQLite file for workstation use and
// PostgreSQL for the shared service deployment.
package results

import (
	"context"
	"io"
	"time"

	"github.com/stroke-trial-screener/internal/domain"
)

// RunRecord is the lightweight listing row for a stored run.
type RunRecord struct {
	RunID       string           `json:"run_id"`
	StudyName   string           `json:"study_name"`
	Status      domain.RunStatus `json:"status"`
	Included    int              `json:"total_included"`
	Evaluated   int              `json:"total_evaluated"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt time.Time        `json:"completed_at"`
}

// Store defines the persistence operations for completed runs.
type Store interface {
	// SaveRun persists a completed run together with the criteria snapshot
	// that produced it. Saving the same run ID twice replaces the stored run.
	SaveRun(ctx context.Context, result *domain.RunResult, cfg *domain.StudyConfig) error

	// GetRun retrieves a stored run with its full ranking. Returns
	// domain.ErrRunNotFound when the ID is unknown.
	GetRun(ctx context.Context, runID string) (*domain.RunResult, error)

	// GetRanking retrieves the ranking rows of a run, capped at limit
	// (limit <= 0 means all rows).
	GetRanking(ctx context.Context, runID string, limit int) ([]domain.RankingEntry, error)

	// GetConfig retrieves the criteria snapshot stored with a run.
	GetConfig(ctx context.Context, runID string) (*domain.StudyConfig, error)

	// ListRuns returns stored runs newest-first with pagination.
	ListRuns(ctx context.Context, limit, offset int) ([]RunRecord, error)

	// DeleteRun removes a stored run and its ranking rows.
	DeleteRun(ctx context.Context, runID string) error

	// ExportJSON writes one stored run as indented JSON for audit handoff.
	ExportJSON(ctx context.Context, runID string, w io.Writer) error

	// Close releases the underlying database resources.
	Close() error
}

// RunExport is the JSON export envelope for one stored run.
type RunExport struct {
	Version    string              `json:"version"`
	ExportedAt time.Time           `json:"exported_at"`
	Run        *domain.RunResult   `json:"run"`
	Config     *domain.StudyConfig `json:"config"`
}
