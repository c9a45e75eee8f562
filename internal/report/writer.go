// Package report writes run outputs as CSV files for reviewer handoff.
// Output is all-or-nothing: if any file fails to write, every file already
// written for the run is removed so a partial output directory can never be
// mistaken for a complete one.
package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stroke-trial-screener/internal/domain"
)

// Writer renders a RunResult to CSV files in an output directory.
type Writer struct {
	logger *logrus.Logger
}

// NewWriter creates a new report writer
func NewWriter(logger *logrus.Logger) *Writer {
	return &Writer{logger: logger}
}

// Write renders ranking.csv, one top_<k>.csv per configured capacity, and
// summary.csv into dir, creating it if needed. ranking.csv covers the whole
// batch: ranked rows first, then every excluded admission with its reason
// list, so the file is a complete per-admission audit trail.
func (w *Writer) Write(dir string, result *domain.RunResult) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	var written []string
	cleanup := func() {
		for _, path := range written {
			os.Remove(path)
		}
	}

	path := filepath.Join(dir, "ranking.csv")
	if err := w.writeDecisions(path, result); err != nil {
		cleanup()
		return err
	}
	written = append(written, path)

	for _, list := range result.TopK {
		path := filepath.Join(dir, fmt.Sprintf("top_%d.csv", list.K))
		if err := w.writeRanking(path, list.Entries); err != nil {
			cleanup()
			return err
		}
		written = append(written, path)
	}

	path = filepath.Join(dir, "summary.csv")
	if err := w.writeSummary(path, result); err != nil {
		cleanup()
		return err
	}
	written = append(written, path)

	w.logger.WithFields(logrus.Fields{
		"run_id": result.RunID,
		"dir":    dir,
		"files":  len(written),
	}).Info("Wrote run reports")

	return nil
}

// writeDecisions emits the full labeled candidate table: one row per
// admission in the batch. Included admissions appear in rank order with an
// empty reason list; excluded admissions follow in evaluation order with no
// rank and their exclusion reasons joined by ";".
func (w *Writer) writeDecisions(path string, result *domain.RunResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	header := []string{
		"rank", "subject_id", "hadm_id", "included", "final_score",
		"heuristic_strength_score", "stroke_code_count", "admit_time",
		"exclusion_reasons",
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing %s header: %w", filepath.Base(path), err)
	}

	for _, e := range result.Ranking {
		record := []string{
			strconv.Itoa(e.Rank),
			e.SubjectID,
			e.HadmID,
			"true",
			formatScore(e.FinalScore),
			formatScore(e.HeuristicStrength),
			strconv.Itoa(e.StrokeCodeCount),
			e.AdmitTime.Format(time.RFC3339),
			"",
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing %s row: %w", filepath.Base(path), err)
		}
	}

	for _, d := range result.Decisions {
		if d.Included {
			continue
		}
		record := []string{
			"",
			d.SubjectID,
			d.HadmID,
			"false",
			formatScore(d.FinalScore),
			formatScore(d.HeuristicStrength),
			"",
			"",
			joinReasons(d.ExclusionReasons),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing %s row: %w", filepath.Base(path), err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (w *Writer) writeRanking(path string, entries []domain.RankingEntry) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	header := []string{
		"rank", "subject_id", "hadm_id", "final_score",
		"heuristic_strength_score", "stroke_code_count", "admit_time",
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing %s header: %w", filepath.Base(path), err)
	}

	for _, e := range entries {
		record := []string{
			strconv.Itoa(e.Rank),
			e.SubjectID,
			e.HadmID,
			formatScore(e.FinalScore),
			formatScore(e.HeuristicStrength),
			strconv.Itoa(e.StrokeCodeCount),
			e.AdmitTime.Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing %s row: %w", filepath.Base(path), err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writeSummary emits key/value rows: run metadata, counts, one row per
// exclusion reason in definition order, then score statistics. Fixed ordering
// keeps summaries byte-comparable across runs.
func (w *Writer) writeSummary(path string, result *domain.RunResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating summary.csv: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	rows := [][]string{
		{"metric", "value"},
		{"run_id", result.RunID},
		{"study_name", result.Study.Name},
		{"total_evaluated", strconv.Itoa(result.Summary.TotalEvaluated)},
		{"total_included", strconv.Itoa(result.Summary.TotalIncluded)},
	}
	for _, code := range domain.AllReasonCodes() {
		rows = append(rows, []string{
			"excluded_" + string(code),
			strconv.Itoa(result.Summary.ReasonCounts[code]),
		})
	}
	rows = append(rows,
		[]string{"score_min", formatScore(result.Summary.Scores.Min)},
		[]string{"score_max", formatScore(result.Summary.Scores.Max)},
		[]string{"score_mean", formatScore(result.Summary.Scores.Mean)},
	)

	for _, row := range rows {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing summary.csv row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing summary.csv: %w", err)
	}
	return nil
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func joinReasons(reasons []domain.ReasonCode) string {
	parts := make([]string, len(reasons))
	for i, r := range reasons {
		parts[i] = string(r)
	}
	return strings.Join(parts, ";")
}
