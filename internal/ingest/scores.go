package ingest

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/stroke-trial-screener/internal/domain"
)

// LoadScores reads a model-score file (hadm_id,score) into a lookup map.
// Scores must be probabilities in [0, 1]; rows that fail to parse or fall
// outside the range are logged and skipped. Admissions absent from the file
// simply have no score.
func (s *CSVSource) LoadScores(path string) (map[string]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, domain.NewIngestError(path, 0, "opening scores file", err)
	}
	defer f.Close()

	return s.readScores(f, path)
}

func (s *CSVSource) readScores(r io.Reader, source string) (map[string]float64, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	first, err := reader.Read()
	if err != nil {
		return nil, domain.NewIngestError(source, 0, "reading scores header", err)
	}
	h := readHeader(first)
	if !h.has("hadm_id") || !h.has("score") {
		return nil, domain.NewIngestError(source, 1, "scores file must carry hadm_id and score columns", nil)
	}

	scores := make(map[string]float64)
	skipped := 0
	row := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		row++
		if err != nil {
			return nil, domain.NewIngestError(source, row, "reading scores row", err)
		}

		hadmID := h.col(record, "hadm_id")
		raw := h.col(record, "score")
		score, parseErr := strconv.ParseFloat(raw, 64)
		if hadmID == "" || parseErr != nil || score < 0 || score > 1 {
			s.logger.WithFields(logrus.Fields{
				"source":  source,
				"row":     row,
				"hadm_id": hadmID,
				"score":   raw,
			}).Warn("Skipping invalid model-score row")
			skipped++
			continue
		}
		scores[hadmID] = score
	}

	s.logger.WithFields(logrus.Fields{
		"source":  source,
		"scores":  len(scores),
		"skipped": skipped,
	}).Info("Loaded model scores")

	return scores, nil
}
