// Package ingest loads admission and diagnosis records from the research data
// warehouse into domain form. Two source kinds exist: CSV extracts (both the
// legacy uppercase layout and the current lowercase layout) and a direct
// Postgres connection to the warehouse tables.
//
// Failure handling follows a strict split: batch-level problems (unreadable
// file, missing required column, duplicate admission identifier) abort the
// load with an IngestError; per-record anomalies (unparseable timestamp, a
// diagnosis row pointing at an unknown admission) are logged and absorbed.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stroke-trial-screener/internal/domain"
	"github.com/stroke-trial-screener/pkg/icd"
)

// Timestamp layouts seen across warehouse extracts, tried in order.
var timeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02",
}

// CSVSource reads admissions, diagnoses and model scores from CSV extracts.
type CSVSource struct {
	logger *logrus.Logger
}

// NewCSVSource creates a new CSV ingest source
func NewCSVSource(logger *logrus.Logger) *CSVSource {
	return &CSVSource{logger: logger}
}

// header maps lowercased column names to their positions. Both warehouse
// layouts are handled by lowercasing on read.
type header map[string]int

func readHeader(record []string) header {
	h := make(header, len(record))
	for i, name := range record {
		h[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return h
}

// col returns the value of the first matching column name, or "".
func (h header) col(record []string, names ...string) string {
	for _, name := range names {
		if i, ok := h[name]; ok && i < len(record) {
			return strings.TrimSpace(record[i])
		}
	}
	return ""
}

func (h header) has(names ...string) bool {
	for _, name := range names {
		if _, ok := h[name]; ok {
			return true
		}
	}
	return false
}

func parseTime(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// LoadAdmissions reads the admissions table. Every admission identifier must
// be present and unique within the batch; a violation aborts the whole load.
func (s *CSVSource) LoadAdmissions(path string) ([]domain.Admission, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, domain.NewIngestError(path, 0, "opening admissions file", err)
	}
	defer f.Close()

	admissions, err := s.readAdmissions(f, path)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"source":     path,
		"admissions": len(admissions),
	}).Info("Loaded admissions")

	return admissions, nil
}

func (s *CSVSource) readAdmissions(r io.Reader, source string) ([]domain.Admission, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	first, err := reader.Read()
	if err != nil {
		return nil, domain.NewIngestError(source, 0, "reading admissions header", err)
	}
	h := readHeader(first)

	if !h.has("hadm_id") || !h.has("subject_id") {
		return nil, domain.NewIngestError(source, 1, "admissions file is missing subject_id/hadm_id columns", nil)
	}

	var admissions []domain.Admission
	seen := make(map[string]struct{})
	row := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		row++
		if err != nil {
			return nil, domain.NewIngestError(source, row, "reading admissions row", err)
		}

		hadmID := h.col(record, "hadm_id")
		if hadmID == "" {
			return nil, domain.NewIngestError(source, row, "admission row has no hadm_id", nil)
		}
		if _, dup := seen[hadmID]; dup {
			return nil, domain.NewIngestError(source, row, fmt.Sprintf("duplicate hadm_id %q", hadmID), nil)
		}
		seen[hadmID] = struct{}{}

		adm := domain.Admission{
			SubjectID:     h.col(record, "subject_id"),
			HadmID:        hadmID,
			AdmissionType: strings.ToUpper(h.col(record, "admission_type")),
		}

		admitTime, admitOK := parseTime(h.col(record, "admittime", "admit_time"))
		if admitOK {
			adm.AdmitTime = admitTime
		} else {
			s.logger.WithFields(logrus.Fields{
				"source":  source,
				"row":     row,
				"hadm_id": hadmID,
			}).Warn("Admission has no parseable admit time")
		}

		dischTime, dischOK := parseTime(h.col(record, "dischtime", "discharge_time"))
		if dischOK {
			adm.DischargeTime = dischTime
		}
		if admitOK && dischOK && dischTime.After(admitTime) {
			adm.LengthOfStay = dischTime.Sub(admitTime).Hours() / 24
		}

		adm.Age = s.resolveAge(h, record, admitTime, source, row)

		admissions = append(admissions, adm)
	}

	return admissions, nil
}

// resolveAge prefers an explicit age column and falls back to date of birth.
func (s *CSVSource) resolveAge(h header, record []string, admit time.Time, source string, row int) float64 {
	if raw := h.col(record, "age", "anchor_age"); raw != "" {
		age, err := strconv.ParseFloat(raw, 64)
		if err == nil {
			return age
		}
		s.logger.WithFields(logrus.Fields{
			"source": source,
			"row":    row,
			"age":    raw,
		}).Warn("Unparseable age value, falling back to date of birth")
	}
	if dob, ok := parseTime(h.col(record, "dob", "date_of_birth")); ok {
		return AgeAtAdmission(dob, admit)
	}
	return 0
}

// LoadDiagnoses reads the diagnoses table and attaches codes to their
// admissions in place. The legacy layout carries ICD-9 codes only
// (ICD9_CODE); the current layout carries icd_code plus icd_version. Rows
// referencing an admission outside the batch are logged and skipped.
func (s *CSVSource) LoadDiagnoses(path string, admissions []domain.Admission) error {
	f, err := os.Open(path)
	if err != nil {
		return domain.NewIngestError(path, 0, "opening diagnoses file", err)
	}
	defer f.Close()

	return s.readDiagnoses(f, path, admissions)
}

func (s *CSVSource) readDiagnoses(r io.Reader, source string, admissions []domain.Admission) error {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	first, err := reader.Read()
	if err != nil {
		return domain.NewIngestError(source, 0, "reading diagnoses header", err)
	}
	h := readHeader(first)

	legacy := h.has("icd9_code")
	if !legacy && !h.has("icd_code") {
		return domain.NewIngestError(source, 1, "diagnoses file has neither icd9_code nor icd_code column", nil)
	}

	byHadm := make(map[string]*domain.Admission, len(admissions))
	for i := range admissions {
		byHadm[admissions[i].HadmID] = &admissions[i]
	}

	attached, skipped := 0, 0
	row := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		row++
		if err != nil {
			return domain.NewIngestError(source, row, "reading diagnoses row", err)
		}

		hadmID := h.col(record, "hadm_id")
		adm, ok := byHadm[hadmID]
		if !ok {
			s.logger.WithFields(logrus.Fields{
				"source":  source,
				"row":     row,
				"hadm_id": hadmID,
			}).Debug("Diagnosis row references unknown admission, skipping")
			skipped++
			continue
		}

		code, ok := s.parseDiagnosis(h, record, legacy, source, row)
		if !ok {
			skipped++
			continue
		}

		adm.Diagnoses = append(adm.Diagnoses, code)
		attached++
	}

	s.logger.WithFields(logrus.Fields{
		"source":   source,
		"attached": attached,
		"skipped":  skipped,
	}).Info("Loaded diagnoses")

	return nil
}

func (s *CSVSource) parseDiagnosis(h header, record []string, legacy bool, source string, row int) (domain.DiagnosisCode, bool) {
	var code domain.DiagnosisCode

	if legacy {
		code.System = domain.ICD9
		code.Value = icd.Normalize(h.col(record, "icd9_code"))
	} else {
		code.Value = icd.Normalize(h.col(record, "icd_code"))
		switch h.col(record, "icd_version") {
		case "9":
			code.System = domain.ICD9
		case "10":
			code.System = domain.ICD10
		default:
			s.logger.WithFields(logrus.Fields{
				"source":  source,
				"row":     row,
				"version": h.col(record, "icd_version"),
			}).Warn("Diagnosis row has unknown icd_version, skipping")
			return code, false
		}
	}

	if code.Value == "" {
		s.logger.WithFields(logrus.Fields{
			"source": source,
			"row":    row,
		}).Debug("Diagnosis row has empty code, skipping")
		return code, false
	}

	// Structural validation is advisory: the code stays on the admission and
	// falls through the catalogue as unmapped.
	if !structurallyValid(code.System, code.Value) {
		s.logger.WithFields(logrus.Fields{
			"source": source,
			"row":    row,
			"system": string(code.System),
			"code":   code.Value,
		}).Warn("Diagnosis code is structurally invalid, keeping as unmapped")
	}

	if raw := h.col(record, "seq_num"); raw != "" {
		if seq, err := strconv.Atoi(raw); err == nil {
			code.SeqNum = seq
		}
	}

	return code, true
}

// structurallyValid reports whether a normalized code value matches its code
// system's format.
func structurallyValid(system domain.CodeSystem, value string) bool {
	switch system {
	case domain.ICD9:
		return icd.IsValidICD9(value)
	case domain.ICD10:
		return icd.IsValidICD10(value)
	}
	return false
}

// Load reads admissions and diagnoses together, returning admissions with
// their codes attached.
func (s *CSVSource) Load(admissionsPath, diagnosesPath string) ([]domain.Admission, error) {
	admissions, err := s.LoadAdmissions(admissionsPath)
	if err != nil {
		return nil, err
	}
	if err := s.LoadDiagnoses(diagnosesPath, admissions); err != nil {
		return nil, err
	}
	return admissions, nil
}
