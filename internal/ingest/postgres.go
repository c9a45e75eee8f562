package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/stroke-trial-screener/internal/domain"
	"github.com/stroke-trial-screener/pkg/icd"
)

// PostgresSource loads admissions and diagnoses straight from the warehouse
// tables. The schema mirrors the current CSV layout: an admissions table and
// a diagnoses table keyed by hadm_id carrying icd_code plus icd_version.
type PostgresSource struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewPostgresSource creates a new warehouse ingest source
func NewPostgresSource(db *pgxpool.Pool, logger *logrus.Logger) *PostgresSource {
	return &PostgresSource{
		db:  db,
		log: logger,
	}
}

// LoadAdmissions reads the admissions table. The same batch invariants as the
// CSV source apply: duplicate admission identifiers abort the load.
func (s *PostgresSource) LoadAdmissions(ctx context.Context) ([]domain.Admission, error) {
	query := `
		SELECT subject_id, hadm_id, admittime, dischtime, admission_type, anchor_age
		FROM admissions
		ORDER BY hadm_id`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"error": err,
		}).Error("Failed to query admissions")
		return nil, domain.NewIngestError("admissions", 0, "querying admissions table", err)
	}
	defer rows.Close()

	var admissions []domain.Admission
	seen := make(map[string]struct{})
	row := 0
	for rows.Next() {
		row++
		var adm domain.Admission
		var dischTime sql.NullTime
		var admType sql.NullString
		var age sql.NullFloat64

		err := rows.Scan(
			&adm.SubjectID,
			&adm.HadmID,
			&adm.AdmitTime,
			&dischTime,
			&admType,
			&age,
		)
		if err != nil {
			s.log.WithFields(logrus.Fields{
				"row":   row,
				"error": err,
			}).Error("Failed to scan admission row")
			return nil, domain.NewIngestError("admissions", row, "scanning admission row", err)
		}

		if adm.HadmID == "" {
			return nil, domain.NewIngestError("admissions", row, "admission row has no hadm_id", nil)
		}
		if _, dup := seen[adm.HadmID]; dup {
			return nil, domain.NewIngestError("admissions", row, fmt.Sprintf("duplicate hadm_id %q", adm.HadmID), nil)
		}
		seen[adm.HadmID] = struct{}{}

		if admType.Valid {
			adm.AdmissionType = strings.ToUpper(admType.String)
		}
		if dischTime.Valid {
			adm.DischargeTime = dischTime.Time
			if dischTime.Time.After(adm.AdmitTime) {
				adm.LengthOfStay = dischTime.Time.Sub(adm.AdmitTime).Hours() / 24
			}
		}
		if age.Valid {
			adm.Age = age.Float64
		}

		admissions = append(admissions, adm)
	}

	if err := rows.Err(); err != nil {
		return nil, domain.NewIngestError("admissions", 0, "iterating admission rows", err)
	}

	s.log.WithFields(logrus.Fields{
		"admissions": len(admissions),
	}).Info("Loaded admissions from warehouse")

	return admissions, nil
}

// LoadDiagnoses reads the diagnoses table and attaches codes to their
// admissions in place. Rows referencing an admission outside the batch are
// logged and skipped, matching the CSV source.
func (s *PostgresSource) LoadDiagnoses(ctx context.Context, admissions []domain.Admission) error {
	query := `
		SELECT hadm_id, seq_num, icd_code, icd_version
		FROM diagnoses_icd
		ORDER BY hadm_id, seq_num`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"error": err,
		}).Error("Failed to query diagnoses")
		return domain.NewIngestError("diagnoses_icd", 0, "querying diagnoses table", err)
	}
	defer rows.Close()

	byHadm := make(map[string]*domain.Admission, len(admissions))
	for i := range admissions {
		byHadm[admissions[i].HadmID] = &admissions[i]
	}

	attached, skipped := 0, 0
	row := 0
	for rows.Next() {
		row++
		var hadmID, codeValue string
		var seqNum, version int

		if err := rows.Scan(&hadmID, &seqNum, &codeValue, &version); err != nil {
			return domain.NewIngestError("diagnoses_icd", row, "scanning diagnosis row", err)
		}

		adm, ok := byHadm[hadmID]
		if !ok {
			s.log.WithFields(logrus.Fields{
				"hadm_id": hadmID,
			}).Debug("Diagnosis row references unknown admission, skipping")
			skipped++
			continue
		}

		var system domain.CodeSystem
		switch version {
		case 9:
			system = domain.ICD9
		case 10:
			system = domain.ICD10
		default:
			s.log.WithFields(logrus.Fields{
				"hadm_id": hadmID,
				"version": version,
			}).Warn("Diagnosis row has unknown icd_version, skipping")
			skipped++
			continue
		}

		value := icd.Normalize(codeValue)
		if !structurallyValid(system, value) {
			s.log.WithFields(logrus.Fields{
				"hadm_id": hadmID,
				"system":  string(system),
				"code":    value,
			}).Warn("Diagnosis code is structurally invalid, keeping as unmapped")
		}

		adm.Diagnoses = append(adm.Diagnoses, domain.DiagnosisCode{
			System: system,
			Value:  value,
			SeqNum: seqNum,
		})
		attached++
	}

	if err := rows.Err(); err != nil {
		return domain.NewIngestError("diagnoses_icd", 0, "iterating diagnosis rows", err)
	}

	s.log.WithFields(logrus.Fields{
		"attached": attached,
		"skipped":  skipped,
	}).Info("Loaded diagnoses from warehouse")

	return nil
}

// Load reads admissions and diagnoses together.
func (s *PostgresSource) Load(ctx context.Context) ([]domain.Admission, error) {
	admissions, err := s.LoadAdmissions(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.LoadDiagnoses(ctx, admissions); err != nil {
		return nil, err
	}
	return admissions, nil
}
