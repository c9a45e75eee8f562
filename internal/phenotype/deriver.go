// Package phenotype derives per-admission clinical signals from diagnosis
// codes. Derivation is fail-open end to end: malformed or unrecognized codes
// contribute to no count and never abort a batch run.
package phenotype

import (
	"github.com/sirupsen/logrus"

	"github.com/stroke-trial-screener/internal/catalog"
	"github.com/stroke-trial-screener/internal/domain"
)

// Deriver computes PhenotypeFacts from an admission's diagnosis codes.
type Deriver struct {
	catalogue *catalog.Catalogue
	logger    *logrus.Logger
}

// NewDeriver creates a new phenotype deriver
func NewDeriver(catalogue *catalog.Catalogue, logger *logrus.Logger) *Deriver {
	return &Deriver{
		catalogue: catalogue,
		logger:    logger,
	}
}

// Derive produces the phenotype facts for one admission. Duplicate code
// occurrences are counted, not deduplicated: repetition across diagnosis
// lines is taken as evidence strength. Derive has no error conditions.
func (d *Deriver) Derive(admission *domain.Admission) domain.PhenotypeFacts {
	facts := domain.PhenotypeFacts{
		TotalDiagnosisCount: len(admission.Diagnoses),
	}

	for _, code := range admission.Diagnoses {
		switch d.catalogue.Lookup(code) {
		case domain.STROKE:
			facts.StrokeCodeCount++
			if code.IsPrimary() {
				facts.HasPrimaryStrokeDx = true
			}
		case domain.CARDIOVASCULAR:
			facts.CardiovascularCodeCount++
		}
	}

	if facts.TotalDiagnosisCount > 0 {
		facts.StrokeCodeDensity = float64(facts.StrokeCodeCount) / float64(facts.TotalDiagnosisCount)
	}

	d.logger.WithFields(logrus.Fields{
		"hadm_id":           admission.HadmID,
		"stroke_codes":      facts.StrokeCodeCount,
		"cardio_codes":      facts.CardiovascularCodeCount,
		"primary_stroke_dx": facts.HasPrimaryStrokeDx,
	}).Debug("Derived phenotype facts")

	return facts
}

// DeriveAll derives facts for a batch of admissions, preserving input order.
func (d *Deriver) DeriveAll(admissions []domain.Admission) []domain.PhenotypeFacts {
	facts := make([]domain.PhenotypeFacts, len(admissions))
	for i := range admissions {
		facts[i] = d.Derive(&admissions[i])
	}
	return facts
}
