package ingest

import "time"

const (
	daysPerYear = 365.25
	ageFloor    = 0.0
	ageCeiling  = 120.0
)

// AgeAtAdmission derives the subject's age in years from date of birth and
// admission time. De-identified extracts shift elderly birth dates centuries
// into the past, so the result is clipped to [0, 120] rather than rejected.
func AgeAtAdmission(dob, admit time.Time) float64 {
	if dob.IsZero() || admit.IsZero() {
		return 0
	}
	age := admit.Sub(dob).Hours() / 24 / daysPerYear
	if age < ageFloor {
		return ageFloor
	}
	if age > ageCeiling {
		return ageCeiling
	}
	return age
}
