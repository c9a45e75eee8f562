package icd

import (
	"fmt"
	"regexp"
)

// Structural patterns over normalized (dot-stripped, uppercase) code values.
var (
	// ICD-9-CM: 3-5 digits, or V codes (V01-V91 plus decimals), or E codes
	// (E000-E999 plus one decimal digit).
	icd9Pattern = regexp.MustCompile(`^(\d{3,5}|V\d{2,4}|E\d{3,4})$`)

	// ICD-10-CM: one letter, two digits, up to four alphanumeric extension
	// characters.
	icd10Pattern = regexp.MustCompile(`^[A-Z]\d{2}[A-Z0-9]{0,4}$`)
)

// Validator provides structural validation for diagnosis code values.
// Validation is advisory: the screening pipeline treats structurally invalid
// codes as unmapped rather than rejecting the record.
type Validator struct{}

// NewValidator creates a new ICD code validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateICD9 checks that a code value is structurally a valid ICD-9-CM code.
func (v *Validator) ValidateICD9(code string) error {
	normalized := Normalize(code)
	if normalized == "" {
		return fmt.Errorf("ICD-9 code is empty")
	}
	if !icd9Pattern.MatchString(normalized) {
		return fmt.Errorf("invalid ICD-9 code format: %s", code)
	}
	return nil
}

// ValidateICD10 checks that a code value is structurally a valid ICD-10-CM code.
func (v *Validator) ValidateICD10(code string) error {
	normalized := Normalize(code)
	if normalized == "" {
		return fmt.Errorf("ICD-10 code is empty")
	}
	if !icd10Pattern.MatchString(normalized) {
		return fmt.Errorf("invalid ICD-10 code format: %s", code)
	}
	return nil
}

// IsValidICD9 reports whether the code value is structurally a valid
// ICD-9-CM code.
func IsValidICD9(code string) bool {
	return icd9Pattern.MatchString(Normalize(code))
}

// IsValidICD10 reports whether the code value is structurally a valid
// ICD-10-CM code.
func IsValidICD10(code string) bool {
	return icd10Pattern.MatchString(Normalize(code))
}
