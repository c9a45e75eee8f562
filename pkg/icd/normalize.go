// Package icd provides normalization and structural validation for ICD-9-CM
// and ICD-10-CM diagnosis codes. Warehouse extracts carry codes in mixed
// shapes ("I63.9", " i639 ", "43411"); the code catalogue matches on the
// normalized form only.
package icd

import (
	"strings"
)

// Normalize canonicalizes a raw diagnosis code value: surrounding whitespace
// is trimmed, letters are uppercased, and the decimal point is stripped.
// Normalization never fails; an empty or garbage input simply normalizes to
// something no catalogue entry will match.
func Normalize(code string) string {
	code = strings.TrimSpace(code)
	code = strings.ToUpper(code)
	code = strings.ReplaceAll(code, ".", "")
	return code
}
