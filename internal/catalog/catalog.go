// Package catalog implements the code catalogue: the static mapping from
// diagnosis codes to semantic categories. Lookup is a total function over
// (code system, code value) pairs; anything the catalogue does not recognize
// maps to UNMAPPED so a lookup can never fail a batch run.
package catalog

import (
	"fmt"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/stroke-trial-screener/internal/domain"
	"github.com/stroke-trial-screener/pkg/icd"
)

// Codelists are prefix-based over normalized (dot-stripped, uppercase) code
// values. The stroke and cardiovascular ranges are disjoint by construction.
var (
	strokeICD9Prefixes  = []string{"430", "431", "432", "433", "434", "435", "436"}
	strokeICD10Prefixes = []string{"I60", "I61", "I62", "I63", "I64", "G45"}

	// Cardiovascular ICD-9 category ranges (rheumatic, hypertensive,
	// ischemic, pulmonary-circulation and other heart disease chapters).
	cardioICD9Ranges = [][2]int{{390, 398}, {401, 405}, {410, 417}, {420, 429}}

	// Cardiovascular ICD-10 I-chapter ranges.
	cardioICD10Ranges = [][2]int{{0, 13}, {15, 15}, {20, 28}, {30, 51}}
)

// defaultMemoSize bounds the memoized lookup cache. Warehouse extracts reuse
// a few thousand distinct codes, so this comfortably covers a full run.
const defaultMemoSize = 8192

// Catalogue maps diagnosis codes to semantic categories. It is immutable for
// the duration of a run and safe for concurrent lookups.
type Catalogue struct {
	memo   *lru.Cache[string, domain.CodeCategory]
	logger *logrus.Logger
}

// NewCatalogue creates a new code catalogue
func NewCatalogue(logger *logrus.Logger) (*Catalogue, error) {
	memo, err := lru.New[string, domain.CodeCategory](defaultMemoSize)
	if err != nil {
		return nil, fmt.Errorf("creating catalogue memo cache: %w", err)
	}

	return &Catalogue{
		memo:   memo,
		logger: logger,
	}, nil
}

// Lookup returns the semantic category for one diagnosis-code occurrence.
// Unknown code systems, malformed values, and codes outside the configured
// codelists all return UNMAPPED.
func (c *Catalogue) Lookup(code domain.DiagnosisCode) domain.CodeCategory {
	normalized := icd.Normalize(code.Value)
	if normalized == "" {
		return domain.UNMAPPED
	}

	key := string(code.System) + ":" + normalized
	if category, ok := c.memo.Get(key); ok {
		return category
	}

	category := c.classify(code.System, normalized)
	c.memo.Add(key, category)

	if category == domain.UNMAPPED {
		c.logger.WithFields(logrus.Fields{
			"code_system": code.System,
			"code_value":  code.Value,
		}).Debug("Diagnosis code not in catalogue")
	}

	return category
}

// classify resolves a normalized code value against the codelists.
func (c *Catalogue) classify(system domain.CodeSystem, normalized string) domain.CodeCategory {
	switch system {
	case domain.ICD9:
		return classifyICD9(normalized)
	case domain.ICD10:
		return classifyICD10(normalized)
	default:
		return domain.UNMAPPED
	}
}

func classifyICD9(normalized string) domain.CodeCategory {
	for _, prefix := range strokeICD9Prefixes {
		if hasPrefix(normalized, prefix) {
			return domain.STROKE
		}
	}

	// Cardiovascular matching needs the three-digit category number; V and E
	// codes never parse and fall through to UNMAPPED.
	if len(normalized) >= 3 {
		if category, err := strconv.Atoi(normalized[:3]); err == nil {
			for _, r := range cardioICD9Ranges {
				if category >= r[0] && category <= r[1] {
					return domain.CARDIOVASCULAR
				}
			}
		}
	}

	return domain.UNMAPPED
}

func classifyICD10(normalized string) domain.CodeCategory {
	for _, prefix := range strokeICD10Prefixes {
		if hasPrefix(normalized, prefix) {
			return domain.STROKE
		}
	}

	if len(normalized) >= 3 && normalized[0] == 'I' {
		if category, err := strconv.Atoi(normalized[1:3]); err == nil {
			for _, r := range cardioICD10Ranges {
				if category >= r[0] && category <= r[1] {
					return domain.CARDIOVASCULAR
				}
			}
		}
	}

	return domain.UNMAPPED
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
