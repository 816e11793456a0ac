package domain

import (
	"fmt"
	"strings"
)

// Status represents the legal/delinquency stage of a property on the tax roll.
// The zero value StatusNone means the upload carried no recognizable status.
type Status string

const (
	// StatusJudgment means a court judgment has been entered against the property
	StatusJudgment Status = "J"
	// StatusActive means an active delinquency lawsuit is in progress
	StatusActive Status = "A"
	// StatusPending means a suit is pending/filed but not yet active
	StatusPending Status = "P"
	// StatusNone means no status could be derived from the row
	StatusNone Status = ""
)

// IsValidStatus checks if a status is one of the tracked stages
func IsValidStatus(s Status) bool {
	return s == StatusJudgment || s == StatusActive || s == StatusPending
}

// String returns the single-letter status code
func (s Status) String() string {
	return string(s)
}

// primaryStatusColumns are the column names carrying the dedicated legal-status
// value, checked before any fallback. County exports disagree on the header.
var primaryStatusColumns = []string{
	"LEGALSTATUS",
	"Legal Status",
	"legalStatus",
	"legal_status",
}

// fallbackStatusColumns are alternate columns consulted only when no primary
// legal-status column is present. Values from these columns must match a
// status code exactly; substring classification does not apply to them.
var fallbackStatusColumns = []string{
	"Status",
	"Judgment Status",
	"Tax Status",
	"Foreclosure Status",
	"currentStatus",
	"status",
}

// ResolveStatus derives the J/A/P status from a raw spreadsheet row.
//
// The primary legal-status column is classified by substring in a fixed
// priority order: a value containing "J"/"JUDGMENT" wins over one containing
// "A"/"ACTIVE", which wins over "P"/"PENDING". A value of "JUDGMENT/ACTIVE"
// therefore resolves to J. Downstream counts depend on this tie-break order;
// do not tighten it to exact matching.
//
// When no primary column exists, fallback columns accept only exact
// (case-insensitive, trimmed) J, A, or P values.
func ResolveStatus(row RawRow) Status {
	for _, col := range primaryStatusColumns {
		v, ok := row[col]
		if !ok {
			continue
		}
		return classifyLegalStatus(CellString(v))
	}

	for _, col := range fallbackStatusColumns {
		v, ok := row[col]
		if !ok {
			continue
		}
		switch strings.ToUpper(strings.TrimSpace(CellString(v))) {
		case "J":
			return StatusJudgment
		case "A":
			return StatusActive
		case "P":
			return StatusPending
		}
	}

	return StatusNone
}

// classifyLegalStatus applies the substring priority table to a primary
// legal-status value. Order is J, then A, then P.
func classifyLegalStatus(value string) Status {
	v := strings.ToUpper(strings.TrimSpace(value))
	if v == "" {
		return StatusNone
	}

	switch {
	case strings.Contains(v, "J") || strings.Contains(v, "JUDGMENT"):
		return StatusJudgment
	case strings.Contains(v, "A") || strings.Contains(v, "ACTIVE"):
		return StatusActive
	case strings.Contains(v, "P") || strings.Contains(v, "PENDING"):
		return StatusPending
	default:
		return StatusNone
	}
}

// RawLegalStatus returns the verbatim text of the primary legal-status column,
// used by the comparison report's free-text change tracker.
func RawLegalStatus(row RawRow) string {
	for _, col := range primaryStatusColumns {
		if v, ok := row[col]; ok {
			return strings.TrimSpace(CellString(v))
		}
	}
	return ""
}

// CellString normalizes a heterogeneous spreadsheet cell to its string form.
// Numeric cells keep a plain decimal representation; blanks and nils are "".
func CellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case float64:
		// Spreadsheet parsers hand integers back as float64
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", t), "0"), ".")
	case float32:
		return CellString(float64(t))
	case int:
		return fmt.Sprintf("%d", t)
	case int64:
		return fmt.Sprintf("%d", t)
	case bool:
		return fmt.Sprintf("%t", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
