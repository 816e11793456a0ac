package reconcile

import (
	"strconv"
	"strings"
	"time"

	"github.com/taxroll/lead-reconciler/internal/domain"
)

const (
	// DEFAULT_NUMERIC_FIELD is the percentage-like column tracked for
	// per-field deltas in the comparison report
	DEFAULT_NUMERIC_FIELD = "Percent Owed"
)

// PropertySummary is a compact row for report lists
type PropertySummary struct {
	ID      string        `json:"id"`
	Status  domain.Status `json:"status"`
	Address string        `json:"address,omitempty"`
}

// RemovedProperty tags a disappeared identifier with its last known state
type RemovedProperty struct {
	ID         string        `json:"id"`
	LastStatus domain.Status `json:"last_status"`
	Address    string        `json:"address,omitempty"`
}

// FieldChange records a single tracked-field delta between two uploads
type FieldChange struct {
	PropertyID string `json:"property_id"`
	Field      string `json:"field"`
	OldValue   string `json:"old_value"`
	NewValue   string `json:"new_value"`
}

// Summary holds the headline counts of a comparison report
type Summary struct {
	TotalPrevious      int `json:"total_previous"`
	TotalCurrent       int `json:"total_current"`
	NewCount           int `json:"new_count"`
	RemovedCount       int `json:"removed_count"`
	ForeclosedCount    int `json:"foreclosed_count"`
	StatusChangeCount  int `json:"status_change_count"`
	NumericChangeCount int `json:"numeric_change_count"`
	LegalTextCount     int `json:"legal_text_change_count"`
}

// Report is the per-upload comparison of the previous and newly merged
// property sets. Built fresh on every upload; the previous report is
// replaced, never merged.
type Report struct {
	UploadedAt           time.Time                  `json:"uploaded_at"`
	Summary              Summary                    `json:"summary"`
	NewProperties        []PropertySummary          `json:"new_properties"`
	RemovedProperties    []RemovedProperty          `json:"removed_properties"`
	ForeclosedProperties []RemovedProperty          `json:"foreclosed_properties"`
	StatusChanges        []domain.StatusChangeEvent `json:"status_changes"`
	NumericChanges       []FieldChange              `json:"numeric_changes"`
	LegalTextChanges     []FieldChange              `json:"legal_text_changes"`
}

// ReportBuilder builds comparison reports. It is a read-side projection: the
// property lists passed in are never mutated.
type ReportBuilder struct {
	numericField string
}

// NewReportBuilder creates a builder tracking the given percentage-like
// column (empty = default) alongside the legal-status free text.
func NewReportBuilder(numericField string) *ReportBuilder {
	if numericField == "" {
		numericField = DEFAULT_NUMERIC_FIELD
	}
	return &ReportBuilder{numericField: numericField}
}

// Build compares the previous snapshot against the merged result of one
// reconciliation pass.
func (b *ReportBuilder) Build(previous, merged []domain.Property, changes []domain.StatusChangeEvent, uploadedAt time.Time) Report {
	prevByID := make(map[string]*domain.Property, len(previous))
	for i := range previous {
		prevByID[previous[i].ID] = &previous[i]
	}
	mergedByID := make(map[string]*domain.Property, len(merged))
	for i := range merged {
		mergedByID[merged[i].ID] = &merged[i]
	}

	report := Report{
		UploadedAt:           uploadedAt,
		NewProperties:        []PropertySummary{},
		RemovedProperties:    []RemovedProperty{},
		ForeclosedProperties: []RemovedProperty{},
		StatusChanges:        changes,
		NumericChanges:       []FieldChange{},
		LegalTextChanges:     []FieldChange{},
	}
	if report.StatusChanges == nil {
		report.StatusChanges = []domain.StatusChangeEvent{}
	}

	for i := range merged {
		p := &merged[i]
		prev, existed := prevByID[p.ID]
		if !existed {
			report.NewProperties = append(report.NewProperties, PropertySummary{
				ID:      p.ID,
				Status:  p.CurrentStatus,
				Address: p.Address(),
			})
			continue
		}

		if fc, changed := b.numericDelta(prev, p); changed {
			report.NumericChanges = append(report.NumericChanges, fc)
		}
		if fc, changed := legalTextDelta(prev, p); changed {
			report.LegalTextChanges = append(report.LegalTextChanges, fc)
		}
	}

	for i := range previous {
		p := &previous[i]
		if _, stillThere := mergedByID[p.ID]; stillThere {
			continue
		}
		removed := RemovedProperty{
			ID:         p.ID,
			LastStatus: p.CurrentStatus,
			Address:    p.Address(),
		}
		report.RemovedProperties = append(report.RemovedProperties, removed)
		// A Judgment property vanishing from the roll means foreclosure or
		// an ownership change: the lead is dead
		if p.CurrentStatus == domain.StatusJudgment {
			report.ForeclosedProperties = append(report.ForeclosedProperties, removed)
		}
	}

	report.Summary = Summary{
		TotalPrevious:      len(previous),
		TotalCurrent:       len(merged),
		NewCount:           len(report.NewProperties),
		RemovedCount:       len(report.RemovedProperties),
		ForeclosedCount:    len(report.ForeclosedProperties),
		StatusChangeCount:  len(report.StatusChanges),
		NumericChangeCount: len(report.NumericChanges),
		LegalTextCount:     len(report.LegalTextChanges),
	}

	return report
}

// numericDelta reports a change in the tracked percentage-like column
func (b *ReportBuilder) numericDelta(prev, curr *domain.Property) (FieldChange, bool) {
	oldVal := strings.TrimSpace(domain.CellString(prev.Attributes[b.numericField]))
	newVal := strings.TrimSpace(domain.CellString(curr.Attributes[b.numericField]))
	if !numericDiffers(oldVal, newVal) {
		return FieldChange{}, false
	}
	return FieldChange{
		PropertyID: curr.ID,
		Field:      b.numericField,
		OldValue:   oldVal,
		NewValue:   newVal,
	}, true
}

// legalTextDelta reports a change in the verbatim legal-status text
func legalTextDelta(prev, curr *domain.Property) (FieldChange, bool) {
	oldVal := domain.RawLegalStatus(prev.Attributes)
	newVal := domain.RawLegalStatus(curr.Attributes)
	if oldVal == newVal {
		return FieldChange{}, false
	}
	return FieldChange{
		PropertyID: curr.ID,
		Field:      "Legal Status",
		OldValue:   oldVal,
		NewValue:   newVal,
	}, true
}

// numericDiffers compares two cell values numerically when both parse, so
// "5" and "5.0" are not reported as a change, and textually otherwise
func numericDiffers(oldVal, newVal string) bool {
	if oldVal == newVal {
		return false
	}
	oldF, errOld := strconv.ParseFloat(strings.TrimSuffix(oldVal, "%"), 64)
	newF, errNew := strconv.ParseFloat(strings.TrimSuffix(newVal, "%"), 64)
	if errOld == nil && errNew == nil {
		return oldF != newF
	}
	return true
}
