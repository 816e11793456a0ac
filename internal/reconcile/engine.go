package reconcile

import (
	"time"

	"github.com/alitto/pond/v2"

	"github.com/taxroll/lead-reconciler/internal/adapter"
	"github.com/taxroll/lead-reconciler/internal/domain"
)

const (
	// DEFAULT_WORKERS is the pool size used when resolving very large uploads
	DEFAULT_WORKERS = 8
	// DEFAULT_PARALLEL_THRESHOLD is the row count above which identity and
	// status resolution runs on the worker pool
	DEFAULT_PARALLEL_THRESHOLD = 5000
)

// Config holds tuning knobs for the reconciliation engine
type Config struct {
	// Workers is the pool size for resolving large uploads (0 = default)
	Workers int
	// ParallelThreshold is the row count above which resolution is
	// parallelized (0 = default)
	ParallelThreshold int
}

// Engine reconciles an uploaded batch of raw rows against the previously
// persisted property snapshot. It is a pure function of its inputs plus the
// injected clock: no I/O, no retained state, safe to re-run after a failed
// save.
type Engine struct {
	config Config
	clock  adapter.Clock
}

// Result is the outcome of one reconciliation pass
type Result struct {
	// Properties is the merged active set: exactly the identifiers present
	// in the latest upload, with status fields and history brought current
	Properties []domain.Property

	// StatusChanges are the transitions detected in this pass, in row order
	StatusChanges []domain.StatusChangeEvent

	// SkippedRows counts rows dropped for lacking a resolvable identifier
	SkippedRows int
}

// NewEngine creates a reconciliation engine
func NewEngine(cfg Config, clock adapter.Clock) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = DEFAULT_WORKERS
	}
	if cfg.ParallelThreshold <= 0 {
		cfg.ParallelThreshold = DEFAULT_PARALLEL_THRESHOLD
	}
	return &Engine{config: cfg, clock: clock}
}

// resolvedRow pairs a raw row with its extracted identity and status
type resolvedRow struct {
	row    domain.RawRow
	id     string
	status domain.Status
}

// Reconcile merges newRows over existing and returns the merged active set
// plus the change events the merge produced.
//
// Rows without a resolvable identifier are skipped. Existing properties
// absent from newRows are not part of the returned active set; the
// comparison report own that disappearance (removed / foreclosed lists) and
// the store keeps them queryable as inactive.
//
// Re-running the same rows against the returned Properties yields zero
// events and identical history: a failed save can always be retried.
func (e *Engine) Reconcile(newRows []domain.RawRow, existing []domain.Property, uploadedAt time.Time) Result {
	now := e.clock.Now()

	byID := make(map[string]*domain.Property, len(existing))
	for i := range existing {
		byID[existing[i].ID] = &existing[i]
	}

	resolved := e.resolveRows(newRows)

	result := Result{
		Properties:    make([]domain.Property, 0, len(newRows)),
		StatusChanges: []domain.StatusChangeEvent{},
	}
	// outIndex tracks the position of each id already merged in this pass so
	// duplicate rows for one account fold into a single output record
	outIndex := make(map[string]int, len(newRows))

	for _, rr := range resolved {
		if rr.id == "" {
			result.SkippedRows++
			continue
		}

		var base *domain.Property
		if idx, ok := outIndex[rr.id]; ok {
			base = &result.Properties[idx]
		} else if prev, ok := byID[rr.id]; ok {
			clone := prev.Clone()
			base = &clone
		}

		if base == nil {
			merged := e.newProperty(rr, uploadedAt, now)
			result.Properties = append(result.Properties, merged)
			outIndex[rr.id] = len(result.Properties) - 1
			if merged.CurrentStatus != domain.StatusNone {
				result.StatusChanges = append(result.StatusChanges, e.changeEvent(&result.Properties[len(result.Properties)-1], domain.StatusNone, uploadedAt))
			}
			continue
		}

		oldStatus := base.CurrentStatus
		merged := e.mergeProperty(base, rr, uploadedAt, now)

		if idx, ok := outIndex[rr.id]; ok {
			result.Properties[idx] = merged
		} else {
			result.Properties = append(result.Properties, merged)
			outIndex[rr.id] = len(result.Properties) - 1
		}

		if oldStatus != merged.CurrentStatus {
			result.StatusChanges = append(result.StatusChanges, e.changeEvent(&result.Properties[outIndex[rr.id]], oldStatus, uploadedAt))
		}
	}

	return result
}

// resolveRows extracts identity and status for every row, using the worker
// pool for large uploads. Rows are independent, so each worker writes only
// its own slot.
func (e *Engine) resolveRows(rows []domain.RawRow) []resolvedRow {
	resolved := make([]resolvedRow, len(rows))

	resolve := func(i int) {
		resolved[i] = resolvedRow{
			row:    rows[i],
			id:     domain.ResolveIdentity(rows[i]),
			status: domain.ResolveStatus(rows[i]),
		}
	}

	if len(rows) < e.config.ParallelThreshold {
		for i := range rows {
			resolve(i)
		}
		return resolved
	}

	pool := pond.NewPool(e.config.Workers)
	for i := range rows {
		pool.Submit(func() { resolve(i) })
	}
	pool.StopAndWait()

	return resolved
}

// newProperty builds the record for an identifier never seen before
func (e *Engine) newProperty(rr resolvedRow, uploadedAt, now time.Time) domain.Property {
	days := domain.WholeDays(uploadedAt, now)

	p := domain.Property{
		ID:                    rr.id,
		CurrentStatus:         rr.status,
		PreviousStatus:        domain.StatusNone,
		StatusChangeDate:      uploadedAt,
		DaysSinceStatusChange: days,
		StatusHistory:         []domain.StatusHistoryEntry{},
		Attributes:            copyRow(rr.row),
		FirstSeenAt:           uploadedAt,
		LastSeenAt:            uploadedAt,
	}

	if rr.status != domain.StatusNone {
		p.StatusHistory = append(p.StatusHistory, domain.StatusHistoryEntry{
			Status:                rr.status,
			StatusDate:            uploadedAt,
			PreviousStatus:        domain.StatusNone,
			DaysSinceStatusChange: days,
		})
	}

	return p
}

// mergeProperty folds a row into an already-known property. Passthrough
// columns from the new row win on conflict; history grows only on a real
// transition.
func (e *Engine) mergeProperty(base *domain.Property, rr resolvedRow, uploadedAt, now time.Time) domain.Property {
	merged := base.Clone()
	for k, v := range rr.row {
		merged.Attributes[k] = v
	}
	merged.LastSeenAt = uploadedAt

	if base.CurrentStatus == rr.status {
		// No transition: keep "days since change" live relative to the
		// last real change, not this upload
		merged.DaysSinceStatusChange = domain.WholeDays(base.StatusChangeDate, now)
		return merged
	}

	days := domain.WholeDays(uploadedAt, now)
	merged.PreviousStatus = base.CurrentStatus
	merged.CurrentStatus = rr.status
	merged.StatusChangeDate = uploadedAt
	merged.DaysSinceStatusChange = days
	merged.StatusHistory = append(merged.StatusHistory, domain.StatusHistoryEntry{
		Status:                rr.status,
		StatusDate:            uploadedAt,
		PreviousStatus:        base.CurrentStatus,
		DaysSinceStatusChange: days,
	})

	return merged
}

// changeEvent emits the event for a transition that was just applied to p
func (e *Engine) changeEvent(p *domain.Property, oldStatus domain.Status, uploadedAt time.Time) domain.StatusChangeEvent {
	snapshot := p.Clone()
	return domain.StatusChangeEvent{
		PropertyID:      p.ID,
		OldStatus:       oldStatus,
		NewStatus:       p.CurrentStatus,
		DaysSinceChange: p.DaysSinceStatusChange,
		ChangedAt:       uploadedAt,
		Property:        &snapshot,
	}
}

// copyRow shallow-copies a raw row into a fresh attribute map
func copyRow(row domain.RawRow) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}
