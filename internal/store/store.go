package store

import (
	"context"
	"time"

	"github.com/taxroll/lead-reconciler/internal/domain"
	"github.com/taxroll/lead-reconciler/internal/reconcile"
)

// Snapshot is the persisted active property set plus its optimistic
// concurrency token
type Snapshot struct {
	// Version increments on every successful save; 0 means nothing persisted yet
	Version int64
	// Properties is the active set of the latest upload
	Properties []domain.Property
}

// UploadRunInput describes one processed upload for the audit trail
type UploadRunInput struct {
	ID           string
	FileName     string
	UploadedAt   time.Time
	RowCount     int
	SkippedRows  int
	NewCount     int
	RemovedCount int
	ChangedCount int
}

// SaveSnapshotInput carries everything one reconciliation pass persists
type SaveSnapshotInput struct {
	// BaseVersion is the snapshot version the pass was reconciled against;
	// a mismatch at save time fails with domain.ErrStaleSnapshot
	BaseVersion int64
	// Properties is the merged active set replacing the snapshot
	Properties []domain.Property
	// Events are the transitions to append to the journal
	Events []domain.StatusChangeEvent
	// Report is the comparison report of this upload
	Report *reconcile.Report
	// Run is the audit record of the upload
	Run UploadRunInput
}

// StatusEventRecord is one journaled transition with its pagination cursor
type StatusEventRecord struct {
	Cursor int64
	Event  domain.StatusChangeEvent
}

// PropertyFilter narrows ListProperties results. Nil fields match everything.
type PropertyFilter struct {
	Status   *domain.Status
	Active   *bool
	MinScore *int
	Offset   int
	Limit    int
}

// Store defines the interface for database operations
type Store interface {
	// LoadSnapshot retrieves the active property set and its version
	LoadSnapshot(ctx context.Context) (*Snapshot, error)
	// SaveSnapshot atomically replaces the active set, appends the journal,
	// records the run and report, and bumps the version. Fails with
	// domain.ErrStaleSnapshot when BaseVersion no longer matches.
	SaveSnapshot(ctx context.Context, input SaveSnapshotInput) (int64, error)
	// GetProperty retrieves one property by tax-account identifier,
	// active or not
	GetProperty(ctx context.Context, accountID string) (*domain.Property, error)
	// ListProperties retrieves properties matching the filter plus the
	// unpaginated match count
	ListProperties(ctx context.Context, filter PropertyFilter) ([]domain.Property, int64, error)
	// GetStatusEvents pages the transition journal forward from the anchor cursor
	GetStatusEvents(ctx context.Context, anchor int64, limit int) ([]StatusEventRecord, error)
	// GetLatestReport retrieves the comparison report of the most recent upload
	GetLatestReport(ctx context.Context) (*reconcile.Report, error)
	// ListPropertiesMissingLocation retrieves active properties with an
	// address but no coordinates yet
	ListPropertiesMissingLocation(ctx context.Context, limit int) ([]domain.Property, error)
	// SetPropertyLocation stores geocoded coordinates for a property
	SetPropertyLocation(ctx context.Context, accountID string, lat, lng float64) error
	// SetMotivationScore stores the computed motivation score for a property
	SetMotivationScore(ctx context.Context, accountID string, score int) error
	// DeactivateNotSeenSince retires active properties absent from every
	// upload since the cutoff and returns how many were retired
	DeactivateNotSeenSince(ctx context.Context, cutoff time.Time) (int64, error)
	// GetValue retrieves a coordination value ("" when unset)
	GetValue(ctx context.Context, key string) (string, error)
	// SetValue stores a coordination value
	SetValue(ctx context.Context, key string, value string) error
}
