package schema

import (
	"time"

	"gorm.io/datatypes"
)

// StatusEvent represents the status_events table - the append-only journal of
// detected status transitions, ordered by cursor for pagination
type StatusEvent struct {
	// Cursor is an auto-incrementing sequence number for efficient pagination and ordering
	Cursor int64 `gorm:"column:\"cursor\";primaryKey;autoIncrement"`
	// AccountID is the tax-account identifier the transition belongs to
	AccountID string `gorm:"column:account_id;not null;type:text;index"`
	// OldStatus is the status before the transition ("" for a first sighting)
	OldStatus string `gorm:"column:old_status;not null;default:'';type:text"`
	// NewStatus is the status after the transition
	NewStatus string `gorm:"column:new_status;not null;default:'';type:text"`
	// DaysSinceChange is the whole-day age of the transition at reconciliation time
	DaysSinceChange int `gorm:"column:days_since_change;not null;default:0"`
	// ChangedAt is the upload timestamp that surfaced the transition
	ChangedAt time.Time `gorm:"column:changed_at;not null;type:timestamptz;index"`
	// UploadRunID links the event to the upload run that produced it
	UploadRunID string `gorm:"column:upload_run_id;not null;type:text;index"`
	// Snapshot is the merged property record as of the event, as JSON
	Snapshot datatypes.JSON `gorm:"column:snapshot;type:jsonb"`
	// CreatedAt is the timestamp when this record was journaled
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now()"`
}

// TableName specifies the table name for the StatusEvent model
func (StatusEvent) TableName() string {
	return "status_events"
}
