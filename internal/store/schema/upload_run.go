package schema

import (
	"time"
)

// UploadRun represents the upload_runs table - one row per processed upload,
// for auditability and idempotence checks
type UploadRun struct {
	// ID is the caller-assigned run identifier (UUID)
	ID string `gorm:"column:id;primaryKey;type:text"`
	// FileName is the uploaded file's name as received (informational only)
	FileName string `gorm:"column:file_name;type:text"`
	// UploadedAt is the effective timestamp of the upload
	UploadedAt time.Time `gorm:"column:uploaded_at;not null;type:timestamptz;index"`
	// RowCount is the number of data rows in the upload
	RowCount int `gorm:"column:row_count;not null;default:0"`
	// SkippedRows counts rows dropped for lacking a resolvable identifier
	SkippedRows int `gorm:"column:skipped_rows;not null;default:0"`
	// NewCount / RemovedCount / ChangedCount summarize the reconciliation outcome
	NewCount     int `gorm:"column:new_count;not null;default:0"`
	RemovedCount int `gorm:"column:removed_count;not null;default:0"`
	ChangedCount int `gorm:"column:changed_count;not null;default:0"`
	// BaseVersion / NewVersion are the snapshot versions this run moved between
	BaseVersion int64 `gorm:"column:base_version;not null;default:0"`
	NewVersion  int64 `gorm:"column:new_version;not null;default:0"`
	// CreatedAt is the timestamp when the run completed
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now()"`
}

// TableName specifies the table name for the UploadRun model
func (UploadRun) TableName() string {
	return "upload_runs"
}
