package schema

import (
	"time"

	"gorm.io/datatypes"
)

// Report represents the reports table - the comparison report of each upload.
// The dashboard only ever reads the latest row; older rows are kept for audit.
type Report struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// UploadRunID links the report to the upload run that produced it
	UploadRunID string `gorm:"column:upload_run_id;not null;type:text;index"`
	// UploadedAt is the effective timestamp of the compared upload
	UploadedAt time.Time `gorm:"column:uploaded_at;not null;type:timestamptz;index"`
	// Payload is the full comparison report as JSON
	Payload datatypes.JSON `gorm:"column:payload;type:jsonb"`
	// CreatedAt is the timestamp when the report was persisted
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now()"`
}

// TableName specifies the table name for the Report model
func (Report) TableName() string {
	return "reports"
}
