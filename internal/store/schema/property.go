package schema

import (
	"time"

	"gorm.io/datatypes"
)

// Property represents the properties table - one row per tracked tax account
type Property struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// AccountID is the tax-account identifier resolved from the upload
	AccountID string `gorm:"column:account_id;not null;uniqueIndex;type:text"`
	// CurrentStatus is the latest derived J/A/P status ("" when the last upload carried none)
	CurrentStatus string `gorm:"column:current_status;not null;default:'';type:text;index"`
	// PreviousStatus is the status before the last recorded transition
	PreviousStatus string `gorm:"column:previous_status;not null;default:'';type:text"`
	// StatusChangeDate is the upload timestamp of the last transition
	StatusChangeDate time.Time `gorm:"column:status_change_date;type:timestamptz"`
	// StatusHistory is the append-only transition log as JSON, oldest first
	StatusHistory datatypes.JSON `gorm:"column:status_history;type:jsonb"`
	// Attributes holds every passthrough spreadsheet column of the latest upload
	Attributes datatypes.JSON `gorm:"column:attributes;type:jsonb"`
	// Address is the resolved street address, denormalized for filtering and geocoding
	Address string `gorm:"column:address;type:text"`
	// Latitude/Longitude are filled by the geocoding backfill
	Latitude  *float64 `gorm:"column:latitude"`
	Longitude *float64 `gorm:"column:longitude"`
	// MotivationScore is the 0-100 seller-motivation ranking
	MotivationScore *int `gorm:"column:motivation_score"`
	// Active marks membership in the latest upload; inactive rows stay queryable
	Active bool `gorm:"column:active;not null;default:true;index"`
	// FirstSeenAt is the upload timestamp that introduced this account
	FirstSeenAt time.Time `gorm:"column:first_seen_at;not null;type:timestamptz"`
	// LastSeenAt is the most recent upload timestamp containing this account
	LastSeenAt time.Time `gorm:"column:last_seen_at;not null;type:timestamptz"`
	// CreatedAt is the timestamp when this record was first persisted
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now()"`
	// UpdatedAt is the timestamp of the last write
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now()"`
}

// TableName specifies the table name for the Property model
func (Property) TableName() string {
	return "properties"
}
