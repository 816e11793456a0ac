package schema

import (
	"time"
)

// KeyValueStore represents the key_value_store table - small coordination
// values such as the snapshot version token
type KeyValueStore struct {
	// Key is the unique identifier
	Key string `gorm:"column:key;primaryKey;type:text"`
	// Value is the stored string value
	Value string `gorm:"column:value;not null;type:text"`
	// UpdatedAt is the timestamp of the last write
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now()"`
}

// TableName specifies the table name for the KeyValueStore model
func (KeyValueStore) TableName() string {
	return "key_value_store"
}
