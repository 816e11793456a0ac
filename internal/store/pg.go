package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/taxroll/lead-reconciler/internal/domain"
	"github.com/taxroll/lead-reconciler/internal/reconcile"
	"github.com/taxroll/lead-reconciler/internal/store/schema"
)

// snapshotVersionKey is the key_value_store row holding the optimistic
// concurrency token
const snapshotVersionKey = "snapshot_version"

type pgStore struct {
	db *gorm.DB
}

// NewPGStore creates a new PostgreSQL store instance
func NewPGStore(db *gorm.DB) Store {
	return &pgStore{db: db}
}

// AutoMigrate creates or updates the database schema
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&schema.Property{},
		&schema.StatusEvent{},
		&schema.UploadRun{},
		&schema.Report{},
		&schema.KeyValueStore{},
	)
}

// ConfigureConnectionPool configures the connection pool settings for a GORM
// database connection. Zero values fall back to defaults: 20 open, 5 idle,
// 5 minute lifetime, 10 minute idle time.
func ConfigureConnectionPool(db *gorm.DB, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if maxOpenConns == 0 {
		maxOpenConns = 20
	}
	if maxIdleConns == 0 {
		maxIdleConns = 5
	}
	if connMaxLifetime == 0 {
		connMaxLifetime = 5 * time.Minute
	}
	if connMaxIdleTime == 0 {
		connMaxIdleTime = 10 * time.Minute
	}
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	return nil
}

// LoadSnapshot retrieves the active property set and its version
func (s *pgStore) LoadSnapshot(ctx context.Context) (*Snapshot, error) {
	version, err := s.currentVersion(s.db.WithContext(ctx), false)
	if err != nil {
		return nil, err
	}

	var records []schema.Property
	if err := s.db.WithContext(ctx).
		Where("active = ?", true).
		Order("account_id ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	properties := make([]domain.Property, 0, len(records))
	for i := range records {
		p, err := toDomainProperty(&records[i])
		if err != nil {
			return nil, err
		}
		properties = append(properties, *p)
	}

	return &Snapshot{Version: version, Properties: properties}, nil
}

// SaveSnapshot atomically replaces the active set, appends the journal and
// records the run and report. The version row is locked for the duration of
// the transaction, so concurrent uploads serialize and the loser fails with
// domain.ErrStaleSnapshot instead of overwriting history.
func (s *pgStore) SaveSnapshot(ctx context.Context, input SaveSnapshotInput) (int64, error) {
	var newVersion int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.currentVersion(tx, true)
		if err != nil {
			return err
		}
		if current != input.BaseVersion {
			return fmt.Errorf("%w: base %d, current %d", domain.ErrStaleSnapshot, input.BaseVersion, current)
		}
		newVersion = current + 1

		now := time.Now()
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).Create(&schema.KeyValueStore{
			Key:       snapshotVersionKey,
			Value:     strconv.FormatInt(newVersion, 10),
			UpdatedAt: now,
		}).Error; err != nil {
			return fmt.Errorf("failed to bump snapshot version: %w", err)
		}

		// everything drops out of the active set first; the upsert below
		// re-activates whatever the latest upload contains
		if err := tx.Model(&schema.Property{}).
			Where("active = ?", true).
			Updates(map[string]any{"active": false, "updated_at": now}).Error; err != nil {
			return fmt.Errorf("failed to deactivate previous snapshot: %w", err)
		}

		records := make([]schema.Property, 0, len(input.Properties))
		for i := range input.Properties {
			record, err := toSchemaProperty(&input.Properties[i], now)
			if err != nil {
				return err
			}
			records = append(records, *record)
		}
		if len(records) > 0 {
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "account_id"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"current_status", "previous_status", "status_change_date",
					"status_history", "attributes", "address",
					"motivation_score", "active", "last_seen_at", "updated_at",
				}),
			}).CreateInBatches(records, 500).Error; err != nil {
				return fmt.Errorf("failed to upsert properties: %w", err)
			}
		}

		events := make([]schema.StatusEvent, 0, len(input.Events))
		for i := range input.Events {
			record, err := toSchemaEvent(&input.Events[i], input.Run.ID)
			if err != nil {
				return err
			}
			events = append(events, *record)
		}
		if len(events) > 0 {
			if err := tx.CreateInBatches(events, 500).Error; err != nil {
				return fmt.Errorf("failed to journal status events: %w", err)
			}
		}

		if err := tx.Create(&schema.UploadRun{
			ID:           input.Run.ID,
			FileName:     input.Run.FileName,
			UploadedAt:   input.Run.UploadedAt,
			RowCount:     input.Run.RowCount,
			SkippedRows:  input.Run.SkippedRows,
			NewCount:     input.Run.NewCount,
			RemovedCount: input.Run.RemovedCount,
			ChangedCount: input.Run.ChangedCount,
			BaseVersion:  input.BaseVersion,
			NewVersion:   newVersion,
		}).Error; err != nil {
			return fmt.Errorf("failed to record upload run: %w", err)
		}

		if input.Report != nil {
			payload, err := json.Marshal(input.Report)
			if err != nil {
				return fmt.Errorf("failed to marshal report: %w", err)
			}
			if err := tx.Create(&schema.Report{
				UploadRunID: input.Run.ID,
				UploadedAt:  input.Report.UploadedAt,
				Payload:     payload,
			}).Error; err != nil {
				return fmt.Errorf("failed to save report: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return newVersion, nil
}

// GetProperty retrieves one property by tax-account identifier
func (s *pgStore) GetProperty(ctx context.Context, accountID string) (*domain.Property, error) {
	var record schema.Property
	err := s.db.WithContext(ctx).Where("account_id = ?", accountID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPropertyNotFound
		}
		return nil, fmt.Errorf("failed to get property: %w", err)
	}
	return toDomainProperty(&record)
}

// ListProperties retrieves properties matching the filter plus the match count
func (s *pgStore) ListProperties(ctx context.Context, filter PropertyFilter) ([]domain.Property, int64, error) {
	query := s.db.WithContext(ctx).Model(&schema.Property{})
	if filter.Status != nil {
		query = query.Where("current_status = ?", string(*filter.Status))
	}
	if filter.Active != nil {
		query = query.Where("active = ?", *filter.Active)
	}
	if filter.MinScore != nil {
		query = query.Where("motivation_score >= ?", *filter.MinScore)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count properties: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var records []schema.Property
	if err := query.
		Order("account_id ASC").
		Offset(filter.Offset).
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list properties: %w", err)
	}

	properties := make([]domain.Property, 0, len(records))
	for i := range records {
		p, err := toDomainProperty(&records[i])
		if err != nil {
			return nil, 0, err
		}
		properties = append(properties, *p)
	}

	return properties, total, nil
}

// GetStatusEvents pages the transition journal forward from the anchor cursor
func (s *pgStore) GetStatusEvents(ctx context.Context, anchor int64, limit int) ([]StatusEventRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	var records []schema.StatusEvent
	if err := s.db.WithContext(ctx).
		Where(`"cursor" > ?`, anchor).
		Order(`"cursor" ASC`).
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to get status events: %w", err)
	}

	out := make([]StatusEventRecord, 0, len(records))
	for i := range records {
		event, err := toDomainEvent(&records[i])
		if err != nil {
			return nil, err
		}
		out = append(out, StatusEventRecord{Cursor: records[i].Cursor, Event: *event})
	}

	return out, nil
}

// GetLatestReport retrieves the comparison report of the most recent upload
func (s *pgStore) GetLatestReport(ctx context.Context) (*reconcile.Report, error) {
	var record schema.Report
	err := s.db.WithContext(ctx).
		Order("uploaded_at DESC, id DESC").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to get latest report: %w", err)
	}

	var report reconcile.Report
	if err := json.Unmarshal(record.Payload, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return &report, nil
}

// ListPropertiesMissingLocation retrieves active properties awaiting geocoding
func (s *pgStore) ListPropertiesMissingLocation(ctx context.Context, limit int) ([]domain.Property, error) {
	if limit <= 0 {
		limit = 100
	}

	var records []schema.Property
	if err := s.db.WithContext(ctx).
		Where("active = ? AND address <> '' AND latitude IS NULL", true).
		Order("account_id ASC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list ungeocoded properties: %w", err)
	}

	properties := make([]domain.Property, 0, len(records))
	for i := range records {
		p, err := toDomainProperty(&records[i])
		if err != nil {
			return nil, err
		}
		properties = append(properties, *p)
	}
	return properties, nil
}

// SetPropertyLocation stores geocoded coordinates for a property
func (s *pgStore) SetPropertyLocation(ctx context.Context, accountID string, lat, lng float64) error {
	result := s.db.WithContext(ctx).
		Model(&schema.Property{}).
		Where("account_id = ?", accountID).
		Updates(map[string]any{"latitude": lat, "longitude": lng, "updated_at": time.Now()})
	if result.Error != nil {
		return fmt.Errorf("failed to set property location: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrPropertyNotFound
	}
	return nil
}

// SetMotivationScore stores the computed motivation score for a property
func (s *pgStore) SetMotivationScore(ctx context.Context, accountID string, score int) error {
	result := s.db.WithContext(ctx).
		Model(&schema.Property{}).
		Where("account_id = ?", accountID).
		Updates(map[string]any{"motivation_score": score, "updated_at": time.Now()})
	if result.Error != nil {
		return fmt.Errorf("failed to set motivation score: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrPropertyNotFound
	}
	return nil
}

// DeactivateNotSeenSince retires active properties absent from every upload
// since the cutoff. SaveSnapshot already deactivates anything missing from the
// latest upload; this catches counties that stop uploading entirely.
func (s *pgStore) DeactivateNotSeenSince(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Model(&schema.Property{}).
		Where("active = ? AND last_seen_at < ?", true, cutoff).
		Updates(map[string]any{"active": false, "updated_at": time.Now()})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to deactivate stale properties: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// GetValue retrieves a coordination value ("" when unset)
func (s *pgStore) GetValue(ctx context.Context, key string) (string, error) {
	var record schema.KeyValueStore
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get value: %w", err)
	}
	return record.Value, nil
}

// SetValue stores a coordination value
func (s *pgStore) SetValue(ctx context.Context, key string, value string) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&schema.KeyValueStore{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now(),
	}).Error
	if err != nil {
		return fmt.Errorf("failed to set value: %w", err)
	}
	return nil
}

// currentVersion reads the snapshot version token, locking the row when
// forUpdate so concurrent savers serialize on it
func (s *pgStore) currentVersion(tx *gorm.DB, forUpdate bool) (int64, error) {
	query := tx
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var record schema.KeyValueStore
	err := query.Where("key = ?", snapshotVersionKey).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read snapshot version: %w", err)
	}

	version, err := strconv.ParseInt(record.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt snapshot version %q: %w", record.Value, err)
	}
	return version, nil
}

// toSchemaProperty converts a domain property into its table row
func toSchemaProperty(p *domain.Property, now time.Time) (*schema.Property, error) {
	history, err := json.Marshal(p.StatusHistory)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal status history: %w", err)
	}
	attrs, err := json.Marshal(p.Attributes)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attributes: %w", err)
	}

	return &schema.Property{
		AccountID:        p.ID,
		CurrentStatus:    string(p.CurrentStatus),
		PreviousStatus:   string(p.PreviousStatus),
		StatusChangeDate: p.StatusChangeDate,
		StatusHistory:    history,
		Attributes:       attrs,
		Address:          p.Address(),
		Latitude:         p.Latitude,
		Longitude:        p.Longitude,
		MotivationScore:  p.MotivationScore,
		Active:           true,
		FirstSeenAt:      p.FirstSeenAt,
		LastSeenAt:       p.LastSeenAt,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// toDomainProperty converts a table row back into a domain property
func toDomainProperty(record *schema.Property) (*domain.Property, error) {
	p := domain.Property{
		ID:               record.AccountID,
		CurrentStatus:    domain.Status(record.CurrentStatus),
		PreviousStatus:   domain.Status(record.PreviousStatus),
		StatusChangeDate: record.StatusChangeDate,
		Latitude:         record.Latitude,
		Longitude:        record.Longitude,
		MotivationScore:  record.MotivationScore,
		FirstSeenAt:      record.FirstSeenAt,
		LastSeenAt:       record.LastSeenAt,
	}

	if len(record.StatusHistory) > 0 {
		if err := json.Unmarshal(record.StatusHistory, &p.StatusHistory); err != nil {
			return nil, fmt.Errorf("failed to unmarshal status history: %w", err)
		}
	}
	if p.StatusHistory == nil {
		p.StatusHistory = []domain.StatusHistoryEntry{}
	}

	if len(record.Attributes) > 0 {
		if err := json.Unmarshal(record.Attributes, &p.Attributes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attributes: %w", err)
		}
	}
	if p.Attributes == nil {
		p.Attributes = map[string]any{}
	}

	p.DaysSinceStatusChange = p.DaysSince(time.Now())

	return &p, nil
}

// toSchemaEvent converts a change event into its journal row
func toSchemaEvent(e *domain.StatusChangeEvent, runID string) (*schema.StatusEvent, error) {
	var snapshot []byte
	if e.Property != nil {
		var err error
		snapshot, err = json.Marshal(e.Property)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal event snapshot: %w", err)
		}
	}

	return &schema.StatusEvent{
		AccountID:       e.PropertyID,
		OldStatus:       string(e.OldStatus),
		NewStatus:       string(e.NewStatus),
		DaysSinceChange: e.DaysSinceChange,
		ChangedAt:       e.ChangedAt,
		UploadRunID:     runID,
		Snapshot:        snapshot,
	}, nil
}

// toDomainEvent converts a journal row back into a change event
func toDomainEvent(record *schema.StatusEvent) (*domain.StatusChangeEvent, error) {
	event := domain.StatusChangeEvent{
		PropertyID:      record.AccountID,
		OldStatus:       domain.Status(record.OldStatus),
		NewStatus:       domain.Status(record.NewStatus),
		DaysSinceChange: record.DaysSinceChange,
		ChangedAt:       record.ChangedAt,
	}

	if len(record.Snapshot) > 0 {
		var p domain.Property
		if err := json.Unmarshal(record.Snapshot, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event snapshot: %w", err)
		}
		event.Property = &p
	}

	return &event, nil
}
