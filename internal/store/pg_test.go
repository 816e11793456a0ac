package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	pgdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/taxroll/lead-reconciler/internal/domain"
	"github.com/taxroll/lead-reconciler/internal/reconcile"
	"github.com/taxroll/lead-reconciler/internal/store/schema"
)

var (
	testDB      *gorm.DB
	pgContainer *postgres.PostgresContainer
)

// TestMain sets up the test database before running tests
func TestMain(m *testing.M) {
	ctx := context.Background()

	var dsn string
	var err error

	// Use an external database when configured (CI or local development)
	if dbHost := os.Getenv("TEST_DB_HOST"); dbHost != "" {
		dbPort := envOr("TEST_DB_PORT", "5432")
		dbUser := envOr("TEST_DB_USER", "postgres")
		dbPassword := envOr("TEST_DB_PASSWORD", "postgres")
		dbName := envOr("TEST_DB_NAME", "test_db")

		dsn = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			dbHost, dbPort, dbUser, dbPassword, dbName)
	} else {
		pgContainer, err = postgres.Run(ctx,
			"postgres:18-alpine",
			postgres.WithDatabase("test_db"),
			postgres.WithUsername("postgres"),
			postgres.WithPassword("postgres"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			fmt.Printf("Failed to start PostgreSQL container: %v\n", err)
			os.Exit(1)
		}

		dsn, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			fmt.Printf("Failed to get connection string: %v\n", err)
			terminateContainer(ctx)
			os.Exit(1)
		}
	}

	testDB, err = gorm.Open(pgdriver.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		fmt.Printf("Failed to connect to database: %v\n", err)
		terminateContainer(ctx)
		os.Exit(1)
	}

	if err := AutoMigrate(testDB); err != nil {
		fmt.Printf("Failed to migrate database: %v\n", err)
		terminateContainer(ctx)
		os.Exit(1)
	}

	code := m.Run()
	terminateContainer(ctx)
	os.Exit(code)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func terminateContainer(ctx context.Context) {
	if pgContainer == nil {
		return
	}
	if err := pgContainer.Terminate(ctx); err != nil {
		fmt.Printf("Failed to terminate PostgreSQL container: %v\n", err)
	}
}

// cleanDB truncates all tables before a test
func cleanDB(t *testing.T) Store {
	t.Helper()
	require.NoError(t, testDB.Exec(
		`TRUNCATE properties, status_events, upload_runs, reports, key_value_store RESTART IDENTITY`,
	).Error)
	return NewPGStore(testDB)
}

func testProperty(id string, status domain.Status) domain.Property {
	uploadedAt := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	return domain.Property{
		ID:               id,
		CurrentStatus:    status,
		StatusChangeDate: uploadedAt,
		StatusHistory: []domain.StatusHistoryEntry{
			{Status: status, StatusDate: uploadedAt},
		},
		Attributes: map[string]any{
			"Account Number": id,
			"Address":        "12 Oak St",
			"Owner":          "Smith",
		},
		FirstSeenAt: uploadedAt,
		LastSeenAt:  uploadedAt,
	}
}

func saveInput(baseVersion int64, runID string, properties ...domain.Property) SaveSnapshotInput {
	uploadedAt := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	return SaveSnapshotInput{
		BaseVersion: baseVersion,
		Properties:  properties,
		Run: UploadRunInput{
			ID:         runID,
			FileName:   "leads.csv",
			UploadedAt: uploadedAt,
			RowCount:   len(properties),
		},
	}
}

func TestSaveAndLoadSnapshot(t *testing.T) {
	s := cleanDB(t)
	ctx := context.Background()

	empty, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty.Version)
	assert.Empty(t, empty.Properties)

	version, err := s.SaveSnapshot(ctx, saveInput(0, "run-1",
		testProperty("ACC-1", domain.StatusActive),
		testProperty("ACC-2", domain.StatusJudgment),
	))
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	snapshot, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snapshot.Version)
	require.Len(t, snapshot.Properties, 2)
	assert.Equal(t, "ACC-1", snapshot.Properties[0].ID)
	assert.Equal(t, domain.StatusActive, snapshot.Properties[0].CurrentStatus)
	require.Len(t, snapshot.Properties[0].StatusHistory, 1)
	assert.Equal(t, "Smith", snapshot.Properties[0].Attributes["Owner"])
}

func TestSaveSnapshotStaleVersion(t *testing.T) {
	s := cleanDB(t)
	ctx := context.Background()

	_, err := s.SaveSnapshot(ctx, saveInput(0, "run-1", testProperty("ACC-1", domain.StatusActive)))
	require.NoError(t, err)

	// a second writer reconciled against version 0
	_, err = s.SaveSnapshot(ctx, saveInput(0, "run-2", testProperty("ACC-2", domain.StatusActive)))
	assert.ErrorIs(t, err, domain.ErrStaleSnapshot)

	// the losing write left nothing behind
	snapshot, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snapshot.Version)
	require.Len(t, snapshot.Properties, 1)
	assert.Equal(t, "ACC-1", snapshot.Properties[0].ID)

	var runCount int64
	require.NoError(t, testDB.Model(&schema.UploadRun{}).Count(&runCount).Error)
	assert.Equal(t, int64(1), runCount)
}

func TestSaveSnapshotDeactivatesDisappeared(t *testing.T) {
	s := cleanDB(t)
	ctx := context.Background()

	_, err := s.SaveSnapshot(ctx, saveInput(0, "run-1",
		testProperty("ACC-1", domain.StatusJudgment),
		testProperty("ACC-2", domain.StatusActive),
	))
	require.NoError(t, err)

	// ACC-1 dropped off the roll
	_, err = s.SaveSnapshot(ctx, saveInput(1, "run-2", testProperty("ACC-2", domain.StatusActive)))
	require.NoError(t, err)

	snapshot, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snapshot.Properties, 1)
	assert.Equal(t, "ACC-2", snapshot.Properties[0].ID)

	// the inactive record stays queryable
	p, err := s.GetProperty(ctx, "ACC-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusJudgment, p.CurrentStatus)
}

func TestSaveSnapshotJournalsEvents(t *testing.T) {
	s := cleanDB(t)
	ctx := context.Background()

	p := testProperty("ACC-1", domain.StatusJudgment)
	input := saveInput(0, "run-1", p)
	input.Events = []domain.StatusChangeEvent{
		{
			PropertyID: "ACC-1",
			OldStatus:  domain.StatusActive,
			NewStatus:  domain.StatusJudgment,
			ChangedAt:  input.Run.UploadedAt,
			Property:   &p,
		},
	}

	_, err := s.SaveSnapshot(ctx, input)
	require.NoError(t, err)

	events, err := s.GetStatusEvents(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(1), events[0].Cursor)
	assert.Equal(t, "ACC-1", events[0].Event.PropertyID)
	assert.Equal(t, domain.StatusActive, events[0].Event.OldStatus)
	assert.Equal(t, domain.StatusJudgment, events[0].Event.NewStatus)
	require.NotNil(t, events[0].Event.Property)
	assert.Equal(t, domain.StatusJudgment, events[0].Event.Property.CurrentStatus)

	// anchor past the only event
	rest, err := s.GetStatusEvents(ctx, events[0].Cursor, 10)
	require.NoError(t, err)
	assert.Empty(t, rest)
}

func TestSaveSnapshotPersistsReport(t *testing.T) {
	s := cleanDB(t)
	ctx := context.Background()

	input := saveInput(0, "run-1", testProperty("ACC-1", domain.StatusActive))
	input.Report = &reconcile.Report{
		UploadedAt: input.Run.UploadedAt,
		Summary:    reconcile.Summary{TotalCurrent: 1, NewCount: 1},
	}

	_, err := s.SaveSnapshot(ctx, input)
	require.NoError(t, err)

	report, err := s.GetLatestReport(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Summary.NewCount)
	assert.True(t, report.UploadedAt.Equal(input.Run.UploadedAt))
}

func TestGetLatestReportEmpty(t *testing.T) {
	s := cleanDB(t)

	_, err := s.GetLatestReport(context.Background())
	assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)
}

func TestGetPropertyNotFound(t *testing.T) {
	s := cleanDB(t)

	_, err := s.GetProperty(context.Background(), "NOPE")
	assert.ErrorIs(t, err, domain.ErrPropertyNotFound)
}

func TestListPropertiesFilters(t *testing.T) {
	s := cleanDB(t)
	ctx := context.Background()

	_, err := s.SaveSnapshot(ctx, saveInput(0, "run-1",
		testProperty("ACC-1", domain.StatusJudgment),
		testProperty("ACC-2", domain.StatusActive),
		testProperty("ACC-3", domain.StatusJudgment),
	))
	require.NoError(t, err)

	status := domain.StatusJudgment
	properties, total, err := s.ListProperties(ctx, PropertyFilter{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, properties, 2)

	properties, total, err = s.ListProperties(ctx, PropertyFilter{Status: &status, Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, properties, 1)
	assert.Equal(t, "ACC-3", properties[0].ID)
}

func TestLocationAndScoreBackfill(t *testing.T) {
	s := cleanDB(t)
	ctx := context.Background()

	_, err := s.SaveSnapshot(ctx, saveInput(0, "run-1", testProperty("ACC-1", domain.StatusActive)))
	require.NoError(t, err)

	pending, err := s.ListPropertiesMissingLocation(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "ACC-1", pending[0].ID)

	require.NoError(t, s.SetPropertyLocation(ctx, "ACC-1", 29.76, -95.36))
	require.NoError(t, s.SetMotivationScore(ctx, "ACC-1", 80))

	pending, err = s.ListPropertiesMissingLocation(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	p, err := s.GetProperty(ctx, "ACC-1")
	require.NoError(t, err)
	require.NotNil(t, p.Latitude)
	assert.Equal(t, 29.76, *p.Latitude)
	require.NotNil(t, p.MotivationScore)
	assert.Equal(t, 80, *p.MotivationScore)

	// a re-upload must not wipe backfilled coordinates; the score rides
	// along with the merged property
	reupload := testProperty("ACC-1", domain.StatusActive)
	newScore := 85
	reupload.MotivationScore = &newScore
	_, err = s.SaveSnapshot(ctx, saveInput(1, "run-2", reupload))
	require.NoError(t, err)

	p, err = s.GetProperty(ctx, "ACC-1")
	require.NoError(t, err)
	require.NotNil(t, p.Latitude)
	assert.Equal(t, 29.76, *p.Latitude)
	require.NotNil(t, p.MotivationScore)
	assert.Equal(t, 85, *p.MotivationScore)

	assert.ErrorIs(t, s.SetPropertyLocation(ctx, "NOPE", 0, 0), domain.ErrPropertyNotFound)
	assert.ErrorIs(t, s.SetMotivationScore(ctx, "NOPE", 0), domain.ErrPropertyNotFound)
}

func TestDeactivateNotSeenSince(t *testing.T) {
	s := cleanDB(t)
	ctx := context.Background()

	old := testProperty("ACC-1", domain.StatusActive)
	old.LastSeenAt = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	fresh := testProperty("ACC-2", domain.StatusActive)

	_, err := s.SaveSnapshot(ctx, saveInput(0, "run-1", old, fresh))
	require.NoError(t, err)

	count, err := s.DeactivateNotSeenSince(ctx, time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	snapshot, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snapshot.Properties, 1)
	assert.Equal(t, "ACC-2", snapshot.Properties[0].ID)
}

func TestKeyValueHelpers(t *testing.T) {
	s := cleanDB(t)
	ctx := context.Background()

	value, err := s.GetValue(ctx, "sweeper:last_run")
	require.NoError(t, err)
	assert.Equal(t, "", value)

	require.NoError(t, s.SetValue(ctx, "sweeper:last_run", "2026-08-30"))
	require.NoError(t, s.SetValue(ctx, "sweeper:last_run", "2026-08-31"))

	value, err = s.GetValue(ctx, "sweeper:last_run")
	require.NoError(t, err)
	assert.Equal(t, "2026-08-31", value)
}
