package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxroll/lead-reconciler/internal/domain"
)

// stubClock pins Now for deterministic day math
type stubClock struct {
	now time.Time
}

func (c *stubClock) Now() time.Time                         { return c.now }
func (c *stubClock) Since(t time.Time) time.Duration       { return c.now.Sub(t) }
func (c *stubClock) Sleep(d time.Duration)                  {}
func (c *stubClock) After(d time.Duration) <-chan time.Time { return nil }

var (
	testNow      = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	testUploadT1 = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	testUploadT2 = time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)
)

func newTestEngine() *Engine {
	return NewEngine(Config{}, &stubClock{now: testNow})
}

func TestReconcile_NewPropertyEmitsEvent(t *testing.T) {
	engine := newTestEngine()

	rows := []domain.RawRow{
		{"Account Number": "ACC-1", "LEGALSTATUS": "ACTIVE", "Owner": "Smith"},
	}

	result := engine.Reconcile(rows, nil, testUploadT1)

	require.Len(t, result.Properties, 1)
	p := result.Properties[0]
	assert.Equal(t, "ACC-1", p.ID)
	assert.Equal(t, domain.StatusActive, p.CurrentStatus)
	assert.Equal(t, domain.StatusNone, p.PreviousStatus)
	assert.Equal(t, testUploadT1, p.StatusChangeDate)
	assert.Equal(t, "Smith", p.Attributes["Owner"])
	require.Len(t, p.StatusHistory, 1)
	assert.Equal(t, domain.StatusActive, p.StatusHistory[0].Status)

	require.Len(t, result.StatusChanges, 1)
	ev := result.StatusChanges[0]
	assert.Equal(t, "ACC-1", ev.PropertyID)
	assert.Equal(t, domain.StatusNone, ev.OldStatus)
	assert.Equal(t, domain.StatusActive, ev.NewStatus)
	require.NotNil(t, ev.Property)
	assert.Equal(t, domain.StatusActive, ev.Property.CurrentStatus)
}

func TestReconcile_NewPropertyWithoutStatusEmitsNoEvent(t *testing.T) {
	engine := newTestEngine()

	rows := []domain.RawRow{
		{"Account Number": "ACC-1", "Owner": "Smith"},
	}

	result := engine.Reconcile(rows, nil, testUploadT1)

	require.Len(t, result.Properties, 1)
	assert.Equal(t, domain.StatusNone, result.Properties[0].CurrentStatus)
	assert.Empty(t, result.Properties[0].StatusHistory)
	assert.Empty(t, result.StatusChanges)
}

func TestReconcile_StatusTransition(t *testing.T) {
	engine := newTestEngine()

	existing := []domain.Property{
		{
			ID:               "ACC-1",
			CurrentStatus:    domain.StatusActive,
			StatusChangeDate: testUploadT1,
			StatusHistory: []domain.StatusHistoryEntry{
				{Status: domain.StatusActive, StatusDate: testUploadT1},
			},
			Attributes:  map[string]any{"Account Number": "ACC-1", "Owner": "Smith"},
			FirstSeenAt: testUploadT1,
			LastSeenAt:  testUploadT1,
		},
	}

	rows := []domain.RawRow{
		{"Account Number": "ACC-1", "LEGALSTATUS": "JUDGMENT"},
	}

	result := engine.Reconcile(rows, existing, testUploadT2)

	require.Len(t, result.Properties, 1)
	p := result.Properties[0]
	assert.Equal(t, domain.StatusJudgment, p.CurrentStatus)
	assert.Equal(t, domain.StatusActive, p.PreviousStatus)
	assert.Equal(t, testUploadT2, p.StatusChangeDate)
	assert.Equal(t, domain.WholeDays(testUploadT2, testNow), p.DaysSinceStatusChange)
	require.Len(t, p.StatusHistory, 2)
	assert.Equal(t, domain.StatusJudgment, p.StatusHistory[1].Status)
	assert.Equal(t, domain.StatusActive, p.StatusHistory[1].PreviousStatus)
	// owner persists from the earlier upload
	assert.Equal(t, "Smith", p.Attributes["Owner"])

	require.Len(t, result.StatusChanges, 1)
	assert.Equal(t, domain.StatusActive, result.StatusChanges[0].OldStatus)
	assert.Equal(t, domain.StatusJudgment, result.StatusChanges[0].NewStatus)
}

func TestReconcile_SameStatusKeepsHistoryAndRefreshesDays(t *testing.T) {
	engine := newTestEngine()

	existing := []domain.Property{
		{
			ID:                    "ACC-1",
			CurrentStatus:         domain.StatusActive,
			StatusChangeDate:      testUploadT1,
			DaysSinceStatusChange: 0,
			StatusHistory: []domain.StatusHistoryEntry{
				{Status: domain.StatusActive, StatusDate: testUploadT1},
			},
			Attributes:  map[string]any{"Account Number": "ACC-1"},
			FirstSeenAt: testUploadT1,
			LastSeenAt:  testUploadT1,
		},
	}

	rows := []domain.RawRow{
		{"Account Number": "ACC-1", "LEGALSTATUS": "ACTIVE"},
	}

	result := engine.Reconcile(rows, existing, testUploadT2)

	require.Len(t, result.Properties, 1)
	p := result.Properties[0]
	assert.Empty(t, result.StatusChanges)
	require.Len(t, p.StatusHistory, 1)
	// anchored to the original change date, not this upload
	assert.Equal(t, testUploadT1, p.StatusChangeDate)
	assert.Equal(t, domain.WholeDays(testUploadT1, testNow), p.DaysSinceStatusChange)
	assert.Equal(t, testUploadT2, p.LastSeenAt)
}

func TestReconcile_Idempotent(t *testing.T) {
	engine := newTestEngine()

	rows := []domain.RawRow{
		{"Account Number": "ACC-1", "LEGALSTATUS": "JUDGMENT"},
		{"Account Number": "ACC-2", "LEGALSTATUS": "PENDING"},
	}

	first := engine.Reconcile(rows, nil, testUploadT1)
	require.Len(t, first.StatusChanges, 2)

	// simulate a failed save: same rows replayed against the merged result
	second := engine.Reconcile(rows, first.Properties, testUploadT1)

	assert.Empty(t, second.StatusChanges)
	require.Len(t, second.Properties, 2)
	for i := range second.Properties {
		assert.Equal(t, first.Properties[i].StatusHistory, second.Properties[i].StatusHistory)
		assert.Equal(t, first.Properties[i].CurrentStatus, second.Properties[i].CurrentStatus)
		assert.Equal(t, first.Properties[i].StatusChangeDate, second.Properties[i].StatusChangeDate)
	}
}

func TestReconcile_PassthroughColumnsOverwrite(t *testing.T) {
	engine := newTestEngine()

	existing := []domain.Property{
		{
			ID:            "ACC-1",
			CurrentStatus: domain.StatusActive,
			Attributes: map[string]any{
				"Account Number": "ACC-1",
				"Owner":          "Smith",
				"Amount Due":     "1200",
			},
			StatusChangeDate: testUploadT1,
			FirstSeenAt:      testUploadT1,
			LastSeenAt:       testUploadT1,
		},
	}

	// second upload has no status column at all
	rows := []domain.RawRow{
		{"Account Number": "ACC-1", "Owner": "Jones"},
	}

	result := engine.Reconcile(rows, existing, testUploadT2)

	require.Len(t, result.Properties, 1)
	p := result.Properties[0]
	assert.Equal(t, "Jones", p.Attributes["Owner"])
	// columns absent from the new row survive
	assert.Equal(t, "1200", p.Attributes["Amount Due"])
	// no derivable status reads as a transition to none
	assert.Equal(t, domain.StatusNone, p.CurrentStatus)
	assert.Equal(t, domain.StatusActive, p.PreviousStatus)
}

func TestReconcile_SkipsRowsWithoutIdentity(t *testing.T) {
	engine := newTestEngine()

	rows := []domain.RawRow{
		{"Owner": "Smith", "LEGALSTATUS": "ACTIVE"},
		{"Account Number": "   ", "LEGALSTATUS": "ACTIVE"},
		{"Account Number": "ACC-1", "LEGALSTATUS": "ACTIVE"},
	}

	result := engine.Reconcile(rows, nil, testUploadT1)

	assert.Equal(t, 2, result.SkippedRows)
	require.Len(t, result.Properties, 1)
	assert.Equal(t, "ACC-1", result.Properties[0].ID)
}

func TestReconcile_DuplicateRowsFoldIntoOneRecord(t *testing.T) {
	engine := newTestEngine()

	rows := []domain.RawRow{
		{"Account Number": "ACC-1", "LEGALSTATUS": "PENDING"},
		{"Account Number": "ACC-1", "LEGALSTATUS": "ACTIVE", "Owner": "Smith"},
	}

	result := engine.Reconcile(rows, nil, testUploadT1)

	require.Len(t, result.Properties, 1)
	p := result.Properties[0]
	assert.Equal(t, domain.StatusActive, p.CurrentStatus)
	assert.Equal(t, "Smith", p.Attributes["Owner"])
	require.Len(t, p.StatusHistory, 2)
	// one event for the create, one for the in-file transition
	require.Len(t, result.StatusChanges, 2)
	assert.Equal(t, domain.StatusPending, result.StatusChanges[1].OldStatus)
	assert.Equal(t, domain.StatusActive, result.StatusChanges[1].NewStatus)
}

func TestReconcile_ActiveSetExcludesDisappeared(t *testing.T) {
	engine := newTestEngine()

	existing := []domain.Property{
		{ID: "ACC-1", CurrentStatus: domain.StatusJudgment, Attributes: map[string]any{"Account Number": "ACC-1"}},
		{ID: "ACC-2", CurrentStatus: domain.StatusActive, Attributes: map[string]any{"Account Number": "ACC-2"}},
	}

	rows := []domain.RawRow{
		{"Account Number": "ACC-2", "LEGALSTATUS": "ACTIVE"},
	}

	result := engine.Reconcile(rows, existing, testUploadT2)

	require.Len(t, result.Properties, 1)
	assert.Equal(t, "ACC-2", result.Properties[0].ID)
	assert.Empty(t, result.StatusChanges)
}

func TestReconcile_DoesNotMutateInputs(t *testing.T) {
	engine := newTestEngine()

	existing := []domain.Property{
		{
			ID:            "ACC-1",
			CurrentStatus: domain.StatusActive,
			StatusHistory: []domain.StatusHistoryEntry{
				{Status: domain.StatusActive, StatusDate: testUploadT1},
			},
			Attributes:       map[string]any{"Account Number": "ACC-1", "Owner": "Smith"},
			StatusChangeDate: testUploadT1,
		},
	}

	rows := []domain.RawRow{
		{"Account Number": "ACC-1", "LEGALSTATUS": "JUDGMENT", "Owner": "Jones"},
	}

	_ = engine.Reconcile(rows, existing, testUploadT2)

	assert.Equal(t, domain.StatusActive, existing[0].CurrentStatus)
	assert.Len(t, existing[0].StatusHistory, 1)
	assert.Equal(t, "Smith", existing[0].Attributes["Owner"])
}

func TestReconcile_ParallelResolutionMatchesSequential(t *testing.T) {
	rows := make([]domain.RawRow, 200)
	for i := range rows {
		rows[i] = domain.RawRow{
			"Account Number": "ACC-" + string(rune('A'+i%26)) + "-" + time.Duration(i).String(),
			"LEGALSTATUS":    []string{"ACTIVE", "JUDGMENT", "PENDING"}[i%3],
		}
	}

	clock := &stubClock{now: testNow}
	sequential := NewEngine(Config{ParallelThreshold: 10_000}, clock).Reconcile(rows, nil, testUploadT1)
	parallel := NewEngine(Config{Workers: 4, ParallelThreshold: 1}, clock).Reconcile(rows, nil, testUploadT1)

	assert.Equal(t, sequential.Properties, parallel.Properties)
	assert.Equal(t, sequential.SkippedRows, parallel.SkippedRows)
	assert.Len(t, parallel.StatusChanges, len(sequential.StatusChanges))
}
