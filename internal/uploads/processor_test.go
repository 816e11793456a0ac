package uploads

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxroll/lead-reconciler/internal/domain"
	"github.com/taxroll/lead-reconciler/internal/ingest"
	"github.com/taxroll/lead-reconciler/internal/reconcile"
	"github.com/taxroll/lead-reconciler/internal/score"
	"github.com/taxroll/lead-reconciler/internal/store"
)

type stubClock struct {
	now time.Time
}

func (c *stubClock) Now() time.Time                         { return c.now }
func (c *stubClock) Since(t time.Time) time.Duration       { return c.now.Sub(t) }
func (c *stubClock) Sleep(d time.Duration)                  {}
func (c *stubClock) After(d time.Duration) <-chan time.Time { return nil }

// memStore is an in-memory store.Store for orchestration tests
type memStore struct {
	store.Store

	version    int64
	properties []domain.Property
	saves      []store.SaveSnapshotInput

	// staleFor forces the next n saves to fail with ErrStaleSnapshot
	// after bumping the version, simulating a concurrent winner
	staleFor int
}

func (m *memStore) LoadSnapshot(ctx context.Context) (*store.Snapshot, error) {
	props := make([]domain.Property, len(m.properties))
	for i := range m.properties {
		props[i] = m.properties[i].Clone()
	}
	return &store.Snapshot{Version: m.version, Properties: props}, nil
}

func (m *memStore) SaveSnapshot(ctx context.Context, input store.SaveSnapshotInput) (int64, error) {
	if m.staleFor > 0 {
		m.staleFor--
		m.version++
		return 0, fmt.Errorf("%w: concurrent save", domain.ErrStaleSnapshot)
	}
	if input.BaseVersion != m.version {
		return 0, fmt.Errorf("%w: base %d, current %d", domain.ErrStaleSnapshot, input.BaseVersion, m.version)
	}
	m.version++
	m.properties = input.Properties
	m.saves = append(m.saves, input)
	return m.version, nil
}

type capturingPublisher struct {
	published []domain.StatusChangeEvent
	err       error
}

func (p *capturingPublisher) PublishStatusChange(ctx context.Context, event *domain.StatusChangeEvent) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, *event)
	return nil
}

func (p *capturingPublisher) Close() {}

var processorNow = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func newTestProcessor(s store.Store, publisher *capturingPublisher) *Processor {
	clock := &stubClock{now: processorNow}
	p := NewProcessor(
		s,
		ingest.NewParser(),
		reconcile.NewEngine(reconcile.Config{}, clock),
		reconcile.NewReportBuilder(""),
		score.NewScorer(),
		nil,
		clock,
	)
	if publisher != nil {
		p.publisher = publisher
	}
	return p
}

func TestProcess(t *testing.T) {
	s := &memStore{}
	publisher := &capturingPublisher{}
	processor := newTestProcessor(s, publisher)

	csv := []byte("Account Number,LEGALSTATUS,Address\nACC-1,ACTIVE,12 Oak St\nACC-2,JUDGMENT,9 Elm St\n")

	output, err := processor.Process(context.Background(), Input{
		FileName: "leads.csv",
		Data:     csv,
	})

	require.NoError(t, err)
	assert.NotEmpty(t, output.RunID)
	assert.Equal(t, int64(1), output.Version)
	assert.Equal(t, 2, output.RowCount)
	assert.Equal(t, 0, output.SkippedRows)
	assert.Equal(t, 2, output.Report.Summary.NewCount)

	require.Len(t, s.saves, 1)
	saved := s.saves[0]
	assert.Equal(t, output.RunID, saved.Run.ID)
	assert.Equal(t, "leads.csv", saved.Run.FileName)
	require.Len(t, saved.Properties, 2)
	for i := range saved.Properties {
		require.NotNil(t, saved.Properties[i].MotivationScore)
	}
	require.NotNil(t, saved.Report)

	// both first sightings hit the broker
	assert.Len(t, publisher.published, 2)
}

func TestProcessStaleSnapshotRetries(t *testing.T) {
	s := &memStore{staleFor: 1}
	processor := newTestProcessor(s, nil)

	csv := []byte("Account Number,LEGALSTATUS\nACC-1,ACTIVE\n")

	output, err := processor.Process(context.Background(), Input{Data: csv})

	require.NoError(t, err)
	// the forced conflict bumped the version once before our save
	assert.Equal(t, int64(2), output.Version)
	require.Len(t, s.saves, 1)
	assert.Equal(t, int64(1), s.saves[0].BaseVersion)
}

func TestProcessPersistentConflictSurfaces(t *testing.T) {
	s := &memStore{staleFor: maxSaveAttempts}
	processor := newTestProcessor(s, nil)

	csv := []byte("Account Number,LEGALSTATUS\nACC-1,ACTIVE\n")

	_, err := processor.Process(context.Background(), Input{Data: csv})

	assert.ErrorIs(t, err, domain.ErrStaleSnapshot)
	assert.Empty(t, s.saves)
}

func TestProcessParseErrorFailsEarly(t *testing.T) {
	s := &memStore{}
	processor := newTestProcessor(s, nil)

	_, err := processor.Process(context.Background(), Input{Data: []byte("Account Number\n")})

	assert.ErrorIs(t, err, domain.ErrNoRows)
	assert.Empty(t, s.saves)
}

func TestProcessPublishFailureDoesNotFailUpload(t *testing.T) {
	s := &memStore{}
	publisher := &capturingPublisher{err: fmt.Errorf("broker down")}
	processor := newTestProcessor(s, publisher)

	csv := []byte("Account Number,LEGALSTATUS\nACC-1,JUDGMENT\n")

	output, err := processor.Process(context.Background(), Input{Data: csv})

	require.NoError(t, err)
	assert.Equal(t, 1, output.Report.Summary.NewCount)
}

func TestProcessSecondUploadDetectsTransition(t *testing.T) {
	s := &memStore{}
	processor := newTestProcessor(s, nil)
	ctx := context.Background()

	_, err := processor.Process(ctx, Input{
		Data:       []byte("Account Number,LEGALSTATUS\nACC-1,ACTIVE\n"),
		UploadedAt: processorNow.AddDate(0, 0, -14),
	})
	require.NoError(t, err)

	output, err := processor.Process(ctx, Input{
		Data:       []byte("Account Number,LEGALSTATUS\nACC-1,JUDGMENT\n"),
		UploadedAt: processorNow,
	})
	require.NoError(t, err)

	require.Len(t, output.Report.StatusChanges, 1)
	change := output.Report.StatusChanges[0]
	assert.Equal(t, domain.StatusActive, change.OldStatus)
	assert.Equal(t, domain.StatusJudgment, change.NewStatus)
	assert.Equal(t, int64(2), output.Version)
}
