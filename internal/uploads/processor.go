package uploads

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taxroll/lead-reconciler/internal/adapter"
	"github.com/taxroll/lead-reconciler/internal/domain"
	"github.com/taxroll/lead-reconciler/internal/ingest"
	"github.com/taxroll/lead-reconciler/internal/logger"
	"github.com/taxroll/lead-reconciler/internal/messaging"
	"github.com/taxroll/lead-reconciler/internal/reconcile"
	"github.com/taxroll/lead-reconciler/internal/score"
	"github.com/taxroll/lead-reconciler/internal/store"
)

// maxSaveAttempts bounds the stale-snapshot retry loop: load fresh, retry
// once, then give up and surface the conflict
const maxSaveAttempts = 2

// Processor runs the read-modify-write cycle of one spreadsheet upload:
// load snapshot, parse, reconcile, report, save atomically, publish.
type Processor struct {
	store     store.Store
	parser    *ingest.Parser
	engine    *reconcile.Engine
	reports   *reconcile.ReportBuilder
	scorer    *score.Scorer
	publisher messaging.Publisher
	clock     adapter.Clock
}

// NewProcessor creates an upload processor. publisher may be nil; the journal
// in postgres stays authoritative either way.
func NewProcessor(
	s store.Store,
	parser *ingest.Parser,
	engine *reconcile.Engine,
	reports *reconcile.ReportBuilder,
	scorer *score.Scorer,
	publisher messaging.Publisher,
	clock adapter.Clock,
) *Processor {
	return &Processor{
		store:     s,
		parser:    parser,
		engine:    engine,
		reports:   reports,
		scorer:    scorer,
		publisher: publisher,
		clock:     clock,
	}
}

// Input is one uploaded spreadsheet
type Input struct {
	FileName string
	Data     []byte
	// UploadedAt is the effective timestamp; zero means now
	UploadedAt time.Time
}

// Output summarizes a processed upload
type Output struct {
	RunID       string           `json:"run_id"`
	Version     int64            `json:"version"`
	RowCount    int              `json:"row_count"`
	SkippedRows int              `json:"skipped_rows"`
	Report      reconcile.Report `json:"report"`
}

// Process ingests one upload end to end. A concurrent upload that bumps the
// snapshot version mid-flight triggers one full reload-and-reconcile retry;
// a second conflict is returned as domain.ErrStaleSnapshot.
func (p *Processor) Process(ctx context.Context, input Input) (*Output, error) {
	rows, err := p.parser.Parse(input.Data)
	if err != nil {
		return nil, err
	}

	uploadedAt := input.UploadedAt
	if uploadedAt.IsZero() {
		uploadedAt = p.clock.Now()
	}

	runID := uuid.NewString()
	logger.InfoCtx(ctx, "Processing upload",
		zap.String("run_id", runID),
		zap.String("file", input.FileName),
		zap.Int("rows", len(rows)))

	var (
		output  *Output
		lastErr error
	)
	for attempt := 1; attempt <= maxSaveAttempts; attempt++ {
		output, lastErr = p.runOnce(ctx, runID, input.FileName, rows, uploadedAt)
		if lastErr == nil {
			break
		}
		if !errors.Is(lastErr, domain.ErrStaleSnapshot) {
			return nil, lastErr
		}
		logger.WarnCtx(ctx, "Snapshot changed mid-upload, retrying",
			zap.String("run_id", runID),
			zap.Int("attempt", attempt))
	}
	if lastErr != nil {
		return nil, lastErr
	}

	p.publishChanges(ctx, output.Report.StatusChanges)

	logger.InfoCtx(ctx, "Upload processed",
		zap.String("run_id", runID),
		zap.Int64("version", output.Version),
		zap.Int("new", output.Report.Summary.NewCount),
		zap.Int("removed", output.Report.Summary.RemovedCount),
		zap.Int("status_changes", output.Report.Summary.StatusChangeCount))

	return output, nil
}

// runOnce executes one load-reconcile-save cycle against the current snapshot
func (p *Processor) runOnce(ctx context.Context, runID, fileName string, rows []domain.RawRow, uploadedAt time.Time) (*Output, error) {
	snapshot, err := p.store.LoadSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	result := p.engine.Reconcile(rows, snapshot.Properties, uploadedAt)
	p.applyScores(result.Properties)
	report := p.reports.Build(snapshot.Properties, result.Properties, result.StatusChanges, uploadedAt)

	version, err := p.store.SaveSnapshot(ctx, store.SaveSnapshotInput{
		BaseVersion: snapshot.Version,
		Properties:  result.Properties,
		Events:      result.StatusChanges,
		Report:      &report,
		Run: store.UploadRunInput{
			ID:           runID,
			FileName:     fileName,
			UploadedAt:   uploadedAt,
			RowCount:     len(rows),
			SkippedRows:  result.SkippedRows,
			NewCount:     report.Summary.NewCount,
			RemovedCount: report.Summary.RemovedCount,
			ChangedCount: report.Summary.StatusChangeCount,
		},
	})
	if err != nil {
		return nil, err
	}

	return &Output{
		RunID:       runID,
		Version:     version,
		RowCount:    len(rows),
		SkippedRows: result.SkippedRows,
		Report:      report,
	}, nil
}

// applyScores computes the motivation score for every merged property
func (p *Processor) applyScores(properties []domain.Property) {
	now := p.clock.Now()
	for i := range properties {
		s := p.scorer.Compute(&properties[i], now)
		properties[i].MotivationScore = &s
	}
}

// publishChanges pushes events to the broker for immediate dashboard
// notification. Failures are logged only.
func (p *Processor) publishChanges(ctx context.Context, changes []domain.StatusChangeEvent) {
	if p.publisher == nil {
		return
	}
	for i := range changes {
		if err := p.publisher.PublishStatusChange(ctx, &changes[i]); err != nil {
			logger.ErrorCtx(ctx, fmt.Errorf("failed to publish status change: %w", err),
				zap.String("property_id", changes[i].PropertyID))
		}
	}
}
