package jetstream

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/taxroll/lead-reconciler/internal/adapter"
	"github.com/taxroll/lead-reconciler/internal/domain"
	"github.com/taxroll/lead-reconciler/internal/logger"
	"github.com/taxroll/lead-reconciler/internal/messaging"
)

// Config holds the configuration for NATS JetStream connection
type Config struct {
	URL            string
	SubjectPrefix  string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectionName string
}

type publisher struct {
	nc            adapter.NatsConn
	js            adapter.JetStream
	subjectPrefix string
	json          adapter.JSON
}

// NewPublisher creates a new NATS JetStream publisher
func NewPublisher(cfg Config, natsJS adapter.NatsJetStream, jsonAdapter adapter.JSON) (messaging.Publisher, error) {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "leads"
	}

	opts := []nats.Option{
		nats.Name(cfg.ConnectionName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Error(err, zap.String("message", "Disconnected from NATS"))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	nc, js, err := natsJS.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS and create JetStream: %w", err)
	}

	return &publisher{
		nc:            nc,
		js:            js,
		subjectPrefix: cfg.SubjectPrefix,
		json:          jsonAdapter,
	}, nil
}

// PublishStatusChange publishes a status transition to NATS JetStream
func (p *publisher) PublishStatusChange(ctx context.Context, event *domain.StatusChangeEvent) error {
	logger.Debug("Publishing status change",
		zap.String("property_id", event.PropertyID),
		zap.String("old_status", event.OldStatus.String()),
		zap.String("new_status", event.NewStatus.String()))

	data, err := p.json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := p.js.Publish(ctx, p.buildSubject(event), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// buildSubject constructs the NATS subject based on the transition.
// Format: {prefix}.status.{new_status}, e.g. leads.status.J; dashboards
// subscribe to leads.status.> or to one stage.
func (p *publisher) buildSubject(event *domain.StatusChangeEvent) string {
	stage := event.NewStatus.String()
	if stage == "" {
		stage = "none"
	}
	return fmt.Sprintf("%s.status.%s", p.subjectPrefix, stage)
}

// Close closes the NATS connection
func (p *publisher) Close() {
	p.nc.Close()
}
