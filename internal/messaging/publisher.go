package messaging

import (
	"context"

	"github.com/taxroll/lead-reconciler/internal/domain"
)

// Publisher defines the interface for publishing change events to the
// message broker
type Publisher interface {
	// PublishStatusChange publishes one detected status transition
	PublishStatusChange(ctx context.Context, event *domain.StatusChangeEvent) error
	// Close closes the connection
	Close()
}
