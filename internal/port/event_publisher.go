package port

import (
	"context"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
)

type EventPublisher interface {
	// Publish delivers committed domain events to the outbound channel,
	// at-least-once
	Publish(ctx context.Context, events ...domain.Event) error
}
