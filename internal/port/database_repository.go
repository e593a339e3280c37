package port

import (
	"context"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
)

// LedgerJournal is the write-behind durability boundary. The in-memory ledger
// stays authoritative; journal writers persist committed snapshots so state
// survives restarts and stays queryable for offline audit.
type LedgerJournal interface {
	// SaveStockUnit upserts a counter snapshot, version-guarded so a stale
	// snapshot never overwrites a newer one
	SaveStockUnit(ctx context.Context, unit domain.StockUnit) error

	// SaveBatch upserts a batch row
	SaveBatch(ctx context.Context, batch domain.Batch) error

	// DeleteBatch removes a fully consumed batch
	DeleteBatch(ctx context.Context, batchID string) error

	// SaveReservation upserts a reservation row with its current status
	SaveReservation(ctx context.Context, res domain.Reservation) error

	// SaveAdjustment appends an immutable adjustment row
	SaveAdjustment(ctx context.Context, adj domain.Adjustment) error
}
