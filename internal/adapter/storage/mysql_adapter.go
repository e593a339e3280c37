package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
)

// MySQLAdapter persists committed ledger snapshots. Journal workers may race
// with each other on the same key, so counter upserts are version-guarded: a
// stale snapshot never overwrites a newer one.
type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

func (m *MySQLAdapter) SaveStockUnit(ctx context.Context, unit domain.StockUnit) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO stock_units (product_id, location, total_quantity, reserved_quantity, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			total_quantity    = IF(version < VALUES(version), VALUES(total_quantity), total_quantity),
			reserved_quantity = IF(version < VALUES(version), VALUES(reserved_quantity), reserved_quantity),
			updated_at        = IF(version < VALUES(version), VALUES(updated_at), updated_at),
			version           = IF(version < VALUES(version), VALUES(version), version)`,
		unit.ProductID, unit.Location, unit.TotalQuantity, unit.ReservedQuantity,
		unit.Version, unit.CreatedAt, unit.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert stock unit: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) SaveBatch(ctx context.Context, batch domain.Batch) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO batches (batch_id, product_id, location, quantity, expiration_date, production_code, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			quantity        = VALUES(quantity),
			expiration_date = VALUES(expiration_date),
			production_code = VALUES(production_code)`,
		batch.BatchID, batch.ProductID, batch.Location, batch.Quantity,
		batch.ExpirationDate, batch.ProductionCode, batch.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert batch: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) DeleteBatch(ctx context.Context, batchID string) error {
	if _, err := m.db.ExecContext(ctx, `DELETE FROM batches WHERE batch_id = ?`, batchID); err != nil {
		return fmt.Errorf("delete batch: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) SaveReservation(ctx context.Context, res domain.Reservation) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO reservations (reservation_id, product_id, location, quantity, order_reference, requested_by, status, created_at, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			status     = IF(updated_at <= VALUES(updated_at), VALUES(status), status),
			updated_at = IF(updated_at <= VALUES(updated_at), VALUES(updated_at), updated_at)`,
		res.ReservationID, res.ProductID, res.Location, res.Quantity,
		res.OrderReference, res.RequestedBy, res.Status,
		res.CreatedAt, res.ExpiresAt, res.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert reservation: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) SaveAdjustment(ctx context.Context, adj domain.Adjustment) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT IGNORE INTO adjustments (adjustment_id, product_id, location, delta, reason, adjusted_by, notes, previous_quantity, new_quantity, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		adj.AdjustmentID, adj.ProductID, adj.Location, adj.Delta, adj.Reason,
		adj.AdjustedBy, adj.Notes, adj.PreviousQuantity, adj.NewQuantity, adj.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert adjustment: %w", err)
	}
	return nil
}
