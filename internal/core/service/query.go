package service

import (
	"fmt"
	"sort"
	"time"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
)

// AllLocations marks an availability result aggregated over every location.
const AllLocations = "ALL"

// QueryService serves read-only projections over the ledger. Every result is
// copied from a point-in-time snapshot taken under the key lock, and by
// contract exposes only inventory-owned data: counters, reservation status,
// batch tracking fields and locations. Pricing, catalog and order/payment
// details never cross this boundary.
type QueryService struct {
	engine *LedgerEngine
}

func NewQueryService(engine *LedgerEngine) *QueryService {
	return &QueryService{engine: engine}
}

type StockAvailabilityResult struct {
	ProductID         string `json:"product_id"`
	Location          string `json:"location"`
	TotalQuantity     int    `json:"total_quantity"`
	AvailableQuantity int    `json:"available_quantity"`
	ReservedQuantity  int    `json:"reserved_quantity"`
}

// StockAvailability reports counters for one key, or aggregated across all
// locations when location is empty. Unknown keys report zero counters.
func (q *QueryService) StockAvailability(productID, location string) StockAvailabilityResult {
	if location != "" {
		result := StockAvailabilityResult{ProductID: productID, Location: location}
		if snap, ok := q.engine.snapshot(domain.StockKey{ProductID: productID, Location: location}); ok {
			result.TotalQuantity = snap.Unit.TotalQuantity
			result.ReservedQuantity = snap.Unit.ReservedQuantity
			result.AvailableQuantity = snap.Unit.AvailableQuantity()
		}
		return result
	}

	result := StockAvailabilityResult{ProductID: productID, Location: AllLocations}
	for _, snap := range q.engine.snapshotAll() {
		if snap.Unit.ProductID != productID {
			continue
		}
		result.TotalQuantity += snap.Unit.TotalQuantity
		result.ReservedQuantity += snap.Unit.ReservedQuantity
		result.AvailableQuantity += snap.Unit.AvailableQuantity()
	}
	return result
}

type ReservationStatusResult struct {
	ReservationID  string     `json:"reservation_id"`
	ProductID      string     `json:"product_id"`
	Location       string     `json:"location"`
	Quantity       int        `json:"quantity"`
	Status         string     `json:"status"`
	OrderReference string     `json:"order_reference"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

func (q *QueryService) ReservationStatus(reservationID string) (ReservationStatusResult, error) {
	res, ok := q.engine.reservations.Get(reservationID)
	if !ok {
		return ReservationStatusResult{}, fmt.Errorf("%w: %s", domain.ErrReservationNotFound, reservationID)
	}
	return ReservationStatusResult{
		ReservationID:  res.ReservationID,
		ProductID:      res.ProductID,
		Location:       res.Location,
		Quantity:       res.Quantity,
		Status:         string(res.Status),
		OrderReference: res.OrderReference,
		CreatedAt:      res.CreatedAt,
		ExpiresAt:      res.ExpiresAt,
	}, nil
}

type BatchInfoResult struct {
	BatchID        string     `json:"batch_id"`
	ProductID      string     `json:"product_id"`
	Location       string     `json:"location"`
	Quantity       int        `json:"quantity"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
	ProductionCode string     `json:"production_code,omitempty"`
	ReceivedAt     time.Time  `json:"received_at"`
}

func (q *QueryService) BatchInfo(batchID string) (BatchInfoResult, error) {
	for _, snap := range q.engine.snapshotAll() {
		for _, b := range snap.Batches {
			if b.BatchID != batchID {
				continue
			}
			return BatchInfoResult{
				BatchID:        b.BatchID,
				ProductID:      b.ProductID,
				Location:       b.Location,
				Quantity:       b.Quantity,
				ExpirationDate: b.ExpirationDate,
				ProductionCode: b.ProductionCode,
				ReceivedAt:     b.ReceivedAt,
			}, nil
		}
	}
	return BatchInfoResult{}, fmt.Errorf("%w: %s", domain.ErrBatchNotFound, batchID)
}

type LocationInventoryItem struct {
	ProductID         string `json:"product_id"`
	TotalQuantity     int    `json:"total_quantity"`
	AvailableQuantity int    `json:"available_quantity"`
	ReservedQuantity  int    `json:"reserved_quantity"`
}

// LocationInventory lists every product with a stock unit at the location,
// sorted by product id. With includeReserved false the reserved counter is
// omitted from the result; availability is still the true offerable
// quantity.
func (q *QueryService) LocationInventory(location string, includeReserved bool) []LocationInventoryItem {
	var items []LocationInventoryItem
	for _, snap := range q.engine.snapshotAll() {
		if snap.Unit.Location != location {
			continue
		}
		item := LocationInventoryItem{
			ProductID:         snap.Unit.ProductID,
			TotalQuantity:     snap.Unit.TotalQuantity,
			AvailableQuantity: snap.Unit.AvailableQuantity(),
		}
		if includeReserved {
			item.ReservedQuantity = snap.Unit.ReservedQuantity
		}
		items = append(items, item)
	}
	return items
}

type AdjustmentHistoryFilter struct {
	ProductID string
	Location  string
	Limit     int
	From      *time.Time
	To        *time.Time
}

// AdjustmentHistory returns audit records for a product, newest first,
// bounded by the filter's limit and date range. An empty location spans all
// locations of the product.
func (q *QueryService) AdjustmentHistory(filter AdjustmentHistoryFilter) []domain.Adjustment {
	var matched []domain.Adjustment
	for _, snap := range q.engine.snapshotAll() {
		if snap.Unit.ProductID != filter.ProductID {
			continue
		}
		if filter.Location != "" && snap.Unit.Location != filter.Location {
			continue
		}
		for _, adj := range snap.Adjustments {
			if filter.From != nil && adj.CreatedAt.Before(*filter.From) {
				continue
			}
			if filter.To != nil && adj.CreatedAt.After(*filter.To) {
				continue
			}
			matched = append(matched, adj)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched
}

// LowStock returns items whose available quantity is at or below the
// threshold, optionally restricted to one location.
func (q *QueryService) LowStock(threshold int, location string) []LocationInventoryItem {
	if threshold <= 0 {
		return nil
	}
	var items []LocationInventoryItem
	for _, snap := range q.engine.snapshotAll() {
		if location != "" && snap.Unit.Location != location {
			continue
		}
		if snap.Unit.AvailableQuantity() > threshold {
			continue
		}
		items = append(items, LocationInventoryItem{
			ProductID:         snap.Unit.ProductID,
			TotalQuantity:     snap.Unit.TotalQuantity,
			AvailableQuantity: snap.Unit.AvailableQuantity(),
			ReservedQuantity:  snap.Unit.ReservedQuantity,
		})
	}
	return items
}
