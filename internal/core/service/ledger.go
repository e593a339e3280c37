package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
	"github.com/rl1809/inventory-ledger/internal/port"
)

type Config struct {
	// LowStockThreshold triggers LowStockWarning events when a mutation
	// leaves available_quantity at or below it; zero disables the check
	LowStockThreshold int
	// JournalBuffer is the capacity of the write-behind journal channel
	JournalBuffer int
}

// JournalEntry is one committed mutation, queued for the persistence workers.
// Entries for the same stock-keeping key are enqueued in commit order.
type JournalEntry struct {
	Unit           *domain.StockUnit
	Batches        []domain.Batch
	RemovedBatches []string
	Reservation    *domain.Reservation
	Adjustment     *domain.Adjustment
}

// ledgerUnit is one independently lockable arena slot. A command holds
// exactly one unit's mutex for its whole critical section, so commands on
// distinct keys run fully in parallel and no cross-key deadlock is possible.
type ledgerUnit struct {
	mu          sync.Mutex
	unit        domain.StockUnit
	batches     map[string]*domain.Batch
	adjustments []domain.Adjustment
}

// LedgerEngine is the single mutation authority over stock counters,
// batches and reservations, serialized per (product_id, location) key.
type LedgerEngine struct {
	cfg       Config
	log       *zap.Logger
	publisher port.EventPublisher

	mu    sync.RWMutex
	units map[domain.StockKey]*ledgerUnit

	reservations *ReservationStore
	journal      chan JournalEntry

	now func() time.Time
}

func NewLedgerEngine(cfg Config, publisher port.EventPublisher, log *zap.Logger) *LedgerEngine {
	if cfg.JournalBuffer <= 0 {
		cfg.JournalBuffer = 1024
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &LedgerEngine{
		cfg:          cfg,
		log:          log,
		publisher:    publisher,
		units:        make(map[domain.StockKey]*ledgerUnit),
		reservations: NewReservationStore(),
		journal:      make(chan JournalEntry, cfg.JournalBuffer),
		now:          time.Now,
	}
}

// Journal exposes committed mutations for the persistence worker pool.
func (e *LedgerEngine) Journal() <-chan JournalEntry {
	return e.journal
}

// Close stops the journal stream. Call only after all command submitters
// have stopped.
func (e *LedgerEngine) Close() {
	close(e.journal)
}

func (e *LedgerEngine) lookup(key domain.StockKey) *ledgerUnit {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.units[key]
}

func (e *LedgerEngine) lookupOrCreate(key domain.StockKey, now time.Time) *ledgerUnit {
	e.mu.RLock()
	lu := e.units[key]
	e.mu.RUnlock()
	if lu != nil {
		return lu
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if lu = e.units[key]; lu != nil {
		return lu
	}
	lu = &ledgerUnit{
		unit: domain.StockUnit{
			ProductID: key.ProductID,
			Location:  key.Location,
			CreatedAt: now,
			UpdatedAt: now,
		},
		batches: make(map[string]*domain.Batch),
	}
	e.units[key] = lu
	return lu
}

// AddStock increases total_quantity for the key, creating the StockUnit on
// first receipt and creating or extending the batch when a batch_id is given.
func (e *LedgerEngine) AddStock(ctx context.Context, cmd domain.AddStockCommand) (domain.StockUnit, error) {
	if cmd.Quantity <= 0 {
		return domain.StockUnit{}, fmt.Errorf("%w: quantity must be positive, got %d", domain.ErrInvalidQuantity, cmd.Quantity)
	}

	now := e.now()
	lu := e.lookupOrCreate(domain.StockKey{ProductID: cmd.ProductID, Location: cmd.Location}, now)

	lu.mu.Lock()
	lu.unit.TotalQuantity += cmd.Quantity
	lu.unit.Version++
	lu.unit.UpdatedAt = now

	entry := JournalEntry{}
	if cmd.BatchID != "" {
		b, ok := lu.batches[cmd.BatchID]
		if !ok {
			b = &domain.Batch{
				BatchID:    cmd.BatchID,
				ProductID:  cmd.ProductID,
				Location:   cmd.Location,
				ReceivedAt: now,
			}
			lu.batches[cmd.BatchID] = b
		}
		b.Quantity += cmd.Quantity
		if cmd.ExpirationDate != nil {
			b.ExpirationDate = cmd.ExpirationDate
		}
		if cmd.ProductionCode != "" {
			b.ProductionCode = cmd.ProductionCode
		}
		entry.Batches = append(entry.Batches, *b)
	}

	snap := lu.unit
	entry.Unit = &snap
	e.commit(entry)
	lu.mu.Unlock()

	e.emit(ctx, domain.StockReceived{
		EventID:   uuid.NewString(),
		ProductID: cmd.ProductID,
		Location:  cmd.Location,
		Quantity:  cmd.Quantity,
		BatchID:   cmd.BatchID,
		Occurred:  now,
	})
	return snap, nil
}

// ReserveStock moves quantity from available to reserved and creates an
// Active reservation. Availability is computed under the key lock, never
// from a stale read.
func (e *LedgerEngine) ReserveStock(ctx context.Context, cmd domain.ReserveStockCommand) (string, error) {
	if cmd.Quantity <= 0 {
		return "", fmt.Errorf("%w: quantity must be positive, got %d", domain.ErrInvalidQuantity, cmd.Quantity)
	}

	key := domain.StockKey{ProductID: cmd.ProductID, Location: cmd.Location}
	lu := e.lookup(key)
	if lu == nil {
		return "", fmt.Errorf("%w: no stock for %s", domain.ErrInsufficientStock, key)
	}

	lu.mu.Lock()
	if avail := lu.unit.AvailableQuantity(); avail < cmd.Quantity {
		lu.mu.Unlock()
		return "", fmt.Errorf("%w: requested %d, available %d at %s", domain.ErrInsufficientStock, cmd.Quantity, avail, key)
	}

	now := e.now()
	res := domain.Reservation{
		ReservationID:  uuid.NewString(),
		ProductID:      cmd.ProductID,
		Location:       cmd.Location,
		Quantity:       cmd.Quantity,
		OrderReference: cmd.OrderReference,
		RequestedBy:    cmd.RequestedBy,
		Status:         domain.ReservationActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if cmd.TTL > 0 {
		deadline := now.Add(cmd.TTL)
		res.ExpiresAt = &deadline
	}

	lu.unit.ReservedQuantity += cmd.Quantity
	lu.unit.Version++
	lu.unit.UpdatedAt = now
	e.reservations.Add(res)

	snap := lu.unit
	resSnap := res
	e.commit(JournalEntry{Unit: &snap, Reservation: &resSnap})
	lu.mu.Unlock()

	events := []domain.Event{domain.StockReserved{
		EventID:        uuid.NewString(),
		ReservationID:  res.ReservationID,
		ProductID:      cmd.ProductID,
		Location:       cmd.Location,
		Quantity:       cmd.Quantity,
		OrderReference: cmd.OrderReference,
		ExpiresAt:      res.ExpiresAt,
		Occurred:       now,
	}}
	e.emit(ctx, e.maybeLowStock(events, snap, now)...)
	return res.ReservationID, nil
}

// CancelReservation returns a reservation's quantity to available stock.
// Cancelling an already terminal reservation fails with
// ErrInvalidStateTransition; callers must treat that as non-retryable.
func (e *LedgerEngine) CancelReservation(ctx context.Context, cmd domain.CancelReservationCommand) error {
	return e.release(ctx, cmd.ReservationID, cmd.Reason, cmd.CancelledBy, domain.ReservationCancelled)
}

// expireReservation is the scheduler's entry into the cancellation path.
func (e *LedgerEngine) expireReservation(ctx context.Context, reservationID string) error {
	return e.release(ctx, reservationID, "timeout", "expiry-scheduler", domain.ReservationExpired)
}

func (e *LedgerEngine) release(ctx context.Context, reservationID, reason, releasedBy string, terminal domain.ReservationStatus) error {
	res, ok := e.reservations.Get(reservationID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrReservationNotFound, reservationID)
	}
	lu := e.lookup(res.Key())
	if lu == nil {
		return fmt.Errorf("%w: %s", domain.ErrReservationNotFound, reservationID)
	}

	lu.mu.Lock()
	updated, err := e.reservations.transition(reservationID, terminal, e.now())
	if err != nil {
		lu.mu.Unlock()
		return err
	}

	lu.unit.ReservedQuantity -= updated.Quantity
	lu.unit.Version++
	lu.unit.UpdatedAt = updated.UpdatedAt

	snap := lu.unit
	resSnap := updated
	e.commit(JournalEntry{Unit: &snap, Reservation: &resSnap})
	lu.mu.Unlock()

	e.log.Info("reservation released",
		zap.String("reservation_id", reservationID),
		zap.String("status", string(terminal)),
		zap.String("reason", reason),
		zap.String("released_by", releasedBy),
	)
	e.emit(ctx, domain.ReservationReleased{
		EventID:       uuid.NewString(),
		ReservationID: reservationID,
		ProductID:     updated.ProductID,
		Location:      updated.Location,
		Quantity:      updated.Quantity,
		Reason:        reason,
		Occurred:      updated.UpdatedAt,
	})
	return nil
}

// FulfillReservation dispatches a reservation's quantity out of the ledger,
// consuming batch stock oldest-expiration-first.
func (e *LedgerEngine) FulfillReservation(ctx context.Context, cmd domain.FulfillReservationCommand) (string, error) {
	res, ok := e.reservations.Get(cmd.ReservationID)
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrReservationNotFound, cmd.ReservationID)
	}
	lu := e.lookup(res.Key())
	if lu == nil {
		return "", fmt.Errorf("%w: %s", domain.ErrReservationNotFound, cmd.ReservationID)
	}

	lu.mu.Lock()
	updated, err := e.reservations.transition(cmd.ReservationID, domain.ReservationFulfilled, e.now())
	if err != nil {
		lu.mu.Unlock()
		return "", err
	}

	lu.unit.TotalQuantity -= updated.Quantity
	lu.unit.ReservedQuantity -= updated.Quantity
	lu.unit.Version++
	lu.unit.UpdatedAt = updated.UpdatedAt
	consumed, removed := consumeBatches(lu, updated.Quantity)

	dispatchID := uuid.NewString()
	snap := lu.unit
	resSnap := updated
	e.commit(JournalEntry{Unit: &snap, Reservation: &resSnap, Batches: consumed, RemovedBatches: removed})
	lu.mu.Unlock()

	events := []domain.Event{domain.StockDispatched{
		EventID:           uuid.NewString(),
		DispatchID:        dispatchID,
		ReservationID:     cmd.ReservationID,
		ProductID:         updated.ProductID,
		Location:          updated.Location,
		Quantity:          updated.Quantity,
		DispatchReference: cmd.DispatchReference,
		Occurred:          updated.UpdatedAt,
	}}
	e.emit(ctx, e.maybeLowStock(events, snap, updated.UpdatedAt)...)
	return dispatchID, nil
}

// AdjustStock applies a signed correction to total_quantity and appends an
// immutable audit record. Adjustments never touch reserved_quantity.
func (e *LedgerEngine) AdjustStock(ctx context.Context, cmd domain.AdjustStockCommand) (string, error) {
	if cmd.Delta == 0 {
		return "", fmt.Errorf("%w: zero delta", domain.ErrInvalidAdjustment)
	}

	key := domain.StockKey{ProductID: cmd.ProductID, Location: cmd.Location}
	lu := e.lookup(key)
	if lu == nil {
		return "", fmt.Errorf("%w: no stock unit for %s", domain.ErrInvalidAdjustment, key)
	}

	lu.mu.Lock()
	prev := lu.unit.TotalQuantity
	next := prev + cmd.Delta
	if next < 0 {
		lu.mu.Unlock()
		return "", fmt.Errorf("%w: delta %d would drive total %d negative", domain.ErrInvalidAdjustment, cmd.Delta, prev)
	}
	if lu.unit.ReservedQuantity > next {
		lu.mu.Unlock()
		return "", fmt.Errorf("%w: delta %d would leave reserved %d above total %d", domain.ErrInvalidAdjustment, cmd.Delta, lu.unit.ReservedQuantity, next)
	}

	now := e.now()
	lu.unit.TotalQuantity = next
	lu.unit.Version++
	lu.unit.UpdatedAt = now

	adj := domain.Adjustment{
		AdjustmentID:     uuid.NewString(),
		ProductID:        cmd.ProductID,
		Location:         cmd.Location,
		Delta:            cmd.Delta,
		Reason:           cmd.Reason,
		AdjustedBy:       cmd.AdjustedBy,
		Notes:            cmd.Notes,
		PreviousQuantity: prev,
		NewQuantity:      next,
		CreatedAt:        now,
	}
	lu.adjustments = append(lu.adjustments, adj)

	var consumed []domain.Batch
	var removed []string
	if cmd.Delta < 0 {
		consumed, removed = consumeBatches(lu, -cmd.Delta)
	}

	snap := lu.unit
	adjSnap := adj
	e.commit(JournalEntry{Unit: &snap, Adjustment: &adjSnap, Batches: consumed, RemovedBatches: removed})
	lu.mu.Unlock()

	events := []domain.Event{domain.StockAdjusted{
		EventID:          uuid.NewString(),
		AdjustmentID:     adj.AdjustmentID,
		ProductID:        cmd.ProductID,
		Location:         cmd.Location,
		Delta:            cmd.Delta,
		Reason:           cmd.Reason,
		PreviousQuantity: prev,
		NewQuantity:      next,
		Occurred:         now,
	}}
	e.emit(ctx, e.maybeLowStock(events, snap, now)...)
	return adj.AdjustmentID, nil
}

// consumeBatches decrements batch quantities in FEFO order: earliest
// expiration first, undated batches last, ties broken by receipt order. The
// batch total may be smaller than qty; the untracked remainder comes
// straight off the counters.
func consumeBatches(lu *ledgerUnit, qty int) (updated []domain.Batch, removed []string) {
	if qty <= 0 || len(lu.batches) == 0 {
		return nil, nil
	}

	batches := make([]*domain.Batch, 0, len(lu.batches))
	for _, b := range lu.batches {
		batches = append(batches, b)
	}
	sort.Slice(batches, func(i, j int) bool {
		bi, bj := batches[i], batches[j]
		switch {
		case bi.ExpirationDate == nil && bj.ExpirationDate != nil:
			return false
		case bi.ExpirationDate != nil && bj.ExpirationDate == nil:
			return true
		case bi.ExpirationDate != nil && bj.ExpirationDate != nil && !bi.ExpirationDate.Equal(*bj.ExpirationDate):
			return bi.ExpirationDate.Before(*bj.ExpirationDate)
		}
		if !bi.ReceivedAt.Equal(bj.ReceivedAt) {
			return bi.ReceivedAt.Before(bj.ReceivedAt)
		}
		return bi.BatchID < bj.BatchID
	})

	remaining := qty
	for _, b := range batches {
		if remaining == 0 {
			break
		}
		take := b.Quantity
		if take > remaining {
			take = remaining
		}
		b.Quantity -= take
		remaining -= take
		if b.Quantity == 0 {
			delete(lu.batches, b.BatchID)
			removed = append(removed, b.BatchID)
		} else {
			updated = append(updated, *b)
		}
	}
	return updated, removed
}

func (e *LedgerEngine) maybeLowStock(events []domain.Event, unit domain.StockUnit, now time.Time) []domain.Event {
	if e.cfg.LowStockThreshold <= 0 || unit.AvailableQuantity() > e.cfg.LowStockThreshold {
		return events
	}
	return append(events, domain.LowStockWarning{
		EventID:           uuid.NewString(),
		ProductID:         unit.ProductID,
		Location:          unit.Location,
		AvailableQuantity: unit.AvailableQuantity(),
		Threshold:         e.cfg.LowStockThreshold,
		Occurred:          now,
	})
}

// commit enqueues a journal entry while the key lock is still held, so
// entries for one key reach the workers in commit order. A full journal
// applies backpressure to the committing command.
func (e *LedgerEngine) commit(entry JournalEntry) {
	e.journal <- entry
}

// emit publishes after commit. Publish failures are logged, not surfaced:
// delivery is at-least-once and subscribers tolerate duplicates.
func (e *LedgerEngine) emit(ctx context.Context, events ...domain.Event) {
	if e.publisher == nil || len(events) == 0 {
		return
	}
	if err := e.publisher.Publish(ctx, events...); err != nil {
		e.log.Error("event publish failed", zap.Int("events", len(events)), zap.Error(err))
	}
}

type unitSnapshot struct {
	Unit        domain.StockUnit
	Batches     []domain.Batch
	Adjustments []domain.Adjustment
}

func (e *LedgerEngine) snapshot(key domain.StockKey) (unitSnapshot, bool) {
	lu := e.lookup(key)
	if lu == nil {
		return unitSnapshot{}, false
	}
	lu.mu.Lock()
	defer lu.mu.Unlock()
	return copyUnit(lu), true
}

// snapshotAll copies every unit under its own lock; each copy is internally
// consistent and never observes a unit mid-mutation.
func (e *LedgerEngine) snapshotAll() []unitSnapshot {
	e.mu.RLock()
	units := make([]*ledgerUnit, 0, len(e.units))
	for _, lu := range e.units {
		units = append(units, lu)
	}
	e.mu.RUnlock()

	snaps := make([]unitSnapshot, 0, len(units))
	for _, lu := range units {
		lu.mu.Lock()
		snaps = append(snaps, copyUnit(lu))
		lu.mu.Unlock()
	}
	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].Unit.ProductID != snaps[j].Unit.ProductID {
			return snaps[i].Unit.ProductID < snaps[j].Unit.ProductID
		}
		return snaps[i].Unit.Location < snaps[j].Unit.Location
	})
	return snaps
}

func copyUnit(lu *ledgerUnit) unitSnapshot {
	snap := unitSnapshot{Unit: lu.unit}
	if len(lu.batches) > 0 {
		snap.Batches = make([]domain.Batch, 0, len(lu.batches))
		for _, b := range lu.batches {
			snap.Batches = append(snap.Batches, *b)
		}
	}
	if len(lu.adjustments) > 0 {
		snap.Adjustments = append([]domain.Adjustment(nil), lu.adjustments...)
	}
	return snap
}
