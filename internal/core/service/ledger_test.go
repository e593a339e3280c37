package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
)

// Mock EventPublisher
type capturePublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *capturePublisher) Publish(ctx context.Context, events ...domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *capturePublisher) byType(eventType string) []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var matched []domain.Event
	for _, e := range p.events {
		if e.EventType() == eventType {
			matched = append(matched, e)
		}
	}
	return matched
}

func newTestEngine(t *testing.T, cfg Config) (*LedgerEngine, *capturePublisher) {
	t.Helper()
	publisher := &capturePublisher{}
	engine := NewLedgerEngine(cfg, publisher, nil)

	// Drain the journal
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range engine.Journal() {
		}
	}()
	t.Cleanup(func() {
		engine.Close()
		<-done
	})
	return engine, publisher
}

func seedStock(t *testing.T, engine *LedgerEngine, productID, location string, quantity int) {
	t.Helper()
	if _, err := engine.AddStock(context.Background(), domain.AddStockCommand{
		ProductID: productID,
		Location:  location,
		Quantity:  quantity,
	}); err != nil {
		t.Fatalf("seed stock: %v", err)
	}
}

func availability(engine *LedgerEngine, productID, location string) domain.StockUnit {
	snap, _ := engine.snapshot(domain.StockKey{ProductID: productID, Location: location})
	return snap.Unit
}

func TestAddStock_InvalidQuantity(t *testing.T) {
	engine, _ := newTestEngine(t, Config{})

	for _, qty := range []int{0, -5} {
		_, err := engine.AddStock(context.Background(), domain.AddStockCommand{
			ProductID: "p1", Location: "L1", Quantity: qty,
		})
		if !errors.Is(err, domain.ErrInvalidQuantity) {
			t.Errorf("quantity %d: expected ErrInvalidQuantity, got %v", qty, err)
		}
	}

	if _, ok := engine.snapshot(domain.StockKey{ProductID: "p1", Location: "L1"}); ok {
		t.Error("rejected command must not create a stock unit")
	}
}

// Scenario: add 100, reserve 30, fulfill.
func TestReserveAndFulfill_Lifecycle(t *testing.T) {
	engine, publisher := newTestEngine(t, Config{})
	ctx := context.Background()

	seedStock(t, engine, "p1", "L1", 100)
	unit := availability(engine, "p1", "L1")
	if unit.TotalQuantity != 100 || unit.AvailableQuantity() != 100 {
		t.Fatalf("after add: total=%d available=%d", unit.TotalQuantity, unit.AvailableQuantity())
	}

	resID, err := engine.ReserveStock(ctx, domain.ReserveStockCommand{
		ProductID: "p1", Location: "L1", Quantity: 30,
		OrderReference: "O1", RequestedBy: "order-service",
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	unit = availability(engine, "p1", "L1")
	if unit.AvailableQuantity() != 70 || unit.ReservedQuantity != 30 {
		t.Fatalf("after reserve: available=%d reserved=%d", unit.AvailableQuantity(), unit.ReservedQuantity)
	}
	res, ok := engine.reservations.Get(resID)
	if !ok || res.Status != domain.ReservationActive {
		t.Fatalf("expected active reservation, got %+v", res)
	}

	dispatchID, err := engine.FulfillReservation(ctx, domain.FulfillReservationCommand{
		ReservationID: resID, FulfilledBy: "warehouse",
	})
	if err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if dispatchID == "" {
		t.Error("expected non-empty dispatch id")
	}

	unit = availability(engine, "p1", "L1")
	if unit.TotalQuantity != 70 || unit.ReservedQuantity != 0 {
		t.Fatalf("after fulfill: total=%d reserved=%d", unit.TotalQuantity, unit.ReservedQuantity)
	}
	res, _ = engine.reservations.Get(resID)
	if res.Status != domain.ReservationFulfilled {
		t.Errorf("expected fulfilled, got %s", res.Status)
	}

	for _, eventType := range []string{"StockReceived", "StockReserved", "StockDispatched"} {
		if len(publisher.byType(eventType)) != 1 {
			t.Errorf("expected exactly one %s event", eventType)
		}
	}
}

// Scenario: reserving more than available fails and mutates nothing.
func TestReserveStock_Insufficient(t *testing.T) {
	engine, publisher := newTestEngine(t, Config{})
	ctx := context.Background()

	seedStock(t, engine, "p1", "L1", 70)
	before := availability(engine, "p1", "L1")

	_, err := engine.ReserveStock(ctx, domain.ReserveStockCommand{
		ProductID: "p1", Location: "L1", Quantity: 200, OrderReference: "O2",
	})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	after := availability(engine, "p1", "L1")
	if after != before {
		t.Errorf("failed reserve mutated state: before=%+v after=%+v", before, after)
	}
	if len(publisher.byType("StockReserved")) != 0 {
		t.Error("failed reserve must not emit events")
	}
	if engine.reservations.Count() != 0 {
		t.Error("failed reserve must not create a reservation")
	}
}

func TestReserveStock_UnknownKey(t *testing.T) {
	engine, _ := newTestEngine(t, Config{})

	_, err := engine.ReserveStock(context.Background(), domain.ReserveStockCommand{
		ProductID: "ghost", Location: "L1", Quantity: 1, OrderReference: "O1",
	})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Errorf("expected ErrInsufficientStock, got %v", err)
	}
}

func TestCancelReservation_Conservation(t *testing.T) {
	engine, publisher := newTestEngine(t, Config{})
	ctx := context.Background()

	seedStock(t, engine, "p1", "L1", 50)
	resID, err := engine.ReserveStock(ctx, domain.ReserveStockCommand{
		ProductID: "p1", Location: "L1", Quantity: 20, OrderReference: "O1",
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	if err := engine.CancelReservation(ctx, domain.CancelReservationCommand{
		ReservationID: resID, Reason: "customer change", CancelledBy: "order-service",
	}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	unit := availability(engine, "p1", "L1")
	if unit.TotalQuantity != 50 {
		t.Errorf("cancel must not change total, got %d", unit.TotalQuantity)
	}
	if unit.ReservedQuantity != 0 {
		t.Errorf("expected reserved 0, got %d", unit.ReservedQuantity)
	}

	released := publisher.byType("ReservationReleased")
	if len(released) != 1 {
		t.Fatalf("expected one ReservationReleased, got %d", len(released))
	}
	if released[0].(domain.ReservationReleased).Reason != "customer change" {
		t.Errorf("unexpected reason %q", released[0].(domain.ReservationReleased).Reason)
	}
}

// A second cancel is a hard failure, never a silent success.
func TestCancelReservation_TerminalStateFinal(t *testing.T) {
	engine, _ := newTestEngine(t, Config{})
	ctx := context.Background()

	seedStock(t, engine, "p1", "L1", 50)
	resID, _ := engine.ReserveStock(ctx, domain.ReserveStockCommand{
		ProductID: "p1", Location: "L1", Quantity: 10, OrderReference: "O1",
	})

	cancel := func() error {
		return engine.CancelReservation(ctx, domain.CancelReservationCommand{
			ReservationID: resID, Reason: "test", CancelledBy: "tester",
		})
	}
	if err := cancel(); err != nil {
		t.Fatalf("first cancel: %v", err)
	}

	before := availability(engine, "p1", "L1")
	if err := cancel(); !errors.Is(err, domain.ErrInvalidStateTransition) {
		t.Fatalf("second cancel: expected ErrInvalidStateTransition, got %v", err)
	}
	if _, err := engine.FulfillReservation(ctx, domain.FulfillReservationCommand{ReservationID: resID}); !errors.Is(err, domain.ErrInvalidStateTransition) {
		t.Fatalf("fulfill after cancel: expected ErrInvalidStateTransition, got %v", err)
	}
	if after := availability(engine, "p1", "L1"); after != before {
		t.Errorf("terminal re-entry mutated counters: before=%+v after=%+v", before, after)
	}
}

func TestCancelReservation_NotFound(t *testing.T) {
	engine, _ := newTestEngine(t, Config{})

	err := engine.CancelReservation(context.Background(), domain.CancelReservationCommand{
		ReservationID: "missing", Reason: "test",
	})
	if !errors.Is(err, domain.ErrReservationNotFound) {
		t.Errorf("expected ErrReservationNotFound, got %v", err)
	}
}

// Scenario: adjust down within bounds succeeds, past zero fails.
func TestAdjustStock(t *testing.T) {
	engine, publisher := newTestEngine(t, Config{})
	ctx := context.Background()

	seedStock(t, engine, "p1", "L1", 70)

	adjID, err := engine.AdjustStock(ctx, domain.AdjustStockCommand{
		ProductID: "p1", Location: "L1", Delta: -20, Reason: "damage", AdjustedBy: "auditor",
	})
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if adjID == "" {
		t.Error("expected adjustment id")
	}
	if unit := availability(engine, "p1", "L1"); unit.TotalQuantity != 50 {
		t.Fatalf("expected total 50, got %d", unit.TotalQuantity)
	}

	_, err = engine.AdjustStock(ctx, domain.AdjustStockCommand{
		ProductID: "p1", Location: "L1", Delta: -1000, Reason: "typo", AdjustedBy: "auditor",
	})
	if !errors.Is(err, domain.ErrInvalidAdjustment) {
		t.Fatalf("expected ErrInvalidAdjustment, got %v", err)
	}
	if unit := availability(engine, "p1", "L1"); unit.TotalQuantity != 50 {
		t.Errorf("failed adjust changed total to %d", unit.TotalQuantity)
	}

	adjusted := publisher.byType("StockAdjusted")
	if len(adjusted) != 1 {
		t.Fatalf("expected one StockAdjusted, got %d", len(adjusted))
	}
	event := adjusted[0].(domain.StockAdjusted)
	if event.PreviousQuantity != 70 || event.NewQuantity != 50 {
		t.Errorf("expected previous=70 new=50, got previous=%d new=%d", event.PreviousQuantity, event.NewQuantity)
	}
}

func TestAdjustStock_ReservedGuard(t *testing.T) {
	engine, _ := newTestEngine(t, Config{})
	ctx := context.Background()

	seedStock(t, engine, "p1", "L1", 100)
	if _, err := engine.ReserveStock(ctx, domain.ReserveStockCommand{
		ProductID: "p1", Location: "L1", Quantity: 60, OrderReference: "O1",
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	// total would drop to 50 while 60 stays reserved
	_, err := engine.AdjustStock(ctx, domain.AdjustStockCommand{
		ProductID: "p1", Location: "L1", Delta: -50, Reason: "shrinkage", AdjustedBy: "auditor",
	})
	if !errors.Is(err, domain.ErrInvalidAdjustment) {
		t.Fatalf("expected ErrInvalidAdjustment, got %v", err)
	}

	unit := availability(engine, "p1", "L1")
	if unit.TotalQuantity != 100 || unit.ReservedQuantity != 60 {
		t.Errorf("failed adjust mutated counters: %+v", unit)
	}
}

func TestFulfillReservation_FEFO(t *testing.T) {
	engine, _ := newTestEngine(t, Config{})
	ctx := context.Background()

	later := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	sooner := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	add := func(batchID string, qty int, exp *time.Time) {
		t.Helper()
		if _, err := engine.AddStock(ctx, domain.AddStockCommand{
			ProductID: "p1", Location: "L1", Quantity: qty, BatchID: batchID, ExpirationDate: exp,
		}); err != nil {
			t.Fatalf("add batch %s: %v", batchID, err)
		}
	}
	add("b-late", 40, &later)
	add("b-soon", 30, &sooner)
	add("b-undated", 30, nil)

	resID, err := engine.ReserveStock(ctx, domain.ReserveStockCommand{
		ProductID: "p1", Location: "L1", Quantity: 50, OrderReference: "O1",
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := engine.FulfillReservation(ctx, domain.FulfillReservationCommand{ReservationID: resID}); err != nil {
		t.Fatalf("fulfill: %v", err)
	}

	// 50 units: all 30 of the soonest batch, then 20 of the later one;
	// the undated batch is untouched.
	snap, _ := engine.snapshot(domain.StockKey{ProductID: "p1", Location: "L1"})
	remaining := map[string]int{}
	for _, b := range snap.Batches {
		remaining[b.BatchID] = b.Quantity
	}
	if _, found := remaining["b-soon"]; found {
		t.Error("expected b-soon fully consumed and removed")
	}
	if remaining["b-late"] != 20 {
		t.Errorf("expected b-late quantity 20, got %d", remaining["b-late"])
	}
	if remaining["b-undated"] != 30 {
		t.Errorf("expected b-undated untouched, got %d", remaining["b-undated"])
	}

	batchTotal := 0
	for _, qty := range remaining {
		batchTotal += qty
	}
	if snap.Unit.TotalQuantity != 50 || batchTotal != 50 {
		t.Errorf("conservation broken: total=%d batches=%d", snap.Unit.TotalQuantity, batchTotal)
	}
}

func TestFulfillReservation_PartialBatchCoverage(t *testing.T) {
	engine, _ := newTestEngine(t, Config{})
	ctx := context.Background()

	// 25 tracked in one batch plus 75 untracked
	exp := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	if _, err := engine.AddStock(ctx, domain.AddStockCommand{
		ProductID: "p1", Location: "L1", Quantity: 25, BatchID: "b1", ExpirationDate: &exp,
	}); err != nil {
		t.Fatalf("add batch: %v", err)
	}
	seedStock(t, engine, "p1", "L1", 75)

	resID, _ := engine.ReserveStock(ctx, domain.ReserveStockCommand{
		ProductID: "p1", Location: "L1", Quantity: 60, OrderReference: "O1",
	})
	if _, err := engine.FulfillReservation(ctx, domain.FulfillReservationCommand{ReservationID: resID}); err != nil {
		t.Fatalf("fulfill: %v", err)
	}

	snap, _ := engine.snapshot(domain.StockKey{ProductID: "p1", Location: "L1"})
	if snap.Unit.TotalQuantity != 40 {
		t.Errorf("expected total 40, got %d", snap.Unit.TotalQuantity)
	}
	if len(snap.Batches) != 0 {
		t.Errorf("expected batch fully consumed, got %+v", snap.Batches)
	}
}

func TestLowStockWarning(t *testing.T) {
	engine, publisher := newTestEngine(t, Config{LowStockThreshold: 10})
	ctx := context.Background()

	seedStock(t, engine, "p1", "L1", 12)
	if len(publisher.byType("LowStockWarning")) != 0 {
		t.Fatal("receipt above threshold must not warn")
	}

	if _, err := engine.ReserveStock(ctx, domain.ReserveStockCommand{
		ProductID: "p1", Location: "L1", Quantity: 5, OrderReference: "O1",
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	warnings := publisher.byType("LowStockWarning")
	if len(warnings) != 1 {
		t.Fatalf("expected one LowStockWarning, got %d", len(warnings))
	}
	warning := warnings[0].(domain.LowStockWarning)
	if warning.AvailableQuantity != 7 || warning.Threshold != 10 {
		t.Errorf("unexpected warning %+v", warning)
	}
}

// N concurrent reservations of q each against Q available succeed for at
// most Q/q of them, whatever the interleaving.
func TestReserveStock_ConcurrentBound(t *testing.T) {
	engine, _ := newTestEngine(t, Config{})
	ctx := context.Background()

	const available = 20
	const totalRequests = 50

	seedStock(t, engine, "p1", "L1", available)

	var successCount atomic.Int32
	var failCount atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_, err := engine.ReserveStock(ctx, domain.ReserveStockCommand{
				ProductID: "p1", Location: "L1", Quantity: 1,
				OrderReference: "order", RequestedBy: "test",
			})
			if err == nil {
				successCount.Add(1)
			} else if errors.Is(err, domain.ErrInsufficientStock) {
				failCount.Add(1)
			} else {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if successCount.Load() != available {
		t.Errorf("expected %d successes, got %d", available, successCount.Load())
	}
	if failCount.Load() != totalRequests-available {
		t.Errorf("expected %d rejections, got %d", totalRequests-available, failCount.Load())
	}

	unit := availability(engine, "p1", "L1")
	if unit.ReservedQuantity != available || unit.AvailableQuantity() != 0 {
		t.Errorf("counters inconsistent after burst: %+v", unit)
	}
}

// Mixed concurrent commands on one key must keep 0 <= reserved <= total.
func TestInvariant_ConcurrentMixedCommands(t *testing.T) {
	engine, _ := newTestEngine(t, Config{})
	ctx := context.Background()

	seedStock(t, engine, "p1", "L1", 1000)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			resID, err := engine.ReserveStock(ctx, domain.ReserveStockCommand{
				ProductID: "p1", Location: "L1", Quantity: 10, OrderReference: "order",
			})
			if err != nil {
				return
			}
			switch id % 3 {
			case 0:
				_ = engine.CancelReservation(ctx, domain.CancelReservationCommand{ReservationID: resID, Reason: "test"})
			case 1:
				_, _ = engine.FulfillReservation(ctx, domain.FulfillReservationCommand{ReservationID: resID})
			}
		}(i)
	}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = engine.AdjustStock(ctx, domain.AdjustStockCommand{
				ProductID: "p1", Location: "L1", Delta: -5, Reason: "shrinkage", AdjustedBy: "auditor",
			})
		}()
	}
	wg.Wait()

	unit := availability(engine, "p1", "L1")
	if unit.ReservedQuantity < 0 || unit.ReservedQuantity > unit.TotalQuantity {
		t.Fatalf("invariant violated: total=%d reserved=%d", unit.TotalQuantity, unit.ReservedQuantity)
	}
}

func TestCommands_DistinctKeysIndependent(t *testing.T) {
	engine, _ := newTestEngine(t, Config{})
	ctx := context.Background()

	seedStock(t, engine, "p1", "L1", 10)
	seedStock(t, engine, "p1", "L2", 10)

	if _, err := engine.ReserveStock(ctx, domain.ReserveStockCommand{
		ProductID: "p1", Location: "L1", Quantity: 10, OrderReference: "O1",
	}); err != nil {
		t.Fatalf("reserve L1: %v", err)
	}

	// L1 exhausted, L2 unaffected
	if _, err := engine.ReserveStock(ctx, domain.ReserveStockCommand{
		ProductID: "p1", Location: "L2", Quantity: 10, OrderReference: "O2",
	}); err != nil {
		t.Errorf("reserve L2: %v", err)
	}
}

func TestJournal_EntriesForLifecycle(t *testing.T) {
	publisher := &capturePublisher{}
	engine := NewLedgerEngine(Config{JournalBuffer: 16}, publisher, nil)
	ctx := context.Background()

	if _, err := engine.AddStock(ctx, domain.AddStockCommand{
		ProductID: "p1", Location: "L1", Quantity: 10, BatchID: "b1",
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	resID, err := engine.ReserveStock(ctx, domain.ReserveStockCommand{
		ProductID: "p1", Location: "L1", Quantity: 10, OrderReference: "O1",
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := engine.FulfillReservation(ctx, domain.FulfillReservationCommand{ReservationID: resID}); err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	engine.Close()

	var entries []JournalEntry
	for entry := range engine.Journal() {
		entries = append(entries, entry)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 journal entries, got %d", len(entries))
	}
	if entries[0].Unit == nil || len(entries[0].Batches) != 1 {
		t.Errorf("add entry missing unit or batch: %+v", entries[0])
	}
	if entries[1].Reservation == nil || entries[1].Reservation.Status != domain.ReservationActive {
		t.Errorf("reserve entry malformed: %+v", entries[1])
	}
	last := entries[2]
	if last.Reservation == nil || last.Reservation.Status != domain.ReservationFulfilled {
		t.Errorf("fulfill entry missing terminal reservation: %+v", last)
	}
	if len(last.RemovedBatches) != 1 || last.RemovedBatches[0] != "b1" {
		t.Errorf("expected consumed batch b1 removed, got %+v", last.RemovedBatches)
	}
	if last.Unit.Version <= entries[1].Unit.Version {
		t.Errorf("version not monotonic: %d then %d", entries[1].Unit.Version, last.Unit.Version)
	}
}
