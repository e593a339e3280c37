package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
	"github.com/rl1809/inventory-ledger/internal/core/service"
)

const (
	productID     = "load-test-product"
	location      = "WH-1"
	initialStock  = 200
	totalRequests = 500
	requestQty    = 1
)

// Fires concurrent reservations at a single stock-keeping key and checks
// that the ledger never over-reserves: successes must equal
// initialStock/requestQty exactly, with the rest rejected.
func main() {
	logger, _ := zap.NewDevelopment()
	engine := service.NewLedgerEngine(service.Config{}, nil, logger)

	// Drain the journal, nothing to persist here
	go func() {
		for range engine.Journal() {
		}
	}()

	ctx := context.Background()
	if _, err := engine.AddStock(ctx, domain.AddStockCommand{
		ProductID: productID,
		Location:  location,
		Quantity:  initialStock,
	}); err != nil {
		log.Fatalf("failed to seed stock: %v", err)
	}

	var successCount atomic.Int32
	var failCount atomic.Int32
	var wg sync.WaitGroup

	start := time.Now()
	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_, err := engine.ReserveStock(ctx, domain.ReserveStockCommand{
				ProductID:      productID,
				Location:       location,
				Quantity:       requestQty,
				OrderReference: fmt.Sprintf("order-%d", id),
				RequestedBy:    "loadgen",
			})
			if err == nil {
				successCount.Add(1)
			} else {
				failCount.Add(1)
			}
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	queries := service.NewQueryService(engine)
	result := queries.StockAvailability(productID, location)

	fmt.Printf("requests:  %d in %s\n", totalRequests, elapsed)
	fmt.Printf("reserved:  %d\n", successCount.Load())
	fmt.Printf("rejected:  %d\n", failCount.Load())
	fmt.Printf("counters:  total=%d reserved=%d available=%d\n",
		result.TotalQuantity, result.ReservedQuantity, result.AvailableQuantity)

	expected := int32(initialStock / requestQty)
	switch {
	case successCount.Load() != expected:
		log.Fatalf("FAIL: expected %d successful reservations, got %d", expected, successCount.Load())
	case result.AvailableQuantity != 0:
		log.Fatalf("FAIL: expected available 0, got %d", result.AvailableQuantity)
	case result.ReservedQuantity != initialStock:
		log.Fatalf("FAIL: expected reserved %d, got %d", initialStock, result.ReservedQuantity)
	default:
		fmt.Println("OK: no over-reservation")
	}

	engine.Close()
}
