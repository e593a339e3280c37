package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rl1809/inventory-ledger/config"
	"github.com/rl1809/inventory-ledger/internal/adapter/handler"
	"github.com/rl1809/inventory-ledger/internal/adapter/messaging"
	"github.com/rl1809/inventory-ledger/internal/adapter/storage"
	"github.com/rl1809/inventory-ledger/internal/core/service"
	"github.com/rl1809/inventory-ledger/internal/port"
	"github.com/rl1809/inventory-ledger/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := config.LoadEnv()

	logger, err := logging.New(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize MySQL
	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		logger.Fatal("failed to open mysql", zap.Error(err))
	}
	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)
	if err := db.PingContext(ctx); err != nil {
		logger.Fatal("failed to ping mysql", zap.Error(err))
	}
	logger.Info("connected to mysql")

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to connect redis", zap.Error(err))
	}
	logger.Info("connected to redis")

	// Initialize Kafka publisher
	writer := messaging.NewWriter(cfg.Kafka.Brokers)
	publisher := messaging.NewKafkaPublisher(writer, cfg.Kafka.Topic)
	logger.Info("kafka publisher ready", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))

	// Initialize the ledger engine and adapters
	engine := service.NewLedgerEngine(service.Config{
		LowStockThreshold: cfg.Ledger.LowStockThreshold,
		JournalBuffer:     cfg.Ledger.JournalBuffer,
	}, publisher, logger)
	queries := service.NewQueryService(engine)
	redisAdapter := storage.NewRedisAdapter(rdb)
	mysqlAdapter := storage.NewMySQLAdapter(db)

	// Start journal worker pool
	var wg sync.WaitGroup
	for i := 0; i < cfg.Ledger.JournalWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			journalLoop(id, engine.Journal(), mysqlAdapter, logger)
		}(i)
	}
	logger.Info("started journal workers", zap.Int("count", cfg.Ledger.JournalWorkers))

	// Start expiry scheduler
	scheduler := service.NewExpiryScheduler(engine, cfg.Ledger.ExpiryInterval, logger)
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		scheduler.Run(ctx)
	}()

	// Start HTTP server
	httpHandler := handler.NewHTTPHandler(engine, queries, redisAdapter, logger)
	httpServer := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: httpHandler.Routes(),
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.Server.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Stop HTTP server first so no new commands arrive
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", zap.Error(err))
	}
	logger.Info("http server stopped")

	// Stop the scheduler, then drain the journal
	<-schedulerDone
	engine.Close()
	wg.Wait()
	logger.Info("journal drained")

	// Close connections
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", zap.Error(err))
	}
	rdb.Close()
	db.Close()
	logger.Info("connections closed")
}

// journalLoop persists committed ledger mutations. The in-memory ledger is
// authoritative; a failed write here is logged for replay, never rolled back
// into the ledger.
func journalLoop(id int, journal <-chan service.JournalEntry, db port.LedgerJournal, logger *zap.Logger) {
	for entry := range journal {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		persistEntry(ctx, id, entry, db, logger)
		cancel()
	}
}

func persistEntry(ctx context.Context, worker int, entry service.JournalEntry, db port.LedgerJournal, logger *zap.Logger) {
	if entry.Unit != nil {
		if err := db.SaveStockUnit(ctx, *entry.Unit); err != nil {
			logger.Error("journal stock unit write failed", zap.Int("worker", worker),
				zap.String("product_id", entry.Unit.ProductID), zap.Error(err))
		}
	}
	for _, batch := range entry.Batches {
		if err := db.SaveBatch(ctx, batch); err != nil {
			logger.Error("journal batch write failed", zap.Int("worker", worker),
				zap.String("batch_id", batch.BatchID), zap.Error(err))
		}
	}
	for _, batchID := range entry.RemovedBatches {
		if err := db.DeleteBatch(ctx, batchID); err != nil {
			logger.Error("journal batch delete failed", zap.Int("worker", worker),
				zap.String("batch_id", batchID), zap.Error(err))
		}
	}
	if entry.Reservation != nil {
		if err := db.SaveReservation(ctx, *entry.Reservation); err != nil {
			logger.Error("journal reservation write failed", zap.Int("worker", worker),
				zap.String("reservation_id", entry.Reservation.ReservationID), zap.Error(err))
		}
	}
	if entry.Adjustment != nil {
		if err := db.SaveAdjustment(ctx, *entry.Adjustment); err != nil {
			logger.Error("journal adjustment write failed", zap.Int("worker", worker),
				zap.String("adjustment_id", entry.Adjustment.AdjustmentID), zap.Error(err))
		}
	}
}
