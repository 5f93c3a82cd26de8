package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/jeffsasaki/robokassa-order-processor/clients"
	"github.com/jeffsasaki/robokassa-order-processor/config"
	"github.com/jeffsasaki/robokassa-order-processor/logging"
	"github.com/jeffsasaki/robokassa-order-processor/migrations"
	"github.com/jeffsasaki/robokassa-order-processor/orders"
	"github.com/jeffsasaki/robokassa-order-processor/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := run(context.Background(), cfg, logger); err != nil {
		logger.Error("order processor stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	checks := map[string]server.HealthCheck{}

	var store orders.Store
	if cfg.DatabaseURL != "" {
		db, err := openDatabase(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()

		pg := orders.NewPostgresStore(db)
		checks["postgres"] = pg.Ping
		store = pg
		logger.Info("using postgres order store")
	} else {
		store = orders.NewMemoryStore()
		logger.Warn("DATABASE_URL not set, orders are kept in memory")
	}

	svc := orders.NewService(store, cfg.Merchant())
	if cfg.SeedDemoOrders {
		if err := svc.SeedDemoOrders(ctx, logger); err != nil {
			return err
		}
	}

	if cfg.AMQPURL != "" {
		amqpClient, err := clients.Dial(cfg.AMQPURL)
		if err != nil {
			return fmt.Errorf("connect to RabbitMQ: %w", err)
		}
		defer amqpClient.Close()
		checks["rabbitmq"] = amqpClient.Ping

		if err := setupPaymentUpdateListener(amqpClient, cfg.PaymentUpdatesQueue, svc, logger); err != nil {
			return err
		}
	}

	router := server.NewRouter(logger, cfg.IsProduction(), checks)
	NewHandler(svc).RegisterRoutes(router)

	logger.Info("order processor configured",
		"env", cfg.Env,
		"merchant", cfg.MerchantLogin,
		"test_mode", cfg.TestMode,
	)
	return server.Run(ctx, ":"+cfg.Port, router, logger)
}

func openDatabase(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := migrations.Up(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

func setupPaymentUpdateListener(client clients.AmqpClient, queue string, svc *orders.Service, logger *slog.Logger) error {
	if err := client.DeclareQueue(queue); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	listener := NewPaymentUpdateListener(svc, logger)
	if err := client.SetupConsumer(queue, listener.HandleDelivery); err != nil {
		return fmt.Errorf("consume queue %s: %w", queue, err)
	}
	logger.Info("listening for payment updates", "queue", queue)
	return nil
}
