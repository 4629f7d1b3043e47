// Package app wires configuration into a ready ledger for the commands.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sheikh-saqib/coin-tip-ledger/internal/coinrpc"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/config"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/events"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/events/kafka"
	interfaces "github.com/sheikh-saqib/coin-tip-ledger/internal/interfaces"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/ledger"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/storage/memory"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/storage/postgres"
	"go.uber.org/zap"
)

type App struct {
	Ledger *ledger.Ledger
	DB     *sql.DB // nil for the memory store

	closers []func() error
}

// Build opens the store, the daemon client and the event publisher.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{}

	store, err := a.openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	rpc := coinrpc.NewClient(coinrpc.Config{
		URL:             cfg.Coin.RPCURL,
		User:            cfg.Coin.RPCUser,
		Password:        cfg.Coin.RPCPassword,
		Timeout:         cfg.Coin.Timeout,
		RPS:             cfg.Coin.RPS,
		Burst:           cfg.Coin.Burst,
		BreakerFailures: uint32(cfg.Coin.BreakerFailures),
		BreakerCooldown: cfg.Coin.BreakerCooldown,
	}, logger)

	var publisher interfaces.EventPublisher = events.LogPublisher{Logger: logger.Named("events")}
	if len(cfg.Kafka.Brokers) > 0 {
		p := kafka.NewPublisher(cfg.Kafka.Brokers)
		a.closers = append(a.closers, p.Close)
		publisher = p
	}

	a.Ledger = ledger.NewLedger(store, rpc, cfg.Ledger,
		ledger.WithLogger(logger.Named("ledger")),
		ledger.WithPublisher(publisher),
	)
	return a, nil
}

func (a *App) openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (interfaces.LedgerStore, error) {
	if cfg.DB.Driver == config.StoreMemory {
		logger.Warn("using the in-memory store; balances are lost on exit")
		return memory.NewMemoryLedgerStore(), nil
	}

	db, err := postgres.Open(ctx, postgres.Config{
		URL:             cfg.DB.URL,
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
		LockTimeout:     cfg.DB.LockTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.RunMigrations(ctx, db, logger.Named("migrations")); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	a.DB = db
	a.closers = append(a.closers, db.Close)
	return postgres.NewPostgresLedgerStore(db), nil
}

// Close releases everything Build opened, last opened first.
func (a *App) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
