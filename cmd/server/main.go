package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/api"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/app"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/config"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/logging"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/scheduler"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("build app", zap.Error(err))
	}
	defer a.Close()

	mux := http.NewServeMux()
	api.NewHandler(a.Ledger, logger.Named("api")).Routes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sched := scheduler.New(logger.Named("scheduler"),
		scheduler.Job{
			Name:     "sweep",
			Interval: cfg.Scheduler.SweepInterval,
			Run: func(ctx context.Context) error {
				_, err := a.Ledger.Sweep(ctx)
				return err
			},
		},
		scheduler.Job{
			Name:     "execute-withdrawals",
			Interval: cfg.Scheduler.WithdrawalInterval,
			Run: func(ctx context.Context) error {
				_, err := a.Ledger.ExecuteWithdrawals(ctx)
				return err
			},
		},
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return sched.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		return
	}
	logger.Info("server stopped")
}
