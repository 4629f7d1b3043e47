// Command ledgerctl runs one ledger operation and exits. It is meant for
// wallet notify hooks and cron:
//
//	walletnotify=ledgerctl notify-tx %s
//	*/5 * * * * ledgerctl check-tx
//	0 * * * *   ledgerctl exec-withdrawal
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sheikh-saqib/coin-tip-ledger/internal/app"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/config"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/ledger"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/logging"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/models"
	"go.uber.org/zap"
)

const usage = `usage: ledgerctl <command> [args]

commands:
  init-db                  apply database migrations
  notify-tx <txid>         attribute a wallet transaction to accounts
  check-tx                 settle deposits that reached the confirmation depth
  exec-withdrawal          pay out pending withdrawals in one batch
  stale-withdrawals        list payout batches that never finished
  balance <account>        print an account's balances
`

func main() {
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

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

	if err := run(ctx, a.Ledger, cfg.DB.Driver, os.Stdout, flag.Args()); err != nil {
		logger.Error("command failed", zap.String("command", flag.Arg(0)), zap.Error(err))
		a.Close()
		os.Exit(1)
	}
}

// run executes one command. driver names the store the ledger was built on;
// Build has already migrated a postgres store by the time run is called.
func run(ctx context.Context, l *ledger.Ledger, driver string, out io.Writer, args []string) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	switch args[0] {
	case "init-db":
		if driver == config.StoreMemory {
			return fmt.Errorf("init-db: STORE_DRIVER=%s has no schema to migrate", driver)
		}
		return enc.Encode(map[string]string{"status": "migrated", "driver": driver})

	case "notify-tx":
		if len(args) < 2 {
			return fmt.Errorf("notify-tx: txid argument is missing")
		}
		result, err := l.NotifyTransaction(ctx, args[1])
		if err != nil {
			return err
		}
		return enc.Encode(map[string]any{
			"txid":      result.TxID,
			"duplicate": result.Duplicate,
			"state":     result.State.String(),
			"matches":   result.Matches,
		})

	case "check-tx":
		result, err := l.Sweep(ctx)
		if err != nil {
			return err
		}
		return enc.Encode(result)

	case "exec-withdrawal":
		result, err := l.ExecuteWithdrawals(ctx)
		if err != nil {
			return err
		}
		body := map[string]any{
			"batch_id":     result.BatchID.String(),
			"outcome":      result.Outcome,
			"requests":     result.Requests,
			"payouts":      result.Payouts,
			"payment_txid": result.PaymentTxID,
		}
		if result.PaymentErr != nil {
			body["payment_error"] = result.PaymentErr.Error()
		}
		return enc.Encode(body)

	case "stale-withdrawals":
		stale, err := l.StaleWithdrawals(ctx)
		if err != nil {
			return err
		}
		return enc.Encode(stale)

	case "balance":
		if len(args) < 2 {
			return fmt.Errorf("balance: account argument is missing")
		}
		b, err := l.GetBalance(ctx, args[1])
		if err != nil {
			return err
		}
		return enc.Encode(map[string]string{
			"account":    args[1],
			"balance":    models.FormatAmount(b.Settled),
			"confirming": models.FormatAmount(b.Confirming),
		})

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}
