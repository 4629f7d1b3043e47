package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	interfaces "github.com/sheikh-saqib/coin-tip-ledger/internal/interfaces"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/metrics"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/models"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/models/events"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config holds the ledger's policy knobs.
type Config struct {
	// MinConf is the confirmation depth a deposit needs before it is credited.
	MinConf int64
	// ConfirmingWindow limits which pending deposits count towards the confirming balance.
	ConfirmingWindow time.Duration
	// SweepWindow limits which pending deposits the sweeper still checks.
	SweepWindow time.Duration
	// AddressRotation is how long a deposit address is handed out before a new one is issued.
	AddressRotation time.Duration
	// WithdrawalMinimum is the smallest amount a withdrawal may request; the minimum itself is allowed.
	WithdrawalMinimum decimal.Decimal
	// PayoutMinConf is passed to the daemon's batched payment call.
	PayoutMinConf int
	// StaleBatchAfter is how long a claimed payout batch may stay unfinished before it is reported.
	StaleBatchAfter time.Duration
	MaxAttempts     int
}

// DefaultConfig returns the production defaults: six confirmations, a
// freshness window of ten minutes per confirmation, weekly address rotation
// and a 0.01 withdrawal minimum.
func DefaultConfig() Config {
	const minConf = 6
	return Config{
		MinConf:           minConf,
		ConfirmingWindow:  10 * minConf * time.Minute,
		SweepWindow:       10 * minConf * time.Minute,
		AddressRotation:   7 * 24 * time.Hour,
		WithdrawalMinimum: decimal.RequireFromString("0.01"),
		PayoutMinConf:     1,
		StaleBatchAfter:   time.Hour,
		MaxAttempts:       DefaultMaxAttempts,
	}
}

// Ledger is the settlement engine: balances, deposits, transfers and payouts.
// Every store access goes through the Executor.
type Ledger struct {
	exec      *Executor
	rpc       interfaces.CoinRPC
	publisher interfaces.EventPublisher
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures optional Ledger collaborators.
type Option func(*Ledger)

// WithPublisher sets where ledger events go after their transaction commits.
func WithPublisher(p interfaces.EventPublisher) Option {
	return func(l *Ledger) { l.publisher = p }
}

// WithLogger sets the logger; the executor logs under its "executor" child.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger is a constructor function that creates a new Ledger over store
// and rpc. Events are dropped unless WithPublisher is given.
func NewLedger(store interfaces.LedgerStore, rpc interfaces.CoinRPC, cfg Config, opts ...Option) *Ledger {
	l := &Ledger{
		rpc:    rpc,
		cfg:    cfg,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	l.exec = NewExecutor(store, cfg.MaxAttempts, l.logger.Named("executor"))
	return l
}

// Balance is an account's spendable balance plus deposits still confirming.
type Balance struct {
	Settled    decimal.Decimal
	Confirming decimal.Decimal
}

// GetBalance creates the account if needed and returns its balances.
func (l *Ledger) GetBalance(ctx context.Context, account string) (Balance, error) {
	var b Balance
	err := l.exec.Execute(ctx, "get balance", func(ctx context.Context, tx interfaces.LedgerTx) error {
		if err := tx.EnsureAccount(ctx, account); err != nil {
			return err
		}
		settled, err := tx.Balance(ctx, account)
		if err != nil {
			return err
		}
		confirming, err := tx.PendingValue(ctx, account, l.now().Add(-l.cfg.ConfirmingWindow))
		if err != nil {
			return err
		}
		b = Balance{Settled: settled, Confirming: confirming}
		return nil
	})
	return b, err
}

// GetOrIssueAddress returns the account's current deposit address, asking the
// wallet for a new one when none exists or the newest has passed rotation.
func (l *Ledger) GetOrIssueAddress(ctx context.Context, account string) (models.AddressBinding, error) {
	var binding models.AddressBinding
	err := l.exec.Execute(ctx, "get or issue address", func(ctx context.Context, tx interfaces.LedgerTx) error {
		if err := tx.EnsureAccount(ctx, account); err != nil {
			return err
		}

		now := l.now()
		latest, err := tx.LatestAddress(ctx, account)
		if err != nil {
			return err
		}
		if latest != nil && !latest.Expired(now, l.cfg.AddressRotation) {
			binding = *latest
			return nil
		}

		address, err := l.rpc.GetNewAddress(ctx)
		if err != nil {
			return models.NewError(models.KindExternalCallFailure, "getnewaddress", err)
		}

		binding = models.AddressBinding{Account: account, Address: address, IssuedAt: now}
		if err := tx.BindAddress(ctx, binding); err != nil {
			return err
		}
		l.logger.Info("deposit address issued", zap.String("account", account), zap.String("address", address))
		return nil
	})
	return binding, err
}

// Addresses lists every address ever issued to account, oldest first.
func (l *Ledger) Addresses(ctx context.Context, account string) ([]models.AddressBinding, error) {
	var bindings []models.AddressBinding
	err := l.exec.Execute(ctx, "list addresses", func(ctx context.Context, tx interfaces.LedgerTx) error {
		var err error
		bindings, err = tx.AddressesByAccount(ctx, account)
		return err
	})
	return bindings, err
}

// Move transfers an amount between two accounts and returns it. amountSpec
// is a decimal literal, truncated to eight places, or AmountAll.
func (l *Ledger) Move(ctx context.Context, from, to, amountSpec string) (decimal.Decimal, error) {
	if from == to {
		metrics.Transfers.WithLabelValues(models.KindSelfTransfer.String()).Inc()
		return decimal.Zero, models.Errorf(models.KindSelfTransfer, "move", "account %s cannot pay itself", from)
	}

	var transfer models.Transfer
	err := l.exec.Execute(ctx, "move", func(ctx context.Context, tx interfaces.LedgerTx) error {
		if err := tx.EnsureAccount(ctx, from); err != nil {
			return err
		}
		if err := tx.EnsureAccount(ctx, to); err != nil {
			return err
		}

		amount, err := resolveAmount(ctx, tx, "move", from, amountSpec, decimal.Zero)
		if err != nil {
			return err
		}
		if _, err := tx.AdjustBalance(ctx, from, amount.Neg()); err != nil {
			return err
		}
		if _, err := tx.AdjustBalance(ctx, to, amount); err != nil {
			return err
		}

		transfer = models.Transfer{
			ID:          uuid.New().String(),
			FromAccount: from,
			ToAccount:   to,
			Amount:      amount,
			CreatedAt:   l.now(),
		}
		return nil
	})
	if err != nil {
		metrics.Transfers.WithLabelValues(models.KindOf(err).String()).Inc()
		return decimal.Zero, err
	}

	metrics.Transfers.WithLabelValues("ok").Inc()
	l.logger.Info("transfer completed",
		zap.String("from", from),
		zap.String("to", to),
		zap.String("amount", transfer.Amount.String()),
	)
	l.publish(ctx, events.TopicTransferCompleted, transfer.FromAccount, events.TransferCompleted{
		EventID:       uuid.New().String(),
		TransactionID: transfer.ID,
		FromAccount:   transfer.FromAccount,
		ToAccount:     transfer.ToAccount,
		Amount:        transfer.Amount,
		OccurredAt:    transfer.CreatedAt,
	})
	return transfer.Amount, nil
}

// RequestWithdrawal reserves funds for a payout to address. The account is
// debited at once; the payout itself happens in ExecuteWithdrawals.
func (l *Ledger) RequestWithdrawal(ctx context.Context, account, address, amountSpec string) (models.WithdrawalRequest, error) {
	valid, err := l.rpc.ValidateAddress(ctx, address)
	if err != nil {
		metrics.WithdrawalRequests.WithLabelValues(models.KindExternalCallFailure.String()).Inc()
		return models.WithdrawalRequest{}, models.NewError(models.KindExternalCallFailure, "validateaddress", err)
	}
	if !valid {
		metrics.WithdrawalRequests.WithLabelValues(models.KindInvalidAddress.String()).Inc()
		return models.WithdrawalRequest{}, models.Errorf(models.KindInvalidAddress, "request withdrawal", "address %q is not valid", address)
	}

	var req models.WithdrawalRequest
	err = l.exec.Execute(ctx, "request withdrawal", func(ctx context.Context, tx interfaces.LedgerTx) error {
		if err := tx.EnsureAccount(ctx, account); err != nil {
			return err
		}

		amount, err := resolveAmount(ctx, tx, "request withdrawal", account, amountSpec, l.cfg.WithdrawalMinimum)
		if err != nil {
			return err
		}
		if _, err := tx.AdjustBalance(ctx, account, amount.Neg()); err != nil {
			return err
		}

		now := l.now()
		req = models.WithdrawalRequest{
			ID:        uuid.New(),
			Account:   account,
			Address:   address,
			Amount:    amount,
			Status:    models.WithdrawalPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return tx.InsertWithdrawal(ctx, req)
	})
	if err != nil {
		metrics.WithdrawalRequests.WithLabelValues(models.KindOf(err).String()).Inc()
		return models.WithdrawalRequest{}, err
	}

	metrics.WithdrawalRequests.WithLabelValues("ok").Inc()
	l.logger.Info("withdrawal requested",
		zap.String("withdrawal_id", req.ID.String()),
		zap.String("account", account),
		zap.String("address", address),
		zap.String("amount", req.Amount.String()),
	)
	l.publish(ctx, events.TopicWithdrawalRequested, req.Account, withdrawalEvent(req))
	return req, nil
}

func (l *Ledger) publish(ctx context.Context, topic, key string, event any) {
	if l.publisher == nil {
		return
	}
	if err := l.publisher.Publish(ctx, topic, key, event); err != nil {
		metrics.EventPublishErrors.WithLabelValues(topic).Inc()
		l.logger.Warn("event publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

func withdrawalEvent(w models.WithdrawalRequest) events.WithdrawalEvent {
	return events.WithdrawalEvent{
		EventID:      uuid.New().String(),
		WithdrawalID: w.ID.String(),
		Account:      w.Account,
		Address:      w.Address,
		Amount:       w.Amount,
		Status:       w.Status.String(),
		PaymentTxID:  w.PaymentTxID,
		OccurredAt:   w.UpdatedAt,
	}
}
