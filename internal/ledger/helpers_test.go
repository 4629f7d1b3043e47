package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/sheikh-saqib/coin-tip-ledger/internal/coinrpc/coinrpctest"
	interfaces "github.com/sheikh-saqib/coin-tip-ledger/internal/interfaces"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/ledger"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/models"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/storage/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, topic string, key string, event any) error {
	args := m.Called(topic, key, event)
	return args.Error(0)
}

type fixture struct {
	ledger    *ledger.Ledger
	store     *memory.MemoryLedgerStore
	wallet    *coinrpctest.Wallet
	publisher *mockPublisher
	cfg       ledger.Config
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:     memory.NewMemoryLedgerStore(),
		wallet:    coinrpctest.NewWallet(),
		publisher: &mockPublisher{},
		cfg:       ledger.DefaultConfig(),
		now:       time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	f.ledger = ledger.NewLedger(f.store, f.wallet, f.cfg,
		ledger.WithPublisher(f.publisher),
		ledger.WithClock(func() time.Time { return f.now }),
	)
	return f
}

// useRPC rebuilds the ledger over the same store with a different daemon.
func (f *fixture) useRPC(rpc interfaces.CoinRPC) {
	f.ledger = ledger.NewLedger(f.store, rpc, f.cfg,
		ledger.WithPublisher(f.publisher),
		ledger.WithClock(func() time.Time { return f.now }),
	)
}

// interruptingWallet cancels the caller's context once, from inside the
// named daemon call, the way a shutdown signal landing mid-request does.
// The underlying call still reaches the wallet.
type interruptingWallet struct {
	*coinrpctest.Wallet
	method string
	cancel context.CancelFunc
}

func (w *interruptingWallet) interrupt(ctx context.Context, method string) error {
	if method != w.method {
		return nil
	}
	w.method = ""
	w.cancel()
	return ctx.Err()
}

func (w *interruptingWallet) GetRawTransaction(ctx context.Context, txid string) (string, error) {
	raw, err := w.Wallet.GetRawTransaction(ctx, txid)
	if ierr := w.interrupt(ctx, "getrawtransaction"); ierr != nil {
		return "", ierr
	}
	return raw, err
}

func (w *interruptingWallet) GetTransaction(ctx context.Context, txid string) (*models.WalletTx, error) {
	wtx, err := w.Wallet.GetTransaction(ctx, txid)
	if ierr := w.interrupt(ctx, "gettransaction"); ierr != nil {
		return nil, ierr
	}
	return wtx, err
}

func (w *interruptingWallet) SendMany(ctx context.Context, amounts map[string]decimal.Decimal, minConf int) (string, error) {
	txid, err := w.Wallet.SendMany(ctx, amounts, minConf)
	if ierr := w.interrupt(ctx, "sendmany"); ierr != nil {
		return "", ierr
	}
	return txid, err
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

// fund credits account directly in the store, bypassing the deposit pipeline.
func (f *fixture) fund(t *testing.T, account, amount string) {
	t.Helper()
	ctx := context.Background()

	tx, err := f.store.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.AdjustBalance(ctx, account, dec(amount))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
}

func (f *fixture) settled(t *testing.T, account string) decimal.Decimal {
	t.Helper()
	b, err := f.ledger.GetBalance(context.Background(), account)
	require.NoError(t, err)
	return b.Settled
}

func (f *fixture) notifications(txid string) []models.DepositNotification {
	var out []models.DepositNotification
	for _, n := range f.store.Snapshot().Notifications {
		if n.TxID == txid {
			out = append(out, n)
		}
	}
	return out
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func output(address, value string) models.TxOutput {
	return models.TxOutput{Addresses: []string{address}, Value: dec(value)}
}

// requireDecimal compares decimals by value, so 5.5 equals 5.50000000.
func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got)
}
