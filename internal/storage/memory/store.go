package memory

import (
	"context" // standard Go package for request-scoped context (timeouts, cancellation)
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	interfaces "github.com/sheikh-saqib/coin-tip-ledger/internal/interfaces" // interface LedgerStore
	"github.com/sheikh-saqib/coin-tip-ledger/internal/models"                // domain models
	"github.com/shopspring/decimal"
)

var errTxDone = errors.New("memory: transaction already finished")

// tables is one consistent copy of every ledger table.
type tables struct {
	accounts      map[string]decimal.Decimal
	addresses     []models.AddressBinding
	byAddress     map[string]string
	notifications []models.DepositNotification
	withdrawals   []models.WithdrawalRequest
}

func newTables() *tables {
	return &tables{
		accounts:  make(map[string]decimal.Decimal),
		byAddress: make(map[string]string),
	}
}

func (t *tables) clone() *tables {
	c := &tables{
		accounts:      make(map[string]decimal.Decimal, len(t.accounts)),
		addresses:     append([]models.AddressBinding(nil), t.addresses...),
		byAddress:     make(map[string]string, len(t.byAddress)),
		notifications: append([]models.DepositNotification(nil), t.notifications...),
		withdrawals:   append([]models.WithdrawalRequest(nil), t.withdrawals...),
	}
	for k, v := range t.accounts {
		c.accounts[k] = v
	}
	for k, v := range t.byAddress {
		c.byAddress[k] = v
	}
	return c
}

// MemoryLedgerStore is an in-memory implementation of interfaces.LedgerStore.
// A transaction holds the store exclusively from Begin until Commit or Rollback
// and works on a private copy of the tables, so an abandoned transaction leaves
// no trace.
type MemoryLedgerStore struct {
	lock    chan struct{} // single slot: whoever holds it owns the store
	current *tables       // last committed state
}

// NewMemoryLedgerStore creates and returns a new, empty MemoryLedgerStore
func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{
		lock:    make(chan struct{}, 1),
		current: newTables(),
	}
}

// Begin waits for exclusive access to the store or for ctx to end.
func (m *MemoryLedgerStore) Begin(ctx context.Context) (interfaces.LedgerTx, error) {
	select {
	case m.lock <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("memory: begin: %w", ctx.Err())
	}
	return &memoryTx{store: m, t: m.current.clone()}, nil
}

// Snapshot returns a copy of the committed tables. Useful for tests and debugging.
func (m *MemoryLedgerStore) Snapshot() Snapshot {
	m.lock <- struct{}{}
	defer func() { <-m.lock }()

	c := m.current.clone()
	return Snapshot{
		Accounts:      c.accounts,
		Addresses:     c.addresses,
		Notifications: c.notifications,
		Withdrawals:   c.withdrawals,
	}
}

// Snapshot is a point-in-time copy of the committed ledger.
type Snapshot struct {
	Accounts      map[string]decimal.Decimal
	Addresses     []models.AddressBinding
	Notifications []models.DepositNotification
	Withdrawals   []models.WithdrawalRequest
}

// TotalBalance sums every settled balance in the snapshot.
func (s Snapshot) TotalBalance() decimal.Decimal {
	total := decimal.Zero
	for _, b := range s.Accounts {
		total = total.Add(b)
	}
	return total
}

type memoryTx struct {
	store *MemoryLedgerStore
	t     *tables
	done  bool
}

func (tx *memoryTx) finish() error {
	if tx.done {
		return errTxDone
	}
	tx.done = true
	<-tx.store.lock
	return nil
}

func (tx *memoryTx) Commit() error {
	if tx.done {
		return errTxDone
	}
	tx.store.current = tx.t
	return tx.finish()
}

func (tx *memoryTx) Rollback() error {
	if tx.done {
		return nil
	}
	return tx.finish()
}

func (tx *memoryTx) EnsureAccount(ctx context.Context, account string) error {
	if _, ok := tx.t.accounts[account]; !ok {
		tx.t.accounts[account] = decimal.Zero
	}
	return nil
}

func (tx *memoryTx) Balance(ctx context.Context, account string) (decimal.Decimal, error) {
	return tx.t.accounts[account], nil
}

func (tx *memoryTx) AdjustBalance(ctx context.Context, account string, delta decimal.Decimal) (decimal.Decimal, error) {
	next := tx.t.accounts[account].Add(delta)
	if next.IsNegative() {
		return decimal.Zero, models.Errorf(models.KindInvariantViolation, "adjust balance",
			"account %s would reach %s", account, next.String())
	}
	tx.t.accounts[account] = next
	return next, nil
}

func (tx *memoryTx) PendingValue(ctx context.Context, account string, since time.Time) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, n := range tx.t.notifications {
		if n.State == models.StatePending && n.Account != nil && *n.Account == account && n.ObservedAt.After(since) {
			sum = sum.Add(n.Value)
		}
	}
	return sum, nil
}

func (tx *memoryTx) LatestAddress(ctx context.Context, account string) (*models.AddressBinding, error) {
	var latest *models.AddressBinding
	for i := range tx.t.addresses {
		b := tx.t.addresses[i]
		if b.Account != account {
			continue
		}
		if latest == nil || b.IssuedAt.After(latest.IssuedAt) {
			latest = &b
		}
	}
	return latest, nil
}

func (tx *memoryTx) BindAddress(ctx context.Context, binding models.AddressBinding) error {
	if owner, ok := tx.t.byAddress[binding.Address]; ok {
		return fmt.Errorf("memory: address %s already bound to %s", binding.Address, owner)
	}
	tx.t.addresses = append(tx.t.addresses, binding)
	tx.t.byAddress[binding.Address] = binding.Account
	return nil
}

func (tx *memoryTx) AddressesByAccount(ctx context.Context, account string) ([]models.AddressBinding, error) {
	var result []models.AddressBinding
	for _, b := range tx.t.addresses {
		if b.Account == account {
			result = append(result, b)
		}
	}
	return result, nil
}

func (tx *memoryTx) AccountByAddress(ctx context.Context, address string) (string, bool, error) {
	account, ok := tx.t.byAddress[address]
	return account, ok, nil
}

func (tx *memoryTx) NotificationExists(ctx context.Context, txid string) (bool, error) {
	for _, n := range tx.t.notifications {
		if n.TxID == txid {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memoryTx) InsertNotification(ctx context.Context, n models.DepositNotification) error {
	if n.Account != nil {
		for _, existing := range tx.t.notifications {
			if existing.Account != nil && *existing.Account == *n.Account && existing.TxID == n.TxID && existing.Vout == n.Vout {
				return models.Errorf(models.KindInvariantViolation, "insert notification",
					"output %s:%d is already attributed to %s", n.TxID, n.Vout, *n.Account)
			}
		}
	}
	tx.t.notifications = append(tx.t.notifications, n)
	return nil
}

func (tx *memoryTx) PendingTxIDs(ctx context.Context, since time.Time) ([]string, error) {
	seen := make(map[string]struct{})
	var txids []string
	for _, n := range tx.t.notifications {
		if n.State != models.StatePending || !n.ObservedAt.After(since) {
			continue
		}
		if _, ok := seen[n.TxID]; ok {
			continue
		}
		seen[n.TxID] = struct{}{}
		txids = append(txids, n.TxID)
	}
	sort.Strings(txids)
	return txids, nil
}

func (tx *memoryTx) PendingNotifications(ctx context.Context, txid string) ([]models.DepositNotification, error) {
	var result []models.DepositNotification
	for _, n := range tx.t.notifications {
		if n.TxID == txid && n.State == models.StatePending {
			result = append(result, n)
		}
	}
	return result, nil
}

func (tx *memoryTx) SetNotificationState(ctx context.Context, txid string, from, to models.ConfirmationState) (int, error) {
	changed := 0
	for i := range tx.t.notifications {
		n := &tx.t.notifications[i]
		if n.TxID == txid && n.State == from {
			n.State = to
			changed++
		}
	}
	return changed, nil
}

func (tx *memoryTx) InsertWithdrawal(ctx context.Context, w models.WithdrawalRequest) error {
	tx.t.withdrawals = append(tx.t.withdrawals, w)
	return nil
}

func (tx *memoryTx) ClaimPendingWithdrawals(ctx context.Context, batchID uuid.UUID, now time.Time) ([]models.WithdrawalRequest, error) {
	var claimed []models.WithdrawalRequest
	for i := range tx.t.withdrawals {
		w := &tx.t.withdrawals[i]
		if w.Status != models.WithdrawalPending || w.BatchID != nil {
			continue
		}
		id := batchID
		w.BatchID = &id
		w.UpdatedAt = now
		claimed = append(claimed, *w)
	}
	return claimed, nil
}

func (tx *memoryTx) WithdrawalsByBatch(ctx context.Context, batchID uuid.UUID) ([]models.WithdrawalRequest, error) {
	var result []models.WithdrawalRequest
	for _, w := range tx.t.withdrawals {
		if w.BatchID != nil && *w.BatchID == batchID {
			result = append(result, w)
		}
	}
	return result, nil
}

func (tx *memoryTx) FinishWithdrawal(ctx context.Context, id uuid.UUID, status models.WithdrawalStatus, paymentTxID string, now time.Time) error {
	for i := range tx.t.withdrawals {
		w := &tx.t.withdrawals[i]
		if w.ID != id {
			continue
		}
		if w.Status != models.WithdrawalPending {
			return fmt.Errorf("memory: withdrawal %s is already %s", id, w.Status)
		}
		w.Status = status
		w.PaymentTxID = paymentTxID
		w.UpdatedAt = now
		return nil
	}
	return fmt.Errorf("memory: withdrawal %s not found", id)
}

func (tx *memoryTx) StaleWithdrawals(ctx context.Context, claimedBefore time.Time) ([]models.WithdrawalRequest, error) {
	var result []models.WithdrawalRequest
	for _, w := range tx.t.withdrawals {
		if w.Status == models.WithdrawalPending && w.BatchID != nil && w.UpdatedAt.Before(claimedBefore) {
			result = append(result, w)
		}
	}
	return result, nil
}

// Compile-time check: ensure MemoryLedgerStore implements LedgerStore interface
var _ interfaces.LedgerStore = (*MemoryLedgerStore)(nil)
var _ interfaces.LedgerTx = (*memoryTx)(nil)
