package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	interfaces "github.com/sheikh-saqib/coin-tip-ledger/internal/interfaces" // interface LedgerStore
	"github.com/sheikh-saqib/coin-tip-ledger/internal/models"
	"github.com/shopspring/decimal"
)

// PostgresLedgerStore is a PostgreSQL implementation of interfaces.LedgerStore.
// Every transaction runs at serializable isolation.
type PostgresLedgerStore struct {
	db *sql.DB
}

// NewPostgresLedgerStore creates a store on an open, migrated database.
func NewPostgresLedgerStore(db *sql.DB) *PostgresLedgerStore {
	return &PostgresLedgerStore{
		db: db,
	}
}

// Begin opens a serializable transaction.
func (p *PostgresLedgerStore) Begin(ctx context.Context) (interfaces.LedgerTx, error) {
	dbTx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, classify("begin", err)
	}
	return &postgresTx{tx: dbTx}, nil
}

type postgresTx struct {
	tx *sql.Tx
}

func (t *postgresTx) Commit() error {
	return classify("commit", t.tx.Commit())
}

func (t *postgresTx) Rollback() error {
	err := t.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}

func (t *postgresTx) EnsureAccount(ctx context.Context, account string) error {
	const query = `INSERT INTO accounts (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`

	_, err := t.tx.ExecContext(ctx, query, account)
	return classify("ensure account", err)
}

func (t *postgresTx) Balance(ctx context.Context, account string) (decimal.Decimal, error) {
	const query = `SELECT balance FROM accounts WHERE id = $1`

	var balance decimal.Decimal
	err := t.tx.QueryRowContext(ctx, query, account).Scan(&balance)
	if err == sql.ErrNoRows {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, classify("get balance", err)
	}
	return balance, nil
}

// AdjustBalance relies on the accounts CHECK constraint to reject negative results.
func (t *postgresTx) AdjustBalance(ctx context.Context, account string, delta decimal.Decimal) (decimal.Decimal, error) {
	const query = `INSERT INTO accounts (id, balance) VALUES ($1, $2)
	ON CONFLICT (id) DO UPDATE SET
		balance = accounts.balance + EXCLUDED.balance,
		updated_at = now()
	RETURNING balance`

	var balance decimal.Decimal
	if err := t.tx.QueryRowContext(ctx, query, account, delta).Scan(&balance); err != nil {
		return decimal.Zero, classify("adjust balance", err)
	}
	return balance, nil
}

func (t *postgresTx) PendingValue(ctx context.Context, account string, since time.Time) (decimal.Decimal, error) {
	const query = `SELECT COALESCE(SUM(value), 0) FROM deposit_notifications
	WHERE account = $1 AND state = $2 AND observed_at > $3`

	var sum decimal.Decimal
	if err := t.tx.QueryRowContext(ctx, query, account, models.StatePending, since).Scan(&sum); err != nil {
		return decimal.Zero, classify("pending value", err)
	}
	return sum, nil
}

func (t *postgresTx) LatestAddress(ctx context.Context, account string) (*models.AddressBinding, error) {
	const query = `SELECT account, address, issued_at FROM account_addresses
	WHERE account = $1 ORDER BY issued_at DESC LIMIT 1`

	var b models.AddressBinding
	err := t.tx.QueryRowContext(ctx, query, account).Scan(&b.Account, &b.Address, &b.IssuedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify("latest address", err)
	}
	return &b, nil
}

func (t *postgresTx) BindAddress(ctx context.Context, binding models.AddressBinding) error {
	const query = `INSERT INTO account_addresses (account, address, issued_at) VALUES ($1, $2, $3)`

	_, err := t.tx.ExecContext(ctx, query, binding.Account, binding.Address, binding.IssuedAt)
	return classify("bind address", err)
}

func (t *postgresTx) AddressesByAccount(ctx context.Context, account string) ([]models.AddressBinding, error) {
	const query = `SELECT account, address, issued_at FROM account_addresses
	WHERE account = $1 ORDER BY issued_at`

	rows, err := t.tx.QueryContext(ctx, query, account)
	if err != nil {
		return nil, classify("addresses by account", err)
	}
	defer rows.Close()

	var bindings []models.AddressBinding
	for rows.Next() {
		var b models.AddressBinding
		if err := rows.Scan(&b.Account, &b.Address, &b.IssuedAt); err != nil {
			return nil, classify("scan address", err)
		}
		bindings = append(bindings, b)
	}
	return bindings, classify("addresses by account", rows.Err())
}

func (t *postgresTx) AccountByAddress(ctx context.Context, address string) (string, bool, error) {
	const query = `SELECT account FROM account_addresses WHERE address = $1`

	var account string
	err := t.tx.QueryRowContext(ctx, query, address).Scan(&account)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify("account by address", err)
	}
	return account, true, nil
}

func (t *postgresTx) NotificationExists(ctx context.Context, txid string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM deposit_notifications WHERE txid = $1)`

	var exists bool
	if err := t.tx.QueryRowContext(ctx, query, txid).Scan(&exists); err != nil {
		return false, classify("notification exists", err)
	}
	return exists, nil
}

func (t *postgresTx) InsertNotification(ctx context.Context, n models.DepositNotification) error {
	const query = `INSERT INTO deposit_notifications (id, txid, vout, observed_at, state, account, value)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

	var value decimal.NullDecimal
	if n.Account != nil {
		value = decimal.NewNullDecimal(n.Value)
	}
	_, err := t.tx.ExecContext(ctx, query, n.ID, n.TxID, n.Vout, n.ObservedAt, n.State, n.Account, value)
	return classify("insert notification", err)
}

func (t *postgresTx) PendingTxIDs(ctx context.Context, since time.Time) ([]string, error) {
	const query = `SELECT DISTINCT txid FROM deposit_notifications
	WHERE state = $1 AND observed_at > $2 ORDER BY txid`

	rows, err := t.tx.QueryContext(ctx, query, models.StatePending, since)
	if err != nil {
		return nil, classify("pending txids", err)
	}
	defer rows.Close()

	var txids []string
	for rows.Next() {
		var txid string
		if err := rows.Scan(&txid); err != nil {
			return nil, classify("scan txid", err)
		}
		txids = append(txids, txid)
	}
	return txids, classify("pending txids", rows.Err())
}

func (t *postgresTx) PendingNotifications(ctx context.Context, txid string) ([]models.DepositNotification, error) {
	const query = `SELECT id, txid, vout, observed_at, state, account, value FROM deposit_notifications
	WHERE txid = $1 AND state = $2 ORDER BY vout`

	rows, err := t.tx.QueryContext(ctx, query, txid, models.StatePending)
	if err != nil {
		return nil, classify("pending notifications", err)
	}
	defer rows.Close()

	var result []models.DepositNotification
	for rows.Next() {
		var (
			n       models.DepositNotification
			account sql.NullString
			value   decimal.NullDecimal
		)
		if err := rows.Scan(&n.ID, &n.TxID, &n.Vout, &n.ObservedAt, &n.State, &account, &value); err != nil {
			return nil, classify("scan notification", err)
		}
		if account.Valid {
			a := account.String
			n.Account = &a
		}
		n.Value = value.Decimal
		result = append(result, n)
	}
	return result, classify("pending notifications", rows.Err())
}

func (t *postgresTx) SetNotificationState(ctx context.Context, txid string, from, to models.ConfirmationState) (int, error) {
	const query = `UPDATE deposit_notifications SET state = $3 WHERE txid = $1 AND state = $2`

	res, err := t.tx.ExecContext(ctx, query, txid, from, to)
	if err != nil {
		return 0, classify("set notification state", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify("set notification state", err)
	}
	return int(n), nil
}

func (t *postgresTx) InsertWithdrawal(ctx context.Context, w models.WithdrawalRequest) error {
	const query = `INSERT INTO withdrawal_requests (id, account, address, amount, status, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := t.tx.ExecContext(ctx, query, w.ID, w.Account, w.Address, w.Amount, w.Status, w.CreatedAt, w.UpdatedAt)
	return classify("insert withdrawal", err)
}

const withdrawalColumns = `id, account, address, amount, status, batch_id, payment_txid, created_at, updated_at`

func (t *postgresTx) ClaimPendingWithdrawals(ctx context.Context, batchID uuid.UUID, now time.Time) ([]models.WithdrawalRequest, error) {
	query := `UPDATE withdrawal_requests SET batch_id = $1, updated_at = $2
	WHERE status = $3 AND batch_id IS NULL
	RETURNING ` + withdrawalColumns

	return t.queryWithdrawals(ctx, "claim withdrawals", query, batchID, now, models.WithdrawalPending)
}

func (t *postgresTx) WithdrawalsByBatch(ctx context.Context, batchID uuid.UUID) ([]models.WithdrawalRequest, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests WHERE batch_id = $1 ORDER BY created_at`

	return t.queryWithdrawals(ctx, "withdrawals by batch", query, batchID)
}

func (t *postgresTx) FinishWithdrawal(ctx context.Context, id uuid.UUID, status models.WithdrawalStatus, paymentTxID string, now time.Time) error {
	const query = `UPDATE withdrawal_requests SET status = $2, payment_txid = $3, updated_at = $4
	WHERE id = $1 AND status = $5`

	res, err := t.tx.ExecContext(ctx, query, id, status, paymentTxID, now, models.WithdrawalPending)
	if err != nil {
		return classify("finish withdrawal", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify("finish withdrawal", err)
	}
	if n == 0 {
		return fmt.Errorf("finish withdrawal: %s is not pending", id)
	}
	return nil
}

func (t *postgresTx) StaleWithdrawals(ctx context.Context, claimedBefore time.Time) ([]models.WithdrawalRequest, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests
	WHERE status = $1 AND batch_id IS NOT NULL AND updated_at < $2 ORDER BY updated_at`

	return t.queryWithdrawals(ctx, "stale withdrawals", query, models.WithdrawalPending, claimedBefore)
}

func (t *postgresTx) queryWithdrawals(ctx context.Context, op, query string, args ...any) ([]models.WithdrawalRequest, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var result []models.WithdrawalRequest
	for rows.Next() {
		var (
			w       models.WithdrawalRequest
			batchID uuid.NullUUID
		)
		if err := rows.Scan(&w.ID, &w.Account, &w.Address, &w.Amount, &w.Status, &batchID,
			&w.PaymentTxID, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, classify(op, err)
		}
		if batchID.Valid {
			id := batchID.UUID
			w.BatchID = &id
		}
		result = append(result, w)
	}
	return result, classify(op, rows.Err())
}

var (
	_ interfaces.LedgerStore = (*PostgresLedgerStore)(nil)
	_ interfaces.LedgerTx    = (*postgresTx)(nil)
)
