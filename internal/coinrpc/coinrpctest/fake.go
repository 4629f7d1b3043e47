// Package coinrpctest provides an in-memory wallet daemon for tests.
package coinrpctest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	interfaces "github.com/sheikh-saqib/coin-tip-ledger/internal/interfaces"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/models"
	"github.com/shopspring/decimal"
)

// ErrUnavailable is what the fake returns while it is switched off.
var ErrUnavailable = errors.New("coinrpctest: daemon unavailable")

// Payment records one SendMany call.
type Payment struct {
	Amounts map[string]decimal.Decimal
	MinConf int
	TxID    string
}

// Wallet is a programmable fake of interfaces.CoinRPC. The zero value is not
// usable; call NewWallet.
type Wallet struct {
	mu sync.Mutex

	nextAddress   int
	transactions  map[string]*models.DecodedTx
	confirmations map[string]int64
	invalid       map[string]bool

	// Down makes every call fail with ErrUnavailable.
	Down bool
	// SendErr, when set, is returned by SendMany.
	SendErr error

	Payments []Payment
	Calls    map[string]int
}

func NewWallet() *Wallet {
	return &Wallet{
		transactions:  make(map[string]*models.DecodedTx),
		confirmations: make(map[string]int64),
		invalid:       make(map[string]bool),
		Calls:         make(map[string]int),
	}
}

// AddTransaction makes txid known to the daemon with the given outputs and
// depth. Outputs are numbered in the order given.
func (w *Wallet) AddTransaction(txid string, confirmations int64, outputs ...models.TxOutput) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i := range outputs {
		outputs[i].N = i
	}
	w.transactions[txid] = &models.DecodedTx{TxID: txid, Outputs: outputs}
	w.confirmations[txid] = confirmations
}

// SetConfirmations changes the depth of a known transaction.
func (w *Wallet) SetConfirmations(txid string, confirmations int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.confirmations[txid] = confirmations
}

// Forget removes txid so lookups return null.
func (w *Wallet) Forget(txid string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.transactions, txid)
	delete(w.confirmations, txid)
}

// MarkInvalid makes ValidateAddress reject address.
func (w *Wallet) MarkInvalid(address string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.invalid[address] = true
}

// CallCount returns how often method was called.
func (w *Wallet) CallCount(method string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Calls[method]
}

func (w *Wallet) enter(method string) error {
	w.Calls[method]++
	if w.Down {
		return ErrUnavailable
	}
	return nil
}

func (w *Wallet) GetNewAddress(ctx context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enter("getnewaddress"); err != nil {
		return "", err
	}
	w.nextAddress++
	return fmt.Sprintf("kaddr%04d", w.nextAddress), nil
}

// GetRawTransaction returns the txid itself as the "raw" payload, which
// DecodeRawTransaction understands.
func (w *Wallet) GetRawTransaction(ctx context.Context, txid string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enter("getrawtransaction"); err != nil {
		return "", err
	}
	if _, ok := w.transactions[txid]; !ok {
		return "", nil
	}
	return txid, nil
}

func (w *Wallet) DecodeRawTransaction(ctx context.Context, rawHex string) (*models.DecodedTx, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enter("decoderawtransaction"); err != nil {
		return nil, err
	}
	tx, ok := w.transactions[rawHex]
	if !ok {
		return nil, fmt.Errorf("coinrpctest: TX decode failed")
	}
	cp := *tx
	cp.Outputs = append([]models.TxOutput(nil), tx.Outputs...)
	return &cp, nil
}

func (w *Wallet) GetTransaction(ctx context.Context, txid string) (*models.WalletTx, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enter("gettransaction"); err != nil {
		return nil, err
	}
	depth, ok := w.confirmations[txid]
	if !ok {
		return nil, nil
	}
	return &models.WalletTx{TxID: txid, Confirmations: depth}, nil
}

func (w *Wallet) SendMany(ctx context.Context, amounts map[string]decimal.Decimal, minConf int) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enter("sendmany"); err != nil {
		return "", err
	}
	if w.SendErr != nil {
		return "", w.SendErr
	}

	cp := make(map[string]decimal.Decimal, len(amounts))
	for k, v := range amounts {
		cp[k] = v
	}
	txid := fmt.Sprintf("payout%04d", len(w.Payments)+1)
	w.Payments = append(w.Payments, Payment{Amounts: cp, MinConf: minConf, TxID: txid})
	return txid, nil
}

func (w *Wallet) ValidateAddress(ctx context.Context, address string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enter("validateaddress"); err != nil {
		return false, err
	}
	return address != "" && !w.invalid[address], nil
}

var _ interfaces.CoinRPC = (*Wallet)(nil)
