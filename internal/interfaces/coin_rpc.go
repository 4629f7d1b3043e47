package interfaces

import (
	"context"

	"github.com/sheikh-saqib/coin-tip-ledger/internal/models"
	"github.com/shopspring/decimal"
)

// CoinRPC is the wallet capability the ledger needs from the coin daemon.
// Lookups return a zero value with a nil error when the daemon answers null.
type CoinRPC interface {
	GetNewAddress(ctx context.Context) (string, error)
	GetRawTransaction(ctx context.Context, txid string) (string, error)
	DecodeRawTransaction(ctx context.Context, rawHex string) (*models.DecodedTx, error)
	GetTransaction(ctx context.Context, txid string) (*models.WalletTx, error)
	SendMany(ctx context.Context, amounts map[string]decimal.Decimal, minConf int) (string, error)
	ValidateAddress(ctx context.Context, address string) (bool, error)
}
