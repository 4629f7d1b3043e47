package coinrpc

import (
	"context"
	"encoding/json"
	"fmt"

	interfaces "github.com/sheikh-saqib/coin-tip-ledger/internal/interfaces"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/models"
	"github.com/shopspring/decimal"
)

func (c *Client) GetNewAddress(ctx context.Context) (string, error) {
	result, err := c.call(ctx, "getnewaddress", nil)
	if err != nil {
		return "", fmt.Errorf("getnewaddress: %w", err)
	}
	if isNull(result) {
		return "", fmt.Errorf("getnewaddress: empty result")
	}

	var address string
	if err := json.Unmarshal(result, &address); err != nil {
		return "", fmt.Errorf("unmarshal address: %w", err)
	}
	return address, nil
}

// GetRawTransaction returns the hex-encoded transaction, or "" when the daemon does not know it.
func (c *Client) GetRawTransaction(ctx context.Context, txid string) (string, error) {
	result, err := c.call(ctx, "getrawtransaction", []interface{}{txid})
	if err != nil {
		return "", fmt.Errorf("getrawtransaction(%s): %w", txid, err)
	}
	if isNull(result) {
		return "", nil
	}

	var raw string
	if err := json.Unmarshal(result, &raw); err != nil {
		return "", fmt.Errorf("unmarshal raw transaction: %w", err)
	}
	return raw, nil
}

func (c *Client) DecodeRawTransaction(ctx context.Context, rawHex string) (*models.DecodedTx, error) {
	result, err := c.call(ctx, "decoderawtransaction", []interface{}{rawHex})
	if err != nil {
		return nil, fmt.Errorf("decoderawtransaction: %w", err)
	}
	if isNull(result) {
		return nil, nil
	}

	var tx decodedTransaction
	if err := json.Unmarshal(result, &tx); err != nil {
		return nil, fmt.Errorf("unmarshal decoded transaction: %w", err)
	}

	decoded := &models.DecodedTx{TxID: tx.Txid}
	for _, vout := range tx.Vout {
		if vout == nil {
			continue
		}
		value, err := decimal.NewFromString(vout.Value.String())
		if err != nil {
			return nil, fmt.Errorf("vout %d value %q: %w", vout.N, vout.Value, err)
		}
		decoded.Outputs = append(decoded.Outputs, models.TxOutput{
			N:         vout.N,
			Addresses: vout.ScriptPubKey.candidates(),
			Value:     models.Quantize(value),
		})
	}
	return decoded, nil
}

func (c *Client) GetTransaction(ctx context.Context, txid string) (*models.WalletTx, error) {
	result, err := c.call(ctx, "gettransaction", []interface{}{txid})
	if err != nil {
		return nil, fmt.Errorf("gettransaction(%s): %w", txid, err)
	}
	if isNull(result) {
		return nil, nil
	}

	var tx walletTransaction
	if err := json.Unmarshal(result, &tx); err != nil {
		return nil, fmt.Errorf("unmarshal wallet transaction: %w", err)
	}
	return &models.WalletTx{TxID: tx.Txid, Confirmations: tx.Confirmations}, nil
}

// SendMany pays every address its amount in one transaction and returns the txid.
// Amounts travel as JSON numbers written from the decimal string.
func (c *Client) SendMany(ctx context.Context, amounts map[string]decimal.Decimal, minConf int) (string, error) {
	if len(amounts) == 0 {
		return "", fmt.Errorf("sendmany: no destinations")
	}

	outputs := make(map[string]json.Number, len(amounts))
	for address, amount := range amounts {
		outputs[address] = json.Number(models.Quantize(amount).String())
	}

	result, err := c.call(ctx, "sendmany", []interface{}{"", outputs, minConf})
	if err != nil {
		return "", fmt.Errorf("sendmany: %w", err)
	}
	if isNull(result) {
		return "", nil
	}

	var txid string
	if err := json.Unmarshal(result, &txid); err != nil {
		return "", fmt.Errorf("unmarshal sendmany txid: %w", err)
	}
	return txid, nil
}

func (c *Client) ValidateAddress(ctx context.Context, address string) (bool, error) {
	result, err := c.call(ctx, "validateaddress", []interface{}{address})
	if err != nil {
		return false, fmt.Errorf("validateaddress: %w", err)
	}
	if isNull(result) {
		return false, fmt.Errorf("validateaddress: empty result")
	}

	var v validateAddressResult
	if err := json.Unmarshal(result, &v); err != nil {
		return false, fmt.Errorf("unmarshal validateaddress: %w", err)
	}
	return v.IsValid, nil
}

var _ interfaces.CoinRPC = (*Client)(nil)
