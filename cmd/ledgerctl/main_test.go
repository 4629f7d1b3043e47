package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sheikh-saqib/coin-tip-ledger/internal/coinrpc/coinrpctest"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/config"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/ledger"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/models"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/storage/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunDepositCommands(t *testing.T) {
	ctx := context.Background()
	wallet := coinrpctest.NewWallet()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	l := ledger.NewLedger(memory.NewMemoryLedgerStore(), wallet, ledger.DefaultConfig(),
		ledger.WithClock(func() time.Time { return now }))

	addr, err := l.GetOrIssueAddress(ctx, "C")
	require.NoError(t, err)
	wallet.AddTransaction("tx1", 6, models.TxOutput{Addresses: []string{addr.Address}, Value: decimal.RequireFromString("2")})

	var out bytes.Buffer
	require.NoError(t, run(ctx, l, config.StoreMemory, &out, []string{"notify-tx", "tx1"}))
	var notified map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &notified))
	assert.Equal(t, "pending", notified["state"])

	out.Reset()
	require.NoError(t, run(ctx, l, config.StoreMemory, &out, []string{"check-tx"}))

	out.Reset()
	require.NoError(t, run(ctx, l, config.StoreMemory, &out, []string{"balance", "C"}))
	var balance map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &balance))
	assert.Equal(t, "2", balance["balance"])
	assert.Equal(t, "0", balance["confirming"])
}

func TestRunRejectsBadInvocations(t *testing.T) {
	l := ledger.NewLedger(memory.NewMemoryLedgerStore(), coinrpctest.NewWallet(), ledger.DefaultConfig())
	var out bytes.Buffer

	assert.Error(t, run(context.Background(), l, config.StoreMemory, &out, []string{"notify-tx"}))
	assert.Error(t, run(context.Background(), l, config.StoreMemory, &out, []string{"balance"}))
	assert.Error(t, run(context.Background(), l, config.StoreMemory, &out, []string{"frobnicate"}))
}

func TestRunExecWithdrawalEmpty(t *testing.T) {
	l := ledger.NewLedger(memory.NewMemoryLedgerStore(), coinrpctest.NewWallet(), ledger.DefaultConfig())
	var out bytes.Buffer

	require.NoError(t, run(context.Background(), l, config.StoreMemory, &out, []string{"exec-withdrawal"}))
	var body map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &body))
	assert.Equal(t, "empty", body["outcome"])
}

func TestRunInitDB(t *testing.T) {
	l := ledger.NewLedger(memory.NewMemoryLedgerStore(), coinrpctest.NewWallet(), ledger.DefaultConfig())
	var out bytes.Buffer

	err := run(context.Background(), l, config.StoreMemory, &out, []string{"init-db"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no schema to migrate")
	assert.Zero(t, out.Len())

	require.NoError(t, run(context.Background(), l, config.StorePostgres, &out, []string{"init-db"}))
	var body map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &body))
	assert.Equal(t, "migrated", body["status"])
	assert.Equal(t, "postgres", body["driver"])
}
