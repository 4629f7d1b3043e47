package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	interfaces "github.com/sheikh-saqib/coin-tip-ledger/internal/interfaces"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/metrics"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/models"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/models/events"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var errEmptyTxID = errors.New("txid is empty")

// AttributionResult describes what NotifyTransaction recorded.
type AttributionResult struct {
	TxID string
	// Duplicate is set when the txid had been notified before and nothing was written.
	Duplicate bool
	State     models.ConfirmationState
	Matches   int
}

// NotifyTransaction attributes the outputs of txid to the accounts owning
// their addresses, writing one pending row per credited output. It never
// touches balances and is a no-op for a txid that already has rows.
func (l *Ledger) NotifyTransaction(ctx context.Context, txid string) (AttributionResult, error) {
	txid = strings.TrimSpace(txid)
	if txid == "" {
		return AttributionResult{}, errEmptyTxID
	}

	var result AttributionResult
	err := l.exec.Execute(ctx, "notify transaction", func(ctx context.Context, tx interfaces.LedgerTx) error {
		result = AttributionResult{TxID: txid}

		exists, err := tx.NotificationExists(ctx, txid)
		if err != nil {
			return err
		}
		if exists {
			result.Duplicate = true
			return nil
		}

		now := l.now()
		decoded, err := l.fetchTransaction(ctx, txid)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				// interrupted, not failed: leave no row so a redelivery retries
				return fmt.Errorf("notify %s: %w", txid, ctxErr)
			}
			l.logger.Warn("transaction lookup failed", zap.String("txid", txid), zap.Error(err))
			result.State = models.StateErrored
			return tx.InsertNotification(ctx, models.DepositNotification{
				ID:         uuid.New(),
				TxID:       txid,
				Vout:       models.NoOutput,
				ObservedAt: now,
				State:      models.StateErrored,
			})
		}

		for _, out := range decoded.Outputs {
			// one row per account the output pays, however many of its addresses match
			credited := make(map[string]bool)
			for _, address := range out.Addresses {
				account, ok, err := tx.AccountByAddress(ctx, address)
				if err != nil {
					return err
				}
				if !ok || credited[account] {
					continue
				}
				credited[account] = true

				owner := account
				if err := tx.InsertNotification(ctx, models.DepositNotification{
					ID:         uuid.New(),
					TxID:       txid,
					Vout:       out.N,
					ObservedAt: now,
					State:      models.StatePending,
					Account:    &owner,
					Value:      out.Value,
				}); err != nil {
					return err
				}
				result.Matches++
				l.logger.Debug("output attributed",
					zap.String("txid", txid),
					zap.Int("vout", out.N),
					zap.String("address", address),
					zap.String("account", account),
					zap.String("value", out.Value.String()),
				)
			}
		}

		if result.Matches > 0 {
			result.State = models.StatePending
			return nil
		}

		result.State = models.StateUnattributed
		return tx.InsertNotification(ctx, models.DepositNotification{
			ID:         uuid.New(),
			TxID:       txid,
			Vout:       models.NoOutput,
			ObservedAt: now,
			State:      models.StateUnattributed,
		})
	})
	if err != nil {
		return AttributionResult{}, err
	}

	if !result.Duplicate {
		rows := result.Matches
		if rows == 0 {
			rows = 1
		}
		metrics.DepositNotifications.WithLabelValues(result.State.String()).Add(float64(rows))
	}
	l.logger.Info("transaction notified",
		zap.String("txid", txid),
		zap.Bool("duplicate", result.Duplicate),
		zap.String("state", result.State.String()),
		zap.Int("matches", result.Matches),
	)
	return result, nil
}

func (l *Ledger) fetchTransaction(ctx context.Context, txid string) (*models.DecodedTx, error) {
	raw, err := l.rpc.GetRawTransaction(ctx, txid)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, fmt.Errorf("getrawtransaction(%s): not found", txid)
	}

	decoded, err := l.rpc.DecodeRawTransaction(ctx, raw)
	if err != nil {
		return nil, err
	}
	if decoded == nil {
		return nil, fmt.Errorf("decoderawtransaction(%s): empty result", txid)
	}
	return decoded, nil
}

// SweepResult summarises one confirmation sweep. Settled and Errored count
// notification rows; Checked and Waiting count transactions.
type SweepResult struct {
	Checked  int
	Waiting  int
	Settled  int
	Errored  int
	Credited map[string]decimal.Decimal
}

// Sweep settles every pending deposit whose transaction has reached MinConf,
// marks deposits whose transaction the wallet cannot find as errored, and
// leaves the rest pending. The whole sweep is one transaction.
func (l *Ledger) Sweep(ctx context.Context) (SweepResult, error) {
	var (
		result  SweepResult
		settled []events.DepositSettled
	)
	err := l.exec.Execute(ctx, "sweep", func(ctx context.Context, tx interfaces.LedgerTx) error {
		result = SweepResult{Credited: make(map[string]decimal.Decimal)}
		settled = nil

		now := l.now()
		txids, err := tx.PendingTxIDs(ctx, now.Add(-l.cfg.SweepWindow))
		if err != nil {
			return err
		}

		for _, txid := range txids {
			result.Checked++

			wtx, err := l.rpc.GetTransaction(ctx, txid)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("sweep %s: %w", txid, ctxErr)
			}
			if err != nil || wtx == nil {
				l.logger.Warn("confirmation lookup failed", zap.String("txid", txid), zap.Error(err))
				n, err := tx.SetNotificationState(ctx, txid, models.StatePending, models.StateErrored)
				if err != nil {
					return err
				}
				result.Errored += n
				continue
			}

			if wtx.Confirmations < l.cfg.MinConf {
				result.Waiting++
				l.logger.Debug("awaiting confirmations",
					zap.String("txid", txid),
					zap.Int64("confirmations", wtx.Confirmations),
					zap.Int64("min_conf", l.cfg.MinConf),
				)
				continue
			}

			rows, err := tx.PendingNotifications(ctx, txid)
			if err != nil {
				return err
			}
			for _, row := range rows {
				if row.Account == nil {
					continue
				}
				account := *row.Account
				if _, err := tx.AdjustBalance(ctx, account, row.Value); err != nil {
					return err
				}
				result.Credited[account] = result.Credited[account].Add(row.Value)
				settled = append(settled, events.DepositSettled{
					EventID:        uuid.New().String(),
					NotificationID: row.ID.String(),
					TxID:           txid,
					Account:        account,
					Value:          row.Value,
					Confirmations:  wtx.Confirmations,
					OccurredAt:     now,
				})
			}

			n, err := tx.SetNotificationState(ctx, txid, models.StatePending, models.StateSettled)
			if err != nil {
				return err
			}
			result.Settled += n
		}
		return nil
	})
	if err != nil {
		metrics.SweepRuns.WithLabelValues("failed").Inc()
		return SweepResult{}, err
	}

	metrics.SweepRuns.WithLabelValues("ok").Inc()
	metrics.DepositsSettled.Add(float64(result.Settled))
	metrics.DepositNotifications.WithLabelValues(models.StateErrored.String()).Add(float64(result.Errored))
	l.logger.Info("sweep finished",
		zap.Int("checked", result.Checked),
		zap.Int("waiting", result.Waiting),
		zap.Int("settled", result.Settled),
		zap.Int("errored", result.Errored),
	)
	for _, ev := range settled {
		l.publish(ctx, events.TopicDepositSettled, ev.Account, ev)
	}
	return result, nil
}
