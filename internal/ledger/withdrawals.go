package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	interfaces "github.com/sheikh-saqib/coin-tip-ledger/internal/interfaces"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/metrics"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/models"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/models/events"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BatchOutcome is how a payout cycle ended.
type BatchOutcome string

const (
	BatchEmpty     BatchOutcome = "empty"
	BatchCompleted BatchOutcome = "completed"
	BatchRefunded  BatchOutcome = "refunded"
)

// BatchResult describes one ExecuteWithdrawals cycle.
type BatchResult struct {
	BatchID     uuid.UUID
	Outcome     BatchOutcome
	Requests    int
	Payouts     map[string]decimal.Decimal // destination address -> aggregate amount
	PaymentTxID string
	PaymentErr  error
}

// ExecuteWithdrawals pays out every unclaimed pending withdrawal in one
// batched payment. Requests to the same address are summed into a single
// output. If the payment fails each request is refunded to its own account
// for its own amount. The payment call sits between two transactions so a
// retried transaction can never pay twice.
func (l *Ledger) ExecuteWithdrawals(ctx context.Context) (BatchResult, error) {
	result := BatchResult{BatchID: uuid.New()}

	var claimed []models.WithdrawalRequest
	err := l.exec.Execute(ctx, "claim withdrawals", func(ctx context.Context, tx interfaces.LedgerTx) error {
		var err error
		claimed, err = tx.ClaimPendingWithdrawals(ctx, result.BatchID, l.now())
		return err
	})
	if err != nil {
		metrics.WithdrawalBatches.WithLabelValues("failed").Inc()
		return result, err
	}
	if len(claimed) == 0 {
		result.Outcome = BatchEmpty
		metrics.WithdrawalBatches.WithLabelValues(string(BatchEmpty)).Inc()
		return result, nil
	}

	result.Requests = len(claimed)
	result.Payouts = aggregatePayouts(claimed)

	logger := l.logger.With(zap.String("batch_id", result.BatchID.String()))
	logger.Info("sending withdrawal batch",
		zap.Int("requests", result.Requests),
		zap.Int("destinations", len(result.Payouts)),
	)

	// once sendmany is on the wire the daemon may pay regardless of the caller,
	// so neither the call nor the bookkeeping after it follows cancellation
	settleCtx := context.WithoutCancel(ctx)

	paymentTxID, payErr := l.rpc.SendMany(settleCtx, result.Payouts, l.cfg.PayoutMinConf)
	if payErr == nil && paymentTxID == "" {
		payErr = errors.New("sendmany returned no txid")
	}
	if payErr != nil {
		payErr = models.NewError(models.KindExternalCallFailure, "sendmany", payErr)
		result.PaymentErr = payErr
		logger.Warn("withdrawal batch payment failed, refunding", zap.Error(payErr))
	}

	var finished []models.WithdrawalRequest
	err = l.exec.Execute(settleCtx, "settle withdrawals", func(ctx context.Context, tx interfaces.LedgerTx) error {
		finished = nil

		rows, err := tx.WithdrawalsByBatch(ctx, result.BatchID)
		if err != nil {
			return err
		}

		now := l.now()
		for _, w := range rows {
			if w.Status != models.WithdrawalPending {
				continue
			}
			if payErr != nil {
				if _, err := tx.AdjustBalance(ctx, w.Account, w.Amount); err != nil {
					return err
				}
				w.Status = models.WithdrawalRefunded
			} else {
				w.Status = models.WithdrawalCompleted
				w.PaymentTxID = paymentTxID
			}
			w.UpdatedAt = now
			if err := tx.FinishWithdrawal(ctx, w.ID, w.Status, w.PaymentTxID, now); err != nil {
				return err
			}
			finished = append(finished, w)
		}
		return nil
	})
	if err != nil {
		metrics.WithdrawalBatches.WithLabelValues("failed").Inc()
		logger.Error("withdrawal batch could not be settled; rows stay claimed",
			zap.String("payment_txid", paymentTxID),
			zap.NamedError("payment_error", payErr),
			zap.Error(err),
		)
		return result, err
	}

	if payErr != nil {
		result.Outcome = BatchRefunded
	} else {
		result.Outcome = BatchCompleted
		result.PaymentTxID = paymentTxID
	}
	metrics.WithdrawalBatches.WithLabelValues(string(result.Outcome)).Inc()

	for _, w := range finished {
		metrics.WithdrawalRows.WithLabelValues(w.Status.String()).Inc()
		topic := events.TopicWithdrawalCompleted
		if w.Status == models.WithdrawalRefunded {
			topic = events.TopicWithdrawalRefunded
		}
		l.publish(settleCtx, topic, w.Account, withdrawalEvent(w))
	}
	logger.Info("withdrawal batch finished",
		zap.String("outcome", string(result.Outcome)),
		zap.String("payment_txid", result.PaymentTxID),
		zap.Int("rows", len(finished)),
	)
	return result, nil
}

// StaleWithdrawals returns requests a payout cycle claimed but never finished,
// which happens only if the process died between paying and recording.
func (l *Ledger) StaleWithdrawals(ctx context.Context) ([]models.WithdrawalRequest, error) {
	var stale []models.WithdrawalRequest
	err := l.exec.Execute(ctx, "stale withdrawals", func(ctx context.Context, tx interfaces.LedgerTx) error {
		var err error
		stale, err = tx.StaleWithdrawals(ctx, l.now().Add(-l.cfg.StaleBatchAfter))
		return err
	})
	return stale, err
}

func aggregatePayouts(requests []models.WithdrawalRequest) map[string]decimal.Decimal {
	payouts := make(map[string]decimal.Decimal)
	for _, w := range requests {
		payouts[w.Address] = payouts[w.Address].Add(w.Amount)
	}
	return payouts
}
