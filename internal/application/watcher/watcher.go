package watcher

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/PEPUNSCARDS/card-vault-pulse/internal/domain/interfaces"
	"github.com/PEPUNSCARDS/card-vault-pulse/pkg/config"
)

type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeReverted  Outcome = "reverted"
	OutcomeDropped   Outcome = "dropped"
)

// Result is the single terminal event produced for a watched transaction.
type Result struct {
	TxHash      common.Hash
	Outcome     Outcome
	BlockNumber uint64
}

// Watcher tracks submitted transactions to a terminal outcome by polling the
// ledger for receipts at a bounded interval. Non-resolution within the ceiling
// is reported as dropped.
type Watcher struct {
	receipts     interfaces.ReceiptSource
	pollInterval time.Duration
	ceiling      time.Duration
	logger       zerolog.Logger
}

func New(receipts interfaces.ReceiptSource, cfg config.LedgerConfig, logger zerolog.Logger) *Watcher {
	return &Watcher{
		receipts:     receipts,
		pollInterval: time.Duration(cfg.PollInterval),
		ceiling:      time.Duration(cfg.WatchCeiling),
		logger:       logger,
	}
}

// Watch resolves txHash to exactly one terminal Result on the returned
// channel, then closes it. Cancelling ctx abandons the watch without emitting
// a result; the broadcast transaction itself is left alone and may still
// confirm out-of-band.
func (w *Watcher) Watch(ctx context.Context, txHash common.Hash) <-chan Result {
	results := make(chan Result, 1)

	go func() {
		defer close(results)

		deadline := time.NewTimer(w.ceiling)
		defer deadline.Stop()

		ticker := time.NewTicker(w.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				w.logger.Info().
					Str("tx_hash", txHash.Hex()).
					Msg("Transaction watch cancelled")
				return
			case <-deadline.C:
				w.logger.Warn().
					Str("tx_hash", txHash.Hex()).
					Dur("ceiling", w.ceiling).
					Msg("Transaction did not resolve within watch ceiling")
				results <- Result{TxHash: txHash, Outcome: OutcomeDropped}
				return
			case <-ticker.C:
				receipt, err := w.receipts.TransactionReceipt(ctx, txHash)
				if err != nil {
					if errors.Is(err, ethereum.NotFound) {
						continue
					}
					if ctx.Err() != nil {
						return
					}
					w.logger.Warn().
						Err(err).
						Str("tx_hash", txHash.Hex()).
						Msg("Receipt lookup failed, will retry")
					continue
				}
				results <- w.terminalResult(txHash, receipt)
				return
			}
		}
	}()

	return results
}

// CheckOnce probes for a terminal state without waiting. It reports whether
// the transaction has resolved; used to reconcile dangling transactions when
// a session is reopened.
func (w *Watcher) CheckOnce(ctx context.Context, txHash common.Hash) (Result, bool, error) {
	receipt, err := w.receipts.TransactionReceipt(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return Result{}, false, nil
		}
		return Result{}, false, err
	}
	return w.terminalResult(txHash, receipt), true, nil
}

func (w *Watcher) terminalResult(txHash common.Hash, receipt *types.Receipt) Result {
	result := Result{TxHash: txHash, Outcome: OutcomeReverted}
	if receipt.Status == types.ReceiptStatusSuccessful {
		result.Outcome = OutcomeConfirmed
	}
	if receipt.BlockNumber != nil {
		result.BlockNumber = receipt.BlockNumber.Uint64()
	}

	w.logger.Info().
		Str("tx_hash", txHash.Hex()).
		Str("outcome", string(result.Outcome)).
		Uint64("block_number", result.BlockNumber).
		Msg("Transaction reached terminal state")

	return result
}
