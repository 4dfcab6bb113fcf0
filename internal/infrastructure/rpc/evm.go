package rpc

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"github.com/PEPUNSCARDS/card-vault-pulse/pkg/config"
)

// EVMClient is the read-side ledger provider: receipt lookups over JSON-RPC.
type EVMClient struct {
	client  *ethclient.Client
	chainID int64
	logger  zerolog.Logger
}

func NewEVMClient(cfg config.LedgerConfig, logger zerolog.Logger) (*EVMClient, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial ledger RPC at %s: %w", cfg.RPCURL, err)
	}

	logger.Info().
		Str("rpc_url", cfg.RPCURL).
		Int64("chain_id", cfg.ChainID).
		Msg("Connected to ledger RPC")

	return &EVMClient{
		client:  client,
		chainID: cfg.ChainID,
		logger:  logger,
	}, nil
}

// TransactionReceipt returns the receipt for a mined transaction, or
// ethereum.NotFound while it is still pending.
func (c *EVMClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return c.client.TransactionReceipt(ctx, txHash)
}

func (c *EVMClient) Close() {
	c.client.Close()
}
