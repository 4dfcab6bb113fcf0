package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"

	"github.com/PEPUNSCARDS/card-vault-pulse/internal/domain"
	"github.com/PEPUNSCARDS/card-vault-pulse/internal/domain/interfaces"
	"github.com/PEPUNSCARDS/card-vault-pulse/pkg/config"
)

// bridgeClient talks to the wallet-connection bridge, the service that fronts
// the user's wallet. The bridge blocks on submit until the user approves or
// declines in their wallet.
type bridgeClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	logger     zerolog.Logger
}

func NewBridgeClient(cfg config.WalletAPIConfig, logger zerolog.Logger) interfaces.WalletProvider {
	return &bridgeClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout),
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		maxRetries: cfg.MaxRetries,
		retryDelay: time.Duration(cfg.RetryDelay),
		logger:     logger,
	}
}

type statusResponse struct {
	Connected bool   `json:"connected"`
	Address   string `json:"address"`
	ChainID   int64  `json:"chain_id"`
}

type submitRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Value   string `json:"value"`
	Data    string `json:"data"`
	ChainID int64  `json:"chain_id"`
}

// submitResponse always comes back with status 200; a wallet-level rejection
// sets Code instead of TxHash.
type submitResponse struct {
	TxHash string `json:"tx_hash"`
	Error  string `json:"error,omitempty"`
	Code   string `json:"code,omitempty"`
}

func (c *bridgeClient) Status(ctx context.Context) (interfaces.WalletStatus, error) {
	var resp statusResponse
	if err := c.makeRequest(ctx, http.MethodGet, "/v1/wallet/status", nil, &resp, c.maxRetries); err != nil {
		return interfaces.WalletStatus{}, fmt.Errorf("failed to fetch wallet status: %w", err)
	}

	status := interfaces.WalletStatus{
		Connected: resp.Connected,
		ChainID:   resp.ChainID,
	}
	if common.IsHexAddress(resp.Address) {
		status.Address = common.HexToAddress(resp.Address)
	}
	return status, nil
}

// SubmitTransaction is never retried: a retry could broadcast the payment
// twice. Wallet-level rejections are mapped onto the domain sentinels.
func (c *bridgeClient) SubmitTransaction(ctx context.Context, intent interfaces.TransactionIntent) (common.Hash, error) {
	req := submitRequest{
		From:    intent.From.Hex(),
		To:      intent.To.Hex(),
		Value:   intent.Value.String(),
		Data:    hexutil.Encode(intent.Data),
		ChainID: intent.ChainID,
	}

	var resp submitResponse
	if err := c.makeRequest(ctx, http.MethodPost, "/v1/wallet/submit", req, &resp, 0); err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", domain.ErrNetworkUnavailable, err)
	}

	if resp.Code != "" {
		return common.Hash{}, c.mapRejection(resp.Code, resp.Error)
	}

	c.logger.Info().
		Str("tx_hash", resp.TxHash).
		Str("from", req.From).
		Msg("Wallet bridge accepted transaction")

	return common.HexToHash(resp.TxHash), nil
}

func (c *bridgeClient) mapRejection(code, message string) error {
	c.logger.Warn().
		Str("code", code).
		Str("message", message).
		Msg("Wallet bridge rejected transaction")

	switch code {
	case "user_declined":
		return fmt.Errorf("%w: %s", domain.ErrUserDeclined, message)
	case "insufficient_funds":
		return fmt.Errorf("%w: %s", domain.ErrInsufficientFunds, message)
	default:
		return fmt.Errorf("%w: %s (%s)", domain.ErrNetworkUnavailable, message, code)
	}
}

func (c *bridgeClient) makeRequest(ctx context.Context, method, endpoint string, body interface{}, response interface{}, maxRetries int) error {
	fullURL := c.baseURL + endpoint

	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(1<<(attempt-1))):
			}
		}

		var reqBody []byte
		var err error

		if body != nil {
			reqBody, err = json.Marshal(body)
			if err != nil {
				return fmt.Errorf("failed to marshal request body: %w", err)
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, fullURL, bytes.NewReader(reqBody))
		if err != nil {
			lastErr = fmt.Errorf("failed to create request: %w", err)
			continue
		}

		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("X-API-Key", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			c.logger.Warn().Err(err).Int("attempt", attempt+1).Str("url", fullURL).Msg("Wallet bridge request failed")
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
			continue
		}

		if response != nil {
			if err := json.Unmarshal(respBody, response); err != nil {
				lastErr = fmt.Errorf("failed to decode response: %w", err)
				continue
			}
		}

		return nil
	}

	return lastErr
}
