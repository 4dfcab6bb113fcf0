package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/PEPUNSCARDS/card-vault-pulse/internal/domain"
	"github.com/PEPUNSCARDS/card-vault-pulse/internal/domain/interfaces"
	"github.com/PEPUNSCARDS/card-vault-pulse/pkg/config"
)

// TelegramNotifier dispatches provisioning requests through the Telegram Bot
// API. Card creation and top-ups use separate bots so the issuing side can
// route them independently. Failures are reported as false, never as panics
// or errors across the workflow boundary.
type TelegramNotifier struct {
	baseURL       string
	cardBotToken  string
	topUpBotToken string
	chatID        string
	httpClient    *http.Client
	logger        zerolog.Logger
}

func NewTelegramNotifier(cfg config.NotifierConfig, logger zerolog.Logger) interfaces.ProvisioningNotifier {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	timeout := time.Duration(cfg.Timeout)
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	return &TelegramNotifier{
		baseURL:       baseURL,
		cardBotToken:  cfg.CardBotToken,
		topUpBotToken: cfg.TopUpBotToken,
		chatID:        cfg.ChatID,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

func (n *TelegramNotifier) NotifyCardCreation(ctx context.Context, notice domain.CardCreationNotice) bool {
	message := fmt.Sprintf("Card Creation Request:\nEmail: %s\nName: %s %s\nTX Hash: %s",
		notice.Email, notice.FirstName, notice.LastName, notice.TxHash)

	return n.sendMessage(ctx, n.cardBotToken, message)
}

func (n *TelegramNotifier) NotifyTopUp(ctx context.Context, notice domain.TopUpNotice) bool {
	message := fmt.Sprintf("Top-up Request:\nEmail: %s\nAmount: $%s\nTX Hash: %s",
		notice.Email, notice.Amount, notice.TxHash)

	return n.sendMessage(ctx, n.topUpBotToken, message)
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type sendMessageResponse struct {
	OK bool `json:"ok"`
}

func (n *TelegramNotifier) sendMessage(ctx context.Context, botToken, text string) bool {
	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, botToken)

	body, err := json.Marshal(sendMessageRequest{
		ChatID:    n.chatID,
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		n.logger.Error().Err(err).Msg("Failed to marshal notification payload")
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		n.logger.Error().Err(err).Msg("Failed to build notification request")
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.logger.Error().Err(err).Msg("Failed to send provisioning notification")
		return false
	}
	defer resp.Body.Close()

	var result sendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		n.logger.Error().Err(err).Int("status", resp.StatusCode).Msg("Failed to decode notification response")
		return false
	}

	if !result.OK {
		n.logger.Warn().Int("status", resp.StatusCode).Msg("Provisioning notifier reported failure")
	}

	return result.OK
}
