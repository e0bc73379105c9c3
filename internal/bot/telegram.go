package bot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramConfig holds Bot API settings
type TelegramConfig struct {
	Token        string
	APIEndpoint  string // defaults to tgbotapi.APIEndpoint
	FileEndpoint string // defaults to tgbotapi.FileEndpoint
	HTTPClient   *http.Client
	MaxFileBytes int64
	Logger       *slog.Logger
}

// TelegramMessenger talks to the Telegram Bot API
type TelegramMessenger struct {
	bot          *tgbotapi.BotAPI
	client       *http.Client
	fileEndpoint string
	maxFileBytes int64
	logger       *slog.Logger
}

// NewTelegramMessenger creates a messenger and verifies the token with getMe
func NewTelegramMessenger(cfg TelegramConfig) (*TelegramMessenger, error) {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	apiEndpoint := cfg.APIEndpoint
	if apiEndpoint == "" {
		apiEndpoint = tgbotapi.APIEndpoint
	}
	fileEndpoint := cfg.FileEndpoint
	if fileEndpoint == "" {
		fileEndpoint = tgbotapi.FileEndpoint
	}
	maxFileBytes := cfg.MaxFileBytes
	if maxFileBytes <= 0 {
		maxFileBytes = 20 << 20
	}

	botAPI, err := tgbotapi.NewBotAPIWithClient(cfg.Token, apiEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	cfg.Logger.Info("Telegram bot authorized", slog.String("username", botAPI.Self.UserName))

	return &TelegramMessenger{
		bot:          botAPI,
		client:       client,
		fileEndpoint: fileEndpoint,
		maxFileBytes: maxFileBytes,
		logger:       cfg.Logger,
	}, nil
}

func (m *TelegramMessenger) SendText(ctx context.Context, chatID int64, text string) error {
	if _, err := m.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("failed to send message to chat %d: %w", chatID, err)
	}
	return nil
}

func (m *TelegramMessenger) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	file, err := m.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve file %s: %w", fileID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(m.fileEndpoint, m.bot.Token, file.FilePath), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file %s: %w", fileID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download file %s: status %d", fileID, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, m.maxFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", fileID, err)
	}
	if int64(len(data)) > m.maxFileBytes {
		return nil, fmt.Errorf("file %s exceeds %d bytes", fileID, m.maxFileBytes)
	}
	return data, nil
}

// SetWebhook registers the public URL Telegram delivers updates to
func (m *TelegramMessenger) SetWebhook(url string) error {
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	if _, err := m.bot.Request(wh); err != nil {
		return fmt.Errorf("failed to set webhook: %w", err)
	}
	m.logger.Info("Telegram webhook set")
	return nil
}

// Poll long-polls for updates and hands each to handle until ctx is done.
// Used when no public webhook URL is configured.
func (m *TelegramMessenger) Poll(ctx context.Context, handle func(context.Context, tgbotapi.Update) error) error {
	if _, err := m.bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := m.bot.GetUpdatesChan(u)
	defer m.bot.StopReceivingUpdates()

	m.logger.Info("Polling Telegram for updates")

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if err := handle(ctx, update); err != nil {
				m.logger.Error("Failed to handle update",
					slog.Int("update_id", update.UpdateID),
					slog.Any("error", err),
				)
			}
		}
	}
}
