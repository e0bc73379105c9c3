package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/cuongbtq/detect-pipeline/internal/domain"
)

// TextSender sends a chat message
type TextSender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// Telegram sends the rendered summary to the chat in requester_ref
type Telegram struct {
	sender TextSender
	logger *slog.Logger
}

// NewTelegram creates a chat notifier
func NewTelegram(sender TextSender, logger *slog.Logger) *Telegram {
	return &Telegram{sender: sender, logger: logger}
}

func (t *Telegram) Notify(ctx context.Context, summary *domain.PredictionSummary) error {
	chatID, err := strconv.ParseInt(summary.RequesterRef, 10, 64)
	if err != nil {
		return domain.NewPermanentError(fmt.Errorf("requester_ref %q is not a chat id", summary.RequesterRef))
	}

	if err := t.sender.SendText(ctx, chatID, FormatSummary(summary)); err != nil {
		return domain.NewTransientError(fmt.Errorf("failed to send results to chat %d: %w", chatID, err))
	}

	t.logger.Info("Results sent to chat",
		slog.String("job_id", summary.JobID),
		slog.Int64("chat_id", chatID),
	)
	return nil
}
