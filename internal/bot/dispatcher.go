// Package bot turns chat updates into detection jobs and chat replies.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/cuongbtq/detect-pipeline/internal/submitter"
)

// Reply texts
const (
	ProcessingReply = "Your image is being processed. Please wait..."
	FailureReply    = "Sorry, something went wrong while processing your image. Please try again later."
	EchoPrefix      = "Your original message: "
)

// Messenger is the chat capability the dispatcher needs
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string) error
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

// Submitter accepts an image for detection
type Submitter interface {
	Submit(ctx context.Context, req submitter.SubmitRequest) (string, error)
}

// Dispatcher routes one update to the photo or text handler
type Dispatcher struct {
	messenger Messenger
	submitter Submitter
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher
func NewDispatcher(messenger Messenger, sub Submitter, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{messenger: messenger, submitter: sub, logger: logger}
}

// HandleUpdate processes one update. Updates without a message are ignored.
func (d *Dispatcher) HandleUpdate(ctx context.Context, update tgbotapi.Update) error {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		d.logger.Debug("Ignoring update without message", slog.Int("update_id", update.UpdateID))
		return nil
	}

	chatID := msg.Chat.ID
	switch {
	case len(msg.Photo) > 0:
		return d.handlePhoto(ctx, chatID, msg.Photo)
	case msg.Text != "":
		return d.messenger.SendText(ctx, chatID, EchoPrefix+msg.Text)
	default:
		d.logger.Debug("Ignoring unsupported message", slog.Int64("chat_id", chatID))
		return nil
	}
}

func (d *Dispatcher) handlePhoto(ctx context.Context, chatID int64, sizes []tgbotapi.PhotoSize) error {
	photo := largest(sizes)

	jobID, err := d.submitPhoto(ctx, chatID, photo)
	if err != nil {
		d.logger.Error("Failed to submit photo",
			slog.Int64("chat_id", chatID),
			slog.String("file_id", photo.FileID),
			slog.Any("error", err),
		)
		if sendErr := d.messenger.SendText(ctx, chatID, FailureReply); sendErr != nil {
			d.logger.Error("Failed to send failure reply",
				slog.Int64("chat_id", chatID),
				slog.Any("error", sendErr),
			)
		}
		return err
	}

	d.logger.Info("Photo submitted",
		slog.Int64("chat_id", chatID),
		slog.String("job_id", jobID),
	)
	return d.messenger.SendText(ctx, chatID, ProcessingReply)
}

func (d *Dispatcher) submitPhoto(ctx context.Context, chatID int64, photo tgbotapi.PhotoSize) (string, error) {
	data, err := d.messenger.DownloadFile(ctx, photo.FileID)
	if err != nil {
		return "", fmt.Errorf("failed to download photo: %w", err)
	}

	return d.submitter.Submit(ctx, submitter.SubmitRequest{
		Data:         data,
		Filename:     photo.FileUniqueID + ".jpg",
		ContentType:  "image/jpeg",
		RequesterRef: strconv.FormatInt(chatID, 10),
	})
}

// largest picks the highest-resolution rendition of a photo
func largest(sizes []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	best := sizes[0]
	for _, s := range sizes[1:] {
		if s.Width*s.Height > best.Width*best.Height {
			best = s
		}
	}
	return best
}
