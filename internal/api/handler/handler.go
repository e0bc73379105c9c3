package handler

import (
	"context"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/cuongbtq/detect-pipeline/internal/notifier"
	"github.com/cuongbtq/detect-pipeline/internal/results"
	"github.com/cuongbtq/detect-pipeline/internal/submitter"
)

// Submitter accepts an image for detection
type Submitter interface {
	Submit(ctx context.Context, req submitter.SubmitRequest) (string, error)
}

// UpdateHandler processes one chat update
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update tgbotapi.Update) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger    *slog.Logger
	Submitter Submitter
	Results   results.Store

	// Chat front end; nil disables the bot routes
	Updates        UpdateHandler
	ResultNotifier notifier.Notifier
	BotToken       string

	MaxUploadBytes int64
	HealthCheck    func(ctx context.Context) error
}

// JobHandler handles job and prediction HTTP requests
type JobHandler struct {
	logger         *slog.Logger
	submitter      Submitter
	results        results.Store
	maxUploadBytes int64
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	maxUpload := deps.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}
	return &JobHandler{
		logger:         deps.Logger,
		submitter:      deps.Submitter,
		results:        deps.Results,
		maxUploadBytes: maxUpload,
	}
}

// BotHandler handles the chat webhook and the result push endpoint
type BotHandler struct {
	logger         *slog.Logger
	updates        UpdateHandler
	results        results.Store
	resultNotifier notifier.Notifier
	botToken       string
}

// NewBotHandler creates a new BotHandler instance
func NewBotHandler(deps *Dependencies) *BotHandler {
	return &BotHandler{
		logger:         deps.Logger,
		updates:        deps.Updates,
		results:        deps.Results,
		resultNotifier: deps.ResultNotifier,
		botToken:       deps.BotToken,
	}
}
