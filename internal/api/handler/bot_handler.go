package handler

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/detect-pipeline/internal/domain"
)

// Webhook handles POST /telegram/:token
// Telegram redelivers on non-2xx, so handler failures are logged and acknowledged
func (h *BotHandler) Webhook(c *gin.Context) {
	token := c.Param("token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.botToken)) != 1 {
		c.Status(http.StatusNotFound)
		return
	}
	h.handleUpdate(c)
}

// LoadTest handles POST /loadTest
// Runs the webhook path without the token check
func (h *BotHandler) LoadTest(c *gin.Context) {
	h.handleUpdate(c)
}

func (h *BotHandler) handleUpdate(c *gin.Context) {
	var update tgbotapi.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		h.logger.Warn("Invalid update body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid update body",
		})
		return
	}

	if err := h.updates.HandleUpdate(c.Request.Context(), update); err != nil {
		h.logger.Error("Failed to handle update",
			slog.Int("update_id", update.UpdateID),
			slog.String("error", err.Error()),
		)
	}

	c.String(http.StatusOK, "Ok")
}

// Results handles GET /results?predictionId=
// Called by the worker's callback notifier; delivers the summary to the requester's chat
func (h *BotHandler) Results(c *gin.Context) {
	jobID := c.Query("predictionId")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "predictionId is required",
		})
		return
	}

	summary, err := h.results.Get(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrPredictionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":  "prediction not found",
				"job_id": jobID,
			})
			return
		}
		h.logger.Error("Failed to get prediction", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get prediction",
		})
		return
	}

	if err := h.resultNotifier.Notify(c.Request.Context(), summary); err != nil {
		h.logger.Error("Failed to deliver results",
			slog.String("job_id", jobID),
			slog.String("requester_ref", summary.RequesterRef),
			slog.String("error", err.Error()),
		)
		status := http.StatusBadGateway
		if domain.IsPermanent(err) {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, gin.H{
			"error": "Failed to deliver results",
		})
		return
	}

	c.String(http.StatusOK, "Ok")
}
