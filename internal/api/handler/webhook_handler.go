package handler

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/image-bot/internal/bot"
	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// SecretTokenHeader carries the secret configured with setWebhook
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// Receive handles POST on the webhook path
func (h *WebhookHandler) Receive(c *gin.Context) {
	if h.secret != "" {
		got := c.GetHeader(SecretTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			h.logger.Warn("Webhook call with bad secret token", slog.String("ip", c.ClientIP()))
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
	}

	var update tgbotapi.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		h.logger.Debug("Invalid webhook body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid update",
		})
		return
	}

	if err := h.updates.Enqueue(update); err != nil {
		if errors.Is(err, bot.ErrBusy) {
			// Telegram redelivers on non-2xx
			h.logger.Warn("Update buffer full", slog.Int("update_id", update.UpdateID))
			c.Status(http.StatusServiceUnavailable)
			return
		}
		h.logger.Error("Failed to enqueue update", slog.String("error", err.Error()))
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Status(http.StatusOK)
}
