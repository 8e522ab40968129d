package handlers

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/contract-intel/backend/internal/metrics"
	"github.com/contract-intel/backend/internal/notify"
	"github.com/contract-intel/backend/internal/storage/models"
	"github.com/contract-intel/backend/pkg/apperror"
	"github.com/contract-intel/backend/pkg/logger"
)

type Notifier interface {
	Submit(task models.NotificationTask) error
}

type webhookRequest struct {
	CallbackURL string `json:"callback_url" validate:"required,url"`
	TaskType    string `json:"task_type"`
}

type WebhookHandler struct {
	notifier Notifier
	counters *metrics.Counters
	validate *validator.Validate
}

func NewWebhookHandler(notifier Notifier, counters *metrics.Counters) *WebhookHandler {
	return &WebhookHandler{
		notifier: notifier,
		counters: counters,
		validate: validator.New(),
	}
}

// Events acknowledges immediately; the callback is delivered later by the
// dispatcher.
func (h *WebhookHandler) Events(c *fiber.Ctx) error {
	var req webhookRequest
	if err := c.BodyParser(&req); err != nil {
		h.counters.IncErrors()
		return respondError(c, apperror.InvalidInput("handlers.Events", "invalid request body"))
	}
	if err := h.validate.Struct(req); err != nil {
		h.counters.IncErrors()
		return respondError(c, apperror.InvalidInput("handlers.Events", "callback_url must be an absolute URL"))
	}

	task := notify.NewTask(req.CallbackURL, req.TaskType)
	if err := h.notifier.Submit(task); err != nil {
		h.counters.IncErrors()
		return respondError(c, err)
	}
	h.counters.IncWebhooksTriggered()

	logger.Info("Webhook accepted", zap.String("task_id", task.ID), zap.String("task_type", task.TaskType))

	return c.JSON(fiber.Map{
		"status":  "processing_started",
		"message": "We will notify your URL when done.",
		"task_id": task.ID,
	})
}
