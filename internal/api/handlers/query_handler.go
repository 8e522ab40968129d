package handlers

import (
	"bufio"
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/contract-intel/backend/internal/answer"
	"github.com/contract-intel/backend/internal/metrics"
	"github.com/contract-intel/backend/internal/storage/models"
	"github.com/contract-intel/backend/pkg/apperror"
	"github.com/contract-intel/backend/pkg/logger"
)

const (
	streamDone     = "[DONE]"
	maxHistorySize = 100
)

type Answerer interface {
	Ask(ctx context.Context, req answer.AskRequest) (*answer.Answer, error)
	PrepareStream(ctx context.Context, req answer.AskRequest) (*answer.Stream, error)
}

type History interface {
	GetQueryHistory(ctx context.Context, limit int) ([]models.QueryRecord, error)
}

type askRequest struct {
	Question   string `json:"question" validate:"required"`
	DocumentID string `json:"document_id"`
}

type QueryHandler struct {
	answers  Answerer
	history  History
	counters *metrics.Counters
	validate *validator.Validate
}

func NewQueryHandler(answers Answerer, history History, counters *metrics.Counters) *QueryHandler {
	return &QueryHandler{
		answers:  answers,
		history:  history,
		counters: counters,
		validate: validator.New(),
	}
}

func (h *QueryHandler) Ask(c *fiber.Ctx) error {
	var req askRequest
	if err := c.BodyParser(&req); err != nil {
		h.counters.IncErrors()
		return respondError(c, apperror.InvalidInput("handlers.Ask", "invalid request body"))
	}
	if err := h.validate.Struct(req); err != nil {
		h.counters.IncErrors()
		return respondError(c, apperror.InvalidInput("handlers.Ask", "question is required"))
	}

	res, err := h.answers.Ask(c.UserContext(), answer.AskRequest{
		Question:   req.Question,
		DocumentID: req.DocumentID,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(res)
}

// Stream answers over server-sent events. Retrieval failures are reported
// with a normal status; failures after the first byte become an error event.
func (h *QueryHandler) Stream(c *fiber.Ctx) error {
	stream, err := h.answers.PrepareStream(c.UserContext(), answer.AskRequest{
		Question:   c.Query("question"),
		DocumentID: c.Query("document_id"),
	})
	if err != nil {
		return respondError(c, err)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		err := stream.Run(ctx, func(fragment string) error {
			writeEvent(w, "", fragment)
			return w.Flush()
		})
		if err != nil {
			if w.Flush() != nil {
				return
			}
			writeEvent(w, "error", err.Error())
		}

		writeEvent(w, "", streamDone)
		if err := w.Flush(); err != nil {
			logger.Debug("Stream closed before terminator", zap.Error(err))
		}
	})

	return nil
}

// writeEvent splits multi-line payloads into one data line each so the
// client reassembles them with newlines intact.
func writeEvent(w *bufio.Writer, event, data string) {
	if event != "" {
		w.WriteString("event: " + event + "\n")
	}
	for _, line := range strings.Split(data, "\n") {
		w.WriteString("data: " + line + "\n")
	}
	w.WriteString("\n")
}

func (h *QueryHandler) History(c *fiber.Ctx) error {
	if h.history == nil {
		h.counters.IncErrors()
		return respondError(c, apperror.NotFound("handlers.History", "query history is disabled"))
	}

	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > maxHistorySize {
		h.counters.IncErrors()
		return respondError(c, apperror.Newf(apperror.KindInvalidInput, "handlers.History", "limit must be between 1 and %d", maxHistorySize))
	}

	records, err := h.history.GetQueryHistory(c.UserContext(), limit)
	if err != nil {
		h.counters.IncErrors()
		return respondError(c, apperror.IO("handlers.History", err))
	}

	return c.JSON(fiber.Map{
		"history": records,
	})
}
