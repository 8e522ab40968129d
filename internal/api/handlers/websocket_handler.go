package handlers

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/contract-intel/backend/internal/answer"
	"github.com/contract-intel/backend/pkg/apperror"
	"github.com/contract-intel/backend/pkg/logger"
)

type wsRequest struct {
	Question   string `json:"question"`
	DocumentID string `json:"document_id"`
}

type wsFrame struct {
	Type      string   `json:"type"`
	Content   string   `json:"content,omitempty"`
	Citations []string `json:"citations,omitempty"`
	Error     string   `json:"error,omitempty"`
	Kind      string   `json:"kind,omitempty"`
}

// WebSocketHandler streams answers over a socket. Each inbound question yields
// chunk frames followed by one complete or error frame.
type WebSocketHandler struct {
	answers Answerer
}

func NewWebSocketHandler(answers Answerer) *WebSocketHandler {
	return &WebSocketHandler{
		answers: answers,
	}
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var req wsRequest
		if err := c.ReadJSON(&req); err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			return
		}

		if err := h.answer(ctx, c, req); err != nil {
			logger.Warn("WebSocket write failed", zap.Error(err))
			return
		}
	}
}

// answer returns an error only when the socket itself failed.
func (h *WebSocketHandler) answer(ctx context.Context, c *websocket.Conn, req wsRequest) error {
	stream, err := h.answers.PrepareStream(ctx, answer.AskRequest{
		Question:   req.Question,
		DocumentID: req.DocumentID,
	})
	if err != nil {
		return c.WriteJSON(errorFrame(err))
	}

	var writeErr error
	err = stream.Run(ctx, func(fragment string) error {
		writeErr = c.WriteJSON(wsFrame{Type: "chunk", Content: fragment})
		return writeErr
	})
	if writeErr != nil {
		return writeErr
	}
	if err != nil {
		return c.WriteJSON(errorFrame(err))
	}

	return c.WriteJSON(wsFrame{Type: "complete", Citations: stream.Citations()})
}

func errorFrame(err error) wsFrame {
	return wsFrame{
		Type:  "error",
		Error: err.Error(),
		Kind:  apperror.KindOf(err).String(),
	}
}
