package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chenyuanqi/ios-DeepSeek/internal/service/chat"
)

type ChatHandler struct {
	controller chat.ConversationService
	logger     *zap.Logger
}

func NewChatHandler(controller chat.ConversationService, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		controller: controller,
		logger:     logger,
	}
}

type ChatRequest struct {
	Message string `json:"message" binding:"required"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// POST /chat - отправка сообщения с потоковым ответом (SSE)
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request format",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}

	events, err := h.controller.SendMessage(c.Request.Context(), req.Message)
	if err != nil {
		h.writeSendError(c, err)
		return
	}

	// Настройка Server-Sent Events
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	for event := range events {
		if event.Err != nil {
			c.SSEvent("error", gin.H{
				"message_id": event.MessageID,
				"error":      event.Err.Error(),
				"text":       event.Text,
			})
			return
		}

		if event.Done {
			c.SSEvent("done", gin.H{
				"message_id": event.MessageID,
				"text":       event.Text,
			})
			return
		}

		c.SSEvent("content", gin.H{
			"message_id": event.MessageID,
			"delta":      event.Delta,
			"text":       event.Text,
		})

		// Принудительно отправляем данные клиенту
		if flusher, ok := c.Writer.(http.Flusher); ok {
			flusher.Flush()
		}
	}
}

// POST /chat/cancel - отмена активного стрима
func (h *ChatHandler) CancelStream(c *gin.Context) {
	h.controller.CancelStream()
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

// GET /chat/state - наблюдаемое состояние: текущий диалог, стриминг, ошибка
func (h *ChatHandler) GetState(c *gin.Context) {
	state := gin.H{
		"state":        h.controller.State(),
		"is_streaming": h.controller.IsStreaming(),
	}

	if err := h.controller.LastError(); err != nil {
		state["last_error"] = err.Error()
	}

	if conv, err := h.controller.CurrentConversation(c.Request.Context()); err == nil {
		state["conversation_id"] = conv.ID
	}

	c.JSON(http.StatusOK, state)
}

func (h *ChatHandler) writeSendError(c *gin.Context, err error) {
	h.logger.Error("Failed to start turn", zap.Error(err))

	switch {
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrMessageTooLong):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Validation failed",
			Code:    "VALIDATION_ERROR",
			Details: err.Error(),
		})
	case errors.Is(err, chat.ErrTurnInProgress):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: "A turn is already in progress",
			Code:  "TURN_IN_PROGRESS",
		})
	case errors.Is(err, chat.ErrNoSession):
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error: "No valid session",
			Code:  "NO_SESSION",
		})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to process message",
			Code:    "PROCESSING_ERROR",
			Details: err.Error(),
		})
	}
}
