package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chenyuanqi/ios-DeepSeek/internal/service/chat"
	"github.com/chenyuanqi/ios-DeepSeek/internal/storage/memory"
	"github.com/chenyuanqi/ios-DeepSeek/internal/storage/models"
)

type ConversationsHandler struct {
	controller chat.ConversationService
	logger     *zap.Logger
}

func NewConversationsHandler(controller chat.ConversationService, logger *zap.Logger) *ConversationsHandler {
	return &ConversationsHandler{
		controller: controller,
		logger:     logger,
	}
}

type ConversationListItem struct {
	ID           string                 `json:"id"`
	Title        string                 `json:"title"`
	MessageCount int                    `json:"message_count"`
	Topics       []string               `json:"topics,omitempty"`
	Strategy     models.ContextStrategy `json:"strategy"`
}

type StrategyRequest struct {
	Strategy models.ContextStrategy `json:"strategy" binding:"required"`
}

// GET /conversations - список диалогов в порядке недавности
func (h *ConversationsHandler) List(c *gin.Context) {
	conversations := h.controller.Conversations(c.Request.Context())

	items := make([]ConversationListItem, len(conversations))
	for i, conv := range conversations {
		items[i] = ConversationListItem{
			ID:           conv.ID,
			Title:        conv.Title,
			MessageCount: len(conv.Messages),
			Topics:       conv.Topics,
			Strategy:     conv.Strategy,
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"conversations": items,
		"total":         len(items),
	})
}

// POST /conversations - создание нового диалога
func (h *ConversationsHandler) Create(c *gin.Context) {
	conv, err := h.controller.NewConversation(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to create conversation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to create conversation",
			Code:    "CREATE_ERROR",
			Details: err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, conv)
}

// GET /conversations/:id - полный диалог с сообщениями и резюме
func (h *ConversationsHandler) Get(c *gin.Context) {
	id := c.Param("id")

	conv, err := h.controller.Conversation(c.Request.Context(), id)
	if err != nil {
		h.writeConversationError(c, id, err)
		return
	}

	c.JSON(http.StatusOK, conv)
}

// DELETE /conversations/:id - удаление диалога
func (h *ConversationsHandler) Delete(c *gin.Context) {
	id := c.Param("id")

	if err := h.controller.DeleteConversation(c.Request.Context(), id); err != nil {
		h.writeConversationError(c, id, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// PUT /conversations/:id/strategy - смена стратегии выбора контекста
func (h *ConversationsHandler) ChangeStrategy(c *gin.Context) {
	id := c.Param("id")

	var req StrategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request format",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}

	if err := h.controller.SelectConversation(c.Request.Context(), id); err != nil {
		h.writeConversationError(c, id, err)
		return
	}

	if err := h.controller.ChangeContextStrategy(c.Request.Context(), req.Strategy); err != nil {
		if errors.Is(err, chat.ErrTurnInProgress) {
			h.writeConversationError(c, id, err)
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Failed to change strategy",
			Code:    "STRATEGY_ERROR",
			Details: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversation_id": id,
		"strategy":        req.Strategy,
	})
}

func (h *ConversationsHandler) writeConversationError(c *gin.Context, id string, err error) {
	if errors.Is(err, memory.ErrConversationNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "Conversation not found",
			Code:  "CONVERSATION_NOT_FOUND",
		})
		return
	}
	if errors.Is(err, chat.ErrTurnInProgress) {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: "Another message is being processed",
			Code:  "TURN_IN_PROGRESS",
		})
		return
	}

	h.logger.Error("Conversation operation failed",
		zap.String("conversation_id", id),
		zap.Error(err),
	)
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:   "Conversation operation failed",
		Code:    "CONVERSATION_ERROR",
		Details: err.Error(),
	})
}
