package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chenyuanqi/ios-DeepSeek/pkg/llm"
)

// ModelSwitcher переключение модели для последующих запросов
type ModelSwitcher interface {
	Model() string
	SetModel(model string)
}

type ModelsHandler struct {
	client ModelSwitcher
	logger *zap.Logger
}

func NewModelsHandler(client ModelSwitcher, logger *zap.Logger) *ModelsHandler {
	return &ModelsHandler{
		client: client,
		logger: logger,
	}
}

type ModelInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type ModelsResponse struct {
	CurrentModel    string      `json:"current_model"`
	AvailableModels []ModelInfo `json:"available_models"`
}

type SelectModelRequest struct {
	Model string `json:"model" binding:"required"`
}

// GET /models - текущая модель и доступные для переключения
func (h *ModelsHandler) GetAvailableModels(c *gin.Context) {
	models := make([]ModelInfo, 0, len(llm.SupportedModels()))
	for _, id := range llm.SupportedModels() {
		models = append(models, h.getModelDetails(id))
	}

	c.JSON(http.StatusOK, ModelsResponse{
		CurrentModel:    h.client.Model(),
		AvailableModels: models,
	})
}

// PUT /models - переключение модели для последующих ходов
func (h *ModelsHandler) SelectModel(c *gin.Context) {
	var req SelectModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request format",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}

	if !llm.IsSupportedModel(req.Model) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Unsupported model",
			Code:    "UNSUPPORTED_MODEL",
			Details: req.Model,
		})
		return
	}

	h.client.SetModel(req.Model)
	h.logger.Info("Model switched", zap.String("model", req.Model))

	c.JSON(http.StatusOK, gin.H{"current_model": req.Model})
}

func (h *ModelsHandler) getModelDetails(id string) ModelInfo {
	switch id {
	case llm.ModelDeepSeekV3:
		return ModelInfo{
			ID:          id,
			Name:        "DeepSeek V3",
			Description: "Универсальная модель для диалогов",
		}
	case llm.ModelDeepSeekR1:
		return ModelInfo{
			ID:          id,
			Name:        "DeepSeek R1",
			Description: "Модель с развернутыми рассуждениями",
		}
	default:
		return ModelInfo{ID: id, Name: id}
	}
}
