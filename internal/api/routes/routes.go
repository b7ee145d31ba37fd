package routes

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chenyuanqi/ios-DeepSeek/internal/api/handlers"
	"github.com/chenyuanqi/ios-DeepSeek/internal/api/middleware"
	"github.com/chenyuanqi/ios-DeepSeek/internal/config"
	chatsvc "github.com/chenyuanqi/ios-DeepSeek/internal/service/chat"
)

func SetupRoutes(
	cfg *config.Config,
	logger *zap.Logger,
	sessionChecker chatsvc.SessionChecker,
	chatHandler *handlers.ChatHandler,
	conversationsHandler *handlers.ConversationsHandler,
	modelsHandler *handlers.ModelsHandler,
	healthHandler *handlers.HealthHandler,
) *gin.Engine {

	// Настройка Gin mode
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(middleware.CORSMiddleware())
	r.Use(middleware.LoggingMiddleware(logger))

	// Health check
	r.GET("/health", healthHandler.Check)

	// API routes
	api := r.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(sessionChecker))
	{
		chat := api.Group("/chat")
		{
			chat.POST("", chatHandler.SendMessage)
			chat.POST("/cancel", chatHandler.CancelStream)
			chat.GET("/state", chatHandler.GetState)
		}

		conversations := api.Group("/conversations")
		{
			conversations.GET("", conversationsHandler.List)
			conversations.POST("", conversationsHandler.Create)
			conversations.GET("/:id", conversationsHandler.Get)
			conversations.DELETE("/:id", conversationsHandler.Delete)
			conversations.PUT("/:id/strategy", conversationsHandler.ChangeStrategy)
		}

		models := api.Group("/models")
		{
			models.GET("", modelsHandler.GetAvailableModels)
			models.PUT("", modelsHandler.SelectModel)
		}
	}

	return r
}
