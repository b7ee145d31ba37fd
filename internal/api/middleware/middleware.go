package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chenyuanqi/ios-DeepSeek/internal/service/chat"
)

// CORSMiddleware разрешает кросс-доменные запросы от клиента
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// LoggingMiddleware структурное логирование запросов
func LoggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("Request handled",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

// AuthMiddleware отклоняет запросы без валидной сессии.
// Сама аутентификация живет у коллаборатора, ядро только спрашивает.
func AuthMiddleware(checker chat.SessionChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if checker != nil && !checker.HasValidSession(c.Request.Context()) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "No valid session",
				"code":  "NO_SESSION",
			})
			return
		}
		c.Next()
	}
}
