package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chenyuanqi/ios-DeepSeek/internal/api/handlers"
	"github.com/chenyuanqi/ios-DeepSeek/internal/api/routes"
	"github.com/chenyuanqi/ios-DeepSeek/internal/config"
	"github.com/chenyuanqi/ios-DeepSeek/internal/service/chat"
	memorysvc "github.com/chenyuanqi/ios-DeepSeek/internal/service/memory"
	"github.com/chenyuanqi/ios-DeepSeek/internal/storage/interfaces"
	storagememory "github.com/chenyuanqi/ios-DeepSeek/internal/storage/memory"
	"github.com/chenyuanqi/ios-DeepSeek/internal/storage/postgres"
	"github.com/chenyuanqi/ios-DeepSeek/pkg/llm"

	"go.uber.org/zap"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Настройка логгера
	logger, err := setupLogger(cfg.Logging)
	if err != nil {
		panic(fmt.Sprintf("Failed to setup logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting deepseek-chat server",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("llm_base_url", cfg.LLM.BaseURL),
		zap.String("llm_model", cfg.LLM.Model),
		zap.String("storage_driver", cfg.Storage.Driver),
		zap.String("database_url", maskDatabaseURL(cfg.Storage.DatabaseURL)),
	)

	// Инициализация персистера (postgres или in-memory)
	persister, cleanup, err := initPersister(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer cleanup()

	store := storagememory.New(persister)

	loadCtx, loadCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := store.LoadFromPersister(loadCtx); err != nil {
		loadCancel()
		logger.Fatal("Failed to load conversations", zap.Error(err))
	}
	loadCancel()

	logger.Info("Conversation store initialized",
		zap.Int("conversations", len(store.List(context.Background()))),
	)

	// Инициализация LLM клиента
	llmClient, err := llm.NewClient(llm.Config{
		BaseURL:        cfg.LLM.BaseURL,
		APIKey:         cfg.LLM.APIKey,
		Model:          cfg.LLM.Model,
		Params:         llm.DefaultGenerationParams(),
		RequestTimeout: cfg.LLM.RequestTimeout,
		StreamTimeout:  cfg.LLM.StreamTimeout,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize LLM client", zap.Error(err))
	}

	// Фоновое обогащение памяти (важность, резюме, темы)
	enricher := memorysvc.New(store, llmClient, memorysvc.DefaultConfig(), logger)

	// Контроллер диалога
	controller := chat.NewController(store, llmClient, enricher, allowAllSessions{}, logger)

	initCtx, initCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := controller.Init(initCtx); err != nil {
		initCancel()
		logger.Fatal("Failed to initialize conversation controller", zap.Error(err))
	}
	initCancel()

	// Инициализация handlers
	chatHandler := handlers.NewChatHandler(controller, logger)
	conversationsHandler := handlers.NewConversationsHandler(controller, logger)
	modelsHandler := handlers.NewModelsHandler(llmClient, logger)
	healthHandler := handlers.NewHealthHandler(controller.Metrics())

	// Настройка роутов
	router := routes.SetupRoutes(cfg, logger, allowAllSessions{}, chatHandler, conversationsHandler, modelsHandler, healthHandler)

	// HTTP сервер
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Запуск сервера в горутине
	go func() {
		logger.Info("Server starting", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	controller.CancelStream()
	controller.WaitForEnrichment()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	if err := store.Flush(ctx); err != nil {
		logger.Error("Failed to flush conversations on shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// initPersister выбирает бэкенд хранения по конфигурации
func initPersister(cfg *config.Config, logger *zap.Logger) (interfaces.Persister, func(), error) {
	switch cfg.Storage.Driver {
	case "postgres":
		pg, err := postgres.New(cfg.Storage.DatabaseURL, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize postgres persister: %w", err)
		}

		migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := pg.Migrate(migrateCtx); err != nil {
			pg.Close()
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}

		logger.Info("PostgreSQL persister initialized",
			zap.String("database_url", maskDatabaseURL(cfg.Storage.DatabaseURL)),
		)
		return pg, func() { pg.Close() }, nil

	default:
		logger.Info("Using in-memory storage without persistence")
		return storagememory.NopPersister{}, func() {}, nil
	}
}

// allowAllSessions прод без пользовательских аккаунтов: сессия всегда валидна
type allowAllSessions struct{}

func (allowAllSessions) HasValidSession(ctx context.Context) bool { return true }

func setupLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zapCfg zap.Config

	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	// Настройка уровня логирования
	switch cfg.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return zapCfg.Build()
}

func maskDatabaseURL(dbURL string) string {
	// Маскируем пароль в URL для логирования
	if dbURL == "" {
		return ""
	}

	parts := strings.Split(dbURL, "://")
	if len(parts) != 2 {
		return dbURL
	}

	afterProtocol := parts[1]
	atIndex := strings.Index(afterProtocol, "@")
	if atIndex == -1 {
		return dbURL
	}

	colonIndex := strings.Index(afterProtocol, ":")
	if colonIndex == -1 || colonIndex > atIndex {
		return dbURL
	}

	username := afterProtocol[:colonIndex]
	afterAt := afterProtocol[atIndex:]

	return fmt.Sprintf("%s://%s:***%s", parts[0], username, afterAt)
}
