package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Storage StorageConfig `mapstructure:"storage"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type LLMConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	StreamTimeout  time.Duration `mapstructure:"stream_timeout"`
}

type StorageConfig struct {
	Driver      string `mapstructure:"driver"` // memory или postgres
	DatabaseURL string `mapstructure:"database_url"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	// Environment variables
	viper.AutomaticEnv()
	viper.SetEnvPrefix("DEEPSEEK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Устанавливаем значения по умолчанию
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// Конфиг-файл опционален: значения по умолчанию плюс окружение
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if strings.TrimSpace(config.LLM.APIKey) == "" {
		config.LLM.APIKey = viper.GetString("API_KEY")
	}

	// Валидация критических параметров
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "180s")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	// LLM defaults
	viper.SetDefault("llm.base_url", "https://api.siliconflow.cn/v1/chat/completions")
	viper.SetDefault("llm.model", "deepseek-ai/DeepSeek-V3")
	viper.SetDefault("llm.request_timeout", "60s")
	viper.SetDefault("llm.stream_timeout", "120s")

	// Storage defaults
	viper.SetDefault("storage.driver", "memory")
}

func validateConfig(config *Config) error {
	if strings.TrimSpace(config.LLM.APIKey) == "" {
		return fmt.Errorf("LLM API key is required (llm.api_key or DEEPSEEK_API_KEY)")
	}

	if !strings.HasPrefix(config.LLM.BaseURL, "http") {
		return fmt.Errorf("llm.base_url must start with http:// or https://")
	}

	if strings.TrimSpace(config.LLM.Model) == "" {
		return fmt.Errorf("LLM model is required")
	}

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch config.Storage.Driver {
	case "memory":
	case "postgres":
		if strings.TrimSpace(config.Storage.DatabaseURL) == "" {
			return fmt.Errorf("storage.database_url is required for postgres driver")
		}
	default:
		return fmt.Errorf("unsupported storage driver: %s", config.Storage.Driver)
	}

	return nil
}
