package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env             string `mapstructure:"ENV"`
	Port            string `mapstructure:"PORT"`
	DatabaseURL     string `mapstructure:"DATABASE_URL"`
	AdminKey        string `mapstructure:"ADMIN_KEY"`
	CORSAllowed     string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	LogLevel        string `mapstructure:"LOG_LEVEL"`
	MaxUploadSizeMB int64  `mapstructure:"MAX_UPLOAD_MB"`

	ModelProvider   string `mapstructure:"MODEL_PROVIDER"`
	ModelName       string `mapstructure:"MODEL_NAME"`
	ModelBaseURL    string `mapstructure:"MODEL_BASE_URL"`
	AnthropicAPIKey string `mapstructure:"ANTHROPIC_API_KEY"`
	OpenAIAPIKey    string `mapstructure:"OPENAI_API_KEY"`

	DispatchMaxTurns     int           `mapstructure:"DISPATCH_MAX_TURNS"`
	DispatchModelTimeout time.Duration `mapstructure:"DISPATCH_MODEL_TIMEOUT"`
	DispatchMaxRetries   int           `mapstructure:"DISPATCH_MAX_RETRIES"`
}

func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("MAX_UPLOAD_MB", 20)
	v.SetDefault("MODEL_PROVIDER", "mock")
	v.SetDefault("MODEL_NAME", "claude-haiku-4-5-20251001")
	v.SetDefault("DISPATCH_MAX_TURNS", 10)
	v.SetDefault("DISPATCH_MODEL_TIMEOUT", "45s")
	v.SetDefault("DISPATCH_MAX_RETRIES", 2)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
