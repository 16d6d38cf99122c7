package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath       = "config.toml"
	DefaultHTTPAddr         = ":8080"
	DefaultJWTExpiresIn     = "24h"
	DefaultPGHost           = "127.0.0.1"
	DefaultPGPort           = 5432
	DefaultPGUser           = "postgres"
	DefaultPGDatabase       = "replyflow"
	DefaultPGSSLMode        = "disable"
	DefaultQdrantHost       = "127.0.0.1"
	DefaultQdrantPort       = 6334
	DefaultQdrantCollection = "knowledge"
	DefaultGenAIBaseURL     = "https://api.openai.com/v1"
	DefaultChatModel        = "gpt-4o-mini"
	DefaultTranscribeModel  = "whisper-1"
	DefaultEmbeddingModel   = "text-embedding-3-small"
	DefaultHealthSweepSpec  = "@every 5m"
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Auth     AuthConfig     `toml:"auth"`
	Postgres PostgresConfig `toml:"postgres"`
	Qdrant   QdrantConfig   `toml:"qdrant"`
	GenAI    GenAIConfig    `toml:"genai"`
	Webhook  WebhookConfig  `toml:"webhook"`
	Pipeline PipelineConfig `toml:"pipeline"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format" validate:"omitempty,oneof=text json"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret" validate:"required"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port" validate:"gt=0,lte=65535"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// DSN renders the pgx connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

type QdrantConfig struct {
	Host       string `toml:"host"`
	Port       int    `toml:"port"`
	APIKey     string `toml:"api_key"`
	UseTLS     bool   `toml:"use_tls"`
	Collection string `toml:"collection"`
}

type GenAIConfig struct {
	BaseURL         string `toml:"base_url"`
	APIKey          string `toml:"api_key"`
	ChatModel       string `toml:"chat_model"`
	TranscribeModel string `toml:"transcribe_model"`
	EmbeddingModel  string `toml:"embedding_model"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
}

type WebhookConfig struct {
	// VerifyToken is the global fallback for the Meta verification
	// handshake when a connection has no token of its own.
	VerifyToken string `toml:"verify_token"`
}

type PipelineConfig struct {
	// ReuseClosedConversations keeps the original single-thread-per-lead
	// behavior: the latest conversation is reused even when closed.
	ReuseClosedConversations bool   `toml:"reuse_closed_conversations"`
	MaxHistoryMessages       int    `toml:"max_history_messages" validate:"gte=0"`
	HealthSweepSpec          string `toml:"health_sweep_spec"`
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Qdrant: QdrantConfig{
			Host:       DefaultQdrantHost,
			Port:       DefaultQdrantPort,
			Collection: DefaultQdrantCollection,
		},
		GenAI: GenAIConfig{
			BaseURL:         DefaultGenAIBaseURL,
			ChatModel:       DefaultChatModel,
			TranscribeModel: DefaultTranscribeModel,
			EmbeddingModel:  DefaultEmbeddingModel,
			TimeoutSeconds:  45,
		},
		Pipeline: PipelineConfig{
			ReuseClosedConversations: true,
			MaxHistoryMessages:       20,
			HealthSweepSpec:          DefaultHealthSweepSpec,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("validate config %s: %w", path, err)
	}
	return cfg, nil
}
