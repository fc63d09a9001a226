package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	envConfigPath        = "SHOPCHAT_CONFIG"
	envTelegramAllowFrom = "SHOPCHAT_CHANNELS_TELEGRAM_ALLOW_FROM"
)

// Default values for the socket.io channel mirror the dialogue framework's channel defaults.
const (
	DefaultUserMessageEvent = "user_uttered"
	DefaultBotMessageEvent  = "bot_uttered"
	DefaultSocketIOPath     = "/socket.io"
	DefaultCatalogRowLimit  = 100
)

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Gateway  GatewayConfig  `json:"gateway"`
	Channels ChannelsConfig `json:"channels"`
	Dialogue DialogueConfig `json:"dialogue"`
	Sessions SessionsConfig `json:"sessions"`
	Actions  ActionsConfig  `json:"actions"`
	Catalog  CatalogConfig  `json:"catalog"`
	Logging  LoggingConfig  `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// GatewayConfig configures the HTTP listener shared by channels and status endpoints.
type GatewayConfig struct {
	Host string `json:"host" env:"SHOPCHAT_GATEWAY_HOST"`
	Port int    `json:"port" env:"SHOPCHAT_GATEWAY_PORT"`
}

// ChannelsConfig stores transport adapter settings.
type ChannelsConfig struct {
	SocketIO SocketIOConfig `json:"socketio"`
	Telegram TelegramConfig `json:"telegram"`
}

// SocketIOConfig configures the browser socket channel.
//
// CredentialsFile optionally points at a dialogue-framework credentials.yml whose
// socketio block overrides the inline values.
type SocketIOConfig struct {
	Enabled            bool     `json:"enabled" env:"SHOPCHAT_CHANNELS_SOCKETIO_ENABLED"`
	UserMessageEvent   string   `json:"user_message_evt" env:"SHOPCHAT_CHANNELS_SOCKETIO_USER_MESSAGE_EVT"`
	BotMessageEvent    string   `json:"bot_message_evt" env:"SHOPCHAT_CHANNELS_SOCKETIO_BOT_MESSAGE_EVT"`
	Namespace          string   `json:"namespace" env:"SHOPCHAT_CHANNELS_SOCKETIO_NAMESPACE"`
	SessionPersistence bool     `json:"session_persistence" env:"SHOPCHAT_CHANNELS_SOCKETIO_SESSION_PERSISTENCE"`
	Path               string   `json:"socketio_path" env:"SHOPCHAT_CHANNELS_SOCKETIO_PATH"`
	AllowedOrigins     []string `json:"allowed_origins" env:"SHOPCHAT_CHANNELS_SOCKETIO_ALLOWED_ORIGINS"`
	CredentialsFile    string   `json:"credentials_file" env:"SHOPCHAT_CHANNELS_SOCKETIO_CREDENTIALS_FILE"`
}

// TelegramConfig configures Telegram channel integration.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled" env:"SHOPCHAT_CHANNELS_TELEGRAM_ENABLED"`
	Token     string   `json:"token" env:"SHOPCHAT_CHANNELS_TELEGRAM_TOKEN"`
	AllowFrom []string `json:"allow_from"`
}

// DialogueConfig points the gateway at the dialogue manager's REST endpoint.
type DialogueConfig struct {
	BaseURL               string `json:"base_url" env:"SHOPCHAT_DIALOGUE_BASE_URL"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds" env:"SHOPCHAT_DIALOGUE_REQUEST_TIMEOUT_SECONDS"`
}

// SessionsConfig selects the session registry driver.
type SessionsConfig struct {
	Driver        string `json:"driver" env:"SHOPCHAT_SESSIONS_DRIVER"`
	RedisAddr     string `json:"redis_addr" env:"SHOPCHAT_SESSIONS_REDIS_ADDR"`
	RedisPassword string `json:"redis_password" env:"SHOPCHAT_SESSIONS_REDIS_PASSWORD"`
	RedisDB       int    `json:"redis_db" env:"SHOPCHAT_SESSIONS_REDIS_DB"`
	TTLSeconds    int    `json:"ttl_seconds" env:"SHOPCHAT_SESSIONS_TTL_SECONDS"`
}

// ActionsConfig configures the action server listener.
type ActionsConfig struct {
	Host string `json:"host" env:"SHOPCHAT_ACTIONS_HOST"`
	Port int    `json:"port" env:"SHOPCHAT_ACTIONS_PORT"`
}

// CatalogConfig describes where the product table is loaded from.
type CatalogConfig struct {
	Source      string `json:"source" env:"SHOPCHAT_CATALOG_SOURCE"`
	Path        string `json:"path" env:"SHOPCHAT_CATALOG_PATH"`
	PostgresDSN string `json:"postgres_dsn" env:"SHOPCHAT_CATALOG_POSTGRES_DSN"`
	Table       string `json:"table" env:"SHOPCHAT_CATALOG_TABLE"`
	RowLimit    int    `json:"row_limit" env:"SHOPCHAT_CATALOG_ROW_LIMIT"`
}

// DefaultConfig returns the configuration used for keys missing from config.json.
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{Host: "0.0.0.0", Port: 5005},
		Channels: ChannelsConfig{
			SocketIO: SocketIOConfig{
				Enabled:          true,
				UserMessageEvent: DefaultUserMessageEvent,
				BotMessageEvent:  DefaultBotMessageEvent,
				Path:             DefaultSocketIOPath,
			},
		},
		Dialogue: DialogueConfig{BaseURL: "http://127.0.0.1:5006", RequestTimeoutSeconds: 30},
		Sessions: SessionsConfig{Driver: "memory", TTLSeconds: 86400},
		Actions:  ActionsConfig{Host: "0.0.0.0", Port: 5055},
		Catalog:  CatalogConfig{Source: "csv", Path: "data/shoes.csv", Table: "products", RowLimit: DefaultCatalogRowLimit},
	}
}

// LoadConfig resolves config.json, unmarshals it over the defaults, and applies environment overrides.
func LoadConfig() (*Config, error) {
	loadDotEnv()

	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if path := strings.TrimSpace(cfg.Channels.SocketIO.CredentialsFile); path != "" {
		if !filepath.IsAbs(path) {
			path = filepath.Join(filepath.Dir(configPath), path)
		}
		if err := applyCredentialsFile(&cfg.Channels.SocketIO, path); err != nil {
			return nil, err
		}
	}

	normalize(cfg)
	return cfg, nil
}

// loadDotEnv loads the first .env found next to the working directory; missing files are fine.
func loadDotEnv() {
	for _, path := range []string{".env", filepath.Join("config", ".env")} {
		if err := godotenv.Load(path); err == nil {
			return
		}
	}
}

// applyEnvOverrides injects env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse environment overrides: %w", err)
	}

	if rawAllowFrom := strings.TrimSpace(os.Getenv(envTelegramAllowFrom)); rawAllowFrom != "" {
		cfg.Channels.Telegram.AllowFrom = parseCSV(rawAllowFrom)
	}

	return nil
}

// normalize restores defaults for values that were explicitly blanked.
func normalize(cfg *Config) {
	sio := &cfg.Channels.SocketIO
	if strings.TrimSpace(sio.UserMessageEvent) == "" {
		sio.UserMessageEvent = DefaultUserMessageEvent
	}
	if strings.TrimSpace(sio.BotMessageEvent) == "" {
		sio.BotMessageEvent = DefaultBotMessageEvent
	}
	if strings.TrimSpace(sio.Path) == "" {
		sio.Path = DefaultSocketIOPath
	}
	if cfg.Catalog.RowLimit <= 0 {
		cfg.Catalog.RowLimit = DefaultCatalogRowLimit
	}
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// findConfigPath resolves the active config file location.
//
// Precedence is SHOPCHAT_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("config.json not found (checked %s and %s)", candidates[0], candidates[1])
}
