package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации приложения.
type Config struct {
	Game      GameConfig      `yaml:"game"`
	Backend   BackendConfig   `yaml:"backend"`
	Redis     RedisConfig     `yaml:"redis"`
	NATS      NATSConfig      `yaml:"nats"`
	SQL       SQLConfig       `yaml:"sql"`
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
	Webhooks  WebhooksConfig  `yaml:"webhooks"`
}

// GameConfig — константы развёртывания: размер сетки и окно кулдауна.
type GameConfig struct {
	GridExtent           int `yaml:"grid_extent"`
	CooldownSeconds      int `yaml:"cooldown_seconds"`
	LeaderboardTopK      int `yaml:"leaderboard_top_k"`
	WorldDurationMinutes int `yaml:"world_duration_minutes"`
	ExpiryCheckSeconds   int `yaml:"expiry_check_seconds"`
}

// BackendConfig выбирает реализации хранилищ и шины.
type BackendConfig struct {
	State string `yaml:"state"` // memory | redis
	Grid  string `yaml:"grid"`  // memory | redis | sql
	Bus   string `yaml:"bus"`   // memory | nats
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	MaxReconnects int    `yaml:"max_reconnects"`
	BufferSize    int    `yaml:"buffer_size"`
}

type SQLConfig struct {
	Driver string `yaml:"driver"` // mysql | sqlite
	DSN    string `yaml:"dsn"`
}

// ServerConfig — порт REST API, websocket и /metrics.
type ServerConfig struct {
	HTTPPort int `yaml:"http_port"`
}

type AuthConfig struct {
	// Secret — base64, минимум 32 байта. Пустой — случайный ключ процесса.
	Secret    string `yaml:"secret"`
	TokenTTL  int    `yaml:"token_ttl_hours"`
	DevTokens bool   `yaml:"dev_tokens"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// WebhooksConfig — связь с внешним планировщиком жизненного цикла миров.
type WebhooksConfig struct {
	// InboundSecret — HMAC-ключ входящих событий; пустой отключает /api/webhook.
	InboundSecret string                  `yaml:"inbound_secret"`
	Outbound      []OutboundWebhookConfig `yaml:"outbound"`
}

type OutboundWebhookConfig struct {
	Name       string   `yaml:"name"`
	URL        string   `yaml:"url"`
	Secret     string   `yaml:"secret"`
	Events     []string `yaml:"events"`
	TimeoutSec int      `yaml:"timeout_seconds"`
	RetryCount int      `yaml:"retry_count"`
}

type LoggingConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}

// Default возвращает конфигурацию для локального запуска без внешних сервисов.
func Default() *Config {
	return &Config{
		Game: GameConfig{
			GridExtent:           30,
			CooldownSeconds:      20,
			LeaderboardTopK:      6,
			WorldDurationMinutes: 24 * 60,
			ExpiryCheckSeconds:   5,
		},
		Backend: BackendConfig{
			State: "memory",
			Grid:  "memory",
			Bus:   "memory",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "cube_updates",
			MaxReconnects: 10,
			BufferSize:    64,
		},
		SQL: SQLConfig{
			Driver: "sqlite",
			DSN:    "file:place3d.db?_pragma=busy_timeout(5000)",
		},
		Auth: AuthConfig{
			TokenTTL:  24,
			DevTokens: true,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "place3d",
		},
		Logging: LoggingConfig{
			Dir:   "logs",
			Level: "info",
		},
	}
}

// Cooldown возвращает окно кулдауна; 0 отключает кулдаун.
func (g GameConfig) Cooldown() time.Duration {
	return time.Duration(g.CooldownSeconds) * time.Second
}

// WorldDuration возвращает длительность мира; 0 — мир без срока.
func (g GameConfig) WorldDuration() time.Duration {
	return time.Duration(g.WorldDurationMinutes) * time.Minute
}

// ExpiryCheckInterval возвращает период проверки истёкших миров.
func (g GameConfig) ExpiryCheckInterval() time.Duration {
	if g.ExpiryCheckSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(g.ExpiryCheckSeconds) * time.Second
}

// Validate проверяет согласованность конфигурации.
func (c *Config) Validate() error {
	if c.Game.GridExtent <= 0 {
		return fmt.Errorf("game.grid_extent must be positive, got %d", c.Game.GridExtent)
	}
	if c.Game.CooldownSeconds < 0 {
		return fmt.Errorf("game.cooldown_seconds must not be negative, got %d", c.Game.CooldownSeconds)
	}
	if c.Game.LeaderboardTopK < 0 {
		return fmt.Errorf("game.leaderboard_top_k must not be negative, got %d", c.Game.LeaderboardTopK)
	}
	switch c.Backend.State {
	case "memory", "redis":
	default:
		return fmt.Errorf("backend.state: unknown backend %q", c.Backend.State)
	}
	switch c.Backend.Grid {
	case "memory", "redis", "sql":
	default:
		return fmt.Errorf("backend.grid: unknown backend %q", c.Backend.Grid)
	}
	switch c.Backend.Bus {
	case "memory", "nats":
	default:
		return fmt.Errorf("backend.bus: unknown backend %q", c.Backend.Bus)
	}
	for i, wh := range c.Webhooks.Outbound {
		if wh.URL == "" {
			return fmt.Errorf("webhooks.outbound[%d]: url is required", i)
		}
	}
	if c.Backend.Grid == "sql" && c.SQL.Driver != "mysql" && c.SQL.Driver != "sqlite" {
		return fmt.Errorf("sql.driver: unknown driver %q", c.SQL.Driver)
	}
	return nil
}

// GetHTTPPort возвращает порт REST/WebSocket с поддержкой fallback значений
func (s *ServerConfig) GetHTTPPort() int {
	return getPortWithEnvFallback(s.HTTPPort, "PLACE3D_HTTP_PORT", 8088)
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

// Load читает YAML файл конфигурации поверх значений по умолчанию.
// Если path == "", пытается прочитать из ENV PLACE3D_CONFIG; без файла возвращает Default().
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("PLACE3D_CONFIG")
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
