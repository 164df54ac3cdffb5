package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/zhouzirui/consult-chat/backend/internal/model/chat"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server   ServerConfig
	Realtime RealtimeConfig
	Session  SessionConfig
	Store    StoreConfig
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Port string `env:"PORT" envDefault:"8080"`
	Addr string
}

// RealtimeConfig 描述实时通道配置。
type RealtimeConfig struct {
	URL          string        `env:"REALTIME_URL"`
	Token        string        `env:"REALTIME_TOKEN"`
	MaxRetries   int           `env:"REALTIME_MAX_RETRIES" envDefault:"3"`
	PingInterval time.Duration `env:"REALTIME_PING_INTERVAL" envDefault:"54s"`
	ReadTimeout  time.Duration `env:"REALTIME_READ_TIMEOUT" envDefault:"60s"`
	AckTimeout   time.Duration `env:"REALTIME_ACK_TIMEOUT" envDefault:"15s"`
}

// Enabled 表示是否配置了实时通道地址。
func (c RealtimeConfig) Enabled() bool {
	return c.URL != ""
}

// SessionConfig 描述会话协调器的时间参数与本端身份。
type SessionConfig struct {
	ViewerRole   string        `env:"VIEWER_ROLE" envDefault:"user"`
	SettleDelay  time.Duration `env:"FLOW_SETTLE_DELAY" envDefault:"1500ms"`
	TypingExpiry time.Duration `env:"TYPING_EXPIRY" envDefault:"3s"`
	StaleAfter   time.Duration `env:"RECONNECT_STALE_AFTER" envDefault:"5m"`
	DedupTTL     time.Duration `env:"DEDUP_TTL" envDefault:"2m"`
	DedupSize    int           `env:"DEDUP_SIZE" envDefault:"256"`
}

// Viewer 返回本端角色。
func (c SessionConfig) Viewer() chat.Role {
	return chat.Role(c.ViewerRole)
}

// StoreConfig 描述本地持久化配置，Dir 为空时只保存在内存中。
type StoreConfig struct {
	Dir string `env:"STORE_DIR"`
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	addr, err := listenAddr(cfg.Server.Port)
	if err != nil {
		return nil, err
	}
	cfg.Server.Addr = addr

	cfg.Session.ViewerRole = strings.ToLower(strings.TrimSpace(cfg.Session.ViewerRole))
	if cfg.Session.ViewerRole == "" {
		cfg.Session.ViewerRole = string(chat.RoleUser)
	}
	if !cfg.Session.Viewer().Valid() {
		return nil, fmt.Errorf("invalid VIEWER_ROLE value: %q", cfg.Session.ViewerRole)
	}
	if _, err := ParseLevel(cfg.LogLevel); err != nil {
		return nil, err
	}
	return cfg, nil
}

// listenAddr 解析服务器监听地址。
func listenAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}

// ParseLevel 将 LOG_LEVEL 转换为 slog 级别。
func ParseLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL value %q: %w", raw, err)
	}
	return level, nil
}
