package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dialectica/realtime/internal/gateway"
	"github.com/dialectica/realtime/internal/room"
	"github.com/dialectica/realtime/internal/stats"
)

// Config is the coordinator's YAML configuration. Environment variables
// override the file where noted.
type Config struct {
	Server struct {
		Port           int      `yaml:"port"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`

	Coordinator struct {
		GraceWindowSeconds    int `yaml:"grace_window_seconds"`
		TeardownWindowSeconds int `yaml:"teardown_window_seconds"`
		MaxBacklogDeltas      int `yaml:"max_backlog_deltas"`
	} `yaml:"coordinator"`

	Websocket struct {
		WriteTimeoutSeconds int   `yaml:"write_timeout_seconds"`
		ReadTimeoutSeconds  int   `yaml:"read_timeout_seconds"`
		PingIntervalSeconds int   `yaml:"ping_interval_seconds"`
		MaxMessageSize      int64 `yaml:"max_message_size"`
	} `yaml:"websocket"`

	Stats struct {
		Enabled       bool   `yaml:"enabled"`
		URL           string `yaml:"url"`
		Stream        string `yaml:"stream"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"stats"`

	FormatsFile string `yaml:"formats_file"`
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.Server.AllowedOrigins = []string{"*"}
	cfg.Coordinator.GraceWindowSeconds = 30
	cfg.Coordinator.TeardownWindowSeconds = 120
	cfg.Coordinator.MaxBacklogDeltas = 64
	cfg.Websocket.WriteTimeoutSeconds = 10
	cfg.Websocket.ReadTimeoutSeconds = 60
	cfg.Websocket.PingIntervalSeconds = 25
	cfg.Websocket.MaxMessageSize = 4096
	statsDefaults := stats.DefaultConfig()
	cfg.Stats.URL = statsDefaults.URL
	cfg.Stats.Stream = statsDefaults.StreamName
	cfg.Stats.SubjectPrefix = statsDefaults.SubjectPrefix
	return cfg
}

func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.Server.Port = getEnvAsInt("PORT", cfg.Server.Port)
	cfg.Coordinator.GraceWindowSeconds = getEnvAsInt("GRACE_WINDOW_SECONDS", cfg.Coordinator.GraceWindowSeconds)
	cfg.Coordinator.TeardownWindowSeconds = getEnvAsInt("TEARDOWN_WINDOW_SECONDS", cfg.Coordinator.TeardownWindowSeconds)
	cfg.Coordinator.MaxBacklogDeltas = getEnvAsInt("MAX_BACKLOG_DELTAS", cfg.Coordinator.MaxBacklogDeltas)
	cfg.Stats.URL = getEnv("NATS_URL", cfg.Stats.URL)
	cfg.FormatsFile = getEnv("FORMATS_FILE", cfg.FormatsFile)
	return cfg, nil
}

func (c *Config) roomConfig() room.Config {
	return room.Config{
		GraceWindow:    time.Duration(c.Coordinator.GraceWindowSeconds) * time.Second,
		TeardownWindow: time.Duration(c.Coordinator.TeardownWindowSeconds) * time.Second,
	}
}

func (c *Config) connectionConfig() gateway.ConnectionConfig {
	cfg := gateway.DefaultConnectionConfig()
	cfg.WriteTimeout = time.Duration(c.Websocket.WriteTimeoutSeconds) * time.Second
	cfg.ReadTimeout = time.Duration(c.Websocket.ReadTimeoutSeconds) * time.Second
	cfg.PingInterval = time.Duration(c.Websocket.PingIntervalSeconds) * time.Second
	cfg.MaxMessageSize = c.Websocket.MaxMessageSize
	cfg.MaxBacklogDeltas = c.Coordinator.MaxBacklogDeltas
	return cfg
}

func (c *Config) statsConfig() stats.Config {
	cfg := stats.DefaultConfig()
	cfg.URL = c.Stats.URL
	cfg.StreamName = c.Stats.Stream
	cfg.SubjectPrefix = c.Stats.SubjectPrefix
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
