package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type config struct {
	DatabaseURL string `yaml:"database_url"`
	HTTPAddr    string `yaml:"http_addr"`

	BrokerURL      string        `yaml:"broker_url"`
	ClientID       string        `yaml:"client_id"`
	BrokerUsername string        `yaml:"broker_username"`
	BrokerPassword string        `yaml:"broker_password"`
	Topics         []string      `yaml:"topics"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`

	FallbackSiteID string        `yaml:"fallback_site_id"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`

	BufferCapacity int           `yaml:"buffer_capacity"`
	BatchSize      int           `yaml:"batch_size"`
	FlushInterval  time.Duration `yaml:"flush_interval"`
	FlushRetries   int           `yaml:"flush_retries"`
	FlushBaseDelay time.Duration `yaml:"flush_base_delay"`
	RawAudit       bool          `yaml:"raw_audit"`

	// ShutdownTimeout caps the final drain. Zero drains until empty.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	JWTSecret       string        `yaml:"jwt_secret"`
	Debug           bool          `yaml:"debug"`
}

// loadConfig reads an optional YAML file named by COLLECTOR_CONFIG, then
// lets environment variables override every field.
func loadConfig() config {
	cfg := config{
		HTTPAddr:       ":8080",
		ClientID:       "sitesense-collector",
		Topics:         []string{"airq/#", "+/+/reading", "3phase/#"},
		ReconnectDelay: 5 * time.Second,
		FallbackSiteID: "site-default",
		BatchSize:      500,
		FlushInterval:  10 * time.Second,
		FlushRetries:   3,
		FlushBaseDelay: time.Second,
		RawAudit:       true,
	}

	if path := os.Getenv("COLLECTOR_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("config read error: %v", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("config parse error: %v", err)
		}
	}

	cfg.DatabaseURL = getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", cfg.DatabaseURL))
	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", cfg.HTTPAddr)
	cfg.BrokerURL = getenvDefault("MQTT_BROKER_URL", cfg.BrokerURL)
	cfg.ClientID = getenvDefault("MQTT_CLIENT_ID", cfg.ClientID)
	cfg.BrokerUsername = getenvDefault("MQTT_USERNAME", cfg.BrokerUsername)
	cfg.BrokerPassword = getenvDefault("MQTT_PASSWORD", cfg.BrokerPassword)
	if topics := os.Getenv("MQTT_TOPICS"); topics != "" {
		cfg.Topics = splitTopics(topics)
	}
	cfg.ReconnectDelay = getenvDuration("MQTT_RECONNECT_DELAY", cfg.ReconnectDelay)
	cfg.FallbackSiteID = getenvDefault("FALLBACK_SITE_ID", cfg.FallbackSiteID)
	cfg.CacheTTL = getenvDuration("DEVICE_CACHE_TTL", cfg.CacheTTL)
	cfg.BufferCapacity = getenvIntDefault("BUFFER_CAPACITY", cfg.BufferCapacity)
	cfg.BatchSize = getenvIntDefault("FLUSH_BATCH_SIZE", cfg.BatchSize)
	cfg.FlushInterval = getenvDuration("FLUSH_INTERVAL", cfg.FlushInterval)
	cfg.FlushRetries = getenvIntDefault("FLUSH_MAX_RETRIES", cfg.FlushRetries)
	cfg.FlushBaseDelay = getenvDuration("FLUSH_BASE_DELAY", cfg.FlushBaseDelay)
	cfg.RawAudit = getenvBoolDefault("RAW_AUDIT", cfg.RawAudit)
	cfg.ShutdownTimeout = getenvDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	cfg.JWTSecret = getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", cfg.JWTSecret))
	cfg.Debug = getenvBoolDefault("DEBUG", cfg.Debug)

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.BrokerURL == "" {
		log.Fatal("MQTT_BROKER_URL is required")
	}
	return cfg
}

func splitTopics(raw string) []string {
	parts := strings.Split(raw, ",")
	topics := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			topics = append(topics, trimmed)
		}
	}
	return topics
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBoolDefault(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func (c config) String() string {
	return fmt.Sprintf("broker=%s topics=%v buffer=%d batch=%d interval=%s raw_audit=%t",
		c.BrokerURL, c.Topics, c.BufferCapacity, c.BatchSize, c.FlushInterval, c.RawAudit)
}
