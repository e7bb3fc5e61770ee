// Package config holds the two-stage configuration for the notification
// delivery service: Stage 1 builds the canonical AppConfig from the embedded
// YAML, Stage 2 applies environment overrides and validates.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"
)

// Defaults applied when the YAML leaves a knob unset.
const (
	defaultPingInterval = 30 * time.Second
	defaultPongTimeout  = 75 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultPresenceTTL  = 2 * time.Minute
	defaultSweep        = time.Minute
	defaultSweepBatch   = 100
	defaultSendBuffer   = 32
)

// AppConfig is the canonical, validated configuration object used throughout
// the application.
type AppConfig struct {
	ProjectID              string
	RunMode                string
	APIPort                string
	WebSocketPort          string
	OutboxCollection       string
	PresenceTopicID        string
	PresenceSubscriptionID string
	RedisAddr              string
	PresenceTTL            time.Duration
	PingInterval           time.Duration
	PongTimeout            time.Duration
	WriteTimeout           time.Duration
	SweepInterval          time.Duration
	SweepBatchLimit        int
	SendBufferSize         int
}

// NewConfigFromYaml converts the raw unmarshaled YamlConfig into a base
// AppConfig, applying defaults for unset durations. Stage 1: no environment
// overrides yet.
func NewConfigFromYaml(yamlCfg *YamlConfig) (*AppConfig, error) {
	cfg := &AppConfig{
		ProjectID:              yamlCfg.ProjectID,
		RunMode:                yamlCfg.RunMode,
		APIPort:                yamlCfg.APIPort,
		WebSocketPort:          yamlCfg.WebSocketPort,
		OutboxCollection:       yamlCfg.OutboxCollection,
		PresenceTopicID:        yamlCfg.PresenceTopicID,
		PresenceSubscriptionID: yamlCfg.PresenceSubscriptionID,
		RedisAddr:              yamlCfg.PresenceCache.Addr,
		PresenceTTL:            secondsOr(yamlCfg.PresenceCache.TTLSeconds, defaultPresenceTTL),
		PingInterval:           secondsOr(yamlCfg.Heartbeat.PingIntervalSeconds, defaultPingInterval),
		PongTimeout:            secondsOr(yamlCfg.Heartbeat.PongTimeoutSeconds, defaultPongTimeout),
		WriteTimeout:           secondsOr(yamlCfg.Heartbeat.WriteTimeoutSeconds, defaultWriteTimeout),
		SweepInterval:          secondsOr(yamlCfg.Sweep.IntervalSeconds, defaultSweep),
		SweepBatchLimit:        yamlCfg.Sweep.BatchLimit,
		SendBufferSize:         yamlCfg.SendBufferSize,
	}
	if cfg.SweepBatchLimit <= 0 {
		cfg.SweepBatchLimit = defaultSweepBatch
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = defaultSendBuffer
	}
	return cfg, nil
}

func secondsOr(seconds int, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// UpdateConfigWithEnvOverrides completes the base configuration by applying
// environment variables and final validation. Stage 2.
func UpdateConfigWithEnvOverrides(cfg *AppConfig, logger *slog.Logger) (*AppConfig, error) {
	logger.Debug("Applying environment variable overrides...")

	overrides := map[string]*string{
		"GCP_PROJECT_ID": &cfg.ProjectID,
		"API_PORT":       &cfg.APIPort,
		"WEBSOCKET_PORT": &cfg.WebSocketPort,
		"REDIS_ADDR":     &cfg.RedisAddr,
	}
	for envKey, target := range overrides {
		if val := os.Getenv(envKey); val != "" {
			logger.Debug("Overriding config value", "key", envKey, "source", "env")
			*target = val
		}
	}

	if cfg.ProjectID == "" {
		logger.Error("Final config validation failed", "error", "GCP_PROJECT_ID is not set")
		return nil, fmt.Errorf("GCP_PROJECT_ID is not set in config or env var")
	}
	if cfg.OutboxCollection == "" {
		return nil, fmt.Errorf("outbox_collection is not set")
	}
	if cfg.PresenceTopicID == "" || cfg.PresenceSubscriptionID == "" {
		return nil, fmt.Errorf("presence_topic_id and presence_subscription_id must be set")
	}
	if cfg.PongTimeout <= cfg.PingInterval {
		return nil, fmt.Errorf("heartbeat pong_timeout_seconds (%s) must exceed ping_interval_seconds (%s)",
			cfg.PongTimeout, cfg.PingInterval)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
