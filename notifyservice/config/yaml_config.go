package config

// --- YAML-Specific Structs ---

type YamlRedisConfig struct {
	Addr       string `yaml:"addr"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

type YamlHeartbeatConfig struct {
	PingIntervalSeconds int `yaml:"ping_interval_seconds"`
	PongTimeoutSeconds  int `yaml:"pong_timeout_seconds"`
	WriteTimeoutSeconds int `yaml:"write_timeout_seconds"`
}

type YamlSweepConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
	BatchLimit      int `yaml:"batch_limit"`
}

// YamlConfig defines the structure for unmarshaling the embedded config.yaml
// file.
type YamlConfig struct {
	ProjectID              string              `yaml:"project_id"`
	RunMode                string              `yaml:"run_mode"`
	APIPort                string              `yaml:"api_port"`
	WebSocketPort          string              `yaml:"websocket_port"`
	OutboxCollection       string              `yaml:"outbox_collection"`
	PresenceTopicID        string              `yaml:"presence_topic_id"`
	PresenceSubscriptionID string              `yaml:"presence_subscription_id"`
	PresenceCache          YamlRedisConfig     `yaml:"presence_cache"`
	Heartbeat              YamlHeartbeatConfig `yaml:"heartbeat"`
	Sweep                  YamlSweepConfig     `yaml:"sweep"`
	SendBufferSize         int                 `yaml:"send_buffer_size"`
}
