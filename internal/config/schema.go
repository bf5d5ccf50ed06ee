package config

import "time"

// Config is the top-level YAML structure of engage.yaml.
type Config struct {
	Version string       `yaml:"version"`
	Server  ServerConf   `yaml:"server"`
	Engine  EngineConf   `yaml:"engine"`
	Beacon  BeaconConf   `yaml:"beacon"`
	Storage StorageConf  `yaml:"storage"`
	Prompts []PromptRule `yaml:"prompts"` // empty = built-in defaults
	Log     LogConf      `yaml:"log"`
}

type ServerConf struct {
	Addr               string `yaml:"addr"`
	ReadTimeoutMs      int    `yaml:"read_timeout_ms"`
	WriteTimeoutMs     int    `yaml:"write_timeout_ms"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
}

// EngineConf tunes the per-context engine and the host loop.
type EngineConf struct {
	TickIntervalMs        int     `yaml:"tick_interval_ms"`
	IdleTimeoutSec        int     `yaml:"idle_timeout_sec"`
	MilestoneIntervalSec  int     `yaml:"milestone_interval_sec"`
	ExitIntentThresholdPx float64 `yaml:"exit_intent_threshold_px"`
}

type BeaconConf struct {
	Transport   string   `yaml:"transport"` // http | kafka | nop
	Endpoint    string   `yaml:"endpoint"`
	Brokers     []string `yaml:"brokers"`
	Topic       string   `yaml:"topic"`
	Workers     int      `yaml:"workers"`
	QueueDepth  int      `yaml:"queue_depth"`
	FlushWindow int      `yaml:"flush_window"`
	TimeoutMs   int      `yaml:"timeout_ms"`
}

type StorageConf struct {
	Backend       string `yaml:"backend"` // memory | sqlite | redis
	Path          string `yaml:"path"`
	BusyTimeoutMs int    `yaml:"busy_timeout_ms"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	KeyPrefix     string `yaml:"key_prefix"`
}

// PromptRule is the YAML form of a trigger rule.
type PromptRule struct {
	Prompt        string  `yaml:"prompt"`
	Expression    string  `yaml:"expression"`
	Trigger       string  `yaml:"trigger"` // tick | exit_intent
	CooldownHours float64 `yaml:"cooldown_hours"`
	OneShot       bool    `yaml:"one_shot"`
}

type LogConf struct {
	Level string `yaml:"level"`
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func (s ServerConf) ReadTimeout() time.Duration  { return ms(s.ReadTimeoutMs) }
func (s ServerConf) WriteTimeout() time.Duration { return ms(s.WriteTimeoutMs) }

func (e EngineConf) TickInterval() time.Duration { return ms(e.TickIntervalMs) }
func (e EngineConf) IdleTimeout() time.Duration  { return time.Duration(e.IdleTimeoutSec) * time.Second }

func (b BeaconConf) Timeout() time.Duration { return ms(b.TimeoutMs) }

func (s StorageConf) BusyTimeout() time.Duration { return ms(s.BusyTimeoutMs) }
