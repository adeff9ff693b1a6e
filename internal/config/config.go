// Package config loads the daemon configuration: defaults, then a TOML
// file, then STEWARD_* environment variables (env wins).
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	LLM        LLMConfig        `toml:"llm"`
	Embedding  EmbeddingConfig  `toml:"embedding"`
	Checkpoint CheckpointConfig `toml:"checkpoint"`
	Datastore  DatastoreConfig  `toml:"datastore"`
	Vector     VectorConfig     `toml:"vector"`
	Server     ServerConfig     `toml:"server"`
	Scheduler  SchedulerConfig  `toml:"scheduler"`
	Vault      VaultConfig      `toml:"vault"`
	External   ExternalConfig   `toml:"external_sync"`
	Observer   ObserverConfig   `toml:"observer"`
}

type LLMConfig struct {
	BaseURL            string   `toml:"base_url"`
	APIKey             string   `toml:"api_key"`
	Model              string   `toml:"model"`
	RoutingTemperature float64  `toml:"routing_temperature"`
	AgentTemperature   float64  `toml:"agent_temperature"`
	Deadline           duration `toml:"deadline"`
}

type EmbeddingConfig struct {
	Model      string `toml:"model"`
	Dimensions int    `toml:"dimensions"`
}

type CheckpointConfig struct {
	RedisAddr string   `toml:"redis_addr"`
	TTL       duration `toml:"ttl"`
}

type DatastoreConfig struct {
	Path string `toml:"path"`
}

type VectorConfig struct {
	PostgresURL string `toml:"postgres_url"`
}

type ServerConfig struct {
	ListenAddr      string   `toml:"listen_addr"`
	TurnBudget      duration `toml:"turn_budget"`
	MaxConcurrent   int      `toml:"max_concurrent"`
	MaxToolRounds   int      `toml:"max_tool_rounds"`
	MaxHandoffs     int      `toml:"max_handoffs"`
	MaxMessages     int      `toml:"max_messages"`
	DefaultAgent    string   `toml:"default_agent"`
	ConfidenceFloor float64  `toml:"confidence_floor"`
	ToolDeadline    duration `toml:"tool_deadline"`
	Timezone        string   `toml:"timezone"`
	WorkspaceFolder string   `toml:"workspace"`
}

type SchedulerConfig struct {
	Enabled bool                 `toml:"enabled"`
	Jobs    map[string]JobConfig `toml:"jobs"`
}

type JobConfig struct {
	Enabled  *bool    `toml:"enabled"`
	Interval duration `toml:"interval"`
}

type VaultConfig struct {
	Path string `toml:"path"`
}

type ExternalConfig struct {
	BaseURL string `toml:"base_url"`
	Token   string `toml:"token"`
}

type ObserverConfig struct {
	Enabled      bool   `toml:"enabled"`
	OTLPEndpoint string `toml:"otlp_endpoint"`
	ServiceName  string `toml:"service_name"`
}

// duration makes time.Duration TOML-decodable from strings like "60s".
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

// Value returns the duration, or fallback when unset.
func (d duration) Value(fallback time.Duration) time.Duration {
	if d == 0 {
		return fallback
	}
	return time.Duration(d)
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		LLM: LLMConfig{
			BaseURL:            "https://api.openai.com/v1",
			Model:              "gpt-4o-mini",
			RoutingTemperature: 0.1,
			AgentTemperature:   0.7,
			Deadline:           duration(30 * time.Second),
		},
		Embedding:  EmbeddingConfig{Model: "text-embedding-3-small", Dimensions: 1536},
		Checkpoint: CheckpointConfig{RedisAddr: "localhost:6379", TTL: duration(24 * time.Hour)},
		Datastore:  DatastoreConfig{Path: "steward.db"},
		Server: ServerConfig{
			ListenAddr:      ":8080",
			TurnBudget:      duration(60 * time.Second),
			MaxConcurrent:   32,
			MaxToolRounds:   6,
			MaxHandoffs:     3,
			MaxMessages:     20,
			ConfidenceFloor: 0.3,
			ToolDeadline:    duration(15 * time.Second),
			Timezone:        "UTC",
		},
		Scheduler: SchedulerConfig{Enabled: true},
		Observer:  ObserverConfig{ServiceName: "stewardd"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "steward.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("STEWARD_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("STEWARD_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("STEWARD_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("STEWARD_LLM_DEADLINE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.LLM.Deadline = duration(d)
		}
	}
	if v := os.Getenv("STEWARD_REDIS_ADDR"); v != "" {
		cfg.Checkpoint.RedisAddr = v
	}
	if v := os.Getenv("STEWARD_SESSION_TTL"); v != "" {
		if ttl, err := time.ParseDuration(v); err == nil {
			cfg.Checkpoint.TTL = duration(ttl)
		}
	}
	if v := os.Getenv("STEWARD_DB_PATH"); v != "" {
		cfg.Datastore.Path = v
	}
	if v := os.Getenv("STEWARD_POSTGRES_URL"); v != "" {
		cfg.Vector.PostgresURL = v
	}
	if v := os.Getenv("STEWARD_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("STEWARD_TURN_BUDGET"); v != "" {
		if budget, err := time.ParseDuration(v); err == nil {
			cfg.Server.TurnBudget = duration(budget)
		}
	}
	if v := os.Getenv("STEWARD_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Server.MaxConcurrent = n
		}
	}
	if v := os.Getenv("STEWARD_DEFAULT_AGENT"); v != "" {
		cfg.Server.DefaultAgent = v
	}
	if v := os.Getenv("STEWARD_CONFIDENCE_FLOOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			cfg.Server.ConfidenceFloor = f
		}
	}
	if v := os.Getenv("STEWARD_TOOL_DEADLINE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Server.ToolDeadline = duration(d)
		}
	}
	if v := os.Getenv("STEWARD_VAULT_PATH"); v != "" {
		cfg.Vault.Path = v
	}
	if v := os.Getenv("STEWARD_EXTERNAL_BASE_URL"); v != "" {
		cfg.External.BaseURL = v
	}
	if v := os.Getenv("STEWARD_EXTERNAL_TOKEN"); v != "" {
		cfg.External.Token = v
	}
	if v := os.Getenv("STEWARD_OTLP_ENDPOINT"); v != "" {
		cfg.Observer.OTLPEndpoint = v
		cfg.Observer.Enabled = true
	}
	switch os.Getenv("STEWARD_OBSERVER_ENABLED") {
	case "true", "1":
		cfg.Observer.Enabled = true
	case "false", "0":
		cfg.Observer.Enabled = false
	}

	return cfg
}
