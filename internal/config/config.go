package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultOllamaHost        = "localhost"
	DefaultOllamaPort        = 11434
	DefaultOllamaModel       = "llama3.2:1b"
	DefaultMaxResponseLength = 450
	DefaultMaxHistoryPairs   = 8
	DefaultSessionTimeout    = 1800 * time.Second
	DefaultChatTimeout       = 60 * time.Second
	DefaultHealthTimeout     = 5 * time.Second
	DefaultHealthInterval    = 5 * time.Minute
	DefaultSweepInterval     = 5 * time.Minute

	// MinDuration is the smallest timeout or interval Validate accepts. It
	// catches unitless values such as "60", which parse as nanoseconds.
	MinDuration = time.Second
)

// Config holds application configuration. It is built once at startup by Load
// and passed by value into constructors; nothing mutates it afterwards.
type Config struct {
	Ollama     Ollama
	Roleplay   Roleplay
	Gateway    Gateway
	Transcript Transcript
	Status     Status
	Logging    Logging
	Telemetry  Telemetry
}

// Ollama describes the local inference server.
type Ollama struct {
	Host              string
	Port              int
	Model             string
	MaxResponseLength int // characters, "..." appended when clipped
	Temperature       float64
	NumPredict        int // max output tokens
	ChatTimeout       time.Duration
	HealthTimeout     time.Duration
}

// BaseURL returns the scheme://host:port prefix of every endpoint.
func (o Ollama) BaseURL() string {
	host := strings.TrimSpace(o.Host)
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return fmt.Sprintf("%s:%d", strings.TrimRight(host, "/"), o.Port)
	}
	return fmt.Sprintf("http://%s:%d", host, o.Port)
}

// Roleplay configures sessions and the background loops around them.
type Roleplay struct {
	MaxHistoryPairs      int
	SessionTimeout       time.Duration
	SweepInterval        time.Duration
	HealthInterval       time.Duration
	UnstableNoticeChance float64
	PersonaFile          string
	CommandPrefix        string
}

type Gateway struct {
	URL string
}

type Transcript struct {
	Path string // empty disables the archive
}

type Status struct {
	Addr string // empty disables the status server
}

type Logging struct {
	Level  string
	Format string
	File   string
}

type Telemetry struct {
	Enabled bool
	Dir     string
}

// SetDefaults registers every key with its default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("ollama.host", DefaultOllamaHost)
	v.SetDefault("ollama.port", DefaultOllamaPort)
	v.SetDefault("ollama.model", DefaultOllamaModel)
	v.SetDefault("ollama.max_response_length", DefaultMaxResponseLength)
	v.SetDefault("ollama.temperature", 0.8)
	v.SetDefault("ollama.num_predict", 200)
	v.SetDefault("ollama.chat_timeout", DefaultChatTimeout)
	v.SetDefault("ollama.health_timeout", DefaultHealthTimeout)

	v.SetDefault("roleplay.max_history_pairs", DefaultMaxHistoryPairs)
	v.SetDefault("roleplay.session_timeout_seconds", int(DefaultSessionTimeout/time.Second))
	v.SetDefault("roleplay.sweep_interval", DefaultSweepInterval)
	v.SetDefault("roleplay.health_interval", DefaultHealthInterval)
	v.SetDefault("roleplay.unstable_notice_chance", 0.1)
	v.SetDefault("roleplay.persona_file", "")
	v.SetDefault("roleplay.command_prefix", "!")

	v.SetDefault("gateway.url", "ws://127.0.0.1:8765/ws")
	v.SetDefault("transcript.path", "pikol.db")
	v.SetDefault("status.addr", "127.0.0.1:8088")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "logs/pikol.log")

	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.dir", "logs")
}

// Load reads a validated Config out of v. Missing keys fall back to the
// defaults registered by SetDefaults.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)

	cfg := Config{
		Ollama: Ollama{
			Host:              v.GetString("ollama.host"),
			Port:              v.GetInt("ollama.port"),
			Model:             v.GetString("ollama.model"),
			MaxResponseLength: v.GetInt("ollama.max_response_length"),
			Temperature:       v.GetFloat64("ollama.temperature"),
			NumPredict:        v.GetInt("ollama.num_predict"),
			ChatTimeout:       v.GetDuration("ollama.chat_timeout"),
			HealthTimeout:     v.GetDuration("ollama.health_timeout"),
		},
		Roleplay: Roleplay{
			MaxHistoryPairs:      v.GetInt("roleplay.max_history_pairs"),
			SessionTimeout:       time.Duration(v.GetInt("roleplay.session_timeout_seconds")) * time.Second,
			SweepInterval:        v.GetDuration("roleplay.sweep_interval"),
			HealthInterval:       v.GetDuration("roleplay.health_interval"),
			UnstableNoticeChance: v.GetFloat64("roleplay.unstable_notice_chance"),
			PersonaFile:          strings.TrimSpace(v.GetString("roleplay.persona_file")),
			CommandPrefix:        v.GetString("roleplay.command_prefix"),
		},
		Gateway:    Gateway{URL: strings.TrimSpace(v.GetString("gateway.url"))},
		Transcript: Transcript{Path: strings.TrimSpace(v.GetString("transcript.path"))},
		Status:     Status{Addr: strings.TrimSpace(v.GetString("status.addr"))},
		Logging: Logging{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
			File:   strings.TrimSpace(v.GetString("logging.file")),
		},
		Telemetry: Telemetry{
			Enabled: v.GetBool("telemetry.enabled"),
			Dir:     strings.TrimSpace(v.GetString("telemetry.dir")),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the core cannot run with.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Ollama.Host) == "":
		return fmt.Errorf("ollama.host must not be empty")
	case c.Ollama.Port <= 0 || c.Ollama.Port > 65535:
		return fmt.Errorf("ollama.port out of range: %d", c.Ollama.Port)
	case strings.TrimSpace(c.Ollama.Model) == "":
		return fmt.Errorf("ollama.model must not be empty")
	case c.Ollama.MaxResponseLength <= 0:
		return fmt.Errorf("ollama.max_response_length must be positive")
	case c.Ollama.ChatTimeout < MinDuration:
		return fmt.Errorf("ollama.chat_timeout must be at least %s, got %s (use a unit, e.g. 60s)", MinDuration, c.Ollama.ChatTimeout)
	case c.Ollama.HealthTimeout < MinDuration:
		return fmt.Errorf("ollama.health_timeout must be at least %s, got %s (use a unit, e.g. 5s)", MinDuration, c.Ollama.HealthTimeout)
	case c.Roleplay.MaxHistoryPairs <= 0:
		return fmt.Errorf("roleplay.max_history_pairs must be positive")
	case c.Roleplay.SessionTimeout <= 0:
		return fmt.Errorf("roleplay.session_timeout_seconds must be positive")
	case c.Roleplay.SweepInterval < MinDuration:
		return fmt.Errorf("roleplay.sweep_interval must be at least %s, got %s", MinDuration, c.Roleplay.SweepInterval)
	case c.Roleplay.HealthInterval < MinDuration:
		return fmt.Errorf("roleplay.health_interval must be at least %s, got %s", MinDuration, c.Roleplay.HealthInterval)
	case c.Roleplay.UnstableNoticeChance < 0 || c.Roleplay.UnstableNoticeChance > 1:
		return fmt.Errorf("roleplay.unstable_notice_chance must be within [0,1]")
	case c.Roleplay.CommandPrefix == "":
		return fmt.Errorf("roleplay.command_prefix must not be empty")
	}
	return nil
}
