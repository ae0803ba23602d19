// Package config loads blockbot's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all blockbot configuration.
type Config struct {
	Agent       AgentConfig       `yaml:"agent"`
	LLM         LLMConfig         `yaml:"llm"`
	Safety      SafetyConfig      `yaml:"safety"`
	Stray       StrayConfig       `yaml:"stray"`
	History     HistoryConfig     `yaml:"history"`
	Environment EnvironmentConfig `yaml:"environment"`
	Control     ControlConfig     `yaml:"control"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// AgentConfig configures the turn controller.
type AgentConfig struct {
	Name            string           `yaml:"name"`
	Profile         string           `yaml:"profile"` // optional JSON profile file
	MaxCommands     int              `yaml:"max_commands"` // -1 = unbounded
	VerboseCommands bool             `yaml:"verbose_commands"`
	LoadMemory      bool             `yaml:"load_memory"`
	InitMessage     string           `yaml:"init_message"`
	IgnoredUsers    []string         `yaml:"ignored_users"`
	IgnoredPrefixes []string         `yaml:"ignored_prefixes"`
	Tick            string           `yaml:"tick"`
	MaxOutputChars  int              `yaml:"max_output_chars"`
	LoopWindow      int              `yaml:"loop_window"` // 0 disables repeat detection
	Continue        ContinueConfig   `yaml:"continue"`
	SelfPrompt      SelfPromptConfig `yaml:"self_prompt"`
}

// ContinueConfig configures the continuation timer.
type ContinueConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Interval string `yaml:"interval"`
	Message  string `yaml:"message"`
}

// SelfPromptConfig configures the self-prompting loop.
type SelfPromptConfig struct {
	Cooldown     string `yaml:"cooldown"`
	MaxNoCommand int    `yaml:"max_no_command"`
}

// LLMConfig configures the conversation model.
type LLMConfig struct {
	Provider          string  `yaml:"provider"` // openai, anthropic, ollama, ...
	Model             string  `yaml:"model"`
	APIKey            string  `yaml:"api_key"`
	Temperature       float64 `yaml:"temperature"`
	MaxTokens         int     `yaml:"max_tokens"`
	Timeout           string  `yaml:"timeout"`
	MaxRetries        int     `yaml:"max_retries"`         // conversation calls only; 0 degrades at once
	RequestsPerMinute int     `yaml:"requests_per_minute"` // 0 = unlimited
	ContextRetries    int     `yaml:"context_retries"`
}

// SafetyConfig configures the safety gate's arbiter and build area.
type SafetyConfig struct {
	Provider string `yaml:"provider"` // defaults to llm.provider
	Model    string `yaml:"model"`
	Timeout  string `yaml:"timeout"`
	Min      [3]int `yaml:"min"`
	Max      [3]int `yaml:"max"`
}

// StrayConfig configures stray command extraction.
type StrayConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// HistoryConfig configures conversation persistence.
type HistoryConfig struct {
	Backend string `yaml:"backend"` // file or sqlite
	Path    string `yaml:"path"`    // defaults to bots/<name>/memory.json or history.db
}

// EnvironmentConfig configures the link to the game-side driver.
type EnvironmentConfig struct {
	URL            string `yaml:"url"`
	DialTimeout    string `yaml:"dial_timeout"`
	CommandTimeout string `yaml:"command_timeout"`
}

// ControlConfig configures the operator HTTP surface.
type ControlConfig struct {
	Addr string `yaml:"addr"` // empty disables
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or console
	Dir    string `yaml:"dir"`    // per-run log file directory; empty disables
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Name:            "andy",
			MaxCommands:     -1,
			VerboseCommands: true,
			LoadMemory:      true,
			IgnoredUsers:    []string{"Admin"},
			IgnoredPrefixes: []string{
				"Set own game mode to",
				"Set the time to",
				"Set the difficulty to",
				"Teleported ",
				"Set the weather to",
				"Gamerule ",
			},
			Tick:           "300ms",
			MaxOutputChars: 4000,
			LoopWindow:     6,
			Continue: ContinueConfig{
				Enabled:  true,
				Interval: "10s",
				Message:  "Continue working toward your standing goal.",
			},
			SelfPrompt: SelfPromptConfig{
				Cooldown:     "2s",
				MaxNoCommand: 3,
			},
		},
		LLM: LLMConfig{
			Provider:          "openai",
			Temperature:       0.7,
			MaxTokens:         1000,
			Timeout:           "60s",
			MaxRetries:        0,
			RequestsPerMinute: 60,
			ContextRetries:    5,
		},
		Safety: SafetyConfig{
			Timeout: "30s",
			Min:     [3]int{-50, -64, -50},
			Max:     [3]int{50, 256, 50},
		},
		Stray: StrayConfig{
			Enabled: true,
		},
		History: HistoryConfig{
			Backend: "file",
		},
		Environment: EnvironmentConfig{
			URL:            "ws://127.0.0.1:8765/bot",
			DialTimeout:    "10s",
			CommandTimeout: "10s",
		},
		Control: ControlConfig{
			Addr: "127.0.0.1:8090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Dir:    "logs",
		},
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	str := map[string]*string{
		"BLOCKBOT_AGENT_NAME":      &c.Agent.Name,
		"BLOCKBOT_INIT_MESSAGE":    &c.Agent.InitMessage,
		"BLOCKBOT_LLM_PROVIDER":    &c.LLM.Provider,
		"BLOCKBOT_LLM_MODEL":       &c.LLM.Model,
		"BLOCKBOT_SAFETY_PROVIDER": &c.Safety.Provider,
		"BLOCKBOT_SAFETY_MODEL":    &c.Safety.Model,
		"BLOCKBOT_HISTORY_BACKEND": &c.History.Backend,
		"BLOCKBOT_HISTORY_PATH":    &c.History.Path,
		"BLOCKBOT_ENV_URL":         &c.Environment.URL,
		"BLOCKBOT_CONTROL_ADDR":    &c.Control.Addr,
		"BLOCKBOT_LOG_LEVEL":       &c.Logging.Level,
		"BLOCKBOT_LOG_FORMAT":      &c.Logging.Format,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	if v := os.Getenv("BLOCKBOT_MAX_COMMANDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Agent.MaxCommands = n
		}
	}
	if v := os.Getenv("BLOCKBOT_CONTINUE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Agent.Continue.Enabled = b
		}
	}
}

// APIKey returns the key for provider: the configured key when provider is
// the main LLM provider, else <PROVIDER>_API_KEY from the environment.
func (c *Config) APIKey(provider string) string {
	if provider == c.LLM.Provider && c.LLM.APIKey != "" {
		return c.LLM.APIKey
	}
	return os.Getenv(strings.ToUpper(provider) + "_API_KEY")
}

// SafetyProvider returns the provider used by the safety arbiter.
func (c *Config) SafetyProvider() string {
	if c.Safety.Provider != "" {
		return c.Safety.Provider
	}
	return c.LLM.Provider
}

// StrayProvider returns the provider used by stray extraction.
func (c *Config) StrayProvider() string {
	if c.Stray.Provider != "" {
		return c.Stray.Provider
	}
	return c.LLM.Provider
}

// HistoryPath returns the configured history location or the per-agent
// default.
func (c *Config) HistoryPath() string {
	if c.History.Path != "" {
		return c.History.Path
	}
	name := "memory.json"
	if c.History.Backend == "sqlite" {
		name = "history.db"
	}
	return filepath.Join("bots", c.Agent.Name, name)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func (c *Config) GetTick() time.Duration { return parseDuration(c.Agent.Tick, 300*time.Millisecond) }

func (c *Config) GetContinueInterval() time.Duration {
	return parseDuration(c.Agent.Continue.Interval, 10*time.Second)
}

func (c *Config) GetSelfPromptCooldown() time.Duration {
	return parseDuration(c.Agent.SelfPrompt.Cooldown, 2*time.Second)
}

func (c *Config) GetLLMTimeout() time.Duration { return parseDuration(c.LLM.Timeout, 60*time.Second) }

func (c *Config) GetSafetyTimeout() time.Duration {
	return parseDuration(c.Safety.Timeout, 30*time.Second)
}

func (c *Config) GetDialTimeout() time.Duration {
	return parseDuration(c.Environment.DialTimeout, 10*time.Second)
}

func (c *Config) GetCommandTimeout() time.Duration {
	return parseDuration(c.Environment.CommandTimeout, 10*time.Second)
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Agent.Name) == "" {
		errs = append(errs, errors.New("agent.name is required"))
	}
	if c.Agent.MaxCommands == 0 || c.Agent.MaxCommands < -1 {
		errs = append(errs, fmt.Errorf("agent.max_commands must be positive or -1, got %d", c.Agent.MaxCommands))
	}
	if c.LLM.Provider == "" {
		errs = append(errs, errors.New("llm.provider is required"))
	}
	if c.LLM.ContextRetries < 0 {
		errs = append(errs, errors.New("llm.context_retries must not be negative"))
	}
	for _, d := range []struct{ name, value string }{
		{"agent.tick", c.Agent.Tick},
		{"agent.continue.interval", c.Agent.Continue.Interval},
		{"agent.self_prompt.cooldown", c.Agent.SelfPrompt.Cooldown},
		{"llm.timeout", c.LLM.Timeout},
		{"safety.timeout", c.Safety.Timeout},
		{"environment.dial_timeout", c.Environment.DialTimeout},
		{"environment.command_timeout", c.Environment.CommandTimeout},
	} {
		if d.value == "" {
			continue
		}
		if _, err := time.ParseDuration(d.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.name, err))
		}
	}
	for i := 0; i < 3; i++ {
		if c.Safety.Min[i] > c.Safety.Max[i] {
			errs = append(errs, fmt.Errorf("safety.min[%d] exceeds safety.max[%d]", i, i))
		}
	}
	switch c.History.Backend {
	case "file", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("history.backend must be file or sqlite, got %q", c.History.Backend))
	}
	if c.Environment.URL == "" {
		errs = append(errs, errors.New("environment.url is required"))
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}
