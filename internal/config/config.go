package config

import (
	"embed"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed example.yaml
var exampleConfig embed.FS

// Config represents the complete fourochan configuration
type Config struct {
	Site    Site          `yaml:"site"`
	Relays  Relays        `yaml:"relays"`
	Boards  []BoardConfig `yaml:"boards"`
	Live    Live          `yaml:"live"`
	Display Display       `yaml:"display"`
	Logging Logging       `yaml:"logging"`
}

// Site contains client metadata
type Site struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
}

// Relays contains relay configuration
type Relays struct {
	Seeds  []string    `yaml:"seeds"`
	Policy RelayPolicy `yaml:"policy"`
}

// RelayPolicy contains relay connection policies
type RelayPolicy struct {
	ConnectTimeoutMs  int   `yaml:"connect_timeout_ms"`
	QueryTimeoutMs    int   `yaml:"query_timeout_ms"`
	MaxConcurrentSubs int   `yaml:"max_concurrent_subs"`
	BackoffMs         []int `yaml:"backoff_ms"`
	AutoReconnect     bool  `yaml:"auto_reconnect"`
	UseNegentropy     bool  `yaml:"use_negentropy"` // NIP-77 hydration; always falls back to REQ if unsupported

	decoded bool // whether the policy section appeared in the file
}

// UnmarshalYAML decodes the policy section, defaulting the boolean
// toggles to true when the keys are omitted. Without this a file that
// leaves auto_reconnect out would silently disable it, since the zero
// value is indistinguishable from an explicit false.
func (p *RelayPolicy) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		ConnectTimeoutMs  int   `yaml:"connect_timeout_ms"`
		QueryTimeoutMs    int   `yaml:"query_timeout_ms"`
		MaxConcurrentSubs int   `yaml:"max_concurrent_subs"`
		BackoffMs         []int `yaml:"backoff_ms"`
		AutoReconnect     *bool `yaml:"auto_reconnect"`
		UseNegentropy     *bool `yaml:"use_negentropy"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	p.ConnectTimeoutMs = raw.ConnectTimeoutMs
	p.QueryTimeoutMs = raw.QueryTimeoutMs
	p.MaxConcurrentSubs = raw.MaxConcurrentSubs
	p.BackoffMs = raw.BackoffMs
	p.AutoReconnect = raw.AutoReconnect == nil || *raw.AutoReconnect
	p.UseNegentropy = raw.UseNegentropy == nil || *raw.UseNegentropy
	p.decoded = true
	return nil
}

// BoardConfig identifies a board to follow
type BoardConfig struct {
	ID    string `yaml:"id"`
	Title string `yaml:"title"`
}

// Live contains live-subscription settings
type Live struct {
	DebounceMs int `yaml:"debounce_ms"` // 0 = re-assemble on every event
	QueryLimit int `yaml:"query_limit"` // max events per hydration query
}

// Display contains limits applied to materialized views
type Display struct {
	Limits DisplayLimits `yaml:"limits"`
}

// DisplayLimits controls length and truncation
type DisplayLimits struct {
	MaxThreadsPerBoard int `yaml:"max_threads_per_board"`
	SummaryLength      int `yaml:"summary_length"`
}

// Logging contains logging configuration
type Logging struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
}

// Load reads and parses a configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults fills in missing configuration fields with sensible defaults
func applyDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Relays.Policy.ConnectTimeoutMs == 0 {
		cfg.Relays.Policy.ConnectTimeoutMs = defaults.Relays.Policy.ConnectTimeoutMs
	}
	if cfg.Relays.Policy.QueryTimeoutMs == 0 {
		cfg.Relays.Policy.QueryTimeoutMs = defaults.Relays.Policy.QueryTimeoutMs
	}
	if cfg.Relays.Policy.MaxConcurrentSubs == 0 {
		cfg.Relays.Policy.MaxConcurrentSubs = defaults.Relays.Policy.MaxConcurrentSubs
	}
	if len(cfg.Relays.Policy.BackoffMs) == 0 {
		cfg.Relays.Policy.BackoffMs = defaults.Relays.Policy.BackoffMs
	}
	if !cfg.Relays.Policy.decoded {
		// No policy section at all: the boolean toggles take their defaults
		cfg.Relays.Policy.AutoReconnect = defaults.Relays.Policy.AutoReconnect
		cfg.Relays.Policy.UseNegentropy = defaults.Relays.Policy.UseNegentropy
	}
	if cfg.Live.QueryLimit == 0 {
		cfg.Live.QueryLimit = defaults.Live.QueryLimit
	}
	if cfg.Display.Limits.MaxThreadsPerBoard == 0 {
		cfg.Display.Limits.MaxThreadsPerBoard = defaults.Display.Limits.MaxThreadsPerBoard
	}
	if cfg.Display.Limits.SummaryLength == 0 {
		cfg.Display.Limits.SummaryLength = defaults.Display.Limits.SummaryLength
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaults.Logging.Format
	}
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(cfg *Config) error {
	if seeds := os.Getenv("FOUROCHAN_RELAYS"); seeds != "" {
		cfg.Relays.Seeds = strings.Split(seeds, ",")
	}
	if level := os.Getenv("FOUROCHAN_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if debounce := os.Getenv("FOUROCHAN_DEBOUNCE_MS"); debounce != "" {
		ms, err := strconv.Atoi(debounce)
		if err != nil {
			return fmt.Errorf("FOUROCHAN_DEBOUNCE_MS must be an integer: %w", err)
		}
		cfg.Live.DebounceMs = ms
	}
	return nil
}

// GetExampleConfig returns the embedded example configuration
func GetExampleConfig() ([]byte, error) {
	return exampleConfig.ReadFile("example.yaml")
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Site: Site{
			Title:       "4ochan",
			Description: "Nostr forum client",
		},
		Relays: Relays{
			Seeds: []string{
				"wss://relay.damus.io",
				"wss://relay.nostr.band",
				"wss://nos.lol",
			},
			Policy: RelayPolicy{
				ConnectTimeoutMs:  5000,
				QueryTimeoutMs:    8000,
				MaxConcurrentSubs: 8,
				BackoffMs:         []int{500, 1500, 5000, 15000},
				AutoReconnect:     true,
				UseNegentropy:     true,
			},
		},
		Boards: []BoardConfig{},
		Live: Live{
			DebounceMs: 250,
			QueryLimit: 500,
		},
		Display: Display{
			Limits: DisplayLimits{
				MaxThreadsPerBoard: 150,
				SummaryLength:      100,
			},
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

// validLogLevels defines allowed log levels
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validLogFormats defines allowed log formats
var validLogFormats = map[string]bool{
	"text": true,
	"json": true,
}

// Validate checks if a configuration is valid
func Validate(cfg *Config) error {
	if len(cfg.Relays.Seeds) == 0 {
		return fmt.Errorf("at least one relay seed is required")
	}
	for _, seed := range cfg.Relays.Seeds {
		if !strings.HasPrefix(seed, "wss://") && !strings.HasPrefix(seed, "ws://") {
			return fmt.Errorf("relay seed must start with ws:// or wss://: %s", seed)
		}
	}

	if cfg.Relays.Policy.ConnectTimeoutMs < 100 {
		return fmt.Errorf("relays.policy.connect_timeout_ms must be at least 100")
	}
	if cfg.Relays.Policy.QueryTimeoutMs < 100 {
		return fmt.Errorf("relays.policy.query_timeout_ms must be at least 100")
	}
	for _, ms := range cfg.Relays.Policy.BackoffMs {
		if ms <= 0 {
			return fmt.Errorf("relays.policy.backoff_ms entries must be positive")
		}
	}

	seen := make(map[string]bool)
	for _, board := range cfg.Boards {
		if board.ID == "" {
			return fmt.Errorf("board id cannot be empty")
		}
		if seen[board.ID] {
			return fmt.Errorf("duplicate board id: %s", board.ID)
		}
		seen[board.ID] = true
	}

	if cfg.Live.DebounceMs < 0 {
		return fmt.Errorf("live.debounce_ms cannot be negative")
	}
	if cfg.Live.QueryLimit < 1 || cfg.Live.QueryLimit > 10000 {
		return fmt.Errorf("live.query_limit must be between 1 and 10000")
	}

	if cfg.Display.Limits.MaxThreadsPerBoard < 1 || cfg.Display.Limits.MaxThreadsPerBoard > 1000 {
		return fmt.Errorf("display.limits.max_threads_per_board must be between 1 and 1000")
	}
	if cfg.Display.Limits.SummaryLength < 10 || cfg.Display.Limits.SummaryLength > 1000 {
		return fmt.Errorf("display.limits.summary_length must be between 10 and 1000")
	}

	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", cfg.Logging.Level)
	}
	if !validLogFormats[cfg.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be one of: text, json)", cfg.Logging.Format)
	}

	return nil
}
