package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opentalon/metisctl/internal/args"
	"github.com/opentalon/metisctl/internal/chat"
	"github.com/opentalon/metisctl/internal/task"
)

type Config struct {
	API       APIConfig        `yaml:"api"`
	Defaults  DefaultsConfig   `yaml:"defaults"`
	Hook      HookConfig       `yaml:"hook"`
	Output    OutputConfig     `yaml:"output"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Items     []ItemConfig     `yaml:"items"`
	Schedules []ScheduleConfig `yaml:"schedules"`
}

type APIConfig struct {
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	ClientID string `yaml:"client_id"`
}

// DefaultsConfig applies to every generation item that does not set its own.
type DefaultsConfig struct {
	PollInterval Duration `yaml:"poll_interval"`
	Timeout      Duration `yaml:"timeout"`
	Wait         *bool    `yaml:"wait"`
	Completion   string   `yaml:"completion"`
}

type HookConfig struct {
	Script string `yaml:"script"`
}

const (
	OutputStdout = "stdout"
	OutputFile   = "file"
	OutputRedis  = "redis"
)

type OutputConfig struct {
	Kind  string      `yaml:"kind"`
	Path  string      `yaml:"path"`
	Redis RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

const (
	ItemGeneration = "generation"
	ItemChat       = "chat"
)

// ItemConfig is one batch item. Kind selects which of the remaining
// fields apply; generation is assumed when it is empty.
type ItemConfig struct {
	Kind string `yaml:"kind"`

	Provider     string         `yaml:"provider"`
	Model        string         `yaml:"model"`
	Operation    string         `yaml:"operation"`
	Args         ArgsConfig     `yaml:"args"`
	Completion   string         `yaml:"completion"`
	Wait         *bool          `yaml:"wait"`
	PollInterval Duration       `yaml:"poll_interval"`
	Timeout      Duration       `yaml:"timeout"`
	Webhook      *WebhookConfig `yaml:"webhook"`

	BotID     string `yaml:"bot_id"`
	SessionID string `yaml:"session_id"`
	Type      string `yaml:"type"`
	Content   string `yaml:"content"`
}

// ArgsConfig holds one argument input; Mode picks which block is read.
type ArgsConfig struct {
	Mode   string      `yaml:"mode"`
	Schema args.Schema `yaml:"schema"`
	Guided args.Guided `yaml:"guided"`
	JSON   string      `yaml:"json"`
}

// Input returns the block selected by Mode.
func (a ArgsConfig) Input() (args.Input, error) {
	mode, err := args.ParseMode(a.Mode)
	if err != nil {
		return nil, err
	}
	switch mode {
	case args.ModeGuided:
		return a.Guided, nil
	case args.ModeJSON:
		return args.JSON{Raw: a.JSON}, nil
	default:
		return a.Schema, nil
	}
}

type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Method  string            `yaml:"method"`
	Headers map[string]string `yaml:"headers"`
}

type ScheduleConfig struct {
	Name string `yaml:"name"`
	Cron string `yaml:"cron"`
	// Paused schedules are registered but never fire unless resumed.
	Paused bool         `yaml:"paused"`
	Items  []ItemConfig `yaml:"items"`
}

// Duration accepts Go duration strings ("5s", "30m") in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if strings.TrimSpace(s) == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q: %w", value.Line, s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

var envPattern = regexp.MustCompile(`\$\{([^}]+)}`)

func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

func expandEnvInConfig(cfg *Config) {
	cfg.API.BaseURL = expandEnv(cfg.API.BaseURL)
	cfg.API.APIKey = expandEnv(cfg.API.APIKey)
	cfg.API.ClientID = expandEnv(cfg.API.ClientID)
	cfg.Hook.Script = expandEnv(cfg.Hook.Script)
	cfg.Output.Path = expandEnv(cfg.Output.Path)
	cfg.Output.Redis.Addr = expandEnv(cfg.Output.Redis.Addr)
	cfg.Output.Redis.Password = expandEnv(cfg.Output.Redis.Password)
	cfg.Metrics.Textfile = expandEnv(cfg.Metrics.Textfile)
	expandEnvInItems(cfg.Items)
	for i := range cfg.Schedules {
		expandEnvInItems(cfg.Schedules[i].Items)
	}
}

func expandEnvInItems(items []ItemConfig) {
	for i := range items {
		if wh := items[i].Webhook; wh != nil {
			wh.URL = expandEnv(wh.URL)
			for k, v := range wh.Headers {
				wh.Headers[k] = expandEnv(v)
			}
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Output.Kind == "" {
		cfg.Output.Kind = OutputStdout
	}
	if cfg.Output.Redis.Key == "" {
		cfg.Output.Redis.Key = "metisctl:results"
	}
	if cfg.Defaults.Completion == "" {
		cfg.Defaults.Completion = string(task.StrategyPolling)
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	expandEnvInConfig(&cfg)
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values that can be checked without the gateway.
// Cron expressions are checked when the schedule is registered.
func (c *Config) Validate() error {
	switch c.Output.Kind {
	case OutputStdout:
	case OutputFile:
		if c.Output.Path == "" {
			return fmt.Errorf("output.path is required when output.kind=%s", OutputFile)
		}
	case OutputRedis:
		if c.Output.Redis.Addr == "" {
			return fmt.Errorf("output.redis.addr is required when output.kind=%s", OutputRedis)
		}
	default:
		return fmt.Errorf("unknown output.kind %q (supported: %s, %s, %s)", c.Output.Kind, OutputStdout, OutputFile, OutputRedis)
	}
	if _, err := task.ParseStrategy(c.Defaults.Completion); err != nil {
		return fmt.Errorf("defaults: %w", err)
	}
	if err := validateItems("items", c.Items); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.Schedules))
	for i, s := range c.Schedules {
		if s.Name == "" {
			return fmt.Errorf("schedules[%d]: name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("schedules[%d]: duplicate name %q", i, s.Name)
		}
		seen[s.Name] = true
		if s.Cron == "" {
			return fmt.Errorf("schedule %q: cron is required", s.Name)
		}
		if err := validateItems(fmt.Sprintf("schedule %q items", s.Name), s.Items); err != nil {
			return err
		}
	}
	return nil
}

func validateItems(where string, items []ItemConfig) error {
	for i, it := range items {
		switch it.Kind {
		case "", ItemGeneration:
			if it.Provider == "" || it.Model == "" || it.Operation == "" {
				return fmt.Errorf("%s[%d]: provider, model and operation are required", where, i)
			}
			if _, err := args.ParseMode(it.Args.Mode); err != nil {
				return fmt.Errorf("%s[%d]: %w", where, i, err)
			}
			if _, err := task.ParseStrategy(it.Completion); err != nil {
				return fmt.Errorf("%s[%d]: %w", where, i, err)
			}
		case ItemChat:
			if it.BotID == "" && it.SessionID == "" {
				return fmt.Errorf("%s[%d]: bot_id or session_id is required", where, i)
			}
			if _, err := chat.ParseMessageType(it.Type); err != nil {
				return fmt.Errorf("%s[%d]: %w", where, i, err)
			}
		default:
			return fmt.Errorf("%s[%d]: unknown kind %q (supported: %s, %s)", where, i, it.Kind, ItemGeneration, ItemChat)
		}
	}
	return nil
}

const maskSuffix = "***"

// MaskedKey returns the API key with most characters replaced by ***.
// Shows at most the first 6 characters for identification.
func (a APIConfig) MaskedKey() string {
	if a.APIKey == "" {
		return ""
	}
	visible := 6
	if len(a.APIKey) <= visible {
		return maskSuffix
	}
	return a.APIKey[:visible] + maskSuffix
}
