package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Config is the root configuration for cmdgate.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Policy   PolicyConfig   `json:"policy"`
	Rules    RulesConfig    `json:"rules"`
	Channels ChannelsConfig `json:"channels"`
	Audit    AuditConfig    `json:"audit"`
	Metrics  MetricsConfig  `json:"metrics"`
	Gateway  GatewayConfig  `json:"gateway"`
}

type GeneralConfig struct {
	Workspace     string `json:"workspace"`
	LogLevel      string `json:"logLevel"`
	LogFile       string `json:"logFile,omitempty"`
	LogMaxSizeMB  int    `json:"logMaxSizeMB,omitempty"`  // rotate log file at this size
	LogMaxBackups int    `json:"logMaxBackups,omitempty"` // rotated files to keep
}

// PolicyConfig configures the command decision engine.
type PolicyConfig struct {
	DefaultPolicy         string   `json:"defaultPolicy"` // "allow" | "deny" | "ask"
	Allowlist             []string `json:"allowlist"`
	Denylist              []string `json:"denylist"`
	BlockSubstitution     bool     `json:"blockSubstitution"` // $(...) and backticks always escalate
	ConfirmTimeoutSeconds int      `json:"confirmTimeoutSeconds"`
	AuditLog              bool     `json:"auditLog"`
}

// RulesConfig points at the rules.d directories merged on top of the
// inline allow/deny lists. Workspace rules are appended after global ones.
type RulesConfig struct {
	GlobalDir    string `json:"globalDir"`
	WorkspaceDir string `json:"workspaceDir"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	CLI      CLIConfig      `json:"cli"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom"`
	ParseMode string         `json:"parseMode"`
}

type CLIConfig struct {
	Enabled bool `json:"enabled"`
}

type AuditConfig struct {
	DBPath        string `json:"dbPath"`
	RetentionDays int    `json:"retentionDays"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// GatewayConfig configures the HTTP decision endpoint.
type GatewayConfig struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	APIKey string `json:"apiKey,omitempty"` // optional bearer token for POST /v1/decisions
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.cmdgate).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cmdgate"
	}
	return filepath.Join(home, ".cmdgate")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.Workspace = ExpandPath(cfg.General.Workspace)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Audit.DBPath = ExpandPath(cfg.Audit.DBPath)
	cfg.Rules.GlobalDir = ExpandPath(cfg.Rules.GlobalDir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	switch cfg.Policy.DefaultPolicy {
	case "allow", "deny", "ask":
		// valid
	default:
		errs = append(errs, "policy.defaultPolicy must be one of: allow, deny, ask")
	}
	if cfg.Policy.ConfirmTimeoutSeconds < 1 {
		errs = append(errs, "policy.confirmTimeoutSeconds must be >= 1")
	}

	if cfg.Audit.RetentionDays < 1 {
		errs = append(errs, "audit.retentionDays must be >= 1")
	}

	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		errs = append(errs, "gateway.port must be between 0 and 65535")
	}

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when telegram is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
