// config.go defines ClientConfig and loads it from files and the environment.

package squash

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultNotifyPath is the notify route of the Squash API.
	DefaultNotifyPath = "/api/1.0/notify"

	// DefaultTimeout bounds each notify request.
	DefaultTimeout = 15 * time.Second

	// DefaultMaxAge is how long an undelivered occurrence stays queued.
	DefaultMaxAge = 14 * 24 * time.Hour
)

// DefaultHandledSignals is the canonical fatal signal set.
var DefaultHandledSignals = []syscall.Signal{
	syscall.SIGABRT,
	syscall.SIGBUS,
	syscall.SIGFPE,
	syscall.SIGILL,
	syscall.SIGSEGV,
	syscall.SIGTRAP,
}

// ErrNotConfigured is returned when a required ClientConfig field is empty.
var ErrNotConfigured = errors.New("squash: client not configured")

// ConfigError lists the required fields that are missing.
type ConfigError struct {
	Missing []string
}

func (e *ConfigError) Error() string {
	return "squash: missing required config: " + strings.Join(e.Missing, ", ")
}

// Unwrap lets callers match ErrNotConfigured.
func (e *ConfigError) Unwrap() error {
	return ErrNotConfigured
}

// ClientConfig is the per-process configuration of a Client. It is read
// only once Hook has been called.
type ClientConfig struct {
	// Required.
	APIKey      string
	Environment string
	Host        string
	Revision    string

	Version string
	Build   string

	// Disabled stops new captures. Queued occurrences are still delivered.
	Disabled bool

	NotifyPath string
	Timeout    time.Duration

	// Directory is the queue root. Occurrences live under Directory/occurrences.
	Directory string

	IgnoredExceptions  []string
	HandledSignals     []syscall.Signal
	FilterUserDataKeys []string

	// FilterEnvVars lists environment variable names dropped from
	// occurrences. Names matching the sensitive key patterns are always
	// dropped.
	FilterEnvVars []string

	// MaxAge is the retry cap: older undelivered occurrences are discarded.
	MaxAge time.Duration

	LogLevel string
}

// DefaultConfig returns a config with every optional field at its default.
func DefaultConfig() ClientConfig {
	return ClientConfig{
		NotifyPath:     DefaultNotifyPath,
		Timeout:        DefaultTimeout,
		HandledSignals: append([]syscall.Signal(nil), DefaultHandledSignals...),
		MaxAge:         DefaultMaxAge,
	}
}

// withDefaults fills unset optional fields.
func (c ClientConfig) withDefaults() ClientConfig {
	if c.NotifyPath == "" {
		c.NotifyPath = DefaultNotifyPath
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.HandledSignals == nil {
		c.HandledSignals = append([]syscall.Signal(nil), DefaultHandledSignals...)
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
	if c.Directory == "" {
		c.Directory = defaultDirectory()
	}
	return c
}

// Validate reports the missing required fields as a *ConfigError.
func (c ClientConfig) Validate() error {
	var missing []string
	if c.APIKey == "" {
		missing = append(missing, "api_key")
	}
	if c.Environment == "" {
		missing = append(missing, "environment")
	}
	if c.Host == "" {
		missing = append(missing, "host")
	}
	if c.Revision == "" {
		missing = append(missing, "revision")
	}
	if len(missing) > 0 {
		return &ConfigError{Missing: missing}
	}
	return nil
}

// IsConfigured reports whether all required fields are set.
func (c ClientConfig) IsConfigured() bool {
	return c.Validate() == nil
}

// NotifyURL joins Host and NotifyPath.
func (c ClientConfig) NotifyURL() string {
	path := c.NotifyPath
	if path == "" {
		path = DefaultNotifyPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimRight(c.Host, "/") + path
}

// defaultDirectory places the queue in the user cache dir, per executable.
func defaultDirectory() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	name := "default"
	if exe, err := os.Executable(); err == nil {
		name = filepath.Base(exe)
	}
	return filepath.Join(base, "squash", name)
}

// fileConfig mirrors ClientConfig with durations as strings, which is how
// humans write them in YAML and TOML.
type fileConfig struct {
	APIKey             string   `yaml:"api_key" toml:"api_key" json:"api_key"`
	Environment        string   `yaml:"environment" toml:"environment" json:"environment"`
	Host               string   `yaml:"host" toml:"host" json:"host"`
	Revision           string   `yaml:"revision" toml:"revision" json:"revision"`
	Version            string   `yaml:"version" toml:"version" json:"version"`
	Build              string   `yaml:"build" toml:"build" json:"build"`
	Disabled           bool     `yaml:"disabled" toml:"disabled" json:"disabled"`
	NotifyPath         string   `yaml:"notify_path" toml:"notify_path" json:"notify_path"`
	Timeout            string   `yaml:"timeout" toml:"timeout" json:"timeout"`
	Directory          string   `yaml:"directory" toml:"directory" json:"directory"`
	IgnoredExceptions  []string `yaml:"ignored_exceptions" toml:"ignored_exceptions" json:"ignored_exceptions"`
	HandledSignals     []int    `yaml:"handled_signals" toml:"handled_signals" json:"handled_signals"`
	FilterUserDataKeys []string `yaml:"filter_user_data_keys" toml:"filter_user_data_keys" json:"filter_user_data_keys"`
	FilterEnvVars      []string `yaml:"filter_env_vars" toml:"filter_env_vars" json:"filter_env_vars"`
	MaxAge             string   `yaml:"max_age" toml:"max_age" json:"max_age"`
	LogLevel           string   `yaml:"log_level" toml:"log_level" json:"log_level"`
}

// LoadConfig reads a YAML, TOML or JSON config file, chosen by extension,
// and applies SQUASH_* environment overrides. The result is not validated.
func LoadConfig(path string) (ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("load config %q: %w", path, err)
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	case ".toml":
		err = toml.Unmarshal(data, &fc)
	case ".json":
		err = json.Unmarshal(data, &fc)
	default:
		return ClientConfig{}, fmt.Errorf("load config %q: unsupported extension", path)
	}
	if err != nil {
		return ClientConfig{}, fmt.Errorf("parse config %q: %w", path, err)
	}

	cfg, err := fc.toConfig()
	if err != nil {
		return ClientConfig{}, fmt.Errorf("parse config %q: %w", path, err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func (fc fileConfig) toConfig() (ClientConfig, error) {
	cfg := ClientConfig{
		APIKey:             fc.APIKey,
		Environment:        fc.Environment,
		Host:               fc.Host,
		Revision:           fc.Revision,
		Version:            fc.Version,
		Build:              fc.Build,
		Disabled:           fc.Disabled,
		NotifyPath:         fc.NotifyPath,
		Directory:          fc.Directory,
		IgnoredExceptions:  fc.IgnoredExceptions,
		FilterUserDataKeys: fc.FilterUserDataKeys,
		FilterEnvVars:      fc.FilterEnvVars,
		LogLevel:           fc.LogLevel,
	}
	if fc.Timeout != "" {
		d, err := time.ParseDuration(fc.Timeout)
		if err != nil {
			return ClientConfig{}, fmt.Errorf("timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if fc.MaxAge != "" {
		d, err := time.ParseDuration(fc.MaxAge)
		if err != nil {
			return ClientConfig{}, fmt.Errorf("max_age: %w", err)
		}
		cfg.MaxAge = d
	}
	if fc.HandledSignals != nil {
		cfg.HandledSignals = make([]syscall.Signal, len(fc.HandledSignals))
		for i, n := range fc.HandledSignals {
			cfg.HandledSignals[i] = syscall.Signal(n)
		}
	}
	return cfg, nil
}

// LoadConfigOrEnv loads path when it is non-empty. Otherwise it starts from
// DefaultConfig and applies the environment.
func LoadConfigOrEnv(path string) (ClientConfig, error) {
	if path != "" {
		return LoadConfig(path)
	}
	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from SQUASH_* environment variables.
func (c *ClientConfig) ApplyEnv() error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("SQUASH_API_KEY", &c.APIKey)
	setString("SQUASH_ENVIRONMENT", &c.Environment)
	setString("SQUASH_HOST", &c.Host)
	setString("SQUASH_REVISION", &c.Revision)
	setString("SQUASH_NOTIFY_PATH", &c.NotifyPath)
	setString("SQUASH_DIR", &c.Directory)
	setString("SQUASH_LOG_LEVEL", &c.LogLevel)

	if v := os.Getenv("SQUASH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SQUASH_TIMEOUT: %w", err)
		}
		c.Timeout = d
	}
	if v := os.Getenv("SQUASH_DISABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SQUASH_DISABLED: %w", err)
		}
		c.Disabled = b
	}
	return nil
}
