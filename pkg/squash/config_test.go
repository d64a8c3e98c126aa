package squash

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientConfig_Validate(t *testing.T) {
	var cfg ClientConfig
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotConfigured))

	var cerr *ConfigError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, []string{"api_key", "environment", "host", "revision"}, cerr.Missing)
	assert.False(t, cfg.IsConfigured())

	cfg = ClientConfig{APIKey: "k", Environment: "e", Host: "h", Revision: "r"}
	assert.NoError(t, cfg.Validate())
	assert.True(t, cfg.IsConfigured())
}

func TestClientConfig_IsConfigured_EachFieldRequired(t *testing.T) {
	full := ClientConfig{APIKey: "k", Environment: "e", Host: "h", Revision: "r"}
	clears := []func(*ClientConfig){
		func(c *ClientConfig) { c.APIKey = "" },
		func(c *ClientConfig) { c.Environment = "" },
		func(c *ClientConfig) { c.Host = "" },
		func(c *ClientConfig) { c.Revision = "" },
	}
	for i, fn := range clears {
		cfg := full
		fn(&cfg)
		if cfg.IsConfigured() {
			t.Errorf("case %d: IsConfigured() = true with a required field empty", i)
		}
	}
}

func TestClientConfig_Defaults(t *testing.T) {
	cfg := ClientConfig{}.withDefaults()
	assert.Equal(t, DefaultNotifyPath, cfg.NotifyPath)
	assert.Equal(t, 15*time.Second, cfg.Timeout)
	assert.Equal(t, DefaultMaxAge, cfg.MaxAge)
	assert.Equal(t, []syscall.Signal{
		syscall.SIGABRT, syscall.SIGBUS, syscall.SIGFPE,
		syscall.SIGILL, syscall.SIGSEGV, syscall.SIGTRAP,
	}, cfg.HandledSignals)
	assert.NotEmpty(t, cfg.Directory)

	// An explicitly empty signal set stays empty.
	cfg = ClientConfig{HandledSignals: []syscall.Signal{}}.withDefaults()
	assert.Empty(t, cfg.HandledSignals)
}

func TestClientConfig_NotifyURL(t *testing.T) {
	tests := []struct {
		host, path, want string
	}{
		{"https://squash.example.com", "", "https://squash.example.com/api/1.0/notify"},
		{"https://squash.example.com/", "/api/1.0/notify", "https://squash.example.com/api/1.0/notify"},
		{"http://localhost:3000", "custom/notify", "http://localhost:3000/custom/notify"},
	}
	for _, tt := range tests {
		cfg := ClientConfig{Host: tt.host, NotifyPath: tt.path}
		assert.Equal(t, tt.want, cfg.NotifyURL())
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_Formats(t *testing.T) {
	yamlPath := writeFile(t, "squash.yaml", `
api_key: key
environment: production
host: https://squash.example.com
revision: deadbeef
timeout: 5s
max_age: 72h
ignored_exceptions: ["context.Canceled"]
handled_signals: [11, 7]
filter_user_data_keys: [password]
`)
	tomlPath := writeFile(t, "squash.toml", `
api_key = "key"
environment = "production"
host = "https://squash.example.com"
revision = "deadbeef"
timeout = "5s"
max_age = "72h"
ignored_exceptions = ["context.Canceled"]
handled_signals = [11, 7]
filter_user_data_keys = ["password"]
`)
	jsonPath := writeFile(t, "squash.json", `{
  "api_key": "key",
  "environment": "production",
  "host": "https://squash.example.com",
  "revision": "deadbeef",
  "timeout": "5s",
  "max_age": "72h",
  "ignored_exceptions": ["context.Canceled"],
  "handled_signals": [11, 7],
  "filter_user_data_keys": ["password"]
}`)

	for _, path := range []string{yamlPath, tomlPath, jsonPath} {
		t.Run(filepath.Ext(path), func(t *testing.T) {
			cfg, err := LoadConfig(path)
			require.NoError(t, err)
			assert.Equal(t, "key", cfg.APIKey)
			assert.Equal(t, "production", cfg.Environment)
			assert.Equal(t, "https://squash.example.com", cfg.Host)
			assert.Equal(t, "deadbeef", cfg.Revision)
			assert.Equal(t, 5*time.Second, cfg.Timeout)
			assert.Equal(t, 72*time.Hour, cfg.MaxAge)
			assert.Equal(t, []string{"context.Canceled"}, cfg.IgnoredExceptions)
			assert.Equal(t, []syscall.Signal{syscall.Signal(11), syscall.Signal(7)}, cfg.HandledSignals)
			assert.Equal(t, []string{"password"}, cfg.FilterUserDataKeys)
			assert.True(t, cfg.IsConfigured())
		})
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadConfig(writeFile(t, "squash.ini", "api_key=x"))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unsupported extension"))

	_, err = LoadConfig(writeFile(t, "bad.yaml", "timeout: soon\n"))
	assert.Error(t, err)

	_, err = LoadConfig(writeFile(t, "bad.json", "{"))
	assert.Error(t, err)
}

func TestClientConfig_ApplyEnv(t *testing.T) {
	t.Setenv("SQUASH_API_KEY", "env-key")
	t.Setenv("SQUASH_ENVIRONMENT", "staging")
	t.Setenv("SQUASH_HOST", "https://env.example.com")
	t.Setenv("SQUASH_REVISION", "cafe")
	t.Setenv("SQUASH_DIR", "/var/lib/squash")
	t.Setenv("SQUASH_TIMEOUT", "3s")
	t.Setenv("SQUASH_DISABLED", "true")

	cfg := ClientConfig{APIKey: "file-key", Environment: "production"}
	require.NoError(t, cfg.ApplyEnv())
	assert.Equal(t, "env-key", cfg.APIKey)
	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, "https://env.example.com", cfg.Host)
	assert.Equal(t, "cafe", cfg.Revision)
	assert.Equal(t, "/var/lib/squash", cfg.Directory)
	assert.Equal(t, 3*time.Second, cfg.Timeout)
	assert.True(t, cfg.Disabled)
}

func TestClientConfig_ApplyEnv_Invalid(t *testing.T) {
	t.Setenv("SQUASH_TIMEOUT", "forever")
	cfg := ClientConfig{}
	assert.Error(t, cfg.ApplyEnv())
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	t.Setenv("SQUASH_REVISION", "from-env")
	path := writeFile(t, "squash.yml", "revision: from-file\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Revision)
}

func TestLoadConfigOrEnv_NoPath(t *testing.T) {
	t.Setenv("SQUASH_API_KEY", "only-env")
	cfg, err := LoadConfigOrEnv("")
	require.NoError(t, err)
	assert.Equal(t, "only-env", cfg.APIKey)
	assert.Equal(t, DefaultNotifyPath, cfg.NotifyPath)
}
