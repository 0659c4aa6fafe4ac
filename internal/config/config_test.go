package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Backend:           BackendGroq,
		APIKey:            "test-key",
		ListenAddr:        ":8080",
		CompletionTimeout: 30 * time.Second,
		TipInterval:       6 * time.Second,
		SessionTTL:        time.Hour,
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("VDOC_API_KEY", "gsk-test")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, BackendGroq, cfg.Backend)
	assert.Equal(t, "gsk-test", cfg.APIKey)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "virtualdoctor.db", cfg.DBPath)
	assert.Equal(t, "logs", cfg.LogDir)
	assert.Equal(t, 30*time.Second, cfg.CompletionTimeout)
	assert.Equal(t, 6*time.Second, cfg.TipInterval)
	assert.Equal(t, 2*time.Hour, cfg.SessionTTL)
	assert.Zero(t, cfg.CacheTTL)
	assert.Empty(t, cfg.ReportDir)
	assert.False(t, cfg.Debug)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("VDOC_BACKEND", "OpenAI")
	t.Setenv("VDOC_API_KEY", "sk-test")
	t.Setenv("VDOC_MODEL", "gpt-4o-mini")
	t.Setenv("VDOC_COMPLETION_TIMEOUT", "5s")
	t.Setenv("VDOC_DEBUG", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, BackendOpenAI, cfg.Backend)
	assert.Equal(t, "gpt-4o-mini", cfg.Model)
	assert.Equal(t, 5*time.Second, cfg.CompletionTimeout)
	assert.True(t, cfg.Debug)
}

func TestLoad_DotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("VDOC_BACKEND=ollama\nVDOC_TIP_INTERVAL=2s\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("VDOC_BACKEND")
		os.Unsetenv("VDOC_TIP_INTERVAL")
	})

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendOllama, cfg.Backend)
	assert.Equal(t, 2*time.Second, cfg.TipInterval)
}

func TestLoad_MissingDotEnvIsIgnored(t *testing.T) {
	t.Setenv("VDOC_API_KEY", "gsk-test")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name:   "ollama needs no key",
			mutate: func(c *Config) { c.Backend = BackendOllama; c.APIKey = "" },
		},
		{
			name:    "missing key",
			mutate:  func(c *Config) { c.APIKey = "" },
			wantErr: "api key is required",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Backend = "anthropic" },
			wantErr: "unknown backend",
		},
		{
			name:    "zero timeout",
			mutate:  func(c *Config) { c.CompletionTimeout = 0 },
			wantErr: "completion timeout must be positive",
		},
		{
			name:    "zero tip interval",
			mutate:  func(c *Config) { c.TipInterval = 0 },
			wantErr: "tip interval must be positive",
		},
		{
			name:    "negative cache ttl",
			mutate:  func(c *Config) { c.CacheTTL = -time.Second },
			wantErr: "cache ttl must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
