package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	BackendGroq   = "groq"
	BackendOpenAI = "openai"
	BackendOllama = "ollama"
)

// EnvPrefix is prepended to every environment variable read by Load.
const EnvPrefix = "VDOC"

// Config holds application configuration
type Config struct {
	Backend string
	APIKey  string
	Model   string // Empty selects the backend's default model
	BaseURL string // Overrides the backend's endpoint when set

	ListenAddr string
	DBPath     string // Empty keeps sessions in memory only
	LogDir     string
	Debug      bool

	CompletionTimeout time.Duration
	TipInterval       time.Duration
	SessionTTL        time.Duration
	CacheTTL          time.Duration // Zero disables the completion cache

	ReportDir string // Downloaded reports are also archived here when set
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("backend", BackendGroq)
	v.SetDefault("api_key", "")
	v.SetDefault("model", "")
	v.SetDefault("base_url", "")
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("db_path", "virtualdoctor.db")
	v.SetDefault("log_dir", "logs")
	v.SetDefault("debug", false)
	v.SetDefault("completion_timeout", 30*time.Second)
	v.SetDefault("tip_interval", 6*time.Second)
	v.SetDefault("session_ttl", 2*time.Hour)
	v.SetDefault("cache_ttl", time.Duration(0))
	v.SetDefault("report_dir", "")
}

// NewViper returns a viper instance wired to VDOC_* environment variables
// with defaults applied. Values already present in the process environment
// win over the optional dotenv file.
func NewViper(envFile string) (*viper.Viper, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v, nil
}

// FromViper builds a validated Config from v.
func FromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		Backend:           strings.ToLower(strings.TrimSpace(v.GetString("backend"))),
		APIKey:            strings.TrimSpace(v.GetString("api_key")),
		Model:             strings.TrimSpace(v.GetString("model")),
		BaseURL:           strings.TrimSpace(v.GetString("base_url")),
		ListenAddr:        v.GetString("listen_addr"),
		DBPath:            v.GetString("db_path"),
		LogDir:            v.GetString("log_dir"),
		Debug:             v.GetBool("debug"),
		CompletionTimeout: v.GetDuration("completion_timeout"),
		TipInterval:       v.GetDuration("tip_interval"),
		SessionTTL:        v.GetDuration("session_ttl"),
		CacheTTL:          v.GetDuration("cache_ttl"),
		ReportDir:         strings.TrimSpace(v.GetString("report_dir")),
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Load reads configuration from the environment and the optional dotenv file.
func Load(envFile string) (Config, error) {
	v, err := NewViper(envFile)
	if err != nil {
		return Config{}, err
	}
	return FromViper(v)
}

// Validate reports every problem with the configuration at once.
func (c Config) Validate() error {
	var errs []error

	switch c.Backend {
	case BackendGroq, BackendOpenAI:
		if c.APIKey == "" {
			errs = append(errs, fmt.Errorf("api key is required for backend %q (set %s_API_KEY)", c.Backend, EnvPrefix))
		}
	case BackendOllama:
	default:
		errs = append(errs, fmt.Errorf("unknown backend: %q", c.Backend))
	}

	if strings.TrimSpace(c.ListenAddr) == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if c.CompletionTimeout <= 0 {
		errs = append(errs, fmt.Errorf("completion timeout must be positive, got %s", c.CompletionTimeout))
	}
	if c.TipInterval <= 0 {
		errs = append(errs, fmt.Errorf("tip interval must be positive, got %s", c.TipInterval))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, fmt.Errorf("session ttl must be positive, got %s", c.SessionTTL))
	}
	if c.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("cache ttl must not be negative, got %s", c.CacheTTL))
	}

	return errors.Join(errs...)
}
