package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"VirtualDoctor/internal/app"
	"VirtualDoctor/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"backend":     "backend",
	"model":       "model",
	"base-url":    "base_url",
	"listen":      "listen_addr",
	"db":          "db_path",
	"log-dir":     "log_dir",
	"report-dir":  "report_dir",
	"debug":       "debug",
	"session-ttl": "session_ttl",
	"cache-ttl":   "cache_ttl",

	"completion-timeout": "completion_timeout",
	"tip-interval":       "tip_interval",
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var envFile string

	serve := func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(envFile, cmd.Flags())
		if err != nil {
			return err
		}

		a, err := app.New(cfg, version)
		if err != nil {
			return fmt.Errorf("failed to initialize application: %w", err)
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Fprintf(cmd.OutOrStdout(), "Virtual Doctor Assistant %s listening on %s\n", version, cfg.ListenAddr)
		return a.Run(ctx)
	}

	rootCmd := &cobra.Command{
		Use:          "virtualdoctor",
		Short:        "Virtual Doctor Assistant web application",
		Long:         "virtualdoctor serves the doctor chat, nutrition planner and health tips pages.",
		SilenceUsage: true,
		RunE:         serve,
		Args:         cobra.NoArgs,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&envFile, "env-file", ".env", "Optional dotenv file read before the environment")
	flags.String("backend", "", "Completion backend (groq|openai|ollama)")
	flags.String("model", "", "Model name, defaults to the backend's model")
	flags.String("base-url", "", "Override the backend's API base URL")
	flags.String("listen", "", "HTTP listen address (default :8080)")
	flags.String("db", "", "SQLite session database path (default virtualdoctor.db)")
	flags.String("log-dir", "", "Directory for logs, traces and metrics (default logs)")
	flags.String("report-dir", "", "Also archive downloaded reports in this directory")
	flags.Bool("debug", false, "Enable debug logging to stdout")
	flags.Duration("session-ttl", 0, "Idle time after which a session is discarded (default 2h)")
	flags.Duration("cache-ttl", 0, "Cache identical completions for this long (default off)")
	flags.Duration("completion-timeout", 0, "Deadline for each completion call (default 30s)")
	flags.Duration("tip-interval", 0, "Time each health tip stays on the Home page (default 6s)")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the web server (default)",
			Args:  cobra.NoArgs,
			RunE:  serve,
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show version information",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "virtualdoctor %s\n", version)
			},
		},
	)

	return rootCmd
}

// loadConfig layers explicitly set flags over the environment, the dotenv
// file and the defaults.
func loadConfig(envFile string, flags *pflag.FlagSet) (config.Config, error) {
	v, err := config.NewViper(envFile)
	if err != nil {
		return config.Config{}, err
	}

	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return config.Config{}, fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}

	cfg, err := config.FromViper(v)
	if err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
