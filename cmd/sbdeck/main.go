package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/thebranchdriftcatalyst/sbdeck/internal/config"
)

var (
	// Version information (set via -ldflags)
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// rootOptions holds the persistent flags shared by every subcommand
type rootOptions struct {
	host           string
	port           int
	endpoint       string
	password       string
	passwordSecret string
	configFile     string
	envFile        string
	logLevel       string
	logFormat      string
	timeout        time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "sbdeck",
		Short: "Trigger Streamer.bot actions over its WebSocket server",
		Long: `sbdeck connects to a Streamer.bot WebSocket server, lists its actions and
runs them by id or name with a JSON payload. The serve command keeps a
session open and exposes it over a small HTTP API.`,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.host, "host", "", "Streamer.bot host (overrides SB_HOST, default 127.0.0.1)")
	flags.IntVar(&opts.port, "port", 0, "Streamer.bot WebSocket port (overrides SB_PORT, default 8080)")
	flags.StringVar(&opts.endpoint, "endpoint", "", "WebSocket endpoint path (overrides SB_ENDPOINT)")
	flags.StringVar(&opts.password, "password", "", "WebSocket server password (overrides SB_PASSWORD)")
	flags.StringVar(&opts.passwordSecret, "password-secret", "", "Read the password from a Kubernetes Secret: namespace/name[/key]")
	flags.StringVar(&opts.configFile, "config", "", "YAML config file")
	flags.StringVar(&opts.envFile, "env-file", "", "Load environment variables from this file")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", "", "Log format (json, console)")
	flags.DurationVar(&opts.timeout, "timeout", 0, "Per-request timeout (overrides REQUEST_TIMEOUT)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "sbdeck %s\n", version)
			fmt.Fprintf(out, "  git commit: %s\n", gitCommit)
			fmt.Fprintf(out, "  build date: %s\n", buildDate)
		},
	}

	rootCmd.AddCommand(versionCmd, newActionsCmd(opts), newDoCmd(opts), newServeCmd(opts))
	return rootCmd
}

// load builds the configuration, applies flags that were set explicitly
// and any command-specific overrides, then validates once.
func (o *rootOptions) load(cmd *cobra.Command, overrides ...func(*config.Config)) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Read(config.Options{File: o.configFile, EnvFile: o.envFile})
	if err != nil {
		return nil, zerolog.Nop(), err
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Host = o.host
	}
	if flags.Changed("port") {
		cfg.Port = o.port
	}
	if flags.Changed("endpoint") {
		cfg.Endpoint = o.endpoint
	}
	// An explicit password source replaces the configured one
	if flags.Changed("password") {
		cfg.Password = o.password
		cfg.PasswordSecret = ""
	}
	if flags.Changed("password-secret") {
		cfg.PasswordSecret = o.passwordSecret
		cfg.Password = ""
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = o.logFormat
	}
	if flags.Changed("timeout") {
		cfg.RequestTimeout = o.timeout
	}

	for _, apply := range overrides {
		apply(cfg)
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Nop(), err
	}

	return cfg, setupLogging(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr()), nil
}

// setupLogging configures structured logging. Logs go to w so command
// output on stdout stays machine readable.
func setupLogging(level, format string, w io.Writer) zerolog.Logger {
	// Parse log level
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		logLevel = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(logLevel)
	zerolog.TimeFieldFormat = time.RFC3339

	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}

	return zerolog.New(w).With().
		Timestamp().
		Str("service", "sbdeck").
		Logger()
}
