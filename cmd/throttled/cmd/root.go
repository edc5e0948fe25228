// Package cmd provides the CLI commands for throttled.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/palmkit/throttle/internal/config"
	"github.com/palmkit/throttle/internal/ratelimit"
	"github.com/palmkit/throttle/internal/store"
	"github.com/palmkit/throttle/pkg/logger"
)

var (
	cfgFile string
	envFile string
)

var rootCmd = &cobra.Command{
	Use:   "throttled",
	Short: "Sliding window rate limiter service",
	Long: `throttled decides whether keyed requests are allowed, using a weighted
sliding window with escalating penalties for repeat offenders and fixed
hourly to monthly quotas.

Run without a subcommand to start the HTTP service.

Configuration:
  Values come from environment variables (optionally loaded from a .env
  file) and an optional YAML file given with --config.

Commands:
  serve       Start the HTTP service (default)
  check       Record one request for a key and print the decision
  quota       Count one use of a key against a quota
  reset       Clear the state of a key
  cleanup     Remove stale records once
  migrate     Manage the postgres schema (up, down, status)
  version     Print version information`,
	SilenceUsage: true,
	RunE:         runServe,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
}

// loadConfig loads the dotenv file, if present, and then the configuration.
// Variables already set in the environment win over the dotenv file.
func loadConfig() (*config.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}
	return config.LoadFile(cfgFile)
}

// session bundles what the one-shot commands need.
type session struct {
	cfg     *config.Config
	log     *logger.Logger
	backend store.Backend
	windows *ratelimit.WindowStore
}

func openSession(ctx context.Context, logOut io.Writer) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	log := logger.New(logOut, cfg.App.LogLevel)
	backend, err := store.Open(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	return &session{
		cfg:     cfg,
		log:     log,
		backend: backend,
		windows: ratelimit.NewWindowStore(backend, ratelimit.WithLogger(log)),
	}, nil
}

// limiter builds a sliding window limiter with the configured rules.
func (r *session) limiter() (*ratelimit.SlidingWindowLimiter, error) {
	l := ratelimit.NewSlidingWindowLimiter(r.windows, ratelimit.WithLogger(r.log))
	for _, name := range r.cfg.Rate.RuleNames() {
		rc := r.cfg.Rate.Rules[name]
		if err := l.Configure(name, ratelimit.Rule{Limit: rc.Limit, Window: rc.Window}); err != nil {
			return nil, fmt.Errorf("rule %q: %w", name, err)
		}
	}
	return l, nil
}

func (r *session) Close() {
	if err := r.backend.Close(); err != nil {
		r.log.Warn("failed to close store", "error", err)
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
