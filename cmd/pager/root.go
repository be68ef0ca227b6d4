package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/leaky-pager/internal/config"
	"github.com/Sternrassler/leaky-pager/pkg/logging"
)

// rootOptions holds the global flags shared by all subcommands.
type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "pager",
		Short: "Leaky-bucket admission control and a self-throttling page stream",
		Long: `Pager serves a paginated dataset behind a leaky-bucket admission controller.

Every page costs page_size x fields points. Requests the bucket cannot absorb
are answered with 429, and every response reports the bucket state in
x-bucket-points, x-bucket-capacity and x-bucket-leak-per-second headers.

The fetch command consumes such an endpoint with a stream that mirrors the
bucket locally, sleeps before requests that would be rejected and retries
rejected pages after the advertised leak time.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file path (default $"+config.EnvConfigPath+" or built-in defaults)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	cmd.AddCommand(
		newServeCmd(opts),
		newFetchCmd(opts),
		newStatusCmd(opts),
		newVersionCmd(),
	)

	return cmd
}

// Execute runs the root command until it finishes or the process is interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// load reads the configuration, applies global overrides and sets up logging.
func (o *rootOptions) load() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
		if err := cfg.Validate(); err != nil {
			return config.Config{}, err
		}
	}

	logging.Setup(cfg.Logging.Options())
	return cfg, nil
}

// connectRedis returns a client for cfg after checking it answers PING.
func connectRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}
