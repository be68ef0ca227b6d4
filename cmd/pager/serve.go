package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/leaky-pager/internal/config"
	"github.com/Sternrassler/leaky-pager/pkg/admission"
	"github.com/Sternrassler/leaky-pager/pkg/dataset"
	"github.com/Sternrassler/leaky-pager/pkg/logging"
	"github.com/Sternrassler/leaky-pager/pkg/server"
)

type serveOptions struct {
	addr    string
	dataset string
	noNoise bool
	dryRun  bool
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the admission-controlled page server",
		Long: `Start the page server.

GET / accepts fields, page and page_size parameters. The request is charged
page_size x fields points (all 26 fields when none are selected) against a
single leaky bucket shared by every client.

Examples:
  # Serve 1000 synthetic records on 127.0.0.1:8080
  pager serve

  # Serve a JSON array file without simulated foreign load
  pager serve --dataset porticos.json --no-noise

  # Validate config without starting the server
  pager serve --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, root, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.addr, "listen", "l", "", "override listen address")
	cmd.Flags().StringVar(&opts.dataset, "dataset", "", "override dataset file (JSON array)")
	cmd.Flags().BoolVar(&opts.noNoise, "no-noise", false, "disable simulated foreign load")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "validate config and dataset without starting the server")

	return cmd
}

func runServe(cmd *cobra.Command, root *rootOptions, opts *serveOptions) error {
	cfg, err := root.load()
	if err != nil {
		return err
	}
	if opts.addr != "" {
		cfg.Server.Addr = opts.addr
	}
	if opts.dataset != "" {
		cfg.Server.Dataset = opts.dataset
	}
	if opts.noNoise {
		cfg.Server.Noise.Disabled = true
	}

	pages, err := loadDataset(cfg.Server)
	if err != nil {
		return err
	}

	if opts.dryRun {
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration valid: %d records, bucket %d points leaking %d/s\n",
			pages.Len(), cfg.Server.Capacity, cfg.Server.LeakPerSecond)
		return nil
	}

	logger := logging.NewLogger("serve")

	ctrl, err := admission.New(cfg.Server.Admission(), pages, logging.NewLogger("admission"),
		admission.WithNoise(cfg.Server.NoiseSource()))
	if err != nil {
		return fmt.Errorf("create admission controller: %w", err)
	}

	var srvOpts []server.Option
	if cfg.Redis.Enabled() {
		rdb, err := connectRedis(cmd.Context(), cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
		srvOpts = append(srvOpts, server.WithReadinessCheck("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}))
	}

	srv, err := server.New(cfg.Server.HTTP(), ctrl, logging.NewLogger("server"), srvOpts...)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	ctrlErr := make(chan error, 1)
	go func() {
		ctrlErr <- ctrl.Run(ctx)
	}()

	logger.Info().
		Str("addr", cfg.Server.Addr).
		Int("records", pages.Len()).
		Int("capacity", cfg.Server.Capacity).
		Int("leak_per_second", cfg.Server.LeakPerSecond).
		Bool("noise", !cfg.Server.Noise.Disabled).
		Msg("Starting pager server")

	err = srv.Run(ctx)
	cancel()
	if cerr := <-ctrlErr; err == nil {
		err = cerr
	}

	logger.Info().Msg("Pager server stopped")
	return err
}

func loadDataset(cfg config.ServerConfig) (*dataset.Memory, error) {
	if cfg.Dataset == "" {
		return dataset.Synthetic(cfg.SyntheticRecords), nil
	}
	pages, err := dataset.Load(cfg.Dataset)
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}
	return pages, nil
}
