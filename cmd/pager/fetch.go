package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/leaky-pager/pkg/cache"
	"github.com/Sternrassler/leaky-pager/pkg/client"
	"github.com/Sternrassler/leaky-pager/pkg/logging"
	"github.com/Sternrassler/leaky-pager/pkg/pagination"
	"github.com/Sternrassler/leaky-pager/pkg/ratelimit"
)

type fetchOptions struct {
	baseURL       string
	fields        []string
	pageSize      int
	startPage     int
	maxRejections int
	limit         int
	waitReady     bool
	noCache       bool
}

func newFetchCmd(root *rootOptions) *cobra.Command {
	opts := &fetchOptions{}

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Stream records from a pager server as JSON lines",
		Long: `Stream records from a pager server, one JSON object per line on stdout.

Pages are requested strictly in order. Before each request the stream checks
its local copy of the server's bucket and sleeps until the page is affordable;
a 429 puts it to sleep for the time the bucket needs to drain and the same page
is requested again.

When redis.addr is configured, fetched pages are cached and every bucket
snapshot reported by the server is recorded for "pager status".

Examples:
  # All records, all fields
  pager fetch

  # First 50 records with two fields, 25 per page
  pager fetch --fields name,piani --page-size 25 --limit 50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.baseURL, "base-url", "", "override server base URL")
	cmd.Flags().StringSliceVarP(&opts.fields, "fields", "f", nil, "fields to request (default all)")
	cmd.Flags().IntVar(&opts.pageSize, "page-size", 0, "records per page")
	cmd.Flags().IntVar(&opts.startPage, "start-page", 0, "zero-based first page")
	cmd.Flags().IntVar(&opts.maxRejections, "max-rejections", 0, "give up after this many consecutive 429s for one page (0 = never)")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "stop after this many records (0 = all)")
	cmd.Flags().BoolVar(&opts.waitReady, "wait-ready", false, "wait for /health before fetching")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "do not read or write the Redis page cache")

	return cmd
}

func runFetch(cmd *cobra.Command, root *rootOptions, opts *fetchOptions) error {
	cfg, err := root.load()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("base-url") {
		cfg.Client.BaseURL = opts.baseURL
	}
	if flags.Changed("fields") {
		cfg.Client.Fields = opts.fields
	}
	if flags.Changed("page-size") {
		cfg.Client.PageSize = opts.pageSize
	}
	if flags.Changed("start-page") {
		cfg.Client.StartPage = opts.startPage
	}
	if flags.Changed("max-rejections") {
		cfg.Client.MaxRejections = opts.maxRejections
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}

	ctx := cmd.Context()
	logger := logging.NewLogger("fetch")

	c, err := client.New(cfg.Client.HTTPClient())
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	if opts.waitReady {
		if err := c.WaitReady(ctx, client.DefaultRetryConfig()); err != nil {
			return fmt.Errorf("server not ready: %w", err)
		}
	}

	streamOpts := []pagination.Option{pagination.WithLogger(logging.NewLogger("pagination"))}
	if cfg.Redis.Enabled() {
		rdb, err := connectRedis(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()

		streamOpts = append(streamOpts, pagination.WithRecorder(ratelimit.NewTracker(rdb, logging.NewLogger("tracker"))))
		if !opts.noCache {
			manager := cache.NewManager(rdb,
				cache.WithNamespace(cacheNamespace(cfg.Client.BaseURL)),
				cache.WithTTL(cfg.Redis.CacheTTL()),
			)
			streamOpts = append(streamOpts, pagination.WithCache(manager))
		}
	}

	stream, err := pagination.NewStream[json.RawMessage](c, cfg.Client.Stream(), streamOpts...)
	if err != nil {
		return fmt.Errorf("create stream: %w", err)
	}
	defer stream.Close()

	out := bufio.NewWriter(cmd.OutOrStdout())
	defer out.Flush()

	start := time.Now()
	var (
		written int
		line    bytes.Buffer
	)
	for rec, err := range stream.All(ctx) {
		if err != nil {
			return fmt.Errorf("stream %s: %w", stream.ID(), err)
		}

		line.Reset()
		if err := json.Compact(&line, rec); err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
		line.WriteByte('\n')
		if _, err := out.Write(line.Bytes()); err != nil {
			return fmt.Errorf("write record: %w", err)
		}

		written++
		if opts.limit > 0 && written >= opts.limit {
			break
		}
	}

	stats := stream.Stats()
	logger.Info().
		Str("stream_id", stream.ID()).
		Int("records", written).
		Int("fetches", stats.Fetches).
		Int("cache_hits", stats.CacheHits).
		Int("rejections", stats.Rejections).
		Int("throttles", stats.Throttles).
		Dur("elapsed", time.Since(start)).
		Msg("Fetch complete")

	return nil
}

// cacheNamespace keys cached pages by upstream host.
func cacheNamespace(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return baseURL
	}
	return u.Host
}
