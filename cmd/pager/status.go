package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/leaky-pager/pkg/logging"
	"github.com/Sternrassler/leaky-pager/pkg/ratelimit"
)

func newStatusCmd(root *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the last bucket snapshot recorded by fetch",
		Long: `Show the last x-bucket-* snapshot a fetch stream recorded in Redis.

Requires redis.addr in the configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if !cfg.Redis.Enabled() {
				return errors.New("redis.addr is not configured")
			}

			rdb, err := connectRedis(cmd.Context(), cfg.Redis)
			if err != nil {
				return err
			}
			defer rdb.Close()

			tracker := ratelimit.NewTracker(rdb, logging.NewLogger("tracker"))
			obs, err := tracker.Last(cmd.Context())
			if errors.Is(err, ratelimit.ErrNoObservation) {
				fmt.Fprintln(cmd.OutOrStdout(), "No bucket snapshot recorded yet")
				return nil
			}
			if err != nil {
				return err
			}

			return printObservation(cmd, obs, asJSON, time.Now())
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func printObservation(cmd *cobra.Command, obs ratelimit.Observation, asJSON bool, now time.Time) error {
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			ratelimit.Snapshot
			Available  uint16    `json:"available"`
			ObservedAt time.Time `json:"observed_at"`
		}{obs.Snapshot, obs.Snapshot.Available(), obs.ObservedAt.UTC()})
	}

	fmt.Fprintf(out, "Bucket:      %s\n", obs.Snapshot)
	fmt.Fprintf(out, "Available:   %d points\n", obs.Snapshot.Available())
	fmt.Fprintf(out, "Observed:    %s (%s ago)\n",
		obs.ObservedAt.UTC().Format(time.RFC3339), obs.Age(now).Truncate(time.Second))
	return nil
}
