package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Redis keys for the last observed bucket snapshot.
const (
	RedisKeySnapshot   = "pager:bucket:snapshot"
	RedisKeyObservedAt = "pager:bucket:observed_at"
)

// ErrNoObservation is returned by Tracker.Last when nothing was recorded yet.
var ErrNoObservation = errors.New("no bucket snapshot recorded")

// Prometheus metrics for server-reported bucket state.
var (
	bucketPointsObserved = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pager_bucket_points_observed",
		Help: "Bucket points last reported by the server",
	})

	bucketCapacityObserved = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pager_bucket_capacity_observed",
		Help: "Bucket capacity last reported by the server",
	})

	bucketSnapshotsRecordedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pager_bucket_snapshots_recorded_total",
		Help: "Total number of bucket snapshots stored in Redis",
	})
)

// Observation is a recorded snapshot and when it was seen.
type Observation struct {
	Snapshot   Snapshot
	ObservedAt time.Time
}

// Age returns how long ago the observation was made.
func (o Observation) Age(now time.Time) time.Duration {
	return now.Sub(o.ObservedAt)
}

// Tracker stores the latest server-reported snapshot in Redis so other
// processes (e.g. `pager status`) can inspect it. It is purely observational
// and never feeds back into admission.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger
	now    func() time.Time
}

// NewTracker creates a new snapshot tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:  redisClient,
		logger: logger,
		now:    time.Now,
	}
}

// Record stores snap as the latest observation.
func (t *Tracker) Record(ctx context.Context, snap Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	observedAt := t.now()

	pipe := t.redis.Pipeline()
	pipe.Set(ctx, RedisKeySnapshot, payload, 0)
	pipe.Set(ctx, RedisKeyObservedAt, observedAt.UnixNano(), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store snapshot in redis: %w", err)
	}

	bucketPointsObserved.Set(float64(snap.Points))
	bucketCapacityObserved.Set(float64(snap.Capacity))
	bucketSnapshotsRecordedTotal.Inc()

	t.logger.Debug().
		Uint16("points", snap.Points).
		Uint16("capacity", snap.Capacity).
		Uint8("leak_per_second", snap.LeakPerSecond).
		Msg("Bucket snapshot recorded")

	return nil
}

// Last returns the most recent observation, or ErrNoObservation.
func (t *Tracker) Last(ctx context.Context) (Observation, error) {
	pipe := t.redis.Pipeline()
	snapCmd := pipe.Get(ctx, RedisKeySnapshot)
	atCmd := pipe.Get(ctx, RedisKeyObservedAt)
	if _, err := pipe.Exec(ctx); err != nil {
		if errors.Is(err, redis.Nil) {
			return Observation{}, ErrNoObservation
		}
		return Observation{}, fmt.Errorf("get snapshot from redis: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(snapCmd.Val()), &snap); err != nil {
		return Observation{}, fmt.Errorf("parse snapshot: %w", err)
	}
	nanos, err := atCmd.Int64()
	if err != nil {
		return Observation{}, fmt.Errorf("parse observed_at: %w", err)
	}

	return Observation{Snapshot: snap, ObservedAt: time.Unix(0, nanos)}, nil
}
