package ratelimit

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   14,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestTracker_LastWithoutObservation(t *testing.T) {
	tracker := NewTracker(setupTestRedis(t), zerolog.New(os.Stderr).Level(zerolog.Disabled))

	if _, err := tracker.Last(context.Background()); !errors.Is(err, ErrNoObservation) {
		t.Errorf("Last() error = %v, want ErrNoObservation", err)
	}
}

func TestTracker_RecordAndLast(t *testing.T) {
	tracker := NewTracker(setupTestRedis(t), zerolog.New(os.Stderr).Level(zerolog.Disabled))
	observedAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return observedAt }
	ctx := context.Background()

	snaps := []Snapshot{
		{Points: 10, Capacity: 500, LeakPerSecond: 4},
		{Points: 260, Capacity: 500, LeakPerSecond: 4},
	}
	for _, snap := range snaps {
		if err := tracker.Record(ctx, snap); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	obs, err := tracker.Last(ctx)
	if err != nil {
		t.Fatalf("Last() error = %v", err)
	}
	if obs.Snapshot != snaps[1] {
		t.Errorf("Last().Snapshot = %+v, want %+v", obs.Snapshot, snaps[1])
	}
	if !obs.ObservedAt.Equal(observedAt) {
		t.Errorf("Last().ObservedAt = %v, want %v", obs.ObservedAt, observedAt)
	}
}

func TestTracker_RecordWithoutRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "localhost:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	tracker := NewTracker(client, zerolog.New(os.Stderr).Level(zerolog.Disabled))
	if err := tracker.Record(context.Background(), Snapshot{Points: 1, Capacity: 2, LeakPerSecond: 1}); err == nil {
		t.Error("Record() error = nil, want connection error")
	}
}

func TestObservation_Age(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	obs := Observation{ObservedAt: at}

	if got := obs.Age(at.Add(90 * time.Second)); got != 90*time.Second {
		t.Errorf("Age() = %v, want 90s", got)
	}
}
