package ratelimit

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/Sternrassler/leaky-pager/pkg/clock"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestBucket(t *testing.T, points, capacity uint16, leak uint8) (*LeakyBucket, *clock.Manual) {
	t.Helper()
	c := clock.NewManual(epoch)
	b, err := NewWithPoints(points, capacity, leak, WithClock(c))
	if err != nil {
		t.Fatalf("NewWithPoints() error = %v", err)
	}
	return b, c
}

func TestNewWithPoints_RejectsSeedAboveCapacity(t *testing.T) {
	_, err := NewWithPoints(11, 10, 1)
	if !errors.Is(err, ErrInvalidSeed) {
		t.Errorf("NewWithPoints(11, 10, 1) error = %v, want ErrInvalidSeed", err)
	}

	b, err := NewWithPoints(10, 10, 1)
	if err != nil {
		t.Fatalf("NewWithPoints(10, 10, 1) error = %v", err)
	}
	if b.Points() != 10 {
		t.Errorf("Points() = %d, want 10", b.Points())
	}
}

func TestNewEmpty(t *testing.T) {
	b := NewEmpty(500, 4)
	if b.Points() != 0 {
		t.Errorf("Points() = %d, want 0", b.Points())
	}
	if b.Capacity() != 500 {
		t.Errorf("Capacity() = %d, want 500", b.Capacity())
	}
	if b.LeakPerSecond() != 4 {
		t.Errorf("LeakPerSecond() = %d, want 4", b.LeakPerSecond())
	}
	if b.Available() != 500 {
		t.Errorf("Available() = %d, want 500", b.Available())
	}
}

func TestLeakyBucket_Decay(t *testing.T) {
	b, c := newTestBucket(t, 5, 10, 1)

	steps := []struct {
		advance time.Duration
		want    uint16
	}{
		{1500 * time.Millisecond, 4},
		{2500 * time.Millisecond, 1},
		{2 * time.Second, 0},
	}

	for _, step := range steps {
		c.Advance(step.advance)
		if got := b.Points(); got != step.want {
			t.Errorf("after %v: Points() = %d, want %d", c.Now().Sub(epoch), got, step.want)
		}
	}
}

func TestLeakyBucket_FrequentReadsKeepRemainder(t *testing.T) {
	b, c := newTestBucket(t, 10, 10, 1)

	for i := 0; i < 10; i++ {
		c.Advance(300 * time.Millisecond)
		b.Points()
	}

	// 3s elapsed in total, so 3 points leaked regardless of read frequency
	if got := b.Points(); got != 7 {
		t.Errorf("Points() = %d, want 7", got)
	}
}

func TestLeakyBucket_ClockGoingBackwardsKeepsRemainder(t *testing.T) {
	b, c := newTestBucket(t, 10, 10, 1)

	c.Advance(700 * time.Millisecond)
	if got := b.Points(); got != 10 {
		t.Fatalf("Points() = %d, want 10", got)
	}

	c.Advance(-2 * time.Second)
	if got := b.Points(); got != 10 {
		t.Errorf("Points() after going back = %d, want 10", got)
	}

	// Back at 1s after the seed: one point leaked, not two.
	c.Advance(2300 * time.Millisecond)
	if got := b.Points(); got != 9 {
		t.Errorf("Points() = %d, want 9", got)
	}
}

func TestLeakyBucket_StaysWithinCapacity(t *testing.T) {
	type step struct {
		op   string // charge, force, advance
		n    uint16
		d    time.Duration
		want uint16
	}

	tests := []struct {
		name     string
		capacity uint16
		leak     uint8
		steps    []step
	}{
		{
			name:     "charges, rejections and leaks",
			capacity: 10,
			leak:     2,
			steps: []step{
				{op: "charge", n: 6, want: 6},
				{op: "charge", n: 5, want: 6},
				{op: "advance", d: time.Second, want: 4},
				{op: "charge", n: 5, want: 9},
				{op: "force", n: 4, want: 10},
				{op: "advance", d: 1500 * time.Millisecond, want: 8},
				{op: "charge", n: 2, want: 10},
				{op: "charge", n: 1, want: 10},
				{op: "advance", d: 10 * time.Second, want: 0},
				{op: "force", n: math.MaxUint16, want: 10},
			},
		},
		{
			name:     "saturating at the integer width",
			capacity: math.MaxUint16,
			leak:     math.MaxUint8,
			steps: []step{
				{op: "charge", n: math.MaxUint16, want: math.MaxUint16},
				{op: "charge", n: 1, want: math.MaxUint16},
				{op: "advance", d: time.Second, want: math.MaxUint16 - math.MaxUint8},
				{op: "force", n: math.MaxUint16, want: math.MaxUint16},
				{op: "advance", d: 1000 * time.Hour, want: 0},
				{op: "charge", n: 1, want: 1},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, c := newTestBucket(t, 0, tt.capacity, tt.leak)

			for i, st := range tt.steps {
				switch st.op {
				case "charge":
					b.Charge(st.n)
				case "force":
					b.ForceAdd(st.n)
				case "advance":
					c.Advance(st.d)
				}

				got := b.Points()
				if got > tt.capacity {
					t.Fatalf("step %d (%s): Points() = %d, want <= %d", i, st.op, got, tt.capacity)
				}
				if got != st.want {
					t.Errorf("step %d (%s): Points() = %d, want %d", i, st.op, got, st.want)
				}
			}
		})
	}
}

func TestLeakyBucket_PointsIdempotentWithoutElapsedTime(t *testing.T) {
	b, c := newTestBucket(t, 7, 10, 2)
	c.Advance(700 * time.Millisecond)

	first := b.Points()
	for i := 0; i < 5; i++ {
		if got := b.Points(); got != first {
			t.Fatalf("Points() = %d, want %d", got, first)
		}
	}
}

func TestLeakyBucket_Charge(t *testing.T) {
	tests := []struct {
		name       string
		points     uint16
		cost       uint16
		wantPoints uint16
		wantErr    bool
	}{
		{name: "fits", points: 2, cost: 5, wantPoints: 7},
		{name: "fills exactly", points: 4, cost: 6, wantPoints: 10},
		{name: "overflows", points: 6, cost: 5, wantPoints: 6, wantErr: true},
		{name: "zero cost", points: 3, cost: 0, wantPoints: 3},
		{name: "saturating cost", points: 1, cost: math.MaxUint16, wantPoints: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := newTestBucket(t, tt.points, 10, 1)

			got, err := b.Charge(tt.cost)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Charge(%d) error = %v, wantErr %v", tt.cost, err, tt.wantErr)
			}
			if got != tt.wantPoints {
				t.Errorf("Charge(%d) = %d, want %d", tt.cost, got, tt.wantPoints)
			}
			if b.Points() != tt.wantPoints {
				t.Errorf("Points() = %d, want %d", b.Points(), tt.wantPoints)
			}

			if tt.wantErr {
				var capErr *CapacityError
				if !errors.As(err, &capErr) {
					t.Fatalf("error type = %T, want *CapacityError", err)
				}
				if capErr.Points != tt.points {
					t.Errorf("CapacityError.Points = %d, want %d", capErr.Points, tt.points)
				}
				if !errors.Is(err, ErrCapacityExceeded) {
					t.Error("errors.Is(err, ErrCapacityExceeded) = false, want true")
				}
			}
		})
	}
}

func TestLeakyBucket_ForceAdd(t *testing.T) {
	b, _ := newTestBucket(t, 8, 10, 1)

	if got := b.ForceAdd(1); got != 9 {
		t.Errorf("ForceAdd(1) = %d, want 9", got)
	}
	if got := b.ForceAdd(5); got != 10 {
		t.Errorf("ForceAdd(5) = %d, want 10 (clamped)", got)
	}
	if got := b.ForceAdd(math.MaxUint16); got != 10 {
		t.Errorf("ForceAdd(max) = %d, want 10", got)
	}
}

func TestLeakyBucket_TimeToAfford(t *testing.T) {
	tests := []struct {
		name    string
		points  uint16
		leak    uint8
		elapsed time.Duration
		cost    uint16
		want    time.Duration
	}{
		{name: "already affordable", points: 2, leak: 1, cost: 8, want: 0},
		{name: "exact seconds", points: 10, leak: 2, cost: 4, want: 2 * time.Second},
		{name: "rounds up", points: 10, leak: 2, cost: 3, want: 2 * time.Second},
		{name: "remainder credited", points: 10, leak: 1, elapsed: 400 * time.Millisecond, cost: 2, want: 1600 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, c := newTestBucket(t, tt.points, 10, tt.leak)
			c.Advance(tt.elapsed)

			if got := b.TimeToAfford(tt.cost); got != tt.want {
				t.Errorf("TimeToAfford(%d) = %v, want %v", tt.cost, got, tt.want)
			}
		})
	}
}

func TestLeakyBucket_TimeToAffordIsSufficient(t *testing.T) {
	for points := uint16(0); points <= 20; points++ {
		for cost := uint16(0); cost <= 20; cost++ {
			b, c := newTestBucket(t, points, 20, 3)
			c.Advance(250 * time.Millisecond)

			c.Advance(b.TimeToAfford(cost))
			if _, err := b.Charge(cost); err != nil {
				t.Errorf("points=%d cost=%d: Charge after TimeToAfford error = %v", points, cost, err)
			}
		}
	}
}

func TestLeakyBucket_TimeToAffordNoLeak(t *testing.T) {
	b, _ := newTestBucket(t, 10, 10, 0)
	if got := b.TimeToAfford(1); got != time.Duration(math.MaxInt64) {
		t.Errorf("TimeToAfford(1) = %v, want max duration", got)
	}
}

func TestLeakyBucket_LongIdleSaturates(t *testing.T) {
	b, c := newTestBucket(t, 500, 500, 255)
	c.Advance(1000 * time.Hour)

	if got := b.Points(); got != 0 {
		t.Errorf("Points() = %d, want 0", got)
	}
}

func TestLeakyBucket_Snapshot(t *testing.T) {
	b, c := newTestBucket(t, 100, 500, 4)
	c.Advance(2 * time.Second)

	want := Snapshot{Points: 92, Capacity: 500, LeakPerSecond: 4}
	if got := b.Snapshot(); got != want {
		t.Errorf("Snapshot() = %+v, want %+v", got, want)
	}
}
