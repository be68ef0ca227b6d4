// Package ratelimit implements the leaky bucket budget shared by the admission
// controller and the fetch stream, the x-bucket-* headers that carry its state
// over HTTP, and a Redis-backed tracker of server-reported snapshots.
package ratelimit

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Sternrassler/leaky-pager/pkg/clock"
)

// Common errors returned by the bucket.
var (
	// ErrInvalidSeed is returned when a bucket is seeded above its capacity.
	ErrInvalidSeed = errors.New("points cannot exceed capacity")

	// ErrCapacityExceeded matches every *CapacityError.
	ErrCapacityExceeded = errors.New("leaky bucket capacity exceeded")
)

// CapacityError reports a charge that would have overflowed the bucket.
// Points is the bucket content at the time of the attempt, which is left unchanged.
type CapacityError struct {
	Points   uint16
	Capacity uint16
	Cost     uint16
}

// Error implements the error interface.
func (e *CapacityError) Error() string {
	return fmt.Sprintf("cannot add %d points to leaky bucket with %d/%d points: capacity exceeded",
		e.Cost, e.Points, e.Capacity)
}

// Is reports whether target is ErrCapacityExceeded.
func (e *CapacityError) Is(target error) bool {
	return target == ErrCapacityExceeded
}

// LeakyBucket is a token accountant that drains at a fixed rate per second.
//
// State is recomputed lazily on every call; there is no background ticker.
// Elapsed time is converted to whole seconds and the sub-second remainder is
// carried to the next observation, so a high call frequency never slows the
// leak down.
//
// A LeakyBucket is not safe for concurrent use. It is meant to be owned by a
// single goroutine (the admission controller or one fetch stream).
type LeakyBucket struct {
	capacity      uint16
	leakPerSecond uint8

	points    uint16
	last      time.Time
	remainder time.Duration

	clock clock.Clock
}

// Option configures a LeakyBucket.
type Option func(*LeakyBucket)

// WithClock sets the time source. Defaults to clock.Real().
func WithClock(c clock.Clock) Option {
	return func(b *LeakyBucket) {
		if c != nil {
			b.clock = c
		}
	}
}

// NewEmpty creates a bucket holding no points.
func NewEmpty(capacity uint16, leakPerSecond uint8, opts ...Option) *LeakyBucket {
	b, _ := NewWithPoints(0, capacity, leakPerSecond, opts...)
	return b
}

// NewWithPoints creates a bucket already holding points.
// Returns ErrInvalidSeed if points exceed capacity.
func NewWithPoints(points, capacity uint16, leakPerSecond uint8, opts ...Option) (*LeakyBucket, error) {
	if points > capacity {
		return nil, fmt.Errorf("%w (points %d, capacity %d)", ErrInvalidSeed, points, capacity)
	}

	b := &LeakyBucket{
		capacity:      capacity,
		leakPerSecond: leakPerSecond,
		points:        points,
		clock:         clock.Real(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.last = b.clock.Now()

	return b, nil
}

// Capacity returns the maximum number of points.
func (b *LeakyBucket) Capacity() uint16 { return b.capacity }

// LeakPerSecond returns the number of points drained every second.
func (b *LeakyBucket) LeakPerSecond() uint8 { return b.leakPerSecond }

// Points returns the current content of the bucket.
//
// Although it reads like a getter, Points advances the internal observation
// time and applies the leak accumulated since the previous call.
func (b *LeakyBucket) Points() uint16 {
	now := b.clock.Now()

	// A clock that went backwards leaves the observation where it was.
	elapsed := now.Sub(b.last)
	if elapsed < 0 {
		return b.points
	}

	delta := elapsed + b.remainder

	secs := uint64(delta / time.Second)
	if secs > math.MaxUint16 {
		secs = math.MaxUint16
	}
	leak := saturatingMul(uint16(secs), uint16(b.leakPerSecond))

	b.points = saturatingSub(b.points, leak)
	b.remainder = delta % time.Second
	b.last = now

	return b.points
}

// Charge adds cost to the bucket.
//
// On success the new content is returned. If the bucket would exceed its
// capacity it is left unchanged and a *CapacityError carrying the current
// content is returned.
func (b *LeakyBucket) Charge(cost uint16) (uint16, error) {
	current := b.Points()
	next := saturatingAdd(current, cost)
	if next > b.capacity {
		return current, &CapacityError{Points: current, Capacity: b.capacity, Cost: cost}
	}
	b.points = next
	return next, nil
}

// ForceAdd adds n points, clamping to capacity. It never fails, so it must
// only be used to simulate load, not to account for real requests.
func (b *LeakyBucket) ForceAdd(n uint16) uint16 {
	next := saturatingAdd(b.Points(), n)
	if next > b.capacity {
		next = b.capacity
	}
	b.points = next
	return next
}

// Available returns the number of points that can still be charged.
func (b *LeakyBucket) Available() uint16 {
	return b.capacity - b.Points()
}

// TimeToAfford returns how long to wait before a charge of cost succeeds,
// assuming nobody else charges the bucket in the meantime.
//
// A cost greater than the capacity can never be afforded; the returned
// duration is then only the time needed to drain the bucket completely.
// A bucket that does not leak returns math.MaxInt64.
func (b *LeakyBucket) TimeToAfford(cost uint16) time.Duration {
	available := b.Available()
	if cost <= available {
		return 0
	}
	if b.leakPerSecond == 0 {
		return time.Duration(math.MaxInt64)
	}

	toRestore := cost - available
	leak := uint16(b.leakPerSecond)
	seconds := toRestore / leak
	if toRestore%leak != 0 {
		seconds++
	}

	wait := time.Duration(seconds)*time.Second - b.remainder
	if wait < 0 {
		return 0
	}
	return wait
}

// Snapshot returns the current state of the bucket.
func (b *LeakyBucket) Snapshot() Snapshot {
	return Snapshot{
		Points:        b.Points(),
		Capacity:      b.capacity,
		LeakPerSecond: b.leakPerSecond,
	}
}

func saturatingAdd(a, b uint16) uint16 {
	if a > math.MaxUint16-b {
		return math.MaxUint16
	}
	return a + b
}

func saturatingSub(a, b uint16) uint16 {
	if b > a {
		return 0
	}
	return a - b
}

func saturatingMul(a, b uint16) uint16 {
	product := uint32(a) * uint32(b)
	if product > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(product)
}
