// Package admission serializes access to a single leaky bucket.
//
// A Controller is an actor: Run owns the bucket and handles one request at a
// time from a bounded queue, so "read, decide, commit" is never interleaved.
// Callers hand requests over with Admit and wait on a single-use reply channel.
package admission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/leaky-pager/pkg/clock"
	"github.com/Sternrassler/leaky-pager/pkg/query"
	"github.com/Sternrassler/leaky-pager/pkg/ratelimit"
)

// DefaultQueueSize bounds the number of requests waiting for the controller.
const DefaultQueueSize = 32

var (
	// ErrStopped is returned by Admit once Run has returned.
	ErrStopped = errors.New("admission controller stopped")

	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("admission controller already running")
)

// PageSource provides the records of a granted request.
type PageSource interface {
	Page(page int, size uint16, fields []string) []json.RawMessage
}

// Config holds the bucket parameters of a Controller.
type Config struct {
	Capacity      uint16
	LeakPerSecond uint8
	QueueSize     int
}

// DefaultConfig returns the reference bucket: 500 points leaking 4 per second.
func DefaultConfig() Config {
	return Config{
		Capacity:      query.DefaultCapacity,
		LeakPerSecond: query.DefaultLeakPerSecond,
		QueueSize:     DefaultQueueSize,
	}
}

// Option configures a Controller.
type Option func(*Controller)

// WithNoise injects extra load before every request. Defaults to NoNoise.
func WithNoise(n Noise) Option {
	return func(c *Controller) {
		if n != nil {
			c.noise = n
		}
	}
}

// WithClock sets the time source of the bucket. Defaults to clock.Real().
func WithClock(clk clock.Clock) Option {
	return func(c *Controller) {
		if clk != nil {
			c.clock = clk
		}
	}
}

type request struct {
	query *query.Query
	reply chan Decision
}

// Controller is the admission actor. Create it with New and start Run in its
// own goroutine.
type Controller struct {
	cfg    Config
	pages  PageSource
	logger zerolog.Logger
	noise  Noise
	clock  clock.Clock

	requests chan request
	started  atomic.Bool
	stopped  chan struct{}
}

// New validates cfg and creates a Controller.
func New(cfg Config, pages PageSource, logger zerolog.Logger, opts ...Option) (*Controller, error) {
	if cfg.Capacity == 0 {
		return nil, fmt.Errorf("capacity must be greater than zero")
	}
	if cfg.LeakPerSecond == 0 {
		return nil, fmt.Errorf("leak per second must be greater than zero")
	}
	if pages == nil {
		return nil, fmt.Errorf("page source is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}

	c := &Controller{
		cfg:      cfg,
		pages:    pages,
		logger:   logger,
		noise:    NoNoise{},
		clock:    clock.Real(),
		requests: make(chan request, cfg.QueueSize),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Config returns the controller configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

// Run processes requests until ctx is done. It may only be called once.
func (c *Controller) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(c.stopped)

	bucket := ratelimit.NewEmpty(c.cfg.Capacity, c.cfg.LeakPerSecond, ratelimit.WithClock(c.clock))

	c.logger.Info().
		Uint16("capacity", c.cfg.Capacity).
		Uint8("leak_per_second", c.cfg.LeakPerSecond).
		Int("queue_size", c.cfg.QueueSize).
		Msg("Admission controller started")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("Admission controller stopped")
			return nil
		case req := <-c.requests:
			queueDepth.Set(float64(len(c.requests)))
			if req.query == nil {
				req.reply <- Decision{Snapshot: bucket.Snapshot()}
				continue
			}
			req.reply <- c.decide(bucket, *req.query)
		}
	}
}

// Admit submits q and waits for the decision.
//
// A cancelled ctx abandons the wait but not the request: if the controller
// already dequeued it, the charge is committed.
func (c *Controller) Admit(ctx context.Context, q query.Query) (Decision, error) {
	q = q.Normalize()
	return c.roundTrip(ctx, &q)
}

// Snapshot returns the bucket state as seen by the controller, without charging it.
func (c *Controller) Snapshot(ctx context.Context) (ratelimit.Snapshot, error) {
	d, err := c.roundTrip(ctx, nil)
	if err != nil {
		return ratelimit.Snapshot{}, err
	}
	return d.Snapshot, nil
}

func (c *Controller) roundTrip(ctx context.Context, q *query.Query) (Decision, error) {
	req := request{query: q, reply: make(chan Decision, 1)}

	select {
	case c.requests <- req:
	case <-c.stopped:
		return Decision{}, ErrStopped
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	}

	select {
	case d := <-req.reply:
		return d, nil
	case <-c.stopped:
		return Decision{}, ErrStopped
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	}
}

func (c *Controller) decide(bucket *ratelimit.LeakyBucket, q query.Query) Decision {
	if n := c.noise.Points(); n > 0 {
		bucket.ForceAdd(n)
		noisePointsTotal.Add(float64(n))
		c.logger.Debug().Uint16("points", n).Msg("Sporadic load added to bucket")
	}

	cost := query.Cost(q)
	points, err := bucket.Charge(cost)
	snap := ratelimit.Snapshot{
		Points:        points,
		Capacity:      bucket.Capacity(),
		LeakPerSecond: bucket.LeakPerSecond(),
	}
	bucketPoints.Set(float64(points))

	if err != nil {
		decisionsTotal.WithLabelValues("rejected").Inc()
		c.logger.Warn().
			Uint16("cost", cost).
			Uint16("points", points).
			Uint16("capacity", snap.Capacity).
			Int("page", q.Page).
			Msg("Request rejected: not enough capacity")
		return Decision{Cost: cost, Snapshot: snap}
	}

	decisionsTotal.WithLabelValues("granted").Inc()
	records := c.pages.Page(q.Page, q.EffectivePageSize(), q.Fields)

	c.logger.Debug().
		Uint16("cost", cost).
		Uint16("points", points).
		Int("page", q.Page).
		Int("records", len(records)).
		Msg("Request granted")

	return Decision{
		Granted:  true,
		Cost:     cost,
		Snapshot: snap,
		Records:  records,
	}
}
