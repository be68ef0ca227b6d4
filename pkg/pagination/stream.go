package pagination

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/leaky-pager/pkg/client"
	"github.com/Sternrassler/leaky-pager/pkg/clock"
	"github.com/Sternrassler/leaky-pager/pkg/query"
	"github.com/Sternrassler/leaky-pager/pkg/ratelimit"
)

// maxErrorBody bounds how much of a failed response is kept for the error message.
const maxErrorBody = 1024

// PageFetcher issues one page request. *client.Client implements it.
type PageFetcher interface {
	FetchPage(ctx context.Context, q query.Query) (*http.Response, error)
}

// PageCache stores page bodies. *cache.Manager implements it.
type PageCache interface {
	GetPage(ctx context.Context, q query.Query) ([]byte, bool, error)
	SetPage(ctx context.Context, q query.Query, body []byte) error
}

// SnapshotRecorder receives every bucket snapshot reported by the server.
// *ratelimit.Tracker implements it.
type SnapshotRecorder interface {
	Record(ctx context.Context, snap ratelimit.Snapshot) error
}

// Config holds stream configuration.
type Config struct {
	// Fields to request; empty means all fields.
	Fields []string

	// PageSize of zero means query.DefaultPageSize.
	PageSize uint16

	// StartPage is the zero-based first page.
	StartPage int

	// MaxRejections bounds consecutive 429 responses for one page.
	// Zero retries forever.
	MaxRejections int

	// DefaultCapacity and DefaultLeakPerSecond seed the estimate when the
	// server's headers cannot be parsed.
	DefaultCapacity      uint16
	DefaultLeakPerSecond uint8
}

// DefaultConfig returns a configuration requesting all fields from page 0.
func DefaultConfig() Config {
	return Config{
		PageSize:             query.DefaultPageSize,
		DefaultCapacity:      query.DefaultCapacity,
		DefaultLeakPerSecond: query.DefaultLeakPerSecond,
	}
}

// Stats counts what a stream did so far.
type Stats struct {
	Fetches    int
	Rejections int
	Throttles  int
	CacheHits  int
	Records    int
}

// Option configures a Stream.
type Option func(*options)

type options struct {
	clock    clock.Clock
	cache    PageCache
	recorder SnapshotRecorder
	logger   *zerolog.Logger
}

// WithClock sets the time source for sleeps and the local estimate.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithCache serves pages from c when present and stores fetched pages in it.
func WithCache(c PageCache) Option {
	return func(o *options) { o.cache = c }
}

// WithRecorder forwards every parsed bucket snapshot to r.
func WithRecorder(r SnapshotRecorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithLogger sets the base logger. Defaults to the global zerolog logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = &l }
}

// Stream is a lazily evaluated sequence of records of type T.
//
// A Stream is not safe for concurrent use: Next must be called by a single
// consumer. Independent streams share nothing.
type Stream[T any] struct {
	fetcher PageFetcher
	cfg     Config
	q       query.Query
	cost    uint16

	// estimate is the local view of the server bucket; nil until the first
	// response. reported is set once its capacity came from the server.
	// reserved is set when it was already charged for the attempt in flight.
	estimate   *ratelimit.LeakyBucket
	reported   bool
	reserved   bool
	rejections int

	state   State
	wait    time.Duration
	resp    *http.Response
	pending []T
	err     error
	stats   Stats

	id       string
	clock    clock.Clock
	cache    PageCache
	recorder SnapshotRecorder
	logger   zerolog.Logger
}

// NewStream validates cfg and creates a stream positioned at cfg.StartPage.
// Nothing is requested until the first call to Next.
func NewStream[T any](fetcher PageFetcher, cfg Config, opts ...Option) (*Stream[T], error) {
	if fetcher == nil {
		return nil, fmt.Errorf("page fetcher is required")
	}
	if cfg.StartPage < 0 {
		return nil, fmt.Errorf("start page must be >= 0 (got %d)", cfg.StartPage)
	}
	if cfg.MaxRejections < 0 {
		return nil, fmt.Errorf("max rejections must be >= 0 (got %d)", cfg.MaxRejections)
	}
	for _, f := range cfg.Fields {
		if !query.IsField(f) {
			return nil, fmt.Errorf("unknown field %q", f)
		}
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = query.DefaultPageSize
	}
	if cfg.DefaultCapacity == 0 {
		cfg.DefaultCapacity = query.DefaultCapacity
	}
	if cfg.DefaultLeakPerSecond == 0 {
		cfg.DefaultLeakPerSecond = query.DefaultLeakPerSecond
	}

	o := options{clock: clock.Real()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clock.Real()
	}
	base := log.Logger
	if o.logger != nil {
		base = *o.logger
	}

	q := query.Query{Fields: cfg.Fields, Page: cfg.StartPage, PageSize: cfg.PageSize}.Normalize()
	id := uuid.NewString()

	return &Stream[T]{
		fetcher:  fetcher,
		cfg:      cfg,
		q:        q,
		cost:     query.Cost(q),
		state:    StateIdle,
		id:       id,
		clock:    o.clock,
		cache:    o.cache,
		recorder: o.recorder,
		logger:   base.With().Str("component", "pagination").Str("stream_id", id).Logger(),
	}, nil
}

// ID identifies the stream in log lines.
func (s *Stream[T]) ID() string { return s.id }

// State returns the current state.
func (s *Stream[T]) State() State { return s.state }

// Stats returns counters accumulated so far.
func (s *Stream[T]) Stats() Stats { return s.stats }

// Page returns the zero-based index of the page the stream is working on.
func (s *Stream[T]) Page() int { return s.q.Page }

// Next returns the next record.
//
// It returns io.EOF once the stream is exhausted. A terminal error is returned
// exactly once; later calls return io.EOF. ctx bounds the request and any
// sleep performed by this call; cancelling it ends the stream.
func (s *Stream[T]) Next(ctx context.Context) (T, error) {
	var zero T

	for {
		if len(s.pending) > 0 {
			rec := s.pending[0]
			s.pending[0] = zero
			s.pending = s.pending[1:]
			return rec, nil
		}

		switch s.state {
		case StateDone:
			if s.err != nil {
				err := s.err
				s.err = nil
				return zero, err
			}
			return zero, io.EOF
		case StateIdle:
			s.idle(ctx)
		case StateEstimating:
			s.estimating()
		case StateAwaitingHeaders:
			s.awaitHeaders(ctx)
		case StateAwaitingBody:
			s.awaitBody(ctx)
		case StateSleeping:
			s.sleep(ctx)
		}
	}
}

// All returns an iterator over the remaining records. Iteration stops after
// the first error, which is yielded with a zero record.
func (s *Stream[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for {
			rec, err := s.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// Close abandons the stream and releases a response still being read.
func (s *Stream[T]) Close() error {
	s.closeResponse()
	s.pending = nil
	s.err = nil
	s.state = StateDone
	return nil
}

// Collect drains s into a slice. Records read before an error are returned with it.
func Collect[T any](ctx context.Context, s *Stream[T]) ([]T, error) {
	var out []T
	for rec, err := range s.All(ctx) {
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Stream[T]) idle(ctx context.Context) {
	if err := ctx.Err(); err != nil {
		s.fail("cancelled", err)
		return
	}

	if s.cache != nil {
		body, ok, err := s.cache.GetPage(ctx, s.q)
		if err != nil {
			s.logger.Warn().Err(err).Int("page", s.q.Page).Msg("Page cache lookup failed")
		} else if ok {
			records, err := decodeRecords[T](body)
			if err == nil {
				s.stats.CacheHits++
				s.logger.Debug().Int("page", s.q.Page).Int("records", len(records)).Msg("Page served from cache")
				s.acceptPage(records)
				return
			}
			s.logger.Warn().Err(err).Int("page", s.q.Page).Msg("Ignoring undecodable cached page")
		}
	}

	s.state = StateEstimating
}

func (s *Stream[T]) estimating() {
	if s.estimate == nil {
		s.state = StateAwaitingHeaders
		return
	}

	if s.reported && s.cost > s.estimate.Capacity() {
		s.fail("unaffordable", fmt.Errorf("%w: page %d costs %d points, capacity is %d",
			ErrUnaffordable, s.q.Page, s.cost, s.estimate.Capacity()))
		return
	}

	points, err := s.estimate.Charge(s.cost)
	if err == nil {
		s.reserved = true
		s.logger.Debug().
			Uint16("cost", s.cost).
			Uint16("points", points).
			Uint16("capacity", s.estimate.Capacity()).
			Msg("Charged local estimate")
		s.state = StateAwaitingHeaders
		return
	}

	wait := s.estimate.TimeToAfford(s.cost)
	s.stats.Throttles++
	streamThrottlesTotal.Inc()
	streamBackoffSeconds.WithLabelValues("throttle").Observe(wait.Seconds())
	s.logger.Debug().
		Uint16("cost", s.cost).
		Uint16("points", points).
		Dur("wait", wait).
		Msg("Local estimate cannot afford page, sleeping")

	s.wait = wait
	s.state = StateSleeping
}

func (s *Stream[T]) awaitHeaders(ctx context.Context) {
	s.stats.Fetches++
	streamFetchesTotal.Inc()

	resp, err := s.fetcher.FetchPage(ctx, s.q)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			s.fail("cancelled", ctxErr)
			return
		}
		s.fail("transport", fmt.Errorf("fetch page %d: %w", s.q.Page, err))
		return
	}

	s.reconcile(ctx, resp.Header)

	switch resp.StatusCode {
	case http.StatusOK:
		s.resp = resp
		s.state = StateAwaitingBody

	case http.StatusTooManyRequests:
		msg := readErrorBody(resp)
		s.rejections++
		s.stats.Rejections++
		streamRejectionsTotal.Inc()

		if s.cfg.MaxRejections > 0 && s.rejections > s.cfg.MaxRejections {
			s.fail("retry_exhausted", fmt.Errorf("%w: page %d after %d rejections: %w",
				ErrRetryExhausted, s.q.Page, s.cfg.MaxRejections, client.NewStatusError(resp.StatusCode, msg)))
			return
		}

		wait := s.backoff()
		streamBackoffSeconds.WithLabelValues("rejection").Observe(wait.Seconds())
		s.logger.Warn().
			Int("page", s.q.Page).
			Int("rejections", s.rejections).
			Dur("wait", wait).
			Str("reason", msg).
			Msg("Page rejected, backing off")

		s.wait = wait
		s.state = StateSleeping

	default:
		msg := readErrorBody(resp)
		s.fail("status", fmt.Errorf("fetch page %d: %w", s.q.Page, client.NewStatusError(resp.StatusCode, msg)))
	}
}

// reconcile replaces the local estimate with the server's snapshot. When the
// headers cannot be used, the estimate (or a fresh default one) is assumed to
// hold the cost of this attempt.
func (s *Stream[T]) reconcile(ctx context.Context, h http.Header) {
	reserved := s.reserved
	s.reserved = false

	snap, err := ratelimit.ParseHeaders(h)
	if err == nil {
		var bucket *ratelimit.LeakyBucket
		bucket, err = snap.Bucket(ratelimit.WithClock(s.clock))
		if err == nil {
			if s.estimate != nil {
				if expected := s.estimate.Points(); expected != snap.Points {
					s.logger.Warn().
						Uint16("expected_points", expected).
						Uint16("server_points", snap.Points).
						Msgf("Expected a leaky bucket with %d points, server has %d points", expected, snap.Points)
				}
			}
			s.estimate = bucket
			s.reported = true

			if s.recorder != nil {
				if rerr := s.recorder.Record(ctx, snap); rerr != nil {
					s.logger.Warn().Err(rerr).Msg("Failed to record bucket snapshot")
				}
			}
			return
		}
	}

	s.logger.Warn().Err(err).Msg("Cannot read bucket state from response, estimating locally")
	if s.estimate == nil {
		// The server granted at least this cost, so its bucket holds it.
		capacity := max(s.cfg.DefaultCapacity, s.cost)
		s.estimate = ratelimit.NewEmpty(capacity, s.cfg.DefaultLeakPerSecond, ratelimit.WithClock(s.clock))
	}
	if !reserved {
		s.estimate.ForceAdd(s.cost)
	}
}

// backoff returns how long to wait after a rejection.
func (s *Stream[T]) backoff() time.Duration {
	leak := s.cfg.DefaultLeakPerSecond
	if s.estimate != nil {
		if wait := s.estimate.TimeToAfford(s.cost); wait > 0 {
			return wait
		}
		leak = s.estimate.LeakPerSecond()
	}
	if leak == 0 {
		leak = query.DefaultLeakPerSecond
	}

	secs := (uint32(s.cost) + uint32(leak) - 1) / uint32(leak)
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}

func (s *Stream[T]) awaitBody(ctx context.Context) {
	body, err := io.ReadAll(s.resp.Body)
	s.closeResponse()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			s.fail("cancelled", ctxErr)
			return
		}
		s.fail("transport", fmt.Errorf("read page %d: %w", s.q.Page, &client.StatusError{
			StatusCode: http.StatusOK,
			ErrorClass: client.ErrorClassNetwork,
			Message:    "read body",
			Err:        err,
		}))
		return
	}

	records, err := decodeRecords[T](body)
	if err != nil {
		s.fail("malformed_body", fmt.Errorf("page %d: %w", s.q.Page, err))
		return
	}

	if s.cache != nil && len(records) > 0 {
		if err := s.cache.SetPage(ctx, s.q, body); err != nil {
			s.logger.Warn().Err(err).Int("page", s.q.Page).Msg("Failed to cache page")
		}
	}

	s.acceptPage(records)
}

func (s *Stream[T]) acceptPage(records []T) {
	s.rejections = 0

	if len(records) == 0 {
		s.logger.Debug().Int("page", s.q.Page).Msg("Empty page, stream done")
		s.state = StateDone
		return
	}

	s.pending = records
	s.stats.Records += len(records)
	streamRecordsTotal.Add(float64(len(records)))

	if len(records) < int(s.q.EffectivePageSize()) {
		s.logger.Debug().Int("page", s.q.Page).Int("records", len(records)).Msg("Short page, stream done")
		s.state = StateDone
		return
	}

	s.q = s.q.Next()
	s.state = StateIdle
}

func (s *Stream[T]) sleep(ctx context.Context) {
	timer := s.clock.NewTimer(s.wait)
	select {
	case <-ctx.Done():
		timer.Stop()
		s.fail("cancelled", ctx.Err())
	case <-timer.C():
		s.wait = 0
		s.state = StateEstimating
	}
}

func (s *Stream[T]) fail(kind string, err error) {
	s.closeResponse()
	streamErrorsTotal.WithLabelValues(kind).Inc()
	if kind == "cancelled" {
		s.logger.Debug().Err(err).Int("page", s.q.Page).Msg("Stream cancelled")
	} else {
		s.logger.Error().Err(err).Int("page", s.q.Page).Str("kind", kind).Msg("Stream failed")
	}
	s.err = err
	s.state = StateDone
}

func (s *Stream[T]) closeResponse() {
	if s.resp != nil {
		s.resp.Body.Close()
		s.resp = nil
	}
}

func readErrorBody(resp *http.Response) string {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return resp.Status
	}
	return msg
}
