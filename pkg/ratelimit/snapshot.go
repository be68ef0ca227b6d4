package ratelimit

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

// HTTP headers carrying the bucket state on every response.
const (
	HeaderPoints        = "x-bucket-points"
	HeaderCapacity      = "x-bucket-capacity"
	HeaderLeakPerSecond = "x-bucket-leak-per-second"
)

// ErrMalformedHeaders matches every *HeaderError.
var ErrMalformedHeaders = errors.New("malformed bucket headers")

// HeaderErrorKind tells a missing header apart from an unparseable one.
type HeaderErrorKind string

const (
	HeaderMissing HeaderErrorKind = "missing"
	HeaderInvalid HeaderErrorKind = "invalid"
)

// HeaderError describes which x-bucket-* header could not be used.
type HeaderError struct {
	Header string
	Kind   HeaderErrorKind
	Value  string
	Err    error
}

// Error implements the error interface.
func (e *HeaderError) Error() string {
	if e.Kind == HeaderMissing {
		return fmt.Sprintf("%s header missing", e.Header)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s header invalid (%q): %v", e.Header, e.Value, e.Err)
	}
	return fmt.Sprintf("%s header invalid (%q)", e.Header, e.Value)
}

// Unwrap returns the underlying parse error.
func (e *HeaderError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrMalformedHeaders.
func (e *HeaderError) Is(target error) bool {
	return target == ErrMalformedHeaders
}

// Snapshot is a point-in-time view of a bucket as reported over HTTP.
type Snapshot struct {
	Points        uint16 `json:"points"`
	Capacity      uint16 `json:"capacity"`
	LeakPerSecond uint8  `json:"leak_per_second"`
}

// Available returns the headroom the snapshot reports.
func (s Snapshot) Available() uint16 {
	return saturatingSub(s.Capacity, s.Points)
}

// String formats the snapshot the way log lines and error messages show it.
func (s Snapshot) String() string {
	return fmt.Sprintf("%d/%d points (leak: %d/s)", s.Points, s.Capacity, s.LeakPerSecond)
}

// WriteHeaders sets the three x-bucket-* headers on h.
func (s Snapshot) WriteHeaders(h http.Header) {
	h.Set(HeaderPoints, strconv.FormatUint(uint64(s.Points), 10))
	h.Set(HeaderCapacity, strconv.FormatUint(uint64(s.Capacity), 10))
	h.Set(HeaderLeakPerSecond, strconv.FormatUint(uint64(s.LeakPerSecond), 10))
}

// Bucket builds a local estimate seeded with the snapshot's points.
// Fails with ErrInvalidSeed when the server reports more points than capacity.
func (s Snapshot) Bucket(opts ...Option) (*LeakyBucket, error) {
	return NewWithPoints(s.Points, s.Capacity, s.LeakPerSecond, opts...)
}

// ParseHeaders extracts a Snapshot from response headers.
// A leak rate of zero is rejected since such a bucket never drains.
func ParseHeaders(h http.Header) (Snapshot, error) {
	points, err := parseHeader(h, HeaderPoints, 16)
	if err != nil {
		return Snapshot{}, err
	}
	capacity, err := parseHeader(h, HeaderCapacity, 16)
	if err != nil {
		return Snapshot{}, err
	}
	leak, err := parseHeader(h, HeaderLeakPerSecond, 8)
	if err != nil {
		return Snapshot{}, err
	}
	if leak == 0 {
		return Snapshot{}, &HeaderError{Header: HeaderLeakPerSecond, Kind: HeaderInvalid, Value: "0"}
	}

	return Snapshot{
		Points:        uint16(points),
		Capacity:      uint16(capacity),
		LeakPerSecond: uint8(leak),
	}, nil
}

func parseHeader(h http.Header, name string, bits int) (uint64, error) {
	raw := h.Get(name)
	if raw == "" {
		return 0, &HeaderError{Header: name, Kind: HeaderMissing}
	}
	v, err := strconv.ParseUint(raw, 10, bits)
	if err != nil {
		return 0, &HeaderError{Header: name, Kind: HeaderInvalid, Value: raw, Err: err}
	}
	return v, nil
}
