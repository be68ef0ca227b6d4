package pagination

import "errors"

var (
	// ErrMalformedBody is returned when a page is neither a JSON array nor a
	// JSON object of records.
	ErrMalformedBody = errors.New("malformed page body")

	// ErrRetryExhausted is returned when a page was rejected more than
	// Config.MaxRejections times in a row.
	ErrRetryExhausted = errors.New("page rejected too many times")

	// ErrUnaffordable is returned when a page costs more than the bucket can
	// ever hold.
	ErrUnaffordable = errors.New("page cost exceeds bucket capacity")
)
