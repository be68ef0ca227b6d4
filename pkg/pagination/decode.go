package pagination

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// decodeRecords parses a page body that is either a JSON array of records or
// a JSON object whose values are records, keeping document order.
func decodeRecords[T any](body []byte) ([]T, error) {
	dec := json.NewDecoder(bytes.NewReader(body))

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	delim, ok := tok.(json.Delim)
	if !ok || (delim != '[' && delim != '{') {
		return nil, fmt.Errorf("%w: expected array or object, got %v", ErrMalformedBody, tok)
	}

	records := []T{}
	for dec.More() {
		if delim == '{' {
			if _, err := dec.Token(); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
			}
		}
		var rec T
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrMalformedBody, len(records), err)
		}
		records = append(records, rec)
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after page", ErrMalformedBody)
	}

	return records, nil
}
