package admission

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Sternrassler/leaky-pager/pkg/ratelimit"
)

// ErrRejected matches every *RejectedError.
var ErrRejected = errors.New("admission rejected")

// Decision is the outcome of one admission request.
//
// When granted, Snapshot is the bucket state after the charge and Records is
// the requested page. When rejected, Snapshot is the unchanged state at the
// time of rejection.
type Decision struct {
	Granted  bool
	Cost     uint16
	Snapshot ratelimit.Snapshot
	Records  []json.RawMessage
}

// Err returns nil for a granted decision and a *RejectedError otherwise.
func (d Decision) Err() error {
	if d.Granted {
		return nil
	}
	return &RejectedError{Cost: d.Cost, Snapshot: d.Snapshot}
}

// RejectedError reports a request the bucket could not afford.
type RejectedError struct {
	Cost     uint16
	Snapshot ratelimit.Snapshot
}

// Error implements the error interface.
func (e *RejectedError) Error() string {
	return fmt.Sprintf("Not enough capacity. Requested %d points, available %d/%d points (leak: %d/s)",
		e.Cost, e.Snapshot.Available(), e.Snapshot.Capacity, e.Snapshot.LeakPerSecond)
}

// Is reports whether target is ErrRejected.
func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}
