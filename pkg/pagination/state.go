package pagination

// State is the position of a Stream in its fetch cycle.
type State int

const (
	// StateIdle means no operation is outstanding; the next step is a cache
	// lookup or an estimate.
	StateIdle State = iota

	// StateEstimating means the local bucket estimate decides whether the next
	// request is affordable.
	StateEstimating

	// StateAwaitingHeaders means a page request is in flight.
	StateAwaitingHeaders

	// StateAwaitingBody means a 200 response was received and its body is read.
	StateAwaitingBody

	// StateSleeping means a self-throttle or rejection backoff timer is pending.
	StateSleeping

	// StateDone is terminal.
	StateDone
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEstimating:
		return "estimating"
	case StateAwaitingHeaders:
		return "awaiting_headers"
	case StateAwaitingBody:
		return "awaiting_body"
	case StateSleeping:
		return "sleeping"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}
