package query

import "math"

// Cost returns the number of bucket points q consumes: the page size times
// the number of requested fields, or times TotalFields when no field is
// selected. The result saturates at math.MaxUint16.
func Cost(q Query) uint16 {
	factor := uint64(len(q.Normalize().Fields))
	if factor == 0 {
		factor = uint64(TotalFields)
	}

	cost := uint64(q.EffectivePageSize()) * factor
	if cost > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(cost)
}
