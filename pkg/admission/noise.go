package admission

import "math/rand/v2"

// Defaults of the simulated background load.
const (
	DefaultNoiseProbability = 0.15
	DefaultNoiseMaxPoints   = 4
)

// Noise simulates load from other tenants sharing the bucket.
// Points is called once per request, before the request is charged.
type Noise interface {
	Points() uint16
}

// NoNoise never adds load.
type NoNoise struct{}

// Points always returns 0.
func (NoNoise) Points() uint16 { return 0 }

// RandomNoise adds between 1 and MaxPoints points with the given probability.
type RandomNoise struct {
	Probability float64
	MaxPoints   uint16
}

// DefaultNoise returns the reference load: 1 to 4 points on 15% of requests.
func DefaultNoise() RandomNoise {
	return RandomNoise{Probability: DefaultNoiseProbability, MaxPoints: DefaultNoiseMaxPoints}
}

// Points implements Noise.
func (n RandomNoise) Points() uint16 {
	if n.MaxPoints == 0 || rand.Float64() >= n.Probability {
		return 0
	}
	return rand.N(n.MaxPoints) + 1
}
