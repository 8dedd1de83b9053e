package semantic

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/viterin/vek/vek32"
)

// Dot computes the dot product of two vectors with SIMD acceleration.
// Returns 0 on mismatched lengths.
func Dot(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	return vek32.Dot(a, b)
}

// Magnitude computes the L2 norm of a vector.
func Magnitude(v []float32) float64 {
	return math.Sqrt(float64(vek32.Dot(v, v)))
}

// CosineSimilarity computes cosine similarity from precomputed magnitudes.
// Returns 0 when either magnitude is zero.
func CosineSimilarity(a, b []float32, magA, magB float64) float64 {
	if magA == 0 || magB == 0 {
		return 0
	}
	return float64(Dot(a, b)) / (magA * magB)
}

// magnitudeCache memoizes per-slot vector norms. Reads are lock-free via an
// atomic slice pointer; writes copy-and-swap when the slice must grow. A
// zero norm doubles as the "not computed" marker, which is safe because
// zero-magnitude vectors never match anything.
type magnitudeCache struct {
	mags atomic.Pointer[[]float64]
	mu   sync.Mutex
}

func newMagnitudeCache(capacity int) *magnitudeCache {
	if capacity < 1 {
		capacity = 1
	}
	mags := make([]float64, capacity)
	c := &magnitudeCache{}
	c.mags.Store(&mags)
	return c
}

func (c *magnitudeCache) get(slot uint32) (float64, bool) {
	mags := *c.mags.Load()
	if int(slot) >= len(mags) {
		return 0, false
	}
	mag := mags[slot]
	return mag, mag != 0
}

func (c *magnitudeCache) set(slot uint32, mag float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	mags := *c.mags.Load()
	if int(slot) >= len(mags) {
		grown := make([]float64, slot+1)
		copy(grown, mags)
		grown[slot] = mag
		c.mags.Store(&grown)
		return
	}
	mags[slot] = mag
}

func (c *magnitudeCache) getOrCompute(slot uint32, vector []float32) float64 {
	if mag, ok := c.get(slot); ok {
		return mag
	}

	mag := Magnitude(vector)
	c.set(slot, mag)
	return mag
}
