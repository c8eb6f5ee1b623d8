package simulation

import (
	"hash/fnv"
	"math/rand"

	"github.com/smukkama/campus-energy/internal/model"
)

// Stream names handed to RNG.Stream
const (
	StreamTemperature = "temperature"
	StreamLoads       = "loads"
)

// Rand is the subset of *rand.Rand the load model draws from
type Rand interface {
	Float64() float64
}

// RNG derives isolated, deterministic random streams from one seed so that
// drawing temperatures never shifts the load sequence and vice versa.
// Not safe for concurrent use.
type RNG struct {
	seed    int64
	streams map[string]*rand.Rand
}

// NewRNG creates an RNG from a seed
func NewRNG(seed int64) *RNG {
	return &RNG{seed: seed, streams: make(map[string]*rand.Rand)}
}

// Stream returns the cached stream for name, seeded with seed XOR fnv1a64(name)
func (r *RNG) Stream(name string) *rand.Rand {
	if s, ok := r.streams[name]; ok {
		return s
	}
	s := rand.New(rand.NewSource(r.seed ^ fnv1a64(name)))
	r.streams[name] = s
	return s
}

// Seed returns the seed the RNG was created with
func (r *RNG) Seed() int64 {
	return r.seed
}

func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}

// uniform draws from [lo, hi] and rounds to two decimals
func uniform(rng Rand, lo, hi float64) float64 {
	return model.Round2(lo + (hi-lo)*rng.Float64())
}

func bernoulli(rng Rand, p float64) bool {
	return rng.Float64() < p
}
