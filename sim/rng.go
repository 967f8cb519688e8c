package sim

import (
	"fmt"
	"hash/fnv"
	"math/rand"
)

// SimulationKey uniquely identifies a reproducible simulation run.
// Two runs with the same SimulationKey and identical configuration
// MUST produce bit-for-bit identical results, however the blocks are
// distributed across nodes.
type SimulationKey int64

// NewSimulationKey creates a SimulationKey from a seed value.
func NewSimulationKey(seed int64) SimulationKey {
	return SimulationKey(seed)
}

// StreamName returns the name of the random stream with the given offset.
func StreamName(offset int) string {
	return fmt.Sprintf("stream_%d", offset)
}

// StreamFamily provides deterministic, independent random streams indexed by
// stream offset. A block always draws from the stream named by its offset, so
// its results do not depend on which worker computes it.
//
// Derivation formula: masterSeed XOR fnv1a64("stream_<offset>").
//
// Thread-safety: NOT thread-safe. Each job owns its own family.
type StreamFamily struct {
	key     SimulationKey
	streams map[int]*rand.Rand
}

// NewStreamFamily creates a StreamFamily from a SimulationKey.
func NewStreamFamily(key SimulationKey) *StreamFamily {
	return &StreamFamily{
		key:     key,
		streams: make(map[int]*rand.Rand),
	}
}

// ForStream returns the deterministically-seeded stream for offset.
// The same offset always returns the same *rand.Rand instance (cached).
// Never returns nil.
func (f *StreamFamily) ForStream(offset int) *rand.Rand {
	if rng, ok := f.streams[offset]; ok {
		return rng
	}
	rng := rand.New(rand.NewSource(f.SeedFor(offset)))
	f.streams[offset] = rng
	return rng
}

// SeedFor returns the seed of the stream with the given offset.
func (f *StreamFamily) SeedFor(offset int) int64 {
	return int64(f.key) ^ fnv1a64(StreamName(offset))
}

// Key returns the SimulationKey used to create this StreamFamily.
func (f *StreamFamily) Key() SimulationKey {
	return f.key
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
