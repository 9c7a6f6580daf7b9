// Package bloomfilter implements a probabilistic membership filter for string
// keys.
//
// The persistent seen-set keeps one in memory in front of its on-disk index:
// a negative answer is definitive and skips the disk lookup, a positive answer
// is confirmed against the database.
//
// Thread Safety: Filter is not safe for concurrent use.
package bloomfilter

import (
	"hash/maphash"
	"math"
	"math/bits"
)

var hashSeed = maphash.MakeSeed()

// Filter is a Bloom filter sized for an expected item count and false
// positive rate:
//   - m = -n*ln(p) / (ln(2)^2)  bits
//   - k = m/n * ln(2)           hash functions
type Filter struct {
	words     []uint64
	size      uint64
	hashCount uint64
	setBits   uint64
}

// New creates a filter for expectedItems keys at false positive rate fpRate.
// Invalid arguments fall back to 1000 items and 1%.
func New(expectedItems uint, fpRate float64) *Filter {
	if expectedItems == 0 {
		expectedItems = 1000
	}
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = 0.01
	}

	m := uint64(math.Ceil(-float64(expectedItems) * math.Log(fpRate) / (math.Ln2 * math.Ln2)))
	k := uint64(math.Ceil(float64(m) / float64(expectedItems) * math.Ln2))
	if k == 0 {
		k = 1
	}

	return &Filter{
		words:     make([]uint64, (m+63)/64),
		size:      m,
		hashCount: k,
	}
}

func (f *Filter) Add(key string) {
	h1, h2 := split(key)
	for i := uint64(0); i < f.hashCount; i++ {
		pos := (h1 + h2*i) % f.size
		mask := uint64(1) << (pos % 64)
		if f.words[pos/64]&mask == 0 {
			f.words[pos/64] |= mask
			f.setBits++
		}
	}
}

// MayContain returns false only if key was never added.
func (f *Filter) MayContain(key string) bool {
	h1, h2 := split(key)
	for i := uint64(0); i < f.hashCount; i++ {
		pos := (h1 + h2*i) % f.size
		if f.words[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

// FillRatio is the fraction of bits set. Above roughly 0.5 the false positive
// rate climbs quickly.
func (f *Filter) FillRatio() float64 {
	return float64(f.setBits) / float64(f.size)
}

// split derives two hashes from one maphash sum for double hashing.
func split(key string) (uint64, uint64) {
	sum := maphash.String(hashSeed, key)
	return sum, bits.RotateLeft64(sum, 32) | 1
}
