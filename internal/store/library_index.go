// Package store provides the library membership index and the commit ledger.
package store

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// DefaultFalsePositiveRate is the bloom filter error rate used by NewLibraryIndex callers.
const DefaultFalsePositiveRate = 0.01

// LibraryIndex is a thread-safe set of track URIs. The bloom filter answers most
// negative lookups without touching the map.
type LibraryIndex struct {
	uris              map[string]struct{}
	bloom             *bloom.BloomFilter
	mutex             sync.RWMutex
	expected          int
	falsePositiveRate float64
}

// NewLibraryIndex creates an index sized for expected URIs.
func NewLibraryIndex(expected int, falsePositiveRate float64) *LibraryIndex {
	if expected < 1 {
		expected = 1
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = DefaultFalsePositiveRate
	}

	return &LibraryIndex{
		uris:              make(map[string]struct{}, expected),
		bloom:             bloom.NewWithEstimates(uint(expected), falsePositiveRate),
		expected:          expected,
		falsePositiveRate: falsePositiveRate,
	}
}

// Has reports whether uri is in the index.
func (li *LibraryIndex) Has(uri string) bool {
	li.mutex.RLock()
	defer li.mutex.RUnlock()

	if !li.bloom.TestString(uri) {
		return false
	}

	_, exists := li.uris[uri]
	return exists
}

// Load replaces the contents of the index with uris. Empty strings are ignored.
func (li *LibraryIndex) Load(uris []string) {
	li.mutex.Lock()
	defer li.mutex.Unlock()

	size := max(li.expected, len(uris))
	li.uris = make(map[string]struct{}, size)
	li.bloom = bloom.NewWithEstimates(uint(size), li.falsePositiveRate)

	for _, uri := range uris {
		if uri != "" {
			li.uris[uri] = struct{}{}
			li.bloom.AddString(uri)
		}
	}
}

// Size returns the number of distinct URIs stored.
func (li *LibraryIndex) Size() int {
	li.mutex.RLock()
	defer li.mutex.RUnlock()
	return len(li.uris)
}
