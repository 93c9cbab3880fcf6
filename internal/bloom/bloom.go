// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package bloom implements the Bloom filter that mirrors the splitter set
// for fast negative lookups (spec.md §3, §4.1). It is a thin wrapper over
// bits-and-blooms/bitset, which supplies the underlying bit storage.
package bloom

import (
	"math"

	"github.com/bits-and-blooms/bitset"
)

// Filter is a k-hash Bloom filter over uint64 keys (canonical k-mer
// values), hashed with two splitmix64-derived values and combined
// via double hashing (the standard Kirsch-Mitzenmacher construction).
type Filter struct {
	bits   *bitset.BitSet
	m      uint64 // number of bits
	k      uint32 // number of hash functions
	inserted uint64
}

// New returns a filter sized for expectedItems entries at the given target
// false-positive rate.
func New(expectedItems uint64, falsePositiveRate float64) *Filter {
	if expectedItems == 0 {
		expectedItems = 1
	}
	m := optimalM(expectedItems, falsePositiveRate)
	k := optimalK(m, expectedItems)
	return &Filter{bits: bitset.New(uint(m)), m: m, k: k}
}

func optimalM(n uint64, p float64) uint64 {
	m := math.Ceil(-1 * float64(n) * math.Log(p) / (math.Ln2 * math.Ln2))
	if m < 8 {
		m = 8
	}
	return uint64(m)
}

func optimalK(m, n uint64) uint32 {
	k := math.Round(float64(m) / float64(n) * math.Ln2)
	if k < 1 {
		k = 1
	}
	if k > 16 {
		k = 16
	}
	return uint32(k)
}

func (f *Filter) indices(key uint64) (h1, h2 uint64) {
	h1 = splitmix(key)
	h2 = splitmix(h1 ^ 0x9E3779B97F4A7C15)
	return
}

func splitmix(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	return x ^ (x >> 31)
}

// Add inserts key into the filter.
func (f *Filter) Add(key uint64) {
	h1, h2 := f.indices(key)
	for i := uint32(0); i < f.k; i++ {
		idx := (h1 + uint64(i)*h2) % f.m
		f.bits.Set(uint(idx))
	}
	f.inserted++
}

// MayContain reports whether key might be a member; false means definitely
// not a member, matching the "fast negative lookup" role the splitter set
// uses it for.
func (f *Filter) MayContain(key uint64) bool {
	h1, h2 := f.indices(key)
	for i := uint32(0); i < f.k; i++ {
		idx := (h1 + uint64(i)*h2) % f.m
		if !f.bits.Test(uint(idx)) {
			return false
		}
	}
	return true
}

// LoadFactor returns the fraction of set bits, the quantity the
// segmentation engine's acceptSplitter checks against a 0.3 threshold
// before resizing (spec.md §4.5).
func (f *Filter) LoadFactor() float64 {
	return float64(f.bits.Count()) / float64(f.m)
}

// Resize returns a new, empty filter sized for newExpectedItems; old is
// left unchanged and its keys are not carried over. Re-inserting is the
// caller's responsibility (the engine keeps the authoritative splitter
// hash set and rebuilds the mirror from it on resize).
func Resize(old *Filter, newExpectedItems uint64, falsePositiveRate float64) *Filter {
	return New(newExpectedItems, falsePositiveRate)
}
