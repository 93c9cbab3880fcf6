// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package dna

import "github.com/cespare/xxhash/v2"

// MinK and MaxK bound the k-mer length accepted by an archive, per the
// archive-level parameter k in [17, 32].
const (
	MinK = 17
	MaxK = 32
)

// Kmer is a fixed-length window over a Code sequence, tracked as both its
// direct 2-bit-packed value and the value of its reverse complement. Only
// ACGT codes are ever folded in; any other code must cause the caller to
// reset the window (see Scanner).
type Kmer struct {
	k       uint32
	dir     uint64 // 2 bits per base, most recent base in the low bits
	rc      uint64 // 2 bits per base, most recent base's complement in the high bits
	mask    uint64
	rcShift uint32
	filled  uint32
}

// NewKmer returns a zeroed k-mer window of length k. k must be in
// [MinK, MaxK].
func NewKmer(k uint32) *Kmer {
	return &Kmer{
		k:       k,
		mask:    (uint64(1) << (2 * k)) - 1,
		rcShift: 2 * (k - 1),
	}
}

// Reset clears the window, as required when a non-ACGT base is encountered.
func (km *Kmer) Reset() {
	km.dir = 0
	km.rc = 0
	km.filled = 0
}

// Push folds one more ACGT code into the window. It is the caller's
// responsibility to call Reset instead for any non-ACGT code.
func (km *Kmer) Push(c Code) {
	v := uint64(c)
	km.dir = ((km.dir << 2) | v) & km.mask
	km.rc = (km.rc >> 2) | (uint64(Complement(c)) << km.rcShift)
	if km.filled < km.k {
		km.filled++
	}
}

// Full reports whether the window holds k valid bases.
func (km *Kmer) Full() bool {
	return km.filled == km.k
}

// Direct returns the 2-bit-packed value of the forward-strand k-mer.
func (km *Kmer) Direct() uint64 {
	return km.dir
}

// ReverseComplement returns the 2-bit-packed value of the reverse
// complement of the current window.
func (km *Kmer) ReverseComplement() uint64 {
	return km.rc
}

// Canonical returns the canonical value of the current window (the smaller
// of Direct and ReverseComplement) together with whether the direct strand
// is the one chosen (is_direct).
func (km *Kmer) Canonical() (value uint64, isDirect bool) {
	if km.dir <= km.rc {
		return km.dir, true
	}
	return km.rc, false
}

// CanonicalValue computes canonical(x) for an arbitrary packed k-mer value
// and its length, without needing a live Scanner window. Used by property
// tests and by one-off lookups.
func CanonicalValue(value uint64, k uint32) uint64 {
	rc := ReverseComplementValue(value, k)
	if value <= rc {
		return value
	}
	return rc
}

// ReverseComplementValue computes the reverse complement of a packed k-mer
// value of length k.
func ReverseComplementValue(value uint64, k uint32) uint64 {
	var rc uint64
	for i := uint32(0); i < k; i++ {
		base := (value >> (2 * i)) & 0x3
		rc = (rc << 2) | (3 - base)
	}
	return rc
}

// Hash returns the 64-bit hash used for the LZ-diff hash table probe
// sequence and the engine's fallback-minimizer sampling.
func Hash(value uint64) uint64 {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(value >> (8 * i))
	}
	return xxhash.Sum64(buf[:])
}

// Scanner walks a Code sequence yielding, at each position where a full
// k-mer is available, its canonical value and orientation. Non-ACGT bases
// reset the window, exactly as spec.md §3 requires.
type Scanner struct {
	seq []Code
	k   uint32
	km  *Kmer
	pos int
}

// NewScanner returns a scanner over seq with k-mer length k.
func NewScanner(seq []Code, k uint32) *Scanner {
	return &Scanner{seq: seq, k: k, km: NewKmer(k)}
}

// Next advances the scanner and reports whether a full k-mer is available
// ending at the returned position (the k-mer occupies [position-k+1, position]).
func (s *Scanner) Next() (position int, canonical uint64, isDirect bool, ok bool) {
	for s.pos < len(s.seq) {
		c := s.seq[s.pos]
		if !c.IsACGT() {
			s.km.Reset()
			s.pos++
			continue
		}
		s.km.Push(c)
		p := s.pos
		s.pos++
		if s.km.Full() {
			value, dir := s.km.Canonical()
			return p, value, dir, true
		}
	}
	return 0, 0, false, false
}
