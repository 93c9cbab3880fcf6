// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package lzdiff implements the reference-relative differential encoder
// (C3, spec.md §4.3): given a reference sequence and a candidate sequence
// over the 16-symbol alphabet, it produces a token stream of literal,
// match and N-run tokens that can reconstruct the candidate exactly from
// the reference, plus cost-estimation helpers the segmentation engine (C5)
// uses to choose among candidate groups.
package lzdiff

import (
	"bytes"
	"fmt"

	"github.com/refresh-bio/agc-go/dna"
)

// Token byte-range discriminators (spec.md §4.3). A token stream is just a
// []byte; its first byte (ignoring the sign of a match's displacement)
// says which kind of token follows.
const (
	nRunStart byte = 0x1E
	nRunEnd   byte = 0x04
	escape    byte = '!'
	matchSep  byte = ','
	matchEnd  byte = '.'

	literalBase = 'A' // literal code c is encoded as literalBase+c
)

const (
	// NCode is the internal code for N, matching dna.N.
	NCode = byte(dna.N)
	// minNRunLen is the shortest run of N that is worth tokenizing as an
	// N-run rather than as individual literals.
	minNRunLen = 4
	// hashingStep samples one key every 4 reference positions ("sparse"
	// indexing), per spec.md §4.3.
	hashingStep = 4
	// maxProbes bounds the open-addressed probe sequence.
	maxProbes = 64
	// maxLoadFactor is the hash table's target load factor.
	maxLoadFactor = 0.7
)

// Version selects the token-density variant. Archives with format major
// >= 2 use V2; V1 exists only so legacy archives remain decodable.
type Version int

const (
	V1 Version = 1
	V2 Version = 2
)

// Codec is a reference-relative encoder/decoder. One instance is owned by
// each group (C4); Prepare must be called once before Encode/Decode/
// Estimate.
type Codec struct {
	version     Version
	minMatchLen int
	keyLen      int
	keyMask     uint64

	reference []byte // internal codes (0-15), not ASCII
	index     hashIndex
	ready     bool
}

// New returns a codec for the given format version and minimum match
// length (spec.md's min_match_len, in [15, 32]).
func New(version Version, minMatchLen int) *Codec {
	return &Codec{version: version, minMatchLen: minMatchLen}
}

// Prepare stores reference and builds the k-mer hash index used for
// matching. reference holds internal codes (0-15), as produced by
// dna.EncodeString.
func (c *Codec) Prepare(reference []byte) {
	c.reference = append([]byte(nil), reference...)
	c.keyLen = c.minMatchLen - hashingStep + 1
	if c.keyLen < 1 {
		c.keyLen = 1
	}
	if c.keyLen > 29 {
		c.keyLen = 29 // 2*29 = 58 bits, safely inside uint64; min_match_len <= 32 never exceeds this.
	}
	c.keyMask = (uint64(1) << (2 * uint(c.keyLen))) - 1
	c.index = buildHashIndex(c.reference, c.keyLen, c.keyMask)
	c.ready = true
}

// Reference returns the stored reference (internal codes).
func (c *Codec) Reference() []byte {
	return c.reference
}

// hashIndex is the open-addressed table over sampled reference positions.
// Bucket width (16 vs 32 bit) is an on-disk-size concern for the original
// C++; in Go we always store positions as uint32 and do not expose this
// distinction to callers, matching V2's write-path simplification.
type hashIndex struct {
	slots []uint32 // reference position + 1; 0 means empty
	size  uint64
}

func buildHashIndex(reference []byte, keyLen int, keyMask uint64) hashIndex {
	n := len(reference)
	numKeys := uint64(0)
	if n >= keyLen {
		numKeys = uint64((n-keyLen)/hashingStep + 1)
	}
	size := nextPow2(uint64(float64(numKeys)/maxLoadFactor) + 8)
	idx := hashIndex{slots: make([]uint32, size), size: size}

	for p := 0; p+keyLen <= n; p += hashingStep {
		key, ok := packKey(reference, p, keyLen)
		if !ok {
			continue
		}
		idx.insert(key, keyMask, uint32(p))
	}
	return idx
}

func nextPow2(x uint64) uint64 {
	p := uint64(1)
	for p < x {
		p <<= 1
	}
	if p < 8 {
		p = 8
	}
	return p
}

// packKey packs keyLen codes starting at p into a 2-bit-per-symbol value.
// ok is false if any code in the window is not ACGT.
func packKey(seq []byte, p, keyLen int) (uint64, bool) {
	var v uint64
	for i := 0; i < keyLen; i++ {
		code := seq[p+i]
		if code > 3 {
			return 0, false
		}
		v = (v << 2) | uint64(code)
	}
	return v, true
}

func (h *hashIndex) insert(key uint64, keyMask uint64, pos uint32) {
	start := dna.Hash(key&keyMask) % h.size
	for i := uint64(0); i < h.size; i++ {
		slot := (start + i) % h.size
		if h.slots[slot] == 0 {
			h.slots[slot] = pos + 1
			return
		}
	}
}

// candidates yields up to maxProbes stored reference positions for key, in
// probe order.
func (h *hashIndex) candidates(key, keyMask uint64) []uint32 {
	if h.size == 0 {
		return nil
	}
	start := dna.Hash(key&keyMask) % h.size
	out := make([]uint32, 0, maxProbes)
	for i := uint64(0); i < h.size && uint64(len(out)) < maxProbes; i++ {
		slot := (start + i) % h.size
		v := h.slots[slot]
		if v == 0 {
			break
		}
		out = append(out, v-1)
	}
	return out
}

func compareForward(a, b []byte, maxLen int) int {
	n := 0
	for n < maxLen && a[n] == b[n] {
		n++
	}
	return n
}

func compareBackward(a, b []byte, ai, bi, maxLen int) int {
	n := 0
	for n < maxLen && a[ai-1-n] == b[bi-1-n] {
		n++
	}
	return n
}

func runLenN(seq []byte, p int) int {
	n := 0
	for p+n < len(seq) && seq[p+n] == NCode {
		n++
	}
	return n
}

// bestMatch finds the best match candidate at text position p against the
// reference, per spec.md §4.3's tie-break rules: maximize back+forward,
// then lowest reference position.
func (c *Codec) bestMatch(text []byte, p int, pendingLiterals int) (refPos, back, forward int, found bool) {
	if p+c.keyLen > len(text) {
		return 0, 0, 0, false
	}
	key, ok := packKey(text, p, c.keyLen)
	if !ok {
		return 0, 0, 0, false
	}
	bestTotal := -1
	for _, cand := range c.index.candidates(key, c.keyMask) {
		ref := int(cand)
		maxFwd := len(text) - p
		if rem := len(c.reference) - ref; rem < maxFwd {
			maxFwd = rem
		}
		fwd := compareForward(text[p:], c.reference[ref:], maxFwd)

		maxBck := pendingLiterals
		if ref < maxBck {
			maxBck = ref
		}
		bck := 0
		if maxBck > 0 {
			bck = compareBackward(text, c.reference, p, ref, maxBck)
		}

		total := fwd + bck
		if total < c.minMatchLen {
			continue
		}
		if total > bestTotal || (total == bestTotal && ref-bck < refPos-back) {
			bestTotal, refPos, back, forward, found = total, ref, bck, fwd, true
		}
	}
	return
}

func intLen(x int) int {
	if x < 0 {
		return 1 + uintLen(-x)
	}
	return uintLen(x)
}

func uintLen(x int) int {
	switch {
	case x < 10:
		return 1
	case x < 100:
		return 2
	case x < 1000:
		return 3
	case x < 10000:
		return 4
	case x < 100000:
		return 5
	case x < 1000000:
		return 6
	case x < 10000000:
		return 7
	default:
		return 8
	}
}

func appendInt(buf []byte, x int) []byte {
	if x == 0 {
		return append(buf, '0')
	}
	neg := x < 0
	if neg {
		buf = append(buf, '-')
		x = -x
	}
	var tmp [20]byte
	i := len(tmp)
	for x > 0 {
		i--
		tmp[i] = byte('0' + x%10)
		x /= 10
	}
	return append(buf, tmp[i:]...)
}

func parseInt(buf []byte, i int) (int, int) {
	neg := false
	if buf[i] == '-' {
		neg = true
		i++
	}
	x := 0
	for i < len(buf) && buf[i] >= '0' && buf[i] <= '9' {
		x = x*10 + int(buf[i]-'0')
		i++
	}
	if neg {
		x = -x
	}
	return x, i
}

// Encode runs the matching policy of spec.md §4.3 over text against the
// prepared reference, producing a token stream. Prepare must have been
// called first. Text byte-identical to the reference encodes to an empty
// result, and an empty result means exactly that.
func (c *Codec) Encode(text []byte) []byte {
	if !c.ready {
		panic("lzdiff: Encode called before Prepare")
	}
	if bytes.Equal(text, c.reference) {
		return nil
	}
	var encoded []byte
	predictedPos := 0
	p := 0
	pendingLiterals := 0

	for p < len(text) {
		refPos, back, forward, found := c.bestMatch(text, p, pendingLiterals)
		if found {
			if back > 0 {
				encoded = encoded[:len(encoded)-back]
				pendingLiterals -= back
			}
			total := back + forward
			startRef := refPos - back
			encoded = c.encodeMatch(encoded, startRef, total, predictedPos)
			predictedPos = startRef + total
			p += forward
			pendingLiterals = 0
			continue
		}
		if runLen := runLenN(text, p); runLen >= minNRunLen {
			encoded = c.encodeNRun(encoded, runLen)
			p += runLen
			pendingLiterals = 0
			continue
		}
		encoded = c.encodeLiteral(encoded, text[p])
		p++
		pendingLiterals++
	}
	return encoded
}

func (c *Codec) encodeLiteral(buf []byte, code byte) []byte {
	if code >= dna.NumCodes {
		return append(buf, escape, code)
	}
	return append(buf, literalBase+code)
}

func (c *Codec) encodeNRun(buf []byte, length int) []byte {
	buf = append(buf, nRunStart)
	buf = appendInt(buf, length-minNRunLen)
	return append(buf, nRunEnd)
}

func (c *Codec) encodeMatch(buf []byte, refPos, length, predictedPos int) []byte {
	buf = appendInt(buf, refPos-predictedPos)
	buf = append(buf, matchSep)
	buf = appendInt(buf, length-c.minMatchLen)
	return append(buf, matchEnd)
}

// Decode reverses Encode against the prepared reference. An empty token
// stream decodes to a copy of the reference.
func (c *Codec) Decode(encoded []byte) ([]byte, error) {
	if !c.ready {
		panic("lzdiff: Decode called before Prepare")
	}
	if len(encoded) == 0 {
		return append([]byte(nil), c.reference...), nil
	}
	var out []byte
	predictedPos := 0
	i := 0
	for i < len(encoded) {
		b := encoded[i]
		switch {
		case b == nRunStart:
			i++
			runLen, ni := parseInt(encoded, i)
			if ni >= len(encoded) || encoded[ni] != nRunEnd {
				return nil, fmt.Errorf("lzdiff: malformed N-run token at byte %d", i)
			}
			i = ni + 1
			length := runLen + minNRunLen
			for j := 0; j < length; j++ {
				out = append(out, NCode)
			}
		case b == escape:
			if i+1 >= len(encoded) {
				return nil, fmt.Errorf("lzdiff: truncated escape token at byte %d", i)
			}
			out = append(out, encoded[i+1])
			i += 2
		case b == '-' || (b >= '0' && b <= '9'):
			diff, ni := parseInt(encoded, i)
			if ni >= len(encoded) || encoded[ni] != matchSep {
				return nil, fmt.Errorf("lzdiff: malformed match token at byte %d", i)
			}
			lenField, nj := parseInt(encoded, ni+1)
			if nj >= len(encoded) || encoded[nj] != matchEnd {
				return nil, fmt.Errorf("lzdiff: malformed match token at byte %d", i)
			}
			i = nj + 1
			refPos := predictedPos + diff
			length := lenField + c.minMatchLen
			if refPos < 0 || refPos+length > len(c.reference) {
				return nil, fmt.Errorf("lzdiff: match references out-of-range position %d+%d (reference length %d)", refPos, length, len(c.reference))
			}
			out = append(out, c.reference[refPos:refPos+length]...)
			predictedPos = refPos + length
		default:
			if b < literalBase || int(b)-int(literalBase) >= dna.NumCodes {
				return nil, fmt.Errorf("lzdiff: unrecognized token byte %#x at offset %d", b, i)
			}
			out = append(out, b-literalBase)
			i++
		}
	}
	return out, nil
}

// Estimate runs the encoder without materializing the delta, returning the
// total token-stream size. If upperBound > 0 and the running cost exceeds
// it, Estimate returns early with ok=false.
func (c *Codec) Estimate(text []byte, upperBound int) (cost int, ok bool) {
	if !c.ready {
		panic("lzdiff: Estimate called before Prepare")
	}
	if bytes.Equal(text, c.reference) {
		return 0, true
	}
	predictedPos := 0
	p := 0
	pendingLiterals := 0
	pendingCost := 0

	for p < len(text) {
		refPos, back, forward, found := c.bestMatch(text, p, pendingLiterals)
		if found {
			pendingCost -= back
			cost -= back
			total := back + forward
			startRef := refPos - back
			mc := costMatchExact(startRef-predictedPos, total, c.minMatchLen)
			cost += mc
			predictedPos = startRef + total
			p += forward
			pendingLiterals = 0
			pendingCost = 0
		} else if runLen := runLenN(text, p); runLen >= minNRunLen {
			cost += 2 + uintLen(runLen-minNRunLen)
			p += runLen
			pendingLiterals = 0
			pendingCost = 0
		} else {
			cost++
			pendingCost++
			p++
			pendingLiterals++
		}
		if upperBound > 0 && cost > upperBound {
			return cost, false
		}
	}
	return cost, true
}

func costMatchExact(diff, length, minMatchLen int) int {
	return intLen(diff) + 1 + uintLen(length-minMatchLen) + 1
}

// CodingCostVector returns one cost value per input byte: a match or
// N-run token contributes its full encoded size to the first byte of its
// span when prefixCosts is true, or to the last byte otherwise, and every
// other position of that span gets 0; a literal position gets 1. C5 uses this to pick an optimal midpoint when
// splitting a segment between two candidate references.
func (c *Codec) CodingCostVector(text []byte, prefixCosts bool) []int {
	if !c.ready {
		panic("lzdiff: CodingCostVector called before Prepare")
	}
	costs := make([]int, len(text))
	predictedPos := 0
	p := 0
	pendingLiterals := 0

	for p < len(text) {
		refPos, back, forward, found := c.bestMatch(text, p, pendingLiterals)
		if found {
			total := back + forward
			startRef := refPos - back
			startP := p - back
			mc := costMatchExact(startRef-predictedPos, total, c.minMatchLen)
			if prefixCosts {
				costs[startP] = mc
			} else {
				costs[startP+total-1] = mc
			}
			for j := startP; j < startP+total; j++ {
				if (prefixCosts && j == startP) || (!prefixCosts && j == startP+total-1) {
					continue
				}
				costs[j] = 0
			}
			predictedPos = startRef + total
			p += forward
			pendingLiterals = 0
		} else if runLen := runLenN(text, p); runLen >= minNRunLen {
			rc := 2 + uintLen(runLen-minNRunLen)
			if prefixCosts {
				costs[p] = rc
			} else {
				costs[p+runLen-1] = rc
			}
			p += runLen
			pendingLiterals = 0
		} else {
			costs[p] = 1
			p++
			pendingLiterals++
		}
	}
	return costs
}
