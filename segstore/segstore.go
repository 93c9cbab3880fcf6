// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package segstore implements the per-group segment store (C4, spec.md
// §4.4): a reference sequence plus a packed list of reference-relative
// deltas for every other contig routed to the same group, persisted as a
// pair of archive streams ("<name>-ref", "<name>-delta").
package segstore

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/refresh-bio/agc-go/archive"
	"github.com/refresh-bio/agc-go/internal/entropy"
	"github.com/refresh-bio/agc-go/lzdiff"
)

// contigSeparator delimits individually-packed contigs inside a batched
// pack part. 0xff never collides with a 4-bit DNA code or the N code.
const contigSeparator = 0xff

const (
	refCompressionLevelTuples = 13
	refCompressionLevelPlain  = 19
	deltaCompressionLevel     = 17
)

type internalState int

const (
	stateNone internalState = iota
	stateNormal
	statePacked
)

// Group owns one segment's reference and delta archive streams. All
// exported methods are safe for concurrent use.
type Group struct {
	mu sync.Mutex

	name          string
	inArchive     *archive.Archive
	outArchive    *archive.Archive
	contigsInPack int
	minMatchLen   int

	streamIDRef   int
	streamIDDelta int

	state internalState

	codec *lzdiff.Codec

	vLZP [][]byte // pending encoded deltas not yet flushed to a pack part
	vRaw [][]byte // pending raw contigs not yet flushed (raw groups only)

	packedRefSeq   []byte // zstd-compressed (or plain) reference, pending unpack
	rawRefSeqSize  uint64
	packedDelta    []byte // zstd-compressed (or plain) tail delta part, pending unpack
	rawDeltaSize   uint64
	refTransferred bool

	noSeqs   uint32
	refSize  uint64
	seqSize  uint64
	packedSz uint64

	// Read-path cache: the reference sequence and a codec prepared against
	// it, populated lazily on first Get and reused across calls so each
	// contig fetch doesn't re-run Prepare's hash-index build.
	readRefSeq []byte
	readCodec  *lzdiff.Codec
}

// New creates a Group named name, reading from inArchive (nil if this is
// a fresh write-only archive) and writing to outArchive.
func New(name string, inArchive, outArchive *archive.Archive, contigsInPack, minMatchLen int) *Group {
	return &Group{
		name:          name,
		inArchive:     inArchive,
		outArchive:    outArchive,
		contigsInPack: contigsInPack,
		minMatchLen:   minMatchLen,
		streamIDRef:   -1,
		streamIDDelta: -1,
		codec:         lzdiff.New(lzdiff.V2, minMatchLen),
	}
}

// AddRaw appends s to the raw-contig pack (used for low-cardinality
// "junk" groups, spec.md §4.4, group ids [0,16)), returning its in-group
// id.
func (g *Group) AddRaw(s []byte, buffered bool) (uint32, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == statePacked {
		if err := g.unpackLocked(); err != nil {
			return 0, err
		}
	}

	if len(g.vRaw) == g.contigsInPack {
		if err := g.storeBatchLocked(g.vRaw, buffered); err != nil {
			return 0, err
		}
		g.vRaw = g.vRaw[:0]
	}

	id := g.noSeqs
	g.vRaw = append(g.vRaw, append([]byte(nil), s...))
	g.noSeqs++
	return id, nil
}

// Add encodes s against the group's reference (establishing it as the
// reference if this is the first contig) and appends the delta to the
// pending pack, returning its in-group id. A delta identical to one
// already pending is deduplicated: the existing id is returned instead of
// storing a duplicate.
func (g *Group) Add(s []byte, buffered bool) (uint32, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == statePacked {
		if err := g.unpackLocked(); err != nil {
			return 0, err
		}
	}

	if g.noSeqs == 0 {
		g.codec.Prepare(s)
		if err := g.storeReferenceLocked(s, buffered); err != nil {
			return 0, err
		}
		g.refSize = uint64(len(s)) + 1
	} else {
		if len(g.vLZP) == g.contigsInPack {
			if err := g.storeBatchLocked(g.vLZP, buffered); err != nil {
				return 0, err
			}
			g.vLZP = g.vLZP[:0]
		}

		delta := g.codec.Encode(s)

		for i, existing := range g.vLZP {
			if bytes.Equal(existing, delta) {
				return g.noSeqs - uint32(len(g.vLZP)-i), nil
			}
		}

		g.vLZP = append(g.vLZP, delta)
		g.seqSize += uint64(len(s)) + 1
		g.packedSz += uint64(len(delta)) + 1
	}

	id := g.noSeqs
	g.noSeqs++
	return id, nil
}

// Estimate returns the delta-encoded cost of adding s against the current
// reference, without committing it. 0 if there is no reference yet.
func (g *Group) Estimate(s []byte) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == statePacked {
		if err := g.unpackLocked(); err != nil {
			return 0, err
		}
	}
	if g.refSize == 0 {
		return 0, nil
	}
	cost, _ := g.codec.Estimate(s, 0)
	return cost, nil
}

// CodingCost returns the per-byte coding cost vector of s against the
// current reference, used by the segmentation engine to choose an optimal
// split point between two candidate groups (spec.md §4.5).
func (g *Group) CodingCost(s []byte, prefixCosts bool) ([]int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == statePacked {
		if err := g.unpackLocked(); err != nil {
			return nil, err
		}
	}
	if g.refSize == 0 {
		return nil, nil
	}
	return g.codec.CodingCostVector(s, prefixCosts), nil
}

// Finish flushes any pending, not-yet-full batch to the archive. Call once
// per group at the end of compression.
func (g *Group) Finish(buffered bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == statePacked && len(g.packedDelta) > 0 {
		if err := g.unpackLocked(); err != nil {
			return err
		}
	}
	if len(g.vLZP) > 0 {
		if err := g.storeBatchLocked(g.vLZP, buffered); err != nil {
			return err
		}
		g.vLZP = nil
	}
	if len(g.vRaw) > 0 {
		if err := g.storeBatchLocked(g.vRaw, buffered); err != nil {
			return err
		}
		g.vRaw = nil
	}
	return nil
}

// NumSeqs returns the number of contigs placed in this group so far.
func (g *Group) NumSeqs() uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.noSeqs
}

// GetRaw returns the raw contig with in-group id idSeq from a raw group.
func (g *Group) GetRaw(idSeq uint32) ([]byte, error) {
	streamID, ok := g.inArchive.GetStreamID(g.name + "-delta")
	if !ok {
		return nil, fmt.Errorf("segstore: group %s has no delta stream", g.name)
	}
	partID := int(idSeq) / g.contigsInPack
	seqInPart := int(idSeq) % g.contigsInPack

	raw, meta, err := g.inArchive.GetPart(streamID, partID)
	if err != nil {
		return nil, fmt.Errorf("segstore: reading raw pack part %d of %s: %w", partID, g.name, err)
	}
	pack, err := unmarkedPack(raw, meta)
	if err != nil {
		return nil, err
	}
	return extractFromPack(pack, seqInPart)
}

// Get returns the fully reconstructed contig with in-group id idSeq: the
// reference itself if idSeq==0, else the reference with its delta-coded
// tail applied.
func (g *Group) Get(idSeq uint32) ([]byte, error) {
	refSeq, codec, err := g.loadReferenceCodec()
	if err != nil {
		return nil, err
	}
	if idSeq == 0 {
		return refSeq, nil
	}

	streamID, ok := g.inArchive.GetStreamID(g.name + "-delta")
	if !ok {
		return nil, fmt.Errorf("segstore: group %s has no delta stream", g.name)
	}
	partID := int(idSeq-1) / g.contigsInPack
	seqInPart := int(idSeq-1) % g.contigsInPack

	raw, meta, err := g.inArchive.GetPart(streamID, partID)
	if err != nil {
		return nil, fmt.Errorf("segstore: reading delta pack part %d of %s: %w", partID, g.name, err)
	}
	pack, err := unmarkedPack(raw, meta)
	if err != nil {
		return nil, err
	}

	var deltaSeq []byte
	if g.contigsInPack > 1 {
		deltaSeq, err = extractFromPack(pack, seqInPart)
		if err != nil {
			return nil, err
		}
	} else {
		if len(pack) == 0 || pack[len(pack)-1] != contigSeparator {
			return nil, fmt.Errorf("segstore: malformed singleton delta pack in %s", g.name)
		}
		deltaSeq = pack[:len(pack)-1]
	}

	ctg, err := codec.Decode(deltaSeq)
	if err != nil {
		return nil, fmt.Errorf("segstore: decoding contig %d of %s: %w", idSeq, g.name, err)
	}
	return ctg, nil
}

// loadReferenceCodec returns the group's reference sequence and a codec
// prepared against it, populating the read-path cache on first call.
func (g *Group) loadReferenceCodec() ([]byte, *lzdiff.Codec, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.readRefSeq != nil {
		return g.readRefSeq, g.readCodec, nil
	}

	streamID, ok := g.inArchive.GetStreamID(g.name + "-ref")
	if !ok {
		return nil, nil, fmt.Errorf("segstore: group %s has no reference stream", g.name)
	}
	blob, meta, err := g.inArchive.GetPart(streamID, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("segstore: reading reference of %s: %w", g.name, err)
	}
	refSeq, err := decodeRefBlob(blob, meta)
	if err != nil {
		return nil, nil, err
	}

	codec := lzdiff.New(lzdiff.V2, g.minMatchLen)
	codec.Prepare(refSeq)

	g.readRefSeq = refSeq
	g.readCodec = codec
	return refSeq, codec, nil
}

func decodeRefBlob(blob []byte, meta uint64) ([]byte, error) {
	if meta == 0 {
		return blob, nil
	}
	if len(blob) == 0 {
		return nil, fmt.Errorf("segstore: empty compressed reference with non-zero raw size")
	}
	marker := blob[len(blob)-1]
	compressed := blob[:len(blob)-1]
	decoded, err := entropy.Decompress(compressed, int(meta)+1)
	if err != nil {
		return nil, err
	}
	if marker == 0 {
		return decoded, nil
	}
	return tuplesToBytes(decoded), nil
}

// unmarkedPack decompresses a delta/raw pack part (no tuple packing is
// ever applied to delta/raw packs, only to the reference). A compressed
// part ends in the 0 marker byte addToArchiveLocked appends, which is
// dropped before decompressing.
func unmarkedPack(blob []byte, meta uint64) ([]byte, error) {
	if meta == 0 {
		return blob, nil
	}
	if len(blob) == 0 {
		return nil, fmt.Errorf("segstore: empty compressed pack with non-zero raw size")
	}
	return entropy.Decompress(blob[:len(blob)-1], int(meta))
}

func extractFromPack(pack []byte, seqInPart int) ([]byte, error) {
	b, e := 0, -1
	cnt := 0
	for i, c := range pack {
		if c == contigSeparator {
			cnt++
			if cnt == seqInPart {
				b = i + 1
			} else if cnt == seqInPart+1 {
				e = i
				break
			}
		}
	}
	if e < 0 {
		return nil, fmt.Errorf("segstore: contig %d not found in pack", seqInPart)
	}
	return pack[b:e], nil
}

// storeReferenceLocked decides, per spec.md §4.4's periodicity heuristic
// (grounded on the original's stride search over [4,32) with a 0.5
// fraction limit), whether to tuple-pack the reference before
// compressing it at a lighter level, or compress it plain at a heavier
// level.
func (g *Group) storeReferenceLocked(data []byte, buffered bool) error {
	if g.streamIDRef < 0 {
		g.streamIDRef = g.outArchive.RegisterStream(g.name + "-ref")
	}

	bestFrac := 0.0
	const fracLimit = 0.5
	for stride := 4; stride < 32; stride++ {
		cnt, curSize := 0, 0
		for j := 0; j+stride < len(data); j++ {
			if data[j] == data[j+stride] {
				cnt++
			}
			if data[j] < 4 {
				curSize++
			}
		}
		frac := 0.0
		if curSize > 0 {
			frac = float64(cnt) / float64(curSize)
		}
		if frac > bestFrac {
			bestFrac = frac
			if bestFrac >= fracLimit {
				break
			}
		}
	}

	if bestFrac < 0.5 {
		return g.addToArchiveTuplesLocked(g.streamIDRef, data, refCompressionLevelTuples, buffered)
	}
	return g.addToArchiveLocked(g.streamIDRef, data, refCompressionLevelPlain, buffered)
}

func (g *Group) addToArchiveLocked(streamID int, data []byte, level int, buffered bool) error {
	packed, err := entropy.Compress(level, data)
	if err != nil {
		return err
	}
	if len(packed)+1 < len(data) {
		blob := append(packed, 0)
		return g.addPart(streamID, blob, uint64(len(data)), buffered)
	}
	return g.addPart(streamID, data, 0, buffered)
}

func (g *Group) addToArchiveTuplesLocked(streamID int, data []byte, level int, buffered bool) error {
	tuples := bytesToTuples(data)
	packed, err := entropy.Compress(level, tuples)
	if err != nil {
		return err
	}
	if len(packed)+1 < len(data) {
		blob := append(packed, 1)
		return g.addPart(streamID, blob, uint64(len(data)), buffered)
	}
	return g.addPart(streamID, data, 0, buffered)
}

func (g *Group) addPart(streamID int, data []byte, meta uint64, buffered bool) error {
	if buffered {
		return g.outArchive.AddPartBuffered(streamID, data, meta)
	}
	return g.outArchive.AddPart(streamID, data, meta)
}

func (g *Group) storeBatchLocked(items [][]byte, buffered bool) error {
	var pack []byte
	size := 0
	for _, x := range items {
		size += len(x) + 1
	}
	pack = make([]byte, 0, size)
	for _, x := range items {
		pack = append(pack, x...)
		pack = append(pack, contigSeparator)
	}

	if g.streamIDDelta < 0 {
		g.streamIDDelta = g.outArchive.RegisterStream(g.name + "-delta")
	}
	return g.addToArchiveLocked(g.streamIDDelta, pack, deltaCompressionLevel, buffered)
}

// AppendingInit reloads this group's existing parts (minus the final,
// still-mutable one) from inArchive into outArchive so appending new
// contigs continues the same reference/delta streams, per spec.md §4.4's
// append support (grounded on the original's partial-part reload: every
// part but the last is copied verbatim, and the last is kept resident in
// memory to be amended).
func (g *Group) AppendingInit() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != stateNone {
		return nil
	}

	inRef, hasRef := g.inArchive.GetStreamID(g.name + "-ref")
	inDelta, hasDelta := g.inArchive.GetStreamID(g.name + "-delta")

	if hasRef {
		g.streamIDRef = g.outArchive.RegisterStream(g.name + "-ref")
		blob, meta, err := g.inArchive.GetPart(inRef, 0)
		if err != nil {
			return fmt.Errorf("segstore: appending_init reading reference of %s: %w", g.name, err)
		}
		if err := g.outArchive.AddPart(g.streamIDRef, blob, meta); err != nil {
			return err
		}
		g.packedRefSeq = blob
		g.rawRefSeqSize = meta
		g.refTransferred = true
		g.noSeqs = 1
	} else {
		g.noSeqs = 0
	}

	if hasDelta {
		g.streamIDDelta = g.outArchive.RegisterStream(g.name + "-delta")
		numParts := g.inArchive.NumParts(inDelta)
		for i := 0; i+1 < numParts; i++ {
			blob, meta, err := g.inArchive.GetPart(inDelta, i)
			if err != nil {
				return fmt.Errorf("segstore: appending_init reading delta part %d of %s: %w", i, g.name, err)
			}
			if err := g.outArchive.AddPart(g.streamIDDelta, blob, meta); err != nil {
				return err
			}
			g.noSeqs += uint32(g.contigsInPack)
		}
		if numParts > 0 {
			blob, meta, err := g.inArchive.GetPart(inDelta, numParts-1)
			if err != nil {
				return fmt.Errorf("segstore: appending_init reading final delta part of %s: %w", g.name, err)
			}
			g.packedDelta = blob
			g.rawDeltaSize = meta
		}
	}

	g.state = statePacked
	return nil
}

// unpackLocked materializes the reference into the codec and the tail
// delta part into vLZP (or vRaw, if there is no reference), per the
// original's unpack().
func (g *Group) unpackLocked() error {
	if len(g.packedRefSeq) > 0 {
		refSeq, err := decodeRefBlob(g.packedRefSeq, g.rawRefSeqSize)
		if err != nil {
			return fmt.Errorf("segstore: unpacking reference of %s: %w", g.name, err)
		}
		g.packedRefSeq = nil
		g.codec.Prepare(refSeq)
		g.refSize = uint64(len(refSeq)) + 1
	}

	if len(g.packedDelta) > 0 {
		deltaSeq, err := unmarkedPack(g.packedDelta, g.rawDeltaSize)
		if err != nil {
			return fmt.Errorf("segstore: unpacking delta tail of %s: %w", g.name, err)
		}
		g.packedDelta = nil

		g.vLZP = g.vLZP[:0]
		if g.contigsInPack > 1 {
			start := 0
			for i, c := range deltaSeq {
				if c == contigSeparator {
					g.vLZP = append(g.vLZP, append([]byte(nil), deltaSeq[start:i]...))
					start = i + 1
				}
			}
		} else if len(deltaSeq) > 0 {
			g.vLZP = append(g.vLZP, append([]byte(nil), deltaSeq[:len(deltaSeq)-1]...))
		}
		g.noSeqs += uint32(len(g.vLZP))

		if g.refSize == 0 {
			g.vRaw, g.vLZP = g.vLZP, g.vRaw
		}
	}

	g.state = stateNormal
	return nil
}

// Clear resets the group to an empty state, discarding any pending
// in-memory batches.
func (g *Group) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.noSeqs = 0
	g.refSize = 0
	g.seqSize = 0
	g.packedSz = 0
	g.vRaw = nil
	g.vLZP = nil
	g.state = stateNormal
}

// --- byte/tuple stride packing (periodicity compaction) ---

// bytesToTuples packs consecutive runs of small-valued bytes (DNA codes
// 0-15, or narrower) into denser base-N digits, the way the reference
// sequence is stored when it exhibits strong short-period repetition.
// The trailing marker byte records (no_bytes<<4 | trailing_byte_count) so
// tuplesToBytes can invert it without external framing.
func bytesToTuples(data []byte) []byte {
	maxElem := byte(0)
	for _, b := range data {
		if b > maxElem {
			maxElem = b
		}
	}

	var noBytes, mult int
	switch {
	case maxElem < 4:
		noBytes, mult = 4, 4
	case maxElem < 6:
		noBytes, mult = 3, 6
	case maxElem < 16:
		noBytes, mult = 2, 16
	default:
		out := append([]byte(nil), data...)
		return append(out, 0x10)
	}

	out := make([]byte, 0, len(data)/noBytes+2)
	i := 0
	for ; i+noBytes <= len(data); i += noBytes {
		var c int
		for j := 0; j < noBytes; j++ {
			c = c*mult + int(data[i+j])
		}
		out = append(out, byte(c))
	}
	c := 0
	for ; i < len(data); i++ {
		c = c*mult + int(data[i])
	}
	out = append(out, byte(c))
	out = append(out, byte(noBytes<<4)+byte(len(data)%noBytes))
	return out
}

func tuplesToBytes(tuples []byte) []byte {
	if len(tuples) == 0 {
		return nil
	}
	marker := tuples[len(tuples)-1]
	noBytes := int(marker >> 4)
	trailing := int(marker & 0xf)

	if noBytes <= 1 {
		return tuples[:len(tuples)-1]
	}

	mult := map[int]int{4: 4, 3: 6, 2: 16}[noBytes]
	body := tuples[:len(tuples)-1]
	outputSize := (len(body)-1)*noBytes + trailing

	out := make([]byte, outputSize)
	i, j := 0, 0
	for ; j+noBytes <= outputSize; i, j = i+1, j+noBytes {
		c := int(body[i])
		for k := noBytes - 1; k >= 0; k-- {
			out[j+k] = byte(c % mult)
			c /= mult
		}
	}
	if trailing > 0 {
		c := int(body[i])
		for k := trailing - 1; k >= 0; k-- {
			out[j+k] = byte(c % mult)
			c /= mult
		}
	}
	return out
}
