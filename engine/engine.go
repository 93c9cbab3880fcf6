// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package engine implements the segmentation/assignment engine (C5,
// spec.md §4.5): splitter discovery over a reference sample, streaming
// k-mer-boundary segmentation of every other contig, and routing of each
// segment to a segment-store group, dispatched over a worker pool built
// on internal/queue and reassembled in per-sample input order.
package engine

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/refresh-bio/agc-go/archive"
	"github.com/refresh-bio/agc-go/catalog"
	"github.com/refresh-bio/agc-go/dna"
	"github.com/refresh-bio/agc-go/internal/bloom"
	"github.com/refresh-bio/agc-go/internal/queue"
	"github.com/refresh-bio/agc-go/segstore"
)

// groupIDAlphabet is the 64-symbol alphabet spec.md §6 uses for group
// stream names. A group's streams are "x<base64(id)>-ref" and
// "x<base64(id)>-delta" (segstore appends the suffixes); the single-letter
// "r"/"d" suffixes are not used.
const groupIDAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz_#"

// sentinel marks an unknown/absent splitter end in a group key.
const sentinel = ^uint64(0)

// Options configures an Engine. It mirrors the archive-level parameters
// spec.md §6 records in the "params" stream, plus the concurrency and
// adaptive-mode knobs of §4.5/§5.
type Options struct {
	K               uint32
	SegmentSize     int
	MinMatchLen     int
	PackCardinality int
	Threads         int

	// Adaptive makes DiscoverSplitters record the reference's k-mers seen
	// more than once in the duplicated set. No second sweep re-cuts
	// segments that contain no splitter.
	Adaptive bool
	// ConcatenatedGenomes is carried with the options; the engine does not
	// read it and processes every sample the same way with or without it.
	ConcatenatedGenomes bool
	// FallbackFraction is the fraction of k-mer-hash space eligible for
	// the fallback-minimizer map (spec.md §4.5 step 2).
	FallbackFraction float64

	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Threads <= 0 {
		o.Threads = 1
	}
	if o.FallbackFraction <= 0 {
		o.FallbackFraction = 0.01
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// pairKey identifies a group by its two bounding splitter values (front,
// back), in the orientation-normalized order addSegment establishes.
// sentinel in either slot means "that end was not a known splitter".
type pairKey struct {
	Front uint64
	Back  uint64
}

// groupInfo is the engine's own bookkeeping record for one segstore
// group: the store handle plus the routing key and reference length used
// by one-end candidate ranking. This mirrors CAGCCompressor's v_segments
// arena, kept separate from segstore.Group so Group itself stays ignorant
// of routing.
type groupInfo struct {
	store  *segstore.Group
	key    pairKey
	refLen int
}

// Engine implements Phase A (splitter discovery) and Phase B (contig
// segmentation/routing) of spec.md §4.5.
type Engine struct {
	opts Options
	log  *zap.Logger

	inArchive  *archive.Archive
	outArchive *archive.Archive
	cat        *catalog.Catalog

	// splitters/duplicated/bloom mirror hs_splitters/v_duplicated_kmers/
	// bloom_splitters. Grown only by acceptSplitter (during
	// DiscoverSplitters) and by LoadGroups; workers read them under
	// splitterMu's read lock.
	splitterMu sync.RWMutex
	splitters  map[uint64]struct{}
	duplicated map[uint64]struct{}
	bloomSet   *bloom.Filter

	// fallback mirrors map_fallback_minimizers: an internal k-mer value
	// reachable from a just-closed span maps to every (splitter_a,
	// splitter_b) pair that span belonged to.
	fallbackMu sync.Mutex
	fallback   map[uint64][]pairKey

	// groupMu guards the group arena and its lookup indices (map_segments
	// / map_segments_terminators equivalents: byFront/byBack let a
	// one-end match or middle-splitter search avoid scanning every
	// group).
	groupMu    sync.RWMutex
	groups     []*groupInfo
	groupIndex map[pairKey]int32
	byFront    map[uint64][]int32
	byBack     map[uint64][]int32

	nextGroupID uint32
}

// New creates an Engine writing new groups to outArchive (and, for append
// mode, reading existing ones from inArchive, which may be nil for a
// fresh archive).
func New(inArchive, outArchive *archive.Archive, cat *catalog.Catalog, opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		opts:       opts,
		log:        opts.Logger,
		inArchive:  inArchive,
		outArchive: outArchive,
		cat:        cat,
		splitters:  make(map[uint64]struct{}),
		duplicated: make(map[uint64]struct{}),
		bloomSet:   bloom.New(1024, 0.01),
		fallback:   make(map[uint64][]pairKey),
		groupIndex: make(map[pairKey]int32),
		byFront:    make(map[uint64][]int32),
		byBack:     make(map[uint64][]int32),
	}
}

// ---------------------------------------------------------------------
// Phase A — splitter discovery (spec.md §4.5).
// ---------------------------------------------------------------------

// DiscoverSplitters runs Phase A over the reference sample's contigs:
// every ACGT k-mer is folded into a multiplicity count; singletons become
// splitter candidates; replaying the reference a second time accepts the
// next singleton k-mer once the running base counter reaches
// SegmentSize, resetting the counter and recording the just-closed span's
// fallback-eligible k-mers against the (previous, new) splitter pair. The
// rightmost singleton candidate of each contig is accepted unconditionally.
func (e *Engine) DiscoverSplitters(contigs [][]dna.Code) error {
	counts := make(map[uint64]int)
	for _, ctg := range contigs {
		sc := dna.NewScanner(ctg, e.opts.K)
		for {
			_, val, _, ok := sc.Next()
			if !ok {
				break
			}
			counts[val]++
		}
	}

	singleton := make(map[uint64]struct{}, len(counts))
	for v, c := range counts {
		if c == 1 {
			singleton[v] = struct{}{}
		} else if e.opts.Adaptive {
			e.duplicated[v] = struct{}{}
		}
	}

	thr := uint64(e.opts.FallbackFraction * float64(^uint64(0)))
	isFallbackEligible := func(v uint64) bool {
		return (dna.Hash(v) ^ fallbackMagic) < thr
	}

	for _, ctg := range contigs {
		var lastSplitter uint64
		haveLast := false
		counter := 0
		var span []uint64 // fallback-eligible singleton k-mers seen since lastSplitter
		var lastSingleton uint64
		haveLastSingleton := false

		sc := dna.NewScanner(ctg, e.opts.K)
		for {
			_, val, _, ok := sc.Next()
			if !ok {
				break
			}
			counter++
			_, isSingle := singleton[val]
			if !isSingle {
				continue
			}
			lastSingleton = val
			haveLastSingleton = true
			if isFallbackEligible(val) {
				span = append(span, val)
			}
			if counter < e.opts.SegmentSize {
				continue
			}
			e.acceptSplitter(lastSplitter, haveLast, val, span)
			lastSplitter, haveLast = val, true
			counter = 0
			span = nil
		}
		// Rightmost candidate of the contig, per step 4, even if the
		// segment_size threshold was never reached again.
		if haveLastSingleton && (!haveLast || lastSingleton != lastSplitter) {
			e.acceptSplitter(lastSplitter, haveLast, lastSingleton, span)
		}
	}
	return nil
}

// fallbackMagic is the XOR constant spec.md §4.5 step 2 folds into the
// fallback-eligibility test so it samples a different slice of hash space
// than the Bloom filter's own seeds.
const fallbackMagic = 0xD73F8BF11046C40E

// acceptSplitter registers newVal as a splitter, records it in the Bloom
// mirror, and files every fallback-eligible k-mer of the just-closed span
// against the (prev, newVal) pair.
func (e *Engine) acceptSplitter(prev uint64, havePrev bool, newVal uint64, span []uint64) {
	e.splitterMu.Lock()
	e.splitters[newVal] = struct{}{}
	e.bloomSet.Add(newVal)
	if e.bloomSet.LoadFactor() > 0.3 {
		e.bloomSet = bloom.Resize(e.bloomSet, uint64(4*len(e.splitters)), 0.01)
		for v := range e.splitters {
			e.bloomSet.Add(v)
		}
	}
	e.splitterMu.Unlock()

	if !havePrev || len(span) == 0 {
		return
	}
	key := pairKey{Front: prev, Back: newVal}
	if prev > newVal {
		key = pairKey{Front: newVal, Back: prev}
	}
	e.fallbackMu.Lock()
	for _, k := range span {
		e.fallback[k] = append(e.fallback[k], key)
	}
	e.fallbackMu.Unlock()
}

func (e *Engine) isSplitter(v uint64) bool {
	e.splitterMu.RLock()
	defer e.splitterMu.RUnlock()
	if !e.bloomSet.MayContain(v) {
		return false
	}
	_, ok := e.splitters[v]
	return ok
}

// ---------------------------------------------------------------------
// Phase B — contig segmentation and routing (spec.md §4.5).
// ---------------------------------------------------------------------

// ProcessContig cuts contig into splitter-bounded segments and routes
// each to a group, returning the ordered placement list for the
// catalog's segment-details stream.
func (e *Engine) ProcessContig(ctg []dna.Code) ([]catalog.Placement, error) {
	var placements []catalog.Placement

	segStart := 0
	var lastSplitter uint64
	haveLast := false

	sc := dna.NewScanner(ctg, e.opts.K)
	for {
		pos, val, _, ok := sc.Next()
		if !ok {
			break
		}
		if !e.isSplitter(val) {
			continue
		}
		seg := ctg[segStart : pos+1]
		ps, err := e.addSegment(seg, lastSplitter, val, haveLast, true)
		if err != nil {
			return nil, err
		}
		placements = append(placements, ps...)

		segStart = pos - int(e.opts.K) + 1
		lastSplitter, haveLast = val, true
	}
	if segStart < len(ctg) {
		seg := ctg[segStart:]
		ps, err := e.addSegment(seg, lastSplitter, 0, haveLast, false)
		if err != nil {
			return nil, err
		}
		placements = append(placements, ps...)
	}
	return placements, nil
}

// keyFor computes the routing key and whether seg must be stored reverse
// complemented, from a segment's (possibly absent) bounding splitter
// values. When both ends are known, the lexicographically smaller value
// is placed in Front and the segment is reverse complemented iff that
// required swapping the caller's (left, right) order — step 1 of §4.5.
func keyFor(left, right uint64, hasLeft, hasRight bool) (key pairKey, revComp bool) {
	switch {
	case hasLeft && hasRight:
		if left <= right {
			return pairKey{left, right}, false
		}
		return pairKey{right, left}, true
	case hasLeft:
		return pairKey{left, sentinel}, false
	case hasRight:
		return pairKey{sentinel, right}, false
	default:
		return pairKey{sentinel, sentinel}, false
	}
}

// addSegment implements §4.5 step 2: exact key hit, middle-splitter
// split, one-end proximity estimation, fallback-minimizer voting, and
// finally new-group creation. It returns one placement in every case
// except a successful middle split, which returns two.
func (e *Engine) addSegment(seg []dna.Code, left, right uint64, hasLeft, hasRight bool) ([]catalog.Placement, error) {
	key, revComp := keyFor(left, right, hasLeft, hasRight)

	if hasLeft || hasRight {
		if idx, ok := e.lookupExact(key); ok {
			p, err := e.appendToGroup(idx, seg, revComp)
			if err != nil {
				return nil, err
			}
			return []catalog.Placement{p}, nil
		}
	}

	if hasLeft && hasRight {
		if ps, ok, err := e.tryMiddleSplit(seg, left, right); err != nil {
			return nil, err
		} else if ok {
			return ps, nil
		}
	} else if hasLeft || hasRight {
		if p, ok, err := e.tryOneEndCandidate(seg, key, hasLeft); err != nil {
			return nil, err
		} else if ok {
			return []catalog.Placement{p}, nil
		}
	}

	if p, ok, err := e.tryFallbackMinimizers(seg); err != nil {
		return nil, err
	} else if ok {
		return []catalog.Placement{p}, nil
	}

	p, err := e.createGroup(seg, key)
	if err != nil {
		return nil, err
	}
	return []catalog.Placement{p}, nil
}

func (e *Engine) lookupExact(key pairKey) (int32, bool) {
	e.groupMu.RLock()
	defer e.groupMu.RUnlock()
	idx, ok := e.groupIndex[key]
	return idx, ok
}

func (e *Engine) appendToGroup(idx int32, seg []dna.Code, revComp bool) (catalog.Placement, error) {
	e.groupMu.RLock()
	gi := e.groups[idx]
	e.groupMu.RUnlock()

	orient := seg
	if revComp {
		orient = dna.ReverseComplement(seg)
	}
	inGroupID, err := gi.store.Add(codesToBytes(orient), false)
	if err != nil {
		return catalog.Placement{}, err
	}
	return catalog.Placement{
		GroupID:   uint32(idx),
		InGroupID: inGroupID,
		IsRevComp: revComp,
		RawLength: uint32(len(seg)),
	}, nil
}

// tryMiddleSplit searches for a splitter m internal to seg such that
// (left, m) and (m, right) are both existing groups, picking the split
// position that minimizes the summed C3 coding cost of the two halves.
func (e *Engine) tryMiddleSplit(seg []dna.Code, left, right uint64) ([]catalog.Placement, bool, error) {
	candidates := e.middleCandidates(left, right)
	if len(candidates) == 0 {
		return nil, false, nil
	}

	type split struct {
		pos int
		m   uint64
	}
	var found []split
	sc := dna.NewScanner(seg, e.opts.K)
	for {
		pos, val, _, ok := sc.Next()
		if !ok {
			break
		}
		if _, want := candidates[val]; want {
			found = append(found, split{pos, val})
		}
	}
	if len(found) == 0 {
		return nil, false, nil
	}

	bestCost := -1
	var best split
	for _, s := range found {
		leftHalf := seg[:s.pos+1]
		rightHalf := seg[s.pos-int(e.opts.K)+1:]
		lKey, lRev := keyFor(left, s.m, true, true)
		rKey, rRev := keyFor(s.m, right, true, true)
		lIdx, ok1 := e.lookupExact(lKey)
		rIdx, ok2 := e.lookupExact(rKey)
		if !ok1 || !ok2 {
			continue
		}
		lSeg := leftHalf
		if lRev {
			lSeg = dna.ReverseComplement(leftHalf)
		}
		rSeg := rightHalf
		if rRev {
			rSeg = dna.ReverseComplement(rightHalf)
		}
		e.groupMu.RLock()
		lGroup := e.groups[lIdx].store
		rGroup := e.groups[rIdx].store
		e.groupMu.RUnlock()
		lCost, err := lGroup.Estimate(codesToBytes(lSeg))
		if err != nil {
			return nil, false, err
		}
		rCost, err := rGroup.Estimate(codesToBytes(rSeg))
		if err != nil {
			return nil, false, err
		}
		if bestCost == -1 || lCost+rCost < bestCost {
			bestCost = lCost + rCost
			best = s
		}
	}
	if bestCost == -1 {
		return nil, false, nil
	}

	e.log.Debug("routed segment via middle splitter", zap.Uint64("splitter", best.m), zap.Int("cost", bestCost))
	leftHalf := seg[:best.pos+1]
	rightHalf := seg[best.pos-int(e.opts.K)+1:]
	p1, err := e.addSegment(leftHalf, left, best.m, true, true)
	if err != nil {
		return nil, false, err
	}
	p2, err := e.addSegment(rightHalf, best.m, right, true, true)
	if err != nil {
		return nil, false, err
	}
	return append(p1, p2...), true, nil
}

// middleCandidates returns every splitter value m with both (left, m)
// and (m, right) registered as groups.
func (e *Engine) middleCandidates(left, right uint64) map[uint64]struct{} {
	e.groupMu.RLock()
	defer e.groupMu.RUnlock()

	withLeft := make(map[uint64]struct{})
	for _, idx := range e.byFront[left] {
		withLeft[e.groups[idx].key.Back] = struct{}{}
	}
	for _, idx := range e.byBack[left] {
		withLeft[e.groups[idx].key.Front] = struct{}{}
	}

	out := make(map[uint64]struct{})
	for m := range withLeft {
		if _, ok := e.groupIndex[pairKey{m, right}]; ok {
			out[m] = struct{}{}
			continue
		}
		if _, ok := e.groupIndex[pairKey{right, m}]; ok {
			out[m] = struct{}{}
		}
	}
	return out
}

// tryOneEndCandidate enumerates existing groups sharing the one known
// splitter end, sorted by proximity of reference length to len(seg), and
// picks the candidate with the smallest estimated delta size.
func (e *Engine) tryOneEndCandidate(seg []dna.Code, key pairKey, knownIsFront bool) (catalog.Placement, bool, error) {
	e.groupMu.RLock()
	var idxs []int32
	if knownIsFront {
		idxs = append(idxs, e.byFront[key.Front]...)
	} else {
		idxs = append(idxs, e.byBack[key.Back]...)
	}
	type cand struct {
		idx    int32
		refLen int
	}
	cands := make([]cand, 0, len(idxs))
	for _, idx := range idxs {
		cands = append(cands, cand{idx, e.groups[idx].refLen})
	}
	e.groupMu.RUnlock()

	if len(cands) == 0 {
		return catalog.Placement{}, false, nil
	}
	segLen := len(seg)
	sort.Slice(cands, func(i, j int) bool {
		di := abs(cands[i].refLen - segLen)
		dj := abs(cands[j].refLen - segLen)
		return di < dj
	})

	raw := codesToBytes(seg)
	bestCost := -1
	var bestIdx int32
	for _, c := range cands {
		e.groupMu.RLock()
		g := e.groups[c.idx].store
		e.groupMu.RUnlock()
		cost, err := g.Estimate(raw)
		if err != nil {
			return catalog.Placement{}, false, err
		}
		if bestCost == -1 || cost < bestCost {
			bestCost, bestIdx = cost, c.idx
		}
	}
	p, err := e.appendToGroup(bestIdx, seg, false)
	if err != nil {
		return catalog.Placement{}, false, err
	}
	return p, true, nil
}

// tryFallbackMinimizers consults map_fallback_minimizers for every
// internal k-mer of seg, tallies votes per candidate group key, and
// accepts the most-supported candidate if its estimated cost is within
// the length-proportional threshold of §4.5 step 2's miss handling.
func (e *Engine) tryFallbackMinimizers(seg []dna.Code) (catalog.Placement, bool, error) {
	votes := make(map[pairKey]int)
	sc := dna.NewScanner(seg, e.opts.K)
	for {
		_, val, _, ok := sc.Next()
		if !ok {
			break
		}
		e.fallbackMu.Lock()
		keys := append([]pairKey(nil), e.fallback[val]...)
		e.fallbackMu.Unlock()
		for _, k := range keys {
			votes[k]++
		}
	}
	if len(votes) == 0 {
		return catalog.Placement{}, false, nil
	}

	type scored struct {
		key   pairKey
		votes int
	}
	var ranked []scored
	for k, v := range votes {
		ranked = append(ranked, scored{k, v})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].votes > ranked[j].votes })

	threshold := 0.2
	if len(seg) < e.opts.SegmentSize/2 {
		threshold = 0.9
	}
	limit := int(threshold * float64(len(seg)))

	raw := codesToBytes(seg)
	for _, r := range ranked {
		idx, ok := e.lookupExact(r.key)
		if !ok {
			continue
		}
		e.groupMu.RLock()
		g := e.groups[idx].store
		e.groupMu.RUnlock()
		cost, err := g.Estimate(raw)
		if err != nil {
			return catalog.Placement{}, false, err
		}
		if cost <= limit {
			e.log.Debug("routed segment via fallback minimizers", zap.Int("votes", r.votes), zap.Int("cost", cost))
			p, err := e.appendToGroup(idx, seg, false)
			return p, true, err
		}
	}
	return catalog.Placement{}, false, nil
}

// createGroup allocates a new group keyed by key, storing seg as its
// reference (in_group_id 0).
func (e *Engine) createGroup(seg []dna.Code, key pairKey) (catalog.Placement, error) {
	e.groupMu.Lock()
	id := e.nextGroupID
	e.nextGroupID++
	name := "x" + encodeGroupID(id)
	store := segstore.New(name, e.inArchive, e.outArchive, e.opts.PackCardinality, e.opts.MinMatchLen)
	gi := &groupInfo{store: store, key: key, refLen: len(seg)}
	idx := int32(len(e.groups))
	e.groups = append(e.groups, gi)
	e.groupIndex[key] = idx
	e.byFront[key.Front] = append(e.byFront[key.Front], idx)
	e.byBack[key.Back] = append(e.byBack[key.Back], idx)
	e.groupMu.Unlock()

	inGroupID, err := store.Add(codesToBytes(seg), false)
	if err != nil {
		return catalog.Placement{}, err
	}
	e.log.Debug("created new group", zap.Uint32("group_id", id), zap.Int("ref_len", len(seg)))
	return catalog.Placement{
		GroupID:   uint32(idx),
		InGroupID: inGroupID,
		IsRevComp: false,
		RawLength: uint32(len(seg)),
	}, nil
}

// GroupByID returns the segstore handle for a group previously created
// by this engine or loaded via LoadGroups, used by the decompression
// path to fetch a segment by (group, in-group) id.
func (e *Engine) GroupByID(id uint32) (*segstore.Group, bool) {
	e.groupMu.RLock()
	defer e.groupMu.RUnlock()
	if int(id) >= len(e.groups) {
		return nil, false
	}
	return e.groups[id].store, true
}

// NumGroups reports the number of registered groups.
func (e *Engine) NumGroups() int {
	e.groupMu.RLock()
	defer e.groupMu.RUnlock()
	return len(e.groups)
}

// Finish flushes every group's pending, not-yet-full batch to the
// archive. Call once at the end of compression, before WriteParams/
// WriteSplitters and closing the output archive.
func (e *Engine) Finish() error {
	e.groupMu.RLock()
	defer e.groupMu.RUnlock()
	var errs *multierror.Error
	for _, gi := range e.groups {
		if gi == nil {
			continue
		}
		if err := gi.store.Finish(false); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

func codesToBytes(codes []dna.Code) []byte {
	out := make([]byte, len(codes))
	for i, c := range codes {
		out[i] = byte(c)
	}
	return out
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func encodeGroupID(id uint32) string {
	if id == 0 {
		return "0"
	}
	var buf [11]byte
	i := len(buf)
	for id > 0 {
		i--
		buf[i] = groupIDAlphabet[id%64]
		id /= 64
	}
	return string(buf[i:])
}

// ---------------------------------------------------------------------
// Persistence — splitters / segment-splitters / params streams (§6).
// ---------------------------------------------------------------------

// WriteParams writes the archive-level parameters stream.
func (e *Engine) WriteParams() error {
	id := e.outArchive.RegisterStream(archive.StreamParams)
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], e.opts.K)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(e.opts.MinMatchLen))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(e.opts.PackCardinality))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(e.opts.SegmentSize))
	return e.outArchive.AddPart(id, buf, 0)
}

// WriteSplitters persists the sorted splitter set and the (kmer1, kmer2,
// group_id) triples of every registered group, per spec.md §6's
// well-known streams.
func (e *Engine) WriteSplitters() error {
	e.splitterMu.RLock()
	vals := make([]uint64, 0, len(e.splitters))
	for v := range e.splitters {
		vals = append(vals, v)
	}
	e.splitterMu.RUnlock()
	sort.Slice(vals, func(i, j int) bool { return vals[i] < vals[j] })

	sBuf := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(sBuf[i*8:], v)
	}
	sid := e.outArchive.RegisterStream(archive.StreamSplitters)
	if err := e.outArchive.AddPart(sid, sBuf, 0); err != nil {
		return fmt.Errorf("engine: writing splitters stream: %w", err)
	}

	e.groupMu.RLock()
	type triple struct{ a, b uint64; g uint32 }
	triples := make([]triple, len(e.groups))
	for i, gi := range e.groups {
		triples[i] = triple{gi.key.Front, gi.key.Back, uint32(i)}
	}
	e.groupMu.RUnlock()
	sort.Slice(triples, func(i, j int) bool {
		if triples[i].a != triples[j].a {
			return triples[i].a < triples[j].a
		}
		return triples[i].b < triples[j].b
	})
	gBuf := make([]byte, 20*len(triples))
	for i, t := range triples {
		binary.LittleEndian.PutUint64(gBuf[i*20:], t.a)
		binary.LittleEndian.PutUint64(gBuf[i*20+8:], t.b)
		binary.LittleEndian.PutUint32(gBuf[i*20+16:], t.g)
	}
	gid := e.outArchive.RegisterStream(archive.StreamSegmentSplitters)
	if err := e.outArchive.AddPart(gid, gBuf, 0); err != nil {
		return fmt.Errorf("engine: writing segment-splitters stream: %w", err)
	}
	return nil
}

// LoadParams reads the archive-level parameters back from ar, for append
// mode or for a decompressor that needs K/MinMatchLen/etc. without
// re-deriving them.
func LoadParams(ar *archive.Archive) (Options, error) {
	id, ok := ar.GetStreamID(archive.StreamParams)
	if !ok {
		return Options{}, fmt.Errorf("engine: archive has no params stream")
	}
	data, _, err := ar.GetPart(id, 0)
	if err != nil {
		return Options{}, err
	}
	if len(data) < 16 {
		return Options{}, fmt.Errorf("engine: truncated params stream")
	}
	return Options{
		K:           binary.LittleEndian.Uint32(data[0:4]),
		MinMatchLen: int(binary.LittleEndian.Uint32(data[4:8])),
		PackCardinality: int(binary.LittleEndian.Uint32(data[8:12])),
		SegmentSize: int(binary.LittleEndian.Uint32(data[12:16])),
	}, nil
}

// LoadGroups reconstructs the group arena and routing indices from an
// existing archive's splitters/segment-splitters streams, and opens a
// segstore.Group (via AppendingInit) for each, so append mode can keep
// routing new contigs into pre-existing groups.
func (e *Engine) LoadGroups() error {
	sid, ok := e.inArchive.GetStreamID(archive.StreamSplitters)
	if ok {
		data, _, err := e.inArchive.GetPart(sid, 0)
		if err != nil {
			return err
		}
		e.splitterMu.Lock()
		for i := 0; i+8 <= len(data); i += 8 {
			v := binary.LittleEndian.Uint64(data[i:])
			e.splitters[v] = struct{}{}
			e.bloomSet.Add(v)
		}
		e.splitterMu.Unlock()
	}

	gid, ok := e.inArchive.GetStreamID(archive.StreamSegmentSplitters)
	if !ok {
		return nil
	}
	data, _, err := e.inArchive.GetPart(gid, 0)
	if err != nil {
		return err
	}

	e.groupMu.Lock()
	defer e.groupMu.Unlock()
	for i := 0; i+20 <= len(data); i += 20 {
		a := binary.LittleEndian.Uint64(data[i:])
		b := binary.LittleEndian.Uint64(data[i+8:])
		gidx := binary.LittleEndian.Uint32(data[i+16:])
		for uint32(len(e.groups)) <= gidx {
			e.groups = append(e.groups, nil)
		}
		name := "x" + encodeGroupID(gidx)
		store := segstore.New(name, e.inArchive, e.outArchive, e.opts.PackCardinality, e.opts.MinMatchLen)
		// AppendingInit copies each group's existing parts forward onto
		// outArchive so further writes continue the same streams; a
		// read-only engine (outArchive == nil, e.g. a decompressor) has
		// nothing to copy forward into and only ever calls Get/GetRaw,
		// which read directly off inArchive by stream name.
		if e.outArchive != nil {
			if err := store.AppendingInit(); err != nil {
				return fmt.Errorf("engine: resuming group %d: %w", gidx, err)
			}
		}
		key := pairKey{a, b}
		e.groups[gidx] = &groupInfo{store: store, key: key, refLen: 0}
		e.groupIndex[key] = int32(gidx)
		e.byFront[a] = append(e.byFront[a], int32(gidx))
		e.byBack[b] = append(e.byBack[b], int32(gidx))
		if gidx >= e.nextGroupID {
			e.nextGroupID = gidx + 1
		}
	}
	return nil
}

// ---------------------------------------------------------------------
// Work distribution — worker pool + ordered sink (§4.5 "Work
// distribution", §5).
// ---------------------------------------------------------------------

// contigTask is one unit of work dispatched to the worker pool: a
// sample's single contig, tagged with its input-order priority so the
// sink can write placements back in original order regardless of which
// worker finishes first.
type contigTask struct {
	priority uint64
	sample   int
	contig   int
	name     string
	codes    []dna.Code
}

type contigResult struct {
	priority   uint64
	contig     int
	name       string
	placements []catalog.Placement
	err        error
}

// ProcessSample dispatches every contig of one sample across a Threads-
// sized worker pool fed by a task queue with no cost ceiling, reassembles per-contig
// results in input order via a priority sink, and registers each contig
// (and its placements) with the catalog as results arrive. It rendezvous
// at a barrier once the sample is fully drained, matching §4.5's
// "workers ... once per batch rendezvous at a barrier" contract (one
// barrier round per sample here, since PackCardinality batching is the
// catalog's/segstore's own concern).
func (e *Engine) ProcessSample(sampleIdx int, names []string, contigs [][]dna.Code) error {
	n := len(contigs)
	if n == 0 {
		return nil
	}

	tasks := queue.NewBounded(1, 0)
	results := queue.NewPriority(0, e.opts.Threads)
	barrier := queue.NewBarrier(e.opts.Threads)

	var wg sync.WaitGroup
	for t := 0; t < e.opts.Threads; t++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				v, ok := tasks.Pop()
				if !ok {
					break
				}
				task := v.(contigTask)
				placements, err := e.ProcessContig(task.codes)
				results.Push(task.priority, contigResult{
					priority:   task.priority,
					contig:     task.contig,
					name:       task.name,
					placements: placements,
					err:        err,
				})
			}
			barrier.Arrive()
			results.Done()
		}()
	}

	go func() {
		for i := 0; i < n; i++ {
			tasks.Push(contigTask{priority: uint64(i), sample: sampleIdx, contig: i, name: names[i], codes: contigs[i]}, len(contigs[i]))
		}
		tasks.Done()
	}()

	var errs *multierror.Error
	for {
		v, ok := results.Pop()
		if !ok {
			break
		}
		res := v.(contigResult)
		if res.err != nil {
			errs = multierror.Append(errs, fmt.Errorf("contig %q: %w", res.name, res.err))
			continue
		}
		contigID, err := e.cat.RegisterSampleContig(sampleIdx, res.name)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("contig %q: %w", res.name, err))
			continue
		}
		if err := e.cat.AddSegmentsPlaced(sampleIdx, contigID, res.placements); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("contig %q: %w", res.name, err))
		}
	}
	wg.Wait()
	e.log.Info("sample processed", zap.Int("sample", sampleIdx), zap.Int("contigs", n), zap.Int("groups", e.NumGroups()))
	return errs.ErrorOrNil()
}
