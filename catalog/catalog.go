// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package catalog implements the collection catalog (C2, spec.md §4.2): a
// persistent mapping from sample to contigs to ordered segment references,
// loaded lazily in batches of pack_cardinality samples.
package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/refresh-bio/agc-go/archive"
	"github.com/refresh-bio/agc-go/internal/entropy"
	"github.com/refresh-bio/agc-go/internal/varint"
)

// ErrDuplicateContig is returned by RegisterSampleContig when the
// (sample, short_contig_name) pair already exists.
var ErrDuplicateContig = errors.New("catalog: duplicate (sample, contig) pair")

// Placement is one entry of a contig's ordered segment list.
type Placement struct {
	GroupID    uint32
	InGroupID  uint32
	IsRevComp  bool
	RawLength  uint32
}

type contigRecord struct {
	fullName string // full FASTA header; ShortName(fullName) is the lookup key
	segments []Placement
}

type sampleRecord struct {
	name    string
	contigs []contigRecord
	byName  map[string]int
}

// Catalog is the in-memory/on-archive collection of sample -> contig ->
// segment-placement records.
type Catalog struct {
	mu             sync.Mutex
	log            *zap.Logger
	ar             *archive.Archive
	packCardinality int
	segmentSize    int
	k              int

	samples    []*sampleRecord
	sampleByName map[string]int

	samplesStreamID int
	contigsStreamID int
	detailsStreamID int

	// loadedBatch is the index of the batch currently unpacked into
	// samples[*].contigs, or -1 if none is loaded. Only meaningful when
	// reading from an existing archive.
	loadedBatch int
	numBatches  int

	writing bool
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithLogger attaches a structured logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Catalog) { c.log = log }
}

// New creates a catalog for writing into ar.
func New(ar *archive.Archive, packCardinality, segmentSize, k int, opts ...Option) *Catalog {
	c := &Catalog{
		ar:              ar,
		packCardinality: packCardinality,
		segmentSize:     segmentSize,
		k:               k,
		sampleByName:    make(map[string]int),
		loadedBatch:     -1,
		writing:         true,
		log:             zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	c.samplesStreamID = ar.RegisterStream(archive.StreamCollectionSamples)
	c.contigsStreamID = ar.RegisterStream(archive.StreamCollectionContigs)
	c.detailsStreamID = ar.RegisterStream(archive.StreamCollectionDetails)
	return c
}

// Open loads an existing catalog's sample list (only) from ar, per §4.2:
// "On open, only sample names are loaded."
func Open(ar *archive.Archive, packCardinality, segmentSize, k int, opts ...Option) (*Catalog, error) {
	c := &Catalog{
		ar:              ar,
		packCardinality: packCardinality,
		segmentSize:     segmentSize,
		k:               k,
		sampleByName:    make(map[string]int),
		loadedBatch:     -1,
		log:             zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	var ok bool
	c.samplesStreamID, ok = mustID(ar, archive.StreamCollectionSamples)
	if !ok {
		return nil, fmt.Errorf("catalog: missing required stream %s", archive.StreamCollectionSamples)
	}
	c.contigsStreamID, _ = mustID(ar, archive.StreamCollectionContigs)
	c.detailsStreamID, _ = mustID(ar, archive.StreamCollectionDetails)
	if c.contigsStreamID >= 0 {
		c.numBatches = ar.NumParts(c.contigsStreamID)
	}

	data, _, err := ar.GetPart(c.samplesStreamID, 0)
	if err != nil {
		return nil, fmt.Errorf("catalog: reading sample names: %w", err)
	}
	names, err := decodeSampleNames(data)
	if err != nil {
		return nil, err
	}
	c.samples = make([]*sampleRecord, len(names))
	for i, name := range names {
		c.samples[i] = &sampleRecord{name: name}
		c.sampleByName[name] = i
	}
	return c, nil
}

func mustID(ar *archive.Archive, name string) (int, bool) {
	return ar.GetStreamID(name)
}

// RegisterSample assigns the next monotonically increasing sample id. The
// first sample registered becomes the reference sample.
func (c *Catalog) RegisterSample(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.sampleByName[name]; ok {
		return id
	}
	id := len(c.samples)
	c.samples = append(c.samples, &sampleRecord{name: name, byName: make(map[string]int)})
	c.sampleByName[name] = id
	return id
}

// RegisterSampleContig records contig_name as belonging to sample, using
// the FASTA-header-up-to-first-whitespace short name. It returns
// ErrDuplicateContig if the (sample, short name) pair is already present.
func (c *Catalog) RegisterSampleContig(sample int, fullHeader string) (contigID int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.samples[sample]
	if s.byName == nil {
		s.byName = make(map[string]int)
	}
	short := ShortName(fullHeader)
	if _, dup := s.byName[short]; dup {
		return -1, ErrDuplicateContig
	}
	id := len(s.contigs)
	s.contigs = append(s.contigs, contigRecord{fullName: fullHeader})
	s.byName[short] = id
	return id, nil
}

// ShortName extracts the FASTA header up to the first whitespace, the
// identifier all catalog lookups key on.
func ShortName(fullHeader string) string {
	if i := strings.IndexAny(fullHeader, " \t"); i >= 0 {
		return fullHeader[:i]
	}
	return fullHeader
}

// AddSegmentPlaced records one segment placement for (sample, contig) at
// the given zero-based position in the contig's ordered segment list.
// Positions must be filled in order (position == len(existing segments)).
func (c *Catalog) AddSegmentPlaced(sample, contig, position int, p Placement) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cr := &c.samples[sample].contigs[contig]
	if position != len(cr.segments) {
		return fmt.Errorf("catalog: out-of-order placement for sample %d contig %d: got position %d, expected %d", sample, contig, position, len(cr.segments))
	}
	cr.segments = append(cr.segments, p)
	return nil
}

// AddSegmentsPlaced is the batched variant of AddSegmentPlaced.
func (c *Catalog) AddSegmentsPlaced(sample, contig int, ps []Placement) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cr := &c.samples[sample].contigs[contig]
	cr.segments = append(cr.segments, ps...)
	return nil
}

// GetSampleList returns every registered sample name, in registration
// order.
func (c *Catalog) GetSampleList() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.samples))
	for i, s := range c.samples {
		out[i] = s.name
	}
	return out
}

// GetReferenceName returns the first sample loaded (the reference sample).
func (c *Catalog) GetReferenceName() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.samples) == 0 {
		return "", false
	}
	return c.samples[0].name, true
}

// GetContigList returns the short contig names for sample, lazily loading
// the containing batch if reading from an archive.
func (c *Catalog) GetContigList(sample string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.sampleByName[sample]
	if !ok {
		return nil, fmt.Errorf("catalog: unknown sample %q", sample)
	}
	if err := c.ensureBatchLoadedLocked(idx); err != nil {
		return nil, err
	}
	s := c.samples[idx]
	out := make([]string, len(s.contigs))
	for i, cr := range s.contigs {
		out[i] = ShortName(cr.fullName)
	}
	return out, nil
}

// GetContigDesc returns the ordered segment placements for (sample,
// contig).
func (c *Catalog) GetContigDesc(sample, contig string) ([]Placement, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.sampleByName[sample]
	if !ok {
		return nil, fmt.Errorf("catalog: unknown sample %q", sample)
	}
	if err := c.ensureBatchLoadedLocked(idx); err != nil {
		return nil, err
	}
	s := c.samples[idx]
	ci, ok := s.byName[contig]
	if !ok {
		return nil, fmt.Errorf("catalog: unknown contig %q in sample %q", contig, sample)
	}
	return s.contigs[ci].segments, nil
}

// ContigRecord is a read-only view of one contig's full header and ordered
// segment placements, used to copy a sample forward verbatim into a new
// catalog (append mode).
type ContigRecord struct {
	FullName string
	Segments []Placement
}

// GetContigRecords returns every contig record of sample, full headers and
// all, for copying into a new catalog instance during append.
func (c *Catalog) GetContigRecords(sample string) ([]ContigRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.sampleByName[sample]
	if !ok {
		return nil, fmt.Errorf("catalog: unknown sample %q", sample)
	}
	if err := c.ensureBatchLoadedLocked(idx); err != nil {
		return nil, err
	}
	s := c.samples[idx]
	out := make([]ContigRecord, len(s.contigs))
	for i, cr := range s.contigs {
		out[i] = ContigRecord{FullName: cr.fullName, Segments: append([]Placement(nil), cr.segments...)}
	}
	return out, nil
}

// GetSamplesForContig scans every batch for contig, relied on for the
// no-sample-name query path (spec.md §4.2, §6 ambiguous query handling).
func (c *Catalog) GetSamplesForContig(contig string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for i, s := range c.samples {
		if err := c.ensureBatchLoadedLocked(i); err != nil {
			return nil, err
		}
		if _, ok := s.byName[contig]; ok {
			out = append(out, s.name)
		}
	}
	return out, nil
}

func (c *Catalog) batchOf(sampleIdx int) int {
	return sampleIdx / c.packCardinality
}

// ensureBatchLoadedLocked lazily unpacks the batch containing sampleIdx,
// clearing any previously loaded batch first, per spec.md §4.2's access
// pattern: "A batch currently loaded is cleared when a different batch is
// requested."
func (c *Catalog) ensureBatchLoadedLocked(sampleIdx int) error {
	if c.writing || c.contigsStreamID < 0 {
		return nil // nothing lazily paged while writing; everything is resident.
	}
	batch := c.batchOf(sampleIdx)
	if batch == c.loadedBatch {
		return nil
	}
	c.clearLoadedBatchLocked()

	contigData, _, err := c.ar.GetPart(c.contigsStreamID, batch)
	if err != nil {
		return fmt.Errorf("catalog: reading contig batch %d: %w", batch, err)
	}
	detailData, _, err := c.ar.GetPart(c.detailsStreamID, batch)
	if err != nil {
		return fmt.Errorf("catalog: reading details batch %d: %w", batch, err)
	}

	start := batch * c.packCardinality
	end := start + c.packCardinality
	if end > len(c.samples) {
		end = len(c.samples)
	}

	names, err := decodeContigNamesBatch(contigData, end-start)
	if err != nil {
		return fmt.Errorf("catalog: decoding contig names batch %d: %w", batch, err)
	}
	contigCounts := make([]int, len(names))
	for i, n := range names {
		contigCounts[i] = len(n)
	}
	details, err := decodeSegmentDetailsBatch(detailData, contigCounts, c.segmentSize, c.k)
	if err != nil {
		return fmt.Errorf("catalog: decoding segment details batch %d: %w", batch, err)
	}

	for i := start; i < end; i++ {
		si := i - start
		s := c.samples[i]
		s.byName = make(map[string]int, len(names[si]))
		s.contigs = make([]contigRecord, len(names[si]))
		for ci, name := range names[si] {
			s.contigs[ci] = contigRecord{fullName: name}
			s.byName[ShortName(name)] = ci
		}
		for ci, segs := range details[si] {
			if ci < len(s.contigs) {
				s.contigs[ci].segments = segs
			}
		}
	}

	c.loadedBatch = batch
	return nil
}

func (c *Catalog) clearLoadedBatchLocked() {
	if c.loadedBatch < 0 {
		return
	}
	start := c.loadedBatch * c.packCardinality
	end := start + c.packCardinality
	if end > len(c.samples) {
		end = len(c.samples)
	}
	for i := start; i < end; i++ {
		c.samples[i].contigs = nil
		c.samples[i].byName = nil
	}
	c.loadedBatch = -1
}

// Flush serializes every complete batch not yet persisted (idempotent).
// The sample-name stream and a final partial batch are written by
// FlushFinal.
func (c *Catalog) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	numComplete := len(c.samples) / c.packCardinality
	alreadyWritten := c.ar.NumParts(c.contigsStreamID)
	for b := alreadyWritten; b < numComplete; b++ {
		if err := c.writeBatchLocked(b); err != nil {
			return err
		}
	}
	return nil
}

// FlushFinal writes the sample-name stream (a single part, holding every
// registered sample) and the last, possibly partial, batch. Call once at
// Close.
func (c *Catalog) FlushFinal() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.samples) == 0 {
		return nil
	}
	if c.ar.NumParts(c.samplesStreamID) == 0 {
		names := make([]string, len(c.samples))
		for i, s := range c.samples {
			names[i] = s.name
		}
		data, err := encodeSampleNames(names)
		if err != nil {
			return err
		}
		if err := c.ar.AddPart(c.samplesStreamID, data, 0); err != nil {
			return err
		}
	}
	lastBatch := (len(c.samples) - 1) / c.packCardinality
	if c.ar.NumParts(c.contigsStreamID) > lastBatch {
		return nil
	}
	return c.writeBatchLocked(lastBatch)
}

func (c *Catalog) writeBatchLocked(batch int) error {
	start := batch * c.packCardinality
	end := start + c.packCardinality
	if end > len(c.samples) {
		end = len(c.samples)
	}
	var names [][]string
	var details [][][]Placement
	for i := start; i < end; i++ {
		s := c.samples[i]
		sampleNames := make([]string, len(s.contigs))
		sampleSegs := make([][]Placement, len(s.contigs))
		for ci, cr := range s.contigs {
			sampleNames[ci] = cr.fullName
			sampleSegs[ci] = cr.segments
		}
		names = append(names, sampleNames)
		details = append(details, sampleSegs)
	}

	contigData, err := encodeContigNamesBatch(names)
	if err != nil {
		return err
	}
	if err := c.ar.AddPart(c.contigsStreamID, contigData, 0); err != nil {
		return err
	}

	detailData, err := encodeSegmentDetailsBatch(details, c.segmentSize, c.k)
	if err != nil {
		return err
	}
	return c.ar.AddPart(c.detailsStreamID, detailData, 0)
}

// --- sample name stream ---

func encodeSampleNames(names []string) ([]byte, error) {
	var buf []byte
	buf = varint.Append(buf, uint64(len(names)))
	for _, n := range names {
		buf = append(buf, []byte(n)...)
		buf = append(buf, 0)
	}
	return entropy.Compress(19, buf)
}

func decodeSampleNames(compressed []byte) ([]string, error) {
	buf, err := entropy.Decompress(compressed, 4096)
	if err != nil {
		return nil, err
	}
	count, n, err := varint.Read(buf)
	if err != nil {
		return nil, err
	}
	buf = buf[n:]
	names := make([]string, 0, count)
	for i := uint64(0); i < count; i++ {
		idx := bytes.IndexByte(buf, 0)
		if idx < 0 {
			return nil, fmt.Errorf("catalog: unterminated sample name")
		}
		names = append(names, string(buf[:idx]))
		buf = buf[idx+1:]
	}
	return names, nil
}

// --- contig name delta encoding (per-batch) ---

// encodeContigNamesBatch encodes, for each sample in the batch, its list
// of contig names with field-wise delta compression against the previous
// contig's space-delimited fields, as described in spec.md §4.2.
func encodeContigNamesBatch(samples [][]string) ([]byte, error) {
	var buf []byte
	buf = varint.Append(buf, uint64(len(samples)))
	for _, names := range samples {
		buf = varint.Append(buf, uint64(len(names)))
		var prevFields []string
		for _, name := range names {
			fields := strings.Split(name, " ")
			enc := encodeNameDelta(fields, prevFields)
			buf = varint.Append(buf, uint64(len(enc)))
			buf = append(buf, enc...)
			prevFields = fields
		}
	}
	return entropy.Compress(19, buf)
}

func decodeContigNamesBatch(compressed []byte, numSamples int) ([][]string, error) {
	buf, err := entropy.Decompress(compressed, 4096)
	if err != nil {
		return nil, err
	}
	count, n, err := varint.Read(buf)
	if err != nil {
		return nil, err
	}
	buf = buf[n:]
	if int(count) != numSamples {
		return nil, fmt.Errorf("catalog: contig batch sample count mismatch: got %d want %d", count, numSamples)
	}
	out := make([][]string, numSamples)
	for s := 0; s < numSamples; s++ {
		numContigs, n, err := varint.Read(buf)
		if err != nil {
			return nil, err
		}
		buf = buf[n:]
		names := make([]string, numContigs)
		var prevFields []string
		for i := uint64(0); i < numContigs; i++ {
			l, n, err := varint.Read(buf)
			if err != nil {
				return nil, err
			}
			buf = buf[n:]
			if uint64(len(buf)) < l {
				return nil, fmt.Errorf("catalog: truncated contig name entry")
			}
			fields, err := decodeNameDelta(buf[:l], prevFields)
			if err != nil {
				return nil, err
			}
			buf = buf[l:]
			names[i] = strings.Join(fields, " ")
			prevFields = fields
		}
		out[s] = names
	}
	return out, nil
}

// Field delta opcodes.
const (
	fieldSame    byte = 0x01 // whole field identical to the previous contig's same-index field
	fieldLiteral byte = 0x02 // followed by varint length, then raw bytes
	fieldCopy    byte = 0x03 // followed by varint n: copy n bytes from the same offset of the previous field
)

func encodeNameDelta(fields, prev []string) []byte {
	var buf []byte
	buf = varint.Append(buf, uint64(len(fields)))
	for i, f := range fields {
		if i < len(prev) && prev[i] == f {
			buf = append(buf, fieldSame)
			continue
		}
		var prevField string
		if i < len(prev) {
			prevField = prev[i]
		}
		buf = append(buf, fieldLiteral)
		common := commonPrefixLen(f, prevField)
		if common > 0 {
			buf[len(buf)-1] = fieldCopy
			buf = varint.Append(buf, uint64(common))
		}
		rest := f[common:]
		buf = varint.Append(buf, uint64(len(rest)))
		buf = append(buf, rest...)
	}
	return buf
}

func commonPrefixLen(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

func decodeNameDelta(buf []byte, prev []string) ([]string, error) {
	count, n, err := varint.Read(buf)
	if err != nil {
		return nil, err
	}
	buf = buf[n:]
	fields := make([]string, count)
	for i := uint64(0); i < count; i++ {
		if len(buf) < 1 {
			return nil, fmt.Errorf("catalog: truncated field opcode")
		}
		op := buf[0]
		buf = buf[1:]
		switch op {
		case fieldSame:
			if int(i) >= len(prev) {
				return nil, fmt.Errorf("catalog: same-field marker with no previous field")
			}
			fields[i] = prev[i]
		case fieldLiteral:
			l, nn, err := varint.Read(buf)
			if err != nil {
				return nil, err
			}
			buf = buf[nn:]
			if uint64(len(buf)) < l {
				return nil, fmt.Errorf("catalog: truncated literal field")
			}
			fields[i] = string(buf[:l])
			buf = buf[l:]
		case fieldCopy:
			common, nn, err := varint.Read(buf)
			if err != nil {
				return nil, err
			}
			buf = buf[nn:]
			l, nn, err := varint.Read(buf)
			if err != nil {
				return nil, err
			}
			buf = buf[nn:]
			if uint64(len(buf)) < l {
				return nil, fmt.Errorf("catalog: truncated copy field")
			}
			var prevField string
			if int(i) < len(prev) {
				prevField = prev[i]
			}
			if uint64(len(prevField)) < common {
				return nil, fmt.Errorf("catalog: copy field exceeds previous field length")
			}
			fields[i] = prevField[:common] + string(buf[:l])
			buf = buf[l:]
		default:
			return nil, fmt.Errorf("catalog: unknown field opcode %#x", op)
		}
	}
	return fields, nil
}

// --- segment tuple streams (per-batch) ---

func encodeSegmentDetailsBatch(samples [][][]Placement, segmentSize, k int) ([]byte, error) {
	var counts, groupIDs, inGroupIDs, rawLens, revComps []byte

	predictor := segmentSize + k
	lastInGroup := make(map[uint32]uint32)

	for _, contigs := range samples {
		for _, segs := range contigs {
			counts = varint.Append(counts, uint64(len(segs)))
			for _, p := range segs {
				groupIDs = varint.Append(groupIDs, uint64(p.GroupID))

				prev, seen := lastInGroup[p.GroupID]
				inGroupIDs = varint.Append(inGroupIDs, encodeInGroupDelta(p.InGroupID, prev, seen))
				lastInGroup[p.GroupID] = p.InGroupID

				rawLens = varint.Append(rawLens, varint.ZigZag(int64(p.RawLength)-int64(predictor)))

				rc := uint64(0)
				if p.IsRevComp {
					rc = 1
				}
				revComps = varint.Append(revComps, rc)
			}
		}
	}

	var out []byte
	for _, stream := range [][]byte{counts, groupIDs, inGroupIDs, rawLens, revComps} {
		packed, err := entropy.Compress(19, stream)
		if err != nil {
			return nil, err
		}
		out = varint.Append(out, uint64(len(packed)))
		out = append(out, packed...)
	}
	return out, nil
}

func encodeInGroupDelta(value, predecessor uint32, seen bool) uint64 {
	if !seen {
		// No predecessor yet for this group: treat predecessor as -1, so a
		// first member of 0 (the reference) still encodes compactly.
		if value == 0 {
			return 0
		}
		return varint.ZigZag(int64(value))<<1 | 1
	}
	if value == 0 {
		return 0
	}
	if value == predecessor+1 {
		return 1
	}
	return varint.ZigZag(int64(value)-int64(predecessor+1))<<1 | 1
}

func decodeInGroupDelta(code uint64, predecessor uint32, seen bool) uint32 {
	if code == 0 {
		return 0
	}
	if code == 1 {
		return predecessor + 1
	}
	z := varint.UnZigZag(code >> 1)
	if !seen {
		return uint32(z)
	}
	return uint32(int64(predecessor+1) + z)
}

// decodeSegmentDetailsBatch decodes the five parallel tuple streams back
// into per-sample, per-contig placement lists. contigCounts[s] gives the
// number of contigs sample s owns, taken from the already-decoded contig
// name batch, so the flat counts stream can be split at the right sample
// boundaries.
func decodeSegmentDetailsBatch(data []byte, contigCounts []int, segmentSize, k int) ([][][]Placement, error) {
	var streams [5][]byte
	for i := range streams {
		l, n, err := varint.Read(data)
		if err != nil {
			return nil, err
		}
		data = data[n:]
		if uint64(len(data)) < l {
			return nil, fmt.Errorf("catalog: truncated segment stream %d", i)
		}
		raw, err := entropy.Decompress(data[:l], 4096)
		if err != nil {
			return nil, err
		}
		streams[i] = raw
		data = data[l:]
	}
	counts, groupIDs, inGroupIDs, rawLens, revComps := streams[0], streams[1], streams[2], streams[3], streams[4]

	predictor := segmentSize + k
	lastInGroup := make(map[uint32]uint32)
	seenGroup := make(map[uint32]bool)

	out := make([][][]Placement, len(contigCounts))
	for s, numContigs := range contigCounts {
		contigSegs := make([][]Placement, numContigs)
		for ci := 0; ci < numContigs; ci++ {
			n, consumed, err := varint.Read(counts)
			if err != nil {
				return nil, err
			}
			counts = counts[consumed:]
			segs := make([]Placement, n)
			for i := uint64(0); i < n; i++ {
				gid, c1, err := varint.Read(groupIDs)
				if err != nil {
					return nil, err
				}
				groupIDs = groupIDs[c1:]

				igCode, c2, err := varint.Read(inGroupIDs)
				if err != nil {
					return nil, err
				}
				inGroupIDs = inGroupIDs[c2:]
				prev := lastInGroup[uint32(gid)]
				ig := decodeInGroupDelta(igCode, prev, seenGroup[uint32(gid)])
				lastInGroup[uint32(gid)] = ig
				seenGroup[uint32(gid)] = true

				rl, c3, err := varint.Read(rawLens)
				if err != nil {
					return nil, err
				}
				rawLens = rawLens[c3:]
				rawLength := int64(predictor) + varint.UnZigZag(rl)

				rc, c4, err := varint.Read(revComps)
				if err != nil {
					return nil, err
				}
				revComps = revComps[c4:]

				segs[i] = Placement{
					GroupID:   uint32(gid),
					InGroupID: ig,
					IsRevComp: rc != 0,
					RawLength: uint32(rawLength),
				}
			}
			contigSegs[ci] = segs
		}
		out[s] = contigSegs
	}
	return out, nil
}
