// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package archive implements the container format described in spec.md
// §4.1 and §6: a single file holding a set of named byte streams, each a
// sequence of (metadata, payload) parts, closed by a trailer index. It is
// the lowest layer of the repository (C1) — the collection catalog,
// segment store and splitter index are all just named streams within one
// archive.
package archive

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/refresh-bio/agc-go/internal/varint"
)

// Well-known stream names shared across C1-C5 (spec.md §6).
const (
	StreamFileTypeInfo       = "file_type_info"
	StreamParams             = "params"
	StreamSplitters          = "splitters"
	StreamSegmentSplitters   = "segment-splitters"
	StreamCollectionSamples  = "collection-samples"
	StreamCollectionContigs  = "collection-contigs"
	StreamCollectionDetails  = "collection-details"
	GroupStreamPrefix        = "x" // followed by base64(group id), then "-ref" or "-delta"
)

// part describes one (offset, size) entry of a stream's trailer index. The
// metadata word precedes the payload on disk but is not counted in size.
type part struct {
	offset int64
	size   int64
}

type stream struct {
	name      string
	rawSize   int64
	parts     []part
	buffered  [][]byte // pending buffered parts (payload only; metadata in bufferedMeta)
	bufferedMeta []uint64
}

// Archive is a named-stream container file. All exported methods are safe
// for concurrent use: a single mutex serializes the stream directory and
// any buffered-part queues, matching spec.md §5's "(a) The archive
// container: single mutex over the stream directory and per-stream
// buffer."
type Archive struct {
	mu  sync.Mutex
	log *zap.Logger

	writable bool
	f        *os.File
	w        *bufio.Writer
	offset   int64 // next write offset, valid only when writable

	rd       io.ReaderAt
	rdCloser io.Closer

	streams    []*stream
	byName     map[string]int
	lazyPrefix string
	lazyBuilt  bool
}

// Option configures an Archive at Open/Create time.
type Option func(*Archive)

// WithLogger attaches a structured logger; a no-op logger is used if this
// option is omitted.
func WithLogger(log *zap.Logger) Option {
	return func(a *Archive) { a.log = log }
}

// WithLazyNamePrefix enables the lazy-name-prefix optimization of
// spec.md §4.1: streams whose names start with prefix are not entered into
// the name->id map until first looked up by name. This is purely a latency
// optimization and never changes read semantics.
func WithLazyNamePrefix(prefix string) Option {
	return func(a *Archive) { a.lazyPrefix = prefix }
}

func newArchive(opts []Option) *Archive {
	a := &Archive{byName: make(map[string]int), log: zap.NewNop()}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Create opens path for writing a brand new archive. The caller must call
// Close to write the trailer.
func Create(path string, opts ...Option) (*Archive, error) {
	a := newArchive(opts)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("archive: create %s: %w", path, err)
	}
	a.f = f
	a.w = bufio.NewWriterSize(f, 1<<20)
	a.writable = true
	a.lazyBuilt = true
	return a, nil
}

// Open opens an existing archive for reading. rd must support ReadAt
// (*os.File satisfies it); closer may be nil if the caller owns rd's
// lifetime.
func Open(rd io.ReaderAt, size int64, closer io.Closer, opts ...Option) (*Archive, error) {
	a := newArchive(opts)
	a.rd = rd
	a.rdCloser = closer
	if err := a.deserialize(size); err != nil {
		return nil, err
	}
	return a, nil
}

// OpenFile opens an archive file at path for reading.
func OpenFile(path string, opts ...Option) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return Open(f, info.Size(), f, opts...)
}

// RegisterStream returns the id for name, creating a new stream if this is
// the first time name has been seen (idempotent, per spec.md §4.1).
func (a *Archive) RegisterStream(name string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.registerStreamLocked(name)
}

func (a *Archive) registerStreamLocked(name string) int {
	a.ensureNameMapLocked()
	if id, ok := a.byName[name]; ok {
		return id
	}
	id := len(a.streams)
	a.streams = append(a.streams, &stream{name: name})
	a.byName[name] = id
	return id
}

// GetStreamID returns the id of an existing stream, or (-1, false) if name
// is unknown.
func (a *Archive) GetStreamID(name string) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ensureNameMapLocked()
	id, ok := a.byName[name]
	if !ok {
		return -1, false
	}
	return id, true
}

// ensureNameMapLocked materializes the name->id map for any streams that
// were deferred under the lazy-name-prefix optimization. Called with mu
// held.
func (a *Archive) ensureNameMapLocked() {
	if a.lazyBuilt || a.lazyPrefix == "" {
		return
	}
	for i, s := range a.streams {
		if _, ok := a.byName[s.name]; !ok {
			a.byName[s.name] = i
		}
	}
	a.lazyBuilt = true
}

// AddPart appends bytes immediately to stream_id's part list.
func (a *Archive) AddPart(streamID int, data []byte, meta uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addPartLocked(streamID, data, meta)
}

func (a *Archive) addPartLocked(streamID int, data []byte, meta uint64) error {
	if !a.writable {
		return fmt.Errorf("archive: AddPart on a read-only archive")
	}
	if streamID < 0 || streamID >= len(a.streams) {
		return fmt.Errorf("archive: invalid stream id %d", streamID)
	}
	hdr := varint.Append(nil, meta)
	if err := a.writeAt(hdr); err != nil {
		return err
	}
	off := a.offset
	if err := a.writeAt(data); err != nil {
		return err
	}
	s := a.streams[streamID]
	s.parts = append(s.parts, part{offset: off, size: int64(len(data))})
	s.rawSize += int64(len(data))
	return nil
}

func (a *Archive) writeAt(b []byte) error {
	n, err := a.w.Write(b)
	a.offset += int64(n)
	if err != nil {
		return fmt.Errorf("archive: write: %w", err)
	}
	return nil
}

// AddPartBuffered queues data to be flushed later, in registration order,
// by Flush.
func (a *Archive) AddPartBuffered(streamID int, data []byte, meta uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if streamID < 0 || streamID >= len(a.streams) {
		return fmt.Errorf("archive: invalid stream id %d", streamID)
	}
	s := a.streams[streamID]
	s.buffered = append(s.buffered, data)
	s.bufferedMeta = append(s.bufferedMeta, meta)
	return nil
}

// Flush drains all buffered parts across all streams, in stream
// registration order.
func (a *Archive) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, s := range a.streams {
		for i, data := range s.buffered {
			if err := a.addPartLocked(id, data, s.bufferedMeta[i]); err != nil {
				return err
			}
		}
		s.buffered = nil
		s.bufferedMeta = nil
	}
	a.log.Debug("archive flush complete", zap.Int("streams", len(a.streams)))
	return nil
}

// GetPart reads one part of streamID (GetPartByName resolves a name). A
// negative partIndex returns the first part, whatever the stream's part
// count.
func (a *Archive) GetPart(streamID int, partIndex int) ([]byte, uint64, error) {
	a.mu.Lock()
	if streamID < 0 || streamID >= len(a.streams) {
		a.mu.Unlock()
		return nil, 0, fmt.Errorf("archive: invalid stream id %d", streamID)
	}
	s := a.streams[streamID]
	if partIndex < 0 {
		partIndex = 0
	}
	if partIndex >= len(s.parts) {
		a.mu.Unlock()
		return nil, 0, fmt.Errorf("archive: part %d out of range for stream %s (%d parts)", partIndex, s.name, len(s.parts))
	}
	p := s.parts[partIndex]
	a.mu.Unlock()

	return a.readPart(p)
}

// GetPartByName resolves name to a stream id first; returns (data, meta,
// id, found).
func (a *Archive) GetPartByName(name string, partIndex int) ([]byte, uint64, int, bool) {
	id, ok := a.GetStreamID(name)
	if !ok {
		return nil, 0, -1, false
	}
	data, meta, err := a.GetPart(id, partIndex)
	if err != nil {
		return nil, 0, id, false
	}
	return data, meta, id, true
}

// GetParts performs two GetPartByName calls as one logical operation. The
// spec allows implementers to serve this with two sequential reads.
func (a *Archive) GetParts(name1 string, part1 int, name2 string, part2 int) (d1 []byte, m1 uint64, ok1 bool, d2 []byte, m2 uint64, ok2 bool) {
	d1, m1, _, ok1 = a.GetPartByName(name1, part1)
	d2, m2, _, ok2 = a.GetPartByName(name2, part2)
	return
}

func (a *Archive) readPart(p part) ([]byte, uint64, error) {
	if a.rd == nil {
		return nil, 0, fmt.Errorf("archive: not open for reading")
	}
	// metadata varint is at most 9 bytes; read a small header window first.
	hdrBuf := make([]byte, varint.MaxLen)
	if len(hdrBuf) > 0 {
		n, err := a.rd.ReadAt(hdrBuf, p.offset)
		if err != nil && err != io.EOF {
			return nil, 0, fmt.Errorf("archive: short part header read: %w", err)
		}
		hdrBuf = hdrBuf[:n]
	}
	meta, consumed, err := varint.Read(hdrBuf)
	if err != nil {
		return nil, 0, fmt.Errorf("archive: corrupt part metadata: %w", err)
	}
	buf := make([]byte, p.size)
	if p.size > 0 {
		if _, err := a.rd.ReadAt(buf, p.offset+int64(consumed)); err != nil {
			return nil, 0, fmt.Errorf("archive: short part payload read: %w", err)
		}
	}
	return buf, meta, nil
}

// SetRawSize overrides the accumulated raw size recorded for a stream (used
// when appending pre-serialized data directly, bypassing AddPart).
func (a *Archive) SetRawSize(streamID int, rawSize int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.streams[streamID].rawSize = rawSize
}

// GetRawSize returns the accumulated raw (uncompressed payload) size for a
// stream.
func (a *Archive) GetRawSize(streamID int) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.streams[streamID].rawSize
}

// NumStreams returns the number of registered streams.
func (a *Archive) NumStreams() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.streams)
}

// NumParts returns the number of parts stored for streamID.
func (a *Archive) NumParts(streamID int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.streams[streamID].parts)
}

// StreamNames returns every stream name currently registered, in
// registration order.
func (a *Archive) StreamNames() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ensureNameMapLocked()
	names := make([]string, len(a.streams))
	for i, s := range a.streams {
		names[i] = s.name
	}
	return names
}

// Close flushes any buffered parts, writes the trailer (write mode) and
// releases the underlying file handles.
func (a *Archive) Close() error {
	if a.writable {
		if err := a.Flush(); err != nil {
			return err
		}
		if err := a.serialize(); err != nil {
			return err
		}
		if err := a.w.Flush(); err != nil {
			return fmt.Errorf("archive: flush: %w", err)
		}
		if err := a.f.Close(); err != nil {
			return fmt.Errorf("archive: close: %w", err)
		}
		return nil
	}
	if a.rdCloser != nil {
		return a.rdCloser.Close()
	}
	return nil
}

// serialize writes the trailer described in spec.md §6.
func (a *Archive) serialize() error {
	var buf []byte
	buf = varint.Append(buf, uint64(len(a.streams)))
	for _, s := range a.streams {
		buf = append(buf, []byte(s.name)...)
		buf = append(buf, 0)
		buf = varint.Append(buf, uint64(len(s.parts)))
		buf = varint.Append(buf, uint64(s.rawSize))
		for _, p := range s.parts {
			buf = varint.Append(buf, uint64(p.offset))
			buf = varint.Append(buf, uint64(p.size))
		}
	}
	if err := a.writeAt(buf); err != nil {
		return err
	}
	var trailerLen [8]byte
	binary.LittleEndian.PutUint64(trailerLen[:], uint64(len(buf)))
	return a.writeAt(trailerLen[:])
}

// deserialize reads the trailer from the tail of the archive.
func (a *Archive) deserialize(size int64) error {
	if size < 8 {
		return fmt.Errorf("archive: truncated trailer: file too small")
	}
	var lenBuf [8]byte
	if _, err := a.rd.ReadAt(lenBuf[:], size-8); err != nil {
		return fmt.Errorf("archive: truncated trailer: %w", err)
	}
	trailerLen := int64(binary.LittleEndian.Uint64(lenBuf[:]))
	if trailerLen <= 0 || trailerLen > size-8 {
		return fmt.Errorf("archive: truncated trailer: bad length %d", trailerLen)
	}
	buf := make([]byte, trailerLen)
	if _, err := a.rd.ReadAt(buf, size-8-trailerLen); err != nil {
		return fmt.Errorf("archive: truncated trailer: %w", err)
	}

	numStreams, n, err := varint.Read(buf)
	if err != nil {
		return fmt.Errorf("archive: truncated trailer: %w", err)
	}
	buf = buf[n:]

	a.streams = make([]*stream, 0, numStreams)
	for i := uint64(0); i < numStreams; i++ {
		nameEnd := strings.IndexByte(string(buf), 0)
		if nameEnd < 0 {
			return fmt.Errorf("archive: truncated trailer: unterminated stream name")
		}
		name := string(buf[:nameEnd])
		buf = buf[nameEnd+1:]

		numParts, n, err := varint.Read(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
		rawSize, n, err := varint.Read(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]

		s := &stream{name: name, rawSize: int64(rawSize)}
		s.parts = make([]part, 0, numParts)
		for j := uint64(0); j < numParts; j++ {
			off, n, err := varint.Read(buf)
			if err != nil {
				return err
			}
			buf = buf[n:]
			sz, n, err := varint.Read(buf)
			if err != nil {
				return err
			}
			buf = buf[n:]
			s.parts = append(s.parts, part{offset: int64(off), size: int64(sz)})
		}
		a.streams = append(a.streams, s)
	}

	if a.lazyPrefix == "" {
		a.lazyBuilt = true
		for i, s := range a.streams {
			a.byName[s.name] = i
		}
	} else {
		// Only the non-prefixed names are cheap to index eagerly; the
		// prefixed ones (typically the per-group reference/delta streams,
		// of which there can be hundreds of thousands) are deferred until
		// the first name lookup forces ensureNameMapLocked to build the
		// rest, per the lazy-name-prefix optimization.
		for i, s := range a.streams {
			if !strings.HasPrefix(s.name, a.lazyPrefix) {
				a.byName[s.name] = i
			}
		}
	}
	return nil
}
