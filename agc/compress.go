// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package agc

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/refresh-bio/agc-go/archive"
	"github.com/refresh-bio/agc-go/catalog"
	"github.com/refresh-bio/agc-go/dna"
	"github.com/refresh-bio/agc-go/engine"
)

// Record is one FASTA record queued for compression: the header line
// (without the leading '>') and its sequence, already translated to the
// internal nucleotide alphabet.
type Record struct {
	Header string
	Seq    []dna.Code
}

// Compressor builds a new archive, one sample at a time. The first sample
// added (in create mode) becomes the reference: its k-mers seed splitter
// discovery, per spec.md §4.5 Phase A.
type Compressor struct {
	ar   *archive.Archive
	cat  *catalog.Catalog
	eng  *engine.Engine
	opts Options
}

// Create starts a brand-new archive at path.
func Create(path string, opts Options) (*Compressor, error) {
	opts = opts.withDefaults()
	ar, err := archive.Create(path, archive.WithLogger(opts.Logger))
	if err != nil {
		return nil, fmt.Errorf("agc: creating archive: %w", err)
	}
	if err := writeFileTypeInfo(ar); err != nil {
		return nil, err
	}
	cat := catalog.New(ar, opts.PackCardinality, opts.SegmentSize, int(opts.K), catalog.WithLogger(opts.Logger))
	eng := engine.New(nil, ar, cat, opts.engineOptions())
	return &Compressor{ar: ar, cat: cat, eng: eng, opts: opts}, nil
}

// OpenAppend continues an existing archive at inPath, writing the result
// (every prior sample plus whatever is added next) to outPath. k/segment
// size/min-match-len/pack-cardinality are inherited from the input
// archive's params stream, matching §9's "append re-derives k from the
// source archive" design note.
func OpenAppend(inPath, outPath string, threads int, logger *zap.Logger) (*Compressor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	in, err := archive.OpenFile(inPath, archive.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("agc: opening %s for append: %w", inPath, err)
	}
	params, err := engine.LoadParams(in)
	if err != nil {
		in.Close()
		return nil, err
	}
	opts := optionsFromParams(params, threads, logger)

	out, err := archive.Create(outPath, archive.WithLogger(logger))
	if err != nil {
		in.Close()
		return nil, fmt.Errorf("agc: creating %s: %w", outPath, err)
	}
	if err := writeFileTypeInfo(out); err != nil {
		in.Close()
		return nil, err
	}

	oldCat, err := catalog.Open(in, opts.PackCardinality, opts.SegmentSize, int(opts.K), catalog.WithLogger(logger))
	if err != nil {
		in.Close()
		return nil, err
	}
	newCat := catalog.New(out, opts.PackCardinality, opts.SegmentSize, int(opts.K), catalog.WithLogger(logger))
	for _, name := range oldCat.GetSampleList() {
		sid := newCat.RegisterSample(name)
		records, err := oldCat.GetContigRecords(name)
		if err != nil {
			in.Close()
			return nil, fmt.Errorf("agc: copying sample %q forward: %w", name, err)
		}
		for _, rec := range records {
			cid, err := newCat.RegisterSampleContig(sid, rec.FullName)
			if err != nil {
				in.Close()
				return nil, fmt.Errorf("agc: copying sample %q forward: %w", name, err)
			}
			if err := newCat.AddSegmentsPlaced(sid, cid, rec.Segments); err != nil {
				in.Close()
				return nil, fmt.Errorf("agc: copying sample %q forward: %w", name, err)
			}
		}
		if err := newCat.Flush(); err != nil {
			in.Close()
			return nil, fmt.Errorf("agc: flushing copied-forward sample %q: %w", name, err)
		}
	}

	eng := engine.New(in, out, newCat, opts.engineOptions())
	if err := eng.LoadGroups(); err != nil {
		in.Close()
		return nil, fmt.Errorf("agc: reloading groups for append: %w", err)
	}
	// Every group's reference/delta blobs are pulled into memory by
	// AppendingInit as part of LoadGroups; the input archive is not
	// touched again past this point.
	if err := in.Close(); err != nil {
		return nil, err
	}

	return &Compressor{ar: out, cat: newCat, eng: eng, opts: opts}, nil
}

// AddSample registers a new sample and routes every one of its contigs
// into the segment store, via the engine's splitter-bounded segmentation
// (Phase B). The first sample added to a fresh archive also runs splitter
// discovery (Phase A) over it first, since it has none yet.
func (c *Compressor) AddSample(name string, records []Record) error {
	if len(records) == 0 {
		return fmt.Errorf("agc: sample %q has no contigs", name)
	}
	sampleIdx := c.cat.RegisterSample(name)

	names := make([]string, len(records))
	codes := make([][]dna.Code, len(records))
	for i, r := range records {
		names[i] = r.Header
		codes[i] = r.Seq
	}

	if sampleIdx == 0 {
		if err := c.eng.DiscoverSplitters(codes); err != nil {
			return fmt.Errorf("agc: discovering splitters over reference sample %q: %w", name, err)
		}
	}

	// ProcessSample itself reports-and-continues per invalid contig (empty
	// sequence, duplicate name) per spec.md §7's "Invalid input" policy;
	// a non-nil error here aggregates those skipped contigs without having
	// aborted the rest of the sample.
	err := c.eng.ProcessSample(sampleIdx, names, codes)
	if flushErr := c.cat.Flush(); flushErr != nil && err == nil {
		err = flushErr
	}
	return err
}

// Close flushes every pending group batch, writes the params/splitters
// well-known streams, finalizes the catalog's last batch, and closes the
// output archive. The archive is unusable for further appends once this
// returns.
func (c *Compressor) Close() error {
	if err := c.eng.Finish(); err != nil {
		return fmt.Errorf("agc: flushing pending groups: %w", err)
	}
	if err := c.eng.WriteParams(); err != nil {
		return err
	}
	if err := c.eng.WriteSplitters(); err != nil {
		return err
	}
	if err := c.cat.FlushFinal(); err != nil {
		return fmt.Errorf("agc: finalizing catalog: %w", err)
	}
	if err := c.ar.Flush(); err != nil {
		return err
	}
	return c.ar.Close()
}
