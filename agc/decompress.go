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

// Decompressor implements spec.md §6's stable library API over a closed
// archive: open, close, list_samples, list_contigs, get_contig_length and
// get_contig_sequence.
type Decompressor struct {
	ar  *archive.Archive
	cat *catalog.Catalog
	eng *engine.Engine
	log *zap.Logger
	k   int
}

// Open loads an archive read-only: params, the full sample list (lazily,
// per sample, for contigs) and a handle for every group, whose reference
// and delta parts are read on first use.
func Open(path string, logger *zap.Logger) (*Decompressor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ar, err := archive.OpenFile(path, archive.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("agc: opening %s: %w", path, err)
	}
	params, err := engine.LoadParams(ar)
	if err != nil {
		ar.Close()
		return nil, err
	}
	params.Logger = logger

	cat, err := catalog.Open(ar, params.PackCardinality, params.SegmentSize, int(params.K), catalog.WithLogger(logger))
	if err != nil {
		ar.Close()
		return nil, err
	}

	eng := engine.New(ar, nil, cat, params)
	if err := eng.LoadGroups(); err != nil {
		ar.Close()
		return nil, fmt.Errorf("agc: loading groups: %w", err)
	}

	return &Decompressor{ar: ar, cat: cat, eng: eng, log: logger, k: int(params.K)}, nil
}

// Close releases the underlying archive file.
func (d *Decompressor) Close() error {
	return d.ar.Close()
}

// ListSamples returns every sample name, registration order (the first is
// the reference sample).
func (d *Decompressor) ListSamples() []string {
	return d.cat.GetSampleList()
}

// ListContigs returns the short contig names belonging to sample.
func (d *Decompressor) ListContigs(sample string) ([]string, error) {
	return d.cat.GetContigList(sample)
}

// resolveSample implements spec.md §6's "an empty sample argument is
// allowed only when the contig name is globally unique" rule, and §7's
// "ambiguous query: fatal for that query only" policy.
func (d *Decompressor) resolveSample(sample, contig string) (string, error) {
	if sample != "" {
		return sample, nil
	}
	owners, err := d.cat.GetSamplesForContig(contig)
	if err != nil {
		return "", err
	}
	switch len(owners) {
	case 0:
		return "", fmt.Errorf("agc: contig %q not found in any sample", contig)
	case 1:
		return owners[0], nil
	default:
		return "", fmt.Errorf("agc: contig %q is ambiguous: present in samples %v, specify one with name@sample", contig, owners)
	}
}

// assembleContig decodes every segment of (sample, contig) in order and
// concatenates them into one internal-alphabet code sequence. Adjacent
// segments share the k bases of their common splitter, so every segment
// after the first contributes only what follows those k bases.
func (d *Decompressor) assembleContig(sample, contig string) ([]dna.Code, error) {
	placements, err := d.cat.GetContigDesc(sample, contig)
	if err != nil {
		return nil, err
	}
	var out []dna.Code
	for i, p := range placements {
		g, ok := d.eng.GroupByID(p.GroupID)
		if !ok {
			return nil, fmt.Errorf("agc: contig %q@%q segment %d: unknown group %d", contig, sample, i, p.GroupID)
		}
		raw, err := g.Get(p.InGroupID)
		if err != nil {
			return nil, fmt.Errorf("agc: contig %q@%q segment %d: %w", contig, sample, i, err)
		}
		codes := make([]dna.Code, len(raw))
		for j, b := range raw {
			codes[j] = dna.Code(b)
		}
		if p.IsRevComp {
			codes = dna.ReverseComplement(codes)
		}
		if i > 0 {
			if len(codes) < d.k {
				return nil, fmt.Errorf("agc: contig %q@%q segment %d: shorter than k", contig, sample, i)
			}
			codes = codes[d.k:]
		}
		out = append(out, codes...)
	}
	return out, nil
}

// GetContigLength returns the full decoded length of (sample, contig). An
// empty sample is resolved per resolveSample.
func (d *Decompressor) GetContigLength(sample, contig string) (int, error) {
	sample, err := d.resolveSample(sample, contig)
	if err != nil {
		return 0, err
	}
	codes, err := d.assembleContig(sample, contig)
	if err != nil {
		return 0, err
	}
	return len(codes), nil
}

// GetContigSequence returns the ASCII sequence of (sample, contig) over
// [from, to] inclusive, clamped to the contig's bounds per spec.md §7:
// an out-of-range from/to is clamped to [0, len-1] rather than rejected.
func (d *Decompressor) GetContigSequence(sample, contig string, from, to int) ([]byte, error) {
	sample, err := d.resolveSample(sample, contig)
	if err != nil {
		return nil, err
	}
	codes, err := d.assembleContig(sample, contig)
	if err != nil {
		return nil, err
	}
	n := len(codes)
	if n == 0 {
		return nil, nil
	}

	clampedFrom, clampedTo := from, to
	if clampedFrom < 0 {
		clampedFrom = 0
	}
	if clampedTo < 0 || clampedTo >= n {
		clampedTo = n - 1
	}
	if clampedFrom >= n {
		clampedFrom = n - 1
	}
	if clampedFrom != from || clampedTo != to {
		d.log.Warn("contig range clamped",
			zap.String("contig", contig), zap.String("sample", sample),
			zap.Int("requested_from", from), zap.Int("requested_to", to),
			zap.Int("from", clampedFrom), zap.Int("to", clampedTo))
	}
	if clampedFrom > clampedTo {
		return nil, nil
	}
	return dna.DecodeString(codes[clampedFrom : clampedTo+1]), nil
}

// Info reports the archive's producer/version metadata and headline
// counters, for the `info` CLI subcommand.
type Info struct {
	FileTypeInfo
	NumSamples int
	NumGroups  int
}

// Info gathers archive-level metadata without decoding any sequence.
func (d *Decompressor) Info() (Info, error) {
	ft, err := readFileTypeInfo(d.ar)
	if err != nil {
		return Info{}, err
	}
	return Info{
		FileTypeInfo: ft,
		NumSamples:   len(d.cat.GetSampleList()),
		NumGroups:    d.eng.NumGroups(),
	}, nil
}
