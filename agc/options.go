// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package agc is the top-level facade wiring the archive container (C1),
// collection catalog (C2), LZ-diff codec (C3), segment store (C4) and the
// segmentation/assignment engine (C5) into spec.md §6's stable library
// API: open/close, list_samples, list_contigs, get_contig_length and
// get_contig_sequence, plus a Compressor half for create/append.
package agc

import (
	"go.uber.org/zap"

	"github.com/refresh-bio/agc-go/engine"
)

// Producer/version strings recorded in the file_type_info stream.
const (
	producerName  = "agc-go"
	formatVersion = "AGCv3"
)

// Options configures a Compressor. The zero value is filled in with the
// same defaults agc_compressor.h's CParams uses.
type Options struct {
	K                   uint32
	SegmentSize         int
	MinMatchLen         int
	PackCardinality     int
	Threads             int
	Adaptive            bool
	ConcatenatedGenomes bool

	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.K == 0 {
		o.K = 17
	}
	if o.SegmentSize <= 0 {
		o.SegmentSize = 60000
	}
	if o.MinMatchLen <= 0 {
		o.MinMatchLen = 18
	}
	if o.PackCardinality <= 0 {
		o.PackCardinality = 32
	}
	if o.Threads <= 0 {
		o.Threads = 1
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

func (o Options) engineOptions() engine.Options {
	return engine.Options{
		K:                   o.K,
		SegmentSize:         o.SegmentSize,
		MinMatchLen:         o.MinMatchLen,
		PackCardinality:     o.PackCardinality,
		Threads:             o.Threads,
		Adaptive:            o.Adaptive,
		ConcatenatedGenomes: o.ConcatenatedGenomes,
		Logger:              o.Logger,
	}
}

func optionsFromParams(p engine.Options, threads int, logger *zap.Logger) Options {
	return Options{
		K:               p.K,
		SegmentSize:     p.SegmentSize,
		MinMatchLen:     p.MinMatchLen,
		PackCardinality: p.PackCardinality,
		Threads:         threads,
		Logger:          logger,
	}.withDefaults()
}
