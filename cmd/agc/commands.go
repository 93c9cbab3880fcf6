// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"

	"cloudeng.io/errors"
	"github.com/schollz/progressbar/v2"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh/terminal"

	"github.com/refresh-bio/agc-go/agc"
	"github.com/refresh-bio/agc-go/dna"
	"github.com/refresh-bio/agc-go/internal/fasta"
)

func newLogger(verbose bool) *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func loadRecords(ctx context.Context, path string) ([]agc.Record, error) {
	rd, cleanup, err := openFileOrURL(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer cleanup(ctx)

	entries, err := fasta.Read(rd)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	records := make([]agc.Record, len(entries))
	for i, e := range entries {
		records[i] = agc.Record{Header: e.Header, Seq: dna.EncodeString(e.Seq)}
	}
	return records, nil
}

// sampleNameFromPath derives a sample name from a FASTA path the way
// agc-compress does: the base file name with its extension stripped.
func sampleNameFromPath(path string) string {
	base := path
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			base = path[i+1:]
			break
		}
	}
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] == '.' {
			return base[:i]
		}
	}
	return base
}

func runCreate(ctx context.Context, values interface{}, args []string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	fl := values.(*createFlags)
	handleSignals(cancel)

	opts := agc.Options{
		K:                   uint32(fl.K),
		SegmentSize:         fl.SegmentSize,
		MinMatchLen:         fl.MinMatchLen,
		PackCardinality:     fl.PackCardinality,
		Threads:             fl.Threads,
		ConcatenatedGenomes: fl.ConcatenatedGenomes,
		Logger:              newLogger(fl.Verbose),
	}
	comp, err := agc.Create(fl.OutputFile, opts)
	if err != nil {
		return err
	}

	errs := &errors.M{}
	for _, path := range args {
		records, err := loadRecords(ctx, path)
		if err != nil {
			errs.Append(err)
			continue
		}
		if err := comp.AddSample(sampleNameFromPath(path), records); err != nil {
			errs.Append(fmt.Errorf("sample %s: %w", path, err))
		}
	}
	errs.Append(comp.Close())
	return errs.Err()
}

func runAppend(ctx context.Context, values interface{}, args []string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	fl := values.(*appendFlags)
	handleSignals(cancel)

	inPath := args[0]
	outPath := fl.OutputFile
	tmpPath := ""
	if outPath == "" {
		// The input is still read while the output is written, so the
		// result goes to a temporary file that replaces the input on success.
		tmpPath = inPath + ".tmp"
		outPath = tmpPath
	}
	comp, err := agc.OpenAppend(inPath, outPath, fl.Threads, newLogger(fl.Verbose))
	if err != nil {
		return err
	}

	errs := &errors.M{}
	for _, path := range args[1:] {
		records, err := loadRecords(ctx, path)
		if err != nil {
			errs.Append(err)
			continue
		}
		if err := comp.AddSample(sampleNameFromPath(path), records); err != nil {
			errs.Append(fmt.Errorf("sample %s: %w", path, err))
		}
	}
	errs.Append(comp.Close())
	if tmpPath != "" && errs.Err() == nil {
		errs.Append(os.Rename(tmpPath, inPath))
	}
	return errs.Err()
}

func runGetSet(ctx context.Context, values interface{}, args []string) error {
	fl := values.(*getsetFlags)
	dec, err := agc.Open(args[0], newLogger(fl.Verbose))
	if err != nil {
		return err
	}
	defer dec.Close()

	wr, cleanup, err := createFile(ctx, fl.Output)
	if err != nil {
		return err
	}
	defer cleanup(ctx)

	errs := &errors.M{}
	for _, sample := range args[1:] {
		contigs, err := dec.ListContigs(sample)
		if err != nil {
			errs.Append(fmt.Errorf("sample %s: %w", sample, err))
			continue
		}
		for _, contig := range contigs {
			seq, err := dec.GetContigSequence(sample, contig, 0, -1)
			if err != nil {
				errs.Append(fmt.Errorf("sample %s contig %s: %w", sample, contig, err))
				continue
			}
			if err := fasta.Write(wr, contig, seq, fl.LineLen); err != nil {
				errs.Append(err)
			}
		}
	}
	return errs.Err()
}

func runGetCtg(ctx context.Context, values interface{}, args []string) error {
	fl := values.(*getctgFlags)
	dec, err := agc.Open(args[0], newLogger(fl.Verbose))
	if err != nil {
		return err
	}
	defer dec.Close()

	wr, cleanup, err := createFile(ctx, fl.Output)
	if err != nil {
		return err
	}
	defer cleanup(ctx)

	var bar *progressbar.ProgressBar
	if fl.Progress && terminal.IsTerminal(int(os.Stderr.Fd())) {
		bar = progressbar.NewOptions(len(args)-1,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetPredictTime(true))
		bar.RenderBlank()
	}

	errs := &errors.M{}
	for _, arg := range args[1:] {
		q, err := parseQuery(arg)
		if err != nil {
			errs.Append(err)
			continue
		}
		to := q.To
		if !q.Ranged {
			to = -1
		}
		seq, err := dec.GetContigSequence(q.Sample, q.Name, q.From, to)
		if err != nil {
			errs.Append(fmt.Errorf("query %s: %w", arg, err))
			continue
		}
		if err := fasta.Write(wr, arg, seq, fl.LineLen); err != nil {
			errs.Append(err)
		}
		if bar != nil {
			bar.Add(1)
		}
	}
	return errs.Err()
}

func runListSet(ctx context.Context, values interface{}, args []string) error {
	fl := values.(*listFlags)
	dec, err := agc.Open(args[0], nil)
	if err != nil {
		return err
	}
	defer dec.Close()

	wr, cleanup, err := createFile(ctx, fl.Output)
	if err != nil {
		return err
	}
	defer cleanup(ctx)

	for _, s := range dec.ListSamples() {
		fmt.Fprintln(wr, s)
	}
	return nil
}

func runListCtg(ctx context.Context, values interface{}, args []string) error {
	fl := values.(*listFlags)
	dec, err := agc.Open(args[0], nil)
	if err != nil {
		return err
	}
	defer dec.Close()

	wr, cleanup, err := createFile(ctx, fl.Output)
	if err != nil {
		return err
	}
	defer cleanup(ctx)

	errs := &errors.M{}
	for _, sample := range args[1:] {
		contigs, err := dec.ListContigs(sample)
		if err != nil {
			errs.Append(fmt.Errorf("sample %s: %w", sample, err))
			continue
		}
		for _, c := range contigs {
			fmt.Fprintf(wr, "%s\t%s\n", sample, c)
		}
	}
	return errs.Err()
}

func runInfo(ctx context.Context, values interface{}, args []string) error {
	fl := values.(*listFlags)
	dec, err := agc.Open(args[0], nil)
	if err != nil {
		return err
	}
	defer dec.Close()

	wr, cleanup, err := createFile(ctx, fl.Output)
	if err != nil {
		return err
	}
	defer cleanup(ctx)

	info, err := dec.Info()
	if err != nil {
		return err
	}
	fmt.Fprintf(wr, "producer:\t%s\n", info.Producer)
	fmt.Fprintf(wr, "format:\t%s\n", info.Format)
	fmt.Fprintf(wr, "samples:\t%d\n", info.NumSamples)
	fmt.Fprintf(wr, "groups:\t%d\n", info.NumGroups)
	return nil
}
