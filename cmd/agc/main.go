// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Command agc implements spec.md §6's CLI surface over the agc facade:
// create, append, getset, getctg, listset, listctg and info.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"

	"cloudeng.io/cmdutil"
	"cloudeng.io/cmdutil/subcmd"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/file/s3file"
)

// CommonFlags are shared by every subcommand that touches an archive.
type CommonFlags struct {
	Threads int  `subcmd:"threads,4,'worker pool size for segmentation/decoding'"`
	Verbose bool `subcmd:"verbose,false,verbose debug/trace logging"`
}

type createFlags struct {
	CommonFlags
	K                   int    `subcmd:"k,17,'splitter k-mer length'"`
	SegmentSize         int    `subcmd:"s,60000,'target segment size in bases'"`
	MinMatchLen         int    `subcmd:"l,18,'minimum LZ-diff match length'"`
	PackCardinality     int    `subcmd:"b,32,'samples per catalog batch'"`
	ConcatenatedGenomes bool   `subcmd:"c,false,'treat the whole multi-FASTA input as one pseudo-sample'"`
	OutputFile          string `subcmd:"o,,'output archive path'"`
}

type appendFlags struct {
	CommonFlags
	OutputFile string `subcmd:"o,,'output archive path, defaults to overwriting the input'"`
}

type getsetFlags struct {
	CommonFlags
	LineLen int    `subcmd:"l,70,'FASTA output line width'"`
	Output  string `subcmd:"o,,'output file, omit for stdout'"`
}

type getctgFlags struct {
	CommonFlags
	LineLen  int    `subcmd:"l,70,'FASTA output line width'"`
	Progress bool   `subcmd:"p,false,'display a progress bar'"`
	Output   string `subcmd:"o,,'output file, omit for stdout'"`
}

type listFlags struct {
	Output string `subcmd:"o,,'output file, omit for stdout'"`
}

var cmdSet *subcmd.CommandSet

func init() {
	defaults := map[string]interface{}{
		"threads": runtime.GOMAXPROCS(-1),
	}

	createCmd := subcmd.NewCommand("create",
		subcmd.MustRegisterFlagStruct(&createFlags{}, defaults, nil),
		runCreate, subcmd.AtLeastNArguments(1))
	createCmd.Document(`build a new archive from a reference FASTA and zero or more additional sample FASTAs.`)

	appendCmd := subcmd.NewCommand("append",
		subcmd.MustRegisterFlagStruct(&appendFlags{}, defaults, nil),
		runAppend, subcmd.AtLeastNArguments(2))
	appendCmd.Document(`append one or more sample FASTAs to an existing archive.`)

	getsetCmd := subcmd.NewCommand("getset",
		subcmd.MustRegisterFlagStruct(&getsetFlags{}, defaults, nil),
		runGetSet, subcmd.AtLeastNArguments(2))
	getsetCmd.Document(`decode every contig of one or more whole samples to FASTA.`)

	getctgCmd := subcmd.NewCommand("getctg",
		subcmd.MustRegisterFlagStruct(&getctgFlags{}, defaults, nil),
		runGetCtg, subcmd.AtLeastNArguments(2))
	getctgCmd.Document(`decode one or more contig queries (name[@sample][:from-to]) to FASTA.`)

	listsetCmd := subcmd.NewCommand("listset",
		subcmd.MustRegisterFlagStruct(&listFlags{}, nil, nil),
		runListSet, subcmd.ExactlyNumArguments(1))
	listsetCmd.Document(`list every sample in an archive.`)

	listctgCmd := subcmd.NewCommand("listctg",
		subcmd.MustRegisterFlagStruct(&listFlags{}, nil, nil),
		runListCtg, subcmd.AtLeastNArguments(2))
	listctgCmd.Document(`list every contig of one or more samples.`)

	infoCmd := subcmd.NewCommand("info",
		subcmd.MustRegisterFlagStruct(&listFlags{}, nil, nil),
		runInfo, subcmd.ExactlyNumArguments(1))
	infoCmd.Document(`report archive-level metadata.`)

	cmdSet = subcmd.NewCommandSet(createCmd, appendCmd, getsetCmd, getctgCmd, listsetCmd, listctgCmd, infoCmd)
	cmdSet.Document(`create, append to, and query pan-genome archives.`)

	file.RegisterImplementation("s3", func() file.Implementation {
		return s3file.NewImplementation(
			s3file.NewDefaultProvider(session.Options{}), s3file.Options{})
	})
}

func main() {
	cmdSet.MustDispatch(context.Background())
}

// openFileOrURL opens a local, S3 (s3://...) or http(s):// path for
// reading, mirroring the teacher CLI's own helper of the same name.
func openFileOrURL(ctx context.Context, name string) (io.Reader, func(context.Context) error, error) {
	if strings.HasPrefix(name, "http") {
		resp, err := http.Get(name)
		if err != nil {
			return nil, nil, err
		}
		return resp.Body, func(context.Context) error { return resp.Body.Close() }, nil
	}
	f, err := file.Open(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	return f.Reader(ctx), f.Close, nil
}

// createFile opens name for writing, falling back to stdout when name is
// empty.
func createFile(ctx context.Context, name string) (io.Writer, func(context.Context) error, error) {
	if len(name) == 0 {
		return os.Stdout, func(context.Context) error { return nil }, nil
	}
	f, err := file.Create(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	return f.Writer(ctx), f.Close, nil
}

func handleSignals(cancel context.CancelFunc) {
	cmdutil.HandleSignals(cancel, os.Interrupt)
}

// query is one parsed getctg argument: name[@sample][:from-to].
type query struct {
	Name   string
	Sample string
	From   int
	To     int
	Ranged bool
}

func parseQuery(s string) (query, error) {
	q := query{From: 0, To: -1}
	rest := s
	if i := strings.IndexByte(rest, ':'); i >= 0 {
		rangePart := rest[i+1:]
		rest = rest[:i]
		dash := strings.IndexByte(rangePart, '-')
		if dash < 0 {
			return query{}, fmt.Errorf("malformed range in query %q", s)
		}
		from, err := strconv.Atoi(rangePart[:dash])
		if err != nil {
			return query{}, fmt.Errorf("malformed range in query %q: %w", s, err)
		}
		to, err := strconv.Atoi(rangePart[dash+1:])
		if err != nil {
			return query{}, fmt.Errorf("malformed range in query %q: %w", s, err)
		}
		q.From, q.To, q.Ranged = from, to, true
	}
	if i := strings.IndexByte(rest, '@'); i >= 0 {
		q.Name, q.Sample = rest[:i], rest[i+1:]
	} else {
		q.Name = rest
	}
	return q, nil
}
