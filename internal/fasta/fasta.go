// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package fasta provides a minimal line-oriented FASTA reader/writer for
// the cmd/agc CLI, which loads samples and writes contigs through it. See
// DESIGN.md for why this stays on bufio/bytes rather than a third-party
// parser.
package fasta

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
)

// Record is one FASTA entry: the header line with the leading '>'
// stripped, and its (possibly multi-line) sequence concatenated.
type Record struct {
	Header string
	Seq    []byte
}

// Read parses every record out of r. Sequence lines are concatenated
// verbatim; no alphabet validation happens here, that is dna.FromLetter's
// job once a record is handed to the engine.
func Read(r io.Reader) ([]Record, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	var records []Record
	var cur *Record
	var seq bytes.Buffer

	flush := func() {
		if cur == nil {
			return
		}
		cur.Seq = append([]byte(nil), seq.Bytes()...)
		records = append(records, *cur)
		seq.Reset()
	}

	for {
		line, err := br.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if len(line) > 0 {
			if line[0] == '>' {
				flush()
				cur = &Record{Header: line[1:]}
			} else if cur != nil {
				seq.WriteString(line)
			} else {
				return nil, fmt.Errorf("fasta: sequence data before any header")
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
	}
	flush()
	return records, nil
}

// Write renders one record, wrapping the sequence at lineWidth columns
// (70, matching most FASTA producers, if lineWidth <= 0).
func Write(w io.Writer, header string, seq []byte, lineWidth int) error {
	if lineWidth <= 0 {
		lineWidth = 70
	}
	if _, err := fmt.Fprintf(w, ">%s\n", header); err != nil {
		return err
	}
	for i := 0; i < len(seq); i += lineWidth {
		end := i + lineWidth
		if end > len(seq) {
			end = len(seq)
		}
		if _, err := w.Write(seq[i:end]); err != nil {
			return err
		}
		if _, err := w.Write([]byte{'\n'}); err != nil {
			return err
		}
	}
	if len(seq) == 0 {
		if _, err := w.Write([]byte{'\n'}); err != nil {
			return err
		}
	}
	return nil
}
