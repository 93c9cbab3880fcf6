// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package fasta

import (
	"bytes"
	"strings"
	"testing"
)

func TestReadMultiRecord(t *testing.T) {
	input := ">chr1 description one\n" +
		"ACGTACGT\n" +
		"ACGT\n" +
		">chr2\n" +
		"TTTTGGGG\n"
	records, err := Read(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Header != "chr1 description one" {
		t.Errorf("unexpected header: %q", records[0].Header)
	}
	if string(records[0].Seq) != "ACGTACGTACGT" {
		t.Errorf("unexpected sequence: %q", records[0].Seq)
	}
	if records[1].Header != "chr2" || string(records[1].Seq) != "TTTTGGGG" {
		t.Errorf("unexpected second record: %+v", records[1])
	}
}

func TestReadRejectsSequenceBeforeHeader(t *testing.T) {
	if _, err := Read(strings.NewReader("ACGT\n")); err == nil {
		t.Fatalf("expected an error for sequence data with no header")
	}
}

func TestWriteWrapsAtLineWidth(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, "chr1", []byte("ACGTACGTAC"), 4); err != nil {
		t.Fatal(err)
	}
	want := ">chr1\nACGT\nACGT\nAC\n"
	if buf.String() != want {
		t.Fatalf("got %q want %q", buf.String(), want)
	}
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	seq := []byte("ACGTTGCAACGTTGCAACGT")
	if err := Write(&buf, "roundtrip", seq, 6); err != nil {
		t.Fatal(err)
	}
	records, err := Read(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || string(records[0].Seq) != string(seq) {
		t.Fatalf("round trip mismatch: %+v", records)
	}
}
