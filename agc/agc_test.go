// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package agc

import (
	"bytes"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/refresh-bio/agc-go/dna"
)

func randomSeq(n int, seed int64) []byte {
	r := rand.New(rand.NewSource(seed))
	letters := []byte("ACGT")
	out := make([]byte, n)
	for i := range out {
		out[i] = letters[r.Intn(4)]
	}
	return out
}

func testOptions() Options {
	return Options{K: 17, SegmentSize: 40, MinMatchLen: 18, PackCardinality: 4, Threads: 2}
}

// TestIdentity covers scenario S1: a single sample identical to the
// reference decodes back byte-for-byte.
func TestIdentity(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s1.agc")
	ref := randomSeq(600, 1)

	comp, err := Create(path, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	if err := comp.AddSample("reference", []Record{{Header: "chr1", Seq: dna.EncodeString(ref)}}); err != nil {
		t.Fatal(err)
	}
	if err := comp.Close(); err != nil {
		t.Fatal(err)
	}

	dec, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()

	got, err := dec.GetContigSequence("reference", "chr1", 0, len(ref)-1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, ref) {
		t.Fatalf("identity round trip mismatch: got %d bytes, want %d", len(got), len(ref))
	}
}

// TestSingleSNP covers scenario S2: a sample differing from the reference
// by one substitution still decodes to exactly the mutated sequence.
func TestSingleSNP(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s2.agc")
	ref := randomSeq(600, 2)
	mutant := append([]byte(nil), ref...)
	mutant[300] = complementLetter(mutant[300])

	comp, err := Create(path, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	if err := comp.AddSample("reference", []Record{{Header: "chr1", Seq: dna.EncodeString(ref)}}); err != nil {
		t.Fatal(err)
	}
	if err := comp.AddSample("sample_a", []Record{{Header: "chr1", Seq: dna.EncodeString(mutant)}}); err != nil {
		t.Fatal(err)
	}
	if err := comp.Close(); err != nil {
		t.Fatal(err)
	}

	dec, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()

	got, err := dec.GetContigSequence("sample_a", "chr1", 0, len(mutant)-1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, mutant) {
		t.Fatalf("SNP round trip mismatch")
	}
}

func complementLetter(b byte) byte {
	switch b {
	case 'A':
		return 'C'
	case 'C':
		return 'G'
	case 'G':
		return 'T'
	default:
		return 'A'
	}
}

// TestRangeClamp covers scenario S3: negative from and an out-of-range to
// are clamped rather than rejected.
func TestRangeClamp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s3.agc")
	ref := randomSeq(200, 3)

	comp, err := Create(path, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	if err := comp.AddSample("reference", []Record{{Header: "chr1", Seq: dna.EncodeString(ref)}}); err != nil {
		t.Fatal(err)
	}
	if err := comp.Close(); err != nil {
		t.Fatal(err)
	}

	dec, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()

	got, err := dec.GetContigSequence("reference", "chr1", -5, 100000)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, ref) {
		t.Fatalf("expected clamped range to return the full contig, got %d bytes want %d", len(got), len(ref))
	}
}

// TestAmbiguousQuery covers scenario S4: an empty sample argument is
// rejected only when the contig name is not globally unique.
func TestAmbiguousQuery(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s4.agc")
	ref := randomSeq(200, 4)

	comp, err := Create(path, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	if err := comp.AddSample("reference", []Record{{Header: "chr1", Seq: dna.EncodeString(ref)}}); err != nil {
		t.Fatal(err)
	}
	if err := comp.AddSample("sample_a", []Record{{Header: "chr1", Seq: dna.EncodeString(ref)}, {Header: "unique_contig", Seq: dna.EncodeString(ref)}}); err != nil {
		t.Fatal(err)
	}
	if err := comp.Close(); err != nil {
		t.Fatal(err)
	}

	dec, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()

	if _, err := dec.GetContigLength("", "chr1"); err == nil {
		t.Fatalf("expected an ambiguous-query error for chr1 (present in 2 samples)")
	}
	if _, err := dec.GetContigLength("", "unique_contig"); err != nil {
		t.Fatalf("expected a globally-unique contig to resolve without a sample name: %v", err)
	}
}

// TestAppend covers scenario S6: appending a new sample to an existing
// archive leaves prior samples' content unchanged and makes the new
// sample's content available.
func TestAppend(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "base.agc")
	appendedPath := filepath.Join(dir, "appended.agc")
	ref := randomSeq(600, 5)
	other := randomSeq(600, 6)

	comp, err := Create(basePath, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	if err := comp.AddSample("reference", []Record{{Header: "chr1", Seq: dna.EncodeString(ref)}}); err != nil {
		t.Fatal(err)
	}
	if err := comp.Close(); err != nil {
		t.Fatal(err)
	}

	comp2, err := OpenAppend(basePath, appendedPath, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := comp2.AddSample("sample_a", []Record{{Header: "chr1", Seq: dna.EncodeString(other)}}); err != nil {
		t.Fatal(err)
	}
	if err := comp2.Close(); err != nil {
		t.Fatal(err)
	}

	dec, err := Open(appendedPath, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()

	samples := dec.ListSamples()
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples after append, got %d: %v", len(samples), samples)
	}

	gotRef, err := dec.GetContigSequence("reference", "chr1", 0, len(ref)-1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(gotRef, ref) {
		t.Fatalf("reference sample content changed across append")
	}

	gotOther, err := dec.GetContigSequence("sample_a", "chr1", 0, len(other)-1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(gotOther, other) {
		t.Fatalf("appended sample content mismatch")
	}
}
