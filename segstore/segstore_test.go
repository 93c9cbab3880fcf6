// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package segstore

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/refresh-bio/agc-go/archive"
	"github.com/refresh-bio/agc-go/dna"
)

func codes(s string) []byte {
	out := dna.EncodeString([]byte(s))
	raw := make([]byte, len(out))
	for i, c := range out {
		raw[i] = byte(c)
	}
	return raw
}

func TestAddAndGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "g.agc")

	ar, err := archive.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	g := New("x0", nil, ar, 4, 18)

	ref := bytes.Repeat(codes("ACGTACGTACGT"), 10)
	mutant := append([]byte(nil), ref...)
	mutant[50] = byte(dna.T)

	id0, err := g.Add(ref, false)
	if err != nil {
		t.Fatal(err)
	}
	if id0 != 0 {
		t.Fatalf("expected reference id 0, got %d", id0)
	}
	id1, err := g.Add(mutant, false)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != 1 {
		t.Fatalf("expected second id 1, got %d", id1)
	}
	if err := g.Finish(false); err != nil {
		t.Fatal(err)
	}
	if err := ar.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := archive.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	rg := New("x0", r, nil, 4, 18)
	got0, err := rg.Get(0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got0, ref) {
		t.Fatalf("reference round trip mismatch")
	}
	got1, err := rg.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got1, mutant) {
		t.Fatalf("delta round trip mismatch")
	}
}

func TestDedupReturnsExistingID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dedup.agc")
	ar, err := archive.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	g := New("x1", nil, ar, 8, 18)

	ref := bytes.Repeat(codes("ACGTACGT"), 10)
	same := append([]byte(nil), ref...)

	if _, err := g.Add(ref, false); err != nil {
		t.Fatal(err)
	}
	id1, err := g.Add(same, false)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := g.Add(same, false)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Fatalf("expected identical deltas to dedup to the same id: %d != %d", id1, id2)
	}
}

func TestRawGroupRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "raw.agc")
	ar, err := archive.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	g := New("x2", nil, ar, 2, 18)

	a := codes("ACGTNNNNACGT")
	b := codes("TTTTGGGGCCCC")
	c := codes("AAAACCCCGGGGTTTT")

	if _, err := g.AddRaw(a, false); err != nil {
		t.Fatal(err)
	}
	if _, err := g.AddRaw(b, false); err != nil {
		t.Fatal(err)
	}
	if _, err := g.AddRaw(c, false); err != nil {
		t.Fatal(err)
	}
	if err := g.Finish(false); err != nil {
		t.Fatal(err)
	}
	if err := ar.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := archive.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	rg := New("x2", r, nil, 2, 18)
	for i, want := range [][]byte{a, b, c} {
		got, err := rg.GetRaw(uint32(i))
		if err != nil {
			t.Fatalf("contig %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("contig %d round trip mismatch", i)
		}
	}
}

func TestAppendingInitContinuesGroup(t *testing.T) {
	dir := t.TempDir()
	path1 := filepath.Join(dir, "first.agc")
	path2 := filepath.Join(dir, "second.agc")

	ar1, err := archive.Create(path1)
	if err != nil {
		t.Fatal(err)
	}
	g1 := New("x3", nil, ar1, 4, 18)
	ref := bytes.Repeat(codes("ACGTACGTACGT"), 8)
	if _, err := g1.Add(ref, false); err != nil {
		t.Fatal(err)
	}
	if err := g1.Finish(false); err != nil {
		t.Fatal(err)
	}
	if err := ar1.Close(); err != nil {
		t.Fatal(err)
	}

	in, err := archive.OpenFile(path1)
	if err != nil {
		t.Fatal(err)
	}
	defer in.Close()
	out, err := archive.Create(path2)
	if err != nil {
		t.Fatal(err)
	}

	g2 := New("x3", in, out, 4, 18)
	if err := g2.AppendingInit(); err != nil {
		t.Fatal(err)
	}
	if g2.NumSeqs() != 1 {
		t.Fatalf("expected 1 sequence carried over, got %d", g2.NumSeqs())
	}

	mutant := append([]byte(nil), ref...)
	mutant[10] = byte(dna.G)
	id, err := g2.Add(mutant, false)
	if err != nil {
		t.Fatal(err)
	}
	if id != 1 {
		t.Fatalf("expected appended id 1, got %d", id)
	}
	if err := g2.Finish(false); err != nil {
		t.Fatal(err)
	}
	if err := out.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := archive.OpenFile(path2)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	rg := New("x3", r, nil, 4, 18)
	got0, err := rg.Get(0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got0, ref) {
		t.Fatalf("carried-over reference mismatch")
	}
	got1, err := rg.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got1, mutant) {
		t.Fatalf("appended delta mismatch")
	}
}
