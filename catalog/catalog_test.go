// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package catalog

import (
	"path/filepath"
	"testing"

	"github.com/refresh-bio/agc-go/archive"
)

func TestShortName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"chr1", "chr1"},
		{"chr1 Homo sapiens chromosome 1", "chr1"},
		{"chr1\tdescription", "chr1"},
		{"", ""},
	}
	for _, c := range cases {
		if got := ShortName(c.in); got != c.want {
			t.Errorf("ShortName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestEncodeDecodeNameDelta(t *testing.T) {
	cases := []struct {
		name       string
		fields     []string
		prevFields []string
	}{
		{"no previous", []string{"chr1", "description", "here"}, nil},
		{"all identical", []string{"chr2", "same", "fields"}, []string{"chr2", "same", "fields"}},
		{"shared prefix", []string{"chromosome_2", "x"}, []string{"chromosome_1", "y"}},
		{"shorter than previous", []string{"chr3"}, []string{"chr3", "extra", "fields"}},
		{"longer than previous", []string{"chr4", "new", "field"}, []string{"chr4"}},
		{"empty fields", []string{"", "a"}, []string{"", "b"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			enc := encodeNameDelta(c.fields, c.prevFields)
			got, err := decodeNameDelta(enc, c.prevFields)
			if err != nil {
				t.Fatalf("decodeNameDelta: %v", err)
			}
			if len(got) != len(c.fields) {
				t.Fatalf("field count mismatch: got %d want %d", len(got), len(c.fields))
			}
			for i := range c.fields {
				if got[i] != c.fields[i] {
					t.Errorf("field %d: got %q want %q", i, got[i], c.fields[i])
				}
			}
		})
	}
}

func TestCommonPrefixLen(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"chromosome_1", "chromosome_2", 11},
		{"abc", "abc", 3},
		{"abc", "xyz", 0},
		{"", "abc", 0},
		{"abc", "", 0},
	}
	for _, c := range cases {
		if got := commonPrefixLen(c.a, c.b); got != c.want {
			t.Errorf("commonPrefixLen(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestEncodeDecodeInGroupDelta(t *testing.T) {
	cases := []struct {
		name        string
		value       uint32
		predecessor uint32
		seen        bool
	}{
		{"first in group, value zero", 0, 0, false},
		{"first in group, nonzero value", 7, 0, false},
		{"second member, zero value", 0, 5, true},
		{"second member, consecutive", 6, 5, true},
		{"second member, forward jump", 42, 5, true},
		{"second member, backward jump", 1, 40, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			code := encodeInGroupDelta(c.value, c.predecessor, c.seen)
			got := decodeInGroupDelta(code, c.predecessor, c.seen)
			if got != c.value {
				t.Errorf("round trip: got %d want %d (code %d)", got, c.value, code)
			}
		})
	}
}

func TestInGroupDeltaConsecutiveRunIsEscapeCode(t *testing.T) {
	// The run-predictor escape (code 1) is the whole point of the delta:
	// consecutive in-group ids, the overwhelmingly common case when a
	// sample's segments are appended to a group in order, must each encode
	// as that fixed escape code rather than as a zigzag difference.
	code := encodeInGroupDelta(6, 5, true)
	if code != 1 {
		t.Fatalf("expected consecutive successor to encode as escape code 1, got %d", code)
	}
}

func TestSampleNamesRoundTrip(t *testing.T) {
	names := []string{"reference", "sample_a", "sample_b"}
	enc, err := encodeSampleNames(names)
	if err != nil {
		t.Fatal(err)
	}
	got, err := decodeSampleNames(enc)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(names) {
		t.Fatalf("expected %d names, got %d", len(names), len(got))
	}
	for i := range names {
		if got[i] != names[i] {
			t.Errorf("name %d: got %q want %q", i, got[i], names[i])
		}
	}
}

func TestContigNamesBatchRoundTrip(t *testing.T) {
	samples := [][]string{
		{"chr1 description one", "chr2 description two"},
		{"chr1 description one", "chr3 unrelated header"},
	}
	enc, err := encodeContigNamesBatch(samples)
	if err != nil {
		t.Fatal(err)
	}
	got, err := decodeContigNamesBatch(enc, len(samples))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(samples) {
		t.Fatalf("expected %d samples, got %d", len(samples), len(got))
	}
	for s := range samples {
		if len(got[s]) != len(samples[s]) {
			t.Fatalf("sample %d: expected %d contigs, got %d", s, len(samples[s]), len(got[s]))
		}
		for i := range samples[s] {
			if got[s][i] != samples[s][i] {
				t.Errorf("sample %d contig %d: got %q want %q", s, i, got[s][i], samples[s][i])
			}
		}
	}
}

func TestSegmentDetailsBatchRoundTrip(t *testing.T) {
	samples := [][][]Placement{
		{
			{{GroupID: 0, InGroupID: 0, RawLength: 40}, {GroupID: 1, InGroupID: 0, RawLength: 40}},
			{{GroupID: 0, InGroupID: 1, RawLength: 38, IsRevComp: true}},
		},
		{
			{{GroupID: 1, InGroupID: 1, RawLength: 41}, {GroupID: 2, InGroupID: 0, RawLength: 5}},
		},
	}
	enc, err := encodeSegmentDetailsBatch(samples, 40, 17)
	if err != nil {
		t.Fatal(err)
	}
	contigCounts := []int{len(samples[0]), len(samples[1])}
	got, err := decodeSegmentDetailsBatch(enc, contigCounts, 40, 17)
	if err != nil {
		t.Fatal(err)
	}
	for s := range samples {
		for ci := range samples[s] {
			want := samples[s][ci]
			have := got[s][ci]
			if len(have) != len(want) {
				t.Fatalf("sample %d contig %d: expected %d segments, got %d", s, ci, len(want), len(have))
			}
			for i := range want {
				if have[i] != want[i] {
					t.Errorf("sample %d contig %d segment %d: got %+v want %+v", s, ci, i, have[i], want[i])
				}
			}
		}
	}
}

func newTestArchive(t *testing.T) (*archive.Archive, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.agc")
	ar, err := archive.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	return ar, path
}

func TestCatalogRegisterAndDuplicateContig(t *testing.T) {
	ar, _ := newTestArchive(t)
	defer ar.Close()

	cat := New(ar, 4, 40, 17)
	sample := cat.RegisterSample("reference")
	if _, err := cat.RegisterSampleContig(sample, "chr1 description"); err != nil {
		t.Fatal(err)
	}
	if _, err := cat.RegisterSampleContig(sample, "chr1 a different description"); err != ErrDuplicateContig {
		t.Fatalf("expected ErrDuplicateContig, got %v", err)
	}
}

func TestCatalogWriteReadRoundTrip(t *testing.T) {
	ar, path := newTestArchive(t)

	cat := New(ar, 4, 40, 17)
	samples := []string{"reference", "sample_a", "sample_b"}
	contigNames := map[string][]string{
		"reference": {"chr1 first chromosome", "chr2 second chromosome"},
		"sample_a":  {"chr1 first chromosome"},
		"sample_b":  {"chr1 first chromosome", "chr2 second chromosome"},
	}
	placements := []Placement{
		{GroupID: 0, InGroupID: 0, RawLength: 40},
		{GroupID: 1, InGroupID: 0, RawLength: 38, IsRevComp: true},
	}

	for _, name := range samples {
		sid := cat.RegisterSample(name)
		for _, full := range contigNames[name] {
			cid, err := cat.RegisterSampleContig(sid, full)
			if err != nil {
				t.Fatal(err)
			}
			if err := cat.AddSegmentsPlaced(sid, cid, placements); err != nil {
				t.Fatal(err)
			}
		}
		if err := cat.Flush(); err != nil {
			t.Fatal(err)
		}
	}
	if err := cat.FlushFinal(); err != nil {
		t.Fatal(err)
	}
	if err := ar.Close(); err != nil {
		t.Fatal(err)
	}

	ar2, err := archive.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer ar2.Close()

	cat2, err := Open(ar2, 4, 40, 17)
	if err != nil {
		t.Fatal(err)
	}
	if got := cat2.GetSampleList(); len(got) != len(samples) {
		t.Fatalf("expected %d samples, got %d", len(samples), len(got))
	}
	if ref, ok := cat2.GetReferenceName(); !ok || ref != "reference" {
		t.Fatalf("expected reference name %q, got %q (ok=%v)", "reference", ref, ok)
	}

	for _, name := range samples {
		contigs, err := cat2.GetContigList(name)
		if err != nil {
			t.Fatal(err)
		}
		if len(contigs) != len(contigNames[name]) {
			t.Fatalf("sample %q: expected %d contigs, got %d", name, len(contigNames[name]), len(contigs))
		}
		for _, short := range contigs {
			desc, err := cat2.GetContigDesc(name, short)
			if err != nil {
				t.Fatal(err)
			}
			if len(desc) != len(placements) {
				t.Fatalf("sample %q contig %q: expected %d placements, got %d", name, short, len(placements), len(desc))
			}
			for i := range placements {
				if desc[i] != placements[i] {
					t.Errorf("sample %q contig %q segment %d: got %+v want %+v", name, short, i, desc[i], placements[i])
				}
			}
		}
	}

	owners, err := cat2.GetSamplesForContig("chr2")
	if err != nil {
		t.Fatal(err)
	}
	if len(owners) != 2 {
		t.Fatalf("expected chr2 to be owned by 2 samples, got %d: %v", len(owners), owners)
	}
}

func TestGetContigRecordsPreservesFullHeaders(t *testing.T) {
	ar, _ := newTestArchive(t)
	defer ar.Close()

	cat := New(ar, 4, 40, 17)
	sid := cat.RegisterSample("reference")
	cid, err := cat.RegisterSampleContig(sid, "chr1 full description text")
	if err != nil {
		t.Fatal(err)
	}
	placements := []Placement{{GroupID: 3, InGroupID: 2, RawLength: 12}}
	if err := cat.AddSegmentsPlaced(sid, cid, placements); err != nil {
		t.Fatal(err)
	}

	records, err := cat.GetContigRecords("reference")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].FullName != "chr1 full description text" {
		t.Errorf("expected full header preserved, got %q", records[0].FullName)
	}
	if len(records[0].Segments) != 1 || records[0].Segments[0] != placements[0] {
		t.Errorf("expected segments preserved, got %+v", records[0].Segments)
	}
}
