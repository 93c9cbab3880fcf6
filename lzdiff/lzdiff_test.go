// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package lzdiff

import (
	"bytes"
	"math/rand"
	"testing"

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

func TestRoundTripIdentity(t *testing.T) {
	ref := codes("ACGTACGTACGTACGTACGT")
	c := New(V2, 18)
	c.Prepare(ref)
	enc := c.Encode(ref)
	if len(enc) != 0 {
		t.Fatalf("expected empty delta for identical sequence, got %d bytes", len(enc))
	}
	dec, err := c.Decode(enc)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dec, ref) {
		t.Fatalf("decode mismatch")
	}
}

func TestRoundTripSingleSNP(t *testing.T) {
	ref := bytes.Repeat(codes("ACGT"), 20) // 80 nt
	text := append([]byte(nil), ref...)
	text[40] = byte(dna.T) // was A

	c := New(V2, 20)
	c.Prepare(ref)
	enc := c.Encode(text)
	dec, err := c.Decode(enc)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dec, text) {
		t.Fatalf("round trip mismatch for single SNP")
	}
	if len(enc) == 0 {
		t.Fatalf("expected a non-empty delta for a mutated sequence")
	}
}

func TestRoundTripNRun(t *testing.T) {
	ref := codes("ACGTACGTACGTACGTACGTACGTACGTACGT")
	text := append(append([]byte{}, codes("ACGT")...), bytes.Repeat([]byte{byte(dna.N)}, 1000)...)
	text = append(text, codes("ACGT")...)

	c := New(V2, 18)
	c.Prepare(ref)
	enc := c.Encode(text)

	nrunTokens := 0
	for i := 0; i < len(enc); i++ {
		if enc[i] == nRunStart {
			nrunTokens++
		}
	}
	if nrunTokens != 1 {
		t.Fatalf("expected exactly one N-run token, found %d", nrunTokens)
	}

	dec, err := c.Decode(enc)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dec, text) {
		t.Fatalf("N-run round trip mismatch")
	}
}

func TestRoundTripRandomProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	randomSeq := func(n int) []byte {
		out := make([]byte, n)
		for i := range out {
			out[i] = byte(rng.Intn(4))
		}
		return out
	}

	for trial := 0; trial < 50; trial++ {
		ref := randomSeq(500 + rng.Intn(500))
		text := append([]byte(nil), ref...)
		// Sprinkle mutations, an N-run, and an indel-like splice.
		for i := 0; i < 10; i++ {
			pos := rng.Intn(len(text))
			text[pos] = byte(rng.Intn(4))
		}
		if rng.Intn(2) == 0 {
			pos := rng.Intn(len(text) - 10)
			for i := 0; i < 6; i++ {
				text[pos+i] = byte(dna.N)
			}
		}

		c := New(V2, 18)
		c.Prepare(ref)
		enc := c.Encode(text)
		dec, err := c.Decode(enc)
		if err != nil {
			t.Fatalf("trial %d: decode error: %v", trial, err)
		}
		if !bytes.Equal(dec, text) {
			t.Fatalf("trial %d: round trip mismatch", trial)
		}
	}
}

func TestEstimateMatchesActualSize(t *testing.T) {
	ref := bytes.Repeat(codes("ACGT"), 50)
	text := append([]byte(nil), ref...)
	text[100] = byte(dna.T)

	c := New(V2, 20)
	c.Prepare(ref)
	enc := c.Encode(text)
	cost, ok := c.Estimate(text, 0)
	if !ok {
		t.Fatalf("unexpected abort")
	}
	if cost != len(enc) {
		t.Fatalf("estimate %d != actual encoded length %d", cost, len(enc))
	}
}

func TestEstimateAbortsEarly(t *testing.T) {
	ref := make([]byte, 1000)
	text := make([]byte, 1000)
	for i := range text {
		text[i] = byte((i * 7) % 4)
		ref[i] = byte((i*7 + 1) % 4) // ref[i] == text[i+3]: the first match only starts after 3 literals
	}
	c := New(V2, 20)
	c.Prepare(ref)
	_, ok := c.Estimate(text, 5)
	if ok {
		t.Fatalf("expected Estimate to abort given a tiny upper bound")
	}
}

func TestCodingCostVectorLength(t *testing.T) {
	ref := bytes.Repeat(codes("ACGT"), 30)
	text := append([]byte(nil), ref...)
	text[50] = byte(dna.T)

	c := New(V2, 18)
	c.Prepare(ref)
	costs := c.CodingCostVector(text, true)
	if len(costs) != len(text) {
		t.Fatalf("cost vector length %d != text length %d", len(costs), len(text))
	}
	sum := 0
	for _, v := range costs {
		sum += v
	}
	if sum == 0 {
		t.Fatalf("expected non-zero total coding cost for a mutated sequence")
	}
}

func TestDecodeRejectsOutOfRangeMatch(t *testing.T) {
	ref := codes("ACGTACGTACGTACGTACGT")
	c := New(V2, 18)
	c.Prepare(ref)
	bad := []byte("1000,5.")
	if _, err := c.Decode(bad); err == nil {
		t.Fatalf("expected an error decoding an out-of-range match")
	}
}
