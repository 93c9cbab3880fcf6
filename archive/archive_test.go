// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package archive

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestRoundTripBasic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.agc")

	a, err := Create(path)
	if err != nil {
		t.Fatal(err)
	}
	s1 := a.RegisterStream("stream-one")
	s2 := a.RegisterStream("stream-two")
	if s1 == s2 {
		t.Fatalf("distinct streams got the same id")
	}
	if again := a.RegisterStream("stream-one"); again != s1 {
		t.Fatalf("RegisterStream not idempotent: got %d want %d", again, s1)
	}

	if err := a.AddPart(s1, []byte("hello"), 42); err != nil {
		t.Fatal(err)
	}
	if err := a.AddPartBuffered(s2, []byte("buffered-1"), 1); err != nil {
		t.Fatal(err)
	}
	if err := a.AddPartBuffered(s2, []byte("buffered-2"), 2); err != nil {
		t.Fatal(err)
	}
	if err := a.Flush(); err != nil {
		t.Fatal(err)
	}
	if err := a.AddPart(s1, []byte("world"), 7); err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	id1, ok := r.GetStreamID("stream-one")
	if !ok {
		t.Fatalf("stream-one not found")
	}
	data, meta, err := r.GetPart(id1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, []byte("hello")) || meta != 42 {
		t.Fatalf("got %q/%d want hello/42", data, meta)
	}
	data, meta, err = r.GetPart(id1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, []byte("world")) || meta != 7 {
		t.Fatalf("got %q/%d want world/7", data, meta)
	}

	id2, ok := r.GetStreamID("stream-two")
	if !ok {
		t.Fatalf("stream-two not found")
	}
	if r.NumParts(id2) != 2 {
		t.Fatalf("expected 2 buffered parts, got %d", r.NumParts(id2))
	}
	data, _, err = r.GetPart(id2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, []byte("buffered-1")) {
		t.Fatalf("buffered flush out of order: got %q", data)
	}

	if _, ok := r.GetStreamID("does-not-exist"); ok {
		t.Fatalf("unknown stream should report absent")
	}
}

func TestConcurrentWriters(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "concurrent.agc")
	a, err := Create(path)
	if err != nil {
		t.Fatal(err)
	}
	id := a.RegisterStream("s")

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := a.AddPartBuffered(id, []byte{byte(i)}, uint64(i)); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	sid, _ := r.GetStreamID("s")
	if got := r.NumParts(sid); got != 32 {
		t.Fatalf("expected 32 parts, got %d", got)
	}
}

func TestTruncatedTrailerIsFatal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.agc")
	if err := os.WriteFile(path, []byte("short"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenFile(path); err == nil {
		t.Fatalf("expected truncated trailer to be a fatal open error")
	}
}

func TestUnknownStreamNameAbsent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.agc")
	a, err := Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	r, err := OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if _, ok := r.GetStreamID("nope"); ok {
		t.Fatalf("expected absent")
	}
}

func TestLazyNamePrefix(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lazy.agc")
	a, err := Create(path)
	if err != nil {
		t.Fatal(err)
	}
	a.RegisterStream(StreamParams)
	for i := 0; i < 5; i++ {
		a.RegisterStream("xGROUP" + string(rune('a'+i)) + "r")
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := OpenFile(path, WithLazyNamePrefix("x"))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if _, ok := r.GetStreamID(StreamParams); !ok {
		t.Fatalf("non-prefixed stream should resolve under a lazy name prefix")
	}
	if _, ok := r.GetStreamID("xGROUPcr"); !ok {
		t.Fatalf("lazy-prefixed stream should still resolve on first lookup")
	}
}
