// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package entropy is the black-box entropy coder collaborator spec.md §1
// delegates to: compress(level, src) -> bytes and decompress(src,
// expected_size) -> bytes, backed by zstd. Every caller in this repository
// goes through this package rather than importing klauspost/compress/zstd
// directly, so the backend can be swapped without touching C1-C5.
package entropy

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Compress encodes src at the given zstd level. level follows zstd's
// SpeedFastest(1)..SpeedBestCompression(22) convention; callers pass the
// concrete levels spec.md names (13 for tuple-packed references, 19 for
// plain references, 17 for delta packs, 19 for metadata batches).
func Compress(level int, src []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(levelOf(level)))
	if err != nil {
		return nil, fmt.Errorf("entropy: new encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(src, make([]byte, 0, len(src))), nil
}

// Decompress reverses Compress. expectedSize is a hint used to preallocate
// the output buffer; it is not validated against the decoded length.
func Decompress(src []byte, expectedSize int) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("entropy: new decoder: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(src, make([]byte, 0, expectedSize))
	if err != nil {
		return nil, fmt.Errorf("entropy: decode: %w", err)
	}
	return out, nil
}

func levelOf(level int) zstd.EncoderLevel {
	switch {
	case level <= 3:
		return zstd.SpeedFastest
	case level <= 9:
		return zstd.SpeedDefault
	case level <= 15:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}
