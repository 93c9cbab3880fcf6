// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package varint implements the archive container's variable-length
// integer encoding: a leading byte giving the number of following bytes
// (0-8), then that many little-endian bytes. This is distinct from the
// standard library's encoding/binary.*Varint (which is base-128), because
// the on-disk format this repo reads and writes fixes the byte-count
// encoding, inherited from the archive this package's callers were ported
// from.
package varint

import (
	"fmt"
	"io"
)

// MaxLen is the largest number of bytes Append/Read will ever produce or
// consume for the length prefix plus payload (1 + 8).
const MaxLen = 9

// Append encodes x and appends it to buf, returning the extended slice.
func Append(buf []byte, x uint64) []byte {
	var tmp [8]byte
	n := 0
	for v := x; v != 0; v >>= 8 {
		tmp[n] = byte(v)
		n++
	}
	buf = append(buf, byte(n))
	return append(buf, tmp[:n]...)
}

// Read decodes a varint starting at buf[0], returning the value and the
// number of bytes consumed.
func Read(buf []byte) (x uint64, n int, err error) {
	if len(buf) < 1 {
		return 0, 0, io.ErrUnexpectedEOF
	}
	nb := int(buf[0])
	if nb > 8 {
		return 0, 0, fmt.Errorf("varint: invalid byte count %d", nb)
	}
	if len(buf) < 1+nb {
		return 0, 0, io.ErrUnexpectedEOF
	}
	for i := 0; i < nb; i++ {
		x |= uint64(buf[1+i]) << (8 * uint(i))
	}
	return x, 1 + nb, nil
}

// ReadFrom reads one varint from r.
func ReadFrom(r io.Reader) (uint64, error) {
	var nbBuf [1]byte
	if _, err := io.ReadFull(r, nbBuf[:]); err != nil {
		return 0, err
	}
	nb := int(nbBuf[0])
	if nb > 8 {
		return 0, fmt.Errorf("varint: invalid byte count %d", nb)
	}
	var buf [8]byte
	if nb > 0 {
		if _, err := io.ReadFull(r, buf[:nb]); err != nil {
			return 0, err
		}
	}
	var x uint64
	for i := 0; i < nb; i++ {
		x |= uint64(buf[i]) << (8 * uint(i))
	}
	return x, nil
}

// WriteTo writes x to w in the varint encoding.
func WriteTo(w io.Writer, x uint64) error {
	buf := Append(nil, x)
	_, err := w.Write(buf)
	return err
}

// String encodes s as a length-prefixed (varint) byte string, matching the
// archive trailer's zero-terminated-vs-length-prefixed mix: stream names
// are zero-terminated, but every other string field in this codebase is
// varint-length-prefixed.
func String(buf []byte, s string) []byte {
	buf = Append(buf, uint64(len(s)))
	return append(buf, s...)
}

// ReadString is the inverse of String.
func ReadString(buf []byte) (string, int, error) {
	n, consumed, err := Read(buf)
	if err != nil {
		return "", 0, err
	}
	if uint64(len(buf)-consumed) < n {
		return "", 0, io.ErrUnexpectedEOF
	}
	return string(buf[consumed : consumed+int(n)]), consumed + int(n), nil
}

// ZigZag encodes a signed integer into an unsigned one so small magnitudes
// (positive or negative) stay small, as used by the catalog's delta
// encodings (§4.2).
func ZigZag(x int64) uint64 {
	return uint64((x << 1) ^ (x >> 63))
}

// UnZigZag reverses ZigZag.
func UnZigZag(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1)
}
