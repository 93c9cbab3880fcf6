// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package dna implements the 16-symbol IUPAC nucleotide alphabet and the
// canonical k-mer arithmetic the rest of the archive format is built on.
package dna

import "fmt"

// Code is an internal nucleotide symbol in the range [0,15].
type Code uint8

// The sixteen IUPAC codes used internally. Only A, C, G and T participate
// in k-mer hashing; every other code resets a rolling k-mer.
const (
	A Code = iota
	C
	G
	T
	N
	R
	Y
	S
	W
	K
	M
	B
	D
	H
	V
	U
)

// NumCodes is the size of the internal alphabet.
const NumCodes = 16

var codeToLetter = [NumCodes]byte{
	'A', 'C', 'G', 'T', 'N', 'R', 'Y', 'S', 'W', 'K', 'M', 'B', 'D', 'H', 'V', 'U',
}

var letterToCode [256]Code

func init() {
	for i := range letterToCode {
		letterToCode[i] = N
	}
	for c, letter := range codeToLetter {
		letterToCode[letter] = Code(c)
		letterToCode[lower(letter)] = Code(c)
	}
}

func lower(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}

// FromLetter maps an ASCII FASTA letter to its internal code. Anything
// outside the IUPAC set is normalized to N, per the archive's Non-goals.
func FromLetter(b byte) Code {
	return letterToCode[b]
}

// ToLetter renders an internal code back to its canonical uppercase ASCII
// letter.
func (c Code) ToLetter() byte {
	if int(c) >= NumCodes {
		return 'N'
	}
	return codeToLetter[c]
}

// IsACGT reports whether c is one of the four bases that participate in
// k-mer hashing.
func (c Code) IsACGT() bool {
	return c <= T
}

// Complement returns the Watson-Crick complement of an ACGT code; codes
// outside ACGT (including N) complement to themselves since they are never
// used in hashing.
func Complement(c Code) Code {
	switch c {
	case A:
		return T
	case C:
		return G
	case G:
		return C
	case T:
		return A
	default:
		return c
	}
}

// EncodeString converts a FASTA byte slice into a newly allocated slice of
// internal codes.
func EncodeString(seq []byte) []Code {
	out := make([]Code, len(seq))
	for i, b := range seq {
		out[i] = FromLetter(b)
	}
	return out
}

// DecodeString renders internal codes back to uppercase ASCII.
func DecodeString(codes []Code) []byte {
	out := make([]byte, len(codes))
	for i, c := range codes {
		out[i] = c.ToLetter()
	}
	return out
}

// ReverseComplement returns the reverse complement of a code sequence.
func ReverseComplement(codes []Code) []Code {
	out := make([]Code, len(codes))
	n := len(codes)
	for i, c := range codes {
		out[n-1-i] = Complement(c)
	}
	return out
}

func (c Code) String() string {
	return fmt.Sprintf("%c", c.ToLetter())
}
