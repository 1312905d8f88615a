// Copyright © 2024-2025 Wei Shen <shenwei356@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package kmer provides 2-bit encoding of k-mers (A=0, C=1, G=2, T=3),
// reverse complement and canonical forms, and the mapping of k-mers to
// columns of a count matrix.
package kmer

import (
	"errors"

	"github.com/shenwei356/kmers"
)

// MaxK is the largest supported k-mer size.
const MaxK = 27

// ErrKOverflow means K < 1 or K > MaxK.
var ErrKOverflow = errors.New("kmer: k-mer size [1, 27] overflow")

// Ambiguous is the code of bases other than A, C, G and T.
const Ambiguous uint8 = 4

var base2bit = func() (t [256]uint8) {
	for i := range t {
		t[i] = Ambiguous
	}
	t['A'], t['a'] = 0, 0
	t['C'], t['c'] = 1, 1
	t['G'], t['g'] = 2, 2
	t['T'], t['t'] = 3, 3
	return t
}()

var bit2base = [4]byte{'A', 'C', 'G', 'T'}

// BaseCode returns the 2-bit code of a base, or Ambiguous.
func BaseCode(b byte) uint8 {
	return base2bit[b]
}

// Encode converts a k-mer to its code.
// ok is false if the k-mer is empty, longer than MaxK,
// or contains any base other than A/C/G/T.
func Encode(s []byte) (code uint64, ok bool) {
	if len(s) == 0 || len(s) > MaxK {
		return 0, false
	}
	var v uint8
	for _, b := range s {
		v = base2bit[b]
		if v == Ambiguous {
			return 0, false
		}
		code = code<<2 | uint64(v)
	}
	return code, true
}

// RevComp returns the code of the reverse complement sequence.
func RevComp(code uint64, k int) (c uint64) {
	code = ^code
	for i := 0; i < k; i++ {
		c = c<<2 | code&3
		code >>= 2
	}
	return c
}

// Canonical returns the smaller one of a k-mer and its reverse complement.
func Canonical(code uint64, k int) uint64 {
	rc := RevComp(code, k)
	if rc < code {
		return rc
	}
	return code
}

// Decode returns the k-mer of a code.
func Decode(code uint64, k int) []byte {
	return kmers.MustDecode(code, k)
}

// MustDecoder returns a Decode function, which reuses the byte slice.
func MustDecoder() func(code uint64, k int) []byte {
	buf := make([]byte, MaxK)

	return func(code uint64, k int) []byte {
		kmer := buf[:k]
		for i := 0; i < k; i++ {
			kmer[k-1-i] = bit2base[code&3]
			code >>= 2
		}
		return kmer
	}
}

// NumKmers returns 4^k.
func NumKmers(k int) uint64 {
	return 1 << (uint(k) << 1)
}

// NumCanonical returns the number of canonical k-mers.
// For even k, the 4^(k/2) reverse-complement palindromes map to themselves.
func NumCanonical(k int) uint64 {
	if k&1 == 1 {
		return NumKmers(k) >> 1
	}
	return (NumKmers(k) + 1<<uint(k)) >> 1
}

// Mask returns the bit mask of a k-mer code.
func Mask(k int) uint64 {
	return NumKmers(k) - 1
}
