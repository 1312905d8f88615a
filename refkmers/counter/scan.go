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

package counter

import (
	"github.com/shenwei356/RefKmers/refkmers/blacklist"
	"github.com/shenwei356/RefKmers/refkmers/kmer"
	"github.com/shenwei356/RefKmers/refkmers/window"
)

// Stats records what happened to k-mer positions.
// Positions = Ambiguous + Blacklisted + Counted.
type Stats struct {
	Positions   uint64 // k-mer start positions in windows
	Ambiguous   uint64 // k-mers with ambiguous bases
	Blacklisted uint64 // k-mers overlapping blacklisted regions
	Counted     uint64
}

// Add adds another Stats.
func (s *Stats) Add(o Stats) {
	s.Positions += o.Positions
	s.Ambiguous += o.Ambiguous
	s.Blacklisted += o.Blacklisted
	s.Counted += o.Counted
}

// sink receives k-mers of one window for one k.
type sink struct {
	cols    *kmer.Columns
	isDense bool
	row     []uint64          // a row view of a dense matrix
	counts  map[uint64]uint64 // k-mer key -> count
}

func (s *sink) add(code uint64) {
	if s.isDense {
		col, _ := s.cols.Column(code)
		s.row[col]++
		return
	}
	s.counts[s.cols.Key(code)]++
}

// scanner counts k-mers of all k values in one pass of a window.
// A scanner belongs to one worker, and its state is reset for every window.
type scanner struct {
	ks    []int
	masks []uint64
	mask  uint64 // mask of the largest k

	acc       uint64 // the last bases, 2 bits for each
	lastAmb   int    // the last ambiguous position
	lastBlack int    // the last blacklisted position
}

func newScanner(ks []int) *scanner {
	sc := &scanner{ks: ks, masks: make([]uint64, len(ks))}
	var maxK int
	for i, k := range ks {
		sc.masks[i] = kmer.Mask(k)
		if k > maxK {
			maxK = k
		}
	}
	sc.mask = kmer.Mask(maxK)
	return sc
}

// scan counts k-mers starting in [w.Start, w.End-k], where s holds bases of w.
func (sc *scanner) scan(w window.Window, s []byte, bl *blacklist.Index, sinks []sink, stats []Stats) {
	sc.acc = 0
	sc.lastAmb = w.Start - 1
	sc.lastBlack = w.Start - 1

	cur := bl.Cursor(w.Chrom, w.Start)
	var pos, p, j, k int
	var code uint8
	var st *Stats
	for i, b := range s {
		pos = w.Start + i

		if cur.Excluded(pos) {
			sc.lastBlack = pos
			sc.acc = 0
		} else if code = kmer.BaseCode(b); code == kmer.Ambiguous {
			sc.lastAmb = pos
			sc.acc = 0
		} else {
			sc.acc = (sc.acc<<2 | uint64(code)) & sc.mask
		}

		// k-mers ending at pos
		for j, k = range sc.ks {
			p = pos - k + 1
			if p < w.Start {
				continue
			}
			st = &stats[j]
			st.Positions++
			if sc.lastBlack >= p {
				st.Blacklisted++
			} else if sc.lastAmb >= p {
				st.Ambiguous++
			} else {
				st.Counted++
				sinks[j].add(sc.acc & sc.masks[j])
			}
		}
	}
}
