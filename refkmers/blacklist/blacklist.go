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

// Package blacklist merges blacklisted regions and answers
// exclusion and overlap queries.
package blacklist

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/rdleal/intervalst/interval"
	"github.com/shenwei356/RefKmers/refkmers/bed"
)

// Region is a 0-based half-open region [start, end).
type Region [2]int

// Index stores merged blacklisted regions of each chromosome.
// It is read-only after creation and safe for concurrent use.
type Index struct {
	regions map[string][]Region

	// for overlap queries of arbitrary windows.
	// values are indexes of regions.
	trees map[string]*interval.SearchTree[int, int]
}

func cmpInt(x, y int) int {
	if x < y {
		return -1
	}
	if x > y {
		return 1
	}
	return 0
}

// New creates an Index from one or more interval lists.
// Intervals shorter than minSize are dropped before merging,
// and overlapping or adjacent intervals are merged.
func New(sources [][]bed.Interval, minSize int) (*Index, error) {
	m := make(map[string][]Region, 32)
	for _, ivs := range sources {
		for _, iv := range ivs {
			if iv.End <= iv.Start || iv.End-iv.Start < minSize {
				continue
			}
			m[iv.Chrom] = append(m[iv.Chrom], Region{iv.Start, iv.End})
		}
	}

	idx := &Index{
		regions: make(map[string][]Region, len(m)),
		trees:   make(map[string]*interval.SearchTree[int, int], len(m)),
	}
	for chrom, rs := range m {
		rs = Merge(rs)
		idx.regions[chrom] = rs

		tree := interval.NewSearchTree[int, int](cmpInt)
		for i, r := range rs {
			if err := tree.Insert(r[0], r[1], i); err != nil {
				return nil, errors.Wrapf(err, "indexing blacklist region %s:%d-%d", chrom, r[0], r[1])
			}
		}
		idx.trees[chrom] = tree
	}
	return idx, nil
}

// Merge sorts regions and merges these overlapping or touching.
func Merge(rs []Region) []Region {
	if len(rs) == 0 {
		return rs
	}
	sort.Slice(rs, func(i, j int) bool {
		if rs[i][0] == rs[j][0] {
			return rs[i][1] < rs[j][1]
		}
		return rs[i][0] < rs[j][0]
	})

	merged := make([]Region, 0, len(rs))
	cur := rs[0]
	for _, r := range rs[1:] {
		if r[0] <= cur[1] {
			if r[1] > cur[1] {
				cur[1] = r[1]
			}
		} else {
			merged = append(merged, cur)
			cur = r
		}
	}
	return append(merged, cur)
}

// Intervals returns merged regions of a chromosome.
func (idx *Index) Intervals(chrom string) []Region {
	if idx == nil {
		return nil
	}
	return idx.regions[chrom]
}

// NumRegions returns the number of merged regions of all chromosomes.
func (idx *Index) NumRegions() (n int) {
	if idx == nil {
		return 0
	}
	for _, rs := range idx.regions {
		n += len(rs)
	}
	return n
}

// MaskedBases returns the number of blacklisted bases of a chromosome.
func (idx *Index) MaskedBases(chrom string) (n int) {
	for _, r := range idx.Intervals(chrom) {
		n += r[1] - r[0]
	}
	return n
}

// IsExcluded tells whether a position is in a blacklisted region.
func (idx *Index) IsExcluded(chrom string, pos int) bool {
	rs := idx.Intervals(chrom)
	i := sort.Search(len(rs), func(i int) bool { return rs[i][1] > pos })
	return i < len(rs) && rs[i][0] <= pos
}

// OverlapFraction returns the fraction of [start, end) covered by blacklisted regions.
func (idx *Index) OverlapFraction(chrom string, start, end int) float64 {
	if idx == nil || end <= start {
		return 0
	}
	tree, ok := idx.trees[chrom]
	if !ok {
		return 0
	}
	hits, ok := tree.AllIntersections(start, end)
	if !ok {
		return 0
	}

	rs := idx.regions[chrom]
	var covered, s, e int
	for _, i := range hits {
		s, e = rs[i][0], rs[i][1]
		if s < start {
			s = start
		}
		if e > end {
			e = end
		}
		if e > s {
			covered += e - s
		}
	}
	return float64(covered) / float64(end-start)
}

// Cursor checks positions in non-decreasing order against the blacklist.
type Cursor struct {
	regions []Region
	i       int
}

// Cursor returns a Cursor of a chromosome starting at start.
func (idx *Index) Cursor(chrom string, start int) Cursor {
	rs := idx.Intervals(chrom)
	i := sort.Search(len(rs), func(i int) bool { return rs[i][1] > start })
	return Cursor{regions: rs, i: i}
}

// Excluded tells whether pos is blacklisted.
// pos must not be smaller than the previous one.
func (c *Cursor) Excluded(pos int) bool {
	for c.i < len(c.regions) && c.regions[c.i][1] <= pos {
		c.i++
	}
	return c.i < len(c.regions) && c.regions[c.i][0] <= pos
}
