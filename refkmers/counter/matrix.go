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
	"github.com/shenwei356/RefKmers/refkmers/kmer"
	"github.com/shenwei356/RefKmers/refkmers/util"
	"github.com/twotwotwo/sorts/sortutil"
)

// Matrix is a count matrix of one k, with windows as rows and
// k-mers as columns.
//
// Counts are saved in a row-major dense slice, or, as sorted
// (column, count) pairs of each row.
type Matrix struct {
	k    int
	rows int
	cols *kmer.Columns

	isDense bool
	dense   []uint64 // row-major, for dense storage

	// for sparse storage. Before finish(), keys are k-mer keys
	// returned by Columns.Key(), and then columns.
	entries []entries
}

type entries struct {
	keys   []uint64
	counts []uint64
}

func newMatrix(k, rows int, cols *kmer.Columns, dense bool) *Matrix {
	m := &Matrix{k: k, rows: rows, cols: cols, isDense: dense}
	if dense {
		m.dense = make([]uint64, rows*cols.Len())
	} else {
		m.entries = make([]entries, rows)
	}
	return m
}

// K returns the k-mer size.
func (m *Matrix) K() int { return m.k }

// Columns returns the column mapping.
func (m *Matrix) Columns() *kmer.Columns { return m.cols }

// Dims returns the numbers of rows and columns.
func (m *Matrix) Dims() (int, int) { return m.rows, m.cols.Len() }

// IsDense tells whether counts are saved in a dense slice.
func (m *Matrix) IsDense() bool { return m.isDense }

// DenseRow returns counts of a row, if the storage is dense.
func (m *Matrix) DenseRow(row int) ([]uint64, bool) {
	if !m.IsDense() {
		return nil, false
	}
	n := m.cols.Len()
	return m.dense[row*n : (row+1)*n], true
}

// NonZeros calls fn for each nonzero count of a row, in column order.
func (m *Matrix) NonZeros(row int, fn func(col int, count uint64)) {
	if m.IsDense() {
		s, _ := m.DenseRow(row)
		for col, c := range s {
			if c > 0 {
				fn(col, c)
			}
		}
		return
	}
	e := &m.entries[row]
	for i, col := range e.keys {
		fn(int(col), e.counts[i])
	}
}

// At returns the count of a cell.
func (m *Matrix) At(row, col int) uint64 {
	if m.IsDense() {
		return m.dense[row*m.cols.Len()+col]
	}
	e := &m.entries[row]
	i := util.SearchUint64s(e.keys, uint64(col))
	if i < 0 {
		return 0
	}
	return e.counts[i]
}

// NNZ returns the number of nonzero counts.
func (m *Matrix) NNZ() (n int) {
	if m.IsDense() {
		for _, c := range m.dense {
			if c > 0 {
				n++
			}
		}
		return n
	}
	for i := range m.entries {
		n += len(m.entries[i].keys)
	}
	return n
}

// Sum returns the sum of all counts.
func (m *Matrix) Sum() (s uint64) {
	if m.IsDense() {
		for _, c := range m.dense {
			s += c
		}
		return s
	}
	for i := range m.entries {
		for _, c := range m.entries[i].counts {
			s += c
		}
	}
	return s
}

// RowSum returns the sum of counts of a row.
func (m *Matrix) RowSum(row int) (s uint64) {
	m.NonZeros(row, func(_ int, c uint64) { s += c })
	return s
}

// setRow saves counts of a row from a map of k-mer keys.
// Only the worker owning the row calls it.
func (m *Matrix) setRow(row int, counts map[uint64]uint64) {
	if len(counts) == 0 {
		return
	}
	e := &m.entries[row]
	e.keys = make([]uint64, 0, len(counts))
	for key := range counts {
		e.keys = append(e.keys, key)
	}
	sortutil.Uint64s(e.keys)
	e.counts = make([]uint64, len(e.keys))
	for i, key := range e.keys {
		e.counts[i] = counts[key]
	}
}

// finish converts k-mer keys of sparse storage into columns.
// For observed columns, the columns are created from keys of all rows.
func (m *Matrix) finish() error {
	if m.IsDense() {
		return nil
	}

	if !m.cols.Full() {
		var n int
		for i := range m.entries {
			n += len(m.entries[i].keys)
		}
		keys := make([]uint64, 0, n)
		for i := range m.entries {
			keys = append(keys, m.entries[i].keys...)
		}
		util.UniqUint64s(&keys)

		cols, err := kmer.NewObservedColumns(m.k, m.cols.Canonical(), keys)
		if err != nil {
			return err
		}
		m.cols = cols
	}

	// column order is the same as the key order,
	// so entries are still sorted.
	var col int
	for i := range m.entries {
		e := &m.entries[i]
		for j, key := range e.keys {
			col, _ = m.cols.ColumnOfKey(key)
			e.keys[j] = uint64(col)
		}
	}
	return nil
}
