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

package kmer

import (
	"errors"
	"fmt"

	"github.com/shenwei356/RefKmers/refkmers/util"
)

// MaxFullK is the largest k for which the whole k-mer space is used as
// matrix columns. The canonical lookup table of k=13 takes 256 MiB.
const MaxFullK = 13

// ErrFullSpaceTooLarge means k > MaxFullK for a full column space.
var ErrFullSpaceTooLarge = fmt.Errorf("kmer: full column space is only supported for k <= %d", MaxFullK)

// ErrUnsortedKeys means the keys of observed columns are not sorted or have duplicates.
var ErrUnsortedKeys = errors.New("kmer: column keys should be sorted and unique")

// Columns maps k-mer codes to the columns of a count matrix.
// It is immutable after creation and safe for concurrent use.
//
// With the full column space, the columns are all 4^k k-mers in the
// order of their codes, or, for canonical k-mers, the distinct canonical
// codes sorted in ascending order. Otherwise the columns are a sorted set
// of observed keys.
type Columns struct {
	k         int
	canonical bool
	full      bool
	n         int

	toCol  []uint32 // raw code -> column, only for canonical full space
	values []uint64 // column -> key, nil for non-canonical full space
}

// NewColumns creates the full column space for k.
func NewColumns(k int, canonical bool) (*Columns, error) {
	if k < 1 || k > MaxK {
		return nil, ErrKOverflow
	}
	if k > MaxFullK {
		return nil, ErrFullSpaceTooLarge
	}

	c := &Columns{k: k, canonical: canonical, full: true}
	if !canonical {
		c.n = int(NumKmers(k))
		return c, nil
	}

	// Canonical(x) <= x, so scanning codes in ascending order visits the
	// canonical k-mers in sorted order, and the column of a non-canonical
	// code is already assigned when it is reached.
	n := NumKmers(k)
	c.toCol = make([]uint32, n)
	c.values = make([]uint64, 0, NumCanonical(k))
	var rc uint64
	for x := uint64(0); x < n; x++ {
		rc = RevComp(x, k)
		if x <= rc {
			c.toCol[x] = uint32(len(c.values))
			c.values = append(c.values, x)
		} else {
			c.toCol[x] = c.toCol[rc]
		}
	}
	c.n = len(c.values)
	return c, nil
}

// NewObservedColumns creates columns from sorted and unique keys,
// i.e., raw codes, or canonical codes if canonical is true.
func NewObservedColumns(k int, canonical bool, keys []uint64) (*Columns, error) {
	if k < 1 || k > MaxK {
		return nil, ErrKOverflow
	}
	for i := 1; i < len(keys); i++ {
		if keys[i] <= keys[i-1] {
			return nil, ErrUnsortedKeys
		}
	}
	return &Columns{
		k:         k,
		canonical: canonical,
		n:         len(keys),
		values:    keys,
	}, nil
}

// K returns the k-mer size.
func (c *Columns) K() int { return c.k }

// Canonical tells whether k-mers are collapsed with their reverse complements.
func (c *Columns) Canonical() bool { return c.canonical }

// Full tells whether all possible k-mers are columns.
func (c *Columns) Full() bool { return c.full }

// Len returns the number of columns.
func (c *Columns) Len() int { return c.n }

// Key returns the code used for identifying the column of a k-mer.
func (c *Columns) Key(code uint64) uint64 {
	if c.canonical {
		return Canonical(code, c.k)
	}
	return code
}

// Column returns the column of a k-mer code.
func (c *Columns) Column(code uint64) (int, bool) {
	if c.full {
		if c.canonical {
			return int(c.toCol[code]), true
		}
		return int(code), true
	}
	return c.ColumnOfKey(c.Key(code))
}

// ColumnOfKey returns the column of a key returned by Key().
func (c *Columns) ColumnOfKey(key uint64) (int, bool) {
	if c.full {
		if c.canonical {
			return int(c.toCol[key]), true
		}
		return int(key), true
	}
	i := util.SearchUint64s(c.values, key)
	return i, i >= 0
}

// Code returns the code of the k-mer of a column.
func (c *Columns) Code(col int) uint64 {
	if c.values == nil {
		return uint64(col)
	}
	return c.values[col]
}

// Motif returns the k-mer of a column.
func (c *Columns) Motif(col int) []byte {
	return Decode(c.Code(col), c.k)
}
