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

// Package window plans the genomic windows whose k-mers are counted.
//
// Every window gets a row id, which is dense (0..N-1) and assigned
// before counting. Windows are grouped by chromosome, and a group is
// the unit of work of one counting worker.
package window

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/shenwei356/RefKmers/refkmers/bed"
)

// ErrInvalidSize means the window size is not positive.
var ErrInvalidSize = errors.New("window: window size should be positive")

// ErrOutOfRange means a window is outside of its chromosome.
var ErrOutOfRange = errors.New("window: interval out of chromosome range")

// ErrEmptyInterval means a window interval has end <= start.
var ErrEmptyInterval = errors.New("window: interval with end <= start")

// Mode is the way windows are created.
type Mode int

const (
	// ModeSize tiles chromosomes into windows of a fixed size.
	ModeSize Mode = iota + 1
	// ModeBED uses intervals from a BED file.
	ModeBED
	// ModeChrom uses every chromosome as a window.
	ModeChrom
)

func (m Mode) String() string {
	switch m {
	case ModeSize:
		return "fixed-size"
	case ModeBED:
		return "bed"
	case ModeChrom:
		return "whole-chromosome"
	}
	return "unknown"
}

// Chrom is a selected chromosome and its length.
type Chrom struct {
	Name string
	Len  int
}

// Window is a half-open region [Start, End) of a chromosome,
// whose counts are saved in the row Row of count matrices.
type Window struct {
	Row   int
	Chrom string
	Start int
	End   int
}

// Len returns the length of the window.
func (w Window) Len() int { return w.End - w.Start }

func (w Window) String() string {
	return fmt.Sprintf("%s:%d-%d", w.Chrom, w.Start, w.End)
}

// Group contains all windows of a chromosome.
type Group struct {
	Chrom   string
	Len     int
	Windows []Window
}

// Plan is the result of window planning.
type Plan struct {
	Mode    Mode
	Windows []Window // in the order of row ids
	Groups  []Group  // in the order of chromosome selection
}

// NumRows returns the number of windows.
func (p *Plan) NumRows() int { return len(p.Windows) }

// BySize tiles [0, length) of each chromosome into consecutive windows of size.
// The last window of a chromosome is truncated but kept.
func BySize(chroms []Chrom, size int) (*Plan, error) {
	if size <= 0 {
		return nil, errors.Wrapf(ErrInvalidSize, "%d", size)
	}

	var n int
	for _, c := range chroms {
		n += (c.Len + size - 1) / size
	}

	p := &Plan{
		Mode:    ModeSize,
		Windows: make([]Window, 0, n),
		Groups:  make([]Group, 0, len(chroms)),
	}
	var end, i0 int
	for _, c := range chroms {
		i0 = len(p.Windows)
		for start := 0; start < c.Len; start += size {
			end = start + size
			if end > c.Len {
				end = c.Len
			}
			p.Windows = append(p.Windows, Window{Row: len(p.Windows), Chrom: c.Name, Start: start, End: end})
		}
		p.Groups = append(p.Groups, Group{Chrom: c.Name, Len: c.Len, Windows: p.Windows[i0:len(p.Windows):len(p.Windows)]})
	}
	return p, nil
}

// ByChrom creates one window [0, length) for each chromosome.
func ByChrom(chroms []Chrom) *Plan {
	p := &Plan{
		Mode:    ModeChrom,
		Windows: make([]Window, len(chroms)),
		Groups:  make([]Group, len(chroms)),
	}
	for i, c := range chroms {
		p.Windows[i] = Window{Row: i, Chrom: c.Name, Start: 0, End: c.Len}
		p.Groups[i] = Group{Chrom: c.Name, Len: c.Len, Windows: p.Windows[i : i+1 : i+1]}
	}
	return p
}

// ByBED uses intervals on the selected chromosomes as windows, in the given
// order, with no merging or deduplication. Row ids follow the order of intervals,
// so windows of a chromosome might not have consecutive row ids.
// Intervals on other chromosomes are ignored.
func ByBED(chroms []Chrom, intervals []bed.Interval) (*Plan, error) {
	idx := make(map[string]int, len(chroms))
	for i, c := range chroms {
		idx[c.Name] = i
	}

	p := &Plan{
		Mode:    ModeBED,
		Windows: make([]Window, 0, len(intervals)),
		Groups:  make([]Group, len(chroms)),
	}
	for i, c := range chroms {
		p.Groups[i] = Group{Chrom: c.Name, Len: c.Len}
	}

	var i int
	var ok bool
	var w Window
	for _, iv := range intervals {
		if i, ok = idx[iv.Chrom]; !ok {
			continue
		}
		if iv.End <= iv.Start {
			return nil, errors.Wrapf(ErrEmptyInterval, "%s", iv)
		}
		if iv.Start < 0 || iv.End > chroms[i].Len {
			return nil, errors.Wrapf(ErrOutOfRange, "%s (length of %s: %d)", iv, iv.Chrom, chroms[i].Len)
		}

		w = Window{Row: len(p.Windows), Chrom: iv.Chrom, Start: iv.Start, End: iv.End}
		p.Windows = append(p.Windows, w)
		p.Groups[i].Windows = append(p.Groups[i].Windows, w)
	}
	return p, nil
}
