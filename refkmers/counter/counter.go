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

// Package counter counts k-mers in genomic windows of a reference genome.
//
// Windows are grouped by chromosome, and each group is counted by one
// worker. Count matrices are allocated before counting, and a worker only
// writes the rows of its own windows, so no locks are needed.
package counter

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shenwei356/RefKmers/refkmers/blacklist"
	"github.com/shenwei356/RefKmers/refkmers/kmer"
	"github.com/shenwei356/RefKmers/refkmers/refseq"
	"github.com/shenwei356/RefKmers/refkmers/window"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// DefaultMaxFullK is the default largest k using the full column space.
const DefaultMaxFullK = 12

// ErrNoK means no k-mer sizes are given.
var ErrNoK = errors.New("counter: no k-mer sizes given")

// ErrDuplicatedK means a k-mer size is given more than once.
var ErrDuplicatedK = errors.New("counter: duplicated k-mer size")

// ErrMaxFullK means an invalid value of MaxFullK.
var ErrMaxFullK = fmt.Errorf("counter: the largest k of full column space should be in [0, %d]", kmer.MaxFullK)

// ErrWorker means a worker failed, and the whole run is aborted.
var ErrWorker = errors.New("counter: worker failed")

// Options contains the options of counting.
type Options struct {
	Ks        []int // k-mer sizes
	Canonical bool  // collapse k-mers and their reverse complements

	// Dense is for dense outputs. Counts of k <= MaxFullK are saved in
	// dense matrices, others in sparse matrices.
	Dense bool

	// k-mers of k <= MaxFullK use all possible k-mers as columns,
	// others use observed k-mers.
	MaxFullK int

	Threads int  // number of workers, 0 for all CPUs
	Verbose bool // show a progress bar
}

// CheckOptions checks the options.
func CheckOptions(opt *Options) error {
	if len(opt.Ks) == 0 {
		return ErrNoK
	}
	m := make(map[int]struct{}, len(opt.Ks))
	for _, k := range opt.Ks {
		if k < 1 || k > kmer.MaxK {
			return errors.Wrapf(kmer.ErrKOverflow, "%d", k)
		}
		if _, ok := m[k]; ok {
			return errors.Wrapf(ErrDuplicatedK, "%d", k)
		}
		m[k] = struct{}{}
	}
	if opt.MaxFullK < 0 || opt.MaxFullK > kmer.MaxFullK {
		return errors.Wrapf(ErrMaxFullK, "%d", opt.MaxFullK)
	}
	if opt.Threads < 0 {
		return fmt.Errorf("counter: number of threads should not be negative: %d", opt.Threads)
	}
	return nil
}

// FullColumns tells whether k uses the full column space,
// and returns the number of columns in that case.
func FullColumns(k int, canonical bool, maxFullK int) (int, bool) {
	if k > maxFullK {
		return 0, false
	}
	if canonical {
		return int(kmer.NumCanonical(k)), true
	}
	return int(kmer.NumKmers(k)), true
}

// Result is the result of counting.
type Result struct {
	Plan     *window.Plan
	Ks       []int
	Matrices []*Matrix // one for each k

	// blacklist overlap fraction of each window
	Overlaps []float64

	Stats      []Stats   // stats of each k
	ChromStats [][]Stats // stats of each chromosome group and each k
}

// Matrix returns the matrix of k.
func (r *Result) Matrix(k int) *Matrix {
	for i, _k := range r.Ks {
		if _k == k {
			return r.Matrices[i]
		}
	}
	return nil
}

// Run counts k-mers of all windows in the plan.
// bl could be nil.
func Run(ref refseq.Accessor, plan *window.Plan, bl *blacklist.Index, opt *Options) (*Result, error) {
	if err := CheckOptions(opt); err != nil {
		return nil, err
	}
	threads := opt.Threads
	if threads == 0 {
		threads = runtime.NumCPU()
	}

	nRows := plan.NumRows()
	ks := opt.Ks
	r := &Result{
		Plan:       plan,
		Ks:         ks,
		Matrices:   make([]*Matrix, len(ks)),
		Overlaps:   make([]float64, nRows),
		Stats:      make([]Stats, len(ks)),
		ChromStats: make([][]Stats, len(plan.Groups)),
	}

	// columns are created before counting, and shared by all workers.
	for i, k := range ks {
		var cols *kmer.Columns
		var err error
		_, full := FullColumns(k, opt.Canonical, opt.MaxFullK)
		if full {
			cols, err = kmer.NewColumns(k, opt.Canonical)
		} else {
			// placeholder, replaced with observed k-mers after counting
			cols, err = kmer.NewObservedColumns(k, opt.Canonical, nil)
		}
		if err != nil {
			return nil, err
		}
		r.Matrices[i] = newMatrix(k, nRows, cols, opt.Dense && full)
	}

	// process bar
	var pbs *mpb.Progress
	var bar *mpb.Bar
	var chDuration chan time.Duration
	var doneDuration chan int
	if opt.Verbose {
		pbs = mpb.New(mpb.WithWidth(40), mpb.WithOutput(os.Stderr))
		bar = pbs.AddBar(int64(len(plan.Groups)),
			mpb.PrependDecorators(
				decor.Name("processed chromosomes: ", decor.WC{W: len("processed chromosomes: "), C: decor.DindentRight}),
				decor.Name("", decor.WCSyncSpaceR),
				decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
			),
			mpb.AppendDecorators(
				decor.Name("ETA: ", decor.WC{W: len("ETA: ")}),
				decor.EwmaETA(decor.ET_STYLE_GO, 3),
				decor.OnComplete(decor.Name(""), ". done"),
			),
		)

		chDuration = make(chan time.Duration, threads)
		doneDuration = make(chan int)
		go func() {
			for t := range chDuration {
				bar.EwmaIncrBy(1, t)
			}
			doneDuration <- 1
		}()
	}

	errs := make([]error, len(plan.Groups))

	var wg sync.WaitGroup            // ensure all jobs done
	tokens := make(chan int, threads) // control the max concurrency number
	for i := range plan.Groups {
		tokens <- 1
		wg.Add(1)

		go func(i int) {
			defer func() {
				wg.Done()
				<-tokens
			}()
			startTime := time.Now()

			r.ChromStats[i] = make([]Stats, len(ks))
			errs[i] = r.countGroup(ref, &plan.Groups[i], bl, r.ChromStats[i])

			if opt.Verbose {
				chDuration <- time.Since(startTime)
			}
		}(i)
	}
	wg.Wait()

	if opt.Verbose {
		close(chDuration)
		<-doneDuration
		pbs.Wait()
	}

	for i, err := range errs {
		if err != nil {
			return nil, errors.Wrapf(ErrWorker, "chromosome %s: %s", plan.Groups[i].Chrom, err)
		}
	}

	for _, stats := range r.ChromStats {
		for j := range stats {
			r.Stats[j].Add(stats[j])
		}
	}

	for _, m := range r.Matrices {
		if err := m.finish(); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// countGroup counts k-mers in all windows of a chromosome group.
// It only writes rows of these windows.
func (r *Result) countGroup(ref refseq.Accessor, g *window.Group, bl *blacklist.Index, stats []Stats) error {
	if len(g.Windows) == 0 {
		return nil
	}

	sc := newScanner(r.Ks)
	sinks := make([]sink, len(r.Ks))
	for j, m := range r.Matrices {
		sinks[j].cols = m.cols
		sinks[j].isDense = m.isDense
		if !m.isDense {
			sinks[j].counts = make(map[uint64]uint64, 1024)
		}
	}

	for _, w := range g.Windows {
		r.Overlaps[w.Row] = bl.OverlapFraction(w.Chrom, w.Start, w.End)
		if w.Len() == 0 {
			continue
		}

		s, err := ref.SubSeq(w.Chrom, w.Start, w.End)
		if err != nil {
			return err
		}
		if len(s) != w.Len() {
			return fmt.Errorf("unexpected sequence length of %s: %d", w, len(s))
		}

		for j, m := range r.Matrices {
			if m.isDense {
				sinks[j].row, _ = m.DenseRow(w.Row)
			} else {
				clear(sinks[j].counts)
			}
		}

		sc.scan(w, s, bl, sinks, stats)

		for j, m := range r.Matrices {
			if !m.isDense {
				m.setRow(w.Row, sinks[j].counts)
			}
		}
	}
	return nil
}
