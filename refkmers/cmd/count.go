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

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shenwei356/RefKmers/refkmers/bed"
	"github.com/shenwei356/RefKmers/refkmers/blacklist"
	"github.com/shenwei356/RefKmers/refkmers/counter"
	"github.com/shenwei356/RefKmers/refkmers/kmer"
	"github.com/shenwei356/RefKmers/refkmers/npy"
	"github.com/shenwei356/RefKmers/refkmers/refseq"
	"github.com/shenwei356/RefKmers/refkmers/window"
	"github.com/shenwei356/bio/seq"
	"github.com/shenwei356/util/bytesize"
	"github.com/shenwei356/util/pathutil"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/stat"
)

// ErrConfig means invalid configuration, detected before any counting.
var ErrConfig = errors.New("configuration error")

// ErrIO means failures of reading inputs or writing outputs.
var ErrIO = errors.New("IO error")

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Count k-mers in genomic windows of a reference genome",
	Long: `Count k-mers in genomic windows of a reference genome

Input:
  1. A reference genome in .2bit format, or in plain or gzipped FASTA format.
  2. Windows, choose one of:
       --by-size   fixed-size windows, the last window of a chromosome might be shorter.
       --by-bed    windows in a BED file, in the same order, without merging.
       --global    one window for each chromosome.
  3. Optional BED files of blacklisted regions (-b/--blacklist).

Counting:
  1. K-mers containing bases other than A, C, G, T (case ignored) are skipped.
  2. K-mers overlapping any blacklisted base are skipped. The fraction of each
     window covered by blacklisted regions is reported in bins.bed.
  3. With -c/--canonical, k-mers and their reverse complements are counted together,
     as the lexicographically smaller one.
  4. For k <= --max-full-k, columns are all possible (canonical) k-mers,
     otherwise, columns are the (canonical) k-mers observed in the windows.

Output (in the output directory):
  k<k>_counts.npy            dense count matrix (uint64, windows x k-mers), NumPy format.
  k<k>_counts_sparse.npz     sparse count matrix with -s/--save-sparse,
                             which can be loaded with scipy.sparse.load_npz().
  k<k>_motifs.txt            k-mers of matrix columns, one per line.
  bins.bed                   windows of matrix rows: chrom, start, end, blacklist overlap fraction.
  run.toml                   configuration and summary.

  Outputs are written into a temporary directory (<out dir>.tmp), which is renamed
  to the output directory only after all files are written.

`,
	Run: func(cmd *cobra.Command, args []string) {
		opt := getOptions(cmd)
		seq.ValidateSeq = false

		var fhLog *os.File
		if opt.Log2File {
			fhLog = addLog(opt.LogFile, opt.Verbose)
		}
		timeStart := time.Now()
		defer func() {
			if opt.Verbose || opt.Log2File {
				log.Info()
				log.Infof("elapsed time: %s", time.Since(timeStart))
				log.Info()
			}
			if opt.Log2File {
				fhLog.Close()
			}
		}()

		maxDenseSize, err := bytesize.Parse([]byte(getFlagString(cmd, "max-dense-size")))
		if err != nil {
			checkError(errors.Wrapf(ErrConfig, "invalid value of --max-dense-size: %s", err))
		}

		cfg := &CountConfig{
			RefFile: getFlagPath(cmd, "ref"),
			OutDir:  getFlagPath(cmd, "out-dir"),
			Force:   getFlagBool(cmd, "force"),

			Ks:           getFlagIntSlice(cmd, "kmer"),
			Canonical:    getFlagBool(cmd, "canonical"),
			Sparse:       getFlagBool(cmd, "save-sparse"),
			MaxFullK:     getFlagNonNegativeInt(cmd, "max-full-k"),
			MaxDenseSize: uint64(maxDenseSize),

			WindowSize: getFlagNonNegativeInt(cmd, "by-size"),
			WindowBED:  getFlagPath(cmd, "by-bed"),
			Global:     getFlagBool(cmd, "global"),

			Chroms:     getFlagStringSlice(cmd, "chromosomes"),
			ChromsFile: getFlagPath(cmd, "chromosomes-file"),
			AllChroms:  getFlagBool(cmd, "all-chromosomes"),

			Blacklists:       getFlagPathSlice(cmd, "blacklist"),
			BlacklistMinSize: getFlagNonNegativeInt(cmd, "blacklist-min-size"),

			GzipTables: getFlagBool(cmd, "gzip-tables"),

			Threads:  opt.NumCPUs,
			Verbose:  opt.Verbose,
			Log2File: opt.Log2File,

			CompressionLevel: opt.CompressionLevel,
		}

		checkError(runCount(cfg))
	},
}

// CountConfig contains all options of counting.
type CountConfig struct {
	RefFile string
	OutDir  string
	Force   bool

	Ks           []int
	Canonical    bool
	Sparse       bool
	MaxFullK     int
	MaxDenseSize uint64 // maximum bytes of a dense matrix file

	// window mode, only one is allowed
	WindowSize int
	WindowBED  string
	Global     bool

	// chromosome selection, at most one is allowed.
	// The default is chr1-chr22.
	Chroms     []string
	ChromsFile string
	AllChroms  bool

	Blacklists       []string
	BlacklistMinSize int

	GzipTables bool

	Threads  int
	Verbose  bool // show progress and logs
	Log2File bool

	CompressionLevel int
}

// windowMode returns the only window mode.
func (cfg *CountConfig) windowMode() (window.Mode, error) {
	var modes []window.Mode
	if cfg.WindowSize > 0 {
		modes = append(modes, window.ModeSize)
	}
	if cfg.WindowBED != "" {
		modes = append(modes, window.ModeBED)
	}
	if cfg.Global {
		modes = append(modes, window.ModeChrom)
	}
	switch len(modes) {
	case 0:
		return 0, errors.Wrap(ErrConfig, "one of --by-size, --by-bed and --global is needed")
	case 1:
		return modes[0], nil
	}
	return 0, errors.Wrap(ErrConfig, "only one of --by-size, --by-bed and --global is allowed")
}

func (cfg *CountConfig) counterOptions() *counter.Options {
	return &counter.Options{
		Ks:        cfg.Ks,
		Canonical: cfg.Canonical,
		Dense:     !cfg.Sparse,
		MaxFullK:  cfg.MaxFullK,
		Threads:   cfg.Threads,
		Verbose:   cfg.Verbose,
	}
}

// checkCountConfig checks the options which do not need any input file.
func checkCountConfig(cfg *CountConfig) error {
	if cfg.RefFile == "" {
		return errors.Wrap(ErrConfig, "flag -r/--ref needed")
	}
	if cfg.OutDir == "" {
		return errors.Wrap(ErrConfig, "flag -O/--out-dir needed")
	}
	if err := counter.CheckOptions(cfg.counterOptions()); err != nil {
		return errors.Wrap(ErrConfig, err.Error())
	}
	if _, err := cfg.windowMode(); err != nil {
		return err
	}

	var n int
	if len(cfg.Chroms) > 0 {
		n++
	}
	if cfg.ChromsFile != "" {
		n++
	}
	if cfg.AllChroms {
		n++
	}
	if n > 1 {
		return errors.Wrap(ErrConfig, "only one of --chromosomes, --chromosomes-file and --all-chromosomes is allowed")
	}

	if cfg.BlacklistMinSize < 0 {
		return errors.Wrap(ErrConfig, "value of --blacklist-min-size should not be negative")
	}
	return nil
}

// checkInputFiles checks the existence of input files.
func checkInputFiles(files ...string) error {
	for _, file := range files {
		if file == "" || isStdin(file) {
			continue
		}
		ok, err := pathutil.Exists(file)
		if err != nil {
			return errors.Wrapf(ErrIO, "%s: %s", file, err)
		}
		if !ok {
			return errors.Wrapf(ErrIO, "file not found: %s", file)
		}
	}
	return nil
}

func runCount(cfg *CountConfig) (err error) {
	verbose := cfg.Verbose || cfg.Log2File

	// ---------------------------------------------------------------
	// options

	if err = checkCountConfig(cfg); err != nil {
		return err
	}
	mode, _ := cfg.windowMode()

	cfg.OutDir = filepath.Clean(cfg.OutDir)
	if err = checkOutDir(cfg.OutDir, cfg.Force); err != nil {
		return errors.Wrap(ErrConfig, err.Error())
	}

	files := append([]string{cfg.RefFile, cfg.WindowBED, cfg.ChromsFile}, cfg.Blacklists...)
	if err = checkInputFiles(files...); err != nil {
		return err
	}

	if verbose {
		log.Infof("RefKmers v%s", VERSION)
		log.Info()
		log.Infof("-------------------- [main parameters] --------------------")
		log.Infof("reference: %s", cfg.RefFile)
		log.Infof("output directory: %s", cfg.OutDir)
		log.Infof("k-mer sizes: %s", strings.Join(IntSlice2StringSlice(cfg.Ks), ", "))
		log.Infof("canonical k-mers: %v", cfg.Canonical)
		log.Infof("largest k with full column space: %d", cfg.MaxFullK)
		log.Infof("sparse output: %v", cfg.Sparse)
		log.Infof("window mode: %s", mode)
		log.Infof("blacklist files: %d, minimum interval size: %d", len(cfg.Blacklists), cfg.BlacklistMinSize)
		log.Infof("threads: %d", cfg.Threads)
		log.Infof("-------------------- [main parameters] --------------------")
		log.Info()
	}

	// ---------------------------------------------------------------
	// reference and chromosomes

	if verbose {
		log.Infof("reading reference: %s", cfg.RefFile)
	}
	ref, err := refseq.Open(cfg.RefFile)
	if err != nil {
		return errors.Wrapf(ErrIO, "reading reference %s: %s", cfg.RefFile, err)
	}
	defer ref.Close()

	var names []string
	switch {
	case cfg.AllChroms:
	case cfg.ChromsFile != "":
		names, err = readList(cfg.ChromsFile)
		if err != nil {
			return errors.Wrapf(ErrIO, "reading chromosome list %s: %s", cfg.ChromsFile, err)
		}
	case len(cfg.Chroms) > 0:
		names = cfg.Chroms
	default:
		names = defaultChroms()
	}

	chromNames, chromLens, err := selectChroms(ref, names, cfg.AllChroms)
	if err != nil {
		return errors.Wrap(ErrConfig, err.Error())
	}
	chroms := make([]window.Chrom, len(chromNames))
	selected := make(map[string]struct{}, len(chromNames))
	var genomeSize int
	for i, name := range chromNames {
		chroms[i] = window.Chrom{Name: name, Len: chromLens[i]}
		selected[name] = struct{}{}
		genomeSize += chromLens[i]
	}
	isSelected := func(chrom string) bool {
		_, ok := selected[chrom]
		return ok
	}
	if verbose {
		log.Infof("  %d chromosomes selected, total length: %d", len(chroms), genomeSize)
	}

	// ---------------------------------------------------------------
	// windows

	var plan *window.Plan
	switch mode {
	case window.ModeSize:
		plan, err = window.BySize(chroms, cfg.WindowSize)
	case window.ModeBED:
		var ivs []bed.Interval
		var rd bed.Reader = &bed.FileReader{File: cfg.WindowBED, Strict: true, Keep: isSelected}
		ivs, err = rd.Read()
		if err != nil {
			if errors.Cause(err) == bed.ErrMalformedLine {
				return errors.Wrap(ErrConfig, err.Error())
			}
			return errors.Wrap(ErrIO, err.Error())
		}
		plan, err = window.ByBED(chroms, ivs)
	default:
		plan = window.ByChrom(chroms)
	}
	if err != nil {
		return errors.Wrap(ErrConfig, err.Error())
	}
	if plan.NumRows() == 0 {
		return errors.Wrap(ErrConfig, "no windows on selected chromosomes")
	}
	if verbose {
		log.Infof("  %d windows created", plan.NumRows())
	}

	// dense outputs of full column space
	if !cfg.Sparse {
		for _, k := range cfg.Ks {
			cols, full := counter.FullColumns(k, cfg.Canonical, cfg.MaxFullK)
			if !full {
				continue
			}
			if err = checkDenseSize(k, plan.NumRows(), cols, cfg.MaxDenseSize); err != nil {
				return err
			}
		}
	}

	// ---------------------------------------------------------------
	// blacklist

	var bl *blacklist.Index
	if len(cfg.Blacklists) > 0 {
		bl, err = readBlacklist(blacklistReaders(cfg.Blacklists, isSelected), cfg.BlacklistMinSize)
		if err != nil {
			return err
		}
		if verbose {
			var masked int
			for _, c := range chroms {
				masked += bl.MaskedBases(c.Name)
			}
			log.Infof("  %d blacklisted regions merged, %d bases masked", bl.NumRegions(), masked)
		}
	}

	// ---------------------------------------------------------------
	// counting

	if verbose {
		log.Info()
		log.Infof("counting k-mers of %d windows ...", plan.NumRows())
	}
	timeCount := time.Now()
	r, err := counter.Run(ref, plan, bl, cfg.counterOptions())
	if err != nil {
		return err
	}

	mean, std := overlapSummary(r.Overlaps)
	if verbose {
		log.Infof("  finished counting in %s", time.Since(timeCount))
		for i, g := range plan.Groups {
			for j, k := range cfg.Ks {
				st := r.ChromStats[i][j]
				log.Debugf("  %s, k=%d: positions: %d, ambiguous: %d, blacklisted: %d, counted: %d",
					g.Chrom, k, st.Positions, st.Ambiguous, st.Blacklisted, st.Counted)
			}
		}
		for j, k := range cfg.Ks {
			st := r.Stats[j]
			log.Infof("  k=%d: positions: %d, ambiguous: %d, blacklisted: %d, counted: %d",
				k, st.Positions, st.Ambiguous, st.Blacklisted, st.Counted)
		}
		if bl != nil {
			log.Infof("  blacklist overlap fraction of windows: mean: %.4f, standard deviation: %.4f", mean, std)
		}
	}

	// columns of observed k-mers are only known now.
	if !cfg.Sparse {
		for _, m := range r.Matrices {
			if m.Columns().Full() {
				continue
			}
			rows, cols := m.Dims()
			if err = checkDenseSize(m.K(), rows, cols, cfg.MaxDenseSize); err != nil {
				return err
			}
		}
	}

	// ---------------------------------------------------------------
	// outputs

	tmpDir, err := makeTmpOutDir(cfg.OutDir)
	if err != nil {
		return errors.Wrapf(ErrIO, "creating output directory: %s", err)
	}
	defer func() {
		if err != nil {
			os.RemoveAll(tmpDir)
		}
	}()

	if verbose {
		log.Info()
		log.Infof("writing outputs ...")
	}

	info := &RunInfo{
		Version:   VERSION,
		Reference: cfg.RefFile,

		Ks:        cfg.Ks,
		Canonical: cfg.Canonical,
		MaxFullK:  cfg.MaxFullK,
		Sparse:    cfg.Sparse,

		WindowMode: mode.String(),
		WindowSize: cfg.WindowSize,
		WindowBED:  cfg.WindowBED,
		Windows:    plan.NumRows(),

		Chromosomes: chromNames,

		Blacklists:       cfg.Blacklists,
		BlacklistMinSize: cfg.BlacklistMinSize,
		BlacklistRegions: bl.NumRegions(),
		OverlapMean:      mean,
		OverlapStdDev:    std,

		BinsFile: textFile(FileBins, cfg.GzipTables),
		Counts:   make([]*CountsInfo, 0, len(cfg.Ks)),
	}

	err = writeBins(filepath.Join(tmpDir, info.BinsFile), plan.Windows, r.Overlaps, cfg.GzipTables, cfg.CompressionLevel)
	if err != nil {
		return errors.Wrapf(ErrIO, "writing %s: %s", info.BinsFile, err)
	}

	for j, m := range r.Matrices {
		k := m.K()
		fCounts := fileCounts(k, cfg.Sparse)
		fMotifs := textFile(fileMotifs(k), cfg.GzipTables)

		err = writeMotifs(filepath.Join(tmpDir, fMotifs), m.Columns(), cfg.GzipTables, cfg.CompressionLevel)
		if err != nil {
			return errors.Wrapf(ErrIO, "writing %s: %s", fMotifs, err)
		}

		err = writeCounts(filepath.Join(tmpDir, fCounts), m, cfg.Sparse)
		if err != nil {
			if errors.Cause(err) == npy.ErrInt32Overflow {
				return errors.Wrap(ErrConfig, err.Error())
			}
			return errors.Wrapf(ErrIO, "writing %s: %s", fCounts, err)
		}

		info.Counts = append(info.Counts, newCountsInfo(m, r.Stats[j], m.NNZ(), fCounts, fMotifs))

		if verbose {
			rows, cols := m.Dims()
			log.Infof("  k=%d: %d x %d matrix with %d nonzero counts saved to %s", k, rows, cols, m.NNZ(), fCounts)
		}
	}

	if err = writeRunInfo(filepath.Join(tmpDir, FileInfo), info); err != nil {
		return errors.Wrapf(ErrIO, "writing %s: %s", FileInfo, err)
	}

	if err = commitOutDir(tmpDir, cfg.OutDir, verbose); err != nil {
		return errors.Wrapf(ErrIO, "moving outputs to %s: %s", cfg.OutDir, err)
	}

	if verbose {
		log.Infof("outputs saved to: %s", cfg.OutDir)
	}
	return nil
}

// blacklistReaders creates lenient readers of blacklist BED files,
// keeping intervals on chromosomes accepted by keep.
func blacklistReaders(files []string, keep func(chrom string) bool) []bed.Reader {
	rds := make([]bed.Reader, len(files))
	for i, file := range files {
		rds[i] = &bed.FileReader{File: file, Keep: keep}
	}
	return rds
}

// readBlacklist merges intervals of all sources into one index.
func readBlacklist(rds []bed.Reader, minSize int) (*blacklist.Index, error) {
	sources := make([][]bed.Interval, 0, len(rds))
	for i, rd := range rds {
		ivs, err := rd.Read()
		if err != nil {
			return nil, errors.Wrapf(ErrIO, "reading blacklist source #%d: %s", i+1, err)
		}
		sources = append(sources, ivs)
	}
	bl, err := blacklist.New(sources, minSize)
	if err != nil {
		return nil, errors.Wrap(ErrConfig, err.Error())
	}
	return bl, nil
}

// checkDenseSize checks the size of a dense matrix file.
func checkDenseSize(k, rows, cols int, maxSize uint64) error {
	if maxSize == 0 {
		return nil
	}
	size := npy.DenseSize(rows, cols)
	if size > maxSize {
		return errors.Wrapf(ErrConfig, "dense matrix of k=%d (%d x %d) needs %s, larger than --max-dense-size %s, please use -s/--save-sparse",
			k, rows, cols, bytesize.ByteSize(size), bytesize.ByteSize(maxSize))
	}
	return nil
}

// overlapSummary returns the mean and standard deviation of overlap fractions.
func overlapSummary(overlaps []float64) (float64, float64) {
	switch len(overlaps) {
	case 0:
		return 0, 0
	case 1:
		return overlaps[0], 0
	}
	return stat.MeanStdDev(overlaps, nil)
}

func init() {
	RootCmd.AddCommand(countCmd)

	// -----------------------------  input  -----------------------------

	countCmd.Flags().StringP("ref", "r", "",
		formatFlagUsage(`Reference genome in .2bit format, or in plain or gzipped FASTA format.`))

	countCmd.Flags().StringP("by-bed", "", "",
		formatFlagUsage(`Use windows in a BED file (only the first 3 columns are used).`))

	countCmd.Flags().IntP("by-size", "", 0,
		formatFlagUsage(`Use fixed-size windows of this size (bp).`))

	countCmd.Flags().BoolP("global", "", false,
		formatFlagUsage(`Use one window for each chromosome.`))

	countCmd.Flags().StringSliceP("chromosomes", "", []string{},
		formatFlagUsage(`Chromosomes to count, in the order of output rows. The default is chr1-chr22.`))

	countCmd.Flags().StringP("chromosomes-file", "", "",
		formatFlagUsage(`File of chromosomes to count, one per line.`))

	countCmd.Flags().BoolP("all-chromosomes", "a", false,
		formatFlagUsage(`Count all sequences in the reference genome.`))

	countCmd.Flags().StringSliceP("blacklist", "b", []string{},
		formatFlagUsage(`BED files of blacklisted regions. K-mers overlapping these regions are not counted.`))

	countCmd.Flags().IntP("blacklist-min-size", "", 1,
		formatFlagUsage(`Minimum size of blacklisted regions to use.`))

	// -----------------------------  k-mers  -----------------------------

	countCmd.Flags().IntSliceP("kmer", "k", []int{},
		formatFlagUsage(fmt.Sprintf(`K-mer sizes, in range of [1, %d], e.g., -k 1,2,3.`, kmer.MaxK)))

	countCmd.Flags().BoolP("canonical", "c", false,
		formatFlagUsage(`Count canonical k-mers, i.e., merging k-mers and their reverse complements.`))

	countCmd.Flags().IntP("max-full-k", "", counter.DefaultMaxFullK,
		formatFlagUsage(fmt.Sprintf(`Largest k using all possible k-mers as columns (<= %d). Larger k values use observed k-mers.`, kmer.MaxFullK)))

	// -----------------------------  output  -----------------------------

	countCmd.Flags().StringP("out-dir", "O", "",
		formatFlagUsage(`Output directory.`))

	countCmd.Flags().BoolP("force", "", false,
		formatFlagUsage(`Overwrite existed output directory.`))

	countCmd.Flags().BoolP("save-sparse", "s", false,
		formatFlagUsage(`Save count matrices in sparse COO format (.npz).`))

	countCmd.Flags().StringP("max-dense-size", "", "8G",
		formatFlagUsage(`Maximum size of a dense matrix file, 0 for no limit.`))

	countCmd.Flags().BoolP("gzip-tables", "z", false,
		formatFlagUsage(`Compress motif lists and bins table with gzip.`))

	countCmd.SetUsageTemplate(usageTemplate("-r <ref> -k <k> {--by-size <bp> | --by-bed <bed> | --global} -O <out dir>"))
}
