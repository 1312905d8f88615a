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
	"archive/zip"
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/shenwei356/RefKmers/refkmers/bed"
	"github.com/shenwei356/RefKmers/refkmers/counter"
	"github.com/shenwei356/RefKmers/refkmers/npy"
)

const testFasta = `>chr1 test
ACGTACGTNN
ACGT
>chr2
AAAACCCCGGGGTTTT
>chrM
ACGT
`

// k=1 counts of 5-bp windows of chr1 and chr2
var testK1BySize = [][]uint64{
	{2, 1, 1, 1}, // chr1 ACGTA
	{0, 1, 1, 1}, // chr1 CGTNN
	{1, 1, 1, 1}, // chr1 ACGT
	{4, 1, 0, 0}, // chr2 AAAAC
	{0, 3, 2, 0}, // chr2 CCCGG
	{0, 0, 2, 3}, // chr2 GGTTT
	{0, 0, 0, 1}, // chr2 T
}

func writeTestFile(t *testing.T, file, content string) string {
	if err := os.WriteFile(file, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return file
}

func testConfig(t *testing.T) (*CountConfig, string) {
	dir := t.TempDir()
	cfg := &CountConfig{
		RefFile:          writeTestFile(t, filepath.Join(dir, "ref.fa"), testFasta),
		OutDir:           filepath.Join(dir, "out"),
		Ks:               []int{1, 2},
		MaxFullK:         12,
		MaxDenseSize:     1 << 30,
		Chroms:           []string{"chr1", "chr2"},
		BlacklistMinSize: 1,
		Threads:          2,
		CompressionLevel: -1,
	}
	return cfg, dir
}

func readDense(file string) ([]uint64, []int, error) {
	fh, err := os.Open(file)
	if err != nil {
		return nil, nil, err
	}
	defer fh.Close()
	data, h, err := npy.ReadArray[uint64](fh)
	if err != nil {
		return nil, nil, err
	}
	return data, h.Shape, nil
}

// readSparse reads a .npz file and returns the dense matrix.
func readSparse(file string) ([]uint64, []int, error) {
	r, err := zip.OpenReader(file)
	if err != nil {
		return nil, nil, err
	}
	defer r.Close()

	var rows, cols []int32
	var data []uint64
	var shape []int64
	for _, f := range r.File {
		rc, err := f.Open()
		if err != nil {
			return nil, nil, err
		}
		switch f.Name {
		case "row.npy":
			rows, _, err = npy.ReadArray[int32](rc)
		case "col.npy":
			cols, _, err = npy.ReadArray[int32](rc)
		case "data.npy":
			data, _, err = npy.ReadArray[uint64](rc)
		case "shape.npy":
			shape, _, err = npy.ReadArray[int64](rc)
		}
		rc.Close()
		if err != nil {
			return nil, nil, errors.Wrap(err, f.Name)
		}
	}
	if len(shape) != 2 {
		return nil, nil, errors.New("invalid shape")
	}

	n, m := int(shape[0]), int(shape[1])
	dense := make([]uint64, n*m)
	for i, c := range data {
		dense[int(rows[i])*m+int(cols[i])] = c
	}
	return dense, []int{n, m}, nil
}

func checkRows(t *testing.T, data []uint64, shape []int, expected [][]uint64) {
	if len(shape) != 2 || shape[0] != len(expected) || shape[1] != len(expected[0]) {
		t.Errorf("unexpected shape: %v", shape)
		return
	}
	for i, row := range expected {
		for j, v := range row {
			if data[i*shape[1]+j] != v {
				t.Errorf("row %d: expected: %v, results: %v", i, row, data[i*shape[1]:(i+1)*shape[1]])
				break
			}
		}
	}
}

func readLines(t *testing.T, file string) []string {
	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestRunCountBySize(t *testing.T) {
	cfg, _ := testConfig(t)
	cfg.WindowSize = 5

	if err := runCount(cfg); err != nil {
		t.Error(err)
		return
	}

	if _, err := os.Stat(cfg.OutDir + TmpDirExt); !os.IsNotExist(err) {
		t.Errorf("temporary directory not removed")
	}

	data, shape, err := readDense(filepath.Join(cfg.OutDir, "k1_counts.npy"))
	if err != nil {
		t.Error(err)
		return
	}
	checkRows(t, data, shape, testK1BySize)

	data, shape, err = readDense(filepath.Join(cfg.OutDir, "k2_counts.npy"))
	if err != nil {
		t.Error(err)
		return
	}
	if shape[0] != 7 || shape[1] != 16 {
		t.Errorf("unexpected shape of k=2: %v", shape)
		return
	}
	// chr2 AAAAC: AA x3, AC x1
	if data[3*16+0] != 3 || data[3*16+1] != 1 {
		t.Errorf("unexpected k=2 counts of row 3: %v", data[3*16:4*16])
	}

	motifs := readLines(t, filepath.Join(cfg.OutDir, "k2_motifs.txt"))
	if len(motifs) != 16 || motifs[0] != "AA" || motifs[1] != "AC" || motifs[15] != "TT" {
		t.Errorf("unexpected motifs: %v", motifs)
	}

	bins := readLines(t, filepath.Join(cfg.OutDir, FileBins))
	expected := []string{
		"chr1\t0\t5\t0", "chr1\t5\t10\t0", "chr1\t10\t14\t0",
		"chr2\t0\t5\t0", "chr2\t5\t10\t0", "chr2\t10\t15\t0", "chr2\t15\t16\t0",
	}
	if strings.Join(bins, "\n") != strings.Join(expected, "\n") {
		t.Errorf("expected: %v, results: %v", expected, bins)
	}

	info, err := readRunInfo(filepath.Join(cfg.OutDir, FileInfo))
	if err != nil {
		t.Error(err)
		return
	}
	if info.Windows != 7 || info.WindowMode != "fixed-size" || len(info.Counts) != 2 {
		t.Errorf("unexpected run info: %+v", info)
		return
	}
	c := info.Counts[0]
	if c.K != 1 || c.Columns != 4 || !c.FullColumns || c.CountsFile != "k1_counts.npy" {
		t.Errorf("unexpected counts info: %+v", c)
	}
	if c.Positions != 30 || c.Ambiguous != 2 || c.Counted != 28 {
		t.Errorf("unexpected stats of k=1: %+v", c)
	}
}

func TestRunCountSparse(t *testing.T) {
	cfg, dir := testConfig(t)
	cfg.WindowSize = 5
	cfg.Ks = []int{1, 3}
	cfg.MaxFullK = 1

	if err := runCount(cfg); err != nil {
		t.Error(err)
		return
	}
	dense1, shape1, err := readDense(filepath.Join(cfg.OutDir, "k1_counts.npy"))
	if err != nil {
		t.Error(err)
		return
	}
	dense3, shape3, err := readDense(filepath.Join(cfg.OutDir, "k3_counts.npy"))
	if err != nil {
		t.Error(err)
		return
	}
	motifs3 := readLines(t, filepath.Join(cfg.OutDir, "k3_motifs.txt"))
	if shape3[1] != len(motifs3) {
		t.Errorf("columns: %d, motifs: %d", shape3[1], len(motifs3))
	}

	cfg.OutDir = filepath.Join(dir, "out-sparse")
	cfg.Sparse = true
	if err = runCount(cfg); err != nil {
		t.Error(err)
		return
	}

	sparse1, shape, err := readSparse(filepath.Join(cfg.OutDir, "k1_counts_sparse.npz"))
	if err != nil {
		t.Error(err)
		return
	}
	if shape[0] != shape1[0] || shape[1] != shape1[1] || !equalUint64s(dense1, sparse1) {
		t.Errorf("sparse and dense matrices of k=1 differ")
	}
	checkRows(t, sparse1, shape, testK1BySize)

	sparse3, shape, err := readSparse(filepath.Join(cfg.OutDir, "k3_counts_sparse.npz"))
	if err != nil {
		t.Error(err)
		return
	}
	if shape[0] != shape3[0] || shape[1] != shape3[1] || !equalUint64s(dense3, sparse3) {
		t.Errorf("sparse and dense matrices of k=3 differ")
	}

	info, err := readRunInfo(filepath.Join(cfg.OutDir, FileInfo))
	if err != nil {
		t.Error(err)
		return
	}
	if !info.Sparse || info.Counts[1].FullColumns || info.Counts[1].Columns != len(motifs3) {
		t.Errorf("unexpected run info: %+v", info.Counts[1])
	}
}

func equalUint64s(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i, v := range a {
		if b[i] != v {
			return false
		}
	}
	return true
}

func TestRunCountBED(t *testing.T) {
	cfg, dir := testConfig(t)
	cfg.Ks = []int{1}
	cfg.WindowBED = writeTestFile(t, filepath.Join(dir, "windows.bed"),
		"# windows\nchr2\t0\t4\nchr1\t2\t6\nchrM\t0\t2\n")
	cfg.Blacklists = []string{writeTestFile(t, filepath.Join(dir, "blacklist.bed"), "chr1\t0\t3\n")}
	cfg.GzipTables = true

	if err := runCount(cfg); err != nil {
		t.Error(err)
		return
	}

	data, shape, err := readDense(filepath.Join(cfg.OutDir, "k1_counts.npy"))
	if err != nil {
		t.Error(err)
		return
	}
	checkRows(t, data, shape, [][]uint64{
		{4, 0, 0, 0}, // chr2 AAAA
		{1, 1, 0, 1}, // chr1 xTAC
	})

	info, err := readRunInfo(filepath.Join(cfg.OutDir, FileInfo))
	if err != nil {
		t.Error(err)
		return
	}
	if info.BinsFile != FileBins+".gz" || info.Counts[0].MotifsFile != "k1_motifs.txt.gz" {
		t.Errorf("unexpected file names: %s, %s", info.BinsFile, info.Counts[0].MotifsFile)
	}
	if info.BlacklistRegions != 1 || info.Counts[0].Blacklisted != 1 {
		t.Errorf("unexpected blacklist info: %+v", info)
	}
	if _, err = os.Stat(filepath.Join(cfg.OutDir, FileBins+".gz")); err != nil {
		t.Error(err)
	}
}

func TestRunCountTwoBit(t *testing.T) {
	cfg, dir := testConfig(t)
	cfg.Global = true
	cfg.Chroms = nil
	cfg.AllChroms = true

	file2bit := filepath.Join(dir, "ref.2bit")
	n, size, err := fasta2twobit(cfg.RefFile, file2bit)
	if err != nil {
		t.Error(err)
		return
	}
	if n != 3 || size != 34 {
		t.Errorf("unexpected number of sequences and bases: %d, %d", n, size)
	}

	if err = runCount(cfg); err != nil {
		t.Error(err)
		return
	}
	fromFasta, _, err := readDense(filepath.Join(cfg.OutDir, "k2_counts.npy"))
	if err != nil {
		t.Error(err)
		return
	}

	cfg.RefFile = file2bit
	cfg.OutDir = filepath.Join(dir, "out-2bit")
	if err = runCount(cfg); err != nil {
		t.Error(err)
		return
	}
	from2bit, shape, err := readDense(filepath.Join(cfg.OutDir, "k2_counts.npy"))
	if err != nil {
		t.Error(err)
		return
	}
	if shape[0] != 3 {
		t.Errorf("expected 3 windows, results: %d", shape[0])
	}
	if !equalUint64s(fromFasta, from2bit) {
		t.Errorf("counts of FASTA and 2bit references differ")
	}

	bins := readLines(t, filepath.Join(cfg.OutDir, FileBins))
	if len(bins) != 3 || bins[2] != "chrM\t0\t4\t0" {
		t.Errorf("unexpected bins: %v", bins)
	}
}

func TestRunCountErrors(t *testing.T) {
	for _, c := range []struct {
		name   string
		modify func(cfg *CountConfig, dir string)
		err    error
	}{
		{"no window mode", func(cfg *CountConfig, dir string) {}, ErrConfig},
		{"two window modes", func(cfg *CountConfig, dir string) {
			cfg.WindowSize = 5
			cfg.Global = true
		}, ErrConfig},
		{"no k", func(cfg *CountConfig, dir string) {
			cfg.Global = true
			cfg.Ks = nil
		}, ErrConfig},
		{"two chromosome selectors", func(cfg *CountConfig, dir string) {
			cfg.Global = true
			cfg.AllChroms = true
		}, ErrConfig},
		{"unknown chromosome", func(cfg *CountConfig, dir string) {
			cfg.Global = true
			cfg.Chroms = []string{"chr1", "chr3"}
		}, ErrConfig},
		{"default chromosomes", func(cfg *CountConfig, dir string) {
			cfg.Global = true
			cfg.Chroms = nil
		}, ErrConfig},
		{"malformed BED", func(cfg *CountConfig, dir string) {
			cfg.WindowBED = writeTestFile(t, filepath.Join(dir, "windows.bed"), "chr1\t5\t2\n")
		}, ErrConfig},
		{"interval out of range", func(cfg *CountConfig, dir string) {
			cfg.WindowBED = writeTestFile(t, filepath.Join(dir, "windows.bed"), "chr1\t0\t100\n")
		}, ErrConfig},
		{"dense matrix too large", func(cfg *CountConfig, dir string) {
			cfg.Global = true
			cfg.MaxDenseSize = 64
		}, ErrConfig},
		{"missing reference", func(cfg *CountConfig, dir string) {
			cfg.Global = true
			cfg.RefFile = filepath.Join(dir, "missing.fa")
		}, ErrIO},
	} {
		cfg, dir := testConfig(t)
		c.modify(cfg, dir)

		err := runCount(cfg)
		if errors.Cause(err) != c.err {
			t.Errorf("%s: expected error: %s, results: %v", c.name, c.err, err)
			continue
		}
		if _, err = os.Stat(cfg.OutDir); !os.IsNotExist(err) {
			t.Errorf("%s: output directory should not be created", c.name)
		}
		if _, err = os.Stat(cfg.OutDir + TmpDirExt); !os.IsNotExist(err) {
			t.Errorf("%s: temporary directory should not be left", c.name)
		}
	}
}

func TestRunCountExistedOutDir(t *testing.T) {
	cfg, _ := testConfig(t)
	cfg.Global = true

	if err := os.MkdirAll(cfg.OutDir, 0755); err != nil {
		t.Error(err)
		return
	}
	old := writeTestFile(t, filepath.Join(cfg.OutDir, "old.txt"), "old")

	if err := runCount(cfg); errors.Cause(err) != ErrConfig {
		t.Errorf("expected error: %s, results: %v", ErrConfig, err)
		return
	}

	cfg.Force = true
	if err := runCount(cfg); err != nil {
		t.Error(err)
		return
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Errorf("old output directory not replaced")
	}
}

func TestWriteMotifsGzip(t *testing.T) {
	cfg, _ := testConfig(t)
	cfg.Global = true
	cfg.Canonical = true
	cfg.GzipTables = true
	if err := runCount(cfg); err != nil {
		t.Error(err)
		return
	}

	data, err := os.ReadFile(filepath.Join(cfg.OutDir, "k2_motifs.txt.gz"))
	if err != nil {
		t.Error(err)
		return
	}
	if !bytes.HasPrefix(data, []byte{0x1f, 0x8b}) {
		t.Errorf("motif list not gzipped")
	}
	info, err := readRunInfo(filepath.Join(cfg.OutDir, FileInfo))
	if err != nil {
		t.Error(err)
		return
	}
	if info.Counts[1].Columns != 10 || info.Counts[0].Columns != 2 {
		t.Errorf("unexpected canonical columns: %d, %d", info.Counts[0].Columns, info.Counts[1].Columns)
	}
}

// truncateTwoBit keeps the index and the length of the last record of a
// .2bit file, and drops the rest of the record.
func truncateTwoBit(t *testing.T, file string) {
	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	n := int(binary.LittleEndian.Uint32(data[8:12]))
	off := 16
	var last uint32
	for i := 0; i < n; i++ {
		size := int(data[off])
		last = binary.LittleEndian.Uint32(data[off+1+size:])
		off += 1 + size + 4
	}
	if err = os.WriteFile(file, data[:last+4], 0644); err != nil {
		t.Fatal(err)
	}
}

func checkNoOutput(t *testing.T, cfg *CountConfig) {
	if _, err := os.Stat(cfg.OutDir); !os.IsNotExist(err) {
		t.Errorf("output directory should not exist: %s", cfg.OutDir)
	}
	if _, err := os.Stat(cfg.OutDir + TmpDirExt); !os.IsNotExist(err) {
		t.Errorf("temporary directory should not be left: %s", cfg.OutDir+TmpDirExt)
	}
}

func TestRunCountWorkerFailure(t *testing.T) {
	cfg, dir := testConfig(t)
	cfg.Global = true
	cfg.Chroms = nil
	cfg.AllChroms = true

	file2bit := filepath.Join(dir, "ref.2bit")
	if _, _, err := fasta2twobit(cfg.RefFile, file2bit); err != nil {
		t.Error(err)
		return
	}
	truncateTwoBit(t, file2bit)
	cfg.RefFile = file2bit

	err := runCount(cfg)
	if errors.Cause(err) != counter.ErrWorker {
		t.Errorf("expected error: %s, results: %v", counter.ErrWorker, err)
	}
	checkNoOutput(t, cfg)
}

func TestRunCountWriteFailure(t *testing.T) {
	cfg, _ := testConfig(t)
	cfg.WindowSize = 5
	cfg.GzipTables = true
	cfg.CompressionLevel = 42 // rejected by the gzip writer of bins.bed.gz

	err := runCount(cfg)
	if errors.Cause(err) != ErrIO {
		t.Errorf("expected error: %s, results: %v", ErrIO, err)
	}
	checkNoOutput(t, cfg)
}

func TestSummarizeRun(t *testing.T) {
	for _, sparse := range []bool{false, true} {
		cfg, _ := testConfig(t)
		cfg.WindowSize = 5
		cfg.Sparse = sparse
		if err := runCount(cfg); err != nil {
			t.Error(err)
			return
		}

		info, shapes, err := summarizeRun(cfg.OutDir)
		if err != nil {
			t.Error(err)
			return
		}
		if len(shapes) != 2 || len(info.Counts) != 2 {
			t.Errorf("expected 2 count files, results: %d", len(shapes))
			return
		}
		format := "dense"
		if sparse {
			format = "sparse"
		}
		for i, s := range shapes {
			if s.format != format || s.rows != 7 || s.cols != info.Counts[i].Columns {
				t.Errorf("sparse: %v, unexpected shape: %+v", sparse, s)
			}
		}
		if sparse && shapes[0].nnz != info.Counts[0].NonZeros {
			t.Errorf("expected nonzeros: %d, results: %d", info.Counts[0].NonZeros, shapes[0].nnz)
		}

		// a count file from another run
		info.Windows = 8
		if err = writeRunInfo(filepath.Join(cfg.OutDir, FileInfo), info); err != nil {
			t.Error(err)
			return
		}
		if _, _, err = summarizeRun(cfg.OutDir); errors.Cause(err) != ErrInconsistentRun {
			t.Errorf("expected error: %s, results: %v", ErrInconsistentRun, err)
		}
	}
}

// memBED is an in-memory BED source.
type memBED []bed.Interval

func (m memBED) Read() ([]bed.Interval, error) { return m, nil }

func TestReadBlacklist(t *testing.T) {
	dir := t.TempDir()
	file := writeTestFile(t, filepath.Join(dir, "blacklist.bed"),
		"track name=blacklist\nchr1\t10\t20\nchr2\t0\t5\nchr1\tbad\tline\n")

	keep := func(chrom string) bool { return chrom == "chr1" }
	rds := append(blacklistReaders([]string{file}, keep),
		memBED{{Chrom: "chr1", Start: 20, End: 25}, {Chrom: "chr1", Start: 40, End: 41}})

	bl, err := readBlacklist(rds, 2)
	if err != nil {
		t.Error(err)
		return
	}
	// [10, 20) and [20, 25) are merged, [40, 41) is shorter than 2, chr2 is not kept.
	if bl.NumRegions() != 1 || bl.MaskedBases("chr1") != 15 || bl.MaskedBases("chr2") != 0 {
		t.Errorf("unexpected blacklist: %v", bl.Intervals("chr1"))
	}

	_, err = readBlacklist(blacklistReaders([]string{filepath.Join(dir, "missing.bed")}, nil), 1)
	if errors.Cause(err) != ErrIO {
		t.Errorf("expected error: %s, results: %v", ErrIO, err)
	}
}
