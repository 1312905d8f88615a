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
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/shenwei356/RefKmers/refkmers/npy"
	"github.com/spf13/cobra"
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Summarize and check outputs of 'refkmers count'",
	Long: `Summarize and check outputs of 'refkmers count'

The shapes of count matrix files are checked against run.toml.

Output (tab-delimited):
  k, counts file, format (dense/sparse), rows, columns, nonzeros,
  positions, ambiguous, blacklisted, counted

`,
	Run: func(cmd *cobra.Command, args []string) {
		opt := getOptions(cmd)

		outDir := getFlagPath(cmd, "out-dir")
		if outDir == "" {
			checkError(fmt.Errorf("flag -d/--out-dir needed"))
		}
		outFile := getFlagString(cmd, "out-file")

		info, shapes, err := summarizeRun(outDir)
		checkError(err)

		if opt.Verbose {
			log.Infof("RefKmers v%s, reference: %s", info.Version, info.Reference)
			log.Infof("%d windows (%s), %d chromosomes", info.Windows, info.WindowMode, len(info.Chromosomes))
		}

		outfh, gw, w, err := outStream(outFile, strings.HasSuffix(outFile, ".gz"), opt.CompressionLevel)
		checkError(err)

		outfh.WriteString("k\tfile\tformat\trows\tcolumns\tnonzeros\tpositions\tambiguous\tblacklisted\tcounted\n")
		buf := make([]byte, 0, 256)
		for i, c := range info.Counts {
			s := shapes[i]
			buf = buf[:0]
			buf = strconv.AppendInt(buf, int64(c.K), 10)
			buf = append(buf, '\t')
			buf = append(buf, c.CountsFile...)
			buf = append(buf, '\t')
			buf = append(buf, s.format...)
			for _, v := range []uint64{uint64(s.rows), uint64(s.cols), uint64(s.nnz),
				c.Positions, c.Ambiguous, c.Blacklisted, c.Counted} {
				buf = append(buf, '\t')
				buf = strconv.AppendUint(buf, v, 10)
			}
			buf = append(buf, '\n')
			outfh.Write(buf)
		}

		checkError(closeOutStream(outfh, gw, w))
	},
}

// ErrInconsistentRun means output files do not match run.toml.
var ErrInconsistentRun = errors.New("outputs inconsistent with " + FileInfo)

// countsShape is the shape of a count matrix file.
type countsShape struct {
	format string // dense or sparse
	rows   int
	cols   int
	nnz    int // -1 for dense matrices
}

// summarizeRun reads run.toml of an output directory, and checks the
// headers of count matrix files.
func summarizeRun(dir string) (*RunInfo, []countsShape, error) {
	info, err := readRunInfo(filepath.Join(dir, FileInfo))
	if err != nil {
		return nil, nil, errors.Wrapf(err, "reading %s", FileInfo)
	}

	shapes := make([]countsShape, 0, len(info.Counts))
	for _, c := range info.Counts {
		s, err := readCountsShape(filepath.Join(dir, c.CountsFile))
		if err != nil {
			return nil, nil, errors.Wrapf(err, "reading %s", c.CountsFile)
		}
		if s.rows != info.Windows || s.cols != c.Columns {
			return nil, nil, errors.Wrapf(ErrInconsistentRun, "%s: shape (%d, %d), expected: (%d, %d)",
				c.CountsFile, s.rows, s.cols, info.Windows, c.Columns)
		}
		if s.nnz >= 0 && s.nnz != c.NonZeros {
			return nil, nil, errors.Wrapf(ErrInconsistentRun, "%s: %d nonzeros, expected: %d",
				c.CountsFile, s.nnz, c.NonZeros)
		}
		shapes = append(shapes, s)
	}
	return info, shapes, nil
}

func readCountsShape(file string) (s countsShape, err error) {
	fh, err := os.Open(file)
	if err != nil {
		return s, err
	}
	defer fh.Close()

	if strings.HasSuffix(file, ".npz") {
		fi, err := fh.Stat()
		if err != nil {
			return s, err
		}
		s.format = "sparse"
		s.rows, s.cols, s.nnz, err = npy.ReadSparseHeader(fh, fi.Size())
		return s, err
	}

	h, err := npy.ReadHeader(fh)
	if err != nil {
		return s, err
	}
	if h.Descr != npy.Uint64 || len(h.Shape) != 2 {
		return s, errors.Wrapf(ErrInconsistentRun, "%s: dtype %s, shape %v", file, h.Descr, h.Shape)
	}
	s.format = "dense"
	s.rows, s.cols, s.nnz = h.Shape[0], h.Shape[1], -1
	return s, nil
}

func init() {
	utilsCmd.AddCommand(summaryCmd)

	summaryCmd.Flags().StringP("out-dir", "d", "",
		formatFlagUsage(`Output directory of "refkmers count".`))

	summaryCmd.Flags().StringP("out-file", "o", "-",
		formatFlagUsage(`Out file, supports and recommends a ".gz" suffix ("-" for stdout).`))

	summaryCmd.SetUsageTemplate(usageTemplate("-d <out dir>"))
}
