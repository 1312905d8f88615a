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
	"bufio"
	"fmt"
	"os"
	"strconv"

	"github.com/klauspost/compress/flate"
	"github.com/pkg/errors"
	"github.com/shenwei356/RefKmers/refkmers/counter"
	"github.com/shenwei356/RefKmers/refkmers/kmer"
	"github.com/shenwei356/RefKmers/refkmers/npy"
	"github.com/shenwei356/RefKmers/refkmers/window"
)

// FileBins is the file of windows and their blacklist overlap fractions.
const FileBins = "bins.bed"

func fileCounts(k int, sparse bool) string {
	if sparse {
		return fmt.Sprintf("k%d_counts_sparse.npz", k)
	}
	return fmt.Sprintf("k%d_counts.npy", k)
}

func fileMotifs(k int) string {
	return fmt.Sprintf("k%d_motifs.txt", k)
}

// gzipped text outputs have a suffix of ".gz".
func textFile(file string, gzipped bool) string {
	if gzipped {
		return file + ".gz"
	}
	return file
}

// writeMotifs writes motifs of all columns, one per line.
func writeMotifs(file string, cols *kmer.Columns, gzipped bool, level int) error {
	outfh, gw, w, err := outStream(file, gzipped, level)
	if err != nil {
		return err
	}

	decode := kmer.MustDecoder()
	k := cols.K()
	for col := 0; col < cols.Len(); col++ {
		outfh.Write(decode(cols.Code(col), k))
		outfh.WriteByte('\n')
	}

	return closeOutStream(outfh, gw, w)
}

// writeBins writes windows in row order, with blacklist overlap fractions.
func writeBins(file string, windows []window.Window, overlaps []float64, gzipped bool, level int) error {
	outfh, gw, w, err := outStream(file, gzipped, level)
	if err != nil {
		return err
	}

	buf := make([]byte, 0, 128)
	for i, win := range windows {
		buf = buf[:0]
		buf = append(buf, win.Chrom...)
		buf = append(buf, '\t')
		buf = strconv.AppendInt(buf, int64(win.Start), 10)
		buf = append(buf, '\t')
		buf = strconv.AppendInt(buf, int64(win.End), 10)
		buf = append(buf, '\t')
		buf = strconv.AppendFloat(buf, overlaps[i], 'f', -1, 64)
		buf = append(buf, '\n')
		outfh.Write(buf)
	}

	return closeOutStream(outfh, gw, w)
}

// writeCounts writes a count matrix into a .npy or .npz file.
func writeCounts(file string, m *counter.Matrix, sparse bool) error {
	fh, err := os.Create(file)
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(fh, BufferSize)

	if sparse {
		err = npy.WriteSparse(bw, m, flate.DefaultCompression)
	} else {
		err = npy.WriteDense(bw, m)
	}
	if err != nil {
		fh.Close()
		return errors.Wrap(err, file)
	}

	if err = bw.Flush(); err != nil {
		fh.Close()
		return err
	}
	return fh.Close()
}
