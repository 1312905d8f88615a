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

package npy

import (
	"archive/zip"
	"bufio"
	"io"
	"math"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/pkg/errors"
)

// Matrix is a row-major count matrix.
type Matrix interface {
	// Dims returns the numbers of rows and columns.
	Dims() (int, int)
	// NonZeros calls fn for each nonzero value of a row in column order.
	NonZeros(row int, fn func(col int, count uint64))
}

// denseRower returns a whole row of a matrix with dense storage.
type denseRower interface {
	DenseRow(row int) ([]uint64, bool)
}

// WriteDense writes a matrix as a <u8 array of shape (rows, columns).
func WriteDense(w io.Writer, m Matrix) error {
	rows, cols := m.Dims()
	if err := WriteHeader(w, Uint64, rows, cols); err != nil {
		return err
	}

	a := newArrayWriter[uint64](w)
	dr, isDense := m.(denseRower)
	buf := make([]uint64, cols)
	var touched []int
	var s []uint64
	var ok bool
	for row := 0; row < rows; row++ {
		if isDense {
			s, ok = dr.DenseRow(row)
		} else {
			ok = false
		}
		if !ok {
			for _, col := range touched {
				buf[col] = 0
			}
			touched = touched[:0]
			m.NonZeros(row, func(col int, c uint64) {
				buf[col] = c
				touched = append(touched, col)
			})
			s = buf
		}

		for _, v := range s {
			if err := a.write(v); err != nil {
				return err
			}
		}
	}
	return a.flush()
}

// DenseSize returns the bytes of a dense .npy file.
func DenseSize(rows, cols int) uint64 {
	return uint64(Alignment*2) + uint64(rows)*uint64(cols)*8
}

// NNZ counts nonzero values of a matrix.
func NNZ(m Matrix) (n int) {
	rows, _ := m.Dims()
	for row := 0; row < rows; row++ {
		m.NonZeros(row, func(int, uint64) { n++ })
	}
	return n
}

// WriteSparse writes a matrix as a compressed scipy.sparse COO .npz archive,
// which can be loaded with scipy.sparse.load_npz.
// level is the flate compression level.
func WriteSparse(w io.Writer, m Matrix, level int) error {
	rows, cols := m.Dims()
	nnz := NNZ(m)
	if rows > math.MaxInt32 || cols > math.MaxInt32 {
		return errors.Wrapf(ErrInt32Overflow, "shape: (%d, %d)", rows, cols)
	}

	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, level)
	})

	create := func(name string) (io.Writer, error) {
		return zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: time.Now(),
		})
	}

	// row, col and data arrays are written in separated passes.
	writeNonZeros := func(name, descr string, value func(row, col int, c uint64) uint64) error {
		f, err := create(name)
		if err != nil {
			return err
		}
		if err = WriteHeader(f, descr, nnz); err != nil {
			return err
		}
		size := 8
		if descr == Int32 {
			size = 4
		}
		bw := bufio.NewWriterSize(f, BufferSize*8)
		b := make([]byte, 8)
		var v uint64
		for row := 0; row < rows; row++ {
			m.NonZeros(row, func(col int, c uint64) {
				if err != nil {
					return
				}
				v = value(row, col, c)
				if size == 4 {
					le.PutUint32(b, uint32(v))
				} else {
					le.PutUint64(b, v)
				}
				_, err = bw.Write(b[:size])
			})
			if err != nil {
				return err
			}
		}
		return bw.Flush()
	}

	var err error
	err = writeNonZeros("row.npy", Int32, func(row, _ int, _ uint64) uint64 { return uint64(row) })
	if err != nil {
		return errors.Wrap(err, "row.npy")
	}

	err = writeNonZeros("col.npy", Int32, func(_, col int, _ uint64) uint64 { return uint64(col) })
	if err != nil {
		return errors.Wrap(err, "col.npy")
	}

	f, err := create("format.npy")
	if err != nil {
		return err
	}
	if err = WriteBytes(f, []byte("coo")); err != nil {
		return errors.Wrap(err, "format.npy")
	}

	f, err = create("shape.npy")
	if err != nil {
		return err
	}
	if err = WriteArray(f, []int64{int64(rows), int64(cols)}, 2); err != nil {
		return errors.Wrap(err, "shape.npy")
	}

	err = writeNonZeros("data.npy", Uint64, func(_, _ int, c uint64) uint64 { return c })
	if err != nil {
		return errors.Wrap(err, "data.npy")
	}

	return zw.Close()
}

// ErrMissingArray means an array of the sparse format is not found in a .npz file.
var ErrMissingArray = errors.New("npy: array missing in .npz file")

// ReadSparseHeader reads the shape and the number of nonzero values
// of a scipy.sparse COO .npz archive, without reading the nonzero values.
func ReadSparseHeader(r io.ReaderAt, size int64) (rows, cols, nnz int, err error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return 0, 0, 0, errors.Wrap(ErrInvalidFormat, err.Error())
	}
	zr.RegisterDecompressor(zip.Deflate, flate.NewReader)

	var hasShape, hasData bool
	for _, f := range zr.File {
		if f.Name != "shape.npy" && f.Name != "data.npy" {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return 0, 0, 0, errors.Wrap(err, f.Name)
		}
		if f.Name == "shape.npy" {
			var shape []int64
			shape, _, err = ReadArray[int64](rc)
			if err == nil && len(shape) != 2 {
				err = errors.Wrapf(ErrInvalidFormat, "shape: %v", shape)
			}
			if err == nil {
				rows, cols = int(shape[0]), int(shape[1])
				hasShape = true
			}
		} else {
			var h *Header
			h, err = ReadHeader(rc)
			if err == nil {
				nnz = h.Size()
				hasData = true
			}
		}
		rc.Close()
		if err != nil {
			return 0, 0, 0, errors.Wrap(err, f.Name)
		}
	}

	if !hasShape {
		return 0, 0, 0, errors.Wrap(ErrMissingArray, "shape.npy")
	}
	if !hasData {
		return 0, 0, 0, errors.Wrap(ErrMissingArray, "data.npy")
	}
	return rows, cols, nnz, nil
}
