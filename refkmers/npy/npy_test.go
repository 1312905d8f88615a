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
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

// testMatrix is a dense matrix.
type testMatrix struct {
	rows, cols int
	data       []uint64
}

func (m *testMatrix) Dims() (int, int) { return m.rows, m.cols }

func (m *testMatrix) NonZeros(row int, fn func(col int, count uint64)) {
	for col, c := range m.data[row*m.cols : (row+1)*m.cols] {
		if c > 0 {
			fn(col, c)
		}
	}
}

// sparseMatrix hides DenseRow of testMatrix.
type sparseMatrix struct{ *testMatrix }

func (m *testMatrix) DenseRow(row int) ([]uint64, bool) {
	return m.data[row*m.cols : (row+1)*m.cols], true
}

func (m sparseMatrix) DenseRow(row int) ([]uint64, bool) { return nil, false }

var mat = &testMatrix{
	rows: 3,
	cols: 4,
	data: []uint64{
		0, 2, 0, 1 << 40,
		0, 0, 0, 0,
		7, 0, 3, 1,
	},
}

func TestHeader(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteHeader(&buf, Uint64, 2, 3); err != nil {
		t.Error(err)
		return
	}
	b := buf.Bytes()
	if len(b) != 128 {
		t.Errorf("expected header size: %d, results: %d", 128, len(b))
		return
	}
	dict := "{'descr': '<u8', 'fortran_order': False, 'shape': (2, 3), }"
	if !bytes.HasPrefix(b, append([]byte("\x93NUMPY\x01\x00\x76\x00"), dict...)) {
		t.Errorf("unexpected header: %q", b)
	}
	if b[127] != '\n' || strings.TrimRight(string(b[10+len(dict):127]), " ") != "" {
		t.Errorf("unexpected padding: %q", b)
	}

	for _, shape := range [][]int{{}, {5}, {1, 2}, {123456789, 987654}, {1, 2, 3}} {
		buf.Reset()
		if err := WriteHeader(&buf, Int32, shape...); err != nil {
			t.Error(err)
			return
		}
		if buf.Len()%Alignment != 0 {
			t.Errorf("shape %v: header not aligned: %d", shape, buf.Len())
		}
		h, err := ReadHeader(&buf)
		if err != nil {
			t.Error(err)
			return
		}
		if h.Descr != Int32 || h.FortranOrder || len(h.Shape) != len(shape) {
			t.Errorf("shape %v: unexpected header: %+v", shape, h)
			continue
		}
		for i := range shape {
			if h.Shape[i] != shape[i] {
				t.Errorf("expected shape: %v, results: %v", shape, h.Shape)
			}
		}
	}

	if _, err := ReadHeader(strings.NewReader("PK\x03\x04 not npy")); errors.Cause(err) != ErrInvalidFormat {
		t.Errorf("expected error: %s, results: %v", ErrInvalidFormat, err)
	}
}

func TestWriteArray(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteArray(&buf, []int32{-1, 0, 1 << 30}, 3); err != nil {
		t.Error(err)
		return
	}
	data, h, err := ReadArray[int32](&buf)
	if err != nil {
		t.Error(err)
		return
	}
	if len(h.Shape) != 1 || h.Shape[0] != 3 || data[0] != -1 || data[1] != 0 || data[2] != 1<<30 {
		t.Errorf("unexpected array: %v %v", h.Shape, data)
	}

	if err = WriteArray(&buf, []int64{1, 2, 3}, 2, 2); err == nil {
		t.Errorf("mismatched shape should fail")
	}

	buf.Reset()
	WriteArray(&buf, []int64{1, 2}, 2)
	if _, _, err = ReadArray[uint64](&buf); errors.Cause(err) != ErrDtypeMismatch {
		t.Errorf("expected error: %s, results: %v", ErrDtypeMismatch, err)
	}
}

func TestWriteDense(t *testing.T) {
	for _, m := range []Matrix{mat, sparseMatrix{mat}} {
		var buf bytes.Buffer
		if err := WriteDense(&buf, m); err != nil {
			t.Error(err)
			return
		}
		if uint64(buf.Len()) > DenseSize(mat.rows, mat.cols) {
			t.Errorf("file size %d larger than estimated %d", buf.Len(), DenseSize(mat.rows, mat.cols))
		}

		data, h, err := ReadArray[uint64](&buf)
		if err != nil {
			t.Error(err)
			return
		}
		if len(h.Shape) != 2 || h.Shape[0] != 3 || h.Shape[1] != 4 {
			t.Errorf("unexpected shape: %v", h.Shape)
		}
		for i, v := range data {
			if v != mat.data[i] {
				t.Errorf("value %d: expected: %d, results: %d", i, mat.data[i], v)
			}
		}
	}
}

func readNpz(t *testing.T, b []byte) map[string][]byte {
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		t.Error(err)
		return nil
	}
	files := make(map[string][]byte)
	for _, f := range zr.File {
		if f.Method != zip.Deflate {
			t.Errorf("%s: expected method deflate", f.Name)
		}
		rc, err := f.Open()
		if err != nil {
			t.Error(err)
			return nil
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Error(err)
			return nil
		}
		files[f.Name] = data
	}
	return files
}

func TestWriteSparse(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSparse(&buf, sparseMatrix{mat}, 5); err != nil {
		t.Error(err)
		return
	}

	files := readNpz(t, buf.Bytes())
	for _, name := range []string{"row.npy", "col.npy", "data.npy", "shape.npy", "format.npy"} {
		if _, ok := files[name]; !ok {
			t.Errorf("%s missing", name)
			return
		}
	}

	rows, _, err := ReadArray[int32](bytes.NewReader(files["row.npy"]))
	if err != nil {
		t.Error(err)
		return
	}
	cols, _, err := ReadArray[int32](bytes.NewReader(files["col.npy"]))
	if err != nil {
		t.Error(err)
		return
	}
	data, _, err := ReadArray[uint64](bytes.NewReader(files["data.npy"]))
	if err != nil {
		t.Error(err)
		return
	}
	shape, _, err := ReadArray[int64](bytes.NewReader(files["shape.npy"]))
	if err != nil {
		t.Error(err)
		return
	}

	if len(shape) != 2 || shape[0] != 3 || shape[1] != 4 {
		t.Errorf("unexpected shape: %v", shape)
	}
	if len(data) != 5 || len(rows) != 5 || len(cols) != 5 {
		t.Errorf("expected %d nonzeros, results: %d", 5, len(data))
		return
	}

	// row-major order
	for i := 1; i < len(rows); i++ {
		if rows[i] < rows[i-1] || (rows[i] == rows[i-1] && cols[i] <= cols[i-1]) {
			t.Errorf("nonzeros not in row-major order")
		}
	}

	// reconstructed dense matrix
	dense := make([]uint64, 12)
	for i, v := range data {
		dense[int(rows[i])*4+int(cols[i])] = v
	}
	for i, v := range dense {
		if v != mat.data[i] {
			t.Errorf("value %d: expected: %d, results: %d", i, mat.data[i], v)
		}
	}

	h, err := ReadHeader(bytes.NewReader(files["format.npy"]))
	if err != nil {
		t.Error(err)
		return
	}
	if h.Descr != "|S3" || len(h.Shape) != 0 || !bytes.HasSuffix(files["format.npy"], []byte("\ncoo")) {
		t.Errorf("unexpected format.npy: %q", files["format.npy"])
	}
}

func TestReadSparseHeader(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSparse(&buf, mat, 1); err != nil {
		t.Error(err)
		return
	}

	rows, cols, nnz, err := ReadSparseHeader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Error(err)
		return
	}
	if rows != 3 || cols != 4 || nnz != 5 {
		t.Errorf("expected: (3, 4, 5), results: (%d, %d, %d)", rows, cols, nnz)
	}

	data := []byte("not a zip file")
	_, _, _, err = ReadSparseHeader(bytes.NewReader(data), int64(len(data)))
	if errors.Cause(err) != ErrInvalidFormat {
		t.Errorf("expected error: %s, results: %v", ErrInvalidFormat, err)
	}
}
