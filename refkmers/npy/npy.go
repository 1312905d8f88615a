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

/*
Package npy writes count matrices in NumPy .npy format,
and sparse count matrices in SciPy .npz COO format.

NPY format (version 1.0):

	magic          "\x93NUMPY"
	version        1, 0
	header length  uint16, little-endian
	header         a Python dict literal, e.g.,
	               {'descr': '<u8', 'fortran_order': False, 'shape': (3, 4), }
	               padded with spaces and ended with '\n',
	               so that the data starts at a multiple of 64 bytes.
	data           little-endian values in row-major (C) order.

NPZ format of scipy.sparse.coo_matrix, a ZIP archive with:

	row.npy        <i4, row index of each nonzero
	col.npy        <i4, column index of each nonzero
	format.npy     |S3, b'coo'
	shape.npy      <i8, (rows, columns)
	data.npy       <u8, nonzero values in row-major order
*/
package npy

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Magic is the magic string of .npy files.
var Magic = []byte("\x93NUMPY")

// Alignment is the alignment of the data part.
const Alignment = 64

// dtypes
const (
	Uint64 = "<u8"
	Int64  = "<i8"
	Int32  = "<i4"
)

// ErrInvalidFormat means the data is not in .npy format.
var ErrInvalidFormat = errors.New("npy: invalid format")

// ErrUnsupportedVersion means the .npy version is not supported.
var ErrUnsupportedVersion = errors.New("npy: only version 1.0 is supported")

// ErrInt32Overflow means indexes do not fit in int32.
var ErrInt32Overflow = errors.New("npy: matrix too large for int32 indexes")

// ErrDtypeMismatch means the dtype of the data is not the expected one.
var ErrDtypeMismatch = errors.New("npy: dtype mismatch")

var le = binary.LittleEndian

// BufferSize is the number of values of the buffer for writing arrays.
var BufferSize = 8192

func shapeString(shape []int) string {
	switch len(shape) {
	case 0:
		return "()"
	case 1:
		return "(" + strconv.Itoa(shape[0]) + ",)"
	}
	var b strings.Builder
	b.WriteByte('(')
	for i, s := range shape {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.Itoa(s))
	}
	b.WriteByte(')')
	return b.String()
}

// WriteHeader writes the preamble and header of a C-order array.
func WriteHeader(w io.Writer, descr string, shape ...int) error {
	dict := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': %s, }", descr, shapeString(shape))

	// magic + version + header length + dict + padding + '\n'
	n := len(Magic) + 2 + 2 + len(dict) + 1
	pad := (Alignment - n%Alignment) % Alignment
	hlen := len(dict) + pad + 1
	if hlen > math.MaxUint16 {
		return errors.Wrap(ErrInvalidFormat, "header too long")
	}

	buf := bytes.NewBuffer(make([]byte, 0, n+pad))
	buf.Write(Magic)
	buf.WriteByte(1)
	buf.WriteByte(0)
	binary.Write(buf, le, uint16(hlen))
	buf.WriteString(dict)
	buf.Write(bytes.Repeat([]byte{' '}, pad))
	buf.WriteByte('\n')

	_, err := w.Write(buf.Bytes())
	return err
}

// Number is the type of supported array values.
type Number interface {
	int32 | int64 | uint64
}

// Descr returns the dtype description of a value type.
func Descr[T Number]() string {
	var v T
	switch any(v).(type) {
	case int32:
		return Int32
	case int64:
		return Int64
	}
	return Uint64
}

// arrayWriter writes values into a buffer in little-endian.
type arrayWriter[T Number] struct {
	w    io.Writer
	size int // bytes of a value
	buf  []byte
	n    int
}

func newArrayWriter[T Number](w io.Writer) *arrayWriter[T] {
	size := 8
	if Descr[T]() == Int32 {
		size = 4
	}
	return &arrayWriter[T]{w: w, size: size, buf: make([]byte, BufferSize*size)}
}

func (a *arrayWriter[T]) write(v T) error {
	if a.size == 4 {
		le.PutUint32(a.buf[a.n:], uint32(v))
	} else {
		le.PutUint64(a.buf[a.n:], uint64(v))
	}
	a.n += a.size
	if a.n == len(a.buf) {
		return a.flush()
	}
	return nil
}

func (a *arrayWriter[T]) flush() error {
	if a.n == 0 {
		return nil
	}
	_, err := a.w.Write(a.buf[:a.n])
	a.n = 0
	return err
}

// WriteArray writes an array, len(data) should be the product of shape.
func WriteArray[T Number](w io.Writer, data []T, shape ...int) error {
	n := 1
	for _, s := range shape {
		n *= s
	}
	if n != len(data) {
		return fmt.Errorf("npy: shape %s does not match data of %d values", shapeString(shape), len(data))
	}

	if err := WriteHeader(w, Descr[T](), shape...); err != nil {
		return err
	}
	a := newArrayWriter[T](w)
	for _, v := range data {
		if err := a.write(v); err != nil {
			return err
		}
	}
	return a.flush()
}

// WriteBytes writes a byte string as a 0-d array of dtype |S<n>.
func WriteBytes(w io.Writer, s []byte) error {
	if err := WriteHeader(w, fmt.Sprintf("|S%d", len(s))); err != nil {
		return err
	}
	_, err := w.Write(s)
	return err
}

// Header is the parsed header of a .npy file.
type Header struct {
	Descr        string
	FortranOrder bool
	Shape        []int
}

// ReadHeader reads the preamble and header of a .npy file.
// It only supports headers written by WriteHeader and NumPy.
func ReadHeader(r io.Reader) (*Header, error) {
	pre := make([]byte, len(Magic)+4)
	if _, err := io.ReadFull(r, pre); err != nil {
		return nil, errors.Wrap(ErrInvalidFormat, err.Error())
	}
	if !bytes.Equal(pre[:len(Magic)], Magic) {
		return nil, ErrInvalidFormat
	}
	if pre[len(Magic)] != 1 {
		return nil, ErrUnsupportedVersion
	}
	dict := make([]byte, le.Uint16(pre[len(Magic)+2:]))
	if _, err := io.ReadFull(r, dict); err != nil {
		return nil, errors.Wrap(ErrInvalidFormat, err.Error())
	}
	return parseDict(string(dict))
}

func dictValue(dict, key string) (string, bool) {
	i := strings.Index(dict, "'"+key+"':")
	if i < 0 {
		return "", false
	}
	v := strings.TrimSpace(dict[i+len(key)+3:])
	if strings.HasPrefix(v, "(") {
		j := strings.IndexByte(v, ')')
		if j < 0 {
			return "", false
		}
		return v[:j+1], true
	}
	j := strings.IndexAny(v, ",}")
	if j < 0 {
		return "", false
	}
	return strings.TrimSpace(v[:j]), true
}

func parseDict(dict string) (*Header, error) {
	h := &Header{}

	v, ok := dictValue(dict, "descr")
	if !ok {
		return nil, errors.Wrap(ErrInvalidFormat, "descr missing")
	}
	h.Descr = strings.Trim(v, "'\"")

	if v, ok = dictValue(dict, "fortran_order"); !ok {
		return nil, errors.Wrap(ErrInvalidFormat, "fortran_order missing")
	}
	h.FortranOrder = v == "True"

	if v, ok = dictValue(dict, "shape"); !ok {
		return nil, errors.Wrap(ErrInvalidFormat, "shape missing")
	}
	v = strings.Trim(v, "()")
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		d, err := strconv.Atoi(strings.TrimSuffix(s, "L"))
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidFormat, "shape: %s", v)
		}
		h.Shape = append(h.Shape, d)
	}
	return h, nil
}

// Size returns the number of values.
func (h *Header) Size() int {
	n := 1
	for _, s := range h.Shape {
		n *= s
	}
	return n
}

// ReadArray reads a whole .npy array of type T.
func ReadArray[T Number](r io.Reader) ([]T, *Header, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, nil, err
	}
	if h.Descr != Descr[T]() {
		return nil, h, errors.Wrapf(ErrDtypeMismatch, "%s != %s", h.Descr, Descr[T]())
	}

	n := h.Size()
	size := 8
	if h.Descr == Int32 {
		size = 4
	}
	buf := make([]byte, n*size)
	if _, err = io.ReadFull(r, buf); err != nil {
		return nil, h, errors.Wrap(ErrInvalidFormat, err.Error())
	}

	data := make([]T, n)
	for i := range data {
		if size == 4 {
			data[i] = T(int32(le.Uint32(buf[i<<2:])))
		} else {
			data[i] = T(le.Uint64(buf[i<<3:]))
		}
	}
	return data, h, nil
}
