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
Package twobit reads and writes UCSC .2bit files.

File format (all integers are 32-bit, in the byte order of the signature):

	header:
		signature         0x1A412743
		version           0
		sequence count    n
		reserved          0
	index, n entries:
		name size         uint8
		name              [name size]byte
		offset            offset of the record from the start of the file
	record:
		dna size          number of bases
		n block count     nb
		n block starts    [nb]uint32
		n block sizes     [nb]uint32
		mask block count  nm
		mask block starts [nm]uint32
		mask block sizes  [nm]uint32
		reserved          0
		packed dna        [(dna size+3)/4]byte, T=0, C=1, A=2, G=3,
		                  the first base in the most significant 2 bits.

Bases in N blocks are returned as 'N'. Soft-masked blocks are ignored,
all bases are returned in upper case.
*/
package twobit

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Signature is the magic number of .2bit files.
const Signature uint32 = 0x1A412743

// Version is the only supported version.
const Version uint32 = 0

// BufferSize is size of reading and writing buffer
var BufferSize = 65536

// ErrInvalidFileFormat means invalid file format.
var ErrInvalidFileFormat = errors.New("2bit: invalid binary format")

// ErrVersionMismatch means unsupported version.
var ErrVersionMismatch = errors.New("2bit: version mismatch")

// ErrBrokenFile means the file is not complete.
var ErrBrokenFile = errors.New("2bit: broken file")

// ErrSeqNotFound means the sequence is not in the file.
var ErrSeqNotFound = errors.New("2bit: sequence not found")

// ErrOutOfRange means invalid coordinates of subsequences.
var ErrOutOfRange = errors.New("2bit: coordinates out of range")

// ErrDuplicatedName means a sequence name is written more than once.
var ErrDuplicatedName = errors.New("2bit: duplicated sequence name")

// ErrInvalidName means the sequence name is empty or too long.
var ErrInvalidName = errors.New("2bit: sequence name should have 1-255 bytes")

// ErrTooLarge means the file or a sequence exceeds 4 GiB.
var ErrTooLarge = errors.New("2bit: data too large for 32-bit offsets")

// IsTwoBit checks the signature of a file.
func IsTwoBit(file string) (bool, error) {
	fh, err := os.Open(file)
	if err != nil {
		return false, err
	}
	defer fh.Close()

	buf := make([]byte, 4)
	_, err = io.ReadFull(fh, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_, err = byteOrder(buf)
	return err == nil, nil
}

func byteOrder(buf []byte) (binary.ByteOrder, error) {
	if binary.LittleEndian.Uint32(buf) == Signature {
		return binary.LittleEndian, nil
	}
	if binary.BigEndian.Uint32(buf) == Signature {
		return binary.BigEndian, nil
	}
	return nil, ErrInvalidFileFormat
}

// record is the header of a sequence record.
type record struct {
	offset int64 // offset of the record
	size   int   // number of bases

	loaded  bool
	dna     int64    // offset of packed dna
	nBlocks [][2]int // [start, end)
}

// Reader extracts subsequences from a .2bit file.
// It is safe for concurrent use.
type Reader struct {
	fh *os.File
	bo binary.ByteOrder

	names []string
	idx   map[string]int
	recs  []*record

	mu sync.Mutex // for lazy loading of record headers
}

// NewReader opens a .2bit file and reads the sequence index.
func NewReader(file string) (*Reader, error) {
	fh, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	r := &Reader{fh: fh}

	br := bufio.NewReaderSize(fh, BufferSize)
	buf := make([]byte, 16)
	if _, err = io.ReadFull(br, buf); err != nil {
		fh.Close()
		return nil, ErrBrokenFile
	}
	r.bo, err = byteOrder(buf[:4])
	if err != nil {
		fh.Close()
		return nil, err
	}
	if r.bo.Uint32(buf[4:8]) != Version {
		fh.Close()
		return nil, ErrVersionMismatch
	}
	n := int(r.bo.Uint32(buf[8:12]))

	r.names = make([]string, n)
	r.idx = make(map[string]int, n)
	r.recs = make([]*record, n)
	var size byte
	name := make([]byte, 255)
	for i := 0; i < n; i++ {
		if size, err = br.ReadByte(); err != nil {
			fh.Close()
			return nil, ErrBrokenFile
		}
		if _, err = io.ReadFull(br, name[:size]); err != nil {
			fh.Close()
			return nil, ErrBrokenFile
		}
		if _, err = io.ReadFull(br, buf[:4]); err != nil {
			fh.Close()
			return nil, ErrBrokenFile
		}
		r.names[i] = string(name[:size])
		r.idx[r.names[i]] = i
		r.recs[i] = &record{offset: int64(r.bo.Uint32(buf[:4]))}
	}

	// sequence lengths
	for i, rec := range r.recs {
		if _, err = fh.ReadAt(buf[:4], rec.offset); err != nil {
			fh.Close()
			return nil, errors.Wrapf(ErrBrokenFile, "reading record of %s", r.names[i])
		}
		rec.size = int(r.bo.Uint32(buf[:4]))
	}

	return r, nil
}

// Close closes the file.
func (r *Reader) Close() error {
	return r.fh.Close()
}

// Names returns sequence names in the file order.
func (r *Reader) Names() []string {
	return r.names
}

// Length returns the length of a sequence.
func (r *Reader) Length(name string) (int, bool) {
	i, ok := r.idx[name]
	if !ok {
		return 0, false
	}
	return r.recs[i].size, true
}

// load parses the remaining header of a record.
func (r *Reader) load(rec *record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.loaded {
		return nil
	}

	buf := make([]byte, 8)
	off := rec.offset + 4

	readBlocks := func() ([][2]int, error) {
		if _, err := r.fh.ReadAt(buf[:4], off); err != nil {
			return nil, err
		}
		off += 4
		n := int(r.bo.Uint32(buf[:4]))
		if n == 0 {
			return nil, nil
		}
		data := make([]byte, n<<3)
		if _, err := r.fh.ReadAt(data, off); err != nil {
			return nil, err
		}
		off += int64(n << 3)

		blocks := make([][2]int, n)
		var s int
		for i := range blocks {
			s = int(r.bo.Uint32(data[i<<2:]))
			blocks[i] = [2]int{s, s + int(r.bo.Uint32(data[(n+i)<<2:]))}
		}
		return blocks, nil
	}

	var err error
	if rec.nBlocks, err = readBlocks(); err != nil {
		return errors.Wrap(ErrBrokenFile, err.Error())
	}
	sort.Slice(rec.nBlocks, func(i, j int) bool { return rec.nBlocks[i][0] < rec.nBlocks[j][0] })

	// soft-mask blocks are skipped
	if _, err = readBlocks(); err != nil {
		return errors.Wrap(ErrBrokenFile, err.Error())
	}

	rec.dna = off + 4 // reserved
	rec.loaded = true
	return nil
}

var bit2base = [4]byte{'T', 'C', 'A', 'G'}

var poolBuf = &sync.Pool{New: func() interface{} {
	tmp := make([]byte, 0, 1<<20)
	return &tmp
}}

// SubSeq returns the bases of [start, end) of a sequence.
// The returned slice is newly allocated.
func (r *Reader) SubSeq(name string, start, end int) ([]byte, error) {
	i, ok := r.idx[name]
	if !ok {
		return nil, errors.Wrap(ErrSeqNotFound, name)
	}
	rec := r.recs[i]
	if start < 0 || end > rec.size || start > end {
		return nil, errors.Wrapf(ErrOutOfRange, "%s:%d-%d (length: %d)", name, start, end, rec.size)
	}
	if start == end {
		return []byte{}, nil
	}

	if err := r.load(rec); err != nil {
		return nil, err
	}

	// packed bytes
	b0 := start >> 2
	nBytes := (end-1)>>2 - b0 + 1
	buf := poolBuf.Get().(*[]byte)
	defer poolBuf.Put(buf)
	if cap(*buf) < nBytes {
		*buf = make([]byte, nBytes)
	}
	*buf = (*buf)[:nBytes]
	if _, err := r.fh.ReadAt(*buf, rec.dna+int64(b0)); err != nil {
		return nil, errors.Wrapf(ErrBrokenFile, "%s: %s", name, err)
	}

	s := make([]byte, end-start)
	data := *buf
	var b byte
	for p := start; p < end; p++ {
		b = data[p>>2-b0]
		s[p-start] = bit2base[(b>>(6-uint(p&3)<<1))&3]
	}

	// N blocks
	blocks := rec.nBlocks
	j := sort.Search(len(blocks), func(j int) bool { return blocks[j][1] > start })
	var bs, be int
	for ; j < len(blocks) && blocks[j][0] < end; j++ {
		bs, be = blocks[j][0], blocks[j][1]
		if bs < start {
			bs = start
		}
		if be > end {
			be = end
		}
		for p := bs; p < be; p++ {
			s[p-start] = 'N'
		}
	}

	return s, nil
}

// Seq returns the whole sequence.
func (r *Reader) Seq(name string) ([]byte, error) {
	size, ok := r.Length(name)
	if !ok {
		return nil, errors.Wrap(ErrSeqNotFound, name)
	}
	return r.SubSeq(name, 0, size)
}

// ------------------------------------------------------------------

var le = binary.LittleEndian

var base2bit = [256]byte{}

func init() {
	// T and non-ACGT bases are 0
	base2bit['C'], base2bit['c'] = 1, 1
	base2bit['A'], base2bit['a'] = 2, 2
	base2bit['G'], base2bit['g'] = 3, 3
}

func isACGT(b byte) bool {
	switch b {
	case 'A', 'C', 'G', 'T', 'a', 'c', 'g', 't':
		return true
	}
	return false
}

func isLower(b byte) bool {
	return b >= 'a' && b <= 'z'
}

// blocks returns [start, end) runs of bases matching fn.
func blocks(s []byte, fn func(byte) bool) [][2]int {
	var bs [][2]int
	start := -1
	for i, b := range s {
		if fn(b) {
			if start < 0 {
				start = i
			}
		} else if start >= 0 {
			bs = append(bs, [2]int{start, i})
			start = -1
		}
	}
	if start >= 0 {
		bs = append(bs, [2]int{start, len(s)})
	}
	return bs
}

// Writer writes sequences into a .2bit file in little-endian.
// Records are staged in a temporary file, and the header and
// index are written in Close.
type Writer struct {
	file string

	tmpFile string
	fh      *os.File
	w       *bufio.Writer

	names  []string
	seen   map[string]struct{}
	sizes  []int64 // bytes of records
	offset int64   // total bytes of records

	buf []byte
}

// NewWriter creates a Writer.
func NewWriter(file string) (*Writer, error) {
	w := &Writer{
		file:    file,
		tmpFile: file + ".records.tmp",
		seen:    make(map[string]struct{}, 64),
		buf:     make([]byte, 4),
	}
	var err error
	w.fh, err = os.Create(w.tmpFile)
	if err != nil {
		return nil, err
	}
	w.w = bufio.NewWriterSize(w.fh, BufferSize)
	return w, nil
}

func (w *Writer) putUint32(v int) error {
	le.PutUint32(w.buf, uint32(v))
	_, err := w.w.Write(w.buf)
	return err
}

func (w *Writer) putBlocks(bs [][2]int) error {
	if err := w.putUint32(len(bs)); err != nil {
		return err
	}
	for _, b := range bs {
		if err := w.putUint32(b[0]); err != nil {
			return err
		}
	}
	for _, b := range bs {
		if err := w.putUint32(b[1] - b[0]); err != nil {
			return err
		}
	}
	return nil
}

// WriteSeq writes one sequence. Non-ACGT bases are saved as N blocks,
// and lower-case bases as mask blocks.
func (w *Writer) WriteSeq(name string, s []byte) error {
	if len(name) == 0 || len(name) > 255 {
		return errors.Wrapf(ErrInvalidName, "%q", name)
	}
	if _, ok := w.seen[name]; ok {
		return errors.Wrap(ErrDuplicatedName, name)
	}
	if int64(len(s)) > 1<<32-1 {
		return errors.Wrap(ErrTooLarge, name)
	}
	w.seen[name] = struct{}{}

	nBlocks := blocks(s, func(b byte) bool { return !isACGT(b) })
	mBlocks := blocks(s, isLower)

	var err error
	if err = w.putUint32(len(s)); err != nil {
		return err
	}
	if err = w.putBlocks(nBlocks); err != nil {
		return err
	}
	if err = w.putBlocks(mBlocks); err != nil {
		return err
	}
	if err = w.putUint32(0); err != nil {
		return err
	}

	var b byte
	n := len(s) >> 2
	var j int
	for i := 0; i < n; i++ {
		j = i << 2
		b = base2bit[s[j]]<<6 | base2bit[s[j+1]]<<4 | base2bit[s[j+2]]<<2 | base2bit[s[j+3]]
		if err = w.w.WriteByte(b); err != nil {
			return err
		}
	}
	if m := len(s) & 3; m > 0 {
		b = 0
		for i, c := range s[n<<2:] {
			b |= base2bit[c] << (6 - uint(i)<<1)
		}
		if err = w.w.WriteByte(b); err != nil {
			return err
		}
	}

	size := int64(16 + (len(nBlocks)+len(mBlocks))<<3 + (len(s)+3)>>2)
	w.names = append(w.names, name)
	w.sizes = append(w.sizes, size)
	w.offset += size
	return nil
}

// Close writes the header, the index and the records into the file.
func (w *Writer) Close() (err error) {
	defer func() {
		os.Remove(w.tmpFile)
	}()

	if err = w.w.Flush(); err != nil {
		return err
	}
	if err = w.fh.Close(); err != nil {
		return err
	}

	var offset int64 = 16
	for _, name := range w.names {
		offset += int64(1 + len(name) + 4)
	}
	if offset+w.offset > 1<<32-1 {
		return ErrTooLarge
	}

	fh, err := os.Create(w.file)
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(fh, BufferSize)

	header := make([]byte, 16)
	le.PutUint32(header[0:4], Signature)
	le.PutUint32(header[4:8], Version)
	le.PutUint32(header[8:12], uint32(len(w.names)))
	if _, err = bw.Write(header); err != nil {
		fh.Close()
		return err
	}
	for i, name := range w.names {
		bw.WriteByte(byte(len(name)))
		bw.WriteString(name)
		le.PutUint32(header[:4], uint32(offset))
		if _, err = bw.Write(header[:4]); err != nil {
			fh.Close()
			return err
		}
		offset += w.sizes[i]
	}

	tmp, err := os.Open(w.tmpFile)
	if err != nil {
		fh.Close()
		return err
	}
	if _, err = io.Copy(bw, tmp); err != nil {
		tmp.Close()
		fh.Close()
		return fmt.Errorf("2bit: copying records: %s", err)
	}
	tmp.Close()

	if err = bw.Flush(); err != nil {
		fh.Close()
		return err
	}
	return fh.Close()
}
