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

// Package refseq provides random access to reference sequences.
package refseq

import (
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/shenwei356/RefKmers/refkmers/twobit"
	"github.com/shenwei356/bio/seq"
	"github.com/shenwei356/bio/seqio/fastx"
)

// ErrSeqNotFound means the sequence does not exist.
var ErrSeqNotFound = errors.New("refseq: sequence not found")

// ErrOutOfRange means invalid coordinates of subsequences.
var ErrOutOfRange = errors.New("refseq: coordinates out of range")

// ErrDuplicatedID means more than one sequences share the same ID.
var ErrDuplicatedID = errors.New("refseq: duplicated sequence ID")

// Accessor returns subsequences of reference sequences.
// SubSeq must be safe for concurrent use.
type Accessor interface {
	// Names returns sequence names in the file order.
	Names() []string
	// Length returns the length of a sequence.
	Length(name string) (int, bool)
	// SubSeq returns bases in [start, end).
	SubSeq(name string, start, end int) ([]byte, error)
	Close() error
}

var _ Accessor = (*twobit.Reader)(nil)
var _ Accessor = (*Fasta)(nil)

// Open opens a .2bit file or a (gzipped) FASTA file.
func Open(file string) (Accessor, error) {
	if file != "-" {
		ok, err := twobit.IsTwoBit(file)
		if err != nil {
			return nil, err
		}
		if ok {
			return twobit.NewReader(file)
		}
	}
	return NewFasta(file)
}

// Fasta holds all sequences of a FASTA file in memory.
type Fasta struct {
	names []string
	seqs  map[string][]byte
}

var once sync.Once

// NewFasta reads all sequences from a plain or gzipped FASTA file.
// Sequence names are the first words of headers.
func NewFasta(file string) (*Fasta, error) {
	once.Do(func() {
		seq.ValidateSeq = false
	})

	fastxReader, err := fastx.NewReader(nil, file, "")
	if err != nil {
		return nil, err
	}
	defer fastxReader.Close()

	f := &Fasta{
		names: make([]string, 0, 32),
		seqs:  make(map[string][]byte, 32),
	}

	var record *fastx.Record
	var name string
	for {
		record, err = fastxReader.Read()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.Wrapf(err, "reading %s", file)
		}

		name = string(record.ID)
		if _, ok := f.seqs[name]; ok {
			return nil, errors.Wrap(ErrDuplicatedID, name)
		}
		f.names = append(f.names, name)
		f.seqs[name] = append([]byte(nil), record.Seq.Seq...)
	}

	return f, nil
}

// Names returns sequence names in the file order.
func (f *Fasta) Names() []string { return f.names }

// Length returns the length of a sequence.
func (f *Fasta) Length(name string) (int, bool) {
	s, ok := f.seqs[name]
	return len(s), ok
}

// SubSeq returns a copy of bases in [start, end).
func (f *Fasta) SubSeq(name string, start, end int) ([]byte, error) {
	s, ok := f.seqs[name]
	if !ok {
		return nil, errors.Wrap(ErrSeqNotFound, name)
	}
	if start < 0 || end > len(s) || start > end {
		return nil, errors.Wrapf(ErrOutOfRange, "%s:%d-%d (length: %d)", name, start, end, len(s))
	}
	return append([]byte(nil), s[start:end]...), nil
}

// Close releases sequences.
func (f *Fasta) Close() error {
	f.seqs = nil
	return nil
}
