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

package refseq

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/shenwei356/RefKmers/refkmers/twobit"
)

var fasta = `>chr1 the first one
ACGTACGT
NNacgt
>chr2
GGGCCC
>chrM desc
A
`

var expected = map[string]string{
	"chr1": "ACGTACGTNNacgt",
	"chr2": "GGGCCC",
	"chrM": "A",
}

func checkAccessor(t *testing.T, a Accessor, upper bool) {
	names := a.Names()
	if len(names) != 3 || names[0] != "chr1" || names[1] != "chr2" || names[2] != "chrM" {
		t.Errorf("unexpected sequence names: %v", names)
		return
	}
	for name, s := range expected {
		if upper {
			s = string(bytes.ToUpper([]byte(s)))
		}
		l, ok := a.Length(name)
		if !ok || l != len(s) {
			t.Errorf("%s: expected length: %d, results: %d", name, len(s), l)
		}
		sub, err := a.SubSeq(name, 1, len(s))
		if err != nil {
			t.Error(err)
			return
		}
		if string(sub) != s[1:] {
			t.Errorf("%s: expected: %s, results: %s", name, s[1:], sub)
		}
	}
	if _, err := a.SubSeq("chr2", 3, 7); err == nil {
		t.Errorf("out of range subsequence should fail")
	}
	if _, err := a.SubSeq("chrX", 0, 1); err == nil {
		t.Errorf("missing sequence should fail")
	}
}

func TestFasta(t *testing.T) {
	file := filepath.Join(t.TempDir(), "t.fa")
	if err := os.WriteFile(file, []byte(fasta), 0644); err != nil {
		t.Error(err)
		return
	}

	a, err := Open(file)
	if err != nil {
		t.Error(err)
		return
	}
	if _, ok := a.(*Fasta); !ok {
		t.Errorf("FASTA file should be read with Fasta")
	}
	checkAccessor(t, a, false)

	if _, err = a.SubSeq("chr1", 2, 1); errors.Cause(err) != ErrOutOfRange {
		t.Errorf("expected error: %s, results: %v", ErrOutOfRange, err)
	}
	a.Close()
}

func TestTwoBit(t *testing.T) {
	file := filepath.Join(t.TempDir(), "t.2bit")
	w, err := twobit.NewWriter(file)
	if err != nil {
		t.Error(err)
		return
	}
	for _, name := range []string{"chr1", "chr2", "chrM"} {
		if err = w.WriteSeq(name, []byte(expected[name])); err != nil {
			t.Error(err)
			return
		}
	}
	if err = w.Close(); err != nil {
		t.Error(err)
		return
	}

	a, err := Open(file)
	if err != nil {
		t.Error(err)
		return
	}
	if _, ok := a.(*twobit.Reader); !ok {
		t.Errorf(".2bit file should be read with twobit.Reader")
	}
	checkAccessor(t, a, true)
	a.Close()
}

func TestDuplicatedID(t *testing.T) {
	file := filepath.Join(t.TempDir(), "dup.fa")
	if err := os.WriteFile(file, []byte(">a\nACGT\n>a x\nAC\n"), 0644); err != nil {
		t.Error(err)
		return
	}
	if _, err := NewFasta(file); errors.Cause(err) != ErrDuplicatedID {
		t.Errorf("expected error: %s, results: %v", ErrDuplicatedID, err)
	}
}
