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

// Package bed reads the first three columns of BED files.
package bed

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"github.com/shenwei356/xopen"
)

// Interval is a 0-based half-open region.
type Interval struct {
	Chrom string
	Start int
	End   int
}

// Len returns the length of the interval.
func (i Interval) Len() int {
	return i.End - i.Start
}

func (i Interval) String() string {
	return fmt.Sprintf("%s:%d-%d", i.Chrom, i.Start, i.End)
}

// ErrMalformedLine means a BED line can not be parsed.
var ErrMalformedLine = errors.New("bed: malformed line")

// Reader provides intervals from a BED source.
type Reader interface {
	Read() ([]Interval, error)
}

// FileReader reads intervals from a plain or gzipped BED file.
type FileReader struct {
	File string

	// Strict makes malformed lines an error, otherwise they are skipped.
	Strict bool

	// Keep filters intervals by chromosome, nil for keeping all.
	Keep func(chrom string) bool
}

// Read reads all intervals in the order of the file.
func (r *FileReader) Read() ([]Interval, error) {
	return ReadFile(r.File, r.Strict, r.Keep)
}

// ReadFile reads intervals from a BED file, "-" for stdin.
// Blank lines and lines starting with "#", "track" or "browser" are ignored,
// and only the first three columns are used.
func ReadFile(file string, strict bool, keep func(chrom string) bool) ([]Interval, error) {
	if file != "-" {
		info, err := os.Stat(file)
		if err != nil {
			return nil, errors.Wrapf(err, "reading BED file: %s", file)
		}
		if info.Size() == 0 {
			return []Interval{}, nil
		}
	}

	fh, err := xopen.Ropen(file)
	if err != nil {
		return nil, errors.Wrapf(err, "reading BED file: %s", file)
	}
	defer fh.Close()

	ivs := make([]Interval, 0, 1024)
	scanner := bufio.NewScanner(fh)
	scanner.Buffer(make([]byte, 0, 64<<10), 16<<20)

	var line []byte
	var iv Interval
	var ok bool
	var n int
	for scanner.Scan() {
		n++
		line = bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] == '#' ||
			bytes.HasPrefix(line, []byte("track")) || bytes.HasPrefix(line, []byte("browser")) {
			continue
		}

		iv, ok = parseLine(line)
		if !ok {
			if strict {
				return nil, errors.Wrapf(ErrMalformedLine, "%s: line %d: %q", file, n, line)
			}
			continue
		}

		if keep != nil && !keep(iv.Chrom) {
			continue
		}
		ivs = append(ivs, iv)
	}
	if err = scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading BED file: %s", file)
	}

	return ivs, nil
}

func parseLine(line []byte) (iv Interval, ok bool) {
	fields := bytes.Fields(line)
	if len(fields) < 3 {
		return iv, false
	}

	start, err := strconv.Atoi(string(fields[1]))
	if err != nil || start < 0 {
		return iv, false
	}
	end, err := strconv.Atoi(string(fields[2]))
	if err != nil || end <= start {
		return iv, false
	}

	return Interval{Chrom: string(fields[0]), Start: start, End: end}, true
}
