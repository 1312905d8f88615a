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
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/shenwei356/util/pathutil"
	"github.com/shenwei356/xopen"
	"github.com/spf13/cobra"
	"github.com/twotwotwo/sorts"
)

// Options contains the global flags
type Options struct {
	NumCPUs int
	Verbose bool

	LogFile  string
	Log2File bool

	CompressionLevel int
}

func getOptions(cmd *cobra.Command) *Options {
	threads := getFlagNonNegativeInt(cmd, "threads")
	if threads == 0 {
		threads = runtime.NumCPU()
	}

	sorts.MaxProcs = threads
	runtime.GOMAXPROCS(threads)

	logfile := getFlagString(cmd, "log")
	return &Options{
		NumCPUs: threads,
		Verbose: !getFlagBool(cmd, "quiet"),

		LogFile:  logfile,
		Log2File: logfile != "",

		CompressionLevel: -1,
	}
}

// TmpDirExt is the extension of the temporary output directory.
// Outputs are moved to the final directory only after all files are written.
const TmpDirExt = ".tmp"

// checkOutDir checks the output directory before any work.
func checkOutDir(outDir string, force bool) error {
	pwd, _ := os.Getwd()
	if outDir == "./" || outDir == "." || pwd == filepath.Clean(outDir) {
		return fmt.Errorf("output directory should not be current directory")
	}

	existed, err := pathutil.DirExists(outDir)
	if err != nil {
		return errors.Wrap(err, outDir)
	}
	if !existed {
		return nil
	}
	empty, err := pathutil.IsEmpty(outDir)
	if err != nil {
		return errors.Wrap(err, outDir)
	}
	if !empty && !force {
		return fmt.Errorf("output directory not empty: %s, use --force to overwrite", outDir)
	}
	return nil
}

// makeTmpOutDir creates a fresh temporary directory for outputs.
func makeTmpOutDir(outDir string) (string, error) {
	tmpDir := filepath.Clean(outDir) + TmpDirExt
	if err := os.RemoveAll(tmpDir); err != nil {
		return "", err
	}
	if err := os.MkdirAll(tmpDir, 0777); err != nil {
		return "", err
	}
	return tmpDir, nil
}

// commitOutDir replaces the output directory with the temporary one.
func commitOutDir(tmpDir, outDir string, verbose bool) error {
	existed, err := pathutil.DirExists(outDir)
	if err != nil {
		return errors.Wrap(err, outDir)
	}
	if existed {
		if verbose {
			log.Infof("removing old output directory: %s", outDir)
		}
		if err = os.RemoveAll(outDir); err != nil {
			return err
		}
	}
	return os.Rename(tmpDir, outDir)
}

var defaultExts = []string{".gz", ".xz", ".zst", ".bz"}

func filepathTrimExtension(file string, suffixes []string) (string, string, string) {
	if suffixes == nil {
		suffixes = defaultExts
	}

	var e, e1, e2 string
	f := strings.ToLower(file)
	for _, s := range suffixes {
		e = s
		if strings.HasSuffix(f, e) {
			e2 = e
			file = file[0 : len(file)-len(e)]
			break
		}
	}

	e1 = filepath.Ext(file)
	name := file[0 : len(file)-len(e1)]

	return name, e1, e2
}

// defaultChroms returns chr1, chr2, ..., chr22.
func defaultChroms() []string {
	chroms := make([]string, 22)
	for i := range chroms {
		chroms[i] = "chr" + strconv.Itoa(i+1)
	}
	return chroms
}

// readList reads a list of names, one per line, ignoring blank lines,
// lines starting with "#", and contents after the first whitespace.
func readList(file string) ([]string, error) {
	fh, err := xopen.Ropen(file)
	if err != nil {
		return nil, err
	}

	list := make([]string, 0, 32)
	scanner := bufio.NewScanner(fh)
	var line string
	var fields []string
	for scanner.Scan() {
		line = strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		fields = strings.Fields(line)
		list = append(list, fields[0])
	}
	if err = scanner.Err(); err != nil {
		fh.Close()
		return nil, err
	}

	return list, fh.Close()
}

// ErrUnknownChrom means a selected chromosome is not in the reference.
var ErrUnknownChrom = errors.New("unknown chromosome")

// ErrNoChroms means no chromosomes are selected.
var ErrNoChroms = errors.New("no chromosomes selected")

// sequenceLister lists reference sequences.
type sequenceLister interface {
	Names() []string
	Length(name string) (int, bool)
}

// selectChroms checks the selected chromosomes and returns them in the given
// order, with duplicates removed. If all is true, all sequences are selected.
func selectChroms(ref sequenceLister, names []string, all bool) ([]string, []int, error) {
	if all {
		names = ref.Names()
	}

	chroms := make([]string, 0, len(names))
	lens := make([]int, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}

		l, ok := ref.Length(name)
		if !ok {
			return nil, nil, errors.Wrap(ErrUnknownChrom, name)
		}
		chroms = append(chroms, name)
		lens = append(lens, l)
	}
	if len(chroms) == 0 {
		return nil, nil, ErrNoChroms
	}
	return chroms, lens, nil
}

func IntSlice2StringSlice(vals []int) []string {
	s := make([]string, len(vals))
	for i, v := range vals {
		s[i] = strconv.Itoa(v)
	}
	return s
}
