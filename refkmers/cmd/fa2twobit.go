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
	"io"
	"os"
	"time"

	"github.com/shenwei356/RefKmers/refkmers/twobit"
	"github.com/shenwei356/bio/seq"
	"github.com/shenwei356/bio/seqio/fastx"
	"github.com/spf13/cobra"
)

var fa2twobitCmd = &cobra.Command{
	Use:   "fa2twobit",
	Short: "Convert a FASTA file to .2bit format",
	Long: `Convert a FASTA file to .2bit format

Attention:
  1. Sequence IDs (the first words of headers) should be unique.
  2. Bases other than A, C, G, T (case ignored) are saved as N.
  3. Lowercase bases are kept via mask blocks.

`,
	Run: func(cmd *cobra.Command, args []string) {
		opt := getOptions(cmd)
		seq.ValidateSeq = false

		var fhLog *os.File
		if opt.Log2File {
			fhLog = addLog(opt.LogFile, opt.Verbose)
		}
		timeStart := time.Now()
		defer func() {
			if opt.Verbose || opt.Log2File {
				log.Info()
				log.Infof("elapsed time: %s", time.Since(timeStart))
				log.Info()
			}
			if opt.Log2File {
				fhLog.Close()
			}
		}()

		// ---------------------------------------------------------------

		inFile := getFlagPath(cmd, "in-file")
		if inFile == "" {
			checkError(fmt.Errorf("flag -i/--in-file needed"))
		}

		outFile := getFlagPath(cmd, "out-file")
		if outFile == "" {
			if isStdin(inFile) {
				checkError(fmt.Errorf("flag -o/--out-file needed for input from stdin"))
			}
			outFile, _, _ = filepathTrimExtension(inFile, nil)
			outFile += ".2bit"
		}

		n, size, err := fasta2twobit(inFile, outFile)
		checkError(err)

		if opt.Verbose || opt.Log2File {
			log.Infof("%d sequences with %d bases saved to %s", n, size, outFile)
		}
	},
}

// fasta2twobit converts a FASTA file to a .2bit file.
func fasta2twobit(inFile, outFile string) (n int, size int, err error) {
	fastxReader, err := fastx.NewReader(nil, inFile, "")
	if err != nil {
		return 0, 0, err
	}
	defer fastxReader.Close()

	w, err := twobit.NewWriter(outFile)
	if err != nil {
		return 0, 0, err
	}

	var record *fastx.Record
	for {
		record, err = fastxReader.Read()
		if err != nil {
			if err == io.EOF {
				break
			}
			w.Close()
			os.Remove(outFile)
			return 0, 0, err
		}

		if err = w.WriteSeq(string(record.ID), record.Seq.Seq); err != nil {
			w.Close()
			os.Remove(outFile)
			return 0, 0, err
		}
		n++
		size += len(record.Seq.Seq)
	}

	return n, size, w.Close()
}

func init() {
	utilsCmd.AddCommand(fa2twobitCmd)

	fa2twobitCmd.Flags().StringP("in-file", "i", "",
		formatFlagUsage(`Input FASTA file, plain or gzipped. "-" for stdin.`))

	fa2twobitCmd.Flags().StringP("out-file", "o", "",
		formatFlagUsage(`Output .2bit file. The default is the input file with the extension replaced by ".2bit".`))

	fa2twobitCmd.SetUsageTemplate(usageTemplate("-i <in.fa.gz> [-o <out.2bit>]"))
}
