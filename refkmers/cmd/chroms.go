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
	"strconv"
	"strings"

	"github.com/shenwei356/RefKmers/refkmers/blacklist"
	"github.com/shenwei356/RefKmers/refkmers/refseq"
	"github.com/shenwei356/bio/seq"
	"github.com/spf13/cobra"
)

var chromsCmd = &cobra.Command{
	Use:   "chroms",
	Short: "List sequence names and lengths of a reference genome",
	Long: `List sequence names and lengths of a reference genome

Output (tab-delimited):
  chrom     sequence name
  length    sequence length
  masked    bases in blacklisted regions, only with -b/--blacklist

`,
	Run: func(cmd *cobra.Command, args []string) {
		opt := getOptions(cmd)
		seq.ValidateSeq = false

		refFile := getFlagPath(cmd, "ref")
		if refFile == "" {
			checkError(fmt.Errorf("flag -r/--ref needed"))
		}
		blFiles := getFlagPathSlice(cmd, "blacklist")
		minSize := getFlagNonNegativeInt(cmd, "blacklist-min-size")
		outFile := getFlagString(cmd, "out-file")

		ref, err := refseq.Open(refFile)
		checkError(err)
		defer ref.Close()

		var bl *blacklist.Index
		if len(blFiles) > 0 {
			bl, err = readBlacklist(blacklistReaders(blFiles, nil), minSize)
			checkError(err)
		}

		outfh, gw, w, err := outStream(outFile, strings.HasSuffix(outFile, ".gz"), opt.CompressionLevel)
		checkError(err)

		if bl != nil {
			outfh.WriteString("chrom\tlength\tmasked\n")
		} else {
			outfh.WriteString("chrom\tlength\n")
		}
		buf := make([]byte, 0, 128)
		for _, name := range ref.Names() {
			length, _ := ref.Length(name)

			buf = buf[:0]
			buf = append(buf, name...)
			buf = append(buf, '\t')
			buf = strconv.AppendInt(buf, int64(length), 10)
			if bl != nil {
				buf = append(buf, '\t')
				buf = strconv.AppendInt(buf, int64(bl.MaskedBases(name)), 10)
			}
			buf = append(buf, '\n')
			outfh.Write(buf)
		}

		checkError(closeOutStream(outfh, gw, w))
	},
}

func init() {
	utilsCmd.AddCommand(chromsCmd)

	chromsCmd.Flags().StringP("ref", "r", "",
		formatFlagUsage(`Reference genome in .2bit format, or in plain or gzipped FASTA format.`))

	chromsCmd.Flags().StringSliceP("blacklist", "b", []string{},
		formatFlagUsage(`BED files of blacklisted regions.`))

	chromsCmd.Flags().IntP("blacklist-min-size", "", 1,
		formatFlagUsage(`Minimum size of blacklisted regions to use.`))

	chromsCmd.Flags().StringP("out-file", "o", "-",
		formatFlagUsage(`Out file, supports and recommends a ".gz" suffix ("-" for stdout).`))

	chromsCmd.SetUsageTemplate(usageTemplate("-r <ref> [-b <blacklist.bed>]"))
}
