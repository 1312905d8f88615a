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
	"regexp"
	"strconv"
	"strings"

	"github.com/shenwei356/RefKmers/refkmers/refseq"
	"github.com/shenwei356/bio/seq"
	"github.com/spf13/cobra"
)

var subseqCmd = &cobra.Command{
	Use:   "subseq",
	Short: "Extract subsequence via chromosome name, position and strand",
	Long: `Extract subsequence via chromosome name, position and strand

Attention:
  1. Positions are 1-based and both ends are included, e.g., 1:100 for the first 100 bases.
  2. Windows in bins.bed are 0-based and half-open, so 'chr1 0 100' is -r 1:100.

`,
	Run: func(cmd *cobra.Command, args []string) {
		opt := getOptions(cmd)
		seq.ValidateSeq = false

		// ------------------------------

		refFile := getFlagPath(cmd, "ref")
		if refFile == "" {
			checkError(fmt.Errorf("flag -r/--ref needed"))
		}

		chrom := getFlagString(cmd, "chrom")
		if chrom == "" {
			checkError(fmt.Errorf("flag -c/--chrom needed"))
		}

		region := getFlagString(cmd, "region")
		if region == "" {
			checkError(fmt.Errorf("flag -R/--region needed"))
		}
		start, end, err := parseRegion(region)
		checkError(err)

		revcom := getFlagBool(cmd, "revcom")
		lineWidth := getFlagNonNegativeInt(cmd, "line-width")
		outFile := getFlagString(cmd, "out-file")

		// ---------------------------------------------------------------

		ref, err := refseq.Open(refFile)
		checkError(err)
		defer ref.Close()

		s0, err := ref.SubSeq(chrom, start-1, end)
		if err != nil {
			checkError(fmt.Errorf("failed to read subsequence: %s", err))
		}

		s, err := seq.NewSeq(seq.DNAredundant, s0)
		checkError(err)
		if revcom {
			s.RevComInplace()
		}

		outfh, gw, w, err := outStream(outFile, strings.HasSuffix(outFile, ".gz"), opt.CompressionLevel)
		checkError(err)

		fmt.Fprintf(outfh, ">%s:%d-%d\n", chrom, start, end)
		outfh.Write(s.FormatSeq(lineWidth))
		outfh.WriteByte('\n')

		checkError(closeOutStream(outfh, gw, w))
	},
}

var reRegion = regexp.MustCompile(`^\d+:\d+$`)

// parseRegion parses a 1-based region "start:end".
func parseRegion(region string) (int, int, error) {
	if !reRegion.MatchString(region) {
		return 0, 0, fmt.Errorf(`invalid region: %s. type "refkmers utils subseq -h" for more examples`, region)
	}
	r := strings.Split(region, ":")
	start, err := strconv.Atoi(r[0])
	if err != nil {
		return 0, 0, err
	}
	end, err := strconv.Atoi(r[1])
	if err != nil {
		return 0, 0, err
	}
	if start <= 0 || end <= 0 {
		return 0, 0, fmt.Errorf("both begin and end position should not be <= 0")
	}
	if start > end {
		return 0, 0, fmt.Errorf("begin position should be <= end position")
	}
	return start, end, nil
}

func init() {
	utilsCmd.AddCommand(subseqCmd)

	subseqCmd.Flags().StringP("ref", "r", "",
		formatFlagUsage(`Reference genome in .2bit format, or in plain or gzipped FASTA format.`))

	subseqCmd.Flags().StringP("chrom", "c", "",
		formatFlagUsage(`Chromosome name.`))

	subseqCmd.Flags().StringP("region", "R", "",
		formatFlagUsage(`Region of the subsequence (1-based, both ends included), e.g., 1:1000.`))

	subseqCmd.Flags().BoolP("revcom", "", false,
		formatFlagUsage(`Extract subsequence on the negative strand.`))

	subseqCmd.Flags().IntP("line-width", "w", 60,
		formatFlagUsage(`Line width of sequence (0 for no wrap).`))

	subseqCmd.Flags().StringP("out-file", "o", "-",
		formatFlagUsage(`Out file, supports and recommends a ".gz" suffix ("-" for stdout).`))

	subseqCmd.SetUsageTemplate(usageTemplate("-r <ref> -c <chrom> -R <start:end>"))
}
