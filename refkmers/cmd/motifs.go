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
	"strings"

	"github.com/shenwei356/RefKmers/refkmers/kmer"
	"github.com/spf13/cobra"
)

var motifsCmd = &cobra.Command{
	Use:   "motifs",
	Short: "List all possible k-mers in the column order of count matrices",
	Long: `List all possible k-mers in the column order of count matrices

The output is the same as k<k>_motifs.txt of 'refkmers count' for k <= --max-full-k.

`,
	Run: func(cmd *cobra.Command, args []string) {
		opt := getOptions(cmd)

		k := getFlagPositiveInt(cmd, "kmer")
		if k > kmer.MaxFullK {
			checkError(fmt.Errorf("value of -k/--kmer should be in range of [1, %d]", kmer.MaxFullK))
		}
		canonical := getFlagBool(cmd, "canonical")
		outFile := getFlagString(cmd, "out-file")

		cols, err := kmer.NewColumns(k, canonical)
		checkError(err)

		checkError(writeMotifs(outFile, cols, strings.HasSuffix(outFile, ".gz"), opt.CompressionLevel))
	},
}

func init() {
	utilsCmd.AddCommand(motifsCmd)

	motifsCmd.Flags().IntP("kmer", "k", 0,
		formatFlagUsage(fmt.Sprintf(`K-mer size, in range of [1, %d].`, kmer.MaxFullK)))

	motifsCmd.Flags().BoolP("canonical", "c", false,
		formatFlagUsage(`Only list canonical k-mers.`))

	motifsCmd.Flags().StringP("out-file", "o", "-",
		formatFlagUsage(`Out file, supports and recommends a ".gz" suffix ("-" for stdout).`))

	motifsCmd.SetUsageTemplate(usageTemplate("-k <k> [-c]"))
}
