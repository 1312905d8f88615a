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
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/shenwei356/RefKmers/refkmers/counter"
)

// FileInfo is the file of the run summary in the output directory.
const FileInfo = "run.toml"

// RunInfo records the configuration and outputs of a run.
type RunInfo struct {
	Version   string `toml:"version" comment:"RefKmers"`
	Reference string `toml:"reference"`

	Ks        []int `toml:"k" comment:"k-mers"`
	Canonical bool  `toml:"canonical"`
	MaxFullK  int   `toml:"max-full-k" comment:"k-mers of k <= max-full-k use all possible k-mers as columns"`
	Sparse    bool  `toml:"sparse"`

	WindowMode string `toml:"window-mode" comment:"windows"`
	WindowSize int    `toml:"window-size,omitempty"`
	WindowBED  string `toml:"window-bed,omitempty"`
	Windows    int    `toml:"windows"`

	Chromosomes []string `toml:"chromosomes"`

	Blacklists       []string `toml:"blacklists" comment:"blacklist"`
	BlacklistMinSize int      `toml:"blacklist-min-size"`
	BlacklistRegions int      `toml:"blacklist-regions"`
	OverlapMean      float64  `toml:"overlap-mean" comment:"blacklist overlap fractions of windows"`
	OverlapStdDev    float64  `toml:"overlap-stddev"`

	BinsFile string        `toml:"bins-file" comment:"outputs"`
	Counts   []*CountsInfo `toml:"counts"`
}

// CountsInfo records the outputs of one k.
type CountsInfo struct {
	K           int    `toml:"k"`
	Columns     int    `toml:"columns"`
	FullColumns bool   `toml:"full-columns"`
	NonZeros    int    `toml:"nonzeros"`
	CountsFile  string `toml:"counts-file"`
	MotifsFile  string `toml:"motifs-file"`

	Positions   uint64 `toml:"positions"`
	Ambiguous   uint64 `toml:"ambiguous"`
	Blacklisted uint64 `toml:"blacklisted"`
	Counted     uint64 `toml:"counted"`
}

func newCountsInfo(m *counter.Matrix, stats counter.Stats, nnz int, countsFile, motifsFile string) *CountsInfo {
	_, cols := m.Dims()
	return &CountsInfo{
		K:           m.K(),
		Columns:     cols,
		FullColumns: m.Columns().Full(),
		NonZeros:    nnz,
		CountsFile:  countsFile,
		MotifsFile:  motifsFile,

		Positions:   stats.Positions,
		Ambiguous:   stats.Ambiguous,
		Blacklisted: stats.Blacklisted,
		Counted:     stats.Counted,
	}
}

func readRunInfo(file string) (*RunInfo, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	info := &RunInfo{}
	if err = toml.Unmarshal(data, info); err != nil {
		return nil, err
	}
	return info, nil
}

func writeRunInfo(file string, info *RunInfo) error {
	fh, err := os.Create(file)
	if err != nil {
		return err
	}
	data, err := toml.Marshal(info)
	if err != nil {
		fh.Close()
		return err
	}
	if _, err = fh.Write(data); err != nil {
		fh.Close()
		return err
	}
	return fh.Close()
}
