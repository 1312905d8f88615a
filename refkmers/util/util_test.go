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

package util

import (
	"testing"
)

func TestUniqUint64s(t *testing.T) {
	tests := []struct {
		in, out []uint64
	}{
		{[]uint64{}, []uint64{}},
		{[]uint64{3}, []uint64{3}},
		{[]uint64{3, 1, 2}, []uint64{1, 2, 3}},
		{[]uint64{2, 2, 1}, []uint64{1, 2}},
		{[]uint64{1, 1, 2, 2, 2, 3, 3}, []uint64{1, 2, 3}},
		{[]uint64{5, 5, 5, 5}, []uint64{5}},
	}
	for i, test := range tests {
		list := append([]uint64{}, test.in...)
		UniqUint64s(&list)
		if len(list) != len(test.out) {
			t.Errorf("#%d: expected: %v, results: %v", i, test.out, list)
			continue
		}
		for j := range list {
			if list[j] != test.out[j] {
				t.Errorf("#%d: expected: %v, results: %v", i, test.out, list)
				break
			}
		}
	}
}

func TestSearchUint64s(t *testing.T) {
	list := []uint64{1, 4, 9, 16}
	for i, v := range list {
		if j := SearchUint64s(list, v); j != i {
			t.Errorf("%d: expected: %d, results: %d", v, i, j)
		}
	}
	for _, v := range []uint64{0, 2, 17} {
		if j := SearchUint64s(list, v); j != -1 {
			t.Errorf("%d: expected: -1, results: %d", v, j)
		}
	}
}
