// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.


package ops

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/mlnoga/fishprep/internal/errs"
)

func TestChunkBounds(t *testing.T) {
	tests := []struct {
		n, workers int32
		want       []int32
	}{
		{10, 3, []int32{0, 3, 6, 10}},
		{49, 6, []int32{0, 8, 16, 24, 32, 40, 49}},
		{5, 8, []int32{0, 0, 1, 1, 2, 3, 3, 4, 5}},
		{4, 1, []int32{0, 4}},
		{0, 4, []int32{0, 0, 0, 0, 0}},
		{7, 0, []int32{0, 7}},
	}
	for _, tc := range tests {
		got := ChunkBounds(tc.n, tc.workers)
		if len(got) != len(tc.want) {
			t.Errorf("ChunkBounds(%d,%d)=%v; want %v", tc.n, tc.workers, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("ChunkBounds(%d,%d)=%v; want %v", tc.n, tc.workers, got, tc.want)
				break
			}
		}
	}
}

// any worker count must cover every item exactly once
func TestRunChunkedCoverage(t *testing.T) {
	for _, workers := range []int32{1, 2, 6, 64} {
		n := int32(49)
		counts := make([]int32, n)
		err := RunChunked(n, workers, func(chunk, lo, hi int32) error {
			for i := lo; i < hi; i++ {
				atomic.AddInt32(&counts[i], 1)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("workers=%d: unexpected error %v", workers, err)
		}
		for i, c := range counts {
			if c != 1 {
				t.Errorf("workers=%d: item %d processed %d times; want 1", workers, i, c)
			}
		}
	}
}

func TestRunChunkedError(t *testing.T) {
	boom := errors.New("boom")
	err := RunChunked(10, 4, func(chunk, lo, hi int32) error {
		if chunk == 2 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Errorf("error %v does not wrap the worker's error", err)
	}
	if errors.Is(err, errs.Worker) {
		t.Errorf("plain worker errors must not be classified as panics: %v", err)
	}
}

func TestRunChunkedPanic(t *testing.T) {
	err := RunChunked(10, 4, func(chunk, lo, hi int32) error {
		if chunk == 1 {
			panic("blown fuse")
		}
		return nil
	})
	if err == nil {
		t.Fatalf("expected error after worker panic, got none")
	}
	if !errors.Is(err, errs.Worker) {
		t.Errorf("error %v is not a worker error", err)
	}
}
