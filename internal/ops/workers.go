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
	"fmt"

	"github.com/mlnoga/fishprep/internal/errs"
)

// ChunkBounds partitions n work items into one contiguous chunk per worker and
// returns the workers+1 chunk boundaries. The final boundary is pinned to n so
// no tail item is lost to rounding. Chunks may be empty when workers exceed items
func ChunkBounds(n, workers int32) []int32 {
	if workers < 1 {
		workers = 1
	}
	bounds := make([]int32, workers+1)
	for i := int32(1); i < workers; i++ {
		bounds[i] = int32((float64(n) / float64(workers)) * float64(i))
	}
	bounds[workers] = n
	return bounds
}

// RunChunked processes items [0,n) on parallel workers, each receiving one
// contiguous chunk of the index space. Workers must write results keyed by item
// index, never by chunk id, so the outcome is identical for any worker count.
// A panic in a worker is recovered and reported as a worker error naming the chunk
func RunChunked(n, workers int32, f func(chunk, lo, hi int32) error) (err error) {
	if n <= 0 {
		return nil
	}
	bounds := ChunkBounds(n, workers)
	errCh := make(chan error, len(bounds)-1)
	launched := 0
	for chunk := 0; chunk < len(bounds)-1; chunk++ {
		lo, hi := bounds[chunk], bounds[chunk+1]
		if lo >= hi {
			continue
		}
		launched++
		go func(chunk, lo, hi int32) {
			defer func() {
				if r := recover(); r != nil {
					errCh <- fmt.Errorf("%w: chunk %d items [%d,%d): panic: %v", errs.Worker, chunk, lo, hi, r)
				}
			}()
			errCh <- f(chunk, lo, hi)
		}(int32(chunk), lo, hi)
	}
	for i := 0; i < launched; i++ {
		if e := <-errCh; e != nil {
			if err == nil {
				err = e
			} else {
				err = errors.New(err.Error() + "; " + e.Error())
			}
		}
	}
	return err
}
