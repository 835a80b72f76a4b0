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


package imath

import (
	"math"

	"github.com/mlnoga/fishprep/internal/qsort"
)

// PercentileSorted returns the q-th percentile (q in [0,100]) of ascending sorted data,
// linearly interpolating between the two closest ranks
func PercentileSorted(sorted []float32, q float32) float32 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	h := float64(q) / 100 * float64(n-1)
	lo := int(math.Floor(h))
	if lo >= n-1 {
		return sorted[n-1]
	}
	frac := float32(h - float64(lo))
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// Percentile sorts a copy of data and returns its q-th percentile.
// Data must not contain IEEE NaN
func Percentile(data []float32, q float32) float32 {
	tmp := make([]float32, len(data))
	copy(tmp, data)
	qsort.QSortFloat32(tmp)
	return PercentileSorted(tmp, q)
}
