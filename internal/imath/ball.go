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

import "math"

// RollingBallBackground estimates the background of the 2D plane given by data and
// width by raising a ball of the given radius under each pixel of the intensity
// surface until it touches: res[p] = min over the ball support m of
// (data[p+m] - h(m)) + h(0), with ball height h(m) = sqrt(radius^2 - |m|^2).
// Out of bounds neighbors are ignored. The estimate never exceeds the input.
// res must not alias data
func RollingBallBackground(res, data []float32, width, radius int) {
	height := len(data) / width
	hw := DiskHalfWidths(radius)

	// ball heights per chord position
	hts := make([][]float32, len(hw))
	for i, half := range hw {
		dy := i - radius
		row := make([]float32, 2*half+1)
		for dx := -half; dx <= half; dx++ {
			row[dx+half] = float32(math.Sqrt(float64(radius*radius - dy*dy - dx*dx)))
		}
		hts[i] = row
	}
	center := float32(radius)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			min := posInf
			for dy := -radius; dy <= radius; dy++ {
				yy := y + dy
				if yy < 0 || yy >= height {
					continue
				}
				half := hw[dy+radius]
				ht := hts[dy+radius]
				lo, hi := -half, half
				if x+lo < 0 {
					lo = -x
				}
				if x+hi > width-1 {
					hi = width - 1 - x
				}
				base := yy*width + x
				for dx := lo; dx <= hi; dx++ {
					v := data[base+dx] - ht[dx+half]
					if v < min {
						min = v
					}
				}
			}
			res[y*width+x] = min + center
		}
	}
}
