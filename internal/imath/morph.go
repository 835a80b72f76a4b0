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

const (
	posInf = float32(math.MaxFloat32)
	negInf = float32(-math.MaxFloat32)
)

// DiskHalfWidths returns the half chord length per row offset of a flat disk
// structuring element: row dy covers dx in [-hw[dy+radius], hw[dy+radius]].
// A point (dy,dx) belongs to the disk iff dy*dy+dx*dx <= radius*radius
func DiskHalfWidths(radius int) []int {
	hw := make([]int, 2*radius+1)
	for dy := -radius; dy <= radius; dy++ {
		hw[dy+radius] = int(math.Sqrt(float64(radius*radius - dy*dy)))
	}
	return hw
}

// Scratch buffers for the running min/max row filters, sized for the widest chord
type morphScratch struct {
	row, pad, g, h []float32
}

func newMorphScratch(width, radius int) *morphScratch {
	n := width + 2*radius
	return &morphScratch{
		row: make([]float32, width),
		pad: make([]float32, n),
		g:   make([]float32, n),
		h:   make([]float32, n),
	}
}

// 1D grayscale erosion of data with a centered window of half width k, out of bounds
// samples ignored. Van Herk running minimum over a padded copy: the window endpoints
// stay exactly one block length apart, so prefix and suffix minima cover it exactly
func erodeRow(res, data []float32, sc *morphScratch, k int) {
	n := len(data)
	if k <= 0 {
		copy(res, data)
		return
	}
	w := 2*k + 1
	N := n + 2*k
	pad, g, h := sc.pad[:N], sc.g[:N], sc.h[:N]
	for i := 0; i < k; i++ {
		pad[i], pad[n+k+i] = posInf, posInf
	}
	copy(pad[k:n+k], data)
	for x := 0; x < N; x++ {
		if x%w == 0 || pad[x] < g[x-1] {
			g[x] = pad[x]
		} else {
			g[x] = g[x-1]
		}
	}
	for x := N - 1; x >= 0; x-- {
		if x == N-1 || (x+1)%w == 0 || pad[x] < h[x+1] {
			h[x] = pad[x]
		} else {
			h[x] = h[x+1]
		}
	}
	for x := 0; x < n; x++ {
		if h[x] < g[x+2*k] {
			res[x] = h[x]
		} else {
			res[x] = g[x+2*k]
		}
	}
}

// 1D grayscale dilation of data with a centered window of half width k, mirroring erodeRow
func dilateRow(res, data []float32, sc *morphScratch, k int) {
	n := len(data)
	if k <= 0 {
		copy(res, data)
		return
	}
	w := 2*k + 1
	N := n + 2*k
	pad, g, h := sc.pad[:N], sc.g[:N], sc.h[:N]
	for i := 0; i < k; i++ {
		pad[i], pad[n+k+i] = negInf, negInf
	}
	copy(pad[k:n+k], data)
	for x := 0; x < N; x++ {
		if x%w == 0 || pad[x] > g[x-1] {
			g[x] = pad[x]
		} else {
			g[x] = g[x-1]
		}
	}
	for x := N - 1; x >= 0; x-- {
		if x == N-1 || (x+1)%w == 0 || pad[x] > h[x+1] {
			h[x] = pad[x]
		} else {
			h[x] = h[x+1]
		}
	}
	for x := 0; x < n; x++ {
		if h[x] > g[x+2*k] {
			res[x] = h[x]
		} else {
			res[x] = g[x+2*k]
		}
	}
}

// ErodeDisk computes the grayscale erosion of the 2D plane given by data and width
// with a flat disk structuring element of the given radius, and stores the result in res.
// The disk is decomposed into per row chords, each eroded with a running minimum,
// so cost grows linearly rather than quadratically with the radius
func ErodeDisk(res, data []float32, width, radius int) {
	height := len(data) / width
	hw := DiskHalfWidths(radius)
	sc := newMorphScratch(width, radius)
	for y := 0; y < height; y++ {
		resRow := res[y*width : (y+1)*width]
		for x := range resRow {
			resRow[x] = posInf
		}
		for dy := -radius; dy <= radius; dy++ {
			yy := y + dy
			if yy < 0 || yy >= height {
				continue
			}
			erodeRow(sc.row, data[yy*width:(yy+1)*width], sc, hw[dy+radius])
			for x := 0; x < width; x++ {
				if sc.row[x] < resRow[x] {
					resRow[x] = sc.row[x]
				}
			}
		}
	}
}

// DilateDisk computes the grayscale dilation of the 2D plane given by data and width
// with a flat disk structuring element of the given radius, and stores the result in res
func DilateDisk(res, data []float32, width, radius int) {
	height := len(data) / width
	hw := DiskHalfWidths(radius)
	sc := newMorphScratch(width, radius)
	for y := 0; y < height; y++ {
		resRow := res[y*width : (y+1)*width]
		for x := range resRow {
			resRow[x] = negInf
		}
		for dy := -radius; dy <= radius; dy++ {
			yy := y + dy
			if yy < 0 || yy >= height {
				continue
			}
			dilateRow(sc.row, data[yy*width:(yy+1)*width], sc, hw[dy+radius])
			for x := 0; x < width; x++ {
				if sc.row[x] > resRow[x] {
					resRow[x] = sc.row[x]
				}
			}
		}
	}
}

// OpenDisk computes the grayscale opening, an erosion followed by a dilation with a
// flat disk of the given radius. Overwrites tmp and stores the result in res.
// The opening never exceeds the input
func OpenDisk(res, tmp, data []float32, width, radius int) {
	ErodeDisk(tmp, data, width, radius)
	DilateDisk(res, tmp, width, radius)
}

// WhiteTopHatDisk subtracts the disk opening from the input, keeping small bright
// structures and removing everything wider than the disk. Overwrites open and tmp
// and stores the result in res. res may alias data
func WhiteTopHatDisk(res, open, tmp, data []float32, width, radius int) {
	OpenDisk(open, tmp, data, width, radius)
	for i, v := range data {
		res[i] = v - open[i]
	}
}
