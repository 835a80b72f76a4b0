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


package stack

import (
	"fmt"

	"github.com/mlnoga/fishprep/internal/stats"
)

// A 5-dimensional image stack for one view of one field of view, indexed
// [round, channel, zplane, y, x]. Intensities are float32 nominally in [0,1].
type Stack struct {
	View string // View name within the experiment, for log output
	Fov  string // Field of view ID, for log output

	Rounds int32 // Imaging rounds
	Chs    int32 // Channels per round
	Zs     int32 // Z planes per channel
	Height int32 // Y extent of each plane
	Width  int32 // X extent of each plane

	Data []float32 // Flat data in round-major order, x most quickly varying

	Stats *stats.Stats // Lazily computed statistics over Data
}

// Creates a stack with the given dimensions. Data is not copied, allocated if nil
func NewStack(rounds, chs, zs, height, width int32, data []float32) *Stack {
	numElems := int(rounds) * int(chs) * int(zs) * int(height) * int(width)
	if data == nil {
		data = make([]float32, numElems)
	}
	return &Stack{
		Rounds: rounds,
		Chs:    chs,
		Zs:     zs,
		Height: height,
		Width:  width,
		Data:   data,
		Stats:  stats.NewStats(data),
	}
}

// Creates an empty stack with the same dimensions and labels as the given one
func NewStackLike(s *Stack) *Stack {
	res := NewStack(s.Rounds, s.Chs, s.Zs, s.Height, s.Width, nil)
	res.View, res.Fov = s.View, s.Fov
	return res
}

// Creates a deep copy of the stack
func (s *Stack) Clone() *Stack {
	res := NewStackLike(s)
	copy(res.Data, s.Data)
	return res
}

func (s *Stack) PlaneSize() int  { return int(s.Height) * int(s.Width) }
func (s *Stack) VolumeSize() int { return int(s.Zs) * s.PlaneSize() }
func (s *Stack) NumPairs() int   { return int(s.Rounds) * int(s.Chs) }
func (s *Stack) NumPlanes() int  { return s.NumPairs() * int(s.Zs) }
func (s *Stack) Pixels() int     { return len(s.Data) }

// Returns the (round, channel) pair for a flat pair index in round-major order
func (s *Stack) Pair(i int) (r, c int32) {
	return int32(i) / s.Chs, int32(i) % s.Chs
}

// Returns the 2-D plane [y,x] at the given indices as an aliasing subslice
func (s *Stack) Plane(r, c, z int32) []float32 {
	offset := ((int(r)*int(s.Chs)+int(c))*int(s.Zs) + int(z)) * s.PlaneSize()
	return s.Data[offset : offset+s.PlaneSize()]
}

// Returns the 3-D volume [z,y,x] for the given round and channel as an aliasing subslice
func (s *Stack) Volume(r, c int32) []float32 {
	offset := (int(r)*int(s.Chs) + int(c)) * s.VolumeSize()
	return s.Data[offset : offset+s.VolumeSize()]
}

// Reports whether both stacks have identical dimensions
func (s *Stack) EqualDims(o *Stack) bool {
	return s.Rounds == o.Rounds && s.Chs == o.Chs && s.Zs == o.Zs &&
		s.Height == o.Height && s.Width == o.Width
}

// Reports whether both stacks share plane geometry, ignoring rounds and channels
func (s *Stack) EqualPlaneDims(o *Stack) bool {
	return s.Height == o.Height && s.Width == o.Width
}

// Writes the maximum intensity projection along z of the given volume into dst,
// which must have plane size. For single-plane volumes this is a copy
func (s *Stack) MaxProjectZ(r, c int32, dst []float32) {
	vol, ps := s.Volume(r, c), s.PlaneSize()
	copy(dst, vol[:ps])
	for z := 1; z < int(s.Zs); z++ {
		plane := vol[z*ps : (z+1)*ps]
		for i, v := range plane {
			if v > dst[i] {
				dst[i] = v
			}
		}
	}
}

// Mean intensity of the (r,c) volume
func (s *Stack) VolumeMean(r, c int32) float32 {
	sum := float64(0)
	for _, v := range s.Volume(r, c) {
		sum += float64(v)
	}
	return float32(sum / float64(s.VolumeSize()))
}

func (s *Stack) String() string {
	return fmt.Sprintf("%s-%s [%d rounds x %d chs x %d z] planes of %d x %d",
		s.View, s.Fov, s.Rounds, s.Chs, s.Zs, s.Height, s.Width)
}
