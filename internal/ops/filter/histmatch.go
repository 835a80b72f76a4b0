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

package filter

import (
	"fmt"
	"math"

	"github.com/mlnoga/fishprep/internal/imath"
	"github.com/mlnoga/fishprep/internal/ops"
	"github.com/mlnoga/fishprep/internal/stack"
)

type OpMatchHistograms struct {
	ops.OpBase
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpMatchHistogramsDefault() }) } // register the operator for JSON decoding

// creates an instance of the histogram matching operator with default parameters
func NewOpMatchHistogramsDefault() *OpMatchHistograms { return NewOpMatchHistograms(false) }

// creates an instance of the histogram matching operator
func NewOpMatchHistograms(active bool) *OpMatchHistograms {
	return &OpMatchHistograms{
		OpBase: ops.OpBase{Type: "matchHistograms", Active: active},
	}
}

// Remaps every (round, channel) volume onto the distribution of the dimmest
// volume, so no channel is brightened beyond its signal. The dimmest volume is
// the one with the lowest mean; ties pick the earliest in round-major order.
// Matching runs in the integer working domain after scaling by 2^16, which
// also snaps the reference volume itself onto the quantization grid
func (op *OpMatchHistograms) Apply(f *stack.Stack, c *ops.Context) (result *stack.Stack, err error) {
	if !op.Active {
		return f, nil
	}
	fmt.Fprintf(c.Log, "\tapplying histogram matching on %s...\n", f.View)

	minR, minC := int32(0), int32(0)
	minMean := float32(math.MaxFloat32)
	for r := int32(0); r < f.Rounds; r++ {
		for ch := int32(0); ch < f.Chs; ch++ {
			if m := f.VolumeMean(r, ch); m < minMean {
				minR, minC, minMean = r, ch, m
			}
		}
	}
	ref := make([]float32, f.VolumeSize())
	imath.Quantize(ref, f.Volume(minR, minC))

	// the reference is matched as well, which reduces to the identity
	err = ops.RunChunked(int32(f.NumPairs()), int32(c.MaxWorkers), func(chunk, lo, hi int32) error {
		q := make([]float32, f.VolumeSize())
		for p := lo; p < hi; p++ {
			r, ch := f.Pair(int(p))
			vol := f.Volume(r, ch)
			imath.Quantize(q, vol)
			imath.MatchHistogram(q, q, ref)
			imath.Dequantize(vol, q)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	f.Stats.Clear()
	return f, nil
}
