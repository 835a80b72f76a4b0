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


package bg

import (
	"encoding/json"
	"fmt"

	"github.com/mlnoga/fishprep/internal/errs"
	"github.com/mlnoga/fishprep/internal/imath"
	"github.com/mlnoga/fishprep/internal/ops"
	"github.com/mlnoga/fishprep/internal/stack"
)

// OpSubtractBackground removes a separately acquired background view from the
// stack plane by plane. The background stack may carry fewer channels than the
// target; channels then map via modulo. Negative results clamp to zero
type OpSubtractBackground struct {
	ops.OpBase
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpSubtractBackgroundDefaults() }) } // register the operator for JSON decoding

func NewOpSubtractBackgroundDefaults() *OpSubtractBackground { return NewOpSubtractBackground(false) }

func NewOpSubtractBackground(active bool) *OpSubtractBackground {
	return &OpSubtractBackground{
		OpBase: ops.OpBase{Type: "subtractBackground", Active: active},
	}
}

func (op *OpSubtractBackground) Apply(f *stack.Stack, c *ops.Context) (result *stack.Stack, err error) {
	if !op.Active {
		return f, nil
	}
	bg := c.BackStack
	if bg == nil {
		return nil, fmt.Errorf("%w: no background view loaded for %s", errs.Configuration, f.View)
	}
	if bg.Rounds != f.Rounds {
		return nil, fmt.Errorf("%w: background has %d rounds; %s has %d",
			errs.Configuration, bg.Rounds, f.View, f.Rounds)
	}
	if bg.Chs <= 0 || f.Chs%bg.Chs != 0 {
		return nil, fmt.Errorf("%w: background channel count %d does not divide %s channel count %d",
			errs.Configuration, bg.Chs, f.View, f.Chs)
	}
	if bg.Zs != f.Zs || !bg.EqualPlaneDims(f) {
		return nil, fmt.Errorf("%w: background volumes %dx%dx%d do not match %s volumes %dx%dx%d",
			errs.Configuration, bg.Zs, bg.Height, bg.Width, f.View, f.Zs, f.Height, f.Width)
	}

	fmt.Fprintf(c.Log, "\tremoving existing background from %s...\n", f.View)
	for r := int32(0); r < f.Rounds; r++ {
		for ch := int32(0); ch < f.Chs; ch++ {
			for z := int32(0); z < f.Zs; z++ {
				plane, bgPlane := f.Plane(r, ch, z), bg.Plane(r, ch%bg.Chs, z)
				for i, v := range bgPlane {
					plane[i] -= v
				}
			}
			clampNegative(f.Volume(r, ch))
		}
	}
	f.Stats.Clear()
	return f, nil
}

// OpEstimateBackground estimates the background of each plane with a grayscale
// disk opening and subtracts it, clamping negative results to zero. The
// (round, channel) pairs are partitioned into contiguous chunks over parallel
// workers; every worker writes only into the volumes of its own pairs
type OpEstimateBackground struct {
	ops.OpBase
	Radius int32 `json:"radius"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpEstimateBackgroundDefaults() }) } // register the operator for JSON decoding

func NewOpEstimateBackgroundDefaults() *OpEstimateBackground { return NewOpEstimateBackground(100, false) }

func NewOpEstimateBackground(radius int32, active bool) *OpEstimateBackground {
	return &OpEstimateBackground{
		OpBase: ops.OpBase{Type: "estimateBackground", Active: active},
		Radius: radius,
	}
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpEstimateBackground) UnmarshalJSON(data []byte) error {
	type defaults OpEstimateBackground
	def := defaults(*NewOpEstimateBackgroundDefaults())
	err := json.Unmarshal(data, &def)
	if err != nil {
		return err
	}
	*op = OpEstimateBackground(def)
	return nil
}

func (op *OpEstimateBackground) Apply(f *stack.Stack, c *ops.Context) (result *stack.Stack, err error) {
	if !op.Active {
		return f, nil
	}
	if op.Radius <= 0 {
		return nil, fmt.Errorf("%w: invalid background estimation radius %d", errs.Configuration, op.Radius)
	}

	fmt.Fprintf(c.Log, "\tremoving estimated background from %s...\n", f.View)
	err = ops.RunChunked(int32(f.NumPairs()), int32(c.MaxWorkers), func(chunk, lo, hi int32) error {
		open := make([]float32, f.PlaneSize())
		tmp := make([]float32, f.PlaneSize())
		for p := lo; p < hi; p++ {
			r, ch := f.Pair(int(p))
			for z := int32(0); z < f.Zs; z++ {
				plane := f.Plane(r, ch, z)
				imath.OpenDisk(open, tmp, plane, int(f.Width), int(op.Radius))
				for i := range plane {
					plane[i] -= open[i]
				}
			}
			clampNegative(f.Volume(r, ch))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	f.Stats.Clear()
	return f, nil
}

func clampNegative(data []float32) {
	for i, v := range data {
		if v < 0 {
			data[i] = 0
		}
	}
}
