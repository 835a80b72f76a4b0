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
	"encoding/json"
	"fmt"

	"github.com/mlnoga/fishprep/internal/errs"
	"github.com/mlnoga/fishprep/internal/imath"
	"github.com/mlnoga/fishprep/internal/ops"
	"github.com/mlnoga/fishprep/internal/stack"
)

type OpTopHat struct {
	ops.OpBase
	Radius int32 `json:"radius"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpTopHatDefault() }) } // register the operator for JSON decoding

// creates an instance of the white top-hat operator with default parameters
func NewOpTopHatDefault() *OpTopHat { return NewOpTopHat(0) }

// creates an instance of the white top-hat operator. Active if the radius is positive
func NewOpTopHat(radius int32) *OpTopHat {
	return &OpTopHat{
		OpBase: ops.OpBase{Type: "topHat", Active: radius > 0},
		Radius: radius,
	}
}

// Unmarshal the parameters because the default values would otherwise be overwritten with zeros
func (op *OpTopHat) UnmarshalJSON(data []byte) error {
	type defaults OpTopHat
	def := defaults(*NewOpTopHatDefault())
	err := json.Unmarshal(data, &def)
	if err != nil {
		return err
	}
	*op = OpTopHat(def)
	return nil
}

// Applies a white top-hat with a flat disk to every plane, keeping bright
// spots narrower than the disk and removing all broader structure
func (op *OpTopHat) Apply(f *stack.Stack, c *ops.Context) (result *stack.Stack, err error) {
	if !op.Active {
		return f, nil
	}
	if op.Radius <= 0 {
		return nil, fmt.Errorf("%w: invalid top-hat radius %d", errs.Configuration, op.Radius)
	}
	fmt.Fprintf(c.Log, "\trunning white tophat filter on %s...\n", f.View)

	err = ops.RunChunked(int32(f.NumPairs()), int32(c.MaxWorkers), func(chunk, lo, hi int32) error {
		open := make([]float32, f.PlaneSize())
		tmp := make([]float32, f.PlaneSize())
		for p := lo; p < hi; p++ {
			r, ch := f.Pair(int(p))
			for z := int32(0); z < f.Zs; z++ {
				plane := f.Plane(r, ch, z)
				imath.WhiteTopHatDisk(plane, open, tmp, plane, int(f.Width), int(op.Radius))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	f.Stats.Clear()
	return f, nil
}

type OpRollingBall struct {
	ops.OpBase
	Radius int32 `json:"radius"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpRollingBallDefault() }) } // register the operator for JSON decoding

// creates an instance of the rolling ball operator with default parameters
func NewOpRollingBallDefault() *OpRollingBall { return NewOpRollingBall(3) }

// creates an instance of the rolling ball operator. Active if the radius is positive
func NewOpRollingBall(radius int32) *OpRollingBall {
	return &OpRollingBall{
		OpBase: ops.OpBase{Type: "rollingBall", Active: radius > 0},
		Radius: radius,
	}
}

// Unmarshal the parameters because the default values would otherwise be overwritten with zeros
func (op *OpRollingBall) UnmarshalJSON(data []byte) error {
	type defaults OpRollingBall
	def := defaults(*NewOpRollingBallDefault())
	err := json.Unmarshal(data, &def)
	if err != nil {
		return err
	}
	*op = OpRollingBall(def)
	return nil
}

// Subtracts a rolling ball background estimate from every plane. The estimate
// is computed in the integer working domain after scaling by 2^16, because a
// ball of integer radius rolled directly on [0,1] floats hugs the surface and
// leaves a blank result. The estimate never exceeds the plane, so the
// difference stays non-negative
func (op *OpRollingBall) Apply(f *stack.Stack, c *ops.Context) (result *stack.Stack, err error) {
	if !op.Active {
		return f, nil
	}
	if op.Radius <= 0 {
		return nil, fmt.Errorf("%w: invalid rolling ball radius %d", errs.Configuration, op.Radius)
	}
	fmt.Fprintf(c.Log, "\tapplying rolling ball background subtraction on %s...\n", f.View)

	err = ops.RunChunked(int32(f.NumPairs()), int32(c.MaxWorkers), func(chunk, lo, hi int32) error {
		q := make([]float32, f.PlaneSize())
		bg := make([]float32, f.PlaneSize())
		for p := lo; p < hi; p++ {
			r, ch := f.Pair(int(p))
			for z := int32(0); z < f.Zs; z++ {
				plane := f.Plane(r, ch, z)
				imath.Quantize(q, plane)
				imath.RollingBallBackground(bg, q, int(f.Width), int(op.Radius))
				for i, b := range bg {
					q[i] -= b
				}
				imath.Dequantize(plane, q)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	f.Stats.Clear()
	return f, nil
}
