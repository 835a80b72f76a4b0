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

// Package filter implements the per-channel enhancement operators of the
// processing chain: gaussian high and low pass, point spread function
// deconvolution, white top-hat, rolling ball background subtraction and
// histogram matching. All operators mutate the stack in place and spread
// their (round, channel) workload across the worker pool.
package filter

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/mlnoga/fishprep/internal/errs"
	"github.com/mlnoga/fishprep/internal/imath"
	"github.com/mlnoga/fishprep/internal/ops"
	"github.com/mlnoga/fishprep/internal/stack"
)

// Ratios below this denominator are treated as zero during deconvolution
const deconvEpsilon = 1e-12

type OpHighPass struct {
	ops.OpBase
	Sigma    float32 `json:"sigma"`
	IsVolume bool    `json:"isVolume"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpHighPassDefault() }) } // register the operator for JSON decoding

// creates an instance of the high pass operator with default parameters
func NewOpHighPassDefault() *OpHighPass { return NewOpHighPass(0, false) }

// creates an instance of the high pass operator. Active if sigma is positive
func NewOpHighPass(sigma float32, isVolume bool) *OpHighPass {
	return &OpHighPass{
		OpBase:   ops.OpBase{Type: "highPass", Active: sigma > 0},
		Sigma:    sigma,
		IsVolume: isVolume,
	}
}

// Unmarshal the parameters because the default values would otherwise be overwritten with zeros
func (op *OpHighPass) UnmarshalJSON(data []byte) error {
	type defaults OpHighPass
	def := defaults(*NewOpHighPassDefault())
	err := json.Unmarshal(data, &def)
	if err != nil {
		return err
	}
	*op = OpHighPass(def)
	return nil
}

// Subtracts a gaussian blur of the image from the image itself, clamping
// negative residuals to zero. Removes smooth background below the sigma scale
func (op *OpHighPass) Apply(f *stack.Stack, c *ops.Context) (result *stack.Stack, err error) {
	if !op.Active {
		return f, nil
	}
	if op.Sigma <= 0 {
		return nil, fmt.Errorf("%w: invalid high pass sigma %f", errs.Configuration, op.Sigma)
	}
	fmt.Fprintf(c.Log, "\trunning high pass filter on %s...\n", f.View)

	err = forEachPairBlurred(f, c, op.IsVolume, op.Sigma, func(data, blurred []float32) {
		for i, b := range blurred {
			if d := data[i] - b; d > 0 {
				data[i] = d
			} else {
				data[i] = 0
			}
		}
	})
	if err != nil {
		return nil, err
	}
	f.Stats.Clear()
	return f, nil
}

type OpLowPass struct {
	ops.OpBase
	Sigma    float32 `json:"sigma"`
	IsVolume bool    `json:"isVolume"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpLowPassDefault() }) } // register the operator for JSON decoding

// creates an instance of the low pass operator with default parameters
func NewOpLowPassDefault() *OpLowPass { return NewOpLowPass(0, false) }

// creates an instance of the low pass operator. Active if sigma is positive
func NewOpLowPass(sigma float32, isVolume bool) *OpLowPass {
	return &OpLowPass{
		OpBase:   ops.OpBase{Type: "lowPass", Active: sigma > 0},
		Sigma:    sigma,
		IsVolume: isVolume,
	}
}

// Unmarshal the parameters because the default values would otherwise be overwritten with zeros
func (op *OpLowPass) UnmarshalJSON(data []byte) error {
	type defaults OpLowPass
	def := defaults(*NewOpLowPassDefault())
	err := json.Unmarshal(data, &def)
	if err != nil {
		return err
	}
	*op = OpLowPass(def)
	return nil
}

// Replaces the image with its gaussian blur, suppressing noise above the sigma scale
func (op *OpLowPass) Apply(f *stack.Stack, c *ops.Context) (result *stack.Stack, err error) {
	if !op.Active {
		return f, nil
	}
	if op.Sigma <= 0 {
		return nil, fmt.Errorf("%w: invalid low pass sigma %f", errs.Configuration, op.Sigma)
	}
	fmt.Fprintf(c.Log, "\trunning low pass filter on %s...\n", f.View)

	err = forEachPairBlurred(f, c, op.IsVolume, op.Sigma, func(data, blurred []float32) {
		copy(data, blurred)
	})
	if err != nil {
		return nil, err
	}
	f.Stats.Clear()
	return f, nil
}

// Blurs every (round, channel) image of f with the given sigma, as a volume or
// plane by plane, and hands the original data and the blurred copy to combine.
// Chunks the pairs across the worker pool; scratch buffers are per worker
func forEachPairBlurred(f *stack.Stack, c *ops.Context, isVolume bool, sigma float32, combine func(data, blurred []float32)) error {
	return ops.RunChunked(int32(f.NumPairs()), int32(c.MaxWorkers), func(chunk, lo, hi int32) error {
		size := f.PlaneSize()
		if isVolume {
			size = f.VolumeSize()
		}
		res := make([]float32, size)
		tmp := make([]float32, size)
		for p := lo; p < hi; p++ {
			r, ch := f.Pair(int(p))
			if isVolume {
				vol := f.Volume(r, ch)
				imath.GaussFilter3D(res, tmp, vol, int(f.Width), f.PlaneSize(), sigma)
				combine(vol, res)
			} else {
				for z := int32(0); z < f.Zs; z++ {
					plane := f.Plane(r, ch, z)
					imath.GaussFilter2D(res, tmp, plane, int(f.Width), sigma)
					combine(plane, res)
				}
			}
		}
		return nil
	})
}

type OpDeconvolve struct {
	ops.OpBase
	Sigma      float32 `json:"sigma"`
	Iterations int32   `json:"iterations"`
	IsVolume   bool    `json:"isVolume"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpDeconvolveDefault() }) } // register the operator for JSON decoding

// creates an instance of the deconvolution operator with default parameters
func NewOpDeconvolveDefault() *OpDeconvolve { return NewOpDeconvolve(0, 15, false) }

// creates an instance of the deconvolution operator. Active if sigma is positive
func NewOpDeconvolve(sigma float32, iterations int32, isVolume bool) *OpDeconvolve {
	return &OpDeconvolve{
		OpBase:     ops.OpBase{Type: "deconvolve", Active: sigma > 0},
		Sigma:      sigma,
		Iterations: iterations,
		IsVolume:   isVolume,
	}
}

// Unmarshal the parameters because the default values would otherwise be overwritten with zeros
func (op *OpDeconvolve) UnmarshalJSON(data []byte) error {
	type defaults OpDeconvolve
	def := defaults(*NewOpDeconvolveDefault())
	err := json.Unmarshal(data, &def)
	if err != nil {
		return err
	}
	*op = OpDeconvolve(def)
	return nil
}

// Sharpens every (round, channel) image by Richardson-Lucy deconvolution with
// a gaussian point spread function of the given sigma. Starts from a constant
// estimate and multiplies it each iteration with the reblurred correction
// ratio. The gaussian kernel is symmetric, so it serves as its own adjoint
func (op *OpDeconvolve) Apply(f *stack.Stack, c *ops.Context) (result *stack.Stack, err error) {
	if !op.Active {
		return f, nil
	}
	if op.Sigma <= 0 {
		return nil, fmt.Errorf("%w: invalid deconvolution sigma %f", errs.Configuration, op.Sigma)
	}
	if op.Iterations <= 0 {
		return nil, fmt.Errorf("%w: invalid deconvolution iterations %d", errs.Configuration, op.Iterations)
	}
	fmt.Fprintf(c.Log, "\tdeconvolving point spread function on %s...\n", f.View)

	err = ops.RunChunked(int32(f.NumPairs()), int32(c.MaxWorkers), func(chunk, lo, hi int32) error {
		size := f.PlaneSize()
		if op.IsVolume {
			size = f.VolumeSize()
		}
		u := make([]float32, size)
		ratio := make([]float32, size)
		reblur := make([]float32, size)
		tmp := make([]float32, size)
		for p := lo; p < hi; p++ {
			r, ch := f.Pair(int(p))
			if op.IsVolume {
				op.richardsonLucy3D(f.Volume(r, ch), u, ratio, reblur, tmp, int(f.Width), f.PlaneSize())
			} else {
				for z := int32(0); z < f.Zs; z++ {
					op.richardsonLucy2D(f.Plane(r, ch, z), u, ratio, reblur, tmp, int(f.Width))
				}
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

// Deconvolves the plane given by data and width in place
func (op *OpDeconvolve) richardsonLucy2D(data, u, ratio, reblur, tmp []float32, width int) {
	for i := range u {
		u[i] = 0.5
	}
	for it := int32(0); it < op.Iterations; it++ {
		imath.GaussFilter2D(ratio, tmp, u, width, op.Sigma)
		correctionRatio(ratio, data)
		imath.GaussFilter2D(reblur, tmp, ratio, width, op.Sigma)
		for i, re := range reblur {
			u[i] *= re
		}
	}
	scrubNonFinite(data, u)
}

// Deconvolves the volume given by data, width and planeSize in place
func (op *OpDeconvolve) richardsonLucy3D(data, u, ratio, reblur, tmp []float32, width, planeSize int) {
	for i := range u {
		u[i] = 0.5
	}
	for it := int32(0); it < op.Iterations; it++ {
		imath.GaussFilter3D(ratio, tmp, u, width, planeSize, op.Sigma)
		correctionRatio(ratio, data)
		imath.GaussFilter3D(reblur, tmp, ratio, width, planeSize, op.Sigma)
		for i, re := range reblur {
			u[i] *= re
		}
	}
	scrubNonFinite(data, u)
}

// Replaces the blurred estimate with the ratio of observed over estimate.
// Vanishing estimates yield a zero ratio rather than an infinity
func correctionRatio(blurred, observed []float32) {
	for i, b := range blurred {
		if b > deconvEpsilon || b < -deconvEpsilon {
			blurred[i] = observed[i] / b
		} else {
			blurred[i] = 0
		}
	}
}

// Copies the estimate into data, replacing NaNs, infinities and negative
// values with zero
func scrubNonFinite(data, u []float32) {
	for i, v := range u {
		if v > 0 && !math.IsInf(float64(v), 1) {
			data[i] = v
		} else {
			data[i] = 0
		}
	}
}
