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

// Package level implements the final clip and scale step. Each chunk, a z
// plane or a (round, channel) volume, is clipped to a percentile range with
// its lower bound moved to zero, then intensities are leveled back into [0,1]
// per chunk or across the whole stack.
package level

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mlnoga/fishprep/internal/errs"
	"github.com/mlnoga/fishprep/internal/imath"
	"github.com/mlnoga/fishprep/internal/ops"
	"github.com/mlnoga/fishprep/internal/qsort"
	"github.com/mlnoga/fishprep/internal/stack"
)

type LevelMethod int

const (
	LMScaleByImage          LevelMethod = iota // divide everything by the global maximum
	LMScaleByChunk                             // divide each chunk by its own maximum
	LMScaleSaturatedByImage                    // divide everything by the global maximum only if it exceeds 1
	LMScaleSaturatedByChunk                    // divide each chunk by its own maximum only if it exceeds 1
)

func (lm LevelMethod) String() string {
	switch lm {
	case LMScaleByImage:
		return "SCALE_BY_IMAGE"
	case LMScaleByChunk:
		return "SCALE_BY_CHUNK"
	case LMScaleSaturatedByImage:
		return "SCALE_SATURATED_BY_IMAGE"
	case LMScaleSaturatedByChunk:
		return "SCALE_SATURATED_BY_CHUNK"
	}
	return fmt.Sprintf("LevelMethod(%d)", int(lm))
}

// ParseLevelMethod maps a textual method name to its constant, ignoring case.
// An empty name selects scaling by image, any other unknown name is a
// configuration error
func ParseLevelMethod(s string) (LevelMethod, error) {
	switch strings.ToUpper(s) {
	case "", "SCALE_BY_IMAGE":
		return LMScaleByImage, nil
	case "SCALE_BY_CHUNK":
		return LMScaleByChunk, nil
	case "SCALE_SATURATED_BY_IMAGE":
		return LMScaleSaturatedByImage, nil
	case "SCALE_SATURATED_BY_CHUNK":
		return LMScaleSaturatedByChunk, nil
	}
	return 0, fmt.Errorf("%w: unknown level method %q", errs.Configuration, s)
}

type OpClipScale struct {
	ops.OpBase
	PMin        float32     `json:"pMin"`
	PMax        float32     `json:"pMax"`
	IsVolume    bool        `json:"isVolume"`
	LevelMethod LevelMethod `json:"levelMethod"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpClipScaleDefault() }) } // register the operator for JSON decoding

// creates an instance of the clip and scale operator with default parameters
func NewOpClipScaleDefault() *OpClipScale { return NewOpClipScale(0, 99.9, false, LMScaleByImage) }

// creates an instance of the clip and scale operator, active by default
func NewOpClipScale(pMin, pMax float32, isVolume bool, levelMethod LevelMethod) *OpClipScale {
	return &OpClipScale{
		OpBase:      ops.OpBase{Type: "clipScale", Active: true},
		PMin:        pMin,
		PMax:        pMax,
		IsVolume:    isVolume,
		LevelMethod: levelMethod,
	}
}

// Unmarshal the parameters because the default values would otherwise be overwritten with zeros
func (op *OpClipScale) UnmarshalJSON(data []byte) error {
	type defaults OpClipScale
	def := defaults(*NewOpClipScaleDefault())
	err := json.Unmarshal(data, &def)
	if err != nil {
		return err
	}
	*op = OpClipScale(def)
	return nil
}

// Clips every chunk to its [PMin, PMax] percentile range and moves the lower
// bound to zero, so all but the brightest intensities drop out. Afterwards
// intensities are leveled according to the method: dividing each chunk by its
// own maximum, or everything by the global maximum, unconditionally or only
// when the maximum saturates beyond 1
func (op *OpClipScale) Apply(f *stack.Stack, c *ops.Context) (result *stack.Stack, err error) {
	if !op.Active {
		return f, nil
	}
	if op.PMin < 0 || op.PMax > 100 || op.PMin > op.PMax {
		return nil, fmt.Errorf("%w: invalid percentile range [%f, %f]", errs.Configuration, op.PMin, op.PMax)
	}
	fmt.Fprintf(c.Log, "\tclip and scaling %s...\n", f.View)

	numChunks, chunkSize := f.NumPlanes(), f.PlaneSize()
	if op.IsVolume {
		numChunks, chunkSize = f.NumPairs(), f.VolumeSize()
	}

	maxima := make([]float32, numChunks)
	err = ops.RunChunked(int32(numChunks), int32(c.MaxWorkers), func(chunk, lo, hi int32) error {
		sorted := make([]float32, chunkSize)
		for ci := lo; ci < hi; ci++ {
			data := f.Data[int(ci)*chunkSize : (int(ci)+1)*chunkSize]
			copy(sorted, data)
			qsort.QSortFloat32(sorted)
			vMin := imath.PercentileSorted(sorted, op.PMin)
			vMax := imath.PercentileSorted(sorted, op.PMax)

			max := float32(0)
			for i, v := range data {
				if v < vMin {
					v = vMin
				}
				if v > vMax {
					v = vMax
				}
				v -= vMin
				data[i] = v
				if v > max {
					max = v
				}
			}
			if op.LevelMethod == LMScaleByChunk && max > 0 ||
				op.LevelMethod == LMScaleSaturatedByChunk && max > 1 {
				for i, v := range data {
					data[i] = v / max
				}
				max = 1
			}
			maxima[ci] = max
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	max := float32(0)
	for _, m := range maxima {
		if m > max {
			max = m
		}
	}
	if op.LevelMethod == LMScaleByImage && max > 0 ||
		op.LevelMethod == LMScaleSaturatedByImage && max > 1 {
		err = ops.RunChunked(int32(numChunks), int32(c.MaxWorkers), func(chunk, lo, hi int32) error {
			for i := int(lo) * chunkSize; i < int(hi)*chunkSize; i++ {
				f.Data[i] /= max
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	f.Stats.Clear()
	return f, nil
}
