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

// Package reg aligns image stacks to a registration view by subpixel phase
// correlation. Shifts are estimated once per field of view from the
// registration images and shared between all stacks aligned with the same
// operator instance.
package reg

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mlnoga/fishprep/internal/align"
	"github.com/mlnoga/fishprep/internal/errs"
	"github.com/mlnoga/fishprep/internal/ops"
	"github.com/mlnoga/fishprep/internal/stack"
)

type OpRegister struct {
	ops.OpBase
	AuxView   string `json:"auxView"`   // registration view name, for error and log output
	ChsPerReg int32  `json:"chsPerReg"` // number of channels covered by one registration channel
	Upsample  int32  `json:"upsample"`  // subpixel refinement factor

	mutex  sync.Mutex   // protects lazy shift estimation
	shifts [][2]float64 // learned (dy, dx) per registration (round, channel), nil until first use
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpRegisterDefault() }) } // register the operator for JSON decoding

// creates an instance of the registration operator with default parameters
func NewOpRegisterDefault() *OpRegister { return NewOpRegister("", 1, 100) }

// creates an instance of the registration operator. Active if an aux view name is given
func NewOpRegister(auxView string, chsPerReg, upsample int32) *OpRegister {
	return &OpRegister{
		OpBase:    ops.OpBase{Type: "register", Active: auxView != ""},
		AuxView:   auxView,
		ChsPerReg: chsPerReg,
		Upsample:  upsample,
	}
}

// Unmarshal the parameters because the default values would otherwise be overwritten with zeros
func (op *OpRegister) UnmarshalJSON(data []byte) error {
	type defaults OpRegister
	def := defaults(*NewOpRegisterDefault())
	err := json.Unmarshal(data, &def)
	if err != nil {
		return err
	}
	*op = OpRegister(def)
	return nil
}

// Warps every (round, channel) volume of f by the shift learned from the
// corresponding registration image in c.RegStack, keyed by the round and by
// the channel divided by ChsPerReg. The z axis is never shifted. Shifts are
// estimated on first use and reused by later applications of the same instance
func (op *OpRegister) Apply(f *stack.Stack, c *ops.Context) (result *stack.Stack, err error) {
	if !op.Active {
		return f, nil
	}
	if op.ChsPerReg <= 0 {
		return nil, fmt.Errorf("%w: invalid channels per registration image %d", errs.Configuration, op.ChsPerReg)
	}
	if op.Upsample <= 0 {
		return nil, fmt.Errorf("%w: invalid registration upsampling factor %d", errs.Configuration, op.Upsample)
	}
	shifts, err := op.learnShifts(c)
	if err != nil {
		return nil, err
	}
	reg := c.RegStack
	if f.Rounds > reg.Rounds || (f.Chs-1)/op.ChsPerReg >= reg.Chs {
		return nil, fmt.Errorf("%w: %s has no registration image for all %d rounds x %d chs of %s",
			errs.Registration, op.AuxView, f.Rounds, f.Chs, f.View)
	}
	if !f.EqualPlaneDims(reg) {
		return nil, fmt.Errorf("%w: %s planes are %dx%d but %s planes are %dx%d",
			errs.Registration, op.AuxView, reg.Height, reg.Width, f.View, f.Height, f.Width)
	}
	fmt.Fprintf(c.Log, "\taligning %s to %s\n", f.View, op.AuxView)

	err = ops.RunChunked(int32(f.NumPairs()), int32(c.MaxWorkers), func(chunk, lo, hi int32) error {
		buf := make([]float32, f.VolumeSize())
		for p := lo; p < hi; p++ {
			r, ch := f.Pair(int(p))
			s := shifts[r*reg.Chs+ch/op.ChsPerReg]
			if s[0] == 0 && s[1] == 0 {
				continue
			}
			vol := f.Volume(r, ch)
			trans := align.TranslationTransform(s[0], s[1])
			if err := align.WarpVolume(buf, vol, f.Zs, f.Height, f.Width, trans); err != nil {
				return fmt.Errorf("%w: round %d channel %d of %s: %v", errs.Registration, r, ch, f.View, err)
			}
			copy(vol, buf)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	f.Stats.Clear()
	return f, nil
}

// Estimates one shift per registration (round, channel) against the first
// round and channel, projecting volumes to their maximum intensity along z.
// Thread safe and idempotent
func (op *OpRegister) learnShifts(c *ops.Context) ([][2]float64, error) {
	op.mutex.Lock()
	defer op.mutex.Unlock()
	if op.shifts != nil {
		return op.shifts, nil
	}
	reg := c.RegStack
	if reg == nil {
		return nil, fmt.Errorf("%w: no registration view %s loaded", errs.Registration, op.AuxView)
	}

	ref := make([]float32, reg.PlaneSize())
	mov := make([]float32, reg.PlaneSize())
	reg.MaxProjectZ(0, 0, ref)

	shifts := make([][2]float64, reg.NumPairs())
	for p := range shifts {
		r, ch := reg.Pair(p)
		reg.MaxProjectZ(r, ch, mov)
		dy, dx, err := align.EstimateShift(ref, mov, int(reg.Height), int(reg.Width), int(op.Upsample))
		if err != nil {
			return nil, fmt.Errorf("%w: %s round %d channel %d: %v", errs.Registration, op.AuxView, r, ch, err)
		}
		shifts[p] = [2]float64{dy, dx}
		fmt.Fprintf(c.Log, "\t\t%s round %d channel %d: shift dy=%+.3f dx=%+.3f\n", op.AuxView, r, ch, dy, dx)
	}
	op.shifts = shifts
	return shifts, nil
}
