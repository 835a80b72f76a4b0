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

package reg

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/mlnoga/fishprep/internal/errs"
	"github.com/mlnoga/fishprep/internal/ops"
	"github.com/mlnoga/fishprep/internal/stack"
	"github.com/mlnoga/fishprep/internal/stats"
)

func testContext(log io.Writer, workers int) *ops.Context {
	return ops.NewContext(log, stats.LSESCMedianQn, workers)
}

func makeStack(view string, rounds, chs, zs, height, width int32) *stack.Stack {
	f := stack.NewStack(rounds, chs, zs, height, width, nil)
	f.View, f.Fov = view, "fov_000"
	return f
}

func putSquare(plane []float32, width, y, x, size int, v float32) {
	for dy := 0; dy < size; dy++ {
		for dx := 0; dx < size; dx++ {
			plane[(y+dy)*width+x+dx] = v
		}
	}
}

// registration view with one blob per channel, channel ch offset by (-dy*ch, -dx*ch)
// from the channel 0 reference position
func makeRegStack(chs int32, dy, dx int) *stack.Stack {
	reg := makeStack("reg", 1, chs, 1, 32, 32)
	for ch := int32(0); ch < chs; ch++ {
		putSquare(reg.Plane(0, ch, 0), 32, 16-int(ch)*dy, 16-int(ch)*dx, 3, 0.9)
	}
	return reg
}

func TestRegisterAlignsChannelGroups(t *testing.T) {
	wantDy, wantDx := 3, -2
	c := testContext(io.Discard, 2)
	c.RegStack = makeRegStack(2, wantDy, wantDx)

	// channels 0,1 follow registration channel 0, channels 2,3 follow channel 1
	f := makeStack("primary", 1, 4, 2, 32, 32)
	for ch := int32(0); ch < 4; ch++ {
		off := 0
		if ch >= 2 {
			off = 1
		}
		putSquare(f.Plane(0, ch, 0), 32, 8-off*wantDy, 8-off*wantDx, 4, 0.7)
		putSquare(f.Plane(0, ch, 1), 32, 22-off*wantDy, 22-off*wantDx, 3, 0.4)
	}
	before := append([]float32(nil), f.Data...)

	if _, err := NewOpRegister("reg", 2, 1).Apply(f, c); err != nil {
		t.Fatalf("apply: %v", err)
	}

	for _, pair := range [][2]int32{{2, 0}, {3, 1}} {
		moved, fixed := f.Volume(0, pair[0]), f.Volume(0, pair[1])
		for i := range moved {
			if moved[i] != fixed[i] {
				t.Fatalf("ch %d data[%d]=%v; want %v as in ch %d after alignment", pair[0], i, moved[i], fixed[i], pair[1])
			}
		}
	}
	for i, v := range f.Volume(0, 0) {
		if v != before[i] {
			t.Errorf("ch 0 data[%d]=%v; want reference group untouched %v", i, v, before[i])
		}
	}
}

func TestRegisterSharesShiftsAcrossViews(t *testing.T) {
	log := &bytes.Buffer{}
	c := testContext(log, 1)
	c.RegStack = makeRegStack(2, 2, 1)

	op := NewOpRegister("reg", 1, 1)
	primary := makeStack("primary", 1, 2, 1, 32, 32)
	putSquare(primary.Plane(0, 0, 0), 32, 10, 10, 3, 0.5)
	putSquare(primary.Plane(0, 1, 0), 32, 8, 9, 3, 0.5)
	if _, err := op.Apply(primary, c); err != nil {
		t.Fatalf("apply primary: %v", err)
	}

	anchor := makeStack("anchor", 1, 1, 1, 32, 32)
	putSquare(anchor.Plane(0, 0, 0), 32, 20, 20, 3, 0.6)
	before := append([]float32(nil), anchor.Data...)
	if _, err := op.Apply(anchor, c); err != nil {
		t.Fatalf("apply anchor: %v", err)
	}

	// anchor follows the reference channel, whose shift is zero
	for i, v := range anchor.Data {
		if v != before[i] {
			t.Fatalf("anchor data[%d]=%v; want unchanged %v under the reference shift", i, v, before[i])
		}
	}
	if n := strings.Count(log.String(), "shift dy="); n != 2 {
		t.Errorf("learned %d shifts; want 2 estimated exactly once for both views", n)
	}
}

func TestRegisterMaxProjectsVolumes(t *testing.T) {
	c := testContext(io.Discard, 1)
	reg := makeStack("reg", 1, 2, 2, 32, 32)
	putSquare(reg.Plane(0, 0, 0), 32, 16, 16, 3, 0.9) // reference blob in z plane 0
	putSquare(reg.Plane(0, 1, 1), 32, 13, 18, 3, 0.9) // shifted blob in z plane 1
	c.RegStack = reg

	f := makeStack("primary", 1, 2, 1, 32, 32)
	putSquare(f.Plane(0, 0, 0), 32, 8, 8, 4, 0.7)
	putSquare(f.Plane(0, 1, 0), 32, 5, 10, 4, 0.7)
	if _, err := NewOpRegister("reg", 1, 1).Apply(f, c); err != nil {
		t.Fatalf("apply: %v", err)
	}
	moved, fixed := f.Volume(0, 1), f.Volume(0, 0)
	for i := range moved {
		if moved[i] != fixed[i] {
			t.Fatalf("ch 1 data[%d]=%v; want %v after projected alignment", i, moved[i], fixed[i])
		}
	}
}

func TestRegisterErrors(t *testing.T) {
	valid := makeRegStack(1, 0, 0)
	empty := makeStack("reg", 1, 1, 1, 32, 32)
	cases := []struct {
		name     string
		op       *OpRegister
		reg      *stack.Stack
		f        *stack.Stack
		sentinel error
	}{
		{"noRegStack", NewOpRegister("reg", 1, 1), nil, makeStack("primary", 1, 1, 1, 32, 32), errs.Registration},
		{"missingRounds", NewOpRegister("reg", 1, 1), valid, makeStack("primary", 2, 1, 1, 32, 32), errs.Registration},
		{"missingChannels", NewOpRegister("reg", 2, 1), valid, makeStack("primary", 1, 3, 1, 32, 32), errs.Registration},
		{"mismatchedPlanes", NewOpRegister("reg", 1, 1), valid, makeStack("primary", 1, 1, 1, 16, 16), errs.Registration},
		{"degenerateImages", NewOpRegister("reg", 1, 1), empty, makeStack("primary", 1, 1, 1, 32, 32), errs.Registration},
		{"badChsPerReg", NewOpRegister("reg", 0, 1), valid, makeStack("primary", 1, 1, 1, 32, 32), errs.Configuration},
		{"badUpsample", NewOpRegister("reg", 1, 0), valid, makeStack("primary", 1, 1, 1, 32, 32), errs.Configuration},
	}
	for _, tc := range cases {
		c := testContext(io.Discard, 1)
		c.RegStack = tc.reg
		_, err := tc.op.Apply(tc.f, c)
		if !errors.Is(err, tc.sentinel) {
			t.Errorf("%s: err=%v; want %v", tc.name, err, tc.sentinel)
		}
	}
}

func TestRegisterInactivePassThrough(t *testing.T) {
	f := makeStack("primary", 1, 1, 1, 8, 8)
	res, err := NewOpRegisterDefault().Apply(f, testContext(io.Discard, 1))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res != f {
		t.Errorf("inactive operator returned a new stack; want pass through")
	}
}

func TestRegisterUnmarshalKeepsDefaults(t *testing.T) {
	seq := ops.OpSequence{}
	err := seq.UnmarshalJSON([]byte(`{"steps":[{"type":"register", "active":true, "auxView":"dots"}]}`))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	op, ok := seq.Steps[0].(*OpRegister)
	if !ok {
		t.Fatalf("step[0] is %T; want *OpRegister", seq.Steps[0])
	}
	if op.AuxView != "dots" || op.ChsPerReg != 1 || op.Upsample != 100 {
		t.Errorf("op=%+v; want auxView dots with defaults chsPerReg 1 and upsample 100", op)
	}
}
