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


package align

import (
	"math"
	"testing"
)

// renders two gaussian blobs displaced by (dy, dx) from their home positions
func blobPlane(height, width int, dy, dx float64) []float32 {
	centers := [][2]float64{{24, 18}, {40, 45}}
	d := make([]float32, height*width)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := 0.0
			for _, c := range centers {
				ry := (float64(y) - c[0] - dy) / 2.0
				rx := (float64(x) - c[1] - dx) / 2.0
				v += math.Exp(-0.5 * (ry*ry + rx*rx))
			}
			d[y*width+x] = float32(v)
		}
	}
	return d
}

func TestEstimateShiftWholePixels(t *testing.T) {
	tests := []struct{ dy, dx float64 }{
		{0, 0},
		{3, -5},
		{-7, 2},
		{-1, -1},
	}
	for _, tc := range tests {
		ref := blobPlane(64, 64, 0, 0)
		mov := blobPlane(64, 64, -tc.dy, -tc.dx)
		dy, dx, err := EstimateShift(ref, mov, 64, 64, 1)
		if err != nil {
			t.Errorf("shift (%v,%v): unexpected error %v", tc.dy, tc.dx, err)
			continue
		}
		if dy != tc.dy || dx != tc.dx {
			t.Errorf("shift (%v,%v): got (%v,%v)", tc.dy, tc.dx, dy, dx)
		}
	}
}

func TestEstimateShiftSubPixel(t *testing.T) {
	tests := []struct{ dy, dx float64 }{
		{0, 0},
		{1.36, -2.58},
		{-0.25, 0.75},
		{0.01, 0.01},
	}
	for _, tc := range tests {
		ref := blobPlane(64, 64, 0, 0)
		mov := blobPlane(64, 64, -tc.dy, -tc.dx)
		dy, dx, err := EstimateShift(ref, mov, 64, 64, 100)
		if err != nil {
			t.Errorf("shift (%v,%v): unexpected error %v", tc.dy, tc.dx, err)
			continue
		}
		if math.Abs(dy-tc.dy) > 0.0101 || math.Abs(dx-tc.dx) > 0.0101 {
			t.Errorf("shift (%v,%v): got (%v,%v)", tc.dy, tc.dx, dy, dx)
		}
	}
}

func TestEstimateShiftDegenerate(t *testing.T) {
	flat := make([]float32, 32*32)
	if _, _, err := EstimateShift(flat, flat, 32, 32, 100); err == nil {
		t.Errorf("expected error on all-zero input, got none")
	}
	short := make([]float32, 7)
	if _, _, err := EstimateShift(short, short, 32, 32, 100); err == nil {
		t.Errorf("expected error on mis-shaped input, got none")
	}
}

func TestFFT2RoundTrip(t *testing.T) {
	h, w := 8, 16
	data := make([]float32, h*w)
	for i := range data {
		data[i] = float32(i%13) * 0.25
	}
	plan := NewFFT2(h, w)
	buf := plan.Forward(data)
	plan.Inverse(buf)
	scale := float64(h * w)
	for i, v := range buf {
		if got := real(v) / scale; math.Abs(got-float64(data[i])) > 1e-9 {
			t.Fatalf("round trip at %d: got %v want %v", i, got, data[i])
		}
		if math.Abs(imag(v))/scale > 1e-9 {
			t.Fatalf("round trip at %d: imaginary residue %v", i, imag(v))
		}
	}
}

func TestDFTKernelFrequencies(t *testing.T) {
	// the zero row of the kernel evaluated at offset zero is exp(0)=1 everywhere
	k := dftKernel(5, 3, 10, 0)
	for f := 0; f < 5; f++ {
		if v := k[f]; math.Abs(real(v)-1) > 1e-12 || math.Abs(imag(v)) > 1e-12 {
			t.Errorf("row 0 frequency %d: got %v want (1+0i)", f, v)
		}
	}
	// frequencies above the midpoint wrap negative: f=3 of n=5 acts as -2
	angle := func(i int, freq float64) complex128 {
		a := -2 * math.Pi * float64(i) * freq / (5 * 10)
		return complex(math.Cos(a), math.Sin(a))
	}
	for i := 0; i < 3; i++ {
		want := angle(i, -2)
		got := k[i*5+3]
		if math.Abs(real(got)-real(want)) > 1e-12 || math.Abs(imag(got)-imag(want)) > 1e-12 {
			t.Errorf("row %d frequency 3: got %v want %v", i, got, want)
		}
	}
}
