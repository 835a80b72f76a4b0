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

func TestTranslationTransform(t *testing.T) {
	tr := TranslationTransform(2.5, -3.25)
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			want := 0.0
			if r == c {
				want = 1.0
			}
			if r == 1 && c == 3 {
				want = 2.5
			}
			if r == 2 && c == 3 {
				want = -3.25
			}
			if got := tr.At(r, c); got != want {
				t.Errorf("entry (%d,%d)=%v; want %v", r, c, got, want)
			}
		}
	}
}

func TestWarpVolumeIdentity(t *testing.T) {
	src := make([]float32, 2*4*5)
	for i := range src {
		src[i] = float32(i) * 0.125
	}
	dst := make([]float32, len(src))
	if err := WarpVolume(dst, src, 2, 4, 5, TranslationTransform(0, 0)); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	for i := range src {
		if dst[i] != src[i] {
			t.Fatalf("identity warp changed pixel %d: %v != %v", i, dst[i], src[i])
		}
	}
}

func TestWarpVolumeWholePixels(t *testing.T) {
	height, width := int32(4), int32(5)
	src := make([]float32, height*width)
	for y := int32(0); y < height; y++ {
		for x := int32(0); x < width; x++ {
			src[y*width+x] = float32(10*y + x)
		}
	}
	dst := make([]float32, len(src))
	if err := WarpVolume(dst, src, 1, height, width, TranslationTransform(1, 2)); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	for y := int32(0); y < height; y++ {
		for x := int32(0); x < width; x++ {
			want := float32(0)
			if y-1 >= 0 && x-2 >= 0 {
				want = src[(y-1)*width+(x-2)]
			}
			if got := dst[y*width+x]; got != want {
				t.Errorf("pixel (%d,%d)=%v; want %v", y, x, got, want)
			}
		}
	}
}

func TestWarpVolumeHalfPixel(t *testing.T) {
	src := []float32{0, 4, 8, 2, 6}
	dst := make([]float32, len(src))
	if err := WarpVolume(dst, src, 1, 1, 5, TranslationTransform(0, 0.5)); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	want := []float32{0, 2, 6, 5, 4}
	for i := range want {
		if math.Abs(float64(dst[i]-want[i])) > 1e-6 {
			t.Errorf("pixel %d=%v; want %v", i, dst[i], want[i])
		}
	}
}

func TestWarpVolumeKeepsPlanesSeparate(t *testing.T) {
	height, width := int32(3), int32(4)
	src := make([]float32, 2*height*width)
	for i := range src {
		plane := float32(1)
		if i >= int(height*width) {
			plane = 100
		}
		src[i] = plane + float32(i%int(height*width))
	}
	dst := make([]float32, len(src))
	if err := WarpVolume(dst, src, 2, height, width, TranslationTransform(0, 1)); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	n := int(height * width)
	for i := 0; i < n; i++ {
		lo, hi := dst[i], dst[n+i]
		if lo != 0 && lo >= 100 {
			t.Errorf("plane 0 pixel %d=%v contains plane 1 content", i, lo)
		}
		if hi != 0 && hi < 100 {
			t.Errorf("plane 1 pixel %d=%v contains plane 0 content", i, hi)
		}
	}
}

func TestWarpVolumeRejectsNonTranslation(t *testing.T) {
	src := make([]float32, 4*4)
	dst := make([]float32, len(src))

	tr := TranslationTransform(1, 1)
	tr.Set(1, 2, 0.5)
	if err := WarpVolume(dst, src, 1, 4, 4, tr); err == nil {
		t.Errorf("expected error on shearing transform, got none")
	}

	tr = TranslationTransform(1, 1)
	tr.Set(0, 3, 2)
	if err := WarpVolume(dst, src, 1, 4, 4, tr); err == nil {
		t.Errorf("expected error on axial shift, got none")
	}
}
