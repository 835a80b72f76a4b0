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


package imath

import (
	"testing"

	"github.com/valyala/fastrand"
)

func TestMatchHistogramIdentity(t *testing.T) {
	rng := fastrand.RNG{}
	rng.Seed(47)
	src := make([]float32, 256)
	for i := range src {
		src[i] = float32(rng.Uint32n(50))
	}
	res := make([]float32, len(src))
	MatchHistogram(res, src, src)
	for i := range res {
		if res[i] != src[i] {
			t.Fatalf("matched[%d]=%v; want unchanged %v", i, res[i], src[i])
		}
	}
}

func TestMatchHistogramTwoLevel(t *testing.T) {
	src := make([]float32, 64)
	tmpl := make([]float32, 64)
	for i := range src {
		if i%2 == 0 {
			src[i], tmpl[i] = 0, 2
		} else {
			src[i], tmpl[i] = 10, 8
		}
	}
	res := make([]float32, len(src))
	MatchHistogram(res, src, tmpl)
	for i := range res {
		want := float32(2)
		if src[i] == 10 {
			want = 8
		}
		if res[i] != want {
			t.Errorf("matched[%d]=%v; want %v for source %v", i, res[i], want, src[i])
		}
	}
}

func TestMatchHistogramMonotoneIntoTemplateRange(t *testing.T) {
	src := make([]float32, 64)
	for i := range src {
		src[i] = float32(i)
	}
	rng := fastrand.RNG{}
	rng.Seed(48)
	tmpl := make([]float32, 64)
	for i := range tmpl {
		tmpl[i] = float32(100 + rng.Uint32n(10))
	}
	res := make([]float32, len(src))
	MatchHistogram(res, src, tmpl)
	for i := range res {
		if res[i] < 100 || res[i] > 109 {
			t.Errorf("matched[%d]=%v; want within template range [100,109]", i, res[i])
		}
		if i > 0 && res[i] < res[i-1] {
			t.Errorf("matched[%d]=%v below predecessor %v; want monotone mapping", i, res[i], res[i-1])
		}
	}
}

func TestMatchHistogramAliasing(t *testing.T) {
	rng := fastrand.RNG{}
	rng.Seed(49)
	src := make([]float32, 128)
	tmpl := make([]float32, 128)
	for i := range src {
		src[i] = float32(rng.Uint32n(20))
		tmpl[i] = float32(5 + rng.Uint32n(20))
	}
	want := make([]float32, len(src))
	MatchHistogram(want, src, tmpl)

	MatchHistogram(src, src, tmpl)
	for i := range src {
		if src[i] != want[i] {
			t.Fatalf("in place matched[%d]=%v; want %v", i, src[i], want[i])
		}
	}
}
