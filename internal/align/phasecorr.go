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
	"errors"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// FFT2 plans repeated unnormalized 2D DFTs on h x w planes
type FFT2 struct {
	h, w int
	row  *fourier.CmplxFFT
	col  *fourier.CmplxFFT
}

func NewFFT2(h, w int) *FFT2 {
	return &FFT2{h: h, w: w, row: fourier.NewCmplxFFT(w), col: fourier.NewCmplxFFT(h)}
}

// Forward returns the unnormalized 2D DFT of the real plane data in row-major order
func (f *FFT2) Forward(data []float32) []complex128 {
	buf := make([]complex128, f.h*f.w)
	for i, v := range data {
		buf[i] = complex(float64(v), 0)
	}
	for y := 0; y < f.h; y++ {
		row := buf[y*f.w : (y+1)*f.w]
		f.row.Coefficients(row, row)
	}
	col := make([]complex128, f.h)
	for x := 0; x < f.w; x++ {
		for y := 0; y < f.h; y++ {
			col[y] = buf[y*f.w+x]
		}
		f.col.Coefficients(col, col)
		for y := 0; y < f.h; y++ {
			buf[y*f.w+x] = col[y]
		}
	}
	return buf
}

// Inverse applies the unnormalized inverse 2D DFT to buf in place.
// Inverse(Forward(x)) scales x by h*w, which peak searches can ignore
func (f *FFT2) Inverse(buf []complex128) {
	for y := 0; y < f.h; y++ {
		row := buf[y*f.w : (y+1)*f.w]
		f.row.Sequence(row, row)
	}
	col := make([]complex128, f.h)
	for x := 0; x < f.w; x++ {
		for y := 0; y < f.h; y++ {
			col[y] = buf[y*f.w+x]
		}
		f.col.Sequence(col, col)
		for y := 0; y < f.h; y++ {
			buf[y*f.w+x] = col[y]
		}
	}
}

// EstimateShift measures the translation that registers the moving plane onto the
// reference plane. It locates the peak of the FFT cross correlation to whole pixels,
// then refines it to 1/upsample of a pixel with a matrix multiply DFT evaluated on a
// small neighborhood of the peak, after Guizar-Sicairos et al., Opt. Lett. 33 (2008).
// Shifting moving by the returned (dy, dx) aligns it with reference.
// Fails on degenerate input without a correlation peak, such as all-zero planes
func EstimateShift(ref, mov []float32, height, width, upsample int) (dy, dx float64, err error) {
	if len(ref) != height*width || len(mov) != height*width {
		return 0, 0, errors.New("cross correlation inputs differ in shape")
	}
	plan := NewFFT2(height, width)
	fr := plan.Forward(ref)
	fm := plan.Forward(mov)

	// phase normalized cross power spectrum, reusing the buffer.
	// For a pure translation this is a plain phase ramp whose inverse FFT
	// peaks in a single bin
	prod := fm
	for i := range prod {
		v := fr[i] * cmplx.Conj(fm[i])
		if a := cmplx.Abs(v); a > 1e-12 {
			v /= complex(a, 0)
		} else {
			v = 0
		}
		prod[i] = v
	}
	cc := make([]complex128, len(prod))
	copy(cc, prod)
	plan.Inverse(cc)

	peak, py, px := float64(-1), 0, 0
	for i, v := range cc {
		if a := cmplx.Abs(v); a > peak {
			peak, py, px = a, i/width, i%width
		}
	}
	if !(peak > 0) {
		return 0, 0, errors.New("degenerate cross correlation without peak")
	}

	// unwrap peak coordinates beyond the midpoint into negative shifts
	sy, sx := float64(py), float64(px)
	if sy > math.Trunc(float64(height)/2) {
		sy -= float64(height)
	}
	if sx > math.Trunc(float64(width)/2) {
		sx -= float64(width)
	}
	if upsample <= 1 {
		return sy, sx, nil
	}

	usfac := float64(upsample)
	sy = math.Round(sy*usfac) / usfac
	sx = math.Round(sx*usfac) / usfac
	size := int(math.Ceil(usfac * 1.5))
	dftshift := math.Trunc(float64(size) / 2)

	for i, v := range prod {
		prod[i] = cmplx.Conj(v)
	}
	up := upsampledDFT(prod, height, width, size, usfac, dftshift-sy*usfac, dftshift-sx*usfac)
	peak, py, px = -1, 0, 0
	for i, v := range up {
		if a := cmplx.Abs(v); a > peak {
			peak, py, px = a, i/size, i%size
		}
	}
	if !(peak > 0) {
		return 0, 0, errors.New("degenerate upsampled cross correlation without peak")
	}
	sy += (float64(py) - dftshift) / usfac
	sx += (float64(px) - dftshift) / usfac
	return sy, sx, nil
}

// Evaluates the DFT of the h x w matrix data on an upsampled size x size grid around
// the given axis offsets, using per axis matrix multiply kernels instead of zero
// padded FFTs
func upsampledDFT(data []complex128, h, w, size int, usfac, offY, offX float64) []complex128 {
	kx := dftKernel(w, size, usfac, offX)
	ky := dftKernel(h, size, usfac, offY)

	// contract the x axis: tmp[u][r] = sum_x data[r][x] * kx[u][x]
	tmp := make([]complex128, size*h)
	for u := 0; u < size; u++ {
		ku := kx[u*w : (u+1)*w]
		for r := 0; r < h; r++ {
			row := data[r*w : (r+1)*w]
			sum := complex(0, 0)
			for x, kv := range ku {
				sum += row[x] * kv
			}
			tmp[u*h+r] = sum
		}
	}

	// contract the y axis: out[v][u] = sum_r tmp[u][r] * ky[v][r]
	out := make([]complex128, size*size)
	for v := 0; v < size; v++ {
		kv := ky[v*h : (v+1)*h]
		for u := 0; u < size; u++ {
			trow := tmp[u*h : (u+1)*h]
			sum := complex(0, 0)
			for r, kr := range kv {
				sum += trow[r] * kr
			}
			out[v*size+u] = sum
		}
	}
	return out
}

// kernel[i][f] = exp(-2 pi i (i - offset) freq(f) / (n usfac)) with integer DFT
// frequencies freq = [0 .. ceil(n/2)-1, -floor(n/2) .. -1], flattened row-major
func dftKernel(n, size int, usfac, offset float64) []complex128 {
	k := make([]complex128, size*n)
	for i := 0; i < size; i++ {
		for f := 0; f < n; f++ {
			freq := float64(f)
			if f >= (n+1)/2 {
				freq = float64(f - n)
			}
			angle := -2 * math.Pi * (float64(i) - offset) * freq / (float64(n) * usfac)
			k[i*n+f] = cmplx.Exp(complex(0, angle))
		}
	}
	return k
}
