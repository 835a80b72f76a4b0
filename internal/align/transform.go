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

	"gonum.org/v1/gonum/mat"
)

// TranslationTransform builds the 4x4 homogeneous transform on volume coordinates
// (z, y, x, 1) which shifts content down by dy rows and right by dx columns.
// The z row stays identity, axial focus never moves during registration
func TranslationTransform(dy, dx float64) *mat.Dense {
	t:=mat.NewDense(4, 4, nil)
	for i:=0; i<4; i++ { t.Set(i, i, 1) }
	t.Set(1, 3, dy)
	t.Set(2, 3, dx)
	return t
}

// Warps the zs x height x width volume src through the given 4x4 homogeneous
// transform into dst, which must have the same shape and not alias src.
// Pixels sampled from outside the source are filled with zero.
// Uses bilinear interpolation for now
func WarpVolume(dst, src []float32, zs, height, width int32, trans *mat.Dense) error {
	// Invert transformation so we can sample from the target coordinate system PoV
	var inv mat.Dense
	if err:=inv.Inverse(trans); err!=nil { return err }

	// The resampler only implements per-plane translations
	for r:=0; r<4; r++ {
		for c:=0; c<3; c++ {
			want:=0.0
			if r==c { want=1.0 }
			if inv.At(r,c)!=want { return errors.New("transform is not a pure translation") }
		}
	}
	if inv.At(0,3)!=0 { return errors.New("transform contains an axial shift") }
	if inv.At(3,3)!=1 { return errors.New("transform is not a pure translation") }

	offY, offX:=inv.At(1,3), inv.At(2,3)
	if offY==0 && offX==0 {
		copy(dst, src)
		return nil
	}
	planeSize:=height*width
	for z:=int32(0); z<zs; z++ {
		warpPlaneBilinear(dst[z*planeSize:(z+1)*planeSize], src[z*planeSize:(z+1)*planeSize], height, width, offY, offX)
	}
	return nil
}

// Resamples one plane with the source coordinate offsets (offY, offX) already
// inverted by the caller
func warpPlaneBilinear(dst, src []float32, height, width int32, offY, offX float64) {
	for row:=int32(0); row<height; row++ {
		srcY:=float64(row)+offY
		yl:=int32(math.Floor(srcY))
		yr:=float32(srcY-float64(yl))
		yh:=yl+1
		if yr==0 { yh=yl } // integer coordinates need no second tap

		for col:=int32(0); col<width; col++ {
			srcX:=float64(col)+offX
			xl:=int32(math.Floor(srcX))
			xr:=float32(srcX-float64(xl))
			xh:=xl+1
			if xr==0 { xh=xl }

			if xl<0 || xh>=width || yl<0 || yh>=height {
				dst[col+row*width]=0
				continue
			}

			xlyl:=xl+yl*width
			xhyl:=xh+yl*width
			xlyh:=xl+yh*width
			xhyh:=xh+yh*width

			vyl  :=src[xlyl]*(1-xr) + src[xhyl]*xr
			vyh  :=src[xlyh]*(1-xr) + src[xhyh]*xr
			v    :=vyl    *(1-yr) + vyh    *yr

			dst[col+row*width]=v
		}
	}
}
