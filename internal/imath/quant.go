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

import "math"

// Scale factor between normalized intensities and the integer working domain
// of the rolling ball and histogram matching steps.
const QuantScale = 65536

// Quantize writes round-to-even(src*65536) to dst. Integer-valued results up to 2^24
// are exact in float32. dst and src may alias
func Quantize(dst, src []float32) {
	for i, v := range src {
		dst[i] = float32(math.RoundToEven(float64(v) * QuantScale))
	}
}

// Dequantize writes src/65536 to dst. dst and src may alias
func Dequantize(dst, src []float32) {
	for i, v := range src {
		dst[i] = v / QuantScale
	}
}
