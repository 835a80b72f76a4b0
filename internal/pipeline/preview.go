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


package pipeline

import (
	"bufio"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"math"
	"os"

	colorful "github.com/lucasb-eyer/go-colorful"

	"github.com/mlnoga/fishprep/internal/stack"
)

// WritePreview writes a false color JPEG preview of the stack with given quality
func WritePreview(fileName string, st *stack.Stack, quality int) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	defer writer.Flush()

	return WritePreviewTo(writer, st, quality)
}

// WritePreviewTo writes a false color preview of the stack to an io.Writer as
// JPEG with given quality. Each channel is maximum intensity projected across
// rounds and z-planes, tinted with its own hue and blended additively
func WritePreviewTo(writer io.Writer, st *stack.Stack, quality int) error {
	width, height := int(st.Width), int(st.Height)
	planeSize := st.PlaneSize()
	red := make([]float32, planeSize)
	green := make([]float32, planeSize)
	blue := make([]float32, planeSize)
	mip := make([]float32, planeSize)
	scratch := make([]float32, planeSize)

	for ch := int32(0); ch < st.Chs; ch++ {
		for r := int32(0); r < st.Rounds; r++ {
			st.MaxProjectZ(r, ch, scratch)
			if r == 0 {
				copy(mip, scratch)
				continue
			}
			for i, v := range scratch {
				if v > mip[i] {
					mip[i] = v
				}
			}
		}
		tint := colorful.Hsv(float64(ch)*360/float64(st.Chs), 1, 1)
		for i, v := range mip {
			// replace NaNs with zeros for export, else the preview breaks
			if math.IsNaN(float64(v)) || v < 0 {
				v = 0
			}
			red[i] += v * float32(tint.R)
			green[i] += v * float32(tint.G)
			blue[i] += v * float32(tint.B)
		}
	}

	max := float32(0)
	for _, plane := range [][]float32{red, green, blue} {
		for _, v := range plane {
			if v > max {
				max = v
			}
		}
	}
	if max <= 0 {
		max = 1
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		offset := y * width
		for x := 0; x < width; x++ {
			r := red[offset+x] / max
			g := green[offset+x] / max
			b := blue[offset+x] / max
			img.Set(x, y, color.RGBA{uint8(r * 255), uint8(g * 255), uint8(b * 255), 255})
		}
	}
	return jpeg.Encode(writer, img, &jpeg.Options{Quality: quality})
}
