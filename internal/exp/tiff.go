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


package exp

import (
	"bufio"
	"errors"
	"image"
	"image/color"
	"io"
	"math"
	"os"

	"golang.org/x/image/tiff"
)

// Write one image plane to a 16-bit grayscale TIFF file
func WriteTIFF16ToFile(fileName string, data []float32, width, height int32) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	defer writer.Flush()

	return WriteTIFF16(writer, data, width, height)
}

// Write one image plane to 16-bit grayscale TIFF. Values are clamped to [0,1]
// before conversion to the full unsigned 16-bit range
func WriteTIFF16(writer io.Writer, data []float32, width, height int32) error {
	if int32(len(data)) != width*height {
		return errors.New("plane size does not match dimensions")
	}
	img := image.NewGray16(image.Rectangle{image.Point{0, 0}, image.Point{int(width), int(height)}})
	for y := int32(0); y < height; y++ {
		yoffset := y * width
		for x := int32(0); x < width; x++ {
			gray := data[yoffset+x]
			// replace NaNs with zeros for export, else TIFF output breaks
			if math.IsNaN(float64(gray)) || gray < 0 {
				gray = 0
			}
			if gray > 1 {
				gray = 1
			}
			c := color.Gray16{uint16(gray * 65535)}
			img.SetGray16(int(x), int(y), c)
		}
	}

	return tiff.Encode(writer, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
}

// Read one image plane from a 16-bit grayscale TIFF file
func ReadTIFF16FromFile(fileName string) (data []float32, width, height int32, err error) {
	file, err := os.Open(fileName)
	if err != nil {
		return nil, 0, 0, err
	}
	defer file.Close()

	return ReadTIFF16(bufio.NewReader(file))
}

// Read one image plane from 16-bit grayscale TIFF, normalizing values into [0,1]
func ReadTIFF16(reader io.Reader) (data []float32, width, height int32, err error) {
	img, err := tiff.Decode(reader)
	if err != nil {
		return nil, 0, 0, err
	}
	bounds := img.Bounds()
	width, height = int32(bounds.Dx()), int32(bounds.Dy())
	data = make([]float32, width*height)

	if gray, ok := img.(*image.Gray16); ok {
		for y := int32(0); y < height; y++ {
			offset := gray.PixOffset(bounds.Min.X, bounds.Min.Y+int(y))
			for x := int32(0); x < width; x++ {
				v := uint16(gray.Pix[offset])<<8 | uint16(gray.Pix[offset+1])
				data[y*width+x] = float32(v) / 65535
				offset += 2
			}
		}
		return data, width, height, nil
	}

	// non grayscale sources decode via the generic color model
	for y := int32(0); y < height; y++ {
		for x := int32(0); x < width; x++ {
			c := color.Gray16Model.Convert(img.At(bounds.Min.X+int(x), bounds.Min.Y+int(y))).(color.Gray16)
			data[y*width+x] = float32(c.Y) / 65535
		}
	}
	return data, width, height, nil
}
