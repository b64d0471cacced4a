package dataset

import (
	"image"

	"golang.org/x/image/draw"
)

// toGrayPixels scales src to width×height with bilinear interpolation and
// returns the grey levels as 0..255 floats.
func toGrayPixels(src image.Image, height, width int) []float64 {
	dst := image.NewGray(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	out := make([]float64, width*height)
	for y := 0; y < height; y++ {
		row := dst.Pix[y*dst.Stride : y*dst.Stride+width]
		for x, v := range row {
			out[y*width+x] = float64(v)
		}
	}
	return out
}
