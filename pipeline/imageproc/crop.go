// Copyright (C) 2025 Cercina AI.
// See LICENSE for copying information.

// Package imageproc removes the watermark bands the source stamps onto
// the top and bottom of listing photos. Crop is a pure function: same
// bytes in, same bytes out.
package imageproc

import (
	"bytes"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/zeebo/errs"
)

// Error is the default error class for the imageproc package.
var Error = errs.Class("imageproc")

// defaultCut is the band removed from an edge when no watermark
// contour was detected there.
const defaultCut = 20

// Crop decodes an image, detects watermark contours in its corners and
// returns the image with the top and bottom bands removed, re-encoded
// as JPEG. When the detected cuts would leave nothing, the input bytes
// are returned unchanged.
func Crop(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, Error.New("empty image buffer")
	}

	src, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, Error.New("undecodable image: %v", err)
	}

	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil, Error.New("empty image")
	}

	gray := blur3x3(grayscale(src))

	topCut := defaultCut
	if band := detectCorner(gray, topLeft); band > 0 {
		topCut = max(band, defaultCut)
	} else if band := detectCorner(gray, topRight); band > 0 {
		topCut = max(band, defaultCut)
	}

	bottomCut := defaultCut
	if band := detectCorner(gray, bottomLeft); band > 0 {
		bottomCut = max(band, defaultCut)
	} else if band := detectCorner(gray, bottomRight); band > 0 {
		bottomCut = max(band, defaultCut)
	}

	newTop := min(topCut, height/2)
	newBottom := height - min(bottomCut, height/2)
	if newTop >= newBottom {
		// cropping would empty the image
		return data, nil
	}

	cropped := imaging.Crop(src, image.Rect(bounds.Min.X, bounds.Min.Y+newTop, bounds.Max.X, bounds.Min.Y+newBottom))

	var out bytes.Buffer
	if err := imaging.Encode(&out, cropped, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, Error.New("jpeg encode: %v", err)
	}
	return out.Bytes(), nil
}

// grayscale converts to 8-bit luma.
func grayscale(src image.Image) *image.Gray {
	bounds := src.Bounds()
	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray.Set(x-bounds.Min.X, y-bounds.Min.Y, src.At(x, y))
		}
	}
	return gray
}

// blur3x3 applies a single 3x3 Gaussian pass to tame sensor noise
// before thresholding.
func blur3x3(src *image.Gray) *image.Gray {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	dst := image.NewGray(bounds)

	// kernel 1 2 1 / 2 4 2 / 1 2 1, sum 16
	kernel := [3][3]int{{1, 2, 1}, {2, 4, 2}, {1, 2, 1}}

	at := func(x, y int) int {
		if x < 0 {
			x = 0
		} else if x >= w {
			x = w - 1
		}
		if y < 0 {
			y = 0
		} else if y >= h {
			y = h - 1
		}
		return int(src.GrayAt(x, y).Y)
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum := 0
			for ky := -1; ky <= 1; ky++ {
				for kx := -1; kx <= 1; kx++ {
					sum += kernel[ky+1][kx+1] * at(x+kx, y+ky)
				}
			}
			dst.SetGray(x, y, color.Gray{Y: uint8(sum / 16)})
		}
	}
	return dst
}
