// Copyright (C) 2025 Cercina AI.
// See LICENSE for copying information.

package imageproc

import (
	"image"
	"sort"
)

type corner int

const (
	topLeft corner = iota
	topRight
	bottomLeft
	bottomRight
)

const (
	minContourArea = 20
	maxContourArea = 3000

	thresholdLow  = 100
	thresholdHigh = 250
	thresholdStep = 10

	adaptiveBlock = 11
	adaptiveC     = 2
)

// contour is a connected foreground component of a thresholded image.
type contour struct {
	area int
	box  image.Rectangle
}

// detectCorner looks for a watermark contour near the given corner and
// returns the height of the band to cut there, or 0 when nothing
// plausible was found.
//
// Two passes: a fixed threshold sweep first, then an adaptive Gaussian
// threshold when the sweep finds nothing. Candidates are examined by
// area descending; the first one whose bounding box sits inside the
// corner margin wins.
func detectCorner(gray *image.Gray, c corner) int {
	bounds := gray.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return 0
	}

	var candidates []contour
	for threshold := thresholdLow; threshold <= thresholdHigh; threshold += thresholdStep {
		mask := thresholdInv(gray, uint8(threshold))
		candidates = append(candidates, components(mask, width, height)...)
	}
	if len(candidates) == 0 {
		mask := adaptiveThresholdInv(gray, adaptiveBlock, adaptiveC)
		candidates = components(mask, width, height)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].area > candidates[j].area
	})

	margin := min(height, width) / 4
	for _, cand := range candidates {
		box := cand.box
		x, y := box.Min.X, box.Min.Y
		w, h := box.Dx(), box.Dy()

		var inCorner bool
		switch c {
		case topLeft:
			inCorner = x < margin && y < margin
		case topRight:
			inCorner = x > width-margin-w && y < margin
		case bottomLeft:
			inCorner = x < margin && y > height-margin-h
		case bottomRight:
			inCorner = x > width-margin-w && y > height-margin-h
		}
		if inCorner {
			// pad the band a little so the crop swallows
			// anti-aliased edges below the contour
			return min(h+defaultCut, height-y)
		}
	}
	return 0
}

// thresholdInv produces the binary-inverse mask: pixels at or below the
// threshold become foreground.
func thresholdInv(gray *image.Gray, threshold uint8) []bool {
	bounds := gray.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	mask := make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			mask[y*w+x] = gray.GrayAt(x, y).Y <= threshold
		}
	}
	return mask
}

// adaptiveThresholdInv compares each pixel against the mean of its
// block-sized neighbourhood minus the constant c, binary-inverse.
func adaptiveThresholdInv(gray *image.Gray, block, c int) []bool {
	bounds := gray.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	// integral image for O(1) block sums
	integral := make([]int64, (w+1)*(h+1))
	for y := 0; y < h; y++ {
		var row int64
		for x := 0; x < w; x++ {
			row += int64(gray.GrayAt(x, y).Y)
			integral[(y+1)*(w+1)+x+1] = integral[y*(w+1)+x+1] + row
		}
	}
	blockSum := func(x0, y0, x1, y1 int) int64 {
		// inclusive rectangle
		return integral[(y1+1)*(w+1)+x1+1] - integral[y0*(w+1)+x1+1] -
			integral[(y1+1)*(w+1)+x0] + integral[y0*(w+1)+x0]
	}

	half := block / 2
	mask := make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			x0, y0 := max(x-half, 0), max(y-half, 0)
			x1, y1 := min(x+half, w-1), min(y+half, h-1)
			area := int64((x1 - x0 + 1) * (y1 - y0 + 1))
			mean := blockSum(x0, y0, x1, y1) / area
			mask[y*w+x] = int64(gray.GrayAt(x, y).Y) <= mean-int64(c)
		}
	}
	return mask
}

// components labels 8-connected foreground regions and keeps the ones
// whose area falls within the contour bounds.
func components(mask []bool, w, h int) []contour {
	visited := make([]bool, len(mask))
	var out []contour
	var queue []int

	for start := range mask {
		if !mask[start] || visited[start] {
			continue
		}

		area := 0
		box := image.Rect(start%w, start/w, start%w+1, start/w+1)
		queue = queue[:0]
		queue = append(queue, start)
		visited[start] = true

		for len(queue) > 0 {
			idx := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			x, y := idx%w, idx/w

			area++
			box = box.Union(image.Rect(x, y, x+1, y+1))

			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || nx >= w || ny < 0 || ny >= h {
						continue
					}
					nidx := ny*w + nx
					if mask[nidx] && !visited[nidx] {
						visited[nidx] = true
						queue = append(queue, nidx)
					}
				}
			}
		}

		if area >= minContourArea && area <= maxContourArea {
			out = append(out, contour{area: area, box: box})
		}
	}
	return out
}
