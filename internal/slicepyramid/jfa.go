package slicepyramid

import "math"

const jfaSentinel = -1

// jfaCell holds the coordinate a pixel currently believes is the
// nearest iso-band pixel, normalized to the finest level's pixel grid;
// Valid is false for the jfaSentinel state.
type jfaCell struct {
	X, Y  float32
	Valid bool
}

type jfaImage struct {
	Width, Height int
	Cells         []jfaCell
}

func (img *jfaImage) at(x, y int) int { return y*img.Width + x }

// seedJFA implements step 5's seeding rule: pixels whose finest-level
// distance lies within [Iso+BandLower, Iso+BandUpper] write their own
// normalized coordinate; all others write the sentinel.
func seedJFA(finest *Level, params Params) *jfaImage {
	img := &jfaImage{
		Width:  finest.Width,
		Height: finest.Height,
		Cells:  make([]jfaCell, finest.Width*finest.Height),
	}
	lower := params.Iso + params.BandLower
	upper := params.Iso + params.BandUpper
	if lower == upper {
		// no explicit band configured: treat the iso value itself (within
		// one pixel) as the seed band, matching "distance in [lower,upper]"
		// for a caller that only set Iso.
		maxPixel := finest.PixelSize.X()
		if finest.PixelSize.Y() > maxPixel {
			maxPixel = finest.PixelSize.Y()
		}
		lower = params.Iso - maxPixel
		upper = params.Iso + maxPixel
	}

	for y := 0; y < finest.Height; y++ {
		for x := 0; x < finest.Width; x++ {
			idx := finest.at(x, y)
			d := finest.Distance[idx]
			if d >= lower && d <= upper {
				img.Cells[idx] = jfaCell{X: float32(x), Y: float32(y), Valid: true}
			} else {
				img.Cells[idx] = jfaCell{Valid: false}
			}
		}
	}
	return img
}

// propagateJFA runs the jump-flood passes with step lengths N/2, N/4,
// ..., 1, so every pixel ends up recording the coordinate of the
// nearest band pixel reachable within the step schedule.
func propagateJFA(img *jfaImage, width, height int) {
	n := width
	if height > n {
		n = height
	}
	step := 1
	for step*2 < n {
		step *= 2
	}

	for ; step >= 1; step /= 2 {
		next := make([]jfaCell, len(img.Cells))
		copy(next, img.Cells)

		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				best := img.Cells[img.at(x, y)]
				bestDist := jfaDistSq(best, x, y)

				for _, off := range [8][2]int{
					{-step, -step}, {0, -step}, {step, -step},
					{-step, 0}, {step, 0},
					{-step, step}, {0, step}, {step, step},
				} {
					nx, ny := x+off[0], y+off[1]
					if nx < 0 || nx >= width || ny < 0 || ny >= height {
						continue
					}
					cand := img.Cells[img.at(nx, ny)]
					if !cand.Valid {
						continue
					}
					d := jfaDistSq(cand, x, y)
					if !best.Valid || d < bestDist {
						best = cand
						bestDist = d
					}
				}
				next[img.at(x, y)] = best
			}
		}
		img.Cells = next
	}
}

func jfaDistSq(c jfaCell, x, y int) float32 {
	if !c.Valid {
		return float32(math.Inf(1))
	}
	dx := c.X - float32(x)
	dy := c.Y - float32(y)
	return dx*dx + dy*dy
}

// jfaToDistance converts the propagated JFA coordinates back to
// Euclidean world-space distances using the finest level's pixel size.
func jfaToDistance(img *jfaImage, finest *Level) []float32 {
	out := make([]float32, len(img.Cells))
	px, py := finest.PixelSize.X(), finest.PixelSize.Y()
	for i, c := range img.Cells {
		if !c.Valid {
			out[i] = float32(math.Inf(1))
			continue
		}
		y := i / img.Width
		x := i - y*img.Width
		dx := (c.X - float32(x)) * px
		dy := (c.Y - float32(y)) * py
		out[i] = float32(math.Sqrt(float64(dx*dx + dy*dy)))
	}
	return out
}
