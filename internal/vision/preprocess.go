package vision

import (
	"image"
	"math"
)

// Grayscale converts img to an 8-bit luma image with a zero origin, using
// the BT.601 weights.
func Grayscale(img image.Image) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			lum := (299*r + 587*g + 114*bl + 500) / 1000
			out.Pix[(y-b.Min.Y)*out.Stride+(x-b.Min.X)] = uint8(lum >> 8)
		}
	}
	return out
}

// Contrast scales every pixel by alpha, rounding and saturating at 255.
func Contrast(g *image.Gray, alpha float64) {
	if alpha == 1 {
		return
	}
	var lut [256]uint8
	for i := range lut {
		v := math.Round(math.Abs(float64(i) * alpha))
		if v > 255 {
			v = 255
		}
		lut[i] = uint8(v)
	}
	for i, p := range g.Pix {
		g.Pix[i] = lut[p]
	}
}

// Invert flips every pixel, for light text on dark buttons.
func Invert(g *image.Gray) {
	for i, p := range g.Pix {
		g.Pix[i] = 255 - p
	}
}

// OtsuThreshold picks the level that maximizes between-class variance.
// Pixels strictly above it are foreground.
func OtsuThreshold(g *image.Gray) uint8 {
	var hist [256]float64
	b := g.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := g.Pix[(y-b.Min.Y)*g.Stride : (y-b.Min.Y)*g.Stride+b.Dx()]
		for _, p := range row {
			hist[p]++
		}
	}
	total := float64(b.Dx() * b.Dy())
	var sum float64
	for i, n := range hist {
		sum += float64(i) * n
	}

	var sumB, wB, best float64
	threshold := 0
	for t, n := range hist {
		wB += n
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t) * n
		mB := sumB / wB
		mF := (sum - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			threshold = t
		}
	}
	return uint8(threshold)
}

// Binarize maps pixels above t to white and the rest to black.
func Binarize(g *image.Gray, t uint8) {
	for i, p := range g.Pix {
		if p > t {
			g.Pix[i] = 255
		} else {
			g.Pix[i] = 0
		}
	}
}

// Preprocess runs grayscale, contrast amplification and Otsu binarization.
func Preprocess(img image.Image, contrast float64) *image.Gray {
	g := Grayscale(img)
	Contrast(g, contrast)
	Binarize(g, OtsuThreshold(g))
	return g
}

// PreprocessInverted is the fallback pass for light-on-dark controls:
// grayscale, invert, Otsu binarization.
func PreprocessInverted(img image.Image) *image.Gray {
	g := Grayscale(img)
	Invert(g)
	Binarize(g, OtsuThreshold(g))
	return g
}
