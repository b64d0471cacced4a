// Package augment produces randomly perturbed training batches: rotation,
// shift, zoom and horizontal mirroring, sampled bilinearly with the nearest
// edge pixel used outside the source.
package augment

import (
	"errors"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat"

	"emotion-forge/internal/dataset"
)

// Options mirrors the knobs of a classic image data generator.
type Options struct {
	// RotationRange is in degrees.
	RotationRange float64
	// Shift ranges are fractions of the image extent.
	WidthShiftRange  float64
	HeightShiftRange float64
	// ZoomRange draws independent x/y zoom factors from [1-z, 1+z].
	ZoomRange      float64
	HorizontalFlip bool

	FeaturewiseCenter           bool
	FeaturewiseStdNormalization bool
}

// Params is one concrete draw of the random transform.
type Params struct {
	Theta  float64 // radians
	Tx, Ty float64 // row and column shift in pixels
	Zx, Zy float64
	Flip   bool
}

// Generator draws transforms from a seeded source.
type Generator struct {
	opts Options
	rng  *rand.Rand
	mean float64
	std  float64
	fit  bool
}

// New builds a Generator.
func New(opts Options, seed int64) *Generator {
	return &Generator{opts: opts, rng: rand.New(rand.NewSource(seed))}
}

// Fit computes the dataset-wide statistics needed by the featurewise
// options. It is a no-op when both are off.
func (g *Generator) Fit(set dataset.Set) error {
	if !g.opts.FeaturewiseCenter && !g.opts.FeaturewiseStdNormalization {
		return nil
	}
	if set.Len() == 0 {
		return errors.New("augment: cannot fit on an empty set")
	}
	all := make([]float64, 0, set.Len()*set.Height*set.Width)
	for _, img := range set.Images {
		all = append(all, img...)
	}
	g.mean, g.std = stat.MeanStdDev(all, nil)
	g.fit = true
	return nil
}

func (g *Generator) uniform(r float64) float64 {
	return (g.rng.Float64()*2 - 1) * r
}

// Random draws transform parameters for an h×w image.
func (g *Generator) Random(h, w int) Params {
	p := Params{Zx: 1, Zy: 1}
	if g.opts.RotationRange != 0 {
		p.Theta = g.uniform(g.opts.RotationRange) * math.Pi / 180
	}
	if g.opts.HeightShiftRange != 0 {
		p.Tx = g.uniform(g.opts.HeightShiftRange) * float64(h)
	}
	if g.opts.WidthShiftRange != 0 {
		p.Ty = g.uniform(g.opts.WidthShiftRange) * float64(w)
	}
	if g.opts.ZoomRange != 0 {
		p.Zx = 1 + g.uniform(g.opts.ZoomRange)
		p.Zy = 1 + g.uniform(g.opts.ZoomRange)
	}
	if g.opts.HorizontalFlip {
		p.Flip = g.rng.Float64() < 0.5
	}
	return p
}

// Transform returns a randomly augmented copy of img.
func (g *Generator) Transform(img []float64, h, w int) []float64 {
	return g.standardize(Apply(img, h, w, g.Random(h, w)))
}

func (g *Generator) standardize(img []float64) []float64 {
	if !g.fit {
		return img
	}
	for i := range img {
		if g.opts.FeaturewiseCenter {
			img[i] -= g.mean
		}
		if g.opts.FeaturewiseStdNormalization {
			img[i] /= g.std + 1e-7
		}
	}
	return img
}

// Apply warps img by p. Output pixel (r, c) samples the source at
// A·(r, c) + offset, where A = rotation·shift·zoom is taken about the image
// centre.
func Apply(img []float64, h, w int, p Params) []float64 {
	cos, sin := math.Cos(p.Theta), math.Sin(p.Theta)
	// rotation · zoom; the shift only contributes to the offset
	a00, a01 := cos*p.Zx, -sin*p.Zy
	a10, a11 := sin*p.Zx, cos*p.Zy
	sx := cos*p.Tx - sin*p.Ty
	sy := sin*p.Tx + cos*p.Ty

	cr := float64(h)/2 - 0.5
	cc := float64(w)/2 - 0.5
	off0 := cr - (a00*cr + a01*cc) + sx
	off1 := cc - (a10*cr + a11*cc) + sy

	out := make([]float64, h*w)
	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			fr, fc := float64(r), float64(c)
			sr := a00*fr + a01*fc + off0
			sc := a10*fr + a11*fc + off1
			out[r*w+c] = bilinear(img, h, w, sr, sc)
		}
	}
	if p.Flip {
		for r := 0; r < h; r++ {
			row := out[r*w : (r+1)*w]
			for i, j := 0, w-1; i < j; i, j = i+1, j-1 {
				row[i], row[j] = row[j], row[i]
			}
		}
	}
	return out
}

func bilinear(img []float64, h, w int, r, c float64) float64 {
	r = clamp(r, 0, float64(h-1))
	c = clamp(c, 0, float64(w-1))
	r0, c0 := int(math.Floor(r)), int(math.Floor(c))
	r1, c1 := r0+1, c0+1
	if r1 > h-1 {
		r1 = h - 1
	}
	if c1 > w-1 {
		c1 = w - 1
	}
	fr, fc := r-float64(r0), c-float64(c0)
	top := img[r0*w+c0]*(1-fc) + img[r0*w+c1]*fc
	bottom := img[r1*w+c0]*(1-fc) + img[r1*w+c1]*fc
	return top*(1-fr) + bottom*fr
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
