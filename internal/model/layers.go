package model

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Layer is one stage of the network. Forward caches whatever Backward needs,
// so calls must alternate one sample at a time.
type Layer interface {
	Name() string
	OutShape() Shape
	Forward(x *Volume) *Volume
	Backward(grad *Volume) *Volume
	Params() []*Param
}

func glorot(p *Param, fanIn, fanOut int, rng *rand.Rand) {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	for i := range p.Value {
		p.Value[i] = (rng.Float64()*2 - 1) * limit
	}
}

// Conv2D is a dense k×k convolution.
type Conv2D struct {
	name       string
	in, out    Shape
	k, stride  int
	padT, padL int
	w, b       *Param
	x          *Volume
}

func newConv2D(name string, in Shape, filters, k, stride int, same bool, rng *rand.Rand) *Conv2D {
	oh, pt := outputSize(in.H, k, stride, same)
	ow, pl := outputSize(in.W, k, stride, same)
	l := &Conv2D{
		name:   name,
		in:     in,
		out:    Shape{C: filters, H: oh, W: ow},
		k:      k,
		stride: stride,
		padT:   pt,
		padL:   pl,
		w:      newParam(name+"/kernel", true, filters, in.C, k, k),
		b:      newParam(name+"/bias", false, filters),
	}
	glorot(l.w, in.C*k*k, filters*k*k, rng)
	return l
}

func (l *Conv2D) Name() string     { return l.name }
func (l *Conv2D) OutShape() Shape  { return l.out }
func (l *Conv2D) Params() []*Param { return []*Param{l.w, l.b} }

func (l *Conv2D) Forward(x *Volume) *Volume {
	l.x = x
	out := newVolume(l.out)
	kk := l.k * l.k
	for oc := 0; oc < l.out.C; oc++ {
		for oy := 0; oy < l.out.H; oy++ {
			for ox := 0; ox < l.out.W; ox++ {
				sum := l.b.Value[oc]
				for ic := 0; ic < l.in.C; ic++ {
					wBase := (oc*l.in.C + ic) * kk
					for ky := 0; ky < l.k; ky++ {
						iy := oy*l.stride + ky - l.padT
						if iy < 0 || iy >= l.in.H {
							continue
						}
						row := (ic*l.in.H + iy) * l.in.W
						for kx := 0; kx < l.k; kx++ {
							ix := ox*l.stride + kx - l.padL
							if ix < 0 || ix >= l.in.W {
								continue
							}
							sum += l.w.Value[wBase+ky*l.k+kx] * x.Data[row+ix]
						}
					}
				}
				out.Data[out.at(oc, oy, ox)] = sum
			}
		}
	}
	return out
}

func (l *Conv2D) Backward(grad *Volume) *Volume {
	dx := newVolume(l.in)
	kk := l.k * l.k
	for oc := 0; oc < l.out.C; oc++ {
		for oy := 0; oy < l.out.H; oy++ {
			for ox := 0; ox < l.out.W; ox++ {
				g := grad.Data[grad.at(oc, oy, ox)]
				if g == 0 {
					continue
				}
				l.b.Grad[oc] += g
				for ic := 0; ic < l.in.C; ic++ {
					wBase := (oc*l.in.C + ic) * kk
					for ky := 0; ky < l.k; ky++ {
						iy := oy*l.stride + ky - l.padT
						if iy < 0 || iy >= l.in.H {
							continue
						}
						row := (ic*l.in.H + iy) * l.in.W
						for kx := 0; kx < l.k; kx++ {
							ix := ox*l.stride + kx - l.padL
							if ix < 0 || ix >= l.in.W {
								continue
							}
							l.w.Grad[wBase+ky*l.k+kx] += g * l.x.Data[row+ix]
							dx.Data[row+ix] += g * l.w.Value[wBase+ky*l.k+kx]
						}
					}
				}
			}
		}
	}
	return dx
}

// DepthwiseConv2D convolves each channel with its own k×k kernel.
type DepthwiseConv2D struct {
	name   string
	shape  Shape
	k, pad int
	w, b   *Param
	x      *Volume
}

func newDepthwiseConv2D(name string, in Shape, k int, rng *rand.Rand) *DepthwiseConv2D {
	_, pad := outputSize(in.H, k, 1, true)
	l := &DepthwiseConv2D{
		name:  name,
		shape: in,
		k:     k,
		pad:   pad,
		w:     newParam(name+"/depthwise_kernel", true, in.C, k, k),
		b:     newParam(name+"/bias", false, in.C),
	}
	glorot(l.w, k*k, k*k, rng)
	return l
}

func (l *DepthwiseConv2D) Name() string     { return l.name }
func (l *DepthwiseConv2D) OutShape() Shape  { return l.shape }
func (l *DepthwiseConv2D) Params() []*Param { return []*Param{l.w, l.b} }

func (l *DepthwiseConv2D) Forward(x *Volume) *Volume {
	l.x = x
	s := l.shape
	out := newVolume(s)
	for c := 0; c < s.C; c++ {
		wBase := c * l.k * l.k
		for y := 0; y < s.H; y++ {
			for xx := 0; xx < s.W; xx++ {
				sum := l.b.Value[c]
				for ky := 0; ky < l.k; ky++ {
					iy := y + ky - l.pad
					if iy < 0 || iy >= s.H {
						continue
					}
					for kx := 0; kx < l.k; kx++ {
						ix := xx + kx - l.pad
						if ix < 0 || ix >= s.W {
							continue
						}
						sum += l.w.Value[wBase+ky*l.k+kx] * x.Data[x.at(c, iy, ix)]
					}
				}
				out.Data[out.at(c, y, xx)] = sum
			}
		}
	}
	return out
}

func (l *DepthwiseConv2D) Backward(grad *Volume) *Volume {
	s := l.shape
	dx := newVolume(s)
	for c := 0; c < s.C; c++ {
		wBase := c * l.k * l.k
		for y := 0; y < s.H; y++ {
			for xx := 0; xx < s.W; xx++ {
				g := grad.Data[grad.at(c, y, xx)]
				if g == 0 {
					continue
				}
				l.b.Grad[c] += g
				for ky := 0; ky < l.k; ky++ {
					iy := y + ky - l.pad
					if iy < 0 || iy >= s.H {
						continue
					}
					for kx := 0; kx < l.k; kx++ {
						ix := xx + kx - l.pad
						if ix < 0 || ix >= s.W {
							continue
						}
						idx := dx.at(c, iy, ix)
						l.w.Grad[wBase+ky*l.k+kx] += g * l.x.Data[idx]
						dx.Data[idx] += g * l.w.Value[wBase+ky*l.k+kx]
					}
				}
			}
		}
	}
	return dx
}

// PointwiseConv2D is a 1×1 convolution computed as a matrix product over
// the (strided) pixel grid.
type PointwiseConv2D struct {
	name    string
	in, out Shape
	stride  int
	w, b    *Param
	xs      *mat.Dense
}

func newPointwiseConv2D(name string, in Shape, filters, stride int, rng *rand.Rand) *PointwiseConv2D {
	oh, _ := outputSize(in.H, 1, stride, true)
	ow, _ := outputSize(in.W, 1, stride, true)
	l := &PointwiseConv2D{
		name:   name,
		in:     in,
		out:    Shape{C: filters, H: oh, W: ow},
		stride: stride,
		w:      newParam(name+"/kernel", true, filters, in.C),
		b:      newParam(name+"/bias", false, filters),
	}
	glorot(l.w, in.C, filters, rng)
	return l
}

func (l *PointwiseConv2D) Name() string     { return l.name }
func (l *PointwiseConv2D) OutShape() Shape  { return l.out }
func (l *PointwiseConv2D) Params() []*Param { return []*Param{l.w, l.b} }

func (l *PointwiseConv2D) gather(x *Volume) *mat.Dense {
	if l.stride == 1 {
		return mat.NewDense(l.in.C, l.in.H*l.in.W, x.Data)
	}
	pix := l.out.H * l.out.W
	data := make([]float64, l.in.C*pix)
	for c := 0; c < l.in.C; c++ {
		for oy := 0; oy < l.out.H; oy++ {
			for ox := 0; ox < l.out.W; ox++ {
				data[c*pix+oy*l.out.W+ox] = x.Data[x.at(c, oy*l.stride, ox*l.stride)]
			}
		}
	}
	return mat.NewDense(l.in.C, pix, data)
}

func (l *PointwiseConv2D) Forward(x *Volume) *Volume {
	l.xs = l.gather(x)
	out := newVolume(l.out)
	pix := l.out.H * l.out.W
	w := mat.NewDense(l.out.C, l.in.C, l.w.Value)
	y := mat.NewDense(l.out.C, pix, out.Data)
	y.Mul(w, l.xs)
	for oc := 0; oc < l.out.C; oc++ {
		row := out.Data[oc*pix : (oc+1)*pix]
		floats.AddConst(l.b.Value[oc], row)
	}
	return out
}

func (l *PointwiseConv2D) Backward(grad *Volume) *Volume {
	pix := l.out.H * l.out.W
	g := mat.NewDense(l.out.C, pix, grad.Data)
	for oc := 0; oc < l.out.C; oc++ {
		l.b.Grad[oc] += floats.Sum(grad.Data[oc*pix : (oc+1)*pix])
	}

	var dw mat.Dense
	dw.Mul(g, l.xs.T())
	floats.Add(l.w.Grad, dw.RawMatrix().Data)

	w := mat.NewDense(l.out.C, l.in.C, l.w.Value)
	var dxs mat.Dense
	dxs.Mul(w.T(), g)
	raw := dxs.RawMatrix().Data

	dx := newVolume(l.in)
	if l.stride == 1 {
		copy(dx.Data, raw)
		return dx
	}
	for c := 0; c < l.in.C; c++ {
		for oy := 0; oy < l.out.H; oy++ {
			for ox := 0; ox < l.out.W; ox++ {
				dx.Data[dx.at(c, oy*l.stride, ox*l.stride)] = raw[c*pix+oy*l.out.W+ox]
			}
		}
	}
	return dx
}

// ReLU clamps negative activations to zero.
type ReLU struct {
	name  string
	shape Shape
	mask  []bool
}

func newReLU(name string, in Shape) *ReLU {
	return &ReLU{name: name, shape: in}
}

func (l *ReLU) Name() string     { return l.name }
func (l *ReLU) OutShape() Shape  { return l.shape }
func (l *ReLU) Params() []*Param { return nil }

func (l *ReLU) Forward(x *Volume) *Volume {
	out := newVolume(l.shape)
	if cap(l.mask) < len(x.Data) {
		l.mask = make([]bool, len(x.Data))
	}
	l.mask = l.mask[:len(x.Data)]
	for i, v := range x.Data {
		l.mask[i] = v > 0
		if l.mask[i] {
			out.Data[i] = v
		}
	}
	return out
}

func (l *ReLU) Backward(grad *Volume) *Volume {
	dx := newVolume(l.shape)
	for i, g := range grad.Data {
		if l.mask[i] {
			dx.Data[i] = g
		}
	}
	return dx
}

// MaxPool2D takes the maximum over k×k windows.
type MaxPool2D struct {
	name       string
	in, out    Shape
	k, stride  int
	padT, padL int
	argmax     []int
}

func newMaxPool2D(name string, in Shape, k, stride int) *MaxPool2D {
	oh, pt := outputSize(in.H, k, stride, true)
	ow, pl := outputSize(in.W, k, stride, true)
	return &MaxPool2D{
		name:   name,
		in:     in,
		out:    Shape{C: in.C, H: oh, W: ow},
		k:      k,
		stride: stride,
		padT:   pt,
		padL:   pl,
	}
}

func (l *MaxPool2D) Name() string     { return l.name }
func (l *MaxPool2D) OutShape() Shape  { return l.out }
func (l *MaxPool2D) Params() []*Param { return nil }

func (l *MaxPool2D) Forward(x *Volume) *Volume {
	out := newVolume(l.out)
	l.argmax = make([]int, len(out.Data))
	for c := 0; c < l.out.C; c++ {
		for oy := 0; oy < l.out.H; oy++ {
			for ox := 0; ox < l.out.W; ox++ {
				best, bestIdx := math.Inf(-1), -1
				for ky := 0; ky < l.k; ky++ {
					iy := oy*l.stride + ky - l.padT
					if iy < 0 || iy >= l.in.H {
						continue
					}
					for kx := 0; kx < l.k; kx++ {
						ix := ox*l.stride + kx - l.padL
						if ix < 0 || ix >= l.in.W {
							continue
						}
						idx := x.at(c, iy, ix)
						if x.Data[idx] > best {
							best, bestIdx = x.Data[idx], idx
						}
					}
				}
				o := out.at(c, oy, ox)
				out.Data[o] = best
				l.argmax[o] = bestIdx
			}
		}
	}
	return out
}

func (l *MaxPool2D) Backward(grad *Volume) *Volume {
	dx := newVolume(l.in)
	for o, idx := range l.argmax {
		if idx >= 0 {
			dx.Data[idx] += grad.Data[o]
		}
	}
	return dx
}

// GlobalAveragePooling2D averages each channel down to a single value.
type GlobalAveragePooling2D struct {
	name string
	in   Shape
}

func newGlobalAveragePooling2D(name string, in Shape) *GlobalAveragePooling2D {
	return &GlobalAveragePooling2D{name: name, in: in}
}

func (l *GlobalAveragePooling2D) Name() string     { return l.name }
func (l *GlobalAveragePooling2D) OutShape() Shape  { return Shape{C: l.in.C, H: 1, W: 1} }
func (l *GlobalAveragePooling2D) Params() []*Param { return nil }

func (l *GlobalAveragePooling2D) Forward(x *Volume) *Volume {
	out := newVolume(l.OutShape())
	pix := l.in.H * l.in.W
	for c := 0; c < l.in.C; c++ {
		out.Data[c] = floats.Sum(x.Data[c*pix : (c+1)*pix]) / float64(pix)
	}
	return out
}

func (l *GlobalAveragePooling2D) Backward(grad *Volume) *Volume {
	dx := newVolume(l.in)
	pix := l.in.H * l.in.W
	for c := 0; c < l.in.C; c++ {
		g := grad.Data[c] / float64(pix)
		floats.AddConst(g, dx.Data[c*pix : (c+1)*pix])
	}
	return dx
}

// Residual adds the outputs of a main path and a shortcut path that see the
// same input.
type Residual struct {
	name     string
	main     []Layer
	shortcut []Layer
}

func (l *Residual) Name() string    { return l.name }
func (l *Residual) OutShape() Shape { return l.main[len(l.main)-1].OutShape() }

func (l *Residual) Params() []*Param {
	var ps []*Param
	for _, sub := range l.main {
		ps = append(ps, sub.Params()...)
	}
	for _, sub := range l.shortcut {
		ps = append(ps, sub.Params()...)
	}
	return ps
}

func (l *Residual) Forward(x *Volume) *Volume {
	a := forwardAll(l.main, x)
	b := forwardAll(l.shortcut, x)
	floats.Add(a.Data, b.Data)
	return a
}

func (l *Residual) Backward(grad *Volume) *Volume {
	da := backwardAll(l.main, grad)
	db := backwardAll(l.shortcut, grad)
	floats.Add(da.Data, db.Data)
	return da
}

func forwardAll(layers []Layer, x *Volume) *Volume {
	for _, l := range layers {
		x = l.Forward(x)
	}
	return x
}

func backwardAll(layers []Layer, grad *Volume) *Volume {
	for i := len(layers) - 1; i >= 0; i-- {
		grad = layers[i].Backward(grad)
	}
	return grad
}
