package model

import "fmt"

// Shape is a channels-first activation shape.
type Shape struct {
	C, H, W int
}

// Size returns the number of elements in the shape.
func (s Shape) Size() int {
	return s.C * s.H * s.W
}

func (s Shape) String() string {
	return fmt.Sprintf("(%d, %d, %d)", s.H, s.W, s.C)
}

// Volume is a dense activation laid out as [C][H][W].
type Volume struct {
	Shape
	Data []float64
}

func newVolume(s Shape) *Volume {
	return &Volume{Shape: s, Data: make([]float64, s.Size())}
}

func (v *Volume) at(c, y, x int) int {
	return (c*v.H+y)*v.W + x
}

// fromHWC converts a row-major, channel-innermost image into a Volume.
func fromHWC(img []float64, s Shape) *Volume {
	v := newVolume(s)
	if s.C == 1 {
		copy(v.Data, img)
		return v
	}
	for y := 0; y < s.H; y++ {
		for x := 0; x < s.W; x++ {
			for c := 0; c < s.C; c++ {
				v.Data[v.at(c, y, x)] = img[(y*s.W+x)*s.C+c]
			}
		}
	}
	return v
}

// Param is a trainable tensor with its accumulated gradient.
type Param struct {
	Name  string
	Shape []int
	Value []float64
	Grad  []float64
	// Decay marks kernels that take the L2 penalty; biases do not.
	Decay bool
}

func newParam(name string, decay bool, shape ...int) *Param {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Param{
		Name:  name,
		Shape: shape,
		Value: make([]float64, n),
		Grad:  make([]float64, n),
		Decay: decay,
	}
}

func (p *Param) zeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// outputSize returns the output extent and leading pad for one spatial axis,
// following the "same"/"valid" conventions of the usual conv frameworks.
func outputSize(in, k, stride int, same bool) (out, before int) {
	if !same {
		return (in-k)/stride + 1, 0
	}
	out = (in + stride - 1) / stride
	total := (out-1)*stride + k - in
	if total < 0 {
		total = 0
	}
	return out, total / 2
}
