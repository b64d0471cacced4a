package model

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
)

// Options configures the network builder.
type Options struct {
	// InputShape is (height, width, channels).
	InputShape  [3]int
	NumClasses  int
	BaseFilters int
	Modules     int
	L2          float64
	Seed        int64
}

// Network is a feed-forward stack of layers ending in per-class logits.
type Network struct {
	input  Shape
	layers []Layer
	l2     float64
}

type builder struct {
	shape  Shape
	rng    *rand.Rand
	counts map[string]int
}

func (b *builder) name(kind string) string {
	b.counts[kind]++
	return fmt.Sprintf("%s_%d", kind, b.counts[kind])
}

func (b *builder) conv(filters, k, stride int, same bool) Layer {
	l := newConv2D(b.name("conv2d"), b.shape, filters, k, stride, same, b.rng)
	b.shape = l.OutShape()
	return l
}

func (b *builder) separable(filters int) []Layer {
	dw := newDepthwiseConv2D(b.name("depthwise_conv2d"), b.shape, 3, b.rng)
	pw := newPointwiseConv2D(b.name("pointwise_conv2d"), dw.OutShape(), filters, 1, b.rng)
	b.shape = pw.OutShape()
	return []Layer{dw, pw}
}

func (b *builder) relu() Layer {
	l := newReLU(b.name("activation"), b.shape)
	return l
}

// MiniXception builds the compact Xception-style classifier: a two-conv
// stem, residual modules of separable convolutions with doubling width, then
// a class-wide conv and global average pooling. Batch normalization is not
// part of this rendition.
func MiniXception(opts Options) (*Network, error) {
	h, w, c := opts.InputShape[0], opts.InputShape[1], opts.InputShape[2]
	if h <= 0 || w <= 0 || c <= 0 {
		return nil, fmt.Errorf("model: invalid input shape %v", opts.InputShape)
	}
	if opts.NumClasses < 2 {
		return nil, fmt.Errorf("model: num classes must be >= 2 (got %d)", opts.NumClasses)
	}
	if opts.BaseFilters <= 0 {
		opts.BaseFilters = 8
	}
	if opts.Modules < 0 {
		return nil, errors.New("model: modules must be >= 0")
	}
	if h < 5 || w < 5 {
		return nil, fmt.Errorf("model: input %dx%d too small for the stem", h, w)
	}

	b := &builder{
		shape:  Shape{C: c, H: h, W: w},
		rng:    rand.New(rand.NewSource(opts.Seed)),
		counts: make(map[string]int),
	}
	net := &Network{input: b.shape, l2: opts.L2}

	net.layers = append(net.layers, b.conv(opts.BaseFilters, 3, 1, false))
	net.layers = append(net.layers, b.relu())
	net.layers = append(net.layers, b.conv(opts.BaseFilters, 3, 1, false))
	net.layers = append(net.layers, b.relu())

	for i := 0; i < opts.Modules; i++ {
		filters := 16 << i
		in := b.shape

		shortcut := newPointwiseConv2D(b.name("pointwise_conv2d"), in, filters, 2, b.rng)

		var main []Layer
		main = append(main, b.separable(filters)...)
		main = append(main, b.relu())
		main = append(main, b.separable(filters)...)
		pool := newMaxPool2D(b.name("max_pooling2d"), b.shape, 3, 2)
		main = append(main, pool)
		b.shape = pool.OutShape()

		if b.shape != shortcut.OutShape() {
			return nil, fmt.Errorf("model: module %d shape mismatch %v vs %v", i, b.shape, shortcut.OutShape())
		}
		net.layers = append(net.layers, &Residual{
			name:     b.name("add"),
			main:     main,
			shortcut: []Layer{shortcut},
		})
	}

	net.layers = append(net.layers, b.conv(opts.NumClasses, 3, 1, true))
	gap := newGlobalAveragePooling2D(b.name("global_average_pooling2d"), b.shape)
	net.layers = append(net.layers, gap)
	return net, nil
}

// InputShape returns the expected input shape.
func (n *Network) InputShape() Shape {
	return n.input
}

// NumClasses is the width of the logits.
func (n *Network) NumClasses() int {
	return n.layers[len(n.layers)-1].OutShape().C
}

// Params returns every trainable parameter in layer order.
func (n *Network) Params() []*Param {
	var ps []*Param
	for _, l := range n.layers {
		ps = append(ps, l.Params()...)
	}
	return ps
}

// Logits runs the forward pass on one HWC image.
func (n *Network) Logits(img []float64) []float64 {
	out := forwardAll(n.layers, fromHWC(img, n.input))
	return out.Data
}

func (n *Network) backward(grad []float64) {
	g := &Volume{Shape: n.layers[len(n.layers)-1].OutShape(), Data: grad}
	backwardAll(n.layers, g)
}

// Summary renders one line per layer with output shape and parameter count.
func (n *Network) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%-36s %-16s %s\n", "Layer (type)", "Output Shape", "Param #")
	total := 0
	var walk func(layers []Layer, indent string)
	walk = func(layers []Layer, indent string) {
		for _, l := range layers {
			count := 0
			for _, p := range l.Params() {
				count += len(p.Value)
			}
			kind := strings.TrimPrefix(fmt.Sprintf("%T", l), "*model.")
			label := fmt.Sprintf("%s%s (%s)", indent, l.Name(), kind)
			fmt.Fprintf(&sb, "%-36s %-16s %d\n", label, l.OutShape(), count)
			if r, ok := l.(*Residual); ok {
				walk(r.main, indent+"  ")
				walk(r.shortcut, indent+"  ")
				continue
			}
			total += count
		}
	}
	walk(n.layers, "")
	fmt.Fprintf(&sb, "Total params: %d\n", total)
	return sb.String()
}
