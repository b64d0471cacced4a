package model

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

const epsilon = 1e-7

// Classifier is a Network compiled with an optimizer, softmax categorical
// cross-entropy and accuracy.
type Classifier struct {
	net *Network
	opt Optimizer
}

var _ Model = (*Classifier)(nil)

// Compile binds net to the named optimizer.
func Compile(net *Network, optimizer string, lr float64) (*Classifier, error) {
	if net == nil {
		return nil, errors.New("model: nil network")
	}
	opt, err := NewOptimizer(optimizer, lr)
	if err != nil {
		return nil, err
	}
	return &Classifier{net: net, opt: opt}, nil
}

// Network exposes the underlying layers.
func (m *Classifier) Network() *Network {
	return m.net
}

func (m *Classifier) LearningRate() float64 {
	return m.opt.LearningRate()
}

func (m *Classifier) SetLearningRate(lr float64) {
	m.opt.SetLearningRate(lr)
}

// Predict returns the class distribution for one image.
func (m *Classifier) Predict(img []float64) []float64 {
	return softmax(m.net.Logits(img))
}

// TrainOnBatch runs one optimizer step on the batch and returns the loss
// (including the L2 penalty) and accuracy measured before the update.
func (m *Classifier) TrainOnBatch(batch Batch) (loss, acc float64) {
	n := batch.Len()
	if n == 0 {
		return 0, 0
	}
	params := m.net.Params()
	for _, p := range params {
		p.zeroGrad()
	}

	var ce float64
	var correct int
	inv := 1 / float64(n)
	for i, img := range batch.Inputs {
		probs := softmax(m.net.Logits(img))
		label := batch.Labels[i]
		ce += crossEntropy(probs, label)
		if floats.MaxIdx(probs) == floats.MaxIdx(label) {
			correct++
		}
		grad := make([]float64, len(probs))
		for c := range probs {
			grad[c] = (probs[c] - label[c]) * inv
		}
		m.net.backward(grad)
	}

	penalty := m.penalty()
	if m.net.l2 > 0 {
		for _, p := range params {
			if p.Decay {
				floats.AddScaled(p.Grad, 2*m.net.l2, p.Value)
			}
		}
	}
	m.opt.Step(params)

	return ce*inv + penalty, float64(correct) * inv
}

// Evaluate reports loss and accuracy over batch without updating weights.
func (m *Classifier) Evaluate(batch Batch) (loss, acc float64) {
	n := batch.Len()
	if n == 0 {
		return math.NaN(), math.NaN()
	}
	var ce float64
	var correct int
	for i, img := range batch.Inputs {
		probs := m.Predict(img)
		ce += crossEntropy(probs, batch.Labels[i])
		if floats.MaxIdx(probs) == floats.MaxIdx(batch.Labels[i]) {
			correct++
		}
	}
	return ce/float64(n) + m.penalty(), float64(correct) / float64(n)
}

// Save writes the current weights to path.
func (m *Classifier) Save(path string) error {
	if err := SaveWeights(path, m.net.Weights()); err != nil {
		return fmt.Errorf("save model: %w", err)
	}
	return nil
}

func (m *Classifier) penalty() float64 {
	if m.net.l2 <= 0 {
		return 0
	}
	var sum float64
	for _, p := range m.net.Params() {
		if p.Decay {
			sum += floats.Dot(p.Value, p.Value)
		}
	}
	return m.net.l2 * sum
}

func softmax(logits []float64) []float64 {
	maxLogit := floats.Max(logits)
	out := make([]float64, len(logits))
	sum := 0.0
	for i, v := range logits {
		out[i] = math.Exp(v - maxLogit)
		sum += out[i]
	}
	floats.Scale(1/sum, out)
	return out
}

func crossEntropy(probs, target []float64) float64 {
	var loss float64
	for c, y := range target {
		if y == 0 {
			continue
		}
		p := math.Min(math.Max(probs[c], epsilon), 1-epsilon)
		loss -= y * math.Log(p)
	}
	return loss
}
