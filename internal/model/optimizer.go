package model

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Optimizer applies accumulated gradients to parameters.
type Optimizer interface {
	Name() string
	Step(params []*Param)
	LearningRate() float64
	SetLearningRate(lr float64)
}

// NewOptimizer resolves an optimizer by name. A non-positive lr selects the
// optimizer's default.
func NewOptimizer(name string, lr float64) (Optimizer, error) {
	switch strings.ToLower(name) {
	case "adam":
		if lr <= 0 {
			lr = 0.001
		}
		return NewAdam(lr), nil
	case "sgd":
		if lr <= 0 {
			lr = 0.01
		}
		return &SGD{lr: lr}, nil
	default:
		return nil, fmt.Errorf("model: unknown optimizer %q", name)
	}
}

// SGD is plain gradient descent.
type SGD struct {
	lr float64
}

func (o *SGD) Name() string               { return "sgd" }
func (o *SGD) LearningRate() float64      { return o.lr }
func (o *SGD) SetLearningRate(lr float64) { o.lr = lr }

func (o *SGD) Step(params []*Param) {
	for _, p := range params {
		floats.AddScaled(p.Value, -o.lr, p.Grad)
	}
}

// Adam keeps per-parameter first and second moment estimates.
type Adam struct {
	lr, beta1, beta2, epsilon float64
	t                         int
	m, v                      map[*Param][]float64
}

// NewAdam returns Adam with the usual β1=0.9, β2=0.999, ε=1e-7.
func NewAdam(lr float64) *Adam {
	return &Adam{
		lr:      lr,
		beta1:   0.9,
		beta2:   0.999,
		epsilon: 1e-7,
		m:       make(map[*Param][]float64),
		v:       make(map[*Param][]float64),
	}
}

func (o *Adam) Name() string               { return "adam" }
func (o *Adam) LearningRate() float64      { return o.lr }
func (o *Adam) SetLearningRate(lr float64) { o.lr = lr }

func (o *Adam) Step(params []*Param) {
	o.t++
	t := float64(o.t)
	lrT := o.lr * math.Sqrt(1-math.Pow(o.beta2, t)) / (1 - math.Pow(o.beta1, t))
	for _, p := range params {
		m, ok := o.m[p]
		if !ok {
			m = make([]float64, len(p.Value))
			o.m[p] = m
		}
		v, ok := o.v[p]
		if !ok {
			v = make([]float64, len(p.Value))
			o.v[p] = v
		}
		for i, g := range p.Grad {
			m[i] = o.beta1*m[i] + (1-o.beta1)*g
			v[i] = o.beta2*v[i] + (1-o.beta2)*g*g
			p.Value[i] -= lrT * m[i] / (math.Sqrt(v[i]) + o.epsilon)
		}
	}
}
