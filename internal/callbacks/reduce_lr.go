package callbacks

import (
	"context"
	"math"

	"k8s.io/klog/v2"
)

// ReduceLROnPlateau multiplies the learning rate by Factor when Monitor has
// not improved by more than MinDelta for Patience epochs.
type ReduceLROnPlateau struct {
	Monitor  string
	Factor   float64
	Patience int
	MinDelta float64
	Cooldown int
	MinLR    float64
	Verbose  int

	target   LRScheduler
	best     float64
	wait     int
	cooldown int
}

// NewReduceLROnPlateau uses MinDelta 1e-4, no cooldown and no floor.
func NewReduceLROnPlateau(target LRScheduler, monitor string, factor float64, patience, verbose int) *ReduceLROnPlateau {
	return &ReduceLROnPlateau{
		Monitor:  monitor,
		Factor:   factor,
		Patience: patience,
		MinDelta: 1e-4,
		Verbose:  verbose,
		target:   target,
	}
}

func (r *ReduceLROnPlateau) OnTrainBegin(context.Context) error {
	r.best = math.Inf(1)
	r.wait = 0
	r.cooldown = 0
	return nil
}

func (r *ReduceLROnPlateau) OnEpochEnd(_ context.Context, epoch int, logs Logs) error {
	logs["lr"] = r.target.LearningRate()
	current, ok := monitored(logs, r.Monitor)
	if !ok {
		klog.Warningf("reduce lr on plateau requires %s, available: %v", r.Monitor, logs.Keys())
		return nil
	}

	if r.cooldown > 0 {
		r.cooldown--
		r.wait = 0
	}
	if current < r.best-r.MinDelta {
		r.best = current
		r.wait = 0
		return nil
	}
	if r.cooldown > 0 {
		return nil
	}
	r.wait++
	if r.wait < r.Patience {
		return nil
	}
	old := r.target.LearningRate()
	if old > r.MinLR {
		lr := math.Max(old*r.Factor, r.MinLR)
		r.target.SetLearningRate(lr)
		if r.Verbose > 0 {
			klog.Infof("Epoch %05d: ReduceLROnPlateau reducing learning rate to %g.", epoch+1, lr)
		}
		r.cooldown = r.Cooldown
		r.wait = 0
	}
	return nil
}

func (r *ReduceLROnPlateau) OnTrainEnd(context.Context, Logs) error {
	return nil
}
