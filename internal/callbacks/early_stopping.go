package callbacks

import (
	"context"
	"math"

	"k8s.io/klog/v2"
)

// EarlyStopping ends training once Monitor has not decreased for Patience
// consecutive epochs.
type EarlyStopping struct {
	Monitor  string
	Patience int
	MinDelta float64
	Verbose  int

	best         float64
	wait         int
	stoppedEpoch int
	stop         bool
}

// NewEarlyStopping watches monitor with the given patience.
func NewEarlyStopping(monitor string, patience, verbose int) *EarlyStopping {
	return &EarlyStopping{Monitor: monitor, Patience: patience, Verbose: verbose}
}

func (e *EarlyStopping) OnTrainBegin(context.Context) error {
	e.best = math.Inf(1)
	e.wait = 0
	e.stoppedEpoch = 0
	e.stop = false
	return nil
}

func (e *EarlyStopping) OnEpochEnd(_ context.Context, epoch int, logs Logs) error {
	current, ok := monitored(logs, e.Monitor)
	if !ok {
		klog.Warningf("early stopping requires %s, available: %v", e.Monitor, logs.Keys())
		return nil
	}
	if current-e.MinDelta < e.best {
		e.best = current
		e.wait = 0
		return nil
	}
	e.wait++
	if e.wait >= e.Patience {
		e.stoppedEpoch = epoch
		e.stop = true
	}
	return nil
}

func (e *EarlyStopping) OnTrainEnd(context.Context, Logs) error {
	if e.stop && e.Verbose > 0 {
		klog.Infof("Epoch %05d: early stopping", e.stoppedEpoch+1)
	}
	return nil
}

func (e *EarlyStopping) ShouldStop() bool {
	return e.stop
}

// StoppedEpoch is the zero-based epoch at which training was stopped.
func (e *EarlyStopping) StoppedEpoch() (int, bool) {
	return e.stoppedEpoch, e.stop
}
