// Package callbacks holds the observers the training loop notifies at run
// and epoch boundaries.
package callbacks

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Logs are the metrics of one epoch, keyed by name (loss, acc, val_loss,
// val_acc, lr).
type Logs map[string]float64

// Keys returns the metric names in sorted order.
func (l Logs) Keys() []string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Callback reacts to the training loop. Epochs are zero-based.
type Callback interface {
	OnTrainBegin(ctx context.Context) error
	OnEpochEnd(ctx context.Context, epoch int, logs Logs) error
	OnTrainEnd(ctx context.Context, logs Logs) error
}

// Stopper is implemented by callbacks that can end training early.
type Stopper interface {
	ShouldStop() bool
}

// LRScheduler exposes the optimizer learning rate.
type LRScheduler interface {
	LearningRate() float64
	SetLearningRate(lr float64)
}

// Saver persists model weights.
type Saver interface {
	Save(path string) error
}

// List dispatches to each callback in order, stopping at the first error.
type List []Callback

func (l List) OnTrainBegin(ctx context.Context) error {
	for _, cb := range l {
		if err := cb.OnTrainBegin(ctx); err != nil {
			return fmt.Errorf("%s on train begin: %w", name(cb), err)
		}
	}
	return nil
}

func (l List) OnEpochEnd(ctx context.Context, epoch int, logs Logs) error {
	for _, cb := range l {
		if err := cb.OnEpochEnd(ctx, epoch, logs); err != nil {
			return fmt.Errorf("%s on epoch %d end: %w", name(cb), epoch+1, err)
		}
	}
	return nil
}

func (l List) OnTrainEnd(ctx context.Context, logs Logs) error {
	for _, cb := range l {
		if err := cb.OnTrainEnd(ctx, logs); err != nil {
			return fmt.Errorf("%s on train end: %w", name(cb), err)
		}
	}
	return nil
}

// ShouldStop reports whether any callback asked for training to end.
func (l List) ShouldStop() bool {
	for _, cb := range l {
		if s, ok := cb.(Stopper); ok && s.ShouldStop() {
			return true
		}
	}
	return false
}

func name(cb Callback) string {
	t := fmt.Sprintf("%T", cb)
	return t[strings.LastIndex(t, ".")+1:]
}

// monitored fetches key from logs.
func monitored(logs Logs, key string) (float64, bool) {
	v, ok := logs[key]
	return v, ok
}
