package metrics

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// Window accumulates per-batch results across an epoch.
type Window struct {
	samples int
	data    time.Duration
	compute time.Duration
	steps   int
	weights []float64
	losses  []float64
	accs    []float64
}

// Record adds one batch to the window.
func (w *Window) Record(batchSize int, dataTime, computeTime time.Duration, loss, acc float64) {
	w.samples += batchSize
	w.data += dataTime
	w.compute += computeTime
	w.steps++
	w.weights = append(w.weights, float64(batchSize))
	w.losses = append(w.losses, loss)
	w.accs = append(w.accs, acc)
}

// Snapshot returns aggregated metrics and resets the window. Loss and
// accuracy are averaged with each batch weighted by its sample count.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{Samples: w.samples, Steps: w.steps}
	total := w.data + w.compute
	if total > 0 {
		snap.ImagesPerSec = float64(w.samples) / total.Seconds()
	}
	if w.steps > 0 {
		snap.AvgDataMS = (w.data.Seconds() * 1000) / float64(w.steps)
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / float64(w.steps)
	}
	if w.samples > 0 {
		snap.Loss = stat.Mean(w.losses, w.weights)
		snap.Acc = stat.Mean(w.accs, w.weights)
	}

	*w = Window{}
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	Samples      int
	Steps        int
	ImagesPerSec float64
	AvgDataMS    float64
	AvgComputeMS float64
	Loss         float64
	Acc          float64
}
