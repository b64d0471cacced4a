package trainer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"emotion-forge/internal/callbacks"
	"emotion-forge/internal/metrics"
	"emotion-forge/internal/model"
)

// Flow supplies training batches without end.
type Flow interface {
	Next() model.Batch
}

// FitConfig captures the knobs required by the training loop.
type FitConfig struct {
	Model         model.Model
	Flow          Flow
	StepsPerEpoch int
	Epochs        int
	Validation    model.Batch
	// ValBatch is the chunk size used when evaluating Validation.
	ValBatch  int
	Callbacks callbacks.List
	Verbose   int
}

// History holds the logs of every completed epoch.
type History struct {
	Epochs []callbacks.Logs
}

// Last returns the logs of the final epoch, or nil when none ran.
func (h History) Last() callbacks.Logs {
	if len(h.Epochs) == 0 {
		return nil
	}
	return h.Epochs[len(h.Epochs)-1]
}

// StepsPerEpoch is the number of batches that cover n samples once.
func StepsPerEpoch(n, batch int) int {
	if n <= 0 || batch <= 0 {
		return 0
	}
	return (n + batch - 1) / batch
}

// Fit trains cfg.Model for up to cfg.Epochs epochs, evaluating on the
// validation batch after each one and notifying the callbacks.
func Fit(ctx context.Context, cfg FitConfig) (History, error) {
	var hist History
	if cfg.Model == nil || cfg.Flow == nil {
		return hist, errors.New("trainer: model and flow are required")
	}
	if cfg.StepsPerEpoch <= 0 {
		return hist, errors.New("trainer: steps per epoch must be > 0")
	}
	if cfg.ValBatch <= 0 {
		cfg.ValBatch = 32
	}

	if err := cfg.Callbacks.OnTrainBegin(ctx); err != nil {
		return hist, err
	}
	ended := false
	defer func() {
		if ended {
			return
		}
		// Close files and flush summaries even when training was aborted.
		if err := cfg.Callbacks.OnTrainEnd(context.WithoutCancel(ctx), hist.Last()); err != nil {
			klog.Warningf("callbacks after aborted training: %v", err)
		}
	}()

	var window metrics.Window
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		for step := 0; step < cfg.StepsPerEpoch; step++ {
			if err := ctx.Err(); err != nil {
				return hist, err
			}
			startData := time.Now()
			batch := cfg.Flow.Next()
			dataTime := time.Since(startData)
			if batch.Len() == 0 {
				return hist, errors.New("trainer: flow produced an empty batch")
			}

			startCompute := time.Now()
			loss, acc := cfg.Model.TrainOnBatch(batch)
			window.Record(batch.Len(), dataTime, time.Since(startCompute), loss, acc)
		}

		snap := window.Snapshot()
		logs := callbacks.Logs{
			"loss": snap.Loss,
			"acc":  snap.Acc,
			"lr":   cfg.Model.LearningRate(),
		}
		if cfg.Validation.Len() > 0 {
			logs["val_loss"], logs["val_acc"] = evaluate(cfg.Model, cfg.Validation, cfg.ValBatch)
		}

		if cfg.Verbose > 0 {
			klog.Info(epochLine(epoch, cfg.Epochs, logs, snap))
		}

		if err := cfg.Callbacks.OnEpochEnd(ctx, epoch, logs); err != nil {
			return hist, err
		}
		hist.Epochs = append(hist.Epochs, logs)
		if cfg.Callbacks.ShouldStop() {
			break
		}
	}

	ended = true
	if err := cfg.Callbacks.OnTrainEnd(ctx, hist.Last()); err != nil {
		return hist, err
	}
	return hist, nil
}

// evaluate averages loss and accuracy over chunks of size chunk, weighting
// each chunk by its sample count.
func evaluate(m model.Model, val model.Batch, chunk int) (loss, acc float64) {
	var window metrics.Window
	for start := 0; start < val.Len(); start += chunk {
		end := start + chunk
		if end > val.Len() {
			end = val.Len()
		}
		part := model.Batch{Inputs: val.Inputs[start:end], Labels: val.Labels[start:end]}
		l, a := m.Evaluate(part)
		window.Record(part.Len(), 0, 0, l, a)
	}
	snap := window.Snapshot()
	return snap.Loss, snap.Acc
}

// epochLine renders the per-epoch progress line. Validation fields are left
// out when there is no validation set.
func epochLine(epoch, epochs int, logs callbacks.Logs, snap metrics.Snapshot) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "epoch=%d/%d loss=%.4f acc=%.4f", epoch+1, epochs, logs["loss"], logs["acc"])
	if v, ok := logs["val_loss"]; ok {
		fmt.Fprintf(&sb, " val_loss=%.4f", v)
	}
	if v, ok := logs["val_acc"]; ok {
		fmt.Fprintf(&sb, " val_acc=%.4f", v)
	}
	fmt.Fprintf(&sb, " lr=%g images_per_sec=%.1f data_ms=%.2f compute_ms=%.2f",
		logs["lr"],
		snap.ImagesPerSec,
		snap.AvgDataMS,
		snap.AvgComputeMS,
	)
	return sb.String()
}
