package trainer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"emotion-forge/internal/augment"
	"emotion-forge/internal/callbacks"
	"emotion-forge/internal/config"
	"emotion-forge/internal/dataset"
	"emotion-forge/internal/model"
	"emotion-forge/internal/tracking"
)

const (
	l2Regularization = 0.01
	residualModules  = 4
	lrFactor         = 0.1
	monitor          = "val_loss"
)

// Run executes the training workload: one model trained on every configured
// dataset in turn. sess may be nil, in which case nothing is tracked.
func Run(ctx context.Context, cfg config.Config, sess tracking.Session) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	klog.Infof("seed=%d input_shape=%v num_classes=%d optimizer=%s", seed, cfg.InputShape(), cfg.NumClasses, cfg.Optimizer)

	net, err := model.MiniXception(model.Options{
		InputShape: cfg.InputShape(),
		NumClasses: cfg.NumClasses,
		Modules:    residualModules,
		L2:         l2Regularization,
		Seed:       seed,
	})
	if err != nil {
		return err
	}
	clf, err := model.Compile(net, cfg.Optimizer, cfg.LearningRate)
	if err != nil {
		return err
	}
	klog.Infof("model summary:\n%s", net.Summary())

	gen := augment.New(augment.Options{
		RotationRange:    cfg.RotationRange,
		WidthShiftRange:  cfg.WidthShiftRange,
		HeightShiftRange: cfg.HeightShiftRange,
		ZoomRange:        cfg.ZoomRange,
		HorizontalFlip:   true,
	}, seed)

	for _, name := range cfg.Datasets {
		klog.Infof("Training dataset: %s", name)
		if err := runDataset(ctx, cfg, name, clf, gen, sess); err != nil {
			return fmt.Errorf("dataset %s: %w", name, err)
		}
	}
	return nil
}

func runDataset(ctx context.Context, cfg config.Config, name string, clf *model.Classifier, gen *augment.Generator, sess tracking.Session) error {
	file := dataset.FileName(name)
	cbs := callbacks.List{
		callbacks.NewModelCheckpoint(clf, cfg.CheckpointTemplate(file), monitor, cfg.Verbose),
		callbacks.NewCSVLogger(cfg.LogFilePath(file), false),
		callbacks.NewEarlyStopping(monitor, cfg.Patience, cfg.Verbose),
		callbacks.NewReduceLROnPlateau(clf, monitor, lrFactor, cfg.ReduceLRPatience(), cfg.Verbose),
	}
	if sess != nil {
		prefix := ""
		if len(cfg.Datasets) > 1 {
			prefix = file + "/"
		}
		cbs = append(cbs, callbacks.NewTracker(sess, prefix))
	}

	set, err := dataset.Load(ctx, dataset.LoadOptions{
		Root:       cfg.DatasetRoot,
		Name:       name,
		Height:     cfg.ImageHeight,
		Width:      cfg.ImageWidth,
		NumClasses: cfg.NumClasses,
	})
	if err != nil {
		return err
	}
	if got, want := set.Classes(), clf.Network().NumClasses(); got != want {
		return fmt.Errorf("dataset has %d classes, model expects %d", got, want)
	}
	set = dataset.PreprocessInput(set, true)
	train, val := dataset.Split(set, cfg.ValidationSplit)
	klog.Infof("dataset=%s samples=%d train=%d val=%d classes=%s", name, set.Len(), train.Len(), val.Len(), strings.Join(dataset.ClassNames(set.Classes()), ","))

	if err := gen.Fit(train); err != nil {
		return err
	}
	flow := gen.Flow(train, cfg.BatchSize)

	hist, err := Fit(ctx, FitConfig{
		Model:         clf,
		Flow:          flow,
		StepsPerEpoch: StepsPerEpoch(flow.Len(), flow.BatchSize()),
		Epochs:        cfg.NumEpochs,
		Validation:    val.Batch(),
		ValBatch:      cfg.BatchSize,
		Callbacks:     cbs,
		Verbose:       cfg.Verbose,
	})
	if err != nil {
		return err
	}
	klog.Infof("dataset=%s epochs_run=%d", name, len(hist.Epochs))
	return nil
}
