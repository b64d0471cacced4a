package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/klauspost/cpuid/v2"
	"k8s.io/klog/v2"

	"emotion-forge/internal/config"
	"emotion-forge/internal/tracking"
	"emotion-forge/internal/trainer"
)

func main() {
	klog.InitFlags(nil)
	cfgPath := flag.String("config", "", "Path to YAML config (defaults are used when empty)")
	basePath := flag.String("base-path", "", "Override the output directory prefix for logs and checkpoints")
	datasetRoot := flag.String("dataset-root", "", "Override the dataset root")
	datasets := flag.String("datasets", "", "Comma-separated dataset names, e.g. fer2013,webdataset:/data/faces")
	epochs := flag.Int("epochs", 0, "Number of epochs")
	batchSize := flag.Int("batch-size", 0, "Batch size")
	patience := flag.Int("patience", 0, "Early stopping patience (applied only when the flag is given)")
	seed := flag.Int64("seed", 0, "PRNG seed")
	trackingDir := flag.String("tracking-dir", "", "Local tracking directory")
	trackingURL := flag.String("tracking-url", "", "Remote tracking server URL")

	flag.Parse()
	defer klog.Flush()

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			klog.Fatalf("failed to load config: %v", err)
		}
		cfg = *loaded
	}

	overrideDir := cfg.TrackingDir
	if *trackingDir != "" {
		overrideDir = *trackingDir
	}
	if applied, err := tracking.LoadOverrides(overrideDir, &cfg); err != nil {
		klog.Fatalf("failed to load tracking overrides: %v", err)
	} else if applied {
		klog.Infof("applied %s from %s", tracking.OverridesFile, overrideDir)
	}

	var patienceOverride *int
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "patience" {
			patienceOverride = patience
		}
	})

	cfg.ApplyOverrides(config.Overrides{
		BasePath:    *basePath,
		DatasetRoot: *datasetRoot,
		Datasets:    splitList(*datasets),
		NumEpochs:   *epochs,
		BatchSize:   *batchSize,
		Patience:    patienceOverride,
		Seed:        *seed,
		TrackingDir: *trackingDir,
		TrackingURL: *trackingURL,
	})

	if err := cfg.Validate(); err != nil {
		klog.Fatalf("invalid config: %v", err)
	}

	klog.Infof("cpu=%q cores=%d threads=%d avx2=%t", cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores, cpuid.CPU.Supports(cpuid.AVX2))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := tracking.Init(ctx, tracking.Options{Dir: cfg.TrackingDir, URL: cfg.TrackingURL})
	if err != nil {
		klog.Fatalf("failed to start tracking: %v", err)
	}
	klog.Infof("run=%s", sess.ID())

	params := cfg.Map()
	params["system"] = tracking.SystemInfo()
	if err := sess.SetConfig(ctx, params); err != nil {
		klog.Fatalf("failed to record config: %v", err)
	}

	runErr := trainer.Run(ctx, cfg, sess)
	if err := sess.Finish(context.Background()); err != nil {
		klog.Errorf("failed to finish tracking session: %v", err)
	}
	if runErr != nil {
		klog.Fatalf("training failed: %v", runErr)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
