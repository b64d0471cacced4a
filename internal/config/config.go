package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config captures the hyperparameters and paths for a training run. It is
// built once at startup and passed by value afterwards.
type Config struct {
	Patience         int     `yaml:"patience"`
	RotationRange    float64 `yaml:"rotation_range"`
	WidthShiftRange  float64 `yaml:"width_shift_range"`
	HeightShiftRange float64 `yaml:"height_shift_range"`
	ZoomRange        float64 `yaml:"zoom_range"`
	BatchSize        int     `yaml:"batch_size"`
	NumEpochs        int     `yaml:"num_epochs"`

	ImageHeight     int     `yaml:"image_height"`
	ImageWidth      int     `yaml:"image_width"`
	Channels        int     `yaml:"channels"`
	ValidationSplit float64 `yaml:"validation_split"`
	Verbose         int     `yaml:"verbose"`
	NumClasses      int     `yaml:"num_classes"`

	BasePath    string   `yaml:"base_path"`
	Datasets    []string `yaml:"datasets"`
	DatasetRoot string   `yaml:"dataset_root"`

	Optimizer    string  `yaml:"optimizer"`
	LearningRate float64 `yaml:"learning_rate"`
	Seed         int64   `yaml:"seed"`

	TrackingDir string `yaml:"tracking_dir"`
	TrackingURL string `yaml:"tracking_url"`
}

// Overrides captures CLI supplied values. Zero values mean "not set", except
// for Patience, where zero is a valid setting and nil means "not set".
type Overrides struct {
	BasePath    string
	DatasetRoot string
	Datasets    []string
	NumEpochs   int
	BatchSize   int
	Patience    *int
	Seed        int64
	TrackingDir string
	TrackingURL string
}

// Default returns the hyperparameters of the reference FER-2013 run.
func Default() Config {
	return Config{
		Patience:         50,
		RotationRange:    10,
		WidthShiftRange:  0.1,
		HeightShiftRange: 0.1,
		ZoomRange:        0.1,
		BatchSize:        32,
		NumEpochs:        10000,
		ImageHeight:      64,
		ImageWidth:       64,
		Channels:         1,
		ValidationSplit:  0.2,
		Verbose:          1,
		NumClasses:       7,
		BasePath:         "../trained_models/emotion_models/",
		Datasets:         []string{"fer2013"},
		DatasetRoot:      "../datasets/",
		Optimizer:        "adam",
		LearningRate:     0.001,
		TrackingDir:      "runs",
	}
}

// Load reads a YAML file on top of Default and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg := Default()
	if err := Decode(f, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Decode overlays the YAML document in r onto cfg. Keys absent from the
// document keep their current value; unknown keys are rejected.
func Decode(r io.Reader, cfg *Config) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyOverrides updates c using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.BasePath != "" {
		c.BasePath = o.BasePath
	}
	if o.DatasetRoot != "" {
		c.DatasetRoot = o.DatasetRoot
	}
	if len(o.Datasets) > 0 {
		c.Datasets = append([]string(nil), o.Datasets...)
	}
	if o.NumEpochs > 0 {
		c.NumEpochs = o.NumEpochs
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.Patience != nil {
		c.Patience = *o.Patience
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.TrackingDir != "" {
		c.TrackingDir = o.TrackingDir
	}
	if o.TrackingURL != "" {
		c.TrackingURL = o.TrackingURL
	}
}

// Validate rejects configurations the run cannot be built from and
// normalises the rest in place: an empty optimizer becomes "adam" and a
// negative verbosity becomes 0. Ranges such as patience or augmentation
// magnitudes are passed through as-is.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.ImageHeight <= 0 || c.ImageWidth <= 0 {
		return fmt.Errorf("image size must be > 0 (got %dx%d)", c.ImageHeight, c.ImageWidth)
	}
	if c.Channels != 1 {
		return fmt.Errorf("channels must be 1 (got %d)", c.Channels)
	}
	if c.NumClasses < 2 {
		return fmt.Errorf("num_classes must be >= 2 (got %d)", c.NumClasses)
	}
	if c.ValidationSplit < 0 || c.ValidationSplit >= 1 {
		return fmt.Errorf("validation_split must be in [0,1) (got %g)", c.ValidationSplit)
	}
	if len(c.Datasets) == 0 {
		return errors.New("at least one dataset must be listed")
	}
	for _, name := range c.Datasets {
		if strings.TrimSpace(name) == "" {
			return errors.New("dataset names must not be empty")
		}
	}
	if c.Optimizer == "" {
		c.Optimizer = "adam"
	}
	if c.Verbose < 0 {
		c.Verbose = 0
	}
	return nil
}

// InputShape returns (height, width, channels).
func (c Config) InputShape() [3]int {
	return [3]int{c.ImageHeight, c.ImageWidth, c.Channels}
}

// ReduceLRPatience is the plateau patience handed to the learning-rate
// scheduler: a quarter of Patience, truncated toward zero.
func (c Config) ReduceLRPatience() int {
	return c.Patience / 4
}

// LogFilePath is the per-epoch CSV log for dataset.
func (c Config) LogFilePath(dataset string) string {
	return c.BasePath + dataset + "_emotion_training.log"
}

// CheckpointTemplate is the weight file name template for dataset. The
// {epoch:02d} and {val_acc:.2f} fields are filled in per save.
func (c Config) CheckpointTemplate(dataset string) string {
	return c.BasePath + dataset + "_mini_XCEPTION" + ".{epoch:02d}-{val_acc:.2f}" + ".hdf5"
}

// Map flattens the hyperparameters for the tracking session.
func (c Config) Map() map[string]any {
	return map[string]any{
		"patience":           c.Patience,
		"rotation_range":     c.RotationRange,
		"width_shift_range":  c.WidthShiftRange,
		"height_shift_range": c.HeightShiftRange,
		"zoom_range":         c.ZoomRange,
		"batch_size":         c.BatchSize,
		"num_epochs":         c.NumEpochs,
		"input_shape":        []int{c.ImageHeight, c.ImageWidth, c.Channels},
		"validation_split":   c.ValidationSplit,
		"num_classes":        c.NumClasses,
		"optimizer":          c.Optimizer,
		"learning_rate":      c.LearningRate,
		"seed":               c.Seed,
		"datasets":           c.Datasets,
	}
}
