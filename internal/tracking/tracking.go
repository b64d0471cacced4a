// Package tracking records a training run's configuration and per-epoch
// history, either to a local run directory or to a remote tracking server.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/cpuid/v2"

	"emotion-forge/internal/config"
)

// OverridesFile is read from the tracking directory before the run is built.
const OverridesFile = "config_overrides.yaml"

// Session is one tracked run.
type Session interface {
	ID() string
	SetConfig(ctx context.Context, cfg map[string]any) error
	Log(ctx context.Context, step int, row map[string]float64) error
	Summary(ctx context.Context, values map[string]float64) error
	Finish(ctx context.Context) error
}

// Options selects and configures the session backend.
type Options struct {
	Dir     string
	URL     string
	Project string
	// Client and MaxElapsed apply to the HTTP backend only.
	Client     *http.Client
	MaxElapsed time.Duration
}

// Init starts a session: remote when URL is set, local otherwise.
func Init(ctx context.Context, opts Options) (Session, error) {
	id := uuid.New().String()
	if opts.Project == "" {
		opts.Project = "emotion-forge"
	}
	if opts.URL != "" {
		return newHTTPSession(ctx, id, opts)
	}
	if opts.Dir == "" {
		return nil, errors.New("tracking: either a directory or a URL is required")
	}
	return newLocalSession(id, opts)
}

// LoadOverrides applies <dir>/config_overrides.yaml to cfg when present and
// reports whether it did.
func LoadOverrides(dir string, cfg *config.Config) (bool, error) {
	if dir == "" {
		return false, nil
	}
	f, err := os.Open(filepath.Join(dir, OverridesFile))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("open tracking overrides: %w", err)
	}
	defer f.Close()
	if err := config.Decode(f, cfg); err != nil {
		return false, fmt.Errorf("parse tracking overrides: %w", err)
	}
	return true, nil
}

// SystemInfo describes the host the run executes on.
func SystemInfo() map[string]any {
	host, _ := os.Hostname()
	return map[string]any{
		"host":           host,
		"os":             runtime.GOOS,
		"arch":           runtime.GOARCH,
		"go":             runtime.Version(),
		"cpu":            cpuid.CPU.BrandName,
		"physical_cores": cpuid.CPU.PhysicalCores,
		"logical_cores":  cpuid.CPU.LogicalCores,
		"avx2":           cpuid.CPU.Supports(cpuid.AVX2),
	}
}
