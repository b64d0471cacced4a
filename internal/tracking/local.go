package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// LocalSession writes config.yaml, history.jsonl and summary.json under
// <dir>/<id>/.
type LocalSession struct {
	id  string
	dir string

	mu      sync.Mutex
	history *os.File
	summary map[string]float64
	closed  bool
}

func newLocalSession(id string, opts Options) (*LocalSession, error) {
	dir := filepath.Join(opts.Dir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("tracking: create run dir: %w", err)
	}
	history, err := os.OpenFile(filepath.Join(dir, "history.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("tracking: open history: %w", err)
	}
	return &LocalSession{id: id, dir: dir, history: history, summary: make(map[string]float64)}, nil
}

func (s *LocalSession) ID() string { return s.id }

// Dir is the run directory.
func (s *LocalSession) Dir() string { return s.dir }

func (s *LocalSession) SetConfig(_ context.Context, cfg map[string]any) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("tracking: encode config: %w", err)
	}
	return os.WriteFile(filepath.Join(s.dir, "config.yaml"), data, 0o644)
}

func (s *LocalSession) Log(_ context.Context, step int, row map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSessionFinished
	}
	record := map[string]any{"_step": step, "_timestamp": time.Now().Unix()}
	for k, v := range row {
		record[k] = v
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("tracking: encode row: %w", err)
	}
	if _, err := s.history.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("tracking: write row: %w", err)
	}
	return nil
}

// Summary merges values into the run summary; keys from earlier calls are
// kept unless overwritten.
func (s *LocalSession) Summary(_ context.Context, values map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		s.summary[k] = v
	}
	data, err := json.MarshalIndent(s.summary, "", "  ")
	if err != nil {
		return fmt.Errorf("tracking: encode summary: %w", err)
	}
	return os.WriteFile(filepath.Join(s.dir, "summary.json"), data, 0o644)
}

func (s *LocalSession) Finish(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.history.Close()
}
