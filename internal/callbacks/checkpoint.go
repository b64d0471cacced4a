package callbacks

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"k8s.io/klog/v2"
)

// ModelCheckpoint saves weights to a path built from Template whenever
// Monitor strictly decreases below the best value seen so far.
//
// Template fields look like {name} or {name:spec}, where spec is a printf
// verb body such as 02d or .2f. {epoch} is one-based; every other name is
// read from the epoch's logs.
type ModelCheckpoint struct {
	Template string
	Monitor  string
	Verbose  int

	model Saver
	best  float64
	saved []string
}

// NewModelCheckpoint saves only on improvement of monitor.
func NewModelCheckpoint(model Saver, template, monitor string, verbose int) *ModelCheckpoint {
	return &ModelCheckpoint{
		Template: template,
		Monitor:  monitor,
		Verbose:  verbose,
		model:    model,
		best:     math.Inf(1),
	}
}

func (m *ModelCheckpoint) OnTrainBegin(context.Context) error { return nil }

func (m *ModelCheckpoint) OnEpochEnd(_ context.Context, epoch int, logs Logs) error {
	current, ok := monitored(logs, m.Monitor)
	if !ok {
		klog.Warningf("can save best model only with %s available, skipping", m.Monitor)
		return nil
	}
	if !(current < m.best) {
		if m.Verbose > 0 {
			klog.Infof("Epoch %05d: %s did not improve", epoch+1, m.Monitor)
		}
		return nil
	}

	path, err := FormatPath(m.Template, epoch, logs)
	if err != nil {
		return err
	}
	if m.Verbose > 0 {
		klog.Infof("Epoch %05d: %s improved from %0.5f to %0.5f, saving model to %s", epoch+1, m.Monitor, m.best, current, path)
	}
	m.best = current
	if err := m.model.Save(path); err != nil {
		return err
	}
	m.saved = append(m.saved, path)
	return nil
}

func (m *ModelCheckpoint) OnTrainEnd(context.Context, Logs) error { return nil }

// Saved lists the checkpoint files written so far.
func (m *ModelCheckpoint) Saved() []string {
	return append([]string(nil), m.saved...)
}

var fieldRegexp = regexp.MustCompile(`\{(\w+)(?::([^}]*))?\}`)

// FormatPath fills the template fields for a zero-based epoch.
func FormatPath(template string, epoch int, logs Logs) (string, error) {
	var missing []string
	out := fieldRegexp.ReplaceAllStringFunc(template, func(field string) string {
		parts := fieldRegexp.FindStringSubmatch(field)
		key, spec := parts[1], parts[2]
		if key == "epoch" {
			if spec == "" {
				spec = "d"
			}
			return fmt.Sprintf("%"+spec, epoch+1)
		}
		v, ok := logs[key]
		if !ok {
			missing = append(missing, key)
			return field
		}
		if spec == "" {
			spec = "g"
		}
		if strings.HasSuffix(spec, "d") {
			return fmt.Sprintf("%"+spec, int(v))
		}
		return fmt.Sprintf("%"+spec, v)
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("checkpoint template %q: missing log keys %v", template, missing)
	}
	return out, nil
}
