package callbacks

import (
	"context"
	"math"

	"emotion-forge/internal/tracking"
)

// Tracker forwards every epoch's logs to a tracking session and records a
// run summary at the end. Keys are prefixed with Prefix when set, so several
// datasets can share one session.
type Tracker struct {
	Session tracking.Session
	Prefix  string

	best      float64
	bestEpoch int
}

// NewTracker forwards to sess.
func NewTracker(sess tracking.Session, prefix string) *Tracker {
	return &Tracker{Session: sess, Prefix: prefix}
}

func (t *Tracker) OnTrainBegin(context.Context) error {
	t.best = math.Inf(1)
	t.bestEpoch = -1
	return nil
}

func (t *Tracker) OnEpochEnd(ctx context.Context, epoch int, logs Logs) error {
	if v, ok := logs["val_loss"]; ok && v < t.best {
		t.best = v
		t.bestEpoch = epoch
	}
	return t.Session.Log(ctx, epoch, t.prefixed(logs))
}

func (t *Tracker) OnTrainEnd(ctx context.Context, logs Logs) error {
	summary := t.prefixed(logs)
	if t.bestEpoch >= 0 {
		summary[t.Prefix+"best_val_loss"] = t.best
		summary[t.Prefix+"best_epoch"] = float64(t.bestEpoch)
	}
	return t.Session.Summary(ctx, summary)
}

func (t *Tracker) prefixed(logs Logs) map[string]float64 {
	out := make(map[string]float64, len(logs))
	for k, v := range logs {
		out[t.Prefix+k] = v
	}
	return out
}
