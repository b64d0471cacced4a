package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowSnapshot(t *testing.T) {
	var w Window
	w.Record(64, 20*time.Millisecond, 10*time.Millisecond, 1.2, 0.25)
	w.Record(32, 10*time.Millisecond, 20*time.Millisecond, 0.6, 1.0)
	snap := w.Snapshot()

	assert.InDelta(t, 1600, snap.ImagesPerSec, 1)
	assert.InDelta(t, 15, snap.AvgDataMS, 1e-9)
	assert.InDelta(t, 1.0, snap.Loss, 1e-9)
	assert.InDelta(t, 0.5, snap.Acc, 1e-9)
	assert.Equal(t, 96, snap.Samples)
	assert.Equal(t, 2, snap.Steps)

	assert.Equal(t, 0, w.samples, "window was not reset")
	assert.Empty(t, w.losses)
}

func TestEmptyWindow(t *testing.T) {
	var w Window
	snap := w.Snapshot()
	assert.Zero(t, snap.Loss)
	assert.Zero(t, snap.ImagesPerSec)
}
