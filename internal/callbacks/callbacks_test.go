package callbacks

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLR struct{ lr float64 }

func (f *fakeLR) LearningRate() float64      { return f.lr }
func (f *fakeLR) SetLearningRate(lr float64) { f.lr = lr }

type fakeSaver struct {
	paths []string
	err   error
}

func (f *fakeSaver) Save(path string) error {
	f.paths = append(f.paths, path)
	return f.err
}

func run(t *testing.T, cb Callback, losses []float64) int {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, cb.OnTrainBegin(ctx))
	for epoch, v := range losses {
		require.NoError(t, cb.OnEpochEnd(ctx, epoch, Logs{"val_loss": v}))
		if s, ok := cb.(Stopper); ok && s.ShouldStop() {
			return epoch
		}
	}
	require.NoError(t, cb.OnTrainEnd(ctx, nil))
	return -1
}

func TestEarlyStoppingAfterPatience(t *testing.T) {
	es := NewEarlyStopping("val_loss", 2, 1)
	stopped := run(t, es, []float64{1.0, 0.9, 0.95, 0.92, 0.5})
	assert.Equal(t, 3, stopped)
	epoch, ok := es.StoppedEpoch()
	assert.True(t, ok)
	assert.Equal(t, 3, epoch)
}

func TestEarlyStoppingResetsOnImprovement(t *testing.T) {
	es := NewEarlyStopping("val_loss", 2, 0)
	assert.Equal(t, -1, run(t, es, []float64{1.0, 1.1, 0.9, 1.0, 0.8}))
}

func TestEarlyStoppingZeroPatience(t *testing.T) {
	es := NewEarlyStopping("val_loss", 0, 0)
	assert.Equal(t, 1, run(t, es, []float64{1.0, 1.0}))
}

func TestReduceLROnPlateau(t *testing.T) {
	lr := &fakeLR{lr: 0.1}
	r := NewReduceLROnPlateau(lr, "val_loss", 0.1, 2, 1)
	run(t, r, []float64{1.0, 1.0, 0.99995})
	assert.InDelta(t, 0.01, lr.lr, 1e-12, "improvement below min delta is a plateau")

	run(t, r, []float64{1.0, 0.5, 0.4, 0.4, 0.4, 0.4, 0.4})
	assert.InDelta(t, 0.0001, lr.lr, 1e-12)
}

func TestReduceLRRecordsRate(t *testing.T) {
	lr := &fakeLR{lr: 0.25}
	r := NewReduceLROnPlateau(lr, "val_loss", 0.1, 12, 0)
	require.NoError(t, r.OnTrainBegin(context.Background()))
	logs := Logs{"val_loss": 1}
	require.NoError(t, r.OnEpochEnd(context.Background(), 0, logs))
	assert.Equal(t, 0.25, logs["lr"])
}

func TestCSVLoggerTruncatesAtTrainBegin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fer2013_emotion_training.log")
	require.NoError(t, os.WriteFile(path, []byte("stale,content\n1,2\n"), 0o644))

	ctx := context.Background()
	c := NewCSVLogger(path, false)
	require.NoError(t, c.OnTrainBegin(ctx))
	require.NoError(t, c.OnEpochEnd(ctx, 0, Logs{"loss": 1.5, "acc": 0.25, "val_loss": 1.25, "val_acc": 0.5, "lr": 0.001}))
	require.NoError(t, c.OnEpochEnd(ctx, 1, Logs{"loss": 1.0, "acc": 0.5, "val_loss": 1.0, "val_acc": 0.75}))
	require.NoError(t, c.OnTrainEnd(ctx, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Equal(t, []string{
		"epoch,acc,loss,lr,val_acc,val_loss",
		"0,0.25,1.5,0.001,0.5,1.25",
		"1,0.5,1,NA,0.75,1",
	}, lines)
}

func TestCSVLoggerAppendKeepsContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")
	require.NoError(t, os.WriteFile(path, []byte("epoch,loss\n0,2\n"), 0o644))

	ctx := context.Background()
	c := NewCSVLogger(path, true)
	require.NoError(t, c.OnTrainBegin(ctx))
	require.NoError(t, c.OnEpochEnd(ctx, 0, Logs{"loss": 1}))
	require.NoError(t, c.OnTrainEnd(ctx, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "epoch,loss\n0,2\n0,1\n", string(data))
}

func TestCSVLoggerUnwritablePath(t *testing.T) {
	c := NewCSVLogger(filepath.Join(t.TempDir(), "missing", "log.csv"), false)
	require.Error(t, c.OnTrainBegin(context.Background()))
	require.Error(t, c.OnEpochEnd(context.Background(), 0, Logs{}))
}

func TestModelCheckpointSavesOnStrictImprovement(t *testing.T) {
	saver := &fakeSaver{}
	mc := NewModelCheckpoint(saver, "/m/fer2013_mini_XCEPTION.{epoch:02d}-{val_acc:.2f}.hdf5", "val_loss", 1)
	ctx := context.Background()
	require.NoError(t, mc.OnTrainBegin(ctx))

	seq := []Logs{
		{"val_loss": 1.0, "val_acc": 0.5},
		{"val_loss": 1.0, "val_acc": 0.6},
		{"val_loss": 0.8, "val_acc": 0.614},
		{"val_loss": 0.9, "val_acc": 0.7},
	}
	for epoch, logs := range seq {
		require.NoError(t, mc.OnEpochEnd(ctx, epoch, logs))
	}
	assert.Equal(t, []string{
		"/m/fer2013_mini_XCEPTION.01-0.50.hdf5",
		"/m/fer2013_mini_XCEPTION.03-0.61.hdf5",
	}, saver.paths)
	assert.Equal(t, saver.paths, mc.Saved())
}

func TestModelCheckpointSaveFailureIsReturned(t *testing.T) {
	saver := &fakeSaver{err: errors.New("disk full")}
	mc := NewModelCheckpoint(saver, "w.{epoch}.hdf5", "val_loss", 0)
	require.Error(t, mc.OnEpochEnd(context.Background(), 0, Logs{"val_loss": 1}))
}

func TestFormatPath(t *testing.T) {
	p, err := FormatPath("x.{epoch:02d}-{val_acc:.2f}", 9, Logs{"val_acc": 0.666})
	require.NoError(t, err)
	assert.Equal(t, "x.10-0.67", p)

	_, err = FormatPath("x.{epoch:02d}-{val_acc:.2f}", 0, Logs{"val_loss": 1})
	require.Error(t, err)
}

type failing struct{}

func (failing) OnTrainBegin(context.Context) error          { return nil }
func (failing) OnEpochEnd(context.Context, int, Logs) error { return errors.New("boom") }
func (failing) OnTrainEnd(context.Context, Logs) error      { return nil }

func TestListWrapsErrorsAndStops(t *testing.T) {
	saver := &fakeSaver{}
	es := NewEarlyStopping("val_loss", 0, 0)
	list := List{es, failing{}, NewModelCheckpoint(saver, "w.hdf5", "val_loss", 0)}
	ctx := context.Background()

	require.NoError(t, es.OnTrainBegin(ctx))
	err := list.OnEpochEnd(ctx, 0, Logs{"val_loss": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failing on epoch 1 end")
	assert.Empty(t, saver.paths, "callbacks after a failure do not run")

	assert.False(t, list.ShouldStop())
	_ = es.OnEpochEnd(ctx, 1, Logs{"val_loss": 2})
	assert.True(t, list.ShouldStop())
}
