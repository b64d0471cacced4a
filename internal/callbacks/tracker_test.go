package callbacks

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emotion-forge/internal/tracking"
)

func TestTrackersSharingASessionKeepEachSummary(t *testing.T) {
	ctx := context.Background()
	sess, err := tracking.Init(ctx, tracking.Options{Dir: t.TempDir()})
	require.NoError(t, err)
	defer sess.Finish(ctx)

	for _, prefix := range []string{"fer2013/", "webdataset_faces/"} {
		tr := NewTracker(sess, prefix)
		require.NoError(t, tr.OnTrainBegin(ctx))
		require.NoError(t, tr.OnEpochEnd(ctx, 0, Logs{"val_loss": 1, "loss": 2}))
		require.NoError(t, tr.OnTrainEnd(ctx, Logs{"val_loss": 1, "loss": 2}))
	}

	data, err := os.ReadFile(filepath.Join(sess.(*tracking.LocalSession).Dir(), "summary.json"))
	require.NoError(t, err)
	var summary map[string]float64
	require.NoError(t, json.Unmarshal(data, &summary))
	for _, prefix := range []string{"fer2013/", "webdataset_faces/"} {
		assert.Equal(t, 1.0, summary[prefix+"best_val_loss"], prefix)
		assert.Contains(t, summary, prefix+"best_epoch")
		assert.Equal(t, 2.0, summary[prefix+"loss"], prefix)
	}
}
