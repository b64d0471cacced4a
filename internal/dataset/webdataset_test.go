package dataset

import (
	"archive/tar"
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type member struct {
	name string
	data []byte
}

func grayPNG(t *testing.T, side int, level uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, side, side))
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			img.SetGray(x, y, color.Gray{Y: level})
		}
	}
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

func writeShard(t *testing.T, path string, members []member) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	for _, m := range members {
		hdr := &tar.Header{Name: m.name, Size: int64(len(m.data)), Mode: 0o644}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write(m.data)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func drain(t *testing.T, samples <-chan Sample, errs <-chan error) ([]Sample, error) {
	t.Helper()
	var out []Sample
	for s := range samples {
		out = append(out, s)
	}
	return out, <-errs
}

func TestStreamShardPairsOutOfOrderMembers(t *testing.T) {
	shard := filepath.Join(t.TempDir(), "shard-000000.tar")
	writeShard(t, shard, []member{
		{"000001.png", grayPNG(t, 8, 255)},
		{"000002.cls", []byte("5\n")},
		{"000001.cls", []byte("3")},
		{"000002.png", grayPNG(t, 8, 0)},
		{"000003.txt", []byte("ignored")},
	})

	stream, streamErrs := StreamShard(context.Background(), shard, ShardOptions{Height: 4, Width: 4})
	samples, err := drain(t, stream, streamErrs)
	require.NoError(t, err)
	require.Len(t, samples, 2)

	assert.Equal(t, "000001", samples[0].Key)
	assert.Equal(t, 3, samples[0].Label)
	assert.Len(t, samples[0].Pixels, 16)
	assert.Equal(t, 255.0, samples[0].Pixels[0])
	assert.Equal(t, 5, samples[1].Label)
	assert.Equal(t, 0.0, samples[1].Pixels[15])
}

func TestStreamShardReportsIncomplete(t *testing.T) {
	shard := filepath.Join(t.TempDir(), "shard-000000.tar")
	writeShard(t, shard, []member{{"000001.cls", []byte("1")}})

	stream, streamErrs := StreamShard(context.Background(), shard, ShardOptions{Height: 4, Width: 4})
	_, err := drain(t, stream, streamErrs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "incomplete")
}

func TestStreamShardPendingOverflow(t *testing.T) {
	shard := filepath.Join(t.TempDir(), "shard-000000.tar")
	var members []member
	for i := 0; i < 3; i++ {
		members = append(members, member{strconv.Itoa(i) + ".cls", []byte("1")})
	}
	writeShard(t, shard, members)

	stream, streamErrs := StreamShard(context.Background(), shard, ShardOptions{Height: 4, Width: 4, PendingCap: 2})
	_, err := drain(t, stream, streamErrs)
	require.ErrorIs(t, err, ErrPendingOverflow)
}

func TestLoadShardsBuildsSet(t *testing.T) {
	dir := t.TempDir()
	writeShard(t, filepath.Join(dir, "shard-000000.tar"), []member{
		{"a.png", grayPNG(t, 6, 10)},
		{"a.cls", []byte("0")},
	})
	writeShard(t, filepath.Join(dir, "shard-000001.tar"), []member{
		{"b.png", grayPNG(t, 6, 20)},
		{"b.cls", []byte("2")},
	})

	set, err := Load(context.Background(), LoadOptions{Name: "webdataset:" + dir, Height: 5, Width: 5, NumClasses: 3})
	require.NoError(t, err)
	require.Equal(t, 2, set.Len())
	assert.Equal(t, []float64{1, 0, 0}, set.Labels[0])
	assert.Equal(t, []float64{0, 0, 1}, set.Labels[1])
	assert.Equal(t, 20.0, set.Images[1][0])
}

func TestLoadShardsRejectsLabelOutOfRange(t *testing.T) {
	dir := t.TempDir()
	writeShard(t, filepath.Join(dir, "shard-000000.tar"), []member{
		{"a.png", grayPNG(t, 6, 10)},
		{"a.cls", []byte("9")},
	})
	_, err := LoadShards(context.Background(), dir, 5, 5, 7)
	require.Error(t, err)
}
