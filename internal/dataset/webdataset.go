package dataset

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"k8s.io/klog/v2"
)

// Sample is one face paired from a WebDataset shard, already decoded and
// resized to the requested grid.
type Sample struct {
	Key    string
	Pixels []float64
	Label  int
}

// ErrPendingOverflow indicates the pairing map exceeded the configured bound.
var ErrPendingOverflow = errors.New("webdataset: pending pair buffer exceeded")

const defaultPendingCap = 1024

// ShardOptions controls decoding of shard members.
type ShardOptions struct {
	Height     int
	Width      int
	PendingCap int
}

type partial struct {
	pixels []float64
	label  *int
}

func (p *partial) ready() bool {
	return p.pixels != nil && p.label != nil
}

// pairer joins "<key>.<img>" and "<key>.cls" members that may arrive in any
// order.
type pairer struct {
	opts    ShardOptions
	pending map[string]*partial
}

func (p *pairer) add(name string, payload []byte) (*Sample, error) {
	ext := strings.ToLower(filepath.Ext(name))
	key := strings.TrimSuffix(name, filepath.Ext(name))

	part := p.pending[key]
	if part == nil {
		part = &partial{}
	}
	switch ext {
	case ".jpg", ".jpeg", ".png":
		img, _, err := image.Decode(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("decode image %s: %w", name, err)
		}
		b := img.Bounds()
		if b.Dx() == 0 || b.Dy() == 0 {
			return nil, fmt.Errorf("decode image %s: empty image", name)
		}
		part.pixels = toGrayPixels(img, p.opts.Height, p.opts.Width)
	case ".cls":
		label, err := strconv.Atoi(strings.TrimSpace(string(payload)))
		if err != nil {
			return nil, fmt.Errorf("parse label %s: %w", name, err)
		}
		part.label = &label
	default:
		return nil, nil
	}

	if part.ready() {
		delete(p.pending, key)
		return &Sample{Key: key, Pixels: part.pixels, Label: *part.label}, nil
	}
	p.pending[key] = part
	if len(p.pending) > p.opts.PendingCap {
		return nil, ErrPendingOverflow
	}
	return nil, nil
}

// StreamShard streams paired, decoded samples from the shard at path.
func StreamShard(ctx context.Context, path string, opts ShardOptions) (<-chan Sample, <-chan error) {
	if opts.PendingCap <= 0 {
		opts.PendingCap = defaultPendingCap
	}
	out := make(chan Sample)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		f, err := os.Open(path)
		if err != nil {
			errCh <- fmt.Errorf("open shard: %w", err)
			return
		}
		defer f.Close()

		tr := tar.NewReader(bufio.NewReader(f))
		p := &pairer{opts: opts, pending: make(map[string]*partial)}

		for {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			default:
			}

			hdr, err := tr.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				errCh <- fmt.Errorf("read tar: %w", err)
				return
			}
			if hdr.FileInfo().IsDir() {
				continue
			}
			payload, err := io.ReadAll(tr)
			if err != nil {
				errCh <- fmt.Errorf("read %s: %w", hdr.Name, err)
				return
			}
			sample, err := p.add(filepath.Base(hdr.Name), payload)
			if err != nil {
				errCh <- err
				return
			}
			if sample == nil {
				continue
			}
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- *sample:
			}
		}

		if len(p.pending) > 0 {
			errCh <- fmt.Errorf("%d samples incomplete", len(p.pending))
		}
	}()

	return out, errCh
}

// LoadShards reads every shard beneath dir into a Set. Shards are decoded
// concurrently; samples keep discovery order.
func LoadShards(ctx context.Context, dir string, height, width, classes int) (Set, error) {
	shards, err := DiscoverShards(dir)
	if err != nil {
		return Set{}, err
	}
	if len(shards) == 0 {
		return Set{}, fmt.Errorf("webdataset: no shards under %s", dir)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	set := Set{Height: height, Width: width}
	results := ReadShards(ctx, shards, ReaderOptions{Shard: ShardOptions{Height: height, Width: width}})
	read := 0
	for res := range results {
		if res.Err != nil {
			return Set{}, fmt.Errorf("%s: %w", res.Path, res.Err)
		}
		for _, sample := range res.Samples {
			onehot, err := OneHot(sample.Label, classes)
			if err != nil {
				return Set{}, fmt.Errorf("%s: %s: %w", res.Path, sample.Key, err)
			}
			set.Images = append(set.Images, sample.Pixels)
			set.Labels = append(set.Labels, onehot)
		}
		read++
		klog.V(1).Infof("shard=%s samples=%d", res.Path, len(res.Samples))
	}
	if err := ctx.Err(); err != nil {
		return Set{}, err
	}
	if read != len(shards) {
		return Set{}, fmt.Errorf("webdataset: read %d of %d shards", read, len(shards))
	}
	return set, nil
}
