package dataset

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

const webdatasetPrefix = "webdataset:"

// LoadOptions names a dataset and the grid its faces are resized to.
type LoadOptions struct {
	Root       string
	Name       string
	Height     int
	Width      int
	NumClasses int
}

// Load resolves opts.Name to a loader:
//
//	fer2013            <Root>/fer2013/fer2013.csv
//	webdataset:<dir>   shard-NNNNNN.tar files under dir
func Load(ctx context.Context, opts LoadOptions) (Set, error) {
	var (
		set Set
		err error
	)
	switch {
	case opts.Name == "fer2013":
		set, err = LoadFER2013(filepath.Join(opts.Root, "fer2013", "fer2013.csv"), opts.Height, opts.Width, opts.NumClasses)
	case strings.HasPrefix(opts.Name, webdatasetPrefix):
		dir := strings.TrimPrefix(opts.Name, webdatasetPrefix)
		set, err = LoadShards(ctx, dir, opts.Height, opts.Width, opts.NumClasses)
	default:
		return Set{}, fmt.Errorf("dataset: unknown dataset %q", opts.Name)
	}
	if err != nil {
		return Set{}, err
	}
	if err := set.Check(); err != nil {
		return Set{}, err
	}
	return set, nil
}

// FileName returns a filesystem-safe form of a dataset name for output paths.
func FileName(name string) string {
	if strings.HasPrefix(name, webdatasetPrefix) {
		dir := strings.TrimRight(strings.TrimPrefix(name, webdatasetPrefix), "/")
		return "webdataset_" + filepath.Base(dir)
	}
	return name
}
