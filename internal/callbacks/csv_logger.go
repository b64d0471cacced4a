package callbacks

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strconv"
)

// CSVLogger writes one row per epoch to Path. Without Append the file is
// truncated when training begins.
type CSVLogger struct {
	Path      string
	Separator rune
	Append    bool

	file   *os.File
	w      *csv.Writer
	keys   []string
	header bool
}

// NewCSVLogger logs to path with a comma separator.
func NewCSVLogger(path string, appendRows bool) *CSVLogger {
	return &CSVLogger{Path: path, Separator: ',', Append: appendRows}
}

func (c *CSVLogger) OnTrainBegin(context.Context) error {
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	c.header = true
	if c.Append {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
		if info, err := os.Stat(c.Path); err == nil && info.Size() > 0 {
			c.header = false
		}
	}
	f, err := os.OpenFile(c.Path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("open csv log: %w", err)
	}
	c.file = f
	c.w = csv.NewWriter(f)
	if c.Separator != 0 {
		c.w.Comma = c.Separator
	}
	c.keys = nil
	return nil
}

func (c *CSVLogger) OnEpochEnd(_ context.Context, epoch int, logs Logs) error {
	if c.w == nil {
		return errors.New("csv log is not open")
	}
	if c.keys == nil {
		c.keys = logs.Keys()
		if c.header {
			if err := c.w.Write(append([]string{"epoch"}, c.keys...)); err != nil {
				return err
			}
		}
	}
	row := make([]string, 0, len(c.keys)+1)
	row = append(row, strconv.Itoa(epoch))
	for _, k := range c.keys {
		v, ok := logs[k]
		if !ok {
			row = append(row, "NA")
			continue
		}
		row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
	}
	if err := c.w.Write(row); err != nil {
		return err
	}
	c.w.Flush()
	return c.w.Error()
}

func (c *CSVLogger) OnTrainEnd(context.Context, Logs) error {
	if c.file == nil {
		return nil
	}
	c.w.Flush()
	werr := c.w.Error()
	cerr := c.file.Close()
	c.file, c.w = nil, nil
	if werr != nil {
		return werr
	}
	return cerr
}
