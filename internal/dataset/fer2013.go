package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// LoadFER2013 reads the Kaggle fer2013.csv layout: an "emotion" label column
// and a "pixels" column of space-separated grey levels for a square face.
// Faces are resized to height×width.
func LoadFER2013(path string, height, width, classes int) (Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return Set{}, fmt.Errorf("open fer2013: %w", err)
	}
	defer f.Close()
	return readFER2013(f, height, width, classes)
}

func readFER2013(r io.Reader, height, width, classes int) (Set, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return Set{}, fmt.Errorf("read fer2013 header: %w", err)
	}
	emotionCol, pixelsCol := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(name) {
		case "emotion":
			emotionCol = i
		case "pixels":
			pixelsCol = i
		}
	}
	if emotionCol < 0 || pixelsCol < 0 {
		return Set{}, errors.New("fer2013: header must contain emotion and pixels columns")
	}

	set := Set{Height: height, Width: width}
	line := 1
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return Set{}, fmt.Errorf("fer2013 line %d: %w", line, err)
		}
		if len(record) <= emotionCol || len(record) <= pixelsCol {
			return Set{}, fmt.Errorf("fer2013 line %d: short record", line)
		}

		label, err := strconv.Atoi(strings.TrimSpace(record[emotionCol]))
		if err != nil {
			return Set{}, fmt.Errorf("fer2013 line %d: emotion: %w", line, err)
		}
		onehot, err := OneHot(label, classes)
		if err != nil {
			return Set{}, fmt.Errorf("fer2013 line %d: %w", line, err)
		}

		face, err := parseFace(record[pixelsCol])
		if err != nil {
			return Set{}, fmt.Errorf("fer2013 line %d: %w", line, err)
		}
		set.Images = append(set.Images, toGrayPixels(face, height, width))
		set.Labels = append(set.Labels, onehot)
	}
	if set.Len() == 0 {
		return Set{}, errors.New("fer2013: no samples")
	}
	return set, nil
}

func parseFace(pixels string) (*image.Gray, error) {
	fields := strings.Fields(pixels)
	side := int(math.Sqrt(float64(len(fields))))
	if side == 0 || side*side != len(fields) {
		return nil, fmt.Errorf("pixels: %d values do not form a square face", len(fields))
	}
	face := image.NewGray(image.Rect(0, 0, side, side))
	for i, field := range fields {
		v, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("pixels[%d]: %w", i, err)
		}
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("pixels[%d]: %d out of range", i, v)
		}
		face.Pix[i] = uint8(v)
	}
	return face, nil
}
