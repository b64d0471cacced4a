package dataset

import (
	"fmt"
	"strconv"

	"emotion-forge/internal/model"
)

// Emotions are the FER-2013 class names in label order.
var Emotions = []string{"angry", "disgust", "fear", "happy", "sad", "surprise", "neutral"}

// ClassNames labels classes for logging: the emotion names when the count
// matches FER-2013, label indices otherwise.
func ClassNames(classes int) []string {
	if classes == len(Emotions) {
		return append([]string(nil), Emotions...)
	}
	names := make([]string, classes)
	for i := range names {
		names[i] = strconv.Itoa(i)
	}
	return names
}

// Set is a labelled image collection. Images are row-major single-channel
// height×width slices; Labels are one-hot rows of equal width.
type Set struct {
	Height int
	Width  int
	Images [][]float64
	Labels [][]float64
}

// Len returns the number of samples.
func (s Set) Len() int {
	return len(s.Images)
}

// Classes returns the label width, or 0 for an empty set.
func (s Set) Classes() int {
	if len(s.Labels) == 0 {
		return 0
	}
	return len(s.Labels[0])
}

// Check verifies the pairing and shape invariants.
func (s Set) Check() error {
	if len(s.Images) != len(s.Labels) {
		return fmt.Errorf("dataset: %d images but %d labels", len(s.Images), len(s.Labels))
	}
	classes := s.Classes()
	for i := range s.Images {
		if len(s.Images[i]) != s.Height*s.Width {
			return fmt.Errorf("dataset: image %d has %d pixels, want %d", i, len(s.Images[i]), s.Height*s.Width)
		}
		if len(s.Labels[i]) != classes {
			return fmt.Errorf("dataset: label %d has width %d, want %d", i, len(s.Labels[i]), classes)
		}
	}
	return nil
}

// Batch views the whole set as one model batch.
func (s Set) Batch() model.Batch {
	return model.Batch{Inputs: s.Images, Labels: s.Labels}
}

// PreprocessInput scales 0..255 pixels to [0,1], and further to [-1,1] when
// v2 is set. The input set is left untouched.
func PreprocessInput(s Set, v2 bool) Set {
	out := Set{Height: s.Height, Width: s.Width, Labels: s.Labels, Images: make([][]float64, len(s.Images))}
	for i, img := range s.Images {
		px := make([]float64, len(img))
		for j, v := range img {
			x := v / 255.0
			if v2 {
				x = (x - 0.5) * 2.0
			}
			px[j] = x
		}
		out.Images[i] = px
	}
	return out
}

// Split partitions s into a training prefix and a validation suffix. The
// training part holds int((1-fraction)*N) samples. Both halves share backing
// storage with s.
func Split(s Set, fraction float64) (train, val Set) {
	n := s.Len()
	numTrain := int((1 - fraction) * float64(n))
	if numTrain < 0 {
		numTrain = 0
	}
	if numTrain > n {
		numTrain = n
	}
	train = Set{Height: s.Height, Width: s.Width, Images: s.Images[:numTrain], Labels: s.Labels[:numTrain]}
	val = Set{Height: s.Height, Width: s.Width, Images: s.Images[numTrain:], Labels: s.Labels[numTrain:]}
	return train, val
}

// OneHot encodes label over classes.
func OneHot(label, classes int) ([]float64, error) {
	if label < 0 || label >= classes {
		return nil, fmt.Errorf("dataset: label %d out of range [0,%d)", label, classes)
	}
	v := make([]float64, classes)
	v[label] = 1
	return v, nil
}
