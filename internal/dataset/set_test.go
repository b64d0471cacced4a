package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func syntheticSet(n, classes int) Set {
	s := Set{Height: 2, Width: 2}
	for i := 0; i < n; i++ {
		s.Images = append(s.Images, []float64{float64(i), 0, 255, 127.5})
		label, _ := OneHot(i%classes, classes)
		s.Labels = append(s.Labels, label)
	}
	return s
}

func TestSplitThousand(t *testing.T) {
	set := syntheticSet(1000, 7)
	train, val := Split(set, 0.2)
	assert.Equal(t, 800, train.Len())
	assert.Equal(t, 200, val.Len())
	assert.Equal(t, set.Len(), train.Len()+val.Len())

	seen := make(map[float64]bool)
	for _, img := range train.Images {
		seen[img[0]] = true
	}
	for _, img := range val.Images {
		assert.False(t, seen[img[0]], "sample %v in both partitions", img[0])
	}
	assert.Equal(t, 800.0, val.Images[0][0])
}

func TestSplitKeepsPairing(t *testing.T) {
	set := syntheticSet(10, 3)
	train, val := Split(set, 0.3)
	require.NoError(t, train.Check())
	require.NoError(t, val.Check())
	for i, img := range val.Images {
		idx := int(img[0])
		assert.Equal(t, set.Labels[idx], val.Labels[i])
	}
}

func TestSplitZeroFraction(t *testing.T) {
	train, val := Split(syntheticSet(5, 2), 0)
	assert.Equal(t, 5, train.Len())
	assert.Equal(t, 0, val.Len())
}

func TestPreprocessInput(t *testing.T) {
	set := syntheticSet(1, 2)
	v2 := PreprocessInput(set, true)
	assert.InDeltaSlice(t, []float64{-1, -1, 1, 0}, v2.Images[0], 1e-12)

	v1 := PreprocessInput(set, false)
	assert.InDeltaSlice(t, []float64{0, 0, 1, 0.5}, v1.Images[0], 1e-12)

	assert.Equal(t, []float64{0, 0, 255, 127.5}, set.Images[0], "source must not change")
}

func TestCheckDetectsMismatch(t *testing.T) {
	set := syntheticSet(3, 2)
	set.Labels = set.Labels[:2]
	require.Error(t, set.Check())

	set = syntheticSet(3, 2)
	set.Images[1] = []float64{1}
	require.Error(t, set.Check())
}

func TestOneHot(t *testing.T) {
	v, err := OneHot(6, 7)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0, 0, 0, 0, 1}, v)
	_, err = OneHot(7, 7)
	require.Error(t, err)
}

func TestClassNames(t *testing.T) {
	assert.Equal(t, Emotions, ClassNames(7))
	assert.Equal(t, []string{"0", "1", "2"}, ClassNames(3))
	assert.Empty(t, ClassNames(0))
}
