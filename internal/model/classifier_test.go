package model

import (
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tinyOptions(seed int64) Options {
	return Options{
		InputShape:  [3]int{10, 10, 1},
		NumClasses:  3,
		BaseFilters: 2,
		Modules:     1,
		Seed:        seed,
	}
}

func randomImage(rng *rand.Rand, n int) []float64 {
	img := make([]float64, n)
	for i := range img {
		img[i] = rng.Float64()*2 - 1
	}
	return img
}

func oneHot(label, classes int) []float64 {
	v := make([]float64, classes)
	v[label] = 1
	return v
}

func TestMiniXceptionShapes(t *testing.T) {
	net, err := MiniXception(Options{InputShape: [3]int{64, 64, 1}, NumClasses: 7, Modules: 4})
	require.NoError(t, err)
	assert.Equal(t, 7, net.NumClasses())

	logits := net.Logits(make([]float64, 64*64))
	assert.Len(t, logits, 7)
	assert.Contains(t, net.Summary(), "Total params:")
}

func TestMiniXceptionRejectsBadShape(t *testing.T) {
	_, err := MiniXception(Options{InputShape: [3]int{0, 64, 1}, NumClasses: 7})
	require.Error(t, err)
	_, err = MiniXception(Options{InputShape: [3]int{64, 64, 1}, NumClasses: 1})
	require.Error(t, err)
}

func TestTrainOnBatchReducesLoss(t *testing.T) {
	net, err := MiniXception(tinyOptions(1))
	require.NoError(t, err)
	clf, err := Compile(net, "adam", 0.01)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(3))
	batch := Batch{
		Inputs: [][]float64{randomImage(rng, 100), randomImage(rng, 100), randomImage(rng, 100)},
		Labels: [][]float64{oneHot(0, 3), oneHot(1, 3), oneHot(2, 3)},
	}
	first, _ := clf.TrainOnBatch(batch)
	var last float64
	for i := 0; i < 30; i++ {
		last, _ = clf.TrainOnBatch(batch)
	}
	assert.Less(t, last, first)
}

func TestBackwardMatchesFiniteDifference(t *testing.T) {
	net, err := MiniXception(tinyOptions(7))
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(11))
	img := randomImage(rng, 100)
	label := oneHot(1, 3)
	lossAt := func() float64 {
		return crossEntropy(softmax(net.Logits(img)), label)
	}

	params := net.Params()
	for _, p := range params {
		p.zeroGrad()
	}
	probs := softmax(net.Logits(img))
	grad := make([]float64, len(probs))
	for c := range probs {
		grad[c] = probs[c] - label[c]
	}
	net.backward(grad)

	const h = 1e-5
	for _, p := range params {
		for _, i := range []int{0, len(p.Value) / 2, len(p.Value) - 1} {
			orig := p.Value[i]
			p.Value[i] = orig + h
			up := lossAt()
			p.Value[i] = orig - h
			down := lossAt()
			p.Value[i] = orig
			numeric := (up - down) / (2 * h)
			assert.InDelta(t, numeric, p.Grad[i], 1e-4+1e-2*math.Abs(numeric), "param %s[%d]", p.Name, i)
		}
	}
}

func TestPointwiseMatchesDenseConv(t *testing.T) {
	in := Shape{C: 3, H: 5, W: 5}
	rng := rand.New(rand.NewSource(5))
	dense := newConv2D("dense", in, 4, 1, 2, true, rng)
	point := newPointwiseConv2D("point", in, 4, 2, rng)
	copy(point.w.Value, dense.w.Value)
	copy(point.b.Value, dense.b.Value)

	x := &Volume{Shape: in, Data: randomImage(rng, in.Size())}
	a := dense.Forward(x)
	b := point.Forward(x)
	require.Equal(t, a.Shape, b.Shape)
	assert.InDeltaSlice(t, a.Data, b.Data, 1e-12)

	g := &Volume{Shape: a.Shape, Data: randomImage(rng, a.Size())}
	assert.InDeltaSlice(t, dense.Backward(g).Data, point.Backward(g).Data, 1e-12)
	assert.InDeltaSlice(t, dense.w.Grad, point.w.Grad, 1e-12)
}

func TestSaveAndRestoreWeights(t *testing.T) {
	src, err := MiniXception(tinyOptions(1))
	require.NoError(t, err)
	clf, err := Compile(src, "sgd", 0)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "w.hdf5")
	require.NoError(t, clf.Save(path))

	dst, err := MiniXception(tinyOptions(2))
	require.NoError(t, err)
	w, err := LoadWeights(path)
	require.NoError(t, err)
	require.NoError(t, dst.SetWeights(w))

	img := randomImage(rand.New(rand.NewSource(9)), 100)
	assert.InDeltaSlice(t, src.Logits(img), dst.Logits(img), 1e-12)
}

func TestSaveFailsOnMissingDirectory(t *testing.T) {
	net, err := MiniXception(tinyOptions(1))
	require.NoError(t, err)
	clf, err := Compile(net, "adam", 0)
	require.NoError(t, err)
	require.Error(t, clf.Save(filepath.Join(t.TempDir(), "missing", "w.hdf5")))
}

func TestOptimizerLearningRate(t *testing.T) {
	_, err := NewOptimizer("rmsprop", 0.1)
	require.Error(t, err)

	opt, err := NewOptimizer("Adam", 0)
	require.NoError(t, err)
	assert.Equal(t, 0.001, opt.LearningRate())
	opt.SetLearningRate(opt.LearningRate() * 0.1)
	assert.InDelta(t, 0.0001, opt.LearningRate(), 1e-15)
}

func TestEvaluateDoesNotUpdate(t *testing.T) {
	net, err := MiniXception(tinyOptions(1))
	require.NoError(t, err)
	clf, err := Compile(net, "adam", 0.01)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	batch := Batch{Inputs: [][]float64{randomImage(rng, 100)}, Labels: [][]float64{oneHot(2, 3)}}
	l1, a1 := clf.Evaluate(batch)
	l2, a2 := clf.Evaluate(batch)
	assert.Equal(t, l1, l2)
	assert.Equal(t, a1, a2)

	probs := clf.Predict(batch.Inputs[0])
	sum := 0.0
	for _, p := range probs {
		sum += p
	}
	assert.InDelta(t, 1, sum, 1e-9)
}
