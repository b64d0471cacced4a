package augment

import (
	"emotion-forge/internal/dataset"
	"emotion-forge/internal/model"
)

// Iterator yields augmented batches from a fixed set forever. Each pass
// over the set uses a fresh shuffle; the final batch of a pass may be short.
type Iterator struct {
	gen       *Generator
	set       dataset.Set
	batchSize int
	order     []int
	pos       int
}

// Flow binds the generator to set. The set is read, never modified.
func (g *Generator) Flow(set dataset.Set, batchSize int) *Iterator {
	if batchSize <= 0 {
		batchSize = 32
	}
	it := &Iterator{gen: g, set: set, batchSize: batchSize}
	it.Reset()
	return it
}

// Reset starts a new pass with a new shuffle.
func (it *Iterator) Reset() {
	it.order = it.gen.rng.Perm(it.set.Len())
	it.pos = 0
}

// Len is the number of samples per pass.
func (it *Iterator) Len() int {
	return it.set.Len()
}

// BatchSize returns the configured batch size.
func (it *Iterator) BatchSize() int {
	return it.batchSize
}

// Next returns the next batch, wrapping into a new pass when the current
// one is exhausted. An empty set yields empty batches.
func (it *Iterator) Next() model.Batch {
	if it.set.Len() == 0 {
		return model.Batch{}
	}
	if it.pos >= len(it.order) {
		it.Reset()
	}
	end := it.pos + it.batchSize
	if end > len(it.order) {
		end = len(it.order)
	}
	idx := it.order[it.pos:end]
	it.pos = end

	batch := model.Batch{
		Inputs: make([][]float64, len(idx)),
		Labels: make([][]float64, len(idx)),
	}
	for i, j := range idx {
		batch.Inputs[i] = it.gen.Transform(it.set.Images[j], it.set.Height, it.set.Width)
		batch.Labels[i] = it.set.Labels[j]
	}
	return batch
}
