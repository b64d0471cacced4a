package model

// Batch represents a minibatch of images and one-hot labels.
type Batch struct {
	Inputs [][]float64
	Labels [][]float64
}

// Len returns the number of samples in the batch.
func (b Batch) Len() int {
	return len(b.Inputs)
}

// Model defines the training functionality the loop and callbacks rely on.
type Model interface {
	TrainOnBatch(batch Batch) (loss, acc float64)
	Evaluate(batch Batch) (loss, acc float64)
	LearningRate() float64
	SetLearningRate(lr float64)
	Save(path string) error
}
