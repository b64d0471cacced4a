package model

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
)

const weightsVersion = "1"

// TensorData is the serialized form of one parameter.
type TensorData struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// Weights holds every parameter of a network keyed by name.
type Weights struct {
	Version string                `json:"version"`
	Tensors map[string]TensorData `json:"tensors"`
}

// Weights snapshots the parameter values.
func (n *Network) Weights() *Weights {
	w := &Weights{Version: weightsVersion, Tensors: make(map[string]TensorData)}
	for _, p := range n.Params() {
		w.Tensors[p.Name] = TensorData{
			Shape: append([]int(nil), p.Shape...),
			Data:  append([]float64(nil), p.Value...),
		}
	}
	return w
}

// SetWeights copies w into the network. Every parameter must be present
// with a matching size.
func (n *Network) SetWeights(w *Weights) error {
	for _, p := range n.Params() {
		t, ok := w.Tensors[p.Name]
		if !ok {
			return fmt.Errorf("weights: missing tensor %s", p.Name)
		}
		if len(t.Data) != len(p.Value) {
			return fmt.Errorf("weights: tensor %s has %d values, want %d", p.Name, len(t.Data), len(p.Value))
		}
		copy(p.Value, t.Data)
	}
	return nil
}

// SaveWeights writes gzip-compressed JSON weights to path.
func SaveWeights(path string, w *Weights) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create weights file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	zw := gzip.NewWriter(f)
	if err := json.NewEncoder(zw).Encode(w); err != nil {
		return fmt.Errorf("encode weights: %w", err)
	}
	return zw.Close()
}

// LoadWeights reads a file written by SaveWeights.
func LoadWeights(path string) (*Weights, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open weights file: %w", err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("read weights: %w", err)
	}
	defer zr.Close()

	var w Weights
	if err := json.NewDecoder(zr).Decode(&w); err != nil {
		return nil, fmt.Errorf("decode weights: %w", err)
	}
	if w.Version != weightsVersion {
		return nil, fmt.Errorf("weights: unsupported version %q", w.Version)
	}
	return &w, nil
}
