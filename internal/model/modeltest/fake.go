// Package modeltest provides in-memory model engines for tests.
package modeltest

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/Brownie44l1/lesion-api/internal/model"
)

// LesionMetadata mirrors the bundled lesion classifier: one 224x224 RGB
// image in, two class scores out.
func LesionMetadata() model.Metadata {
	return model.Metadata{
		InputShape:  []int64{1, 3, 224, 224},
		OutputShape: []int64{1, 2},
		Classes:     []string{"benign", "malignant"},
		ImageSize:   224,
		InputName:   "input",
		OutputName:  "output",
		Layout:      model.LayoutNCHW,
		ResizeMode:  model.ResizeStretch,
	}
}

// Engine is a deterministic model.Engine. RunFunc computes scores from the
// input tensor; when nil, Scores is returned unchanged.
type Engine struct {
	Meta    model.Metadata
	Scores  []float32
	RunFunc func(input []float32) ([]float32, error)

	mu       sync.Mutex
	runs     int
	closed   bool
	lastSize int
}

func (e *Engine) Metadata() model.Metadata {
	return e.Meta
}

func (e *Engine) Run(input []float32) ([]float32, error) {
	e.mu.Lock()
	e.runs++
	e.lastSize = len(input)
	closed := e.closed
	e.mu.Unlock()

	if closed {
		return nil, errors.New("engine closed")
	}
	if e.RunFunc != nil {
		return e.RunFunc(input)
	}
	out := make([]float32, len(e.Scores))
	copy(out, e.Scores)
	return out, nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *Engine) Runs() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runs
}

func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// LastInputSize is the length of the most recent input tensor.
func (e *Engine) LastInputSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSize
}

// Opener counts how often a model is opened and returns Engine or Err.
type Opener struct {
	Engine model.Engine
	Err    error
	opens  atomic.Int32
}

func (o *Opener) Open() (model.Engine, error) {
	o.opens.Add(1)
	if o.Err != nil {
		return nil, o.Err
	}
	return o.Engine, nil
}

func (o *Opener) Opens() int {
	return int(o.opens.Load())
}

// BrightnessRun scores the first class higher when the mean input value is
// above 0.5, giving a deterministic stand-in for a trained classifier.
func BrightnessRun(input []float32) ([]float32, error) {
	if len(input) == 0 {
		return nil, errors.New("empty input")
	}
	var sum float64
	for _, v := range input {
		sum += float64(v)
	}
	mean := float32(sum / float64(len(input)))
	return []float32{mean, 1 - mean}, nil
}
