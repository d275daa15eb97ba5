// Package simple is a small pure-Go multilayer perceptron that regresses the
// steering angle from a coarse frame thumbnail. It is the cheap baseline the
// convolutional network is compared against.
package simple

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Config holds the MLP hyperparameters.
type Config struct {
	// HiddenSizes lists the hidden layer widths. Defaults to {32}.
	HiddenSizes []int

	// InputDim is the thumbnail feature length and must be set.
	InputDim int

	LearningRate float64 // default 0.01
	Epochs       int     // default 10
	BatchSize    int     // default 32

	// Seed controls weight init and shuffling. Zero means time based.
	Seed int64

	// ClipNorm bounds the L2 norm of each minibatch gradient. Zero disables it.
	ClipNorm float64
}

// Dataset is what the trainer reads from. Batch takes positions in
// [0, Len()) and returns one feature vector and one steering label per
// position.
type Dataset interface {
	Len() int
	Batch(positions []int) ([][]float32, []float32, error)
}

// layer is a dense layer with row-major weights of shape [out][in].
type layer struct {
	in, out int
	w       []float32
	b       []float32
}

func (l *layer) forward(x, pre []float32) {
	for j := 0; j < l.out; j++ {
		row := l.w[j*l.in : (j+1)*l.in]
		sum := l.b[j]
		for i, v := range x {
			sum += row[i] * v
		}
		pre[j] = sum
	}
}

// Model is a ReLU MLP with a single linear output.
type Model struct {
	Config Config

	layers []*layer
	rng    *rand.Rand
}

// NewModel initializes weights with a scaled Glorot uniform draw.
func NewModel(cfg Config) (*Model, error) {
	if cfg.InputDim <= 0 {
		return nil, fmt.Errorf("input dimension must be > 0, got %d", cfg.InputDim)
	}
	if len(cfg.HiddenSizes) == 0 {
		cfg.HiddenSizes = []int{32}
	}
	for _, h := range cfg.HiddenSizes {
		if h <= 0 {
			return nil, fmt.Errorf("hidden sizes must be > 0, got %v", cfg.HiddenSizes)
		}
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = 0.01
	}
	if cfg.Epochs <= 0 {
		cfg.Epochs = 10
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	m := &Model{Config: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}
	sizes := append(append([]int{cfg.InputDim}, cfg.HiddenSizes...), 1)
	for l := 0; l+1 < len(sizes); l++ {
		in, out := sizes[l], sizes[l+1]
		limit := float32(math.Sqrt(6.0 / float64(in+out)))
		ly := &layer{in: in, out: out, w: make([]float32, in*out), b: make([]float32, out)}
		for i := range ly.w {
			ly.w[i] = (m.rng.Float32()*2 - 1) * limit * 0.5
		}
		m.layers = append(m.layers, ly)
	}
	return m, nil
}

// forward returns the per-layer pre-activations and activations; acts[0] is
// the input and the last activation is the (linear) prediction.
func (m *Model) forward(input []float32) (pre, acts [][]float32, err error) {
	if len(input) != m.Config.InputDim {
		return nil, nil, fmt.Errorf("input has %d features, expected %d", len(input), m.Config.InputDim)
	}
	acts = make([][]float32, len(m.layers)+1)
	pre = make([][]float32, len(m.layers))
	acts[0] = input
	for l, ly := range m.layers {
		pre[l] = make([]float32, ly.out)
		ly.forward(acts[l], pre[l])
		a := append([]float32(nil), pre[l]...)
		if l < len(m.layers)-1 {
			for i := range a {
				if a[i] < 0 {
					a[i] = 0
				}
			}
		}
		acts[l+1] = a
	}
	return pre, acts, nil
}

// Predict returns one steering angle per input.
func (m *Model) Predict(inputs [][]float32) ([]float32, error) {
	out := make([]float32, len(inputs))
	for i, in := range inputs {
		_, acts, err := m.forward(in)
		if err != nil {
			return nil, err
		}
		out[i] = acts[len(acts)-1][0]
	}
	return out, nil
}

// Train runs minibatch gradient descent on the mean absolute error and
// returns the training loss of each epoch.
func (m *Model) Train(ds Dataset) ([]float64, error) {
	if ds == nil {
		return nil, errors.New("dataset is nil")
	}
	n := ds.Len()
	if n == 0 {
		return nil, errors.New("dataset has no examples")
	}
	lr := float32(m.Config.LearningRate)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}

	gradW := make([][]float32, len(m.layers))
	gradB := make([][]float32, len(m.layers))
	for l, ly := range m.layers {
		gradW[l] = make([]float32, len(ly.w))
		gradB[l] = make([]float32, len(ly.b))
	}

	losses := make([]float64, 0, m.Config.Epochs)
	for ep := 0; ep < m.Config.Epochs; ep++ {
		m.rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
		var epochLoss float64
		for start := 0; start < n; start += m.Config.BatchSize {
			batch := order[start:min(start+m.Config.BatchSize, n)]
			inputs, labels, err := ds.Batch(batch)
			if err != nil {
				return losses, err
			}
			for l := range gradW {
				clear(gradW[l])
				clear(gradB[l])
			}
			for ex, in := range inputs {
				pre, acts, err := m.forward(in)
				if err != nil {
					return losses, err
				}
				diff := acts[len(acts)-1][0] - labels[ex]
				epochLoss += math.Abs(float64(diff))
				m.backward(pre, acts, []float32{sign(diff)}, gradW, gradB)
			}
			m.apply(gradW, gradB, lr/float32(len(inputs)))
		}
		losses = append(losses, epochLoss/float64(n))
	}
	return losses, nil
}

// backward accumulates the gradients of one example given the derivative of
// the loss with respect to the output.
func (m *Model) backward(pre, acts [][]float32, delta []float32, gradW, gradB [][]float32) {
	for l := len(m.layers) - 1; l >= 0; l-- {
		ly := m.layers[l]
		in := acts[l]
		for j, d := range delta {
			gradB[l][j] += d
			row := gradW[l][j*ly.in : (j+1)*ly.in]
			for i, v := range in {
				row[i] += d * v
			}
		}
		if l == 0 {
			return
		}
		prev := make([]float32, ly.in)
		for i := range prev {
			if pre[l-1][i] <= 0 {
				continue
			}
			var sum float32
			for j, d := range delta {
				sum += ly.w[j*ly.in+i] * d
			}
			prev[i] = sum
		}
		delta = prev
	}
}

// apply takes one gradient step, scaling the gradient down first when its
// norm exceeds ClipNorm.
func (m *Model) apply(gradW, gradB [][]float32, step float32) {
	if m.Config.ClipNorm > 0 {
		var sq float64
		for l := range gradW {
			for _, g := range gradW[l] {
				sq += float64(g*step) * float64(g*step)
			}
			for _, g := range gradB[l] {
				sq += float64(g*step) * float64(g*step)
			}
		}
		if norm := math.Sqrt(sq); norm > m.Config.ClipNorm {
			step *= float32(m.Config.ClipNorm / norm)
		}
	}
	for l, ly := range m.layers {
		for i, g := range gradW[l] {
			ly.w[i] -= step * g
		}
		for j, g := range gradB[l] {
			ly.b[j] -= step * g
		}
	}
}

func sign(x float32) float32 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}
