package steering

import (
	"fmt"
	"os"

	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"gonum.org/v1/gonum/stat"

	"github.com/Noofbiz/behavioralCloning/datasets"
)

// Predictor runs the steering model on frames.
type Predictor struct {
	exec *context.Exec
}

// NewPredictor loads the checkpoint in dir and prepares the model for
// inference.
func NewPredictor(backend backends.Backend, dir string) (*Predictor, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is nil")
	}
	// the checkpoint handler would create a missing dir and load nothing
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) == 0 {
		return nil, fmt.Errorf("no checkpoint in %s", dir)
	}
	ctx := context.New()
	if _, err := checkpoints.Build(ctx).Dir(dir).Immediate().Done(); err != nil {
		return nil, fmt.Errorf("failed to load checkpoint %s: %w", dir, err)
	}
	return newPredictor(backend, ctx)
}

// newPredictor builds an inference executor over the variables already in
// ctx (trained or loaded).
func newPredictor(backend backends.Backend, ctx *context.Context) (*Predictor, error) {
	exec, err := context.NewExec(backend, ctx.Reuse(), func(ctx *context.Context, images *Node) *Node {
		return ModelGraph(ctx, images)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build inference graph: %w", err)
	}
	return &Predictor{exec: exec}, nil
}

// Predict returns one steering angle per frame. Frames must be model sized.
func (p *Predictor) Predict(frames []*datasets.Frame) ([]float32, error) {
	if len(frames) == 0 {
		return nil, nil
	}
	for i, f := range frames {
		if f.Height != datasets.ImageHeight || f.Width != datasets.ImageWidth {
			return nil, fmt.Errorf("frame %d is %dx%d, expected %dx%d",
				i, f.Width, f.Height, datasets.ImageWidth, datasets.ImageHeight)
		}
	}
	flat, err := datasets.MakeImageBatchFlat(frames, nil)
	if err != nil {
		return nil, err
	}

	outputs, err := p.exec.Exec(flat.ImagesTensor())
	if err != nil {
		return nil, fmt.Errorf("model execution failed: %w", err)
	}
	values, ok := outputs[0].Value().([][]float32)
	if !ok {
		return nil, fmt.Errorf("unexpected model output %s", outputs[0].Shape())
	}
	angles := make([]float32, len(values))
	for i, v := range values {
		angles[i] = v[0]
	}
	return angles, nil
}

// MeanAbsoluteError is the validation metric, shared with the baselines.
func MeanAbsoluteError(predictions, labels []float32) float64 {
	diffs := make([]float64, len(predictions))
	for i := range predictions {
		d := float64(predictions[i] - labels[i])
		if d < 0 {
			d = -d
		}
		diffs[i] = d
	}
	return stat.Mean(diffs, nil)
}
