package steering

import (
	"fmt"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/regularizers"

	"github.com/Noofbiz/behavioralCloning/datasets"
)

// Rows removed before the convolutions: sky on top, hood at the bottom.
const (
	CropTop    = 60
	CropBottom = 20
)

// L2 weight penalties.
const (
	ConvL2  = 0.001
	DenseL2 = 0.002
)

type convSpec struct {
	Filters int
	Kernel  int
	// Strides per (row, column); wider horizontal strides favor lateral
	// features.
	Strides [2]int
}

var convLayers = []convSpec{
	{Filters: 16, Kernel: 4, Strides: [2]int{3, 4}},
	{Filters: 32, Kernel: 4, Strides: [2]int{1, 2}},
	{Filters: 48, Kernel: 4, Strides: [2]int{1, 2}},
	{Filters: 64, Kernel: 3, Strides: [2]int{1, 1}},
	{Filters: 64, Kernel: 3, Strides: [2]int{1, 1}},
	{Filters: 64, Kernel: 3, Strides: [2]int{1, 1}},
}

var denseUnits = []int{64, 32, 10}

// ModelGraph maps images [batch, 160, 320, 3] with pixel values in [0, 255]
// to steering angles [batch, 1].
func ModelGraph(ctx *context.Context, images *Node) *Node {
	dims := images.Shape().Dimensions
	if len(dims) != 4 || dims[1] != datasets.ImageHeight || dims[2] != datasets.ImageWidth || dims[3] != datasets.ImageChannels {
		panic(fmt.Sprintf("steering model expects images shaped [batch, %d, %d, %d], got %s",
			datasets.ImageHeight, datasets.ImageWidth, datasets.ImageChannels, images.Shape()))
	}
	batchSize := dims[0]

	x := AddScalar(DivScalar(images, 255.0), -0.5)
	x = Slice(x, AxisRange(), AxisRange(CropTop, datasets.ImageHeight-CropBottom), AxisRange(), AxisRange())

	for i, spec := range convLayers {
		lctx := ctx.In(fmt.Sprintf("conv_%d", i))
		lctx.SetParam(regularizers.ParamL2, ConvL2)
		x = layers.Convolution(lctx, x).
			Filters(spec.Filters).
			KernelSize(spec.Kernel).
			StridePerDim(spec.Strides[0], spec.Strides[1]).
			NoPadding().
			Done()
		x = elu(x)
	}

	x = Reshape(x, batchSize, -1)
	for i, units := range denseUnits {
		lctx := ctx.In(fmt.Sprintf("dense_%d", i))
		lctx.SetParam(regularizers.ParamL2, DenseL2)
		x = activations.Relu(layers.Dense(lctx, x, true, units))
	}
	return layers.Dense(ctx.In("angle"), x, true, 1)
}

// modelFn adapts ModelGraph to the train.Trainer model signature.
func modelFn(ctx *context.Context, spec any, inputs []*Node) []*Node {
	return []*Node{ModelGraph(ctx, inputs[0])}
}

// elu is the exponential linear unit: x for x > 0, exp(x)-1 otherwise.
// The exponential only sees min(x, 0) so large activations cannot overflow.
func elu(x *Node) *Node {
	zeros := ZerosLike(x)
	return Add(Max(x, zeros), Sub(Exp(Min(x, zeros)), OnesLike(x)))
}
