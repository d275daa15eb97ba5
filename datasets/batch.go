package datasets

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// ImageBatchFlat stores a batch of frames and angles in contiguous buffers.
type ImageBatchFlat struct {
	Images    []float32
	Angles    []float32
	BatchSize int
	Height    int
	Width     int
	Channels  int
}

// MakeImageBatchFlat copies frames into one [batch, height, width, 3] buffer.
// Angles may be nil for inference batches.
func MakeImageBatchFlat(frames []*Frame, angles []float32) (*ImageBatchFlat, error) {
	if angles != nil && len(frames) != len(angles) {
		return nil, fmt.Errorf("frames and angles batch sizes don't match: %d != %d", len(frames), len(angles))
	}
	if len(frames) == 0 {
		return &ImageBatchFlat{}, nil
	}

	h, w := frames[0].Height, frames[0].Width
	size := h * w * ImageChannels
	flat := make([]float32, len(frames)*size)
	for i, f := range frames {
		if f.Height != h || f.Width != w {
			return nil, fmt.Errorf("inconsistent frame size at example %d: expected %dx%d, got %dx%d",
				i, h, w, f.Height, f.Width)
		}
		copy(flat[i*size:], f.Pix)
	}

	b := &ImageBatchFlat{
		Images:    flat,
		BatchSize: len(frames),
		Height:    h,
		Width:     w,
		Channels:  ImageChannels,
	}
	if angles != nil {
		b.Angles = append([]float32(nil), angles...)
	}
	return b, nil
}

// ImagesTensor returns the images as a [batch, height, width, 3] tensor.
func (b *ImageBatchFlat) ImagesTensor() *tensors.Tensor {
	return tensors.FromFlatDataAndDimensions(b.Images, b.BatchSize, b.Height, b.Width, b.Channels)
}

// ToGomlxTensors converts the batch into images [batch, h, w, 3] and
// labels [batch, 1].
func (b *ImageBatchFlat) ToGomlxTensors() (images *tensors.Tensor, labels *tensors.Tensor) {
	angles := b.Angles
	if angles == nil {
		angles = make([]float32, b.BatchSize)
	}
	return b.ImagesTensor(), tensors.FromFlatDataAndDimensions(angles, b.BatchSize, 1)
}
