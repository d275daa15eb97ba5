package datasets

import (
	"fmt"
	"math/rand"

	"github.com/Noofbiz/behavioralCloning/config"
	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// Camera selects one of the three dashboard cameras.
type Camera int

const (
	CenterCamera Camera = iota
	LeftCamera
	RightCamera
)

// Cameras lists the cameras in sampling order.
var Cameras = []Camera{CenterCamera, LeftCamera, RightCamera}

func (c Camera) String() string {
	switch c {
	case CenterCamera:
		return "center"
	case LeftCamera:
		return "left"
	case RightCamera:
		return "right"
	}
	return fmt.Sprintf("Camera(%d)", int(c))
}

// Offset returns the angle correction for a frame seen from this camera:
// the left camera steers back right (+adjustment), the right camera back
// left (-adjustment).
func (c Camera) Offset(adjustment float32) float32 {
	switch c {
	case LeftCamera:
		return adjustment
	case RightCamera:
		return -adjustment
	}
	return 0
}

// FrameLoader decodes the image at path. ReadFrame is the default.
type FrameLoader func(path string) (*Frame, error)

// Sample is one generated (image, angle) pair with how it was produced.
type Sample struct {
	Frame    *Frame
	Angle    float32
	Index    int
	Camera   Camera
	Mirrored bool
}

// Batch is BatchSize samples.
type Batch struct {
	Samples []Sample
}

// Angles returns the batch labels in sample order.
func (b *Batch) Angles() []float32 {
	out := make([]float32, len(b.Samples))
	for i, s := range b.Samples {
		out[i] = s.Angle
	}
	return out
}

// Frames returns the batch images in sample order.
func (b *Batch) Frames() []*Frame {
	out := make([]*Frame, len(b.Samples))
	for i, s := range b.Samples {
		out[i] = s.Frame
	}
	return out
}

// Generator is an endless, restartable batch iterator over a subset of a
// Source. It owns its index order, cursor and RNG, so two generators over
// the train and validation subsets never interfere.
type Generator struct {
	name string
	src  Source

	batchSize  int
	adjustment float32
	mirrorProb float64
	load       FrameLoader

	seed    int64
	indices []int
	order   []int
	cursor  int
	epoch   int
	rng     *rand.Rand
}

// NewGenerator creates a generator over indices of src. The indices are
// copied; their initial order is the order of the first pass.
func NewGenerator(name string, src Source, indices []int, cfg config.GeneratorConfig, seed int64) (*Generator, error) {
	if src == nil {
		return nil, fmt.Errorf("source is nil")
	}
	if len(indices) == 0 {
		return nil, fmt.Errorf("generator %q has no indices", name)
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0, got %d", cfg.BatchSize)
	}
	for _, ix := range indices {
		if ix < 0 || ix >= src.Len() {
			return nil, fmt.Errorf("index %d out of range [0, %d)", ix, src.Len())
		}
	}

	g := &Generator{
		name:       name,
		src:        src,
		batchSize:  cfg.BatchSize,
		adjustment: float32(cfg.SideCameraAdjustment),
		mirrorProb: cfg.MirrorProbability,
		load:       ReadFrame,
		seed:       seed,
		indices:    append([]int(nil), indices...),
	}
	g.Reset()
	return g, nil
}

// WithFrameLoader replaces the image decoder, mostly for tests.
func (g *Generator) WithFrameLoader(load FrameLoader) *Generator {
	g.load = load
	return g
}

// Name identifies the generator in logs.
func (g *Generator) Name() string { return g.name }

// Len is the number of indices per pass.
func (g *Generator) Len() int { return len(g.indices) }

// BatchSize is the number of samples per batch.
func (g *Generator) BatchSize() int { return g.batchSize }

// Epoch is the number of completed passes over the indices.
func (g *Generator) Epoch() int { return g.epoch }

// Reset restores the initial order, cursor and RNG state, so the sequence
// of batches repeats exactly.
func (g *Generator) Reset() {
	g.order = append(g.order[:0], g.indices...)
	g.cursor = 0
	g.epoch = 0
	g.rng = rand.New(rand.NewSource(g.seed))
}

// nextIndex returns the next index, reshuffling at the end of each pass.
func (g *Generator) nextIndex() int {
	if g.cursor >= len(g.order) {
		g.rng.Shuffle(len(g.order), func(i, j int) {
			g.order[i], g.order[j] = g.order[j], g.order[i]
		})
		g.cursor = 0
		g.epoch++
	}
	ix := g.order[g.cursor]
	g.cursor++
	return ix
}

// Next builds the next batch.
func (g *Generator) Next() (*Batch, error) {
	b := &Batch{Samples: make([]Sample, 0, g.batchSize)}
	for len(b.Samples) < g.batchSize {
		s, err := g.sample(g.nextIndex())
		if err != nil {
			return nil, err
		}
		b.Samples = append(b.Samples, s)
	}
	return b, nil
}

// sample draws the camera and the mirror decision for one record.
func (g *Generator) sample(ix int) (Sample, error) {
	rec, err := g.src.Record(ix)
	if err != nil {
		return Sample{}, err
	}
	cam := Cameras[g.rng.Intn(len(Cameras))]
	mirror := g.rng.Float64() < g.mirrorProb

	frame, err := g.load(rec.Image(cam))
	if err != nil {
		return Sample{}, fmt.Errorf("record %d %s camera: %w", ix, cam, err)
	}
	s := Augment(rec, frame, cam, mirror, g.adjustment)
	s.Index = ix
	return s, nil
}

// Augment applies the camera offset to the record's angle and, when mirror
// is set, flips the frame and negates the corrected angle.
func Augment(rec DrivingRecord, frame *Frame, cam Camera, mirror bool, adjustment float32) Sample {
	angle := rec.Steering + cam.Offset(adjustment)
	if mirror {
		frame = frame.FlipHorizontal()
		angle = -angle
	}
	return Sample{Frame: frame, Angle: angle, Camera: cam, Mirrored: mirror}
}

// Yield implements gomlx's train.Dataset. It never returns io.EOF: the
// trainer decides how many steps make an epoch.
func (g *Generator) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	b, err := g.Next()
	if err != nil {
		return nil, nil, nil, err
	}
	flat, err := MakeImageBatchFlat(b.Frames(), b.Angles())
	if err != nil {
		return nil, nil, nil, err
	}
	in, la := flat.ToGomlxTensors()
	return g.name, []*tensors.Tensor{in}, []*tensors.Tensor{la}, nil
}
