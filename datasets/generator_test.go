package datasets

import (
	"errors"
	"testing"

	"github.com/Noofbiz/behavioralCloning/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memSource is an in-memory Source.
type memSource struct {
	records []DrivingRecord
}

func (m *memSource) Len() int { return len(m.records) }

func (m *memSource) Record(i int) (DrivingRecord, error) {
	if i < 0 || i >= len(m.records) {
		return DrivingRecord{}, errors.New("out of range")
	}
	return m.records[i], nil
}

func newMemSource(n int) *memSource {
	src := &memSource{}
	for i := 0; i < n; i++ {
		src.records = append(src.records, DrivingRecord{
			Center:   "c",
			Left:     "l",
			Right:    "r",
			Steering: float32(i) / 100,
		})
	}
	return src
}

// asymmetricFrame returns a 2x3 frame whose pixels depend on the camera,
// so flips and camera choices are both observable.
func asymmetricLoader(path string) (*Frame, error) {
	f := NewFrame(2, 3)
	base := map[string]float32{"c": 0, "l": 100, "r": 200}[path]
	for i := range f.Pix {
		f.Pix[i] = base + float32(i)
	}
	return f, nil
}

func genConfig(batch int) config.GeneratorConfig {
	return config.GeneratorConfig{BatchSize: batch, SideCameraAdjustment: 0.06, MirrorProbability: 0.5}
}

func TestAugmentWorkedExample(t *testing.T) {
	// right-side record with raw angle 0.10, biased to -0.20 by the loader
	rec := DrivingRecord{Steering: 0.10 + SideRight.Bias(0.3)}
	frame, _ := asymmetricLoader("l")

	s := Augment(rec, frame, LeftCamera, true, 0.06)
	assert.InDelta(t, 0.14, s.Angle, 1e-6)
	assert.True(t, s.Mirrored)
	assert.Equal(t, frame.FlipHorizontal().Pix, s.Frame.Pix)

	s = Augment(rec, frame, RightCamera, false, 0.06)
	assert.InDelta(t, -0.26, s.Angle, 1e-6)
	assert.Same(t, frame, s.Frame)
}

func TestGeneratorSamplesAreConsistent(t *testing.T) {
	src := newMemSource(20)
	g, err := NewGenerator("train", src, []int{3, 1, 4, 15, 9, 2, 6}, genConfig(16), 42)
	require.NoError(t, err)
	g.WithFrameLoader(asymmetricLoader)

	cameras := map[Camera]int{}
	mirrored := 0
	for step := 0; step < 10; step++ {
		b, err := g.Next()
		require.NoError(t, err)
		require.Len(t, b.Samples, 16)
		for _, s := range b.Samples {
			rec, _ := src.Record(s.Index)
			want := rec.Steering + s.Camera.Offset(0.06)
			path := rec.Image(s.Camera)
			raw, _ := asymmetricLoader(path)
			if s.Mirrored {
				want = -want
				raw = raw.FlipHorizontal()
				mirrored++
			}
			assert.InDelta(t, want, s.Angle, 1e-6)
			assert.Equal(t, raw.Pix, s.Frame.Pix)
			cameras[s.Camera]++
		}
	}
	// 160 samples: every camera shows up and both mirror outcomes occur
	assert.Len(t, cameras, 3)
	assert.Greater(t, mirrored, 0)
	assert.Less(t, mirrored, 160)
}

func TestGeneratorAdvancesAcrossCalls(t *testing.T) {
	src := newMemSource(10)
	indices := []int{9, 8, 7, 6, 5}
	g, err := NewGenerator("train", src, indices, genConfig(2), 1)
	require.NoError(t, err)
	g.WithFrameLoader(asymmetricLoader)

	var seen []int
	for i := 0; i < 2; i++ {
		b, err := g.Next()
		require.NoError(t, err)
		for _, s := range b.Samples {
			seen = append(seen, s.Index)
		}
	}
	// first pass follows the given order, batches do not repeat the prefix
	assert.Equal(t, []int{9, 8, 7, 6}, seen)
	assert.Equal(t, 0, g.Epoch())

	// third batch finishes the pass and wraps into a reshuffled second pass
	b, err := g.Next()
	require.NoError(t, err)
	assert.Equal(t, 5, b.Samples[0].Index)
	assert.Equal(t, 1, g.Epoch())

	// the second pass still covers every index exactly once
	pass := []int{b.Samples[1].Index}
	for len(pass) < len(indices) {
		b, err := g.Next()
		require.NoError(t, err)
		for _, s := range b.Samples {
			if len(pass) < len(indices) {
				pass = append(pass, s.Index)
			}
		}
	}
	assert.ElementsMatch(t, indices, pass)
}

func TestGeneratorResetRepeatsSequence(t *testing.T) {
	src := newMemSource(30)
	g, err := NewGenerator("val", src, []int{0, 5, 10, 15, 20, 25}, genConfig(4), 99)
	require.NoError(t, err)
	g.WithFrameLoader(asymmetricLoader)

	collect := func() []Sample {
		var out []Sample
		for i := 0; i < 5; i++ {
			b, err := g.Next()
			require.NoError(t, err)
			out = append(out, b.Samples...)
		}
		return out
	}
	first := collect()
	g.Reset()
	second := collect()
	assert.Equal(t, first, second)
	assert.Equal(t, 3, g.Epoch())
}

func TestGeneratorOwnsIndexCopy(t *testing.T) {
	src := newMemSource(5)
	indices := []int{0, 1, 2}
	g, err := NewGenerator("train", src, indices, genConfig(1), 1)
	require.NoError(t, err)
	g.WithFrameLoader(asymmetricLoader)

	indices[0] = 4
	b, err := g.Next()
	require.NoError(t, err)
	assert.Equal(t, 0, b.Samples[0].Index)
	assert.Equal(t, 3, g.Len())
	assert.Equal(t, 1, g.BatchSize())
	assert.Equal(t, "train", g.Name())
}

func TestGeneratorMirrorProbabilityBounds(t *testing.T) {
	src := newMemSource(4)
	for _, p := range []float64{0, 1} {
		cfg := genConfig(8)
		cfg.MirrorProbability = p
		g, err := NewGenerator("g", src, []int{0, 1, 2, 3}, cfg, 3)
		require.NoError(t, err)
		g.WithFrameLoader(asymmetricLoader)
		b, err := g.Next()
		require.NoError(t, err)
		for _, s := range b.Samples {
			assert.Equal(t, p == 1, s.Mirrored)
		}
	}
}

func TestNewGeneratorErrors(t *testing.T) {
	src := newMemSource(3)
	_, err := NewGenerator("g", nil, []int{0}, genConfig(1), 1)
	assert.Error(t, err)
	_, err = NewGenerator("g", src, nil, genConfig(1), 1)
	assert.Error(t, err)
	_, err = NewGenerator("g", src, []int{0}, genConfig(0), 1)
	assert.Error(t, err)
	_, err = NewGenerator("g", src, []int{3}, genConfig(1), 1)
	assert.ErrorContains(t, err, "out of range")
}

func TestGeneratorPropagatesLoadErrors(t *testing.T) {
	src := newMemSource(2)
	g, err := NewGenerator("g", src, []int{0, 1}, genConfig(2), 1)
	require.NoError(t, err)
	g.WithFrameLoader(func(string) (*Frame, error) { return nil, errors.New("boom") })
	_, err = g.Next()
	assert.ErrorContains(t, err, "boom")
}

func TestGeneratorYieldShapes(t *testing.T) {
	src := newMemSource(4)
	g, err := NewGenerator("train", src, []int{0, 1, 2, 3}, genConfig(3), 1)
	require.NoError(t, err)
	g.WithFrameLoader(asymmetricLoader)

	spec, inputs, labels, err := g.Yield()
	require.NoError(t, err)
	assert.Equal(t, "train", spec)
	require.Len(t, inputs, 1)
	require.Len(t, labels, 1)
	assert.Equal(t, []int{3, 2, 3, 3}, inputs[0].Shape().Dimensions)
	assert.Equal(t, []int{3, 1}, labels[0].Shape().Dimensions)
}
