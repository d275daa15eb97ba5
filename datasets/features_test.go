package datasets

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testThumb = ThumbnailSpec{Top: 60, Bottom: 20, Rows: 2, Cols: 4}

// uniformSource names each center image "gray-<value>" so the loader can
// return a uniform frame of that value.
func uniformSource(values ...int) *memSource {
	src := &memSource{}
	for i, v := range values {
		src.records = append(src.records, DrivingRecord{
			Center:   fmt.Sprintf("gray-%d", v),
			Steering: float32(i) / 10,
		})
	}
	return src
}

func uniformLoader(path string) (*Frame, error) {
	v, err := strconv.Atoi(strings.TrimPrefix(path, "gray-"))
	if err != nil {
		return nil, err
	}
	f := NewFrame(ImageHeight, ImageWidth)
	for i := range f.Pix {
		f.Pix[i] = float32(v)
	}
	return f, nil
}

func TestThumbnailAveragesCells(t *testing.T) {
	f := NewFrame(ImageHeight, ImageWidth)
	// left half white, right half black; the sky rows are noise and cropped
	for y := 0; y < ImageHeight; y++ {
		for x := 0; x < ImageWidth; x++ {
			v := float32(0)
			if x < ImageWidth/2 {
				v = 255
			}
			if y < 60 {
				v = 77
			}
			for c := 0; c < ImageChannels; c++ {
				f.Set(y, x, c, v)
			}
		}
	}

	got, err := Thumbnail(f, testThumb)
	require.NoError(t, err)
	assert.Len(t, got, testThumb.Dim())
	for r := 0; r < testThumb.Rows; r++ {
		assert.InDeltaSlice(t, []float32{0.5, 0.5, -0.5, -0.5}, got[r*4:(r+1)*4], 1e-6)
	}
}

func TestThumbnailRejectsBadSpec(t *testing.T) {
	f := NewFrame(ImageHeight, ImageWidth)
	_, err := Thumbnail(f, ThumbnailSpec{Rows: 0, Cols: 4})
	assert.Error(t, err)
	_, err = Thumbnail(f, ThumbnailSpec{Top: 100, Bottom: 60, Rows: 1, Cols: 1})
	assert.Error(t, err)
}

func TestFeatureSetPrecompute(t *testing.T) {
	src := uniformSource(0, 51, 102, 255)
	fs, err := NewFeatureSet(src, []int{3, 1}, testThumb)
	require.NoError(t, err)
	fs.WithFrameLoader(uniformLoader)
	fs.Workers = 2

	_, _, err = fs.Example(0)
	assert.ErrorContains(t, err, "not precomputed")

	require.NoError(t, fs.Precompute())
	assert.Equal(t, 2, fs.Len())

	in, label, err := fs.Example(0)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, label, 1e-6)
	for _, v := range in {
		assert.InDelta(t, 0.5, v, 1e-6)
	}

	inputs, labels, err := fs.Batch([]int{1, 0})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.1, 0.3}, labels, 1e-6)
	assert.InDelta(t, 51.0/255-0.5, inputs[0][0], 1e-6)

	_, _, err = fs.Example(2)
	assert.Error(t, err)
}

func TestFeatureSetPropagatesLoadErrors(t *testing.T) {
	fs, err := NewFeatureSet(uniformSource(1, 2, 3), []int{0, 1, 2}, testThumb)
	require.NoError(t, err)
	boom := errors.New("boom")
	fs.WithFrameLoader(func(string) (*Frame, error) { return nil, boom })

	assert.ErrorIs(t, fs.Precompute(), boom)
	_, _, err = fs.Example(0)
	assert.Error(t, err)
}

func TestNewFeatureSetValidates(t *testing.T) {
	_, err := NewFeatureSet(nil, nil, testThumb)
	assert.Error(t, err)
	_, err = NewFeatureSet(uniformSource(1), []int{1}, testThumb)
	assert.ErrorContains(t, err, "out of range")
}

func TestFeatureCacheRoundTrip(t *testing.T) {
	src := uniformSource(10, 20, 30)
	path := filepath.Join(t.TempDir(), "cache", "features.gob")

	fs, err := NewFeatureSet(src, []int{2, 0}, testThumb)
	require.NoError(t, err)
	require.NoError(t, fs.WithFrameLoader(uniformLoader).SaveCache(path))

	loaded, err := NewFeatureSet(src, []int{2, 0}, testThumb)
	require.NoError(t, err)
	loaded.WithFrameLoader(func(string) (*Frame, error) {
		return nil, errors.New("cache should be used")
	})
	require.NoError(t, loaded.LoadCache(path))
	assert.Equal(t, fs.Labels(), loaded.Labels())

	other, err := NewFeatureSet(src, []int{0, 2}, testThumb)
	require.NoError(t, err)
	assert.ErrorContains(t, other.LoadCache(path), "index mismatch")

	coarser, err := NewFeatureSet(src, []int{2, 0}, ThumbnailSpec{Top: 60, Bottom: 20, Rows: 1, Cols: 1})
	require.NoError(t, err)
	assert.ErrorContains(t, coarser.LoadCache(path), "thumbnail mismatch")
}
