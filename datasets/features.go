package datasets

import (
	"encoding/gob"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// featureCacheVersion is incremented when the on-disk feature format changes.
const featureCacheVersion = 1

// ThumbnailSpec describes how a frame is reduced to a feature vector: rows
// [Top, height-Bottom) are kept and averaged into a Rows x Cols grayscale grid.
type ThumbnailSpec struct {
	Top, Bottom int
	Rows, Cols  int
}

// Dim is the length of the feature vector produced by Thumbnail.
func (s ThumbnailSpec) Dim() int { return s.Rows * s.Cols }

func (s ThumbnailSpec) validate(height, width int) error {
	if s.Rows <= 0 || s.Cols <= 0 {
		return fmt.Errorf("thumbnail grid must be positive, got %dx%d", s.Rows, s.Cols)
	}
	if s.Top < 0 || s.Bottom < 0 || height-s.Top-s.Bottom < s.Rows {
		return fmt.Errorf("crop %d/%d leaves fewer than %d rows of %d", s.Top, s.Bottom, s.Rows, height)
	}
	if width < s.Cols {
		return fmt.Errorf("frame width %d is smaller than %d columns", width, s.Cols)
	}
	return nil
}

// Thumbnail averages the cropped frame into a coarse grayscale grid, scaled
// the same way the network scales pixels (x/255 - 0.5).
func Thumbnail(f *Frame, spec ThumbnailSpec) ([]float32, error) {
	if err := spec.validate(f.Height, f.Width); err != nil {
		return nil, err
	}
	h := f.Height - spec.Top - spec.Bottom
	out := make([]float32, spec.Dim())
	for r := 0; r < spec.Rows; r++ {
		y0, y1 := spec.Top+r*h/spec.Rows, spec.Top+(r+1)*h/spec.Rows
		for c := 0; c < spec.Cols; c++ {
			x0, x1 := c*f.Width/spec.Cols, (c+1)*f.Width/spec.Cols
			var sum float64
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					sum += float64(f.At(y, x, 0)+f.At(y, x, 1)+f.At(y, x, 2)) / 3
				}
			}
			mean := sum / float64((y1-y0)*(x1-x0))
			out[r*spec.Cols+c] = float32(mean/255 - 0.5)
		}
	}
	return out, nil
}

// FeatureSet holds thumbnail features and steering labels of the center
// camera image for a subset of a Source. Positions passed to Example and
// Batch index into that subset, not into the Source.
type FeatureSet struct {
	Spec    ThumbnailSpec
	Workers int

	src     Source
	indices []int
	load    FrameLoader

	precomputed bool
	inputs      [][]float32
	labels      []float32
}

// featureCache is the gob layout written by SaveCache.
type featureCache struct {
	Version   int
	Spec      ThumbnailSpec
	Indices   []int
	CreatedAt int64
	Inputs    [][]float32
	Labels    []float32
}

// NewFeatureSet prepares a feature set over indices of src. Nothing is read
// until Precompute or LoadCache is called.
func NewFeatureSet(src Source, indices []int, spec ThumbnailSpec) (*FeatureSet, error) {
	if src == nil {
		return nil, errors.New("source cannot be nil")
	}
	if err := spec.validate(ImageHeight, ImageWidth); err != nil {
		return nil, err
	}
	for _, ix := range indices {
		if ix < 0 || ix >= src.Len() {
			return nil, fmt.Errorf("index %d out of range [0, %d)", ix, src.Len())
		}
	}
	return &FeatureSet{
		Spec:    spec,
		src:     src,
		indices: append([]int(nil), indices...),
		load:    ReadFrame,
	}, nil
}

// WithFrameLoader replaces the image reader.
func (fs *FeatureSet) WithFrameLoader(load FrameLoader) *FeatureSet {
	fs.load = load
	return fs
}

// Len is the number of examples in the set.
func (fs *FeatureSet) Len() int { return len(fs.indices) }

// Indices returns the Source indices backing the set.
func (fs *FeatureSet) Indices() []int { return fs.indices }

// Precompute reads every center image and builds its thumbnail using a pool
// of workers, logging progress every few seconds.
func (fs *FeatureSet) Precompute() error {
	if fs.precomputed {
		return nil
	}
	n := len(fs.indices)
	fs.inputs = make([][]float32, n)
	fs.labels = make([]float32, n)
	if n == 0 {
		fs.precomputed = true
		return nil
	}

	workers := fs.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workers = max(1, min(workers, n))

	jobs := make(chan int, n)
	errCh := make(chan error, workers)
	var done int64
	var wg sync.WaitGroup
	wg.Add(workers)

	ticker := time.NewTicker(3 * time.Second)
	stopProgress := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d := atomic.LoadInt64(&done)
				log.Printf("[features] progress: %d/%d (%.1f%%)", d, n, float64(d)/float64(n)*100)
			case <-stopProgress:
				return
			}
		}
	}()

	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for pos := range jobs {
				in, label, err := fs.compute(fs.indices[pos])
				if err != nil {
					errCh <- err
					return
				}
				fs.inputs[pos] = in
				fs.labels[pos] = label
				atomic.AddInt64(&done, 1)
			}
		}()
	}
	for pos := 0; pos < n; pos++ {
		jobs <- pos
	}
	close(jobs)
	wg.Wait()
	close(stopProgress)
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		fs.inputs, fs.labels = nil, nil
		return errors.Join(errs...)
	}
	fs.precomputed = true
	log.Printf("[features] completed: %d examples", n)
	return nil
}

func (fs *FeatureSet) compute(ix int) ([]float32, float32, error) {
	rec, err := fs.src.Record(ix)
	if err != nil {
		return nil, 0, err
	}
	frame, err := fs.load(rec.Center)
	if err != nil {
		return nil, 0, err
	}
	in, err := Thumbnail(frame, fs.Spec)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", rec.Center, err)
	}
	return in, rec.Steering, nil
}

// Example returns the features and label at position pos.
func (fs *FeatureSet) Example(pos int) ([]float32, float32, error) {
	if !fs.precomputed {
		return nil, 0, errors.New("feature set is not precomputed")
	}
	if pos < 0 || pos >= len(fs.inputs) {
		return nil, 0, fmt.Errorf("position %d out of range [0, %d)", pos, len(fs.inputs))
	}
	return fs.inputs[pos], fs.labels[pos], nil
}

// Batch returns features and labels for the given positions.
func (fs *FeatureSet) Batch(positions []int) ([][]float32, []float32, error) {
	inputs := make([][]float32, len(positions))
	labels := make([]float32, len(positions))
	for i, pos := range positions {
		in, label, err := fs.Example(pos)
		if err != nil {
			return nil, nil, err
		}
		inputs[i] = in
		labels[i] = label
	}
	return inputs, labels, nil
}

// Labels returns all steering labels in position order.
func (fs *FeatureSet) Labels() []float32 { return fs.labels }

// SaveCache writes the precomputed features to path with encoding/gob,
// going through a temp file and a rename.
func (fs *FeatureSet) SaveCache(path string) error {
	if path == "" {
		return fmt.Errorf("empty cache path")
	}
	if err := fs.Precompute(); err != nil {
		return fmt.Errorf("precompute before save: %w", err)
	}
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		tmp.Close()
		_ = os.Remove(tmpName)
	}()

	fc := featureCache{
		Version:   featureCacheVersion,
		Spec:      fs.Spec,
		Indices:   fs.indices,
		CreatedAt: time.Now().Unix(),
		Inputs:    fs.inputs,
		Labels:    fs.labels,
	}
	if err := gob.NewEncoder(tmp).Encode(&fc); err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp cache file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp cache to target: %w", err)
	}
	return nil
}

// LoadCache adopts features saved by SaveCache. The cache must have been
// built with the same thumbnail spec and the same indices.
func (fs *FeatureSet) LoadCache(path string) error {
	fh, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open cache file %s: %w", path, err)
	}
	defer fh.Close()
	var fc featureCache
	if err := gob.NewDecoder(fh).Decode(&fc); err != nil {
		return fmt.Errorf("decode cache %s: %w", path, err)
	}
	switch {
	case fc.Version != featureCacheVersion:
		return fmt.Errorf("cache version mismatch: cache=%d expected=%d", fc.Version, featureCacheVersion)
	case fc.Spec != fs.Spec:
		return fmt.Errorf("cache thumbnail mismatch: cache=%+v expected=%+v", fc.Spec, fs.Spec)
	case len(fc.Indices) != len(fs.indices):
		return fmt.Errorf("cache indices length mismatch: cache=%d expected=%d", len(fc.Indices), len(fs.indices))
	case len(fc.Inputs) != len(fs.indices) || len(fc.Labels) != len(fs.indices):
		return fmt.Errorf("cache size mismatch: inputs=%d labels=%d expected=%d", len(fc.Inputs), len(fc.Labels), len(fs.indices))
	}
	for i := range fc.Indices {
		if fc.Indices[i] != fs.indices[i] {
			return fmt.Errorf("cache index mismatch at pos %d: cache=%d expected=%d", i, fc.Indices[i], fs.indices[i])
		}
	}
	fs.inputs = fc.Inputs
	fs.labels = fc.Labels
	fs.precomputed = true
	return nil
}
