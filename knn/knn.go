// Package knn predicts steering angles from the labels of the nearest
// training thumbnails.
package knn

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"sync"
	"time"
)

// Dataset is the labelled feature store searched for neighbors.
type Dataset interface {
	Len() int
	Example(pos int) (features []float32, label float32, err error)
}

// Regressor averages the steering of the K nearest examples, weighting each
// by the inverse of its distance.
type Regressor struct {
	DS Dataset
	K  int

	// Workers bounds the goroutines used for the distance scan. Zero means NumCPU.
	Workers int

	// Eps keeps the weight of an exact match finite.
	Eps float64

	rng *rand.Rand
}

// Neighbor is a candidate found by the search.
type Neighbor struct {
	Pos      int
	Distance float64
	Label    float32
}

// New creates a regressor over ds. k must be >= 1.
func New(ds Dataset, k int) (*Regressor, error) {
	if ds == nil {
		return nil, errors.New("dataset cannot be nil")
	}
	if k < 1 {
		return nil, fmt.Errorf("k must be >= 1, got %d", k)
	}
	return &Regressor{
		DS:  ds,
		K:   k,
		Eps: 1e-6,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Seed makes Sample deterministic.
func (r *Regressor) Seed(seed int64) {
	r.rng = rand.New(rand.NewSource(seed))
}

// Neighbors scans the whole dataset and returns up to k examples sorted by
// increasing distance to features. Ties keep dataset order.
func (r *Regressor) Neighbors(features []float32, k int) ([]Neighbor, error) {
	n := r.DS.Len()
	if n == 0 {
		return nil, errors.New("dataset is empty")
	}

	workers := r.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workers = max(1, min(workers, n))

	jobs := make(chan int, n)
	results := make([]Neighbor, n)
	errCh := make(chan error, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for pos := range jobs {
				in, label, err := r.DS.Example(pos)
				if err != nil {
					errCh <- err
					return
				}
				if len(in) != len(features) {
					errCh <- fmt.Errorf("example %d has %d features, query has %d", pos, len(in), len(features))
					return
				}
				results[pos] = Neighbor{
					Pos:      pos,
					Distance: math.Sqrt(euclideanDistanceSquared(features, in)),
					Label:    label,
				}
			}
		}()
	}
	for pos := 0; pos < n; pos++ {
		jobs <- pos
	}
	close(jobs)
	wg.Wait()
	close(errCh)
	if err := <-errCh; err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})
	return results[:min(k, n)], nil
}

func (r *Regressor) weights(neighbors []Neighbor) []float64 {
	w := make([]float64, len(neighbors))
	for i, nb := range neighbors {
		w[i] = 1 / (nb.Distance + r.Eps)
	}
	return w
}

// Predict returns the inverse-distance weighted mean steering of the K
// nearest examples.
func (r *Regressor) Predict(features []float32) (float32, error) {
	neighbors, err := r.Neighbors(features, r.K)
	if err != nil {
		return 0, err
	}
	var sum, total float64
	for i, w := range r.weights(neighbors) {
		sum += w * float64(neighbors[i].Label)
		total += w
	}
	return float32(sum / total), nil
}

// PredictBatch calls Predict for each row.
func (r *Regressor) PredictBatch(inputs [][]float32) ([]float32, error) {
	out := make([]float32, len(inputs))
	for i, in := range inputs {
		p, err := r.Predict(in)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

// Sample draws num steering labels from the K nearest neighbors with
// probability proportional to their weights. The spread of the draws says how
// much the neighborhood disagrees.
func (r *Regressor) Sample(features []float32, num int) ([]float32, error) {
	if num <= 0 {
		return nil, fmt.Errorf("num must be > 0, got %d", num)
	}
	neighbors, err := r.Neighbors(features, r.K)
	if err != nil {
		return nil, err
	}
	w := r.weights(neighbors)
	cum := make([]float64, len(w))
	var total float64
	for i, v := range w {
		total += v
		cum[i] = total
	}
	out := make([]float32, num)
	for i := range out {
		u := r.rng.Float64() * total
		j := sort.SearchFloat64s(cum, u)
		out[i] = neighbors[min(j, len(neighbors)-1)].Label
	}
	return out, nil
}

// euclideanDistanceSquared computes squared Euclidean distance between two equal-length float32 slices.
func euclideanDistanceSquared(a, b []float32) float64 {
	sum := 0.0
	for i := range a {
		d := float64(a[i] - b[i])
		sum += d * d
	}
	return sum
}
