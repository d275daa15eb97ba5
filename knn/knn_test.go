package knn

import (
	"errors"
	"math"
	"testing"
)

// mockDS is a small in-memory dataset implementing the Dataset interface.
type mockDS struct {
	inputs [][]float32
	labels []float32
	err    error
}

func (m *mockDS) Len() int { return len(m.inputs) }

func (m *mockDS) Example(i int) ([]float32, float32, error) {
	if m.err != nil {
		return nil, 0, m.err
	}
	return m.inputs[i], m.labels[i], nil
}

func approxEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func lineDS() *mockDS {
	return &mockDS{
		inputs: [][]float32{{0, 0}, {1, 0}, {3, 0}, {10, 0}},
		labels: []float32{0.1, 0.2, 0.4, -0.5},
	}
}

func TestNeighborsSortedByDistance(t *testing.T) {
	r, err := New(lineDS(), 2)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	r.Workers = 3

	got, err := r.Neighbors([]float32{2.9, 0}, 3)
	if err != nil {
		t.Fatalf("Neighbors error: %v", err)
	}
	want := []int{2, 1, 0}
	if len(got) != len(want) {
		t.Fatalf("expected %d neighbors, got %d", len(want), len(got))
	}
	for i, nb := range got {
		if nb.Pos != want[i] {
			t.Fatalf("neighbor %d: expected pos %d, got %d", i, want[i], nb.Pos)
		}
	}
	if !approxEqual(got[0].Distance, 0.1, 1e-6) {
		t.Errorf("nearest distance = %v, want 0.1", got[0].Distance)
	}

	all, err := r.Neighbors([]float32{0, 0}, 10)
	if err != nil {
		t.Fatalf("Neighbors error: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("k larger than dataset should return all examples, got %d", len(all))
	}
}

func TestPredictWeightsByInverseDistance(t *testing.T) {
	r, err := New(lineDS(), 2)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	// query at x=0.25: distances 0.25 and 0.75, weights 4 and 4/3
	got, err := r.Predict([]float32{0.25, 0})
	if err != nil {
		t.Fatalf("Predict error: %v", err)
	}
	want := (4*0.1 + 4.0/3*0.2) / (4 + 4.0/3)
	if !approxEqual(float64(got), want, 1e-5) {
		t.Fatalf("Predict = %v, want %v", got, want)
	}

	// an exact match dominates
	got, err = r.Predict([]float32{10, 0})
	if err != nil {
		t.Fatalf("Predict error: %v", err)
	}
	if !approxEqual(float64(got), -0.5, 1e-4) {
		t.Fatalf("Predict on an exact match = %v, want -0.5", got)
	}
}

func TestPredictK1IsNearestLabel(t *testing.T) {
	r, err := New(lineDS(), 1)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	got, err := r.PredictBatch([][]float32{{0.9, 0}, {7, 0}})
	if err != nil {
		t.Fatalf("PredictBatch error: %v", err)
	}
	if !approxEqual(float64(got[0]), 0.2, 1e-6) || !approxEqual(float64(got[1]), -0.5, 1e-6) {
		t.Fatalf("PredictBatch = %v, want [0.2 -0.5]", got)
	}
}

func TestSampleDrawsNeighborLabels(t *testing.T) {
	r, err := New(lineDS(), 2)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	r.Seed(12345)

	draws, err := r.Sample([]float32{0.5, 0}, 200)
	if err != nil {
		t.Fatalf("Sample error: %v", err)
	}
	counts := map[float32]int{}
	for _, d := range draws {
		counts[d]++
	}
	if len(counts) != 2 || counts[0.1] == 0 || counts[0.2] == 0 {
		t.Fatalf("expected draws from both equidistant neighbors, got %v", counts)
	}

	if _, err := r.Sample([]float32{0, 0}, 0); err == nil {
		t.Fatal("expected error for num=0")
	}
}

func TestErrors(t *testing.T) {
	if _, err := New(nil, 1); err == nil {
		t.Fatal("expected error for nil dataset")
	}
	if _, err := New(lineDS(), 0); err == nil {
		t.Fatal("expected error for k=0")
	}

	r, _ := New(&mockDS{}, 1)
	if _, err := r.Predict([]float32{0}); err == nil {
		t.Fatal("expected error for empty dataset")
	}

	r, _ = New(lineDS(), 1)
	if _, err := r.Predict([]float32{0, 0, 0}); err == nil {
		t.Fatal("expected error for feature length mismatch")
	}

	boom := errors.New("boom")
	ds := lineDS()
	ds.err = boom
	r, _ = New(ds, 1)
	if _, err := r.Predict([]float32{0, 0}); !errors.Is(err, boom) {
		t.Fatalf("expected dataset error, got %v", err)
	}
}
