package datasets

import (
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// HistogramBins matches the 81 bins used to eyeball the steering
// distribution while collecting data.
const HistogramBins = 81

// SteeringSummary describes the distribution of steering angles.
type SteeringSummary struct {
	Count    int
	Mean     float64
	StdDev   float64
	Min, Max float64

	// Dividers has len(Counts)+1 bin edges.
	Dividers []float64
	Counts   []float64
}

// SummarizeSteering computes summary statistics and a histogram with the
// given number of equal-width bins.
func SummarizeSteering(angles []float64, bins int) (SteeringSummary, error) {
	if len(angles) == 0 {
		return SteeringSummary{}, fmt.Errorf("no steering angles")
	}
	if bins <= 0 {
		return SteeringSummary{}, fmt.Errorf("bins must be > 0, got %d", bins)
	}

	sorted := append([]float64(nil), angles...)
	sort.Float64s(sorted)

	s := SteeringSummary{
		Count: len(sorted),
		Mean:  stat.Mean(sorted, nil),
		Min:   floats.Min(sorted),
		Max:   floats.Max(sorted),
	}
	if len(sorted) > 1 {
		s.StdDev = stat.StdDev(sorted, nil)
	}

	// stat.Histogram wants the last divider strictly above the max.
	hi := s.Max + 1e-6
	if s.Max == s.Min {
		hi = s.Max + 1
	}
	s.Dividers = floats.Span(make([]float64, bins+1), s.Min, hi)
	s.Counts = stat.Histogram(nil, s.Dividers, sorted, nil)
	return s, nil
}

// String renders a short single-line summary for logs.
func (s SteeringSummary) String() string {
	return fmt.Sprintf("n=%d mean=%.4f std=%.4f min=%.4f max=%.4f", s.Count, s.Mean, s.StdDev, s.Min, s.Max)
}

// TextHistogram renders the non-empty bins as rows of '#', scaled so the
// largest bin is width characters wide.
func (s SteeringSummary) TextHistogram(width int) string {
	if len(s.Counts) == 0 || width <= 0 {
		return ""
	}
	peak := floats.Max(s.Counts)
	var sb strings.Builder
	for i, c := range s.Counts {
		if c == 0 {
			continue
		}
		n := int(c / peak * float64(width))
		if n == 0 {
			n = 1
		}
		fmt.Fprintf(&sb, "%+.3f %6d %s\n", s.Dividers[i], int(c), strings.Repeat("#", n))
	}
	return sb.String()
}
