package steering

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBestCheckpointSavesOnlyOnImprovement(t *testing.T) {
	saves := 0
	b := NewBestCheckpoint(func() error { saves++; return nil })
	assert.True(t, math.IsInf(b.Best(), 1))

	losses := []float64{0.5, 0.4, 0.4, 0.45, 0.39999, math.NaN(), 0.1}
	want := []bool{true, true, false, false, true, false, true}
	for i, l := range losses {
		saved, err := b.Observe(l)
		require.NoError(t, err)
		assert.Equal(t, want[i], saved, "epoch %d loss %v", i, l)
	}
	assert.Equal(t, 4, saves)
	assert.Equal(t, 0.1, b.Best())
}

func TestBestCheckpointSaveError(t *testing.T) {
	b := NewBestCheckpoint(func() error { return errors.New("disk full") })
	saved, err := b.Observe(1)
	assert.False(t, saved)
	assert.ErrorContains(t, err, "disk full")
}

func TestEarlyStoppingPatience(t *testing.T) {
	e := NewEarlyStopping(0.0005, 2)

	assert.False(t, e.Observe(0.30))
	// improves, but by less than min delta: counts as a miss
	assert.False(t, e.Observe(0.2998))
	assert.Equal(t, 1, e.Wait())
	// real improvement resets the counter
	assert.False(t, e.Observe(0.29))
	assert.Equal(t, 0, e.Wait())
	assert.False(t, e.Observe(0.295))
	assert.True(t, e.Observe(0.2899))
	assert.Equal(t, 2, e.Wait())
}

func TestEarlyStoppingZeroPatience(t *testing.T) {
	e := NewEarlyStopping(0, 0)
	assert.False(t, e.Observe(1))
	assert.True(t, e.Observe(1))
}

func TestEarlyStoppingNaNIsNotImprovement(t *testing.T) {
	e := NewEarlyStopping(0.0005, 1)
	assert.False(t, e.Observe(0.2))
	assert.True(t, e.Observe(math.NaN()))
}

func TestEarlyStoppingNegativeDeltaIsMagnitude(t *testing.T) {
	e := NewEarlyStopping(-0.1, 1)
	assert.Equal(t, 0.1, e.MinDelta)
}
