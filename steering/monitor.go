package steering

import "math"

// BestCheckpoint saves the model whenever the validation loss is lower than
// every loss seen before (save-best-only, mode min).
type BestCheckpoint struct {
	save func() error
	best float64
}

// NewBestCheckpoint calls save on every improvement.
func NewBestCheckpoint(save func() error) *BestCheckpoint {
	return &BestCheckpoint{save: save, best: math.Inf(1)}
}

// Best is the lowest loss observed, +Inf before the first observation.
func (b *BestCheckpoint) Best() float64 { return b.best }

// Observe records loss and saves when it is a new best. NaN never counts as
// an improvement.
func (b *BestCheckpoint) Observe(loss float64) (saved bool, err error) {
	if !(loss < b.best) {
		return false, nil
	}
	b.best = loss
	if b.save != nil {
		if err := b.save(); err != nil {
			return false, err
		}
	}
	return true, nil
}

// EarlyStopping halts training once the validation loss has failed to
// improve on the best value by at least MinDelta for Patience consecutive
// epochs.
type EarlyStopping struct {
	MinDelta float64
	Patience int

	best float64
	wait int
}

// NewEarlyStopping returns a monitor with no history.
func NewEarlyStopping(minDelta float64, patience int) *EarlyStopping {
	return &EarlyStopping{MinDelta: math.Abs(minDelta), Patience: patience, best: math.Inf(1)}
}

// Observe records one epoch's loss and reports whether to stop.
func (e *EarlyStopping) Observe(loss float64) (stop bool) {
	if loss < e.best-e.MinDelta {
		e.best = loss
		e.wait = 0
		return false
	}
	e.wait++
	return e.wait >= e.Patience
}

// Wait is the number of consecutive epochs without improvement.
func (e *EarlyStopping) Wait() int { return e.wait }
