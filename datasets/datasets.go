package datasets

import "github.com/gomlx/gomlx/pkg/core/tensors"

// This package turns recorded simulator runs into training batches.
//
// Layout and intended usage:
//
// DrivingLog
//   - Reads one driving_log.csv per run directory and rewrites the image
//     paths to <root>/<run>/IMG/<file>.
//   - Runs recorded on the left or right side of the track get a fixed
//     steering bias back toward the center, applied once at load time.
//   - Runs are concatenated center, left, right and indexed 0..Len()-1.
//
// Generator
//   - Owns a copy of an index subset (see SplitIndices), a cursor and a RNG.
//   - Every call to Next returns BatchSize samples and moves the cursor; when
//     the subset is exhausted it is reshuffled and sampling wraps around.
//   - Each sample picks one of the three cameras and is mirrored half the
//     time (negating the angle).
//
// Images are decoded lazily, only when a sample is drawn.

// Source is what a Generator samples from. DrivingLog implements it; tests
// use small in-memory tables.
type Source interface {
	Len() int
	Record(i int) (DrivingRecord, error)
}

// TrainDataset is the subset of gomlx's train.Dataset the trainer relies on.
// Generator implements it.
type TrainDataset interface {
	Name() string
	Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error)
	Reset()
}
