package steering

import (
	stdcontext "context"
	"fmt"
	"log"
	"time"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"

	"github.com/Noofbiz/behavioralCloning/config"
	"github.com/Noofbiz/behavioralCloning/datasets"
)

// BatchSource yields validation batches. datasets.Generator implements it.
type BatchSource interface {
	Next() (*datasets.Batch, error)
	Reset()
}

// EpochResult summarizes one epoch of Fit.
type EpochResult struct {
	Epoch        int
	TrainLoss    float64
	ValLoss      float64
	Improved     bool // checkpoint saved
	Duration     time.Duration
	StopTraining bool
}

// FitResult summarizes a whole Fit call.
type FitResult struct {
	Epochs       []EpochResult
	BestValLoss  float64
	BestEpoch    int
	StoppedEarly bool
}

// EpochObserver is notified after every epoch, e.g. to persist metrics.
type EpochObserver func(EpochResult) error

// Trainer fits the steering model with Adam on mean absolute error and keeps
// the checkpoint with the lowest validation loss.
type Trainer struct {
	Config config.TrainingConfig

	backend    backends.Backend
	ctx        *context.Context
	trainer    *train.Trainer
	loop       *train.Loop
	checkpoint *checkpoints.Handler
	predictor  *Predictor
	observers  []EpochObserver
}

// NewTrainer creates the model variables' context and the checkpoint
// handler. A checkpoint already present in cfg.CheckpointDir is resumed.
func NewTrainer(backend backends.Backend, cfg config.TrainingConfig) (*Trainer, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is nil")
	}
	if cfg.Epochs <= 0 || cfg.StepsPerEpoch <= 0 || cfg.ValidationSteps <= 0 {
		return nil, fmt.Errorf("epochs, steps per epoch and validation steps must be > 0")
	}
	if cfg.CheckpointDir == "" {
		return nil, fmt.Errorf("checkpoint directory must be set")
	}

	ctx := context.New()
	ctx.SetParam(optimizers.ParamLearningRate, cfg.LearningRate)

	checkpoint, err := checkpoints.Build(ctx).Dir(cfg.CheckpointDir).Keep(1).Done()
	if err != nil {
		return nil, fmt.Errorf("failed to set up checkpoint %s: %w", cfg.CheckpointDir, err)
	}

	trainer := train.NewTrainer(backend, ctx, modelFn,
		losses.MeanAbsoluteError,
		optimizers.Adam().Done(),
		nil, // trainMetrics
		nil) // evalMetrics

	return &Trainer{
		Config:     cfg,
		backend:    backend,
		ctx:        ctx,
		trainer:    trainer,
		loop:       train.NewLoop(trainer),
		checkpoint: checkpoint,
	}, nil
}

// OnEpoch registers an observer called after every epoch in registration
// order. An observer error aborts Fit.
func (t *Trainer) OnEpoch(fn EpochObserver) {
	t.observers = append(t.observers, fn)
}

// Fit trains for up to Config.Epochs epochs of Config.StepsPerEpoch steps.
// After each epoch the validation loss over Config.ValidationSteps batches
// drives the best-checkpoint and early-stopping monitors, in that order.
// The validation source is reset before each evaluation so every epoch is
// scored on the same samples. The reported training loss is the mean over
// the epoch's steps. ctx is checked between steps.
func (t *Trainer) Fit(ctx stdcontext.Context, trainDS datasets.TrainDataset, val BatchSource) (*FitResult, error) {
	best := NewBestCheckpoint(t.checkpoint.Save)
	early := NewEarlyStopping(t.Config.MinDelta, t.Config.Patience)
	result := &FitResult{}

	for epoch := 1; epoch <= t.Config.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		start := time.Now()

		trainLoss, err := t.trainEpoch(ctx, trainDS)
		if err != nil {
			return result, fmt.Errorf("epoch %d: %w", epoch, err)
		}

		val.Reset()
		valLoss, err := t.Evaluate(val, t.Config.ValidationSteps)
		if err != nil {
			return result, fmt.Errorf("epoch %d: validation failed: %w", epoch, err)
		}

		saved, err := best.Observe(valLoss)
		if err != nil {
			return result, fmt.Errorf("epoch %d: failed to save checkpoint: %w", epoch, err)
		}
		stop := early.Observe(valLoss)

		res := EpochResult{
			Epoch:        epoch,
			TrainLoss:    trainLoss,
			ValLoss:      valLoss,
			Improved:     saved,
			Duration:     time.Since(start),
			StopTraining: stop,
		}
		result.Epochs = append(result.Epochs, res)
		if saved {
			result.BestValLoss = valLoss
			result.BestEpoch = epoch
			log.Printf("Epoch %d/%d: loss=%.5f val_loss=%.5f improved, saved checkpoint to %s (%v)",
				epoch, t.Config.Epochs, trainLoss, valLoss, t.Config.CheckpointDir, res.Duration.Round(time.Millisecond))
		} else {
			log.Printf("Epoch %d/%d: loss=%.5f val_loss=%.5f did not improve from %.5f (%v)",
				epoch, t.Config.Epochs, trainLoss, valLoss, best.Best(), res.Duration.Round(time.Millisecond))
		}

		for _, obs := range t.observers {
			if err := obs(res); err != nil {
				return result, fmt.Errorf("epoch %d: observer failed: %w", epoch, err)
			}
		}

		if stop {
			log.Printf("Epoch %d: early stopping, no improvement above %g for %d epochs", epoch, t.Config.MinDelta, early.Wait())
			result.StoppedEarly = true
			break
		}
	}
	return result, nil
}

// trainEpoch runs Config.StepsPerEpoch optimizer steps one at a time and
// returns the mean of their batch losses.
func (t *Trainer) trainEpoch(ctx stdcontext.Context, trainDS datasets.TrainDataset) (float64, error) {
	var sum float64
	for step := 0; step < t.Config.StepsPerEpoch; step++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		metrics, err := t.loop.RunSteps(trainDS, 1)
		if err != nil {
			return 0, fmt.Errorf("training failed at step %d: %w", step, err)
		}
		if len(metrics) == 0 {
			return 0, fmt.Errorf("training returned no loss at step %d", step)
		}
		loss, err := scalarValue(metrics[0])
		if err != nil {
			return 0, err
		}
		sum += loss
	}
	return sum / float64(t.Config.StepsPerEpoch), nil
}

// Evaluate returns the mean absolute error over steps batches of val.
func (t *Trainer) Evaluate(val BatchSource, steps int) (float64, error) {
	predictor, err := t.Predictor()
	if err != nil {
		return 0, err
	}

	var preds, labels []float32
	for i := 0; i < steps; i++ {
		b, err := val.Next()
		if err != nil {
			return 0, err
		}
		out, err := predictor.Predict(b.Frames())
		if err != nil {
			return 0, err
		}
		preds = append(preds, out...)
		labels = append(labels, b.Angles()...)
	}
	if len(preds) == 0 {
		return 0, fmt.Errorf("no validation samples")
	}
	return MeanAbsoluteError(preds, labels), nil
}

// Predictor returns an inference view over the weights being trained.
func (t *Trainer) Predictor() (*Predictor, error) {
	if t.predictor == nil {
		p, err := newPredictor(t.backend, t.ctx)
		if err != nil {
			return nil, err
		}
		t.predictor = p
	}
	return t.predictor, nil
}

func scalarValue(t *tensors.Tensor) (float64, error) {
	switch v := t.Value().(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	}
	return 0, fmt.Errorf("expected scalar loss, got %s", t.Shape())
}
