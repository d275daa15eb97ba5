package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/Noofbiz/behavioralCloning/config"
	"github.com/Noofbiz/behavioralCloning/datasets"
	"github.com/Noofbiz/behavioralCloning/history"
	"github.com/Noofbiz/behavioralCloning/steering"
)

// options mirrors the CLI flags that can override the JSON configuration.
// Only flags the user actually set are applied (see applyFlags).
type options struct {
	root            string
	centerRuns      string
	leftRuns        string
	rightRuns       string
	sideDriving     float64
	trainFraction   float64
	seed            int64
	batchSize       int
	sideCamera      float64
	mirror          float64
	learningRate    float64
	epochs          int
	stepsPerEpoch   int
	validationSteps int
	minDelta        float64
	patience        int
	checkpointDir   string
	historyPath     string
}

func main() {
	var opts options
	configPath := flag.String("config", "", "path to JSON configuration (optional; embedded defaults are used otherwise)")
	writeDefault := flag.String("write-default-config", "", "write the embedded default configuration to this path and exit")
	printEffective := flag.Bool("print-effective-config", false, "print the effective (JSON+CLI merged) configuration and exit")
	checkImages := flag.Bool("check-images", false, "verify every referenced image exists before training")

	flag.StringVar(&opts.root, "root", "", "directory holding one sub-directory per recorded run")
	flag.StringVar(&opts.centerRuns, "center-runs", "", "comma-separated runs driven in the center of the road")
	flag.StringVar(&opts.leftRuns, "left-runs", "", "comma-separated runs driven on the left side of the track")
	flag.StringVar(&opts.rightRuns, "right-runs", "", "comma-separated runs driven on the right side of the track")
	flag.Float64Var(&opts.sideDriving, "side-driving-adjustment", 0, "steering bias added to left runs and subtracted from right runs")
	flag.Float64Var(&opts.trainFraction, "train-fraction", 0, "fraction of records used for training")
	flag.Int64Var(&opts.seed, "seed", 0, "random seed for split and sampling (0 = time based)")
	flag.IntVar(&opts.batchSize, "batch-size", 0, "samples per batch")
	flag.Float64Var(&opts.sideCamera, "side-camera-adjustment", 0, "angle offset for the left (+) and right (-) cameras")
	flag.Float64Var(&opts.mirror, "mirror-probability", 0, "probability of mirroring a sample")
	flag.Float64Var(&opts.learningRate, "learning-rate", 0, "Adam learning rate")
	flag.IntVar(&opts.epochs, "epochs", 0, "maximum number of epochs")
	flag.IntVar(&opts.stepsPerEpoch, "steps-per-epoch", 0, "training batches per epoch")
	flag.IntVar(&opts.validationSteps, "validation-steps", 0, "validation batches per epoch")
	flag.Float64Var(&opts.minDelta, "min-delta", 0, "minimum validation loss improvement for early stopping")
	flag.IntVar(&opts.patience, "patience", 0, "epochs without improvement before stopping")
	flag.StringVar(&opts.checkpointDir, "checkpoint-dir", "", "directory for the best checkpoint")
	flag.StringVar(&opts.historyPath, "history", "", "sqlite file for run history ('none' disables it)")
	flag.Parse()

	if *writeDefault != "" {
		if err := writeDefaultConfig(*writeDefault); err != nil {
			log.Fatalf("failed to write default config: %v", err)
		}
		log.Printf("Wrote default config to %s", *writeDefault)
		return
	}

	cfg := config.Default()
	if strings.TrimSpace(*configPath) != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config %s: %v", *configPath, err)
		}
		cfg = loaded
		log.Printf("Loaded config from %s", *configPath)
	}
	applyFlags(cfg, &opts)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	if *printEffective {
		out, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			log.Fatalf("failed to encode config: %v", err)
		}
		fmt.Println(string(out))
		return
	}

	if cfg.Data.Seed == 0 {
		cfg.Data.Seed = time.Now().UnixNano()
	}
	log.Printf("Using seed %d", cfg.Data.Seed)

	dl, err := datasets.LoadDrivingLog(cfg.Data)
	if err != nil {
		log.Fatalf("failed to load driving logs: %v", err)
	}
	for _, rc := range dl.RunCounts() {
		log.Printf("Run %s (%s): %d records", rc.Run, rc.Side, rc.Records)
	}
	if summary, err := datasets.SummarizeSteering(dl.Steering(), datasets.HistogramBins); err == nil {
		log.Printf("Steering after side bias: %s", summary)
	}
	if *checkImages {
		if err := dl.CheckImages(); err != nil {
			log.Fatalf("missing images: %v", err)
		}
		log.Printf("All %d images present", 3*dl.Len())
	}

	split, err := datasets.SplitIndices(dl.Len(), cfg.Data.TrainFraction, rand.New(rand.NewSource(cfg.Data.Seed)))
	if err != nil {
		log.Fatalf("failed to split dataset: %v", err)
	}
	log.Printf("Split %d records: train=%d validation=%d", dl.Len(), len(split.Train), len(split.Validation))

	trainGen, err := datasets.NewGenerator("train", dl, split.Train, cfg.Generator, cfg.Data.Seed+1)
	if err != nil {
		log.Fatalf("failed to create training generator: %v", err)
	}
	valGen, err := datasets.NewGenerator("validation", dl, split.Validation, cfg.Generator, cfg.Data.Seed+2)
	if err != nil {
		log.Fatalf("failed to create validation generator: %v", err)
	}

	backend, err := steering.NewBackend()
	if err != nil {
		log.Fatalf("failed to create gomlx backend: %v", err)
	}
	trainer, err := steering.NewTrainer(backend, cfg.Training)
	if err != nil {
		log.Fatalf("failed to create trainer: %v", err)
	}

	var store *history.Store
	var runID string
	if cfg.HistoryPath != "" {
		store, err = history.Open(cfg.HistoryPath)
		if err != nil {
			log.Fatalf("failed to open history %s: %v", cfg.HistoryPath, err)
		}
		defer store.Close()
		runID, err = store.StartRun(cfg, dl.Len(), len(split.Train), len(split.Validation))
		if err != nil {
			log.Fatalf("failed to record run: %v", err)
		}
		log.Printf("Recording run %s in %s", runID, cfg.HistoryPath)
		trainer.OnEpoch(func(r steering.EpochResult) error {
			return store.RecordEpoch(runID, history.Epoch{
				Epoch:     r.Epoch,
				TrainLoss: r.TrainLoss,
				ValLoss:   r.ValLoss,
				Improved:  r.Improved,
				Duration:  r.Duration,
			})
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("Training (epochs=%d, steps=%d, batch=%d, validation steps=%d)...",
		cfg.Training.Epochs, cfg.Training.StepsPerEpoch, cfg.Generator.BatchSize, cfg.Training.ValidationSteps)
	start := time.Now()
	result, err := trainer.Fit(ctx, trainGen, valGen)
	if err != nil && ctx.Err() == nil {
		log.Fatalf("training failed: %v", err)
	}
	if err != nil {
		log.Printf("Training interrupted: %v", err)
	}
	log.Printf("Training finished in %v after %d epochs; best val_loss=%.5f at epoch %d (checkpoint %s)",
		time.Since(start).Round(time.Second), len(result.Epochs), result.BestValLoss, result.BestEpoch, cfg.Training.CheckpointDir)

	if store != nil {
		if err := store.FinishRun(runID, result.BestValLoss, result.BestEpoch, result.StoppedEarly); err != nil {
			log.Printf("warning: failed to finish run %s: %v", runID, err)
		}
	}
}

// applyFlags copies explicitly set flags into cfg. Flags left at their
// defaults never override the JSON configuration.
func applyFlags(cfg *config.Config, o *options) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "root":
			cfg.Data.Root = o.root
		case "center-runs":
			cfg.Data.CenterRuns = splitList(o.centerRuns)
		case "left-runs":
			cfg.Data.LeftRuns = splitList(o.leftRuns)
		case "right-runs":
			cfg.Data.RightRuns = splitList(o.rightRuns)
		case "side-driving-adjustment":
			cfg.Data.SideDrivingAdjustment = o.sideDriving
		case "train-fraction":
			cfg.Data.TrainFraction = o.trainFraction
		case "seed":
			cfg.Data.Seed = o.seed
		case "batch-size":
			cfg.Generator.BatchSize = o.batchSize
		case "side-camera-adjustment":
			cfg.Generator.SideCameraAdjustment = o.sideCamera
		case "mirror-probability":
			cfg.Generator.MirrorProbability = o.mirror
		case "learning-rate":
			cfg.Training.LearningRate = o.learningRate
		case "epochs":
			cfg.Training.Epochs = o.epochs
		case "steps-per-epoch":
			cfg.Training.StepsPerEpoch = o.stepsPerEpoch
		case "validation-steps":
			cfg.Training.ValidationSteps = o.validationSteps
		case "min-delta":
			cfg.Training.MinDelta = o.minDelta
		case "patience":
			cfg.Training.Patience = o.patience
		case "checkpoint-dir":
			cfg.Training.CheckpointDir = o.checkpointDir
		case "history":
			if o.historyPath == "none" {
				cfg.HistoryPath = ""
			} else {
				cfg.HistoryPath = o.historyPath
			}
		}
	})
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// writeDefaultConfig writes the embedded defaults, creating parent
// directories as needed.
func writeDefaultConfig(path string) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return os.WriteFile(path, config.DefaultJSON(), 0644)
}
