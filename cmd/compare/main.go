package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/Noofbiz/behavioralCloning/config"
	"github.com/Noofbiz/behavioralCloning/datasets"
	"github.com/Noofbiz/behavioralCloning/knn"
	"github.com/Noofbiz/behavioralCloning/simple"
	"github.com/Noofbiz/behavioralCloning/steering"
)

// result is one model's predictions over the validation features.
type result struct {
	name  string
	preds []float32
}

func main() {
	configPath := flag.String("config", "", "path to JSON configuration (optional; embedded defaults are used otherwise)")
	seed := flag.Int64("seed", 0, "split seed; use the seed printed by cmd/train to compare on the same validation set (0 = config seed)")
	thumbRows := flag.Int("thumb-rows", 8, "thumbnail grid rows")
	thumbCols := flag.Int("thumb-cols", 32, "thumbnail grid columns")
	workers := flag.Int("workers", 0, "workers for thumbnail precompute and neighbor search (0 = NumCPU)")
	cachePrefix := flag.String("cache", "output/features", "prefix for gob feature caches ('' disables caching)")
	cacheForce := flag.Bool("cache-force", false, "recompute features even if a cache exists")
	maxTrain := flag.Int("max-train", 0, "train the baselines on at most this many records (0 = all)")
	k := flag.Int("k", 8, "neighbors used by the kNN baseline")
	knnDraws := flag.Int("knn-draws", 50, "weighted neighbor draws used to report kNN spread")
	hidden := flag.String("mlp-hidden", "64,16", "comma-separated MLP hidden layer sizes")
	mlpEpochs := flag.Int("mlp-epochs", 20, "MLP training epochs")
	mlpLR := flag.Float64("mlp-learning-rate", 0.01, "MLP learning rate")
	mlpBatch := flag.Int("mlp-batch-size", 32, "MLP batch size")
	clipNorm := flag.Float64("clip-norm", 5.0, "MLP gradient clipping norm")
	checkpoint := flag.String("checkpoint", "", "CNN checkpoint directory (default: training.checkpoint_dir; 'none' skips the CNN)")
	outCSV := flag.String("out-csv", "output/compare.csv", "if set, write per-example predictions to this CSV")
	flag.Parse()

	cfg := config.Default()
	if strings.TrimSpace(*configPath) != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config %s: %v", *configPath, err)
		}
		cfg = loaded
	}
	if *seed != 0 {
		cfg.Data.Seed = *seed
	}
	if cfg.Data.Seed == 0 {
		cfg.Data.Seed = time.Now().UnixNano()
		log.Printf("warning: no seed given; validation split will not match any training run")
	}
	log.Printf("Using seed %d", cfg.Data.Seed)

	dl, err := datasets.LoadDrivingLog(cfg.Data)
	if err != nil {
		log.Fatalf("failed to load driving logs: %v", err)
	}
	split, err := datasets.SplitIndices(dl.Len(), cfg.Data.TrainFraction, rand.New(rand.NewSource(cfg.Data.Seed)))
	if err != nil {
		log.Fatalf("failed to split dataset: %v", err)
	}
	trainIdx := split.Train
	if *maxTrain > 0 && *maxTrain < len(trainIdx) {
		trainIdx = trainIdx[:*maxTrain]
	}
	log.Printf("Records=%d baseline train=%d validation=%d", dl.Len(), len(trainIdx), len(split.Validation))

	spec := datasets.ThumbnailSpec{
		Top:    steering.CropTop,
		Bottom: steering.CropBottom,
		Rows:   *thumbRows,
		Cols:   *thumbCols,
	}
	trainFS := buildFeatures("train", dl, trainIdx, spec, *workers, *cachePrefix, *cacheForce)
	valFS := buildFeatures("validation", dl, split.Validation, spec, *workers, *cachePrefix, *cacheForce)
	valInputs, labels, err := valFS.Batch(positions(valFS.Len()))
	if err != nil {
		log.Fatalf("failed to read validation features: %v", err)
	}

	var results []result

	// constant baseline: always steer the training mean
	trainLabels := make([]float64, len(trainFS.Labels()))
	for i, l := range trainFS.Labels() {
		trainLabels[i] = float64(l)
	}
	mean := float32(stat.Mean(trainLabels, nil))
	constant := make([]float32, len(labels))
	for i := range constant {
		constant[i] = mean
	}
	results = append(results, result{name: "mean", preds: constant})

	log.Printf("Running kNN baseline (k=%d)...", *k)
	reg, err := knn.New(trainFS, *k)
	if err != nil {
		log.Fatalf("failed to create kNN baseline: %v", err)
	}
	reg.Workers = *workers
	reg.Seed(cfg.Data.Seed)
	knnPreds, err := reg.PredictBatch(valInputs)
	if err != nil {
		log.Fatalf("kNN prediction failed: %v", err)
	}
	results = append(results, result{name: "knn", preds: knnPreds})
	if *knnDraws > 0 && len(valInputs) > 0 {
		spreads := make([]float64, 0, len(valInputs))
		for _, in := range valInputs {
			draws, err := reg.Sample(in, *knnDraws)
			if err != nil {
				log.Fatalf("kNN sampling failed: %v", err)
			}
			d := make([]float64, len(draws))
			for i, v := range draws {
				d[i] = float64(v)
			}
			spreads = append(spreads, stat.StdDev(d, nil))
		}
		log.Printf("kNN neighborhood spread: mean stddev=%.5f", stat.Mean(spreads, nil))
	}

	log.Printf("Training MLP baseline (hidden=%s, epochs=%d)...", *hidden, *mlpEpochs)
	hiddenSizes, err := parseSizes(*hidden)
	if err != nil {
		log.Fatalf("invalid -mlp-hidden: %v", err)
	}
	model, err := simple.NewModel(simple.Config{
		HiddenSizes:  hiddenSizes,
		InputDim:     spec.Dim(),
		LearningRate: *mlpLR,
		Epochs:       *mlpEpochs,
		BatchSize:    *mlpBatch,
		Seed:         cfg.Data.Seed,
		ClipNorm:     *clipNorm,
	})
	if err != nil {
		log.Fatalf("failed to create MLP: %v", err)
	}
	losses, err := model.Train(trainFS)
	if err != nil {
		log.Fatalf("MLP training failed: %v", err)
	}
	for i, l := range losses {
		log.Printf("MLP epoch %d: loss=%.5f", i+1, l)
	}
	mlpPreds, err := model.Predict(valInputs)
	if err != nil {
		log.Fatalf("MLP prediction failed: %v", err)
	}
	results = append(results, result{name: "mlp", preds: mlpPreds})

	ckpt := *checkpoint
	if ckpt == "" {
		ckpt = cfg.Training.CheckpointDir
	}
	if ckpt != "none" {
		if preds, err := predictCNN(ckpt, dl, valFS.Indices()); err != nil {
			log.Printf("warning: skipping CNN: %v", err)
		} else {
			results = append(results, result{name: "cnn", preds: preds})
		}
	}

	fmt.Printf("%-6s %10s\n", "model", "val MAE")
	for _, r := range results {
		fmt.Printf("%-6s %10.5f\n", r.name, steering.MeanAbsoluteError(r.preds, labels))
	}

	if *outCSV != "" {
		if err := writeCSV(*outCSV, valFS.Indices(), labels, results); err != nil {
			log.Fatalf("failed to write %s: %v", *outCSV, err)
		}
		log.Printf("Wrote predictions to %s", *outCSV)
	}
}

// buildFeatures loads features from the gob cache when it matches, and
// computes (and saves) them otherwise.
func buildFeatures(name string, dl *datasets.DrivingLog, indices []int, spec datasets.ThumbnailSpec,
	workers int, cachePrefix string, force bool) *datasets.FeatureSet {
	fs, err := datasets.NewFeatureSet(dl, indices, spec)
	if err != nil {
		log.Fatalf("failed to prepare %s features: %v", name, err)
	}
	fs.Workers = workers
	if cachePrefix == "" {
		if err := fs.Precompute(); err != nil {
			log.Fatalf("failed to compute %s features: %v", name, err)
		}
		return fs
	}

	path := cachePrefix + "-" + name + ".gob"
	if !force {
		err = fs.LoadCache(path)
		if err == nil {
			log.Printf("Loaded %s features from %s (examples=%d)", name, path, fs.Len())
			return fs
		}
		log.Printf("Feature cache %s not usable (%v); computing", path, err)
	}
	log.Printf("Computing %d %s thumbnails...", fs.Len(), name)
	if err := fs.SaveCache(path); err != nil {
		log.Fatalf("failed to compute %s features: %v", name, err)
	}
	return fs
}

// predictCNN runs the trained network on the center images of the given
// records, in batches.
func predictCNN(dir string, dl *datasets.DrivingLog, indices []int) ([]float32, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, err
	}
	backend, err := steering.NewBackend()
	if err != nil {
		return nil, err
	}
	predictor, err := steering.NewPredictor(backend, dir)
	if err != nil {
		return nil, err
	}
	log.Printf("Running CNN from %s on %d frames...", dir, len(indices))

	const batch = 64
	out := make([]float32, 0, len(indices))
	for start := 0; start < len(indices); start += batch {
		frames := make([]*datasets.Frame, 0, batch)
		for _, ix := range indices[start:min(start+batch, len(indices))] {
			rec, err := dl.Record(ix)
			if err != nil {
				return nil, err
			}
			f, err := datasets.ReadFrame(rec.Center)
			if err != nil {
				return nil, err
			}
			frames = append(frames, f)
		}
		preds, err := predictor.Predict(frames)
		if err != nil {
			return nil, err
		}
		out = append(out, preds...)
	}
	return out, nil
}

func positions(n int) []int {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return p
}

func parseSizes(s string) ([]int, error) {
	var out []int
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		v, err := strconv.Atoi(tok)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("bad layer size %q", tok)
		}
		out = append(out, v)
	}
	return out, nil
}

func writeCSV(path string, indices []int, labels []float32, results []result) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{"record", "steering"}
	for _, r := range results {
		header = append(header, r.name)
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for i, ix := range indices {
		row := []string{strconv.Itoa(ix), strconv.FormatFloat(float64(labels[i]), 'f', 5, 32)}
		for _, r := range results {
			row = append(row, strconv.FormatFloat(float64(r.preds[i]), 'f', 5, 32))
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
