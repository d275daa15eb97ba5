package main

// Example command that loads recorded simulator runs, prints how many frames
// each run contributed and the steering distribution, then draws one batch
// from the generator and converts it into gomlx tensors.
//
// Usage:
//   go run ./datasets/example -root driving_data
//
// Every sub-directory of -root holding a driving_log.csv is treated as a
// center-lane run unless it is named in -left or -right.

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"strings"

	"github.com/Noofbiz/behavioralCloning/config"
	"github.com/Noofbiz/behavioralCloning/datasets"
)

func main() {
	root := flag.String("root", "driving_data", "directory holding one sub-directory per recorded run")
	left := flag.String("left", "", "comma-separated runs recorded on the left side of the track")
	right := flag.String("right", "", "comma-separated runs recorded on the right side of the track")
	batch := flag.Int("batch", 4, "number of samples to draw")
	seed := flag.Int64("seed", 1, "random seed")
	flag.Parse()

	runs, err := datasets.FindRuns(*root)
	if err != nil {
		log.Fatalf("failed to discover runs: %v", err)
	}

	cfg := config.Default()
	cfg.Data.Root = *root
	cfg.Data.LeftRuns = splitList(*left)
	cfg.Data.RightRuns = splitList(*right)
	cfg.Data.CenterRuns = nil
	sided := map[string]bool{}
	for _, r := range append(cfg.Data.LeftRuns, cfg.Data.RightRuns...) {
		sided[r] = true
	}
	for _, r := range runs {
		if !sided[r] {
			cfg.Data.CenterRuns = append(cfg.Data.CenterRuns, r)
		}
	}

	dl, err := datasets.LoadDrivingLog(cfg.Data)
	if err != nil {
		log.Fatalf("failed to load driving logs: %v", err)
	}
	fmt.Printf("Loaded %d records from %s\n", dl.Len(), *root)
	for _, rc := range dl.RunCounts() {
		fmt.Printf("  %-12s %-6s %6d\n", rc.Run, rc.Side, rc.Records)
	}

	summary, err := datasets.SummarizeSteering(dl.Steering(), datasets.HistogramBins)
	if err != nil {
		log.Fatalf("failed to summarize steering: %v", err)
	}
	fmt.Printf("Steering: %s\n", summary)
	fmt.Print(summary.TextHistogram(50))

	split, err := datasets.SplitIndices(dl.Len(), cfg.Data.TrainFraction, rand.New(rand.NewSource(*seed)))
	if err != nil {
		log.Fatalf("failed to split: %v", err)
	}
	fmt.Printf("Split: train=%d validation=%d\n", len(split.Train), len(split.Validation))

	genCfg := cfg.Generator
	genCfg.BatchSize = *batch
	gen, err := datasets.NewGenerator("train", dl, split.Train, genCfg, *seed)
	if err != nil {
		log.Fatalf("failed to create generator: %v", err)
	}
	b, err := gen.Next()
	if err != nil {
		log.Fatalf("failed to draw batch: %v", err)
	}
	for _, s := range b.Samples {
		fmt.Printf("  record %6d camera=%-6s mirrored=%-5v angle=%+.4f\n", s.Index, s.Camera, s.Mirrored, s.Angle)
	}

	flat, err := datasets.MakeImageBatchFlat(b.Frames(), b.Angles())
	if err != nil {
		log.Fatalf("failed to flatten batch: %v", err)
	}
	images, labels := flat.ToGomlxTensors()
	fmt.Printf("Created tensors: images=%s labels=%s\n", images.Shape(), labels.Shape())
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
