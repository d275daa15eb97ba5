package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/Noofbiz/behavioralCloning/datasets"
	"github.com/Noofbiz/behavioralCloning/steering"
)

func main() {
	checkpoint := flag.String("checkpoint", "output/checkpoint", "checkpoint directory written by cmd/train")
	batch := flag.Int("batch", 32, "images per inference call")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] image...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	paths := flag.Args()
	if len(paths) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if *batch <= 0 {
		log.Fatalf("batch must be > 0, got %d", *batch)
	}

	backend, err := steering.NewBackend()
	if err != nil {
		log.Fatalf("failed to create gomlx backend: %v", err)
	}
	predictor, err := steering.NewPredictor(backend, *checkpoint)
	if err != nil {
		log.Fatalf("failed to load model: %v", err)
	}

	for start := 0; start < len(paths); start += *batch {
		end := min(start+*batch, len(paths))
		frames := make([]*datasets.Frame, 0, end-start)
		for _, p := range paths[start:end] {
			f, err := datasets.ReadFrame(p)
			if err != nil {
				log.Fatalf("%v", err)
			}
			frames = append(frames, f)
		}
		angles, err := predictor.Predict(frames)
		if err != nil {
			log.Fatalf("prediction failed: %v", err)
		}
		for i, a := range angles {
			fmt.Printf("%s\t%.5f\n", paths[start+i], a)
		}
	}
}
