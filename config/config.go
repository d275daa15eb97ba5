package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// defaultConfigJSON holds the values the project was tuned with. Load and
// Default both start from it, so a partial JSON file only overrides the
// fields it names.
//
//go:embed defaults.json
var defaultConfigJSON []byte

// Config is the single configuration structure handed to the loader, the
// generators and the trainer.
type Config struct {
	Data      DataConfig      `json:"data"`
	Generator GeneratorConfig `json:"generator"`
	Training  TrainingConfig  `json:"training"`

	// HistoryPath is the sqlite file where run metrics are recorded. Empty
	// disables the history.
	HistoryPath string `json:"history_path"`
}

// DataConfig describes where the driving logs live and how recordings made
// off the track center are corrected.
type DataConfig struct {
	// Root is the directory holding one sub-directory per recorded run.
	Root string `json:"root"`

	// Runs recorded while driving in the middle of the road, on the left
	// side and on the right side of the track.
	CenterRuns []string `json:"center_runs"`
	LeftRuns   []string `json:"left_runs"`
	RightRuns  []string `json:"right_runs"`

	// SideDrivingAdjustment is added to left-side runs and subtracted from
	// right-side runs.
	SideDrivingAdjustment float64 `json:"side_driving_adjustment"`

	// TrainFraction of the shuffled indices used for training; the rest is
	// validation.
	TrainFraction float64 `json:"train_fraction"`

	// Seed for the split and the generators. Zero picks a time based seed.
	Seed int64 `json:"seed"`
}

// GeneratorConfig controls batch sampling and augmentation.
type GeneratorConfig struct {
	BatchSize int `json:"batch_size"`

	// SideCameraAdjustment is added to the angle when the left camera is
	// chosen and subtracted for the right camera.
	SideCameraAdjustment float64 `json:"side_camera_adjustment"`

	MirrorProbability float64 `json:"mirror_probability"`
}

// TrainingConfig controls the fit loop and its callbacks.
type TrainingConfig struct {
	LearningRate    float64 `json:"learning_rate"`
	Epochs          int     `json:"epochs"`
	StepsPerEpoch   int     `json:"steps_per_epoch"`
	ValidationSteps int     `json:"validation_steps"`

	// MinDelta and Patience drive early stopping on the validation loss.
	MinDelta float64 `json:"min_delta"`
	Patience int     `json:"patience"`

	// CheckpointDir receives the model with the lowest validation loss.
	CheckpointDir string `json:"checkpoint_dir"`
}

// Default returns the embedded defaults.
func Default() *Config {
	cfg := &Config{}
	if err := json.Unmarshal(defaultConfigJSON, cfg); err != nil {
		panic(fmt.Sprintf("embedded defaults.json is invalid: %v", err))
	}
	return cfg
}

// DefaultJSON returns the embedded defaults document, used by the CLI to
// write a starter config file.
func DefaultJSON() []byte {
	out := make([]byte, len(defaultConfigJSON))
	copy(out, defaultConfigJSON)
	return out
}

// Load reads a JSON config file on top of the defaults.
// The file must have a .json extension and be smaller than 1MB.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges; it does not touch the filesystem.
func (c *Config) Validate() error {
	d := c.Data
	if d.Root == "" {
		return fmt.Errorf("data.root must be set")
	}
	if len(d.CenterRuns)+len(d.LeftRuns)+len(d.RightRuns) == 0 {
		return fmt.Errorf("at least one run must be listed")
	}
	if d.TrainFraction <= 0 || d.TrainFraction >= 1 {
		return fmt.Errorf("data.train_fraction must be in (0, 1), got %v", d.TrainFraction)
	}
	if d.SideDrivingAdjustment < 0 {
		return fmt.Errorf("data.side_driving_adjustment must be >= 0, got %v", d.SideDrivingAdjustment)
	}

	g := c.Generator
	if g.BatchSize <= 0 {
		return fmt.Errorf("generator.batch_size must be > 0, got %d", g.BatchSize)
	}
	if g.SideCameraAdjustment < 0 {
		return fmt.Errorf("generator.side_camera_adjustment must be >= 0, got %v", g.SideCameraAdjustment)
	}
	if g.MirrorProbability < 0 || g.MirrorProbability > 1 {
		return fmt.Errorf("generator.mirror_probability must be in [0, 1], got %v", g.MirrorProbability)
	}

	t := c.Training
	if t.LearningRate <= 0 {
		return fmt.Errorf("training.learning_rate must be > 0, got %v", t.LearningRate)
	}
	if t.Epochs <= 0 || t.StepsPerEpoch <= 0 || t.ValidationSteps <= 0 {
		return fmt.Errorf("training epochs/steps_per_epoch/validation_steps must be > 0")
	}
	if t.MinDelta < 0 {
		return fmt.Errorf("training.min_delta must be >= 0, got %v", t.MinDelta)
	}
	if t.Patience < 0 {
		return fmt.Errorf("training.patience must be >= 0, got %d", t.Patience)
	}
	if t.CheckpointDir == "" {
		return fmt.Errorf("training.checkpoint_dir must be set")
	}
	return nil
}
