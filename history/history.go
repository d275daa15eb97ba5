package history

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// schema.sql creates the runs and epochs tables.
//
//go:embed schema.sql
var schemaSQL string

// Store records training runs and their per-epoch losses in sqlite.
type Store struct {
	*sql.DB
}

// Run is one training invocation.
type Run struct {
	ID             string
	StartedAt      time.Time
	FinishedAt     time.Time // zero while running
	ConfigJSON     string
	Records        int
	TrainSize      int
	ValidationSize int
	BestValLoss    float64
	BestEpoch      int
	StoppedEarly   bool
}

// Epoch is one row of a run's learning curve.
type Epoch struct {
	Epoch     int
	TrainLoss float64
	ValLoss   float64
	Improved  bool
	Duration  time.Duration
}

// Open creates (if needed) and opens the history database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply history schema: %w", err)
	}
	log.Printf("opened training history %s", path)
	return &Store{db}, nil
}

// StartRun inserts a new run and returns its id. cfg is stored as JSON.
func (s *Store) StartRun(cfg any, records, trainSize, validationSize int) (string, error) {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to encode run config: %w", err)
	}
	id := uuid.NewString()
	_, err = s.Exec(`
		INSERT INTO runs (id, started_at, config_json, records, train_size, validation_size)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, time.Now().UnixNano(), string(cfgJSON), records, trainSize, validationSize)
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}
	return id, nil
}

// RecordEpoch appends one epoch to a run.
func (s *Store) RecordEpoch(runID string, e Epoch) error {
	_, err := s.Exec(`
		INSERT INTO epochs (run_id, epoch, train_loss, val_loss, improved, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?)
	`, runID, e.Epoch, e.TrainLoss, e.ValLoss, e.Improved, e.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to insert epoch %d of run %s: %w", e.Epoch, runID, err)
	}
	return nil
}

// FinishRun stores the outcome of a run.
func (s *Store) FinishRun(runID string, bestValLoss float64, bestEpoch int, stoppedEarly bool) error {
	res, err := s.Exec(`
		UPDATE runs SET finished_at = ?, best_val_loss = ?, best_epoch = ?, stopped_early = ?
		WHERE id = ?
	`, time.Now().UnixNano(), bestValLoss, bestEpoch, stoppedEarly, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// Epochs returns a run's epochs in order.
func (s *Store) Epochs(runID string) ([]Epoch, error) {
	rows, err := s.Query(`
		SELECT epoch, train_loss, val_loss, improved, duration_ms
		FROM epochs WHERE run_id = ? ORDER BY epoch
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Epoch
	for rows.Next() {
		var e Epoch
		var ms int64
		if err := rows.Scan(&e.Epoch, &e.TrainLoss, &e.ValLoss, &e.Improved, &ms); err != nil {
			return nil, err
		}
		e.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}

// Runs returns all runs, newest first.
func (s *Store) Runs() ([]Run, error) {
	rows, err := s.Query(`
		SELECT id, started_at, finished_at, config_json, records, train_size, validation_size,
		       best_val_loss, best_epoch, stopped_early
		FROM runs ORDER BY started_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var started int64
		var finished, bestEpoch sql.NullInt64
		var bestLoss sql.NullFloat64
		if err := rows.Scan(&r.ID, &started, &finished, &r.ConfigJSON, &r.Records, &r.TrainSize,
			&r.ValidationSize, &bestLoss, &bestEpoch, &r.StoppedEarly); err != nil {
			return nil, err
		}
		r.StartedAt = time.Unix(0, started)
		if finished.Valid {
			r.FinishedAt = time.Unix(0, finished.Int64)
		}
		r.BestValLoss = bestLoss.Float64
		r.BestEpoch = int(bestEpoch.Int64)
		out = append(out, r)
	}
	return out, rows.Err()
}
