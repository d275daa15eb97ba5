package datasets

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Noofbiz/behavioralCloning/config"
)

// Side is the physical side of the track a run was recorded on.
type Side int

const (
	SideCenter Side = iota
	SideLeft
	SideRight
)

func (s Side) String() string {
	switch s {
	case SideCenter:
		return "center"
	case SideLeft:
		return "left"
	case SideRight:
		return "right"
	}
	return fmt.Sprintf("Side(%d)", int(s))
}

// Bias returns the steering correction for runs recorded on this side:
// +adjustment on the left side, -adjustment on the right side.
func (s Side) Bias(adjustment float32) float32 {
	switch s {
	case SideLeft:
		return adjustment
	case SideRight:
		return -adjustment
	}
	return 0
}

// Column positions in driving_log.csv.
const (
	colCenter = iota
	colLeft
	colRight
	colSteering
	colThrottle
	colBrake
	colSpeed
	numColumns
)

// DrivingRecord is one logged frame. Image paths point into the local
// layout, Steering already includes the side bias.
type DrivingRecord struct {
	Center string
	Left   string
	Right  string

	Steering float32
	Throttle float32
	Brake    float32
	Speed    float32

	Run  string
	Side Side
}

// Image returns the path of the given camera's frame.
func (r DrivingRecord) Image(c Camera) string {
	switch c {
	case LeftCamera:
		return r.Left
	case RightCamera:
		return r.Right
	}
	return r.Center
}

// DrivingLog is the merged table of all runs.
type DrivingLog struct {
	// Root the run directories were resolved against.
	Root string

	records []DrivingRecord

	// runSpans[i] is the [start, end) index range of the i-th loaded run.
	runSpans []runSpan
}

type runSpan struct {
	Run        string
	Side       Side
	Start, End int
}

// LoadDrivingLog loads every run listed in cfg, rewrites image paths and
// applies the side bias. Runs are concatenated center, left, right in the
// order they are listed, so indices are contiguous.
func LoadDrivingLog(cfg config.DataConfig) (*DrivingLog, error) {
	groups := []struct {
		side Side
		runs []string
	}{
		{SideCenter, cfg.CenterRuns},
		{SideLeft, cfg.LeftRuns},
		{SideRight, cfg.RightRuns},
	}

	dl := &DrivingLog{Root: cfg.Root}
	adjustment := float32(cfg.SideDrivingAdjustment)
	for _, g := range groups {
		for _, run := range g.runs {
			records, err := LoadRun(cfg.Root, run, g.side, adjustment)
			if err != nil {
				return nil, err
			}
			dl.append(run, g.side, records)
		}
	}
	if len(dl.records) == 0 {
		return nil, fmt.Errorf("no driving records found under %s", cfg.Root)
	}
	return dl, nil
}

func (d *DrivingLog) append(run string, side Side, records []DrivingRecord) {
	start := len(d.records)
	d.records = append(d.records, records...)
	d.runSpans = append(d.runSpans, runSpan{Run: run, Side: side, Start: start, End: len(d.records)})
}

// LoadRun reads <root>/<run>/driving_log.csv. A first row whose steering
// field is not a number is treated as a header.
func LoadRun(root, run string, side Side, adjustment float32) ([]DrivingRecord, error) {
	runDir := filepath.Join(root, run)
	path := filepath.Join(runDir, LogFileName)
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open driving log: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	bias := side.Bias(adjustment)
	var records []DrivingRecord
	for line := 1; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if len(row) < numColumns {
			return nil, fmt.Errorf("%s:%d: expected %d columns, got %d", path, line, numColumns, len(row))
		}
		if line == 1 && isHeader(row) {
			continue
		}

		rec, err := parseRecord(row)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		rec.Center = localImagePath(runDir, rec.Center)
		rec.Left = localImagePath(runDir, rec.Left)
		rec.Right = localImagePath(runDir, rec.Right)
		rec.Steering += bias
		rec.Run = run
		rec.Side = side
		records = append(records, rec)
	}
	return records, nil
}

func isHeader(row []string) bool {
	_, err := parseFloat32(row[colSteering])
	return err != nil
}

func parseRecord(row []string) (DrivingRecord, error) {
	rec := DrivingRecord{
		Center: strings.TrimSpace(row[colCenter]),
		Left:   strings.TrimSpace(row[colLeft]),
		Right:  strings.TrimSpace(row[colRight]),
	}
	fields := []struct {
		name string
		col  int
		dst  *float32
	}{
		{"steering", colSteering, &rec.Steering},
		{"throttle", colThrottle, &rec.Throttle},
		{"brake", colBrake, &rec.Brake},
		{"speed", colSpeed, &rec.Speed},
	}
	for _, f := range fields {
		v, err := parseFloat32(row[f.col])
		if err != nil {
			return DrivingRecord{}, fmt.Errorf("failed to parse %s: %w", f.name, err)
		}
		*f.dst = v
	}
	return rec, nil
}

// Len returns the number of records across all runs.
func (d *DrivingLog) Len() int {
	return len(d.records)
}

// Record returns the record at a global index.
func (d *DrivingLog) Record(i int) (DrivingRecord, error) {
	if i < 0 || i >= len(d.records) {
		return DrivingRecord{}, fmt.Errorf("index %d out of range [0, %d)", i, len(d.records))
	}
	return d.records[i], nil
}

// Steering returns the (biased) steering column.
func (d *DrivingLog) Steering() []float64 {
	out := make([]float64, len(d.records))
	for i, r := range d.records {
		out[i] = float64(r.Steering)
	}
	return out
}

// RunCounts reports how many records each loaded run contributed, in load
// order.
func (d *DrivingLog) RunCounts() []RunCount {
	out := make([]RunCount, len(d.runSpans))
	for i, s := range d.runSpans {
		out[i] = RunCount{Run: s.Run, Side: s.Side, Records: s.End - s.Start}
	}
	return out
}

// RunCount is one line of DrivingLog.RunCounts.
type RunCount struct {
	Run     string
	Side    Side
	Records int
}

// CheckImages stats every referenced image and reports all missing files.
func (d *DrivingLog) CheckImages() error {
	var errs []error
	for i, r := range d.records {
		for _, p := range []string{r.Center, r.Left, r.Right} {
			if _, err := os.Stat(p); err != nil {
				errs = append(errs, fmt.Errorf("record %d: %w", i, err))
			}
		}
	}
	return errors.Join(errs...)
}
