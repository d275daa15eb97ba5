package datasets

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// LogFileName is the CSV written by the simulator in every run directory.
const LogFileName = "driving_log.csv"

// ImageDirName is the directory next to the log holding the camera frames.
const ImageDirName = "IMG"

func parseFloat32(s string) (float32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty string")
	}
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, err
	}
	return float32(v), nil
}

// imageBaseName returns the file name of a logged image path. Logs recorded
// on Windows use backslashes, so both separators are honored.
func imageBaseName(p string) string {
	p = strings.TrimSpace(p)
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		return p[i+1:]
	}
	return p
}

// localImagePath maps a logged image path into <root>/<run>/IMG/<file>.
func localImagePath(runDir, logged string) string {
	return filepath.Join(runDir, ImageDirName, imageBaseName(logged))
}

// FindRuns lists the sub-directories of root that contain a driving log,
// sorted by name.
func FindRuns(root string) ([]string, error) {
	pattern := filepath.Join(root, "*", LogFileName)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no %s files found in %s", LogFileName, root)
	}
	runs := make([]string, 0, len(matches))
	for _, m := range matches {
		runs = append(runs, filepath.Base(filepath.Dir(m)))
	}
	sort.Strings(runs)
	return runs, nil
}
