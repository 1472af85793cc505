// Package report locates and renders the comparison analyzer's output
// artifacts, and persists pipeline run records for later inspection.
package report

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Artifact name prefixes written by the comparison analyzer.
const (
	SummaryPrefix     = "summary_"
	PctDiffPrefix     = "percent_diff_dist_"
	TopHashtagsPrefix = "top_hashtags_comparison_"
	LatencyPrefix     = "latency_dist_"
)

// Latest returns the path of the most recently modified file in dir whose
// name contains pattern. Ties on modification time break toward the
// lexicographically greatest name, which for timestamp-suffixed artifact
// names is also the newest. Returns "" when nothing matches.
func Latest(dir, pattern string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}

	var (
		bestName string
		bestTime time.Time
	)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.Contains(name, pattern) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		mod := info.ModTime()
		switch {
		case bestName == "",
			mod.After(bestTime),
			mod.Equal(bestTime) && name > bestName:
			bestName = name
			bestTime = mod
		}
	}

	if bestName == "" {
		return ""
	}
	return filepath.Join(dir, bestName)
}
