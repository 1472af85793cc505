package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Target thresholds for the performance assessment. These are fixed
// constants of the design, not configuration.
const (
	// AccuracyTarget is the required percentage of windows within the
	// 1% error threshold.
	AccuracyTarget = 95.0
	// LatencyTarget is the required percentage of windows within the
	// 5s latency target.
	LatencyTarget = 95.0
)

// ErrNoResults reports that no summary artifact was found at reporting time.
var ErrNoResults = errors.New("no results found")

// Summary is the structured record the comparison analyzer writes.
type Summary struct {
	WindowsCount        int     `json:"windows_count"`
	MeanPctDiff         float64 `json:"mean_pct_diff"`
	MedianPctDiff       float64 `json:"median_pct_diff"`
	MaxPctDiff          float64 `json:"max_pct_diff"`
	WindowsWithinThresh float64 `json:"windows_within_threshold"`
	MeanLatency         float64 `json:"mean_latency"`
	MedianLatency       float64 `json:"median_latency"`
	MaxLatency          float64 `json:"max_latency"`
	LatencyWithinTarget float64 `json:"latency_within_target"`
}

// AccuracyMet reports whether the accuracy target was reached.
func (s *Summary) AccuracyMet() bool { return s.WindowsWithinThresh >= AccuracyTarget }

// LatencyMet reports whether the latency target was reached.
func (s *Summary) LatencyMet() bool { return s.LatencyWithinTarget >= LatencyTarget }

// LoadSummary parses a summary artifact.
func LoadSummary(path string) (*Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading summary %s: %w", path, err)
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing summary %s: %w", path, err)
	}
	return &s, nil
}

// Results holds the discovered artifacts of the latest comparison run.
type Results struct {
	Summary     *Summary
	SummaryPath string

	// Chart artifact paths; empty when not found.
	PctDiffChart     string
	TopHashtagsChart string
	LatencyChart     string
}

// Collect discovers the latest artifacts under dir. A missing summary is
// an explicit failure (ErrNoResults); missing charts are not.
func Collect(dir string) (*Results, error) {
	summaryPath := Latest(dir, SummaryPrefix)
	if summaryPath == "" {
		return nil, fmt.Errorf("%w in %s: make sure the comparison analysis ran successfully", ErrNoResults, dir)
	}

	summary, err := LoadSummary(summaryPath)
	if err != nil {
		return nil, err
	}

	return &Results{
		Summary:          summary,
		SummaryPath:      summaryPath,
		PctDiffChart:     Latest(dir, PctDiffPrefix),
		TopHashtagsChart: Latest(dir, TopHashtagsPrefix),
		LatencyChart:     Latest(dir, LatencyPrefix),
	}, nil
}

// Render formats the fixed results block.
func Render(r *Results) string {
	s := r.Summary
	var b []byte
	w := func(format string, args ...any) {
		b = fmt.Appendf(b, format, args...)
	}

	rule := strings.Repeat("=", 60)

	w("%s\n", rule)
	w("REAL-TIME VS BATCH ANALYTICS - RESULTS SUMMARY\n")
	w("%s\n", rule)
	w("Total Windows Analyzed: %d\n", s.WindowsCount)
	w("\n")
	w("ACCURACY METRICS:\n")
	w("Mean Percent Difference: %.2f%%\n", s.MeanPctDiff)
	w("Median Percent Difference: %.2f%%\n", s.MedianPctDiff)
	w("Maximum Percent Difference: %.2f%%\n", s.MaxPctDiff)
	w("Windows within 1%% Error Threshold: %.2f%%\n", s.WindowsWithinThresh)
	w("\n")
	w("LATENCY METRICS:\n")
	w("Mean Latency: %.2fs\n", s.MeanLatency)
	w("Median Latency: %.2fs\n", s.MedianLatency)
	w("Maximum Latency: %.2fs\n", s.MaxLatency)
	w("Windows within 5s Latency Target: %.2f%%\n", s.LatencyWithinTarget)
	w("\n")
	w("PERFORMANCE ASSESSMENT:\n")
	w("Accuracy Target Met: %s\n", yesNo(s.AccuracyMet()))
	w("Latency Target Met: %s\n", yesNo(s.LatencyMet()))
	w("%s\n", rule)

	if r.PctDiffChart != "" {
		w("Percent Difference Chart: %s\n", r.PctDiffChart)
	}
	if r.TopHashtagsChart != "" {
		w("Top Hashtags Comparison Chart: %s\n", r.TopHashtagsChart)
	}
	if r.LatencyChart != "" {
		w("Latency Distribution Chart: %s\n", r.LatencyChart)
	}

	return string(b)
}

func yesNo(ok bool) string {
	if ok {
		return "YES"
	}
	return "NO"
}
