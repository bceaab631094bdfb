// Package benchmark measures grounded detection throughput across input resolutions and queries.
package benchmark

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/nfnt/resize"
	"go.viam.com/rdk/logging"

	"github.com/mcvella/grounding-dino/images"
	"github.com/mcvella/grounding-dino/inference"
)

// Resolution represents image dimensions for benchmarking.
type Resolution struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Name   string `json:"name"`
}

// CommonResolutions are camera frame sizes worth comparing.
var CommonResolutions = []Resolution{
	{Width: 640, Height: 480, Name: "640x480"},
	{Width: 1280, Height: 720, Name: "1280x720"},
	{Width: 1920, Height: 1080, Name: "1920x1080"},
}

// Scenario defines a specific test configuration.
type Scenario struct {
	Name       string     `json:"name"`
	Query      string     `json:"query"`
	Resolution Resolution `json:"resolution"`
	Iterations int        `json:"iterations"`
	WarmupRuns int        `json:"warmup_runs"`
}

// Metrics captures the performance of one scenario.
type Metrics struct {
	Scenario        Scenario      `json:"scenario"`
	Timestamp       time.Time     `json:"timestamp"`
	TotalDuration   time.Duration `json:"total_duration"`
	MeanLatency     time.Duration `json:"mean_latency"`
	P50Latency      time.Duration `json:"p50_latency"`
	P95Latency      time.Duration `json:"p95_latency"`
	FramesPerSecond float64       `json:"frames_per_second"`
	DetectionCount  int           `json:"detection_count"`
	ErrorRate       float64       `json:"error_rate"`
	Memory          MemoryMetrics `json:"memory"`
}

// MemoryMetrics captures memory usage statistics.
type MemoryMetrics struct {
	AllocBytes      uint64 `json:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	SysBytes        uint64 `json:"sys_bytes"`
	NumGC           uint32 `json:"num_gc"`
}

// Suite runs scenarios against one engine.
type Suite struct {
	engine    inference.Engine
	outputDir string
	logger    logging.Logger

	mu        sync.RWMutex
	scenarios []Scenario
	frames    []image.Image
	results   []Metrics
}

// NewSuiteArgs are the arguments for NewSuite.
type NewSuiteArgs struct {
	Engine    inference.Engine
	OutputDir string
	Logger    logging.Logger
}

// NewSuite creates a new benchmark suite.
//
// Arguments:
//   - args: The engine under test, where results go and the logger for progress.
//
// Returns:
//   - *Suite: The benchmark suite.
func NewSuite(args NewSuiteArgs) *Suite {
	return &Suite{
		engine:    args.Engine,
		outputDir: args.OutputDir,
		logger:    args.Logger,
	}
}

// AddScenario adds a test scenario to the suite.
func (s *Suite) AddScenario(scenario Scenario) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenarios = append(s.scenarios, scenario)
}

// LoadFrames decodes test images from a directory or a single file. Files that fail to decode
// are skipped.
func (s *Suite) LoadFrames(path string) error {
	files, err := images.LoadImageFiles(path)
	if err != nil {
		return fmt.Errorf("failed to load test images: %w", err)
	}

	frames := make([]image.Image, 0, len(files))
	for _, f := range files {
		img, _, err := images.Decode(f.Data)
		if err != nil {
			s.logger.Debugw("skipping image", "path", f.Path, "error", err)
			continue
		}
		frames = append(frames, img)
	}
	if len(frames) == 0 {
		return fmt.Errorf("no valid images found in %s", path)
	}

	s.mu.Lock()
	s.frames = frames
	s.mu.Unlock()
	return nil
}

// SetFrames replaces the test images.
func (s *Suite) SetFrames(frames ...image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = frames
}

// RunScenario executes a single scenario. Frames are resized to the scenario resolution once,
// before timing starts.
func (s *Suite) RunScenario(ctx context.Context, scenario Scenario) (*Metrics, error) {
	s.mu.RLock()
	source := s.frames
	s.mu.RUnlock()
	if len(source) == 0 {
		return nil, fmt.Errorf("scenario %s: no test images loaded", scenario.Name)
	}
	if scenario.Iterations <= 0 {
		return nil, fmt.Errorf("scenario %s: iterations must be positive", scenario.Name)
	}

	frames := make([]image.Image, len(source))
	for i, img := range source {
		frames[i] = fitTo(img, scenario.Resolution)
	}

	for i := 0; i < scenario.WarmupRuns; i++ {
		if _, err := s.engine.Predict(ctx, frames[i%len(frames)], scenario.Query); err != nil {
			s.logger.Debugw("warmup failed", "scenario", scenario.Name, "error", err)
		}
	}

	var startMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&startMem)

	metrics := &Metrics{Scenario: scenario, Timestamp: time.Now()}
	latencies := make([]time.Duration, 0, scenario.Iterations)
	errCount := 0

	start := time.Now()
	for i := 0; i < scenario.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		began := time.Now()
		results, err := s.engine.Predict(ctx, frames[i%len(frames)], scenario.Query)
		latencies = append(latencies, time.Since(began))
		if err != nil {
			errCount++
			continue
		}
		for _, r := range results {
			metrics.DetectionCount += r.Len()
		}
	}
	metrics.TotalDuration = time.Since(start)

	var endMem runtime.MemStats
	runtime.ReadMemStats(&endMem)

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	metrics.MeanLatency = metrics.TotalDuration / time.Duration(scenario.Iterations)
	metrics.P50Latency = percentile(latencies, 0.50)
	metrics.P95Latency = percentile(latencies, 0.95)
	if secs := metrics.TotalDuration.Seconds(); secs > 0 {
		metrics.FramesPerSecond = float64(scenario.Iterations) / secs
	}
	metrics.ErrorRate = float64(errCount) / float64(scenario.Iterations)
	metrics.Memory = MemoryMetrics{
		AllocBytes:      endMem.Alloc,
		TotalAllocBytes: endMem.TotalAlloc - startMem.TotalAlloc,
		SysBytes:        endMem.Sys,
		NumGC:           endMem.NumGC - startMem.NumGC,
	}
	return metrics, nil
}

// RunAll executes every scenario in order and keeps the results. A failed scenario is logged and
// skipped; cancellation stops the run.
func (s *Suite) RunAll(ctx context.Context) error {
	s.mu.RLock()
	scenarios := append([]Scenario(nil), s.scenarios...)
	s.mu.RUnlock()

	for _, scenario := range scenarios {
		metrics, err := s.RunScenario(ctx, scenario)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warnw("scenario failed", "scenario", scenario.Name, "error", err)
			continue
		}

		s.mu.Lock()
		s.results = append(s.results, *metrics)
		s.mu.Unlock()

		s.logger.Infow("scenario completed",
			"scenario", scenario.Name,
			"fps", metrics.FramesPerSecond,
			"p95", metrics.P95Latency,
			"detections", metrics.DetectionCount)
	}
	return nil
}

// Results returns all results so far.
func (s *Suite) Results() []Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Metrics(nil), s.results...)
}

// SaveResults writes the results as a detailed JSON file and a CSV summary, named by timestamp.
//
// Returns:
//   - string: The JSON file path.
//   - error: An error if either file cannot be written.
func (s *Suite) SaveResults() (string, error) {
	results := s.Results()

	if err := os.MkdirAll(s.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	resultsFile := filepath.Join(s.outputDir, fmt.Sprintf("benchmark_results_%s.json", timestamp))
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal results: %w", err)
	}
	if err := os.WriteFile(resultsFile, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write results file: %w", err)
	}

	summaryFile := filepath.Join(s.outputDir, fmt.Sprintf("benchmark_summary_%s.csv", timestamp))
	if err := saveSummaryCSV(summaryFile, results); err != nil {
		return "", fmt.Errorf("failed to save summary CSV: %w", err)
	}
	return resultsFile, nil
}

func saveSummaryCSV(filename string, results []Metrics) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write([]string{
		"scenario", "query", "resolution", "fps", "mean_ms", "p50_ms", "p95_ms", "detections", "error_rate",
	}); err != nil {
		return err
	}
	for _, r := range results {
		if err := w.Write([]string{
			r.Scenario.Name,
			r.Scenario.Query,
			r.Scenario.Resolution.Name,
			strconv.FormatFloat(r.FramesPerSecond, 'f', 2, 64),
			millis(r.MeanLatency),
			millis(r.P50Latency),
			millis(r.P95Latency),
			strconv.Itoa(r.DetectionCount),
			strconv.FormatFloat(r.ErrorRate, 'f', 4, 64),
		}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func millis(d time.Duration) string {
	return strconv.FormatFloat(float64(d.Nanoseconds())/1e6, 'f', 2, 64)
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p*float64(len(sorted)) + 0.5)
	if idx > 0 {
		idx--
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// fitTo resizes img to the resolution; a zero resolution keeps the image as-is.
func fitTo(img image.Image, r Resolution) image.Image {
	if r.Width <= 0 || r.Height <= 0 {
		return img
	}
	if b := img.Bounds(); b.Dx() == r.Width && b.Dy() == r.Height {
		return img
	}
	return resize.Resize(uint(r.Width), uint(r.Height), img, resize.Bilinear)
}
