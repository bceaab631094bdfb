// Package profiler tracks operation timings and custom metrics and periodically reports them
// through a structured logger.
package profiler

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Default profiling options.
const (
	DefaultReportInterval = time.Minute
	DefaultMaxSamples     = 600
)

// Options configures the profiler.
type Options struct {
	// ReportInterval specifies how often to emit status reports (default: 1m)
	ReportInterval time.Duration
	// MaxSamples specifies maximum number of samples to keep per tracker (default: 600)
	MaxSamples int
}

// OperationStats summarizes the retained samples of one operation.
type OperationStats struct {
	Name  string
	Count int64
	Avg   time.Duration
	Min   time.Duration
	Max   time.Duration
}

// MetricStats summarizes the retained samples of one custom metric.
type MetricStats struct {
	Name    string
	Samples int
	Avg     float64
	Min     float64
	Max     float64
}

// metricTracker tracks statistics for a custom metric.
type metricTracker struct {
	values []float64
	sum    float64
	min    float64
	max    float64
}

// timeTracker tracks operation timing statistics.
type timeTracker struct {
	durations []time.Duration
	totalTime time.Duration
	minTime   time.Duration
	maxTime   time.Duration
	count     int64
}

// Profiler records operation timings and custom metrics.
//
// It is safe for concurrent use. Reports go to the logger at debug level, one entry per
// operation and metric.
type Profiler struct {
	logger         *zap.Logger
	reportInterval time.Duration
	maxSamples     int

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	startTime time.Time
	running   bool

	metrics    map[string]*metricTracker
	operations map[string]*timeTracker
	lastGC     uint32
}

// New creates a profiler that reports to logger.
//
// Arguments:
//   - logger: The logger receiving reports. nil discards them.
//   - opts: Configuration options for the profiler.
//
// Returns:
//   - *Profiler: A configured profiler, not yet reporting.
func New(logger *zap.Logger, opts Options) *Profiler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ReportInterval <= 0 {
		opts.ReportInterval = DefaultReportInterval
	}
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = DefaultMaxSamples
	}
	return &Profiler{
		logger:         logger,
		reportInterval: opts.ReportInterval,
		maxSamples:     opts.MaxSamples,
		startTime:      time.Now(),
		metrics:        make(map[string]*metricTracker),
		operations:     make(map[string]*timeTracker),
	}
}

// Start begins periodic reporting. Calling it on a running profiler does nothing.
func (p *Profiler) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.running = true

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(p.reportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Report()
			}
		}
	}()
}

// Stop ends periodic reporting and waits for the reporter to exit.
func (p *Profiler) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
}

// StartOperation begins timing an operation.
//
// Arguments:
//   - name: The name of the operation to track
//
// Returns:
//   - func(): A function to call when the operation completes
//
// @example
// done := p.StartOperation("inference")
// defer done()
func (p *Profiler) StartOperation(name string) func() {
	start := time.Now()
	return func() {
		p.RecordOperation(name, time.Since(start))
	}
}

// RecordOperation records the completion time of an operation.
func (p *Profiler) RecordOperation(name string, duration time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tracker, exists := p.operations[name]
	if !exists {
		tracker = &timeTracker{minTime: duration, maxTime: duration}
		p.operations[name] = tracker
	}

	tracker.durations = append(tracker.durations, duration)
	tracker.totalTime += duration
	if len(tracker.durations) > p.maxSamples {
		tracker.totalTime -= tracker.durations[0]
		tracker.durations = tracker.durations[1:]
	}
	tracker.count++

	tracker.minTime = min(tracker.minTime, duration)
	tracker.maxTime = max(tracker.maxTime, duration)
}

// RecordMetric records a custom metric value.
func (p *Profiler) RecordMetric(name string, value float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tracker, exists := p.metrics[name]
	if !exists {
		tracker = &metricTracker{min: value, max: value}
		p.metrics[name] = tracker
	}

	tracker.values = append(tracker.values, value)
	tracker.sum += value
	if len(tracker.values) > p.maxSamples {
		tracker.sum -= tracker.values[0]
		tracker.values = tracker.values[1:]
	}

	tracker.min = min(tracker.min, value)
	tracker.max = max(tracker.max, value)
}

// Operation returns the statistics of one operation.
func (p *Profiler) Operation(name string) (OperationStats, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tracker, ok := p.operations[name]
	if !ok {
		return OperationStats{}, false
	}
	return tracker.stats(name), true
}

// Operations returns the statistics of every operation, sorted by name.
func (p *Profiler) Operations() []OperationStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := make([]OperationStats, 0, len(p.operations))
	for name, tracker := range p.operations {
		stats = append(stats, tracker.stats(name))
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// Metrics returns the statistics of every custom metric, sorted by name.
func (p *Profiler) Metrics() []MetricStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := make([]MetricStats, 0, len(p.metrics))
	for name, tracker := range p.metrics {
		stats = append(stats, MetricStats{
			Name:    name,
			Samples: len(tracker.values),
			Avg:     tracker.sum / float64(len(tracker.values)),
			Min:     tracker.min,
			Max:     tracker.max,
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

func (t *timeTracker) stats(name string) OperationStats {
	return OperationStats{
		Name:  name,
		Count: t.count,
		Avg:   t.totalTime / time.Duration(len(t.durations)),
		Min:   t.minTime,
		Max:   t.maxTime,
	}
}

// Report logs the runtime state, then one entry per operation and per metric.
func (p *Profiler) Report() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	p.mu.Lock()
	newGC := mem.NumGC - p.lastGC
	p.lastGC = mem.NumGC
	uptime := time.Since(p.startTime)
	p.mu.Unlock()

	p.logger.Debug("runtime",
		zap.Duration("uptime", uptime.Truncate(time.Millisecond)),
		zap.Int("goroutines", runtime.NumGoroutine()),
		zap.Uint64("heap_alloc", mem.HeapAlloc),
		zap.Uint64("sys", mem.Sys),
		zap.Uint32("gc_cycles", newGC),
	)

	for _, op := range p.Operations() {
		p.logger.Debug("operation timing",
			zap.String("operation", op.Name),
			zap.Int64("count", op.Count),
			zap.Duration("avg", op.Avg.Truncate(time.Microsecond)),
			zap.Duration("min", op.Min.Truncate(time.Microsecond)),
			zap.Duration("max", op.Max.Truncate(time.Microsecond)),
		)
	}
	for _, m := range p.Metrics() {
		p.logger.Debug("metric",
			zap.String("metric", m.Name),
			zap.Int("samples", m.Samples),
			zap.Float64("avg", m.Avg),
			zap.Float64("min", m.Min),
			zap.Float64("max", m.Max),
		)
	}
}
