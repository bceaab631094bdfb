package profiler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRecordOperation(t *testing.T) {
	p := New(nil, Options{MaxSamples: 2})

	p.RecordOperation("inference", 30*time.Millisecond)
	p.RecordOperation("inference", 10*time.Millisecond)
	p.RecordOperation("inference", 20*time.Millisecond)

	stats, ok := p.Operation("inference")
	require.True(t, ok)
	assert.Equal(t, int64(3), stats.Count)
	assert.Equal(t, 15*time.Millisecond, stats.Avg)
	assert.Equal(t, 10*time.Millisecond, stats.Min)
	assert.Equal(t, 30*time.Millisecond, stats.Max)

	_, ok = p.Operation("missing")
	assert.False(t, ok)
}

func TestStartOperation(t *testing.T) {
	p := New(nil, Options{})
	done := p.StartOperation("preprocess")
	time.Sleep(time.Millisecond)
	done()

	stats, ok := p.Operation("preprocess")
	require.True(t, ok)
	assert.Equal(t, int64(1), stats.Count)
	assert.GreaterOrEqual(t, stats.Min, time.Millisecond)
}

func TestRecordMetric(t *testing.T) {
	p := New(nil, Options{})
	p.RecordMetric("detections", 2)
	p.RecordMetric("detections", 4)
	p.RecordMetric("alpha", 1)

	metrics := p.Metrics()
	require.Len(t, metrics, 2)
	assert.Equal(t, "alpha", metrics[0].Name)
	assert.Equal(t, MetricStats{Name: "detections", Samples: 2, Avg: 3, Min: 2, Max: 4}, metrics[1])
}

func TestReport(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	p := New(zap.New(core), Options{})

	p.RecordOperation("postprocess", 2*time.Millisecond)
	p.RecordOperation("inference", 40*time.Millisecond)
	p.RecordMetric("detections", 3)
	p.Report()

	entries := logs.All()
	require.Len(t, entries, 4)
	assert.Equal(t, "runtime", entries[0].Message)

	assert.Equal(t, "operation timing", entries[1].Message)
	fields := entries[1].ContextMap()
	assert.Equal(t, "inference", fields["operation"])
	assert.Equal(t, int64(1), fields["count"])
	assert.Equal(t, 40*time.Millisecond, fields["avg"])

	assert.Equal(t, "postprocess", entries[2].ContextMap()["operation"])
	assert.Equal(t, "metric", entries[3].Message)
	assert.Equal(t, "detections", entries[3].ContextMap()["metric"])
}

func TestStartStop(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	p := New(zap.New(core), Options{ReportInterval: 5 * time.Millisecond})

	p.Start()
	p.Start()
	assert.Eventually(t, func() bool {
		return logs.FilterMessage("runtime").Len() > 0
	}, time.Second, 5*time.Millisecond)
	p.Stop()
	p.Stop()

	seen := logs.Len()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, seen, logs.Len())
}
