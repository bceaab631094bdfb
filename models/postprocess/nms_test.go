package postprocess

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcvella/grounding-dino/images"
)

func box(x1, y1, x2, y2 float32) images.Rect {
	return images.Rect{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

func labels(results []Result) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Label)
	}
	return out
}

func TestApplyNMSDisabled(t *testing.T) {
	dets := []Result{
		{Box: box(0, 0, 10, 10), Score: 0.9, Label: "a"},
		{Box: box(0, 0, 10, 10), Score: 0.8, Label: "b"},
	}
	assert.Equal(t, dets, ApplyNMS(dets, nil))
	assert.Equal(t, dets, ApplyNMS(dets, &NMSConfig{}))
}

func TestApplyNMSKeepsInputOrder(t *testing.T) {
	dets := []Result{
		{Box: box(0, 0, 100, 100), Score: 0.5, Label: "low"},
		{Box: box(200, 200, 300, 300), Score: 0.7, Label: "far"},
		{Box: box(5, 5, 100, 100), Score: 0.9, Label: "high"},
	}

	for _, workers := range []int{1, 4} {
		got := ApplyNMS(dets, &NMSConfig{IoUThreshold: 0.5, NumWorkers: workers})
		assert.Equal(t, []string{"far", "high"}, labels(got), "workers=%d", workers)
	}
}

func TestApplyNMSClassAware(t *testing.T) {
	dets := []Result{
		{Box: box(0, 0, 100, 100), Score: 0.9, Label: "cat"},
		{Box: box(0, 0, 100, 100), Score: 0.8, Label: "dog"},
		{Box: box(1, 1, 100, 100), Score: 0.7, Label: "cat"},
	}

	got := ApplyNMS(dets, &NMSConfig{IoUThreshold: 0.5, ClassAware: true})
	assert.Equal(t, []string{"cat", "dog"}, labels(got))

	got = ApplyGreedyNMS(dets, &NMSConfig{IoUThreshold: 0.5, NumWorkers: 8})
	assert.Equal(t, []string{"cat"}, labels(got))
}

func TestApplyNMSParallelMatchesGreedy(t *testing.T) {
	var dets []Result
	for i := 0; i < 40; i++ {
		off := float32(i * 7)
		dets = append(dets, Result{
			Box:   box(off, off, off+50, off+50),
			Score: float32(40-i) / 40,
			Label: "x",
		})
	}
	cfg := &NMSConfig{IoUThreshold: 0.3}
	greedy := ApplyGreedyNMS(dets, cfg)
	parallel := ApplyNMS(dets, &NMSConfig{IoUThreshold: 0.3, NumWorkers: 6})
	assert.Equal(t, greedy, parallel)
	assert.Less(t, len(greedy), len(dets))
}

func TestDetectionsRoundTrip(t *testing.T) {
	d := Detections{
		Scores: []float32{0.94, 0.62},
		Labels: []string{"person", "spatula"},
		Boxes:  [][4]float32{{895, 4, 1570, 1069}, {871, 799, 1297, 947}},
	}
	require.NoError(t, d.Validate())
	assert.Equal(t, 2, d.Len())

	results := d.Results()
	require.Len(t, results, 2)
	assert.Equal(t, "spatula", results[1].Label)
	assert.Equal(t, box(871, 799, 1297, 947), results[1].Box)
	assert.Equal(t, d, FromResults(results))

	bad := Detections{Scores: []float32{1}, Labels: nil, Boxes: nil}
	assert.Error(t, bad.Validate())
}
