package common

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcvella/grounding-dino/models/postprocess"
)

func TestToRect(t *testing.T) {
	tests := []struct {
		name string
		box  BoundingBox
		want image.Rectangle
	}{
		{"truncates", BoundingBox{X1: 895.9, Y1: 4.5, X2: 1570.99, Y2: 1069.01}, image.Rect(895, 4, 1570, 1069)},
		{"integral", BoundingBox{X1: 871, Y1: 799, X2: 1297, Y2: 947}, image.Rect(871, 799, 1297, 947)},
		{"toward zero", BoundingBox{X1: -0.7, Y1: -1.5, X2: 10.2, Y2: 3.9}, image.Rect(0, -1, 10, 3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.box.ToRect())
		})
	}
}

func TestString(t *testing.T) {
	box := BoundingBox{Label: "person", Confidence: 0.95, X1: 100, Y1: 100, X2: 200, Y2: 300}
	assert.Equal(t, "Object person (confidence 0.950000): (100.00, 100.00), (200.00, 300.00)", box.String())
}

func TestToDetections(t *testing.T) {
	bounds := image.Rect(0, 0, 1920, 1080)
	d := postprocess.Detections{
		Scores: []float32{0.94, 0.62},
		Labels: []string{"person", "spatula"},
		Boxes:  [][4]float32{{895.3, 4.8, 1570.6, 1069.9}, {871, 799, 1297, 947}},
	}

	detections := ToDetections(bounds, d)
	require.Len(t, detections, 2)

	assert.Equal(t, "person", detections[0].Label())
	assert.InDelta(t, 0.94, detections[0].Score(), 1e-6)
	assert.Equal(t, image.Rect(895, 4, 1570, 1069), *detections[0].BoundingBox())

	assert.Equal(t, "spatula", detections[1].Label())
	assert.InDelta(t, 0.62, detections[1].Score(), 1e-6)
	assert.Equal(t, image.Rect(871, 799, 1297, 947), *detections[1].BoundingBox())
}

func TestToDetectionsEmpty(t *testing.T) {
	detections := ToDetections(image.Rect(0, 0, 10, 10), postprocess.Detections{})
	assert.NotNil(t, detections)
	assert.Empty(t, detections)
}
