// Package postprocess - Postprocessing utilities for models.
package postprocess

import (
	"fmt"

	"github.com/mcvella/grounding-dino/images"
)

// Result represents a single detection result.
type Result struct {
	// The bounding box of the result in original image pixels.
	Box images.Rect
	// The confidence score of the result.
	Score float32
	// The text label the box was grounded to.
	Label string
}

// Detections is the result set for one image: parallel scores, labels and boxes in the order the
// model produced them.
type Detections struct {
	Scores []float32
	Labels []string
	// Boxes are (x_min, y_min, x_max, y_max) in original image pixels.
	Boxes [][4]float32
}

// Len returns the number of detections in the set.
func (d Detections) Len() int {
	return len(d.Scores)
}

// Validate checks that the parallel slices agree in length.
func (d Detections) Validate() error {
	if len(d.Labels) != len(d.Scores) || len(d.Boxes) != len(d.Scores) {
		return fmt.Errorf(
			"mismatched result set: %d scores, %d labels, %d boxes",
			len(d.Scores), len(d.Labels), len(d.Boxes),
		)
	}
	return nil
}

// Results flattens the set into per-detection records, preserving order.
func (d Detections) Results() []Result {
	out := make([]Result, 0, d.Len())
	for i := range d.Scores {
		b := d.Boxes[i]
		out = append(out, Result{
			Box:   images.Rect{X1: b[0], Y1: b[1], X2: b[2], Y2: b[3]},
			Score: d.Scores[i],
			Label: d.Labels[i],
		})
	}
	return out
}

// FromResults builds a result set from per-detection records.
func FromResults(results []Result) Detections {
	d := Detections{
		Scores: make([]float32, 0, len(results)),
		Labels: make([]string, 0, len(results)),
		Boxes:  make([][4]float32, 0, len(results)),
	}
	for _, r := range results {
		d.Scores = append(d.Scores, r.Score)
		d.Labels = append(d.Labels, r.Label)
		d.Boxes = append(d.Boxes, [4]float32{r.Box.X1, r.Box.Y1, r.Box.X2, r.Box.Y2})
	}
	return d
}
