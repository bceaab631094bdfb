// Package common converts detection results into vision service records.
package common

import (
	"fmt"
	"image"

	"github.com/samber/lo"
	"go.viam.com/rdk/vision/objectdetection"

	"github.com/mcvella/grounding-dino/models/postprocess"
)

// BoundingBox represents a bounding box with its label, confidence, and coordinates.
type BoundingBox struct {
	Label          string
	Confidence     float32
	X1, Y1, X2, Y2 float32
}

// String formats the bounding box information for display.
//
// Returns:
// - A formatted string containing the label, confidence, and coordinates.
//
// @example
// box := BoundingBox{Label: "person", Confidence: 0.95, X1: 100, Y1: 100, X2: 200, Y2: 300}
// fmt.Println(box.String()) // Object person (confidence 0.950000): (100.00, 100.00), (200.00, 300.00)
func (b *BoundingBox) String() string {
	return fmt.Sprintf("Object %s (confidence %f): (%.2f, %.2f), (%.2f, %.2f)",
		b.Label, b.Confidence, b.X1, b.Y1, b.X2, b.Y2)
}

// ToRect converts the bounding box to an image.Rectangle, truncating each coordinate toward zero.
//
// @example
// box := BoundingBox{X1: 895.7, Y1: 4.2, X2: 1570.9, Y2: 1069.5}
// rect := box.ToRect() // (895,4)-(1570,1069)
func (b *BoundingBox) ToRect() image.Rectangle {
	return image.Rect(int(b.X1), int(b.Y1), int(b.X2), int(b.Y2))
}

// Detection converts the box into a vision detection for an image with the given bounds.
func (b *BoundingBox) Detection(bounds image.Rectangle) objectdetection.Detection {
	return objectdetection.NewDetection(bounds, b.ToRect(), float64(b.Confidence), b.Label)
}

// FromDetections flattens a result set into boxes, preserving order.
func FromDetections(d postprocess.Detections) []BoundingBox {
	return lo.Map(d.Results(), func(r postprocess.Result, _ int) BoundingBox {
		return BoundingBox{
			Label:      r.Label,
			Confidence: r.Score,
			X1:         r.Box.X1,
			Y1:         r.Box.Y1,
			X2:         r.Box.X2,
			Y2:         r.Box.Y2,
		}
	})
}

// ToDetections converts a result set into vision detections, preserving order. The result is
// never nil.
//
// Arguments:
//   - bounds: The bounds of the image the boxes were found in.
//   - d: The result set.
//
// Returns:
//   - []objectdetection.Detection: One detection per result.
func ToDetections(bounds image.Rectangle, d postprocess.Detections) []objectdetection.Detection {
	return lo.Map(FromDetections(d), func(b BoundingBox, _ int) objectdetection.Detection {
		return b.Detection(bounds)
	})
}
