// Package images - Image loading and geometry utilities.
package images

import "image"

// Rect is a lightweight axis-aligned box in pixel space.
//
// Coordinates are kept in float32 so that model outputs can be compared before they are
// truncated into an image.Rectangle.
type Rect struct {
	// X2,Y2 are exclusive (like image.Rectangle).
	X1, Y1, X2, Y2 float32
}

// Width returns the horizontal extent of the box.
func (r Rect) Width() float32 {
	return r.X2 - r.X1
}

// Height returns the vertical extent of the box.
func (r Rect) Height() float32 {
	return r.Y2 - r.Y1
}

// Area returns the area of the box, or 0 when the box is empty or inverted.
func (r Rect) Area() float32 {
	w, h := r.Width(), r.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Rectangle truncates the box toward zero into an image.Rectangle.
//
// The rectangle is not canonicalized: a detection box is reported exactly as the model
// produced it.
//
// Returns:
//   - image.Rectangle: Integer rectangle with Min=(X1,Y1) and Max=(X2,Y2).
func (r Rect) Rectangle() image.Rectangle {
	return image.Rectangle{
		Min: image.Point{X: int(r.X1), Y: int(r.Y1)},
		Max: image.Point{X: int(r.X2), Y: int(r.Y2)},
	}
}

// CalculateIoU returns the Intersection over Union of two boxes, a value in [0, 1].
//
//	IoU = Area of Intersection / Area of Union
//
// The intersection spans from the maximum of the two top-left corners to the minimum of the two
// bottom-right corners. When it has no positive width or height the boxes do not overlap and 0
// is returned, which also covers degenerate boxes with zero area.
//
// Arguments:
//   - r: The first box.
//   - o: The other box to compare against.
//
// Returns:
//   - float32: The IoU score.
//
// Example Usage:
// ```go
//
//	rect1 := Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}
//	rect2 := Rect{X1: 5, Y1: 5, X2: 15, Y2: 15}
//	iouScore := CalculateIoU(rect1, rect2) // 25 / 175 = 0.142857
//
// ```
func CalculateIoU(r, o Rect) float32 {
	ix1 := max(r.X1, o.X1)
	iy1 := max(r.Y1, o.Y1)
	ix2 := min(r.X2, o.X2)
	iy2 := min(r.Y2, o.Y2)

	interW := ix2 - ix1
	interH := iy2 - iy1
	if interW <= 0 || interH <= 0 {
		return 0.0
	}
	interArea := interW * interH

	// Union(A, B) = Area(A) + Area(B) - Intersection(A, B)
	unionArea := r.Area() + o.Area() - interArea
	if unionArea <= 0 {
		return 0.0
	}

	return interArea / unionArea
}
