package main

import (
	"fmt"
	"image"
	"image/color"

	"github.com/fogleman/gg"

	"github.com/mcvella/grounding-dino/common"
)

var palette = []color.RGBA{
	{230, 25, 75, 255},
	{60, 180, 75, 255},
	{0, 130, 200, 255},
	{245, 130, 48, 255},
	{145, 30, 180, 255},
	{70, 240, 240, 255},
}

// colorFor keeps a label's color stable across images.
func colorFor(label string) color.RGBA {
	var h uint32
	for _, r := range label {
		h = h*31 + uint32(r)
	}
	return palette[h%uint32(len(palette))]
}

// annotate draws each box with its label and confidence over a copy of img.
func annotate(img image.Image, boxes []common.BoundingBox) *gg.Context {
	dc := gg.NewContextForImage(img)
	dc.SetLineWidth(2)

	for _, b := range boxes {
		rect := b.ToRect()
		dc.SetColor(colorFor(b.Label))
		dc.DrawRectangle(float64(rect.Min.X), float64(rect.Min.Y), float64(rect.Dx()), float64(rect.Dy()))
		dc.Stroke()

		text := fmt.Sprintf("%s %.2f", b.Label, b.Confidence)
		tw, th := dc.MeasureString(text)
		x, y := float64(rect.Min.X), float64(rect.Min.Y)
		if y < th+4 {
			y = th + 4
		}
		dc.DrawRectangle(x, y-th-4, tw+4, th+4)
		dc.Fill()
		dc.SetColor(color.White)
		dc.DrawString(text, x+2, y-2)
	}
	return dc
}
