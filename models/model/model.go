// Package model - Definitions shared by text-conditioned detection models.
package model

import (
	"image"

	"github.com/mcvella/grounding-dino/models/postprocess"
)

// Family is the family of models.
type Family string

const (
	// ModelFamilyGroundingDINO is the Grounding DINO model family.
	ModelFamilyGroundingDINO Family = "grounding-dino"
)

// Name is the unique identifier of a model architecture.
type Name string

const (
	// ModelNameGroundingDINO is the name of the Grounding DINO architecture.
	ModelNameGroundingDINO Name = "grounding_dino"
)

// Tensor is a named, dense tensor exchanged with an inference session. Exactly one of Float32 and
// Int64 holds the data.
type Tensor struct {
	Name    string
	Shape   []int64
	Float32 []float32
	Int64   []int64
}

// Elements returns the number of elements the shape describes.
func (t Tensor) Elements() int64 {
	n := int64(1)
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Batch is one preprocessed (image, query) pair ready for inference.
type Batch struct {
	// Inputs are the model inputs in session order.
	Inputs []Tensor
	// InputIDs are the token ids of the query, used to turn token scores back into phrases.
	InputIDs []int64
	// ImageSize is the size of the original image; boxes are scaled to it.
	ImageSize image.Point
}

// Thresholds holds the per-request score cut-offs.
type Thresholds struct {
	// Box is the minimum best-token score a query must reach to be kept.
	Box float32
	// Text is the minimum token score for a token to be part of the label.
	Text float32
}

// BaseModel describes a loaded model.
type BaseModel struct {
	Name    Name
	Family  Family
	Path    string
	Inputs  []string
	Outputs []string
}

// Model is a text-conditioned detector: it turns an image and a text query into model inputs and
// the raw model outputs back into detections.
type Model interface {
	Options() BaseModel
	PreProcess(img image.Image, query string) (*Batch, error)
	PostProcess(outputs map[string]Tensor, batch *Batch, thresholds Thresholds) (postprocess.Detections, error)
}

// NewModelArgs is the arguments for creating a new model.
type NewModelArgs struct {
	Name      Name      `json:"name" yaml:"name"`
	Path      string    `json:"path" yaml:"path"`
	Dir       string    `json:"dir" yaml:"dir"`
	Family    Family    `json:"family" yaml:"family"`
	Precision Precision `json:"precision" yaml:"precision"`
}
