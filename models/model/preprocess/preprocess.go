// Package preprocess - Image preprocessing for ONNX vision models.
package preprocess

import (
	"fmt"
	"image"
	"math"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"

	"github.com/mcvella/grounding-dino/images"
)

// ModelConfig defines preprocessing configuration for a specific model.
type ModelConfig struct {
	// Name of the model for debugging purposes.
	Name string
	// ResizeMode selects how the output size is derived from the input size.
	ResizeMode ResizeMode
	// InputWidth and InputHeight are the fixed output size for ResizeFixed.
	InputWidth  int
	InputHeight int
	// ShortestEdge and LongestEdge bound the output size for ResizeShortestEdge.
	ShortestEdge int
	LongestEdge  int
	// Interpolation is the resampling filter used when resizing.
	Interpolation resize.InterpolationFunction
	// RescaleFactor multiplies raw 0-255 pixel values before normalization.
	RescaleFactor float32
	// NormalizationType defines how to normalize pixel values.
	NormalizationType NormalizationType
	// MeanValues for standardization (if NormalizationType is Standardize).
	MeanValues []float32
	// StdValues for standardization (if NormalizationType is Standardize).
	StdValues []float32
	// ChannelOrder defines the channel ordering (CHW or HWC).
	ChannelOrder ChannelOrder
	// ColorMode defines the color space (RGB, BGR).
	ColorMode ColorMode
}

// ResizeMode defines how an input image is resized.
type ResizeMode int

const (
	// ResizeNone keeps the input size.
	ResizeNone ResizeMode = iota
	// ResizeFixed stretches to InputWidth x InputHeight.
	ResizeFixed
	// ResizeShortestEdge scales the shortest edge to ShortestEdge while keeping the longest edge
	// at or below LongestEdge, preserving the aspect ratio.
	ResizeShortestEdge
)

// NormalizationType defines how pixel values are normalized.
type NormalizationType int

const (
	// NormalizeNone keeps rescaled pixel values.
	NormalizeNone NormalizationType = iota
	// NormalizeStandardize applies per-channel (x - mean) / std.
	NormalizeStandardize
)

// ChannelOrder defines the ordering of image channels.
type ChannelOrder int

const (
	// ChannelOrderCHW is Channel-Height-Width ordering (common for ONNX).
	ChannelOrderCHW ChannelOrder = iota
	// ChannelOrderHWC is Height-Width-Channel ordering.
	ChannelOrderHWC
)

// ColorMode defines the color space of the image.
type ColorMode int

const (
	// ColorModeRGB is standard RGB color mode.
	ColorModeRGB ColorMode = iota
	// ColorModeBGR is BGR color mode (common for OpenCV models).
	ColorModeBGR
)

// inputChannels is fixed: every supported color mode has three channels.
const inputChannels = 3

// PreprocessingResult contains the preprocessed image data and metadata.
type PreprocessingResult struct {
	// Data is the preprocessed float32 tensor data.
	Data []float32
	// Shape contains the tensor shape [C, H, W] or [H, W, C].
	Shape []int64
	// Width and Height are the size of the resized image the tensor was built from.
	Width  int
	Height int
	// OriginalWidth is the original image width before preprocessing.
	OriginalWidth int
	// OriginalHeight is the original image height before preprocessing.
	OriginalHeight int
	// ScaleX is the horizontal scaling factor applied.
	ScaleX float64
	// ScaleY is the vertical scaling factor applied.
	ScaleY float64
}

// Preprocessor handles image preprocessing for ONNX models. It is safe for concurrent use.
type Preprocessor struct {
	config *ModelConfig
}

// NewPreprocessor creates a new preprocessor with the given configuration.
//
// Arguments:
// - config: The model-specific preprocessing configuration.
//
// Returns:
// - A configured Preprocessor instance.
// - error if the configuration is inconsistent.
//
// @example
//
//	preprocessor, err := NewPreprocessor(GetGroundingDINOConfig())
func NewPreprocessor(config *ModelConfig) (*Preprocessor, error) {
	if config == nil {
		return nil, errors.New("preprocessing config is nil")
	}
	switch config.ResizeMode {
	case ResizeFixed:
		if config.InputWidth <= 0 || config.InputHeight <= 0 {
			return nil, fmt.Errorf("invalid fixed input size: %dx%d", config.InputWidth, config.InputHeight)
		}
	case ResizeShortestEdge:
		if config.ShortestEdge <= 0 {
			return nil, fmt.Errorf("invalid shortest edge: %d", config.ShortestEdge)
		}
	}
	if config.NormalizationType == NormalizeStandardize &&
		(len(config.MeanValues) != inputChannels || len(config.StdValues) != inputChannels) {
		return nil, fmt.Errorf(
			"standardization needs %d mean and std values, got %d and %d",
			inputChannels, len(config.MeanValues), len(config.StdValues),
		)
	}
	for _, std := range config.StdValues {
		if std == 0 {
			return nil, errors.New("std values must be non-zero")
		}
	}
	if config.RescaleFactor == 0 {
		config.RescaleFactor = 1
	}

	return &Preprocessor{config: config}, nil
}

// Config returns the preprocessing configuration.
func (p *Preprocessor) Config() *ModelConfig {
	return p.config
}

// Preprocess decodes an encoded image and runs PreprocessImage on it.
//
// Arguments:
// - img: The encoded input image.
//
// Returns:
// - PreprocessingResult containing the preprocessed tensor and metadata.
// - error if decoding or preprocessing fails.
func (p *Preprocessor) Preprocess(img *images.Image) (*PreprocessingResult, error) {
	if img == nil {
		return nil, errors.New("image is nil")
	}
	decoded, _, err := images.Decode(img.Data)
	if err != nil {
		return nil, errors.Wrap(err, "image decoding failed")
	}
	return p.PreprocessImage(decoded)
}

// PreprocessImage performs all preprocessing steps on a decoded image: resize, rescale,
// normalize and lay out as a float32 tensor.
//
// Arguments:
// - img: The input image.
//
// Returns:
// - PreprocessingResult containing the preprocessed tensor and metadata.
// - error if the image is empty.
//
// @example
//
//	result, err := preprocessor.PreprocessImage(frame)
//	if err != nil {
//	    return err
//	}
//	tensor := result.Data
func (p *Preprocessor) PreprocessImage(img image.Image) (*PreprocessingResult, error) {
	if img == nil {
		return nil, errors.New("image is nil")
	}
	bounds := img.Bounds()
	originalWidth, originalHeight := bounds.Dx(), bounds.Dy()
	if originalWidth <= 0 || originalHeight <= 0 {
		return nil, fmt.Errorf("invalid image dimensions: %dx%d", originalWidth, originalHeight)
	}

	width, height := p.OutputSize(originalWidth, originalHeight)
	resized := img
	if width != originalWidth || height != originalHeight {
		resized = resize.Resize(uint(width), uint(height), img, p.config.Interpolation)
	}

	tensor := p.imageToTensor(images.ToRGBA(resized))
	p.normalize(tensor, width*height)

	var shape []int64
	if p.config.ChannelOrder == ChannelOrderCHW {
		shape = []int64{inputChannels, int64(height), int64(width)}
	} else {
		shape = []int64{int64(height), int64(width), inputChannels}
	}

	return &PreprocessingResult{
		Data:           tensor,
		Shape:          shape,
		Width:          width,
		Height:         height,
		OriginalWidth:  originalWidth,
		OriginalHeight: originalHeight,
		ScaleX:         float64(width) / float64(originalWidth),
		ScaleY:         float64(height) / float64(originalHeight),
	}, nil
}

// OutputSize returns the (width, height) an input of the given size is resized to.
func (p *Preprocessor) OutputSize(width, height int) (int, int) {
	switch p.config.ResizeMode {
	case ResizeFixed:
		return p.config.InputWidth, p.config.InputHeight
	case ResizeShortestEdge:
		h, w := ShortestEdgeSize(height, width, p.config.ShortestEdge, p.config.LongestEdge)
		return w, h
	default:
		return width, height
	}
}

// ShortestEdgeSize computes the output (height, width) that scales the shortest edge to size,
// shrinking size first when the longest edge would otherwise exceed maxSize. A maxSize <= 0
// means unbounded.
//
// Dimensions are truncated, and an image whose shortest edge already equals size is returned
// unchanged.
//
// @example
//
//	h, w := ShortestEdgeSize(1080, 1920, 800, 1333) // 750, 1333
func ShortestEdgeSize(height, width, size, maxSize int) (int, int) {
	var rawSize float64
	bounded := false
	if maxSize > 0 {
		minOriginal := float64(min(height, width))
		maxOriginal := float64(max(height, width))
		if maxOriginal/minOriginal*float64(size) > float64(maxSize) {
			rawSize = float64(maxSize) * minOriginal / maxOriginal
			size = int(math.RoundToEven(rawSize))
			bounded = true
		}
	}

	if (height <= width && height == size) || (width <= height && width == size) {
		return height, width
	}

	scaled := float64(size)
	if bounded {
		scaled = rawSize
	}
	if width < height {
		return int(scaled * float64(height) / float64(width)), size
	}
	return size, int(scaled * float64(width) / float64(height))
}

// imageToTensor converts an image to a float32 tensor of raw 0-255 values.
func (p *Preprocessor) imageToTensor(img *image.RGBA) []float32 {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	plane := width * height

	tensor := make([]float32, plane*inputChannels)

	idx := 0
	for y := 0; y < height; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+width*4]
		for x := 0; x < width; x++ {
			r := float32(row[x*4])
			g := float32(row[x*4+1])
			b := float32(row[x*4+2])

			ch0, ch1, ch2 := r, g, b
			if p.config.ColorMode == ColorModeBGR {
				ch0, ch2 = b, r
			}

			if p.config.ChannelOrder == ChannelOrderCHW {
				pos := y*width + x
				tensor[pos] = ch0
				tensor[plane+pos] = ch1
				tensor[2*plane+pos] = ch2
			} else {
				tensor[idx] = ch0
				tensor[idx+1] = ch1
				tensor[idx+2] = ch2
				idx += 3
			}
		}
	}

	return tensor
}

// normalize applies rescaling and normalization to the tensor in-place.
func (p *Preprocessor) normalize(tensor []float32, pixelsPerChannel int) {
	scale := p.config.RescaleFactor
	if p.config.NormalizationType != NormalizeStandardize {
		if scale != 1 {
			for i := range tensor {
				tensor[i] *= scale
			}
		}
		return
	}

	for c := 0; c < inputChannels; c++ {
		mean := p.config.MeanValues[c]
		std := p.config.StdValues[c]

		if p.config.ChannelOrder == ChannelOrderCHW {
			channel := tensor[c*pixelsPerChannel : (c+1)*pixelsPerChannel]
			for i := range channel {
				channel[i] = (channel[i]*scale - mean) / std
			}
		} else {
			for i := c; i < len(tensor); i += inputChannels {
				tensor[i] = (tensor[i]*scale - mean) / std
			}
		}
	}
}
