package preprocess

import (
	"encoding/json"
	"os"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

// ProcessorConfigFile is the image processor configuration shipped with Hugging Face models.
const ProcessorConfigFile = "preprocessor_config.json"

// Default Grounding DINO image processor settings.
const (
	DefaultShortestEdge = 800
	DefaultLongestEdge  = 1333
)

var (
	imageNetMean = []float32{0.485, 0.456, 0.406}
	imageNetStd  = []float32{0.229, 0.224, 0.225}
)

// GetGroundingDINOConfig returns the preprocessing configuration of the Grounding DINO image
// processor: shortest edge 800 capped at 1333, bilinear resampling, 1/255 rescale and ImageNet
// standardization in RGB CHW layout.
func GetGroundingDINOConfig() *ModelConfig {
	return &ModelConfig{
		Name:              "grounding-dino",
		ResizeMode:        ResizeShortestEdge,
		ShortestEdge:      DefaultShortestEdge,
		LongestEdge:       DefaultLongestEdge,
		Interpolation:     resize.Bilinear,
		RescaleFactor:     1.0 / 255.0,
		NormalizationType: NormalizeStandardize,
		MeanValues:        append([]float32(nil), imageNetMean...),
		StdValues:         append([]float32(nil), imageNetStd...),
		ChannelOrder:      ChannelOrderCHW,
		ColorMode:         ColorModeRGB,
	}
}

// processorConfig is the subset of preprocessor_config.json that affects tensor layout.
type processorConfig struct {
	DoResize      *bool     `json:"do_resize"`
	DoRescale     *bool     `json:"do_rescale"`
	DoNormalize   *bool     `json:"do_normalize"`
	RescaleFactor *float32  `json:"rescale_factor"`
	ImageMean     []float32 `json:"image_mean"`
	ImageStd      []float32 `json:"image_std"`
	Resample      *int      `json:"resample"`
	Size          *struct {
		ShortestEdge int `json:"shortest_edge"`
		LongestEdge  int `json:"longest_edge"`
		Height       int `json:"height"`
		Width        int `json:"width"`
	} `json:"size"`
}

// LoadProcessorConfig reads a preprocessor_config.json and applies it on top of the Grounding
// DINO defaults. A missing file yields the defaults.
//
// Arguments:
//   - path: The path of preprocessor_config.json.
//
// Returns:
//   - *ModelConfig: The resulting preprocessing configuration.
//   - error: An error if the file cannot be read or parsed.
func LoadProcessorConfig(path string) (*ModelConfig, error) {
	config := GetGroundingDINOConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return config, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}

	var pc processorConfig
	if err := json.Unmarshal(data, &pc); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}

	if pc.Size != nil {
		switch {
		case pc.Size.ShortestEdge > 0:
			config.ResizeMode = ResizeShortestEdge
			config.ShortestEdge = pc.Size.ShortestEdge
			config.LongestEdge = pc.Size.LongestEdge
		case pc.Size.Height > 0 && pc.Size.Width > 0:
			config.ResizeMode = ResizeFixed
			config.InputHeight = pc.Size.Height
			config.InputWidth = pc.Size.Width
		}
	}
	if pc.DoResize != nil && !*pc.DoResize {
		config.ResizeMode = ResizeNone
	}
	if pc.Resample != nil {
		config.Interpolation = InterpolationFromResample(*pc.Resample)
	}
	if pc.RescaleFactor != nil {
		config.RescaleFactor = *pc.RescaleFactor
	}
	if pc.DoRescale != nil && !*pc.DoRescale {
		config.RescaleFactor = 1
	}
	if len(pc.ImageMean) > 0 {
		config.MeanValues = pc.ImageMean
	}
	if len(pc.ImageStd) > 0 {
		config.StdValues = pc.ImageStd
	}
	if pc.DoNormalize != nil && !*pc.DoNormalize {
		config.NormalizationType = NormalizeNone
	}

	return config, nil
}

// InterpolationFromResample maps a PIL resample code to a resize filter.
func InterpolationFromResample(code int) resize.InterpolationFunction {
	switch code {
	case 0:
		return resize.NearestNeighbor
	case 1:
		return resize.Lanczos3
	case 3:
		return resize.Bicubic
	default:
		return resize.Bilinear
	}
}
