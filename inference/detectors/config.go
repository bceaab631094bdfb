// Package detectors - configuration for grounded detection.
package detectors

import (
	"fmt"

	"github.com/mcvella/grounding-dino/models/model"
	"github.com/mcvella/grounding-dino/models/postprocess"
)

// Default score cut-offs, matching the reference Grounding DINO demo.
const (
	DefaultBoxThreshold  float32 = 0.4
	DefaultTextThreshold float32 = 0.3
)

// Config represents the configuration of a detector.
type Config struct {
	// BoxThreshold is the minimum best-token score a query must reach to be kept.
	BoxThreshold float32 `json:"box_threshold"`

	// TextThreshold is the minimum token score for a token to be part of the label.
	TextThreshold float32 `json:"text_threshold"`

	// NMS suppresses overlapping boxes. nil or a zero IoU threshold keeps every box.
	NMS *postprocess.NMSConfig `json:"nms,omitempty"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
//
// Returns:
//   - Config: Default thresholds with NMS disabled.
//
// @example
// config := DefaultConfig()
// config.NMS = &postprocess.NMSConfig{IoUThreshold: 0.5, ClassAware: true}
// detector, err := NewDetector(m, session, config, nil)
func DefaultConfig() Config {
	return Config{
		BoxThreshold:  DefaultBoxThreshold,
		TextThreshold: DefaultTextThreshold,
	}
}

// Validate checks that thresholds are probabilities.
func (c Config) Validate() error {
	for name, v := range map[string]float32{
		"box_threshold":  c.BoxThreshold,
		"text_threshold": c.TextThreshold,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0, 1], got %v", name, v)
		}
	}
	if c.NMS != nil && (c.NMS.IoUThreshold < 0 || c.NMS.IoUThreshold > 1) {
		return fmt.Errorf("nms iou threshold must be in [0, 1], got %v", c.NMS.IoUThreshold)
	}
	return nil
}

// Thresholds returns the cut-offs passed to the model postprocessor.
func (c Config) Thresholds() model.Thresholds {
	return model.Thresholds{Box: c.BoxThreshold, Text: c.TextThreshold}
}
