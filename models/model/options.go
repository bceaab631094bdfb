// Package model - Model options.
//
// See:
// https://huggingface.co/onnx-community/grounding-dino-tiny-ONNX/tree/main/onnx
package model

import "fmt"

// Precision represents the weight precision of an exported ONNX graph.
type Precision string

const (
	// PrecisionFP32 represents full 32-bit floating point weights.
	PrecisionFP32 Precision = "fp32"
	// PrecisionFP16 represents 16-bit floating point weights.
	PrecisionFP16 Precision = "fp16"
	// PrecisionINT8 represents 8-bit integer weights.
	PrecisionINT8 Precision = "int8"
	// PrecisionUINT8 represents unsigned 8-bit integer weights.
	PrecisionUINT8 Precision = "uint8"
	// PrecisionQ4 represents 4-bit block quantized weights.
	PrecisionQ4 Precision = "q4"
	// PrecisionQuantized represents the default dynamically quantized export.
	PrecisionQuantized Precision = "quantized"
)

// ONNXFile returns the graph file name of the precision inside an onnx/ folder.
//
// Arguments:
//   - p: The precision; empty means fp32.
//
// Returns:
//   - string: The file name, e.g. "model_fp16.onnx".
//   - error: An error if the precision is unknown.
func (p Precision) ONNXFile() (string, error) {
	switch p {
	case "", PrecisionFP32:
		return "model.onnx", nil
	case PrecisionFP16, PrecisionINT8, PrecisionUINT8, PrecisionQ4, PrecisionQuantized:
		return fmt.Sprintf("model_%s.onnx", p), nil
	default:
		return "", fmt.Errorf("unsupported precision: %q", string(p))
	}
}
