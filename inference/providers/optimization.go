// Package providers - ONNX Runtime session optimization settings.
package providers

import (
	"fmt"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"
)

// OptimizationConfig contains the ONNX Runtime session settings applied before any execution
// provider is appended.
type OptimizationConfig struct {
	// GraphOptimizationLevel controls the level of graph optimization
	GraphOptimizationLevel ort.GraphOptimizationLevel `json:"graph_optimization_level"`

	// ExecutionMode controls sequential vs parallel execution
	ExecutionMode ort.ExecutionMode `json:"execution_mode"`

	// IntraOpNumThreads sets threads for parallelizing ops. 0 lets ONNX Runtime decide.
	IntraOpNumThreads int `json:"intra_op_num_threads"`

	// InterOpNumThreads sets threads for parallelizing independent ops. 0 lets ONNX Runtime decide.
	InterOpNumThreads int `json:"inter_op_num_threads"`
}

// DefaultOptimizationConfig returns the settings used for Grounding DINO sessions.
//
// The graph is a single deep transformer, so nodes run sequentially and intra-op threads take
// half of the available cores.
func DefaultOptimizationConfig() OptimizationConfig {
	return OptimizationConfig{
		GraphOptimizationLevel: ort.GraphOptimizationLevelEnableExtended,
		ExecutionMode:          ort.ExecutionModeSequential,
		IntraOpNumThreads:      max(1, runtime.NumCPU()/2),
		InterOpNumThreads:      1,
	}
}

// Validate checks the thread counts.
func (c OptimizationConfig) Validate() error {
	if c.IntraOpNumThreads < 0 {
		return fmt.Errorf("intra_op_num_threads must not be negative, got %d", c.IntraOpNumThreads)
	}
	if c.InterOpNumThreads < 0 {
		return fmt.Errorf("inter_op_num_threads must not be negative, got %d", c.InterOpNumThreads)
	}
	return nil
}

// OptimizedSessionOptions applies the optimization settings and one execution provider to new
// session options.
//
// Arguments:
//   - config: Optimization configuration to apply
//   - provider: The execution provider to append, nil for the CPU only.
//
// Returns:
//   - *ort.SessionOptions: Configured session options
//   - error: Configuration error if any
//
// @example
// options, err := OptimizedSessionOptions(DefaultOptimizationConfig(), NewCPUProvider(CPUOptions{}))
//
//	if err != nil {
//	    return err
//	}
//
// defer options.Destroy()
func OptimizedSessionOptions(config OptimizationConfig, provider ExecutionProvider) (*ort.SessionOptions, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}

	for _, apply := range []func() error{
		func() error { return options.SetGraphOptimizationLevel(config.GraphOptimizationLevel) },
		func() error { return options.SetExecutionMode(config.ExecutionMode) },
		func() error { return options.SetIntraOpNumThreads(config.IntraOpNumThreads) },
		func() error { return options.SetInterOpNumThreads(config.InterOpNumThreads) },
	} {
		if err := apply(); err != nil {
			options.Destroy()
			return nil, fmt.Errorf("failed to configure session options: %w", err)
		}
	}

	if provider != nil {
		if err := provider.Apply(options); err != nil {
			options.Destroy()
			return nil, err
		}
	}

	return options, nil
}
